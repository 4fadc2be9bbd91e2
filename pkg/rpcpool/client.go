package rpcpool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/rpc"
	"github.com/fortiblox/intcode/pkg/runner"
	"github.com/fortiblox/intcode/pkg/search"
)

// maxResponseSize bounds a single JSON-RPC response body.
const maxResponseSize = 64 << 20

// jsonRPCRequest represents a JSON-RPC 2.0 request.
type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// jsonRPCResponse represents a JSON-RPC 2.0 response.
type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpc.RPCError   `json:"error,omitempty"`
}

// Client calls intcode nodes over JSON-RPC, failing over between the
// healthy endpoints of a pool.
type Client struct {
	httpClient *http.Client
	pool       *Pool
	nextID     atomic.Uint64

	// MaxAttempts caps how many endpoints one call may try.
	// Zero means every endpoint in the pool.
	MaxAttempts int
}

// NewClient creates a client over pool.
func NewClient(pool *Pool, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		pool:       pool,
	}
}

// call makes a JSON-RPC call, retrying on the next healthy endpoint when
// the transport fails. Errors returned by the node itself are not retried.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	attempts := c.MaxAttempts
	if total := c.pool.TotalCount(); attempts <= 0 || attempts > total {
		attempts = total
	}
	if attempts == 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		url, err := c.pool.GetHealthy()
		if err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		err = c.callEndpoint(ctx, url, method, params, result)
		if err == nil || !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *Client) callEndpoint(ctx context.Context, url, method string, params []interface{}, result interface{}) error {
	start := time.Now()

	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: rpc.JSONRPCVersion,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.pool.MarkUnhealthy(url, err)
		return &transportError{url: url, err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.pool.MarkUnhealthy(url, err)
		return &transportError{url: url, err: err}
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("http status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
		c.pool.MarkUnhealthy(url, err)
		return &transportError{url: url, err: err}
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		c.pool.MarkUnhealthy(url, err)
		return &transportError{url: url, err: fmt.Errorf("unmarshal response: %w", err)}
	}

	// The endpoint answered; node errors say nothing about its health.
	c.pool.MarkHealthy(url, time.Since(start))

	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// Run executes a program on a node.
func (c *Client) Run(ctx context.Context, req runner.Request) (*runner.Result, error) {
	var res runner.Result
	if err := c.call(ctx, "runProgram", []interface{}{req}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Search asks a node for the noun/verb pair producing req.Target.
func (c *Client) Search(ctx context.Context, req runner.SearchRequest) (*search.Result, error) {
	var res search.Result
	if err := c.call(ctx, "searchNounVerb", []interface{}{req}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PutImage stores a program under an optional name. The program travels
// zstd-compressed.
func (c *Client) PutImage(ctx context.Context, name string, program intcode.Program) (*rpc.PutImageResult, error) {
	data, err := rpc.EncodeImage(program, rpc.EncodingBase64Zstd)
	if err != nil {
		return nil, err
	}
	params := []interface{}{data[0], rpc.ImageConfig{Name: name, Encoding: rpc.EncodingBase64Zstd}}

	var res rpc.PutImageResult
	if err := c.call(ctx, "putImage", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetImage fetches an image by ID or name and decodes its program.
func (c *Client) GetImage(ctx context.Context, ref string) (*rpc.ImageInfo, intcode.Program, error) {
	params := []interface{}{ref, rpc.ImageConfig{Encoding: rpc.EncodingBase64Zstd}}

	var info rpc.ImageInfo
	if err := c.call(ctx, "getImage", params, &info); err != nil {
		return nil, nil, err
	}
	if len(info.Data) != 2 {
		return nil, nil, fmt.Errorf("getImage: malformed data field")
	}
	program, err := rpc.DecodeImage(info.Data[0], rpc.Encoding(info.Data[1]))
	if err != nil {
		return nil, nil, fmt.Errorf("getImage: %w", err)
	}
	return &info, program, nil
}

// ListImages returns the node's image catalog.
func (c *Client) ListImages(ctx context.Context) ([]rpc.ImageInfo, error) {
	var infos []rpc.ImageInfo
	if err := c.call(ctx, "listImages", nil, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// DeleteImage removes an image by ID or name.
func (c *Client) DeleteImage(ctx context.Context, ref string) error {
	return c.call(ctx, "deleteImage", []interface{}{ref}, nil)
}

// Version returns the node's core version.
func (c *Client) Version(ctx context.Context) (*rpc.VersionInfo, error) {
	var info rpc.VersionInfo
	if err := c.call(ctx, "getVersion", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Stats returns the node's counters.
func (c *Client) Stats(ctx context.Context) (*rpc.StatsInfo, error) {
	var info rpc.StatsInfo
	if err := c.call(ctx, "getStats", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// transportError wraps a failure to reach an endpoint or read its reply.
type transportError struct {
	url string
	err error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("%s: %v", e.url, e.err)
}

func (e *transportError) Unwrap() error {
	return e.err
}

// IsRetryable reports whether err came from the transport rather than from
// the node, so that another endpoint may succeed.
func IsRetryable(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

// IsImageNotFound reports whether the node rejected a missing image.
func IsImageNotFound(err error) bool {
	return hasCode(err, rpc.ImageNotFound)
}

// IsSearchExhausted reports whether no noun/verb pair produced the target.
func IsSearchExhausted(err error) bool {
	return hasCode(err, rpc.SearchExhausted)
}

func hasCode(err error, code int) bool {
	var rpcErr *rpc.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}
