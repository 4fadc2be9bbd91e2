// Package rpcpool provides a JSON-RPC client for intcode nodes backed by an
// endpoint pool with health checking.
//
// The pool periodically calls getHealth on each endpoint. Endpoints that
// fail several checks in a row, or report themselves unhealthy, are
// excluded until they recover. Requests fail over to the next healthy
// endpoint on transport errors.
//
// Usage:
//
//	pool := rpcpool.NewPool("http://node-a:8650", "http://node-b:8650")
//	pool.Start(ctx)
//	defer pool.Stop()
//
//	client := rpcpool.NewClient(pool, 10*time.Second)
//	res, err := client.Search(ctx, runner.SearchRequest{...})
package rpcpool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Pool errors.
var (
	ErrNoHealthyEndpoints = errors.New("no healthy endpoints available")
	ErrPoolClosed         = errors.New("pool is closed")
)

// Default configuration values.
const (
	DefaultHealthCheckPeriod = 30 * time.Second
	DefaultRequestTimeout    = 10 * time.Second

	// DefaultFailThreshold is the number of consecutive failures after
	// which an endpoint is marked unhealthy.
	DefaultFailThreshold = 3
)

// endpointState represents the health state of an endpoint.
type endpointState struct {
	url       string
	healthy   atomic.Bool
	lastCheck atomic.Int64 // Unix nano timestamp
	latency   atomic.Int64 // nanoseconds, last successful request
	failCount atomic.Int32

	errMu   sync.Mutex
	lastErr error
}

func (ep *endpointState) setErr(err error) {
	ep.errMu.Lock()
	ep.lastErr = err
	ep.errMu.Unlock()
}

func (ep *endpointState) getErr() error {
	ep.errMu.Lock()
	defer ep.errMu.Unlock()
	return ep.lastErr
}

// Pool manages a set of intcode node endpoints.
type Pool struct {
	endpoints []*endpointState
	mu        sync.RWMutex

	// Round-robin selection
	nextIndex atomic.Uint64

	healthCheckPeriod time.Duration
	requestTimeout    time.Duration
	failThreshold     int32

	client *http.Client

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool

	onHealthChange func(url string, healthy bool)
}

// NewPool creates a pool over the given endpoint URLs. Endpoints start out
// healthy. Health checks only run after Start.
func NewPool(urls ...string) *Pool {
	p := &Pool{
		healthCheckPeriod: DefaultHealthCheckPeriod,
		requestTimeout:    DefaultRequestTimeout,
		failThreshold:     DefaultFailThreshold,
		client: &http.Client{
			Timeout: DefaultRequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	p.AddEndpoints(urls)
	return p
}

// SetHealthCheckPeriod sets the interval between health checks.
// Must be called before Start().
func (p *Pool) SetHealthCheckPeriod(period time.Duration) {
	p.healthCheckPeriod = period
}

// SetRequestTimeout sets the timeout for health check requests.
// Must be called before Start().
func (p *Pool) SetRequestTimeout(timeout time.Duration) {
	p.requestTimeout = timeout
	p.client.Timeout = timeout
}

// SetFailThreshold sets how many consecutive failures mark an endpoint
// unhealthy. Must be called before Start().
func (p *Pool) SetFailThreshold(n int) {
	if n > 0 {
		p.failThreshold = int32(n)
	}
}

// SetOnHealthChange sets a callback invoked when an endpoint's health
// status changes.
func (p *Pool) SetOnHealthChange(callback func(url string, healthy bool)) {
	p.onHealthChange = callback
}

// AddEndpoint adds a single endpoint to the pool. Duplicates are ignored.
func (p *Pool) AddEndpoint(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ep := range p.endpoints {
		if ep.url == url {
			return
		}
	}

	ep := &endpointState{url: url}
	ep.healthy.Store(true)
	p.endpoints = append(p.endpoints, ep)
}

// AddEndpoints adds multiple endpoints to the pool.
func (p *Pool) AddEndpoints(urls []string) {
	for _, url := range urls {
		p.AddEndpoint(url)
	}
}

// RemoveEndpoint removes an endpoint from the pool.
func (p *Pool) RemoveEndpoint(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, ep := range p.endpoints {
		if ep.url == url {
			p.endpoints = append(p.endpoints[:i], p.endpoints[i+1:]...)
			return
		}
	}
}

// GetHealthy returns a healthy endpoint URL using round-robin selection.
func (p *Pool) GetHealthy() (string, error) {
	if p.closed.Load() {
		return "", ErrPoolClosed
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	var healthy []*endpointState
	for _, ep := range p.endpoints {
		if ep.healthy.Load() {
			healthy = append(healthy, ep)
		}
	}
	if len(healthy) == 0 {
		return "", ErrNoHealthyEndpoints
	}

	idx := (p.nextIndex.Add(1) - 1) % uint64(len(healthy))
	return healthy[idx].url, nil
}

// MarkUnhealthy records a failed request against url. The endpoint is
// taken out of rotation once the fail threshold is reached.
func (p *Pool) MarkUnhealthy(url string, err error) {
	if ep := p.find(url); ep != nil {
		p.recordFailure(ep, err)
	}
}

// MarkHealthy records a successful request against url.
func (p *Pool) MarkHealthy(url string, latency time.Duration) {
	if ep := p.find(url); ep != nil {
		p.recordSuccess(ep, latency)
	}
}

func (p *Pool) find(url string) *endpointState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ep := range p.endpoints {
		if ep.url == url {
			return ep
		}
	}
	return nil
}

func (p *Pool) recordFailure(ep *endpointState, err error) {
	ep.setErr(err)
	if ep.failCount.Add(1) < p.failThreshold {
		return
	}
	if ep.healthy.Swap(false) && p.onHealthChange != nil {
		p.onHealthChange(ep.url, false)
	}
}

func (p *Pool) recordSuccess(ep *endpointState, latency time.Duration) {
	ep.setErr(nil)
	ep.failCount.Store(0)
	ep.latency.Store(int64(latency))
	if !ep.healthy.Swap(true) && p.onHealthChange != nil {
		p.onHealthChange(ep.url, true)
	}
}

// HealthyCount returns the number of currently healthy endpoints.
func (p *Pool) HealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, ep := range p.endpoints {
		if ep.healthy.Load() {
			count++
		}
	}
	return count
}

// TotalCount returns the total number of endpoints in the pool.
func (p *Pool) TotalCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.endpoints)
}

// Start runs an initial health check and then checks periodically in the
// background until ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	if p.started.Swap(true) {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	p.performHealthCheck()

	p.wg.Add(1)
	go p.healthCheckLoop()
}

// Stop stops the health check loop. The pool rejects requests afterwards.
func (p *Pool) Stop() {
	if p.closed.Swap(true) {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) healthCheckLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.healthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.performHealthCheck()
		}
	}
}

// performHealthCheck checks every endpoint concurrently.
func (p *Pool) performHealthCheck() {
	p.mu.RLock()
	endpoints := make([]*endpointState, len(p.endpoints))
	copy(endpoints, p.endpoints)
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ep := range endpoints {
		wg.Add(1)
		go func(ep *endpointState) {
			defer wg.Done()
			p.checkEndpoint(ep)
		}(ep)
	}
	wg.Wait()
}

func (p *Pool) checkEndpoint(ep *endpointState) {
	ctx, cancel := context.WithTimeout(p.ctx, p.requestTimeout)
	defer cancel()

	start := time.Now()
	err := p.fetchHealth(ctx, ep.url)
	ep.lastCheck.Store(time.Now().UnixNano())

	if err != nil {
		p.recordFailure(ep, err)
		return
	}
	p.recordSuccess(ep, time.Since(start))
}

// fetchHealth calls getHealth on url.
func (p *Pool) fetchHealth(ctx context.Context, url string) error {
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getHealth",
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	var status string
	if err := json.Unmarshal(rpcResp.Result, &status); err != nil || status != "ok" {
		return fmt.Errorf("unexpected health result: %s", rpcResp.Result)
	}
	return nil
}

// EndpointStatus returns the status of all endpoints in the pool.
func (p *Pool) EndpointStatus() []EndpointInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	infos := make([]EndpointInfo, len(p.endpoints))
	for i, ep := range p.endpoints {
		infos[i] = EndpointInfo{
			URL:       ep.url,
			Healthy:   ep.healthy.Load(),
			Latency:   time.Duration(ep.latency.Load()),
			FailCount: int(ep.failCount.Load()),
			LastError: ep.getErr(),
		}
		if ts := ep.lastCheck.Load(); ts != 0 {
			infos[i].LastCheck = time.Unix(0, ts)
		}
	}
	return infos
}

// EndpointInfo contains status information about an endpoint.
type EndpointInfo struct {
	URL       string
	Healthy   bool
	Latency   time.Duration
	LastCheck time.Time
	FailCount int
	LastError error
}
