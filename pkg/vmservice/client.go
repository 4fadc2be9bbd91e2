package vmservice

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/fortiblox/intcode/pkg/runner"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Client errors.
var (
	ErrNoEndpoint    = errors.New("vm service endpoint is required")
	ErrInvalidConfig = errors.New("invalid vm client configuration")
	ErrClosed        = errors.New("vm client closed")
	ErrSessionDone   = errors.New("session already finished")
)

// ClientConfig holds the configuration for a Client.
type ClientConfig struct {
	// Endpoint is the server address (host:port). Required.
	Endpoint string

	// Token is sent in the x-token header. ${VAR} references are expanded.
	Token string

	// UseTLS enables TLS for the connection.
	UseTLS bool

	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// MaxMessageSize is the maximum message size in bytes.
	MaxMessageSize int

	// Dialer overrides the network dialer (used with bufconn in tests).
	Dialer func(context.Context, string) (net.Conn, error)
}

// DefaultClientConfig returns a client configuration with defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		KeepaliveTime:    30 * time.Second,
		KeepaliveTimeout: 10 * time.Second,
		MaxMessageSize:   defaultMaxMsgSize,
	}
}

// WithDefaults fills zero fields from DefaultClientConfig.
func (c ClientConfig) WithDefaults() ClientConfig {
	defaults := DefaultClientConfig()
	if c.KeepaliveTime == 0 {
		c.KeepaliveTime = defaults.KeepaliveTime
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = defaults.KeepaliveTimeout
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	return c
}

// Validate checks if the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.Endpoint == "" {
		return ErrNoEndpoint
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}
	if c.KeepaliveTime <= 0 || c.KeepaliveTimeout <= 0 {
		return fmt.Errorf("%w: keepalive settings must be positive", ErrInvalidConfig)
	}
	return nil
}

// Client calls a remote intcode.VM service.
type Client struct {
	conn   *grpc.ClientConn
	closed atomic.Bool
}

// Dial connects to the service.
func Dial(config ClientConfig) (*Client, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                config.KeepaliveTime,
			Timeout:             config.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(jsonCodec{}),
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(config.MaxMessageSize),
		),
	}

	if config.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}),
		))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if config.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&tokenAuth{
			token:      os.ExpandEnv(config.Token),
			requireTLS: config.UseTLS,
		}))
	}

	if config.Dialer != nil {
		opts = append(opts, grpc.WithContextDialer(config.Dialer))
	}

	//nolint:staticcheck // grpc.Dial keeps compatibility with older gRPC versions
	conn, err := grpc.Dial(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gRPC: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Run executes one request remotely.
func (c *Client) Run(ctx context.Context, req runner.Request) (*runner.Result, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	out := new(runner.Result)
	if err := c.conn.Invoke(ctx, RunMethod, &req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenSession starts an interactive session and returns it together with the
// first update. inputs are provided before the VM starts.
func (c *Client) OpenSession(ctx context.Context, req runner.Request, inputs ...int64) (*Session, *SessionUpdate, error) {
	if c.closed.Load() {
		return nil, nil, ErrClosed
	}

	desc := &grpc.StreamDesc{
		StreamName:    "Session",
		ServerStreams: true,
		ClientStreams: true,
	}
	stream, err := c.conn.NewStream(ctx, desc, SessionMethod)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stream: %w", err)
	}

	s := &Session{stream: stream}
	update, err := s.exchange(&SessionRequest{Start: &req, Inputs: inputs})
	if err != nil {
		stream.CloseSend()
		return nil, nil, err
	}
	return s, update, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return ErrClosed
	}
	return c.conn.Close()
}

// Session is an open interactive session.
type Session struct {
	stream grpc.ClientStream
	done   bool
}

// Provide sends input values and waits for the VM to stop again.
func (s *Session) Provide(inputs ...int64) (*SessionUpdate, error) {
	if s.done {
		return nil, ErrSessionDone
	}
	return s.exchange(&SessionRequest{Inputs: inputs})
}

// Close ends the client side of the session.
func (s *Session) Close() error {
	return s.stream.CloseSend()
}

func (s *Session) exchange(req *SessionRequest) (*SessionUpdate, error) {
	if err := s.stream.SendMsg(req); err != nil {
		return nil, err
	}
	update := new(SessionUpdate)
	if err := s.stream.RecvMsg(update); err != nil {
		return nil, err
	}
	if update.Done() {
		s.done = true
	}
	return update, nil
}

// tokenAuth implements grpc.PerRPCCredentials for token authentication.
type tokenAuth struct {
	token      string
	requireTLS bool
}

// GetRequestMetadata returns the authentication metadata.
func (t *tokenAuth) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		tokenMetadataKey: t.token,
	}, nil
}

// RequireTransportSecurity returns whether TLS is required.
func (t *tokenAuth) RequireTransportSecurity() bool {
	return t.requireTLS
}
