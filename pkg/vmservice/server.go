package vmservice

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/intcode/loader"
	"github.com/fortiblox/intcode/pkg/runner"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ServerConfig holds gRPC server configuration.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string

	// Token, if set, must be sent by clients in the x-token header.
	Token string

	// MaxMessageSize bounds received and sent messages.
	MaxMessageSize int

	// KeepaliveTime is the interval between server pings.
	KeepaliveTime time.Duration

	// KeepaliveTimeout is how long to wait for a ping ack.
	KeepaliveTimeout time.Duration

	// RunTimeout bounds a unary Run call.
	RunTimeout time.Duration

	// LogRequests enables request logging.
	LogRequests bool
}

// DefaultServerConfig returns a default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:             ":8651",
		MaxMessageSize:   defaultMaxMsgSize,
		KeepaliveTime:    30 * time.Second,
		KeepaliveTimeout: 10 * time.Second,
		RunTimeout:       10 * time.Second,
	}
}

// VMServer is the service implementation registered with gRPC.
type VMServer interface {
	Run(ctx context.Context, req *runner.Request) (*runner.Result, error)
	Session(stream grpc.ServerStream) error
}

// Server serves the intcode.VM gRPC service.
type Server struct {
	config ServerConfig
	runner *runner.Runner

	mu      sync.Mutex
	grpc    *grpc.Server
	running bool
}

// NewServer creates a gRPC server backed by r.
func NewServer(config ServerConfig, r *runner.Runner) *Server {
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaultMaxMsgSize
	}
	s := &Server{config: config, runner: r}

	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.MaxRecvMsgSize(config.MaxMessageSize),
		grpc.MaxSendMsgSize(config.MaxMessageSize),
		grpc.UnaryInterceptor(s.unaryAuth),
		grpc.StreamInterceptor(s.streamAuth),
	}
	if config.KeepaliveTime > 0 {
		opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    config.KeepaliveTime,
			Timeout: config.KeepaliveTimeout,
		}))
	}

	s.grpc = grpc.NewServer(opts...)
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done or Stop is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		ln.Close()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if s.config.LogRequests {
		log.Printf("[GRPC] Server starting on %s", ln.Addr())
	}

	err := s.grpc.Serve(ln)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.mu.Lock()
	running := s.running
	s.running = false
	s.mu.Unlock()

	if running {
		s.grpc.GracefulStop()
	}
}

// Run executes one request.
func (s *Server) Run(ctx context.Context, req *runner.Request) (*runner.Result, error) {
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}

	res, err := s.runner.Run(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return res, nil
}

// Session drives an interactive VM over a stream.
func (s *Server) Session(stream grpc.ServerStream) error {
	var first SessionRequest
	if err := stream.RecvMsg(&first); err != nil {
		return err
	}
	if first.Start == nil {
		return status.Error(codes.InvalidArgument, "first message must carry start")
	}

	vm, id, err := s.runner.NewSession(*first.Start)
	if err != nil {
		return toStatus(err)
	}
	vm.Provide(first.Inputs...)

	if s.config.LogRequests {
		log.Printf("[GRPC] session started image=%s", id.Short())
	}

	ctx := stream.Context()
	seen := 0
	for {
		if _, err := vm.RunContext(ctx); err != nil {
			return toStatus(err)
		}

		var update *SessionUpdate
		update, seen = updateOf(vm, seen)
		if err := stream.SendMsg(update); err != nil {
			return err
		}
		if update.Done() {
			return nil
		}

		var next SessionRequest
		if err := stream.RecvMsg(&next); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if next.Start != nil {
			return status.Error(codes.InvalidArgument, "session already started")
		}
		vm.Provide(next.Inputs...)
	}
}

func (s *Server) authorize(ctx context.Context) error {
	if s.config.Token == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	for _, v := range md.Get(tokenMetadataKey) {
		if subtle.ConstantTimeCompare([]byte(v), []byte(s.config.Token)) == 1 {
			return nil
		}
	}
	return status.Error(codes.Unauthenticated, "invalid token")
}

func (s *Server) unaryAuth(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (s *Server) streamAuth(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if err := s.authorize(ss.Context()); err != nil {
		return err
	}
	return handler(srv, ss)
}

// toStatus maps runner errors to gRPC status errors.
func toStatus(err error) error {
	switch {
	case errors.Is(err, imagestore.ErrImageNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, runner.ErrNoImageStore):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, loader.ErrMalformedProgram),
		errors.Is(err, intcode.ErrOutOfBounds),
		errors.Is(err, runner.ErrNoProgram),
		errors.Is(err, runner.ErrAmbiguousProgram),
		errors.Is(err, runner.ErrTooManyInputs):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func runHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(runner.Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(VMServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: RunMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(VMServer).Run(ctx, req.(*runner.Request))
	}
	return interceptor(ctx, in, info, handler)
}

func sessionHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(VMServer).Session(stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VMServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Run",
			Handler:    runHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Session",
			Handler:       sessionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}
