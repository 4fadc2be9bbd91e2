// Package rpc implements the JSON-RPC 2.0 server for intcode.
//
// Supported methods:
//   - Execution: runProgram, searchNounVerb
//   - Images: putImage, getImage, listImages, deleteImage
//   - Node: getHealth, getVersion, getStats
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fortiblox/intcode/pkg/runner"
)

// Config holds RPC server configuration.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// RunTimeout bounds a single runProgram or searchNounVerb call.
	RunTimeout time.Duration

	// MaxRequestSize is the maximum allowed request body size in bytes.
	MaxRequestSize int64

	// EnableCORS enables CORS headers for browser access.
	EnableCORS bool

	// AllowedOrigins specifies allowed CORS origins (empty means all).
	AllowedOrigins []string

	// LogRequests enables request logging.
	LogRequests bool
}

// DefaultConfig returns a default RPC server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8650",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		RunTimeout:     10 * time.Second,
		MaxRequestSize: 1 << 20, // 1MB
		EnableCORS:     true,
		LogRequests:    false,
	}
}

// Server is the JSON-RPC 2.0 server.
type Server struct {
	config Config

	// Dependencies
	runner *runner.Runner

	// State
	started  time.Time
	healthy  bool
	healthMu sync.RWMutex

	// HTTP server
	server *http.Server

	// Method handlers
	handlers map[string]handlerFunc

	// Lifecycle
	mu      sync.RWMutex
	running bool
}

// handlerFunc is a JSON-RPC method handler.
type handlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, *RPCError)

// New creates a new RPC server.
func New(config Config, r *runner.Runner) *Server {
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = DefaultConfig().MaxRequestSize
	}
	s := &Server{
		config:   config,
		runner:   r,
		started:  time.Now(),
		healthy:  true,
		handlers: make(map[string]handlerFunc),
	}

	s.registerHandlers()

	return s
}

// registerHandlers registers all RPC method handlers.
func (s *Server) registerHandlers() {
	// Execution methods
	s.handlers["runProgram"] = s.runProgram
	s.handlers["searchNounVerb"] = s.searchNounVerb

	// Image methods
	s.handlers["putImage"] = s.putImage
	s.handlers["getImage"] = s.getImage
	s.handlers["listImages"] = s.listImages
	s.handlers["deleteImage"] = s.deleteImage

	// Node methods
	s.handlers["getHealth"] = s.getHealth
	s.handlers["getVersion"] = s.getVersion
	s.handlers["getStats"] = s.getStats
}

// Handler returns the HTTP handler serving JSON-RPC requests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	return s.corsMiddleware(mux)
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
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.server
	s.mu.Unlock()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if s.config.LogRequests {
		log.Printf("[RPC] Server starting on %s", ln.Addr())
	}

	err := srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// SetHealthy sets the server health status.
func (s *Server) SetHealthy(healthy bool) {
	s.healthMu.Lock()
	s.healthy = healthy
	s.healthMu.Unlock()
}

// IsHealthy returns the current health status.
func (s *Server) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

// corsMiddleware adds CORS headers if enabled.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	if !s.config.EnableCORS {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := len(s.config.AllowedOrigins) == 0
			for _, allowedOrigin := range s.config.AllowedOrigins {
				if allowedOrigin == origin || allowedOrigin == "*" {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && contentType != "application/json" {
		s.writeError(w, nil, ErrInvalidRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize+1))
	if err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}
	if int64(len(body)) > s.config.MaxRequestSize {
		s.writeError(w, nil, NewRPCError(InvalidRequest, "Request too large"))
		return
	}

	if len(body) > 0 && body[0] == '[' {
		s.handleBatchRequest(r.Context(), w, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}

	if req.JSONRPC != JSONRPCVersion {
		s.writeError(w, req.ID, ErrInvalidRequest)
		return
	}

	if s.config.LogRequests {
		log.Printf("[RPC] %s id=%v", req.Method, req.ID)
	}

	result, rpcErr := s.dispatch(r.Context(), req.Method, req.Params)
	if rpcErr != nil {
		s.writeError(w, req.ID, rpcErr)
		return
	}

	s.writeResult(w, req.ID, result)
}

// handleBatchRequest handles batch JSON-RPC requests.
func (s *Server) handleBatchRequest(ctx context.Context, w http.ResponseWriter, body []byte) {
	var requests []Request
	if err := json.Unmarshal(body, &requests); err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}

	if len(requests) == 0 {
		s.writeError(w, nil, ErrInvalidRequest)
		return
	}

	responses := make([]Response, len(requests))
	for i, req := range requests {
		if req.JSONRPC != JSONRPCVersion {
			responses[i] = Response{
				JSONRPC: JSONRPCVersion,
				ID:      req.ID,
				Error:   ErrInvalidRequest,
			}
			continue
		}

		result, rpcErr := s.dispatch(ctx, req.Method, req.Params)
		if rpcErr != nil {
			responses[i] = Response{
				JSONRPC: JSONRPCVersion,
				ID:      req.ID,
				Error:   rpcErr,
			}
		} else {
			responses[i] = Response{
				JSONRPC: JSONRPCVersion,
				ID:      req.ID,
				Result:  result,
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// dispatch routes RPC methods to their handlers.
func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, *RPCError) {
	handler, ok := s.handlers[method]
	if !ok {
		return nil, NewRPCError(MethodNotFound, fmt.Sprintf("Method not found: %s", method))
	}

	return handler(ctx, params)
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, err *RPCError) {
	resp := Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   err,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
