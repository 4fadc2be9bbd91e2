// Package node provides the orchestrator for an intcode service node.
//
// The Node ties together all components:
// - Image store for the catalog of named programs
// - Result cache for deterministic run outcomes
// - Runner for executing and searching programs
// - JSON-RPC and gRPC servers exposing the runner
// - An optional web dashboard
//
// The node manages the lifecycle of these components and reports their
// status for monitoring.
package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortiblox/intcode/pkg/dashboard"
	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/results"
	"github.com/fortiblox/intcode/pkg/rpc"
	"github.com/fortiblox/intcode/pkg/runner"
	"github.com/fortiblox/intcode/pkg/vmservice"
)

// Node errors.
var (
	ErrAlreadyRunning = errors.New("node is already running")
	ErrNotRunning     = errors.New("node is not running")
	ErrConfigInvalid  = errors.New("invalid node configuration")
	ErrInitFailed     = errors.New("node initialization failed")
)

// Config holds node configuration.
type Config struct {
	// DataDir is the root directory for all node data.
	// Ignored when Ephemeral is set.
	DataDir string

	// Ephemeral keeps images and results in memory only.
	Ephemeral bool

	// CacheResults enables the result cache.
	CacheResults bool

	// Runner limits.
	MaxSteps            uint64
	MaxInputs           int
	SearchWorkers       int
	LenientDestinations bool

	// RunTimeout bounds a single request on either server.
	RunTimeout time.Duration

	// RPCEnabled enables the JSON-RPC server.
	RPCEnabled bool

	// RPCAddr is the listen address for the RPC server (default ":8650").
	RPCAddr string

	// RPCLogRequests enables logging of RPC requests.
	RPCLogRequests bool

	// GRPCEnabled enables the gRPC VM service.
	GRPCEnabled bool

	// GRPCAddr is the listen address for the gRPC server (default ":8651").
	GRPCAddr string

	// GRPCToken, if set, is required from gRPC clients.
	// Supports environment variable expansion with ${VAR_NAME}.
	GRPCToken string

	// DashboardEnabled enables the web dashboard.
	DashboardEnabled bool

	// DashboardAddr is the dashboard listen address (default "127.0.0.1:8652").
	DashboardAddr string

	// OnError is called when a server fails after startup.
	OnError func(err error)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:       "./data",
		CacheResults:  true,
		MaxSteps:      runner.DefaultMaxSteps,
		MaxInputs:     runner.DefaultConfig().MaxInputs,
		RunTimeout:    10 * time.Second,
		RPCEnabled:    true,
		RPCAddr:       ":8650",
		GRPCEnabled:   false,
		GRPCAddr:      ":8651",
		DashboardAddr: "127.0.0.1:8652",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" && !c.Ephemeral {
		return fmt.Errorf("%w: data directory is required", ErrConfigInvalid)
	}
	if c.RPCEnabled && c.RPCAddr == "" {
		return fmt.Errorf("%w: rpc address is required", ErrConfigInvalid)
	}
	if c.GRPCEnabled && c.GRPCAddr == "" {
		return fmt.Errorf("%w: grpc address is required", ErrConfigInvalid)
	}
	if c.DashboardEnabled && c.DashboardAddr == "" {
		return fmt.Errorf("%w: dashboard address is required", ErrConfigInvalid)
	}
	if c.MaxInputs < 0 || c.SearchWorkers < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrConfigInvalid)
	}
	return nil
}

// Node represents a running intcode service.
type Node struct {
	config Config

	// Core components
	images     imagestore.Store
	cache      results.Cache
	runner     *runner.Runner
	rpcServer  *rpc.Server
	grpcServer *vmservice.Server
	dashboard  *dashboard.Dashboard

	// Bound addresses, known once the listeners are open
	rpcAddr       string
	grpcAddr      string
	dashboardAddr string

	// State management
	mu          sync.RWMutex
	running     atomic.Bool
	startedAt   atomic.Int64 // unix nanoseconds
	lastError   error
	lastErrorMu sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new node with the given configuration.
// The node is not started until Start() is called.
func New(config *Config) (*Node, error) {
	if config == nil {
		c := DefaultConfig()
		config = &c
	}

	defaults := DefaultConfig()
	if config.RPCAddr == "" {
		config.RPCAddr = defaults.RPCAddr
	}
	if config.GRPCAddr == "" {
		config.GRPCAddr = defaults.GRPCAddr
	}
	if config.DashboardAddr == "" {
		config.DashboardAddr = defaults.DashboardAddr
	}
	if config.MaxSteps == 0 {
		config.MaxSteps = defaults.MaxSteps
	}
	if config.MaxInputs == 0 {
		config.MaxInputs = defaults.MaxInputs
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Node{config: *config}, nil
}

// Start opens storage and starts the enabled servers. It returns once the
// listeners are bound; the servers keep running until Stop is called or
// ctx is cancelled.
func (n *Node) Start(ctx context.Context) error {
	if n.running.Swap(true) {
		return ErrAlreadyRunning
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.initialize(); err != nil {
		n.running.Store(false)
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	ctx, n.cancel = context.WithCancel(ctx)
	n.startedAt.Store(time.Now().UnixNano())

	if n.rpcServer != nil {
		ln, err := net.Listen("tcp", n.config.RPCAddr)
		if err != nil {
			n.abort()
			return fmt.Errorf("%w: rpc listen: %v", ErrInitFailed, err)
		}
		n.rpcAddr = ln.Addr().String()
		n.serve("RPC", func() error { return n.rpcServer.Serve(ctx, ln) })
	}

	if n.grpcServer != nil {
		ln, err := net.Listen("tcp", n.config.GRPCAddr)
		if err != nil {
			n.abort()
			return fmt.Errorf("%w: grpc listen: %v", ErrInitFailed, err)
		}
		n.grpcAddr = ln.Addr().String()
		n.serve("gRPC", func() error { return n.grpcServer.Serve(ctx, ln) })
	}

	if n.dashboard != nil {
		ln, err := net.Listen("tcp", n.config.DashboardAddr)
		if err != nil {
			n.abort()
			return fmt.Errorf("%w: dashboard listen: %v", ErrInitFailed, err)
		}
		n.dashboardAddr = ln.Addr().String()
		n.serve("Dashboard", func() error { return n.dashboard.Serve(ctx, ln) })
	}

	log.Printf("[NODE] started (rpc=%q grpc=%q dashboard=%q ephemeral=%v)",
		n.rpcAddr, n.grpcAddr, n.dashboardAddr, n.config.Ephemeral)
	return nil
}

func (n *Node) serve(name string, fn func() error) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := fn(); err != nil {
			err = fmt.Errorf("%s server error: %w", name, err)
			n.setLastError(err)
			if n.config.OnError != nil {
				n.config.OnError(err)
			}
		}
	}()
}

// initialize sets up storage and builds the servers.
func (n *Node) initialize() error {
	if n.config.Ephemeral {
		n.images = imagestore.NewMemoryStore()
		if n.config.CacheResults {
			n.cache = results.NewMemoryCache()
		}
	} else {
		if err := os.MkdirAll(n.config.DataDir, 0755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}

		images, err := imagestore.Open(imagestore.DefaultConfig(filepath.Join(n.config.DataDir, "images.db")))
		if err != nil {
			return fmt.Errorf("open image store: %w", err)
		}
		n.images = images

		if n.config.CacheResults {
			cache, err := results.OpenBadger(results.DefaultBadgerConfig(filepath.Join(n.config.DataDir, "results")))
			if err != nil {
				n.closeStorage()
				return fmt.Errorf("open result cache: %w", err)
			}
			n.cache = cache
		}
	}

	runnerConfig := runner.Config{
		MaxSteps:            n.config.MaxSteps,
		MaxInputs:           n.config.MaxInputs,
		SearchWorkers:       n.config.SearchWorkers,
		LenientDestinations: n.config.LenientDestinations,
	}
	n.runner = runner.New(n.images, n.cache, runnerConfig)

	if n.config.RPCEnabled {
		rpcConfig := rpc.DefaultConfig()
		rpcConfig.Addr = n.config.RPCAddr
		rpcConfig.LogRequests = n.config.RPCLogRequests
		if n.config.RunTimeout > 0 {
			rpcConfig.RunTimeout = n.config.RunTimeout
		}
		n.rpcServer = rpc.New(rpcConfig, n.runner)
	}

	if n.config.GRPCEnabled {
		grpcConfig := vmservice.DefaultServerConfig()
		grpcConfig.Addr = n.config.GRPCAddr
		grpcConfig.Token = os.ExpandEnv(n.config.GRPCToken)
		grpcConfig.LogRequests = n.config.RPCLogRequests
		if n.config.RunTimeout > 0 {
			grpcConfig.RunTimeout = n.config.RunTimeout
		}
		n.grpcServer = vmservice.NewServer(grpcConfig, n.runner)
	}

	if n.config.DashboardEnabled {
		dashConfig := dashboard.DefaultConfig()
		dashConfig.Addr = n.config.DashboardAddr
		dash, err := dashboard.New(dashConfig, n.runner, n)
		if err != nil {
			n.closeStorage()
			return fmt.Errorf("create dashboard: %w", err)
		}
		n.dashboard = dash
	}

	return nil
}

// abort undoes a partial Start. Caller holds n.mu.
func (n *Node) abort() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	n.closeStorage()
	n.running.Store(false)
}

// closeStorage closes the cache and the image store.
func (n *Node) closeStorage() {
	if n.cache != nil {
		n.cache.Close()
		n.cache = nil
	}
	if n.images != nil {
		n.images.Close()
		n.images = nil
	}
}

// Stop gracefully stops the node, in reverse order of startup.
func (n *Node) Stop() error {
	if !n.running.Load() {
		return ErrNotRunning
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.dashboard != nil {
		n.dashboard.Stop()
	}
	if n.grpcServer != nil {
		n.grpcServer.Stop()
	}
	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}

	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()

	if s, ok := n.images.(interface{ Sync() error }); ok {
		s.Sync()
	}
	n.closeStorage()

	n.running.Store(false)
	log.Printf("[NODE] stopped after %s", time.Since(time.Unix(0, n.startedAt.Load())).Round(time.Millisecond))
	return nil
}

// Runner returns the node's runner, or nil before Start.
func (n *Node) Runner() *runner.Runner {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.runner
}

// Status returns the current node status.
func (n *Node) Status() *Status {
	n.mu.RLock()
	defer n.mu.RUnlock()

	status := &Status{
		IsRunning:     n.running.Load(),
		Ephemeral:     n.config.Ephemeral,
		RPCAddr:       n.rpcAddr,
		GRPCAddr:      n.grpcAddr,
		DashboardAddr: n.dashboardAddr,
		LastError:     n.LastError(),
		Uptime:        n.Uptime(),
	}
	if n.runner != nil {
		status.Runner = n.runner.Stats()
	}
	if n.images != nil {
		status.ImageStats, _ = n.images.Stats()
	}
	return status
}

// Status contains the current node status.
type Status struct {
	// IsRunning indicates if the node is running.
	IsRunning bool

	// Ephemeral indicates that nothing is persisted.
	Ephemeral bool

	// Uptime is how long the node has been running.
	Uptime time.Duration

	// Runner holds execution counters.
	Runner runner.Stats

	// ImageStats contains image store statistics.
	ImageStats *imagestore.Stats

	// Bound server addresses, empty when disabled.
	RPCAddr       string
	GRPCAddr      string
	DashboardAddr string

	// LastError is the most recent error encountered.
	LastError error
}

// setLastError safely sets the last error.
func (n *Node) setLastError(err error) {
	n.lastErrorMu.Lock()
	n.lastError = err
	n.lastErrorMu.Unlock()
}

// LastError returns the most recent server error, if any.
func (n *Node) LastError() error {
	n.lastErrorMu.RLock()
	defer n.lastErrorMu.RUnlock()
	return n.lastError
}

// IsRunning reports whether the node has been started and not stopped.
func (n *Node) IsRunning() bool {
	return n.running.Load()
}

// Uptime returns how long the node has been running, or zero when stopped.
// Safe to call while Stop holds n.mu.
func (n *Node) Uptime() time.Duration {
	if !n.running.Load() {
		return 0
	}
	started := n.startedAt.Load()
	if started == 0 {
		return 0
	}
	return time.Since(time.Unix(0, started))
}
