// Package config loads intcode node configuration from a TOML file.
//
// Example:
//
//	[node]
//	data-dir = "/var/lib/intcode"
//
//	[runner]
//	max-steps = 5000000
//	search-workers = 8
//
//	[rpc]
//	addr = ":8650"
//	run-timeout = "5s"
//
//	[grpc]
//	enabled = true
//	token = "${INTCODE_TOKEN}"
//
//	[dashboard]
//	enabled = true
//	addr = "127.0.0.1:8652"
//
// Keys that are absent keep the node defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fortiblox/intcode/pkg/node"
)

// File mirrors the TOML layout.
type File struct {
	Node   NodeSection   `toml:"node"`
	Runner RunnerSection `toml:"runner"`
	RPC    RPCSection    `toml:"rpc"`
	GRPC   GRPCSection   `toml:"grpc"`

	Dashboard DashboardSection `toml:"dashboard"`

	// Dir is the directory containing the file (set at load time).
	Dir string `toml:"-"`

	meta toml.MetaData
}

// NodeSection configures storage.
type NodeSection struct {
	DataDir   string `toml:"data-dir"`
	Ephemeral bool   `toml:"ephemeral"`
}

// RunnerSection configures execution limits.
type RunnerSection struct {
	MaxSteps            uint64 `toml:"max-steps"`
	MaxInputs           int    `toml:"max-inputs"`
	SearchWorkers       int    `toml:"search-workers"`
	LenientDestinations bool   `toml:"lenient-destinations"`
	CacheResults        bool   `toml:"cache-results"`
}

// RPCSection configures the JSON-RPC server.
type RPCSection struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	LogRequests bool     `toml:"log-requests"`
	RunTimeout  Duration `toml:"run-timeout"`
}

// GRPCSection configures the gRPC VM service.
type GRPCSection struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Token   string `toml:"token"`
}

// DashboardSection configures the web dashboard.
type DashboardSection struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// Duration is a time.Duration written as a string such as "10s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Load parses the TOML file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	f.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes TOML text. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	meta, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	f.meta = meta
	return &f, nil
}

// NodeConfig returns node.DefaultConfig with the file's settings applied.
// A relative data-dir is resolved against the file's directory.
func (f *File) NodeConfig() (node.Config, error) {
	cfg := node.DefaultConfig()

	if f.defined("node", "data-dir") {
		cfg.DataDir = f.Node.DataDir
		if !filepath.IsAbs(cfg.DataDir) && f.Dir != "" {
			cfg.DataDir = filepath.Join(f.Dir, cfg.DataDir)
		}
	}
	if f.defined("node", "ephemeral") {
		cfg.Ephemeral = f.Node.Ephemeral
	}

	if f.defined("runner", "max-steps") {
		cfg.MaxSteps = f.Runner.MaxSteps
	}
	if f.defined("runner", "max-inputs") {
		cfg.MaxInputs = f.Runner.MaxInputs
	}
	if f.defined("runner", "search-workers") {
		cfg.SearchWorkers = f.Runner.SearchWorkers
	}
	if f.defined("runner", "lenient-destinations") {
		cfg.LenientDestinations = f.Runner.LenientDestinations
	}
	if f.defined("runner", "cache-results") {
		cfg.CacheResults = f.Runner.CacheResults
	}

	if f.defined("rpc", "enabled") {
		cfg.RPCEnabled = f.RPC.Enabled
	}
	if f.defined("rpc", "addr") {
		cfg.RPCAddr = f.RPC.Addr
	}
	if f.defined("rpc", "log-requests") {
		cfg.RPCLogRequests = f.RPC.LogRequests
	}
	if f.defined("rpc", "run-timeout") {
		cfg.RunTimeout = f.RPC.RunTimeout.Duration
	}

	if f.defined("grpc", "enabled") {
		cfg.GRPCEnabled = f.GRPC.Enabled
	}
	if f.defined("grpc", "addr") {
		cfg.GRPCAddr = f.GRPC.Addr
	}
	if f.defined("grpc", "token") {
		cfg.GRPCToken = f.GRPC.Token
	}

	if f.defined("dashboard", "enabled") {
		cfg.DashboardEnabled = f.Dashboard.Enabled
	}
	if f.defined("dashboard", "addr") {
		cfg.DashboardAddr = f.Dashboard.Addr
	}

	if err := cfg.Validate(); err != nil {
		return node.Config{}, err
	}
	return cfg, nil
}

func (f *File) defined(key ...string) bool {
	return f.meta.IsDefined(key...)
}
