// intcode: run, search and serve integer programs.
//
// Usage:
//
//	intcode run [flags] <program-file>
//	intcode search [flags] <program-file>
//	intcode image put|get|list|rm [flags] ...
//	intcode serve [-config intcode.toml]
//	intcode version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fortiblox/intcode/pkg/config"
	"github.com/fortiblox/intcode/pkg/node"
	"github.com/fortiblox/intcode/pkg/rpc"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// errUsage is returned after a usage message has been printed.
var errUsage = errors.New("usage")

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signalContext()
	defer cancel()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runCmd(ctx, args)
	case "search":
		err = searchCmd(ctx, args)
	case "image":
		err = imageCmd(args)
	case "serve":
		err = serveCmd(ctx, args)
	case "version", "-version", "--version":
		fmt.Printf("intcode %s (%s, core %s)\n", Version, GitCommit, rpc.CoreVersion)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "intcode: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		os.Exit(2)
	case errors.Is(err, errFaulted):
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "intcode: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: intcode <command> [flags] [args]

commands:
  run      execute a program file, an inline program (-e) or a stored image (-image)
  search   find the noun/verb pair that produces a target value
  image    manage the local image store (put, get, list, rm)
  serve    start the JSON-RPC, gRPC and dashboard servers
  version  print version information
`)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("Received signal %v, shutting down...", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func serveCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "TOML configuration file")
	dataDir := fs.String("data-dir", "", "Data directory (overrides the config file)")
	ephemeral := fs.Bool("ephemeral", false, "Keep images and results in memory only")
	rpcAddr := fs.String("rpc-addr", "", "JSON-RPC listen address (overrides the config file)")
	grpcAddr := fs.String("grpc-addr", "", "gRPC listen address; enables the gRPC service")
	dashboardAddr := fs.String("dashboard-addr", "", "Dashboard listen address; enables the web dashboard")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	cfg := node.DefaultConfig()
	if *configPath != "" {
		f, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		if cfg, err = f.NodeConfig(); err != nil {
			return err
		}
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *ephemeral {
		cfg.Ephemeral = true
	}
	if *rpcAddr != "" {
		cfg.RPCEnabled = true
		cfg.RPCAddr = *rpcAddr
	}
	if *grpcAddr != "" {
		cfg.GRPCEnabled = true
		cfg.GRPCAddr = *grpcAddr
	}
	if *dashboardAddr != "" {
		cfg.DashboardEnabled = true
		cfg.DashboardAddr = *dashboardAddr
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting intcode %s", Version)

	cfg.OnError = func(err error) {
		log.Printf("Server error: %v", err)
	}
	n, err := node.New(&cfg)
	if err != nil {
		return err
	}
	if err := n.Start(ctx); err != nil {
		return err
	}

	status := n.Status()
	if status.RPCAddr != "" {
		log.Printf("JSON-RPC listening on %s", status.RPCAddr)
	}
	if status.GRPCAddr != "" {
		log.Printf("gRPC listening on %s", status.GRPCAddr)
	}
	if status.DashboardAddr != "" {
		log.Printf("Dashboard at http://%s", status.DashboardAddr)
	}

	<-ctx.Done()

	status = n.Status()
	log.Printf("Executed %d runs (%d cached, %d faulted), %d searches",
		status.Runner.Runs, status.Runner.CacheHits, status.Runner.Faults, status.Runner.Searches)
	if err := n.Stop(); err != nil {
		return err
	}
	log.Println("intcode stopped")
	return nil
}

// int64List parses comma-separated integers.
func int64List(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	values := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad integer %q", p)
		}
		values = append(values, v)
	}
	return values, nil
}
