package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/console"
	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/intcode/loader"
	"github.com/fortiblox/intcode/pkg/rpcpool"
	"github.com/fortiblox/intcode/pkg/runner"
	"github.com/fortiblox/intcode/pkg/search"
	"github.com/fortiblox/intcode/pkg/vmservice"
)

// errFaulted is returned when the program faulted; the fault has already
// been reported.
var errFaulted = errors.New("program faulted")

// Restore values for the classic noun/verb puzzle input.
const (
	restoreNoun = 12
	restoreVerb = 2
)

const defaultStorePath = "./data/images.db"

// programFlags selects where a program comes from.
type programFlags struct {
	inline *string
	image  *string
	store  *string
}

func addProgramFlags(fs *flag.FlagSet) programFlags {
	return programFlags{
		inline: fs.String("e", "", "Inline program text instead of a file"),
		image:  fs.String("image", "", "Image ID or name from the local store"),
		store:  fs.String("store", defaultStorePath, "Image store path"),
	}
}

// load returns the program named by the flags or the single file argument.
func (p programFlags) load(fs *flag.FlagSet) (intcode.Program, error) {
	sources := 0
	if *p.inline != "" {
		sources++
	}
	if *p.image != "" {
		sources++
	}
	if fs.NArg() > 0 {
		sources++
	}
	if sources != 1 || fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "give exactly one of a program file, -e or -image")
		fs.Usage()
		return nil, errUsage
	}

	switch {
	case *p.inline != "":
		return loader.Parse(*p.inline)
	case *p.image != "":
		store, err := openStore(*p.store, true)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		_, program, err := lookupImage(store, *p.image)
		return program, err
	default:
		return loader.LoadFile(fs.Arg(0))
	}
}

func runCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	src := addProgramFlags(fs)
	noun := fs.Int64("noun", -1, "Value patched into address 1 (-1 leaves it)")
	verb := fs.Int64("verb", -1, "Value patched into address 2 (-1 leaves it)")
	restore := fs.Bool("restore", false, "Patch noun=12, verb=2 before running")
	inputs := fs.String("input", "", "Comma-separated input values")
	interactive := fs.Bool("interactive", false, "Read further input from stdin, one value per line")
	maxSteps := fs.Uint64("max-steps", runner.DefaultMaxSteps, "Step budget (0 = unlimited)")
	dump := fs.Bool("dump", false, "Print final memory")
	lenient := fs.Bool("lenient", false, "Accept immediate mode on write parameters")
	trace := fs.Bool("trace", false, "Print each instruction to stderr")
	remote := fs.String("remote", "", "Run on a gRPC VM service at host:port")
	token := fs.String("token", "", "Token for -remote")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	values, err := int64List(*inputs)
	if err != nil {
		return err
	}
	overrides := make(map[int64]int64)
	if *restore {
		overrides[intcode.NounAddr] = restoreNoun
		overrides[intcode.VerbAddr] = restoreVerb
	}
	if *noun >= 0 {
		overrides[intcode.NounAddr] = *noun
	}
	if *verb >= 0 {
		overrides[intcode.VerbAddr] = *verb
	}

	if *remote != "" {
		if *src.image != "" {
			return runRemote(ctx, *remote, *token, runner.Request{Image: *src.image, Overrides: overrides, Inputs: values, MaxSteps: *maxSteps, Dump: *dump}, *interactive)
		}
		program, err := src.load(fs)
		if err != nil {
			return err
		}
		req := runner.Request{Program: program.String(), Overrides: overrides, Inputs: values, MaxSteps: *maxSteps, Dump: *dump}
		return runRemote(ctx, *remote, *token, req, *interactive)
	}

	program, err := src.load(fs)
	if err != nil {
		return err
	}

	opts := intcode.Options{
		Input:               intcode.Values(values...),
		Output:              console.NewOutput(os.Stdout),
		MaxSteps:            *maxSteps,
		LenientDestinations: *lenient,
	}
	if *interactive {
		// -input values go first through Provide, then stdin.
		opts.Input = console.NewInput(os.Stdin, os.Stderr)
	}
	if *trace {
		opts.Trace = func(ip int64, ins intcode.Instruction) {
			fmt.Fprintf(os.Stderr, "%6d  %s\n", ip, ins)
		}
	}

	vm := intcode.New(program, opts)
	if err := vm.Reset(overrides); err != nil {
		return err
	}
	if *interactive {
		vm.Provide(values...)
	}

	start := time.Now()
	state, err := vm.RunContext(ctx)
	if err != nil {
		return err
	}

	memory0, _ := vm.Read(0)
	fmt.Fprintf(os.Stderr, "%s after %d steps in %s; memory[0] = %d\n",
		state, vm.Steps(), time.Since(start).Round(time.Microsecond), memory0)
	if last, ok := vm.LastOutput(); ok {
		fmt.Fprintf(os.Stderr, "diagnostic code: %d\n", last)
	}
	if *dump {
		fmt.Println(intcode.Program(vm.Memory()).String())
	}
	if state == intcode.StateFaulted {
		fmt.Fprintf(os.Stderr, "fault: %v\n", vm.Err())
		return errFaulted
	}
	return nil
}

// runRemote executes req on a gRPC VM service. Interactive runs use a
// session fed from stdin.
func runRemote(ctx context.Context, endpoint, token string, req runner.Request, interactive bool) error {
	client, err := vmservice.Dial(vmservice.ClientConfig{Endpoint: endpoint, Token: token})
	if err != nil {
		return err
	}
	defer client.Close()

	if !interactive {
		res, err := client.Run(ctx, req)
		if err != nil {
			return err
		}
		for _, v := range res.Output {
			fmt.Println(v)
		}
		fmt.Fprintf(os.Stderr, "%s after %d steps; memory[0] = %d (image %s, cached %v)\n",
			res.State, res.Steps, res.Memory0, res.Image.Short(), res.Cached)
		if res.Memory != nil {
			fmt.Println(intcode.Program(res.Memory).String())
		}
		if res.Fault != "" {
			fmt.Fprintf(os.Stderr, "fault: %s\n", res.Fault)
			return errFaulted
		}
		return nil
	}

	session, update, err := client.OpenSession(ctx, req)
	if err != nil {
		return err
	}
	defer session.Close()

	in := console.NewInput(os.Stdin, os.Stderr)
	for {
		for _, v := range update.Outputs {
			fmt.Println(v)
		}
		if update.Done() {
			break
		}
		v, err := in.ReadNext()
		if err != nil {
			return err
		}
		if update, err = session.Provide(v); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "%s after %d steps; memory[0] = %d\n", update.State, update.Steps, update.Memory0)
	if update.Fault != "" {
		fmt.Fprintf(os.Stderr, "fault: %s\n", update.Fault)
		return errFaulted
	}
	return nil
}

func searchCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	src := addProgramFlags(fs)
	target := fs.Int64("target", 19690720, "Value to find at address 0")
	workers := fs.Int("workers", 0, "Concurrent evaluations (0 = GOMAXPROCS)")
	nouns := fs.String("nouns", "0:100", "Noun range min:max (max exclusive)")
	verbs := fs.String("verbs", "0:100", "Verb range min:max (max exclusive)")
	maxSteps := fs.Uint64("max-steps", runner.DefaultMaxSteps, "Step budget per candidate (0 = unlimited)")
	endpoints := fs.String("rpc", "", "Comma-separated JSON-RPC node URLs; searches remotely, -image names a node image")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	cfg := search.DefaultConfig()
	var err error
	if cfg.Nouns, err = parseRange(*nouns); err != nil {
		return err
	}
	if cfg.Verbs, err = parseRange(*verbs); err != nil {
		return err
	}
	cfg.Workers = *workers
	cfg.MaxSteps = *maxSteps

	start := time.Now()
	var res *search.Result
	if *endpoints != "" {
		res, err = searchRemote(ctx, strings.Split(*endpoints, ","), src, fs, *target, cfg)
	} else {
		var program intcode.Program
		if program, err = src.load(fs); err != nil {
			return err
		}
		res, err = search.Find(ctx, program, *target, cfg)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "noun=%d verb=%d after %d candidates in %s\n",
		res.Noun, res.Verb, res.Tried, time.Since(start).Round(time.Millisecond))
	fmt.Println(res.Answer)
	return nil
}

// searchRemote runs the search on the first healthy node.
func searchRemote(ctx context.Context, urls []string, src programFlags, fs *flag.FlagSet, target int64, cfg search.Config) (*search.Result, error) {
	req := runner.SearchRequest{
		Target:   target,
		Nouns:    cfg.Nouns,
		Verbs:    cfg.Verbs,
		Workers:  cfg.Workers,
		MaxSteps: cfg.MaxSteps,
	}
	if *src.image != "" && *src.inline == "" && fs.NArg() == 0 {
		req.Image = *src.image
	} else {
		program, err := src.load(fs)
		if err != nil {
			return nil, err
		}
		req.Program = program.String()
	}

	pool := rpcpool.NewPool()
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			pool.AddEndpoint(u)
		}
	}
	pool.Start(ctx)
	defer pool.Stop()
	if pool.HealthyCount() == 0 {
		return nil, fmt.Errorf("search: %w", rpcpool.ErrNoHealthyEndpoints)
	}

	res, err := rpcpool.NewClient(pool, 0).Search(ctx, req)
	if rpcpool.IsSearchExhausted(err) {
		return nil, search.ErrNotFound
	}
	return res, err
}

func parseRange(s string) (search.Range, error) {
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return search.Range{}, fmt.Errorf("bad range %q, want min:max", s)
	}
	var r search.Range
	var err error
	if r.Min, err = strconv.ParseInt(lo, 10, 64); err != nil {
		return search.Range{}, fmt.Errorf("bad range %q: %w", s, err)
	}
	if r.Max, err = strconv.ParseInt(hi, 10, 64); err != nil {
		return search.Range{}, fmt.Errorf("bad range %q: %w", s, err)
	}
	return r, nil
}

func imageCmd(args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: intcode image put|get|list|rm [flags] ...")
		return errUsage
	}

	fs := flag.NewFlagSet("image "+args[0], flag.ContinueOnError)
	storePath := fs.String("store", defaultStorePath, "Image store path")
	output := fs.String("o", "", "get: write the program to this file (.zst compresses)")
	if err := fs.Parse(args[1:]); err != nil {
		return errUsage
	}

	readOnly := args[0] == "get" || args[0] == "list"
	store, err := openStore(*storePath, readOnly)
	if err != nil {
		return err
	}
	defer store.Close()

	switch args[0] {
	case "put":
		if fs.NArg() != 2 {
			fmt.Fprintln(os.Stderr, "usage: intcode image put [-store path] <name> <program-file>")
			return errUsage
		}
		program, err := loader.LoadFile(fs.Arg(1))
		if err != nil {
			return err
		}
		id, err := store.Put(fs.Arg(0), program)
		if err != nil {
			return err
		}
		fmt.Println(id)

	case "get":
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: intcode image get [-store path] [-o file] <id-or-name>")
			return errUsage
		}
		_, program, err := lookupImage(store, fs.Arg(0))
		if err != nil {
			return err
		}
		if *output != "" {
			return loader.SaveFile(*output, program)
		}
		return loader.Write(os.Stdout, program, false)

	case "list":
		metas, err := store.List()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tWORDS\tSIZE\tCREATED")
		for _, m := range metas {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", m.ID, m.Name, m.Words, m.Size, m.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()

	case "rm":
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: intcode image rm [-store path] <id-or-name>")
			return errUsage
		}
		id, _, err := lookupImage(store, fs.Arg(0))
		if err != nil {
			return err
		}
		return store.Delete(id)

	default:
		fmt.Fprintf(os.Stderr, "intcode image: unknown subcommand %q\n", args[0])
		return errUsage
	}
	return nil
}

func openStore(path string, readOnly bool) (*imagestore.BoltStore, error) {
	cfg := imagestore.DefaultConfig(path)
	cfg.ReadOnly = readOnly
	return imagestore.Open(cfg)
}

// lookupImage resolves a base58 ID or a name.
func lookupImage(store imagestore.Store, ref string) (types.ImageID, intcode.Program, error) {
	if id, err := types.ImageIDFromBase58(ref); err == nil {
		if program, err := store.Get(id); err == nil {
			return id, program, nil
		}
	}
	return store.GetByName(ref)
}
