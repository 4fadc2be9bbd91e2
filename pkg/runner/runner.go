// Package runner executes intcode programs on behalf of the service
// surfaces.
//
// A Runner resolves a program from inline text or the image catalog, runs it
// with a finite input list and a step budget, and caches the outcome. Every
// run is deterministic, so cached records are returned verbatim for repeated
// requests.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/intcode/loader"
	"github.com/fortiblox/intcode/pkg/results"
	"github.com/fortiblox/intcode/pkg/search"
)

// Runner errors.
var (
	ErrNoProgram        = errors.New("no program or image given")
	ErrAmbiguousProgram = errors.New("both program and image given")
	ErrNoImageStore     = errors.New("image store not configured")
	ErrTooManyInputs    = errors.New("too many input values")
)

// DefaultMaxSteps bounds runs when neither the request nor the config sets
// a budget.
const DefaultMaxSteps = 10_000_000

// Config holds runner limits.
type Config struct {
	// MaxSteps is the largest step budget a request may use.
	MaxSteps uint64

	// MaxInputs bounds the number of input values per request.
	MaxInputs int

	// SearchWorkers is the default worker count for noun/verb searches.
	SearchWorkers int

	// LenientDestinations lets immediate-mode write parameters through.
	LenientDestinations bool
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		MaxSteps:  DefaultMaxSteps,
		MaxInputs: 4096,
	}
}

// Request describes one run. Exactly one of Program and Image is set.
type Request struct {
	// Program is inline program text.
	Program string `json:"program,omitempty"`

	// Image is a base58 image ID or an image name.
	Image string `json:"image,omitempty"`

	// Noun and Verb patch addresses 1 and 2.
	Noun *int64 `json:"noun,omitempty"`
	Verb *int64 `json:"verb,omitempty"`

	// Overrides patches arbitrary addresses. Noun and Verb take precedence.
	Overrides map[int64]int64 `json:"overrides,omitempty"`

	// Inputs is the complete input list; reading past it faults.
	Inputs []int64 `json:"inputs,omitempty"`

	// MaxSteps bounds the run. 0 means the runner limit.
	MaxSteps uint64 `json:"maxSteps,omitempty"`

	// Dump includes the final memory in the result and bypasses the cache.
	Dump bool `json:"dump,omitempty"`
}

// Result is the outcome of a run.
type Result struct {
	results.Record
	LastOutput *int64  `json:"lastOutput,omitempty"`
	Memory     []int64 `json:"memory,omitempty"`
	Cached     bool    `json:"cached"`
}

// SearchRequest describes a noun/verb search.
type SearchRequest struct {
	Program  string       `json:"program,omitempty"`
	Image    string       `json:"image,omitempty"`
	Target   int64        `json:"target"`
	Nouns    search.Range `json:"nouns"`
	Verbs    search.Range `json:"verbs"`
	Workers  int          `json:"workers,omitempty"`
	MaxSteps uint64       `json:"maxSteps,omitempty"`
}

// Stats contains runner counters.
type Stats struct {
	Runs        uint64 `json:"runs"`
	CacheHits   uint64 `json:"cacheHits"`
	Faults      uint64 `json:"faults"`
	Searches    uint64 `json:"searches"`
	StepsTotal  uint64 `json:"stepsTotal"`
	CachedCount uint64 `json:"cachedCount"`
}

// Runner executes programs.
type Runner struct {
	images imagestore.Store
	cache  results.Cache
	config Config

	runs      atomic.Uint64
	cacheHits atomic.Uint64
	faults    atomic.Uint64
	searches  atomic.Uint64
	steps     atomic.Uint64
}

// New creates a runner. images and cache may be nil.
func New(images imagestore.Store, cache results.Cache, config Config) *Runner {
	if config.MaxSteps == 0 {
		config.MaxSteps = DefaultMaxSteps
	}
	return &Runner{
		images: images,
		cache:  cache,
		config: config,
	}
}

// Images returns the image store, or nil.
func (r *Runner) Images() imagestore.Store {
	return r.images
}

// Resolve returns the ID and words of the requested program.
func (r *Runner) Resolve(program, image string) (types.ImageID, intcode.Program, error) {
	switch {
	case program != "" && image != "":
		return types.ImageID{}, nil, ErrAmbiguousProgram
	case program != "":
		p, err := loader.Parse(program)
		if err != nil {
			return types.ImageID{}, nil, err
		}
		return types.ComputeImageID(p), p, nil
	case image != "":
		return r.lookupImage(image)
	default:
		return types.ImageID{}, nil, ErrNoProgram
	}
}

func (r *Runner) lookupImage(ref string) (types.ImageID, intcode.Program, error) {
	if r.images == nil {
		return types.ImageID{}, nil, ErrNoImageStore
	}
	if id, err := types.ImageIDFromBase58(ref); err == nil {
		p, err := r.images.Get(id)
		if err == nil {
			return id, p, nil
		}
		if !errors.Is(err, imagestore.ErrImageNotFound) {
			return types.ImageID{}, nil, err
		}
	}
	return r.images.GetByName(ref)
}

func (r *Runner) budget(requested uint64) uint64 {
	if requested == 0 || requested > r.config.MaxSteps {
		return r.config.MaxSteps
	}
	return requested
}

// Run executes a request.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if r.config.MaxInputs > 0 && len(req.Inputs) > r.config.MaxInputs {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyInputs, len(req.Inputs), r.config.MaxInputs)
	}

	id, program, err := r.Resolve(req.Program, req.Image)
	if err != nil {
		return nil, err
	}

	overrides := overridesOf(req)
	maxSteps := r.budget(req.MaxSteps)
	key, err := results.KeyOf(results.Request{
		Image:     id,
		Overrides: overrides,
		Inputs:    req.Inputs,
		MaxSteps:  maxSteps,
		Lenient:   r.config.LenientDestinations,
	})
	if err != nil {
		return nil, err
	}

	r.runs.Add(1)

	if r.cache != nil && !req.Dump {
		if rec, err := r.cache.Get(key); err == nil {
			r.cacheHits.Add(1)
			return newResult(rec, true), nil
		}
	}

	vm := intcode.New(program, intcode.Options{
		Input:               intcode.Values(req.Inputs...),
		MaxSteps:            maxSteps,
		LenientDestinations: r.config.LenientDestinations,
	})
	if err := vm.Reset(overrides); err != nil {
		return nil, err
	}

	state, err := vm.RunContext(ctx)
	if err != nil {
		return nil, err
	}

	rec := &results.Record{
		Image:   id,
		State:   state.String(),
		Output:  vm.Output(),
		Steps:   vm.Steps(),
		FinalIP: vm.IP(),
	}
	rec.Memory0, _ = vm.Read(0)
	if f := vm.Fault(); f != nil {
		rec.Fault = f.Error()
		rec.FaultKind = f.Kind()
		r.faults.Add(1)
	}
	r.steps.Add(rec.Steps)

	if r.cache != nil && state.Terminal() {
		// Caching is best effort; a failed put only costs a rerun.
		_ = r.cache.Put(key, rec)
	}

	res := newResult(rec, false)
	if req.Dump {
		res.Memory = vm.Memory()
	}
	return res, nil
}

// NewSession prepares a VM for interactive use. It has no input source:
// values are supplied with VM.Provide and the VM waits when they run out.
// req.Inputs, if any, are provided up front.
func (r *Runner) NewSession(req Request) (*intcode.VM, types.ImageID, error) {
	id, program, err := r.Resolve(req.Program, req.Image)
	if err != nil {
		return nil, types.ImageID{}, err
	}

	vm := intcode.New(program, intcode.Options{
		MaxSteps:            r.budget(req.MaxSteps),
		LenientDestinations: r.config.LenientDestinations,
	})
	if err := vm.Reset(overridesOf(req)); err != nil {
		return nil, types.ImageID{}, err
	}
	vm.Provide(req.Inputs...)

	r.runs.Add(1)
	return vm, id, nil
}

func overridesOf(req Request) map[int64]int64 {
	overrides := make(map[int64]int64, len(req.Overrides)+2)
	for addr, v := range req.Overrides {
		overrides[addr] = v
	}
	if req.Noun != nil {
		overrides[intcode.NounAddr] = *req.Noun
	}
	if req.Verb != nil {
		overrides[intcode.VerbAddr] = *req.Verb
	}
	return overrides
}

func newResult(rec *results.Record, cached bool) *Result {
	res := &Result{Record: *rec, Cached: cached}
	if n := len(rec.Output); n > 0 {
		last := rec.Output[n-1]
		res.LastOutput = &last
	}
	return res
}

// Search finds the noun/verb pair producing req.Target.
func (r *Runner) Search(ctx context.Context, req SearchRequest) (*search.Result, error) {
	_, program, err := r.Resolve(req.Program, req.Image)
	if err != nil {
		return nil, err
	}

	cfg := search.DefaultConfig()
	if req.Nouns != (search.Range{}) {
		cfg.Nouns = req.Nouns
	}
	if req.Verbs != (search.Range{}) {
		cfg.Verbs = req.Verbs
	}
	cfg.Workers = req.Workers
	if cfg.Workers <= 0 {
		cfg.Workers = r.config.SearchWorkers
	}
	cfg.MaxSteps = r.budget(req.MaxSteps)
	cfg.LenientDestinations = r.config.LenientDestinations

	r.searches.Add(1)
	return search.Find(ctx, program, req.Target, cfg)
}

// Stats returns runner counters.
func (r *Runner) Stats() Stats {
	s := Stats{
		Runs:       r.runs.Load(),
		CacheHits:  r.cacheHits.Load(),
		Faults:     r.faults.Load(),
		Searches:   r.searches.Load(),
		StepsTotal: r.steps.Load(),
	}
	if r.cache != nil {
		s.CachedCount = r.cache.Len()
	}
	return s
}
