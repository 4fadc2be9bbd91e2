// Package search finds the noun/verb pair that makes a program produce a
// target value.
//
// By convention a program's "noun" lives at address 1 and its "verb" at
// address 2. Both are patched before execution and the result is read from
// address 0 once the program halts. Candidates are evaluated in parallel,
// one VM per worker, with Reset between candidates so no state leaks from
// one evaluation into the next. The reported pair is always the first match
// in (noun, verb) order regardless of worker scheduling.
package search

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/fortiblox/intcode/pkg/intcode"
	"golang.org/x/sync/errgroup"
)

// Errors.
var (
	ErrNotFound     = errors.New("no noun/verb pair produces the target")
	ErrInvalidRange = errors.New("invalid search range")
	ErrNotHalted    = errors.New("program did not halt")
)

// Range is a half-open interval [Min, Max).
type Range struct {
	Min int64
	Max int64
}

// Len returns the number of values in the range.
func (r Range) Len() int64 {
	if r.Max <= r.Min {
		return 0
	}
	return r.Max - r.Min
}

// Config configures a search.
type Config struct {
	// Nouns and Verbs bound the candidate values. Default [0, 100).
	Nouns Range
	Verbs Range

	// Workers is the number of concurrent evaluations. 0 means GOMAXPROCS.
	Workers int

	// MaxSteps bounds each evaluation. 0 is unlimited.
	MaxSteps uint64

	// LenientDestinations is passed through to each VM.
	LenientDestinations bool
}

// DefaultConfig returns the conventional search space.
func DefaultConfig() Config {
	return Config{
		Nouns: Range{0, 100},
		Verbs: Range{0, 100},
	}
}

// Result is a successful search.
type Result struct {
	Noun    int64 `json:"noun"`
	Verb    int64 `json:"verb"`
	Answer  int64 `json:"answer"`  // 100*noun + verb
	Memory0 int64 `json:"memory0"` // final value at address 0
	Tried   int64 `json:"tried"`   // candidates evaluated
}

// Answer combines a noun and verb into the conventional single number.
func Answer(noun, verb int64) int64 {
	return 100*noun + verb
}

// Overrides returns the memory patch for a noun/verb pair.
func Overrides(noun, verb int64) map[int64]int64 {
	return map[int64]int64{
		intcode.NounAddr: noun,
		intcode.VerbAddr: verb,
	}
}

// Evaluate runs program with the given noun and verb and returns the final
// value at address 0. A fault or a program that stops waiting for input is
// an error.
func Evaluate(program intcode.Program, noun, verb int64, opts intcode.Options) (int64, error) {
	if opts.Input == nil {
		opts.Input = intcode.Values()
	}
	vm := intcode.New(program, opts)
	return evaluate(context.Background(), vm, noun, verb)
}

// evaluate returns ctx's error when it is done before the candidate stops.
func evaluate(ctx context.Context, vm *intcode.VM, noun, verb int64) (int64, error) {
	if err := vm.Reset(Overrides(noun, verb)); err != nil {
		return 0, err
	}
	state, err := vm.RunContext(ctx)
	if err != nil {
		return 0, err
	}
	switch state {
	case intcode.StateHalted:
		return vm.Read(0)
	case intcode.StateFaulted:
		return 0, vm.Err()
	default:
		return 0, fmt.Errorf("%w: %v", ErrNotHalted, state)
	}
}

// Find searches for a noun/verb pair for which the program halts with
// target at address 0. Candidates that fault are skipped.
func Find(ctx context.Context, program intcode.Program, target int64, cfg Config) (*Result, error) {
	if cfg.Nouns == (Range{}) && cfg.Verbs == (Range{}) {
		def := DefaultConfig()
		cfg.Nouns, cfg.Verbs = def.Nouns, def.Verbs
	}
	if cfg.Nouns.Len() == 0 || cfg.Verbs.Len() == 0 {
		return nil, fmt.Errorf("%w: nouns %v verbs %v", ErrInvalidRange, cfg.Nouns, cfg.Verbs)
	}
	if int64(len(program)) <= intcode.VerbAddr {
		return nil, fmt.Errorf("%w: program has %d words", intcode.ErrOutOfBounds, len(program))
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	opts := intcode.Options{
		MaxSteps:            cfg.MaxSteps,
		LenientDestinations: cfg.LenientDestinations,
	}

	// best holds the smallest matching noun offset; rows above it are skipped.
	var best atomic.Int64
	best.Store(cfg.Nouns.Len())
	var tried atomic.Int64

	rows := make([]*Result, cfg.Nouns.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := int64(0); i < cfg.Nouns.Len(); i++ {
		i := i
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if i > best.Load() {
				return nil
			}
			opts := opts
			opts.Input = intcode.Values()
			vm := intcode.New(program, opts)
			noun := cfg.Nouns.Min + i

			for verb := cfg.Verbs.Min; verb < cfg.Verbs.Max; verb++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				tried.Add(1)
				v, err := evaluate(gctx, vm, noun, verb)
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				if err != nil || v != target {
					continue
				}
				rows[i] = &Result{
					Noun:    noun,
					Verb:    verb,
					Answer:  Answer(noun, verb),
					Memory0: v,
				}
				for {
					cur := best.Load()
					if i >= cur || best.CompareAndSwap(cur, i) {
						break
					}
				}
				return nil
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, r := range rows {
		if r != nil {
			r.Tried = tried.Load()
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: target %d", ErrNotFound, target)
}
