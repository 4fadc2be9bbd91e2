package runner

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/intcode/loader"
	"github.com/fortiblox/intcode/pkg/results"
	"github.com/fortiblox/intcode/pkg/search"
)

// compareToEight prints 999, 1000 or 1001 for input below, equal to or above 8.
const compareToEight = "3,21,1008,21,8,20,1005,20,22,107,8,21,20,1006,20,31," +
	"1106,0,36,98,0,0,1002,21,125,20,4,20,1105,1,46,104," +
	"999,1105,1,46,1101,1000,1,20,4,20,1105,1,46,98,99"

func newTestRunner(t *testing.T) (*Runner, *imagestore.MemoryStore, *results.MemoryCache) {
	t.Helper()
	images := imagestore.NewMemoryStore()
	cache := results.NewMemoryCache()
	return New(images, cache, DefaultConfig()), images, cache
}

func int64p(v int64) *int64 { return &v }

func TestRunInline(t *testing.T) {
	r, _, _ := newTestRunner(t)

	tests := []struct {
		input int64
		want  int64
	}{
		{7, 999},
		{8, 1000},
		{9, 1001},
	}
	for _, tt := range tests {
		res, err := r.Run(context.Background(), Request{Program: compareToEight, Inputs: []int64{tt.input}})
		if err != nil {
			t.Fatalf("Run(%d) failed: %v", tt.input, err)
		}
		if res.State != "halted" {
			t.Errorf("Run(%d) state = %s, want halted", tt.input, res.State)
		}
		if res.LastOutput == nil || *res.LastOutput != tt.want {
			t.Errorf("Run(%d) last output = %v, want %d", tt.input, res.LastOutput, tt.want)
		}
	}
}

func TestRunNounVerb(t *testing.T) {
	r, _, _ := newTestRunner(t)

	res, err := r.Run(context.Background(), Request{
		Program: "1,0,0,0,99",
		Noun:    int64p(4),
		Verb:    int64p(4),
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if res.Memory0 != 198 {
		t.Errorf("Memory0 = %d, want 198", res.Memory0)
	}
	// The add and the halt both count as executed instructions.
	if res.Steps != 2 || res.FinalIP != 4 {
		t.Errorf("Steps, FinalIP = %d, %d, want 2, 4", res.Steps, res.FinalIP)
	}
}

func TestRunFault(t *testing.T) {
	r, _, _ := newTestRunner(t)

	res, err := r.Run(context.Background(), Request{Program: "3,0,99"})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if res.State != "faulted" || res.FaultKind != "InputExhausted" {
		t.Errorf("Run() = %s/%s, want faulted/InputExhausted", res.State, res.FaultKind)
	}
	if r.Stats().Faults != 1 {
		t.Errorf("Stats().Faults = %d, want 1", r.Stats().Faults)
	}

	res, err = r.Run(context.Background(), Request{Program: "1105,1,0", MaxSteps: 50})
	if err != nil {
		t.Fatalf("Run(loop) failed: %v", err)
	}
	if res.FaultKind != "StepLimitExceeded" || res.Steps != 50 {
		t.Errorf("Run(loop) = %s after %d steps", res.FaultKind, res.Steps)
	}
}

func TestRunCache(t *testing.T) {
	r, _, cache := newTestRunner(t)
	req := Request{Program: compareToEight, Inputs: []int64{8}}

	first, err := r.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if first.Cached {
		t.Error("first run reported cached")
	}
	second, err := r.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run(again) failed: %v", err)
	}
	if !second.Cached {
		t.Error("second run not cached")
	}
	if !reflect.DeepEqual(first.Record, second.Record) {
		t.Errorf("cached record = %+v, want %+v", second.Record, first.Record)
	}
	if cache.Len() != 1 {
		t.Errorf("cache.Len() = %d, want 1", cache.Len())
	}

	// Dump bypasses the cache and returns memory.
	dumped, err := r.Run(context.Background(), Request{Program: "1,0,0,0,99", Dump: true})
	if err != nil {
		t.Fatalf("Run(dump) failed: %v", err)
	}
	if dumped.Cached || !reflect.DeepEqual(dumped.Memory, []int64{2, 0, 0, 0, 99}) {
		t.Errorf("Run(dump) = cached %v memory %v", dumped.Cached, dumped.Memory)
	}

	stats := r.Stats()
	if stats.Runs != 3 || stats.CacheHits != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestRunImage(t *testing.T) {
	r, images, _ := newTestRunner(t)

	program, _ := loader.Parse("1,9,10,3,2,3,11,0,99,30,40,50")
	id, err := images.Put("sample", program)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	for _, ref := range []string{id.String(), "sample"} {
		res, err := r.Run(context.Background(), Request{Image: ref})
		if err != nil {
			t.Fatalf("Run(%s) failed: %v", ref, err)
		}
		if res.Memory0 != 3500 {
			t.Errorf("Run(%s) memory0 = %d, want 3500", ref, res.Memory0)
		}
		if res.Image != id {
			t.Errorf("Run(%s) image = %v, want %v", ref, res.Image, id)
		}
	}

	if _, err := r.Run(context.Background(), Request{Image: "missing"}); !errors.Is(err, imagestore.ErrImageNotFound) {
		t.Errorf("Run(missing) = %v, want ErrImageNotFound", err)
	}
}

func TestRunErrors(t *testing.T) {
	r, _, _ := newTestRunner(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"none", Request{}, ErrNoProgram},
		{"both", Request{Program: "99", Image: "x"}, ErrAmbiguousProgram},
		{"malformed", Request{Program: "1,x"}, loader.ErrMalformedProgram},
		{"override out of range", Request{Program: "99", Overrides: map[int64]int64{5: 1}}, intcode.ErrOutOfBounds},
		{"too many inputs", Request{Program: "99", Inputs: make([]int64, 5000)}, ErrTooManyInputs},
	}
	for _, tt := range tests {
		if _, err := r.Run(ctx, tt.req); !errors.Is(err, tt.want) {
			t.Errorf("%s: Run() = %v, want %v", tt.name, err, tt.want)
		}
	}

	bare := New(nil, nil, Config{})
	if _, err := bare.Run(ctx, Request{Image: "x"}); !errors.Is(err, ErrNoImageStore) {
		t.Errorf("Run(no store) = %v, want ErrNoImageStore", err)
	}
	if _, err := bare.Run(ctx, Request{Program: "99"}); err != nil {
		t.Errorf("Run(no cache) failed: %v", err)
	}
}

func TestRunCanceled(t *testing.T) {
	r, _, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, Request{Program: "1105,1,0"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run(canceled) = %v, want context.Canceled", err)
	}
}

func TestSearch(t *testing.T) {
	r, _, _ := newTestRunner(t)

	res, err := r.Search(context.Background(), SearchRequest{Program: "1102,0,0,0,99", Target: 12})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if res.Noun != 1 || res.Verb != 12 || res.Answer != 112 {
		t.Errorf("Search() = %+v", res)
	}

	_, err = r.Search(context.Background(), SearchRequest{
		Program: "1101,0,0,0,99",
		Target:  500,
		Nouns:   search.Range{Min: 0, Max: 10},
	})
	if !errors.Is(err, search.ErrNotFound) {
		t.Errorf("Search(out of range) = %v, want ErrNotFound", err)
	}
	if r.Stats().Searches != 2 {
		t.Errorf("Stats().Searches = %d, want 2", r.Stats().Searches)
	}
}

func TestNewSession(t *testing.T) {
	r, _, _ := newTestRunner(t)

	vm, _, err := r.NewSession(Request{Program: compareToEight})
	if err != nil {
		t.Fatalf("NewSession() failed: %v", err)
	}
	if state := vm.Run(); state != intcode.StateWaitingForInput {
		t.Fatalf("Run() = %v, want waiting_for_input", state)
	}
	vm.Provide(8)
	if state := vm.Run(); state != intcode.StateHalted {
		t.Fatalf("Run() after Provide = %v, want halted", state)
	}
	if out, _ := vm.LastOutput(); out != 1000 {
		t.Errorf("LastOutput() = %d, want 1000", out)
	}

	// Inputs given up front are consumed first.
	vm, _, err = r.NewSession(Request{Program: compareToEight, Inputs: []int64{9}})
	if err != nil {
		t.Fatalf("NewSession(inputs) failed: %v", err)
	}
	if state := vm.Run(); state != intcode.StateHalted {
		t.Errorf("Run() = %v, want halted", state)
	}

	if _, _, err := r.NewSession(Request{Program: "99", Overrides: map[int64]int64{3: 1}}); !errors.Is(err, intcode.ErrOutOfBounds) {
		t.Errorf("NewSession(bad override) = %v, want ErrOutOfBounds", err)
	}
}
