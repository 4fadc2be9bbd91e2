package results

import (
	"errors"
	"reflect"
	"testing"

	"github.com/fortiblox/intcode/internal/types"
)

func TestKeyOf(t *testing.T) {
	img := types.ComputeImageID([]int64{1, 0, 0, 0, 99})

	a, err := KeyOf(Request{Image: img, Overrides: map[int64]int64{1: 12, 2: 2}})
	if err != nil {
		t.Fatalf("KeyOf() failed: %v", err)
	}

	// Map construction order does not matter.
	m := make(map[int64]int64)
	m[2] = 2
	m[1] = 12
	b, _ := KeyOf(Request{Image: img, Overrides: m})
	if a != b {
		t.Error("KeyOf() differs for equal overrides")
	}

	tests := []struct {
		name string
		req  Request
	}{
		{"other verb", Request{Image: img, Overrides: map[int64]int64{1: 12, 2: 3}}},
		{"inputs", Request{Image: img, Overrides: map[int64]int64{1: 12, 2: 2}, Inputs: []int64{1}}},
		{"max steps", Request{Image: img, Overrides: map[int64]int64{1: 12, 2: 2}, MaxSteps: 10}},
		{"lenient", Request{Image: img, Overrides: map[int64]int64{1: 12, 2: 2}, Lenient: true}},
		{"image", Request{Image: types.ImageID{1}, Overrides: map[int64]int64{1: 12, 2: 2}}},
	}
	for _, tt := range tests {
		k, err := KeyOf(tt.req)
		if err != nil {
			t.Fatalf("%s: KeyOf() failed: %v", tt.name, err)
		}
		if k == a {
			t.Errorf("%s: KeyOf() collides with base request", tt.name)
		}
	}

	if len(a.String()) != 64 {
		t.Errorf("Key.String() length = %d, want 64", len(a.String()))
	}
}

func TestRecordRoundTrip(t *testing.T) {
	rec := &Record{
		Image:     types.ComputeImageID([]int64{3, 0, 4, 0, 99}),
		State:     "faulted",
		Fault:     "unknown opcode at ip 4",
		FaultKind: "UnknownOpcode",
		Output:    []int64{7, -1},
		Memory0:   3,
		Steps:     2,
		FinalIP:   4,
	}
	data, err := MarshalRecord(rec)
	if err != nil {
		t.Fatalf("MarshalRecord() failed: %v", err)
	}
	got, err := UnmarshalRecord(data)
	if err != nil {
		t.Fatalf("UnmarshalRecord() failed: %v", err)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Errorf("round trip = %+v, want %+v", got, rec)
	}

	if _, err := UnmarshalRecord([]byte{0xff}); err == nil {
		t.Error("UnmarshalRecord(garbage) succeeded")
	}
}

func caches(t *testing.T) map[string]Cache {
	t.Helper()

	cfg := DefaultBadgerConfig(t.TempDir())
	bc, err := OpenBadger(cfg)
	if err != nil {
		t.Fatalf("OpenBadger() failed: %v", err)
	}
	mem := DefaultBadgerConfig("")
	mem.InMemory = true
	bm, err := OpenBadger(mem)
	if err != nil {
		t.Fatalf("OpenBadger(in-memory) failed: %v", err)
	}
	t.Cleanup(func() {
		bc.Close()
		bm.Close()
	})

	return map[string]Cache{
		"badger":          bc,
		"badger-inmemory": bm,
		"memory":          NewMemoryCache(),
	}
}

func TestCache(t *testing.T) {
	key, _ := KeyOf(Request{Image: types.ImageID{7}})
	rec := &Record{Image: types.ImageID{7}, State: "halted", Output: []int64{42}, Memory0: 1, Steps: 3, FinalIP: 8}

	for name, c := range caches(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := c.Get(key); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(empty) = %v, want ErrNotFound", err)
			}
			if err := c.Put(key, rec); err != nil {
				t.Fatalf("Put() failed: %v", err)
			}
			if err := c.Put(key, rec); err != nil {
				t.Fatalf("Put(again) failed: %v", err)
			}
			if c.Len() != 1 {
				t.Errorf("Len() = %d, want 1", c.Len())
			}

			got, err := c.Get(key)
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			if !reflect.DeepEqual(got, rec) {
				t.Errorf("Get() = %+v, want %+v", got, rec)
			}

			// Returned records are independent copies.
			got.Output[0] = 0
			again, _ := c.Get(key)
			if again.Output[0] != 42 {
				t.Error("cached record was mutated through Get result")
			}

			c.Close()
			if _, err := c.Get(key); !errors.Is(err, ErrClosed) {
				t.Errorf("Get(closed) = %v, want ErrClosed", err)
			}
			if err := c.Put(key, rec); !errors.Is(err, ErrClosed) {
				t.Errorf("Put(closed) = %v, want ErrClosed", err)
			}
		})
	}
}

func TestBadgerCacheReopen(t *testing.T) {
	dir := t.TempDir()
	key, _ := KeyOf(Request{Image: types.ImageID{9}, Inputs: []int64{5}})

	c, err := OpenBadger(DefaultBadgerConfig(dir))
	if err != nil {
		t.Fatalf("OpenBadger() failed: %v", err)
	}
	if err := c.Put(key, &Record{State: "halted", Memory0: 5}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	c.Close()

	c, err = OpenBadger(DefaultBadgerConfig(dir))
	if err != nil {
		t.Fatalf("OpenBadger(reopen) failed: %v", err)
	}
	defer c.Close()

	if c.Len() != 1 {
		t.Errorf("Len() after reopen = %d, want 1", c.Len())
	}
	rec, err := c.Get(key)
	if err != nil {
		t.Fatalf("Get() after reopen failed: %v", err)
	}
	if rec.Memory0 != 5 {
		t.Errorf("Memory0 = %d, want 5", rec.Memory0)
	}
}
