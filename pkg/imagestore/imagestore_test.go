package imagestore

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
)

func openBolt(t *testing.T) *BoltStore {
	t.Helper()
	store, err := Open(DefaultConfig(filepath.Join(t.TempDir(), "images.db")))
	if err != nil {
		t.Fatalf("failed to open imagestore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"bolt":   openBolt(t),
		"memory": NewMemoryStore(),
	}
}

func TestStore(t *testing.T) {
	program := intcode.Program{1, 9, 10, 3, 2, 3, 11, 0, 99, 30, 40, 50}

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			id, err := store.Put("sample", program)
			if err != nil {
				t.Fatalf("Put() failed: %v", err)
			}
			if id != types.ComputeImageID(program) {
				t.Errorf("Put() id = %v, want content hash", id)
			}
			if !store.Has(id) {
				t.Error("Has() = false after Put")
			}

			got, err := store.Get(id)
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			if !reflect.DeepEqual(got, program) {
				t.Errorf("Get() = %v, want %v", got, program)
			}

			byName, got, err := store.GetByName("sample")
			if err != nil {
				t.Fatalf("GetByName() failed: %v", err)
			}
			if byName != id || !reflect.DeepEqual(got, program) {
				t.Errorf("GetByName() = %v, %v", byName, got)
			}

			meta, err := store.Meta(id)
			if err != nil {
				t.Fatalf("Meta() failed: %v", err)
			}
			if meta.Name != "sample" || meta.Words != len(program) || meta.Size == 0 {
				t.Errorf("Meta() = %+v", meta)
			}
			if meta.CreatedAt.IsZero() {
				t.Error("Meta().CreatedAt is zero")
			}

			// Idempotent put.
			again, err := store.Put("", program)
			if err != nil || again != id {
				t.Errorf("Put(again) = %v, %v", again, err)
			}
			list, _ := store.List()
			if len(list) != 1 {
				t.Errorf("List() len = %d, want 1", len(list))
			}

			stats, err := store.Stats()
			if err != nil {
				t.Fatalf("Stats() failed: %v", err)
			}
			if stats.ImageCount != 1 || stats.NameCount != 1 {
				t.Errorf("Stats() = %+v", stats)
			}

			if err := store.Delete(id); err != nil {
				t.Fatalf("Delete() failed: %v", err)
			}
			if store.Has(id) {
				t.Error("Has() = true after Delete")
			}
			if _, err := store.Get(id); !errors.Is(err, ErrImageNotFound) {
				t.Errorf("Get(deleted) = %v, want ErrImageNotFound", err)
			}
			if _, _, err := store.GetByName("sample"); !errors.Is(err, ErrImageNotFound) {
				t.Errorf("GetByName(deleted) = %v, want ErrImageNotFound", err)
			}
			if err := store.Delete(id); !errors.Is(err, ErrImageNotFound) {
				t.Errorf("Delete(deleted) = %v, want ErrImageNotFound", err)
			}
		})
	}
}

func TestStoreNames(t *testing.T) {
	a := intcode.Program{1, 0, 0, 0, 99}
	b := intcode.Program{2, 0, 0, 0, 99}

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			idA, _ := store.Put("day2", a)
			idB, _ := store.Put("day2", b)

			id, _, err := store.GetByName("day2")
			if err != nil || id != idB {
				t.Errorf("GetByName(day2) = %v, %v, want %v", id, err, idB)
			}

			metaA, _ := store.Meta(idA)
			if metaA.Name != "" {
				t.Errorf("moved name still on old image: %q", metaA.Name)
			}

			// Renaming releases the old name.
			if _, err := store.Put("other", b); err != nil {
				t.Fatalf("Put(rename) failed: %v", err)
			}
			if _, _, err := store.GetByName("day2"); !errors.Is(err, ErrImageNotFound) {
				t.Errorf("GetByName(day2) after rename = %v, want ErrImageNotFound", err)
			}
			metaB, _ := store.Meta(idB)
			if metaB.Name != "other" {
				t.Errorf("Meta().Name = %q, want other", metaB.Name)
			}
		})
	}
}

func TestStoreErrors(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Put("x", nil); !errors.Is(err, ErrEmptyProgram) {
				t.Errorf("Put(empty) = %v, want ErrEmptyProgram", err)
			}
			if _, err := store.Get(types.ImageID{1}); !errors.Is(err, ErrImageNotFound) {
				t.Errorf("Get(missing) = %v, want ErrImageNotFound", err)
			}
			if _, err := store.Meta(types.ImageID{1}); !errors.Is(err, ErrImageNotFound) {
				t.Errorf("Meta(missing) = %v, want ErrImageNotFound", err)
			}

			store.Close()
			if _, err := store.Put("x", intcode.Program{99}); !errors.Is(err, ErrClosed) {
				t.Errorf("Put(closed) = %v, want ErrClosed", err)
			}
			if _, err := store.List(); !errors.Is(err, ErrClosed) {
				t.Errorf("List(closed) = %v, want ErrClosed", err)
			}
		})
	}
}

func TestBoltStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images.db")
	program := intcode.Program{3, 0, 4, 0, 99}

	store, err := Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	id, err := store.Put("echo", program)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	store.Close()

	config := DefaultConfig(path)
	config.ReadOnly = true
	store, err = Open(config)
	if err != nil {
		t.Fatalf("Open(read-only) failed: %v", err)
	}
	defer store.Close()

	got, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get() after reopen failed: %v", err)
	}
	if !reflect.DeepEqual(got, program) {
		t.Errorf("Get() = %v, want %v", got, program)
	}
	stats, _ := store.Stats()
	if stats.DatabaseSize == 0 {
		t.Error("Stats().DatabaseSize = 0")
	}
}
