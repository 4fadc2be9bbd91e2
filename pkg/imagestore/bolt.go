package imagestore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
	bolt "go.etcd.io/bbolt"
)

// Bucket names for BoltDB.
var (
	// bucketImages stores compressed program text keyed by image ID.
	bucketImages = []byte("images")

	// bucketImageMeta stores gob-encoded ImageMeta keyed by image ID.
	bucketImageMeta = []byte("image_meta")

	// bucketNames maps names to image IDs.
	bucketNames = []byte("names")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db     *bolt.DB
	config Config

	mu     sync.RWMutex
	closed bool
}

// Open creates or opens an imagestore at the configured path.
func Open(config Config) (*BoltStore, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  config.Timeout,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}

	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &BoltStore{db: db, config: config}

	if !config.ReadOnly {
		if err := store.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketImages, bucketImageMeta, bucketNames} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put stores a program and returns its ID. Storing the same program twice
// is a no-op apart from the name, which is (re)assigned when non-empty.
func (s *BoltStore) Put(name string, program intcode.Program) (types.ImageID, error) {
	if err := s.checkOpen(); err != nil {
		return types.ImageID{}, err
	}
	if len(program) == 0 {
		return types.ImageID{}, ErrEmptyProgram
	}

	id := types.ComputeImageID(program)
	payload := encodePayload(program)

	err := s.db.Update(func(tx *bolt.Tx) error {
		images := tx.Bucket(bucketImages)
		metas := tx.Bucket(bucketImageMeta)
		names := tx.Bucket(bucketNames)

		meta, err := getMeta(metas, id)
		switch {
		case err == ErrImageNotFound:
			meta = newMeta(id, name, program, payload)
			if err := images.Put(id.Bytes(), payload); err != nil {
				return err
			}
		case err != nil:
			return err
		case name == "" || name == meta.Name:
			return nil
		default:
			if meta.Name != "" {
				if err := names.Delete([]byte(meta.Name)); err != nil {
					return err
				}
			}
			meta.Name = name
		}

		if name != "" {
			// A name moved from another image leaves that image unnamed.
			if prev := names.Get([]byte(name)); prev != nil && !bytes.Equal(prev, id.Bytes()) {
				prevID, _ := types.ImageIDFromBytes(prev)
				if pm, err := getMeta(metas, prevID); err == nil {
					pm.Name = ""
					if err := putMeta(metas, pm); err != nil {
						return err
					}
				}
			}
			if err := names.Put([]byte(name), id.Bytes()); err != nil {
				return err
			}
		}
		return putMeta(metas, meta)
	})
	if err != nil {
		return types.ImageID{}, err
	}
	return id, nil
}

// Get retrieves a program by ID.
func (s *BoltStore) Get(id types.ImageID) (intcode.Program, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var payload []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketImages).Get(id.Bytes())
		if data == nil {
			return ErrImageNotFound
		}
		payload = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decodePayload(payload)
}

// GetByName resolves a name and retrieves the program.
func (s *BoltStore) GetByName(name string) (types.ImageID, intcode.Program, error) {
	if err := s.checkOpen(); err != nil {
		return types.ImageID{}, nil, err
	}

	var id types.ImageID
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketNames).Get([]byte(name))
		if v == nil {
			return ErrImageNotFound
		}
		var err error
		id, err = types.ImageIDFromBytes(v)
		return err
	})
	if err != nil {
		return types.ImageID{}, nil, err
	}

	program, err := s.Get(id)
	return id, program, err
}

// Meta returns the metadata of an image.
func (s *BoltStore) Meta(id types.ImageID) (*ImageMeta, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var meta *ImageMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		meta, err = getMeta(tx.Bucket(bucketImageMeta), id)
		return err
	})
	return meta, err
}

// Has checks if an image exists.
func (s *BoltStore) Has(id types.ImageID) bool {
	if s.checkOpen() != nil {
		return false
	}

	exists := false
	s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketImages).Get(id.Bytes()) != nil
		return nil
	})
	return exists
}

// Delete removes an image and its name.
func (s *BoltStore) Delete(id types.ImageID) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		metas := tx.Bucket(bucketImageMeta)
		meta, err := getMeta(metas, id)
		if err != nil {
			return err
		}
		if meta.Name != "" {
			if err := tx.Bucket(bucketNames).Delete([]byte(meta.Name)); err != nil {
				return err
			}
		}
		if err := metas.Delete(id.Bytes()); err != nil {
			return err
		}
		return tx.Bucket(bucketImages).Delete(id.Bytes())
	})
}

// List returns the metadata of every image in ID order.
func (s *BoltStore) List() ([]ImageMeta, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out []ImageMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketImageMeta).ForEach(func(k, v []byte) error {
			var meta ImageMeta
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&meta); err != nil {
				return fmt.Errorf("decode image meta: %w", err)
			}
			out = append(out, meta)
			return nil
		})
	})
	return out, err
}

// Stats returns store statistics.
func (s *BoltStore) Stats() (*Stats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	stats := &Stats{}
	err := s.db.View(func(tx *bolt.Tx) error {
		stats.ImageCount = uint64(tx.Bucket(bucketImages).Stats().KeyN)
		stats.NameCount = uint64(tx.Bucket(bucketNames).Stats().KeyN)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if info, err := os.Stat(s.config.Path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// Sync forces a sync of the database to disk.
func (s *BoltStore) Sync() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Sync()
}

// Close shuts down the store.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.db.Close()
}

func getMeta(b *bolt.Bucket, id types.ImageID) (*ImageMeta, error) {
	data := b.Get(id.Bytes())
	if data == nil {
		return nil, ErrImageNotFound
	}
	var meta ImageMeta
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode image meta: %w", err)
	}
	return &meta, nil
}

func putMeta(b *bolt.Bucket, meta *ImageMeta) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(meta); err != nil {
		return fmt.Errorf("encode image meta: %w", err)
	}
	return b.Put(meta.ID.Bytes(), buf.Bytes())
}

// Verify interface compliance.
var _ Store = (*BoltStore)(nil)
