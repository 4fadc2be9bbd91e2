package results

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage.
var (
	// prefixRecord is the prefix for run records.
	// Key format: prefixRecord + key (32 bytes)
	prefixRecord = []byte{0x01}

	// prefixMeta is the prefix for metadata.
	prefixMeta = []byte{0x02}

	// metaCount is the key for storing the record count.
	metaCount = append(prefixMeta, []byte("count")...)
)

// BadgerConfig contains configuration for BadgerCache.
type BadgerConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// NumCompactors is the number of compaction workers.
	NumCompactors int

	// ValueLogFileSize is the size of each value log file.
	ValueLogFileSize int64

	// Logger is an optional logger. Set to nil to disable logging.
	Logger badger.Logger
}

// DefaultBadgerConfig returns default configuration.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:             path,
		NumCompactors:    2,
		ValueLogFileSize: 64 << 20, // 64MB
	}
}

// BadgerCache is a BadgerDB-backed Cache.
type BadgerCache struct {
	db *badger.DB

	// count is cached in memory
	count atomic.Uint64

	// mu serializes writes so the count stays exact
	mu sync.Mutex

	closed atomic.Bool
}

// OpenBadger opens or creates a BadgerCache.
func OpenBadger(cfg BadgerConfig) (*BadgerCache, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)
	if cfg.NumCompactors > 0 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}
	if cfg.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	c := &BadgerCache{db: db}
	if err := c.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return c, nil
}

func (c *BadgerCache) loadMetadata() error {
	return c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaCount)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) >= 8 {
				c.count.Store(binary.LittleEndian.Uint64(val))
			}
			return nil
		})
	})
}

func recordKey(key Key) []byte {
	k := make([]byte, 1+KeySize)
	k[0] = prefixRecord[0]
	copy(k[1:], key[:])
	return k
}

// Get returns the record stored under key.
func (c *BadgerCache) Get(key Key) (*Record, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	var rec *Record
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(key))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var err error
			rec, err = UnmarshalRecord(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put stores rec under key, replacing any previous record.
func (c *BadgerCache) Put(key Key, rec *Record) error {
	if c.closed.Load() {
		return ErrClosed
	}

	data, err := MarshalRecord(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	added := false
	err = c.db.Update(func(txn *badger.Txn) error {
		k := recordKey(key)
		if _, err := txn.Get(k); err == badger.ErrKeyNotFound {
			added = true
		} else if err != nil {
			return err
		}
		if err := txn.Set(k, data); err != nil {
			return err
		}
		if !added {
			return nil
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], c.count.Load()+1)
		return txn.Set(metaCount, buf[:])
	})
	if err != nil {
		return err
	}
	if added {
		c.count.Add(1)
	}
	return nil
}

// Len returns the number of cached records.
func (c *BadgerCache) Len() uint64 {
	return c.count.Load()
}

// Close closes the database.
func (c *BadgerCache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.db.Close()
}

var _ Cache = (*BadgerCache)(nil)
