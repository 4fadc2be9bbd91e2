package results

import "sync"

// MemoryCache is an in-memory Cache, used by tests and when no data
// directory is configured.
type MemoryCache struct {
	mu      sync.RWMutex
	records map[Key][]byte
	closed  bool
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{records: make(map[Key][]byte)}
}

// Get returns the record stored under key.
func (m *MemoryCache) Get(key Key) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	data, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return UnmarshalRecord(data)
}

// Put stores rec under key. Records are stored encoded so callers cannot
// alias cached state.
func (m *MemoryCache) Put(key Key, rec *Record) error {
	data, err := MarshalRecord(rec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records[key] = data
	return nil
}

// Len returns the number of cached records.
func (m *MemoryCache) Len() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.records))
}

// Close marks the cache closed.
func (m *MemoryCache) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

var _ Cache = (*MemoryCache)(nil)
