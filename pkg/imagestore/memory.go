package imagestore

import (
	"bytes"
	"sort"
	"sync"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
)

// MemoryStore is an in-memory Store for tests and ephemeral nodes.
type MemoryStore struct {
	mu       sync.RWMutex
	payloads map[types.ImageID][]byte
	metas    map[types.ImageID]*ImageMeta
	names    map[string]types.ImageID
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payloads: make(map[types.ImageID][]byte),
		metas:    make(map[types.ImageID]*ImageMeta),
		names:    make(map[string]types.ImageID),
	}
}

// Put stores a program and returns its ID.
func (m *MemoryStore) Put(name string, program intcode.Program) (types.ImageID, error) {
	if len(program) == 0 {
		return types.ImageID{}, ErrEmptyProgram
	}
	id := types.ComputeImageID(program)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.ImageID{}, ErrClosed
	}

	meta, ok := m.metas[id]
	if !ok {
		payload := encodePayload(program)
		meta = newMeta(id, "", program, payload)
		m.payloads[id] = payload
		m.metas[id] = meta
	}
	if name == "" || name == meta.Name {
		return id, nil
	}

	if meta.Name != "" {
		delete(m.names, meta.Name)
	}
	if prev, ok := m.names[name]; ok && prev != id {
		m.metas[prev].Name = ""
	}
	meta.Name = name
	m.names[name] = id
	return id, nil
}

// Get retrieves a program by ID.
func (m *MemoryStore) Get(id types.ImageID) (intcode.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	payload, ok := m.payloads[id]
	if !ok {
		return nil, ErrImageNotFound
	}
	return decodePayload(payload)
}

// GetByName resolves a name and retrieves the program.
func (m *MemoryStore) GetByName(name string) (types.ImageID, intcode.Program, error) {
	m.mu.RLock()
	id, ok := m.names[name]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return types.ImageID{}, nil, ErrClosed
	}
	if !ok {
		return types.ImageID{}, nil, ErrImageNotFound
	}
	program, err := m.Get(id)
	return id, program, err
}

// Meta returns the metadata of an image.
func (m *MemoryStore) Meta(id types.ImageID) (*ImageMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	meta, ok := m.metas[id]
	if !ok {
		return nil, ErrImageNotFound
	}
	cp := *meta
	return &cp, nil
}

// Has checks if an image exists.
func (m *MemoryStore) Has(id types.ImageID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.payloads[id]
	return ok && !m.closed
}

// Delete removes an image and its name.
func (m *MemoryStore) Delete(id types.ImageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	meta, ok := m.metas[id]
	if !ok {
		return ErrImageNotFound
	}
	if meta.Name != "" {
		delete(m.names, meta.Name)
	}
	delete(m.metas, id)
	delete(m.payloads, id)
	return nil
}

// List returns the metadata of every image in ID order.
func (m *MemoryStore) List() ([]ImageMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]ImageMeta, 0, len(m.metas))
	for _, meta := range m.metas {
		out = append(out, *meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out, nil
}

// Stats returns store statistics.
func (m *MemoryStore) Stats() (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return &Stats{
		ImageCount: uint64(len(m.payloads)),
		NameCount:  uint64(len(m.names)),
	}, nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
