package router

import (
	"sync"

	"github.com/boxos/boxcore/pkg/schema"
)

// BufferStore holds result buffers the kernel side owns on behalf of callers.
// A completion with kind=buffer carries a handle into this store; the caller
// must release the handle exactly once.
type BufferStore struct {
	mu   sync.Mutex
	bufs map[uint64][]byte
	next uint64
}

// NewBufferStore creates an empty buffer store.
func NewBufferStore() *BufferStore {
	return &BufferStore{bufs: make(map[uint64][]byte)}
}

// Put registers a buffer and returns its handle. Handles are never zero.
func (s *BufferStore) Put(data []byte) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.bufs[s.next] = data
	return s.next
}

// Get returns the buffer for a handle without releasing it.
func (s *BufferStore) Get(handle uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.bufs[handle]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrNotFound, "unknown buffer handle %d", handle)
	}
	return data, nil
}

// Release frees the buffer for a handle. Releasing an unknown or already
// released handle is a not-found error, which is how double-frees surface.
func (s *BufferStore) Release(handle uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bufs[handle]; !ok {
		return schema.NewErrorf(schema.ErrNotFound, "unknown buffer handle %d", handle)
	}
	delete(s.bufs, handle)
	return nil
}

// Len returns the number of live buffers.
func (s *BufferStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bufs)
}
