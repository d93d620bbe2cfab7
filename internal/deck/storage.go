package deck

import (
	"context"
	"log/slog"
	"sync"

	"github.com/boxos/boxcore/internal/router"
	"github.com/boxos/boxcore/pkg/schema"
)

// Store is the file backend behind the storage deck.
type Store interface {
	Open(ctx context.Context, name string) (uint64, error)
	Close(ctx context.Context, handle uint64) error
	Read(ctx context.Context, handle, size uint64) ([]byte, error)
	Write(ctx context.Context, handle uint64, data []byte) (uint64, error)
	Stat(ctx context.Context, name string) (uint64, error)
}

// Storage dispatches the file operations (10-19) to a Store. The tagged
// filesystem operations (15-19) answer not-implemented.
type Storage struct {
	rt     *router.Router
	store  Store
	logger *slog.Logger
}

// NewStorage creates the storage deck backend.
func NewStorage(rt *router.Router, store Store, logger *slog.Logger) *Storage {
	return &Storage{rt: rt, store: store, logger: logger}
}

// Deck builds the storage processing stage around this backend.
func (s *Storage) Deck(opts ...Option) *Deck {
	return New("storage", schema.DeckStorage,
		schema.StorageRangeMin, schema.StorageRangeMax,
		s.rt, s.logger, s.Process, opts...)
}

// Process dispatches one storage operation.
func (s *Storage) Process(ctx context.Context, e *router.Entry) error {
	if s.store == nil {
		return schema.NewError(schema.ErrNotImplemented, "no storage backend")
	}
	switch e.Event.Type {
	case schema.OpFileOpen:
		name, err := schema.DecodeFileName(&e.Event.Payload)
		if err != nil {
			return err
		}
		h, err := s.store.Open(ctx, name)
		if err != nil {
			return err
		}
		return s.rt.Complete(ctx, e, schema.DeckStorage, h, schema.ResultValue, 8)

	case schema.OpFileClose:
		h, err := schema.DecodeFileHandle(&e.Event.Payload)
		if err != nil {
			return err
		}
		if err := s.store.Close(ctx, h); err != nil {
			return err
		}
		return s.rt.Complete(ctx, e, schema.DeckStorage, 0, schema.ResultNone, 0)

	case schema.OpFileRead:
		h, size, err := schema.DecodeFileRead(&e.Event.Payload)
		if err != nil {
			return err
		}
		data, err := s.store.Read(ctx, h, size)
		if err != nil {
			return err
		}
		handle := s.rt.Buffers().Put(data)
		return s.rt.Complete(ctx, e, schema.DeckStorage, handle, schema.ResultBuffer, uint64(len(data)))

	case schema.OpFileWrite:
		h, data, err := schema.DecodeFileWrite(&e.Event.Payload)
		if err != nil {
			return err
		}
		n, err := s.store.Write(ctx, h, data)
		if err != nil {
			return err
		}
		return s.rt.Complete(ctx, e, schema.DeckStorage, n, schema.ResultValue, 8)

	case schema.OpFileStat:
		name, err := schema.DecodeFileName(&e.Event.Payload)
		if err != nil {
			return err
		}
		size, err := s.store.Stat(ctx, name)
		if err != nil {
			return err
		}
		return s.rt.Complete(ctx, e, schema.DeckStorage, size, schema.ResultValue, 8)

	case schema.OpFileCreateTagged, schema.OpFileQuery,
		schema.OpFileTagAdd, schema.OpFileTagRemove, schema.OpFileTagGet:
		return schema.NewError(schema.ErrNotImplemented,
			"tagged filesystem operations are not supported")

	default:
		return schema.NewErrorf(schema.ErrNotImplemented,
			"unsupported storage operation %d", e.Event.Type)
	}
}

// MemStore is an in-memory Store used by the demo binary and tests.
type MemStore struct {
	mu     sync.Mutex
	files  map[string][]byte
	open   map[uint64]string
	cursor map[uint64]uint64
	next   uint64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		files:  make(map[string][]byte),
		open:   make(map[uint64]string),
		cursor: make(map[uint64]uint64),
	}
}

// Open opens a file by name, creating it when absent, and returns a handle.
func (m *MemStore) Open(_ context.Context, name string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; !ok {
		m.files[name] = nil
	}
	m.next++
	m.open[m.next] = name
	m.cursor[m.next] = 0
	return m.next, nil
}

// Close releases a handle.
func (m *MemStore) Close(_ context.Context, handle uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.open[handle]; !ok {
		return schema.NewErrorf(schema.ErrNotFound, "unknown file handle %d", handle)
	}
	delete(m.open, handle)
	delete(m.cursor, handle)
	return nil
}

// Read returns up to size bytes from the handle's cursor.
func (m *MemStore) Read(_ context.Context, handle, size uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.open[handle]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrNotFound, "unknown file handle %d", handle)
	}
	data := m.files[name]
	pos := m.cursor[handle]
	if pos >= uint64(len(data)) {
		return nil, nil
	}
	end := pos + size
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	out := make([]byte, end-pos)
	copy(out, data[pos:end])
	m.cursor[handle] = end
	return out, nil
}

// Write appends at the handle's cursor, extending the file as needed.
func (m *MemStore) Write(_ context.Context, handle uint64, data []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.open[handle]
	if !ok {
		return 0, schema.NewErrorf(schema.ErrNotFound, "unknown file handle %d", handle)
	}
	pos := m.cursor[handle]
	file := m.files[name]
	if need := pos + uint64(len(data)); need > uint64(len(file)) {
		grown := make([]byte, need)
		copy(grown, file)
		file = grown
	}
	copy(file[pos:], data)
	m.files[name] = file
	m.cursor[handle] = pos + uint64(len(data))
	return uint64(len(data)), nil
}

// Stat returns a file's size by name.
func (m *MemStore) Stat(_ context.Context, name string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	if !ok {
		return 0, schema.NewErrorf(schema.ErrNotFound, "file %q not found", name)
	}
	return uint64(len(data)), nil
}
