package workflow

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrPreviewNotFound = errors.New("preview not found")

// PreviewStore holds the transient preview of a selected file. Every
// reference handed out by Allocate must eventually be passed to Release.
type PreviewStore interface {
	Allocate(ctx context.Context, name string, content []byte) (string, error)
	Release(ctx context.Context, id string) error
	Open(ctx context.Context, id string) ([]byte, error)
}

// MemoryPreviewStore keeps previews in process memory.
type MemoryPreviewStore struct {
	mu        sync.Mutex
	items     map[string][]byte
	allocated int
	released  int
}

func NewMemoryPreviewStore() *MemoryPreviewStore {
	return &MemoryPreviewStore{items: make(map[string][]byte)}
}

func (s *MemoryPreviewStore) Allocate(_ context.Context, _ string, content []byte) (string, error) {
	id := uuid.NewString()
	buf := append([]byte(nil), content...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = buf
	s.allocated++

	return id, nil
}

func (s *MemoryPreviewStore) Release(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return ErrPreviewNotFound
	}
	delete(s.items, id)
	s.released++

	return nil
}

func (s *MemoryPreviewStore) Open(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, ok := s.items[id]
	if !ok {
		return nil, ErrPreviewNotFound
	}
	return content, nil
}

// Stats returns how many previews were allocated and released so far, and
// how many are still held.
func (s *MemoryPreviewStore) Stats() (allocated, released, live int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocated, s.released, len(s.items)
}
