package content

import (
	"errors"
	"fmt"
	"sync"
)

var ErrNotFound = errors.New("content not found")

// MemoryStore keeps blobs in a map. It backs tests and throwaway
// repositories.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[Digest][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[Digest][]byte),
	}
}

func (s *MemoryStore) Write(data []byte) (Digest, error) {
	d := Hash(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[d]; !ok {
		s.blobs[d] = append([]byte{}, data...)
	}
	return d, nil
}

func (s *MemoryStore) Read(d Digest) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[d]
	if !ok {
		return nil, fmt.Errorf("reading %s: %w", d.Short(12), ErrNotFound)
	}
	return append([]byte{}, data...), nil
}

func (s *MemoryStore) Has(d Digest) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[d]
	return ok, nil
}

// Len returns the number of distinct blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
