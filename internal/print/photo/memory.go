package photo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"printflow/pkg/platform/sentinel"
)

// MemorySource serves photos from a map; tests and local runs use it in
// place of the bucket.
type MemorySource struct {
	mu     sync.RWMutex
	photos map[string][]byte
}

func NewMemorySource() *MemorySource {
	return &MemorySource{photos: make(map[string][]byte)}
}

func (s *MemorySource) Put(location string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.photos[location] = data
}

func (s *MemorySource) Fetch(ctx context.Context, location string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.photos[location]
	if !ok {
		return nil, fmt.Errorf("photo %s: %w", location, sentinel.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
