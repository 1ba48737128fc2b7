// Package memory keeps artifacts in process memory, for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
)

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data: make(map[string][]byte),
	}
}

// Put stores a copy of data. Existing keys are never replaced.
func (s *BlobStore) Put(_ context.Context, key string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return "", fmt.Errorf("%s: %w", key, crawler.ErrArtifactExists)
	}
	s.data[key] = append([]byte(nil), data...)
	return "memory://" + key, nil
}

// List returns the sorted keys starting with prefix.
func (s *BlobStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Get returns a copy of the stored artifact.
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("artifact %s not found", key)
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of stored artifacts.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
