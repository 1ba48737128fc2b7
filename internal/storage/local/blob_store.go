// Package local implements the artifact store on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the directory holding one file per artifact.
	BaseDir string `mapstructure:"dir"`
}

// BlobStore writes artifacts as flat files under BaseDir. The directory is
// created on the first Put, not at construction.
type BlobStore struct {
	baseDir string

	mu    sync.Mutex
	ready bool
}

// New creates a local filesystem store without touching the disk.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}
	return &BlobStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// Dir returns the base directory.
func (s *BlobStore) Dir() string {
	return s.baseDir
}

// Put writes data to a new file and returns a file:// URI. An existing file
// is never replaced; crawler.ErrArtifactExists is returned instead.
func (s *BlobStore) Put(_ context.Context, key string, data []byte) (string, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := s.ensureDir(); err != nil {
		return "", err
	}

	// #nosec G304 -- path is confined to baseDir by resolve.
	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%s: %w", key, crawler.ErrArtifactExists)
		}
		return "", fmt.Errorf("create file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		closeErr := f.Close()
		removeErr := os.Remove(fullPath)
		return "", fmt.Errorf("write file: %w", errors.Join(err, closeErr, removeErr))
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close file: %w", err)
	}
	return "file://" + fullPath, nil
}

// List returns the names of regular files starting with prefix, sorted. A
// missing directory yields no keys.
func (s *BlobStore) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		keys = append(keys, entry.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// Get reads one artifact.
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is confined to baseDir by resolve.
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func (s *BlobStore) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("key is required")
	}
	fullPath := filepath.Clean(filepath.Join(s.baseDir, key))
	if filepath.Dir(fullPath) != s.baseDir {
		return "", errors.New("path traversal detected")
	}
	return fullPath, nil
}

// ensureDir creates the base directory once. A failed attempt is retried on
// the next Put.
func (s *BlobStore) ensureDir() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if err := os.MkdirAll(s.baseDir, 0o750); err != nil {
		return fmt.Errorf("create base directory: %w", err)
	}
	s.ready = true
	return nil
}
