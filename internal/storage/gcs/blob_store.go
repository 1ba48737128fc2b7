// Package gcs provides the artifact store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
)

// Config captures the bucket and key prefix for artifacts.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// Put uploads data under key and returns a gs:// URI. The write is
// conditioned on the object not existing; a taken key yields
// crawler.ErrArtifactExists.
func (s *BlobStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("key is required")
	}
	name := s.prefix + key
	writer := s.client.Bucket(s.bucket).Object(name).
		If(storage.Conditions{DoesNotExist: true}).
		NewWriter(ctx)
	writer.ContentType = "text/plain; charset=utf-8"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		return "", fmt.Errorf("write object: %w", errors.Join(err, closeErr))
	}
	if err := writer.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return "", fmt.Errorf("%s: %w", key, crawler.ErrArtifactExists)
		}
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path.Clean(name)), nil
}

// List returns keys under the store prefix that start with prefix, in the
// lexical order GCS lists them.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix + prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		key := strings.TrimPrefix(attrs.Name, s.prefix)
		if key == "" || strings.Contains(key, "/") {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Get downloads one artifact.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.prefix + key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	data, err := io.ReadAll(reader)
	closeErr := reader.Close()
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close reader %s: %w", key, closeErr)
	}
	return data, nil
}
