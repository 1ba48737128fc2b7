// Package consolidate merges every persisted transcript into one file.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
)

// DefaultOutput is written in the working directory when no output is set.
const DefaultOutput = "consolidated_transcripts.jsonl"

// Config controls where the merged output goes.
type Config struct {
	Output string `mapstructure:"output"`
}

// Result describes one consolidation pass.
type Result struct {
	Output    string
	Artifacts int
	Skipped   int
	Bytes     int
}

// Consolidator reads artifacts from a blob store.
type Consolidator struct {
	blobs  crawler.BlobStore
	output string
	logger *zap.Logger
}

// New constructs a Consolidator.
func New(cfg Config, blobs crawler.BlobStore, logger *zap.Logger) (*Consolidator, error) {
	if blobs == nil {
		return nil, errors.New("consolidate: blob store is required")
	}
	output := strings.TrimSpace(cfg.Output)
	if output == "" {
		output = DefaultOutput
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consolidator{blobs: blobs, output: output, logger: logger}, nil
}

// Output returns the destination path.
func (c *Consolidator) Output() string {
	return c.output
}

// Consolidate concatenates every artifact's raw content, in listing order,
// separated by a newline. Unreadable artifacts are logged and skipped. The
// output replaces any previous file atomically.
func (c *Consolidator) Consolidate(ctx context.Context) (Result, error) {
	res := Result{Output: c.output}
	keys, err := c.blobs.List(ctx, "")
	if err != nil {
		return res, fmt.Errorf("list artifacts: %w", err)
	}

	own := filepath.Base(c.output)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == own {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("consolidate: %w", err)
		}
		data, err := c.blobs.Get(ctx, key)
		if err != nil {
			c.logger.Warn("skipping unreadable artifact", zap.String("key", key), zap.Error(err))
			res.Skipped++
			continue
		}
		parts = append(parts, string(data))
		res.Artifacts++
	}

	merged := strings.Join(parts, "\n")
	if err := writeAtomic(c.output, []byte(merged)); err != nil {
		return res, err
	}
	res.Bytes = len(merged)
	return res, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".consolidate-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
