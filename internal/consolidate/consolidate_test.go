package consolidate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-transcript-crawler/internal/storage/local"
	"github.com/JakeFAU/channel-transcript-crawler/internal/storage/memory"
)

func TestConsolidateJoinsArtifactsInListingOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	_, err := blobs.Put(ctx, "b.txt", []byte("second"))
	require.NoError(t, err)
	_, err = blobs.Put(ctx, "a.txt", []byte("first"))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "nested", "merged.jsonl")
	c, err := New(Config{Output: out}, blobs, nil)
	require.NoError(t, err)

	res, err := c.Consolidate(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Artifacts)
	require.Equal(t, out, res.Output)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "first\nsecond", string(data))
	require.Equal(t, len(data), res.Bytes)
}

func TestConsolidateReplacesPreviousOutput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	out := filepath.Join(dir, "merged.jsonl")
	require.NoError(t, os.WriteFile(out, []byte("stale"), 0o644))

	blobs := memory.NewBlobStore()
	_, err := blobs.Put(ctx, "only.txt", []byte("fresh"))
	require.NoError(t, err)

	c, err := New(Config{Output: out}, blobs, nil)
	require.NoError(t, err)
	_, err = c.Consolidate(ctx)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "fresh", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file left behind")
}

func TestConsolidateEmptyStoreWritesEmptyFile(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "merged.jsonl")
	c, err := New(Config{Output: out}, memory.NewBlobStore(), nil)
	require.NoError(t, err)

	res, err := c.Consolidate(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Artifacts)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestConsolidateSkipsOwnOutputInArtifactDir(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	blobs, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	_, err = blobs.Put(ctx, "a.txt", []byte("alpha"))
	require.NoError(t, err)

	c, err := New(Config{Output: filepath.Join(dir, "merged.jsonl")}, blobs, nil)
	require.NoError(t, err)
	_, err = c.Consolidate(ctx)
	require.NoError(t, err)

	res, err := c.Consolidate(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Artifacts)
	data, err := os.ReadFile(filepath.Join(dir, "merged.jsonl"))
	require.NoError(t, err)
	require.Equal(t, "alpha", string(data))
}

type flakyBlobs struct {
	*memory.BlobStore
	bad string
}

func (f flakyBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	if key == f.bad {
		return nil, errors.New("read failed")
	}
	return f.BlobStore.Get(ctx, key)
}

func TestConsolidateSkipsUnreadableArtifacts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := flakyBlobs{BlobStore: memory.NewBlobStore(), bad: "b.txt"}
	for _, key := range []string{"a.txt", "b.txt", "c.txt"} {
		_, err := blobs.Put(ctx, key, []byte(key))
		require.NoError(t, err)
	}

	out := filepath.Join(t.TempDir(), "merged.jsonl")
	c, err := New(Config{Output: out}, blobs, nil)
	require.NoError(t, err)

	res, err := c.Consolidate(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Artifacts)
	require.Equal(t, 1, res.Skipped)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "a.txt\nc.txt", string(data))
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	c, err := New(Config{}, memory.NewBlobStore(), nil)
	require.NoError(t, err)
	require.Equal(t, DefaultOutput, c.Output())

	_, err = New(Config{}, nil, nil)
	require.Error(t, err)
}
