package storage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
	pubmemory "github.com/JakeFAU/channel-transcript-crawler/internal/publisher/memory"
	"github.com/JakeFAU/channel-transcript-crawler/internal/storage"
	"github.com/JakeFAU/channel-transcript-crawler/internal/storage/memory"
)

type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

type fakeHasher struct{}

func (fakeHasher) Hash(data []byte) (string, error) {
	return "digest-" + string(rune('0'+len(data)%10)), nil
}

type fakeManifest struct {
	mu        sync.Mutex
	entries   map[string]crawler.ManifestEntry
	lookupErr error
	lookups   int
}

func newFakeManifest() *fakeManifest {
	return &fakeManifest{entries: make(map[string]crawler.ManifestEntry)}
}

func (m *fakeManifest) Lookup(_ context.Context, channelKey, videoKey string) (crawler.ManifestEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.lookupErr != nil {
		return crawler.ManifestEntry{}, false, m.lookupErr
	}
	entry, ok := m.entries[channelKey+"/"+videoKey]
	return entry, ok, nil
}

func (m *fakeManifest) Record(_ context.Context, entry crawler.ManifestEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ChannelKey+"/"+entry.VideoKey] = entry
	return nil
}

func (m *fakeManifest) Close() error { return nil }

func (m *fakeManifest) get(channelKey, videoKey string) (crawler.ManifestEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[channelKey+"/"+videoKey]
	return entry, ok
}

func newStore(t *testing.T, clock crawler.Clock, opts ...storage.Option) (*storage.Store, *memory.BlobStore) {
	t.Helper()
	blobs := memory.NewBlobStore()
	store, err := storage.New(storage.Config{RunID: "run-1", Topic: "transcripts"}, blobs, clock, fakeHasher{}, nil, opts...)
	require.NoError(t, err)
	return store, blobs
}

func TestExistsIgnoresTimestamps(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: 37 * time.Hour}
	store, blobs := newStore(t, clock)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "@example", "dQw4w9WgXcQ")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = store.Save(ctx, "@example", "dQw4w9WgXcQ", "never gonna give you up")
	require.NoError(t, err)
	require.Equal(t, 1, blobs.Len())

	exists, err = store.Exists(ctx, "@example", "dQw4w9WgXcQ")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = store.Exists(ctx, "@other", "dQw4w9WgXcQ")
	require.NoError(t, err)
	require.False(t, exists)

	exists, err = store.Exists(ctx, "@example", "dQw4w9WgXc")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSaveNeverOverwrites(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store, blobs := newStore(t, clock)
	ctx := context.Background()

	first, err := store.Save(ctx, "@example", "abc", "one")
	require.NoError(t, err)
	second, err := store.Save(ctx, "@example", "abc", "two")
	require.NoError(t, err)

	require.NotEqual(t, first.Key, second.Key)
	require.Equal(t, 2, blobs.Len())
	assert.Equal(t, "_example_Video_abc_2024-01-01T00-00-00-000Z.txt", first.Key)
	assert.Equal(t, "_example_Video_abc_2024-01-01T00-00-00-000Z-1.txt", second.Key)

	data, err := blobs.Get(ctx, first.Key)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}

func TestSaveRejectsEmptyContent(t *testing.T) {
	t.Parallel()

	store, blobs := newStore(t, &stepClock{now: time.Now()})
	_, err := store.Save(context.Background(), "@example", "abc", "  \n")
	require.ErrorIs(t, err, crawler.ErrNoTranscript)
	require.Zero(t, blobs.Len())
}

func TestSaveRecordsManifestAndPublishes(t *testing.T) {
	t.Parallel()

	manifest := newFakeManifest()
	pub := pubmemory.New()
	store, _ := newStore(t, &stepClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		storage.WithManifest(manifest), storage.WithPublisher(pub))

	content := "The quick brown fox jumps over the lazy dog while the farmer watches from the field."
	artifact, err := store.Save(context.Background(), "@example", "abc", content)
	require.NoError(t, err)

	entry, ok := manifest.get("_example", "Video_abc")
	require.True(t, ok)
	assert.Equal(t, crawler.OutcomePersisted, entry.Status)
	assert.Equal(t, artifact.Key, entry.ArtifactKey)
	assert.Equal(t, "run-1", entry.RunID)
	assert.Equal(t, artifact.Language, entry.Language)

	msgs := pub.MessagesFor("transcripts")
	require.Len(t, msgs, 1)
	note, ok := msgs[0].Payload.(storage.Notification)
	require.True(t, ok)
	assert.Equal(t, "abc", note.VideoID)
	assert.Equal(t, artifact.Key, note.Key)
}

func TestExistsUsesManifestBeforeScan(t *testing.T) {
	t.Parallel()

	manifest := newFakeManifest()
	require.NoError(t, manifest.Record(context.Background(), crawler.ManifestEntry{
		ChannelKey: "_example", VideoKey: "Video_abc", Status: crawler.OutcomePersisted,
	}))
	store, blobs := newStore(t, &stepClock{now: time.Now()}, storage.WithManifest(manifest))

	exists, err := store.Exists(context.Background(), "@example", "abc")
	require.NoError(t, err)
	require.True(t, exists)
	require.Zero(t, blobs.Len())
}

func TestExistsWritesBackScanHit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	plain, blobs := newStore(t, clock)
	_, err := plain.Save(ctx, "@example", "abc", "text")
	require.NoError(t, err)

	manifest := newFakeManifest()
	store, err := storage.New(storage.Config{}, blobs, clock, fakeHasher{}, nil, storage.WithManifest(manifest))
	require.NoError(t, err)

	exists, err := store.Exists(ctx, "@example", "abc")
	require.NoError(t, err)
	require.True(t, exists)

	entry, ok := manifest.get("_example", "Video_abc")
	require.True(t, ok)
	assert.Equal(t, crawler.OutcomePersisted, entry.Status)
}

func TestExistsFallsBackWhenManifestFails(t *testing.T) {
	t.Parallel()

	manifest := newFakeManifest()
	manifest.lookupErr = errors.New("database is locked")
	store, _ := newStore(t, &stepClock{now: time.Now()}, storage.WithManifest(manifest))

	exists, err := store.Exists(context.Background(), "@example", "abc")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRecordAbsentKeepsExistsFalse(t *testing.T) {
	t.Parallel()

	manifest := newFakeManifest()
	store, blobs := newStore(t, &stepClock{now: time.Now()}, storage.WithManifest(manifest))
	ctx := context.Background()

	store.RecordAbsent(ctx, "@example", "abc")
	entry, ok := manifest.get("_example", "Video_abc")
	require.True(t, ok)
	assert.Equal(t, crawler.OutcomeNoTranscript, entry.Status)

	exists, err := store.Exists(ctx, "@example", "abc")
	require.NoError(t, err)
	require.False(t, exists)
	require.Zero(t, blobs.Len())
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Now()}
	_, err := storage.New(storage.Config{}, nil, clock, fakeHasher{}, nil)
	require.Error(t, err)
	_, err = storage.New(storage.Config{}, memory.NewBlobStore(), nil, fakeHasher{}, nil)
	require.Error(t, err)
	_, err = storage.New(storage.Config{}, memory.NewBlobStore(), clock, nil, nil)
	require.Error(t, err)
}
