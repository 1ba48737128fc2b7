package crawler

import (
	"context"
	"time"
)

// Discoverer enumerates the video ids of a channel in page order.
type Discoverer interface {
	DiscoverVideos(ctx context.Context, channelURL string) ([]string, error)
}

// RelatedFinder lists video ids recommended alongside a video.
type RelatedFinder interface {
	RelatedVideos(ctx context.Context, videoID string) ([]string, error)
}

// TranscriptFetcher is the structured transcript service.
type TranscriptFetcher interface {
	FetchTranscript(ctx context.Context, videoID string) (string, error)
}

// UITranscriber extracts a transcript by driving the rendered watch page.
type UITranscriber interface {
	TranscriptFromUI(ctx context.Context, videoID string) (string, error)
}

// Snapshotter captures the rendered HTML of a watch page.
type Snapshotter interface {
	Snapshot(ctx context.Context, videoID string) (string, error)
}

// FallbackExtractor is the out-of-process last-resort extraction tool.
type FallbackExtractor interface {
	Extract(ctx context.Context, request FallbackRequest) (string, error)
}

// BlobStore writes and lists raw artifacts. List returns keys in listing
// order.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Manifest maps sanitized (channel, video) pairs to completion records.
type Manifest interface {
	Lookup(ctx context.Context, channelKey, videoKey string) (ManifestEntry, bool, error)
	Record(ctx context.Context, entry ManifestEntry) error
	Close() error
}

// Publisher pushes artifact notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run ids.
type IDGenerator interface {
	NewID() (string, error)
}
