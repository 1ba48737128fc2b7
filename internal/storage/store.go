package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
	"github.com/JakeFAU/channel-transcript-crawler/internal/metrics"
)

const (
	maxKeyCollisions   = 16
	languageSampleSize = 4096
	minLanguageScore   = 0.5
)

// Config controls key layout and notifications.
type Config struct {
	Extension string
	RunID     string
	Topic     string
}

// Option customizes a Store.
type Option func(*Store)

// WithManifest adds an O(1) completion index in front of the key scan.
func WithManifest(m crawler.Manifest) Option {
	return func(s *Store) {
		s.manifest = m
	}
}

// WithPublisher announces every saved artifact on the configured topic.
func WithPublisher(p crawler.Publisher) Option {
	return func(s *Store) {
		s.publisher = p
	}
}

// Store is the persistence layer used by the crawl loop. Saves are append
// only: a second save for the same pair creates a second artifact.
type Store struct {
	cfg       Config
	blobs     crawler.BlobStore
	manifest  crawler.Manifest
	publisher crawler.Publisher
	clock     crawler.Clock
	hasher    crawler.Hasher
	logger    *zap.Logger
}

// New wires a Store over blobs.
func New(cfg Config, blobs crawler.BlobStore, clock crawler.Clock, hasher crawler.Hasher, logger *zap.Logger, opts ...Option) (*Store, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Extension == "" {
		cfg.Extension = DefaultExtension
	}
	s := &Store{
		cfg:    cfg,
		blobs:  blobs,
		clock:  clock,
		hasher: hasher,
		logger: logger.Named("storage"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Blobs exposes the underlying artifact store, e.g. for consolidation.
func (s *Store) Blobs() crawler.BlobStore {
	return s.blobs
}

// Exists reports whether any artifact was ever saved for the pair,
// regardless of when.
func (s *Store) Exists(ctx context.Context, channel, videoID string) (bool, error) {
	channelKey, videoKey := Sanitize(channel), Sanitize(VideoName(videoID))
	if s.manifest != nil {
		entry, ok, err := s.manifest.Lookup(ctx, channelKey, videoKey)
		switch {
		case err != nil:
			s.logger.Warn("manifest lookup failed, falling back to scan",
				zap.String("video_id", videoID), zap.Error(err))
		case ok && entry.Status == crawler.OutcomePersisted:
			return true, nil
		}
	}

	prefix := KeyPrefix(channel, videoID)
	keys, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return false, fmt.Errorf("list artifacts for %s: %w", videoID, err)
	}
	for _, key := range keys {
		if !MatchesPair(key, prefix) {
			continue
		}
		s.record(ctx, crawler.ManifestEntry{
			ChannelKey:  channelKey,
			VideoKey:    videoKey,
			Status:      crawler.OutcomePersisted,
			ArtifactKey: key,
			UpdatedAt:   s.clock.Now(),
		})
		return true, nil
	}
	return false, nil
}

// Save writes content as a new artifact. It never overwrites: a key taken by
// an earlier save gets a numeric suffix instead.
func (s *Store) Save(ctx context.Context, channel, videoID, content string) (crawler.Artifact, error) {
	if strings.TrimSpace(content) == "" {
		return crawler.Artifact{}, crawler.ErrNoTranscript
	}
	createdAt := s.clock.Now().UTC()
	data := []byte(content)

	var (
		key string
		uri string
		err error
	)
	for attempt := 0; attempt <= maxKeyCollisions; attempt++ {
		key = ArtifactKey(channel, videoID, createdAt, s.cfg.Extension, attempt)
		uri, err = s.blobs.Put(ctx, key, data)
		if !errors.Is(err, crawler.ErrArtifactExists) {
			break
		}
	}
	if err != nil {
		return crawler.Artifact{}, fmt.Errorf("put artifact %s: %w", key, err)
	}

	digest, err := s.hasher.Hash(data)
	if err != nil {
		s.logger.Warn("hash artifact", zap.String("key", key), zap.Error(err))
	}
	artifact := crawler.Artifact{
		ChannelHandle: channel,
		VideoID:       videoID,
		Key:           key,
		URI:           uri,
		Content:       content,
		Digest:        digest,
		Language:      detectLanguage(content),
		CreatedAt:     createdAt,
	}
	metrics.ObserveArtifact(len(data))
	s.logger.Info("artifact saved",
		zap.String("video_id", videoID),
		zap.String("channel", channel),
		zap.String("key", key),
		zap.Int("bytes", len(data)),
	)

	s.record(ctx, crawler.ManifestEntry{
		ChannelKey:  Sanitize(channel),
		VideoKey:    Sanitize(VideoName(videoID)),
		Status:      crawler.OutcomePersisted,
		ArtifactKey: key,
		Language:    artifact.Language,
		Digest:      digest,
		RunID:       s.cfg.RunID,
		UpdatedAt:   createdAt,
	})
	s.publish(ctx, artifact)
	return artifact, nil
}

// RecordAbsent notes that every strategy failed for the pair. It never
// creates an artifact and does not make Exists true.
func (s *Store) RecordAbsent(ctx context.Context, channel, videoID string) {
	channelKey, videoKey := Sanitize(channel), Sanitize(VideoName(videoID))
	if s.manifest != nil {
		if entry, ok, err := s.manifest.Lookup(ctx, channelKey, videoKey); err == nil && ok &&
			entry.Status == crawler.OutcomePersisted {
			return
		}
	}
	s.record(ctx, crawler.ManifestEntry{
		ChannelKey: channelKey,
		VideoKey:   videoKey,
		Status:     crawler.OutcomeNoTranscript,
		RunID:      s.cfg.RunID,
		UpdatedAt:  s.clock.Now(),
	})
}

func (s *Store) record(ctx context.Context, entry crawler.ManifestEntry) {
	if s.manifest == nil {
		return
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	if err := s.manifest.Record(ctx, entry); err != nil {
		s.logger.Warn("manifest record failed",
			zap.String("video_key", entry.VideoKey),
			zap.String("status", string(entry.Status)),
			zap.Error(err),
		)
	}
}

// Notification is the payload published for each saved artifact.
type Notification struct {
	Channel   string    `json:"channel"`
	VideoID   string    `json:"video_id"`
	Key       string    `json:"key"`
	URI       string    `json:"uri"`
	Digest    string    `json:"digest"`
	Language  string    `json:"language,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	RunID     string    `json:"run_id"`
}

// Attributes exposes the routing fields as message attributes.
func (n Notification) Attributes() map[string]string {
	return map[string]string{"channel": n.Channel, "video_id": n.VideoID}
}

func (s *Store) publish(ctx context.Context, artifact crawler.Artifact) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	msg := Notification{
		Channel:   artifact.ChannelHandle,
		VideoID:   artifact.VideoID,
		Key:       artifact.Key,
		URI:       artifact.URI,
		Digest:    artifact.Digest,
		Language:  artifact.Language,
		CreatedAt: artifact.CreatedAt,
		RunID:     s.cfg.RunID,
	}
	id, err := s.publisher.Publish(ctx, s.cfg.Topic, msg)
	if err != nil {
		s.logger.Warn("publish artifact notification",
			zap.String("video_id", artifact.VideoID), zap.Error(err))
		return
	}
	s.logger.Debug("artifact notification published",
		zap.String("video_id", artifact.VideoID), zap.String("message_id", id))
}

func detectLanguage(content string) string {
	sample := content
	if len(sample) > languageSampleSize {
		sample = sample[:languageSampleSize]
	}
	info := whatlanggo.Detect(sample)
	if info.Confidence < minLanguageScore {
		return ""
	}
	return info.Lang.Iso6391()
}
