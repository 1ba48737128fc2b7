package crawler

import (
	"strings"
	"time"
)

// VideoTask identifies one unit of crawl work. Within a run the VideoID alone
// is the identity; ChannelHandle scopes persistence.
type VideoTask struct {
	VideoID       string `json:"video_id"`
	ChannelHandle string `json:"channel"`
}

// Empty reports whether the task carries no video id.
func (t VideoTask) Empty() bool {
	return strings.TrimSpace(t.VideoID) == ""
}

// Artifact is one persisted transcript.
type Artifact struct {
	ChannelHandle string    `json:"channel"`
	VideoID       string    `json:"video_id"`
	Key           string    `json:"key"`
	URI           string    `json:"uri"`
	Content       string    `json:"-"`
	Digest        string    `json:"digest"`
	Language      string    `json:"language,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// StrategyKind tags a transcript acquisition strategy.
type StrategyKind string

// Acquisition strategies in their fixed priority order.
const (
	StrategyStructured StrategyKind = "structured"
	StrategyRendered   StrategyKind = "rendered"
	StrategyExternal   StrategyKind = "external"
)

// Attempt records the outcome of a single strategy for one video. Attempts
// drive fallback and telemetry only; they are never persisted.
type Attempt struct {
	Strategy StrategyKind
	Err      error
	Duration time.Duration
}

// Succeeded reports whether the strategy produced a transcript.
func (a Attempt) Succeeded() bool {
	return a.Err == nil
}

// Outcome is the terminal result of resolving one video.
type Outcome string

// Outcome values recorded per video.
const (
	OutcomePersisted       Outcome = "persisted"
	OutcomeNoTranscript    Outcome = "no_transcript"
	OutcomeSkippedExisting Outcome = "skipped_existing"
	OutcomePersistFailed   Outcome = "persist_failed"
)

// ManifestEntry is the completion record kept for a sanitized
// (channel, video) pair.
type ManifestEntry struct {
	ChannelKey  string
	VideoKey    string
	Status      Outcome
	ArtifactKey string
	Language    string
	Digest      string
	RunID       string
	UpdatedAt   time.Time
}

// FallbackRequest is the input handed to the external extraction tool. HTML
// is empty unless a page snapshot was captured.
type FallbackRequest struct {
	VideoID string
	HTML    string
}

// Summary aggregates the per-outcome counts of one crawl run.
type Summary struct {
	RunID      string
	Discovered int
	Processed  int
	Outcomes   map[Outcome]int
}
