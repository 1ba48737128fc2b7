// Package crawl implements the single-worker crawl loop over a channel's
// videos.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
	"github.com/JakeFAU/channel-transcript-crawler/internal/crawlstate"
	"github.com/JakeFAU/channel-transcript-crawler/internal/frontier"
	"github.com/JakeFAU/channel-transcript-crawler/internal/metrics"
	"github.com/JakeFAU/channel-transcript-crawler/internal/pipeline"
)

// Acquirer runs the transcript strategies for one video.
type Acquirer interface {
	Acquire(ctx context.Context, videoID string) (pipeline.Result, bool)
}

// Persister is the slice of storage.Store the loop needs.
type Persister interface {
	Exists(ctx context.Context, channel, videoID string) (bool, error)
	Save(ctx context.Context, channel, videoID, content string) (crawler.Artifact, error)
	RecordAbsent(ctx context.Context, channel, videoID string)
}

// Pacer sleeps between jobs. Wait returns early with an error when ctx ends.
type Pacer interface {
	Wait(ctx context.Context) (time.Duration, error)
}

// Config controls Loop behavior.
type Config struct {
	ChannelHandle string
	ChannelURL    string
	FollowRelated bool
	RelatedLimit  int
	RunID         string
}

// Loop resolves videos one at a time until the frontier drains, the job cap
// is reached, or the run is interrupted.
type Loop struct {
	discoverer crawler.Discoverer
	related    crawler.RelatedFinder
	acquirer   Acquirer
	store      Persister
	pacer      Pacer
	frontier   *frontier.Frontier
	cell       *crawlstate.Cell
	cfg        Config
	logger     *zap.Logger

	mu        sync.Mutex
	summary   crawler.Summary
	jobCancel context.CancelFunc
	aborted   bool
}

// New constructs a Loop. related may be nil when related expansion is off.
func New(
	discoverer crawler.Discoverer,
	related crawler.RelatedFinder,
	acquirer Acquirer,
	store Persister,
	pacer Pacer,
	front *frontier.Frontier,
	cell *crawlstate.Cell,
	cfg Config,
	logger *zap.Logger,
) (*Loop, error) {
	switch {
	case discoverer == nil:
		return nil, errors.New("crawl: discoverer is required")
	case acquirer == nil:
		return nil, errors.New("crawl: acquirer is required")
	case store == nil:
		return nil, errors.New("crawl: store is required")
	case pacer == nil:
		return nil, errors.New("crawl: pacer is required")
	case front == nil:
		return nil, errors.New("crawl: frontier is required")
	case cell == nil:
		return nil, errors.New("crawl: crawl state cell is required")
	case strings.TrimSpace(cfg.ChannelHandle) == "":
		return nil, errors.New("crawl: channel handle is required")
	}
	if cfg.ChannelURL == "" {
		return nil, errors.New("crawl: channel url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		discoverer: discoverer,
		related:    related,
		acquirer:   acquirer,
		store:      store,
		pacer:      pacer,
		frontier:   front,
		cell:       cell,
		cfg:        cfg,
		logger:     logger.With(zap.String("channel", cfg.ChannelHandle), zap.String("run_id", cfg.RunID)),
		summary: crawler.Summary{
			RunID:    cfg.RunID,
			Outcomes: make(map[crawler.Outcome]int),
		},
	}, nil
}

// Frontier exposes the loop's frontier.
func (l *Loop) Frontier() *frontier.Frontier {
	return l.frontier
}

// Run discovers the channel's videos and resolves them in order. ctx is the
// interrupt signal: it is observed between jobs and during the inter-job
// delay, never inside a job.
func (l *Loop) Run(ctx context.Context) crawler.Summary {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	l.mu.Lock()
	l.jobCancel = cancel
	aborted := l.aborted
	l.mu.Unlock()
	if aborted {
		cancel()
	}

	ids, err := l.discoverer.DiscoverVideos(ctx, l.cfg.ChannelURL)
	if err != nil {
		l.logger.Error("discovery failed", zap.String("url", l.cfg.ChannelURL), zap.Error(err))
	}
	accepted := l.seed(ctx, jobCtx, ids)
	l.mu.Lock()
	l.summary.Discovered = accepted
	l.mu.Unlock()
	metrics.ObserveDiscovered(accepted)
	l.logger.Info("discovery complete",
		zap.Int("found", len(ids)),
		zap.Int("queued", l.frontier.Len()),
	)

	for {
		if ctx.Err() != nil {
			l.logger.Info("interrupt observed at job boundary")
			break
		}
		if l.isAborted() {
			break
		}
		videoID, ok := l.frontier.Dequeue()
		metrics.SetFrontierPending(l.frontier.Len())
		if !ok {
			break
		}
		task := crawler.VideoTask{VideoID: videoID, ChannelHandle: l.cfg.ChannelHandle}

		exists, err := l.store.Exists(jobCtx, task.ChannelHandle, task.VideoID)
		if err != nil {
			l.logger.Warn("existence check failed", zap.String("video_id", videoID), zap.Error(err))
		}
		if exists {
			l.logger.Info("transcript already stored; skipping", zap.String("video_id", videoID))
			l.count(crawler.OutcomeSkippedExisting)
			continue
		}

		l.cell.Begin(task)
		outcome := l.Resolve(jobCtx, task)
		if outcome == crawler.OutcomePersisted || jobCtx.Err() == nil {
			l.cell.Clear()
		}

		if l.cfg.FollowRelated && l.related != nil && ctx.Err() == nil {
			l.expand(ctx, jobCtx, videoID)
		}

		if l.frontier.Exhausted() || ctx.Err() != nil || l.isAborted() {
			continue
		}
		if _, err := l.pacer.Wait(ctx); err != nil {
			l.logger.Info("inter-job delay interrupted", zap.Error(err))
			break
		}
	}

	summary := l.Summary()
	l.logger.Info(fmt.Sprintf("Crawling finished. Processed %d videos.", summary.Processed),
		zap.Any("outcomes", summary.Outcomes),
	)
	return summary
}

// Resolve acquires and persists one video's transcript. It never fails the
// crawl: every error is logged and folded into the returned outcome.
func (l *Loop) Resolve(ctx context.Context, task crawler.VideoTask) crawler.Outcome {
	logger := l.logger.With(zap.String("video_id", task.VideoID))
	logger.Info("processing video")

	result, ok := l.acquirer.Acquire(ctx, task.VideoID)
	if !ok && ctx.Err() != nil {
		// Aborted jobs stay in the crawl state cell and are resolved again
		// during shutdown; they are not counted here.
		logger.Warn("job aborted", zap.Error(ctx.Err()))
		return crawler.OutcomeNoTranscript
	}
	if !ok {
		l.store.RecordAbsent(ctx, task.ChannelHandle, task.VideoID)
		logger.Warn("no transcript available", zap.Int("attempts", len(result.Attempts)))
		l.count(crawler.OutcomeNoTranscript)
		return crawler.OutcomeNoTranscript
	}

	artifact, err := l.store.Save(ctx, task.ChannelHandle, task.VideoID, result.Transcript)
	if err != nil && ctx.Err() != nil {
		logger.Warn("job aborted while persisting", zap.Error(err))
		return crawler.OutcomePersistFailed
	}
	if err != nil {
		logger.Error("failed to persist transcript", zap.String("strategy", string(result.Strategy)), zap.Error(err))
		l.count(crawler.OutcomePersistFailed)
		return crawler.OutcomePersistFailed
	}
	logger.Info("transcript saved",
		zap.String("strategy", string(result.Strategy)),
		zap.String("key", artifact.Key),
		zap.String("uri", artifact.URI),
	)
	l.count(crawler.OutcomePersisted)
	return crawler.OutcomePersisted
}

// Abort cancels the in-flight job. Once aborted the loop starts no new job.
func (l *Loop) Abort() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.aborted = true
	if l.jobCancel != nil {
		l.jobCancel()
	}
}

// Summary returns a copy of the counts so far.
func (l *Loop) Summary() crawler.Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.summary
	out.Outcomes = make(map[crawler.Outcome]int, len(l.summary.Outcomes))
	for k, v := range l.summary.Outcomes {
		out.Outcomes[k] = v
	}
	return out
}

func (l *Loop) isAborted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.aborted
}

func (l *Loop) count(outcome crawler.Outcome) {
	l.mu.Lock()
	l.summary.Outcomes[outcome]++
	if outcome != crawler.OutcomeSkippedExisting {
		l.summary.Processed++
	}
	l.mu.Unlock()
	metrics.ObserveVideo(string(outcome))
}

// seed queues ids, marking already persisted ones visited so they never
// count against the job cap. Once ctx ends the remaining ids are queued
// unchecked; the per-dequeue existence check still covers them.
func (l *Loop) seed(ctx, jobCtx context.Context, ids []string) int {
	accepted := 0
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || l.frontier.Visited(id) {
			continue
		}
		if ctx.Err() == nil {
			exists, err := l.store.Exists(jobCtx, l.cfg.ChannelHandle, id)
			if err != nil {
				l.logger.Warn("existence check failed", zap.String("video_id", id), zap.Error(err))
			}
			if exists {
				l.frontier.MarkVisited(id)
				l.logger.Debug("already stored", zap.String("video_id", id))
				l.count(crawler.OutcomeSkippedExisting)
				continue
			}
		}
		accepted += l.frontier.Seed(id)
	}
	metrics.SetFrontierPending(l.frontier.Len())
	return accepted
}

func (l *Loop) expand(ctx, jobCtx context.Context, videoID string) {
	ids, err := l.related.RelatedVideos(jobCtx, videoID)
	if err != nil {
		l.logger.Warn("related video lookup failed", zap.String("video_id", videoID), zap.Error(err))
		return
	}
	if l.cfg.RelatedLimit > 0 && len(ids) > l.cfg.RelatedLimit {
		ids = ids[:l.cfg.RelatedLimit]
	}
	added := l.seed(ctx, jobCtx, ids)
	if added > 0 {
		l.mu.Lock()
		l.summary.Discovered += added
		l.mu.Unlock()
		metrics.ObserveDiscovered(added)
		l.logger.Debug("queued related videos", zap.String("video_id", videoID), zap.Int("added", added))
	}
}
