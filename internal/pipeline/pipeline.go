// Package pipeline acquires a transcript for one video by trying an ordered
// list of strategies until one yields text.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
	"github.com/JakeFAU/channel-transcript-crawler/internal/metrics"
)

// Strategy is one tagged acquisition method.
type Strategy struct {
	Kind crawler.StrategyKind
	Run  func(ctx context.Context, videoID string) (string, error)
}

// Structured wraps the structured transcript service.
func Structured(fetcher crawler.TranscriptFetcher) Strategy {
	return Strategy{Kind: crawler.StrategyStructured, Run: fetcher.FetchTranscript}
}

// Rendered wraps the browser-driven transcript panel.
func Rendered(ui crawler.UITranscriber) Strategy {
	return Strategy{Kind: crawler.StrategyRendered, Run: ui.TranscriptFromUI}
}

// External wraps the out-of-process fallback tool. When snapshots is non-nil
// the rendered page is captured and handed to the tool; a failed capture
// degrades to passing the video id alone.
func External(extractor crawler.FallbackExtractor, snapshots crawler.Snapshotter) Strategy {
	return Strategy{
		Kind: crawler.StrategyExternal,
		Run: func(ctx context.Context, videoID string) (string, error) {
			req := crawler.FallbackRequest{VideoID: videoID}
			if snapshots != nil {
				if html, err := snapshots.Snapshot(ctx, videoID); err == nil {
					req.HTML = html
				}
			}
			return extractor.Extract(ctx, req)
		},
	}
}

// Result is a successful acquisition.
type Result struct {
	Transcript string
	Strategy   crawler.StrategyKind
	Attempts   []crawler.Attempt
}

// Pipeline runs strategies in order, short-circuiting on the first
// non-blank transcript.
type Pipeline struct {
	strategies []Strategy
	logger     *zap.Logger
}

// New builds a pipeline over strategies, in priority order.
func New(logger *zap.Logger, strategies ...Strategy) (*Pipeline, error) {
	if len(strategies) == 0 {
		return nil, errors.New("at least one strategy is required")
	}
	for i, s := range strategies {
		if s.Run == nil || s.Kind == "" {
			return nil, fmt.Errorf("strategy %d is incomplete", i)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		strategies: append([]Strategy(nil), strategies...),
		logger:     logger.Named("pipeline"),
	}, nil
}

// Kinds lists the configured strategies in order.
func (p *Pipeline) Kinds() []crawler.StrategyKind {
	kinds := make([]crawler.StrategyKind, 0, len(p.strategies))
	for _, s := range p.strategies {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

// Acquire returns the first transcript produced for videoID. The boolean is
// false when every strategy failed; the attempts are returned either way.
func (p *Pipeline) Acquire(ctx context.Context, videoID string) (Result, bool) {
	attempts := make([]crawler.Attempt, 0, len(p.strategies))
	for _, strategy := range p.strategies {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("acquisition abandoned",
				zap.String("video_id", videoID),
				zap.String("strategy", string(strategy.Kind)),
				zap.Error(err),
			)
			break
		}

		start := time.Now()
		text, err := strategy.Run(ctx, videoID)
		if err == nil && strings.TrimSpace(text) == "" {
			err = crawler.ErrNoTranscript
		}
		attempt := crawler.Attempt{Strategy: strategy.Kind, Duration: time.Since(start)}
		if err != nil {
			attempt.Err = &crawler.StrategyError{Kind: strategy.Kind, Err: err}
		}
		attempts = append(attempts, attempt)
		metrics.ObserveStrategy(string(strategy.Kind), attempt.Succeeded(), attempt.Duration)

		if attempt.Succeeded() {
			p.logger.Info("transcript acquired",
				zap.String("video_id", videoID),
				zap.String("strategy", string(strategy.Kind)),
				zap.Int("chars", len(text)),
				zap.Duration("duration", attempt.Duration),
			)
			return Result{Transcript: text, Strategy: strategy.Kind, Attempts: attempts}, true
		}
		p.logger.Warn("strategy failed",
			zap.String("video_id", videoID),
			zap.String("strategy", string(strategy.Kind)),
			zap.Duration("duration", attempt.Duration),
			zap.Error(err),
		)
	}

	p.logger.Info("no transcript available",
		zap.String("video_id", videoID),
		zap.Int("attempts", len(attempts)),
	)
	return Result{Attempts: attempts}, false
}
