// Package shutdown coordinates the graceful end of a crawl run.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-transcript-crawler/internal/consolidate"
	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
	"github.com/JakeFAU/channel-transcript-crawler/internal/crawlstate"
)

// Phase is the coordinator's lifecycle state.
type Phase int32

// Phases only move forward.
const (
	Running Phase = iota
	ShuttingDown
	Terminated
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Default timeouts.
const (
	DefaultDrainTimeout       = 3 * time.Minute
	DefaultAbortGrace         = 30 * time.Second
	DefaultResolveTimeout     = 5 * time.Minute
	DefaultConsolidateTimeout = 2 * time.Minute
)

// Resolver is implemented by crawl.Loop.
type Resolver interface {
	Resolve(ctx context.Context, task crawler.VideoTask) crawler.Outcome
	Abort()
}

// Consolidator merges persisted artifacts into one output.
type Consolidator interface {
	Consolidate(ctx context.Context) (consolidate.Result, error)
}

// Config holds the coordinator timeouts. Zero values take the defaults.
type Config struct {
	DrainTimeout       time.Duration
	AbortGrace         time.Duration
	ResolveTimeout     time.Duration
	ConsolidateTimeout time.Duration
}

// Coordinator drains the crawl loop on interrupt, finishes the in-flight
// video if the loop could not, and consolidates the run's artifacts.
type Coordinator struct {
	resolver     Resolver
	consolidator Consolidator
	cell         *crawlstate.Cell
	cfg          Config
	logger       *zap.Logger
	phase        atomic.Int32
}

// New constructs a Coordinator.
func New(resolver Resolver, consolidator Consolidator, cell *crawlstate.Cell, cfg Config, logger *zap.Logger) (*Coordinator, error) {
	if resolver == nil {
		return nil, errors.New("shutdown: resolver is required")
	}
	if consolidator == nil {
		return nil, errors.New("shutdown: consolidator is required")
	}
	if cell == nil {
		return nil, errors.New("shutdown: crawl state cell is required")
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.AbortGrace <= 0 {
		cfg.AbortGrace = DefaultAbortGrace
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	if cfg.ConsolidateTimeout <= 0 {
		cfg.ConsolidateTimeout = DefaultConsolidateTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		resolver:     resolver,
		consolidator: consolidator,
		cell:         cell,
		cfg:          cfg,
		logger:       logger,
	}, nil
}

// Phase reports the current lifecycle state. Safe for concurrent use.
func (c *Coordinator) Phase() Phase {
	return Phase(c.phase.Load())
}

// Run blocks until the crawl ends, either because loopDone closed or ctx was
// canceled, then runs shutdown to completion. It always returns, with the
// coordinator Terminated.
func (c *Coordinator) Run(ctx context.Context, loopDone <-chan struct{}) {
	defer c.phase.Store(int32(Terminated))

	select {
	case <-loopDone:
		c.logger.Info("crawl loop finished")
	case <-ctx.Done():
		c.phase.Store(int32(ShuttingDown))
		c.logger.Info("interrupt received; waiting for the current job to finish",
			zap.Duration("drain_timeout", c.cfg.DrainTimeout),
		)
		if c.drain(loopDone) {
			c.finishInFlight()
		} else {
			// The loop still owns the in-flight job; resolving it here could
			// write a second artifact for the same video.
			if task, ok := c.cell.Snapshot(); ok {
				c.logger.Error("crawl loop still running; leaving in-flight job unresolved",
					zap.String("video_id", task.VideoID),
					zap.String("channel", task.ChannelHandle),
				)
			}
		}
	}
	c.consolidate()
}

// drain reports whether the loop returned within the drain timeout plus the
// abort grace.
func (c *Coordinator) drain(loopDone <-chan struct{}) bool {
	timer := time.NewTimer(c.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-loopDone:
		return true
	case <-timer.C:
	}

	c.logger.Warn("drain timeout reached; aborting in-flight job")
	c.resolver.Abort()

	grace := time.NewTimer(c.cfg.AbortGrace)
	defer grace.Stop()
	select {
	case <-loopDone:
		return true
	case <-grace.C:
		c.logger.Error("crawl loop did not stop after abort", zap.Duration("grace", c.cfg.AbortGrace))
		return false
	}
}

func (c *Coordinator) finishInFlight() {
	task, ok := c.cell.Snapshot()
	if !ok {
		c.logger.Info("no job in flight")
		return
	}
	logger := c.logger.With(zap.String("video_id", task.VideoID), zap.String("channel", task.ChannelHandle))
	logger.Info("resolving interrupted job")

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while resolving interrupted job", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ResolveTimeout)
	defer cancel()
	outcome := c.resolver.Resolve(ctx, task)
	c.cell.Clear()
	logger.Info("interrupted job resolved", zap.String("outcome", string(outcome)))
}

func (c *Coordinator) consolidate() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during consolidation", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConsolidateTimeout)
	defer cancel()
	res, err := c.consolidator.Consolidate(ctx)
	if err != nil {
		c.logger.Error("consolidation failed", zap.Error(err))
		return
	}
	c.logger.Info("transcripts consolidated",
		zap.String("output", res.Output),
		zap.Int("artifacts", res.Artifacts),
		zap.Int("skipped", res.Skipped),
	)
}
