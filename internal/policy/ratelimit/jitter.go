package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/JakeFAU/channel-transcript-crawler/internal/metrics"
)

const (
	// DefaultMinDelay is the shortest pause between two jobs.
	DefaultMinDelay = 11 * time.Second
	// DefaultMaxDelay is the longest pause between two jobs.
	DefaultMaxDelay = 73 * time.Second
)

// JitterConfig bounds the inter-job delay. Both ends are inclusive.
type JitterConfig struct {
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Jitter draws uniformly random delays from [MinDelay, MaxDelay].
type Jitter struct {
	mu  sync.Mutex
	min time.Duration
	max time.Duration
	rng *rand.Rand
}

// JitterOption customizes a Jitter.
type JitterOption func(*Jitter)

// WithSource swaps the random source, mostly for tests.
func WithSource(src rand.Source) JitterOption {
	return func(j *Jitter) {
		j.rng = rand.New(src)
	}
}

// NewJitter validates cfg and returns a Jitter. Zero values fall back to the defaults.
func NewJitter(cfg JitterConfig, opts ...JitterOption) (*Jitter, error) {
	if cfg.MinDelay == 0 && cfg.MaxDelay == 0 {
		cfg.MinDelay, cfg.MaxDelay = DefaultMinDelay, DefaultMaxDelay
	}
	if cfg.MinDelay < 0 {
		return nil, errors.New("min delay must be non-negative")
	}
	if cfg.MaxDelay < cfg.MinDelay {
		return nil, fmt.Errorf("max delay %s is below min delay %s", cfg.MaxDelay, cfg.MinDelay)
	}
	j := &Jitter{
		min: cfg.MinDelay,
		max: cfg.MaxDelay,
		// #nosec G404 -- pacing jitter, not a security boundary.
		rng: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Next returns the next delay.
func (j *Jitter) Next() time.Duration {
	span := int64(j.max - j.min)
	if span == 0 {
		return j.min
	}
	j.mu.Lock()
	offset := j.rng.Int64N(span + 1)
	j.mu.Unlock()
	return j.min + time.Duration(offset)
}

// Wait sleeps for the next delay or until ctx is done. It returns the delay
// that was drawn together with ctx.Err() when the pause was cut short.
func (j *Jitter) Wait(ctx context.Context) (time.Duration, error) {
	delay := j.Next()
	metrics.ObserveInterJobDelay(delay)
	if delay <= 0 {
		return 0, nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return delay, fmt.Errorf("inter-job delay: %w", ctx.Err())
	case <-timer.C:
		return delay, nil
	}
}
