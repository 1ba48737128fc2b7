package shutdown_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-transcript-crawler/internal/clock/system"
	"github.com/JakeFAU/channel-transcript-crawler/internal/consolidate"
	"github.com/JakeFAU/channel-transcript-crawler/internal/crawl"
	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
	"github.com/JakeFAU/channel-transcript-crawler/internal/crawlstate"
	"github.com/JakeFAU/channel-transcript-crawler/internal/frontier"
	"github.com/JakeFAU/channel-transcript-crawler/internal/hash/sha256"
	"github.com/JakeFAU/channel-transcript-crawler/internal/pipeline"
	"github.com/JakeFAU/channel-transcript-crawler/internal/shutdown"
	"github.com/JakeFAU/channel-transcript-crawler/internal/storage"
	"github.com/JakeFAU/channel-transcript-crawler/internal/storage/memory"
)

type discoverer []string

func (d discoverer) DiscoverVideos(context.Context, string) ([]string, error) {
	return d, nil
}

type noDelay struct{}

func (noDelay) Wait(ctx context.Context) (time.Duration, error) {
	return 0, ctx.Err()
}

// gatedAcquirer signals started on its first call and then runs block.
type gatedAcquirer struct {
	started chan struct{}
	once    sync.Once
	block   func(ctx context.Context, call int) (string, bool)

	mu    sync.Mutex
	calls int
}

func (g *gatedAcquirer) Acquire(ctx context.Context, _ string) (pipeline.Result, bool) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.mu.Unlock()
	g.once.Do(func() { close(g.started) })
	text, ok := g.block(ctx, call)
	if !ok {
		return pipeline.Result{}, false
	}
	return pipeline.Result{Transcript: text, Strategy: crawler.StrategyStructured}, true
}

type harness struct {
	loop   *crawl.Loop
	blobs  *memory.BlobStore
	coord  *shutdown.Coordinator
	output string
}

func newHarness(t *testing.T, acq *gatedAcquirer, drain time.Duration) harness {
	t.Helper()
	blobs := memory.NewBlobStore()
	store, err := storage.New(storage.Config{RunID: "run"}, blobs, system.New(), sha256.New(), nil)
	require.NoError(t, err)

	cell := crawlstate.New()
	loop, err := crawl.New(
		discoverer{"vid00000001", "vid00000002"},
		nil, acq, store, noDelay{}, frontier.New(0), cell,
		crawl.Config{ChannelHandle: "@chan", ChannelURL: "https://example.test/@chan", RunID: "run"},
		nil,
	)
	require.NoError(t, err)

	output := filepath.Join(t.TempDir(), "consolidated.jsonl")
	merger, err := consolidate.New(consolidate.Config{Output: output}, blobs, nil)
	require.NoError(t, err)

	coord, err := shutdown.New(loop, merger, cell, shutdown.Config{
		DrainTimeout: drain,
		AbortGrace:   5 * time.Second,
	}, nil)
	require.NoError(t, err)
	return harness{loop: loop, blobs: blobs, coord: coord, output: output}
}

func (h harness) start(ctx context.Context) (loopDone chan struct{}, coordDone chan struct{}) {
	loopDone = make(chan struct{})
	coordDone = make(chan struct{})
	go func() {
		defer close(loopDone)
		h.loop.Run(ctx)
	}()
	go func() {
		defer close(coordDone)
		h.coord.Run(ctx, loopDone)
	}()
	return loopDone, coordDone
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out")
	}
}

func TestInterruptDrainsCurrentJob(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	acq := &gatedAcquirer{
		started: make(chan struct{}),
		block: func(context.Context, int) (string, bool) {
			<-release
			return "transcript of the first video", true
		},
	}
	h := newHarness(t, acq, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, coordDone := h.start(ctx)

	<-acq.started
	cancel()
	require.Eventually(t, func() bool { return h.coord.Phase() == shutdown.ShuttingDown }, 5*time.Second, 5*time.Millisecond)
	close(release)
	waitClosed(t, coordDone)

	require.Equal(t, shutdown.Terminated, h.coord.Phase())
	require.Equal(t, 1, h.blobs.Len())
	data, err := os.ReadFile(h.output)
	require.NoError(t, err)
	require.Equal(t, "transcript of the first video", string(data))
}

func TestInterruptAfterDrainTimeoutResolvesInFlightVideo(t *testing.T) {
	t.Parallel()

	acq := &gatedAcquirer{
		started: make(chan struct{}),
		block: func(ctx context.Context, call int) (string, bool) {
			if call == 1 {
				<-ctx.Done()
				return "", false
			}
			return "recovered transcript", true
		},
	}
	h := newHarness(t, acq, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, coordDone := h.start(ctx)

	<-acq.started
	cancel()
	waitClosed(t, coordDone)

	require.Equal(t, shutdown.Terminated, h.coord.Phase())
	keys, err := h.blobs.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Contains(t, keys[0], "Video_vid00000001")

	data, err := os.ReadFile(h.output)
	require.NoError(t, err)
	require.Contains(t, string(data), "recovered transcript")
}

func TestNormalCompletionConsolidates(t *testing.T) {
	t.Parallel()

	acq := &gatedAcquirer{
		started: make(chan struct{}),
		block: func(_ context.Context, call int) (string, bool) {
			return []string{"", "one", "two"}[call], true
		},
	}
	h := newHarness(t, acq, time.Minute)

	_, coordDone := h.start(context.Background())
	waitClosed(t, coordDone)

	require.Equal(t, shutdown.Terminated, h.coord.Phase())
	require.Equal(t, 2, h.blobs.Len())
	data, err := os.ReadFile(h.output)
	require.NoError(t, err)
	require.Contains(t, string(data), "one")
	require.Contains(t, string(data), "two")
}

// stubResolver closes stopped, when set, on Abort, standing in for a loop
// that honors cancellation.
type stubResolver struct {
	stopped chan struct{}

	mu       sync.Mutex
	resolved []string
	aborted  bool
}

func (s *stubResolver) Resolve(_ context.Context, task crawler.VideoTask) crawler.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, task.VideoID)
	return crawler.OutcomePersisted
}

func (s *stubResolver) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.aborted && s.stopped != nil {
		close(s.stopped)
	}
	s.aborted = true
}

func (s *stubResolver) snapshot() ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.resolved...), s.aborted
}

type countingConsolidator struct {
	calls atomic.Int32
}

func (c *countingConsolidator) Consolidate(context.Context) (consolidate.Result, error) {
	c.calls.Add(1)
	return consolidate.Result{}, nil
}

type failingConsolidator struct{}

func (failingConsolidator) Consolidate(context.Context) (consolidate.Result, error) {
	return consolidate.Result{}, errors.New("disk gone")
}

type panickingConsolidator struct{}

func (panickingConsolidator) Consolidate(context.Context) (consolidate.Result, error) {
	panic("boom")
}

func TestRunSwallowsShutdownErrors(t *testing.T) {
	t.Parallel()

	for name, merger := range map[string]shutdown.Consolidator{
		"error": failingConsolidator{},
		"panic": panickingConsolidator{},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cell := crawlstate.New()
			cell.Begin(crawler.VideoTask{VideoID: "stuck", ChannelHandle: "@c"})
			loopDone := make(chan struct{})
			resolver := &stubResolver{stopped: loopDone}
			coord, err := shutdown.New(resolver, merger, cell, shutdown.Config{
				DrainTimeout: 10 * time.Millisecond,
				AbortGrace:   time.Second,
			}, nil)
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			coord.Run(ctx, loopDone)

			assert.Equal(t, shutdown.Terminated, coord.Phase())
			assert.True(t, resolver.aborted)
			assert.Equal(t, []string{"stuck"}, resolver.resolved)
			_, inFlight := cell.Snapshot()
			assert.False(t, inFlight)
		})
	}
}

func TestStuckLoopLeavesInFlightJobToIt(t *testing.T) {
	t.Parallel()

	cell := crawlstate.New()
	cell.Begin(crawler.VideoTask{VideoID: "stuck", ChannelHandle: "@c"})
	resolver := &stubResolver{}
	merger := &countingConsolidator{}
	coord, err := shutdown.New(resolver, merger, cell, shutdown.Config{
		DrainTimeout: 10 * time.Millisecond,
		AbortGrace:   10 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		coord.Run(ctx, make(chan struct{}))
	}()
	waitClosed(t, done)

	resolved, aborted := resolver.snapshot()
	assert.Equal(t, shutdown.Terminated, coord.Phase())
	assert.True(t, aborted)
	assert.Empty(t, resolved)
	assert.Equal(t, int32(1), merger.calls.Load())
	task, inFlight := cell.Snapshot()
	assert.True(t, inFlight)
	assert.Equal(t, "stuck", task.VideoID)
}

func TestPhaseString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "running", shutdown.Running.String())
	require.Equal(t, "shutting_down", shutdown.ShuttingDown.String())
	require.Equal(t, "terminated", shutdown.Terminated.String())
}
