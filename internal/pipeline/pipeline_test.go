package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
)

type scripted struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []string
}

func (s *scripted) run(_ context.Context, videoID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, videoID)
	return s.text, s.err
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newPipeline(t *testing.T, structured, rendered, external *scripted) *Pipeline {
	t.Helper()
	p, err := New(zap.NewNop(),
		Strategy{Kind: crawler.StrategyStructured, Run: structured.run},
		Strategy{Kind: crawler.StrategyRendered, Run: rendered.run},
		Strategy{Kind: crawler.StrategyExternal, Run: external.run},
	)
	require.NoError(t, err)
	return p
}

func TestAcquireFirstStrategyWins(t *testing.T) {
	t.Parallel()

	s1 := &scripted{text: "from service"}
	s2 := &scripted{text: "from page"}
	s3 := &scripted{text: "from tool"}
	p := newPipeline(t, s1, s2, s3)

	res, ok := p.Acquire(context.Background(), "abc")
	require.True(t, ok)
	assert.Equal(t, "from service", res.Transcript)
	assert.Equal(t, crawler.StrategyStructured, res.Strategy)
	assert.Zero(t, s2.count())
	assert.Zero(t, s3.count())
}

func TestAcquireFallsThroughToRendered(t *testing.T) {
	t.Parallel()

	s1 := &scripted{err: errors.New("blocked")}
	s2 := &scripted{text: "panel text"}
	s3 := &scripted{text: "tool text"}
	p := newPipeline(t, s1, s2, s3)

	res, ok := p.Acquire(context.Background(), "abc")
	require.True(t, ok)
	assert.Equal(t, "panel text", res.Transcript)
	assert.Equal(t, crawler.StrategyRendered, res.Strategy)
	assert.Equal(t, 1, s1.count())
	assert.Zero(t, s3.count(), "external strategy must not run")

	require.Len(t, res.Attempts, 2)
	assert.False(t, res.Attempts[0].Succeeded())
	assert.True(t, res.Attempts[1].Succeeded())
}

func TestAcquireAllFail(t *testing.T) {
	t.Parallel()

	s1 := &scripted{err: errors.New("service error")}
	s2 := &scripted{err: crawler.ErrAffordanceAbsent}
	s3 := &scripted{err: crawler.ErrMalformedResponse}
	p := newPipeline(t, s1, s2, s3)

	res, ok := p.Acquire(context.Background(), "abc")
	require.False(t, ok)
	assert.Empty(t, res.Transcript)
	require.Len(t, res.Attempts, 3)

	var strategyErr *crawler.StrategyError
	require.ErrorAs(t, res.Attempts[1].Err, &strategyErr)
	assert.Equal(t, crawler.StrategyRendered, strategyErr.Kind)
	assert.ErrorIs(t, res.Attempts[1].Err, crawler.ErrAffordanceAbsent)
	assert.ErrorIs(t, res.Attempts[2].Err, crawler.ErrMalformedResponse)
}

func TestAcquireBlankTextIsFailure(t *testing.T) {
	t.Parallel()

	s1 := &scripted{text: "  \n\t"}
	s2 := &scripted{text: ""}
	s3 := &scripted{text: "tool text"}
	p := newPipeline(t, s1, s2, s3)

	res, ok := p.Acquire(context.Background(), "abc")
	require.True(t, ok)
	assert.Equal(t, crawler.StrategyExternal, res.Strategy)
	assert.ErrorIs(t, res.Attempts[0].Err, crawler.ErrNoTranscript)
}

func TestAcquireStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	s1 := &scripted{text: "never"}
	p := newPipeline(t, s1, &scripted{}, &scripted{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, ok := p.Acquire(ctx, "abc")
	require.False(t, ok)
	assert.Empty(t, res.Attempts)
	assert.Zero(t, s1.count())
}

type fakeExtractor struct {
	got crawler.FallbackRequest
}

func (f *fakeExtractor) Extract(_ context.Context, req crawler.FallbackRequest) (string, error) {
	f.got = req
	return "extracted", nil
}

type fakeSnapshotter struct {
	html string
	err  error
}

func (f fakeSnapshotter) Snapshot(context.Context, string) (string, error) {
	return f.html, f.err
}

func TestExternalPassesSnapshot(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{}
	strategy := External(ex, fakeSnapshotter{html: "<html>page</html>"})
	text, err := strategy.Run(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "extracted", text)
	assert.Equal(t, crawler.FallbackRequest{VideoID: "abc", HTML: "<html>page</html>"}, ex.got)
}

func TestExternalDegradesWithoutSnapshot(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{}
	strategy := External(ex, fakeSnapshotter{err: errors.New("navigation failed")})
	_, err := strategy.Run(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, crawler.FallbackRequest{VideoID: "abc"}, ex.got)

	strategy = External(ex, nil)
	_, err = strategy.Run(context.Background(), "xyz")
	require.NoError(t, err)
	assert.Equal(t, crawler.FallbackRequest{VideoID: "xyz"}, ex.got)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)

	_, err = New(nil, Strategy{Kind: crawler.StrategyStructured})
	require.Error(t, err)

	p, err := New(nil, Strategy{Kind: crawler.StrategyRendered, Run: (&scripted{}).run})
	require.NoError(t, err)
	assert.Equal(t, []crawler.StrategyKind{crawler.StrategyRendered}, p.Kinds())
}
