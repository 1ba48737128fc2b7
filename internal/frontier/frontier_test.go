package frontier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func drain(f *Frontier) []string {
	var out []string
	for {
		id, ok := f.Dequeue()
		if !ok {
			return out
		}
		out = append(out, id)
	}
}

func TestSeedDropsDuplicatesKeepingFirstSeenOrder(t *testing.T) {
	t.Parallel()

	f := New(0)
	accepted := f.Seed("b", "a", "b", "c", "a", "", "  ", "d")
	require.Equal(t, 4, accepted)
	require.Equal(t, []string{"b", "a", "c", "d"}, drain(f))
	require.Equal(t, 4, f.Dequeued())
}

func TestSeedDropsVisitedIDs(t *testing.T) {
	t.Parallel()

	f := New(0)
	f.Seed("a", "b")
	id, ok := f.Dequeue()
	require.True(t, ok)
	require.Equal(t, "a", id)

	require.Equal(t, 1, f.Seed("a", "b", "c"))
	require.Equal(t, []string{"b", "c"}, drain(f))
}

func TestEachDistinctIDYieldedExactlyOnce(t *testing.T) {
	t.Parallel()

	discovered := []string{"x1", "x2", "x1", "x3", "x2", "x4", "x4", "x1"}
	f := New(100)
	f.Seed(discovered...)
	f.Seed(discovered...)

	got := drain(f)
	require.Equal(t, []string{"x1", "x2", "x3", "x4"}, got)
	for _, id := range got {
		require.True(t, f.Visited(id))
	}
}

func TestJobCapStopsDequeue(t *testing.T) {
	t.Parallel()

	f := New(2)
	f.Seed("one", "two", "three")

	require.Equal(t, []string{"one", "two"}, drain(f))
	require.Equal(t, 1, f.Len())
	require.False(t, f.Visited("three"))
	require.Equal(t, []string{"three"}, f.Pending())

	_, ok := f.Dequeue()
	require.False(t, ok)
}

func TestMarkVisitedRemovesPendingID(t *testing.T) {
	t.Parallel()

	f := New(0)
	f.Seed("a", "b", "c")
	f.MarkVisited("b")
	f.MarkVisited("zzz")
	f.MarkVisited("")

	require.Equal(t, []string{"a", "c"}, drain(f))
	require.True(t, f.Visited("b"))
	require.True(t, f.Visited("zzz"))
	require.Equal(t, 0, f.Seed("zzz"))
}

func TestEmptyFrontier(t *testing.T) {
	t.Parallel()

	f := New(DefaultJobCap)
	id, ok := f.Dequeue()
	require.False(t, ok)
	require.Empty(t, id)
	require.Zero(t, f.Len())
}

func TestExhausted(t *testing.T) {
	t.Parallel()

	f := New(1)
	require.True(t, f.Exhausted())
	f.Seed("a", "b")
	require.False(t, f.Exhausted())
	_, ok := f.Dequeue()
	require.True(t, ok)
	require.True(t, f.Exhausted(), "cap reached with ids still pending")
}
