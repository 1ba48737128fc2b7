// Package frontier holds the per-run queue of discovered video ids.
package frontier

import (
	"strings"
	"sync"
)

// DefaultJobCap bounds the dequeues of one run when no cap is configured.
const DefaultJobCap = 100

// Frontier is a FIFO of unvisited video ids. Ids are yielded in first-seen
// order, at most once per run, and never re-enqueued. It is safe for
// concurrent use, though the crawl loop is its only writer.
type Frontier struct {
	mu       sync.Mutex
	pending  []string
	queued   map[string]struct{}
	visited  map[string]struct{}
	jobCap   int
	dequeued int
}

// New returns an empty frontier. A cap <= 0 disables the dequeue bound.
func New(jobCap int) *Frontier {
	return &Frontier{
		queued:  make(map[string]struct{}),
		visited: make(map[string]struct{}),
		jobCap:  jobCap,
	}
}

// Seed appends ids in order, dropping blanks and anything already pending or
// visited. It returns how many ids were accepted.
func (f *Frontier) Seed(ids ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	accepted := 0
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := f.queued[id]; ok {
			continue
		}
		if _, ok := f.visited[id]; ok {
			continue
		}
		f.queued[id] = struct{}{}
		f.pending = append(f.pending, id)
		accepted++
	}
	return accepted
}

// Dequeue returns the next unvisited id and marks it visited. It reports
// false once the frontier is drained or the job cap has been reached.
func (f *Frontier) Dequeue() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.capReached() {
		return "", false
	}
	for len(f.pending) > 0 {
		id := f.pending[0]
		f.pending[0] = ""
		f.pending = f.pending[1:]
		delete(f.queued, id)
		if _, seen := f.visited[id]; seen {
			continue
		}
		f.visited[id] = struct{}{}
		f.dequeued++
		return id, true
	}
	return "", false
}

// MarkVisited records id as visited so it is never yielded this run.
func (f *Frontier) MarkVisited(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visited[id] = struct{}{}
	if _, ok := f.queued[id]; !ok {
		return
	}
	delete(f.queued, id)
	for i, pendingID := range f.pending {
		if pendingID == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
}

// Pending returns a copy of the ids still waiting, in dequeue order.
func (f *Frontier) Pending() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pending...)
}

// Len returns the number of ids still waiting.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Visited reports whether id has been dequeued or marked visited.
func (f *Frontier) Visited(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.visited[id]
	return ok
}

// Dequeued returns how many ids have been handed out this run.
func (f *Frontier) Dequeued() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dequeued
}

// Exhausted reports whether the next Dequeue would report false.
func (f *Frontier) Exhausted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capReached() || len(f.pending) == 0
}

func (f *Frontier) capReached() bool {
	return f.jobCap > 0 && f.dequeued >= f.jobCap
}
