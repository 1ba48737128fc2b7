// Package crawlstate holds the single shared record of which video the crawl
// loop is working on.
package crawlstate

import (
	"sync/atomic"

	"github.com/JakeFAU/channel-transcript-crawler/internal/crawler"
)

// Cell publishes the in-flight task. The crawl loop is the only writer; the
// shutdown coordinator and status endpoint read snapshots. Begin must be
// called before the pipeline for that task starts.
type Cell struct {
	current atomic.Pointer[crawler.VideoTask]
}

// New returns an empty cell.
func New() *Cell {
	return &Cell{}
}

// Begin marks task as in flight. An empty task clears the cell.
func (c *Cell) Begin(task crawler.VideoTask) {
	if task.Empty() {
		c.current.Store(nil)
		return
	}
	c.current.Store(&task)
}

// Clear marks that no job is in flight.
func (c *Cell) Clear() {
	c.current.Store(nil)
}

// Snapshot returns a copy of the in-flight task, if any.
func (c *Cell) Snapshot() (crawler.VideoTask, bool) {
	task := c.current.Load()
	if task == nil {
		return crawler.VideoTask{}, false
	}
	return *task, true
}
