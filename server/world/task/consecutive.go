package task

import (
	"runtime"
	"sync/atomic"

	"github.com/df-mc/chunkflow/server/internal/async"
)

// Consecutive is an Executor that runs functions one at a time, in the order in
// which they were submitted, on goroutines obtained from a spawner. It never
// blocks the submitting goroutine.
type Consecutive struct {
	name      string
	spawner   async.Executor
	mailbox   *Mailbox
	scheduled atomic.Bool
}

// NewConsecutive returns a Consecutive that runs its queue on spawner.
func NewConsecutive(name string, spawner async.Executor) *Consecutive {
	return &Consecutive{name: name, spawner: spawner, mailbox: NewMailbox()}
}

// Execute queues f to run after all functions queued before it.
func (c *Consecutive) Execute(f func()) {
	c.mailbox.Push(f)
	c.schedule()
}

// HasWork checks if functions are queued or running.
func (c *Consecutive) HasWork() bool {
	return c.mailbox.Pending() > 0
}

// String returns the name of the executor.
func (c *Consecutive) String() string {
	return c.name
}

func (c *Consecutive) schedule() {
	if c.scheduled.CompareAndSwap(false, true) {
		c.spawner.Execute(c.run)
	}
}

func (c *Consecutive) run() {
	ran := c.mailbox.Drain()
	c.scheduled.Store(false)
	if c.mailbox.Pending() > 0 {
		if ran == 0 {
			// A producer swapped the head but has not linked its node yet.
			runtime.Gosched()
		}
		c.schedule()
	}
}
