package call

import (
	"sync"

	"github.com/aistorage/callcore/callstats"
)

// combinerItem is one enqueued unit of work: a continuation plus the error
// that triggered it (carried through mainly for logging/diagnostics).
type combinerItem struct {
	fn     func()
	err    error
	reason string
}

// CallCombiner serializes every entry into a call's filter stack into FIFO
// order, one at a time, so the stack never has to reason about concurrent
// callers. A continuation keeps the combiner busy until it explicitly calls
// Stop, even across asynchronous hand-offs - that's what lets the next
// queued item start running while the current one is still waiting on an
// external callback.
type CallCombiner interface {
	Start(continuation func(), err error, reason string)
	Stop(reason string)
	Cancel(err error)
}

// Combiner is CallCombiner's concrete, lock-protected-queue implementation.
// It is not lock-free - nothing in this package requires that of the
// combiner, only of the status register (StatusArbiter) - but it never
// holds its lock across a continuation's execution, so a badly-behaved
// continuation can't wedge other calls' combiners.
type Combiner struct {
	mu      sync.Mutex
	queue   []combinerItem
	running bool

	cmu            sync.Mutex
	notifyOnCancel func(error)
	cancelErr      error

	metrics *callstats.Metrics
}

func NewCombiner() *Combiner { return &Combiner{} }

// NewCombinerWithMetrics is NewCombiner's variant that reports queue depth
// to m as items are enqueued and dispatched.
func NewCombinerWithMetrics(m *callstats.Metrics) *Combiner { return &Combiner{metrics: m} }

func (c *Combiner) Start(fn func(), err error, reason string) {
	c.mu.Lock()
	c.queue = append(c.queue, combinerItem{fn, err, reason})
	depth := len(c.queue)
	if c.running {
		c.mu.Unlock()
		c.metrics.SetCombinerQueueDepth(depth)
		return
	}
	c.running = true
	item := c.popLocked()
	depth = len(c.queue)
	c.mu.Unlock()
	c.metrics.SetCombinerQueueDepth(depth)
	c.dispatch(item)
}

// Stop releases the combiner from the continuation currently running,
// letting the next queued item (if any) start.
func (c *Combiner) Stop(string) {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.running = false
		c.mu.Unlock()
		return
	}
	item := c.popLocked()
	depth := len(c.queue)
	c.mu.Unlock()
	c.metrics.SetCombinerQueueDepth(depth)
	c.dispatch(item)
}

func (c *Combiner) popLocked() combinerItem {
	item := c.queue[0]
	c.queue = c.queue[1:]
	return item
}

// dispatch runs the item off the caller's stack, so a chain of
// Start-inside-continuation-inside-Stop never grows the call stack.
func (c *Combiner) dispatch(item combinerItem) {
	go item.fn()
}

// Cancel records the cancellation error and, if a continuation has armed
// one via NotifyOnCancel, invokes it immediately - used to unblock
// in-flight work (e.g. a MessageReceiver pull) that would otherwise wait
// for a transport callback that cancellation just made moot.
func (c *Combiner) Cancel(err error) {
	c.cmu.Lock()
	if c.cancelErr != nil {
		c.cmu.Unlock()
		return
	}
	c.cancelErr = err
	nf := c.notifyOnCancel
	c.notifyOnCancel = nil
	c.cmu.Unlock()
	if nf != nil {
		nf(err)
	}
}

// NotifyOnCancel arms fn to run the moment Cancel is next called (or
// immediately, if a cancellation already happened). At most one armed
// continuation at a time; arming a second replaces the first.
func (c *Combiner) NotifyOnCancel(fn func(error)) {
	c.cmu.Lock()
	if c.cancelErr != nil {
		err := c.cancelErr
		c.cmu.Unlock()
		fn(err)
		return
	}
	c.notifyOnCancel = fn
	c.cmu.Unlock()
}
