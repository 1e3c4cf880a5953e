package call

import (
	"sync/atomic"

	"github.com/aistorage/callcore/cmn/cos"
	"github.com/aistorage/callcore/transport"
)

// BatchControl is the bookkeeping record for one in-flight surface batch:
// a refcount-to-complete (one per armed callback plus one for the
// transport batch's own on_complete), a bounded error accumulator, and
// exactly one completion path (a completion-queue tag or a continuation).
type BatchControl struct {
	call *Call // nil sentinel marks this slot's BatchControl as free/reusable

	remaining atomic.Int32
	errs      cos.Errs

	tbatch transport.Batch

	tag any
	cq  transport.CompletionQueue

	continuation func(error)

	// onTrailingDone, when set, runs before the consolidated error is
	// computed and replaces it with OK: the RECV_STATUS_ON_CLIENT /
	// RECV_CLOSE_ON_SERVER batches report the call's final status through
	// dedicated output fields, not through the transport-error channel
	// (§7).
	onTrailingDone func()

	acquiredSlots []Slot
}

// reset clears a BatchControl for reuse by the next batch; call is left
// nil (free) until arm is called again.
func (b *BatchControl) reset() {
	b.call = nil
	b.remaining.Store(0)
	b.errs = cos.Errs{}
	b.tbatch = transport.Batch{}
	b.tag = nil
	b.cq = nil
	b.continuation = nil
	b.onTrailingDone = nil
	b.acquiredSlots = nil
}

// arm prepares the control block for a new batch: steps is 1 (for the
// transport batch's own on_complete) plus one per armed recv callback
// (RECV_INITIAL_METADATA, RECV_MESSAGE).
func (b *BatchControl) arm(c *Call, acquiredSlots []Slot, steps int32) {
	b.call = c
	b.acquiredSlots = acquiredSlots
	b.remaining.Store(steps)
}

// AddError accumulates a per-sub-op error. The first error recorded against
// a batch also triggers a call-wide cancellation on SourceCore, unless the
// caller already cancelled the call through some other path (§7).
func (b *BatchControl) AddError(err error) {
	if err == nil {
		return
	}
	first := b.errs.Cnt() == 0
	b.errs.Add(err)
	if first && !b.call.hasCancelled.Load() {
		b.call.CancelWithError(SourceCore, err)
	}
}

// finishStep decrements the outstanding-callback count by one; the last
// decrementer reports completion.
func (b *BatchControl) finishStep() {
	if b.remaining.Add(-1) == 0 {
		b.complete()
	}
}

func (b *BatchControl) complete() {
	if b.onTrailingDone != nil {
		b.onTrailingDone()
	}
	var err error
	if b.onTrailingDone == nil {
		_, err = b.errs.JoinErr()
	}
	slots := b.acquiredSlots
	c := b.call
	c.metrics().RecordBatchCompleted(err == nil)
	if b.tag != nil {
		b.cq.EndOp(b.tag, err)
	} else if b.continuation != nil {
		b.continuation(err)
	}
	b.reset()
	for _, s := range slots {
		c.slotSem[s].Release(1)
	}
	c.releaseBctl(b)
}
