package call

import (
	"strconv"

	"google.golang.org/grpc/codes"

	"github.com/aistorage/callcore/transport"
)

// OpKind enumerates the eight surface operations a batch may combine, at
// most one per Slot (six slots; §4.4).
type OpKind int

const (
	OpSendInitialMetadata OpKind = iota
	OpSendMessage
	OpSendCloseFromClient
	OpSendStatusFromServer
	OpRecvInitialMetadata
	OpRecvMessage
	OpRecvStatusOnClient
	OpRecvCloseOnServer
)

// Flags a SEND_INITIAL_METADATA or SEND_MESSAGE op may carry.
const (
	FlagIdempotentRequest uint32 = 1 << iota
	FlagWaitForReady
	FlagCacheableRequest
	FlagWriteBuffered
	FlagWriteNoCompress
	flagWriteInternalCompress // translator-only, never set by a caller
)

const (
	InitialMetadataUsedMask = FlagIdempotentRequest | FlagWaitForReady | FlagCacheableRequest
	WriteUsedMask           = FlagWriteBuffered | FlagWriteNoCompress
	WriteInternalUsedMask   = WriteUsedMask | flagWriteInternalCompress
)

// Op is one leg of a surface batch. Only the fields relevant to Kind are
// read; the rest are ignored, mirroring the discriminated-union shape of
// the C original without actually needing a union in Go.
type Op struct {
	Kind OpKind

	// OpSendInitialMetadata
	Metadata []transport.KV
	Flags    uint32

	// OpSendMessage
	SendBuffer    []byte
	PreCompressed bool

	// OpSendStatusFromServer
	StatusCode       codes.Code
	StatusMessage    string
	TrailingMetadata []transport.KV

	// OpRecvInitialMetadata: delivered via Call.AppInitialMetadata after
	// completion, nothing to set here.

	// OpRecvMessage: delivered via Call.AppRecvMessage after completion.

	// OpRecvStatusOnClient
	StatusOut *StatusResult

	// OpRecvCloseOnServer
	CancelledOut *bool
}

// Completion is how a translated batch reports back: exactly one of Tag
// (posted to CQ) or Continuation is set.
type Completion struct {
	CQ           transport.CompletionQueue
	Tag          any
	Continuation func(error)
}

// BatchTranslator turns a surface-level slice of Ops into exactly one
// transport.Batch, enforcing "at most one outstanding batch per slot" via
// a per-slot semaphore and rolling back every op validated so far the
// moment one op fails (§4.4, §4.6). A SEND_STATUS_FROM_SERVER status
// already recorded on the arbiter stays recorded.
type BatchTranslator struct{}

func slotOf(kind OpKind) Slot {
	switch kind {
	case OpSendInitialMetadata:
		return SlotSendInitialMetadata
	case OpSendMessage:
		return SlotSendMessage
	case OpSendCloseFromClient, OpSendStatusFromServer:
		return SlotSendCloseOrStatus
	case OpRecvInitialMetadata:
		return SlotRecvInitialMetadata
	case OpRecvMessage:
		return SlotRecvMessage
	default: // OpRecvStatusOnClient, OpRecvCloseOnServer
		return SlotRecvCloseOrStatus
	}
}

// Translate validates ops, acquires the slots they touch, and - on success
// - hands the resulting transport.Batch to the call's combiner. On
// failure nothing is dispatched and every slot acquired during this call
// is released again before returning.
func (BatchTranslator) Translate(c *Call, ops []Op, comp Completion) StatusCode {
	reject := func(sc StatusCode) StatusCode {
		c.metrics().RecordTranslateRejection(sc.String())
		return sc
	}

	if len(ops) > 6 {
		return reject(StatusInvalidFlags)
	}

	bctl := c.acquireBctl()
	var acquired []Slot
	var undo []func() // reverts the per-call flags set so far

	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		for _, s := range acquired {
			c.slotSem[s].Release(1)
		}
		bctl.reset()
	}

	steps := int32(1) // the transport batch's own on_complete
	var tb transport.Batch

	for _, op := range ops {
		slot := slotOf(op.Kind)
		if !c.slotSem[slot].TryAcquire(1) {
			rollback()
			return reject(StatusTooManyOperations)
		}
		acquired = append(acquired, slot)

		switch op.Kind {
		case OpSendInitialMetadata:
			if c.sentInitialMetadata.Swap(true) {
				rollback()
				return reject(StatusTooManyOperations)
			}
			undo = append(undo, func() { c.sentInitialMetadata.Store(false) })
			if op.Flags&^InitialMetadataUsedMask != 0 {
				rollback()
				return reject(StatusInvalidFlags)
			}
			for _, kv := range op.Metadata {
				c.sendInitialMD.Set(kv.Key, kv.Value)
			}
			for _, kv := range c.extraSendMD {
				c.sendInitialMD.Set(kv.Key, kv.Value)
			}
			tb.SendInitial = c.sendInitialMD
			tb.Set(transport.SendInitialMetadata)

		case OpSendMessage:
			if op.Flags&^WriteUsedMask != 0 {
				rollback()
				return reject(StatusInvalidFlags)
			}
			payload := op.SendBuffer
			if !op.PreCompressed && op.Flags&FlagWriteNoCompress == 0 && c.sendComposite != CompositeIdentity {
				var err error
				payload, err = Compress(c.sendComposite, payload)
				if err != nil {
					rollback()
					return reject(StatusErrorRollback)
				}
				c.metrics().RecordCompression(c.sendComposite.String(), "send")
			}
			tb.SendMessage = transport.NewSliceStream(payload)
			tb.Set(transport.SendMessage)

		case OpSendCloseFromClient:
			if !c.isClient {
				rollback()
				return reject(StatusErrorRollback)
			}
			if c.sentFinalOp.Swap(true) {
				rollback()
				return reject(StatusTooManyOperations)
			}
			undo = append(undo, func() { c.sentFinalOp.Store(false) })
			tb.Set(transport.SendTrailingMetadata)

		case OpSendStatusFromServer:
			if c.isClient {
				rollback()
				return reject(StatusErrorRollback)
			}
			if c.sentFinalOp.Swap(true) {
				rollback()
				return reject(StatusTooManyOperations)
			}
			undo = append(undo, func() { c.sentFinalOp.Store(false) })
			trailing := transport.NewMetadata()
			trailing.Set(hdrGRPCStatus, strconv.Itoa(int(op.StatusCode)))
			if op.StatusMessage != "" {
				trailing.Set(hdrGRPCMessage, op.StatusMessage)
			}
			for _, kv := range op.TrailingMetadata {
				trailing.Set(kv.Key, kv.Value)
			}
			tb.SendTrailing = trailing
			tb.Set(transport.SendTrailingMetadata)
			c.recordArbiterStatus(SourceServerStatus, op.StatusCode, op.StatusMessage)

		case OpRecvInitialMetadata:
			// received_initial_metadata is monotonic for the life of the
			// call: once the filter stack has delivered it, a later batch
			// asking to receive it again must be rejected outright rather
			// than armed against a callback that will never fire again.
			if c.receivedInitialMetadata.Load() {
				rollback()
				return reject(StatusTooManyOperations)
			}
			if c.activeRecvInitialBCtl.Swap(bctl) != nil {
				rollback()
				return reject(StatusTooManyOperations)
			}
			undo = append(undo, func() { c.activeRecvInitialBCtl.Store(nil) })
			steps++
			tb.Set(transport.RecvInitialMetadata)

		case OpRecvMessage:
			if c.activeRecvMessageBCtl.Swap(bctl) != nil {
				rollback()
				return reject(StatusTooManyOperations)
			}
			undo = append(undo, func() { c.activeRecvMessageBCtl.Store(nil) })
			steps++
			tb.Set(transport.RecvMessage)

		case OpRecvStatusOnClient:
			if !c.isClient {
				rollback()
				return reject(StatusErrorRollback)
			}
			if c.requestedFinalOp.Swap(true) {
				rollback()
				return reject(StatusTooManyOperations)
			}
			undo = append(undo, func() { c.requestedFinalOp.Store(false) })
			c.finalStatusOut = op.StatusOut
			// trailing metadata rides the transport batch's own
			// on_complete, not a separate Watch continuation - no
			// extra step to count here.
			tb.Set(transport.RecvTrailingMetadata)
			tb.Set(transport.CollectStats)

		case OpRecvCloseOnServer:
			if c.isClient {
				rollback()
				return reject(StatusErrorRollback)
			}
			if c.requestedFinalOp.Swap(true) {
				rollback()
				return reject(StatusTooManyOperations)
			}
			undo = append(undo, func() { c.requestedFinalOp.Store(false) })
			c.cancelledOut = op.CancelledOut
			tb.Set(transport.RecvTrailingMetadata)
			tb.Set(transport.CollectStats)
		}
	}

	bctl.arm(c, acquired, steps)
	bctl.tbatch = tb
	bctl.tag, bctl.cq = comp.Tag, comp.CQ
	bctl.continuation = comp.Continuation
	if comp.Tag != nil {
		comp.CQ.BeginOp(comp.Tag)
	}
	if tb.Has(transport.RecvTrailingMetadata) {
		bctl.onTrailingDone = func() { c.finishTrailing(bctl) }
	}

	bctl.tbatch.OnComplete = func(transportErr error) {
		if transportErr != nil {
			bctl.AddError(transportErr)
		}
		bctl.finishStep()
	}

	if len(ops) == 0 {
		bctl.finishStep() // empty batch completes immediately, OK (§4.4)
		return StatusOK
	}

	c.metrics().RecordBatchStarted()
	c.combiner.Start(func() {
		c.filterStack.Submit(&bctl.tbatch)
		c.combiner.Stop("batch submitted")
	}, nil, "start_batch")

	return StatusOK
}

// StartBatch is the completion-queue-tagged surface entrypoint (§6).
func StartBatch(c *Call, ops []Op, cq transport.CompletionQueue, tag any) StatusCode {
	return BatchTranslator{}.Translate(c, ops, Completion{CQ: cq, Tag: tag})
}

// StartBatchAndExecute is the continuation-based surface entrypoint, used
// by in-process callers that don't want a completion queue in the loop.
func StartBatchAndExecute(c *Call, ops []Op, continuation func(error)) StatusCode {
	return BatchTranslator{}.Translate(c, ops, Completion{Continuation: continuation})
}
