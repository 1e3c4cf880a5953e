package call

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aistorage/callcore/callstats"
	"github.com/aistorage/callcore/cmn"
	"github.com/aistorage/callcore/cmn/cos"
	"github.com/aistorage/callcore/cmn/nlog"
	"github.com/aistorage/callcore/memsys"
	"github.com/aistorage/callcore/transport"
)

// ContextIndex selects one of a call's small number of context-object
// slots: user-attached values whose destructor runs when the call is
// finally released (§4.10's "context slots").
type ContextIndex int

const (
	ContextTracing ContextIndex = iota
	ContextStats
	ContextUser

	numContextSlots
)

type contextSlot struct {
	value   any
	destroy func(any)
}

// Channel stands in for the per-channel configuration a call is created
// against: the filter-stack factory, arena sizing hint, and which
// composite compression algorithms this channel refuses to use.
type Channel struct {
	ArenaSizeHint  int
	NewFilterStack func() transport.FilterStack
	Metrics        *callstats.Metrics // nil is a valid no-op collector

	mu                 sync.Mutex
	disabledAlgos      map[CompositeAlgorithm]bool
	defaultSendAlgo    CompositeAlgorithm
	defaultSendAlgoSet bool
}

func NewChannel(newStack func() transport.FilterStack) *Channel {
	return &Channel{NewFilterStack: newStack, disabledAlgos: make(map[CompositeAlgorithm]bool)}
}

// SetMetrics attaches a callstats.Metrics collector; every Call created
// against this channel afterwards reports through it.
func (ch *Channel) SetMetrics(m *callstats.Metrics) { ch.Metrics = m }

func (ch *Channel) DisableAlgorithm(a CompositeAlgorithm) {
	ch.mu.Lock()
	ch.disabledAlgos[a] = true
	ch.mu.Unlock()
}

func (ch *Channel) isAlgorithmDisabled(a CompositeAlgorithm) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.disabledAlgos[a]
}

// SetDefaultSendAlgorithm sets the composite algorithm new calls on this
// channel compress outgoing messages with, absent a per-op override.
func (ch *Channel) SetDefaultSendAlgorithm(a CompositeAlgorithm) {
	ch.mu.Lock()
	ch.defaultSendAlgo, ch.defaultSendAlgoSet = a, true
	ch.mu.Unlock()
}

// defaultSendAlgorithm returns the channel's explicit default, or the
// process-wide cmn.GCO default if this channel never set one.
func (ch *Channel) defaultSendAlgorithm() CompositeAlgorithm {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.defaultSendAlgoSet {
		return ch.defaultSendAlgo
	}
	return CompositeAlgorithm(cmn.GCO.Get().DefaultCompression)
}

// Call is the per-RPC state machine: it owns an arena, a combiner, a
// status arbiter, the inbound race gate, and the per-slot batch-in-flight
// guards, and exclusively drives one transport.FilterStack for its whole
// lifetime (§3, §4.10).
type Call struct {
	id       string
	isClient bool
	channel  *Channel
	arena    *memsys.Arena
	combiner *Combiner

	filterStack transport.FilterStack
	cq          transport.CompletionQueue

	deadline atomic.Int64 // unix nano

	extraSendMD []transport.KV // e.g. :path, length bounded small

	sendInitialMD  transport.MetadataBatch
	recvInitialMD  transport.MetadataBatch
	recvTrailingMD transport.MetadataBatch

	recvMessageBuf *RecvBuffer

	sendComposite  CompositeAlgorithm
	recvComposite  CompositeAlgorithm
	recvMsgAlgo    MessageAlgorithm
	recvStreamAlgo StreamAlgorithm
	peerAccepted   acceptedSet

	raceGate        InboundRaceGate
	arbiter         StatusArbiter
	metadataFilters MetadataFilters
	receiver        MessageReceiver
	pendingStream   transport.ByteStream

	sentInitialMetadata     atomic.Bool
	sentFinalOp             atomic.Bool
	receivedInitialMetadata atomic.Bool
	requestedFinalOp        atomic.Bool
	receivedFinalOp         atomic.Bool
	hasCancelled            atomic.Bool

	slotSem [numSlots]*semaphore.Weighted

	activeRecvInitialBCtl atomic.Pointer[BatchControl]
	activeRecvMessageBCtl atomic.Pointer[BatchControl]

	bctlPool sync.Pool

	contextSlots [numContextSlots]contextSlot

	parent atomic.Pointer[parentCall]
	child  *childCall

	extRef atomic.Int32
	intRef atomic.Int32

	peerString atomic.Pointer[string]

	finalStatusOut *StatusResult
	cancelledOut   *bool

	idleTimer *time.Timer
}

// CreateArgs bundles the arguments to Create (§4.10).
type CreateArgs struct {
	IsClient        bool
	Channel         *Channel
	Parent          *Call
	PropagationMask PropagationMask
	Deadline        time.Time
	Path            string // client calls only, carried as an extra initial-metadata element
	CompletionQueue transport.CompletionQueue
}

// Create allocates a new call bound to channel, optionally as a child of
// parent, and asks the filter stack to initialize its own per-call
// storage. A filter-stack Init failure cancels the call rather than
// failing Create outright, matching how every other async failure in this
// package is reported (§4.10).
func Create(args CreateArgs) (*Call, error) {
	if err := validatePropagation(args.PropagationMask); err != nil {
		return nil, err
	}
	if args.Parent != nil && args.PropagationMask == 0 {
		args.PropagationMask = DefaultPropagation
	}

	arenaHint := args.Channel.ArenaSizeHint
	if arenaHint == 0 {
		arenaHint = cmn.GCO.Get().ArenaSizeHint
	}
	c := &Call{
		id:       cos.GenUUID(),
		isClient: args.IsClient,
		channel:  args.Channel,
		arena:    memsys.NewArena(arenaHint),
		combiner: NewCombinerWithMetrics(args.Channel.Metrics),
		cq:       args.CompletionQueue,
	}
	c.sendComposite = args.Channel.defaultSendAlgorithm()
	for i := range c.slotSem {
		c.slotSem[i] = semaphore.NewWeighted(1)
	}
	c.extRef.Store(1)
	c.intRef.Store(1)
	c.sendInitialMD = transport.NewMetadata()

	if !args.Deadline.IsZero() {
		c.deadline.Store(args.Deadline.UnixNano())
		c.sendInitialMD.SetDeadline(args.Deadline.UnixNano())
	} else {
		c.deadline.Store(math.MaxInt64)
	}
	if args.IsClient && args.Path != "" {
		c.extraSendMD = append(c.extraSendMD, transport.KV{Key: ":path", Value: args.Path})
	}

	c.filterStack = args.Channel.NewFilterStack()
	c.filterStack.Watch(c.onInitialMetadataReady, c.onMessageReady)

	if args.Parent != nil {
		if err := attach(args.Parent, c, args.PropagationMask); err != nil {
			return nil, err
		}
	}

	if err := c.filterStack.Init(c.deadline.Load()); err != nil {
		c.CancelWithError(SourceSurface, err)
	}
	c.metrics().IncActiveCalls()

	if idle := cmn.GCO.Get().IdleTeardown; idle > 0 {
		c.Ref()
		c.idleTimer = time.AfterFunc(idle, func() {
			if !c.receivedFinalOp.Load() {
				c.CancelWithStatus(SourceSurface, codes.DeadlineExceeded, "call idle-teardown timeout")
			}
			c.Unref()
		})
	}
	return c, nil
}

func (c *Call) ID() string     { return c.id }
func (c *Call) IsClient() bool { return c.isClient }

func (c *Call) metrics() *callstats.Metrics { return c.channel.Metrics }

// Ref bumps the external refcount: the application holds one ref per
// outstanding reference to the call object.
func (c *Call) Ref() { c.extRef.Add(1) }

// Unref drops one external ref. Reaching zero after initial metadata was
// sent but before the final op completed cancels the call - an application
// that drops its last reference mid-RPC is asking for it to stop (§4.10).
// A call that never sent initial metadata is not cancelled here, even if
// it has other batches (e.g. receive-only ones) outstanding.
func (c *Call) Unref() {
	if c.extRef.Add(-1) != 0 {
		return
	}
	if c.child != nil {
		detach(c.child)
	}
	if c.sentInitialMetadata.Load() && !c.receivedFinalOp.Load() {
		c.CancelWithError(SourceSurface, status.New(codes.Canceled, "call unreferenced before completion").Err())
	}
	c.unrefInternal()
}

func (c *Call) unrefInternal() {
	if c.intRef.Add(-1) != 0 {
		return
	}
	c.arbiter.FinalStatus(c.isClient) // force resolution before teardown
	c.filterStack.Destroy()
	c.metrics().DecActiveCalls()
	go c.release()
}

// release runs the async teardown step: destroy context slots in reverse
// slot-index order, then free the arena (§4.10).
func (c *Call) release() {
	for i := int(numContextSlots) - 1; i >= 0; i-- {
		if d := c.contextSlots[i].destroy; d != nil {
			d(c.contextSlots[i].value)
		}
	}
	c.arena.Release()
}

func (c *Call) acquireBctl() *BatchControl {
	if v := c.bctlPool.Get(); v != nil {
		return v.(*BatchControl)
	}
	return &BatchControl{}
}

func (c *Call) releaseBctl(b *BatchControl) { c.bctlPool.Put(b) }

// CancelWithError records err on the arbiter under source, wakes anything
// waiting via the combiner's notify-on-cancel, and issues a CANCEL_STREAM
// sub-batch to the filter stack so it can unwind in-flight ops promptly.
func (c *Call) CancelWithError(source ArbiterSource, err error) {
	if err == nil {
		return
	}
	c.hasCancelled.Store(true)
	c.metrics().RecordCancellation(source.String())
	c.Ref()
	c.combiner.Cancel(err)
	c.recordArbiterWrite(source, err)

	b := &transport.Batch{CancelError: err}
	b.Set(transport.CancelStream)
	b.OnComplete = func(error) {
		c.combiner.Stop("cancel complete")
		c.Unref()
	}
	c.combiner.Start(func() {
		c.filterStack.Submit(b)
	}, err, "cancel_with_error")
}

func (c *Call) CancelWithStatus(source ArbiterSource, code codes.Code, description string) {
	c.CancelWithError(source, status.New(code, description).Err())
}

// recordArbiterWrite records err onto the arbiter and reports the write to
// metrics, regardless of whether this source's slot was already occupied
// (the arbiter itself enforces first-writer-wins; metrics count attempts).
func (c *Call) recordArbiterWrite(source ArbiterSource, err error) {
	c.arbiter.Record(source, err)
	c.metrics().RecordArbiterWrite(source.String())
}

func (c *Call) recordArbiterStatus(source ArbiterSource, code codes.Code, msg string) {
	c.arbiter.RecordStatus(source, code, msg)
	c.metrics().RecordArbiterWrite(source.String())
}

// onInitialMetadataReady is one of the filter stack's two Watch
// continuations (§4.5).
func (c *Call) onInitialMetadataReady(md transport.MetadataBatch, err error) {
	bctl := c.activeRecvInitialBCtl.Swap(nil)
	if bctl == nil {
		return // spurious callback with no armed batch; nothing to report to
	}
	if err != nil {
		bctl.AddError(err)
	} else {
		c.metadataFilters.Initial(md, c)
		validateCompression(c)
	}
	if deferred := c.raceGate.OnInitialMetadataReady(); deferred != nil {
		s := c.pendingStream
		c.pendingStream = nil
		c.receiver.Receive(c, deferred, s)
	}
	bctl.finishStep()
}

// onMessageReady is the filter stack's other Watch continuation (§4.5).
func (c *Call) onMessageReady(s transport.ByteStream, err error) {
	bctl := c.activeRecvMessageBCtl.Swap(nil)
	if bctl == nil {
		return
	}
	if err != nil {
		bctl.AddError(err)
		bctl.finishStep()
		return
	}
	// store the stream before the gate publishes bctl, so the metadata
	// path that picks up the deferred bctl always finds the stream too.
	c.pendingStream = s
	if c.raceGate.OnMessageReady(bctl) {
		return
	}
	c.pendingStream = nil
	c.receiver.Receive(c, bctl, s)
}

// finishTrailing runs as a BatchControl's onTrailingDone hook: it applies
// the trailing metadata filter, resolves the call's final status, fans
// cancellation out to any still-attached children, and replaces the
// batch's own consolidated error with OK - the final status is reported
// through finalStatusOut/cancelledOut, not the transport-error channel
// (§4.9, §7).
func (c *Call) finishTrailing(bctl *BatchControl) {
	c.metadataFilters.Trailing(bctl.tbatch.RecvTrailing, c)
	c.receivedFinalOp.Store(true)

	if c.idleTimer != nil && c.idleTimer.Stop() {
		c.Unref() // timer will never fire now; release the ref it held
	}

	fs := c.arbiter.FinalStatus(c.isClient)
	if c.isClient && c.finalStatusOut != nil {
		*c.finalStatusOut = StatusResult{Code: fs.Code(), Message: fs.Message()}
	}
	if !c.isClient && c.cancelledOut != nil {
		*c.cancelledOut = fs.Code() != codes.OK
	}

	onParentFinalOp(c)
}

// ContextSet stores value in slot idx, running the previous occupant's
// destructor (if any) immediately rather than waiting for release.
func (c *Call) ContextSet(idx ContextIndex, value any, destroy func(any)) {
	old := c.contextSlots[idx]
	c.contextSlots[idx] = contextSlot{value: value, destroy: destroy}
	if old.destroy != nil {
		old.destroy(old.value)
	}
}

func (c *Call) ContextGet(idx ContextIndex) any { return c.contextSlots[idx].value }

func (c *Call) GetPeer() string {
	if p := c.peerString.Load(); p != nil {
		return *p
	}
	return ""
}

func (c *Call) SetPeer(s string) { c.peerString.Store(&s) }

func (c *Call) peerAcceptsAlgo(a CompositeAlgorithm) bool { return c.peerAccepted.has(a) }

func (c *Call) warnf(format string, args ...any) {
	nlog.Warningf("call %s: "+format, append([]any{c.id}, args...)...)
}

// AppInitialMetadata returns whatever the peer's initial metadata reserved
// headers didn't consume, once RECV_INITIAL_METADATA has completed.
func (c *Call) AppInitialMetadata() transport.MetadataBatch { return c.recvInitialMD }

// AppTrailingMetadata is AppInitialMetadata's trailing-side counterpart.
func (c *Call) AppTrailingMetadata() transport.MetadataBatch { return c.recvTrailingMD }

// AppRecvMessage returns the most recently completed RECV_MESSAGE payload.
func (c *Call) AppRecvMessage() *RecvBuffer { return c.recvMessageBuf }

func (c *Call) String() string {
	return fmt.Sprintf("call[%s,client=%v]", c.id, c.isClient)
}
