package call

import (
	"fmt"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PropagationMask selects which properties of a parent call a child call
// inherits at creation.
type PropagationMask uint8

const (
	PropagateDeadline PropagationMask = 1 << iota
	PropagateCensusStats
	PropagateCensusTracing
	PropagateCancellation

	DefaultPropagation = PropagateDeadline | PropagateCensusStats | PropagateCensusTracing | PropagateCancellation
)

func validatePropagation(mask PropagationMask) error {
	if mask&PropagateCensusTracing != 0 && mask&PropagateCensusStats == 0 {
		return fmt.Errorf("call: CENSUS_TRACING propagation requires CENSUS_STATS")
	}
	return nil
}

// parentCall is lazily allocated the first time a call is actually used as
// a parent, and published via CAS onto Call.parent so the common case (no
// children ever attached) costs nothing.
type parentCall struct {
	mu    sync.Mutex
	first *childCall // ring anchor; nil if no children
}

// childCall is the ring-link node for one parent-child relationship. It
// lives on the child, not the parent: a call can be a child of at most one
// parent, but a parent may have arbitrarily many children.
type childCall struct {
	parent                *Call
	self                  *Call
	prev, next            *childCall
	cancellationInherited bool
}

// attach wires child under parent according to mask. Only client calls may
// have a server call as their parent (a server call propagating into
// further, outbound client calls is the only sanctioned shape here).
func attach(parent, child *Call, mask PropagationMask) error {
	if err := validatePropagation(mask); err != nil {
		return err
	}
	if parent.isClient || !child.isClient {
		return fmt.Errorf("call: only client calls may have a server call as parent")
	}

	pc := parent.ensureParentCall()

	pc.mu.Lock()
	cc := &childCall{parent: parent, self: child}
	if pc.first == nil {
		cc.prev, cc.next = cc, cc
		pc.first = cc
	} else {
		tail := pc.first.prev
		cc.prev, cc.next = tail, pc.first
		tail.next = cc
		pc.first.prev = cc
	}
	child.child = cc

	if mask&PropagateDeadline != 0 {
		if pd := parent.deadline.Load(); pd < child.deadline.Load() {
			child.deadline.Store(pd)
			child.sendInitialMD.SetDeadline(pd)
		}
	}
	if mask&(PropagateCensusStats|PropagateCensusTracing) != 0 {
		if mask&PropagateCensusStats != 0 {
			child.ContextSet(ContextStats, parent.ContextGet(ContextStats), nil)
		}
		if mask&PropagateCensusTracing != 0 {
			child.ContextSet(ContextTracing, parent.ContextGet(ContextTracing), nil)
		}
	}
	immediateCancel := false
	if mask&PropagateCancellation != 0 {
		cc.cancellationInherited = true
		immediateCancel = parent.receivedFinalOp.Load()
	}
	pc.mu.Unlock()

	if immediateCancel {
		child.CancelWithStatus(SourceAPIOverride, codes.Canceled, "parent call already finished")
	}
	return nil
}

// detach unlinks child from its parent's ring; safe to call at most once,
// from Unref's teardown path.
func detach(cc *childCall) {
	pc := cc.parent.ensureParentCall()
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if cc.next == cc {
		pc.first = nil
	} else {
		cc.prev.next = cc.next
		cc.next.prev = cc.prev
		if pc.first == cc {
			pc.first = cc.next
		}
	}
	cc.prev, cc.next = nil, nil
}

// onParentFinalOp runs when a call's trailing-metadata batch completes: any
// still-attached child with cancellation inherited is cancelled immediately
// rather than left to complete (or not) on its own schedule (§4.3/§4.9).
func onParentFinalOp(parent *Call) {
	pc := parent.parent.Load()
	if pc == nil {
		return
	}
	pc.mu.Lock()
	var toCancel []*Call
	if pc.first != nil {
		start := pc.first
		for cur := start; ; {
			if cur.cancellationInherited {
				cur.self.Ref()
				toCancel = append(toCancel, cur.self)
			}
			cur = cur.next
			if cur == start {
				break
			}
		}
	}
	pc.mu.Unlock()

	st := status.New(codes.Canceled, "parent call finished")
	for _, c := range toCancel {
		c.CancelWithError(SourceAPIOverride, st.Err())
		c.Unref()
	}
}

func (c *Call) ensureParentCall() *parentCall {
	for {
		if pc := c.parent.Load(); pc != nil {
			return pc
		}
		c.parent.CompareAndSwap(nil, &parentCall{})
	}
}
