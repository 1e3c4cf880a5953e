package call

import (
	"sync/atomic"

	"github.com/aistorage/callcore/cmn/debug"
)

type raceKind int

const (
	raceNone raceKind = iota
	raceInitialMetadataFirst
	raceBatchControl
)

type raceState struct {
	kind raceKind
	bctl *BatchControl
}

// InboundRaceGate resolves the one race the core cannot avoid: initial
// metadata and the first message may both become ready from independent
// transport callbacks, in either order, and the message must never be
// handed to the application before the metadata it rode in with (§4.5). A
// single atomic word carries all three reachable states: NONE,
// INITIAL_METADATA_FIRST (metadata already delivered, nothing to gate),
// or a pointer to the BatchControl a message arrived early for.
type InboundRaceGate struct {
	state atomic.Pointer[raceState]
}

// OnMessageReady is called from the message-ready continuation. It returns
// true if the caller must defer delivery (initial metadata hasn't arrived
// yet - store the stream and return), false if initial metadata already
// won the race and the message should be processed immediately.
func (g *InboundRaceGate) OnMessageReady(bctl *BatchControl) (deferNow bool) {
	st := &raceState{kind: raceBatchControl, bctl: bctl}
	if g.state.CompareAndSwap(nil, st) {
		return true
	}
	cur := g.state.Load()
	debug.Assert(cur != nil && cur.kind == raceInitialMetadataFirst)
	return false
}

// OnInitialMetadataReady is called from the initial-metadata-ready
// continuation. It returns the BatchControl a message was deferred for, if
// any, so the caller can resume message processing for it; nil means no
// message had arrived yet (the gate is now latched at INITIAL_METADATA_FIRST
// for the rest of the call - initial metadata only ever arrives once).
func (g *InboundRaceGate) OnInitialMetadataReady() *BatchControl {
	for {
		cur := g.state.Load()
		if cur == nil {
			if g.state.CompareAndSwap(nil, &raceState{kind: raceInitialMetadataFirst}) {
				return nil
			}
			continue
		}
		debug.Assert(cur.kind == raceBatchControl)
		return cur.bctl
	}
}
