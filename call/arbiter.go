package call

import (
	"sync/atomic"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// statusEntry is what gets published, once, into one of the arbiter's
// five slots. hasClearStatus distinguishes a status explicitly carried by
// the error (its Error() implements GRPCStatus, so status.FromError found
// it) from one we only derived as a fallback (plain error -> codes.Unknown).
type statusEntry struct {
	st             *status.Status
	hasClearStatus bool
}

// StatusArbiter resolves the one status a call ultimately reports from
// however many sources recorded one, by fixed source priority and then by
// whether the recorded status was explicit (§4.1-ish: "lock-free status
// register", five write-once slots, two-pass read).
type StatusArbiter struct {
	slots [numSources]atomic.Pointer[statusEntry]
}

// Record stores err under source, first writer wins: later calls for the
// same source are dropped on the floor. nil err is a no-op.
func (a *StatusArbiter) Record(source ArbiterSource, err error) {
	if err == nil {
		return
	}
	st, ok := status.FromError(err)
	if st == nil {
		st = status.New(codes.Unknown, err.Error())
	}
	a.slots[source].CompareAndSwap(nil, &statusEntry{st: st, hasClearStatus: ok})
}

// RecordStatus is Record's typed-argument sibling, used by code that
// already has a code+message instead of an error (e.g. MetadataFilters
// decoding grpc-status off the wire).
func (a *StatusArbiter) RecordStatus(source ArbiterSource, code codes.Code, msg string) {
	a.slots[source].CompareAndSwap(nil, &statusEntry{st: status.New(code, msg), hasClearStatus: true})
}

// FinalStatus walks sources by priority, preferring explicit-status entries
// over derived ones, and (on the client) treats an all-empty arbiter as
// codes.Unknown rather than codes.OK: silence is not the same as success.
func (a *StatusArbiter) FinalStatus(isClient bool) *status.Status {
	for _, allowOK := range [2]bool{false, true} {
		for _, preferClear := range [2]bool{true, false} {
			for _, src := range arbiterOrder {
				e := a.slots[src].Load()
				if e == nil {
					continue
				}
				if preferClear && !e.hasClearStatus {
					continue
				}
				if !allowOK && e.st.Code() == codes.OK {
					continue
				}
				return e.st
			}
		}
	}
	if isClient {
		return status.New(codes.Unknown, "")
	}
	return status.New(codes.OK, "")
}

// Peek returns the entry recorded for source, if any, without affecting
// future Record calls.
func (a *StatusArbiter) Peek(source ArbiterSource) (*status.Status, bool) {
	e := a.slots[source].Load()
	if e == nil {
		return nil, false
	}
	return e.st, true
}
