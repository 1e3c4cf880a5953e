// Package call implements the core of a bidirectional RPC call object: the
// per-call state machine that mediates between an application's
// batch-oriented surface API and an underlying filter/transport stack
// (see transport.FilterStack).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package call

import (
	"google.golang.org/grpc/codes"
)

// ArbiterSource identifies who is recording a status onto a call's
// StatusArbiter. Priority is the declaration order below: API_OVERRIDE
// outranks everything, SERVER_STATUS is the weakest.
type ArbiterSource int

const (
	SourceAPIOverride ArbiterSource = iota
	SourceWire
	SourceCore
	SourceSurface
	SourceServerStatus

	numSources
)

func (s ArbiterSource) String() string {
	switch s {
	case SourceAPIOverride:
		return "api-override"
	case SourceWire:
		return "wire"
	case SourceCore:
		return "core"
	case SourceSurface:
		return "surface"
	case SourceServerStatus:
		return "server-status"
	default:
		return "unknown-source"
	}
}

// arbiterOrder is the priority list FinalStatus walks, highest first.
var arbiterOrder = [numSources]ArbiterSource{
	SourceAPIOverride, SourceWire, SourceCore, SourceSurface, SourceServerStatus,
}

// Slot identifies one of the six surface op kinds that may have at most
// one outstanding batch in flight at a time (BatchTranslator, §4.4/§4.6).
type Slot int

const (
	SlotSendInitialMetadata Slot = iota
	SlotSendMessage
	SlotSendCloseOrStatus
	SlotRecvInitialMetadata
	SlotRecvMessage
	SlotRecvCloseOrStatus

	numSlots
)

func (s Slot) String() string {
	switch s {
	case SlotSendInitialMetadata:
		return "send-initial-metadata"
	case SlotSendMessage:
		return "send-message"
	case SlotSendCloseOrStatus:
		return "send-close-or-status"
	case SlotRecvInitialMetadata:
		return "recv-initial-metadata"
	case SlotRecvMessage:
		return "recv-message"
	case SlotRecvCloseOrStatus:
		return "recv-close-or-status"
	default:
		return "unknown-slot"
	}
}

// StatusCode is the translator's own verdict on a StartBatch call, distinct
// from the RPC status codes an arbiter arbitrates (those travel over the
// wire; this one never does).
type StatusCode int

const (
	StatusOK StatusCode = iota
	StatusErrorRollback     // one op in the batch is invalid; nothing was dispatched
	StatusTooManyOperations // a slot already has an outstanding batch, or a once-per-call op was already submitted
	StatusInvalidFlags
)

func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "ok"
	case StatusErrorRollback:
		return "error"
	case StatusTooManyOperations:
		return "too-many-operations"
	case StatusInvalidFlags:
		return "invalid-flags"
	default:
		return "unknown-status-code"
	}
}

// StatusResult is what RECV_STATUS_ON_CLIENT eventually writes.
type StatusResult struct {
	Code    codes.Code
	Message string
}

// codeFromInt maps a decoded grpc-status integer to codes.Code, falling
// back to Unknown for anything outside the defined range rather than
// silently wrapping or panicking.
func codeFromInt(n int) codes.Code {
	if n < 0 || n > int(codes.Unauthenticated) {
		return codes.Unknown
	}
	return codes.Code(n)
}
