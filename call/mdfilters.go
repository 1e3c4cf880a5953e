package call

import (
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/aistorage/callcore/transport"
)

const (
	hdrContentEncoding    = "content-encoding"
	hdrGRPCEncoding       = "grpc-encoding"
	hdrGRPCAcceptEncoding = "grpc-accept-encoding"
	hdrAcceptEncoding     = "accept-encoding"
	hdrGRPCStatus         = "grpc-status"
	hdrGRPCMessage        = "grpc-message"
)

// acceptedSet is a bitset over CompositeAlgorithm, cached by the raw
// comma-separated header token so repeated identical peers (the overwhelming
// common case - every call from the same client sends the same header)
// don't re-parse it. Cache key is an xxhash of the token (§9: "identify the
// cache entry" without hanging onto the original string forever); this
// resolves the arbiter-of-sameness question the stock implementation left
// to a destructor-identity comparison, which Go has no equivalent of.
type acceptedSet uint8

func (s acceptedSet) has(a CompositeAlgorithm) bool { return s&(1<<uint(a)) != 0 }

var (
	acceptCacheMu sync.RWMutex
	acceptCache   = make(map[uint64]acceptedSet, 8)
)

func parseAcceptedSet(token string) acceptedSet {
	key := xxhash.Sum64String(token)
	acceptCacheMu.RLock()
	if s, ok := acceptCache[key]; ok {
		acceptCacheMu.RUnlock()
		return s
	}
	acceptCacheMu.RUnlock()

	var s acceptedSet
	s |= 1 << uint(CompositeIdentity)
	for _, tok := range strings.Split(token, ",") {
		switch strings.TrimSpace(tok) {
		case "gzip":
			s |= 1 << uint(CompositeGzip)
		case "lz4":
			s |= 1 << uint(CompositeLZ4)
		}
	}

	acceptCacheMu.Lock()
	acceptCache[key] = s
	acceptCacheMu.Unlock()
	return s
}

// MetadataFilters implements the two reserved-header passes every call
// applies to inbound metadata (§4.6): strip and interpret content-encoding
// / grpc-encoding / *accept-encoding on initial metadata, strip and
// interpret grpc-status / grpc-message on trailing metadata, and publish
// whatever's left to the application untouched.
type MetadataFilters struct{}

// Initial consumes the compression-related reserved headers off md,
// records the negotiated algorithms onto c, and leaves everything else for
// the application.
func (MetadataFilters) Initial(md transport.MetadataBatch, c *Call) {
	if v, ok := md.Get(hdrGRPCEncoding); ok {
		md.Remove(hdrGRPCEncoding)
		if v == "gzip" {
			c.recvMsgAlgo = MsgGzip
		}
	}
	if v, ok := md.Get(hdrContentEncoding); ok {
		md.Remove(hdrContentEncoding)
		if v == "lz4" {
			c.recvStreamAlgo = StreamLZ4
		}
	}

	var accepted acceptedSet
	if v, ok := md.Get(hdrGRPCAcceptEncoding); ok {
		md.Remove(hdrGRPCAcceptEncoding)
		accepted |= parseAcceptedSet(v)
	}
	if v, ok := md.Get(hdrAcceptEncoding); ok {
		md.Remove(hdrAcceptEncoding)
		accepted |= parseAcceptedSet(v)
	}
	accepted |= 1 << uint(CompositeIdentity)
	c.peerAccepted = accepted

	c.recvInitialMD = md
	c.receivedInitialMetadata.Store(true)
}

// Trailing consumes grpc-status/grpc-message off md and records the
// explicit wire status onto the arbiter under SourceWire - including an
// explicit OK, so a successful call doesn't fall back to the "silence"
// default of Unknown - then leaves the rest for the application.
func (MetadataFilters) Trailing(md transport.MetadataBatch, c *Call) {
	if md == nil {
		return
	}
	codeStr, hasCode := md.Get(hdrGRPCStatus)
	if hasCode {
		md.Remove(hdrGRPCStatus)
	}
	msg, hasMsg := md.Get(hdrGRPCMessage)
	if hasMsg {
		md.Remove(hdrGRPCMessage)
	}
	if hasCode {
		if n, err := strconv.Atoi(codeStr); err == nil {
			c.recordArbiterStatus(SourceWire, codeFromInt(n), msg)
		}
	}
	c.recvTrailingMD = md
}
