package call

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v3"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MessageAlgorithm is the per-message ("grpc-encoding") compression
// algorithm a call negotiates.
type MessageAlgorithm int

const (
	MsgIdentity MessageAlgorithm = iota
	MsgGzip
)

// StreamAlgorithm is the per-stream ("content-encoding") compression
// algorithm.
type StreamAlgorithm int

const (
	StreamIdentity StreamAlgorithm = iota
	StreamLZ4
)

// CompositeAlgorithm is the single enumerated algorithm a received message
// is tagged with (RecvBuffer.Composite): the (message, stream) pair resolves
// to exactly one of these, or to nothing at all if the pair is nonsensical.
// MessageReceiver does not decompress; callers use Decompress.
type CompositeAlgorithm int

const (
	CompositeIdentity CompositeAlgorithm = iota
	CompositeGzip
	CompositeLZ4

	numCompositeAlgorithms
)

func (a CompositeAlgorithm) String() string {
	switch a {
	case CompositeIdentity:
		return "identity"
	case CompositeGzip:
		return "gzip"
	case CompositeLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// compositeOf maps a (message, stream) compression pair onto the one
// composite algorithm Decompress knows how to undo. Both legs
// non-identity at once never maps to anything (§4.7 rule 1).
func compositeOf(msg MessageAlgorithm, stream StreamAlgorithm) (CompositeAlgorithm, bool) {
	switch {
	case msg == MsgIdentity && stream == StreamIdentity:
		return CompositeIdentity, true
	case msg == MsgGzip && stream == StreamIdentity:
		return CompositeGzip, true
	case msg == MsgIdentity && stream == StreamLZ4:
		return CompositeLZ4, true
	default:
		return 0, false
	}
}

// validateCompression implements §4.7's ordered checks, canceling the call
// with the mapped source/status on the first one that fails and leaving
// the call uncancelled (but the negotiated algorithm recorded) otherwise.
func validateCompression(c *Call) {
	msg, stream := c.recvMsgAlgo, c.recvStreamAlgo

	composite, ok := compositeOf(msg, stream)
	if !ok {
		c.CancelWithStatus(SourceSurface, codes.Internal,
			"message and stream compression are both non-identity")
		return
	}
	if composite >= numCompositeAlgorithms {
		c.CancelWithStatus(SourceSurface, codes.Unimplemented, "compression algorithm out of range")
		return
	}
	if c.channel.isAlgorithmDisabled(composite) {
		c.CancelWithStatus(SourceSurface, codes.Unimplemented,
			fmt.Sprintf("compression algorithm %s is disabled on this channel", composite))
		return
	}
	if !c.peerAcceptsAlgo(composite) {
		// Not fatal: we can still decode what we receive, we just warn
		// that replying with this algorithm may not be accepted back.
		c.warnf("peer does not advertise support for %s", composite)
	}
	c.recvComposite = composite
}

// Decompress undoes composite on data, using the real codec each
// algorithm maps to (gzip via klauspost/compress, LZ4 via pierrec/lz4).
func Decompress(composite CompositeAlgorithm, data []byte) ([]byte, error) {
	switch composite {
	case CompositeIdentity:
		return data, nil
	case CompositeGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, status.Errorf(codes.Internal, "gzip: %v", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "gzip: %v", err)
		}
		return out, nil
	case CompositeLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "lz4: %v", err)
		}
		return out, nil
	default:
		return nil, status.Errorf(codes.Internal, "unknown composite algorithm %d", composite)
	}
}

// Compress is Decompress's inverse, used on the send path when the
// caller's SEND_MESSAGE op didn't already pre-compress the payload.
func Compress(composite CompositeAlgorithm, data []byte) ([]byte, error) {
	switch composite {
	case CompositeIdentity:
		return data, nil
	case CompositeGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompositeLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("call: unknown composite algorithm %d", composite)
	}
}
