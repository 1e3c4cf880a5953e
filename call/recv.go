package call

import (
	"io"

	"github.com/aistorage/callcore/transport"
)

// RecvBuffer accumulates the chunks MessageReceiver pulls off a ByteStream
// into one logical inbound message, plus whatever compression metadata
// applies to it.
type RecvBuffer struct {
	chunks    [][]byte
	total     int
	Composite CompositeAlgorithm
}

func (b *RecvBuffer) append(p []byte) {
	b.chunks = append(b.chunks, p)
	b.total += len(p)
}

// Bytes concatenates every chunk. Cheap to call once; callers that care
// about allocation churn should decompress straight from the chunk list
// instead, but the core doesn't need that sophistication.
func (b *RecvBuffer) Bytes() []byte {
	out := make([]byte, 0, b.total)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// MessageReceiver pulls a ByteStream to completion into a RecvBuffer,
// re-arming itself on the stream's Next continuation when bytes aren't
// immediately available, and reports completion back through the owning
// BatchControl exactly once (§4.8). It never allocates a goroutine per
// pull: pull -> maybe-continuation -> pull is fully iterative via Next's
// callback.
type MessageReceiver struct{}

func (MessageReceiver) Receive(c *Call, bctl *BatchControl, s transport.ByteStream) {
	buf := &RecvBuffer{Composite: c.recvComposite}

	var loop func()
	loop = func() {
		for {
			length := s.Length()
			if length != transport.SizeUnknown && int64(buf.total) >= length {
				s.Destroy()
				c.recvMessageBuf = buf
				bctl.finishStep()
				return
			}
			want := 1 << 20
			if length != transport.SizeUnknown {
				want = int(length) - buf.total
			}
			if !s.Next(want, loop) {
				// continuation armed; Next will call loop() again once
				// more bytes are ready.
				return
			}
			p, err := s.Pull()
			if err != nil {
				if err == io.EOF && length == transport.SizeUnknown {
					s.Destroy()
					c.recvMessageBuf = buf
					bctl.finishStep()
					return
				}
				s.Destroy()
				bctl.AddError(err)
				bctl.finishStep()
				return
			}
			buf.append(p)
		}
	}
	loop()
}
