package call

import (
	"bytes"
	"testing"

	"google.golang.org/grpc/codes"

	"github.com/aistorage/callcore/transport"
)

func TestCompositeOf(t *testing.T) {
	tests := []struct {
		msg     MessageAlgorithm
		stream  StreamAlgorithm
		want    CompositeAlgorithm
		wantOK  bool
	}{
		{MsgIdentity, StreamIdentity, CompositeIdentity, true},
		{MsgGzip, StreamIdentity, CompositeGzip, true},
		{MsgIdentity, StreamLZ4, CompositeLZ4, true},
		{MsgGzip, StreamLZ4, 0, false}, // both non-identity: invalid
	}
	for _, tc := range tests {
		got, ok := compositeOf(tc.msg, tc.stream)
		if ok != tc.wantOK {
			t.Fatalf("compositeOf(%v,%v) ok=%v, want %v", tc.msg, tc.stream, ok, tc.wantOK)
		}
		if ok && got != tc.want {
			t.Fatalf("compositeOf(%v,%v) = %v, want %v", tc.msg, tc.stream, got, tc.want)
		}
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, to give the compressor something to chew on")
	for _, algo := range []CompositeAlgorithm{CompositeIdentity, CompositeGzip, CompositeLZ4} {
		packed, err := Compress(algo, payload)
		if err != nil {
			t.Fatalf("Compress(%v): %v", algo, err)
		}
		unpacked, err := Decompress(algo, packed)
		if err != nil {
			t.Fatalf("Decompress(%v): %v", algo, err)
		}
		if !bytes.Equal(unpacked, payload) {
			t.Fatalf("round trip through %v changed the payload", algo)
		}
	}
}

func newTestCall(t *testing.T, ch *Channel) *Call {
	t.Helper()
	c, err := Create(CreateArgs{IsClient: true, Channel: ch})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return c
}

func TestValidateCompressionRejectsBothNonIdentity(t *testing.T) {
	ch := NewChannel(func() transport.FilterStack { return transport.NewFakeStack() })
	c := newTestCall(t, ch)
	c.recvMsgAlgo = MsgGzip
	c.recvStreamAlgo = StreamLZ4

	validateCompression(c)

	st, ok := c.arbiter.Peek(SourceSurface)
	if !ok {
		t.Fatal("expected a SourceSurface status to be recorded")
	}
	if st.Code() != codes.Internal {
		t.Fatalf("got code %v, want Internal", st.Code())
	}
}

func TestValidateCompressionHonorsDisabledAlgorithm(t *testing.T) {
	ch := NewChannel(func() transport.FilterStack { return transport.NewFakeStack() })
	ch.DisableAlgorithm(CompositeGzip)
	c := newTestCall(t, ch)
	c.recvMsgAlgo = MsgGzip
	c.recvStreamAlgo = StreamIdentity

	validateCompression(c)

	if _, ok := c.arbiter.Peek(SourceSurface); !ok {
		t.Fatal("expected a SourceSurface status for a disabled algorithm")
	}
}
