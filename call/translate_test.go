package call_test

import (
	"testing"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/aistorage/callcore/call"
	"github.com/aistorage/callcore/transport"
)

func newChannelAndStack() (*call.Channel, *transport.FakeStack) {
	stack := transport.NewFakeStack()
	ch := call.NewChannel(func() transport.FilterStack { return stack })
	return ch, stack
}

func TestStartBatchEmptyCompletesImmediately(t *testing.T) {
	ch, _ := newChannelAndStack()
	c, err := call.Create(call.CreateArgs{IsClient: true, Channel: ch})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	done := make(chan error, 1)
	if sc := call.StartBatchAndExecute(c, nil, func(err error) { done <- err }); sc != call.StatusOK {
		t.Fatalf("Translate() = %v, want StatusOK", sc)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("empty batch completed with error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("empty batch never completed")
	}
}

func TestStartBatchRejectsSecondOutstandingOnSameSlot(t *testing.T) {
	ch, _ := newChannelAndStack()
	c, err := call.Create(call.CreateArgs{IsClient: true, Channel: ch})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ops := []call.Op{{Kind: call.OpRecvInitialMetadata}}
	// first batch is never resolved (no InjectInitialMetadata call), so the
	// slot stays held for the rest of this test.
	sc := call.StartBatchAndExecute(c, ops, func(error) {})
	if sc != call.StatusOK {
		t.Fatalf("first StartBatchAndExecute = %v, want StatusOK", sc)
	}

	sc2 := call.StartBatchAndExecute(c, ops, func(error) {})
	if sc2 != call.StatusTooManyOperations {
		t.Fatalf("second StartBatchAndExecute on same slot = %v, want StatusTooManyOperations", sc2)
	}
}

func TestStartBatchRejectsSequentialDuplicateSendInitialMetadata(t *testing.T) {
	ch, _ := newChannelAndStack()
	c, err := call.Create(call.CreateArgs{IsClient: true, Channel: ch})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	first := make(chan error, 1)
	sc := call.StartBatchAndExecute(c, []call.Op{{Kind: call.OpSendInitialMetadata}}, func(err error) { first <- err })
	if sc != call.StatusOK {
		t.Fatalf("first StartBatchAndExecute = %v, want StatusOK", sc)
	}
	if err := <-first; err != nil {
		t.Fatalf("first batch completed with error: %v", err)
	}

	// sentInitialMetadata is monotonic for the call's lifetime: a second,
	// sequential (non-overlapping) SEND_INITIAL_METADATA batch must still be
	// rejected, not just a concurrently-outstanding one.
	sc2 := call.StartBatchAndExecute(c, []call.Op{{Kind: call.OpSendInitialMetadata}}, func(error) {})
	if sc2 != call.StatusTooManyOperations {
		t.Fatalf("second sequential SEND_INITIAL_METADATA = %v, want StatusTooManyOperations", sc2)
	}
}

func TestStartBatchRejectsRecvInitialMetadataAfterAlreadyReceived(t *testing.T) {
	ch, stack := newChannelAndStack()
	c, err := call.Create(call.CreateArgs{IsClient: true, Channel: ch})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	first := make(chan error, 1)
	sc := call.StartBatchAndExecute(c, []call.Op{{Kind: call.OpRecvInitialMetadata}}, func(err error) { first <- err })
	if sc != call.StatusOK {
		t.Fatalf("first StartBatchAndExecute = %v, want StatusOK", sc)
	}
	stack.InjectInitialMetadata(transport.NewMetadata(), nil)
	if err := <-first; err != nil {
		t.Fatalf("first batch completed with error: %v", err)
	}

	// receivedInitialMetadata is monotonic: a later batch asking to receive
	// it again must be rejected up front rather than armed against a
	// filter-stack callback that will never fire again.
	sc2 := call.StartBatchAndExecute(c, []call.Op{{Kind: call.OpRecvInitialMetadata}}, func(error) {})
	if sc2 != call.StatusTooManyOperations {
		t.Fatalf("RECV_INITIAL_METADATA after already received = %v, want StatusTooManyOperations", sc2)
	}
}

func TestStartBatchSendThenRecvStatusOnClient(t *testing.T) {
	ch, stack := newChannelAndStack()
	c, err := call.Create(call.CreateArgs{IsClient: true, Channel: ch, Path: "/svc/Method"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sendDone := make(chan error, 1)
	sc := call.StartBatchAndExecute(c, []call.Op{
		{Kind: call.OpSendInitialMetadata},
		{Kind: call.OpSendMessage, SendBuffer: []byte("hello")},
		{Kind: call.OpSendCloseFromClient},
	}, func(err error) { sendDone <- err })
	if sc != call.StatusOK {
		t.Fatalf("send batch Translate() = %v, want StatusOK", sc)
	}
	if err := <-sendDone; err != nil {
		t.Fatalf("send batch completed with error: %v", err)
	}

	var result call.StatusResult
	recvDone := make(chan error, 1)
	trailing := transport.NewMetadata()
	trailing.Set("grpc-status", "0")
	stack.SetTrailing(trailing, nil)

	sc = call.StartBatchAndExecute(c, []call.Op{
		{Kind: call.OpRecvStatusOnClient, StatusOut: &result},
	}, func(err error) { recvDone <- err })
	if sc != call.StatusOK {
		t.Fatalf("recv-status batch Translate() = %v, want StatusOK", sc)
	}
	if err := <-recvDone; err != nil {
		t.Fatalf("recv-status batch completed with error: %v", err)
	}
	if result.Code != codes.OK {
		t.Fatalf("final status = %v, want OK", result.Code)
	}
}

func TestStartBatchRecvMessageRaceEitherOrder(t *testing.T) {
	for _, metadataFirst := range []bool{true, false} {
		ch, stack := newChannelAndStack()
		c, err := call.Create(call.CreateArgs{IsClient: true, Channel: ch})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		mdDone := make(chan error, 1)
		msgDone := make(chan error, 1)
		sc := call.StartBatchAndExecute(c, []call.Op{{Kind: call.OpRecvInitialMetadata}}, func(err error) { mdDone <- err })
		if sc != call.StatusOK {
			t.Fatalf("recv-initial-metadata Translate() = %v", sc)
		}
		sc = call.StartBatchAndExecute(c, []call.Op{{Kind: call.OpRecvMessage}}, func(err error) { msgDone <- err })
		if sc != call.StatusOK {
			t.Fatalf("recv-message Translate() = %v", sc)
		}

		md := transport.NewMetadata()
		stream := transport.NewSliceStream([]byte("payload"))

		if metadataFirst {
			stack.InjectInitialMetadata(md, nil)
			stack.InjectMessage(stream, nil)
		} else {
			stack.InjectMessage(stream, nil)
			stack.InjectInitialMetadata(md, nil)
		}

		for i := 0; i < 2; i++ {
			select {
			case err := <-mdDone:
				if err != nil {
					t.Fatalf("metadataFirst=%v: metadata batch error: %v", metadataFirst, err)
				}
				mdDone = nil
			case err := <-msgDone:
				if err != nil {
					t.Fatalf("metadataFirst=%v: message batch error: %v", metadataFirst, err)
				}
				msgDone = nil
			case <-time.After(time.Second):
				t.Fatalf("metadataFirst=%v: timed out waiting for both batches", metadataFirst)
			}
		}

		if buf := c.AppRecvMessage(); buf == nil || string(buf.Bytes()) != "payload" {
			t.Fatalf("metadataFirst=%v: AppRecvMessage() = %v, want \"payload\"", metadataFirst, buf)
		}
	}
}
