package call_test

import (
	"testing"

	"github.com/aistorage/callcore/call"
)

func TestRaceGateMessageFirst(t *testing.T) {
	var g call.InboundRaceGate
	bctl := &call.BatchControl{}

	if deferNow := g.OnMessageReady(bctl); !deferNow {
		t.Fatal("first caller to reach the gate must be told to defer")
	}
	if got := g.OnInitialMetadataReady(); got != bctl {
		t.Fatalf("OnInitialMetadataReady() = %p, want the deferred BatchControl %p", got, bctl)
	}
}

func TestRaceGateMetadataFirst(t *testing.T) {
	var g call.InboundRaceGate

	if got := g.OnInitialMetadataReady(); got != nil {
		t.Fatalf("OnInitialMetadataReady() = %v, want nil (no message pending)", got)
	}
	bctl := &call.BatchControl{}
	if deferNow := g.OnMessageReady(bctl); deferNow {
		t.Fatal("message arriving after metadata must be processed immediately, not deferred")
	}
}
