package call_test

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aistorage/callcore/call"
)

func TestArbiterPriorityOrder(t *testing.T) {
	tests := []struct {
		name   string
		record func(a *call.StatusArbiter)
		client bool
		want   codes.Code
	}{
		{
			name:   "empty arbiter on client is Unknown, not OK",
			record: func(*call.StatusArbiter) {},
			client: true,
			want:   codes.Unknown,
		},
		{
			name:   "empty arbiter on server is OK",
			record: func(*call.StatusArbiter) {},
			client: false,
			want:   codes.OK,
		},
		{
			name: "api-override beats wire",
			record: func(a *call.StatusArbiter) {
				a.Record(call.SourceWire, status.New(codes.Unavailable, "wire").Err())
				a.Record(call.SourceAPIOverride, status.New(codes.Canceled, "override").Err())
			},
			client: true,
			want:   codes.Canceled,
		},
		{
			name: "first writer per source wins",
			record: func(a *call.StatusArbiter) {
				a.Record(call.SourceCore, status.New(codes.Internal, "first").Err())
				a.Record(call.SourceCore, status.New(codes.Aborted, "second").Err())
			},
			client: true,
			want:   codes.Internal,
		},
		{
			name: "explicit status preferred over derived unknown",
			record: func(a *call.StatusArbiter) {
				a.Record(call.SourceCore, errors.New("plain error, no grpc status"))
				a.Record(call.SourceSurface, status.New(codes.DeadlineExceeded, "explicit").Err())
			},
			client: true,
			want:   codes.DeadlineExceeded,
		},
		{
			name: "server-status is weakest",
			record: func(a *call.StatusArbiter) {
				a.Record(call.SourceServerStatus, status.New(codes.Internal, "server").Err())
				a.Record(call.SourceSurface, status.New(codes.ResourceExhausted, "surface").Err())
			},
			client: true,
			want:   codes.ResourceExhausted,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var a call.StatusArbiter
			tc.record(&a)
			got := a.FinalStatus(tc.client)
			if got.Code() != tc.want {
				t.Fatalf("FinalStatus() code = %v, want %v", got.Code(), tc.want)
			}
		})
	}
}

func TestArbiterOKIsOnlyChosenWhenNothingElseApplies(t *testing.T) {
	var a call.StatusArbiter
	a.RecordStatus(call.SourceWire, codes.OK, "")
	if got := a.FinalStatus(false).Code(); got != codes.OK {
		t.Fatalf("FinalStatus() = %v, want OK", got)
	}
	// once a real error is recorded anywhere, it outranks the OK entry
	// even from a higher-priority source, because non-OK codes are
	// preferred in the first full pass.
	a.Record(call.SourceServerStatus, status.New(codes.Internal, "late").Err())
	if got := a.FinalStatus(false).Code(); got != codes.Internal {
		t.Fatalf("FinalStatus() = %v, want Internal", got)
	}
}
