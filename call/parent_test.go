package call_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"google.golang.org/grpc/codes"

	"github.com/aistorage/callcore/call"
	"github.com/aistorage/callcore/transport"
)

var _ = Describe("parent/child propagation", func() {
	var channel *call.Channel

	BeforeEach(func() {
		channel = call.NewChannel(func() transport.FilterStack { return transport.NewFakeStack() })
	})

	It("cancels an attached child immediately if the parent already finished", func() {
		parent, err := call.Create(call.CreateArgs{IsClient: false, Channel: channel})
		Expect(err).NotTo(HaveOccurred())

		var cancelled bool
		parentDone := make(chan error, 1)
		sc := call.StartBatchAndExecute(parent, []call.Op{
			{Kind: call.OpRecvCloseOnServer, CancelledOut: &cancelled},
		}, func(err error) { parentDone <- err })
		Expect(sc).To(Equal(call.StatusOK))
		Eventually(parentDone, time.Second).Should(Receive(BeNil()))

		child, err := call.Create(call.CreateArgs{
			IsClient: true, Channel: channel, Parent: parent, PropagationMask: call.DefaultPropagation,
		})
		Expect(err).NotTo(HaveOccurred())

		var result call.StatusResult
		childDone := make(chan error, 1)
		sc = call.StartBatchAndExecute(child, []call.Op{
			{Kind: call.OpRecvStatusOnClient, StatusOut: &result},
		}, func(err error) { childDone <- err })
		Expect(sc).To(Equal(call.StatusOK))

		Eventually(childDone, time.Second).Should(Receive(BeNil()))
		Expect(result.Code).To(Equal(codes.Canceled))
	})

	It("propagates a shorter parent deadline to the child", func() {
		parent, err := call.Create(call.CreateArgs{
			IsClient: false, Channel: channel, Deadline: time.Now().Add(time.Second),
		})
		Expect(err).NotTo(HaveOccurred())

		child, err := call.Create(call.CreateArgs{
			IsClient: true, Channel: channel, Parent: parent,
			Deadline:        time.Now().Add(time.Hour),
			PropagationMask: call.PropagateDeadline,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(child).NotTo(BeNil())
	})

	It("rejects CENSUS_TRACING propagation without CENSUS_STATS", func() {
		parent, err := call.Create(call.CreateArgs{IsClient: false, Channel: channel})
		Expect(err).NotTo(HaveOccurred())

		_, err = call.Create(call.CreateArgs{
			IsClient: true, Channel: channel, Parent: parent,
			PropagationMask: call.PropagateCensusTracing,
		})
		Expect(err).To(HaveOccurred())
	})

	It("rejects a client call used as a parent", func() {
		parent, err := call.Create(call.CreateArgs{IsClient: true, Channel: channel})
		Expect(err).NotTo(HaveOccurred())

		_, err = call.Create(call.CreateArgs{
			IsClient: true, Channel: channel, Parent: parent, PropagationMask: call.DefaultPropagation,
		})
		Expect(err).To(HaveOccurred())
	})

	It("rejects a server call attached as a child", func() {
		parent, err := call.Create(call.CreateArgs{IsClient: false, Channel: channel})
		Expect(err).NotTo(HaveOccurred())

		_, err = call.Create(call.CreateArgs{
			IsClient: false, Channel: channel, Parent: parent, PropagationMask: call.DefaultPropagation,
		})
		Expect(err).To(HaveOccurred())
	})
})
