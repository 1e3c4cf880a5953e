package call_test

import (
	"sync"
	"testing"
	"time"

	"github.com/aistorage/callcore/call"
)

func TestCombinerRunsOneAtATimeInFIFOOrder(t *testing.T) {
	c := call.NewCombiner()

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	const n = 20
	wg.Add(n)

	for i := 0; i < n; i++ {
		i := i
		c.Start(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			c.Stop("done")
			wg.Done()
		}, nil, "item")
	}

	waitOrTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != n {
		t.Fatalf("got %d completions, want %d", len(order), n)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d (combiner did not serialize FIFO)", i, v, i)
		}
	}
}

func TestCombinerCancelNotifiesArmedContinuation(t *testing.T) {
	c := call.NewCombiner()
	done := make(chan error, 1)
	c.NotifyOnCancel(func(err error) { done <- err })

	boom := testErr("boom")
	c.Cancel(boom)

	select {
	case err := <-done:
		if err != boom {
			t.Fatalf("got %v, want %v", err, boom)
		}
	case <-time.After(time.Second):
		t.Fatal("NotifyOnCancel continuation never ran")
	}
}

func TestCombinerCancelBeforeArmRunsImmediately(t *testing.T) {
	c := call.NewCombiner()
	boom := testErr("already cancelled")
	c.Cancel(boom)

	done := make(chan error, 1)
	c.NotifyOnCancel(func(err error) { done <- err })

	select {
	case err := <-done:
		if err != boom {
			t.Fatalf("got %v, want %v", err, boom)
		}
	case <-time.After(time.Second):
		t.Fatal("NotifyOnCancel armed after cancel never ran")
	}
}

type testErr string

func (e testErr) Error() string { return string(e) }

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for combiner items to complete")
	}
}
