// Package memsys provides the call-scoped arena allocator: a small,
// append-only, thread-safe pool that groups every allocation belonging to
// one call so they can be released together at call-destroy time. It is a
// deliberately narrow cousin of the teacher's general-purpose slab/SGL
// allocator — sized to what a single call needs rather than to
// cluster-wide buffer reuse.
package memsys

import "sync"

// Arena is bound to exactly one call for its whole lifetime: created in
// CallLifecycle.Create, released on the call's last internal unref.
type Arena struct {
	mu       sync.Mutex
	sizeHint int
	chunks   [][]byte
	released bool
}

func NewArena(sizeHint int) *Arena {
	if sizeHint <= 0 {
		sizeHint = 256
	}
	return &Arena{sizeHint: sizeHint}
}

// Alloc returns an n-byte chunk that lives exactly as long as the arena.
func (a *Arena) Alloc(n int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return make([]byte, n) // defensive: arena already torn down
	}
	b := make([]byte, n)
	a.chunks = append(a.chunks, b)
	return b
}

// Release drops every chunk at once; called exactly once, from the call's
// asynchronous "release" step (CallLifecycle §4.10).
func (a *Arena) Release() {
	a.mu.Lock()
	a.chunks = nil
	a.released = true
	a.mu.Unlock()
}
