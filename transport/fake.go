package transport

import "sync"

// FakeStack is an in-memory FilterStack good enough to drive the call core
// end to end without a real transport: it completes send-side sub-ops
// immediately and lets a test (or the demo CLI) script inbound delivery via
// InjectInitialMetadata / InjectMessage, independently of Submit — exactly
// the asynchrony the real stack's two Watch continuations model.
type FakeStack struct {
	mu         sync.Mutex
	onInitial  func(MetadataBatch, error)
	onMessage  func(ByteStream, error)
	trailing   MetadataBatch
	trailingEr error
	destroyed  bool
}

func NewFakeStack() *FakeStack { return &FakeStack{} }

func (f *FakeStack) Init(int64) error { return nil }

func (f *FakeStack) Watch(onInitial func(MetadataBatch, error), onMessage func(ByteStream, error)) {
	f.mu.Lock()
	f.onInitial, f.onMessage = onInitial, onMessage
	f.mu.Unlock()
}

// SetTrailing pre-arms the trailing metadata (and/or error) the next Submit
// carrying RecvTrailingMetadata will observe.
func (f *FakeStack) SetTrailing(md MetadataBatch, err error) {
	f.mu.Lock()
	f.trailing, f.trailingEr = md, err
	f.mu.Unlock()
}

func (f *FakeStack) Submit(b *Batch) {
	go func() {
		var err error
		if b.Has(RecvTrailingMetadata) {
			f.mu.Lock()
			b.RecvTrailing, err = f.trailing, f.trailingEr
			f.mu.Unlock()
		}
		if b.OnComplete != nil {
			b.OnComplete(err)
		}
	}()
}

// InjectInitialMetadata simulates the stack's initial-metadata-ready
// continuation firing, on its own goroutine, independent of any Submit.
func (f *FakeStack) InjectInitialMetadata(md MetadataBatch, err error) {
	f.mu.Lock()
	cb := f.onInitial
	f.mu.Unlock()
	if cb != nil {
		go cb(md, err)
	}
}

// InjectMessage simulates the stack's message-ready continuation.
func (f *FakeStack) InjectMessage(s ByteStream, err error) {
	f.mu.Lock()
	cb := f.onMessage
	f.mu.Unlock()
	if cb != nil {
		go cb(s, err)
	}
}

func (f *FakeStack) Destroy() {
	f.mu.Lock()
	f.destroyed = true
	f.mu.Unlock()
}
