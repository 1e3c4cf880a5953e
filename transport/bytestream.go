package transport

import "io"

// SliceStream is the simplest possible ByteStream: a queue of already
// in-memory slices. It never blocks — Next always reports ready — which
// is enough to drive the core's MessageReceiver and is what the
// translator wraps a SEND_MESSAGE payload in (compare with the teacher's
// slice-buffer send path).
type SliceStream struct {
	slices [][]byte
	i      int
	length int64
}

func NewSliceStream(slices ...[]byte) *SliceStream {
	var n int64
	for _, s := range slices {
		n += int64(len(s))
	}
	return &SliceStream{slices: slices, length: n}
}

func (s *SliceStream) Length() int64 { return s.length }

func (*SliceStream) Next(int, func()) bool { return true }

func (s *SliceStream) Pull() ([]byte, error) {
	if s.i >= len(s.slices) {
		return nil, io.EOF
	}
	b := s.slices[s.i]
	s.i++
	return b, nil
}

func (s *SliceStream) Destroy() { s.slices = nil }
