package run

import (
	"bytes"
	"io"
	"sync"
)

// Sink is the process-wide log sink a run writes into. It captures every
// byte for the job log and tees to an output writer. Reset is invoked
// once at run start so output produced before the run never lands in the
// job's log.
//
// A failing tee target never fails a Write: the drains must keep
// consuming the child's pipes, otherwise the child blocks on a full
// pipe and the run hangs.
type Sink struct {
	mu     sync.Mutex
	out    io.Writer
	buf    bytes.Buffer
	teeErr error
}

// NewSink creates a sink teeing to out. A nil out only captures.
func NewSink(out io.Writer) *Sink {
	return &Sink{out: out}
}

// Reset clears everything captured so far.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
}

func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(p)
	if s.out != nil {
		if _, err := s.out.Write(p); err != nil && s.teeErr == nil {
			s.teeErr = err
		}
	}
	return len(p), nil
}

// TeeErr returns the first error the tee target reported, if any. The
// captured log is complete regardless.
func (s *Sink) TeeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teeErr
}

// Bytes returns a copy of everything captured since the last Reset.
func (s *Sink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}
