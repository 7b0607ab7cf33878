package run

import (
	"io"
	"sync"
)

// Attach starts one drain goroutine per output stream. It reads r until
// the producer closes it and forwards each chunk to w, preserving byte
// order within the stream. The returned finalizer blocks until the
// stream is fully flushed; callers must invoke it after the process
// terminates and before reading final job state, otherwise logs may be
// truncated.
//
// An unread pipe fills and blocks the child while the parent blocks on
// wait; attaching both drains before any blocking wait avoids that.
func Attach(r io.Reader, w io.Writer) func() error {
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(w, r)
		done <- err
	}()
	return func() error {
		return <-done
	}
}

// tailWriter keeps the last n bytes written to it, for surfacing a
// stderr tail when a job fails.
type tailWriter struct {
	mu  sync.Mutex
	n   int
	buf []byte
}

func newTailWriter(n int) *tailWriter {
	return &tailWriter{n: n}
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.n {
		t.buf = t.buf[len(t.buf)-t.n:]
	}
	return len(p), nil
}

func (t *tailWriter) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
