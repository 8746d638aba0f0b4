// Package pipe couples a caller-facing write sink to a single background
// consumer through a bounded in-process pipe.
package pipe

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultBufferSize bounds the bytes buffered between the caller and the consumer.
const DefaultBufferSize = 64 * 1024

// ErrAborted is reported to the consumer when the writer aborts without a cause.
var ErrAborted = errors.New("write aborted")

// Consumer drains r into a backend. It runs on its own goroutine and must
// return once r reports EOF or an error.
type Consumer func(ctx context.Context, r io.Reader) error

// Sink is the write end of a pipe. Writes block once the buffer is full and
// the consumer has not caught up. Close and CloseWithError wait for the
// consumer and return its error.
type Sink struct {
	bw *bufio.Writer
	pw *io.PipeWriter
	g  errgroup.Group

	once sync.Once
	err  error
	n    int64
}

// Start launches consume on a new goroutine and returns the sink feeding it.
func Start(ctx context.Context, size int, consume Consumer) *Sink {
	if size <= 0 {
		size = DefaultBufferSize
	}
	pr, pw := io.Pipe()
	s := &Sink{
		bw: bufio.NewWriterSize(pw, size),
		pw: pw,
	}
	s.g.Go(func() error {
		err := consume(ctx, pr)
		if err != nil {
			pr.CloseWithError(err)
		} else {
			// unblock a writer if the consumer stopped early
			pr.CloseWithError(io.ErrClosedPipe)
		}
		return err
	})
	return s
}

// Write buffers p for the consumer.
func (s *Sink) Write(p []byte) (int, error) {
	n, err := s.bw.Write(p)
	s.n += int64(n)
	return n, err
}

// Written returns the number of bytes accepted by Write.
func (s *Sink) Written() int64 {
	return s.n
}

// Close flushes buffered bytes, signals EOF to the consumer and waits for it.
func (s *Sink) Close() error {
	s.once.Do(func() {
		ferr := s.bw.Flush()
		if ferr != nil {
			s.pw.CloseWithError(ferr)
		} else {
			s.pw.Close()
		}
		s.err = s.g.Wait()
		if s.err == nil && ferr != nil {
			s.err = ferr
		}
	})
	return s.err
}

// CloseWithError aborts the write: the consumer observes cause instead of
// EOF. It waits for the consumer and returns its error.
func (s *Sink) CloseWithError(cause error) error {
	if cause == nil {
		cause = ErrAborted
	}
	s.once.Do(func() {
		s.pw.CloseWithError(cause)
		s.err = s.g.Wait()
	})
	return s.err
}
