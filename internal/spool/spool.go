// Package spool buffers a stream in a temporary file that is removed when
// the reader handed back to the consumer is closed.
package spool

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// File is a temporary spool file being filled.
type File struct {
	f *os.File
}

// New creates an empty spool file in dir, or the default temp dir when dir is empty.
func New(dir, pattern string) (*File, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	return &File{f: f}, nil
}

// Write appends to the spool.
func (s *File) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

// Reader rewinds the spool and hands ownership to the returned reader.
// Closing the reader removes the file.
func (s *File) Reader() (io.ReadCloser, error) {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		s.Discard()
		return nil, fmt.Errorf("rewind spool file: %w", err)
	}
	return &reader{f: s.f}, nil
}

// Discard closes and removes the spool without reading it.
func (s *File) Discard() {
	name := s.f.Name()
	_ = s.f.Close()
	_ = os.Remove(name)
}

type reader struct {
	f    *os.File
	once sync.Once
	err  error
}

func (r *reader) Read(p []byte) (int, error) {
	return r.f.Read(p)
}

func (r *reader) Close() error {
	r.once.Do(func() {
		name := r.f.Name()
		r.err = r.f.Close()
		if err := os.Remove(name); err != nil && r.err == nil {
			r.err = err
		}
	})
	return r.err
}
