package bamprovider

import (
	"context"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// Sink accepts records in any order from any number of goroutines.
type Sink interface {
	// Write appends r to the output. The sink may retain r.
	Write(r *sam.Record) error
	// Close flushes and finalizes the output.
	Close(ctx context.Context) error
	// Abort discards the output, so that a failed run leaves nothing that
	// looks complete.
	Abort(ctx context.Context) error
}

// BAMSink writes records to a BAM file. Thread safe.
type BAMSink struct {
	path string
	mu   sync.Mutex
	out  file.File
	w    *bam.Writer
}

// NewBAMSink creates the BAM file at path and writes header to it. The
// parallelism is the number of compression goroutines.
func NewBAMSink(ctx context.Context, path string, header *sam.Header, parallelism int) (*BAMSink, error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.E(err, "create output", path)
	}
	w, err := bam.NewWriter(out.Writer(ctx), header, parallelism)
	if err != nil {
		_ = out.Close(ctx)
		return nil, errors.E(err, "create bam writer", path)
	}
	return &BAMSink{path: path, out: out, w: w}, nil
}

// Write implements Sink.
func (s *BAMSink) Write(r *sam.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(r)
}

// Close implements Sink.
func (s *BAMSink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.w.Close()
	if err2 := s.out.Close(ctx); err == nil {
		err = err2
	}
	if err != nil {
		return errors.E(err, "close output", s.path)
	}
	return nil
}

// Abort implements Sink.
func (s *BAMSink) Abort(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Close()
	_ = s.out.Close(ctx)
	return file.Remove(ctx, s.path)
}

// MemSink keeps written records in memory. It is meant for tests and small
// inputs. Thread safe.
type MemSink struct {
	mu      sync.Mutex
	recs    []*sam.Record
	closed  bool
	aborted bool
}

// NewMemSink creates an empty MemSink.
func NewMemSink() *MemSink {
	return &MemSink{}
}

// Write implements Sink.
func (s *MemSink) Write(r *sam.Record) error {
	s.mu.Lock()
	s.recs = append(s.recs, r)
	s.mu.Unlock()
	return nil
}

// Close implements Sink.
func (s *MemSink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Abort implements Sink.
func (s *MemSink) Abort(ctx context.Context) error {
	s.mu.Lock()
	s.aborted = true
	s.recs = nil
	s.mu.Unlock()
	return nil
}

// Records returns the records written so far, in write order.
func (s *MemSink) Records() []*sam.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*sam.Record(nil), s.recs...)
}

// Aborted returns true if Abort was called.
func (s *MemSink) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}
