package fasta

import (
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// File is a Fasta read from a file. Close must be called when done.
type File struct {
	Fasta
	in file.File
}

// Open opens the FASTA file at path. If path+".fai" exists, sequences are
// read on demand through the index. Otherwise the whole file is loaded into
// memory; in that case path may be gzip compressed (".gz").
func Open(ctx context.Context, path string) (*File, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "open reference %s", path)
	}
	if !strings.HasSuffix(path, ".gz") {
		if idx, err := file.Open(ctx, path+".fai"); err == nil {
			fa, err := NewIndexed(in.Reader(ctx), idx.Reader(ctx))
			if err2 := idx.Close(ctx); err == nil {
				err = err2
			}
			if err != nil {
				_ = in.Close(ctx)
				return nil, errors.Wrapf(err, "read index %s.fai", path)
			}
			return &File{Fasta: fa, in: in}, nil
		}
	}
	defer in.Close(ctx) // nolint: errcheck
	var r io.Reader = in.Reader(ctx)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrapf(err, "open reference %s", path)
		}
		defer gz.Close() // nolint: errcheck
		r = gz
	}
	fa, err := New(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read reference %s", path)
	}
	return &File{Fasta: fa}, nil
}

// Close releases the underlying file, if any.
func (f *File) Close(ctx context.Context) error {
	if f.in == nil {
		return nil
	}
	err := f.in.Close(ctx)
	f.in = nil
	return err
}
