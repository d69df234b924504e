package markduplicates

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
)

// diagnosticsWriter writes one tab-separated line per written record. Paths
// ending in .gz are gzip compressed, paths ending in .sz snappy framed.
// Thread safe.
type diagnosticsWriter struct {
	mu   sync.Mutex
	path string
	out  file.File
	// comp is the compressor between w and out, if any.
	comp   io.WriteCloser
	w      *bufio.Writer
	closed bool
}

func newDiagnosticsWriter(ctx context.Context, path, runID string) (*diagnosticsWriter, error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.E(err, "create diagnostics file", path)
	}
	d := &diagnosticsWriter{path: path, out: out}
	var w io.Writer = out.Writer(ctx)
	switch {
	case strings.HasSuffix(path, ".gz"):
		d.comp = gzip.NewWriter(w)
		w = d.comp
	case strings.HasSuffix(path, ".sz"):
		d.comp = snappy.NewBufferedWriter(w)
		w = d.comp
	}
	d.w = bufio.NewWriter(w)
	if _, err := fmt.Fprintf(d.w, "# run %s\nNAME\tFLAGS\tREF\tPOS\tSTATUS\tSET_ID\tSET_SIZE\tOPTICAL\tUMI\n", runID); err != nil {
		return nil, errors.E(err, "write diagnostics header", path)
	}
	return d, nil
}

func (d *diagnosticsWriter) record(r *sam.Record, dec decision) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := fmt.Fprintf(d.w, "%s\t%d\t%s\t%d\t%v\t%s\t%d\t%v\t%s\n",
		r.Name, r.Flags, r.Ref.Name(), r.Pos+1, dec.status, dec.setID, dec.setSize, dec.optical, dec.correctedUMI)
	return err
}

func (d *diagnosticsWriter) close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.w.Flush()
	if d.comp != nil {
		if err2 := d.comp.Close(); err == nil {
			err = err2
		}
	}
	if err2 := d.out.Close(ctx); err == nil {
		err = err2
	}
	d.closed = true
	if err != nil {
		return errors.E(err, "close diagnostics file", d.path)
	}
	return nil
}

// discard drops the diagnostics of a failed run. A file that was already
// closed is removed.
func (d *diagnosticsWriter) discard(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		if err := file.Remove(ctx, d.path); err != nil {
			log.Error.Printf("remove diagnostics file %s: %v", d.path, err)
		}
		return
	}
	if d.comp != nil {
		_ = d.comp.Close()
	}
	d.out.Discard(ctx)
	d.closed = true
}
