package markduplicates

import (
	"bufio"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/snappy"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/dupmark/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsistencyChecker(t *testing.T) {
	c := newConsistencyChecker()
	a, b := NewPair("a", chr1, 10, 0, chr1, 60, sam.Reverse, cigar0, 30)
	s := NewSingle("s", chr1, 10, 0, cigar0, 30)
	for _, r := range []*sam.Record{a, b, s} {
		require.NoError(t, c.processed(r))
	}
	assert.Equal(t, 3, c.check())

	// The duplicate flag and aux fields do not change a record's identity.
	a.Flags |= sam.Duplicate
	a.AuxFields = append(a.AuxFields, NewAux("DI", "a"))
	require.NoError(t, c.written(a))
	require.NoError(t, c.written(b))
	assert.Equal(t, 1, c.check())
	require.NoError(t, c.written(s))
	assert.Equal(t, 0, c.check())

	// Writing a record twice is an error, as is writing an altered record.
	require.NoError(t, c.written(s))
	assert.Equal(t, 1, c.check())
	require.NoError(t, c.processed(s))
	assert.Equal(t, 0, c.check())
	b.Pos++
	require.NoError(t, c.written(b))
	assert.Equal(t, 1, c.check())
}

func readDiagnostics(t *testing.T, path string) []string {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() // nolint: errcheck
	var r io.Reader = f
	switch filepath.Ext(path) {
	case ".gz":
		gz, err := gzip.NewReader(f)
		require.NoError(t, err)
		r = gz
	case ".sz":
		r = snappy.NewReader(f)
	}
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestDiagnostics(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()

	for _, name := range []string{"diag.txt", "diag.gz", "diag.sz"} {
		path := filepath.Join(tempDir, name)
		d, err := newDiagnosticsWriter(ctx, path, "run1")
		require.NoError(t, err)
		r := NewSingle("r", chr1, 10, sam.Duplicate, cigar0, 30)
		require.NoError(t, d.record(r, decision{status: StatusDuplicate, setID: "x", setSize: 2, correctedUMI: "AAA"}))
		require.NoError(t, d.close(ctx))

		lines := readDiagnostics(t, path)
		require.Equal(t, 3, len(lines), name)
		assert.Equal(t, "# run run1", lines[0])
		assert.True(t, strings.HasPrefix(lines[1], "NAME\tFLAGS"), name)
		assert.Equal(t, "r\t1024\tchr1\t11\tduplicate\tx\t2\tfalse\tAAA", lines[2], name)
	}
}

func TestMarkWithDiagnostics(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	opts := defaultOpts
	opts.DiagnosticsFile = filepath.Join(tempDir, "diag.gz")
	opts.CheckConsistency = true
	in := []*sam.Record{basicA1, basicA2, basicB1, basicB2}
	out, mc := RunMark(t, header, in, opts, nil)
	assert.Equal(t, 4, len(out))
	assert.Equal(t, 0, mc.Stats.ConsistencyErrors)

	lines := readDiagnostics(t, opts.DiagnosticsFile)
	require.Equal(t, 6, len(lines))
	assert.Equal(t, "# run "+mc.RunID, lines[0])
	statuses := map[string]int{}
	for _, line := range lines[2:] {
		statuses[strings.Split(line, "\t")[4]]++
	}
	assert.Equal(t, map[string]int{"primary": 2, "duplicate": 2}, statuses)
}

func TestMarkDiscardsDiagnosticsOnError(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	for _, name := range []string{"diag.txt", "diag.gz"} {
		opts := defaultOpts
		opts.DiagnosticsFile = filepath.Join(tempDir, name)
		// A third primary alignment with the same name is an error.
		a3 := NewRecord("A:::1:10:1:1", chr1, 10, r2F, 0, chr1, cigar0)
		sink := bamprovider.NewMemSink()
		m := &MarkDuplicates{
			Provider: bamprovider.NewFakeProvider(header, SortRecords([]*sam.Record{basicA1, basicA2, a3})),
			Sink:     sink,
			Opts:     &opts,
		}
		_, err := m.Mark(vcontext.Background(), nil)
		assert.Error(t, err, name)
		assert.True(t, sink.Aborted(), name)

		entries, err := ioutil.ReadDir(tempDir)
		require.NoError(t, err)
		assert.Empty(t, entries, name)
	}
}

func TestDiagnosticsDiscard(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	path := filepath.Join(tempDir, "diag.sz")

	// A file discarded after it was closed is removed.
	d, err := newDiagnosticsWriter(ctx, path, "run1")
	require.NoError(t, err)
	require.NoError(t, d.record(NewSingle("r", chr1, 10, 0, cigar0, 30), primaryDecision))
	require.NoError(t, d.close(ctx))
	_, err = os.Stat(path)
	require.NoError(t, err)
	d.discard(ctx)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "%v", err)
}
