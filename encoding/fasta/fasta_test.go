package fasta_test

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/dupmark/encoding/fasta"
	"github.com/grailbio/testutil"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fastaData  = ">seq1\n" + "ACGTA\nCGTAC\nGT\n" + ">seq2 A viral sequence\n" + "ACGT\n" + "ACGT\n"
	fastaIndex = "seq1\t12\t6\t5\t6\n" + "seq2\t8\t44\t4\t5\n"
)

func newFastas(t *testing.T) map[string]fasta.Fasta {
	unindexed, err := fasta.New(strings.NewReader(fastaData))
	require.NoError(t, err)
	indexed, err := fasta.NewIndexed(strings.NewReader(fastaData), strings.NewReader(fastaIndex))
	require.NoError(t, err)
	return map[string]fasta.Fasta{"unindexed": unindexed, "indexed": indexed}
}

func TestGet(t *testing.T) {
	tests := []struct {
		seq     string
		start   uint64
		end     uint64
		want    string
		wantErr bool
	}{
		{"seq1", 1, 2, "C", false},
		{"seq1", 1, 6, "CGTAC", false},
		{"seq1", 0, 12, "ACGTACGTACGT", false},
		{"seq1", 10, 12, "GT", false},
		{"seq2", 0, 8, "ACGTACGT", false},
		{"seq2", 2, 5, "GTA", false},
		{"seq0", 0, 1, "", true},
		{"seq1", 10, 13, "", true},
		{"seq1", 4, 3, "", true},
	}
	for name, fa := range newFastas(t) {
		for _, tt := range tests {
			got, err := fa.Get(tt.seq, tt.start, tt.end)
			if tt.wantErr {
				assert.Error(t, err, "%s: %+v", name, tt)
				continue
			}
			assert.NoError(t, err, "%s: %+v", name, tt)
			assert.Equal(t, tt.want, got, "%s: %+v", name, tt)
		}
	}
}

func TestLength(t *testing.T) {
	for name, fa := range newFastas(t) {
		n, err := fa.Len("seq1")
		assert.NoError(t, err)
		assert.EqualValues(t, 12, n, name)
		n, err = fa.Len("seq2")
		assert.NoError(t, err)
		assert.EqualValues(t, 8, n, name)
		_, err = fa.Len("seq0")
		assert.Error(t, err, name)
	}
}

func TestSeqNames(t *testing.T) {
	for name, fa := range newFastas(t) {
		got := append([]string(nil), fa.SeqNames()...)
		sort.Strings(got)
		assert.Equal(t, []string{"seq1", "seq2"}, got, name)
	}
}

func TestBaseAt(t *testing.T) {
	fa, err := fasta.New(strings.NewReader(">chr1\nacgT\n"))
	require.NoError(t, err)
	b, ok := fasta.BaseAt(fa, "chr1", 0)
	assert.True(t, ok)
	assert.Equal(t, byte('A'), b)
	b, ok = fasta.BaseAt(fa, "chr1", 3)
	assert.True(t, ok)
	assert.Equal(t, byte('T'), b)
	_, ok = fasta.BaseAt(fa, "chr1", 4)
	assert.False(t, ok)
	_, ok = fasta.BaseAt(fa, "chr2", 0)
	assert.False(t, ok)
}

func TestMalformed(t *testing.T) {
	_, err := fasta.New(strings.NewReader("ACGT\n>chr1\nACGT\n"))
	assert.Error(t, err)
	_, err = fasta.NewIndexed(strings.NewReader(fastaData), strings.NewReader("seq1\tx\n"))
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	plain := filepath.Join(tempDir, "ref.fa")
	require.NoError(t, writeFile(plain, []byte(fastaData)))
	require.NoError(t, writeFile(plain+".fai", []byte(fastaIndex)))

	var gzData bytes.Buffer
	w := gzip.NewWriter(&gzData)
	_, err := w.Write([]byte(fastaData))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	compressed := filepath.Join(tempDir, "ref.fa.gz")
	require.NoError(t, writeFile(compressed, gzData.Bytes()))

	for _, path := range []string{plain, compressed} {
		fa, err := fasta.Open(ctx, path)
		require.NoError(t, err, path)
		got, err := fa.Get("seq1", 3, 8)
		assert.NoError(t, err)
		assert.Equal(t, "TACGT", got, path)
		assert.NoError(t, fa.Close(ctx))
	}

	_, err = fasta.Open(ctx, filepath.Join(tempDir, "missing.fa"))
	assert.Error(t, err)
}

func writeFile(path string, data []byte) error {
	return ioutil.WriteFile(path, data, 0644)
}
