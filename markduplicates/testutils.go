package markduplicates

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/dupmark/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestRecord struct {
	R              *sam.Record
	DupFlag        bool
	ExpectedAuxs   []sam.Aux
	UnexpectedTags []sam.Tag
}

type TestCase struct {
	TRecords []TestRecord
	Opts     Opts
	// Consensus is the number of consensus records expected in addition to
	// TRecords.
	Consensus int
}

func NewRecord(name string, ref *sam.Reference, pos int, flags sam.Flags, matePos int, mateRef *sam.Reference, cigar sam.Cigar) *sam.Record {
	r := sam.GetFromFreePool()
	r.Name = name
	r.Ref = ref
	r.Pos = pos
	r.MatePos = matePos
	r.MateRef = mateRef
	r.Flags = flags
	r.Cigar = cigar
	return r
}

func NewRecordSeq(name string, ref *sam.Reference, pos int, flags sam.Flags, matePos int, mateRef *sam.Reference,
	cigar sam.Cigar, seq, qual string) *sam.Record {
	if len(seq) != len(qual) {
		panic("seq and qual must be equal length")
	}
	r := NewRecord(name, ref, pos, flags, matePos, mateRef, cigar)
	r.Seq = sam.NewSeq([]byte(seq))
	r.Qual = []byte(qual)
	return r
}

func NewRecordAux(name string, ref *sam.Reference, pos int, flags sam.Flags, matePos int, mateRef *sam.Reference,
	cigar sam.Cigar, aux ...sam.Aux) *sam.Record {
	r := NewRecord(name, ref, pos, flags, matePos, mateRef, cigar)
	r.AuxFields = append(r.AuxFields, aux...)
	return r
}

func NewAux(name string, val interface{}) sam.Aux {
	aux, err := sam.NewAux(sam.NewTag(name), val)
	if err != nil {
		panic(fmt.Sprintf("error creating %s %v tag: %v", name, val, err))
	}
	return aux
}

// NewPair returns the two primary alignments of a read pair. Mate fields,
// mate strand flags and MC tags point at each other. Both reads get a
// sequence of length len(cigar's query) with every base quality set to qual.
func NewPair(name string, ref1 *sam.Reference, pos1 int, flags1 sam.Flags,
	ref2 *sam.Reference, pos2 int, flags2 sam.Flags, cigar sam.Cigar, qual byte) (*sam.Record, *sam.Record) {
	a := newTestRead(name, ref1, pos1, flags1|sam.Paired|sam.Read1, cigar, qual)
	b := newTestRead(name, ref2, pos2, flags2|sam.Paired|sam.Read2, cigar, qual)
	a.MateRef, a.MatePos = b.Ref, b.Pos
	b.MateRef, b.MatePos = a.Ref, a.Pos
	if bam.IsReverse(b) {
		a.Flags |= sam.MateReverse
	}
	if bam.IsReverse(a) {
		b.Flags |= sam.MateReverse
	}
	a.AuxFields = append(a.AuxFields, NewAux("MC", b.Cigar.String()))
	b.AuxFields = append(b.AuxFields, NewAux("MC", a.Cigar.String()))
	return a, b
}

// NewSingle returns an unpaired read.
func NewSingle(name string, ref *sam.Reference, pos int, flags sam.Flags, cigar sam.Cigar, qual byte) *sam.Record {
	r := newTestRead(name, ref, pos, flags, cigar, qual)
	r.MatePos = -1
	return r
}

func newTestRead(name string, ref *sam.Reference, pos int, flags sam.Flags, cigar sam.Cigar, qual byte) *sam.Record {
	_, n := cigar.Lengths()
	seq := strings.Repeat("ACGT", n/4+1)[:n]
	q := make([]byte, n)
	for i := range q {
		q[i] = qual
	}
	r := NewRecord(name, ref, pos, flags, -1, nil, cigar)
	r.Seq = sam.NewSeq([]byte(seq))
	r.Qual = q
	return r
}

// SortRecords sorts recs by coordinate, unmapped reads last, the order a
// provider yields them in.
func SortRecords(recs []*sam.Record) []*sam.Record {
	sorted := append([]*sam.Record(nil), recs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return bam.CoordFromRecord(sorted[i]).LT(bam.CoordFromRecord(sorted[j]))
	})
	return sorted
}

// RecordID identifies an input record among the output records.
func RecordID(r *sam.Record) string {
	return fmt.Sprintf("%s/%d/%s/%d", r.Name, r.Flags&(sam.Read1|sam.Read2|sam.Secondary|sam.Supplementary|sam.Unmapped),
		r.Ref.Name(), r.Pos)
}

// RunMark marks duplicates in recs and returns the written records, in
// write order, and the metrics. If partitions is nil, the genome is
// partitioned with opts.PartitionLength.
func RunMark(t *testing.T, header *sam.Header, recs []*sam.Record, opts Opts, partitions []bam.Partition) ([]*sam.Record, *MetricsCollection) {
	ctx := vcontext.Background()
	sink := bamprovider.NewMemSink()
	markDuplicates := &MarkDuplicates{
		Provider: bamprovider.NewFakeProvider(header, SortRecords(recs)),
		Sink:     sink,
		Opts:     &opts,
	}
	mc, err := markDuplicates.Mark(ctx, partitions)
	require.NoError(t, err)
	require.NoError(t, sink.Close(ctx))
	return sink.Records(), mc
}

// SplitConsensus separates consensus records from the other records.
func SplitConsensus(recs []*sam.Record) (inputs, consensus []*sam.Record) {
	for _, r := range recs {
		if strings.HasPrefix(r.Name, consensusPrefix) {
			consensus = append(consensus, r)
		} else {
			inputs = append(inputs, r)
		}
	}
	return inputs, consensus
}

// RunTestCases runs every case with one worker and with several, and
// checks the duplicate flag and tags of every output record.
func RunTestCases(t *testing.T, header *sam.Header, cases []TestCase) {
	for testIdx, test := range cases {
		for _, parallelism := range []int{1, 3} {
			t.Logf("---- starting TestCase[%d], parallelism %d ----", testIdx, parallelism)
			testrecords := make([]*sam.Record, 0, len(test.TRecords))
			for _, tr := range test.TRecords {
				testrecords = append(testrecords, tr.R)
			}
			opts := test.Opts
			opts.Parallelism = parallelism
			out, _ := RunMark(t, header, testrecords, opts, nil)
			actual, consensus := SplitConsensus(out)
			assert.Equal(t, test.Consensus, len(consensus), "consensus records")
			require.Equal(t, len(test.TRecords), len(actual))

			byID := make(map[string]*sam.Record, len(actual))
			for _, r := range actual {
				byID[RecordID(r)] = r
			}
			for i, tr := range test.TRecords {
				r := byID[RecordID(tr.R)]
				require.NotNil(t, r, "record %d (%v) not written", i, tr.R)
				t.Logf("output[%v]: %v", i, r)

				assert.Equal(t, tr.DupFlag, r.Flags&sam.Duplicate != 0, "duplicate flag is wrong for %v", r)

				// Verify that exactly one of each expected tag exists, and has the right value.
				for _, expectedAux := range tr.ExpectedAuxs {
					found := 0
					for _, aux := range r.AuxFields {
						if aux.Tag() == expectedAux.Tag() {
							assert.Equal(t, expectedAux, aux)
							found++
						}
					}
					assert.Equal(t, 1, found, "Incorrect number of %s tags, expected 1, got %d",
						expectedAux.Tag(), found)
				}
				// Verify that these tags do not exist.
				for _, negTag := range tr.UnexpectedTags {
					actual, ok := r.Tag([]byte{negTag[0], negTag[1]})
					assert.Equal(t, false, ok, "Expected tag to be absent, but it exists: %v", actual)
				}
			}
		}
	}
}
