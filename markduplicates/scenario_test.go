package markduplicates

import (
	"fmt"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/dupmark/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	bigChr1, _   = sam.NewReference("chr1", "", "", 3000000, nil, nil)
	bigChr2, _   = sam.NewReference("chr2", "", "", 2000000, nil, nil)
	bigChr3, _   = sam.NewReference("chr3", "", "", 1000000, nil, nil)
	bigHeader, _ = sam.NewHeader(nil, []*sam.Reference{bigChr1, bigChr2, bigChr3})

	scenarioOpts = Opts{
		PartitionLength: 1000000,
		CacheCapacity:   1000,
		Parallelism:     1,
		TagDuplicates:   true,
	}
)

// partitionOrder returns the order in which a test processes n partitions.
type partitionOrder func(n int) []int

var (
	forwardOrder partitionOrder = func(n int) []int {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	reverseOrder partitionOrder = func(n int) []int {
		order := make([]int, n)
		for i := range order {
			order[i] = n - 1 - i
		}
		return order
	}
	swapFirstOrder partitionOrder = func(n int) []int {
		order := forwardOrder(n)
		if n > 1 {
			order[0], order[1] = order[1], order[0]
		}
		return order
	}
)

// runInOrder marks recs with one worker that visits the partitions in the
// given order.
func runInOrder(t *testing.T, header *sam.Header, recs []*sam.Record, opts Opts, order partitionOrder) ([]*sam.Record, *MetricsCollection) {
	ctx := vcontext.Background()
	sink := bamprovider.NewMemSink()
	m := &MarkDuplicates{
		Provider: bamprovider.NewFakeProvider(header, SortRecords(recs)),
		Sink:     sink,
		Opts:     &opts,
	}
	partitions, err := m.setup(ctx, nil)
	require.NoError(t, err)
	pr := m.newPartitionReader(0)
	for _, i := range order(len(partitions)) {
		require.NoError(t, pr.processPartition(partitions[i]))
	}
	m.globalMetrics.Merge(pr.metrics)
	require.NoError(t, m.finish(ctx))
	require.NoError(t, sink.Close(ctx))
	return sink.Records(), m.globalMetrics
}

// outcome summarizes how a record was written.
type outcome struct {
	dup   bool
	setID string
	count int
}

func outcomes(t *testing.T, recs []*sam.Record) map[string]outcome {
	out := make(map[string]outcome, len(recs))
	for _, r := range recs {
		id := RecordID(r)
		o := out[id]
		o.dup = bam.IsDuplicate(r)
		if aux := r.AuxFields.Get(diTag); aux != nil {
			o.setID = fmt.Sprint(aux.Value())
		}
		o.count++
		out[id] = o
	}
	return out
}

func assertWrittenOnce(t *testing.T, in []*sam.Record, out map[string]outcome) {
	assert.Equal(t, len(in), len(out))
	for _, r := range in {
		o, ok := out[RecordID(r)]
		assert.True(t, ok, "%s not written", RecordID(r))
		assert.Equal(t, 1, o.count, "%s written %d times", RecordID(r), o.count)
	}
}

// substituteBase replaces the base of r at off and sets its quality.
func substituteBase(r *sam.Record, off int, base, qual byte) {
	seq := r.Seq.Expand()
	seq[off] = base
	r.Seq = sam.NewSeq(seq)
	r.Qual[off] = qual
}

// Two pairs at the same position in one partition, the second with one
// low-quality mismatch: the better one is kept, the other is flagged. With
// UMIs, the pair collapses into consensus records that outvote the mismatch.
func TestDuplicatePairWithinPartition(t *testing.T) {
	const off = 10
	x1, x2 := NewPair("X:1:1:1:1", bigChr1, 1000, 0, bigChr1, 1100, sam.Reverse, cigar50M, 30)
	w1, w2 := NewPair("W:1:1:1:1", bigChr1, 1000, 0, bigChr1, 1100, sam.Reverse, cigar50M, 30)
	require.Equal(t, byte('G'), x1.Seq.Expand()[off])
	substituteBase(w1, off, 'T', 5)
	in := []*sam.Record{x1, x2, w1, w2}

	out, mc := RunMark(t, bigHeader, in, scenarioOpts, nil)
	require.Equal(t, 4, len(out))
	for _, r := range out {
		assert.Equal(t, r.Name == "W:1:1:1:1", bam.IsDuplicate(r), "%v", r)
		assert.Equal(t, NewAux("DI", "X:1:1:1:1"), r.AuxFields.Get(diTag))
		assert.Equal(t, NewAux("DS", 2), r.AuxFields.Get(dsTag))
	}
	assert.Equal(t, 2, mc.Stats.Duplicates)
	assert.Equal(t, 2, mc.LibraryMetrics["Unknown Library"].ReadPairDups)
	assert.Equal(t, 4, mc.LibraryMetrics["Unknown Library"].ReadPairsExamined)

	x1, x2 = NewPair("X:1:1:1:1:AACCTT", bigChr1, 1000, 0, bigChr1, 1100, sam.Reverse, cigar50M, 30)
	w1, w2 = NewPair("W:1:1:1:1:AACCTT", bigChr1, 1000, 0, bigChr1, 1100, sam.Reverse, cigar50M, 30)
	substituteBase(w1, off, 'T', 5)
	opts := scenarioOpts
	opts.UseUmis = true
	out, mc = RunMark(t, bigHeader, []*sam.Record{x1, x2, w1, w2}, opts, nil)
	inputs, consensus := SplitConsensus(out)
	require.Equal(t, 4, len(inputs))
	require.Equal(t, 2, len(consensus))
	id := groupID("X:1:1:1:1:AACCTT", "W:1:1:1:1:AACCTT")
	for _, r := range inputs {
		assert.True(t, bam.IsDuplicate(r), "%v", r)
		assert.Equal(t, NewAux("DI", id), r.AuxFields.Get(diTag))
		assert.Equal(t, NewAux("DS", 2), r.AuxFields.Get(dsTag))
	}
	var left *sam.Record
	for _, r := range consensus {
		assert.Equal(t, consensusPrefix+id, r.Name)
		assert.False(t, bam.IsDuplicate(r))
		assert.Equal(t, NewAux("DI", id), r.AuxFields.Get(diTag))
		assert.Equal(t, NewAux("DC", 2), r.AuxFields.Get(dcTag))
		assert.Equal(t, 50, r.Seq.Length)
		if r.Pos == 1000 {
			left = r
		}
	}
	require.NotNil(t, left)
	// The mismatch is outvoted, and its quality is taken off the call.
	assert.Equal(t, string(x1.Seq.Expand()), string(left.Seq.Expand()))
	for i, q := range left.Qual {
		if i == off {
			assert.Equal(t, byte(30-5), q)
		} else {
			assert.Equal(t, byte(maxConsensusQual), q, "offset %d", i)
		}
	}
	assert.Equal(t, 1, mc.Stats.ConsensusGroups)
	assert.Equal(t, 2, mc.Stats.ConsensusRecords)
	assert.Equal(t, 4, mc.Stats.Written)
}

// Without duplicate tags, the members of a UMI group still name the group,
// so they can be matched to its consensus records.
func TestUmiGroupTaggedWithoutDuplicateTags(t *testing.T) {
	x1, x2 := NewPair("X:1:1:1:1:AACCTT", bigChr1, 1000, 0, bigChr1, 1100, sam.Reverse, cigar50M, 30)
	w1, w2 := NewPair("W:1:1:1:1:AACCTT", bigChr1, 1000, 0, bigChr1, 1100, sam.Reverse, cigar50M, 20)
	opts := scenarioOpts
	opts.UseUmis = true
	opts.TagDuplicates = false
	out, _ := RunMark(t, bigHeader, []*sam.Record{x1, x2, w1, w2}, opts, nil)
	inputs, consensus := SplitConsensus(out)
	require.Equal(t, 4, len(inputs))
	require.Equal(t, 2, len(consensus))
	id := groupID("X:1:1:1:1:AACCTT", "W:1:1:1:1:AACCTT")
	for _, r := range append(inputs, consensus...) {
		assert.Equal(t, NewAux("DI", id), r.AuxFields.Get(diTag), "%v", r)
		assert.Equal(t, NewAux("DS", 2), r.AuxFields.Get(dsTag), "%v", r)
	}
	for _, r := range inputs {
		assert.True(t, bam.IsDuplicate(r), "%v", r)
		assert.Nil(t, r.AuxFields.Get(dlTag))
	}
}

// A pair with MC tags and an identical pair without them share a grouping
// position that is flushed before either mate arrives. They are still
// compared once the mates complete the keys.
func TestKnownAndUnknownKeysCompared(t *testing.T) {
	mcTag := []sam.Tag{sam.NewTag("MC")}
	for _, matePos := range []int{5000, 1000100} {
		x1, x2 := NewPair("X:1:1:1:1", bigChr1, 1000, 0, bigChr1, matePos, sam.Reverse, cigar50M, 30)
		w1, w2 := NewPair("W:1:1:1:1", bigChr1, 1000, 0, bigChr1, matePos, sam.Reverse, cigar50M, 20)
		bam.ClearAuxTags(w1, mcTag)
		bam.ClearAuxTags(w2, mcTag)
		in := []*sam.Record{x1, w1, x2, w2}

		check := func(out []*sam.Record, mc *MetricsCollection) {
			got := outcomes(t, out)
			assertWrittenOnce(t, in, got)
			for _, r := range in {
				o := got[RecordID(r)]
				assert.Equal(t, r.Name == "W:1:1:1:1", o.dup, "%d %s", matePos, RecordID(r))
				assert.Equal(t, "X:1:1:1:1", o.setID, "%d %s", matePos, RecordID(r))
			}
			assert.Equal(t, 2, mc.Stats.Duplicates)
			assert.Equal(t, 0, mc.Stats.Unset)
		}
		for _, order := range []partitionOrder{forwardOrder, reverseOrder} {
			out, mc := runInOrder(t, bigHeader, in, scenarioOpts, order)
			check(out, mc)
		}
		opts := scenarioOpts
		opts.Parallelism = 4
		out, mc := RunMark(t, bigHeader, in, opts, nil)
		check(out, mc)
	}
}

// Pairs that straddle a partition boundary are decided the same way
// whatever order the partitions are processed in.
func TestBoundaryPairOrderIndependence(t *testing.T) {
	f1a, f1b := NewPair("F1:1:1:1:1", bigChr1, 999950, 0, bigChr1, 1000100, sam.Reverse, cigar50M, 30)
	f2a, f2b := NewPair("F2:1:1:1:1", bigChr1, 999950, 0, bigChr1, 1000100, sam.Reverse, cigar50M, 20)
	in := []*sam.Record{f1a, f1b, f2a, f2b}

	var want map[string]outcome
	for _, order := range []partitionOrder{forwardOrder, reverseOrder, swapFirstOrder} {
		out, mc := runInOrder(t, bigHeader, in, scenarioOpts, order)
		got := outcomes(t, out)
		assertWrittenOnce(t, in, got)
		assert.Equal(t, len(in), mc.Stats.Written)
		assert.Equal(t, 0, mc.Stats.Unmatched)
		for _, r := range in {
			o := got[RecordID(r)]
			assert.Equal(t, r.Name == "F2:1:1:1:1", o.dup, RecordID(r))
			assert.Equal(t, "F1:1:1:1:1", o.setID, RecordID(r))
		}
		if want == nil {
			want = got
		} else {
			assert.Equal(t, want, got)
		}
	}

	opts := scenarioOpts
	opts.Parallelism = 4
	out, _ := RunMark(t, bigHeader, in, opts, nil)
	assert.Equal(t, want, outcomes(t, out))
}

// A read whose mate lies outside every partition is written as read.
func TestMateOutsidePartitions(t *testing.T) {
	a, b := NewPair("C:1:1:1:1", bigChr1, 1000, 0, bigChr3, 5000, sam.Reverse, cigar50M, 30)
	a.Flags |= sam.Duplicate
	a.AuxFields = append(a.AuxFields, NewAux("DI", "old"))

	partitions, err := bam.GetPositionBasedPartitions(bigHeader, scenarioOpts.PartitionLength, []bam.Region{
		{Ref: bigChr1, Start: 0, End: bigChr1.Len()},
		{Ref: bigChr2, Start: 0, End: bigChr2.Len()},
	}, false)
	require.NoError(t, err)
	out, mc := RunMark(t, bigHeader, []*sam.Record{a, b}, scenarioOpts, partitions)
	require.Equal(t, 1, len(out))
	assert.Equal(t, a.Flags, out[0].Flags)
	assert.Equal(t, NewAux("DI", "old"), out[0].AuxFields.Get(diTag))
	assert.Nil(t, out[0].AuxFields.Get(dsTag))
	assert.Equal(t, 1, mc.Stats.ExcludedMates)
	assert.Equal(t, 1, mc.Stats.Unset)
	assert.Equal(t, 1, mc.Stats.Records)
}

// mixedRecords returns records that exercise every path through the engine.
func mixedRecords() []*sam.Record {
	var recs []*sam.Record
	add := func(r ...*sam.Record) { recs = append(recs, r...) }

	// Duplicates whose legs fall into two partitions.
	add(NewPair("p1:1:1:1:1", chr1, 90, 0, chr1, 150, sam.Reverse, cigar0, 30))
	add(NewPair("p2:1:1:1:1", chr1, 90, 0, chr1, 150, sam.Reverse, cigar0, 20))
	// A pair spanning two references.
	add(NewPair("x1:1:1:1:1", chr1, 300, 0, chr2, 40, sam.Reverse, cigar0, 30))
	// Duplicate single reads.
	add(NewSingle("s1:1:1:1:1", chr1, 500, 0, cigar0, 30))
	add(NewSingle("s2:1:1:1:1", chr1, 500, 0, cigar0, 20))
	// A pair with an unmapped mate placed at the mapped read.
	mapped := NewRecord("u1:1:1:1:1", chr1, 600, sam.Paired|sam.Read1|sam.MateUnmapped, 600, chr1, cigar0)
	placed := NewRecord("u1:1:1:1:1", chr1, 600, sam.Paired|sam.Read2|sam.Unmapped, 600, chr1, nil)
	add(mapped, placed)
	// An unplaced unmapped pair.
	flags := sam.Paired | sam.Unmapped | sam.MateUnmapped
	add(NewRecord("u2:1:1:1:1", nil, -1, flags|sam.Read1, -1, nil, nil))
	add(NewRecord("u2:1:1:1:1", nil, -1, flags|sam.Read2, -1, nil, nil))
	// A secondary alignment.
	add(NewSingle("sec:1:1:1:1", chr1, 700, sam.Secondary, cigar0, 30))
	// A chimeric read: its supplementary alignment is on another reference.
	chimeric := NewSingle("chim:1:1:1:1", chr1, 800, 0, cigar0, 30)
	chimeric.AuxFields = append(chimeric.AuxFields, NewAux("SA", "chr2,101,+,5S5M,60,0;"))
	supp := NewSingle("chim:1:1:1:1", chr2, 100, sam.Supplementary, cigar0, 30)
	supp.AuxFields = append(supp.AuxFields, NewAux("SA", "chr1,801,+,10M,60,0;"))
	add(chimeric, supp)
	// A supplementary alignment without an SA tag.
	add(NewSingle("nosa:1:1:1:1", chr1, 900, sam.Supplementary, cigar0, 30))
	// Reads whose mates are missing from the input: one whose home is its
	// own partition, one whose home is its mate's.
	lonely, _ := NewPair("l1:1:1:1:1", chr1, 950, 0, chr2, 500, sam.Reverse, cigar0, 30)
	_, lonely2 := NewPair("l2:1:1:1:1", chr1, 20, 0, chr2, 600, sam.Reverse, cigar0, 30)
	add(lonely, lonely2)
	return recs
}

// Every record read is written exactly once, whatever the parallelism and
// the partition order.
func TestEveryRecordWrittenOnce(t *testing.T) {
	in := mixedRecords()
	dups := map[string]bool{"p2:1:1:1:1": true, "s2:1:1:1:1": true}
	check := func(out []*sam.Record, mc *MetricsCollection) map[string]outcome {
		got := outcomes(t, out)
		assertWrittenOnce(t, in, got)
		for _, r := range in {
			assert.Equal(t, dups[r.Name], got[RecordID(r)].dup, RecordID(r))
		}
		assert.Equal(t, len(in), mc.Stats.Records)
		assert.Equal(t, len(in), mc.Stats.Written)
		assert.Equal(t, 0, mc.Stats.ConsistencyErrors)
		assert.Equal(t, 1, mc.Stats.MissingSAHints)
		assert.Equal(t, 1, mc.Stats.Unmatched)
		return got
	}

	opts := defaultOpts
	opts.CheckConsistency = true
	opts.StrictConsistency = true
	var want map[string]outcome
	for _, parallelism := range []int{1, 4} {
		opts.Parallelism = parallelism
		out, mc := RunMark(t, header, in, opts, nil)
		got := check(out, mc)
		if want == nil {
			want = got
		} else {
			assert.Equal(t, want, got)
		}
	}
	opts.Parallelism = 1
	for _, order := range []partitionOrder{reverseOrder, swapFirstOrder} {
		out, mc := runInOrder(t, header, in, opts, order)
		assert.Equal(t, want, check(out, mc))
	}
}

// Of several identical pairs spanning a partition boundary, exactly one is
// kept.
func TestOnePrimaryPerSet(t *testing.T) {
	var in []*sam.Record
	for i := 0; i < 5; i++ {
		a, b := NewPair(fmt.Sprintf("d%d:1:1:1:1", i), chr1, 95, 0, chr1, 105, sam.Reverse, cigar0, 30)
		in = append(in, a, b)
	}
	opts := defaultOpts
	opts.Parallelism = 4
	out, _ := RunMark(t, header, in, opts, nil)
	got := outcomes(t, out)
	assertWrittenOnce(t, in, got)
	primaries := map[string]bool{}
	for _, r := range in {
		o := got[RecordID(r)]
		assert.Equal(t, "d0:1:1:1:1", o.setID)
		if !o.dup {
			primaries[r.Name] = true
		}
	}
	assert.Equal(t, map[string]bool{"d0:1:1:1:1": true}, primaries)
}
