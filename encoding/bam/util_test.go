package bam

import (
	"reflect"
	"runtime"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getFunctionName returns the runtime function name.
func getFunctionName(i interface{}) string {
	return runtime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

func cigar(t *testing.T, s string) sam.Cigar {
	c, err := sam.ParseCigar([]byte(s))
	require.NoError(t, err, s)
	return c
}

func TestFlagParser(t *testing.T) {
	tests := []struct {
		flag sam.Flags
		f    func(record *sam.Record) bool
		want bool
	}{
		{sam.Paired, IsPaired, true},
		{sam.ProperPair, IsProperPair, true},
		{sam.Unmapped, IsUnmapped, true},
		{sam.MateUnmapped, IsMateUnmapped, true},
		{sam.Reverse, IsReverse, true},
		{sam.MateReverse, IsMateReverse, true},
		{sam.Read1, IsRead1, true},
		{sam.Read2, IsRead2, true},
		{sam.Secondary, IsSecondary, true},
		{sam.QCFail, IsQCFail, true},
		{sam.Duplicate, IsDuplicate, true},
		{sam.Supplementary, IsSupplementary, true},
		{sam.Paired, IsPrimary, true},
		{sam.Paired | sam.MateUnmapped, HasNoMappedMate, true},
		{0, HasNoMappedMate, true},

		{sam.Supplementary, IsPaired, false},
		{sam.Duplicate, IsProperPair, false},
		{sam.QCFail, IsUnmapped, false},
		{sam.Secondary, IsMateUnmapped, false},
		{sam.Read2, IsReverse, false},
		{sam.Read1, IsMateReverse, false},
		{sam.MateReverse, IsRead1, false},
		{sam.Reverse, IsRead2, false},
		{sam.MateUnmapped, IsSecondary, false},
		{sam.Unmapped, IsQCFail, false},
		{sam.ProperPair, IsDuplicate, false},
		{sam.Paired, IsSupplementary, false},
		{sam.Secondary, IsPrimary, false},
		{sam.Supplementary, IsPrimary, false},
		{sam.Paired, HasNoMappedMate, false},
	}

	ref, err := sam.NewReference("chrTest", "", "", 1000, nil, nil)
	require.NoError(t, err)
	for _, test := range tests {
		r := sam.Record{
			Name:    "TestRead",
			Ref:     ref,
			Cigar:   cigar(t, "5M"),
			Flags:   test.flag,
			MateRef: ref,
			Seq:     sam.NewSeq([]byte{}),
		}
		assert.Equal(t, test.want, test.f(&r), "flag %v, %v", test.flag, getFunctionName(test.f))
	}
}

func TestClippingDistance(t *testing.T) {
	chr1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)
	fwd := sam.Paired | sam.Read1
	rev := sam.Paired | sam.Read1 | sam.Reverse

	tests := []struct {
		flags                      sam.Flags
		cigar                      string
		unclippedFivePrimePosition int
		unclippedStart             int
		unclippedEnd               int
		leftClipDistance           int
		rightClipDistance          int
		fivePrimeClipDistance      int
	}{
		{fwd, "10M", 0, 0, 9, 0, 0, 0},
		{fwd, "1S8M1S", -1, -1, 8, 1, 1, 1},
		{fwd, "1H8M1H", -1, -1, 8, 1, 1, 1},
		{fwd, "1H1S6M1S1H", -2, -2, 7, 2, 2, 2},
		{fwd, "1S1H1S4M1S1H1S", -3, -3, 6, 3, 3, 3},
		{fwd, "2S7M1S", -2, -2, 7, 2, 1, 2},
		{fwd, "3M2D3M", 0, 0, 7, 0, 0, 0},
		{fwd, "3M2I3M", 0, 0, 5, 0, 0, 0},

		{rev, "10M", 9, 0, 9, 0, 0, 0},
		{rev, "1S8M1S", 8, -1, 8, 1, 1, 1},
		{rev, "1H1S6M1S1H", 7, -2, 7, 2, 2, 2},
		{rev, "1S1H1S4M1S1H1S", 6, -3, 6, 3, 3, 3},
		{rev, "2S7M1S", 7, -2, 7, 2, 1, 1},
		{rev, "3M2D3M", 7, 0, 7, 0, 0, 0},
	}
	for i, test := range tests {
		r := &sam.Record{Name: "A", Ref: chr1, Pos: 0, Flags: test.flags, Cigar: cigar(t, test.cigar)}
		assert.Equal(t, test.unclippedFivePrimePosition, UnclippedFivePrimePosition(r), "test %d", i)
		assert.Equal(t, test.unclippedStart, UnclippedStart(r), "test %d", i)
		assert.Equal(t, test.unclippedEnd, UnclippedEnd(r), "test %d", i)
		assert.Equal(t, test.leftClipDistance, LeftClipDistance(r), "test %d", i)
		assert.Equal(t, test.rightClipDistance, RightClipDistance(r), "test %d", i)
		assert.Equal(t, test.fivePrimeClipDistance, FivePrimeClipDistance(r), "test %d", i)
	}
}

func TestBaseAtPos(t *testing.T) {
	chr1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)

	newRecord := func(pos int, c, seq string) *sam.Record {
		return &sam.Record{Name: "R", Ref: chr1, Pos: pos, Cigar: cigar(t, c), Seq: sam.NewSeq([]byte(seq))}
	}
	tests := []struct {
		record *sam.Record
		refPos int
		base   byte
		found  bool
	}{
		{newRecord(0, "4M", "AAAA"), -1, 0, false},
		{newRecord(0, "4M", "CAAA"), 0, 'C', true},
		{newRecord(0, "4M", "AAAC"), 3, 'C', true},
		{newRecord(0, "4M", "AAAA"), 5, 0, false},

		// Insertion.
		{newRecord(1, "1M1I1M", "CAA"), 1, 'C', true},
		{newRecord(1, "1M1I1M", "AAC"), 2, 'C', true},
		{newRecord(1, "1M1I1M", "AAA"), 3, 0, false},

		// Deletion and skip.
		{newRecord(1, "1M1D1M", "AA"), 2, 0, true},
		{newRecord(1, "1M1D1M", "AC"), 3, 'C', true},
		{newRecord(1, "1M1N1M", "AA"), 2, 0, true},
		{newRecord(1, "1M1N1M", "AA"), 4, 0, false},

		// Clipping.
		{newRecord(1, "1S2M", "AAA"), 0, 0, false},
		{newRecord(1, "1S2M", "ACA"), 1, 'C', true},
		{newRecord(1, "1H2M", "CA"), 1, 'C', true},
		{newRecord(1, "2M1S", "ACA"), 2, 'C', true},
		{newRecord(1, "2M1S", "AAA"), 3, 0, false},

		// Padding.
		{newRecord(1, "1M1P1M", "AC"), 2, 'C', true},
	}
	for _, test := range tests {
		base, found := BaseAtPos(test.record, test.refPos)
		assert.Equal(t, test.base, base, "Base mismatch for %s, %d", test.record.Cigar, test.refPos)
		assert.Equal(t, test.found, found, "Bool mismatch for %s, %d", test.record.Cigar, test.refPos)
	}
}
