package bam_test

import (
	"testing"

	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"
	"github.com/grailbio/testutil/h"
)

func TestNewPartitionChannel(t *testing.T) {
	ref1, err := sam.NewReference("chr1", "", "", 100, nil, nil)
	expect.NoError(t, err)
	ref2, err := sam.NewReference("chr2", "", "", 101, nil, nil)
	expect.NoError(t, err)
	ref3, err := sam.NewReference("chr3", "", "", 1, nil, nil)
	expect.NoError(t, err)
	header, _ := sam.NewHeader(nil, []*sam.Reference{ref1, ref2, ref3})
	partitions, err := bam.GetPositionBasedPartitions(header, 50, nil, true)
	expect.NoError(t, err)

	var got []bam.Partition
	for p := range bam.NewPartitionChannel(partitions) {
		got = append(got, p)
	}
	expect.That(t, got, h.ElementsAre(
		bam.Partition{Ref: ref1, Start: 0, End: 50, Idx: 0},
		bam.Partition{Ref: ref1, Start: 50, End: 100, Idx: 1},
		bam.Partition{Ref: ref2, Start: 0, End: 50, Idx: 2},
		bam.Partition{Ref: ref2, Start: 50, End: 100, Idx: 3},
		bam.Partition{Ref: ref2, Start: 100, End: 101, Idx: 4},
		bam.Partition{Ref: ref3, Start: 0, End: 1, Idx: 5},
		bam.Partition{Ref: nil, Start: 0, End: 2147483647, Idx: 6},
	))
}

func TestRegionPartitions(t *testing.T) {
	ref1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	expect.NoError(t, err)
	ref2, err := sam.NewReference("chr2", "", "", 1000, nil, nil)
	expect.NoError(t, err)
	header, _ := sam.NewHeader(nil, []*sam.Reference{ref1, ref2})

	partitions, err := bam.GetPositionBasedPartitions(header, 100, []bam.Region{
		{Ref: ref1, Start: 150, End: 320},
		{Ref: ref2, Start: 900, End: 5000},
	}, false)
	expect.NoError(t, err)
	expect.That(t, partitions, h.ElementsAre(
		bam.Partition{Ref: ref1, Start: 150, End: 250, Idx: 0},
		bam.Partition{Ref: ref1, Start: 250, End: 320, Idx: 1},
		bam.Partition{Ref: ref2, Start: 900, End: 1000, Idx: 2},
	))

	p := partitions[1]
	expect.True(t, p.CoordInPartition(bam.Coord{RefID: 0, Pos: 250}))
	expect.False(t, p.CoordInPartition(bam.Coord{RefID: 0, Pos: 320}))
	expect.False(t, p.CoordInPartition(bam.Coord{RefID: 1, Pos: 260}))

	_, err = bam.GetPositionBasedPartitions(header, 0, nil, false)
	expect.NotNil(t, err)
}

func TestCoordOrder(t *testing.T) {
	unmapped := bam.Coord{RefID: bam.UnmappedRefID, Pos: 0}
	a := bam.Coord{RefID: 0, Pos: 10}
	b := bam.Coord{RefID: 1, Pos: 0}
	expect.True(t, a.LT(b))
	expect.True(t, b.LT(unmapped))
	expect.True(t, unmapped.GT(a))
	expect.EQ(t, a.Min(b), a)
	expect.EQ(t, b.Min(a), a)
	expect.True(t, a.LE(a))
	expect.True(t, a.GE(a))
}
