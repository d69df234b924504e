package bampair

import (
	"testing"

	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionIndex(t *testing.T) {
	chr1, _ := sam.NewReference("chr1", "", "", 300, nil, nil)
	chr2, _ := sam.NewReference("chr2", "", "", 2000, nil, nil)
	chr3, _ := sam.NewReference("chr3", "", "", 2000, nil, nil)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1, chr2, chr3})
	require.NoError(t, err)

	partitions, err := bam.GetPositionBasedPartitions(header, 100, []bam.Region{
		{Ref: chr1, Start: 0, End: 300},
		{Ref: chr2, Start: 500, End: 600},
	}, true)
	require.NoError(t, err)
	index := NewPartitionIndex(partitions)
	assert.Equal(t, 5, index.Len())

	check := func(refID, pos int, wantFound bool, wantIdx int) {
		p, found := index.Lookup(bam.Coord{RefID: refID, Pos: pos})
		assert.Equal(t, wantFound, found, "%d:%d", refID, pos)
		if found {
			assert.Equal(t, wantIdx, p.Idx, "%d:%d", refID, pos)
		}
	}
	check(0, 0, true, 0)
	check(0, 99, true, 0)
	check(0, 100, true, 1)
	check(0, 299, true, 2)
	check(1, 499, false, 0)
	check(1, 500, true, 3)
	check(1, 600, false, 0)
	check(2, 10, false, 0)
	check(bam.UnmappedRefID, 0, true, 4)

	assert.Equal(t, partitions[3].Start, index.Get(3).Start)
	id, ok := index.RefID("chr2")
	assert.True(t, ok)
	assert.Equal(t, 1, id)
	_, ok = index.RefID("chr3")
	assert.False(t, ok)
}
