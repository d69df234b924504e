package bampair

import (
	"github.com/biogo/store/llrb"
	"github.com/grailbio/dupmark/encoding/bam"
)

type key struct {
	start     bam.Coord
	partition *bam.Partition
}

// Compare compares two key objects for use in llrb.
func (k key) Compare(c2 llrb.Comparable) int {
	return k.start.Compare(c2.(key).start)
}

// PartitionIndex finds the partition containing a coordinate. It is
// immutable after construction and safe for concurrent use.
type PartitionIndex struct {
	byKey   llrb.Tree
	byIndex []*bam.Partition
	refs    map[string]int
}

// NewPartitionIndex indexes partitions, which must be as returned by
// bam.GetPositionBasedPartitions.
func NewPartitionIndex(partitions []bam.Partition) *PartitionIndex {
	i := &PartitionIndex{
		byIndex: make([]*bam.Partition, len(partitions)),
		refs:    make(map[string]int),
	}
	for n := range partitions {
		p := &partitions[n]
		i.byKey.Insert(key{start: p.StartCoord(), partition: p})
		i.byIndex[p.Idx] = p
		if p.Ref != nil {
			i.refs[p.Ref.Name()] = p.Ref.ID()
		}
	}
	return i
}

// Len returns the number of partitions in i.
func (i *PartitionIndex) Len() int {
	return len(i.byIndex)
}

// Get returns the partition with the given index.
func (i *PartitionIndex) Get(idx int) *bam.Partition {
	return i.byIndex[idx]
}

// Lookup returns the partition containing coord. It returns false if no
// partition covers coord.
func (i *PartitionIndex) Lookup(coord bam.Coord) (*bam.Partition, bool) {
	c := i.byKey.Floor(key{start: coord})
	if c == nil {
		return nil, false
	}
	p := c.(key).partition
	if !p.CoordInPartition(coord) {
		return nil, false
	}
	return p, true
}

// RefID returns the ID of the named reference if any partition covers it.
func (i *PartitionIndex) RefID(name string) (int, bool) {
	id, ok := i.refs[name]
	return id, ok
}
