// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"fmt"
	"math"

	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// Partition is a half-open, 0-based interval [Start, End) of one reference.
// A record belongs to the partition that contains its alignment start. The
// unmapped partition has a nil Ref and covers every read with no reference.
//
// Partitions are ordered according to the order of the bam input file.
// Idx is an index into that ordering.
type Partition struct {
	Ref   *sam.Reference
	Start int
	End   int
	Idx   int
}

// Region restricts partition generation to [Start, End) of Ref.
type Region struct {
	Ref   *sam.Reference
	Start int
	End   int
}

// IsUnmapped returns true for the partition holding unplaced reads.
func (p *Partition) IsUnmapped() bool {
	return p.Ref == nil
}

// StartCoord returns the first coordinate in p.
func (p *Partition) StartCoord() Coord {
	return NewCoord(p.Ref, p.Start)
}

// EndCoord returns the coordinate just past p.
func (p *Partition) EndCoord() Coord {
	return NewCoord(p.Ref, p.End)
}

// CoordInPartition returns whether coord falls in p.
func (p *Partition) CoordInPartition(coord Coord) bool {
	if coord.RefID != p.Ref.ID() {
		return false
	}
	if p.IsUnmapped() {
		return true
	}
	return coord.Pos >= p.Start && coord.Pos < p.End
}

// RecordInPartition returns true if r's alignment start is in p.
func (p *Partition) RecordInPartition(r *sam.Record) bool {
	return p.CoordInPartition(CoordFromRecord(r))
}

// String returns a debug string for p.
func (p *Partition) String() string {
	if p.IsUnmapped() {
		return fmt.Sprintf("%d:unmapped", p.Idx)
	}
	return fmt.Sprintf("%d:%s:%d-%d", p.Idx, p.Ref.Name(), p.Start, p.End)
}

func min(x, y int) int {
	if y < x {
		return y
	}
	return x
}

func max(x, y int) int {
	if y > x {
		return y
	}
	return x
}

// NewPartitionChannel returns a closed channel containing the partitions.
func NewPartitionChannel(partitions []Partition) chan Partition {
	c := make(chan Partition, len(partitions))
	for _, p := range partitions {
		c <- p
	}
	close(c)
	return c
}

// GetPositionBasedPartitions returns partitions of at most length bases that
// cover every reference in header. If regions is non-empty, only the given
// regions are covered; regions must be sorted by reference and start, and
// must not overlap. The unmapped partition is appended if includeUnmapped is
// true.
func GetPositionBasedPartitions(header *sam.Header, length int, regions []Region, includeUnmapped bool) ([]Partition, error) {
	if length <= 0 {
		return nil, fmt.Errorf("partition length must be positive, got %d", length)
	}
	if len(regions) == 0 {
		for _, ref := range header.Refs() {
			regions = append(regions, Region{Ref: ref, Start: 0, End: ref.Len()})
		}
	}
	var partitions []Partition
	for _, region := range regions {
		if region.Ref == nil {
			return nil, fmt.Errorf("region %v has no reference", region)
		}
		end := min(region.End, region.Ref.Len())
		for start := max(0, region.Start); start < end; start += length {
			partitions = append(partitions, Partition{
				Ref:   region.Ref,
				Start: start,
				End:   min(start+length, end),
				Idx:   len(partitions),
			})
		}
	}
	if includeUnmapped {
		partitions = append(partitions, Partition{
			Start: 0,
			End:   math.MaxInt32,
			Idx:   len(partitions),
		})
	}
	ValidatePartitionList(partitions)
	return partitions, nil
}

// ValidatePartitionList validates that partitions are ordered, nonempty and
// non-overlapping. Exposed only for testing.
func ValidatePartitionList(partitions []Partition) {
	for i, p := range partitions {
		if p.Start >= p.End {
			vlog.Panicf("Partition start must precede end: %v", p.String())
		}
		if p.Idx != i {
			vlog.Panicf("Partition %v has index %d, expected %d", p.String(), p.Idx, i)
		}
		if p.Ref == nil {
			if i == len(partitions)-1 {
				continue
			}
			vlog.Panicf("Only the last partition may have nil Ref, not partition %d", i)
		}
		if p.End > p.Ref.Len() {
			vlog.Panicf("Partition %v ends after reference end %d", p.String(), p.Ref.Len())
		}
		if i > 0 && partitions[i-1].Ref != nil {
			prev := partitions[i-1]
			if prev.EndCoord().GT(p.StartCoord()) {
				vlog.Panicf("Partitions %v and %v overlap or are out of order", prev.String(), p.String())
			}
		}
	}
}
