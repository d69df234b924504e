package bam

import (
	"fmt"
	"math"

	"github.com/grailbio/hts/sam"
)

const (
	// InfinityPos is 1+ the largest possible alignment position.
	InfinityPos = math.MaxInt32

	// UnmappedRefID is the pseudo reference ID for unmapped reads. Coords
	// with this ID sort after every mapped coord.
	UnmappedRefID = -1
)

// Coord is a (reference, position) pair. Coords of unmapped reads use
// UnmappedRefID and sort after all mapped coords.
type Coord struct {
	RefID int
	Pos   int
}

func sortableRefID(id int) int {
	if id == UnmappedRefID {
		return math.MaxInt32
	}
	return id
}

// Compare returns (negative int, 0, positive int) if (c<c1, c=c1, c>c1)
// respectively.
func (c Coord) Compare(c1 Coord) int {
	ref0, ref1 := sortableRefID(c.RefID), sortableRefID(c1.RefID)
	if ref0 != ref1 {
		return ref0 - ref1
	}
	return c.Pos - c1.Pos
}

// LT returns true iff c < c1.
func (c Coord) LT(c1 Coord) bool { return c.Compare(c1) < 0 }

// LE returns true iff c <= c1.
func (c Coord) LE(c1 Coord) bool { return c.Compare(c1) <= 0 }

// GE returns true iff c >= c1.
func (c Coord) GE(c1 Coord) bool { return c.Compare(c1) >= 0 }

// GT returns true iff c > c1.
func (c Coord) GT(c1 Coord) bool { return c.Compare(c1) > 0 }

// Min returns the smaller of c and c1.
func (c Coord) Min(c1 Coord) Coord {
	if c1.LT(c) {
		return c1
	}
	return c
}

func (c Coord) String() string {
	return fmt.Sprintf("%d:%d", c.RefID, c.Pos)
}

// NewCoord generates a Coord from the given reference and position.
func NewCoord(ref *sam.Reference, pos int) Coord {
	c := Coord{RefID: ref.ID(), Pos: pos}
	if c.RefID == UnmappedRefID && pos < 0 {
		// Unmapped reads conventionally store -1.
		c.Pos = 0
	}
	return c
}

// CoordFromRecord returns the alignment start coord of r.
func CoordFromRecord(r *sam.Record) Coord {
	return NewCoord(r.Ref, r.Pos)
}

// MateCoordFromRecord returns the alignment start coord of r's mate.
func MateCoordFromRecord(r *sam.Record) Coord {
	return NewCoord(r.MateRef, r.MatePos)
}
