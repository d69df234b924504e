package markduplicates

import (
	"fmt"

	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/hts/sam"
)

// Orientation encodes the read directions of the ends of a duplicateKey.
type Orientation uint8

const (
	f  = iota // Forward (single fragment)
	r  = iota // Reverse (single fragment)
	ff = iota // Forward, Forward
	fr = iota // Forward, Reverse
	rf = iota // Reverse, Forward
	rr = iota // Reverse, Reverse
)

// readEnd is the unclipped 5' end of one primary alignment.
type readEnd struct {
	refID   int
	pos     int
	reverse bool
}

func (e readEnd) less(o readEnd) bool {
	if e.refID != o.refID {
		return e.refID < o.refID
	}
	if e.pos != o.pos {
		return e.pos < o.pos
	}
	return !e.reverse && o.reverse
}

func recordEnd(r *sam.Record) readEnd {
	return readEnd{refID: r.Ref.ID(), pos: bam.UnclippedFivePrimePosition(r), reverse: bam.IsReverse(r)}
}

// duplicateKey is a unique key for each group of duplicates.  If both
// left and right are populated, the lower end (by reference, unclipped 5'
// position, then direction) resides in left.  If only one read is
// populated, it resides in left, and isSingle() returns true.
type duplicateKey struct {
	library     string
	left        readEnd
	right       readEnd
	Orientation Orientation
}

func (k *duplicateKey) String() string {
	if k.isSingle() {
		return fmt.Sprintf("(%s,%d,%d,0x%x)", k.library, k.left.refID, k.left.pos, k.Orientation)
	}
	return fmt.Sprintf("(%s,%d,%d,%d,%d,0x%x)", k.library, k.left.refID, k.left.pos,
		k.right.refID, k.right.pos, k.Orientation)
}

func (k *duplicateKey) isSingle() bool {
	return k.Orientation == f || k.Orientation == r
}

// less orders keys for deterministic iteration.
func (k *duplicateKey) less(o *duplicateKey) bool {
	if k.library != o.library {
		return k.library < o.library
	}
	if k.left != o.left {
		return k.left.less(o.left)
	}
	if k.Orientation != o.Orientation {
		return k.Orientation < o.Orientation
	}
	return k.right.less(o.right)
}

func orientationByteSingle(reversed bool) Orientation {
	if reversed {
		return r
	}
	return f
}

func orientationBytePair(leftReversed, rightReversed bool) Orientation {
	if leftReversed {
		if rightReversed {
			return rr
		}
		return rf
	}
	if rightReversed {
		return fr
	}
	return ff
}

func singleKey(library string, e readEnd) duplicateKey {
	return duplicateKey{
		library:     library,
		left:        e,
		right:       readEnd{refID: -1, pos: -1},
		Orientation: orientationByteSingle(e.reverse),
	}
}

func pairKey(library string, a, b readEnd) duplicateKey {
	if b.less(a) {
		a, b = b, a
	}
	return duplicateKey{
		library:     library,
		left:        a,
		right:       b,
		Orientation: orientationBytePair(a.reverse, b.reverse),
	}
}

// keyFromLeg computes the key of r's fragment from r alone. For a pair,
// the mate's end comes from MatePos, the mate-reverse flag and the MC tag;
// it returns false when the MC tag is missing.
func keyFromLeg(library string, r *sam.Record) (duplicateKey, bool) {
	if bam.HasNoMappedMate(r) {
		return singleKey(library, recordEnd(r)), true
	}
	matePos, ok := bam.MateUnclippedFivePrimePosition(r)
	if !ok {
		return duplicateKey{}, false
	}
	mate := readEnd{refID: r.MateRef.ID(), pos: matePos, reverse: bam.IsMateReverse(r)}
	return pairKey(library, recordEnd(r), mate), true
}

// keyFromLegs computes the key of a pair from both primary alignments.
func keyFromLegs(library string, a, b *sam.Record) duplicateKey {
	return pairKey(library, recordEnd(a), recordEnd(b))
}
