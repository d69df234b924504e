package bam

import "github.com/grailbio/hts/sam"

// IsPaired returns true if the record is part of a template with multiple segments.
func IsPaired(r *sam.Record) bool { return r.Flags&sam.Paired != 0 }

// IsProperPair returns true if each segment is properly aligned according to the aligner.
func IsProperPair(r *sam.Record) bool { return r.Flags&sam.ProperPair != 0 }

// IsUnmapped returns true if the segment is unmapped.
func IsUnmapped(r *sam.Record) bool { return r.Flags&sam.Unmapped != 0 }

// IsMateUnmapped returns true if the next segment in the template is unmapped.
func IsMateUnmapped(r *sam.Record) bool { return r.Flags&sam.MateUnmapped != 0 }

// IsReverse returns true if the sequence is reverse complemented.
func IsReverse(r *sam.Record) bool { return r.Flags&sam.Reverse != 0 }

// IsMateReverse returns true if the sequence of the next segment is reverse complemented.
func IsMateReverse(r *sam.Record) bool { return r.Flags&sam.MateReverse != 0 }

// IsRead1 returns true if this is the first segment in the template.
func IsRead1(r *sam.Record) bool { return r.Flags&sam.Read1 != 0 }

// IsRead2 returns true if this is the last segment in the template.
func IsRead2(r *sam.Record) bool { return r.Flags&sam.Read2 != 0 }

// IsSecondary returns true if this is a secondary alignment.
func IsSecondary(r *sam.Record) bool { return r.Flags&sam.Secondary != 0 }

// IsQCFail returns true if the record did not pass quality controls.
func IsQCFail(r *sam.Record) bool { return r.Flags&sam.QCFail != 0 }

// IsDuplicate returns true if the record is flagged as a PCR or optical duplicate.
func IsDuplicate(r *sam.Record) bool { return r.Flags&sam.Duplicate != 0 }

// IsSupplementary returns true if this is a supplementary alignment.
func IsSupplementary(r *sam.Record) bool { return r.Flags&sam.Supplementary != 0 }

// IsPrimary returns true if the record is neither secondary nor supplementary.
func IsPrimary(r *sam.Record) bool {
	return r.Flags&(sam.Secondary|sam.Supplementary) == 0
}

// HasNoMappedMate returns true if record is unpaired or has an unmapped mate.
func HasNoMappedMate(r *sam.Record) bool {
	return !IsPaired(r) || IsMateUnmapped(r)
}

// IsMapped returns true if r has a reference and is not flagged unmapped.
func IsMapped(r *sam.Record) bool {
	return r.Ref != nil && r.Ref.ID() >= 0 && !IsUnmapped(r)
}

func isClip(t sam.CigarOpType) bool {
	return t == sam.CigarSoftClipped || t == sam.CigarHardClipped
}

func leftClip(cigar sam.Cigar) int {
	n := 0
	for _, op := range cigar {
		if !isClip(op.Type()) {
			break
		}
		n += op.Len()
	}
	return n
}

func rightClip(cigar sam.Cigar) int {
	n := 0
	for i := len(cigar) - 1; i >= 0; i-- {
		if !isClip(cigar[i].Type()) {
			break
		}
		n += cigar[i].Len()
	}
	return n
}

// refLen returns the number of reference bases the cigar consumes.
func refLen(cigar sam.Cigar) int {
	n := 0
	for _, op := range cigar {
		if op.Type().Consumes().Reference != 0 {
			n += op.Len()
		}
	}
	return n
}

// LeftClipDistance returns the total number of soft and hard clipped bases
// at the left end of the alignment.
func LeftClipDistance(r *sam.Record) int { return leftClip(r.Cigar) }

// RightClipDistance returns the total number of soft and hard clipped bases
// at the right end of the alignment.
func RightClipDistance(r *sam.Record) int { return rightClip(r.Cigar) }

// FivePrimeClipDistance returns the clip distance at the 5' end of the read.
func FivePrimeClipDistance(r *sam.Record) int {
	if IsReverse(r) {
		return RightClipDistance(r)
	}
	return LeftClipDistance(r)
}

// UnclippedStart returns the 0-based alignment start including clipped bases.
func UnclippedStart(r *sam.Record) int {
	return r.Pos - LeftClipDistance(r)
}

// UnclippedEnd returns the 0-based, inclusive alignment end including clipped
// bases.
func UnclippedEnd(r *sam.Record) int {
	return r.Pos + refLen(r.Cigar) - 1 + RightClipDistance(r)
}

// UnclippedFivePrimePosition returns the unclipped 5' position of r: the
// unclipped start for forward reads, the unclipped end for reverse reads.
func UnclippedFivePrimePosition(r *sam.Record) int {
	return unclippedFivePrime(r.Pos, r.Cigar, IsReverse(r))
}

func unclippedFivePrime(pos int, cigar sam.Cigar, reverse bool) int {
	if reverse {
		return pos + refLen(cigar) - 1 + rightClip(cigar)
	}
	return pos - leftClip(cigar)
}

// ReadOffsetAtPos returns the offset into r.Seq that aligns to the 0-based
// reference position refPos. It returns (-1, true) when refPos falls in a
// deletion or skipped region of the alignment, and (-1, false) when refPos is
// outside the aligned portion of r.
func ReadOffsetAtPos(r *sam.Record, refPos int) (int, bool) {
	if refPos < r.Pos {
		return -1, false
	}
	ref := r.Pos
	offset := 0
	for _, op := range r.Cigar {
		con := op.Type().Consumes()
		n := op.Len()
		switch {
		case con.Query != 0 && con.Reference != 0:
			if refPos < ref+n {
				return offset + refPos - ref, true
			}
			ref += n
			offset += n
		case con.Reference != 0:
			if refPos < ref+n {
				return -1, true
			}
			ref += n
		case con.Query != 0:
			offset += n
		}
	}
	return -1, false
}

// BaseAtPos returns the base in r that aligns to the 0-based reference
// position refPos. For positions inside a deletion it returns (0, true).
func BaseAtPos(r *sam.Record, refPos int) (byte, bool) {
	offset, found := ReadOffsetAtPos(r, refPos)
	if !found || offset < 0 {
		return 0, found
	}
	return r.Seq.Expand()[offset], true
}
