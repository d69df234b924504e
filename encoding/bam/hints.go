package bam

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/hts/sam"
)

var (
	// MateCigarTag holds the CIGAR string of the mate.
	MateCigarTag = sam.Tag{'M', 'C'}
	// SupplementaryTag lists the other alignments of a chimeric read.
	SupplementaryTag = sam.Tag{'S', 'A'}
)

// SupplementaryAlignment is one entry of an SA tag.
type SupplementaryAlignment struct {
	RefName string
	// Pos is 0-based.
	Pos     int
	Reverse bool
	Cigar   sam.Cigar
	MapQ    int
	NM      int
}

// MateCigar returns the parsed MC tag of r. It returns false when the tag is
// absent or malformed.
func MateCigar(r *sam.Record) (sam.Cigar, bool) {
	aux := r.AuxFields.Get(MateCigarTag)
	if aux == nil {
		return nil, false
	}
	s, ok := aux.Value().(string)
	if !ok || s == "" || s == "*" {
		return nil, false
	}
	cigar, err := sam.ParseCigar([]byte(s))
	if err != nil {
		return nil, false
	}
	return cigar, true
}

// MateUnclippedFivePrimePosition computes the unclipped 5' position of r's
// mate from MatePos, the MateReverse flag and the MC tag. It returns false if
// the mate is unmapped or the MC tag is missing.
func MateUnclippedFivePrimePosition(r *sam.Record) (int, bool) {
	if HasNoMappedMate(r) {
		return 0, false
	}
	cigar, ok := MateCigar(r)
	if !ok {
		return 0, false
	}
	return unclippedFivePrime(r.MatePos, cigar, IsMateReverse(r)), true
}

// ParseSupplementaryAlignments parses an SA tag value of the form
// "rname,pos,strand,CIGAR,mapQ,NM;" repeated.
func ParseSupplementaryAlignments(s string) ([]SupplementaryAlignment, error) {
	var out []SupplementaryAlignment
	for _, entry := range strings.Split(s, ";") {
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ",")
		if len(fields) != 6 {
			return nil, fmt.Errorf("malformed SA entry %q", entry)
		}
		pos, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("malformed SA position %q: %v", entry, err)
		}
		cigar, err := sam.ParseCigar([]byte(fields[3]))
		if err != nil {
			return nil, fmt.Errorf("malformed SA cigar %q: %v", entry, err)
		}
		mapq, err := strconv.Atoi(fields[4])
		if err != nil {
			return nil, fmt.Errorf("malformed SA mapq %q: %v", entry, err)
		}
		nm, err := strconv.Atoi(fields[5])
		if err != nil {
			return nil, fmt.Errorf("malformed SA NM %q: %v", entry, err)
		}
		out = append(out, SupplementaryAlignment{
			RefName: fields[0],
			Pos:     pos - 1,
			Reverse: fields[2] == "-",
			Cigar:   cigar,
			MapQ:    mapq,
			NM:      nm,
		})
	}
	return out, nil
}

// SupplementaryAlignments returns the parsed SA tag of r, or nil if the tag is
// absent or malformed.
func SupplementaryAlignments(r *sam.Record) []SupplementaryAlignment {
	aux := r.AuxFields.Get(SupplementaryTag)
	if aux == nil {
		return nil
	}
	s, ok := aux.Value().(string)
	if !ok {
		return nil
	}
	sa, err := ParseSupplementaryAlignments(s)
	if err != nil {
		return nil
	}
	return sa
}

// ClearAuxTags removes all aux fields of r whose tag is in tags.
func ClearAuxTags(r *sam.Record, tags []sam.Tag) {
	out := r.AuxFields[:0]
	for _, aux := range r.AuxFields {
		keep := true
		for _, tag := range tags {
			if aux.Tag() == tag {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, aux)
		}
	}
	r.AuxFields = out
}

// SetAux replaces the value of aux's tag in r, appending it if absent.
func SetAux(r *sam.Record, aux sam.Aux) {
	for i, a := range r.AuxFields {
		if a.Tag() == aux.Tag() {
			r.AuxFields[i] = aux
			return
		}
	}
	r.AuxFields = append(r.AuxFields, aux)
}
