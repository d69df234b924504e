package umi

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// FromReadName returns the UMI embedded in an Illumina-style read name, that
// is the text after the last ':'. It returns "" if the name has no ':'.
func FromReadName(name string) string {
	i := strings.LastIndexByte(name, ':')
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

// Distance returns the number of edits between two UMIs: the Hamming
// distance when their lengths match, else the Levenshtein distance.
func Distance(a, b string) int {
	if len(a) == len(b) {
		if d, err := matchr.Hamming(a, b); err == nil {
			return d
		}
	}
	return matchr.Levenshtein(a, b)
}

// Canonical returns a duplex UMI "X<delim>Y" with its halves in sorted
// order, so that both strands of a molecule share one representation. A UMI
// without the delimiter, or an empty delimiter, is returned unchanged.
func Canonical(umi, delim string) string {
	if delim == "" {
		return umi
	}
	parts := strings.SplitN(umi, delim, 2)
	if len(parts) != 2 || parts[0] <= parts[1] {
		return umi
	}
	return parts[1] + delim + parts[0]
}

// DuplexDistance returns the edit distance between two UMIs. Duplex UMIs
// split by delim are compared half by half in both pairings, and the smaller
// total is returned.
func DuplexDistance(a, b, delim string) int {
	if delim == "" {
		return Distance(a, b)
	}
	pa := strings.SplitN(a, delim, 2)
	pb := strings.SplitN(b, delim, 2)
	if len(pa) != 2 || len(pb) != 2 {
		return Distance(a, b)
	}
	straight := Distance(pa[0], pb[0]) + Distance(pa[1], pb[1])
	swapped := Distance(pa[0], pb[1]) + Distance(pa[1], pb[0])
	if swapped < straight {
		return swapped
	}
	return straight
}
