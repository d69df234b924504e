package umi

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Bases that may appear in a UMI read from a sequencer. Known UMIs use
// only the first four.
const (
	knownBases    = "ACGT"
	observedBases = "ACGTN"
)

type snapEntry struct {
	known string
	edits int
}

// SnapCorrector implements "snap" correction of UMIs. An observed UMI U
// snaps to the known UMI K when K is strictly closer to U, in Levenshtein
// distance, than every other known UMI.
type SnapCorrector struct {
	k int
	// snaps maps every snappable k-mer over ACGTN to its known UMI.
	snaps map[string]snapEntry
}

// NewSnapCorrector builds a corrector from a newline separated list of
// known UMIs, as read from a UMI file. Blank lines are skipped. Every UMI
// must have the same length and consist of ACGT.
func NewSnapCorrector(knownUMIs []byte) (*SnapCorrector, error) {
	var known []string
	scanner := bufio.NewScanner(bytes.NewReader(knownUMIs))
	for scanner.Scan() {
		u := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if u == "" {
			continue
		}
		if !hasOnly(u, knownBases) {
			return nil, errors.E(errors.Invalid, "known umi", u, "has bases other than ACGT")
		}
		if len(known) > 0 && len(u) != len(known[0]) {
			return nil, errors.E(errors.Invalid, "known umi", u, "differs in length from", known[0])
		}
		known = append(known, u)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, "read known umis")
	}
	if len(known) == 0 {
		return nil, errors.E(errors.Invalid, "no known umis")
	}

	c := &SnapCorrector{k: len(known[0]), snaps: map[string]snapEntry{}}
	forEachKmer(c.k, observedBases, func(kmer string) {
		best, ties := -1, 0
		var target string
		for _, u := range known {
			d := matchr.Levenshtein(kmer, u)
			switch {
			case best < 0 || d < best:
				best, ties, target = d, 1, u
			case d == best:
				ties++
			}
		}
		if ties == 1 {
			c.snaps[kmer] = snapEntry{known: target, edits: best}
		}
	})
	log.Debug.Printf("umi corrector: %d known umis of length %d, %d snappable kmers", len(known), c.k, len(c.snaps))
	return c, nil
}

// CorrectUMI returns the known UMI that umi snaps to, the number of edits
// between them, and whether umi was changed. A UMI that is already known
// is returned with zero edits and false. A UMI that cannot be snapped,
// because it is equidistant from two known UMIs, has the wrong length, or
// contains bases outside ACGTN, is returned as is with -1 and false.
func (c *SnapCorrector) CorrectUMI(umi string) (correctedUMI string, edits int, corrected bool) {
	umi = strings.ToUpper(umi)
	e, ok := c.snaps[umi]
	if !ok {
		return umi, -1, false
	}
	return e.known, e.edits, e.known != umi
}

func hasOnly(s, alphabet string) bool {
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(alphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

// forEachKmer calls fn with every string of length k over alphabet, in
// lexicographic order of alphabet indices.
func forEachKmer(k int, alphabet string, fn func(string)) {
	idx := make([]int, k)
	buf := make([]byte, k)
	for {
		for i, j := range idx {
			buf[i] = alphabet[j]
		}
		fn(string(buf))
		i := k - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(alphabet) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}
