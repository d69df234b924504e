package markduplicates

import (
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/dupmark/encoding/fasta"
	"github.com/grailbio/hts/sam"
)

const (
	// consensusPrefix starts the name of every consensus record.
	consensusPrefix = "CNS_"
	// maxConsensusQual caps consensus base qualities.
	maxConsensusQual = 60
)

// consensusBuilder merges the members of a umiGroup into one record per
// read end. It reads the reference, if any, only to break ties.
type consensusBuilder struct {
	ref fasta.Fasta
}

// build returns the consensus records of g: one per read end that at least
// one member has.
func (b *consensusBuilder) build(g *umiGroup) ([]*sam.Record, error) {
	var ends [2][]*sam.Record
	for _, f := range g.members {
		legs := f.primaries()
		sort.SliceStable(legs, func(i, j int) bool { return recordEnd(legs[i]).less(recordEnd(legs[j])) })
		switch {
		case len(legs) == 2:
			ends[0] = append(ends[0], legs[0])
			ends[1] = append(ends[1], legs[1])
		case len(legs) == 1 && !g.key.isSingle() && recordEnd(legs[0]) != g.key.left && recordEnd(legs[0]) == g.key.right:
			ends[1] = append(ends[1], legs[0])
		case len(legs) == 1:
			ends[0] = append(ends[0], legs[0])
		}
	}

	var out [2]*sam.Record
	for i, legs := range ends {
		if len(legs) == 0 {
			continue
		}
		rec, err := b.buildEnd(g, legs)
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	if out[0] != nil && out[1] != nil {
		linkMates(out[0], out[1])
	}
	recs := make([]*sam.Record, 0, 2)
	for _, rec := range out {
		if rec != nil {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

type placement struct {
	pos   int
	cigar string
}

// buildEnd merges the records of one read end.
func (b *consensusBuilder) buildEnd(g *umiGroup, legs []*sam.Record) (*sam.Record, error) {
	tmpl := pickTemplate(legs)
	tmplPlace := placement{tmpl.Pos, tmpl.Cigar.String()}
	refPos := referencePositions(tmpl)
	tmplSeq := tmpl.Seq.Expand()

	type member struct {
		r    *sam.Record
		seq  []byte
		same bool
	}
	members := make([]member, len(legs))
	for i, r := range legs {
		members[i] = member{r: r, seq: r.Seq.Expand(), same: placement{r.Pos, r.Cigar.String()} == tmplPlace}
	}

	seq := make([]byte, len(tmplSeq))
	qual := make([]byte, len(tmplSeq))
	for i := range tmplSeq {
		var votes [5]struct{ qual, count int }
		for _, m := range members {
			off := -1
			if m.same {
				off = i
			} else if refPos[i] >= 0 {
				if o, ok := bam.ReadOffsetAtPos(m.r, refPos[i]); ok {
					off = o
				}
			}
			if off < 0 || off >= len(m.seq) {
				continue
			}
			v := &votes[baseIndex(m.seq[off])]
			v.qual += baseQual(m.r, off)
			v.count++
		}
		refBase := byte(0)
		if b.ref != nil && refPos[i] >= 0 {
			if base, ok := fasta.BaseAt(b.ref, tmpl.Ref.Name(), refPos[i]); ok {
				refBase = base
			}
		}
		best := baseIndex(tmplSeq[i])
		for c := range votes {
			if betterCall(votes[c].qual, votes[c].count, c, votes[best].qual, votes[best].count, best,
				baseIndex(refBase), refBase != 0) {
				best = c
			}
		}
		total := 0
		for c := range votes {
			total += votes[c].qual
		}
		q := 2*votes[best].qual - total
		if q < 0 {
			q = 0
		}
		if q > maxConsensusQual {
			q = maxConsensusQual
		}
		seq[i] = "ACGTN"[best]
		qual[i] = byte(q)
	}

	aux := make([]sam.Aux, 0, 4)
	if rg := tmpl.AuxFields.Get(rgTag); rg != nil {
		aux = append(aux, rg)
	}
	aux = append(aux,
		newAux(diTag, g.id),
		newAux(dsTag, len(g.members)),
		newAux(dcTag, len(legs)))
	rec, err := sam.NewRecord(consensusPrefix+g.id, tmpl.Ref, tmpl.MateRef, tmpl.Pos, tmpl.MatePos, tmpl.TempLen,
		tmpl.MapQ, append(sam.Cigar(nil), tmpl.Cigar...), seq, qual, aux)
	if err != nil {
		return nil, errors.E(err, "build consensus record for group", g.id)
	}
	rec.Flags = tmpl.Flags &^ (sam.Duplicate | sam.Secondary | sam.Supplementary)
	return rec, nil
}

// betterCall returns true if base c beats base best: more summed quality,
// then more agreeing members, then agreement with the reference.
func betterCall(qual, count, c, bestQual, bestCount, best, ref int, haveRef bool) bool {
	if qual != bestQual {
		return qual > bestQual
	}
	if count != bestCount {
		return count > bestCount
	}
	return haveRef && c == ref && best != ref
}

// pickTemplate returns the record whose placement is shared by the most
// records, preferring the best base quality score and then the smallest
// name.
func pickTemplate(legs []*sam.Record) *sam.Record {
	counts := make(map[placement]int)
	for _, r := range legs {
		counts[placement{r.Pos, r.Cigar.String()}]++
	}
	var best *sam.Record
	bestCount, bestScore := 0, 0
	for _, r := range legs {
		n := counts[placement{r.Pos, r.Cigar.String()}]
		s := baseQScore(r)
		if best == nil || n > bestCount ||
			(n == bestCount && (s > bestScore || (s == bestScore && r.Name < best.Name))) {
			best, bestCount, bestScore = r, n, s
		}
	}
	return best
}

// linkMates points the mate fields of two consensus ends at each other.
func linkMates(a, b *sam.Record) {
	a.MateRef, a.MatePos = b.Ref, b.Pos
	b.MateRef, b.MatePos = a.Ref, a.Pos
	a.Flags &^= sam.Read2 | sam.MateReverse | sam.MateUnmapped
	b.Flags &^= sam.Read1 | sam.MateReverse | sam.MateUnmapped
	a.Flags |= sam.Paired | sam.Read1
	b.Flags |= sam.Paired | sam.Read2
	if bam.IsReverse(b) {
		a.Flags |= sam.MateReverse
	}
	if bam.IsReverse(a) {
		b.Flags |= sam.MateReverse
	}
	if a.Ref == b.Ref {
		tlen := b.End() - a.Pos
		if a.Pos > b.Pos {
			tlen = a.End() - b.Pos
		}
		if a.Pos <= b.Pos {
			a.TempLen, b.TempLen = tlen, -tlen
		} else {
			a.TempLen, b.TempLen = -tlen, tlen
		}
	} else {
		a.TempLen, b.TempLen = 0, 0
	}
}

// referencePositions returns the reference position aligned to each read
// offset of r, or -1 for clipped and inserted bases.
func referencePositions(r *sam.Record) []int {
	out := make([]int, 0, r.Seq.Length)
	ref := r.Pos
	for _, op := range r.Cigar {
		con := op.Type().Consumes()
		n := op.Len()
		switch {
		case con.Query != 0 && con.Reference != 0:
			for i := 0; i < n; i++ {
				out = append(out, ref+i)
			}
			ref += n
		case con.Query != 0:
			for i := 0; i < n; i++ {
				out = append(out, -1)
			}
		case con.Reference != 0:
			ref += n
		}
	}
	for len(out) < r.Seq.Length {
		out = append(out, -1)
	}
	return out[:r.Seq.Length]
}

func baseIndex(b byte) int {
	switch b {
	case 'A', 'a':
		return 0
	case 'C', 'c':
		return 1
	case 'G', 'g':
		return 2
	case 'T', 't':
		return 3
	}
	return 4
}

func baseQual(r *sam.Record, off int) int {
	if off >= len(r.Qual) || r.Qual[off] == 0xff {
		return 0
	}
	return int(r.Qual[off])
}
