package markduplicates

import (
	"fmt"

	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/hts/sam"
)

// LegKind identifies the role of a record within its fragment.
type LegKind uint8

const (
	// LegPrimary is the primary alignment of read 1, or of an unpaired read.
	LegPrimary LegKind = iota
	// LegMate is the primary alignment of read 2.
	LegMate
	// LegSupplementary is a supplementary alignment of either read.
	LegSupplementary
	// LegUnmappedMate is an unmapped read placed at its mate's position.
	LegUnmappedMate
)

func (k LegKind) String() string {
	switch k {
	case LegPrimary:
		return "primary"
	case LegMate:
		return "mate"
	case LegSupplementary:
		return "supplementary"
	case LegUnmappedMate:
		return "unmapped-mate"
	}
	return fmt.Sprintf("LegKind(%d)", uint8(k))
}

// legKind classifies a non-secondary record.
func legKind(r *sam.Record) LegKind {
	switch {
	case bam.IsUnmapped(r):
		return LegUnmappedMate
	case bam.IsSupplementary(r):
		return LegSupplementary
	case bam.IsPaired(r) && bam.IsRead2(r) && !bam.IsRead1(r):
		return LegMate
	default:
		return LegPrimary
	}
}

// Status is the duplicate status of a fragment.
type Status uint8

const (
	// StatusUnresolved means no decision has been made yet.
	StatusUnresolved Status = iota
	// StatusPrimary is the representative of its duplicate set, or a
	// fragment without duplicates.
	StatusPrimary
	// StatusDuplicate marks a duplicate of another fragment.
	StatusDuplicate
	// StatusUnset records are written with their input flags.
	StatusUnset
)

func (s Status) String() string {
	switch s {
	case StatusUnresolved:
		return "unresolved"
	case StatusPrimary:
		return "primary"
	case StatusDuplicate:
		return "duplicate"
	case StatusUnset:
		return "unset"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// decision is the outcome of duplicate resolution, shared by every record
// of a fragment.
type decision struct {
	status Status
	// setID and setSize describe the duplicate set (DI and DS). setSize is
	// zero when the fragment has no duplicates.
	setID   string
	setSize int
	optical bool
	// libraryDups is the number of non-optical duplicates in the set (DL),
	// or -1 when optical detection is off.
	libraryDups int
	// correctedUMI is set when UMI correction changed the UMI (DU).
	correctedUMI string
}

var (
	primaryDecision = decision{status: StatusPrimary, libraryDups: -1}
	unsetDecision   = decision{status: StatusUnset, libraryDups: -1}
)

// Fragment is the set of records that share a read name: up to two primary
// alignments and any number of supplementary alignments.
type Fragment struct {
	Name    string
	library string

	// legs holds the primary alignments, indexed by LegPrimary and LegMate.
	legs  [2]*sam.Record
	supps []*sam.Record
	// anchor is the first primary alignment added.
	anchor *sam.Record
	// expectedSupps is the number of supplementary alignments the SA tags of
	// the primary legs announce.
	expectedSupps int

	key      duplicateKey
	keyKnown bool
	umi      string
	// rawUMI is the UMI before correction, and corrected the UMI after
	// correction when correction changed it.
	rawUMI    string
	corrected string
	umiKnown  bool

	dec decision

	// pos is the grouping position in the position cache, and group the
	// group that holds the fragment there.
	pos   int
	group *fragmentGroup
}

func newFragment(name, library string) *Fragment {
	return &Fragment{Name: name, library: library, dec: decision{libraryDups: -1}}
}

// addLeg adds r to f. It returns an error when f already has a primary
// alignment of the same kind, and both slots are taken.
func (f *Fragment) addLeg(r *sam.Record) error {
	kind := legKind(r)
	switch kind {
	case LegSupplementary:
		f.supps = append(f.supps, r)
		return nil
	case LegUnmappedMate:
		return fmt.Errorf("read %s: unmapped record can not join a fragment", r.Name)
	}
	if f.legs[kind] != nil {
		// Neither or both of Read1 and Read2 are set; take the free slot.
		other := LegMate
		if kind == LegMate {
			other = LegPrimary
		}
		if f.legs[other] != nil {
			return fmt.Errorf("read %s: more than two primary alignments", r.Name)
		}
		kind = other
	}
	f.legs[kind] = r
	if f.anchor == nil {
		f.anchor = r
	}
	f.expectedSupps += len(bam.SupplementaryAlignments(r))
	return nil
}

// paired returns true if f is expected to have two primary alignments.
func (f *Fragment) paired() bool {
	for _, r := range f.legs {
		if r != nil {
			return !bam.HasNoMappedMate(r)
		}
	}
	if len(f.supps) > 0 {
		return !bam.HasNoMappedMate(f.supps[0])
	}
	return false
}

// primaryCount returns the number of primary alignments in f.
func (f *Fragment) primaryCount() int {
	n := 0
	for _, r := range f.legs {
		if r != nil {
			n++
		}
	}
	return n
}

// primariesComplete returns true if every primary alignment of f is present.
func (f *Fragment) primariesComplete() bool {
	n := f.primaryCount()
	if n == 0 {
		return false
	}
	return !f.paired() || n == 2
}

// missingLegs returns the primary legs f still misses, and the number of
// supplementary alignments still expected.
func (f *Fragment) missingLegs() (primaries int, supps int) {
	if f.paired() {
		primaries = 2 - f.primaryCount()
	} else if f.primaryCount() == 0 {
		primaries = 1
	}
	return primaries, f.expectedSupps - len(f.supps)
}

// complete returns true if f has all its primary and supplementary
// alignments.
func (f *Fragment) complete() bool {
	p, s := f.missingLegs()
	return p == 0 && s <= 0
}

// updateKey computes the key of f if it is not yet known. It returns true if
// the key is known afterwards.
func (f *Fragment) updateKey() bool {
	if f.legs[LegPrimary] != nil && f.legs[LegMate] != nil {
		f.key = keyFromLegs(f.library, f.legs[LegPrimary], f.legs[LegMate])
		f.keyKnown = true
		return true
	}
	if f.keyKnown {
		return true
	}
	if f.anchor == nil {
		return false
	}
	f.key, f.keyKnown = keyFromLeg(f.library, f.anchor)
	return f.keyKnown
}

// groupingPos returns the position f is grouped by: the lower 5' end of its
// key, or the unclipped 5' end of its anchor when the key is unknown.
func (f *Fragment) groupingPos() int {
	if f.keyKnown {
		return f.key.left.pos
	}
	return bam.UnclippedFivePrimePosition(f.anchor)
}

// correctedUMI returns the corrected UMI of f, or "" if correction did not
// change it.
func (f *Fragment) correctedUMI() string {
	return f.corrected
}

// records returns the records of f, primaries first.
func (f *Fragment) records() []*sam.Record {
	out := make([]*sam.Record, 0, 2+len(f.supps))
	for _, r := range f.legs {
		if r != nil {
			out = append(out, r)
		}
	}
	return append(out, f.supps...)
}

// primaries returns the primary alignments of f.
func (f *Fragment) primaries() []*sam.Record {
	out := make([]*sam.Record, 0, 2)
	for _, r := range f.legs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// score returns the sum of the base quality scores of the primary legs of
// f. With anchorOnly, only the anchor counts.
func (f *Fragment) score(anchorOnly bool) int {
	if anchorOnly {
		return baseQScore(f.anchor)
	}
	s := 0
	for _, r := range f.legs {
		if r != nil {
			s += baseQScore(r)
		}
	}
	return s
}

// meanQuality returns the average base quality over the primary legs.
func (f *Fragment) meanQuality() float64 {
	var sum, n int
	for _, r := range f.legs {
		if r == nil {
			continue
		}
		for _, q := range r.Qual {
			if q != 0xff {
				sum += int(q)
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// r1r2Orientation returns the orientation of read 1 followed by read 2. For
// a fragment with one primary leg, the mate direction comes from the flags.
func (f *Fragment) r1r2Orientation() Orientation {
	r1, r2 := f.legs[LegPrimary], f.legs[LegMate]
	switch {
	case r1 != nil && r2 != nil:
		return orientationBytePair(bam.IsReverse(r1), bam.IsReverse(r2))
	case !f.paired():
		return orientationByteSingle(bam.IsReverse(f.anchor))
	case r1 != nil:
		return orientationBytePair(bam.IsReverse(r1), bam.IsMateReverse(r1))
	default:
		return orientationBytePair(bam.IsMateReverse(r2), bam.IsReverse(r2))
	}
}

// fragmentGroup is the set of fragments that share one grouping position.
type fragmentGroup struct {
	pos       int
	fragments []*Fragment
}

func (g *fragmentGroup) add(f *Fragment) {
	f.pos = g.pos
	f.group = g
	g.fragments = append(g.fragments, f)
}

func (g *fragmentGroup) remove(f *Fragment) {
	for i, x := range g.fragments {
		if x == f {
			g.fragments = append(g.fragments[:i], g.fragments[i+1:]...)
			break
		}
	}
	f.group = nil
}
