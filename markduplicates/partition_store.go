package markduplicates

import (
	"sort"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/dupmark/encoding/bampair"
	"github.com/grailbio/hts/sam"
)

// output is a record ready to be written, with the decision to apply.
type output struct {
	r   *sam.Record
	dec decision
}

func outputs(outs []output, f *Fragment, d decision) []output {
	for _, r := range f.records() {
		outs = append(outs, output{r: r, dec: d})
	}
	return outs
}

// handoff is work a partition passes to the partition store when it
// completes: a flushed fragment that still misses legs, or a candidate
// group whose members miss the legs that decide their keys.
type handoff struct {
	frag *Fragment
	// group is the member's umiGroup when its consensus is still pending.
	group     *umiGroup
	candidate []*Fragment
}

// resolvedEntry is a decided fragment whose remaining legs have not yet
// arrived.
type resolvedEntry struct {
	frag  *Fragment
	dec   decision
	group *umiGroup
}

// candidateGroup is the set of fragments that shared a grouping position
// when it was flushed, at least one of them with an unknown key. The group
// is classified as a whole once every member has its primary legs.
type candidateGroup struct {
	members []*Fragment
	pending int
}

func (cg *candidateGroup) member(name string) *Fragment {
	for _, f := range cg.members {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// partitionData holds the cross-partition state of one partition: the
// fragments whose home is that partition, keyed by read name. The home of a
// fragment is the partition holding its lowest primary alignment.
type partitionData struct {
	mu         sync.Mutex
	waiting    map[string]*Fragment
	resolved   map[string]*resolvedEntry
	candidates map[string]*candidateGroup
}

// partitionStore reconciles fragments whose legs fall into different
// partitions, or that leave a position cache before all their legs arrive.
// Each partition has its own lock; there is no global lock. Whichever
// worker adds the last missing leg of a fragment gets its records back for
// writing, so every record is returned exactly once.
type partitionStore struct {
	index    *bampair.PartitionIndex
	buckets  []*partitionData
	resolver *resolver
}

func newPartitionStore(index *bampair.PartitionIndex, rv *resolver) *partitionStore {
	s := &partitionStore{
		index:    index,
		buckets:  make([]*partitionData, index.Len()),
		resolver: rv,
	}
	for i := range s.buckets {
		s.buckets[i] = &partitionData{
			waiting:    make(map[string]*Fragment),
			resolved:   make(map[string]*resolvedEntry),
			candidates: make(map[string]*candidateGroup),
		}
	}
	return s
}

// primaryCoord returns the alignment start of the primary alignment of r's
// read: r itself, or for a supplementary alignment the first entry of its
// SA tag.
func (s *partitionStore) primaryCoord(r *sam.Record) (bam.Coord, bool) {
	if !bam.IsSupplementary(r) {
		return bam.CoordFromRecord(r), true
	}
	sa := bam.SupplementaryAlignments(r)
	if len(sa) == 0 {
		return bam.Coord{}, false
	}
	refID, ok := s.index.RefID(sa[0].RefName)
	if !ok {
		return bam.Coord{}, false
	}
	return bam.Coord{RefID: refID, Pos: sa[0].Pos}, true
}

// home returns the partition that owns the fragment of r.
func (s *partitionStore) home(r *sam.Record) (*bam.Partition, bool) {
	coord, ok := s.primaryCoord(r)
	if !ok {
		return nil, false
	}
	if !bam.HasNoMappedMate(r) {
		coord = coord.Min(bam.MateCoordFromRecord(r))
	}
	return s.index.Lookup(coord)
}

// ProcessIncompleteFragment registers r with the partition store. It returns
// the records that are now decided, r among them if its fragment is
// decided, and the UMI groups whose consensus records are due.
func (s *partitionStore) ProcessIncompleteFragment(r *sam.Record, library string) ([]output, []*umiGroup, error) {
	p, ok := s.home(r)
	if !ok {
		return nil, nil, errors.E(errors.Invalid, "no home partition for read", r.Name)
	}
	b := s.buckets[p.Idx]
	b.mu.Lock()
	defer b.mu.Unlock()

	if e := b.resolved[r.Name]; e != nil {
		if err := e.frag.addLeg(r); err != nil {
			return nil, nil, err
		}
		outs := []output{{r: r, dec: e.dec}}
		return outs, s.settle(b, e, nil), nil
	}
	if cg := b.candidates[r.Name]; cg != nil {
		f := cg.member(r.Name)
		wasComplete := f.primariesComplete()
		if err := f.addLeg(r); err != nil {
			return nil, nil, err
		}
		if !wasComplete && f.primariesComplete() {
			cg.pending--
		}
		if cg.pending > 0 {
			return nil, nil, nil
		}
		outs, groups := s.closeCandidates(b, cg, nil, nil)
		return outs, groups, nil
	}

	f := b.waiting[r.Name]
	if f == nil {
		f = newFragment(r.Name, library)
		b.waiting[r.Name] = f
	}
	if err := f.addLeg(r); err != nil {
		return nil, nil, err
	}
	if !f.primariesComplete() {
		return nil, nil, nil
	}
	// Neither primary leg went through a position cache, so the fragment is
	// resolved on its own.
	delete(b.waiting, r.Name)
	f.dec = s.resolver.single(f)
	if !f.complete() {
		b.resolved[f.Name] = &resolvedEntry{frag: f, dec: f.dec}
	}
	return outputs(nil, f, f.dec), nil, nil
}

// ProcessIncompleteFragments registers the handoffs of a completed
// partition, all of which belong to the partition with index key. Legs
// already waiting for the handed-off fragments are merged and returned.
func (s *partitionStore) ProcessIncompleteFragments(key int, handoffs []handoff) ([]output, []*umiGroup, error) {
	b := s.buckets[key]
	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		outs   []output
		groups []*umiGroup
	)
	for _, h := range handoffs {
		if h.candidate != nil {
			cg := &candidateGroup{members: h.candidate}
			for _, f := range cg.members {
				if err := s.merge(b, f, nil); err != nil {
					return nil, nil, err
				}
				b.candidates[f.Name] = cg
				if !f.primariesComplete() {
					cg.pending++
				}
			}
			if cg.pending == 0 {
				outs, groups = s.closeCandidates(b, cg, outs, groups)
			}
			continue
		}
		e := &resolvedEntry{frag: h.frag, dec: h.frag.dec, group: h.group}
		var err error
		if outs, err = s.mergeResolved(b, e, outs); err != nil {
			return nil, nil, err
		}
		b.resolved[e.frag.Name] = e
		groups = s.settle(b, e, groups)
	}
	return outs, groups, nil
}

// merge moves the legs waiting under f's name into f.
func (s *partitionStore) merge(b *partitionData, f *Fragment, added *[]*sam.Record) error {
	w := b.waiting[f.Name]
	if w == nil {
		return nil
	}
	delete(b.waiting, f.Name)
	for _, r := range w.records() {
		if err := f.addLeg(r); err != nil {
			return err
		}
		if added != nil {
			*added = append(*added, r)
		}
	}
	return nil
}

func (s *partitionStore) mergeResolved(b *partitionData, e *resolvedEntry, outs []output) ([]output, error) {
	var added []*sam.Record
	if err := s.merge(b, e.frag, &added); err != nil {
		return nil, err
	}
	for _, r := range added {
		outs = append(outs, output{r: r, dec: e.dec})
	}
	return outs, nil
}

// settle removes e once its fragment is complete, and hands out e's UMI
// group when all its members have their primary legs.
func (s *partitionStore) settle(b *partitionData, e *resolvedEntry, groups []*umiGroup) []*umiGroup {
	if e.group != nil && !e.group.done && e.group.complete() {
		e.group.done = true
		groups = append(groups, e.group)
	}
	if e.frag.complete() {
		delete(b.resolved, e.frag.Name)
	}
	return groups
}

// closeCandidates classifies the members of cg whose keys are known and
// returns their records. Members whose key is still unknown, which only
// happens at the end of the run, are returned unset.
func (s *partitionStore) closeCandidates(b *partitionData, cg *candidateGroup, outs []output, groups []*umiGroup) ([]output, []*umiGroup) {
	var ready []*Fragment
	for _, f := range cg.members {
		delete(b.candidates, f.Name)
		if f.updateKey() {
			ready = append(ready, f)
			continue
		}
		f.dec = unsetDecision
		outs = outputs(outs, f, unsetDecision)
	}
	for _, g := range s.resolver.classify(ready) {
		g.done = true
		groups = append(groups, g)
	}
	for _, f := range ready {
		outs = outputs(outs, f, f.dec)
		if !f.complete() {
			b.resolved[f.Name] = &resolvedEntry{frag: f, dec: f.dec}
		}
	}
	return outs, groups
}

// FlushUnmatched drains every bucket at the end of the run. Waiting records
// are returned unset, candidate groups are closed with the members they
// have, and pending UMI groups are returned for consensus with the legs
// they have. It returns the number of records that never found their
// fragment.
func (s *partitionStore) FlushUnmatched() ([]output, []*umiGroup, int) {
	var (
		outs      []output
		groups    []*umiGroup
		unmatched int
	)
	for _, b := range s.buckets {
		b.mu.Lock()
		names := make([]string, 0, len(b.candidates))
		for name := range b.candidates {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if cg := b.candidates[name]; cg != nil {
				outs, groups = s.closeCandidates(b, cg, outs, groups)
			}
		}
		for name, e := range b.resolved {
			if e.group != nil && !e.group.done {
				e.group.done = true
				groups = append(groups, e.group)
			}
			delete(b.resolved, name)
		}
		names = names[:0]
		for name := range b.waiting {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			f := b.waiting[name]
			if log.At(log.Debug) {
				log.Debug.Printf("unmatched fragment %s: %d records", name, len(f.records()))
			}
			unmatched += len(f.records())
			outs = outputs(outs, f, unsetDecision)
			delete(b.waiting, name)
		}
		b.mu.Unlock()
	}
	return outs, groups, unmatched
}
