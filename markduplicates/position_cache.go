package markduplicates

import (
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/hts/sam"
	"github.com/willf/bitset"
)

// positionCache groups the fragments of one partition by grouping position,
// over a sliding window of capacity positions that ends at the start of the
// last record seen. Position p in the window lives in slot
// (p - baseOffset) mod capacity. Fragments grouped past the end of the
// window, for example by the 5' end of a reverse read, live in the reverse
// map until the window passes them.
//
// A positionCache is owned by one worker.
type positionCache struct {
	capacity    int
	baseOffset  int
	minPosition int
	started     bool

	slots    []*fragmentGroup
	occupied *bitset.BitSet
	reverse  map[int]*fragmentGroup
	byName   map[string]*Fragment
	// evicted holds the names of fragments flushed before all their primary
	// legs arrived. Later legs of these fragments are not cached.
	evicted map[string]struct{}
	// ready holds groups emitted outside of CheckFlush: fragments whose
	// grouping position fell behind the window.
	ready []*fragmentGroup

	windowMisses int
}

func newPositionCache(capacity int) *positionCache {
	return &positionCache{
		capacity: capacity,
		slots:    make([]*fragmentGroup, capacity),
		occupied: bitset.New(uint(capacity)),
		reverse:  make(map[int]*fragmentGroup),
		byName:   make(map[string]*Fragment),
		evicted:  make(map[string]struct{}),
	}
}

// Reset empties the cache and places the window so that it ends at
// position.
func (c *positionCache) Reset(position int) {
	for i := range c.slots {
		c.slots[i] = nil
	}
	c.occupied.ClearAll()
	c.reverse = make(map[int]*fragmentGroup)
	c.byName = make(map[string]*Fragment)
	c.evicted = make(map[string]struct{})
	c.ready = nil
	c.minPosition = position - c.capacity + 1
	c.baseOffset = c.minPosition
	c.started = true
}

// Len returns the number of cached fragments.
func (c *positionCache) Len() int {
	return len(c.byName)
}

func (c *positionCache) slot(pos int) int {
	i := (pos - c.baseOffset) % c.capacity
	if i < 0 {
		i += c.capacity
	}
	return i
}

// place adds f to the group at its grouping position.
func (c *positionCache) place(f *Fragment) {
	pos := f.groupingPos()
	switch {
	case pos < c.minPosition:
		c.windowMisses++
		if log.At(log.Debug) {
			log.Debug.Printf("window miss: %s at %d, window starts at %d", f.Name, pos, c.minPosition)
		}
		g := &fragmentGroup{pos: pos}
		g.add(f)
		c.ready = append(c.ready, g)
		c.forget(f)
	case pos >= c.minPosition+c.capacity:
		g := c.reverse[pos]
		if g == nil {
			g = &fragmentGroup{pos: pos}
			c.reverse[pos] = g
		}
		g.add(f)
	default:
		i := c.slot(pos)
		g := c.slots[i]
		if g == nil {
			g = &fragmentGroup{pos: pos}
			c.slots[i] = g
			c.occupied.Set(uint(i))
		} else if g.pos != pos {
			log.Panicf("slot %d holds position %d, want %d", i, g.pos, pos)
		}
		g.add(f)
	}
}

// forget removes f from the name index once it leaves the cache.
func (c *positionCache) forget(f *Fragment) {
	delete(c.byName, f.Name)
	if p, _ := f.missingLegs(); p > 0 {
		c.evicted[f.Name] = struct{}{}
	}
}

// ProcessRecord adds r to the cache. It returns true if r was added: either
// r belongs to a cached fragment, or r starts a new fragment whose other
// primary leg, if any, does not precede r in coordinate order. It returns false
// if the caller must hand r to the partition store.
func (c *positionCache) ProcessRecord(r *sam.Record, library string) (bool, error) {
	if !c.started {
		c.Reset(r.Pos)
	}
	if f, ok := c.byName[r.Name]; ok {
		if err := f.addLeg(r); err != nil {
			return false, err
		}
		if legKind(r) != LegSupplementary {
			c.relocate(f)
		}
		return true, nil
	}
	if bam.IsSupplementary(r) {
		return false, nil
	}
	if _, ok := c.evicted[r.Name]; ok {
		return false, nil
	}
	if !bam.HasNoMappedMate(r) && bam.MateCoordFromRecord(r).LT(bam.CoordFromRecord(r)) {
		return false, nil
	}
	f := newFragment(r.Name, library)
	if err := f.addLeg(r); err != nil {
		return false, err
	}
	f.updateKey()
	c.byName[f.Name] = f
	c.place(f)
	return true, nil
}

// relocate moves f if its grouping position changed because its key became
// known.
func (c *positionCache) relocate(f *Fragment) {
	f.updateKey()
	pos := f.groupingPos()
	if pos == f.pos {
		return
	}
	g := f.group
	g.remove(f)
	if len(g.fragments) == 0 {
		c.drop(g)
	}
	c.place(f)
}

// drop removes an empty group from the cache.
func (c *positionCache) drop(g *fragmentGroup) {
	if c.reverse[g.pos] == g {
		delete(c.reverse, g.pos)
		return
	}
	i := c.slot(g.pos)
	if c.slots[i] == g {
		c.slots[i] = nil
		c.occupied.Clear(uint(i))
	}
}

// TakeReady returns the groups emitted by window misses since the last call.
func (c *positionCache) TakeReady() []*fragmentGroup {
	ready := c.ready
	c.ready = nil
	return ready
}

// CheckFlush advances the window so that it ends at position, and returns
// the groups whose grouping position is now behind the window, ordered by
// position.
func (c *positionCache) CheckFlush(position int) []*fragmentGroup {
	if !c.started {
		c.Reset(position)
		return nil
	}
	if position <= c.minPosition+c.capacity-1 {
		return nil
	}
	newMin := position - c.capacity + 1
	var flushed []*fragmentGroup
	end := newMin
	if end > c.minPosition+c.capacity {
		end = c.minPosition + c.capacity
	}
	for pos := c.minPosition; pos < end; pos++ {
		i := c.slot(pos)
		if !c.occupied.Test(uint(i)) {
			continue
		}
		flushed = append(flushed, c.slots[i])
		c.slots[i] = nil
		c.occupied.Clear(uint(i))
	}
	for pos, g := range c.reverse {
		if pos < newMin {
			flushed = append(flushed, g)
			delete(c.reverse, pos)
		}
	}
	c.minPosition = newMin
	return c.finish(flushed)
}

// EvictAll flushes every group, ordered by position, and resets the cache.
func (c *positionCache) EvictAll() []*fragmentGroup {
	var flushed []*fragmentGroup
	for i, ok := c.occupied.NextSet(0); ok; i, ok = c.occupied.NextSet(i + 1) {
		flushed = append(flushed, c.slots[i])
		c.slots[i] = nil
	}
	c.occupied.ClearAll()
	for pos, g := range c.reverse {
		flushed = append(flushed, g)
		delete(c.reverse, pos)
	}
	flushed = c.finish(flushed)
	c.started = false
	c.evicted = make(map[string]struct{})
	if len(c.byName) != 0 {
		log.Panicf("%d fragments left in cache after evicting all groups", len(c.byName))
	}
	return flushed
}

// finish sorts flushed groups by position, merging groups that share one,
// and removes their fragments from the name index.
func (c *positionCache) finish(flushed []*fragmentGroup) []*fragmentGroup {
	sort.SliceStable(flushed, func(i, j int) bool { return flushed[i].pos < flushed[j].pos })
	out := flushed[:0]
	for _, g := range flushed {
		if n := len(out); n > 0 && out[n-1].pos == g.pos {
			for _, f := range g.fragments {
				out[n-1].add(f)
			}
		} else {
			out = append(out, g)
		}
	}
	for _, g := range out {
		for _, f := range g.fragments {
			f.group = nil
			c.forget(f)
		}
	}
	return out
}
