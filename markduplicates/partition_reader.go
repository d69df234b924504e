package markduplicates

import (
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/hts/sam"
)

// partitionReader runs the records of one partition at a time through a
// position cache, writes decided records, and hands the rest to the
// partition store. Each worker owns one partitionReader.
type partitionReader struct {
	m        *MarkDuplicates
	worker   int
	cache    *positionCache
	builder  consensusBuilder
	metrics  *MetricsCollection
	handoffs []handoff
}

func (m *MarkDuplicates) newPartitionReader(worker int) *partitionReader {
	return &partitionReader{
		m:       m,
		worker:  worker,
		cache:   newPositionCache(m.Opts.CacheCapacity),
		builder: consensusBuilder{ref: m.Opts.Reference},
		metrics: newMetricsCollection(),
	}
}

// processPartition reads every record of p and completes p.
func (pr *partitionReader) processPartition(p bam.Partition) error {
	t0 := time.Now()
	records := pr.metrics.Stats.Records
	iter := pr.m.Provider.NewIterator(p)
	for iter.Scan() {
		if err := pr.processRecord(iter.Record(), &p); err != nil {
			_ = iter.Close()
			return err
		}
	}
	if err := iter.Close(); err != nil {
		return errors.E(err, "read partition", p.String())
	}
	if err := pr.complete(&p); err != nil {
		return err
	}
	log.Debug.Printf("worker %d finished partition %s, reads %d, total %v",
		pr.worker, p.String(), pr.metrics.Stats.Records-records, time.Since(t0))
	return nil
}

func (pr *partitionReader) processRecord(r *sam.Record, p *bam.Partition) error {
	opts := pr.m.Opts
	stats := &pr.metrics.Stats
	stats.Records++
	if opts.ClearExisting {
		clearDupFlagTags(r)
	}
	if pr.m.checker != nil {
		if err := pr.m.checker.processed(r); err != nil {
			return errors.E(err, "consistency check", r.Name)
		}
	}
	updateMetrics(pr.m.readGroupLibrary, pr.metrics, r)

	if p.IsUnmapped() || !bam.IsMapped(r) || bam.IsSecondary(r) {
		return pr.write(output{r: r, dec: unsetDecision})
	}
	if excluded, err := pr.excluded(r); err != nil || excluded {
		if err != nil {
			return err
		}
		return pr.write(output{r: r, dec: unsetDecision})
	}
	if !bam.HasNoMappedMate(r) {
		if _, ok := bam.MateCigar(r); !ok {
			stats.MissingMateHints++
		}
	}

	if err := pr.resolve(pr.cache.CheckFlush(r.Pos)); err != nil {
		return err
	}
	library := GetLibrary(pr.m.readGroupLibrary, r)
	cached, err := pr.cache.ProcessRecord(r, library)
	if err != nil {
		return err
	}
	if err := pr.resolve(pr.cache.TakeReady()); err != nil {
		return err
	}
	if cached {
		return nil
	}
	outs, groups, err := pr.m.store.ProcessIncompleteFragment(r, library)
	if err != nil {
		return err
	}
	return pr.emit(outs, groups)
}

// excluded returns true if r can not be reconciled with the rest of its
// fragment because another leg lies outside every partition. Such records
// are written unset.
func (pr *partitionReader) excluded(r *sam.Record) (bool, error) {
	stats := &pr.metrics.Stats
	if bam.IsSupplementary(r) {
		coord, ok := pr.m.store.primaryCoord(r)
		if !ok {
			stats.MissingSAHints++
			return true, nil
		}
		if _, ok := pr.m.index.Lookup(coord); !ok {
			stats.ExcludedMates++
			return true, nil
		}
	}
	if bam.HasNoMappedMate(r) {
		return false, nil
	}
	if _, ok := pr.m.index.Lookup(bam.MateCoordFromRecord(r)); !ok {
		stats.ExcludedMates++
		return true, nil
	}
	return false, nil
}

// resolve decides the fragments of flushed groups. Decided records are
// written; fragments that still miss legs, and groups with a member whose
// key is unknown, are queued as handoffs for the partition store.
func (pr *partitionReader) resolve(flushed []*fragmentGroup) error {
	for _, g := range flushed {
		umiGroups, deferred := pr.m.resolver.resolveGroup(g)
		if deferred != nil {
			pr.metrics.Stats.Incomplete += len(deferred)
			pr.handoffs = append(pr.handoffs, handoff{candidate: deferred})
			continue
		}
		pending := make(map[*Fragment]*umiGroup)
		for _, ug := range umiGroups {
			if ug.complete() {
				ug.done = true
				if err := pr.writeConsensus(ug); err != nil {
					return err
				}
				continue
			}
			for _, f := range ug.members {
				pending[f] = ug
			}
		}
		for _, f := range g.fragments {
			pr.metrics.Stats.Fragments++
			for _, r := range f.records() {
				if err := pr.write(output{r: r, dec: f.dec}); err != nil {
					return err
				}
			}
			if !f.complete() {
				pr.metrics.Stats.Incomplete++
				pr.handoffs = append(pr.handoffs, handoff{frag: f, group: pending[f]})
			}
		}
	}
	return nil
}

// complete flushes the position cache at the end of p and passes the
// handoffs of p to the partition store.
func (pr *partitionReader) complete(p *bam.Partition) error {
	if err := pr.resolve(pr.cache.EvictAll()); err != nil {
		return err
	}
	pr.metrics.Stats.WindowMisses += pr.cache.windowMisses
	pr.cache.windowMisses = 0
	if len(pr.handoffs) == 0 {
		return nil
	}
	pr.metrics.Stats.Handoffs += len(pr.handoffs)
	outs, groups, err := pr.m.store.ProcessIncompleteFragments(p.Idx, pr.handoffs)
	pr.handoffs = nil
	if err != nil {
		return err
	}
	return pr.emit(outs, groups)
}

// emit writes records and consensus records released by the partition
// store.
func (pr *partitionReader) emit(outs []output, groups []*umiGroup) error {
	for _, o := range outs {
		if err := pr.write(o); err != nil {
			return err
		}
	}
	for _, g := range groups {
		if err := pr.writeConsensus(g); err != nil {
			return err
		}
	}
	return nil
}

func (pr *partitionReader) write(o output) error {
	return pr.m.writer.write(o, pr.metrics)
}

func (pr *partitionReader) writeConsensus(g *umiGroup) error {
	recs, err := pr.builder.build(g)
	if err != nil {
		return err
	}
	return pr.m.writer.writeConsensus(recs, pr.metrics)
}
