package markduplicates

import (
	"github.com/grailbio/base/errors"
	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/dupmark/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
)

// applyStatus sets the duplicate flag and tags of r from d. Applying the
// same decision twice leaves r as applying it once.
func applyStatus(r *sam.Record, d decision, opts *Opts) {
	switch d.status {
	case StatusPrimary:
		r.Flags &^= sam.Duplicate
	case StatusDuplicate:
		r.Flags |= sam.Duplicate
	default:
		return
	}
	if !opts.TagDuplicates {
		// UMI group members always carry their group, so that they can be
		// matched to the consensus records of the group.
		if opts.UseUmis {
			bam.ClearAuxTags(r, setTags)
			appendSetTags(r, d)
		}
		return
	}
	bam.ClearAuxTags(r, dupTags)
	appendSetTags(r, d)
	if d.libraryDups >= 0 {
		r.AuxFields = append(r.AuxFields, newAux(dlTag, d.libraryDups))
	}
	if d.status == StatusDuplicate && opts.OpticalDetector != nil {
		dt := "LB"
		if d.optical {
			dt = "SQ"
		}
		r.AuxFields = append(r.AuxFields, newAux(dtTag, dt))
	}
	if d.correctedUMI != "" {
		r.AuxFields = append(r.AuxFields, newAux(duTag, d.correctedUMI))
	}
}

func appendSetTags(r *sam.Record, d decision) {
	if d.setSize > 1 {
		r.AuxFields = append(r.AuxFields, newAux(diTag, d.setID), newAux(dsTag, d.setSize))
	}
}

// outputWriter applies decisions to records and writes them to the sink.
// Shared by all workers.
type outputWriter struct {
	opts             *Opts
	sink             bamprovider.Sink
	readGroupLibrary map[string]string
	// checker and diag are nil unless enabled.
	checker *consistencyChecker
	diag    *diagnosticsWriter
}

// write applies o's decision to its record and writes the record, unless
// RemoveDups drops it. Counters go to mc, which the caller owns.
func (w *outputWriter) write(o output, mc *MetricsCollection) error {
	r := o.r
	applyStatus(r, o.dec, w.opts)
	stats := &mc.Stats
	switch o.dec.status {
	case StatusDuplicate:
		stats.Duplicates++
		w.countDuplicate(r, o.dec, mc)
	case StatusUnset:
		stats.Unset++
	}
	if w.checker != nil {
		if err := w.checker.written(r); err != nil {
			return errors.E(err, "consistency check", r.Name)
		}
	}
	if w.diag != nil {
		if err := w.diag.record(r, o.dec); err != nil {
			return errors.E(err, "write diagnostics", r.Name)
		}
	}
	stats.Written++
	if w.opts.RemoveDups && r.Flags&sam.Duplicate != 0 {
		stats.Removed++
		return nil
	}
	if err := w.sink.Write(r); err != nil {
		return errors.E(err, "write", r.Name)
	}
	return nil
}

// countDuplicate updates the library metrics for a record marked duplicate.
// Only the primary alignments of a fragment count.
func (w *outputWriter) countDuplicate(r *sam.Record, d decision, mc *MetricsCollection) {
	if !bam.IsPrimary(r) || bam.IsUnmapped(r) {
		return
	}
	m := mc.Get(GetLibrary(w.readGroupLibrary, r))
	if bam.HasNoMappedMate(r) {
		m.UnpairedDups++
		return
	}
	m.ReadPairDups++
	if d.optical {
		m.ReadPairOpticalDups++
	}
}

// writeConsensus writes the consensus records of a UMI group. Consensus
// records are new, so the consistency checker does not see them.
func (w *outputWriter) writeConsensus(recs []*sam.Record, mc *MetricsCollection) error {
	mc.Stats.ConsensusGroups++
	for _, r := range recs {
		mc.Stats.ConsensusRecords++
		if w.diag != nil {
			if err := w.diag.record(r, primaryDecision); err != nil {
				return errors.E(err, "write diagnostics", r.Name)
			}
		}
		if err := w.sink.Write(r); err != nil {
			return errors.E(err, "write consensus", r.Name)
		}
	}
	return nil
}
