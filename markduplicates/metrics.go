package markduplicates

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/hts/sam"
)

// Metrics contains metrics from mark duplicates.
type Metrics struct {
	// Implement the metrics reported by picard

	// UnpairedReads is the number of mapped reads examined which did
	// not have a mapped mate pair, either because the read is
	// unpaired, or the read is paired to an unmapped mate.
	UnpairedReads int

	// ReadPairsExamined is the number of mapped read pairs
	// examined. (Primary, non-supplemental).
	ReadPairsExamined int

	// SecondarySupplementary is the number of reads that were either
	// secondary or supplementary.
	SecondarySupplementary int

	// UnmappedReads is the total number of unmapped reads
	// examined. (Primary, non-supplemental).
	UnmappedReads int

	// UnpairedDups is the number of fragments that were marked as duplicates.
	UnpairedDups int

	// ReadPairDups is the number of read pairs that were marked as duplicates.
	ReadPairDups int

	// ReadPairOpticalDups is the number of read pairs duplicates that
	// were caused by optical duplication. Value is always <
	// READ_PAIR_DUPLICATES, which counts all duplicates regardless of
	// source.
	ReadPairOpticalDups int
}

// String returns a string representation of the metrics contained in
// m. The string can be used as metrics file output.
func (m *Metrics) String() string {
	librarySizeStr := "0"
	a := uint64((m.ReadPairsExamined / 2) - (m.ReadPairOpticalDups / 2))
	b := uint64((m.ReadPairsExamined / 2) - (m.ReadPairDups / 2))
	librarySize, err := estimateLibrarySize(a, b)
	switch {
	case err == nil:
		librarySizeStr = fmt.Sprintf("%v", librarySize)
	case err != errNoDuplicates:
		log.Error.Printf("estimateLibrarySize(%v, %v): %v", a, b, err)
	}

	percent := 0.0
	if examined := m.UnpairedReads + m.ReadPairsExamined; examined > 0 {
		percent = 100 * (float64(m.UnpairedDups+m.ReadPairDups) / float64(examined))
	}
	return fmt.Sprintf("%d\t%d\t%d\t%d\t%d\t%d\t%d\t%0.6f\t%v", m.UnpairedReads, m.ReadPairsExamined/2,
		m.SecondarySupplementary, m.UnmappedReads, m.UnpairedDups,
		m.ReadPairDups/2, m.ReadPairOpticalDups/2, percent, librarySizeStr)
}

// Add adds the metrics in other to m.
func (m *Metrics) Add(other *Metrics) {
	m.UnpairedReads += other.UnpairedReads
	m.ReadPairsExamined += other.ReadPairsExamined
	m.SecondarySupplementary += other.SecondarySupplementary
	m.UnmappedReads += other.UnmappedReads
	m.UnpairedDups += other.UnpairedDups
	m.ReadPairDups += other.ReadPairDups
	m.ReadPairOpticalDups += other.ReadPairOpticalDups
}

// Stats are run-wide counters of the engine.
type Stats struct {
	// Records is the number of records read, and Written the number of
	// input records written or removed.
	Records int
	Written int
	// Removed is the number of duplicates dropped with RemoveDups.
	Removed int
	// Fragments is the number of fragments decided.
	Fragments int
	// Duplicates is the number of records flagged duplicate.
	Duplicates int
	// ConsensusGroups and ConsensusRecords count UMI groups and the
	// consensus records built for them.
	ConsensusGroups  int
	ConsensusRecords int
	// Incomplete is the number of fragments flushed from a position cache
	// with legs missing, and Handoffs the number of handoffs submitted to
	// the partition store.
	Incomplete int
	Handoffs   int
	// MissingMateHints is the number of paired records without an MC tag,
	// and MissingSAHints the number of supplementary records without a
	// usable SA tag.
	MissingMateHints int
	MissingSAHints   int
	// WindowMisses is the number of fragments grouped behind the position
	// cache window.
	WindowMisses int
	// Unset is the number of records written with their input flags.
	Unset int
	// ExcludedMates is the number of records whose mate, or primary
	// alignment, lies outside every partition.
	ExcludedMates int
	// Unmatched is the number of records still waiting for their fragment
	// at the end of the run.
	Unmatched int
	// ConsistencyErrors is the number of records whose processed and
	// written counts differ.
	ConsistencyErrors int
}

// Add adds the counters in other to s.
func (s *Stats) Add(other *Stats) {
	s.Records += other.Records
	s.Written += other.Written
	s.Removed += other.Removed
	s.Fragments += other.Fragments
	s.Duplicates += other.Duplicates
	s.ConsensusGroups += other.ConsensusGroups
	s.ConsensusRecords += other.ConsensusRecords
	s.Incomplete += other.Incomplete
	s.Handoffs += other.Handoffs
	s.MissingMateHints += other.MissingMateHints
	s.MissingSAHints += other.MissingSAHints
	s.WindowMisses += other.WindowMisses
	s.Unset += other.Unset
	s.ExcludedMates += other.ExcludedMates
	s.Unmatched += other.Unmatched
	s.ConsistencyErrors += other.ConsistencyErrors
}

func (s *Stats) String() string {
	return fmt.Sprintf("records %d, written %d, removed %d, fragments %d, duplicates %d, "+
		"consensus groups %d, consensus records %d, incomplete %d, handoffs %d, "+
		"missing mate hints %d, missing SA hints %d, window misses %d, unset %d, "+
		"excluded mates %d, unmatched %d, consistency errors %d",
		s.Records, s.Written, s.Removed, s.Fragments, s.Duplicates,
		s.ConsensusGroups, s.ConsensusRecords, s.Incomplete, s.Handoffs,
		s.MissingMateHints, s.MissingSAHints, s.WindowMisses, s.Unset,
		s.ExcludedMates, s.Unmatched, s.ConsistencyErrors)
}

// MetricsCollection contains metrics computed by Mark.
type MetricsCollection struct {
	// RunID identifies the run in the metrics and diagnostics files.
	RunID string

	// LibraryMetrics contains per-library metrics.
	LibraryMetrics map[string]*Metrics

	// Stats contains engine counters.
	Stats Stats

	mutex sync.Mutex
}

func newMetricsCollection() *MetricsCollection {
	return &MetricsCollection{
		LibraryMetrics: make(map[string]*Metrics),
	}
}

// Get returns Metrics for the given library. If there is no Metrics
// for library yet, create one and return it.
func (mc *MetricsCollection) Get(library string) *Metrics {
	m, found := mc.LibraryMetrics[library]
	if found {
		return m
	}
	m = &Metrics{}
	mc.LibraryMetrics[library] = m
	return m
}

// Merge per-library metrics and stats from other into mc.
func (mc *MetricsCollection) Merge(other *MetricsCollection) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for library, otherMetrics := range other.LibraryMetrics {
		existing, found := mc.LibraryMetrics[library]
		if found {
			existing.Add(otherMetrics)
		} else {
			// Make a copy to be owned by m.
			new := *otherMetrics
			mc.LibraryMetrics[library] = &new
		}
	}
	mc.Stats.Add(&other.Stats)
}

func updateMetrics(readGroupLibrary map[string]string, mc *MetricsCollection, record *sam.Record) {
	library := GetLibrary(readGroupLibrary, record)
	metrics := mc.Get(library)

	if bam.IsUnmapped(record) {
		metrics.UnmappedReads++
	} else if bam.HasNoMappedMate(record) && bam.IsPrimary(record) {
		metrics.UnpairedReads++
	}

	if bam.IsPaired(record) && !bam.IsUnmapped(record) && !bam.IsMateUnmapped(record) && bam.IsPrimary(record) {
		metrics.ReadPairsExamined++
	}
	if !bam.IsPrimary(record) {
		metrics.SecondarySupplementary++
	}
}

func writeMetrics(ctx context.Context, opts *Opts, globalMetrics *MetricsCollection) (err error) {
	var f file.File
	f, err = file.Create(ctx, opts.MetricsFile)
	if err != nil {
		return errors.E(err, "Couldn't create metrics file:", opts.MetricsFile)
	}
	defer func() {
		if err2 := f.Close(ctx); err == nil && err2 != nil {
			err = err2
		}
	}()

	var s strings.Builder
	s.WriteString("# bio-dupmark\n")
	s.WriteString("# run id: " + globalMetrics.RunID + "\n")
	s.WriteString("# stats: " + globalMetrics.Stats.String() + "\n")
	s.WriteString("LIBRARY\tUNPAIRED_READS_EXAMINED\tREAD_PAIRS_EXAMINED\t" +
		"SECONDARY_OR_SUPPLEMENTARY_RDS\tUNMAPPED_READS\tUNPAIRED_READ_DUPLICATES\t" +
		"READ_PAIR_DUPLICATES\tREAD_PAIR_OPTICAL_DUPLICATES\tPERCENT_DUPLICATION\t" +
		"ESTIMATED_LIBRARY_SIZE\n")

	libraries := make([]string, 0, len(globalMetrics.LibraryMetrics))
	for library := range globalMetrics.LibraryMetrics {
		libraries = append(libraries, library)
	}
	sort.Strings(libraries)
	for _, library := range libraries {
		s.WriteString(library + "\t" + globalMetrics.LibraryMetrics[library].String() + "\n")
	}
	if _, err = f.Writer(ctx).Write([]byte(s.String())); err != nil {
		return errors.E(err, "error writing to metrics file:", opts.MetricsFile)
	}
	return nil
}
