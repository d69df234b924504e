package markduplicates

import (
	"context"
	"fmt"
	"io/ioutil"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/dupmark/encoding/bampair"
	"github.com/grailbio/dupmark/encoding/bamprovider"
	"github.com/grailbio/dupmark/encoding/fasta"
	"github.com/grailbio/dupmark/interval"
	"github.com/grailbio/hts/sam"
)

// MarkDuplicates implements duplicate marking.
type MarkDuplicates struct {
	Provider bamprovider.Provider
	Sink     bamprovider.Sink
	Opts     *Opts

	readGroupLibrary map[string]string
	index            *bampair.PartitionIndex
	resolver         *resolver
	store            *partitionStore
	writer           *outputWriter
	checker          *consistencyChecker
	globalMetrics    *MetricsCollection
}

// Mark marks the duplicates in partitions and writes every record to
// m.Sink. If partitions is nil, the whole genome is partitioned with
// Opts.PartitionLength, unmapped reads included. Mark does not close the
// sink; on error it aborts it and discards the diagnostics file. It returns
// the metrics of the run.
func (m *MarkDuplicates) Mark(ctx context.Context, partitions []bam.Partition) (*MetricsCollection, error) {
	mc, err := m.mark(ctx, partitions)
	if err != nil {
		if err2 := m.Sink.Abort(ctx); err2 != nil {
			log.Error.Printf("abort output: %v", err2)
		}
		if m.writer != nil && m.writer.diag != nil {
			m.writer.diag.discard(ctx)
		}
		return nil, err
	}
	return mc, nil
}

func (m *MarkDuplicates) mark(ctx context.Context, partitions []bam.Partition) (*MetricsCollection, error) {
	partitions, err := m.setup(ctx, partitions)
	if err != nil {
		return nil, err
	}
	log.Printf("run %s: marking duplicates in %d partitions with %d workers",
		m.globalMetrics.RunID, len(partitions), m.Opts.Parallelism)

	t0 := time.Now()
	var (
		wg sync.WaitGroup
		e  errors.Once
	)
	partitionCh := bam.NewPartitionChannel(partitions)
	for i := 0; i < m.Opts.Parallelism; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			pr := m.newPartitionReader(worker)
			for p := range partitionCh {
				if e.Err() != nil {
					continue
				}
				if err := pr.processPartition(p); err != nil {
					e.Set(errors.E(err, "partition", p.String()))
				}
			}
			m.globalMetrics.Merge(pr.metrics)
		}(i)
	}
	wg.Wait()
	if err := e.Err(); err != nil {
		return nil, err
	}
	if err := m.finish(ctx); err != nil {
		return nil, err
	}
	log.Printf("run %s: done in %v: %v", m.globalMetrics.RunID, time.Since(t0), &m.globalMetrics.Stats)
	return m.globalMetrics, nil
}

// setup prepares the state shared by all workers, and returns the
// partitions to process.
func (m *MarkDuplicates) setup(ctx context.Context, partitions []bam.Partition) ([]bam.Partition, error) {
	header, err := m.Provider.GetHeader()
	if err != nil {
		return nil, err
	}
	if partitions == nil {
		partitions, err = m.Provider.GeneratePartitions(bamprovider.GeneratePartitionsOpts{
			Length:          m.Opts.PartitionLength,
			IncludeUnmapped: true,
		})
		if err != nil {
			return nil, err
		}
	}
	bam.ValidatePartitionList(partitions)

	m.readGroupLibrary = readGroupLibraries(header)
	m.index = bampair.NewPartitionIndex(partitions)
	if m.resolver, err = newResolver(m.Opts); err != nil {
		return nil, err
	}
	m.store = newPartitionStore(m.index, m.resolver)
	m.globalMetrics = newMetricsCollection()
	m.globalMetrics.RunID = uuid.New().String()
	m.writer = &outputWriter{
		opts:             m.Opts,
		sink:             m.Sink,
		readGroupLibrary: m.readGroupLibrary,
	}
	if m.Opts.CheckConsistency {
		m.checker = newConsistencyChecker()
		m.writer.checker = m.checker
	}
	if m.Opts.DiagnosticsFile != "" {
		m.writer.diag, err = newDiagnosticsWriter(ctx, m.Opts.DiagnosticsFile, m.globalMetrics.RunID)
		if err != nil {
			return nil, err
		}
	}
	return partitions, nil
}

// finish writes what the partition store still holds once every partition
// is complete, and checks the output against the input.
func (m *MarkDuplicates) finish(ctx context.Context) error {
	pr := m.newPartitionReader(-1)
	outs, groups, unmatched := m.store.FlushUnmatched()
	pr.metrics.Stats.Unmatched += unmatched
	if err := pr.emit(outs, groups); err != nil {
		return err
	}
	m.globalMetrics.Merge(pr.metrics)

	if m.writer.diag != nil {
		if err := m.writer.diag.close(ctx); err != nil {
			return err
		}
	}
	stats := &m.globalMetrics.Stats
	if m.checker != nil {
		stats.ConsistencyErrors = m.checker.check()
		if stats.ConsistencyErrors > 0 && m.Opts.StrictConsistency {
			return errors.E(errors.Integrity,
				fmt.Sprintf("%d records written do not match the records read", stats.ConsistencyErrors))
		}
	}
	if stats.Written != stats.Records {
		log.Error.Printf("run %s: read %d records, wrote %d", m.globalMetrics.RunID, stats.Records, stats.Written)
	}
	return nil
}

// readGroupLibraries maps each read group of header to its library.
func readGroupLibraries(header *sam.Header) map[string]string {
	readGroupLibrary := make(map[string]string)
	for _, rg := range header.RGs() {
		readGroupLibrary[rg.Name()] = rg.Library()
	}
	return readGroupLibrary
}

// partitionsFor returns the partitions of the regions named by opts, or of
// the whole genome and the unmapped reads when opts names no regions.
func partitionsFor(ctx context.Context, provider bamprovider.Provider, opts *Opts) ([]bam.Partition, error) {
	header, err := provider.GetHeader()
	if err != nil {
		return nil, err
	}
	entries, err := interval.ParseRegionStrings(opts.Regions)
	if err != nil {
		return nil, err
	}
	if opts.BedFile != "" {
		bed, err := interval.LoadBED(ctx, opts.BedFile, interval.BEDOpts{})
		if err != nil {
			return nil, err
		}
		entries = append(entries, bed...)
	}
	var regions []bam.Region
	if len(entries) > 0 {
		if regions, err = interval.Regions(header, entries); err != nil {
			return nil, err
		}
		if len(regions) == 0 {
			return nil, errors.E(errors.Invalid, "regions cover no bases of the reference")
		}
	}
	return provider.GeneratePartitions(bamprovider.GeneratePartitionsOpts{
		Length:          opts.PartitionLength,
		Regions:         regions,
		IncludeUnmapped: len(regions) == 0,
	})
}

// SetupAndMark does some minimal setup for validating opts, and
// creating provider and then runs mark().
func SetupAndMark(ctx context.Context, provider bamprovider.Provider, opts *Opts) error {
	if err := validate(opts); err != nil {
		return err
	}

	// Prepare umi inputs.
	if len(opts.UmiFile) > 0 {
		umiReader, err := file.Open(ctx, opts.UmiFile)
		if err != nil {
			return errors.E(err, "open umi file", opts.UmiFile)
		}
		defer umiReader.Close(ctx) // nolint: errcheck
		opts.KnownUmis, err = ioutil.ReadAll(umiReader.Reader(ctx))
		if err != nil {
			return errors.E(err, "read umi file", opts.UmiFile)
		}
		if len(opts.KnownUmis) == 0 {
			return errors.E(errors.Invalid, "umi list is empty", opts.UmiFile)
		}
	}
	if opts.ReferenceFile != "" {
		ref, err := fasta.Open(ctx, opts.ReferenceFile)
		if err != nil {
			return err
		}
		defer ref.Close(ctx) // nolint: errcheck
		opts.Reference = ref
	}
	if opts.OpticalDetector == nil && opts.OpticalDistance > 0 {
		opts.OpticalDetector = &TileOpticalDetector{OpticalDistance: opts.OpticalDistance}
	}

	partitions, err := partitionsFor(ctx, provider, opts)
	if err != nil {
		return err
	}
	header, err := provider.GetHeader()
	if err != nil {
		return err
	}
	sink, err := bamprovider.NewBAMSink(ctx, opts.OutputPath, header, opts.Parallelism)
	if err != nil {
		return err
	}

	// Mark/remove those duplicates.
	markDuplicates := &MarkDuplicates{
		Provider: provider,
		Sink:     sink,
		Opts:     opts,
	}
	globalMetrics, err := markDuplicates.Mark(ctx, partitions)
	if err != nil {
		log.Debug.Printf("Error marking duplicates: %v", err)
		return err
	}
	if err := sink.Close(ctx); err != nil {
		return err
	}

	if opts.MetricsFile != "" {
		if err := writeMetrics(ctx, opts, globalMetrics); err != nil {
			return err
		}
	}
	return nil
}
