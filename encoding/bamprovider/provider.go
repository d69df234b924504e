package bamprovider

import (
	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/hts/sam"
)

// ProviderOpts defines options for NewProvider.
type ProviderOpts struct {
	// Index specifies the name of the BAM index file. If Index=="", it
	// defaults to path + ".bai".
	Index string
}

// GeneratePartitionsOpts defines behavior of Provider.GeneratePartitions.
type GeneratePartitionsOpts struct {
	// Length is the number of bases covered by each partition.
	Length int
	// Regions restricts the partitions to the given regions. Empty means the
	// whole genome.
	Regions []bam.Region
	// IncludeUnmapped causes GeneratePartitions() to produce a partition for
	// the unmapped && mate-unmapped reads.
	IncludeUnmapped bool
}

// Provider allows reading a BAM file in parallel. Thread safe.
type Provider interface {
	// GetHeader returns the header for the provided BAM data.  The callee
	// must not modify the returned header object.
	//
	// REQUIRES: Close has not been called.
	GetHeader() (*sam.Header, error)

	// GeneratePartitions splits the genome into contiguous, non-overlapping
	// partitions. A record belongs to the partition that contains its
	// alignment start.
	//
	// REQUIRES: Close has not been called.
	GeneratePartitions(opts GeneratePartitionsOpts) ([]bam.Partition, error)

	// NewIterator returns an iterator over records whose alignment start
	// falls in the partition.
	//
	// REQUIRES: Close has not been called.
	NewIterator(p bam.Partition) Iterator

	// Close must be called exactly once. It returns any error encountered
	// by the provider, or any iterator created by the provider.
	//
	// REQUIRES: All the iterators created by NewIterator have been closed.
	Close() error
}

// Iterator iterates over sam.Records in a particular partition, in
// coordinate order. Thread compatible.
type Iterator interface {
	// Scan returns where there are any records remaining in the iterator,
	// and if so, advances the iterator to the next record. If the iterator
	// reaches the end of its range, Scan() returns false.  If an error
	// occurs, Scan() returns false and the error can be retrieved by
	// calling Err().
	//
	// REQUIRES: Close has not been called.
	Scan() bool

	// Record returns the current record in the iterator. This must be
	// called only after a call to Scan() returns true. The caller owns the
	// returned record.
	//
	// REQUIRES: Close has not been called.
	Record() *sam.Record

	// Err returns the error encountered during iteration, or nil if no error
	// occurred.  An io.EOF error will be translated to nil.
	Err() error

	// Close must be called exactly once. It returns the value of Err().
	Close() error
}

// NewProvider creates a Provider for the BAM file at path.
func NewProvider(path string, optList ...ProviderOpts) Provider {
	opts := ProviderOpts{}
	for _, o := range optList {
		if o.Index != "" {
			opts.Index = o.Index
		}
	}
	return &BAMProvider{Path: path, Index: opts.Index}
}

func generatePartitions(header *sam.Header, opts GeneratePartitionsOpts) ([]bam.Partition, error) {
	return bam.GetPositionBasedPartitions(header, opts.Length, opts.Regions, opts.IncludeUnmapped)
}
