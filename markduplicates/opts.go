package markduplicates

import (
	"fmt"

	"github.com/grailbio/dupmark/encoding/fasta"
)

// Opts for mark-duplicates.
type Opts struct {
	// Commandline options.
	BamFile         string
	IndexFile       string
	OutputPath      string
	MetricsFile     string
	DiagnosticsFile string
	ReferenceFile   string
	Regions         []string
	BedFile         string

	// PartitionLength is the number of bases in each unit of parallel work.
	PartitionLength int
	// CacheCapacity is the number of positions the position cache holds.
	// Fragments whose positions differ by more than this are never compared
	// unless they meet in the partition store.
	CacheCapacity int
	Parallelism   int

	ClearExisting bool
	RemoveDups    bool
	TagDuplicates bool

	UseUmis bool
	// UmiTag names the aux tag that holds the UMI. If empty, the UMI is
	// taken from the read name, after the last ':'.
	UmiTag string
	// UmiDelimiter separates the two halves of a duplex UMI. Empty means
	// UMIs are not duplex.
	UmiDelimiter    string
	UmiEditDistance int
	UmiFile         string

	OpticalDistance int

	// CheckConsistency compares written records against processed records
	// at the end of the run. With StrictConsistency a mismatch fails the
	// run.
	CheckConsistency  bool
	StrictConsistency bool

	// Data and operators derived from commandline options.
	OpticalDetector OpticalDetector
	KnownUmis       []byte
	Reference       fasta.Fasta
}

// DefaultOpts holds the default values of Opts.
var DefaultOpts = Opts{
	PartitionLength: 5000000,
	CacheCapacity:   10000,
	Parallelism:     8,
	TagDuplicates:   false,
	UmiDelimiter:    "",
	UmiEditDistance: 0,
	OpticalDistance: 0,
}

func validate(opts *Opts) error {
	if opts.PartitionLength <= 0 {
		return fmt.Errorf("partition-length must be positive, got %d", opts.PartitionLength)
	}
	if opts.CacheCapacity <= 0 {
		return fmt.Errorf("cache-capacity must be positive, got %d", opts.CacheCapacity)
	}
	if opts.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive, got %d", opts.Parallelism)
	}
	if opts.UmiEditDistance < 0 {
		return fmt.Errorf("umi-edit-distance must be non-negative")
	}
	if opts.OpticalDistance < 0 {
		return fmt.Errorf("optical-distance must be non-negative")
	}
	if len(opts.UmiFile) > 0 && !opts.UseUmis {
		return fmt.Errorf("umi-file is set, but use-umis is false")
	}
	if opts.UmiEditDistance > 0 && !opts.UseUmis {
		return fmt.Errorf("umi-edit-distance is set, but use-umis is false")
	}
	if opts.UmiTag != "" && len(opts.UmiTag) != 2 {
		return fmt.Errorf("umi-tag must have two characters, got %q", opts.UmiTag)
	}
	if opts.StrictConsistency && !opts.CheckConsistency {
		return fmt.Errorf("strict-consistency requires check-consistency")
	}
	if opts.BamFile != "" && opts.IndexFile == "" {
		opts.IndexFile = opts.BamFile + ".bai"
	}
	return nil
}
