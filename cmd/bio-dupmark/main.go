package main

/*
  bio-dupmark marks PCR and optical duplicates in a coordinate sorted
  BAM file, and optionally collapses UMI groups into consensus records.
  For more information, see github.com/grailbio/dupmark/markduplicates/doc.go
*/

import (
	"flag"
	"runtime"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/dupmark/encoding/bamprovider"
	md "github.com/grailbio/dupmark/markduplicates"
)

var (
	bamFile           = flag.String("bam", "", "Input BAM filename")
	indexFile         = flag.String("index", "", "Input BAM index filename. By default, set to input BAM filename + .bai")
	outputPath        = flag.String("output", "", "Output filename")
	metricsFile       = flag.String("metrics", "", "Output metrics file")
	diagnosticsFile   = flag.String("diagnostics", "", "Per-record diagnostics output file; .gz and .sz suffixes select gzip or snappy compression")
	referenceFile     = flag.String("reference", "", "FASTA reference used to break consensus ties")
	regions           = flag.String("regions", "", "Comma separated regions to process, e.g. chr1:1000-2000,chr2. Reads whose mates fall outside are written unchanged")
	bedFile           = flag.String("bed", "", "BED file of regions to process, combined with -regions")
	parallelism       = flag.Int("parallelism", runtime.NumCPU(), "Number of partitions processed in parallel")
	partitionLength   = flag.Int("partition-length", md.DefaultOpts.PartitionLength, "Number of bases in each partition")
	cacheCapacity     = flag.Int("cache-capacity", md.DefaultOpts.CacheCapacity, "Number of positions held by each worker's position cache")
	clearExisting     = flag.Bool("clear-existing", false, "clear existing duplicate flag and tags before marking")
	removeDups        = flag.Bool("remove-dups", false, "remove duplicates instead of flagging them")
	tagDups           = flag.Bool("tag-duplicates", false, "tag duplicates as DT:Z:SQ (optical) or DT:Z:LB (pcr), and include DI and DS tags")
	useUmis           = flag.Bool("use-umis", false, "use UMI information for grouping duplicates and building consensus records")
	umiTag            = flag.String("umi-tag", "", "aux tag that holds the UMI. By default the UMI is the last ':' field of the read name")
	umiDelimiter      = flag.String("umi-delimiter", "", "separator of the two halves of duplex UMIs")
	umiEditDistance   = flag.Int("umi-edit-distance", 0, "UMIs within this edit distance belong to the same group")
	umiFile           = flag.String("umi-file", "", "perform UMI error correction with the known UMIs in this file")
	opticalDistance   = flag.Int("optical-distance", 2500, "pixel distance threshold for optical duplicates, use 0 to disable")
	checkConsistency  = flag.Bool("check-consistency", false, "verify that every record read is written exactly once")
	strictConsistency = flag.Bool("strict-consistency", false, "fail the run when -check-consistency finds a mismatch")
)

func main() {
	shutdown := grail.Init()
	defer shutdown()

	// Validate parameters.
	if flag.NArg() > 0 {
		a := flag.Args()
		log.Fatalf("unparsed flags, please check flag syntax: '%s'", strings.Join(a[len(a)-flag.NArg():], " "))
	}

	opts := md.DefaultOpts
	opts.BamFile = *bamFile
	opts.IndexFile = *indexFile
	opts.OutputPath = *outputPath
	opts.MetricsFile = *metricsFile
	opts.DiagnosticsFile = *diagnosticsFile
	opts.ReferenceFile = *referenceFile
	opts.BedFile = *bedFile
	opts.Parallelism = *parallelism
	opts.PartitionLength = *partitionLength
	opts.CacheCapacity = *cacheCapacity
	opts.ClearExisting = *clearExisting
	opts.RemoveDups = *removeDups
	opts.TagDuplicates = *tagDups
	opts.UseUmis = *useUmis
	opts.UmiTag = *umiTag
	opts.UmiDelimiter = *umiDelimiter
	opts.UmiEditDistance = *umiEditDistance
	opts.UmiFile = *umiFile
	opts.OpticalDistance = *opticalDistance
	opts.CheckConsistency = *checkConsistency
	opts.StrictConsistency = *strictConsistency
	if *regions != "" {
		opts.Regions = strings.Split(*regions, ",")
	}

	provider := bamprovider.NewProvider(*bamFile, bamprovider.ProviderOpts{Index: opts.IndexFile})
	defer func() {
		if err := provider.Close(); err != nil {
			log.Error.Printf("close %s: %v", *bamFile, err)
		}
	}()

	ctx := vcontext.Background()
	if err := md.SetupAndMark(ctx, provider, &opts); err != nil {
		log.Fatalf(err.Error())
	}
	log.Debug.Printf("exiting")
}
