// Package bamprovider provides utilities for scanning a BAM file in
// parallel, one genomic partition at a time, and for writing the processed
// records back out.
//
// The Provider is an interface for reading BAM data by partition. The Sink
// is an interface for writing records in any order from many goroutines.
package bamprovider
