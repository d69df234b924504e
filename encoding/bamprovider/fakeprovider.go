package bamprovider

import (
	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/hts/sam"
)

// fakeProvider is only for unittests. It yields the given records.
type fakeProvider struct {
	header *sam.Header
	recs   []*sam.Record
}

type fakeIterator struct {
	recs      []*sam.Record
	rec       *sam.Record
	partition bam.Partition
}

// NewFakeProvider creates a provider that returns "header" in response to a
// GetHeader() call, and recs by GeneratePartitions+NewIterator calls. recs
// must be sorted by coordinate, with unmapped reads last.
func NewFakeProvider(header *sam.Header, recs []*sam.Record) Provider {
	return &fakeProvider{header, recs}
}

// GetHeader implements the Provider interface. It returns the header passed to
// the constructor.
func (b *fakeProvider) GetHeader() (*sam.Header, error) {
	return b.header, nil
}

// Close implements the Provider interface.
func (b *fakeProvider) Close() error {
	return nil
}

// GeneratePartitions implements the Provider interface.
func (b *fakeProvider) GeneratePartitions(opts GeneratePartitionsOpts) ([]bam.Partition, error) {
	return generatePartitions(b.header, opts)
}

// NewIterator implements the Provider interface.
func (b *fakeProvider) NewIterator(p bam.Partition) Iterator {
	return &fakeIterator{recs: b.recs, partition: p}
}

// Err implements the Iterator interface.
func (i *fakeIterator) Err() error {
	return nil
}

// Close implements the Iterator interface.
func (i *fakeIterator) Close() error {
	return nil
}

func (i *fakeIterator) Scan() bool {
	for len(i.recs) > 0 {
		i.rec = i.recs[0]
		i.recs = i.recs[1:]
		if i.partition.RecordInPartition(i.rec) {
			return true
		}
	}
	return false
}

func (i *fakeIterator) Record() *sam.Record {
	// Return a copy so that the code under test cannot alter the
	// original test input data.
	c := &sam.Record{}
	*c = *i.rec
	c.AuxFields = append(sam.AuxFields(nil), i.rec.AuxFields...)
	return c
}
