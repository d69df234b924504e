package markduplicates

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
)

func TestClearDupFlagTags(t *testing.T) {
	r := NewRecord("A", chr1, 10, r1F|sam.Duplicate, 20, chr1, cigar0)
	r.AuxFields = sam.AuxFields{}

	// Duplicate tags are interleaved with tags that must survive.
	for i, tag := range []string{"RG", "DI", "VN", "DS", "SM", "DT", "PU", "DU", "XM", "DL"} {
		r.AuxFields = append(r.AuxFields, NewAux(tag, i))
	}

	clearDupFlagTags(r)
	assert.Equal(t, r1F, r.Flags)
	assert.Equal(t, sam.AuxFields{NewAux("RG", 0), NewAux("VN", 2), NewAux("SM", 4), NewAux("PU", 6), NewAux("XM", 8)},
		r.AuxFields)
}

func TestGetLibrary(t *testing.T) {
	readGroupLibrary := map[string]string{"rg1": "lib1", "rg2": ""}
	tests := []struct {
		aux  []sam.Aux
		want string
	}{
		{nil, "Unknown Library"},
		{[]sam.Aux{NewAux("RG", "rg1")}, "lib1"},
		{[]sam.Aux{NewAux("RG", "rg2")}, "Unknown Library"},
		{[]sam.Aux{NewAux("RG", "rg3")}, "Unknown Library"},
	}
	for _, test := range tests {
		r := NewRecordAux("A", chr1, 10, r1F, 20, chr1, cigar0, test.aux...)
		assert.Equal(t, test.want, GetLibrary(readGroupLibrary, r))
	}
}

func TestBaseQScore(t *testing.T) {
	r := NewRecordSeq("A", chr1, 10, r1F, 20, chr1, cigar0, "ACGTACGTAC", "\x0a\x0a\x0f\x0f\x1e\x1e\x1e\x1e\x1e\x1e")
	// Only qualities above 14 count.
	assert.Equal(t, 15*2+30*6, baseQScore(r))
	r.Flags |= sam.QCFail
	assert.Equal(t, 15*2+30*6-16384, baseQScore(r))
}
