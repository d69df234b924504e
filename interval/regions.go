package interval

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// PosType is the coordinate type of an Entry.
type PosType int32

const posTypeMax = math.MaxInt32

// Entry represents a single interval, with 0-based coordinates.
type Entry struct {
	ChrName string
	Start0  PosType
	End     PosType
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// returning a contig ID and 0-based interval boundaries.  The interval
// [0, posTypeMax - 1] is returned if there is no positional restriction.
func ParseRegionString(region string) (result Entry, err error) {
	if len(region) == 0 {
		err = errors.Errorf("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		result.ChrName = region
		result.End = posTypeMax - 1
		return
	}
	if colonPos == 0 {
		err = errors.Errorf("interval.ParseRegionString: empty contig ID in %q", region)
		return
	}
	result.ChrName = region[0:colonPos]
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int64
		if pos1, err = strconv.ParseInt(rangeStr, 10, 32); err != nil {
			err = errors.Wrapf(err, "interval.ParseRegionString: %q", region)
			return
		}
		if pos1 <= 0 {
			err = errors.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr)
			return
		}
		result.Start0 = PosType(pos1 - 1)
		result.End = PosType(pos1)
		return
	}
	start1Str := rangeStr[:dashPos]
	endStr := rangeStr[dashPos+1:]
	var start1, end0 int
	if start1, err = strconv.Atoi(start1Str); err != nil {
		err = errors.Wrapf(err, "interval.ParseRegionString: %q", region)
		return
	}
	if start1 <= 0 {
		err = errors.Errorf("interval.ParseRegionString: position %v in region string out of range", start1Str)
		return
	}
	if end0, err = strconv.Atoi(endStr); err != nil {
		err = errors.Wrapf(err, "interval.ParseRegionString: %q", region)
		return
	}
	// end0 == posTypeMax is rejected so that interval ends never collide
	// with the open-ended default.
	if end0 < start1 || end0 >= posTypeMax {
		err = errors.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start0 = PosType(start1 - 1)
	result.End = PosType(end0)
	return
}

// ParseRegionStrings parses each region string, skipping blank ones.
func ParseRegionStrings(regions []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(regions))
	for _, region := range regions {
		region = strings.TrimSpace(region)
		if region == "" {
			continue
		}
		e, err := ParseRegionString(region)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Union sorts entries by chromosome name and start, and merges overlapping
// or touching intervals. Empty intervals are dropped.
func Union(entries []Entry) []Entry {
	sorted := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.End > e.Start0 {
			sorted = append(sorted, e)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ChrName != sorted[j].ChrName {
			return sorted[i].ChrName < sorted[j].ChrName
		}
		return sorted[i].Start0 < sorted[j].Start0
	})
	var out []Entry
	for _, e := range sorted {
		if n := len(out); n > 0 && out[n-1].ChrName == e.ChrName && e.Start0 <= out[n-1].End {
			if e.End > out[n-1].End {
				out[n-1].End = e.End
			}
			continue
		}
		out = append(out, e)
	}
	return out
}

// Regions converts entries into bam.Regions ordered like the references in
// header, clipped to reference lengths and merged. It returns an error if an
// entry names a reference that header does not contain.
func Regions(header *sam.Header, entries []Entry) ([]bam.Region, error) {
	byName := make(map[string]*sam.Reference)
	for _, ref := range header.Refs() {
		byName[ref.Name()] = ref
	}
	var regions []bam.Region
	for _, e := range Union(entries) {
		ref, ok := byName[e.ChrName]
		if !ok {
			return nil, errors.Errorf("interval.Regions: reference %s not in header", e.ChrName)
		}
		end := int(e.End)
		if end > ref.Len() {
			end = ref.Len()
		}
		if int(e.Start0) >= end {
			continue
		}
		regions = append(regions, bam.Region{Ref: ref, Start: int(e.Start0), End: end})
	}
	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].Ref.ID() != regions[j].Ref.ID() {
			return regions[i].Ref.ID() < regions[j].Ref.ID()
		}
		return regions[i].Start < regions[j].Start
	})
	return regions, nil
}
