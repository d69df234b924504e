package markduplicates

import (
	"fmt"
	"strconv"
	"strings"
)

// PhysicalLocation describes a read's physical location on the flow
// cell. Lane, Surface, Swatch, Section, and TileNumber together
// specify which flowcell tile the read was found in. TileName is the
// 4 or 5 digit representation of the tile, e.g. 1203 means surface 1,
// swath 2 and tile 3. 12304 means surface 1, swath 2, section 3, and
// tile 4. X and Y describe the X and Y coordinates of the well within
// the tile.
type PhysicalLocation struct {
	Lane       int
	Surface    int
	Swath      int
	Section    int
	TileNumber int
	TileName   int
	X          int
	Y          int
}

const (
	// Illumina read names come in 3 varieties: 5, 7, and 8 columns.
	// For 5 and 7 field read names, the last three fields are:
	// tileName, X and Y. For 8 field read names, the last four fields
	// are tileName, X, Y, and UMI. These constants help keep track of
	// which fields are what.

	// IlluminaReadName5Fields is the number of columns in a 5 field read name.
	IlluminaReadName5Fields = 5
	// IlluminaReadName5FieldsTileField is 0-based field number that
	// contains the tileName for 5 field read names.
	IlluminaReadName5FieldsTileField = 2

	// IlluminaReadName7Fields is the number of columns in a 7 field read name.
	IlluminaReadName7Fields = 7
	// IlluminaReadName7FieldsTileField is 0-based field number that
	// contains the tileName for 7 field read names.
	IlluminaReadName7FieldsTileField = 4

	// IlluminaReadName8Fields is the number of columns in an 8 field read name.
	IlluminaReadName8Fields = 8
	// IlluminaReadName8FieldsTileField is 0-based field number that
	// contains the tileName for 8 field read names.
	IlluminaReadName8FieldsTileField = 4
)

func isOpticalDup(opticalDistance int, a, b *PhysicalLocation) bool {
	return abs(a.X-b.X) <= opticalDistance && abs(a.Y-b.Y) <= opticalDistance
}

// ParseLocation returns a physical location given an Illumina style
// read name. The read name must have 5, 7, or 8 fields separated by
// ':'. When there are 5 or 7 fields, the last three fields are
// tileName, X and Y.  When there are 8 fields, the last four fields
// are tileName, X, Y, and UMI.
//
// The tileName be formatted as a 4 or 5 digit Illumina tileName.
// For a description of 4 digit tile numbers, see Appendix B, section Tile Numbering in
//  http://support.illumina.com.cn/content/dam/illumina-support/documents/documentation/system_documentation/hiseqx/hiseq-x-system-guide-15050091-e.pdf
//
// For a description of 5 digit tile numbers, see Appendix C, section Tile Numbering in
//   https://support.illumina.com/content/dam/illumina-support/documents/documentation/system_documentation/nextseq/nextseq-550-system-guide-15069765-05.pdf
func ParseLocation(qname string) (PhysicalLocation, error) {
	fields := strings.Split(qname, ":")
	var tileIdx int
	switch len(fields) {
	case IlluminaReadName5Fields:
		tileIdx = IlluminaReadName5FieldsTileField
	case IlluminaReadName7Fields:
		tileIdx = IlluminaReadName7FieldsTileField
	case IlluminaReadName8Fields:
		tileIdx = IlluminaReadName8FieldsTileField
	default:
		return PhysicalLocation{}, fmt.Errorf("could not parse name: %s, expected 5, 7, or 8 fields separated by ':'", qname)
	}

	var (
		location PhysicalLocation
		err      error
	)
	parse := func(field, what string) int {
		if err != nil {
			return 0
		}
		var v int
		if v, err = strconv.Atoi(field); err != nil {
			err = fmt.Errorf("could not parse name: %s, could not convert %s to integer: %v", qname, what, err)
		}
		return v
	}
	location.Lane = parse(fields[tileIdx-1], "lane")
	location.TileName = parse(fields[tileIdx], "tile")
	location.X = parse(fields[tileIdx+1], "x")
	location.Y = parse(fields[tileIdx+2], "y")
	if err != nil {
		return PhysicalLocation{}, err
	}

	if location.TileName > 99999 {
		return PhysicalLocation{}, fmt.Errorf("could not parse name: %s, unexpected tile name %d, expected 4 or 5 digits",
			qname, location.TileName)
	} else if location.TileName > 9999 {
		location.Surface = location.TileName / 10000
		location.Swath = (location.TileName % 10000) / 1000
		location.Section = (location.TileName % 1000) / 100
		location.TileNumber = location.TileName % 100
	} else {
		location.Surface = location.TileName / 1000
		location.Swath = (location.TileName % 1000) / 100
		location.TileNumber = location.TileName % 100
	}
	return location, nil
}
