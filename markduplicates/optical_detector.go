package markduplicates

import (
	"sort"

	"github.com/grailbio/base/log"
)

// OpticalDetector is a general interface for optical duplicate detection.
type OpticalDetector interface {
	// Detect identifies the optical duplicates in fragments and returns
	// their names. fragments is a duplicate set, and bestIndex points to
	// its primary fragment. Implementations must be safe for concurrent
	// use.
	Detect(fragments []*Fragment, bestIndex int) []string
}

type sortingEntry struct {
	key  duplicateKey
	name string

	// These are not used for sorting.
	location  PhysicalLocation
	duplicate bool
}
type sortingTable []sortingEntry

func (t sortingTable) Swap(i, j int) {
	t[i], t[j] = t[j], t[i]
}
func (t sortingTable) Len() int {
	return len(t)
}

// Use the same sort order as picard, with the read name as the final
// tie breaker.
func (t sortingTable) Less(i, j int) bool {
	if t[i].key != t[j].key {
		return t[i].key.less(&t[j].key)
	}
	return t[i].name < t[j].name
}

// TileOpticalDetector detects optical duplicates with a tile. For two
// reads to be optical duplicates, their tile, lane, surface, library,
// and read orientations must be identical
type TileOpticalDetector struct {
	OpticalDistance int
}

// Detect implements OpticalDetector. Fragments whose names do not parse as
// Illumina read names are never optical duplicates.
func (t *TileOpticalDetector) Detect(fragments []*Fragment, bestIndex int) []string {
	// Split duplicates by tile number into batches before marking the
	// optical duplicates.  We split by tile to reduce the cost of
	// comparing each pair against the other pairs.
	type batchKey struct {
		lane            int
		tile            int
		readGroup       string
		readGroupFound  bool
		r1R2Orientation Orientation
	}

	batches := make(map[batchKey]sortingTable)
	var bestBatchKey batchKey
	bestFound := false
	bestName := fragments[bestIndex].Name
	duplicateNames := make([]string, 0)
	for i, f := range fragments {
		location, err := ParseLocation(f.Name)
		if err != nil {
			if log.At(log.Debug) {
				log.Debug.Printf("optical detection skips %s: %v", f.Name, err)
			}
			continue
		}
		readGroup, readGroupFound := getReadGroup(f.anchor)
		key := batchKey{
			lane:            location.Lane,
			tile:            location.TileName,
			readGroup:       readGroup,
			readGroupFound:  readGroupFound,
			r1R2Orientation: f.r1r2Orientation(),
		}

		if i == bestIndex {
			bestBatchKey = key
			bestFound = true
		}
		batches[key] = append(batches[key], sortingEntry{
			key:      f.key,
			name:     f.Name,
			location: location,
		})
	}

	// Visit batches in a fixed order so that the result does not depend on
	// map iteration.
	keys := make([]batchKey, 0, len(batches))
	for key := range batches {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.lane != b.lane {
			return a.lane < b.lane
		}
		if a.tile != b.tile {
			return a.tile < b.tile
		}
		if a.readGroup != b.readGroup {
			return a.readGroup < b.readGroup
		}
		if a.readGroupFound != b.readGroupFound {
			return !a.readGroupFound
		}
		return a.r1R2Orientation < b.r1R2Orientation
	})

	// Mark optical duplicates for each tile at a time.
	for _, key := range keys {
		batch := batches[key]
		if log.At(log.Debug) && len(batch) > 1 {
			log.Debug.Printf("optical batch size: %d, %v", len(batch), key)
		}
		sort.Sort(batch)
		bestIdx := -1
		if bestFound && key == bestBatchKey {
			// If this batch contains the primary, then compare all
			// fragments against the primary first.
			for i := range batch {
				if batch[i].name == bestName {
					bestIdx = i
					break
				}
			}
			for i := range batch {
				if bestIdx == i {
					continue
				}
				if isOpticalDup(t.OpticalDistance, &batch[bestIdx].location, &batch[i].location) {
					batch[i].duplicate = true
					duplicateNames = append(duplicateNames, batch[i].name)
					if log.At(log.Debug) {
						log.Debug.Printf("optical dups: %s %s (dup)", batch[bestIdx].name, batch[i].name)
					}
				}
			}
		}

		// Next, compare each fragment with each other fragment.
		for i := 0; i < len(batch); i++ {
			if i == bestIdx {
				continue
			}
			for j := i + 1; j < len(batch); j++ {
				if j == bestIdx {
					continue
				}
				if batch[i].duplicate && batch[j].duplicate {
					continue
				}
				if isOpticalDup(t.OpticalDistance, &batch[i].location, &batch[j].location) {
					if batch[j].duplicate {
						batch[i].duplicate = true
						duplicateNames = append(duplicateNames, batch[i].name)
					} else {
						batch[j].duplicate = true
						duplicateNames = append(duplicateNames, batch[j].name)
					}
				}
			}
		}
	}
	return duplicateNames
}
