package markduplicates

import (
	"bytes"
	"sync"

	"blainsmith.com/go/seahash"
	"github.com/exascience/pargo/parallel"
	"github.com/grailbio/base/log"
	"github.com/grailbio/dupmark/encoding/bam"
	"github.com/grailbio/hts/sam"
	"github.com/minio/highwayhash"
)

const consistencyStripes = 64

type recordDigest = [highwayhash.Size]byte

var digestKey recordDigest

type checkEntry struct {
	name  string
	count int
}

type checkStripe struct {
	mu      sync.Mutex
	entries map[recordDigest]*checkEntry
}

// consistencyChecker verifies that the multiset of written records equals
// the multiset of processed records. Records are identified by their
// content without aux fields and without the duplicate flag, the only parts
// of a record the engine changes. Thread safe.
type consistencyChecker struct {
	stripes [consistencyStripes]checkStripe
	bufs    sync.Pool
}

func newConsistencyChecker() *consistencyChecker {
	c := &consistencyChecker{}
	for i := range c.stripes {
		c.stripes[i].entries = make(map[recordDigest]*checkEntry)
	}
	c.bufs.New = func() interface{} { return &bytes.Buffer{} }
	return c
}

func (c *consistencyChecker) add(r *sam.Record, delta int) error {
	buf := c.bufs.Get().(*bytes.Buffer)
	defer c.bufs.Put(buf)
	buf.Reset()
	if err := bam.MarshalIdentity(r, sam.Duplicate, buf); err != nil {
		return err
	}
	digest := highwayhash.Sum(buf.Bytes(), digestKey[:])
	s := &c.stripes[seahash.Sum64([]byte(r.Name))%consistencyStripes]
	s.mu.Lock()
	e := s.entries[digest]
	if e == nil {
		e = &checkEntry{name: r.Name}
		s.entries[digest] = e
	}
	e.count += delta
	if e.count == 0 {
		delete(s.entries, digest)
	}
	s.mu.Unlock()
	return nil
}

// processed registers a record read from the input.
func (c *consistencyChecker) processed(r *sam.Record) error {
	return c.add(r, 1)
}

// written registers a record written to the output, or removed from it.
func (c *consistencyChecker) written(r *sam.Record) error {
	return c.add(r, -1)
}

// check logs every record whose processed and written counts differ, and
// returns the number of such records.
func (c *consistencyChecker) check() int {
	return parallel.RangeReduceInt(0, consistencyStripes, 0,
		func(low, high int) int {
			n := 0
			for i := low; i < high; i++ {
				s := &c.stripes[i]
				s.mu.Lock()
				for _, e := range s.entries {
					switch {
					case e.count > 0:
						log.Error.Printf("consistency: read %s processed but not written (%d)", e.name, e.count)
					default:
						log.Error.Printf("consistency: read %s written more often than processed (%d)", e.name, -e.count)
					}
					n++
				}
				s.mu.Unlock()
			}
			return n
		},
		func(x, y int) int { return x + y })
}
