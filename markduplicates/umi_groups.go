package markduplicates

import (
	"fmt"
	"sort"
	"strings"

	farm "github.com/dgryski/go-farm"
)

// umiGroup is a set of duplicate fragments that share a UMI. The group
// collapses into one consensus record per read end; its members stay in
// the output, flagged as duplicates.
type umiGroup struct {
	id      string
	key     duplicateKey
	members []*Fragment
	// done is set once the consensus records have been built, or the
	// partition store has taken the group to build them.
	done bool
}

// newUMIGroup creates a group. The id depends only on the member names, so
// it does not change with the order in which members were seen.
func newUMIGroup(key duplicateKey, members []*Fragment) *umiGroup {
	names := make([]string, len(members))
	for i, f := range members {
		names[i] = f.Name
	}
	sort.Strings(names)
	return &umiGroup{
		id:      fmt.Sprintf("%016x", farm.Fingerprint64([]byte(strings.Join(names, "\x00")))),
		key:     key,
		members: members,
	}
}

// complete returns true if every member has all its primary legs.
func (g *umiGroup) complete() bool {
	for _, f := range g.members {
		if !f.primariesComplete() {
			return false
		}
	}
	return true
}
