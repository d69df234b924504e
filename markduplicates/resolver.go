package markduplicates

import (
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/dupmark/umi"
	"github.com/grailbio/hts/sam"
)

// resolver decides the status of fragments that share a duplicateKey. It
// holds no per-partition state, so one resolver serves every worker.
type resolver struct {
	opts      *Opts
	corrector *umi.SnapCorrector
	umiTag    sam.Tag
}

func newResolver(opts *Opts) (*resolver, error) {
	rv := &resolver{opts: opts}
	if opts.UseUmis && len(opts.KnownUmis) > 0 {
		var err error
		if rv.corrector, err = umi.NewSnapCorrector(opts.KnownUmis); err != nil {
			return nil, err
		}
	}
	if opts.UmiTag != "" {
		rv.umiTag = sam.NewTag(opts.UmiTag)
	}
	return rv, nil
}

// resolveGroup decides the fragments of g and returns the UMI groups that
// collapse into consensus records. If the key of any member is still
// unknown, nothing is decided and every member is returned as deferred, so
// that the group is classified as a whole once all its keys are known.
func (rv *resolver) resolveGroup(g *fragmentGroup) (groups []*umiGroup, deferred []*Fragment) {
	for _, f := range g.fragments {
		if !f.updateKey() {
			return nil, append([]*Fragment(nil), g.fragments...)
		}
	}
	return rv.classify(g.fragments), nil
}

// classify partitions frags by key and decides each duplicate set. Every
// fragment must have a known key.
func (rv *resolver) classify(frags []*Fragment) []*umiGroup {
	sets := make(map[duplicateKey][]*Fragment)
	keys := make([]duplicateKey, 0, len(frags))
	for _, f := range frags {
		if _, ok := sets[f.key]; !ok {
			keys = append(keys, f.key)
		}
		sets[f.key] = append(sets[f.key], f)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(&keys[j]) })

	var groups []*umiGroup
	for _, key := range keys {
		set := sets[key]
		switch {
		case len(set) == 1:
			set[0].dec = rv.single(set[0])
		case rv.opts.UseUmis:
			groups = append(groups, rv.clusterUMIs(key, set)...)
		default:
			rv.pickPrimary(set)
		}
	}
	return groups
}

// single returns the decision for a fragment without duplicates.
func (rv *resolver) single(f *Fragment) decision {
	d := primaryDecision
	if rv.opts.UseUmis {
		rv.fragmentUMI(f)
		d.correctedUMI = f.correctedUMI()
	}
	return d
}

// pickPrimary marks the fragment with the best base quality score primary,
// and the rest of set duplicates of it. Ties go to the smallest name. If any
// member misses a primary leg, only the anchors are scored.
func (rv *resolver) pickPrimary(set []*Fragment) {
	partial := false
	for _, f := range set {
		if !f.primariesComplete() {
			partial = true
			break
		}
	}
	scores := make(map[*Fragment]int, len(set))
	for _, f := range set {
		scores[f] = f.score(partial)
	}
	sort.SliceStable(set, func(i, j int) bool {
		si, sj := scores[set[i]], scores[set[j]]
		if si != sj {
			return si > sj
		}
		return set[i].Name < set[j].Name
	})

	libraryDups := -1
	opticals := map[string]bool{}
	if rv.opts.OpticalDetector != nil {
		for _, name := range rv.opts.OpticalDetector.Detect(set, 0) {
			opticals[name] = true
		}
		libraryDups = len(set) - 1 - len(opticals)
	}
	best := set[0]
	for i, f := range set {
		d := decision{
			status:      StatusDuplicate,
			setID:       best.Name,
			setSize:     len(set),
			optical:     opticals[f.Name],
			libraryDups: libraryDups,
		}
		if i == 0 {
			d.status = StatusPrimary
		}
		f.dec = d
	}
	if log.At(log.Debug) {
		log.Debug.Printf("duplicate set %v: primary %s, %d duplicates, %d optical",
			&best.key, best.Name, len(set)-1, len(opticals))
	}
}

// clusterUMIs splits a duplicate set by UMI. A cluster of one fragment is
// primary. Each larger cluster becomes a umiGroup whose members are
// duplicates of the consensus record built for it.
func (rv *resolver) clusterUMIs(key duplicateKey, set []*Fragment) []*umiGroup {
	for _, f := range set {
		rv.fragmentUMI(f)
	}
	sort.SliceStable(set, func(i, j int) bool {
		if set[i].umi != set[j].umi {
			return set[i].umi < set[j].umi
		}
		return set[i].Name < set[j].Name
	})
	var clusters [][]*Fragment
	for _, f := range set {
		placed := false
		for i, c := range clusters {
			if umi.DuplexDistance(c[0].umi, f.umi, rv.opts.UmiDelimiter) <= rv.opts.UmiEditDistance {
				clusters[i] = append(c, f)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []*Fragment{f})
		}
	}

	var groups []*umiGroup
	for _, c := range clusters {
		if len(c) == 1 {
			c[0].dec = primaryDecision
			c[0].dec.correctedUMI = c[0].correctedUMI()
			continue
		}
		g := newUMIGroup(key, c)
		for _, f := range c {
			f.dec = decision{
				status:       StatusDuplicate,
				setID:        g.id,
				setSize:      len(c),
				libraryDups:  -1,
				correctedUMI: f.correctedUMI(),
			}
		}
		groups = append(groups, g)
	}
	return groups
}

// fragmentUMI extracts, corrects and canonicalizes the UMI of f.
func (rv *resolver) fragmentUMI(f *Fragment) {
	if f.umiKnown {
		return
	}
	f.umiKnown = true
	raw := ""
	if rv.opts.UmiTag != "" {
		for _, r := range f.records() {
			if aux := r.AuxFields.Get(rv.umiTag); aux != nil {
				raw, _ = aux.Value().(string)
				break
			}
		}
	} else {
		raw = umi.FromReadName(f.Name)
	}
	f.rawUMI = raw
	corrected := raw
	if rv.corrector != nil {
		corrected = rv.correct(raw)
	}
	f.umi = umi.Canonical(corrected, rv.opts.UmiDelimiter)
	if corrected != raw {
		f.corrected = corrected
	}
}

// correct snaps each half of u to the known UMIs.
func (rv *resolver) correct(u string) string {
	parts := []string{u}
	if rv.opts.UmiDelimiter != "" {
		parts = strings.Split(u, rv.opts.UmiDelimiter)
	}
	for i, p := range parts {
		if c, _, ok := rv.corrector.CorrectUMI(p); ok {
			parts[i] = c
		}
	}
	return strings.Join(parts, rv.opts.UmiDelimiter)
}
