package pipeline

import (
	"sort"
	"strings"
	"sync"

	"github.com/fluxcd/conveyor/pkg/artifact"
)

// versionSet is a set of (service, version) pairs, in canonical
// order, so that two runs that built the same versions have equal
// sets.
type versionSet []artifact.ID

func newVersionSet(ids []artifact.ID) versionSet {
	set := append(versionSet(nil), ids...)
	sort.Slice(set, func(i, j int) bool {
		if set[i].Service == set[j].Service {
			return set[i].Version < set[j].Version
		}
		return set[i].Service < set[j].Service
	})
	return set
}

func (s versionSet) key() string {
	strs := make([]string, len(s))
	for i, id := range s {
		strs[i] = id.String()
	}
	return strings.Join(strs, ",")
}

// override returns the set with the versions given replacing those
// for the same services, and any services not in the set added.
func (s versionSet) override(versions map[string]string) versionSet {
	if len(versions) == 0 {
		return s
	}
	seen := map[string]bool{}
	var ids []artifact.ID
	for _, id := range s {
		if v, ok := versions[id.Service]; ok {
			id.Version = v
		}
		seen[id.Service] = true
		ids = append(ids, id)
	}
	for service, version := range versions {
		if !seen[service] {
			ids = append(ids, artifact.ID{Service: service, Version: version})
		}
	}
	return newVersionSet(ids)
}

// verifiedSets remembers which sets of versions passed acceptance
// testing together, and in which run they first did.
type verifiedSets struct {
	mu   sync.RWMutex
	sets map[string]RunID
}

func newVerifiedSets() *verifiedSets {
	return &verifiedSets{sets: map[string]RunID{}}
}

func (v *verifiedSets) add(set versionSet, run RunID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.sets[set.key()]; !ok {
		v.sets[set.key()] = run
	}
}

func (v *verifiedSets) verifiedBy(set versionSet) (RunID, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	run, ok := v.sets[set.key()]
	return run, ok
}
