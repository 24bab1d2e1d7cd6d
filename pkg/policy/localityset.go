package policy

import (
	"math/rand"

	"github.com/dd0wney/cluso-txdb/pkg/fitness"
)

// LocalitySet is an indexed collection of candidate workers keyed by
// locality. Entries are referenced by the index returned from Add.
type LocalitySet struct {
	localities []fitness.Locality
}

// NewLocalitySet creates an empty set
func NewLocalitySet() *LocalitySet {
	return &LocalitySet{}
}

// Add appends a candidate and returns its entry index
func (s *LocalitySet) Add(loc fitness.Locality) int {
	s.localities = append(s.localities, loc)
	return len(s.localities) - 1
}

// Size returns the number of entries
func (s *LocalitySet) Size() int {
	return len(s.localities)
}

// Locality returns the locality at an entry index
func (s *LocalitySet) Locality(i int) fitness.Locality {
	return s.localities[i]
}

// Localities returns the localities of the given entry indices
func (s *LocalitySet) Localities(indices []int) []fitness.Locality {
	out := make([]fitness.Locality, 0, len(indices))
	for _, i := range indices {
		out = append(out, s.localities[i])
	}
	return out
}

// Validate runs a policy over the full set
func (s *LocalitySet) Validate(p Policy) bool {
	return p.Validate(s.localities)
}

// FindBestPolicySet searches for a subset of exactly desired entries that
// satisfies the policy. The search is stochastic and bounded: up to
// generations random candidate subsets are drawn, of which at most
// ratingTests satisfying subsets are scored; the subset spreading across
// the most distinct zones, data halls and datacenters wins. Returns the
// chosen entry indices and whether any satisfying subset was found.
//
// The search is deterministic for a given rng seed and set contents.
func FindBestPolicySet(s *LocalitySet, p Policy, desired, ratingTests, generations int, rng *rand.Rand) ([]int, bool) {
	if desired <= 0 || desired > s.Size() {
		return nil, false
	}

	indices := make([]int, s.Size())
	for i := range indices {
		indices[i] = i
	}

	var best []int
	bestScore := -1
	rated := 0

	for g := 0; g < generations && rated < ratingTests; g++ {
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})

		candidate := make([]int, desired)
		copy(candidate, indices[:desired])

		if !p.Validate(s.Localities(candidate)) {
			continue
		}
		rated++

		if score := s.diversityScore(candidate); score > bestScore {
			bestScore = score
			best = candidate
		}
	}

	return best, best != nil
}

// diversityScore counts distinct zones, data halls and datacenters in the
// subset; a wider spread survives more correlated failures.
func (s *LocalitySet) diversityScore(indices []int) int {
	zones := make(map[string]bool)
	halls := make(map[string]bool)
	dcs := make(map[string]bool)
	for _, i := range indices {
		loc := s.localities[i]
		if loc.ZoneID != "" {
			zones[loc.ZoneID] = true
		}
		if loc.DataHallID != "" {
			halls[loc.DataHallID] = true
		}
		if loc.DCID != "" {
			dcs[loc.DCID] = true
		}
	}
	return len(zones) + len(halls) + len(dcs)
}
