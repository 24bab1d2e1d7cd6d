package policy

import (
	"fmt"

	"github.com/dd0wney/cluso-txdb/pkg/fitness"
)

// Policy is a predicate on sets of localities deciding whether a candidate
// transaction-log set is fault tolerant enough.
type Policy interface {
	// Validate reports whether the set satisfies the policy
	Validate(localities []fitness.Locality) bool
	// Info returns a compact human-readable description
	Info() string
}

// One is satisfied by any non-empty set
type One struct{}

func (One) Validate(localities []fitness.Locality) bool {
	return len(localities) >= 1
}

func (One) Info() string { return "one" }

// Across requires at least Count distinct values of Key, where the subset
// sharing each value satisfies Then.
type Across struct {
	Count int
	Key   string
	Then  Policy
}

// NewAcross builds the common "across N zones/data halls" policy
func NewAcross(count int, key string) Across {
	return Across{Count: count, Key: key, Then: One{}}
}

func (a Across) Validate(localities []fitness.Locality) bool {
	groups := make(map[string][]fitness.Locality)
	for _, loc := range localities {
		v, ok := loc.Get(a.Key)
		if !ok {
			continue
		}
		groups[v] = append(groups[v], loc)
	}

	satisfied := 0
	for _, group := range groups {
		if a.Then.Validate(group) {
			satisfied++
		}
	}
	return satisfied >= a.Count
}

func (a Across) Info() string {
	return fmt.Sprintf("across(%d, %s, %s)", a.Count, a.Key, a.Then.Info())
}

// And is satisfied when every sub-policy is satisfied
type And struct {
	Policies []Policy
}

func (a And) Validate(localities []fitness.Locality) bool {
	for _, p := range a.Policies {
		if !p.Validate(localities) {
			return false
		}
	}
	return true
}

func (a And) Info() string {
	info := "and("
	for i, p := range a.Policies {
		if i > 0 {
			info += ", "
		}
		info += p.Info()
	}
	return info + ")"
}
