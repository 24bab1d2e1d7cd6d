package policy

import (
	"math/rand"
	"testing"

	"github.com/dd0wney/cluso-txdb/pkg/fitness"
)

func zoned(process, zone string) fitness.Locality {
	return fitness.Locality{ProcessID: process, ZoneID: zone, DCID: "dc1"}
}

// TestAcrossZones tests the distinct-zone counting policy
func TestAcrossZones(t *testing.T) {
	p := NewAcross(3, fitness.KeyZoneID)

	threeZones := []fitness.Locality{
		zoned("p1", "z1"), zoned("p2", "z2"), zoned("p3", "z3"),
	}
	if !p.Validate(threeZones) {
		t.Error("Expected 3 distinct zones to satisfy across(3, zoneid)")
	}

	twoZones := []fitness.Locality{
		zoned("p1", "z1"), zoned("p2", "z2"), zoned("p3", "z2"),
	}
	if p.Validate(twoZones) {
		t.Error("Expected 2 distinct zones to fail across(3, zoneid)")
	}
}

// TestAcrossIgnoresUnsetKeys tests that workers without the key don't count
func TestAcrossIgnoresUnsetKeys(t *testing.T) {
	p := NewAcross(2, fitness.KeyDataHall)

	locs := []fitness.Locality{
		{ProcessID: "p1", DataHallID: "h1"},
		{ProcessID: "p2"}, // no data hall declared
		{ProcessID: "p3", DataHallID: "h1"},
	}
	if p.Validate(locs) {
		t.Error("Expected a single declared data hall to fail across(2, data_hall)")
	}
}

// TestAndPolicy tests conjunction
func TestAndPolicy(t *testing.T) {
	p := And{Policies: []Policy{
		NewAcross(2, fitness.KeyZoneID),
		NewAcross(1, fitness.KeyDCID),
	}}

	locs := []fitness.Locality{zoned("p1", "z1"), zoned("p2", "z2")}
	if !p.Validate(locs) {
		t.Error("Expected both sub-policies to be satisfied")
	}

	oneZone := []fitness.Locality{zoned("p1", "z1"), zoned("p2", "z1")}
	if p.Validate(oneZone) {
		t.Error("Expected conjunction to fail when one sub-policy fails")
	}
}

// TestFindBestPolicySet tests the bounded subset search
func TestFindBestPolicySet(t *testing.T) {
	set := NewLocalitySet()
	for _, loc := range []fitness.Locality{
		zoned("p1", "z1"), zoned("p2", "z1"),
		zoned("p3", "z2"), zoned("p4", "z2"),
		zoned("p5", "z3"), zoned("p6", "z3"),
	} {
		set.Add(loc)
	}

	p := NewAcross(3, fitness.KeyZoneID)
	rng := rand.New(rand.NewSource(7))

	chosen, ok := FindBestPolicySet(set, p, 3, 5, 100, rng)
	if !ok {
		t.Fatal("Expected a satisfying 3-entry subset to exist")
	}
	if len(chosen) != 3 {
		t.Fatalf("Expected exactly 3 entries, got %d", len(chosen))
	}
	if !p.Validate(set.Localities(chosen)) {
		t.Error("Returned subset must satisfy the policy")
	}
}

// TestFindBestPolicySetImpossible tests failure when no subset can satisfy
func TestFindBestPolicySetImpossible(t *testing.T) {
	set := NewLocalitySet()
	set.Add(zoned("p1", "z1"))
	set.Add(zoned("p2", "z1"))
	set.Add(zoned("p3", "z1"))

	p := NewAcross(3, fitness.KeyZoneID)
	rng := rand.New(rand.NewSource(7))

	if _, ok := FindBestPolicySet(set, p, 3, 5, 100, rng); ok {
		t.Error("Expected no satisfying subset in a single zone")
	}
}

// TestFindBestPolicySetDeterministic tests seeded reproducibility
func TestFindBestPolicySetDeterministic(t *testing.T) {
	build := func() *LocalitySet {
		set := NewLocalitySet()
		for i := 0; i < 12; i++ {
			set.Add(fitness.Locality{
				ProcessID: string(rune('a' + i)),
				ZoneID:    string(rune('A' + i%4)),
				DCID:      "dc1",
			})
		}
		return set
	}

	p := NewAcross(3, fitness.KeyZoneID)

	first, ok1 := FindBestPolicySet(build(), p, 4, 10, 200, rand.New(rand.NewSource(42)))
	second, ok2 := FindBestPolicySet(build(), p, 4, 10, 200, rand.New(rand.NewSource(42)))

	if !ok1 || !ok2 {
		t.Fatal("Expected both searches to succeed")
	}
	if len(first) != len(second) {
		t.Fatalf("Result sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("Seeded searches diverged at %d: %v vs %v", i, first, second)
		}
	}
}
