package catalog

import (
	"math/rand"
	"testing"

	"github.com/casgen-dev/casgen/internal/types"
)

func loadCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c
}

func TestLoad(t *testing.T) {
	c := loadCatalog(t)

	for _, cat := range types.InjuryCategories() {
		if len(c.Injuries(cat)) == 0 {
			t.Errorf("category %s has no diagnoses", cat)
		}
	}
	if len(c.Nationalities()) == 0 {
		t.Error("expected dedicated name tables")
	}
}

func TestInjuries_SortedByCode(t *testing.T) {
	c := loadCatalog(t)

	for _, cat := range types.InjuryCategories() {
		entries := c.Injuries(cat)
		for i := 1; i < len(entries); i++ {
			if entries[i-1].Code >= entries[i].Code {
				t.Errorf("%s: codes out of order at %d: %q >= %q",
					cat, i, entries[i-1].Code, entries[i].Code)
			}
		}
		for _, d := range entries {
			if d.Category != cat {
				t.Errorf("diagnosis %s carries category %s, want %s", d.Code, d.Category, cat)
			}
			if d.Display == "" {
				t.Errorf("diagnosis %s has no display text", d.Code)
			}
		}
	}
}

func TestSampleInjury_StaysInCategory(t *testing.T) {
	c := loadCatalog(t)
	rng := rand.New(rand.NewSource(7))

	for _, cat := range types.InjuryCategories() {
		valid := make(map[string]bool)
		for _, d := range c.Injuries(cat) {
			valid[d.Code] = true
		}
		for i := 0; i < 200; i++ {
			d := c.SampleInjury(cat, rng)
			if !valid[d.Code] {
				t.Fatalf("%s: sampled unknown code %q", cat, d.Code)
			}
		}
	}
}

func TestSampleInjury_Deterministic(t *testing.T) {
	c := loadCatalog(t)

	a := rand.New(rand.NewSource(99))
	b := rand.New(rand.NewSource(99))
	for i := 0; i < 50; i++ {
		da := c.SampleInjury(types.InjuryBattle, a)
		db := c.SampleInjury(types.InjuryBattle, b)
		if da.Code != db.Code {
			t.Fatalf("draw %d diverged: %s vs %s", i, da.Code, db.Code)
		}
	}
}

func TestSampleInjury_CoversDistribution(t *testing.T) {
	c := loadCatalog(t)
	rng := rand.New(rand.NewSource(3))

	seen := make(map[string]int)
	for i := 0; i < 5000; i++ {
		seen[c.SampleInjury(types.InjuryBattle, rng).Code]++
	}
	// With 5000 weighted draws every bundled battle code should appear.
	for _, d := range c.Injuries(types.InjuryBattle) {
		if seen[d.Code] == 0 {
			t.Errorf("code %s never drawn", d.Code)
		}
	}
}

func TestSampleIdentity(t *testing.T) {
	c := loadCatalog(t)
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 100; i++ {
		p := c.SampleIdentity("USA", rng)
		if p.GivenName == "" || p.FamilyName == "" {
			t.Fatalf("empty name: %+v", p)
		}
		if p.Gender != "male" && p.Gender != "female" {
			t.Fatalf("unexpected gender %q", p.Gender)
		}
	}
}

func TestSampleIdentity_UnknownNationalityFallsBack(t *testing.T) {
	c := loadCatalog(t)
	rng := rand.New(rand.NewSource(11))

	p := c.SampleIdentity("ZZZ", rng)
	if p.GivenName == "" || p.FamilyName == "" {
		t.Fatalf("generic fallback produced an empty name: %+v", p)
	}
}

func TestSampleIdentity_Deterministic(t *testing.T) {
	c := loadCatalog(t)

	a := rand.New(rand.NewSource(42))
	b := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		pa := c.SampleIdentity("GBR", a)
		pb := c.SampleIdentity("GBR", b)
		if pa != pb {
			t.Fatalf("draw %d diverged: %+v vs %+v", i, pa, pb)
		}
	}
}

func TestNationalities_Sorted(t *testing.T) {
	c := loadCatalog(t)

	nats := c.Nationalities()
	for i := 1; i < len(nats); i++ {
		if nats[i-1] >= nats[i] {
			t.Errorf("nationalities out of order: %q >= %q", nats[i-1], nats[i])
		}
	}
	found := false
	for _, nat := range nats {
		if nat == "USA" {
			found = true
		}
	}
	if !found {
		t.Error("expected USA in the bundled tables")
	}
}
