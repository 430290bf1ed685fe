// Package catalog loads the bundled demographics and injury reference
// data. A Catalog is read-only after Load and safe for concurrent use
// without locking; callers supply the RNG for draws.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"

	"github.com/casgen-dev/casgen/internal/types"
)

//go:embed data/injuries.json
var injuriesJSON []byte

//go:embed data/names.json
var namesJSON []byte

// PersonName is a sampled identity.
type PersonName struct {
	GivenName  string
	FamilyName string
	Gender     string
}

type injuryEntry struct {
	Code    string  `json:"code"`
	Display string  `json:"display"`
	Weight  float64 `json:"weight"`
}

type nameTable struct {
	GenderWeights map[string]float64  `json:"gender_weights"`
	GivenNames    map[string][]string `json:"given_names"`
	FamilyNames   []string            `json:"family_names"`

	genders []string
	weights []float64
	total   float64
}

type namesFile struct {
	Generic       *nameTable            `json:"generic"`
	Nationalities map[string]*nameTable `json:"nationalities"`
}

// Catalog holds the parsed reference tables.
type Catalog struct {
	names    map[string]*nameTable
	generic  *nameTable
	injuries map[types.InjuryCategory][]injuryEntry
	totals   map[types.InjuryCategory]float64
}

// Load parses the bundled tables. Injury entries are kept sorted by
// code so iteration order is stable.
func Load() (*Catalog, error) {
	var inj map[types.InjuryCategory][]injuryEntry
	if err := json.Unmarshal(injuriesJSON, &inj); err != nil {
		return nil, fmt.Errorf("catalog: parsing injuries: %w", err)
	}
	var nf namesFile
	if err := json.Unmarshal(namesJSON, &nf); err != nil {
		return nil, fmt.Errorf("catalog: parsing names: %w", err)
	}
	if nf.Generic == nil {
		return nil, fmt.Errorf("catalog: names table has no generic fallback")
	}

	c := &Catalog{
		names:    nf.Nationalities,
		generic:  nf.Generic,
		injuries: inj,
		totals:   make(map[types.InjuryCategory]float64, len(inj)),
	}
	for cat, entries := range inj {
		if len(entries) == 0 {
			return nil, fmt.Errorf("catalog: injury category %q is empty", cat)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Code < entries[j].Code })
		total := 0.0
		for _, e := range entries {
			if e.Weight <= 0 {
				return nil, fmt.Errorf("catalog: injury %s has non-positive weight", e.Code)
			}
			total += e.Weight
		}
		c.injuries[cat] = entries
		c.totals[cat] = total
	}
	if err := nf.Generic.prepare(); err != nil {
		return nil, fmt.Errorf("catalog: generic names: %w", err)
	}
	for nat, tbl := range nf.Nationalities {
		if err := tbl.prepare(); err != nil {
			return nil, fmt.Errorf("catalog: names for %s: %w", nat, err)
		}
	}
	return c, nil
}

func (t *nameTable) prepare() error {
	if len(t.FamilyNames) == 0 {
		return fmt.Errorf("no family names")
	}
	genders := make([]string, 0, len(t.GenderWeights))
	for g := range t.GenderWeights {
		genders = append(genders, g)
	}
	sort.Strings(genders)
	total := 0.0
	for _, g := range genders {
		w := t.GenderWeights[g]
		if w <= 0 {
			return fmt.Errorf("gender %q has non-positive weight", g)
		}
		if len(t.GivenNames[g]) == 0 {
			return fmt.Errorf("gender %q has no given names", g)
		}
		t.genders = append(t.genders, g)
		t.weights = append(t.weights, w)
		total += w
	}
	if total <= 0 {
		return fmt.Errorf("no gender weights")
	}
	t.total = total
	return nil
}

// SampleIdentity draws a name and gender for the nationality, falling
// back to the generic table for unknown country codes.
func (c *Catalog) SampleIdentity(nationality string, rng *rand.Rand) PersonName {
	tbl, ok := c.names[nationality]
	if !ok {
		tbl = c.generic
	}
	gender := tbl.genders[len(tbl.genders)-1]
	x := rng.Float64() * tbl.total
	for i, w := range tbl.weights {
		if x < w {
			gender = tbl.genders[i]
			break
		}
		x -= w
	}
	given := tbl.GivenNames[gender]
	return PersonName{
		GivenName:  given[rng.Intn(len(given))],
		FamilyName: tbl.FamilyNames[rng.Intn(len(tbl.FamilyNames))],
		Gender:     gender,
	}
}

// SampleInjury draws a coded diagnosis from the category table by
// weight.
func (c *Catalog) SampleInjury(cat types.InjuryCategory, rng *rand.Rand) types.Diagnosis {
	entries := c.injuries[cat]
	if len(entries) == 0 {
		return types.Diagnosis{Code: "UNSPECIFIED", Display: "Unspecified condition", Category: cat}
	}
	x := rng.Float64() * c.totals[cat]
	for _, e := range entries {
		if x < e.Weight {
			return types.Diagnosis{Code: e.Code, Display: e.Display, Category: cat}
		}
		x -= e.Weight
	}
	last := entries[len(entries)-1]
	return types.Diagnosis{Code: last.Code, Display: last.Display, Category: cat}
}

// Injuries returns the category's diagnoses sorted by code.
func (c *Catalog) Injuries(cat types.InjuryCategory) []types.Diagnosis {
	entries := c.injuries[cat]
	out := make([]types.Diagnosis, len(entries))
	for i, e := range entries {
		out[i] = types.Diagnosis{Code: e.Code, Display: e.Display, Category: cat}
	}
	return out
}

// Nationalities returns the country codes with a dedicated name table,
// sorted.
func (c *Catalog) Nationalities() []string {
	out := make([]string, 0, len(c.names))
	for nat := range c.names {
		out = append(out, nat)
	}
	sort.Strings(out)
	return out
}
