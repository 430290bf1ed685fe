package types

// Facility identifies an echelon of the medical evacuation chain.
type Facility string

const (
	FacilityPOI   Facility = "POI"
	FacilityRole1 Facility = "Role1"
	FacilityRole2 Facility = "Role2"
	FacilityRole3 Facility = "Role3"
	FacilityRole4 Facility = "Role4"
)

// facilityChain is the canonical evacuation order from point of injury
// to definitive care.
var facilityChain = []Facility{
	FacilityPOI,
	FacilityRole1,
	FacilityRole2,
	FacilityRole3,
	FacilityRole4,
}

// FacilityChain returns the evacuation chain in order. The returned
// slice is a copy and safe to mutate.
func FacilityChain() []Facility {
	out := make([]Facility, len(facilityChain))
	copy(out, facilityChain)
	return out
}

// NextFacility returns the facility that follows f in the chain, or
// false when f is Role4 or unknown.
func NextFacility(f Facility) (Facility, bool) {
	for i, cur := range facilityChain {
		if cur == f && i+1 < len(facilityChain) {
			return facilityChain[i+1], true
		}
	}
	return "", false
}

// ValidFacility reports whether f names an echelon in the chain.
func ValidFacility(f Facility) bool {
	for _, cur := range facilityChain {
		if cur == f {
			return true
		}
	}
	return false
}

// Triage is the urgency class assigned at the point of injury. T1 is
// the most urgent.
type Triage string

const (
	TriageT1 Triage = "T1"
	TriageT2 Triage = "T2"
	TriageT3 Triage = "T3"
)

// TriageClasses returns all triage classes in severity order.
func TriageClasses() []Triage {
	return []Triage{TriageT1, TriageT2, TriageT3}
}

// ValidTriage reports whether t is a known triage class.
func ValidTriage(t Triage) bool {
	return t == TriageT1 || t == TriageT2 || t == TriageT3
}

// RouteKey encodes a transit route between two facilities as a stable
// string key, used in evacuation config maps and their JSON form.
func RouteKey(from, to Facility) string {
	return string(from) + "->" + string(to)
}
