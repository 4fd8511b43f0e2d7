// Package clearance implements national clearance equivalency resolution.
//
// Coalition partners express personnel clearances in national markings
// ("GEHEIM", "TRES SECRET DEFENSE", "UK SECRET"). Authorization decisions
// must compare those against resource classifications on a common scale.
// This package normalizes national markings to a five-level ClearanceLevel
// via a versioned equivalency table and provides total ordering over the
// levels.
//
// The table is immutable once loaded. Administrative reloads swap the whole
// table atomically; concurrent readers observe either the old or the new
// table in full. See [Resolver.Reload].
package clearance

// ClearanceLevel is a normalized clearance rank. Comparisons are always by
// rank, never by marking string.
type ClearanceLevel int

const (
	Unclassified ClearanceLevel = iota
	Restricted
	Confidential
	Secret
	TopSecret
)

var levelNames = map[ClearanceLevel]string{
	Unclassified: "UNCLASSIFIED",
	Restricted:   "RESTRICTED",
	Confidential: "CONFIDENTIAL",
	Secret:       "SECRET",
	TopSecret:    "TOP_SECRET",
}

// String returns the canonical level name.
func (l ClearanceLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether l is one of the five defined levels.
func (l ClearanceLevel) Valid() bool {
	return l >= Unclassified && l <= TopSecret
}

// Levels returns all defined levels in ascending rank order.
func Levels() []ClearanceLevel {
	return []ClearanceLevel{Unclassified, Restricted, Confidential, Secret, TopSecret}
}

// Compare returns -1 if a ranks below b, 0 if equal, +1 if a ranks above b.
// The ordering is the strict total order
// UNCLASSIFIED < RESTRICTED < CONFIDENTIAL < SECRET < TOP_SECRET.
func Compare(a, b ClearanceLevel) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Dominates reports whether a subject holding level a may read material
// classified at level b.
func Dominates(a, b ClearanceLevel) bool {
	return Compare(a, b) >= 0
}
