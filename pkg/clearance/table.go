package clearance

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// ErrUnknownClearance is returned by [Resolver.Rank] when no equivalency
// entry exists for a (country, marking) pair. Callers must treat the subject
// as UNCLASSIFIED rather than propagating the error into a decision.
var ErrUnknownClearance = errors.New("no clearance equivalency entry")

// Table is an immutable national clearance equivalency table. Build one with
// [NewTable] or [LoadTable]; never mutate it after handing it to a Resolver.
type Table struct {
	version string
	// entries maps lowercased country code -> lowercased marking -> level.
	entries map[string]map[string]ClearanceLevel
}

// tableFile is the on-disk YAML shape:
//
//	version: "2025.2"
//	countries:
//	  USA:
//	    UNCLASSIFIED: [UNCLASSIFIED, U]
//	    RESTRICTED: [RESTRICTED, FOUO]
//	    CONFIDENTIAL: [CONFIDENTIAL, C]
//	    SECRET: [SECRET, S]
//	    TOP_SECRET: [TOP SECRET, TS]
type tableFile struct {
	Version   string                         `yaml:"version"`
	Countries map[string]map[string][]string `yaml:"countries"`
}

// NewTable builds a table from per-country marking lists keyed by canonical
// level name. Every country must provide at least one marking at every one
// of the five levels; gaps are a configuration error, not a runtime default.
func NewTable(version string, countries map[string]map[string][]string) (*Table, error) {
	if len(countries) == 0 {
		return nil, fmt.Errorf("clearance table %q has no countries", version)
	}

	byLevelName := make(map[string]ClearanceLevel, len(levelNames))
	for lvl, name := range levelNames {
		byLevelName[name] = lvl
	}

	entries := make(map[string]map[string]ClearanceLevel, len(countries))
	for country, markings := range countries {
		countryKey := strings.ToLower(strings.TrimSpace(country))
		if countryKey == "" {
			return nil, fmt.Errorf("clearance table %q has an empty country code", version)
		}

		seen := make(map[ClearanceLevel]bool, 5)
		countryEntries := make(map[string]ClearanceLevel)
		for levelName, variants := range markings {
			lvl, ok := byLevelName[strings.ToUpper(strings.TrimSpace(levelName))]
			if !ok {
				return nil, fmt.Errorf("country %s: unknown level name %q", country, levelName)
			}
			if len(variants) == 0 {
				return nil, fmt.Errorf("country %s: no markings at level %s", country, lvl)
			}
			seen[lvl] = true
			for _, v := range variants {
				marking := strings.ToLower(strings.TrimSpace(v))
				if marking == "" {
					return nil, fmt.Errorf("country %s: empty marking at level %s", country, lvl)
				}
				if prev, dup := countryEntries[marking]; dup && prev != lvl {
					return nil, fmt.Errorf("country %s: marking %q mapped to both %s and %s", country, v, prev, lvl)
				}
				countryEntries[marking] = lvl
			}
		}

		for _, lvl := range Levels() {
			if !seen[lvl] {
				return nil, fmt.Errorf("country %s: missing equivalency at level %s", country, lvl)
			}
		}
		entries[countryKey] = countryEntries
	}

	return &Table{version: version, entries: entries}, nil
}

// LoadTable reads an equivalency table from a YAML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading clearance table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable parses an equivalency table from YAML bytes.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing clearance table: %w", err)
	}
	return NewTable(f.Version, f.Countries)
}

// Version returns the table's version string.
func (t *Table) Version() string { return t.version }

// Countries returns the number of registered countries.
func (t *Table) Countries() int { return len(t.entries) }

// HasCountry reports whether the table covers the country code.
func (t *Table) HasCountry(country string) bool {
	_, ok := t.entries[strings.ToLower(strings.TrimSpace(country))]
	return ok
}

func (t *Table) lookup(country, marking string) (ClearanceLevel, bool) {
	markings, ok := t.entries[strings.ToLower(strings.TrimSpace(country))]
	if !ok {
		return Unclassified, false
	}
	lvl, ok := markings[strings.ToLower(strings.TrimSpace(marking))]
	return lvl, ok
}

// Resolver resolves national clearance markings against the current table
// snapshot. It is safe for concurrent use; Rank takes no locks.
type Resolver struct {
	table atomic.Pointer[Table]
}

// NewResolver creates a resolver over an initial table.
func NewResolver(table *Table) *Resolver {
	r := &Resolver{}
	r.table.Store(table)
	return r
}

// Rank resolves a (country, national marking) pair to a ClearanceLevel.
// Lookups are case-insensitive. If no entry exists it returns Unclassified
// together with [ErrUnknownClearance]; treating the subject as UNCLASSIFIED
// is the required fail-secure recovery.
func (r *Resolver) Rank(country, marking string) (ClearanceLevel, error) {
	lvl, ok := r.table.Load().lookup(country, marking)
	if !ok {
		return Unclassified, fmt.Errorf("%w for (%q, %q)", ErrUnknownClearance, country, marking)
	}
	return lvl, nil
}

// RankOrUnclassified resolves like [Resolver.Rank] but applies the
// fail-secure default itself, swallowing ErrUnknownClearance.
func (r *Resolver) RankOrUnclassified(country, marking string) ClearanceLevel {
	lvl, err := r.Rank(country, marking)
	if err != nil {
		return Unclassified
	}
	return lvl
}

// Snapshot returns the current table.
func (r *Resolver) Snapshot() *Table {
	return r.table.Load()
}

// Reload atomically swaps in a new table. In-flight lookups complete against
// whichever table they loaded; no reader ever observes a partial update.
func (r *Resolver) Reload(table *Table) error {
	if table == nil {
		return errors.New("reload with nil clearance table")
	}
	r.table.Store(table)
	return nil
}
