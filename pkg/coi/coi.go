// Package coi implements community-of-interest membership resolution.
//
// A community of interest (COI) is a named access-control grouping layered on
// top of clearance and releasability checks. Membership semantics depend on
// the COI's kind:
//
//   - exclusive: a subject is eligible only when it explicitly holds the COI
//     tag. Country of affiliation never grants membership.
//   - country-affiliated: a subject is eligible when it holds the tag, or
//     when its country of affiliation belongs to the COI's country set
//     (e.g. FVEY covering USA, GBR, CAN, AUS, NZL).
//
// The kind distinction is load-bearing. Applying country fallback uniformly
// lets a subject into an exclusive compartment on nationality alone, which is
// exactly the access-control failure this package exists to prevent.
package coi

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Kind distinguishes how COI membership is derived.
type Kind string

const (
	// KindCountryAffiliated grants membership via explicit tag or via the
	// subject's country of affiliation.
	KindCountryAffiliated Kind = "country-affiliated"

	// KindExclusive grants membership only via explicit tag.
	KindExclusive Kind = "exclusive"
)

// Operator combines multiple COI requirements on a resource.
type Operator string

const (
	// OperatorAll requires eligibility for every listed COI.
	OperatorAll Operator = "ALL"

	// OperatorAny requires eligibility for at least one listed COI.
	OperatorAny Operator = "ANY"
)

// Definition describes a single COI. Kind is fixed for the lifetime of the
// COI id; a country-affiliated COI always carries a non-empty country set.
type Definition struct {
	ID        string   `yaml:"id"`
	Kind      Kind     `yaml:"kind"`
	Countries []string `yaml:"countries,omitempty"`
}

// Registry is an immutable snapshot of COI definitions.
type Registry struct {
	version string
	defs    map[string]Definition
	// members maps COI id -> lowercased country code set, for
	// country-affiliated COIs only.
	members map[string]map[string]bool
}

type registryFile struct {
	Version     string       `yaml:"version"`
	Communities []Definition `yaml:"communities"`
}

// NewRegistry validates definitions and builds a registry snapshot.
func NewRegistry(version string, defs []Definition) (*Registry, error) {
	reg := &Registry{
		version: version,
		defs:    make(map[string]Definition, len(defs)),
		members: make(map[string]map[string]bool),
	}
	for _, def := range defs {
		id := strings.TrimSpace(def.ID)
		if id == "" {
			return nil, fmt.Errorf("COI registry %q has a definition without an id", version)
		}
		if _, dup := reg.defs[id]; dup {
			return nil, fmt.Errorf("duplicate COI id %q", id)
		}
		switch def.Kind {
		case KindExclusive:
			if len(def.Countries) > 0 {
				return nil, fmt.Errorf("exclusive COI %q must not carry a country set", id)
			}
		case KindCountryAffiliated:
			if len(def.Countries) == 0 {
				return nil, fmt.Errorf("country-affiliated COI %q has an empty country set", id)
			}
			set := make(map[string]bool, len(def.Countries))
			for _, c := range def.Countries {
				c = strings.ToLower(strings.TrimSpace(c))
				if c == "" {
					return nil, fmt.Errorf("COI %q has an empty country code", id)
				}
				set[c] = true
			}
			reg.members[id] = set
		default:
			return nil, fmt.Errorf("COI %q has unknown kind %q", id, def.Kind)
		}
		reg.defs[id] = def
	}
	return reg, nil
}

// LoadRegistry reads COI definitions from a YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading COI registry: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry parses COI definitions from YAML bytes.
func ParseRegistry(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing COI registry: %w", err)
	}
	return NewRegistry(f.Version, f.Communities)
}

// Version returns the registry's version string.
func (r *Registry) Version() string { return r.version }

// Lookup returns the definition for a COI id.
func (r *Registry) Lookup(id string) (Definition, bool) {
	def, ok := r.defs[id]
	return def, ok
}

// Resolver answers COI eligibility questions against the current registry
// snapshot. Safe for concurrent use; eligibility checks take no locks.
type Resolver struct {
	registry atomic.Pointer[Registry]
}

// NewResolver creates a resolver over an initial registry.
func NewResolver(registry *Registry) *Resolver {
	r := &Resolver{}
	r.registry.Store(registry)
	return r
}

// IsEligible reports whether a subject is eligible for a single COI.
// Unknown COI ids are fail-secure ineligible. Tag matching is exact;
// country matching is case-insensitive and applies only to
// country-affiliated COIs.
func (r *Resolver) IsEligible(subjectCountry string, subjectTags []string, coiID string) bool {
	reg := r.registry.Load()
	def, ok := reg.Lookup(coiID)
	if !ok {
		return false
	}

	for _, tag := range subjectTags {
		if tag == coiID {
			return true
		}
	}

	if def.Kind != KindCountryAffiliated {
		return false
	}
	return reg.members[coiID][strings.ToLower(strings.TrimSpace(subjectCountry))]
}

// Requirement is a resource-side COI requirement: a set of COI ids combined
// with ALL or ANY. An empty id set is vacuously satisfied.
type Requirement struct {
	IDs      []string
	Operator Operator
}

// Satisfies evaluates a requirement for a subject. With OperatorAll every
// listed COI must be eligible; with OperatorAny at least one must be. An
// unrecognized operator on a non-empty requirement fails secure.
func (r *Resolver) Satisfies(subjectCountry string, subjectTags []string, req Requirement) bool {
	if len(req.IDs) == 0 {
		return true
	}
	switch req.Operator {
	case OperatorAll:
		for _, id := range req.IDs {
			if !r.IsEligible(subjectCountry, subjectTags, id) {
				return false
			}
		}
		return true
	case OperatorAny:
		for _, id := range req.IDs {
			if r.IsEligible(subjectCountry, subjectTags, id) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Snapshot returns the current registry.
func (r *Resolver) Snapshot() *Registry {
	return r.registry.Load()
}

// Reload atomically swaps in a new registry snapshot.
func (r *Resolver) Reload(registry *Registry) error {
	if registry == nil {
		return errors.New("reload with nil COI registry")
	}
	r.registry.Store(registry)
	return nil
}
