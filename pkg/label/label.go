// Package label defines the resource-side security label and its canonical
// serialization.
//
// A security label carries everything an authorization decision needs to
// know about a resource: classification, releasability, community-of-interest
// requirements, and provenance. Labels are bound to resources by a detached
// signature over their canonical form (see the security package); any
// mutation of a labeled field after signing is detectable.
package label

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/albeach/DIVE-V3-sub010/pkg/clearance"
	"github.com/albeach/DIVE-V3-sub010/pkg/coi"
)

// SecurityLabel is the policy metadata attached to a classified resource.
//
// Signature, when present, is a detached signature over [SecurityLabel.CanonicalBytes]
// and is never part of the canonical form itself.
type SecurityLabel struct {
	ResourceID     string
	Classification clearance.ClearanceLevel
	ReleasableTo   []string
	COIRequirement coi.Requirement
	OriginCountry  string
	CreatedAt      time.Time
	Signature      []byte
}

// canonicalLabel is the wire shape fed to the deterministic encoder. Field
// keys are short and fixed; slices are sorted copies so that equal labels
// with differently ordered sets canonicalize identically.
type canonicalLabel struct {
	ResourceID     string   `cbor:"rid"`
	Classification int      `cbor:"cls"`
	ReleasableTo   []string `cbor:"rel"`
	COIIDs         []string `cbor:"coi"`
	COIOperator    string   `cbor:"op"`
	OriginCountry  string   `cbor:"org"`
	CreatedAt      string   `cbor:"ts"`
}

var canonicalEncMode cbor.EncMode

func init() {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("label: building canonical CBOR mode: %v", err))
	}
	canonicalEncMode = mode
}

// Validate checks structural invariants before signing or evaluation.
func (l *SecurityLabel) Validate() error {
	if strings.TrimSpace(l.ResourceID) == "" {
		return fmt.Errorf("security label has no resource id")
	}
	if !l.Classification.Valid() {
		return fmt.Errorf("security label %s: invalid classification %d", l.ResourceID, l.Classification)
	}
	if len(l.COIRequirement.IDs) > 0 {
		switch l.COIRequirement.Operator {
		case coi.OperatorAll, coi.OperatorAny:
		default:
			return fmt.Errorf("security label %s: COI requirement needs operator ALL or ANY", l.ResourceID)
		}
	}
	return nil
}

// CanonicalBytes returns the deterministic serialization of the label's
// policy fields. Stable field ordering and sorted sets guarantee that the
// same label always produces the same byte sequence, independent of how its
// slices were populated. The Signature field is excluded.
func (l *SecurityLabel) CanonicalBytes() ([]byte, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}

	rel := normalizeSet(l.ReleasableTo)
	cois := append([]string(nil), l.COIRequirement.IDs...)
	sort.Strings(cois)

	op := ""
	if len(cois) > 0 {
		op = string(l.COIRequirement.Operator)
	}

	c := canonicalLabel{
		ResourceID:     l.ResourceID,
		Classification: int(l.Classification),
		ReleasableTo:   rel,
		COIIDs:         cois,
		COIOperator:    op,
		OriginCountry:  strings.ToUpper(strings.TrimSpace(l.OriginCountry)),
		CreatedAt:      l.CreatedAt.UTC().Format(time.RFC3339),
	}

	data, err := canonicalEncMode.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing label %s: %w", l.ResourceID, err)
	}
	return data, nil
}

// ReleasableToCountry reports whether the label permits disclosure to a
// country of affiliation. An empty releasability set permits no country;
// callers that treat an empty set as "no constraint" must check for that
// case themselves (the decision evaluator does).
func (l *SecurityLabel) ReleasableToCountry(country string) bool {
	country = strings.ToUpper(strings.TrimSpace(country))
	for _, c := range l.ReleasableTo {
		if strings.ToUpper(strings.TrimSpace(c)) == country {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the label.
func (l *SecurityLabel) Clone() *SecurityLabel {
	out := *l
	out.ReleasableTo = append([]string(nil), l.ReleasableTo...)
	out.COIRequirement.IDs = append([]string(nil), l.COIRequirement.IDs...)
	out.Signature = append([]byte(nil), l.Signature...)
	return &out
}

func normalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
