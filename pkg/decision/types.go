// Package decision implements the authorization decision evaluator.
//
// A decision request carries subject attributes, a resource security label,
// and the requested operation. Evaluation is a fixed sequence of
// deny-overrides gates: clearance dominance, releasability, then
// community-of-interest. The first failing gate is terminal and its reason
// code is the verdict's reason; no later gate can override an earlier DENY.
//
// Evaluation is pure: identical inputs always produce identical verdicts,
// with no randomness and no time-of-day dependence beyond what the inputs
// encode. All fail-secure defaults (unknown clearance, missing country,
// missing tags) resolve to the most restrictive interpretation.
package decision

import (
	"github.com/albeach/DIVE-V3-sub010/pkg/label"
)

// Effect is the decision outcome.
type Effect string

const (
	// Allow grants the requested operation.
	Allow Effect = "ALLOW"
	// Deny refuses it.
	Deny Effect = "DENY"
)

// Machine-readable reason codes. DENY verdicts always carry one of the deny
// reasons; ALLOW verdicts carry ReasonAllConditionsSatisfied.
const (
	ReasonInsufficientClearance      = "INSUFFICIENT_CLEARANCE"
	ReasonNotReleasable              = "NOT_RELEASABLE"
	ReasonCOIViolation               = "COI_VIOLATION"
	ReasonInsufficientAuthentication = "INSUFFICIENT_AUTHENTICATION"
	ReasonAllConditionsSatisfied     = "All conditions satisfied"
)

// ObligationAuditLog is the obligation type attached to every ALLOW,
// instructing the audit collaborator to record the access.
const ObligationAuditLog = "AUDIT_LOG"

// Clearance is the subject-side clearance claim: a raw national marking and
// the country that issued it. Normalization to a ClearanceLevel happens
// inside the evaluator via the equivalency table, failing secure to
// UNCLASSIFIED when no entry exists.
type Clearance struct {
	Marking string `json:"marking"`
	Country string `json:"country"`
}

// AuthContext describes how the subject authenticated. AssuranceLevel
// follows the authenticator assurance levels (1 = single factor,
// 2 = multi-factor, 3 = hardware-backed multi-factor).
type AuthContext struct {
	AssuranceLevel int `json:"assuranceLevel"`
}

// SubjectAttributes identifies the requesting subject. UniqueID is an opaque
// identifier; names and emails never enter the core (PII minimization is the
// audit collaborator's contract, and it only ever sees this struct).
type SubjectAttributes struct {
	UniqueID             string      `json:"uniqueId"`
	Clearance            Clearance   `json:"clearance"`
	CountryOfAffiliation string      `json:"countryOfAffiliation"`
	COITags              []string    `json:"coiTags,omitempty"`
	AuthContext          AuthContext `json:"authContext"`
}

// Request is the inbound boundary contract for a decision.
type Request struct {
	Subject   SubjectAttributes
	Resource  *label.SecurityLabel
	Operation string
}

// Obligation is a post-decision action the caller must perform. Obligations
// are only ever attached to ALLOW verdicts.
type Obligation struct {
	Type       string `json:"type"`
	ResourceID string `json:"resourceId"`
	SubjectID  string `json:"subjectId"`
	Operation  string `json:"operation"`
}

// Verdict is the evaluation outcome. DENY always carries a non-empty reason.
type Verdict struct {
	Effect      Effect       `json:"effect"`
	Reason      string       `json:"reason"`
	Obligations []Obligation `json:"obligations,omitempty"`
}

// Allowed reports whether the verdict grants access.
func (v Verdict) Allowed() bool { return v.Effect == Allow }

func deny(reason string) Verdict {
	return Verdict{Effect: Deny, Reason: reason}
}
