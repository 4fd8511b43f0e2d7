package decision

import (
	"github.com/albeach/DIVE-V3-sub010/pkg/clearance"
	"github.com/albeach/DIVE-V3-sub010/pkg/coi"
)

// AssurancePolicy optionally requires a minimum authenticator assurance
// level for resources at or above a classification threshold. The zero value
// disables the gate, leaving the core gate sequence unchanged.
type AssurancePolicy struct {
	// Threshold is the classification at which the requirement starts to
	// apply (e.g. Secret).
	Threshold clearance.ClearanceLevel
	// MinAssuranceLevel is the AAL required at or above the threshold.
	MinAssuranceLevel int
}

func (p AssurancePolicy) enabled() bool { return p.MinAssuranceLevel > 0 }

// Evaluator runs the deny-overrides gate sequence. It holds no mutable state
// of its own; concurrent evaluations share only the resolvers' immutable
// snapshots, so any number of requests may evaluate in parallel.
type Evaluator struct {
	clearance *clearance.Resolver
	coi       *coi.Resolver
	assurance AssurancePolicy
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithAssurancePolicy enables the authenticator assurance gate.
func WithAssurancePolicy(p AssurancePolicy) Option {
	return func(e *Evaluator) { e.assurance = p }
}

// NewEvaluator creates an evaluator over the clearance and COI resolvers.
func NewEvaluator(clearanceResolver *clearance.Resolver, coiResolver *coi.Resolver, opts ...Option) *Evaluator {
	e := &Evaluator{
		clearance: clearanceResolver,
		coi:       coiResolver,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the gate sequence and returns the verdict.
//
// Gates, in order, each terminal on failure:
//  1. clearance dominance: the subject's normalized clearance must rank at
//     or above the resource classification. An unresolvable marking counts
//     as UNCLASSIFIED (fail-secure), not as an error.
//  2. releasability: when the label carries a non-empty releasability set,
//     the subject's country of affiliation must be in it.
//  3. community of interest: the label's COI requirement must be satisfied
//     under its combining operator (kind-aware, see the coi package).
//  4. authenticator assurance, only when a policy is configured.
//
// On ALLOW, a single AUDIT_LOG obligation carries the resource id, subject
// id, and operation for the audit collaborator.
func (e *Evaluator) Evaluate(req Request) Verdict {
	subject := req.Subject
	resource := req.Resource

	if resource == nil {
		return deny(ReasonNotReleasable)
	}

	// Gate 1: clearance. ErrUnknownClearance resolves to UNCLASSIFIED.
	subjectLevel := e.clearance.RankOrUnclassified(subject.Clearance.Country, subject.Clearance.Marking)
	if clearance.Compare(subjectLevel, resource.Classification) < 0 {
		return deny(ReasonInsufficientClearance)
	}

	// Gate 2: releasability. An empty set on the label means the originator
	// expressed no country constraint.
	if len(resource.ReleasableTo) > 0 && !resource.ReleasableToCountry(subject.CountryOfAffiliation) {
		return deny(ReasonNotReleasable)
	}

	// Gate 3: COI. Empty requirement is vacuously satisfied.
	if !e.coi.Satisfies(subject.CountryOfAffiliation, subject.COITags, resource.COIRequirement) {
		return deny(ReasonCOIViolation)
	}

	// Gate 4: authenticator assurance, when configured.
	if e.assurance.enabled() &&
		clearance.Compare(resource.Classification, e.assurance.Threshold) >= 0 &&
		subject.AuthContext.AssuranceLevel < e.assurance.MinAssuranceLevel {
		return deny(ReasonInsufficientAuthentication)
	}

	return Verdict{
		Effect: Allow,
		Reason: ReasonAllConditionsSatisfied,
		Obligations: []Obligation{{
			Type:       ObligationAuditLog,
			ResourceID: resource.ResourceID,
			SubjectID:  subject.UniqueID,
			Operation:  req.Operation,
		}},
	}
}
