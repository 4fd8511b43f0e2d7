// Package release implements the key-release orchestrator.
//
// A key release is the last step between an authorization decision and
// readable content: only after a fresh ALLOW verdict does the orchestrator
// unwrap the resource's data-encryption key and hand it to the caller for a
// single decrypt. Prior verdicts are never cached across release calls,
// because authorization context (authenticator assurance, table reloads) can
// change between access and release.
//
// Per-request state machine:
//
//	Requested -> Evaluating -> Denied              (terminal)
//	                        -> Granted -> Unwrapping -> Released      (terminal)
//	                                                 -> UnwrapFailed  (terminal)
//
// Denied and UnwrapFailed are deliberately distinct outcomes so callers can
// tell "not authorized" from "key material corrupted". Neither is retriable
// without a new request, and the orchestrator performs no retries itself.
package release

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/albeach/DIVE-V3-sub010/pkg/decision"
	"github.com/albeach/DIVE-V3-sub010/pkg/label"
	"github.com/albeach/DIVE-V3-sub010/pkg/security"
)

// State is a key-release request state.
type State string

const (
	StateRequested    State = "Requested"
	StateEvaluating   State = "Evaluating"
	StateGranted      State = "Granted"
	StateDenied       State = "Denied"
	StateUnwrapping   State = "Unwrapping"
	StateReleased     State = "Released"
	StateUnwrapFailed State = "UnwrapFailed"
)

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateDenied || s == StateReleased || s == StateUnwrapFailed
}

// ReasonSignatureInvalid is the denial reason when the resource label fails
// signature verification. Tampered policy metadata never reaches the
// decision evaluator.
const ReasonSignatureInvalid = "SIGNATURE_INVALID"

// DeniedError reports a release refused by policy. It carries the
// machine-readable reason from the decision verdict (or
// ReasonSignatureInvalid for label tamper).
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("key release denied: %s", e.Reason)
}

// UnwrapError reports a release that was authorized but whose key material
// could not be unwrapped (ciphertext tamper or KEK mismatch). It is a
// security-relevant event, distinct from DeniedError.
type UnwrapError struct {
	Err error
}

func (e *UnwrapError) Error() string {
	return fmt.Sprintf("key release unwrap failed: %v", e.Err)
}

func (e *UnwrapError) Unwrap() error { return e.Err }

// KeyAccessObject associates a resource with its wrapped DEK. Persisted
// as-is by the storage collaborator and re-submitted unchanged on release.
type KeyAccessObject struct {
	ID         string               `bson:"_id" json:"id"`
	ResourceID string               `bson:"resource_id" json:"resourceId"`
	WrappedKey *security.WrappedKey `bson:"wrapped_key" json:"wrappedKey"`
	CreatedAt  time.Time            `bson:"created_at" json:"createdAt"`
}

// LabelSource supplies resource security labels.
type LabelSource interface {
	SecurityLabel(ctx context.Context, resourceID string) (*label.SecurityLabel, error)
}

// KeyAccessSource supplies key-access objects.
type KeyAccessSource interface {
	KeyAccessObject(ctx context.Context, id string) (*KeyAccessObject, error)
}

// KEKProvider resolves key-encryption keys by id.
type KEKProvider interface {
	KEK(id string) ([]byte, error)
}

// Request names the resource and key material a caller wants released.
type Request struct {
	ResourceID        string
	KeyAccessObjectID string
	Subject           decision.SubjectAttributes
	// Operation recorded in the decision; defaults to "decrypt".
	Operation string
}

// Result is a completed release. DEK is present only in state Released; it
// is the caller's to use for exactly one decrypt and is not retained by the
// orchestrator.
type Result struct {
	RequestID string
	State     State
	Verdict   decision.Verdict
	DEK       []byte
}

// Record is the orchestrator's view of one request's lifecycle, kept for
// observability. It never contains key material.
type Record struct {
	RequestID         string
	ResourceID        string
	KeyAccessObjectID string
	SubjectID         string
	State             State
	Reason            string
	RequestedAt       time.Time
	CompletedAt       time.Time
}

// Orchestrator coordinates evaluation and unwrapping. Safe for concurrent
// use; independent requests proceed fully in parallel.
type Orchestrator struct {
	evaluator *decision.Evaluator
	labels    LabelSource
	keys      KeyAccessSource
	keks      KEKProvider
	verifier  *security.LabelSigner // nil disables signature checking

	mu      sync.RWMutex
	records map[string]*Record
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLabelVerifier makes the orchestrator verify each label's signature
// before evaluation; verification failure denies the release with
// ReasonSignatureInvalid.
func WithLabelVerifier(verifier *security.LabelSigner) Option {
	return func(o *Orchestrator) { o.verifier = verifier }
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(evaluator *decision.Evaluator, labels LabelSource, keys KeyAccessSource, keks KEKProvider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		evaluator: evaluator,
		labels:    labels,
		keys:      keys,
		keks:      keks,
		records:   make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Release runs one request through the state machine. The decision is always
// evaluated fresh. On success the returned Result carries the unwrapped DEK;
// the orchestrator keeps no copy.
func (o *Orchestrator) Release(ctx context.Context, req Request) (*Result, error) {
	operation := req.Operation
	if operation == "" {
		operation = "decrypt"
	}

	rec := &Record{
		RequestID:         uuid.NewString(),
		ResourceID:        req.ResourceID,
		KeyAccessObjectID: req.KeyAccessObjectID,
		SubjectID:         req.Subject.UniqueID,
		State:             StateRequested,
		RequestedAt:       time.Now().UTC(),
	}
	o.track(rec)

	resource, err := o.labels.SecurityLabel(ctx, req.ResourceID)
	if err != nil {
		o.complete(rec, StateDenied, "")
		return nil, fmt.Errorf("loading security label for %s: %w", req.ResourceID, err)
	}

	o.transition(rec, StateEvaluating)

	if o.verifier != nil && !o.verifier.Verify(resource, resource.Signature) {
		o.complete(rec, StateDenied, ReasonSignatureInvalid)
		return &Result{RequestID: rec.RequestID, State: StateDenied},
			&DeniedError{Reason: ReasonSignatureInvalid}
	}

	verdict := o.evaluator.Evaluate(decision.Request{
		Subject:   req.Subject,
		Resource:  resource,
		Operation: operation,
	})
	if !verdict.Allowed() {
		o.complete(rec, StateDenied, verdict.Reason)
		return &Result{RequestID: rec.RequestID, State: StateDenied, Verdict: verdict},
			&DeniedError{Reason: verdict.Reason}
	}

	o.transition(rec, StateGranted)

	kao, err := o.keys.KeyAccessObject(ctx, req.KeyAccessObjectID)
	if err != nil {
		o.complete(rec, StateUnwrapFailed, "")
		return nil, fmt.Errorf("loading key access object %s: %w", req.KeyAccessObjectID, err)
	}
	if kao.ResourceID != req.ResourceID {
		o.complete(rec, StateUnwrapFailed, "")
		return &Result{RequestID: rec.RequestID, State: StateUnwrapFailed, Verdict: verdict},
			&UnwrapError{Err: fmt.Errorf("key access object %s is bound to resource %s", kao.ID, kao.ResourceID)}
	}

	o.transition(rec, StateUnwrapping)

	kek, err := o.keks.KEK(kao.WrappedKey.KEKID)
	if err != nil {
		o.complete(rec, StateUnwrapFailed, "")
		return &Result{RequestID: rec.RequestID, State: StateUnwrapFailed, Verdict: verdict},
			&UnwrapError{Err: err}
	}

	dek, err := security.UnwrapDEK(kao.WrappedKey, kek)
	if err != nil {
		o.complete(rec, StateUnwrapFailed, "")
		return &Result{RequestID: rec.RequestID, State: StateUnwrapFailed, Verdict: verdict},
			&UnwrapError{Err: err}
	}

	o.complete(rec, StateReleased, verdict.Reason)
	return &Result{
		RequestID: rec.RequestID,
		State:     StateReleased,
		Verdict:   verdict,
		DEK:       dek,
	}, nil
}

// RecordFor returns a copy of the lifecycle record for a request id.
func (o *Orchestrator) RecordFor(requestID string) (Record, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rec, ok := o.records[requestID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Forget drops a completed record from the tracker.
func (o *Orchestrator) Forget(requestID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.records, requestID)
}

func (o *Orchestrator) track(rec *Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records[rec.RequestID] = rec
}

func (o *Orchestrator) transition(rec *Record, state State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec.State = state
}

func (o *Orchestrator) complete(rec *Record, state State, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec.State = state
	rec.Reason = reason
	rec.CompletedAt = time.Now().UTC()
}
