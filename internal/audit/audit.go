// Package audit records authorization and key-release outcomes.
//
// Records are minimized: subject identity shrinks to the opaque unique id,
// and no clearance, COI membership, or key material is ever written.
// Every record goes to the structured log; persistence through an
// [storage.AuditStore] is optional.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/albeach/DIVE-V3-sub010/internal/storage"
	"github.com/albeach/DIVE-V3-sub010/pkg/decision"
	"github.com/albeach/DIVE-V3-sub010/pkg/release"
)

// Auditor writes decision and release records.
type Auditor struct {
	logger    *slog.Logger
	store     storage.AuditStore
	retention time.Duration
}

// Options configures an Auditor.
type Options struct {
	Logger *slog.Logger
	// Store persists records when non-nil; logging happens either way
	Store storage.AuditStore
	// Retention bounds how far back PurgeExpired keeps records
	Retention time.Duration
}

// NewAuditor creates an auditor.
func NewAuditor(opts Options) *Auditor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:    logger.With("component", "audit"),
		store:     opts.Store,
		retention: opts.Retention,
	}
}

// Decision records the outcome of an authorization evaluation.
func (a *Auditor) Decision(ctx context.Context, req decision.Request, verdict decision.Verdict) {
	rec := &storage.AuditRecord{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		SubjectID:  req.Subject.UniqueID,
		ResourceID: resourceID(req),
		Operation:  req.Operation,
		Effect:     string(verdict.Effect),
		Reason:     verdict.Reason,
	}
	a.write(ctx, "authorization decision", rec)
}

// Release records the terminal outcome of a key-release request.
func (a *Auditor) Release(ctx context.Context, req release.Request, result *release.Result) {
	effect := "DENY"
	if result.State == release.StateReleased {
		effect = "ALLOW"
	}
	operation := req.Operation
	if operation == "" {
		operation = "decrypt"
	}

	rec := &storage.AuditRecord{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		SubjectID:  req.Subject.UniqueID,
		ResourceID: req.ResourceID,
		Operation:  operation,
		Effect:     effect,
		Reason:     result.Verdict.Reason,
		State:      string(result.State),
	}
	a.write(ctx, "key release", rec)
}

func (a *Auditor) write(ctx context.Context, msg string, rec *storage.AuditRecord) {
	a.logger.InfoContext(ctx, msg,
		"record_id", rec.ID,
		"subject_id", rec.SubjectID,
		"resource_id", rec.ResourceID,
		"operation", rec.Operation,
		"effect", rec.Effect,
		"reason", rec.Reason,
		"state", rec.State,
	)

	if a.store == nil {
		return
	}
	if err := a.store.AppendAuditRecord(ctx, rec); err != nil {
		// A failed append must not block the decision path
		a.logger.ErrorContext(ctx, "persisting audit record failed",
			"record_id", rec.ID, "error", err)
	}
}

// PurgeExpired removes persisted records older than the retention window.
func (a *Auditor) PurgeExpired(ctx context.Context) (int64, error) {
	if a.store == nil || a.retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-a.retention)
	removed, err := a.store.PurgeAuditRecordsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		a.logger.InfoContext(ctx, "purged expired audit records", "count", removed)
	}
	return removed, nil
}

func resourceID(req decision.Request) string {
	if req.Resource == nil {
		return ""
	}
	return req.Resource.ResourceID
}
