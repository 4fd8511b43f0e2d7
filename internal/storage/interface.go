// Package storage provides data storage interfaces for the key access
// service.
//
// # Interface Design
//
// The storage layer is organized into focused interfaces:
//
//   - [LabelStore]: signed security labels keyed by resource id
//   - [KeyAccessStore]: key-access objects holding wrapped DEKs
//   - [AuditStore]: persisted decision and release records
//
// The [Store] interface combines all sub-stores for convenience.
// [LabelStore] and [KeyAccessStore] also satisfy the orchestrator's
// LabelSource and KeyAccessSource interfaces.
//
// # Implementations
//
// The mongodb sub-package provides the production implementation; the
// memory sub-package backs tests and demos.
//
// # Concurrency
//
// All store implementations must be safe for concurrent use from
// multiple goroutines.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/albeach/DIVE-V3-sub010/pkg/label"
	"github.com/albeach/DIVE-V3-sub010/pkg/release"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store is the main storage interface combining all sub-stores
type Store interface {
	LabelStore
	KeyAccessStore
	AuditStore

	// Close releases storage resources
	Close(ctx context.Context) error

	// Ping checks database connectivity
	Ping(ctx context.Context) error
}

// LabelStore manages signed security labels
type LabelStore interface {
	// PutSecurityLabel stores a label, replacing any label for the same resource
	PutSecurityLabel(ctx context.Context, l *label.SecurityLabel) error

	// SecurityLabel retrieves the label for a resource
	SecurityLabel(ctx context.Context, resourceID string) (*label.SecurityLabel, error)

	// DeleteSecurityLabel removes the label for a resource
	DeleteSecurityLabel(ctx context.Context, resourceID string) error
}

// KeyAccessStore manages key-access objects
type KeyAccessStore interface {
	// PutKeyAccessObject stores a key-access object
	PutKeyAccessObject(ctx context.Context, kao *release.KeyAccessObject) error

	// KeyAccessObject retrieves a key-access object by id
	KeyAccessObject(ctx context.Context, id string) (*release.KeyAccessObject, error)

	// KeyAccessObjectsForResource lists the key-access objects bound to a resource
	KeyAccessObjectsForResource(ctx context.Context, resourceID string) ([]*release.KeyAccessObject, error)
}

// AuditStore persists decision and release records
type AuditStore interface {
	// AppendAuditRecord stores an audit record
	AppendAuditRecord(ctx context.Context, rec *AuditRecord) error

	// AuditRecordsForResource lists records for a resource, newest first
	AuditRecordsForResource(ctx context.Context, resourceID string, limit int) ([]*AuditRecord, error)

	// PurgeAuditRecordsBefore deletes records older than the cutoff and
	// returns the number removed
	PurgeAuditRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditRecord is a persisted account of one authorization or release
// decision. Subject identity is reduced to the opaque unique id; no
// other subject attributes and no key material are stored.
type AuditRecord struct {
	ID         string    `bson:"_id" json:"id"`
	Timestamp  time.Time `bson:"timestamp" json:"timestamp"`
	SubjectID  string    `bson:"subject_id" json:"subjectId"`
	ResourceID string    `bson:"resource_id" json:"resourceId"`
	Operation  string    `bson:"operation" json:"operation"`
	Effect     string    `bson:"effect" json:"effect"`
	Reason     string    `bson:"reason,omitempty" json:"reason,omitempty"`
	// State is the terminal orchestrator state for release records,
	// empty for plain authorization decisions
	State string `bson:"state,omitempty" json:"state,omitempty"`
}
