// Package memory implements storage interfaces in process memory, for
// tests and single-node demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/albeach/DIVE-V3-sub010/internal/storage"
	"github.com/albeach/DIVE-V3-sub010/pkg/label"
	"github.com/albeach/DIVE-V3-sub010/pkg/release"
)

// Store implements storage.Store with maps guarded by a single mutex.
type Store struct {
	mu        sync.RWMutex
	labels    map[string]*label.SecurityLabel
	keyAccess map[string]*release.KeyAccessObject
	audit     []*storage.AuditRecord
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		labels:    make(map[string]*label.SecurityLabel),
		keyAccess: make(map[string]*release.KeyAccessObject),
	}
}

// Close is a no-op for the in-memory store.
func (s *Store) Close(ctx context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(ctx context.Context) error { return nil }

// PutSecurityLabel stores a label, replacing any label for the same resource.
func (s *Store) PutSecurityLabel(ctx context.Context, l *label.SecurityLabel) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("storing label: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels[l.ResourceID] = l.Clone()
	return nil
}

// SecurityLabel retrieves the label for a resource.
func (s *Store) SecurityLabel(ctx context.Context, resourceID string) (*label.SecurityLabel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.labels[resourceID]
	if !ok {
		return nil, fmt.Errorf("%w: label for %s", storage.ErrNotFound, resourceID)
	}
	return l.Clone(), nil
}

// DeleteSecurityLabel removes the label for a resource.
func (s *Store) DeleteSecurityLabel(ctx context.Context, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.labels[resourceID]; !ok {
		return fmt.Errorf("%w: label for %s", storage.ErrNotFound, resourceID)
	}
	delete(s.labels, resourceID)
	return nil
}

// PutKeyAccessObject stores a key-access object.
func (s *Store) PutKeyAccessObject(ctx context.Context, kao *release.KeyAccessObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *kao
	s.keyAccess[kao.ID] = &cp
	return nil
}

// KeyAccessObject retrieves a key-access object by id.
func (s *Store) KeyAccessObject(ctx context.Context, id string) (*release.KeyAccessObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kao, ok := s.keyAccess[id]
	if !ok {
		return nil, fmt.Errorf("%w: key access object %s", storage.ErrNotFound, id)
	}
	cp := *kao
	return &cp, nil
}

// KeyAccessObjectsForResource lists the key-access objects bound to a resource.
func (s *Store) KeyAccessObjectsForResource(ctx context.Context, resourceID string) ([]*release.KeyAccessObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var kaos []*release.KeyAccessObject
	for _, kao := range s.keyAccess {
		if kao.ResourceID == resourceID {
			cp := *kao
			kaos = append(kaos, &cp)
		}
	}
	sort.Slice(kaos, func(i, j int) bool { return kaos[i].ID < kaos[j].ID })
	return kaos, nil
}

// AppendAuditRecord stores an audit record.
func (s *Store) AppendAuditRecord(ctx context.Context, rec *storage.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.audit = append(s.audit, &cp)
	return nil
}

// AuditRecordsForResource lists records for a resource, newest first.
func (s *Store) AuditRecordsForResource(ctx context.Context, resourceID string, limit int) ([]*storage.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*storage.AuditRecord
	for _, rec := range s.audit {
		if rec.ResourceID == resourceID {
			cp := *rec
			records = append(records, &cp)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.After(records[j].Timestamp) })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// PurgeAuditRecordsBefore deletes records older than the cutoff.
func (s *Store) PurgeAuditRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.audit[:0]
	var removed int64
	for _, rec := range s.audit {
		if rec.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.audit = kept
	return removed, nil
}
