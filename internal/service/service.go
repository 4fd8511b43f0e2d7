// Package service composes the policy, key, and storage layers into the
// coalition key access service.
//
// A Service owns the clearance and COI resolvers, the decision evaluator,
// the label signer, and the key-release orchestrator, wired against a
// storage backend and a keystore. It is the one place where evaluation,
// auditing, and metrics meet.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/albeach/DIVE-V3-sub010/internal/audit"
	"github.com/albeach/DIVE-V3-sub010/internal/config"
	"github.com/albeach/DIVE-V3-sub010/internal/keystore"
	"github.com/albeach/DIVE-V3-sub010/internal/storage"
	"github.com/albeach/DIVE-V3-sub010/pkg/clearance"
	"github.com/albeach/DIVE-V3-sub010/pkg/coi"
	"github.com/albeach/DIVE-V3-sub010/pkg/decision"
	"github.com/albeach/DIVE-V3-sub010/pkg/label"
	"github.com/albeach/DIVE-V3-sub010/pkg/release"
	"github.com/albeach/DIVE-V3-sub010/pkg/security"
)

// Service is the assembled key access service.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	clearances *clearance.Resolver
	cois       *coi.Resolver
	evaluator  *decision.Evaluator

	keys         keystore.Provider
	store        storage.Store
	signer       *security.LabelSigner
	orchestrator *release.Orchestrator
	auditor      *audit.Auditor
	metrics      *metrics
}

// New assembles a service from configuration. The storage backend is
// injected so callers choose between mongodb and memory.
func New(cfg *config.Config, store storage.Store, keys keystore.Provider, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	table, err := clearance.LoadTable(cfg.Policy.ClearanceTable)
	if err != nil {
		return nil, fmt.Errorf("loading clearance table: %w", err)
	}
	registry, err := coi.LoadRegistry(cfg.Policy.COIRegistry)
	if err != nil {
		return nil, fmt.Errorf("loading COI registry: %w", err)
	}

	clearances := clearance.NewResolver(table)
	cois := coi.NewResolver(registry)

	var evalOpts []decision.Option
	if cfg.Policy.Assurance.MinLevel > 0 {
		threshold, err := cfg.Policy.Assurance.ThresholdLevel()
		if err != nil {
			return nil, err
		}
		evalOpts = append(evalOpts, decision.WithAssurancePolicy(decision.AssurancePolicy{
			Threshold:         threshold,
			MinAssuranceLevel: cfg.Policy.Assurance.MinLevel,
		}))
	}
	evaluator := decision.NewEvaluator(clearances, cois, evalOpts...)

	signingKey, err := keys.SigningKey()
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}
	signer, err := security.NewLabelSigner(signingKey)
	if err != nil {
		return nil, err
	}

	orchestrator := release.NewOrchestrator(evaluator, store, store, keys,
		release.WithLabelVerifier(signer))

	auditor := audit.NewAuditor(audit.Options{
		Logger:    logger,
		Store:     auditStore(cfg, store),
		Retention: cfg.Audit.Retention,
	})

	return &Service{
		cfg:          cfg,
		logger:       logger.With("component", "service"),
		clearances:   clearances,
		cois:         cois,
		evaluator:    evaluator,
		keys:         keys,
		store:        store,
		signer:       signer,
		orchestrator: orchestrator,
		auditor:      auditor,
		metrics:      newMetrics(),
	}, nil
}

func auditStore(cfg *config.Config, store storage.Store) storage.AuditStore {
	if !cfg.Audit.Persist {
		return nil
	}
	return store
}

// Authorize evaluates an access request, audits the outcome, and returns
// the verdict.
func (s *Service) Authorize(ctx context.Context, req decision.Request) decision.Verdict {
	verdict := s.evaluator.Evaluate(req)
	s.metrics.decisions.WithLabelValues(string(verdict.Effect), verdict.Reason).Inc()
	s.auditor.Decision(ctx, req, verdict)
	return verdict
}

// ReleaseKey runs a key-release request through the orchestrator. Denials
// and unwrap failures come back as the orchestrator's typed errors.
func (s *Service) ReleaseKey(ctx context.Context, req release.Request) (*release.Result, error) {
	result, err := s.orchestrator.Release(ctx, req)

	if result != nil {
		s.metrics.releases.WithLabelValues(string(result.State)).Inc()
		if result.State == release.StateUnwrapFailed {
			s.metrics.unwrapFailures.Inc()
		}
		s.auditor.Release(ctx, req, result)
	}
	return result, err
}

// ProtectResource signs a security label, generates and wraps a fresh DEK
// under the active KEK, and persists both. The plaintext DEK is returned
// once for the caller to encrypt the resource content with.
func (s *Service) ProtectResource(ctx context.Context, l *label.SecurityLabel) (*release.KeyAccessObject, []byte, error) {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	sig, err := s.signer.Sign(l)
	if err != nil {
		return nil, nil, fmt.Errorf("signing label: %w", err)
	}
	l.Signature = sig

	if err := s.store.PutSecurityLabel(ctx, l); err != nil {
		return nil, nil, err
	}

	dek, err := security.GenerateDEK()
	if err != nil {
		return nil, nil, err
	}
	kekID := s.keys.ActiveKEKID()
	kek, err := s.keys.KEK(kekID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading active kek: %w", err)
	}
	wrapped, err := security.WrapDEK(dek, kek, kekID)
	if err != nil {
		return nil, nil, err
	}

	kao := &release.KeyAccessObject{
		ID:         uuid.NewString(),
		ResourceID: l.ResourceID,
		WrappedKey: wrapped,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.PutKeyAccessObject(ctx, kao); err != nil {
		return nil, nil, err
	}

	s.logger.InfoContext(ctx, "resource protected",
		"resource_id", l.ResourceID, "kao_id", kao.ID, "kek_id", kekID)
	return kao, dek, nil
}

// ReloadPolicy reloads the clearance table and COI registry from disk.
// Either file failing leaves the previous snapshot in place.
func (s *Service) ReloadPolicy(ctx context.Context) error {
	var errs []error

	table, err := clearance.LoadTable(s.cfg.Policy.ClearanceTable)
	if err == nil {
		err = s.clearances.Reload(table)
	}
	s.recordReload(ctx, "clearance_table", err)
	if err != nil {
		errs = append(errs, fmt.Errorf("clearance table: %w", err))
	}

	registry, err := coi.LoadRegistry(s.cfg.Policy.COIRegistry)
	if err == nil {
		err = s.cois.Reload(registry)
	}
	s.recordReload(ctx, "coi_registry", err)
	if err != nil {
		errs = append(errs, fmt.Errorf("coi registry: %w", err))
	}

	return errors.Join(errs...)
}

func (s *Service) recordReload(ctx context.Context, source string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.logger.ErrorContext(ctx, "policy reload failed", "source", source, "error", err)
	} else {
		s.logger.InfoContext(ctx, "policy reloaded", "source", source)
	}
	s.metrics.policyReloads.WithLabelValues(source, outcome).Inc()
}

// Watch reloads policy data whenever the clearance table or COI registry
// file changes on disk. Events are debounced because editors produce
// several writes per save. Blocks until ctx is done.
func (s *Service) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	for _, path := range []string{s.cfg.Policy.ClearanceTable, s.cfg.Policy.COIRegistry} {
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
	}
	s.logger.InfoContext(ctx, "watching policy files",
		"clearance_table", s.cfg.Policy.ClearanceTable,
		"coi_registry", s.cfg.Policy.COIRegistry)

	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := s.ReloadPolicy(ctx); err != nil {
				// Keep watching; the previous snapshot stays active
				s.logger.ErrorContext(ctx, "reload after file change failed", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.ErrorContext(ctx, "watcher error", "error", err)
		}
	}
}

// MetricsHandler serves the service's Prometheus registry.
func (s *Service) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})
}

// PurgeExpiredAudit removes audit records past the retention window.
func (s *Service) PurgeExpiredAudit(ctx context.Context) (int64, error) {
	return s.auditor.PurgeExpired(ctx)
}

// Close releases the keystore and storage backend.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if err := s.keys.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
