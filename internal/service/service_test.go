package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albeach/DIVE-V3-sub010/internal/config"
	"github.com/albeach/DIVE-V3-sub010/internal/keystore"
	"github.com/albeach/DIVE-V3-sub010/internal/storage/memory"
	"github.com/albeach/DIVE-V3-sub010/pkg/clearance"
	"github.com/albeach/DIVE-V3-sub010/pkg/coi"
	"github.com/albeach/DIVE-V3-sub010/pkg/decision"
	"github.com/albeach/DIVE-V3-sub010/pkg/label"
	"github.com/albeach/DIVE-V3-sub010/pkg/release"
)

const clearanceYAML = `
version: "2026-01"
countries:
  USA:
    UNCLASSIFIED: [UNCLASSIFIED]
    RESTRICTED: [RESTRICTED]
    CONFIDENTIAL: [CONFIDENTIAL]
    SECRET: [SECRET]
    TOP_SECRET: [TOP SECRET]
  FRA:
    UNCLASSIFIED: [NON PROTEGE]
    RESTRICTED: [DIFFUSION RESTREINTE]
    CONFIDENTIAL: [CONFIDENTIEL DEFENSE]
    SECRET: [SECRET DEFENSE]
    TOP_SECRET: [TRES SECRET DEFENSE]
`

const coiYAML = `
version: "2026-01"
communities:
  - id: FVEY
    kind: country-affiliated
    countries: [USA, GBR, CAN, AUS, NZL]
  - id: OpAlpha
    kind: exclusive
`

func newTestService(t *testing.T) (*Service, string, string) {
	t.Helper()
	dir := t.TempDir()

	tablePath := filepath.Join(dir, "clearances.yaml")
	require.NoError(t, os.WriteFile(tablePath, []byte(clearanceYAML), 0o600))
	coiPath := filepath.Join(dir, "communities.yaml")
	require.NoError(t, os.WriteFile(coiPath, []byte(coiYAML), 0o600))

	cfg := &config.Config{
		Policy: config.PolicyConfig{
			ClearanceTable: tablePath,
			COIRegistry:    coiPath,
		},
		Keys: config.KeysConfig{Mode: "memory"},
		Audit: config.AuditConfig{
			Retention: time.Hour,
			Persist:   true,
		},
	}

	keys, err := keystore.NewMemoryProvider("kek-test")
	require.NoError(t, err)

	svc, err := New(cfg, memory.NewStore(), keys,
		slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close(context.Background()) })

	return svc, tablePath, coiPath
}

func usSubject() decision.SubjectAttributes {
	return decision.SubjectAttributes{
		UniqueID:             "jdoe@mil",
		Clearance:            decision.Clearance{Marking: "SECRET", Country: "USA"},
		CountryOfAffiliation: "USA",
		COITags:              []string{"FVEY"},
	}
}

func TestProtectAndRelease(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	kao, dek, err := svc.ProtectResource(ctx, &label.SecurityLabel{
		ResourceID:     "doc-1",
		Classification: clearance.Secret,
		ReleasableTo:   []string{"USA", "GBR"},
		COIRequirement: coi.Requirement{IDs: []string{"FVEY"}, Operator: coi.OperatorAll},
		OriginCountry:  "USA",
	})
	require.NoError(t, err)
	require.Len(t, dek, 32)
	assert.Equal(t, "doc-1", kao.ResourceID)

	result, err := svc.ReleaseKey(ctx, release.Request{
		ResourceID:        "doc-1",
		KeyAccessObjectID: kao.ID,
		Subject:           usSubject(),
	})
	require.NoError(t, err)
	assert.Equal(t, release.StateReleased, result.State)
	assert.Equal(t, dek, result.DEK)

	// The release leaves a persisted audit trail
	records, err := svc.store.AuditRecordsForResource(ctx, "doc-1", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ALLOW", records[0].Effect)
	assert.Equal(t, "jdoe@mil", records[0].SubjectID)
}

func TestReleaseKey_DeniedForUnreleasableCountry(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	kao, _, err := svc.ProtectResource(ctx, &label.SecurityLabel{
		ResourceID:     "doc-2",
		Classification: clearance.Secret,
		ReleasableTo:   []string{"USA"},
		OriginCountry:  "USA",
	})
	require.NoError(t, err)

	subject := decision.SubjectAttributes{
		UniqueID:             "fdupont@def",
		Clearance:            decision.Clearance{Marking: "SECRET DEFENSE", Country: "FRA"},
		CountryOfAffiliation: "FRA",
	}
	result, err := svc.ReleaseKey(ctx, release.Request{
		ResourceID:        "doc-2",
		KeyAccessObjectID: kao.ID,
		Subject:           subject,
	})
	require.Error(t, err)

	var denied *release.DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, decision.ReasonNotReleasable, denied.Reason)
	assert.Nil(t, result.DEK)
}

func TestAuthorize_UsesForeignEquivalency(t *testing.T) {
	svc, _, _ := newTestService(t)

	verdict := svc.Authorize(context.Background(), decision.Request{
		Subject: decision.SubjectAttributes{
			UniqueID:             "fdupont@def",
			Clearance:            decision.Clearance{Marking: "SECRET DEFENSE", Country: "FRA"},
			CountryOfAffiliation: "FRA",
		},
		Resource: &label.SecurityLabel{
			ResourceID:     "doc-3",
			Classification: clearance.Secret,
			ReleasableTo:   []string{"FRA"},
			OriginCountry:  "USA",
			CreatedAt:      time.Now().UTC(),
		},
		Operation: "read",
	})

	assert.True(t, verdict.Allowed())
}

func TestReloadPolicy(t *testing.T) {
	ctx := context.Background()
	svc, tablePath, _ := newTestService(t)

	// Initially GBR is unknown, so a GBR subject ranks UNCLASSIFIED
	verdict := svc.Authorize(ctx, decision.Request{
		Subject: decision.SubjectAttributes{
			UniqueID:             "asmith@mod",
			Clearance:            decision.Clearance{Marking: "SECRET", Country: "GBR"},
			CountryOfAffiliation: "GBR",
		},
		Resource: &label.SecurityLabel{
			ResourceID:     "doc-4",
			Classification: clearance.Secret,
			OriginCountry:  "USA",
			CreatedAt:      time.Now().UTC(),
		},
		Operation: "read",
	})
	assert.False(t, verdict.Allowed())
	assert.Equal(t, decision.ReasonInsufficientClearance, verdict.Reason)

	expanded := clearanceYAML + `
  GBR:
    UNCLASSIFIED: [OFFICIAL]
    RESTRICTED: [OFFICIAL-SENSITIVE]
    CONFIDENTIAL: [UK CONFIDENTIAL]
    SECRET: [SECRET]
    TOP_SECRET: [TOP SECRET]
`
	require.NoError(t, os.WriteFile(tablePath, []byte(expanded), 0o600))
	require.NoError(t, svc.ReloadPolicy(ctx))

	verdict = svc.Authorize(ctx, decision.Request{
		Subject: decision.SubjectAttributes{
			UniqueID:             "asmith@mod",
			Clearance:            decision.Clearance{Marking: "SECRET", Country: "GBR"},
			CountryOfAffiliation: "GBR",
		},
		Resource: &label.SecurityLabel{
			ResourceID:     "doc-4",
			Classification: clearance.Secret,
			OriginCountry:  "USA",
			CreatedAt:      time.Now().UTC(),
		},
		Operation: "read",
	})
	assert.True(t, verdict.Allowed())
}

func TestReloadPolicy_BadFileKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	svc, tablePath, _ := newTestService(t)

	require.NoError(t, os.WriteFile(tablePath, []byte("countries: {USA: {SECRET: [S]}}"), 0o600))
	require.Error(t, svc.ReloadPolicy(ctx))

	// The previous table still answers
	verdict := svc.Authorize(ctx, decision.Request{
		Subject: usSubject(),
		Resource: &label.SecurityLabel{
			ResourceID:     "doc-5",
			Classification: clearance.Secret,
			OriginCountry:  "USA",
			CreatedAt:      time.Now().UTC(),
		},
		Operation: "read",
	})
	assert.True(t, verdict.Allowed())
}

func TestWatch_ReloadsOnFileChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, _, coiPath := newTestService(t)

	done := make(chan error, 1)
	go func() { done <- svc.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	withBeta := coiYAML + `
  - id: OpBeta
    kind: exclusive
`
	require.NoError(t, os.WriteFile(coiPath, []byte(withBeta), 0o600))

	require.Eventually(t, func() bool {
		_, ok := svc.cois.Snapshot().Lookup("OpBeta")
		return ok
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestMetricsHandler(t *testing.T) {
	svc, _, _ := newTestService(t)

	svc.Authorize(context.Background(), decision.Request{
		Subject: usSubject(),
		Resource: &label.SecurityLabel{
			ResourceID:     "doc-6",
			Classification: clearance.Secret,
			OriginCountry:  "USA",
			CreatedAt:      time.Now().UTC(),
		},
		Operation: "read",
	})

	rec := httptest.NewRecorder()
	svc.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dive_authorization_decisions_total")
}
