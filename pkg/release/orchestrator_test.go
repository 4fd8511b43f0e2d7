package release

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albeach/DIVE-V3-sub010/pkg/clearance"
	"github.com/albeach/DIVE-V3-sub010/pkg/coi"
	"github.com/albeach/DIVE-V3-sub010/pkg/decision"
	"github.com/albeach/DIVE-V3-sub010/pkg/label"
	"github.com/albeach/DIVE-V3-sub010/pkg/security"
)

// memoryStore backs the orchestrator with in-memory labels, key-access
// objects, and KEKs.
type memoryStore struct {
	labels map[string]*label.SecurityLabel
	kaos   map[string]*KeyAccessObject
	keks   map[string][]byte
}

func (m *memoryStore) SecurityLabel(_ context.Context, resourceID string) (*label.SecurityLabel, error) {
	l, ok := m.labels[resourceID]
	if !ok {
		return nil, fmt.Errorf("label %s not found", resourceID)
	}
	return l, nil
}

func (m *memoryStore) KeyAccessObject(_ context.Context, id string) (*KeyAccessObject, error) {
	k, ok := m.kaos[id]
	if !ok {
		return nil, fmt.Errorf("key access object %s not found", id)
	}
	return k, nil
}

func (m *memoryStore) KEK(id string) ([]byte, error) {
	k, ok := m.keks[id]
	if !ok {
		return nil, fmt.Errorf("KEK %s not found", id)
	}
	return k, nil
}

type fixture struct {
	orch      *Orchestrator
	evaluator *decision.Evaluator
	store     *memoryStore
	signer    *security.LabelSigner
	dek       []byte
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	table, err := clearance.NewTable("test-1", map[string]map[string][]string{
		"USA": {
			"UNCLASSIFIED": {"UNCLASSIFIED"},
			"RESTRICTED":   {"RESTRICTED"},
			"CONFIDENTIAL": {"CONFIDENTIAL"},
			"SECRET":       {"SECRET"},
			"TOP_SECRET":   {"TOP SECRET"},
		},
	})
	require.NoError(t, err)

	registry, err := coi.NewRegistry("test-1", []coi.Definition{
		{ID: "FVEY", Kind: coi.KindCountryAffiliated, Countries: []string{"USA", "GBR", "CAN", "AUS", "NZL"}},
	})
	require.NoError(t, err)

	evaluator := decision.NewEvaluator(clearance.NewResolver(table), coi.NewResolver(registry))

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer, err := security.NewLabelSigner(key)
	require.NoError(t, err)

	l := &label.SecurityLabel{
		ResourceID:     "doc-7c41",
		Classification: clearance.Secret,
		ReleasableTo:   []string{"USA"},
		COIRequirement: coi.Requirement{IDs: []string{"FVEY"}, Operator: coi.OperatorAll},
		OriginCountry:  "USA",
		CreatedAt:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	sig, err := signer.Sign(l)
	require.NoError(t, err)
	l.Signature = sig

	kek := make([]byte, security.KEKSize)
	_, err = rand.Read(kek)
	require.NoError(t, err)

	dek, err := security.GenerateDEK()
	require.NoError(t, err)

	wrapped, err := security.WrapDEK(dek, kek, "kek-1")
	require.NoError(t, err)

	store := &memoryStore{
		labels: map[string]*label.SecurityLabel{"doc-7c41": l},
		kaos: map[string]*KeyAccessObject{
			"kao-1": {ID: "kao-1", ResourceID: "doc-7c41", WrappedKey: wrapped, CreatedAt: time.Now().UTC()},
		},
		keks: map[string][]byte{"kek-1": kek},
	}

	return &fixture{
		orch:      NewOrchestrator(evaluator, store, store, store, opts...),
		evaluator: evaluator,
		store:     store,
		signer:    signer,
		dek:       dek,
	}
}

func clearedSubject() decision.SubjectAttributes {
	return decision.SubjectAttributes{
		UniqueID:             "subj-001",
		Clearance:            decision.Clearance{Marking: "SECRET", Country: "USA"},
		CountryOfAffiliation: "USA",
		AuthContext:          decision.AuthContext{AssuranceLevel: 2},
	}
}

func TestRelease_Granted(t *testing.T) {
	f := newFixture(t)

	result, err := f.orch.Release(context.Background(), Request{
		ResourceID:        "doc-7c41",
		KeyAccessObjectID: "kao-1",
		Subject:           clearedSubject(),
	})
	require.NoError(t, err)

	assert.Equal(t, StateReleased, result.State)
	assert.True(t, result.State.Terminal())
	assert.Equal(t, f.dek, result.DEK)
	assert.True(t, result.Verdict.Allowed())

	rec, ok := f.orch.RecordFor(result.RequestID)
	require.True(t, ok)
	assert.Equal(t, StateReleased, rec.State)
	assert.Equal(t, "subj-001", rec.SubjectID)
	assert.False(t, rec.CompletedAt.IsZero())
}

func TestRelease_DeniedSurfacesReason(t *testing.T) {
	f := newFixture(t)

	subject := clearedSubject()
	subject.Clearance.Marking = "CONFIDENTIAL"

	result, err := f.orch.Release(context.Background(), Request{
		ResourceID:        "doc-7c41",
		KeyAccessObjectID: "kao-1",
		Subject:           subject,
	})

	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, decision.ReasonInsufficientClearance, denied.Reason)

	assert.Equal(t, StateDenied, result.State)
	assert.Nil(t, result.DEK, "no key material on denial")
}

func TestRelease_EvaluatesFreshPerRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := Request{ResourceID: "doc-7c41", KeyAccessObjectID: "kao-1", Subject: clearedSubject()}

	_, err := f.orch.Release(ctx, req)
	require.NoError(t, err)

	// Revoke releasability: the next release must see the change even
	// though the prior request was granted.
	f.store.labels["doc-7c41"].ReleasableTo = []string{"GBR"}
	f.store.labels["doc-7c41"].Signature = nil

	_, err = f.orch.Release(ctx, req)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, decision.ReasonNotReleasable, denied.Reason)
}

func TestRelease_UnwrapFailedDistinctFromDenied(t *testing.T) {
	f := newFixture(t)

	// Corrupt the stored ciphertext.
	f.store.kaos["kao-1"].WrappedKey.Ciphertext[20] ^= 0x01

	result, err := f.orch.Release(context.Background(), Request{
		ResourceID:        "doc-7c41",
		KeyAccessObjectID: "kao-1",
		Subject:           clearedSubject(),
	})

	var unwrapErr *UnwrapError
	require.ErrorAs(t, err, &unwrapErr)
	assert.ErrorIs(t, err, security.ErrUnwrapFailed)

	var denied *DeniedError
	assert.False(t, errors.As(err, &denied), "unwrap failure must not look like a policy denial")

	assert.Equal(t, StateUnwrapFailed, result.State)
	assert.Nil(t, result.DEK)
}

func TestRelease_WrongKEKIsUnwrapFailed(t *testing.T) {
	f := newFixture(t)

	other := make([]byte, security.KEKSize)
	_, err := rand.Read(other)
	require.NoError(t, err)
	f.store.keks["kek-1"] = other

	result, err := f.orch.Release(context.Background(), Request{
		ResourceID:        "doc-7c41",
		KeyAccessObjectID: "kao-1",
		Subject:           clearedSubject(),
	})

	var unwrapErr *UnwrapError
	require.ErrorAs(t, err, &unwrapErr)
	assert.Equal(t, StateUnwrapFailed, result.State)
}

func TestRelease_VerifierRejectsTamperedLabel(t *testing.T) {
	f := newFixture(t)
	orch := NewOrchestrator(f.evaluator, f.store, f.store, f.store, WithLabelVerifier(f.signer))
	ctx := context.Background()
	req := Request{ResourceID: "doc-7c41", KeyAccessObjectID: "kao-1", Subject: clearedSubject()}

	// Intact label releases fine with verification on.
	result, err := orch.Release(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StateReleased, result.State)

	// Widen releasability behind the signature's back.
	f.store.labels["doc-7c41"].ReleasableTo = append(f.store.labels["doc-7c41"].ReleasableTo, "FRA")

	result, err = orch.Release(ctx, req)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, ReasonSignatureInvalid, denied.Reason)
	assert.Equal(t, StateDenied, result.State)
	assert.Nil(t, result.DEK)
}

func TestRelease_KAOResourceMismatch(t *testing.T) {
	f := newFixture(t)
	f.store.kaos["kao-1"].ResourceID = "doc-other"

	_, err := f.orch.Release(context.Background(), Request{
		ResourceID:        "doc-7c41",
		KeyAccessObjectID: "kao-1",
		Subject:           clearedSubject(),
	})
	var unwrapErr *UnwrapError
	require.ErrorAs(t, err, &unwrapErr)
}

func TestRelease_MissingLabel(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Release(context.Background(), Request{
		ResourceID:        "doc-missing",
		KeyAccessObjectID: "kao-1",
		Subject:           clearedSubject(),
	})
	require.Error(t, err)
}
