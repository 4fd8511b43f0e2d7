package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albeach/DIVE-V3-sub010/internal/storage"
	"github.com/albeach/DIVE-V3-sub010/pkg/clearance"
	"github.com/albeach/DIVE-V3-sub010/pkg/label"
	"github.com/albeach/DIVE-V3-sub010/pkg/release"
	"github.com/albeach/DIVE-V3-sub010/pkg/security"
)

func testLabel(resourceID string) *label.SecurityLabel {
	return &label.SecurityLabel{
		ResourceID:     resourceID,
		Classification: clearance.Secret,
		ReleasableTo:   []string{"USA", "GBR"},
		OriginCountry:  "USA",
		CreatedAt:      time.Now().UTC(),
	}
}

func TestLabelStore(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	l := testLabel("doc-1")
	require.NoError(t, s.PutSecurityLabel(ctx, l))

	got, err := s.SecurityLabel(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, l.ResourceID, got.ResourceID)
	assert.Equal(t, l.Classification, got.Classification)

	// Mutating the returned label must not touch the stored copy
	got.ReleasableTo[0] = "ZZZ"
	again, err := s.SecurityLabel(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "USA", again.ReleasableTo[0])

	_, err = s.SecurityLabel(ctx, "doc-2")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.NoError(t, s.DeleteSecurityLabel(ctx, "doc-1"))
	err = s.DeleteSecurityLabel(ctx, "doc-1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestLabelStore_RejectsInvalid(t *testing.T) {
	s := NewStore()
	err := s.PutSecurityLabel(context.Background(), &label.SecurityLabel{})
	require.Error(t, err)
}

func TestKeyAccessStore(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for _, id := range []string{"kao-b", "kao-a"} {
		require.NoError(t, s.PutKeyAccessObject(ctx, &release.KeyAccessObject{
			ID:         id,
			ResourceID: "doc-1",
			WrappedKey: &security.WrappedKey{Algorithm: security.AlgorithmAES256KW, KEKID: "kek-1"},
			CreatedAt:  time.Now().UTC(),
		}))
	}

	kao, err := s.KeyAccessObject(ctx, "kao-a")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", kao.ResourceID)

	_, err = s.KeyAccessObject(ctx, "kao-z")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	kaos, err := s.KeyAccessObjectsForResource(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, kaos, 2)
	assert.Equal(t, "kao-a", kaos[0].ID)
	assert.Equal(t, "kao-b", kaos[1].ID)
}

func TestAuditStore(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now().UTC()

	for i, age := range []time.Duration{3 * time.Hour, 2 * time.Hour, time.Hour} {
		require.NoError(t, s.AppendAuditRecord(ctx, &storage.AuditRecord{
			ID:         string(rune('a' + i)),
			Timestamp:  now.Add(-age),
			SubjectID:  "user-1",
			ResourceID: "doc-1",
			Operation:  "read",
			Effect:     "DENY",
		}))
	}

	records, err := s.AuditRecordsForResource(ctx, "doc-1", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, "b", records[1].ID)

	removed, err := s.PurgeAuditRecordsBefore(ctx, now.Add(-90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	records, err = s.AuditRecordsForResource(ctx, "doc-1", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "c", records[0].ID)
}
