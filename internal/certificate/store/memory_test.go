package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printflow/internal/certificate/models"
	"printflow/pkg/platform/sentinel"
)

var created = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func seedCertificate(t *testing.T, s *MemoryStore, n int) *models.Certificate {
	t.Helper()
	cert := models.NewCertificate(
		fmt.Sprintf("cert-%02d", n),
		fmt.Sprintf("0AC97HDK4C2LRFMKJ2J%d", n%10),
		models.SourceVoterCard, "src", "app", "Sheffield City Council", "E08000019",
		created.Add(time.Duration(n)*time.Minute),
	)
	cert.AddPrintRequest(models.NewPrintRequest(
		fmt.Sprintf("req-%02d", n), models.Applicant{FullName: "Enid Blyton"}, "photo.png",
		created.Add(time.Duration(n)*time.Minute),
	))
	require.NoError(t, s.Save(context.Background(), cert))
	return cert
}

func TestMemoryStore_SaveAndGet(t *testing.T) {
	s := NewMemoryStore()
	cert := seedCertificate(t, s, 1)
	assert.Equal(t, int64(1), cert.Version, "first save bumps version")

	loaded, err := s.Get(context.Background(), cert.ID)
	require.NoError(t, err)
	assert.Equal(t, cert.ID, loaded.ID)
	assert.Equal(t, models.StatusPendingAssignmentToBatch, loaded.Status)
	require.Len(t, loaded.PrintRequests, 1)

	// Mutating the loaded copy must not leak into the store.
	loaded.PrintRequests[0].BatchID = "tampered"
	again, err := s.Get(context.Background(), cert.ID)
	require.NoError(t, err)
	assert.Empty(t, again.PrintRequests[0].BatchID)
}

func TestMemoryStore_Get_NotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStore_Save_VersionConflict(t *testing.T) {
	s := NewMemoryStore()
	cert := seedCertificate(t, s, 1)

	first, err := s.Get(context.Background(), cert.ID)
	require.NoError(t, err)
	second, err := s.Get(context.Background(), cert.ID)
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), first))
	err = s.Save(context.Background(), second)
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestMemoryStore_FindByStatus(t *testing.T) {
	s := NewMemoryStore()
	a := seedCertificate(t, s, 2)
	b := seedCertificate(t, s, 1)

	pending, err := s.FindByStatus(context.Background(), models.StatusPendingAssignmentToBatch)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, b.ID, pending[0].ID, "ordered by creation time")
	assert.Equal(t, a.ID, pending[1].ID)

	none, err := s.FindByStatus(context.Background(), models.StatusDispatched)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_FindByStatusAndBatchID(t *testing.T) {
	s := NewMemoryStore()
	cert := seedCertificate(t, s, 1)
	other := seedCertificate(t, s, 2)

	require.NoError(t, cert.AssignToBatch(cert.PrintRequests[0], "batch-1"))
	require.NoError(t, s.Save(context.Background(), cert))

	found, err := s.FindByStatusAndBatchID(context.Background(), models.StatusAssignedToBatch, "batch-1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, cert.ID, found[0].ID)

	// The unassigned certificate has an empty batch id; an empty filter must
	// not match it.
	found, err = s.FindByStatusAndBatchID(context.Background(), models.StatusPendingAssignmentToBatch, "")
	require.NoError(t, err)
	assert.Empty(t, found)
	_ = other
}

func TestMemoryStore_FindByRequestID(t *testing.T) {
	s := NewMemoryStore()
	cert := seedCertificate(t, s, 1)

	found, err := s.FindByRequestID(context.Background(), cert.PrintRequests[0].RequestID)
	require.NoError(t, err)
	assert.Equal(t, cert.ID, found.ID)

	_, err = s.FindByRequestID(context.Background(), "unknown")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
