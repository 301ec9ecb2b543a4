package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printflow/internal/certificate/models"
	"printflow/internal/certificate/store"
	"printflow/internal/platform/lock"
	"printflow/internal/print/messages"
	"printflow/pkg/identifier"
)

type passthroughTx struct{}

func (passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeLock struct{ released bool }

func (l *fakeLock) Release(ctx context.Context) error {
	l.released = true
	return nil
}

type fakeLocker struct {
	obtained *fakeLock
	err      error
}

func (f *fakeLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.obtained = &fakeLock{}
	return f.obtained, nil
}

type published struct {
	topic   string
	key     string
	payload any
}

type fakePublisher struct {
	published []published
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{topic: topic, key: key, payload: payload})
	return nil
}

func newScheduler(t *testing.T, s store.Store, pub Publisher, locker lock.Locker) *Scheduler {
	t.Helper()
	idgen, err := identifier.NewGenerator()
	require.NoError(t, err)
	sched, err := New(s, passthroughTx{}, pub, locker, idgen, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return sched
}

func seedPending(t *testing.T, s *store.MemoryStore, n int) []*models.Certificate {
	t.Helper()
	createdAt := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	certs := make([]*models.Certificate, 0, n)
	for i := range n {
		cert := models.NewCertificate(
			fmt.Sprintf("cert-%02d", i), fmt.Sprintf("NUM%02d", i),
			models.SourceVoterCard, "src", "app", "Council", "E08000019",
			createdAt.Add(time.Duration(i)*time.Second),
		)
		cert.AddPrintRequest(models.NewPrintRequest(
			fmt.Sprintf("req-%02d", i), models.Applicant{FullName: "Test"}, "p.png",
			createdAt.Add(time.Duration(i)*time.Second),
		))
		require.NoError(t, s.Save(context.Background(), cert))
		certs = append(certs, cert)
	}
	return certs
}

func TestRunCycle_AssignsAllPendingToOneBatch(t *testing.T) {
	memStore := store.NewMemoryStore()
	seedPending(t, memStore, 3)
	pub := &fakePublisher{}
	locker := &fakeLocker{}

	sched := newScheduler(t, memStore, pub, locker)
	require.NoError(t, sched.RunCycle(context.Background()))

	require.Len(t, pub.published, 1, "one message per cycle")
	msg, ok := pub.published[0].payload.(messages.ProcessPrintRequestBatch)
	require.True(t, ok)
	assert.Equal(t, 3, msg.PrintRequestCount)
	assert.Len(t, msg.BatchID, 24, "batch id is a hex identifier")

	assigned, err := memStore.FindByStatusAndBatchID(context.Background(), models.StatusAssignedToBatch, msg.BatchID)
	require.NoError(t, err)
	assert.Len(t, assigned, 3, "every pending certificate joined the batch")

	pending, err := memStore.FindByStatus(context.Background(), models.StatusPendingAssignmentToBatch)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.True(t, locker.obtained.released, "lock released after cycle")
}

func TestRunCycle_EmptySelectionPublishesNothing(t *testing.T) {
	memStore := store.NewMemoryStore()
	pub := &fakePublisher{}
	locker := &fakeLocker{}

	sched := newScheduler(t, memStore, pub, locker)
	require.NoError(t, sched.RunCycle(context.Background()))

	assert.Empty(t, pub.published, "empty batches are not valid provider submissions")
	assert.True(t, locker.obtained.released)
}

func TestRunCycle_SkipsWhenLockHeldElsewhere(t *testing.T) {
	memStore := store.NewMemoryStore()
	seedPending(t, memStore, 1)
	pub := &fakePublisher{}
	locker := &fakeLocker{err: lock.ErrNotObtained}

	sched := newScheduler(t, memStore, pub, locker)
	require.NoError(t, sched.RunCycle(context.Background()))

	assert.Empty(t, pub.published)
	pending, err := memStore.FindByStatus(context.Background(), models.StatusPendingAssignmentToBatch)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "nothing assigned while another instance runs")
}

func TestRunCycle_PublishFailureSurfaces(t *testing.T) {
	memStore := store.NewMemoryStore()
	seedPending(t, memStore, 1)
	pub := &fakePublisher{err: errors.New("broker down")}
	locker := &fakeLocker{}

	sched := newScheduler(t, memStore, pub, locker)
	err := sched.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestRunCycle_FreshBatchIDPerCycle(t *testing.T) {
	memStore := store.NewMemoryStore()
	pub := &fakePublisher{}
	locker := &fakeLocker{}
	sched := newScheduler(t, memStore, pub, locker)

	seedPending(t, memStore, 1)
	require.NoError(t, sched.RunCycle(context.Background()))

	// Requeue the certificate and run again; the second batch id must differ.
	certs, err := memStore.FindByStatus(context.Background(), models.StatusAssignedToBatch)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	cert := certs[0]
	batchID := cert.ActivePrintRequest().BatchID
	require.NoError(t, cert.SendToPrintProviderForBatch(batchID))
	require.NoError(t, cert.RequeueForBatch(batchID, time.Now().UTC(), "rejected", "req-new"))
	require.NoError(t, memStore.Save(context.Background(), cert))

	require.NoError(t, sched.RunCycle(context.Background()))
	require.Len(t, pub.published, 2)
	first := pub.published[0].payload.(messages.ProcessPrintRequestBatch)
	second := pub.published[1].payload.(messages.ProcessPrintRequestBatch)
	assert.NotEqual(t, first.BatchID, second.BatchID)
}
