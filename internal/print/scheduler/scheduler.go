// Package scheduler assigns pending print requests to batches on a recurring
// cycle. A redis lock keeps the cycle single-flight across horizontally
// scaled instances; the whole selection and assignment runs in one database
// transaction and the "process batch" message is published only after that
// transaction commits, so a crash before publish just re-selects the same
// certificates next cycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"printflow/internal/certificate/models"
	"printflow/internal/certificate/store"
	"printflow/internal/platform/lock"
	"printflow/internal/platform/metrics"
	"printflow/internal/print/messages"
	"printflow/pkg/identifier"
)

// Publisher publishes the "process batch" message after commit.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// TxRunner runs a function inside one database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Scheduler struct {
	store     store.Store
	txr       TxRunner
	publisher Publisher
	locker    lock.Locker
	idgen     *identifier.Generator
	logger    *slog.Logger
	metrics   *metrics.Metrics

	interval time.Duration
	lockKey  string
	lockTTL  time.Duration
}

type Option func(*Scheduler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) { s.interval = interval }
}

func WithLock(key string, ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.lockKey = key
		s.lockTTL = ttl
	}
}

func New(certStore store.Store, txr TxRunner, publisher Publisher, locker lock.Locker,
	idgen *identifier.Generator, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if certStore == nil || txr == nil || publisher == nil || locker == nil || idgen == nil {
		return nil, fmt.Errorf("scheduler: all dependencies are required")
	}
	s := &Scheduler{
		store:     certStore,
		txr:       txr,
		publisher: publisher,
		locker:    locker,
		idgen:     idgen,
		logger:    logger,
		interval:  5 * time.Minute,
		lockKey:   "printflow:lock:batch-assignment",
		lockTTL:   2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run executes one cycle immediately, then on every tick until the context
// is cancelled. Cycle errors are logged, never fatal: the next tick retries.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("batch assignment cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle performs one locked assignment pass. When another instance holds
// the lock the cycle is skipped, not queued.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	held, err := s.locker.Obtain(ctx, s.lockKey, s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			s.logger.Debug("another instance is assigning, skipping cycle")
			return nil
		}
		return fmt.Errorf("obtain assignment lock: %w", err)
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release assignment lock", "error", err)
		}
	}()

	var (
		batchID string
		count   int
	)
	err = s.txr.InTx(ctx, func(ctx context.Context) error {
		pending, err := s.store.FindByStatus(ctx, models.StatusPendingAssignmentToBatch)
		if err != nil {
			return fmt.Errorf("select pending certificates: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}
		// One fresh batch id per cycle; empty batches never get one.
		batchID = s.idgen.Generate().Hex()
		for _, cert := range pending {
			request := cert.ActivePrintRequest()
			if request == nil {
				return fmt.Errorf("certificate %s has no print request", cert.ID)
			}
			if err := cert.AssignToBatch(request, batchID); err != nil {
				return fmt.Errorf("assign certificate %s: %w", cert.ID, err)
			}
			if err := s.store.Save(ctx, cert); err != nil {
				return fmt.Errorf("save certificate %s: %w", cert.ID, err)
			}
			s.logger.Debug("assigned to batch",
				"certificate_id", cert.ID, "request_id", request.RequestID, "batch_id", batchID)
		}
		count = len(pending)
		return nil
	})
	if err != nil {
		return err
	}
	if count == 0 {
		s.logger.Debug("no certificates pending assignment")
		return nil
	}

	// Publish only after the transaction committed. If this fails the batch
	// stays ASSIGNED_TO_BATCH without a message; the broker client retries
	// internally, and a terminal failure here is an operational alert, not
	// something to re-derive.
	if err := s.publisher.Publish(ctx, messages.TopicProcessBatch, batchID, messages.ProcessPrintRequestBatch{
		BatchID:           batchID,
		PrintRequestCount: count,
	}); err != nil {
		return fmt.Errorf("publish batch %s: %w", batchID, err)
	}

	s.metrics.IncBatchesAssigned(count)
	s.logger.Info("batch assigned", "batch_id", batchID, "print_requests", count)
	return nil
}
