// Package dispatcher ships assigned batches to the print provider. It
// consumes "process batch" messages, re-queries the batch members, streams a
// manifest+photo zip bundle over SFTP under a temporary name with an atomic
// rename, and then records SENT_TO_PRINT_PROVIDER for every member in one
// transaction.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"printflow/internal/certificate/models"
	"printflow/internal/certificate/store"
	"printflow/internal/platform/kafka"
	"printflow/internal/platform/metrics"
	"printflow/internal/print/messages"
	"printflow/internal/print/photo"
)

// BatchNotFoundError reports a batch that was announced on the queue but has
// no members in ASSIGNED_TO_BATCH. That only happens through out-of-band data
// changes or duplicated, already-handled messages; redelivery cannot fix it.
type BatchNotFoundError struct {
	BatchID string
}

func (e BatchNotFoundError) Error() string {
	return fmt.Sprintf("batch %s has no assigned certificates", e.BatchID)
}

// CountMismatchError reports a race between scheduling and dispatch: the
// announced member count differs from what the query found. Shipping a
// partial batch would desynchronize us from the provider, so the dispatch
// aborts.
type CountMismatchError struct {
	BatchID  string
	Expected int
	Found    int
}

func (e CountMismatchError) Error() string {
	return fmt.Sprintf("batch %s expected %d print requests, found %d", e.BatchID, e.Expected, e.Found)
}

// Transfer uploads one bundle; the production implementation is the SFTP
// client's temp-name-then-rename upload.
type Transfer interface {
	Upload(dir, name string, write func(io.Writer) error) error
}

// TxRunner runs a function inside one database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Dispatcher struct {
	store      store.Store
	txr        TxRunner
	transfer   Transfer
	photos     photo.Source
	logger     *slog.Logger
	metrics    *metrics.Metrics
	inboundDir string
	now        func() time.Time
}

type Option func(*Dispatcher)

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func New(certStore store.Store, txr TxRunner, transfer Transfer, photos photo.Source,
	inboundDir string, logger *slog.Logger, opts ...Option) (*Dispatcher, error) {
	if certStore == nil || txr == nil || transfer == nil || photos == nil {
		return nil, fmt.Errorf("dispatcher: all dependencies are required")
	}
	d := &Dispatcher{
		store:      certStore,
		txr:        txr,
		transfer:   transfer,
		photos:     photos,
		logger:     logger,
		inboundDir: inboundDir,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Handle consumes one ProcessPrintRequestBatch message. Data-inconsistency
// errors are reported and the message committed; anything else redelivers.
func (d *Dispatcher) Handle(ctx context.Context, msg *kafka.Message) error {
	var payload messages.ProcessPrintRequestBatch
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		d.logger.Error("malformed batch message dropped", "error", err)
		return nil
	}

	err := d.Dispatch(ctx, payload.BatchID, payload.PrintRequestCount)
	var (
		notFound BatchNotFoundError
		mismatch CountMismatchError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &notFound):
		d.logger.Error("announced batch no longer exists", "batch_id", payload.BatchID, "error", err)
		d.metrics.IncDispatchOutcome("missing")
		return nil
	case errors.As(err, &mismatch):
		d.logger.Error("batch size changed between scheduling and dispatch",
			"batch_id", payload.BatchID, "error", err)
		d.metrics.IncDispatchOutcome("count_mismatch")
		return nil
	default:
		d.metrics.IncDispatchOutcome("error")
		return err
	}
}

// Dispatch builds and transmits one batch, then marks every member sent.
//
// This is at-least-once: a crash after the SFTP rename but before the status
// commit leaves the batch ASSIGNED_TO_BATCH with the bundle already visible
// to the provider, and the redelivered message ships it again. Whether the
// provider tolerates that duplicate submission is an open operational
// question; no two-phase marker closes the window here.
func (d *Dispatcher) Dispatch(ctx context.Context, batchID string, expectedCount int) error {
	certs, err := d.store.FindByStatusAndBatchID(ctx, models.StatusAssignedToBatch, batchID)
	if err != nil {
		return fmt.Errorf("query batch %s: %w", batchID, err)
	}
	if len(certs) == 0 {
		return BatchNotFoundError{BatchID: batchID}
	}
	if expectedCount > 0 && len(certs) != expectedCount {
		return CountMismatchError{BatchID: batchID, Expected: expectedCount, Found: len(certs)}
	}

	started := d.now()
	name := bundleName(batchID, started.UTC(), len(certs))
	if err := d.transfer.Upload(d.inboundDir, name, func(w io.Writer) error {
		return writeBundle(ctx, w, batchID, started.UTC(), certs, d.photos)
	}); err != nil {
		return fmt.Errorf("transfer bundle %s: %w", name, err)
	}

	err = d.txr.InTx(ctx, func(ctx context.Context) error {
		for _, cert := range certs {
			if err := cert.SendToPrintProviderForBatch(batchID); err != nil {
				return fmt.Errorf("mark certificate %s sent: %w", cert.ID, err)
			}
			if err := d.store.Save(ctx, cert); err != nil {
				return fmt.Errorf("save certificate %s: %w", cert.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.metrics.IncDispatchOutcome("sent")
	d.metrics.ObserveDispatchDuration(d.now().Sub(started))
	d.logger.Info("batch dispatched",
		"batch_id", batchID, "bundle", name, "print_requests", len(certs))
	return nil
}
