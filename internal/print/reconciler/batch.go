// Package reconciler applies the provider's responses back onto certificate
// state: batch-level acknowledgements fan out to every member of a batch, and
// per-request updates advance individual print request histories.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"printflow/internal/certificate/models"
	"printflow/internal/certificate/store"
	"printflow/internal/platform/kafka"
	"printflow/internal/platform/metrics"
	"printflow/internal/print/messages"
	"printflow/pkg/identifier"
)

// TxRunner runs a function inside one database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// BatchReconciler fans a provider batch acknowledgement out to every
// certificate that was sent in that batch. SUCCESS marks each one received;
// FAILED requeues each one for the next scheduling cycle under a fresh
// request id, because the provider rejects resubmission of a used id.
type BatchReconciler struct {
	store   store.Store
	txr     TxRunner
	idgen   *identifier.Generator
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type BatchOption func(*BatchReconciler)

func WithBatchMetrics(m *metrics.Metrics) BatchOption {
	return func(r *BatchReconciler) { r.metrics = m }
}

func NewBatchReconciler(certStore store.Store, txr TxRunner, idgen *identifier.Generator,
	logger *slog.Logger, opts ...BatchOption) (*BatchReconciler, error) {
	if certStore == nil || txr == nil || idgen == nil {
		return nil, fmt.Errorf("batch reconciler: all dependencies are required")
	}
	r := &BatchReconciler{
		store:  certStore,
		txr:    txr,
		idgen:  idgen,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Handle consumes one ProcessBatchResponse message. An acknowledgement for a
// batch with no members in SENT_TO_PRINT_PROVIDER is an expected miss, not a
// failure: the ack may be a duplicate, or the batch may already have moved on
// through per-request updates. Those commit; store errors redeliver.
func (r *BatchReconciler) Handle(ctx context.Context, msg *kafka.Message) error {
	var payload messages.ProcessBatchResponse
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		r.logger.Error("malformed batch response dropped", "error", err)
		return nil
	}
	if payload.Status != messages.BatchResponseSuccess && payload.Status != messages.BatchResponseFailed {
		r.logger.Error("batch response with unknown status dropped",
			"batch_id", payload.BatchID, "status", payload.Status)
		return nil
	}

	eventTime := payload.Timestamp
	if eventTime.IsZero() {
		eventTime = r.now().UTC()
	}

	certs, err := r.store.FindByStatusAndBatchID(ctx, models.StatusSentToPrintProvider, payload.BatchID)
	if err != nil {
		return fmt.Errorf("query batch %s: %w", payload.BatchID, err)
	}
	if len(certs) == 0 {
		r.logger.Info("batch response matched no sent certificates",
			"batch_id", payload.BatchID, "status", payload.Status)
		r.metrics.IncResponseSkip("stale_batch")
		return nil
	}

	// The provider has no concept of partial success within one ack, so the
	// whole fan-out commits or rolls back as one transaction. A version
	// conflict on any member redelivers the message; members already
	// processed by then fall out of the re-query as an expected miss.
	err = r.txr.InTx(ctx, func(ctx context.Context) error {
		for _, cert := range certs {
			if err := r.apply(ctx, cert, payload, eventTime); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.metrics.IncBatchResponse(string(payload.Status))
	r.logger.Info("batch response applied",
		"batch_id", payload.BatchID, "status", payload.Status, "certificates", len(certs))
	return nil
}

func (r *BatchReconciler) apply(ctx context.Context, cert *models.Certificate,
	payload messages.ProcessBatchResponse, eventTime time.Time) error {
	if payload.Status == messages.BatchResponseSuccess {
		if err := cert.ReceivedByPrintProviderForBatch(payload.BatchID, eventTime, payload.Message); err != nil {
			return fmt.Errorf("mark certificate %s received: %w", cert.ID, err)
		}
	} else {
		newRequestID := r.idgen.Generate().Hex()
		if err := cert.RequeueForBatch(payload.BatchID, eventTime, payload.Message, newRequestID); err != nil {
			return fmt.Errorf("requeue certificate %s: %w", cert.ID, err)
		}
		r.logger.Info("print request requeued after batch rejection",
			"certificate_id", cert.ID, "batch_id", payload.BatchID, "new_request_id", newRequestID)
	}
	if err := r.store.Save(ctx, cert); err != nil {
		return fmt.Errorf("save certificate %s: %w", cert.ID, err)
	}
	return nil
}
