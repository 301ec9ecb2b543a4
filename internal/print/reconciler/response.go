package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"printflow/internal/certificate/store"
	"printflow/internal/platform/kafka"
	"printflow/internal/platform/metrics"
	"printflow/internal/print/messages"
	"printflow/pkg/platform/sentinel"
)

// ResponseReconciler advances one print request's history per provider
// update. Updates referencing unknown request ids or carrying unmappable
// status pairs are dropped after logging: redelivering them cannot help, and
// holding the partition hostage to one bad record would stall every
// certificate behind it.
type ResponseReconciler struct {
	store   store.Store
	txr     TxRunner
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type ResponseOption func(*ResponseReconciler)

func WithResponseMetrics(m *metrics.Metrics) ResponseOption {
	return func(r *ResponseReconciler) { r.metrics = m }
}

func NewResponseReconciler(certStore store.Store, txr TxRunner, logger *slog.Logger,
	opts ...ResponseOption) (*ResponseReconciler, error) {
	if certStore == nil || txr == nil {
		return nil, fmt.Errorf("response reconciler: all dependencies are required")
	}
	r := &ResponseReconciler{
		store:  certStore,
		txr:    txr,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Handle consumes one ProcessPrintResponse message.
func (r *ResponseReconciler) Handle(ctx context.Context, msg *kafka.Message) error {
	var payload messages.ProcessPrintResponse
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		r.logger.Error("malformed print response dropped", "error", err)
		return nil
	}

	mapped, err := mapProviderStatus(payload.StatusStep, payload.Status)
	if err != nil {
		r.logger.Error("print response with unmappable status dropped",
			"request_id", payload.RequestID, "error", err)
		r.metrics.IncResponseSkip("unmappable_status")
		return nil
	}

	eventTime := payload.Timestamp
	if eventTime.IsZero() {
		eventTime = r.now().UTC()
	}

	err = r.txr.InTx(ctx, func(ctx context.Context) error {
		cert, err := r.store.FindByRequestID(ctx, payload.RequestID)
		if err != nil {
			return fmt.Errorf("find request %s: %w", payload.RequestID, err)
		}
		if err := cert.AddPrintRequestEvent(payload.RequestID, mapped, eventTime, payload.Message); err != nil {
			return fmt.Errorf("apply update to request %s: %w", payload.RequestID, err)
		}
		if err := r.store.Save(ctx, cert); err != nil {
			return fmt.Errorf("save certificate %s: %w", cert.ID, err)
		}
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrNotFound):
		// Requeued requests get a fresh id, so updates against the old id
		// arrive here. Expected, low severity.
		r.logger.Info("print response matched no request", "request_id", payload.RequestID)
		r.metrics.IncResponseSkip("unknown_request")
		return nil
	default:
		// Conflicts and store failures redeliver.
		return err
	}

	r.metrics.IncPrintResponse(string(mapped))
	r.logger.Info("print response applied",
		"request_id", payload.RequestID, "status", mapped)
	return nil
}
