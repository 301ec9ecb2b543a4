package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the print-fulfilment pipeline. All
// methods are nil-safe so tests can run components without metrics wired.
type Metrics struct {
	// BatchesAssigned counts scheduler cycles that produced a batch.
	BatchesAssigned prometheus.Counter

	// BatchSize observes how many print requests each batch carried.
	BatchSize prometheus.Histogram

	// DispatchOutcome counts batch dispatch attempts by result.
	DispatchOutcome *prometheus.CounterVec

	// DispatchDuration observes end-to-end bundle build and transfer time.
	DispatchDuration prometheus.Histogram

	// BatchResponses counts provider batch acknowledgements by status.
	BatchResponses *prometheus.CounterVec

	// PrintResponses counts per-request provider updates by mapped status.
	PrintResponses *prometheus.CounterVec

	// ResponseSkips counts dropped provider updates by reason
	// (unknown_request, unmappable_status, stale_batch).
	ResponseSkips *prometheus.CounterVec
}

// New creates a new Metrics instance with all pipeline metrics registered.
func New() *Metrics {
	return &Metrics{
		BatchesAssigned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "printflow_batches_assigned_total",
			Help: "Total batches created by the assignment scheduler",
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "printflow_batch_size",
			Help:    "Print requests per assigned batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		DispatchOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "printflow_batch_dispatch_total",
			Help: "Batch dispatch attempts by outcome",
		}, []string{"outcome"}), // outcome: "sent", "missing", "count_mismatch", "error"
		DispatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "printflow_batch_dispatch_duration_seconds",
			Help:    "Duration of bundle build and SFTP transfer per batch",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		BatchResponses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "printflow_batch_responses_total",
			Help: "Provider batch acknowledgements by status",
		}, []string{"status"}),
		PrintResponses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "printflow_print_responses_total",
			Help: "Per-request provider updates by mapped internal status",
		}, []string{"status"}),
		ResponseSkips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "printflow_response_skips_total",
			Help: "Provider updates dropped without state change, by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) IncBatchesAssigned(size int) {
	if m != nil {
		m.BatchesAssigned.Inc()
		m.BatchSize.Observe(float64(size))
	}
}

func (m *Metrics) IncDispatchOutcome(outcome string) {
	if m != nil {
		m.DispatchOutcome.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveDispatchDuration(d time.Duration) {
	if m != nil {
		m.DispatchDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncBatchResponse(status string) {
	if m != nil {
		m.BatchResponses.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncPrintResponse(status string) {
	if m != nil {
		m.PrintResponses.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncResponseSkip(reason string) {
	if m != nil {
		m.ResponseSkips.WithLabelValues(reason).Inc()
	}
}
