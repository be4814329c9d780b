package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	postingMetricsMu          sync.Mutex
	postingMetricsInitialized bool

	entriesPostedCounter *prometheus.CounterVec
	entryFailuresCounter *prometheus.CounterVec
	postingDuration      *prometheus.HistogramVec
	postingMetricsError  error
)

// SetupPostingMetrics registers the Prometheus collectors observing the entry
// write paths. The registration is performed once and subsequent calls are
// ignored. Without setup the recorders are no-ops.
func SetupPostingMetrics(reg prometheus.Registerer) error {
	postingMetricsMu.Lock()
	defer postingMetricsMu.Unlock()
	if postingMetricsInitialized {
		return postingMetricsError
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	entriesPostedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_ledger_entries_posted_total",
		Help: "Number of journal entries that reached posted, per entry type.",
	}, []string{"entry_type"})
	entryFailuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_ledger_entry_failures_total",
		Help: "Number of rejected or failed ledger writes, per operation and reason.",
	}, []string{"op", "reason"})
	postingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_ledger_posting_duration_seconds",
		Help:    "Duration of ledger write operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	for _, collector := range []prometheus.Collector{entriesPostedCounter, entryFailuresCounter, postingDuration} {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				switch c := already.ExistingCollector.(type) {
				case *prometheus.CounterVec:
					if collector == entriesPostedCounter {
						entriesPostedCounter = c
					} else {
						entryFailuresCounter = c
					}
				case *prometheus.HistogramVec:
					postingDuration = c
				default:
					postingMetricsError = fmt.Errorf("ledger posting metrics: unexpected collector type %T", c)
				}
				continue
			}
			postingMetricsError = err
			entriesPostedCounter = nil
			entryFailuresCounter = nil
			postingDuration = nil
			postingMetricsInitialized = true
			return postingMetricsError
		}
	}

	postingMetricsInitialized = true
	return postingMetricsError
}

// RecordEntryPosted counts one entry reaching posted. The subsidiary adapters
// call it after their transaction commits, so replayed duplicates and rolled
// back postings never inflate the counter.
func RecordEntryPosted(entryType EntryType) {
	if entriesPostedCounter == nil {
		return
	}
	entriesPostedCounter.WithLabelValues(string(entryType)).Inc()
}

func recordEntryFailure(op string, err error) {
	if entryFailuresCounter == nil || err == nil {
		return
	}
	entryFailuresCounter.WithLabelValues(op, failureReason(err)).Inc()
}

func observePostingDuration(op string, elapsed time.Duration) {
	if postingDuration == nil {
		return
	}
	postingDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func failureReason(err error) string {
	var unbalanced *UnbalancedError
	switch {
	case errors.As(err, &unbalanced):
		return "unbalanced"
	case errors.Is(err, ErrInvalidEntry), errors.Is(err, ErrMissingReason):
		return "invalid"
	case errors.Is(err, ErrNoOpenPeriod):
		return "no_open_period"
	case errors.Is(err, ErrPeriodClosed):
		return "period_closed"
	case errors.Is(err, ErrEntryNotFound):
		return "not_found"
	case errors.Is(err, ErrSourceAlreadyPosted):
		return "duplicate_source"
	case errors.Is(err, ErrAlreadyPosted),
		errors.Is(err, ErrCannotPostCancelled),
		errors.Is(err, ErrNotPosted),
		errors.Is(err, ErrAlreadyReversed),
		errors.Is(err, ErrReversalNotReversible),
		errors.Is(err, ErrStatusConflict):
		return "status_conflict"
	default:
		return "infrastructure"
	}
}
