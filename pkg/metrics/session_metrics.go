// Package metrics provides Prometheus metrics for edit sessions.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Edit session metrics
var (
	// autosaveTriggersTotal records what happened to each autosave trigger.
	// Labels:
	//   - trigger: "periodic" or "save"
	//   - result: "started", "coalesced", "skipped", "joined", "noop"
	autosaveTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editsession_autosave_triggers_total",
			Help: "Total number of autosave triggers by outcome",
		},
		[]string{"trigger", "result"},
	)

	// fieldWritesTotal records per-field autosave requests.
	// Labels:
	//   - status: "success", "invalid", "failed"
	fieldWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editsession_field_writes_total",
			Help: "Total number of per-field autosave requests",
		},
		[]string{"status"},
	)

	// fieldWriteDuration records the latency of per-field autosave requests.
	// Buckets: 50ms .. 60s (the maximum request timeout)
	fieldWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "editsession_field_write_duration_seconds",
			Help:    "Duration of per-field autosave requests in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60},
		},
	)

	// lockRequestsTotal records edit-lock request results.
	// Labels:
	//   - result: "granted", "preloaded", "other_editor", "no_permission", "error"
	lockRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editsession_lock_requests_total",
			Help: "Total number of edit-lock requests by result",
		},
		[]string{"result"},
	)

	// savesTotal records save transaction outcomes.
	// Labels:
	//   - outcome: "saved_no_change", "saved_with_change", "failed", "rejected"
	savesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editsession_saves_total",
			Help: "Total number of save transactions by outcome",
		},
		[]string{"outcome"},
	)

	// consecutiveFailures tracks the current autosave failure streak per document.
	consecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "editsession_autosave_consecutive_failures",
			Help: "Current number of consecutive autosave failures per document",
		},
		[]string{"document"},
	)
)

func init() {
	prometheus.MustRegister(autosaveTriggersTotal)
	prometheus.MustRegister(fieldWritesTotal)
	prometheus.MustRegister(fieldWriteDuration)
	prometheus.MustRegister(lockRequestsTotal)
	prometheus.MustRegister(savesTotal)
	prometheus.MustRegister(consecutiveFailures)
}

// RecordAutosaveTrigger records the outcome of one autosave call.
// Parameters:
//   - partOfSave: whether the call belongs to a save transaction
//   - result: "started", "coalesced", "skipped", "joined", "noop"
func RecordAutosaveTrigger(partOfSave bool, result string) {
	trigger := "periodic"
	if partOfSave {
		trigger = "save"
	}
	autosaveTriggersTotal.WithLabelValues(trigger, result).Inc()
}

// RecordFieldWrite records one per-field request and its duration.
func RecordFieldWrite(status string, durationSeconds float64) {
	fieldWritesTotal.WithLabelValues(status).Inc()
	fieldWriteDuration.Observe(durationSeconds)
}

// RecordLockRequest records an edit-lock request result.
func RecordLockRequest(result string) {
	lockRequestsTotal.WithLabelValues(result).Inc()
}

// RecordSave records a save transaction outcome.
func RecordSave(outcome string) {
	savesTotal.WithLabelValues(outcome).Inc()
}

// SetConsecutiveFailures publishes the failure streak of a document.
func SetConsecutiveFailures(documentID string, n int) {
	consecutiveFailures.WithLabelValues(documentID).Set(float64(n))
}
