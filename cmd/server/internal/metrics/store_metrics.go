package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LockDecisionsTotal 编辑锁请求结果计数器
	// Labels: status (EDIT_MODE/CANNOT_EDIT_OTHER_EDITING/CANNOT_EDIT_NO_PERMISSION)
	LockDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eln_store_lock_decisions_total",
			Help: "Total number of edit-lock decisions by resulting status",
		},
		[]string{"status"},
	)

	// AutosaveWritesTotal 字段自动保存计数器
	// Labels: result (success/invalid/lock_not_held/error)
	AutosaveWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eln_store_autosave_writes_total",
			Help: "Total number of field autosave writes by result",
		},
		[]string{"result"},
	)

	// SavesTotal 文档保存计数器
	// Labels: changed (true/false), unlock (true/false)
	SavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eln_store_saves_total",
			Help: "Total number of document saves",
		},
		[]string{"changed", "unlock"},
	)

	// ExpiredLocksReleased 过期锁清理计数器
	ExpiredLocksReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eln_store_expired_locks_released_total",
			Help: "Total number of edit locks released after expiry",
		},
	)

	// OperationDuration 存储操作耗时直方图（秒）
	// Labels: operation (lock/fetch/autosave/save/unlock)
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eln_store_operation_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"operation"},
	)
)

// RecordLockDecision 记录编辑锁结果
func RecordLockDecision(status string) {
	LockDecisionsTotal.WithLabelValues(status).Inc()
}

// RecordAutosave 记录字段自动保存结果
func RecordAutosave(result string) {
	AutosaveWritesTotal.WithLabelValues(result).Inc()
}

// RecordSave 记录文档保存
func RecordSave(changed, unlock bool) {
	SavesTotal.WithLabelValues(boolLabel(changed), boolLabel(unlock)).Inc()
}

// RecordExpiredLocks 记录清理的过期锁数量
func RecordExpiredLocks(n int64) {
	ExpiredLocksReleased.Add(float64(n))
}

// ObserveOperation 记录操作耗时，用法: defer metrics.ObserveOperation("save", time.Now())
func ObserveOperation(operation string, start time.Time) {
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
