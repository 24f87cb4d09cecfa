package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// time from contender creation to holding the lock - histogram to track p50/p90/p99
	// includes time spent queued behind predecessors
	// labels: root (to see which locks are contended)
	AcquireDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zkmutex_acquire_duration_seconds",
			Help:    "time taken to acquire a lock, including queueing",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~262s
		},
		[]string{"root"},
	)

	// acquisition outcomes
	// labels: root, status (success/failure/canceled)
	AcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkmutex_acquire_total",
			Help: "total number of lock acquisitions by outcome",
		},
		[]string{"root", "status"},
	)

	// release outcomes
	// already_gone counts releases whose node was removed with an expired session
	// labels: root, status (deleted/already_gone/failure)
	ReleaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkmutex_release_total",
			Help: "total number of lock releases by outcome",
		},
		[]string{"root", "status"},
	)

	// predecessor waits - one per armed watch
	// a high ratio to acquisitions means the lock is contended
	WaitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkmutex_wait_total",
			Help: "total number of waits on a predecessor contender",
		},
		[]string{"root"},
	)

	// locks held by this process
	LocksHeld = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zkmutex_locks_held",
			Help: "current number of locks held by this process",
		},
		[]string{"root"},
	)

	// root bootstrap outcomes
	// labels: outcome (created/exists/raced)
	BootstrapTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkmutex_root_bootstrap_total",
			Help: "total number of lock root checks by outcome",
		},
		[]string{"outcome"},
	)

	// session state transitions seen by the dispatcher
	// spikes in disconnected/expired point at network or ensemble trouble
	SessionEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkmutex_session_events_total",
			Help: "total number of session state events",
		},
		[]string{"state"},
	)
)
