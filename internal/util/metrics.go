package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LockAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lock_acquisitions_total",
		Help: "Total number of distributed lock acquisition attempts by result",
	}, []string{"result"})

	LockWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lock_wait_duration_seconds",
		Help:    "Time spent waiting for distributed lock acquisition",
		Buckets: prometheus.DefBuckets,
	})

	LockExtensionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lock_extension_failures_total",
		Help: "Total number of failed or rejected lease extensions",
	})

	StockOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_operations_total",
		Help: "Total number of stock operations by operation and outcome",
	}, []string{"operation", "outcome"})

	StockOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stock_operation_latency_seconds",
		Help:    "Latency of stock operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	SweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservation_sweep_runs_total",
		Help: "Total number of expired reservation sweep runs",
	})

	SweepOrdersExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservation_sweep_orders_expired_total",
		Help: "Total number of expired orders cancelled by the sweep",
	})

	SweepOrderFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservation_sweep_order_failures_total",
		Help: "Total number of expired orders the sweep failed to process",
	})

	CacheInvalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_invalidations_total",
		Help: "Total number of cache invalidations by origin",
	}, []string{"origin"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
