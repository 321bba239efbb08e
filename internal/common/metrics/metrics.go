// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_claimed_total",
			Help: "Total number of notification jobs claimed by reservation",
		},
	)

	JobOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_outcome_total",
			Help: "Notification job outcomes by result (delivered, retryable, terminal)",
		},
		[]string{"outcome"},
	)

	JobsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_reclaimed_total",
			Help: "Jobs released from an expired processing lease",
		},
	)

	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_gateway_requests_total",
			Help: "Push gateway batch requests by result",
		},
		[]string{"result"},
	)

	GatewayTickets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_gateway_tickets_total",
			Help: "Per-device push tickets by status",
		},
		[]string{"status"},
	)

	InvocationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_invocation_duration_seconds",
			Help:    "Duration of a dispatch invocation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeviceCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_device_cache_lookups_total",
			Help: "Device cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)
)
