package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NOTE: All metrics live in the default registry so every component can record
// without threading a registry through constructors. Label cardinality is bounded
// by the number of configured flags and registered integrations.

// namespace defines the global prefix for all metrics (e.g., featuregate_...).
const namespace = "featuregate"

var (
	// -------------------------------------------------------------------------
	// FLAG EVALUATOR
	// -------------------------------------------------------------------------

	// FlagEvaluations counts isEnabled decisions by flag, reason and result.
	// Metric: featuregate_flags_evaluations_total
	FlagEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "flags",
		Name:      "evaluations_total",
		Help:      "Total flag evaluations by decision path",
	}, []string{"flag", "reason", "result"})

	// FlagMutations counts admin/rollout writes to the flag table.
	FlagMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "flags",
		Name:      "mutations_total",
		Help:      "Total flag mutations by operation",
	}, []string{"flag", "operation"})

	// FlagRolloutPercent mirrors the current rolloutPercent of every flag.
	FlagRolloutPercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "flags",
		Name:      "rollout_percent",
		Help:      "Current rollout percentage per flag",
	}, []string{"flag"})

	// -------------------------------------------------------------------------
	// INTEGRATIONS
	// -------------------------------------------------------------------------

	// IntegrationConnectAttempts counts connect attempts by outcome (success, failure, aborted).
	IntegrationConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "integration",
		Name:      "connect_attempts_total",
		Help:      "Total integration connect attempts by outcome",
	}, []string{"integration", "outcome"})

	// IntegrationStatus is 1 for the integration's current stored status and 0 for the others.
	IntegrationStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "integration",
		Name:      "status",
		Help:      "Current integration status (1 = active state)",
	}, []string{"integration", "status"})

	// IntegrationOperations counts execute() calls by outcome.
	IntegrationOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "integration",
		Name:      "operations_total",
		Help:      "Total integration operations by outcome",
	}, []string{"integration", "outcome"})

	// IntegrationOperationDuration measures execute() latency.
	IntegrationOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "integration",
		Name:      "operation_duration_seconds",
		Help:      "Time taken by integration operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"integration"})

	// -------------------------------------------------------------------------
	// ROLLOUT ENGINE
	// -------------------------------------------------------------------------

	// RolloutHealthChecks counts health checks by flag and result (healthy, unhealthy).
	RolloutHealthChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rollout",
		Name:      "health_checks_total",
		Help:      "Total rollout health checks by result",
	}, []string{"flag", "result"})

	// RolloutTransitions counts plan status transitions.
	RolloutTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rollout",
		Name:      "transitions_total",
		Help:      "Total rollout plan transitions by target status",
	}, []string{"flag", "status"})

	// RolloutActivePlans tracks plans that hold a running health-check timer.
	RolloutActivePlans = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rollout",
		Name:      "active_timers",
		Help:      "Number of rollout plans with a running health-check timer",
	})

	// RolloutErrorRate is the last error rate observed per flag.
	RolloutErrorRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rollout",
		Name:      "error_rate",
		Help:      "Last observed error rate per flag",
	}, []string{"flag"})

	// -------------------------------------------------------------------------
	// STORAGE
	// -------------------------------------------------------------------------

	// StorageErrors counts failed key-value operations. Reads fall back to defaults.
	StorageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "errors_total",
		Help:      "Total key-value store errors by operation",
	}, []string{"operation"})

	// StorageL1Hits counts L1 cache hits in the layered store.
	StorageL1Hits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "l1_hits_total",
		Help:      "Total L1 (in-memory) cache hits",
	})

	// StorageL1Misses counts L1 cache misses in the layered store.
	StorageL1Misses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "l1_misses_total",
		Help:      "Total L1 (in-memory) cache misses",
	})

	// AuditReadErrors counts failed audit reads (error rate defaults to 0).
	AuditReadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "read_errors_total",
		Help:      "Total audit source read failures",
	})

	// -------------------------------------------------------------------------
	// CONTROL PLANE (HTTP) / DATA PLANE (gRPC)
	// -------------------------------------------------------------------------

	// ControlPlaneReqDuration measures the latency of admin HTTP requests.
	ControlPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in Control Plane",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// ControlPlaneReqTotal counts admin HTTP requests.
	ControlPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in Control Plane",
	}, []string{"method", "route", "code"})

	// DataPlaneGrpcTotal counts gRPC requests served by the health server.
	DataPlaneGrpcTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "grpc_requests_total",
		Help:      "Total gRPC requests",
	}, []string{"method", "code"})
)
