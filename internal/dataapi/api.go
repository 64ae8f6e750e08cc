// Package dataapi implements the gRPC data plane of featuregate. It publishes
// the health of every integration and rollout through the standard
// grpc.health.v1 protocol, so load balancers and sidecars can watch a feature
// without speaking the admin REST API.
package dataapi

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/srab2001/featuregate/internal/integration"
	"github.com/srab2001/featuregate/internal/rollout"
	"github.com/srab2001/featuregate/internal/validation"
)

// Service name prefixes. An integration named "pdf" is published as
// "integration.pdf"; the rollout of flag "export_pdf" as "rollout.export_pdf".
const (
	IntegrationServicePrefix = "integration."
	RolloutServicePrefix     = "rollout."
)

// DefaultRefreshInterval is used when NewAPI gets a non-positive interval.
const DefaultRefreshInterval = 15 * time.Second

// Integrations is the read side of the integration registry.
type Integrations interface {
	All() []*integration.Integration
}

// Rollouts is the read side of the rollout engine.
type Rollouts interface {
	Plans() []rollout.Plan
}

// API serves grpc.health.v1 for featuregate's integrations and rollouts.
type API struct {
	logger       *slog.Logger
	health       *health.Server
	integrations Integrations
	rollouts     Rollouts
	interval     time.Duration

	mu       sync.Mutex
	services map[string]healthpb.HealthCheckResponse_ServingStatus
}

// NewAPI creates a new Data Plane gRPC API instance. Until the first Refresh
// only the overall service ("") is known, and it reports SERVING.
func NewAPI(logger *slog.Logger, integrations Integrations, rollouts Rollouts, interval time.Duration) *API {
	validation.AssertNotNilInterface(integrations, "integrations")
	validation.AssertNotNilInterface(rollouts, "rollouts")
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	return &API{
		logger:       logger,
		health:       health.NewServer(),
		integrations: integrations,
		rollouts:     rollouts,
		interval:     interval,
		services:     make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
}

// Register connects this implementation to the grpc.Server engine.
func (a *API) Register(grpcServer *grpc.Server) {
	healthpb.RegisterHealthServer(grpcServer, a.health)
}

// Refresh recomputes the status of every integration and rollout and publishes
// the changes. Services that disappeared are reported as SERVICE_UNKNOWN.
func (a *API) Refresh(ctx context.Context) {
	next := make(map[string]healthpb.HealthCheckResponse_ServingStatus)

	for _, it := range a.integrations.All() {
		if ctx.Err() != nil {
			return
		}
		res := it.HealthCheck(ctx)
		next[IntegrationServicePrefix+it.Name()] = servingStatus(res.Healthy)
	}
	for _, p := range a.rollouts.Plans() {
		next[RolloutServicePrefix+p.Flag] = planStatus(p)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for name, st := range next {
		if prev, ok := a.services[name]; ok && prev == st {
			continue
		}
		a.health.SetServingStatus(name, st)
		a.logger.Debug("health status published",
			slog.String("service", name),
			slog.String("status", st.String()),
		)
	}
	for name := range a.services {
		if _, ok := next[name]; !ok {
			a.health.SetServingStatus(name, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
		}
	}
	a.services = next
}

// Run refreshes immediately and then every interval until ctx is done.
func (a *API) Run(ctx context.Context) {
	a.Refresh(ctx)

	t := time.NewTicker(a.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.Refresh(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING for every service and ignores later updates.
func (a *API) Shutdown() {
	a.health.Shutdown()
}

func servingStatus(healthy bool) healthpb.HealthCheckResponse_ServingStatus {
	if healthy {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// planStatus: a running or completed plan serves as long as its latest health
// check passed. Paused, rolled back and failed plans never serve.
func planStatus(p rollout.Plan) healthpb.HealthCheckResponse_ServingStatus {
	switch p.Status {
	case rollout.StatusInProgress, rollout.StatusCompleted:
		if n := len(p.HealthHistory); n > 0 {
			return servingStatus(p.HealthHistory[n-1].Healthy)
		}
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}
