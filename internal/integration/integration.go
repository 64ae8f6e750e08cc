package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/srab2001/featuregate/internal/kvstore"
	"github.com/srab2001/featuregate/internal/observability"
	"github.com/srab2001/featuregate/internal/validation"
)

// Connector is the one method every integration must implement.
type Connector interface {
	Connect(ctx context.Context) error
}

// Disconnector is implemented by connectors that hold remote resources.
type Disconnector interface {
	Disconnect(ctx context.Context) error
}

// HealthProber is implemented by connectors that can verify a live connection.
type HealthProber interface {
	HealthCheck(ctx context.Context) error
}

// MockInitializer is implemented by connectors that support a dry-run setup
// used by rollout pre-flight validation.
type MockInitializer interface {
	InitMock(ctx context.Context) error
}

// Gate answers whether a flag is on. *flags.Evaluator satisfies it.
type Gate interface {
	IsEnabled(flag string) bool
}

// MaxRetryDelay bounds the wait between two connect attempts.
const MaxRetryDelay = 5 * time.Minute

// Options tunes the retry policy and persistence of an Integration.
type Options struct {
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries int
	// BaseDelay is the wait before the first retry; each further retry doubles it.
	BaseDelay time.Duration
	// Store persists the synced-entity map. Nil keeps it in memory.
	Store kvstore.Store
}

// DefaultOptions returns the defaults: 3 retries starting at 1s.
func DefaultOptions() Options {
	return Options{MaxRetries: 3, BaseDelay: time.Second}
}

// Metadata is the activity bookkeeping of an Integration.
type Metadata struct {
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	OperationCount int64      `json:"operation_count"`
}

// Info is a point-in-time snapshot of an Integration.
type Info struct {
	Name       string   `json:"name"`
	Flag       string   `json:"flag"`
	Status     Status   `json:"status"`
	RetryCount int      `json:"retry_count"`
	Metadata   Metadata `json:"metadata"`
}

// HealthResult is the outcome of HealthCheck.
type HealthResult struct {
	Healthy bool   `json:"healthy"`
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Integration is one named, flag-gated connector and its lifecycle state.
type Integration struct {
	name   string
	flag   string
	conn   Connector
	gate   Gate
	logger *slog.Logger
	opts   Options

	mu               sync.Mutex
	status           Status
	retryCount       int
	meta             Metadata
	rateLimitedUntil time.Time
	// generation is bumped whenever an in-flight Connect must give up.
	generation    uint64
	cancelConnect context.CancelFunc

	listenersMu  sync.RWMutex
	listeners    []subscription
	nextListener uint64

	entitiesMu sync.Mutex
	entities   map[string]string
}

// New creates an Integration in the DISCONNECTED state.
// If logger is nil, it defaults to slog.Default().
func New(name, flag string, conn Connector, gate Gate, logger *slog.Logger, opts Options) *Integration {
	validation.AssertNotEmpty(name, "integration name")
	validation.AssertNotEmpty(flag, "integration flag")
	validation.AssertNotNilInterface(conn, "connector")
	validation.AssertNotNilInterface(gate, "gate")
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultOptions().BaseDelay
	}

	i := &Integration{
		name:   name,
		flag:   flag,
		conn:   conn,
		gate:   gate,
		logger: logger.With(slog.String("integration", name), slog.String("flag", flag)),
		opts:   opts,
		status: StatusDisconnected,
	}
	i.publishStatus(StatusDisconnected)
	return i
}

// Name returns the integration name.
func (i *Integration) Name() string { return i.name }

// Flag returns the name of the gating flag.
func (i *Integration) Flag() string { return i.flag }

// Status returns DISABLED while the gate is off, otherwise the stored status.
func (i *Integration) Status() Status {
	if !i.gate.IsEnabled(i.flag) {
		return StatusDisabled
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// Info returns a snapshot for reporting.
func (i *Integration) Info() Info {
	status := i.Status()
	i.mu.Lock()
	defer i.mu.Unlock()
	return Info{
		Name:       i.name,
		Flag:       i.flag,
		Status:     status,
		RetryCount: i.retryCount,
		Metadata:   i.meta,
	}
}

// RetryDelay is the wait before retry number attempt (1-based): BaseDelay × 2^(attempt-1),
// capped at MaxRetryDelay.
func (i *Integration) RetryDelay(attempt int) time.Duration {
	d := min(i.opts.BaseDelay, MaxRetryDelay)
	for n := 1; n < attempt && d < MaxRetryDelay; n++ {
		d = min(2*d, MaxRetryDelay)
	}
	return d
}

// Connect moves the integration to CONNECTED, retrying with exponential backoff.
//
// Up to MaxRetries+1 attempts are made. Only the caller waits between attempts.
// A Disconnect or a cancelled ctx aborts the wait and returns ErrConnectAborted;
// the integration is then DISCONNECTED. Exhausting every attempt returns a
// *ConnectionError and leaves the integration in ERROR.
func (i *Integration) Connect(ctx context.Context) error {
	if !i.gate.IsEnabled(i.flag) {
		return fmt.Errorf("%w: %s (flag %s is off)", ErrIntegrationDisabled, i.name, i.flag)
	}

	i.mu.Lock()
	switch i.status {
	case StatusConnected, StatusRateLimited:
		i.mu.Unlock()
		return nil
	case StatusConnecting:
		i.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConnectInProgress, i.name)
	}
	i.generation++
	gen := i.generation
	attemptCtx, cancel := context.WithCancel(ctx)
	i.cancelConnect = cancel
	i.retryCount = 0
	from := i.setStatusLocked(StatusConnecting)
	i.mu.Unlock()
	defer cancel()

	i.emitStatus(from, StatusConnecting)

	for attempt := 1; ; attempt++ {
		err := i.conn.Connect(attemptCtx)

		i.mu.Lock()
		if i.generation != gen {
			// Disconnect already moved us to DISCONNECTED; drop the result.
			i.mu.Unlock()
			i.recordAttempt("aborted")
			if err == nil {
				i.closeOrphan(context.WithoutCancel(ctx))
			}
			return fmt.Errorf("%w: %s", ErrConnectAborted, i.name)
		}
		if err == nil {
			now := time.Now()
			i.retryCount = 0
			i.meta.ConnectedAt = &now
			i.cancelConnect = nil
			from := i.setStatusLocked(StatusConnected)
			i.mu.Unlock()

			i.recordAttempt("success")
			i.logger.Info("integration connected", slog.Int("attempt", attempt))
			i.emitStatus(from, StatusConnected)
			i.emit(Event{Type: EventConnected, Attempt: attempt})
			return nil
		}
		if attemptCtx.Err() != nil {
			i.mu.Unlock()
			return i.abortConnect(gen, attemptCtx.Err())
		}
		if attempt > i.opts.MaxRetries {
			i.cancelConnect = nil
			from := i.setStatusLocked(StatusError)
			i.mu.Unlock()

			i.recordAttempt("exhausted")
			connErr := &ConnectionError{Integration: i.name, Attempts: attempt, Err: err}
			i.logger.Error("integration connect failed", slog.Int("attempts", attempt), slog.String("error", err.Error()))
			i.emitStatus(from, StatusError)
			i.emit(Event{Type: EventError, Attempt: attempt, Err: connErr})
			return connErr
		}
		i.retryCount = attempt
		i.mu.Unlock()

		delay := i.RetryDelay(attempt)
		i.recordAttempt("retry")
		i.logger.Warn("integration connect attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		i.emit(Event{Type: EventRetrying, Attempt: attempt, Delay: delay, Err: err})

		timer := time.NewTimer(delay)
		select {
		case <-attemptCtx.Done():
			timer.Stop()
			return i.abortConnect(gen, attemptCtx.Err())
		case <-timer.C:
		}
	}
}

// abortConnect handles a Connect whose context ended. If no Disconnect has
// claimed the integration yet, it is moved to DISCONNECTED here.
func (i *Integration) abortConnect(gen uint64, cause error) error {
	i.recordAttempt("aborted")

	i.mu.Lock()
	if i.generation != gen {
		i.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConnectAborted, i.name)
	}
	i.generation++
	i.cancelConnect = nil
	i.retryCount = 0
	from := i.setStatusLocked(StatusDisconnected)
	i.mu.Unlock()

	i.logger.Info("integration connect cancelled", slog.String("cause", cause.Error()))
	i.emitStatus(from, StatusDisconnected)
	i.emit(Event{Type: EventDisconnected})
	return fmt.Errorf("%w: %s: %w", ErrConnectAborted, i.name, cause)
}

// closeOrphan releases a connection that was opened after a Disconnect had
// already claimed the integration. Errors are logged only.
func (i *Integration) closeOrphan(ctx context.Context) {
	d, ok := i.conn.(Disconnector)
	if !ok {
		return
	}
	if err := d.Disconnect(ctx); err != nil {
		i.logger.Warn("failed to close connection opened after disconnect", slog.String("error", err.Error()))
	}
}

// Disconnect moves the integration to DISCONNECTED from any state, cancelling
// a pending connect retry. The connector's own Disconnect runs only when a
// connection was established; its error is returned but the state change stands.
func (i *Integration) Disconnect(ctx context.Context) error {
	i.mu.Lock()
	wasLive := i.status == StatusConnected || i.status == StatusRateLimited
	i.generation++
	if i.cancelConnect != nil {
		i.cancelConnect()
		i.cancelConnect = nil
	}
	i.retryCount = 0
	i.meta.ConnectedAt = nil
	i.rateLimitedUntil = time.Time{}
	from := i.setStatusLocked(StatusDisconnected)
	i.mu.Unlock()

	var err error
	if d, ok := i.conn.(Disconnector); ok && wasLive {
		if derr := d.Disconnect(ctx); derr != nil {
			err = fmt.Errorf("integration %s: disconnect: %w", i.name, derr)
		}
	}

	if from != StatusDisconnected {
		i.logger.Info("integration disconnected", slog.String("from", string(from)))
		i.emitStatus(from, StatusDisconnected)
	}
	i.emit(Event{Type: EventDisconnected, Err: err})
	return err
}

// Execute runs op if the gate is on and the integration is CONNECTED.
//
// A failed op is never retried: the error is wrapped in *OperationError,
// emitted as EventError and returned. An op failing with a *RateLimitError
// moves the integration to RATE_LIMITED until the retry-after has passed.
func (i *Integration) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if !i.gate.IsEnabled(i.flag) {
		observability.IntegrationOperations.WithLabelValues(i.name, "disabled").Inc()
		return fmt.Errorf("%w: %s (flag %s is off)", ErrIntegrationDisabled, i.name, i.flag)
	}

	i.mu.Lock()
	from, recovered := i.status, false
	if i.status == StatusRateLimited && !time.Now().Before(i.rateLimitedUntil) {
		i.setStatusLocked(StatusConnected)
		recovered = true
	}
	status := i.status
	i.mu.Unlock()
	if recovered {
		i.emitStatus(from, StatusConnected)
	}

	if status != StatusConnected {
		observability.IntegrationOperations.WithLabelValues(i.name, "not_connected").Inc()
		return fmt.Errorf("%w: %s is %s", ErrIntegrationNotConnected, i.name, status)
	}

	start := time.Now()
	err := op(ctx)
	elapsed := time.Since(start)

	var rl *RateLimitError
	limited := errors.As(err, &rl)

	i.mu.Lock()
	now := time.Now()
	i.meta.LastActivityAt = &now
	i.meta.OperationCount++
	var limitedFrom Status
	if limited && i.status == StatusConnected {
		i.rateLimitedUntil = now.Add(rl.RetryAfter)
		limitedFrom = i.setStatusLocked(StatusRateLimited)
	}
	i.mu.Unlock()

	observability.IntegrationOperationDuration.WithLabelValues(i.name).Observe(elapsed.Seconds())
	if limitedFrom != "" {
		i.emitStatus(limitedFrom, StatusRateLimited)
	}

	if err != nil {
		observability.IntegrationOperations.WithLabelValues(i.name, "error").Inc()
		opErr := &OperationError{Integration: i.name, Err: err}
		i.logger.Warn("integration operation failed", slog.String("error", err.Error()))
		i.emit(Event{Type: EventError, Duration: elapsed, Err: opErr})
		return opErr
	}

	observability.IntegrationOperations.WithLabelValues(i.name, "success").Inc()
	i.emit(Event{Type: EventOperation, Duration: elapsed})
	return nil
}

// Call is Execute for operations that produce a value.
func Call[T any](ctx context.Context, i *Integration, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := i.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// HealthCheck reports whether the integration is operating as intended.
// An integration switched off by its flag is healthy; any other state short of
// CONNECTED is not. When connected, the connector's probe decides.
func (i *Integration) HealthCheck(ctx context.Context) HealthResult {
	status := i.Status()
	if status != StatusConnected {
		res := HealthResult{Healthy: status == StatusDisabled, Status: status}
		if !res.Healthy {
			res.Error = fmt.Sprintf("integration %s is %s", i.name, status)
		}
		return res
	}

	if p, ok := i.conn.(HealthProber); ok {
		if err := p.HealthCheck(ctx); err != nil {
			return HealthResult{Healthy: false, Status: status, Error: err.Error()}
		}
	}
	return HealthResult{Healthy: true, Status: status}
}

// InitMock runs the connector's dry-run setup. Connectors without one pass.
func (i *Integration) InitMock(ctx context.Context) error {
	m, ok := i.conn.(MockInitializer)
	if !ok {
		return nil
	}
	if err := m.InitMock(ctx); err != nil {
		return fmt.Errorf("integration %s: mock init: %w", i.name, err)
	}
	return nil
}

// setStatusLocked stores s and returns the previous status. Caller holds i.mu.
func (i *Integration) setStatusLocked(s Status) Status {
	from := i.status
	i.status = s
	if from != s {
		i.publishStatus(s)
	}
	return from
}

func (i *Integration) emitStatus(from, to Status) {
	if from == to {
		return
	}
	i.emit(Event{Type: EventStatusChanged, From: from, To: to})
}

func (i *Integration) publishStatus(s Status) {
	for _, st := range allStatuses {
		v := 0.0
		if st == s {
			v = 1
		}
		observability.IntegrationStatus.WithLabelValues(i.name, string(st)).Set(v)
	}
}

func (i *Integration) recordAttempt(outcome string) {
	observability.IntegrationConnectAttempts.WithLabelValues(i.name, outcome).Inc()
}
