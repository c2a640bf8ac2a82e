// Package fallback wraps every logical operation with the
// primary-then-secondary state machine: attempt the primary backend,
// classify a failure, and try the secondary at most once for recoverable
// failures. Fatal failures (validation, not-found, rejected operations)
// propagate immediately; a 404 from the primary is not evidence the
// secondary should be tried.
package fallback

import (
	"context"
	"time"

	"go.uber.org/zap"

	"agenthub-backend/internal/apperrors"
	"agenthub-backend/internal/backend"
	"agenthub-backend/internal/observability"
)

// Event is the structured observability record emitted on every fallback
// transition.
type Event struct {
	Operation   string    `json:"operation"`
	FromBackend string    `json:"fromBackend"`
	ToBackend   string    `json:"toBackend"`
	ErrorClass  string    `json:"errorClass"`
	Timestamp   time.Time `json:"timestamp"`
}

// Coordinator owns the two backend handles. They are read-only
// configuration after construction; there is no runtime backend swapping.
type Coordinator struct {
	primary   backend.Client
	secondary backend.Client
	def       backend.Kind
	logger    *zap.Logger
	metrics   *observability.Collector
}

// NewCoordinator pairs the two clients. def selects the process-wide
// default backend; it is fixed for the process lifetime.
func NewCoordinator(primary, secondary backend.Client, def backend.Kind, logger *zap.Logger, metrics *observability.Collector) *Coordinator {
	return &Coordinator{
		primary:   primary,
		secondary: secondary,
		def:       def,
		logger:    logger,
		metrics:   metrics,
	}
}

// ByKind returns the client with the given role, or the default client for
// an empty kind.
func (c *Coordinator) ByKind(kind backend.Kind) backend.Client {
	if kind == "" {
		kind = c.def
	}
	if kind == backend.KindSecondary {
		return c.secondary
	}
	return c.primary
}

// Secondary exposes the relational client for capability resolution at
// wiring time (transactions exist only there).
func (c *Coordinator) Secondary() backend.Client {
	return c.secondary
}

func (c *Coordinator) other(client backend.Client) backend.Client {
	if client.Kind() == backend.KindPrimary {
		return c.secondary
	}
	return c.primary
}

// Execute runs fn against the selected backend and falls back to the
// alternate backend at most once on a recoverable failure. A non-empty
// forced kind disables fallback entirely: the caller chose that backend
// explicitly. Retries and backoff live inside the backend clients, never
// here.
func Execute[T any](ctx context.Context, c *Coordinator, operation string, forced backend.Kind, fn func(ctx context.Context, client backend.Client) (T, error)) (T, error) {
	first := c.ByKind(forced)

	result, err := attempt(ctx, c, operation, first, fn)
	if err == nil || forced != "" {
		return result, err
	}

	// A cancelled operation must not trigger the secondary attempt.
	if ctx.Err() != nil {
		return result, err
	}
	if !apperrors.IsRecoverable(err) {
		return result, err
	}

	second := c.other(first)
	c.emit(Event{
		Operation:   operation,
		FromBackend: first.Name(),
		ToBackend:   second.Name(),
		ErrorClass:  apperrors.Class(err),
		Timestamp:   time.Now(),
	}, err)

	// No write-back to the first backend is attempted on success: masking
	// a broken primary with shadow writes hides the outage.
	result, err2 := attempt(ctx, c, operation, second, fn)
	if err2 != nil {
		c.logger.Error("fallback attempt failed",
			zap.String("operation", operation),
			zap.String("backend", second.Name()),
			zap.NamedError("primaryError", err),
			zap.Error(err2))
		return result, err2
	}
	return result, nil
}

func attempt[T any](ctx context.Context, c *Coordinator, operation string, client backend.Client, fn func(ctx context.Context, client backend.Client) (T, error)) (T, error) {
	start := time.Now()
	result, err := fn(ctx, client)
	if c.metrics != nil {
		c.metrics.ObserveBackendOp(operation, client.Name(), err, time.Since(start))
	}
	return result, err
}

func (c *Coordinator) emit(ev Event, cause error) {
	c.logger.Warn("backend fallback",
		zap.String("operation", ev.Operation),
		zap.String("fromBackend", ev.FromBackend),
		zap.String("toBackend", ev.ToBackend),
		zap.String("errorClass", ev.ErrorClass),
		zap.Time("timestamp", ev.Timestamp),
		zap.Error(cause))
	if c.metrics != nil {
		c.metrics.FallbackTotal.
			WithLabelValues(ev.Operation, ev.FromBackend, ev.ToBackend, ev.ErrorClass).Inc()
	}
}
