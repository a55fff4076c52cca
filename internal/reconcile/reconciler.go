package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hearthhq/calsync/internal/credentials"
	"github.com/hearthhq/calsync/internal/event"
	"github.com/hearthhq/calsync/internal/instrumentation"
	"github.com/hearthhq/calsync/internal/remote"
	"github.com/hearthhq/calsync/internal/store"
)

// Publisher is the slice of the fan-out hub the reconciler needs.
type Publisher interface {
	Publish(tenantID string, ch event.Change) int
}

// Config bounds the reconciler's retry and retention behavior.
type Config struct {
	// MaxPushAttempts caps remote attempts per push, including the first.
	MaxPushAttempts uint

	// PushInitialBackoff and PushMaxBackoff bound the exponential backoff
	// between push attempts.
	PushInitialBackoff time.Duration
	PushMaxBackoff     time.Duration

	// TombstoneRetention is how long a locally deleted event's remote
	// delete keeps being retried before it is abandoned and logged.
	TombstoneRetention time.Duration
}

// DefaultConfig returns the bounds used in production.
func DefaultConfig() Config {
	return Config{
		MaxPushAttempts:    4,
		PushInitialBackoff: 500 * time.Millisecond,
		PushMaxBackoff:     10 * time.Second,
		TombstoneRetention: 7 * 24 * time.Hour,
	}
}

// Reconciler diffs and applies deltas between the event store and the
// remote calendar for one tenant at a time.
type Reconciler struct {
	store   store.Store
	remote  remote.Client
	pub     Publisher
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	cfg     Config
	now     func() time.Time
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithLogger sets the reconciler's logger.
func WithLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = logger }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *instrumentation.Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// WithConfig overrides the default bounds.
func WithConfig(cfg Config) ReconcilerOption {
	return func(r *Reconciler) { r.cfg = cfg }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// New creates a Reconciler over the given store, remote client and
// publisher.
func New(st store.Store, rc remote.Client, pub Publisher, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:  st,
		remote: rc,
		pub:    pub,
		logger: slog.Default(),
		cfg:    DefaultConfig(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// retryRemote runs op with the reconciler's bounded exponential backoff.
// Rate-limit responses wait the remote's suggested delay; auth failures and
// revoked credentials are permanent here, the caller decides what degrades
// to pending.
func retryRemote[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.PushInitialBackoff
	bo.MaxInterval = cfg.PushMaxBackoff

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}
		if errors.Is(err, credentials.ErrRevoked) {
			return v, backoff.Permanent(err)
		}
		switch remote.KindOf(err) {
		case remote.KindRemoteUnavailable:
			return v, err
		case remote.KindRateLimited:
			var rerr *remote.Error
			if errors.As(err, &rerr) && rerr.RetryAfter > 0 {
				secs := int(rerr.RetryAfter / time.Second)
				if secs < 1 {
					secs = 1
				}
				return v, backoff.RetryAfter(secs)
			}
			return v, err
		default:
			return v, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(cfg.MaxPushAttempts))
}
