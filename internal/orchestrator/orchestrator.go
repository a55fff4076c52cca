package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hearthhq/calsync/internal/credentials"
	"github.com/hearthhq/calsync/internal/event"
	"github.com/hearthhq/calsync/internal/instrumentation"
	"github.com/hearthhq/calsync/internal/logging"
	"github.com/hearthhq/calsync/internal/reconcile"
	"github.com/hearthhq/calsync/internal/remote"
)

// ErrUnknownTenant is returned when a trigger references a tenant that was
// never registered.
var ErrUnknownTenant = errors.New("unknown tenant")

// failureThreshold is the number of consecutive pull failures after which a
// tenant's pull schedule is suspended.
const failureThreshold = 3

// Config bounds the orchestrator's scheduling.
type Config struct {
	// PullInterval is the period of the timer-driven pull schedule.
	PullInterval time.Duration

	// SweepInterval is the period of the tombstone sweep.
	SweepInterval time.Duration

	// FullSyncInterval is how often an incremental pull is widened to a
	// full listing to confirm remote deletions.
	FullSyncInterval time.Duration

	// PullBudget is the wall-clock budget of one pull run. Exceeding it
	// cancels the run cooperatively at the next page boundary.
	PullBudget time.Duration

	// SuspendInitial and SuspendMax bound the exponential backoff applied
	// to a tenant's pull schedule after repeated failures.
	SuspendInitial time.Duration
	SuspendMax     time.Duration
}

// DefaultConfig returns the scheduling bounds used in production.
func DefaultConfig() Config {
	return Config{
		PullInterval:     2 * time.Minute,
		SweepInterval:    5 * time.Minute,
		FullSyncInterval: 12 * time.Hour,
		PullBudget:       time.Minute,
		SuspendInitial:   30 * time.Second,
		SuspendMax:       30 * time.Minute,
	}
}

// TenantHealth is the operator-visible state of one tenant's sync.
type TenantHealth struct {
	TenantID            string    `json:"tenantId"`
	LastPulledAt        time.Time `json:"lastPulledAt,omitzero"`
	ConsecutiveFailures int       `json:"consecutiveFailures,omitempty"`
	SuspendedUntil      time.Time `json:"suspendedUntil,omitzero"`
	NeedsReauth         bool      `json:"needsReauth,omitempty"`
	Revoked             bool      `json:"revoked,omitempty"`
}

// cursor is the per-tenant pull bookkeeping.
type cursor struct {
	lastPulledAt time.Time
	syncToken    string
	lastFullSync time.Time
}

type tenantState struct {
	id        string
	principal string

	// gate serializes the event store's critical sections: pushes take the
	// read side and run concurrently, a pull takes the write side and
	// excludes them.
	gate sync.RWMutex

	// mu guards the scheduling fields below. Never held across a
	// reconcile run.
	mu          sync.Mutex
	cursor      cursor
	inFlight    bool
	pullPending bool
	failures    int
	suspendedTo time.Time
	suspendBO   *backoff.ExponentialBackOff
	needsReauth bool
	revoked     bool
}

// Orchestrator owns the per-tenant schedule and the trigger surface exposed
// to the CRUD layer.
type Orchestrator struct {
	rec     *reconcile.Reconciler
	pub     reconcile.Publisher
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	cfg     Config
	now     func() time.Time

	// mu guards the tenant registry and the run context.
	mu      sync.RWMutex
	tenants map[string]*tenantState
	runCtx  context.Context

	wg sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithConfig overrides the default scheduling bounds.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator driving the given reconciler and publishing
// local mutations through pub.
func New(rec *reconcile.Reconciler, pub reconcile.Publisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		rec:     rec,
		pub:     pub,
		logger:  slog.Default(),
		cfg:     DefaultConfig(),
		now:     func() time.Time { return time.Now().UTC() },
		tenants: make(map[string]*tenantState),
		runCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register adds a tenant to the sync schedule with the member whose
// credentials back remote calls. Registering twice updates the principal.
func (o *Orchestrator) Register(tenantID, principal string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ts, ok := o.tenants[tenantID]; ok {
		ts.mu.Lock()
		ts.principal = principal
		ts.mu.Unlock()
		return
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.SuspendInitial
	bo.MaxInterval = o.cfg.SuspendMax
	o.tenants[tenantID] = &tenantState{id: tenantID, principal: principal, suspendBO: bo}
}

// runContext is the lifetime context reconcile goroutines derive from.
// Before Run starts it falls back to the constructor's background context.
func (o *Orchestrator) runContext() context.Context {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.runCtx
}

func (o *Orchestrator) tenant(tenantID string) (*tenantState, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ts, ok := o.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrUnknownTenant)
	}
	return ts, nil
}

// OnLocalMutation is called synchronously after a local Event write commits
// (for deletions, after the record is removed). It publishes the change to
// the tenant's room and enqueues the corresponding push; the push runs
// asynchronously, after any in-flight pull for the tenant releases the
// latch.
func (o *Orchestrator) OnLocalMutation(ev event.Event, ct event.ChangeType) error {
	ts, err := o.tenant(ev.TenantID)
	if err != nil {
		return err
	}

	switch ct {
	case event.ChangeDeleted:
		o.publish(ev.TenantID, event.Deleted(ev.ID))
	case event.ChangeCreated:
		o.publish(ev.TenantID, event.Created(ev))
	default:
		o.publish(ev.TenantID, event.Updated(ev))
	}

	o.enqueuePush(ts, ev, ct)
	return nil
}

func (o *Orchestrator) enqueuePush(ts *tenantState, ev event.Event, ct event.ChangeType) {
	ts.mu.Lock()
	revoked := ts.revoked
	principal := ts.principal
	ts.mu.Unlock()
	if revoked {
		// Sync is suspended for this principal; the event stays local (and
		// pending) until the member re-authenticates.
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, span := instrumentation.StartSpan(o.runContext(), "sync.push",
			instrumentation.TenantAttr(ts.id),
			instrumentation.OperationAttr(string(ct)),
		)

		// Pushes for one tenant run concurrently with each other but never
		// alongside that tenant's pull.
		ts.gate.RLock()
		err := o.rec.Push(ctx, principal, ev, ct)
		ts.gate.RUnlock()
		instrumentation.EndSpan(span, err)
		if err != nil {
			o.notePrincipalFailure(ts, err)
		}
	}()
}

// TriggerPull schedules a pull-reconcile for the tenant. A pull requested
// while one is in flight runs once the current one releases the latch;
// requests beyond that collapse into it.
func (o *Orchestrator) TriggerPull(tenantID string) error {
	ts, err := o.tenant(tenantID)
	if err != nil {
		return err
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.revoked {
		return fmt.Errorf("tenant %s principal %s: %w", tenantID, ts.principal, credentials.ErrRevoked)
	}
	if now := o.now(); now.Before(ts.suspendedTo) {
		o.logger.Debug("pull suppressed while suspended",
			logging.Tenant(tenantID),
			slog.Time("until", ts.suspendedTo),
		)
		return nil
	}
	if ts.inFlight {
		ts.pullPending = true
		return nil
	}
	ts.inFlight = true

	o.wg.Add(1)
	go o.runPull(ts)
	return nil
}

// runPull executes one pull-reconcile under the tenant's latch.
func (o *Orchestrator) runPull(ts *tenantState) {
	defer o.wg.Done()
	ctx, span := instrumentation.StartSpan(o.runContext(), "sync.pull",
		instrumentation.TenantAttr(ts.id),
		instrumentation.DirectionAttr(logging.DirectionPull),
	)
	logger := logging.WithTenant(o.logger, ts.id)

	ts.mu.Lock()
	principal := ts.principal
	cur := remote.ListCursor{
		SyncToken:  ts.cursor.syncToken,
		UpdatedMin: ts.cursor.lastPulledAt,
	}
	fullSyncDue := ts.cursor.lastFullSync.IsZero() ||
		o.now().Sub(ts.cursor.lastFullSync) >= o.cfg.FullSyncInterval
	ts.mu.Unlock()

	ts.gate.Lock()
	var res reconcile.PullResult
	var err error
	var wasFull bool
	if fullSyncDue {
		res, err = o.rec.FullSync(ctx, principal, ts.id)
		wasFull = true
	} else {
		res, err = o.rec.Pull(ctx, principal, ts.id, cur, o.cfg.PullBudget)
		if errors.Is(err, remote.ErrExpiredCursor) {
			logger.Info("list cursor expired, falling back to full sync")
			res, err = o.rec.FullSync(ctx, principal, ts.id)
			wasFull = true
		}
	}
	ts.gate.Unlock()
	instrumentation.EndSpan(span, err)

	now := o.now()
	ts.mu.Lock()
	if err != nil {
		ts.failures++
		if ts.failures >= failureThreshold {
			delay := ts.suspendBO.NextBackOff()
			ts.suspendedTo = now.Add(delay)
			logger.Error("pull schedule suspended",
				slog.Int("consecutive_failures", ts.failures),
				slog.Duration("backoff", delay),
				logging.Err(err),
			)
		} else {
			logger.Warn("pull failed", slog.Int("consecutive_failures", ts.failures), logging.Err(err))
		}
	} else {
		ts.failures = 0
		ts.suspendBO.Reset()
		ts.suspendedTo = time.Time{}
		// A zero high-water mark means the run stopped before the final
		// page; the cursor stays put so the next pull re-fetches from it.
		if !res.HighWater.IsZero() {
			ts.cursor.lastPulledAt = res.HighWater
		}
		if res.SyncToken != "" {
			ts.cursor.syncToken = res.SyncToken
		}
		if wasFull {
			ts.cursor.lastFullSync = now
		}
	}
	ts.inFlight = false
	rerun := ts.pullPending
	ts.pullPending = false
	ts.mu.Unlock()

	if err != nil {
		o.notePrincipalFailure(ts, err)
	} else {
		// Events stranded pending by exhausted pushes go back out now that
		// the remote is answering again.
		pending, perr := o.rec.PendingEvents(ctx, ts.id)
		if perr != nil {
			logger.Warn("listing pending events failed", logging.Err(perr))
		}
		for _, ev := range pending {
			ct := event.ChangeUpdated
			if !ev.Synced() {
				ct = event.ChangeCreated
			}
			o.enqueuePush(ts, ev, ct)
		}
	}

	// Local edits that won the conflict rule go back out.
	for _, ev := range res.Requeue {
		o.enqueuePush(ts, ev, event.ChangeUpdated)
	}

	if rerun {
		_ = o.TriggerPull(ts.id)
	}
}

// notePrincipalFailure updates per-principal flags for failures that demand
// member action.
func (o *Orchestrator) notePrincipalFailure(ts *tenantState, err error) {
	switch {
	case errors.Is(err, credentials.ErrRevoked):
		ts.mu.Lock()
		ts.revoked = true
		principal := ts.principal
		ts.mu.Unlock()
		o.logger.Error("credentials revoked, sync suspended for principal",
			logging.Tenant(ts.id),
			logging.Principal(principal),
		)
	case remote.KindOf(err) == remote.KindAuthExpired:
		ts.mu.Lock()
		ts.needsReauth = true
		principal := ts.principal
		ts.mu.Unlock()
		o.logger.Warn("principal needs re-authentication",
			logging.Tenant(ts.id),
			logging.Principal(principal),
		)
	}
}

// Reauthorized clears the needs-reauth and revoked flags after the member
// reconnected their account.
func (o *Orchestrator) Reauthorized(tenantID string) error {
	ts, err := o.tenant(tenantID)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	ts.needsReauth = false
	ts.revoked = false
	ts.mu.Unlock()
	return nil
}

// Health reports the sync state of every registered tenant.
func (o *Orchestrator) Health() []TenantHealth {
	o.mu.RLock()
	states := make([]*tenantState, 0, len(o.tenants))
	for _, ts := range o.tenants {
		states = append(states, ts)
	}
	o.mu.RUnlock()

	out := make([]TenantHealth, 0, len(states))
	for _, ts := range states {
		ts.mu.Lock()
		out = append(out, TenantHealth{
			TenantID:            ts.id,
			LastPulledAt:        ts.cursor.lastPulledAt,
			ConsecutiveFailures: ts.failures,
			SuspendedUntil:      ts.suspendedTo,
			NeedsReauth:         ts.needsReauth,
			Revoked:             ts.revoked,
		})
		ts.mu.Unlock()
	}
	return out
}

// Run drives the timer-based pull schedule and the tombstone sweep until
// ctx is cancelled, then waits for outstanding reconciles to finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.runCtx = ctx
	o.mu.Unlock()

	pullTicker := time.NewTicker(o.cfg.PullInterval)
	defer pullTicker.Stop()
	sweepTicker := time.NewTicker(o.cfg.SweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			return ctx.Err()
		case <-pullTicker.C:
			o.mu.RLock()
			ids := make([]string, 0, len(o.tenants))
			for id := range o.tenants {
				ids = append(ids, id)
			}
			o.mu.RUnlock()
			for _, id := range ids {
				_ = o.TriggerPull(id)
			}
		case <-sweepTicker.C:
			o.sweepAll(ctx)
		}
	}
}

// sweepAll retries deferred remote deletes for every tenant. Sweeps take
// the read side of the gate like pushes: they only touch tombstones, never
// the records a pull mutates.
func (o *Orchestrator) sweepAll(ctx context.Context) {
	o.mu.RLock()
	states := make([]*tenantState, 0, len(o.tenants))
	for _, ts := range o.tenants {
		states = append(states, ts)
	}
	o.mu.RUnlock()

	for _, ts := range states {
		ts.mu.Lock()
		revoked := ts.revoked
		principal := ts.principal
		ts.mu.Unlock()
		if revoked {
			continue
		}

		o.wg.Add(1)
		go func(ts *tenantState) {
			defer o.wg.Done()
			ts.gate.RLock()
			err := o.rec.SweepTombstones(ctx, principal, ts.id)
			ts.gate.RUnlock()
			if err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Warn("tombstone sweep failed",
					logging.Tenant(ts.id),
					logging.Err(err),
				)
			}
		}(ts)
	}
}

func (o *Orchestrator) publish(tenantID string, ch event.Change) {
	if o.pub == nil {
		return
	}
	n := o.pub.Publish(tenantID, ch)
	o.metrics.RecordBroadcast(context.Background(), string(ch.Type), n)
}
