package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthhq/calsync/internal/credentials"
	"github.com/hearthhq/calsync/internal/event"
	"github.com/hearthhq/calsync/internal/remote"
	"github.com/hearthhq/calsync/internal/store"
)

// fakeRemote is an in-memory remote.Client. Errors can be injected per
// operation; failCreates/failUpdates/failDeletes count down with each
// failing call.
type fakeRemote struct {
	mu       sync.Mutex
	events   map[string]remote.Event
	nextID   int
	pages    []remote.Page
	pageErr  error
	listCnt  int
	creates  int
	updates  int
	deletes  int
	deleted  []string
	failErr  error
	failCrea int
	failUpd  int
	failDel  int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{events: make(map[string]remote.Event)}
}

func (f *fakeRemote) List(_ context.Context, _ string, cur remote.ListCursor) (remote.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCnt++
	if f.pageErr != nil {
		return remote.Page{}, f.pageErr
	}
	if len(f.pages) == 0 {
		return remote.Page{NextSyncToken: "tok-final"}, nil
	}
	idx := 0
	if cur.PageToken != "" {
		fmt.Sscanf(cur.PageToken, "page-%d", &idx)
	}
	if idx >= len(f.pages) {
		return remote.Page{NextSyncToken: "tok-final"}, nil
	}
	pg := f.pages[idx]
	if idx < len(f.pages)-1 {
		pg.NextPageToken = fmt.Sprintf("page-%d", idx+1)
	}
	return pg, nil
}

func (f *fakeRemote) Create(_ context.Context, _ string, e event.Event) (remote.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.failCrea > 0 {
		f.failCrea--
		return remote.Event{}, f.failErr
	}
	f.nextID++
	rev := remote.Event{
		ID:       fmt.Sprintf("ext-%d", f.nextID),
		Revision: "rev-1",
		Title:    e.Title,
		Start:    e.Start,
		End:      e.End,
	}
	f.events[rev.ID] = rev
	return rev, nil
}

func (f *fakeRemote) Update(_ context.Context, _ string, remoteID string, e event.Event) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.failUpd > 0 {
		f.failUpd--
		return "", f.failErr
	}
	rev, ok := f.events[remoteID]
	if !ok {
		rev = remote.Event{ID: remoteID}
	}
	rev.Title = e.Title
	rev.Revision = fmt.Sprintf("rev-%d", f.updates+1)
	f.events[remoteID] = rev
	return rev.Revision, nil
}

func (f *fakeRemote) Delete(_ context.Context, _ string, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.failDel > 0 {
		f.failDel--
		return f.failErr
	}
	delete(f.events, remoteID)
	f.deleted = append(f.deleted, remoteID)
	return nil
}

// recordingPub captures published changes.
type recordingPub struct {
	mu      sync.Mutex
	changes []event.Change
}

func (p *recordingPub) Publish(_ string, ch event.Change) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, ch)
	return 1
}

func (p *recordingPub) byType(ct event.ChangeType) []event.Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []event.Change
	for _, ch := range p.changes {
		if ch.Type == ct {
			out = append(out, ch)
		}
	}
	return out
}

func fastConfig() Config {
	return Config{
		MaxPushAttempts:    3,
		PushInitialBackoff: time.Millisecond,
		PushMaxBackoff:     5 * time.Millisecond,
		TombstoneRetention: 7 * 24 * time.Hour,
	}
}

func unavailable() error {
	return &remote.Error{Kind: remote.KindRemoteUnavailable, Op: "test", Err: errors.New("503")}
}

func newTestReconciler(t *testing.T) (*Reconciler, *store.Memory, *fakeRemote, *recordingPub) {
	t.Helper()
	st := store.NewMemory()
	rc := newFakeRemote()
	pub := &recordingPub{}
	r := New(st, rc, pub, WithConfig(fastConfig()))
	return r, st, rc, pub
}

func seedLocal(t *testing.T, st *store.Memory, tenantID, title string) event.Event {
	t.Helper()
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ev := event.New(tenantID, title, start, start.Add(time.Hour))
	require.NoError(t, st.Upsert(context.Background(), ev))
	return ev
}

func TestPushCreateStoresCorrelation(t *testing.T) {
	ctx := context.Background()
	r, st, rc, pub := newTestReconciler(t)
	ev := seedLocal(t, st, "fam-1", "Dentist")

	require.NoError(t, r.Push(ctx, "member-1", ev, event.ChangeCreated))

	got, err := st.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "ext-1", got.ExternalID)
	assert.Equal(t, "rev-1", got.ExternalRevision)
	assert.False(t, got.Pending)
	assert.False(t, got.PushedAt.IsZero())
	assert.Equal(t, 1, rc.creates)

	// The post-push publish carries the correlation ID.
	updates := pub.byType(event.ChangeUpdated)
	require.Len(t, updates, 1)
	assert.Equal(t, "ext-1", updates[0].Event.ExternalID)
}

func TestPushUpdateStoresRevision(t *testing.T) {
	ctx := context.Background()
	r, st, rc, _ := newTestReconciler(t)
	ev := seedLocal(t, st, "fam-1", "Dentist")

	require.NoError(t, r.Push(ctx, "member-1", ev, event.ChangeCreated))
	got, err := st.Get(ctx, ev.ID)
	require.NoError(t, err)

	got.Title = "Dentist (moved)"
	got.Touch(time.Now().UTC())
	require.NoError(t, st.Upsert(ctx, got))
	require.NoError(t, r.Push(ctx, "member-1", got, event.ChangeUpdated))

	final, err := st.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "ext-1", final.ExternalID, "update reuses the existing correlation")
	assert.NotEqual(t, "rev-1", final.ExternalRevision)
	assert.Equal(t, 1, rc.creates)
	assert.Equal(t, 1, rc.updates)
}

func TestPushRetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	r, st, rc, _ := newTestReconciler(t)
	ev := seedLocal(t, st, "fam-1", "Dentist")

	rc.failErr = unavailable()
	rc.failCrea = 2 // fail twice, succeed on the third attempt

	require.NoError(t, r.Push(ctx, "member-1", ev, event.ChangeCreated))
	assert.Equal(t, 3, rc.creates)

	got, err := st.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, got.Synced())
	assert.False(t, got.Pending)
}

func TestPushExhaustedRetriesDegradesToPending(t *testing.T) {
	ctx := context.Background()
	r, st, rc, _ := newTestReconciler(t)
	ev := seedLocal(t, st, "fam-1", "Dentist")

	rc.failErr = unavailable()
	rc.failCrea = 10

	err := r.Push(ctx, "member-1", ev, event.ChangeCreated)
	require.Error(t, err)
	assert.Equal(t, 3, rc.creates, "bounded by MaxPushAttempts")

	// The local write survives, marked pending.
	got, gerr := st.Get(ctx, ev.ID)
	require.NoError(t, gerr)
	assert.True(t, got.Pending)
	assert.False(t, got.Synced())
}

func TestPendingEventsListsDegraded(t *testing.T) {
	ctx := context.Background()
	r, st, rc, _ := newTestReconciler(t)

	synced := seedLocal(t, st, "fam-1", "Dentist")
	require.NoError(t, r.Push(ctx, "member-1", synced, event.ChangeCreated))

	rc.failErr = unavailable()
	rc.failCrea = 10
	stuck := seedLocal(t, st, "fam-1", "Soccer practice")
	require.Error(t, r.Push(ctx, "member-1", stuck, event.ChangeCreated))

	pending, err := r.PendingEvents(ctx, "fam-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, stuck.ID, pending[0].ID)
	assert.True(t, pending[0].Pending)
}

func TestPushRevokedCredentialsIsPermanent(t *testing.T) {
	ctx := context.Background()
	r, st, rc, _ := newTestReconciler(t)
	ev := seedLocal(t, st, "fam-1", "Dentist")

	rc.failErr = fmt.Errorf("token: %w", credentials.ErrRevoked)
	rc.failCrea = 10

	err := r.Push(ctx, "member-1", ev, event.ChangeCreated)
	require.ErrorIs(t, err, credentials.ErrRevoked)
	assert.Equal(t, 1, rc.creates, "no retries on revoked credentials")

	got, gerr := st.Get(ctx, ev.ID)
	require.NoError(t, gerr)
	assert.True(t, got.Pending)
}

func TestPushDeleteUnsyncedIsNoop(t *testing.T) {
	ctx := context.Background()
	r, _, rc, _ := newTestReconciler(t)

	ev := event.New("fam-1", "Never pushed", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, r.Push(ctx, "member-1", ev, event.ChangeDeleted))
	assert.Equal(t, 0, rc.deletes)
}

func TestPushDeleteFailureLeavesTombstone(t *testing.T) {
	ctx := context.Background()
	r, st, rc, _ := newTestReconciler(t)

	ev := seedLocal(t, st, "fam-1", "Dentist")
	ev.ExternalID = "ext-5"
	ev.UpdatedAt = ev.UpdatedAt.Add(time.Second)
	require.NoError(t, st.Upsert(ctx, ev))
	// The CRUD layer removes the record before the push runs.
	_, err := st.Delete(ctx, ev.ID)
	require.NoError(t, err)

	rc.failErr = unavailable()
	rc.failDel = 10

	err = r.Push(ctx, "member-1", ev, event.ChangeDeleted)
	require.Error(t, err)

	tombs, terr := st.ListTombstones(ctx, "fam-1")
	require.NoError(t, terr)
	require.Len(t, tombs, 1)
	assert.Equal(t, "ext-5", tombs[0].ExternalID)

	// The local record stays deleted; the delete is never rolled back.
	_, err = st.Get(ctx, ev.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweepSettlesTombstone(t *testing.T) {
	ctx := context.Background()
	r, st, rc, _ := newTestReconciler(t)

	require.NoError(t, st.PutTombstone(ctx, store.Tombstone{
		TenantID: "fam-1", EventID: "ev-1", ExternalID: "ext-5",
		DeletedAt: time.Now().UTC(),
	}))

	require.NoError(t, r.SweepTombstones(ctx, "member-1", "fam-1"))
	assert.Equal(t, []string{"ext-5"}, rc.deleted)

	tombs, err := st.ListTombstones(ctx, "fam-1")
	require.NoError(t, err)
	assert.Empty(t, tombs)
}

func TestSweepKeepsFailingTombstone(t *testing.T) {
	ctx := context.Background()
	r, st, rc, _ := newTestReconciler(t)

	require.NoError(t, st.PutTombstone(ctx, store.Tombstone{
		TenantID: "fam-1", EventID: "ev-1", ExternalID: "ext-5",
		DeletedAt: time.Now().UTC(),
	}))
	rc.failErr = unavailable()
	rc.failDel = 10

	require.NoError(t, r.SweepTombstones(ctx, "member-1", "fam-1"))

	tombs, err := st.ListTombstones(ctx, "fam-1")
	require.NoError(t, err)
	require.Len(t, tombs, 1)
	assert.Equal(t, 1, tombs[0].Attempts)
	assert.Equal(t, 1, rc.deletes, "one attempt per sweep")
}

func TestSweepAbandonsAfterRetention(t *testing.T) {
	ctx := context.Background()
	r, st, rc, _ := newTestReconciler(t)

	require.NoError(t, st.PutTombstone(ctx, store.Tombstone{
		TenantID: "fam-1", EventID: "ev-1", ExternalID: "ext-5",
		DeletedAt: time.Now().UTC().Add(-8 * 24 * time.Hour), Attempts: 40,
	}))
	rc.failErr = unavailable()
	rc.failDel = 10

	require.NoError(t, r.SweepTombstones(ctx, "member-1", "fam-1"))

	tombs, err := st.ListTombstones(ctx, "fam-1")
	require.NoError(t, err)
	assert.Empty(t, tombs, "abandoned after the retention window")
	assert.Equal(t, 0, rc.deletes, "no remote attempt for an expired tombstone")
}

func remoteEvent(id, rev, title string, start time.Time) remote.Event {
	return remote.Event{
		ID: id, Revision: rev, Title: title,
		Start: start, End: start.Add(time.Hour),
	}
}

func TestPullCreatesLocalEvents(t *testing.T) {
	ctx := context.Background()
	r, st, rc, pub := newTestReconciler(t)
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	rc.pages = []remote.Page{{Events: []remote.Event{
		remoteEvent("ext-1", "r1", "Dentist", start),
		remoteEvent("ext-2", "r2", "", start.Add(2*time.Hour)),
	}}}

	res, err := r.Pull(ctx, "member-1", "fam-1", remote.ListCursor{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, "tok-final", res.SyncToken)

	events, err := st.ListByTenant(ctx, "fam-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Dentist", events[0].Title)
	assert.Equal(t, "(untitled)", events[1].Title, "untitled remote events get a placeholder")

	assert.Len(t, pub.byType(event.ChangeCreated), 2)
}

func TestPullIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r, st, rc, pub := newTestReconciler(t)
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	rc.pages = []remote.Page{{Events: []remote.Event{
		remoteEvent("ext-999", "r1", "Dentist", start),
	}}}

	// The same delta delivered twice must create exactly one record and
	// publish exactly one create.
	_, err := r.Pull(ctx, "member-1", "fam-1", remote.ListCursor{}, 0)
	require.NoError(t, err)
	_, err = r.Pull(ctx, "member-1", "fam-1", remote.ListCursor{}, 0)
	require.NoError(t, err)

	events, err := st.ListByTenant(ctx, "fam-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ext-999", events[0].ExternalID)

	assert.Len(t, pub.byType(event.ChangeCreated), 1)
	assert.Empty(t, pub.byType(event.ChangeUpdated), "same revision is a no-op")
}

func TestPullAppliesRemoteUpdate(t *testing.T) {
	ctx := context.Background()
	r, st, rc, pub := newTestReconciler(t)
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	rc.pages = []remote.Page{{Events: []remote.Event{
		remoteEvent("ext-1", "r1", "Dentist", start),
	}}}
	_, err := r.Pull(ctx, "member-1", "fam-1", remote.ListCursor{}, 0)
	require.NoError(t, err)

	rc.pages = []remote.Page{{Events: []remote.Event{
		remoteEvent("ext-1", "r2", "Dentist (moved)", start.Add(time.Hour)),
	}}}
	res, err := r.Pull(ctx, "member-1", "fam-1", remote.ListCursor{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	events, err := st.ListByTenant(ctx, "fam-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Dentist (moved)", events[0].Title)
	assert.Equal(t, "r2", events[0].ExternalRevision)

	assert.Len(t, pub.byType(event.ChangeUpdated), 1)
}

func TestPullAppliesRemoteDelete(t *testing.T) {
	ctx := context.Background()
	r, st, rc, pub := newTestReconciler(t)
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	rc.pages = []remote.Page{{Events: []remote.Event{
		remoteEvent("ext-1", "r1", "Dentist", start),
	}}}
	_, err := r.Pull(ctx, "member-1", "fam-1", remote.ListCursor{}, 0)
	require.NoError(t, err)

	del := remoteEvent("ext-1", "r2", "", start)
	del.Deleted = true
	rc.pages = []remote.Page{{Events: []remote.Event{del}}}
	res, err := r.Pull(ctx, "member-1", "fam-1", remote.ListCursor{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	events, err := st.ListByTenant(ctx, "fam-1")
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Len(t, pub.byType(event.ChangeDeleted), 1)
}

func TestPullRemoteDeleteSettlesTombstone(t *testing.T) {
	ctx := context.Background()
	r, st, rc, _ := newTestReconciler(t)
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	// Local record already gone, tombstone waiting for the sweep. The pull
	// then observes the remote deletion, which settles it.
	require.NoError(t, st.PutTombstone(ctx, store.Tombstone{
		TenantID: "fam-1", EventID: "ev-1", ExternalID: "ext-5",
		DeletedAt: time.Now().UTC(),
	}))
	del := remoteEvent("ext-5", "r2", "", start)
	del.Deleted = true
	rc.pages = []remote.Page{{Events: []remote.Event{del}}}

	_, err := r.Pull(ctx, "member-1", "fam-1", remote.ListCursor{}, 0)
	require.NoError(t, err)

	tombs, err := st.ListTombstones(ctx, "fam-1")
	require.NoError(t, err)
	assert.Empty(t, tombs)
}

func TestPullConflictLocalIntentWins(t *testing.T) {
	ctx := context.Background()
	r, st, rc, pub := newTestReconciler(t)
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	// t0: synced state.
	t0 := start
	ev := event.Event{
		ID: "ev-1", TenantID: "fam-1", Title: "Dentist",
		Start: start, End: start.Add(time.Hour),
		ExternalID: "ext-1", ExternalRevision: "r1",
		UpdatedAt: t0, PushedAt: t0,
	}
	require.NoError(t, st.Upsert(ctx, ev))

	// t1: local edit after the last push.
	ev.Title = "Dentist at 9 sharp"
	ev.Touch(t0.Add(time.Minute))
	require.NoError(t, st.Upsert(ctx, ev))

	// t2: a pull delivers a competing remote change.
	rc.pages = []remote.Page{{Events: []remote.Event{
		remoteEvent("ext-1", "r2", "Dentist moved by grandma", start),
	}}}
	res, err := r.Pull(ctx, "member-1", "fam-1", remote.ListCursor{}, 0)
	require.NoError(t, err)

	// The local edit survives untouched and is re-queued for push.
	got, err := st.Get(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "Dentist at 9 sharp", got.Title)
	assert.Equal(t, "r1", got.ExternalRevision, "remote revision not applied")

	require.Len(t, res.Requeue, 1)
	assert.Equal(t, "ev-1", res.Requeue[0].ID)
	assert.Equal(t, 0, res.Applied)
	assert.Empty(t, pub.byType(event.ChangeUpdated), "no notification for the losing remote change")
}

func TestPullNoConflictWhenPushed(t *testing.T) {
	ctx := context.Background()
	r, st, rc, _ := newTestReconciler(t)
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	// Local state fully pushed (UpdatedAt == PushedAt): the remote change
	// applies cleanly.
	t0 := start
	ev := event.Event{
		ID: "ev-1", TenantID: "fam-1", Title: "Dentist",
		Start: start, End: start.Add(time.Hour),
		ExternalID: "ext-1", ExternalRevision: "r1",
		UpdatedAt: t0, PushedAt: t0,
	}
	require.NoError(t, st.Upsert(ctx, ev))

	rc.pages = []remote.Page{{Events: []remote.Event{
		remoteEvent("ext-1", "r2", "Dentist (remote move)", start),
	}}}
	res, err := r.Pull(ctx, "member-1", "fam-1", remote.ListCursor{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Empty(t, res.Requeue)

	got, err := st.Get(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "Dentist (remote move)", got.Title)
	assert.Equal(t, "r2", got.ExternalRevision)
}

func TestPullSkipsBadDeltaWithoutPoisoningPage(t *testing.T) {
	ctx := context.Background()
	r, st, rc, _ := newTestReconciler(t)
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	bad := remoteEvent("", "r1", "No identifier", start)
	rc.pages = []remote.Page{{Events: []remote.Event{
		remoteEvent("ext-1", "r1", "Good one", start),
		bad,
		remoteEvent("ext-2", "r1", "Another good one", start.Add(2*time.Hour)),
	}}}

	res, err := r.Pull(ctx, "member-1", "fam-1", remote.ListCursor{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 1, res.Skipped)

	events, err := st.ListByTenant(ctx, "fam-1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestPullMultiplePages(t *testing.T) {
	ctx := context.Background()
	r, st, rc, _ := newTestReconciler(t)
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	rc.pages = []remote.Page{
		{Events: []remote.Event{remoteEvent("ext-1", "r1", "First page", start)}},
		{Events: []remote.Event{remoteEvent("ext-2", "r1", "Second page", start.Add(2 * time.Hour))},
			NextSyncToken: "tok-final"},
	}

	res, err := r.Pull(ctx, "member-1", "fam-1", remote.ListCursor{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, "tok-final", res.SyncToken)
	assert.Equal(t, 2, rc.listCnt)

	events, err := st.ListByTenant(ctx, "fam-1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestPullBudgetExceededKeepsCursor(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	rc := newFakeRemote()
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	rc.pages = []remote.Page{
		{Events: []remote.Event{remoteEvent("ext-1", "r1", "First page", start)}},
		{Events: []remote.Event{remoteEvent("ext-2", "r1", "Second page", start.Add(2 * time.Hour))},
			NextSyncToken: "tok-final"},
	}

	// Every clock read advances 20s, so a 30s budget expires after the
	// first page.
	clock := start
	r := New(st, rc, &recordingPub{}, WithConfig(fastConfig()), WithClock(func() time.Time {
		clock = clock.Add(20 * time.Second)
		return clock
	}))

	res, err := r.Pull(ctx, "member-1", "fam-1", remote.ListCursor{}, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.True(t, res.HighWater.IsZero(), "cursor must not advance past unfetched pages")

	// The next run, unconstrained, finishes the listing and sets the mark.
	res, err = r.Pull(ctx, "member-1", "fam-1", remote.ListCursor{}, 0)
	require.NoError(t, err)
	assert.False(t, res.HighWater.IsZero())
	assert.Equal(t, "tok-final", res.SyncToken)

	events, err := st.ListByTenant(ctx, "fam-1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestPullPropagatesExpiredCursor(t *testing.T) {
	ctx := context.Background()
	r, _, rc, _ := newTestReconciler(t)

	rc.pageErr = fmt.Errorf("list: %w", remote.ErrExpiredCursor)
	_, err := r.Pull(ctx, "member-1", "fam-1", remote.ListCursor{SyncToken: "stale"}, 0)
	assert.ErrorIs(t, err, remote.ErrExpiredCursor)
}

func TestPullRespectsCancellation(t *testing.T) {
	r, _, _, _ := newTestReconciler(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Pull(ctx, "member-1", "fam-1", remote.ListCursor{}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFullSyncDeletesVanishedEvents(t *testing.T) {
	ctx := context.Background()
	r, st, rc, pub := newTestReconciler(t)
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	// Two synced local events; the remote listing only contains one of
	// them. The other vanished remotely and must be deleted locally.
	for i, ext := range []string{"ext-1", "ext-2"} {
		ev := event.Event{
			ID: fmt.Sprintf("ev-%d", i+1), TenantID: "fam-1", Title: "Synced",
			Start: start, End: start.Add(time.Hour),
			ExternalID: ext, ExternalRevision: "r1",
			UpdatedAt: start, PushedAt: start,
		}
		require.NoError(t, st.Upsert(ctx, ev))
	}
	// An unsynced local event must never be touched by the absence check.
	local := seedLocal(t, st, "fam-1", "Local only")

	rc.pages = []remote.Page{{Events: []remote.Event{
		remoteEvent("ext-1", "r1", "Synced", start),
	}}}

	_, err := r.FullSync(ctx, "member-1", "fam-1")
	require.NoError(t, err)

	_, err = st.Get(ctx, "ev-1")
	assert.NoError(t, err)
	_, err = st.Get(ctx, "ev-2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Get(ctx, local.ID)
	assert.NoError(t, err)

	deletes := pub.byType(event.ChangeDeleted)
	require.Len(t, deletes, 1)
	assert.Equal(t, "ev-2", deletes[0].Event.ID)
}

func TestPushRateLimitedRespectsRetryAfter(t *testing.T) {
	ctx := context.Background()
	r, st, rc, _ := newTestReconciler(t)
	ev := seedLocal(t, st, "fam-1", "Dentist")

	rc.failErr = &remote.Error{
		Kind: remote.KindRateLimited, Op: "insert",
		RetryAfter: time.Second,
		Err:        errors.New("429"),
	}
	rc.failCrea = 1

	start := time.Now()
	require.NoError(t, r.Push(ctx, "member-1", ev, event.ChangeCreated))
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "waited the advertised delay")
	assert.Equal(t, 2, rc.creates)
}
