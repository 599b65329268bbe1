package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/safecircle-api/internal/dto"
	"github.com/noah-isme/safecircle-api/internal/models"
	"github.com/noah-isme/safecircle-api/internal/realtime"
	appErrors "github.com/noah-isme/safecircle-api/pkg/errors"
	"github.com/noah-isme/safecircle-api/pkg/jobs"
)

type sosFixture struct {
	svc      *SOSService
	repo     *memSOSRepo
	contacts *stubContacts
	notifier *recordingNotifier
	audit    *recordingAudit
}

func newSOSFixture(t *testing.T) *sosFixture {
	t.Helper()
	repo := newMemSOSRepo()
	contacts := &stubContacts{
		primary: map[string][]models.EmergencyContact{
			"subject-a": {
				{ID: "c1", OwnerID: "subject-a", ContactUserID: strPtr("subject-b"), Name: "Bob", IsPrimary: true},
				{ID: "c2", OwnerID: "subject-a", ContactUserID: strPtr("subject-b"), Name: "Bob again", IsPrimary: true},
				{ID: "c3", OwnerID: "subject-a", Name: "No account", IsPrimary: true},
			},
		},
	}
	notifier := &recordingNotifier{}
	audit := &recordingAudit{}
	svc := NewSOSService(repo, contacts, notifier, audit, nil, nil, zap.NewNop(), SOSConfig{HistoryDefaultLimit: 20, HistoryMaxLimit: 50})
	return &sosFixture{svc: svc, repo: repo, contacts: contacts, notifier: notifier, audit: audit}
}

func triggerReq(key string) dto.TriggerSOSRequest {
	return dto.TriggerSOSRequest{Latitude: floatPtr(37.77), Longitude: floatPtr(-122.41), IdempotencyKey: key}
}

func TestSOSScenarioTriggerConflictResolveHistory(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	e1, created, err := f.svc.Trigger(ctx, "subject-a", triggerReq(""))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.SOSStatusActive, e1.Status)
	assert.Equal(t, []string{"subject-b"}, e1.NotifiedRecipients.IDs())

	_, _, err = f.svc.Trigger(ctx, "subject-a", triggerReq(""))
	require.Error(t, err)
	assert.True(t, appErrors.IsKind(err, appErrors.KindConflict))
	assert.ErrorIs(t, err, appErrors.ErrSOSAlreadyActive)

	resolved, err := f.svc.Resolve(ctx, "subject-a")
	require.NoError(t, err)
	assert.Equal(t, e1.ID, resolved.ID)
	assert.Equal(t, models.SOSStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Nil(t, resolved.CancelledAt)

	history, err := f.svc.History(ctx, "subject-a", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Len(t, history[0].AuditTrail, 2)
	assert.Equal(t, models.SOSActionTriggered, history[0].AuditTrail[0].Action)
	assert.Equal(t, models.SOSActionResolved, history[0].AuditTrail[1].Action)
	assert.False(t, history[0].AuditTrail[1].Timestamp.Before(history[0].AuditTrail[0].Timestamp))

	assert.Equal(t, []string{realtime.EventSOSTriggered, realtime.EventSOSResolved}, f.notifier.events())
	assert.Equal(t, []string{models.AuditActionSOSTriggered, models.AuditActionSOSResolved}, f.audit.actions())
}

func TestSOSTriggerIdempotentSequential(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	first, created, err := f.svc.Trigger(ctx, "subject-a", triggerReq("k1"))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.svc.Trigger(ctx, "subject-a", triggerReq("k1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.repo.count())
	assert.Len(t, f.notifier.events(), 1)
}

func TestSOSTriggerIdempotentAfterTerminal(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	first, _, err := f.svc.Trigger(ctx, "subject-a", triggerReq("k1"))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, "subject-a", dto.CancelSOSRequest{})
	require.NoError(t, err)

	replayed, created, err := f.svc.Trigger(ctx, "subject-a", triggerReq("k1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, replayed.ID)
	assert.Equal(t, models.SOSStatusCancelled, replayed.Status)
}

func TestSOSTriggerConcurrentSameKey(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	createdCount := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ev, created, err := f.svc.Trigger(ctx, "subject-a", triggerReq("k1"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[i] = ev.ID
			if created {
				createdCount++
			}
			mu.Unlock()
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, f.repo.count())
	assert.Equal(t, 1, createdCount)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestSOSTriggerConcurrentNoKeyKeepsOneActive(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, conflicts := 0, 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.Trigger(ctx, "subject-a", triggerReq(""))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case appErrors.IsKind(err, appErrors.KindConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, conflicts)
	assert.Equal(t, 1, f.repo.count())
}

func TestSOSTriggerKeyRaceWonByOneActiveIndex(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	// A same-key winner commits between the pre-checks and the insert, and
	// the loser trips the one-active index first.
	f.repo.activeFirst = true
	winner := &models.SOSEvent{ID: "winner", SubjectID: "subject-a", Status: models.SOSStatusActive, IdempotencyKey: strPtr("k1"), TriggeredAt: time.Now()}
	repo := &racingRepo{memSOSRepo: f.repo, onCreate: func() { _ = f.repo.Create(ctx, winner) }}
	f.svc.repo = repo

	ev, created, err := f.svc.Trigger(ctx, "subject-a", triggerReq("k1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner", ev.ID)
	assert.Empty(t, f.notifier.events())
}

func TestSOSTriggerKeyRaceWonByKeyIndex(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	winner := &models.SOSEvent{ID: "winner", SubjectID: "subject-a", Status: models.SOSStatusActive, IdempotencyKey: strPtr("k1"), TriggeredAt: time.Now()}
	f.svc.repo = &racingRepo{memSOSRepo: f.repo, onCreate: func() { _ = f.repo.Create(ctx, winner) }}

	ev, created, err := f.svc.Trigger(ctx, "subject-a", triggerReq("k1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner", ev.ID)
	assert.Equal(t, 1, f.repo.count())
}

func TestSOSTriggerActiveIndexWithoutKeyIsConflict(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	other := &models.SOSEvent{ID: "other", SubjectID: "subject-a", Status: models.SOSStatusActive, TriggeredAt: time.Now()}
	f.svc.repo = &racingRepo{memSOSRepo: f.repo, onCreate: func() { _ = f.repo.Create(ctx, other) }}

	_, _, err := f.svc.Trigger(ctx, "subject-a", triggerReq("k2"))
	assert.ErrorIs(t, err, appErrors.ErrSOSAlreadyActive)
}

type racingRepo struct {
	*memSOSRepo
	onCreate func()
	once     sync.Once
}

func (r *racingRepo) Create(ctx context.Context, event *models.SOSEvent) error {
	r.once.Do(r.onCreate)
	return r.memSOSRepo.Create(ctx, event)
}

// lateWinnerRepo commits an event after the key lookup has missed and
// before the active check runs.
type lateWinnerRepo struct {
	*memSOSRepo
	winner *models.SOSEvent
	once   sync.Once
}

func (r *lateWinnerRepo) FindActive(ctx context.Context, subjectID string) (*models.SOSEvent, error) {
	r.once.Do(func() { _ = r.memSOSRepo.Create(ctx, r.winner) })
	return r.memSOSRepo.FindActive(ctx, subjectID)
}

func TestSOSTriggerSameKeyCommittedBeforeActiveCheck(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	winner := &models.SOSEvent{ID: "winner", SubjectID: "subject-a", Status: models.SOSStatusActive, IdempotencyKey: strPtr("k1"), TriggeredAt: time.Now()}
	f.svc.repo = &lateWinnerRepo{memSOSRepo: f.repo, winner: winner}

	ev, created, err := f.svc.Trigger(ctx, "subject-a", triggerReq("k1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner", ev.ID)
	assert.Equal(t, 1, f.repo.count())
	assert.Equal(t, 1, f.repo.createCalls)
	assert.Empty(t, f.notifier.events())
}

func TestSOSTriggerOtherKeyCommittedBeforeActiveCheck(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	winner := &models.SOSEvent{ID: "winner", SubjectID: "subject-a", Status: models.SOSStatusActive, IdempotencyKey: strPtr("k-other"), TriggeredAt: time.Now()}
	f.svc.repo = &lateWinnerRepo{memSOSRepo: f.repo, winner: winner}

	_, _, err := f.svc.Trigger(ctx, "subject-a", triggerReq("k1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrSOSAlreadyActive)
	assert.Equal(t, "winner", appErrors.FromError(err).Details["eventId"])
}

func TestSOSTriggerKeyOwnedByAnotherSubject(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Trigger(ctx, "subject-a", triggerReq("k1"))
	require.NoError(t, err)

	_, _, err = f.svc.Trigger(ctx, "subject-c", triggerReq("k1"))
	assert.ErrorIs(t, err, appErrors.ErrIdempotencyKey)
}

func TestSOSTriggerValidation(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	cases := map[string]dto.TriggerSOSRequest{
		"missing latitude": {Longitude: floatPtr(1)},
		"latitude range":   {Latitude: floatPtr(91), Longitude: floatPtr(1)},
		"longitude range":  {Latitude: floatPtr(1), Longitude: floatPtr(-181)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := f.svc.Trigger(ctx, "subject-a", req)
			assert.True(t, appErrors.IsKind(err, appErrors.KindValidation))
		})
	}
	assert.Equal(t, 0, f.repo.count())
}

func TestSOSTriggerStorageFailureIsInternal(t *testing.T) {
	f := newSOSFixture(t)
	f.repo.failCreate = errors.New("connection refused")

	_, _, err := f.svc.Trigger(context.Background(), "subject-a", triggerReq(""))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.KindInternal, appErr.Kind)
	assert.Equal(t, appErrors.ErrInternal.Message, appErr.Public().Message)
	assert.NotContains(t, appErr.Public().Message, "connection refused")
}

func TestSOSGuardLaw(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	_, err := f.svc.Cancel(ctx, "subject-a", dto.CancelSOSRequest{})
	assert.True(t, appErrors.IsKind(err, appErrors.KindInvalidState))
	_, err = f.svc.Resolve(ctx, "subject-a")
	assert.ErrorIs(t, err, appErrors.ErrSOSNotActive)
}

func TestSOSTerminalStateLaw(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Trigger(ctx, "subject-a", triggerReq(""))
	require.NoError(t, err)
	cancelled, err := f.svc.Cancel(ctx, "subject-a", dto.CancelSOSRequest{Reason: "  false alarm "})
	require.NoError(t, err)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "false alarm", *cancelled.CancelReason)

	_, err = f.svc.Resolve(ctx, "subject-a")
	assert.ErrorIs(t, err, appErrors.ErrSOSNotActive)
	_, err = f.svc.Cancel(ctx, "subject-a", dto.CancelSOSRequest{})
	assert.ErrorIs(t, err, appErrors.ErrSOSNotActive)

	history, err := f.svc.History(ctx, "subject-a", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.SOSStatusCancelled, history[0].Status)
	assert.Nil(t, history[0].ResolvedAt)
}

func TestSOSCancelResolveRaceFirstWriterWins(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Trigger(ctx, "subject-a", triggerReq(""))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); _, errs[0] = f.svc.Cancel(ctx, "subject-a", dto.CancelSOSRequest{}) }()
	go func() { defer wg.Done(); _, errs[1] = f.svc.Resolve(ctx, "subject-a") }()
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, appErrors.ErrSOSNotActive)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	history, err := f.svc.History(ctx, "subject-a", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].CancelledAt != nil && history[0].ResolvedAt != nil)
	assert.Len(t, history[0].AuditTrail, 2)
}

func TestSOSAuditTrailClampedToTrigger(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return base }
	_, _, err := f.svc.Trigger(ctx, "subject-a", triggerReq(""))
	require.NoError(t, err)

	f.svc.now = func() time.Time { return base.Add(-time.Minute) }
	resolved, err := f.svc.Resolve(ctx, "subject-a")
	require.NoError(t, err)
	assert.Equal(t, base, *resolved.ResolvedAt)
	assert.Equal(t, base, resolved.AuditTrail[1].Timestamp)
}

func TestSOSGetActive(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	active, err := f.svc.GetActive(ctx, "subject-a")
	require.NoError(t, err)
	assert.Nil(t, active)

	ev, _, err := f.svc.Trigger(ctx, "subject-a", triggerReq(""))
	require.NoError(t, err)
	active, err = f.svc.GetActive(ctx, "subject-a")
	require.NoError(t, err)
	assert.Equal(t, ev.ID, active.ID)
}

func TestSOSHistoryClampsLimit(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		f.svc.now = func() time.Time { return at }
		_, _, err := f.svc.Trigger(ctx, "subject-a", triggerReq(""))
		require.NoError(t, err)
		_, err = f.svc.Resolve(ctx, "subject-a")
		require.NoError(t, err)
	}

	history, err := f.svc.History(ctx, "subject-a", 1000)
	require.NoError(t, err)
	assert.Len(t, history, 50)
	assert.True(t, history[0].TriggeredAt.After(history[1].TriggeredAt))

	history, err = f.svc.History(ctx, "subject-a", 0)
	require.NoError(t, err)
	assert.Len(t, history, 20)
}

func TestSOSCircleStatus(t *testing.T) {
	f := newSOSFixture(t)
	ctx := context.Background()
	f.contacts.linked = map[string][]models.LinkedContact{
		"subject-a": {{UserID: "subject-b", Name: "Bob"}, {UserID: "subject-c", Name: "Carol"}},
	}

	_, _, err := f.svc.Trigger(ctx, "subject-c", dto.TriggerSOSRequest{Latitude: floatPtr(1.5), Longitude: floatPtr(2.5)})
	require.NoError(t, err)

	entries, err := f.svc.CircleStatus(ctx, "subject-a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "subject-c", entries[0].ContactID)
	assert.Equal(t, "Carol", entries[0].Name)
	assert.Equal(t, 1.5, entries[0].Latitude)

	entries, err = f.svc.CircleStatus(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type failingChannel struct {
	mu    sync.Mutex
	calls int
	done  chan struct{}
}

func (c *failingChannel) EmitToSubjects(ctx context.Context, subjectIDs []string, event string, payload interface{}) error {
	c.mu.Lock()
	c.calls++
	calls := c.calls
	c.mu.Unlock()
	if calls == 2 {
		close(c.done)
	}
	return errors.New("realtime channel unreachable")
}

func TestSOSTriggerSucceedsWhenChannelUnreachable(t *testing.T) {
	f := newSOSFixture(t)
	channel := &failingChannel{done: make(chan struct{})}
	notifications := NewNotificationService(channel, jobs.QueueConfig{Workers: 1, BufferSize: 4, MaxRetries: 1, RetryDelay: 10 * time.Millisecond}, NewMetricsService(), zap.NewNop())
	notifications.Start(context.Background())
	defer notifications.Stop()
	f.svc.notifier = notifications

	ev, created, err := f.svc.Trigger(context.Background(), "subject-a", triggerReq(""))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.SOSStatusActive, ev.Status)

	select {
	case <-channel.done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was not attempted")
	}
}
