package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/safecircle-api/internal/models"
	"github.com/noah-isme/safecircle-api/internal/repository"
)

// memSOSRepo mirrors the unique index on idempotency_key and the partial
// unique index on (subject_id) WHERE status = 'active'.
type memSOSRepo struct {
	mu     sync.Mutex
	events map[string]*models.SOSEvent
	byKey  map[string]string
	active map[string]string
	order  []string

	createCalls int
	failCreate  error
	// activeFirst checks the one-active index before the key index.
	activeFirst bool
}

func newMemSOSRepo() *memSOSRepo {
	return &memSOSRepo{
		events: map[string]*models.SOSEvent{},
		byKey:  map[string]string{},
		active: map[string]string{},
	}
}

func cloneEvent(ev *models.SOSEvent) *models.SOSEvent {
	c := *ev
	c.AuditTrail = append(models.AuditTrail(nil), ev.AuditTrail...)
	c.NotifiedRecipients = append(models.RecipientSnapshot(nil), ev.NotifiedRecipients...)
	return &c
}

func (r *memSOSRepo) Create(ctx context.Context, event *models.SOSEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.failCreate != nil {
		return r.failCreate
	}
	_, keyTaken := r.byKey[derefKey(event)]
	_, activeTaken := r.active[event.SubjectID]
	keyTaken = keyTaken && event.IdempotencyKey != nil
	activeTaken = activeTaken && event.Status == models.SOSStatusActive
	switch {
	case r.activeFirst && activeTaken:
		return repository.ErrActiveEventExists
	case keyTaken:
		return repository.ErrDuplicateIdempotencyKey
	case activeTaken:
		return repository.ErrActiveEventExists
	}
	if event.Status == models.SOSStatusActive {
		r.active[event.SubjectID] = event.ID
	}
	if event.IdempotencyKey != nil {
		r.byKey[*event.IdempotencyKey] = event.ID
	}
	r.events[event.ID] = cloneEvent(event)
	r.order = append(r.order, event.ID)
	return nil
}

func derefKey(event *models.SOSEvent) string {
	if event.IdempotencyKey == nil {
		return ""
	}
	return *event.IdempotencyKey
}

func (r *memSOSRepo) FindByIdempotencyKey(ctx context.Context, key string) (*models.SOSEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneEvent(r.events[id]), nil
}

func (r *memSOSRepo) FindActive(ctx context.Context, subjectID string) (*models.SOSEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[subjectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneEvent(r.events[id]), nil
}

func (r *memSOSRepo) History(ctx context.Context, subjectID string, limit int) ([]models.SOSEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SOSEvent
	for _, id := range r.order {
		if ev := r.events[id]; ev.SubjectID == subjectID {
			out = append(out, *cloneEvent(ev))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memSOSRepo) FindActiveBySubjects(ctx context.Context, subjectIDs []string) ([]models.SOSEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SOSEvent
	for _, s := range subjectIDs {
		if id, ok := r.active[s]; ok {
			out = append(out, *cloneEvent(r.events[id]))
		}
	}
	return out, nil
}

func (r *memSOSRepo) Transition(ctx context.Context, t models.SOSTransition) (*models.SOSEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[t.SubjectID]
	if !ok {
		return nil, repository.ErrEventNotActive
	}
	ev := r.events[id]
	at := t.At
	if at.Before(ev.TriggeredAt) {
		at = ev.TriggeredAt
	}
	ev.Status = t.To
	switch t.To {
	case models.SOSStatusCancelled:
		ev.CancelledAt = &at
		ev.CancelReason = t.Reason
	case models.SOSStatusResolved:
		ev.ResolvedAt = &at
	}
	entry := models.AuditEntry{Action: t.Action, Timestamp: at}
	if t.Reason != nil {
		entry.Detail = *t.Reason
	}
	ev.AuditTrail = append(ev.AuditTrail, entry)
	ev.Version++
	ev.UpdatedAt = t.At
	delete(r.active, t.SubjectID)
	return cloneEvent(ev), nil
}

func (r *memSOSRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type stubContacts struct {
	primary map[string][]models.EmergencyContact
	linked  map[string][]models.LinkedContact
	err     error
}

func (s *stubContacts) FindPrimaryContacts(ctx context.Context, ownerID string) ([]models.EmergencyContact, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.primary[ownerID], nil
}

func (s *stubContacts) FindLinkedContacts(ctx context.Context, subjectID string) ([]models.LinkedContact, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.linked[subjectID], nil
}

type sentNotification struct {
	recipients []string
	event      string
	payload    interface{}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(recipientIDs []string, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{recipients: recipientIDs, event: event, payload: payload})
}

func (n *recordingNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.event)
	}
	return out
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (a *recordingAudit) RecordAsync(ctx context.Context, entry models.AuditLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

// memTokenStore holds its lock for the whole rotation, like SELECT ... FOR UPDATE.
type memTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{tokens: map[string]*models.RefreshToken{}}
}

func (s *memTokenStore) Create(ctx context.Context, token *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *token
	s.tokens[token.TokenHash] = &c
	return nil
}

func (s *memTokenStore) Rotate(ctx context.Context, tokenHash string, now time.Time, mint repository.MintFunc) (*models.RefreshToken, *models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tokens[tokenHash]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	snapshot := *cur
	if cur.Revoked {
		for _, t := range s.tokens {
			if t.Family == cur.Family && !t.Revoked {
				t.Revoked = true
				revokedAt := now
				t.RevokedAt = &revokedAt
			}
		}
		return &snapshot, nil, repository.ErrRefreshTokenReused
	}
	if cur.Expired(now) {
		return &snapshot, nil, repository.ErrRefreshTokenExpired
	}
	next, err := mint(&snapshot)
	if err != nil {
		return &snapshot, nil, err
	}
	revokedAt := now
	cur.Revoked = true
	cur.RevokedAt = &revokedAt
	cur.ReplacedBy = &next.ID
	c := *next
	s.tokens[next.TokenHash] = &c
	out := *cur
	return &out, next, nil
}

func (s *memTokenStore) RevokeAllForSubject(ctx context.Context, subjectID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tokens {
		if t.SubjectID == subjectID && !t.Revoked {
			t.Revoked = true
			revokedAt := now
			t.RevokedAt = &revokedAt
			n++
		}
	}
	return n, nil
}

func (s *memTokenStore) DeleteStale(ctx context.Context, expiredBefore, revokedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, t := range s.tokens {
		if t.ExpiresAt.Before(expiredBefore) || (t.Revoked && t.RevokedAt != nil && t.RevokedAt.Before(revokedBefore)) {
			delete(s.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (s *memTokenStore) liveInFamily(family string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tokens {
		if t.Family == family && !t.Revoked {
			n++
		}
	}
	return n
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }
