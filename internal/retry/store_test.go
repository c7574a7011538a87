package retry

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/nimbus-reminders/internal/alert"
	"github.com/lalithlochan/nimbus-reminders/internal/domain"
)

// memStore is an in-memory Store whose Claim and Mark methods are atomic
// compare-and-swap operations, like the SQL they stand in for.
type memStore struct {
	mu           sync.Mutex
	records      map[uuid.UUID]*domain.NotificationRecord
	attempts     []*domain.NotificationAttempt
	recipients   map[uuid.UUID]*domain.RecipientProfile
	appointments map[uuid.UUID]*domain.Appointment
	prefs        map[uuid.UUID]bool // recipient -> enabled, for every pair
}

func newMemStore() *memStore {
	return &memStore{
		records:      map[uuid.UUID]*domain.NotificationRecord{},
		recipients:   map[uuid.UUID]*domain.RecipientProfile{},
		appointments: map[uuid.UUID]*domain.Appointment{},
		prefs:        map[uuid.UUID]bool{},
	}
}

func clone(r *domain.NotificationRecord) *domain.NotificationRecord {
	c := *r
	return &c
}

func (s *memStore) put(r *domain.NotificationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = clone(r)
}

func (s *memStore) get(id uuid.UUID) *domain.NotificationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.records[id])
}

func (s *memStore) attemptsFor(id uuid.UUID) []*domain.NotificationAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.NotificationAttempt
	for _, a := range s.attempts {
		if a.NotificationID == id {
			out = append(out, a)
		}
	}
	return out
}

func (s *memStore) GetRecipient(_ context.Context, id uuid.UUID) (*domain.RecipientProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *memStore) GetAppointment(_ context.Context, id uuid.UUID) (*domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (s *memStore) GetPreference(_ context.Context, id uuid.UUID, nt domain.NotificationType, ch domain.ChannelType) (*domain.NotificationPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enabled, ok := s.prefs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.NotificationPreference{RecipientID: id, NotificationType: nt, ChannelType: ch, Enabled: enabled}, nil
}

func (s *memStore) GetActiveTemplate(context.Context, domain.NotificationType, domain.ChannelType) (*domain.Template, error) {
	return nil, domain.ErrNotFound
}

func (s *memStore) GetNotification(_ context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(r), nil
}

func (s *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.NotificationRecord
	for _, r := range s.records {
		if r.Status == domain.StatusPending && !r.ScheduledFor.After(now) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListRetryable(_ context.Context, now time.Time, base, maxDelay time.Duration, limit int) ([]*domain.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := Backoff{Base: base, Max: maxDelay}
	var out []*domain.NotificationRecord
	for _, r := range s.records {
		if b.Eligible(r, now) {
			out = append(out, clone(r))
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Claim(_ context.Context, id uuid.UUID, from domain.Status, retryCount int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok || r.Status != from || r.RetryCount != retryCount {
		return false, nil
	}
	if from == domain.StatusFailed {
		r.RetryCount++
	}
	r.Status = domain.StatusSending
	r.LastAttemptAt = &at
	return true, nil
}

func (s *memStore) MarkSent(_ context.Context, id uuid.UUID, messageID string, at time.Time, delivered bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok || r.Status != domain.StatusSending {
		return false, nil
	}
	r.Status = domain.StatusSent
	r.SentAt = &at
	r.MessageID = &messageID
	r.LastError = nil
	if delivered {
		r.Status = domain.StatusDelivered
		r.DeliveredAt = &at
	}
	return true, nil
}

func (s *memStore) MarkFailed(_ context.Context, id uuid.UUID, lastError string, permanent bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok || r.Status != domain.StatusSending {
		return false, nil
	}
	r.Status = domain.StatusFailed
	r.LastError = &lastError
	if permanent {
		r.MaxRetries = r.RetryCount
	}
	return true, nil
}

func (s *memStore) ReleaseStale(_ context.Context, before time.Time, lastError string) ([]*domain.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.NotificationRecord
	for _, r := range s.records {
		if r.Status == domain.StatusSending && r.LastAttemptAt != nil && r.LastAttemptAt.Before(before) {
			r.Status = domain.StatusFailed
			msg := lastError
			r.LastError = &msg
			out = append(out, clone(r))
		}
	}
	return out, nil
}

func (s *memStore) InsertAttempt(_ context.Context, a *domain.NotificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
	return nil
}

// stubGateway answers both email and SMS sends with a configurable function.
type stubGateway struct {
	calls atomic.Int64
	fn    func(ctx context.Context) (string, error)
}

func (g *stubGateway) send(ctx context.Context) (string, error) {
	g.calls.Add(1)
	if g.fn == nil {
		return "gw-" + uuid.NewString(), nil
	}
	return g.fn(ctx)
}

func (g *stubGateway) SendEmail(ctx context.Context, _, _, _ string) (string, error) {
	return g.send(ctx)
}

func (g *stubGateway) SendSMS(ctx context.Context, _, _ string) (string, error) {
	return g.send(ctx)
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert.TerminalFailure
}

func (a *recordingAlerter) Alert(_ context.Context, f alert.TerminalFailure) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, f)
	return nil
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}
