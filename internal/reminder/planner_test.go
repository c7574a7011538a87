package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-reminders/internal/domain"
	"github.com/lalithlochan/nimbus-reminders/internal/gate"
)

type fakeStore struct {
	recipients   map[uuid.UUID]*domain.RecipientProfile
	appointments map[uuid.UUID]*domain.Appointment
	disabled     map[domain.ChannelType]bool
	inserted     []*domain.NotificationRecord
	seen         map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		recipients:   map[uuid.UUID]*domain.RecipientProfile{},
		appointments: map[uuid.UUID]*domain.Appointment{},
		disabled:     map[domain.ChannelType]bool{},
		seen:         map[string]bool{},
	}
}

func (f *fakeStore) GetRecipient(_ context.Context, id uuid.UUID) (*domain.RecipientProfile, error) {
	if r, ok := f.recipients[id]; ok {
		return r, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) GetAppointment(_ context.Context, id uuid.UUID) (*domain.Appointment, error) {
	if a, ok := f.appointments[id]; ok {
		return a, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) GetPreference(_ context.Context, id uuid.UUID, nt domain.NotificationType, ch domain.ChannelType) (*domain.NotificationPreference, error) {
	if f.disabled[ch] {
		return &domain.NotificationPreference{RecipientID: id, NotificationType: nt, ChannelType: ch, Enabled: false}, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) InsertNotifications(_ context.Context, recs []*domain.NotificationRecord) ([]*domain.NotificationRecord, error) {
	out := make([]*domain.NotificationRecord, 0, len(recs))
	for _, r := range recs {
		key := r.AppointmentID.String() + string(r.NotificationType) + string(r.ChannelType) + r.ScheduledFor.String()
		if f.seen[key] {
			continue
		}
		f.seen[key] = true
		f.inserted = append(f.inserted, r)
		out = append(out, r)
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

func setup(now time.Time, apptAt time.Time) (*Planner, *fakeStore, uuid.UUID, uuid.UUID) {
	store := newFakeStore()
	rid, aid := uuid.New(), uuid.New()
	store.recipients[rid] = &domain.RecipientProfile{
		RecipientID: rid,
		Timezone:    "America/New_York",
		Email:       strPtr("jo@example.com"),
		Phone:       strPtr("+15551234567"),
	}
	store.appointments[aid] = &domain.Appointment{
		ID:          aid,
		RecipientID: rid,
		ScheduledAt: apptAt,
		Status:      domain.AppointmentScheduled,
	}

	clock := func() time.Time { return now }
	p := New(store, gate.New(store, zap.NewNop(), clock), Config{MaxRetries: 3}, zap.NewNop()).WithClock(clock)
	return p, store, rid, aid
}

func TestScheduleAppointmentReminders_NewYork(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	p, store, _, aid := setup(now, time.Date(2025, 1, 16, 3, 0, 0, 0, time.UTC))

	plan, err := p.ScheduleAppointmentReminders(context.Background(), aid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// two fire times on three channels
	if len(plan.Created) != 6 || len(plan.Skipped) != 0 {
		t.Fatalf("created %d skipped %d, want 6 and 0", len(plan.Created), len(plan.Skipped))
	}
	first := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	second := time.Date(2025, 1, 16, 1, 0, 0, 0, time.UTC)
	counts := map[time.Time]int{}
	for _, rec := range plan.Created {
		counts[rec.ScheduledFor]++
		if rec.Status != domain.StatusPending || rec.MaxRetries != 3 || rec.RetryCount != 0 {
			t.Errorf("unexpected record %+v", rec)
		}
	}
	if counts[first] != 3 || counts[second] != 3 {
		t.Errorf("fire times %v", counts)
	}
	if len(store.inserted) != 6 {
		t.Errorf("inserted %d", len(store.inserted))
	}
}

func TestScheduleAppointmentReminders_SkipsGatedChannels(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p, store, rid, aid := setup(now, time.Date(2025, 6, 10, 16, 0, 0, 0, time.UTC))
	store.recipients[rid].Phone = nil
	store.disabled[domain.ChannelInApp] = true

	plan, err := p.ScheduleAppointmentReminders(context.Background(), aid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(plan.Created) != 2 {
		t.Fatalf("created %d, want 2 (email only)", len(plan.Created))
	}
	for _, rec := range plan.Created {
		if rec.ChannelType != domain.ChannelEmail {
			t.Errorf("unexpected channel %s", rec.ChannelType)
		}
	}
	if len(plan.Skipped) != 4 {
		t.Fatalf("skipped %d, want 4", len(plan.Skipped))
	}
	for _, s := range plan.Skipped {
		want := domain.CodeMissingContactInfo
		if s.ChannelType == domain.ChannelInApp {
			want = domain.CodePreferenceDisabled
		}
		if len(s.Violations) != 1 || s.Violations[0].Code != want {
			t.Errorf("%s: violations %+v", s.ChannelType, s.Violations)
		}
	}
}

func TestScheduleAppointmentReminders_IsIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p, _, _, aid := setup(now, time.Date(2025, 6, 10, 16, 0, 0, 0, time.UTC))

	if _, err := p.ScheduleAppointmentReminders(context.Background(), aid); err != nil {
		t.Fatalf("first: %v", err)
	}
	plan, err := p.ScheduleAppointmentReminders(context.Background(), aid)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(plan.Created) != 0 {
		t.Errorf("re-planning created %d duplicates", len(plan.Created))
	}
}

func TestScheduleAppointmentReminders_TooClose(t *testing.T) {
	now := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)
	p, store, _, aid := setup(now, now.Add(90*time.Minute))

	plan, err := p.ScheduleAppointmentReminders(context.Background(), aid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Created) != 0 || len(store.inserted) != 0 {
		t.Errorf("expected no records, got %d", len(plan.Created))
	}
}

func TestScheduleAppointmentReminders_Errors(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("unknown_appointment", func(t *testing.T) {
		p, _, _, _ := setup(now, now.Add(72*time.Hour))
		if _, err := p.ScheduleAppointmentReminders(context.Background(), uuid.New()); !errors.Is(err, domain.ErrAppointmentNotFound) {
			t.Errorf("expected ErrAppointmentNotFound, got %v", err)
		}
	})

	t.Run("invalid_timezone", func(t *testing.T) {
		p, store, rid, aid := setup(now, now.Add(72*time.Hour))
		store.recipients[rid].Timezone = "Atlantis/Lost"
		if _, err := p.ScheduleAppointmentReminders(context.Background(), aid); !errors.Is(err, domain.ErrInvalidTimezone) {
			t.Errorf("expected ErrInvalidTimezone, got %v", err)
		}
		if len(store.inserted) != 0 {
			t.Error("records created despite invalid timezone")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		p, store, _, aid := setup(now, now.Add(72*time.Hour))
		store.appointments[aid].Status = domain.AppointmentCancelled
		if _, err := p.ScheduleAppointmentReminders(context.Background(), aid); !errors.Is(err, domain.ErrAppointmentInactive) {
			t.Errorf("expected ErrAppointmentInactive, got %v", err)
		}
	})
}

func TestScheduleConfirmation(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		// 14:00 in New York
		{"daytime_now", time.Date(2025, 1, 15, 19, 0, 0, 0, time.UTC), time.Date(2025, 1, 15, 19, 0, 0, 0, time.UTC)},
		// 23:00 in New York moves to 07:00 next morning
		{"late_evening", time.Date(2025, 1, 16, 4, 0, 0, 0, time.UTC), time.Date(2025, 1, 16, 12, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, _, aid := setup(tt.now, tt.now.Add(72*time.Hour))

			plan, err := p.ScheduleConfirmation(context.Background(), aid)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(plan.Created) != 3 {
				t.Fatalf("created %d, want 3", len(plan.Created))
			}
			for _, rec := range plan.Created {
				if rec.NotificationType != domain.TypeAppointmentConfirmation || !rec.ScheduledFor.Equal(tt.want) {
					t.Errorf("unexpected record %s at %s", rec.NotificationType, rec.ScheduledFor)
				}
			}
		})
	}
}

func TestScheduleConfirmation_DeferredPastAppointment(t *testing.T) {
	// booked at 23:00 New York for 06:30 the next morning; 07:00 is too late
	now := time.Date(2025, 1, 16, 4, 0, 0, 0, time.UTC)
	apptAt := time.Date(2025, 1, 16, 11, 30, 0, 0, time.UTC)
	p, store, _, aid := setup(now, apptAt)

	plan, err := p.ScheduleConfirmation(context.Background(), aid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Created) != 0 || len(store.inserted) != 0 {
		t.Fatalf("created %d records, want none", len(plan.Created))
	}
	if len(plan.Skipped) != 3 {
		t.Fatalf("skipped %d, want 3", len(plan.Skipped))
	}
	for _, s := range plan.Skipped {
		if len(s.Violations) != 1 || s.Violations[0].Code != domain.CodeScheduledInPast {
			t.Errorf("%s: unexpected violations %+v", s.ChannelType, s.Violations)
		}
		if !s.ScheduledFor.Equal(time.Date(2025, 1, 16, 12, 0, 0, 0, time.UTC)) {
			t.Errorf("%s: scheduled for %s", s.ChannelType, s.ScheduledFor)
		}
	}
}
