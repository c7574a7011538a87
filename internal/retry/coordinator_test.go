package retry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-reminders/internal/channel"
	"github.com/lalithlochan/nimbus-reminders/internal/content"
	"github.com/lalithlochan/nimbus-reminders/internal/domain"
	"github.com/lalithlochan/nimbus-reminders/internal/gate"
	"github.com/lalithlochan/nimbus-reminders/internal/gateway"
)

var t0 = time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC)

type harness struct {
	store   *memStore
	gw      *stubGateway
	alerter *recordingAlerter
	coord   *Coordinator
	rid     uuid.UUID
	aid     uuid.UUID
}

func strPtr(s string) *string { return &s }

func newHarness(cfg Config) *harness {
	store := newMemStore()
	gw := &stubGateway{}
	alerter := &recordingAlerter{}
	logger := zap.NewNop()

	rid, aid := uuid.New(), uuid.New()
	store.recipients[rid] = &domain.RecipientProfile{
		RecipientID: rid,
		DisplayName: strPtr("Jo"),
		Timezone:    "America/New_York",
		Email:       strPtr("jo@example.com"),
		Phone:       strPtr("+15551234567"),
	}
	store.appointments[aid] = &domain.Appointment{
		ID:              aid,
		RecipientID:     rid,
		ScheduledAt:     t0.Add(24 * time.Hour),
		DoctorName:      "Dr. Chen",
		AppointmentType: "Checkup",
		Status:          domain.AppointmentScheduled,
	}

	registry := channel.NewRegistry(
		channel.NewEmail(gw, nil, logger),
		channel.NewSMS(gw, nil, logger),
		channel.NewInApp(logger),
	)

	coord := New(store, gate.New(store, logger, nil), registry, content.NewBuilder(store, logger), alerter, cfg, logger)
	return &harness{store: store, gw: gw, alerter: alerter, coord: coord, rid: rid, aid: aid}
}

func (h *harness) record(ch domain.ChannelType, maxRetries int) *domain.NotificationRecord {
	aid := h.aid
	rec := &domain.NotificationRecord{
		ID:               uuid.New(),
		RecipientID:      h.rid,
		AppointmentID:    &aid,
		NotificationType: domain.TypeAppointmentReminder,
		ChannelType:      ch,
		Status:           domain.StatusPending,
		ScheduledFor:     t0.Add(-time.Minute),
		MaxRetries:       maxRetries,
		CreatedAt:        t0.Add(-time.Hour),
	}
	h.store.put(rec)
	return rec
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{-1, 60 * time.Second},
		{0, 60 * time.Second},
		{1, 120 * time.Second},
		{2, 240 * time.Second},
		{5, 1920 * time.Second},
		{6, time.Hour},
		{62, time.Hour},
	}
	for _, tt := range tests {
		if got := BackoffDelay(tt.n); got != tt.want {
			t.Errorf("BackoffDelay(%d) = %s, want %s", tt.n, got, tt.want)
		}
	}

	// uncapped doubling
	b := Backoff{Base: time.Second}
	for n := 0; n < 10; n++ {
		if b.Delay(n+1) != 2*b.Delay(n) {
			t.Fatalf("Delay(%d) = %s is not double Delay(%d) = %s", n+1, b.Delay(n+1), n, b.Delay(n))
		}
	}
}

func TestEligible_RetryCountTwoWaits240s(t *testing.T) {
	last := t0
	rec := &domain.NotificationRecord{Status: domain.StatusFailed, RetryCount: 2, MaxRetries: 3, LastAttemptAt: &last}
	b := DefaultBackoff()

	if b.Eligible(rec, t0.Add(239*time.Second)) {
		t.Error("eligible before backoff elapsed")
	}
	if !b.Eligible(rec, t0.Add(240*time.Second)) {
		t.Error("not eligible at T+240s")
	}

	rec.RetryCount = 3
	if b.Eligible(rec, t0.Add(24*time.Hour)) {
		t.Error("exhausted record reported eligible")
	}

	rec.RetryCount = 0
	rec.Status = domain.StatusSent
	if b.Eligible(rec, t0.Add(24*time.Hour)) {
		t.Error("sent record reported eligible")
	}
}

func TestProcessDue_SendsEmail(t *testing.T) {
	h := newHarness(Config{})
	rec := h.record(domain.ChannelEmail, 3)

	n, err := h.coord.ProcessDue(context.Background(), t0)
	if err != nil || n != 1 {
		t.Fatalf("ProcessDue = %d, %v", n, err)
	}

	got := h.store.get(rec.ID)
	if got.Status != domain.StatusSent || got.SentAt == nil || got.MessageID == nil {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.LastAttemptAt == nil || !got.LastAttemptAt.Equal(t0) {
		t.Errorf("last attempt = %v", got.LastAttemptAt)
	}

	attempts := h.store.attemptsFor(rec.ID)
	if len(attempts) != 1 || !attempts[0].Success || attempts[0].AttemptNumber != 1 {
		t.Errorf("unexpected attempts %+v", attempts)
	}
}

func TestProcessDue_NotYetDue(t *testing.T) {
	h := newHarness(Config{})
	rec := h.record(domain.ChannelEmail, 3)

	n, err := h.coord.ProcessDue(context.Background(), rec.ScheduledFor.Add(-time.Second))
	if err != nil || n != 0 {
		t.Fatalf("ProcessDue = %d, %v", n, err)
	}
	if h.store.get(rec.ID).Status != domain.StatusPending {
		t.Error("record claimed before its fire time")
	}
}

func TestProcessDue_InAppIsDeliveredImmediately(t *testing.T) {
	h := newHarness(Config{})
	rec := h.record(domain.ChannelInApp, 3)

	if _, err := h.coord.ProcessDue(context.Background(), t0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := h.store.get(rec.ID)
	if got.Status != domain.StatusDelivered || got.DeliveredAt == nil || got.SentAt == nil {
		t.Fatalf("unexpected record %+v", got)
	}
	if h.gw.calls.Load() != 0 {
		t.Error("in-app delivery must not call a gateway")
	}
}

func TestRetry_BackoffSchedule(t *testing.T) {
	h := newHarness(Config{})
	h.gw.fn = func(context.Context) (string, error) { return "", errors.New("503 service unavailable") }
	rec := h.record(domain.ChannelSMS, 3)
	ctx := context.Background()

	h.coord.ProcessDue(ctx, t0)
	got := h.store.get(rec.ID)
	if got.Status != domain.StatusFailed || got.RetryCount != 0 || got.LastError == nil {
		t.Fatalf("after first attempt: %+v", got)
	}

	// retry k waits 60s·2^(k-1) after the previous attempt
	last := t0
	for k := 1; k <= 3; k++ {
		delay := BackoffDelay(k - 1)

		if n, _ := h.coord.RetryEligibleNotifications(ctx, last.Add(delay-time.Second)); n != 0 {
			t.Fatalf("retry %d ran %s early", k, time.Second)
		}
		last = last.Add(delay)
		if n, _ := h.coord.RetryEligibleNotifications(ctx, last); n != 1 {
			t.Fatalf("retry %d did not run at +%s", k, delay)
		}

		got = h.store.get(rec.ID)
		if got.RetryCount != k || got.Status != domain.StatusFailed {
			t.Fatalf("after retry %d: %+v", k, got)
		}
	}

	if !got.Terminal() {
		t.Fatalf("record not terminal after exhausting retries: %+v", got)
	}
	if n, _ := h.coord.RetryEligibleNotifications(ctx, last.Add(24*time.Hour)); n != 0 {
		t.Error("terminal record was retried")
	}
	if len(h.store.attemptsFor(rec.ID)) != 4 {
		t.Errorf("attempts = %d, want 4", len(h.store.attemptsFor(rec.ID)))
	}
	if h.alerter.count() != 1 {
		t.Errorf("alerts = %d, want 1", h.alerter.count())
	}
	if h.alerter.alerts[0].Attempts != 4 || !strings.Contains(h.alerter.alerts[0].LastError, "503") {
		t.Errorf("unexpected alert %+v", h.alerter.alerts[0])
	}
}

func TestRetry_RecoversAfterTransientFailure(t *testing.T) {
	h := newHarness(Config{})
	var fail sync.Once
	h.gw.fn = func(context.Context) (string, error) {
		failed := false
		fail.Do(func() { failed = true })
		if failed {
			return "", errors.New("connection reset")
		}
		return "gw-ok", nil
	}
	rec := h.record(domain.ChannelEmail, 3)
	ctx := context.Background()

	h.coord.ProcessDue(ctx, t0)
	h.coord.RetryEligibleNotifications(ctx, t0.Add(time.Minute))

	got := h.store.get(rec.ID)
	if got.Status != domain.StatusSent || got.RetryCount != 1 || got.LastError != nil {
		t.Fatalf("unexpected record %+v", got)
	}
	if h.alerter.count() != 0 {
		t.Error("recovered record raised an alert")
	}
}

func TestAttempt_PermanentFailureIsTerminal(t *testing.T) {
	h := newHarness(Config{})
	h.gw.fn = func(context.Context) (string, error) {
		return "", gateway.Permanent(errors.New("address does not exist"))
	}
	rec := h.record(domain.ChannelEmail, 3)

	h.coord.ProcessDue(context.Background(), t0)

	got := h.store.get(rec.ID)
	if got.Status != domain.StatusFailed || !got.Terminal() || got.MaxRetries != 0 {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.RetryCount > got.MaxRetries {
		t.Fatalf("retry count %d exceeds max %d", got.RetryCount, got.MaxRetries)
	}
	if h.alerter.count() != 1 {
		t.Errorf("alerts = %d, want 1", h.alerter.count())
	}
}

func TestAttempt_CancelledAppointment(t *testing.T) {
	h := newHarness(Config{})
	h.store.appointments[h.aid].Status = domain.AppointmentCancelled
	rec := h.record(domain.ChannelSMS, 3)

	h.coord.ProcessDue(context.Background(), t0)

	got := h.store.get(rec.ID)
	if got.Status != domain.StatusFailed || !got.Terminal() {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.LastError == nil || *got.LastError != "appointment cancelled" {
		t.Errorf("last error = %v", got.LastError)
	}
	if h.gw.calls.Load() != 0 {
		t.Error("gateway called for a cancelled appointment")
	}
}

func TestAttempt_GateRejectsAtSendTime(t *testing.T) {
	h := newHarness(Config{})
	h.store.recipients[h.rid].Phone = nil
	rec := h.record(domain.ChannelSMS, 3)

	h.coord.ProcessDue(context.Background(), t0)

	got := h.store.get(rec.ID)
	if !got.Terminal() || got.LastError == nil || !strings.Contains(*got.LastError, string(domain.CodeMissingContactInfo)) {
		t.Fatalf("unexpected record %+v", got)
	}

	h.store.recipients[h.rid].Phone = strPtr("+15551234567")
	h.store.appointments[h.aid].ScheduledAt = t0.Add(-time.Minute)
	late := h.record(domain.ChannelSMS, 3)
	h.coord.ProcessDue(context.Background(), t0)

	got = h.store.get(late.ID)
	if !got.Terminal() || !strings.Contains(*got.LastError, string(domain.CodeScheduledInPast)) {
		t.Fatalf("reminder for a started appointment was not rejected: %+v", got)
	}
}

func TestAttempt_TimeoutIsRetryable(t *testing.T) {
	h := newHarness(Config{SendTimeout: 20 * time.Millisecond})
	h.gw.fn = func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	rec := h.record(domain.ChannelEmail, 3)

	h.coord.ProcessDue(context.Background(), t0)

	got := h.store.get(rec.ID)
	if got.Status != domain.StatusFailed || got.Terminal() {
		t.Fatalf("timeout should leave a retryable failure: %+v", got)
	}
	if !strings.Contains(*got.LastError, "timed out") {
		t.Errorf("last error = %q", *got.LastError)
	}
}

func TestSweep_ConcurrentWorkersClaimOnce(t *testing.T) {
	h := newHarness(Config{Workers: 4})
	other := New(h.store, gate.New(h.store, zap.NewNop(), nil),
		channel.NewRegistry(channel.NewEmail(h.gw, nil, zap.NewNop()), channel.NewSMS(h.gw, nil, zap.NewNop()), channel.NewInApp(zap.NewNop())),
		content.NewBuilder(h.store, zap.NewNop()), h.alerter, Config{Workers: 4}, zap.NewNop())

	const total = 60
	for i := 0; i < total; i++ {
		h.record(domain.ChannelSMS, 3)
	}

	var wg sync.WaitGroup
	results := make([]SweepResult, 2)
	for i, c := range []*Coordinator{h.coord, other} {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Sweep(context.Background(), t0)
			if err != nil {
				t.Errorf("sweep %d: %v", i, err)
			}
			results[i] = res
		}()
	}
	wg.Wait()

	if got := results[0].Due + results[1].Due; got != total {
		t.Errorf("claimed %d records, want %d", got, total)
	}
	if got := h.gw.calls.Load(); got != total {
		t.Errorf("gateway called %d times, want %d", got, total)
	}
	if len(h.store.attempts) != total {
		t.Errorf("attempts = %d, want %d", len(h.store.attempts), total)
	}
}

func TestSweep_ReleasesStaleAttempts(t *testing.T) {
	h := newHarness(Config{StaleAfter: 10 * time.Minute})
	rec := h.record(domain.ChannelEmail, 3)
	started := t0.Add(-time.Hour)
	rec.Status = domain.StatusSending
	rec.LastAttemptAt = &started
	h.store.put(rec)

	res, err := h.coord.Sweep(context.Background(), t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Released != 1 {
		t.Fatalf("released = %d, want 1", res.Released)
	}
	// the release counts as a failed attempt; the hour-old attempt is past its backoff
	if res.Retried != 1 || h.store.get(rec.ID).Status != domain.StatusSent {
		t.Errorf("released record was not retried: %+v %+v", res, h.store.get(rec.ID))
	}
}

func TestRetryNow(t *testing.T) {
	h := newHarness(Config{})
	h.gw.fn = func(context.Context) (string, error) { return "", errors.New("timeout") }
	rec := h.record(domain.ChannelEmail, 1)
	ctx := context.Background()

	h.coord.ProcessDue(ctx, t0)

	eligible, err := h.coord.IsEligibleForRetry(ctx, rec.ID, t0.Add(time.Second))
	if err != nil || eligible {
		t.Fatalf("IsEligibleForRetry = %v, %v; want false inside backoff", eligible, err)
	}

	h.gw.fn = nil
	got, err := h.coord.RetryNow(ctx, rec.ID, t0.Add(time.Second))
	if err != nil {
		t.Fatalf("RetryNow: %v", err)
	}
	if got.Status != domain.StatusSent || got.RetryCount != 1 {
		t.Fatalf("unexpected record %+v", got)
	}

	if _, err := h.coord.RetryNow(ctx, rec.ID, t0.Add(time.Minute)); !errors.Is(err, domain.ErrNotRetryable) {
		t.Errorf("expected ErrNotRetryable for a sent record, got %v", err)
	}
	if _, err := h.coord.RetryNow(ctx, uuid.New(), t0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStateMachine_RetryCountNeverExceedsMax(t *testing.T) {
	h := newHarness(Config{Backoff: Backoff{Base: time.Second, Max: time.Minute}})
	var calls int
	var mu sync.Mutex
	h.gw.fn = func(context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		switch calls % 5 {
		case 0:
			return "ok", nil
		case 3:
			return "", gateway.Permanent(errors.New("rejected"))
		default:
			return "", errors.New("flaky")
		}
	}

	var ids []uuid.UUID
	for i := 0; i < 20; i++ {
		ids = append(ids, h.record(domain.ChannelEmail, i%4).ID)
	}

	now := t0
	for step := 0; step < 40; step++ {
		if _, err := h.coord.Sweep(context.Background(), now); err != nil {
			t.Fatalf("sweep: %v", err)
		}
		now = now.Add(time.Minute)

		for _, id := range ids {
			r := h.store.get(id)
			if r.RetryCount > r.MaxRetries {
				t.Fatalf("record %s: retry count %d > max %d", id, r.RetryCount, r.MaxRetries)
			}
			if r.Status == domain.StatusSending {
				t.Fatalf("record %s left in SENDING", id)
			}
		}
	}

	for _, id := range ids {
		r := h.store.get(id)
		if r.Status != domain.StatusSent && !r.Terminal() {
			t.Errorf("record %s neither sent nor terminal: %+v", id, r)
		}
	}
}
