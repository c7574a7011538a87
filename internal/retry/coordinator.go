// Package retry drives notification records through their delivery state
// machine: claiming due and retryable records, sending them, and recording
// the outcome with exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/nimbus-reminders/internal/alert"
	"github.com/lalithlochan/nimbus-reminders/internal/channel"
	"github.com/lalithlochan/nimbus-reminders/internal/content"
	"github.com/lalithlochan/nimbus-reminders/internal/domain"
	"github.com/lalithlochan/nimbus-reminders/internal/gate"
	"github.com/lalithlochan/nimbus-reminders/internal/metrics"
)

// Store is the persistence the coordinator needs. Claim and the Mark methods
// are compare-and-swap updates: they report false when another worker got there
// first.
type Store interface {
	gate.Store

	GetNotification(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error)
	// ListDue returns PENDING records with scheduled_for <= now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.NotificationRecord, error)
	// ListRetryable returns FAILED records with retries left whose backoff has elapsed.
	ListRetryable(ctx context.Context, now time.Time, base, maxDelay time.Duration, limit int) ([]*domain.NotificationRecord, error)
	// Claim moves a record from `from` to SENDING if it still has retryCount,
	// incrementing retry_count when leaving FAILED and stamping last_attempt_at.
	Claim(ctx context.Context, id uuid.UUID, from domain.Status, retryCount int, at time.Time) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, messageID string, at time.Time, delivered bool) (bool, error)
	// MarkFailed records a failed attempt. permanent caps max_retries at the
	// current retry_count so the record becomes terminal.
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, permanent bool) (bool, error)
	// ReleaseStale fails SENDING records whose attempt started before `before`.
	ReleaseStale(ctx context.Context, before time.Time, lastError string) ([]*domain.NotificationRecord, error)
	InsertAttempt(ctx context.Context, a *domain.NotificationAttempt) error
}

// Evaluator runs the delivery gate.
type Evaluator interface {
	Evaluate(ctx context.Context, req gate.Request) ([]domain.ValidationError, error)
}

// Renderer builds channel content for a record.
type Renderer interface {
	Build(ctx context.Context, rec *domain.NotificationRecord, recipient *domain.RecipientProfile, appt *domain.Appointment) (content.Message, error)
}

type Config struct {
	Backoff     Backoff
	BatchSize   int           // records fetched per phase per sweep
	Workers     int           // concurrent sends per sweep
	SendTimeout time.Duration // per-attempt channel timeout
	StaleAfter  time.Duration // SENDING records older than this are released
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Released int `json:"released"`
	Due      int `json:"due"`
	Retried  int `json:"retried"`
}

// Coordinator owns every transition after a record is created.
type Coordinator struct {
	store    Store
	gate     Evaluator
	channels *channel.Registry
	content  Renderer
	alerter  alert.Alerter
	config   Config
	logger   *zap.Logger
}

func New(store Store, g Evaluator, channels *channel.Registry, renderer Renderer, alerter alert.Alerter, cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.Backoff.Base == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers == 0 {
		cfg.Workers = 8
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if alerter == nil {
		alerter = alert.NewLogAlerter(logger)
	}

	return &Coordinator{
		store:    store,
		gate:     g,
		channels: channels,
		content:  renderer,
		alerter:  alerter,
		config:   cfg,
		logger:   logger,
	}
}

// BackoffDelay returns the configured delay for retryCount n.
func (c *Coordinator) BackoffDelay(n int) time.Duration {
	return c.config.Backoff.Delay(n)
}

// Sweep releases stuck attempts, then sends due records, then retries
// eligible failures.
func (c *Coordinator) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	start := time.Now()
	defer func() { metrics.RecordSweep(time.Since(start)) }()

	var res SweepResult
	var err error

	if res.Released, err = c.releaseStale(ctx, now); err != nil {
		return res, err
	}
	if res.Due, err = c.ProcessDue(ctx, now); err != nil {
		return res, err
	}
	if res.Retried, err = c.RetryEligibleNotifications(ctx, now); err != nil {
		return res, err
	}

	if res.Released+res.Due+res.Retried > 0 {
		c.logger.Info("sweep completed",
			zap.Int("released", res.Released),
			zap.Int("due", res.Due),
			zap.Int("retried", res.Retried),
			zap.Duration("took", time.Since(start)),
		)
	}
	return res, nil
}

// ProcessDue sends PENDING records whose fire time has come. It returns the
// number of records this worker claimed.
func (c *Coordinator) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	records, err := c.store.ListDue(ctx, now, c.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due notifications: %w", err)
	}
	n := c.run(ctx, records, now)
	metrics.RecordClaimed(string(domain.StatusPending), n)
	return n, nil
}

// RetryEligibleNotifications re-attempts FAILED records whose backoff has
// elapsed. It returns the number of records this worker claimed.
func (c *Coordinator) RetryEligibleNotifications(ctx context.Context, now time.Time) (int, error) {
	b := c.config.Backoff
	records, err := c.store.ListRetryable(ctx, now, b.Base, b.Max, c.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list retryable notifications: %w", err)
	}

	eligible := records[:0]
	for _, rec := range records {
		if b.Eligible(rec, now) {
			eligible = append(eligible, rec)
		}
	}

	n := c.run(ctx, eligible, now)
	metrics.RecordClaimed(string(domain.StatusFailed), n)
	return n, nil
}

// IsEligibleForRetry reports whether the record may be retried at now.
func (c *Coordinator) IsEligibleForRetry(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	rec, err := c.store.GetNotification(ctx, id)
	if err != nil {
		return false, err
	}
	return c.config.Backoff.Eligible(rec, now), nil
}

// RetryNow attempts a FAILED record immediately, skipping the backoff wait but
// not the retry bound.
func (c *Coordinator) RetryNow(ctx context.Context, id uuid.UUID, now time.Time) (*domain.NotificationRecord, error) {
	rec, err := c.store.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != domain.StatusFailed || rec.RetryCount >= rec.MaxRetries {
		return nil, fmt.Errorf("%w: status %s, %d/%d retries used", domain.ErrNotRetryable, rec.Status, rec.RetryCount, rec.MaxRetries)
	}

	claimed, err := c.attempt(ctx, rec, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, domain.ErrClaimLost
	}
	return c.store.GetNotification(ctx, id)
}

func (c *Coordinator) run(ctx context.Context, records []*domain.NotificationRecord, now time.Time) int {
	var claimed atomic.Int64
	var g errgroup.Group
	g.SetLimit(c.config.Workers)

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		rec := rec // per-iteration copy; module targets go 1.21
		g.Go(func() error {
			ok, err := c.attempt(ctx, rec, now)
			if err != nil {
				c.logger.Error("failed to process notification",
					zap.String("id", rec.ID.String()),
					zap.Error(err),
				)
			}
			if ok {
				claimed.Add(1)
			}
			return nil
		})
	}

	_ = g.Wait()
	return int(claimed.Load())
}

// attempt claims rec and performs one delivery attempt. It reports whether the
// claim succeeded.
func (c *Coordinator) attempt(ctx context.Context, rec *domain.NotificationRecord, now time.Time) (bool, error) {
	from := rec.Status
	ok, err := c.store.Claim(ctx, rec.ID, from, rec.RetryCount, now)
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	if !ok {
		metrics.RecordClaimLost()
		c.logger.Debug("claim lost",
			zap.String("id", rec.ID.String()),
			zap.String("from", string(from)),
		)
		return false, nil
	}

	claimed := *rec
	claimed.Status = domain.StatusSending
	claimed.LastAttemptAt = &now
	if from == domain.StatusFailed {
		claimed.RetryCount++
	}

	start := time.Now()
	res := c.deliver(ctx, &claimed, now)
	took := time.Since(start)

	// the outcome must be written even if the sweep is being cancelled
	c.finish(context.WithoutCancel(ctx), &claimed, res, took, now)
	return true, nil
}

func (c *Coordinator) deliver(ctx context.Context, rec *domain.NotificationRecord, now time.Time) channel.Result {
	var appt *domain.Appointment
	if rec.AppointmentID != nil {
		a, err := c.store.GetAppointment(ctx, *rec.AppointmentID)
		switch {
		case err == nil:
			appt = a
		case errors.Is(err, domain.ErrNotFound):
			// reported by the gate
		default:
			return failure(domain.TransportFailure(fmt.Sprintf("load appointment: %v", err)))
		}
		if appt != nil && !appt.Status.Active() {
			return failure(domain.ValidationFailure("appointment cancelled"))
		}
	}

	violations, err := c.gate.Evaluate(ctx, gate.Request{
		Phase:            gate.PhaseSend,
		RecipientID:      rec.RecipientID,
		NotificationType: rec.NotificationType,
		ChannelType:      rec.ChannelType,
		ScheduledFor:     rec.ScheduledFor,
		AppointmentID:    rec.AppointmentID,
		At:               now,
	})
	if err != nil {
		return failure(domain.TransportFailure(fmt.Sprintf("evaluate gate: %v", err)))
	}
	if len(violations) > 0 {
		return failure(domain.ValidationFailure(joinViolations(violations)))
	}

	ch, err := c.channels.Get(rec.ChannelType)
	if err != nil {
		return failure(domain.ValidationFailure(err.Error()))
	}

	recipient, err := c.store.GetRecipient(ctx, rec.RecipientID)
	if err != nil {
		return failure(domain.TransportFailure(fmt.Sprintf("load recipient: %v", err)))
	}

	msg, err := c.content.Build(ctx, rec, recipient, appt)
	if err != nil {
		return failure(domain.TransportFailure(fmt.Sprintf("render content: %v", err)))
	}

	payload := channel.Payload{
		NotificationID: rec.ID,
		RecipientID:    rec.RecipientID,
		RecipientEmail: deref(recipient.Email),
		RecipientPhone: deref(recipient.Phone),
		Subject:        msg.Subject,
		Content:        msg.Body,
		Metadata: map[string]string{
			"notification_type": string(rec.NotificationType),
			"attempt":           fmt.Sprint(rec.RetryCount + 1),
		},
	}
	if rec.AppointmentID != nil {
		payload.Metadata["appointment_id"] = rec.AppointmentID.String()
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.config.SendTimeout)
	defer cancel()

	res := ch.Send(sendCtx, payload)
	if !res.Success && errors.Is(sendCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res.Retryable = true
		res.Error = fmt.Sprintf("send timed out after %s: %s", c.config.SendTimeout, res.Error)
	}
	return res
}

func (c *Coordinator) finish(ctx context.Context, rec *domain.NotificationRecord, res channel.Result, took time.Duration, now time.Time) {
	attempt := &domain.NotificationAttempt{
		ID:             uuid.New(),
		NotificationID: rec.ID,
		AttemptNumber:  rec.RetryCount + 1,
		ChannelType:    rec.ChannelType,
		Success:        res.Success,
		Retryable:      res.Retryable,
		Duration:       took,
		CreatedAt:      now,
	}
	if res.MessageID != "" {
		attempt.MessageID = &res.MessageID
	}
	if res.Error != "" {
		attempt.Error = &res.Error
	}
	if err := c.store.InsertAttempt(ctx, attempt); err != nil {
		c.logger.Warn("failed to record attempt",
			zap.String("id", rec.ID.String()),
			zap.Error(err),
		)
	}

	ch := string(rec.ChannelType)

	if res.Success {
		delivered := rec.ChannelType == domain.ChannelInApp
		ok, err := c.store.MarkSent(ctx, rec.ID, res.MessageID, now, delivered)
		if err != nil {
			c.logger.Error("failed to mark notification sent",
				zap.String("id", rec.ID.String()),
				zap.Error(err),
			)
			return
		}
		if !ok {
			metrics.RecordClaimLost()
			return
		}
		metrics.RecordAttempt(ch, "sent", took)
		metrics.RecordDeliveryLag(ch, now.Sub(rec.ScheduledFor))
		c.logger.Info("notification sent",
			zap.String("id", rec.ID.String()),
			zap.String("channel", ch),
			zap.Int("attempt", attempt.AttemptNumber),
			zap.String("message_id", res.MessageID),
		)
		return
	}

	permanent := !res.Retryable
	terminal := permanent || rec.RetryCount >= rec.MaxRetries

	ok, err := c.store.MarkFailed(ctx, rec.ID, res.Error, permanent)
	if err != nil {
		c.logger.Error("failed to mark notification failed",
			zap.String("id", rec.ID.String()),
			zap.Error(err),
		)
		return
	}
	if !ok {
		metrics.RecordClaimLost()
		return
	}

	outcome := "retryable"
	if permanent {
		outcome = "permanent"
	}
	metrics.RecordAttempt(ch, outcome, took)

	fields := []zap.Field{
		zap.String("id", rec.ID.String()),
		zap.String("channel", ch),
		zap.Int("attempt", attempt.AttemptNumber),
		zap.Bool("retryable", res.Retryable),
		zap.String("error", res.Error),
	}
	if !terminal {
		fields = append(fields, zap.Time("next_attempt_at", now.Add(c.BackoffDelay(rec.RetryCount))))
		c.logger.Warn("notification attempt failed", fields...)
		return
	}

	c.logger.Warn("notification attempt failed, giving up", fields...)
	c.terminal(ctx, rec, attempt.AttemptNumber, res.Error, now)
}

func (c *Coordinator) terminal(ctx context.Context, rec *domain.NotificationRecord, attempts int, lastErr string, now time.Time) {
	metrics.RecordTerminalFailure(string(rec.ChannelType))
	if err := c.alerter.Alert(ctx, alert.FromRecord(rec, attempts, lastErr, now)); err != nil {
		c.logger.Error("failed to raise terminal failure alert",
			zap.String("id", rec.ID.String()),
			zap.Error(err),
		)
	}
}

const interruptedError = "attempt interrupted before completion"

// releaseStale fails attempts abandoned by a crashed worker so they re-enter
// the retry schedule.
func (c *Coordinator) releaseStale(ctx context.Context, now time.Time) (int, error) {
	released, err := c.store.ReleaseStale(ctx, now.Add(-c.config.StaleAfter), interruptedError)
	if err != nil {
		return 0, fmt.Errorf("release stale notifications: %w", err)
	}
	for _, rec := range released {
		c.logger.Warn("released stale notification",
			zap.String("id", rec.ID.String()),
			zap.Int("retry_count", rec.RetryCount),
		)
		if rec.Terminal() {
			c.terminal(ctx, rec, rec.RetryCount+1, interruptedError, now)
		}
	}
	return len(released), nil
}

func failure(e *domain.DeliveryError) channel.Result {
	return channel.Result{Error: e.Message, Retryable: e.Retryable}
}

func joinViolations(vs []domain.ValidationError) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprintf("%s: %s", v.Code, v.Message)
	}
	return strings.Join(parts, "; ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
