package retry

import (
	"time"

	"github.com/lalithlochan/nimbus-reminders/internal/domain"
)

const (
	DefaultBaseDelay = 60 * time.Second
	DefaultMaxDelay  = time.Hour
)

// Backoff is an exponential delay base·2^n capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff starts at one minute and never waits more than an hour.
func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBaseDelay, Max: DefaultMaxDelay}
}

// Delay returns the wait after the attempt that left retryCount at n.
func (b Backoff) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := b.Base
	for i := 0; i < n; i++ {
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// BackoffDelay applies DefaultBackoff.
func BackoffDelay(n int) time.Duration {
	return DefaultBackoff().Delay(n)
}

// Eligible reports whether a failed record may be retried at now.
func (b Backoff) Eligible(rec *domain.NotificationRecord, now time.Time) bool {
	if rec.Status != domain.StatusFailed || rec.RetryCount >= rec.MaxRetries {
		return false
	}
	if rec.LastAttemptAt == nil {
		return true
	}
	return !now.Before(rec.LastAttemptAt.Add(b.Delay(rec.RetryCount)))
}
