package gateway

import (
	"context"

	"github.com/lalithlochan/nimbus-reminders/internal/circuitbreaker"
)

// BreakerConfig returns a circuit breaker config in which permanent
// rejections do not count as gateway failures.
func BreakerConfig(name string) circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig(name)
	cfg.IsFailure = func(err error) bool {
		return err != nil && !IsPermanent(err)
	}
	return cfg
}

// ProtectedEmail wraps an EmailGateway with a circuit breaker.
type ProtectedEmail struct {
	inner EmailGateway
	cb    *circuitbreaker.CircuitBreaker
}

func NewProtectedEmail(inner EmailGateway, cb *circuitbreaker.CircuitBreaker) *ProtectedEmail {
	return &ProtectedEmail{inner: inner, cb: cb}
}

func (p *ProtectedEmail) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	var id string
	err := p.cb.Execute(func() error {
		var err error
		id, err = p.inner.SendEmail(ctx, to, subject, body)
		return err
	})
	return id, err
}

// ProtectedSMS wraps an SMSGateway with a circuit breaker.
type ProtectedSMS struct {
	inner SMSGateway
	cb    *circuitbreaker.CircuitBreaker
}

func NewProtectedSMS(inner SMSGateway, cb *circuitbreaker.CircuitBreaker) *ProtectedSMS {
	return &ProtectedSMS{inner: inner, cb: cb}
}

func (p *ProtectedSMS) SendSMS(ctx context.Context, to, body string) (string, error) {
	var id string
	err := p.cb.Execute(func() error {
		var err error
		id, err = p.inner.SendSMS(ctx, to, body)
		return err
	})
	return id, err
}
