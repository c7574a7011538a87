package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-reminders/internal/alert"
	"github.com/lalithlochan/nimbus-reminders/internal/circuitbreaker"
	"github.com/lalithlochan/nimbus-reminders/internal/config"
	"github.com/lalithlochan/nimbus-reminders/internal/gateway"
	"github.com/lalithlochan/nimbus-reminders/internal/metrics"
)

// breakers remembers every gateway breaker so /health can report them.
type breakers []*circuitbreaker.CircuitBreaker

func (b *breakers) add(name string, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	cfg := gateway.BreakerConfig(name)
	cfg.OnStateChange = func(name string, _, to circuitbreaker.State) {
		metrics.SetCircuitState(name, int(to))
	}
	cb := circuitbreaker.New(cfg, logger)
	*b = append(*b, cb)
	return cb
}

func (b breakers) stats() []circuitbreaker.Stats {
	out := make([]circuitbreaker.Stats, len(b))
	for i, cb := range b {
		out[i] = cb.Stats()
	}
	return out
}

func httpGateway(cfg *config.Config, logger *zap.Logger) *gateway.HTTPGateway {
	return gateway.NewHTTPGateway(gateway.HTTPConfig{
		EmailURL: cfg.HTTPEmailURL,
		SMSURL:   cfg.HTTPSMSURL,
		Token:    cfg.HTTPGatewayToken,
		Timeout:  cfg.GatewayTimeout,
	}, logger)
}

func newEmailGateway(ctx context.Context, cfg *config.Config, cbs *breakers, logger *zap.Logger) (gateway.EmailGateway, error) {
	var inner gateway.EmailGateway
	switch cfg.EmailGateway {
	case "ses":
		ses, err := gateway.NewSESGateway(ctx, gateway.SESConfig{Region: cfg.AWSRegion, FromEmail: cfg.SESFromEmail}, logger)
		if err != nil {
			return nil, err
		}
		inner = ses
	case "http":
		inner = httpGateway(cfg, logger)
	case "log":
		return gateway.NewLogGateway(logger), nil
	default:
		return nil, fmt.Errorf("unknown email gateway %q", cfg.EmailGateway)
	}
	return gateway.NewProtectedEmail(inner, cbs.add(cfg.EmailGateway+"-email", logger)), nil
}

func newSMSGateway(ctx context.Context, cfg *config.Config, cbs *breakers, logger *zap.Logger) (gateway.SMSGateway, error) {
	var inner gateway.SMSGateway
	switch cfg.SMSGateway {
	case "sns":
		sns, err := gateway.NewSNSGateway(ctx, gateway.SNSConfig{Region: cfg.AWSRegion, SenderID: cfg.SMSSenderID}, logger)
		if err != nil {
			return nil, err
		}
		inner = sns
	case "http":
		inner = httpGateway(cfg, logger)
	case "log":
		return gateway.NewLogGateway(logger), nil
	default:
		return nil, fmt.Errorf("unknown sms gateway %q", cfg.SMSGateway)
	}
	return gateway.NewProtectedSMS(inner, cbs.add(cfg.SMSGateway+"-sms", logger)), nil
}

// newAlerter always logs terminal failures and additionally fans them out to
// SNS and the SQS dead-letter queue when those are configured.
func newAlerter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (alert.Alerter, error) {
	sinks := []alert.Alerter{alert.NewLogAlerter(logger)}

	if cfg.AlertTopicARN != "" {
		a, err := alert.NewSNSAlerter(ctx, alert.SNSConfig{
			Region:   cfg.AWSRegion,
			TopicARN: cfg.AlertTopicARN,
			Endpoint: cfg.AWSEndpoint,
		}, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, a)
	}

	if cfg.DLQURL != "" {
		dl, err := alert.NewDeadLetter(ctx, alert.SQSConfig{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.DLQURL,
			Endpoint: cfg.AWSEndpoint,
		}, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, dl)
	}

	return alert.NewMulti(logger, sinks...), nil
}
