package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "EMAIL_GATEWAY", "SMS_GATEWAY", "MAX_RETRIES", "RETRY_BASE_DELAY", "RETRY_MAX_DELAY", "SWEEP_SCHEDULE"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 || cfg.EmailGateway != "log" || cfg.SMSGateway != "log" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxRetries != 3 || cfg.RetryBaseDelay != time.Minute || cfg.RetryMaxDelay != time.Hour {
		t.Errorf("unexpected retry defaults: %d %s %s", cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	}
	if cfg.SweepSchedule != "@every 30s" {
		t.Errorf("unexpected sweep schedule %q", cfg.SweepSchedule)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("EMAIL_GATEWAY", "SES")
	t.Setenv("SMS_GATEWAY", "http")
	t.Setenv("HTTP_SMS_URL", "https://sms.example.com/send")
	t.Setenv("RETRY_BASE_DELAY", "30")
	t.Setenv("RETRY_MAX_DELAY", "15m")
	t.Setenv("EMAIL_RATE_PER_SEC", "2.5")
	t.Setenv("SWEEP_WORKERS", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.EmailGateway != "ses" || cfg.SMSGateway != "http" {
		t.Errorf("gateways = %s/%s", cfg.EmailGateway, cfg.SMSGateway)
	}
	if cfg.RetryBaseDelay != 30*time.Second || cfg.RetryMaxDelay != 15*time.Minute {
		t.Errorf("retry delays = %s/%s", cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	}
	if cfg.EmailRatePerSec != 2.5 || cfg.SweepWorkers != 4 {
		t.Errorf("rate %v workers %d", cfg.EmailRatePerSec, cfg.SweepWorkers)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"bad_port", map[string]string{"PORT": "eighty"}, "invalid PORT"},
		{"bad_duration", map[string]string{"SEND_TIMEOUT": "soon"}, "invalid SEND_TIMEOUT"},
		{"unknown_gateway", map[string]string{"EMAIL_GATEWAY": "smtp"}, "invalid EMAIL_GATEWAY"},
		{"http_without_url", map[string]string{"EMAIL_GATEWAY": "http"}, "HTTP_EMAIL_URL is required"},
		{"negative_retries", map[string]string{"MAX_RETRIES": "-1"}, "invalid MAX_RETRIES"},
		{"cap_below_base", map[string]string{"RETRY_BASE_DELAY": "10m", "RETRY_MAX_DELAY": "1m"}, "invalid RETRY_MAX_DELAY"},
		{"stale_within_sweep", map[string]string{"STALE_AFTER": "5m", "SWEEP_TIMEOUT": "5m"}, "invalid STALE_AFTER"},
		{"stale_within_send", map[string]string{"STALE_AFTER": "2m", "SWEEP_TIMEOUT": "1m", "SEND_TIMEOUT": "3m"}, "invalid STALE_AFTER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
