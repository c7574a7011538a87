package main

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-reminders/internal/config"
	"github.com/lalithlochan/nimbus-reminders/internal/gateway"
)

func TestNewGateways(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		email, sms   string
		wantBreakers int
		wantErr      bool
	}{
		{"log gateways are unguarded", "log", "log", 0, false},
		{"http gateways get a breaker each", "http", "http", 2, false},
		{"unknown email gateway", "smtp", "log", 0, true},
		{"unknown sms gateway", "log", "carrier-pigeon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				EmailGateway: tt.email,
				SMSGateway:   tt.sms,
				HTTPEmailURL: "http://localhost/email",
				HTTPSMSURL:   "http://localhost/sms",
			}
			var cbs breakers

			_, emailErr := newEmailGateway(ctx, cfg, &cbs, zap.NewNop())
			_, smsErr := newSMSGateway(ctx, cfg, &cbs, zap.NewNop())

			if gotErr := emailErr != nil || smsErr != nil; gotErr != tt.wantErr {
				t.Fatalf("errors = %v / %v, wantErr %v", emailErr, smsErr, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(cbs) != tt.wantBreakers {
				t.Fatalf("breakers = %d, want %d", len(cbs), tt.wantBreakers)
			}

			stats := cbs.stats()
			for _, s := range stats {
				if s.State != "closed" {
					t.Errorf("%s starts %s, want closed", s.Name, s.State)
				}
			}
			if tt.wantBreakers == 2 && (stats[0].Name != "http-email" || stats[1].Name != "http-sms") {
				t.Errorf("unexpected breaker names %+v", stats)
			}
		})
	}
}

func TestNewGateways_LogIsPlain(t *testing.T) {
	var cbs breakers
	gw, err := newEmailGateway(context.Background(), &config.Config{EmailGateway: "log"}, &cbs, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := gw.(*gateway.LogGateway); !ok {
		t.Errorf("expected *gateway.LogGateway, got %T", gw)
	}
}

func TestNewAlerter_LogOnly(t *testing.T) {
	a, err := newAlerter(context.Background(), &config.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("newAlerter: %v", err)
	}
	if a == nil {
		t.Fatal("expected an alerter")
	}
}
