package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HTTPGateway posts messages to a generic provider API as JSON. It serves as
// both the email and the SMS gateway when the provider is not AWS.
type HTTPGateway struct {
	client   *http.Client
	emailURL string
	smsURL   string
	token    string
	logger   *zap.Logger
}

type HTTPConfig struct {
	EmailURL string
	SMSURL   string
	Token    string        // sent as a bearer token when set
	Timeout  time.Duration // default 10s
}

type httpMessage struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

type httpReceipt struct {
	MessageID string `json:"message_id"`
}

func NewHTTPGateway(cfg HTTPConfig, logger *zap.Logger) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		client:   &http.Client{Timeout: timeout},
		emailURL: cfg.EmailURL,
		smsURL:   cfg.SMSURL,
		token:    cfg.Token,
		logger:   logger,
	}
}

func (g *HTTPGateway) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	if g.emailURL == "" {
		return "", errors.New("http gateway: email url not configured")
	}
	return g.post(ctx, g.emailURL, httpMessage{Channel: "email", To: to, Subject: subject, Body: body})
}

func (g *HTTPGateway) SendSMS(ctx context.Context, to, body string) (string, error) {
	if g.smsURL == "" {
		return "", errors.New("http gateway: sms url not configured")
	}
	return g.post(ctx, g.smsURL, httpMessage{Channel: "sms", To: to, Body: body})
}

func (g *HTTPGateway) post(ctx context.Context, url string, msg httpMessage) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "nimbus-reminders/1.0")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(bodyBytes))
		if permanentStatus(resp.StatusCode) {
			return "", Permanent(err)
		}
		return "", err
	}

	var receipt httpReceipt
	if len(bodyBytes) > 0 {
		_ = json.Unmarshal(bodyBytes, &receipt)
	}
	if receipt.MessageID == "" {
		receipt.MessageID = "http_" + uuid.NewString()
	}

	g.logger.Info("message accepted by provider",
		zap.String("channel", msg.Channel),
		zap.String("to", msg.To),
		zap.Int("status_code", resp.StatusCode),
		zap.String("message_id", receipt.MessageID),
	)
	return receipt.MessageID, nil
}

// permanentStatus reports whether a non-2xx status means the request itself is
// bad. Timeouts and throttling are worth retrying.
func permanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}
