package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "ts=<unix>;h1=<hex hmac-sha256 of ts:body>".
const SignatureHeader = "Taskboard-Signature"

// WebhookEnvelope is the JSON body posted to subscribers.
type WebhookEnvelope struct {
	Event          string    `json:"event"`
	OrganizationID string    `json:"organization_id"`
	Payload        any       `json:"payload"`
	Timestamp      time.Time `json:"timestamp"`
}

// HTTPWebhooks posts signed events to a single endpoint.
type HTTPWebhooks struct {
	url    string
	secret string
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewHTTPWebhooks returns a dispatcher posting to url. timeout <= 0 means 5s.
func NewHTTPWebhooks(url, secret string, timeout time.Duration, logger *slog.Logger) *HTTPWebhooks {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPWebhooks{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}
}

// Trigger posts the event and fails on any non-2xx answer.
func (h *HTTPWebhooks) Trigger(ctx context.Context, orgID, event string, payload any) error {
	now := h.now()
	body, err := json.Marshal(WebhookEnvelope{
		Event:          event,
		OrganizationID: orgID,
		Payload:        payload,
		Timestamp:      now.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Taskboard-Event", event)
	if h.secret != "" {
		req.Header.Set(SignatureHeader, Sign(h.secret, now.Unix(), body))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook %s: %w", event, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s: unexpected status %d", event, resp.StatusCode)
	}
	h.logger.DebugContext(ctx, "webhook delivered", "event", event, "org", orgID, "status", resp.StatusCode)
	return nil
}

// Sign builds the signature header value for body sent at ts.
func Sign(secret string, ts int64, body []byte) string {
	stamp := strconv.FormatInt(ts, 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stamp + ":"))
	mac.Write(body)
	return "ts=" + stamp + ";h1=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header produced by Sign.
func Verify(secret, header string, body []byte) bool {
	var ts, h1 string
	for _, part := range strings.Split(header, ";") {
		if strings.HasPrefix(part, "ts=") {
			ts = strings.TrimPrefix(part, "ts=")
		} else if strings.HasPrefix(part, "h1=") {
			h1 = strings.TrimPrefix(part, "h1=")
		}
	}
	if ts == "" || h1 == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + ":"))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(h1), []byte(expected))
}
