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
	"net/http"
	"time"

	"go.uber.org/zap"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// WebhookNotifier POSTs events to the host application's callback URL with
// an HMAC-SHA256 signature so the host can authenticate the monitor.
type WebhookNotifier struct {
	url        string
	secret     string
	httpClient *http.Client
	onMetrics  MetricsRecorder
	logger     *zap.Logger

	// delays between attempts; var so tests can shrink them.
	delays []time.Duration
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(url, secret string, logger *zap.Logger) *WebhookNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookNotifier{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		delays:     []time.Duration{0, 1 * time.Second, 5 * time.Second},
	}
}

// SetMetricsRecorder configures the metrics callback.
func (w *WebhookNotifier) SetMetricsRecorder(fn MetricsRecorder) {
	w.onMetrics = fn
}

// Notify implements Notifier. Delivery happens on the caller's goroutine;
// the monitor invokes notifiers off its event path.
func (w *WebhookNotifier) Notify(ctx context.Context, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		w.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}
	signature := signPayload(body, w.secret)

	for attempt := 1; attempt <= len(w.delays); attempt++ {
		if d := w.delays[attempt-1]; d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return
			}
		}

		success, errMsg := w.deliver(ctx, body, signature)
		if w.onMetrics != nil {
			w.onMetrics(success)
		}
		if success {
			return
		}
		w.logger.Warn("webhook: delivery failed",
			zap.String("url", w.url),
			zap.String("event", ev.Type),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
}

func (w *WebhookNotifier) deliver(ctx context.Context, body []byte, signature string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Proctor-Signature", signature)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return true, ""
}

// signPayload computes an HMAC-SHA256 signature over the body.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature lets host applications check a received signature.
func VerifySignature(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(signPayload(body, secret)), []byte(signature))
}
