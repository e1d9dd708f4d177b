// Package webhook delivers signed synchronization events to a configured
// HTTP endpoint. Payloads are signed with HMAC-SHA256 so receivers can
// verify origin; deliveries retry a bounded number of times.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is one notification. Payload carries the event-specific body, for
// example the conflict list of a sync pass or the pass summary itself.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"` // "conflict.detected", "conflict.resolved", "sync.completed", "sync.failed"
	PatientID uuid.UUID       `json:"patient_id"`
	Provider  string          `json:"provider,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// SignPayload computes the hex-encoded HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the HMAC-SHA256 of
// payload under secret. Comparison is constant-time.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient overrides the delivery client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// WithMaxAttempts sets the total number of delivery attempts per event.
func WithMaxAttempts(attempts int) Option {
	return func(n *Notifier) {
		if attempts > 0 {
			n.maxAttempts = attempts
		}
	}
}

// WithBackoff sets the delay between attempts.
func WithBackoff(d time.Duration) Option {
	return func(n *Notifier) { n.backoff = d }
}

// Notifier posts events to one endpoint. A Notifier built with an empty URL
// is a no-op, so callers never branch on whether notifications are
// configured.
type Notifier struct {
	url         string
	secret      string
	client      *http.Client
	maxAttempts int
	backoff     time.Duration
	log         zerolog.Logger
}

// NewNotifier validates the target URL and builds a notifier. An empty URL
// yields a disabled notifier and no error.
func NewNotifier(rawURL, secret string, log zerolog.Logger, opts ...Option) (*Notifier, error) {
	if rawURL != "" {
		if err := validateURL(rawURL); err != nil {
			return nil, err
		}
	}
	n := &Notifier{
		url:         rawURL,
		secret:      secret,
		client:      &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 3,
		backoff:     time.Second,
		log:         log.With().Str("component", "webhook").Logger(),
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Enabled reports whether a delivery URL is configured.
func (n *Notifier) Enabled() bool { return n.url != "" }

// Notify delivers the event, retrying transient failures. The last error is
// returned when every attempt fails.
func (n *Notifier) Notify(ctx context.Context, event Event) error {
	if !n.Enabled() {
		return nil
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.backoff):
			}
		}
		lastErr = n.deliver(ctx, event, payload)
		if lastErr == nil {
			return nil
		}
		n.log.Warn().Err(lastErr).
			Str("event_id", event.ID.String()).
			Str("event_type", event.Type).
			Int("attempt", attempt).
			Msg("webhook delivery failed")
	}
	return fmt.Errorf("deliver %s after %d attempts: %w", event.Type, n.maxAttempts, lastErr)
}

func (n *Notifier) deliver(ctx context.Context, event Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-ID", event.ID.String())
	req.Header.Set("X-Webhook-Timestamp", event.Timestamp.UTC().Format(time.RFC3339))
	if n.secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return nil
}
