// Package webhook reports session lifecycle transitions to the control plane.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Status values reported to the control plane.
const (
	StatusWaitingForQRScan = "waiting_for_qr_scan"
	StatusConnected        = "connected"
	StatusDisconnected     = "disconnected"
	StatusQRExpired        = "qr_expired"
)

// Event is one lifecycle notification.
type Event struct {
	SessionID    string `json:"sessionId"`
	Status       string `json:"status"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
	PairingImage string `json:"pairingImage,omitempty"`
}

// Publisher delivers lifecycle events to the control plane. Delivery is
// best-effort: implementations log failures rather than surfacing them to
// the session loop.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Config configures an HTTPPublisher.
type Config struct {
	// URL is the control-plane webhook endpoint.
	URL string

	// Token is sent in the X-Server-Token header of every delivery.
	Token string

	// MaxAttempts bounds delivery attempts per event, including the first.
	MaxAttempts int

	// Timeout applies per attempt.
	Timeout time.Duration
}

// HTTPPublisher POSTs events to a control-plane endpoint. Failed deliveries
// are retried with exponential backoff up to MaxAttempts, then dropped with
// a log entry; the control plane can recover drift through the status API.
type HTTPPublisher struct {
	url         string
	token       string
	maxAttempts int
	client      *http.Client

	// retryInterval seeds the exponential backoff; tests shorten it.
	retryInterval time.Duration
}

// NewHTTPPublisher creates a publisher for the given control-plane endpoint.
func NewHTTPPublisher(cfg Config) *HTTPPublisher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPPublisher{
		url:           cfg.URL,
		token:         cfg.Token,
		maxAttempts:   cfg.MaxAttempts,
		client:        &http.Client{Timeout: cfg.Timeout},
		retryInterval: 500 * time.Millisecond,
	}
}

// Publish delivers one event, blocking until it is accepted or retries are
// exhausted. Callers that must not block run it on its own goroutine.
func (p *HTTPPublisher) Publish(ctx context.Context, event Event) {
	deliveryID := uuid.NewString()

	body, err := json.Marshal(event)
	if err != nil {
		slog.Error("webhook: marshaling event", "error", err, "session_id", event.SessionID)
		return
	}

	operation := func() error {
		return p.attempt(ctx, deliveryID, body)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.retryInterval
	policy := backoff.WithContext(
		backoff.WithMaxRetries(expo, uint64(p.maxAttempts-1)),
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		slog.Error("webhook: delivery failed, dropping event",
			"error", err,
			"delivery_id", deliveryID,
			"session_id", event.SessionID,
			"status", event.Status,
			"attempts", p.maxAttempts,
		)
		return
	}

	slog.Debug("webhook: delivered",
		"delivery_id", deliveryID,
		"session_id", event.SessionID,
		"status", event.Status,
	)
}

func (p *HTTPPublisher) attempt(ctx context.Context, deliveryID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("building webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", deliveryID)
	if p.token != "" {
		req.Header.Set("X-Server-Token", p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NoopPublisher discards all events. Used when no webhook URL is configured.
type NoopPublisher struct{}

// Publish discards the event.
func (NoopPublisher) Publish(context.Context, Event) {}

// Verify interface compliance.
var (
	_ Publisher = (*HTTPPublisher)(nil)
	_ Publisher = NoopPublisher{}
)
