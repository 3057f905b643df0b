// Package bridge relays inbound messages to the inference endpoint and
// sends the reply back through the protocol session.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/txn2/chatbridge/pkg/protocol"
)

// FallbackReply is sent to the end user when the inference endpoint fails
// or returns an empty response.
const FallbackReply = "Terjadi kesalahan! Silakan coba lagi nanti."

// Config configures a Bridge.
type Config struct {
	// URL is the inference endpoint.
	URL string

	// Token is sent in the X-Server-Token header of every request.
	Token string

	Timeout time.Duration
}

// Bridge filters and normalizes inbound messages, relays them to the
// inference endpoint, and relays the reply back to the sender.
type Bridge struct {
	url    string
	token  string
	client *http.Client
}

// New creates a Bridge for the given inference endpoint.
func New(cfg Config) *Bridge {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Bridge{
		url:    cfg.URL,
		token:  cfg.Token,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// inferenceRequest is the payload sent to the inference endpoint.
type inferenceRequest struct {
	SessionID string `json:"sessionId"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
}

// inferenceResponse is the payload returned by the inference endpoint.
type inferenceResponse struct {
	Response string `json:"response"`
}

// Handle processes one inbound message for a connected session identified
// by selfID. Messages from the session's own identity are dropped, and
// group messages are dropped unless they mention selfID or reply to one of
// its messages. Everything else is relayed to the inference endpoint; a 404
// means no bot is configured for this tenant and ends handling silently.
func (b *Bridge) Handle(ctx context.Context, sessionID, selfID string, client protocol.Client, msg protocol.Message) {
	if msg.FromSelf {
		return
	}

	if msg.Group && !concernsSelf(msg, selfID) {
		slog.Debug("bridge: ignoring group message",
			"session_id", sessionID, "sender", msg.Sender)
		return
	}

	content := msg.Content()

	if err := client.MarkRead(ctx, msg.ID); err != nil {
		slog.Warn("bridge: marking message read", "error", err, "session_id", sessionID)
	}
	if err := client.SendPresence(ctx, msg.Sender, protocol.PresenceComposing); err != nil {
		slog.Warn("bridge: sending composing presence", "error", err, "session_id", sessionID)
	}

	reply, found, err := b.infer(ctx, sessionID, msg.Sender, content)

	if err := client.SendPresence(ctx, msg.Sender, protocol.PresencePaused); err != nil {
		slog.Warn("bridge: sending paused presence", "error", err, "session_id", sessionID)
	}

	switch {
	case err != nil:
		slog.Error("bridge: inference call failed",
			"error", err, "session_id", sessionID, "sender", msg.Sender)
		b.send(ctx, sessionID, client, msg.Sender, FallbackReply)
	case !found:
		// No bot configured for this tenant; drop silently.
	case reply != "":
		b.send(ctx, sessionID, client, msg.Sender, reply)
	default:
		b.send(ctx, sessionID, client, msg.Sender, FallbackReply)
	}
}

// concernsSelf reports whether a group message mentions selfID or replies
// to a message selfID authored.
func concernsSelf(msg protocol.Message, selfID string) bool {
	if slices.Contains(msg.MentionedIDs, selfID) {
		return true
	}
	return msg.QuotedParticipant != "" && msg.QuotedParticipant == selfID
}

// infer calls the inference endpoint. found is false when the endpoint
// returns 404, meaning no bot exists for this tenant.
func (b *Bridge) infer(ctx context.Context, sessionID, sender, content string) (reply string, found bool, err error) {
	body, err := json.Marshal(inferenceRequest{
		SessionID: sessionID,
		Sender:    sender,
		Message:   content,
	})
	if err != nil {
		return "", false, fmt.Errorf("marshaling inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("building inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("X-Server-Token", b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("calling inference endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false, fmt.Errorf("inference endpoint returned status %d", resp.StatusCode)
	}

	var parsed inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false, fmt.Errorf("decoding inference response: %w", err)
	}
	return parsed.Response, true, nil
}

func (b *Bridge) send(ctx context.Context, sessionID string, client protocol.Client, recipient, text string) {
	if err := client.SendText(ctx, recipient, text); err != nil {
		slog.Error("bridge: sending reply", "error", err, "session_id", sessionID, "recipient", recipient)
	}
}
