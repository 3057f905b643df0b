// Package session owns the lifecycle of protocol sessions: bounded
// admission, the per-session state machine, pairing, reconnection, and
// teardown.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/txn2/chatbridge/pkg/protocol"
)

// Sentinel errors surfaced by the Manager.
var (
	// ErrPoolExhausted is returned by Acquire when the registry is at
	// capacity. No session is created or mutated.
	ErrPoolExhausted = errors.New("session pool exhausted")

	// ErrSessionNotFound is returned when no session is registered under
	// the given ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotConnected is returned when a send is attempted on a session
	// that has not completed pairing.
	ErrNotConnected = errors.New("session not connected")

	// ErrManagerClosed is returned by Acquire after the manager shut down.
	ErrManagerClosed = errors.New("session manager closed")
)

// State is a session's position in its lifecycle.
type State int

const (
	// StateInitializing covers dialing and reconnecting, before any
	// pairing challenge or resume has completed.
	StateInitializing State = iota

	// StateAwaitingPairing means a QR challenge is on display, waiting
	// for a scan.
	StateAwaitingPairing

	// StateConnected means the session is paired and live.
	StateConnected

	// StateTerminated is the only terminal state, reached through logout
	// or pairing timeout.
	StateTerminated
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAwaitingPairing:
		return "awaiting_pairing"
	case StateConnected:
		return "connected"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Status maps the state onto the three-valued status the control surface
// reports.
func (s State) Status() string {
	switch s {
	case StateAwaitingPairing:
		return "waiting_for_qr_scan"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Session is a point-in-time snapshot of one managed session.
type Session struct {
	ID          string
	State       State
	PhoneNumber string

	// PairingImage is a data URI present only while awaiting a scan.
	PairingImage string

	CreatedAt      time.Time
	LastActivityAt time.Time
}

// MessageHandler consumes inbound messages from connected sessions.
// bridge.Bridge is the production implementation.
type MessageHandler interface {
	Handle(ctx context.Context, sessionID, selfID string, client protocol.Client, msg protocol.Message)
}

// noopHandler drops inbound messages. Used when no handler is configured.
type noopHandler struct{}

func (noopHandler) Handle(context.Context, string, string, protocol.Client, protocol.Message) {}
