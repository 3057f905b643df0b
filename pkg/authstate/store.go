// Package authstate persists per-session credential material.
// It defines the Store interface for credential persistence and the backends
// that implement it. Blobs are opaque to this package: the protocol client
// produces them on credential rotation and consumes them on reconnect.
package authstate

import "context"

// Store defines the interface for credential persistence, keyed by session ID.
//
// Save is last-write-wins per session and is called on every credential
// rotation. Delete is idempotent and removes all persisted material for the
// session; it must only be invoked on explicit logout or pairing timeout,
// never on a transient disconnect.
type Store interface {
	// Load retrieves the credential blob for a session.
	// Returns nil, nil if nothing is persisted.
	Load(ctx context.Context, sessionID string) ([]byte, error)

	// Save persists the credential blob for a session, replacing any
	// previous value.
	Save(ctx context.Context, sessionID string, state []byte) error

	// Delete removes all persisted material for a session.
	Delete(ctx context.Context, sessionID string) error

	// ListSessionIDs returns the IDs of all sessions with persisted
	// credentials. Used once at startup to discover sessions to reconnect.
	ListSessionIDs(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}
