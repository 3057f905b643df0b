package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/txn2/chatbridge/pkg/authstate"
	"github.com/txn2/chatbridge/pkg/protocol"
	"github.com/txn2/chatbridge/pkg/webhook"
)

// Config configures a Manager.
type Config struct {
	// Capacity bounds concurrently registered sessions.
	Capacity int

	// PairingTimeout is how long a fresh session may wait for a code
	// scan before its slot is released and its credentials purged.
	PairingTimeout time.Duration

	// BootstrapDelay spaces out reconnects of persisted sessions at
	// startup.
	BootstrapDelay time.Duration

	// ReconnectInitialInterval seeds the per-session reconnect backoff.
	ReconnectInitialInterval time.Duration

	// ReconnectMaxInterval caps the per-session reconnect backoff.
	ReconnectMaxInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Capacity == 0 {
		c.Capacity = 50
	}
	if c.PairingTimeout == 0 {
		c.PairingTimeout = 2 * time.Minute
	}
	if c.BootstrapDelay == 0 {
		c.BootstrapDelay = time.Second
	}
	if c.ReconnectInitialInterval == 0 {
		c.ReconnectInitialInterval = 2 * time.Second
	}
	if c.ReconnectMaxInterval == 0 {
		c.ReconnectMaxInterval = time.Minute
	}
}

// Manager is the single owner of the session registry. It enforces the
// capacity bound, keeps Acquire idempotent, and fans lifecycle work out to
// one runner goroutine per session.
type Manager struct {
	cfg       Config
	dialer    protocol.Dialer
	store     authstate.Store
	publisher webhook.Publisher
	handler   MessageHandler

	mu       sync.Mutex
	sessions map[string]*runner
	closed   bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a Manager. The store, dialer, publisher, and handler
// are shared by all sessions.
func NewManager(cfg Config, dialer protocol.Dialer, store authstate.Store, publisher webhook.Publisher, handler MessageHandler) *Manager {
	cfg.applyDefaults()
	if publisher == nil {
		publisher = webhook.NoopPublisher{}
	}
	if handler == nil {
		handler = noopHandler{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		dialer:    dialer,
		store:     store,
		publisher: publisher,
		handler:   handler,
		sessions:  make(map[string]*runner),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Acquire registers a session and starts its lifecycle. A second call for a
// live session is a no-op. Returns ErrPoolExhausted at capacity; in that
// case nothing is created or mutated.
func (m *Manager) Acquire(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if _, ok := m.sessions[sessionID]; ok {
		return nil
	}
	if len(m.sessions) >= m.cfg.Capacity {
		return fmt.Errorf("%w: capacity %d reached", ErrPoolExhausted, m.cfg.Capacity)
	}

	r := newRunner(m, sessionID)
	m.sessions[sessionID] = r

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		r.run()
	}()

	slog.Info("session registered", "session_id", sessionID, "pool_size", len(m.sessions))
	return nil
}

// release removes a runner's registry entry. Removing an entry that was
// already replaced or removed is a no-op.
func (m *Manager) release(r *runner) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.sessions[r.id]; ok && current == r {
		delete(m.sessions, r.id)
		slog.Info("session released", "session_id", r.id, "pool_size", len(m.sessions))
	}
}

// lookup returns the runner for a session ID.
func (m *Manager) lookup(sessionID string) (*runner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.sessions[sessionID]
	return r, ok
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// Snapshot returns a point-in-time copy of a session's state.
func (m *Manager) Snapshot(sessionID string) (Session, bool) {
	r, ok := m.lookup(sessionID)
	if !ok {
		return Session{}, false
	}
	return r.snapshot(), true
}

// Status returns the control-surface status and pairing image for a
// session. Unregistered sessions report "disconnected" with no image.
func (m *Manager) Status(sessionID string) (status string, pairingImage string) {
	snap, ok := m.Snapshot(sessionID)
	if !ok {
		return StateTerminated.Status(), ""
	}
	return snap.State.Status(), snap.PairingImage
}

// SendText sends a text message through a connected session.
func (m *Manager) SendText(ctx context.Context, sessionID, recipient, text string) error {
	r, ok := m.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return r.sendText(ctx, recipient, text)
}

// Disconnect logs a session out and purges its credentials. Disconnecting
// an unregistered session still purges any persisted credentials so a
// stale record cannot resurrect it at the next bootstrap.
func (m *Manager) Disconnect(ctx context.Context, sessionID string) error {
	if err := m.store.Delete(ctx, sessionID); err != nil {
		slog.Error("deleting auth state on disconnect", "error", err, "session_id", sessionID)
	}

	if r, ok := m.lookup(sessionID); ok {
		r.terminate(ctx, true)
	}

	m.publishAsync(webhook.Event{SessionID: sessionID, Status: webhook.StatusDisconnected})
	return nil
}

// Bootstrap reconnects every session with persisted credentials,
// sequentially and with spacing, so a process restart does not stampede
// the protocol endpoint. Individual failures are logged and skipped.
func (m *Manager) Bootstrap(ctx context.Context) error {
	ids, err := m.store.ListSessionIDs(ctx)
	if err != nil {
		return fmt.Errorf("discovering persisted sessions: %w", err)
	}
	if len(ids) == 0 {
		slog.Info("no persisted sessions to reconnect")
		return nil
	}

	slog.Info("reconnecting persisted sessions", "count", len(ids))
	for i, id := range ids {
		if err := m.Acquire(ctx, id); err != nil {
			slog.Error("reconnecting persisted session", "error", err, "session_id", id)
		}

		if i == len(ids)-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.BootstrapDelay):
		}
	}
	return nil
}

// Close stops all sessions and waits for their runners to exit. Credentials
// are retained so sessions resume at the next start.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	return nil
}

// publishAsync delivers a lifecycle event without blocking the caller.
// Events raised after shutdown began are dropped.
func (m *Manager) publishAsync(event webhook.Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.publisher.Publish(m.baseCtx, event)
	}()
}
