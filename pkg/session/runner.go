package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/txn2/chatbridge/pkg/pairing"
	"github.com/txn2/chatbridge/pkg/protocol"
	"github.com/txn2/chatbridge/pkg/webhook"
)

// outcome classifies why a connection's event stream ended.
type outcome int

const (
	// outcomeTransient means the connection dropped without a logout;
	// the runner redials with the same credentials.
	outcomeTransient outcome = iota

	// outcomeTerminal means logout or pairing timeout ended the session.
	outcomeTerminal

	// outcomeStopped means the manager is shutting the session down.
	outcomeStopped
)

// runner drives one session's lifecycle on its own goroutine. All protocol
// events for the session are consumed in arrival order; mutable state is
// guarded for the snapshot and send paths.
type runner struct {
	mgr *Manager
	id  string

	ctx    context.Context
	cancel context.CancelFunc

	// expo paces reconnects after transient closes. Only the runner
	// goroutine touches it.
	expo *backoff.ExponentialBackOff

	mu            sync.Mutex
	state         State
	phoneNumber   string
	selfID        string
	pairingImage  string
	client        protocol.Client
	createdAt     time.Time
	lastActivity  time.Time
	connectedOnce bool
}

func newRunner(m *Manager, sessionID string) *runner {
	ctx, cancel := context.WithCancel(m.baseCtx)

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = m.cfg.ReconnectInitialInterval
	expo.MaxInterval = m.cfg.ReconnectMaxInterval
	expo.MaxElapsedTime = 0 // reconnect until logout or shutdown

	now := time.Now()
	return &runner{
		mgr:          m,
		id:           sessionID,
		ctx:          ctx,
		cancel:       cancel,
		expo:         expo,
		state:        StateInitializing,
		createdAt:    now,
		lastActivity: now,
	}
}

// run is the session's main loop: dial, consume events, and on transient
// closes dial again with backoff. It returns only on a terminal transition
// or manager shutdown, releasing the registry slot either way.
func (r *runner) run() {
	defer r.mgr.release(r)
	defer r.cancel()

	pairingTimer := time.NewTimer(r.mgr.cfg.PairingTimeout)
	defer pairingTimer.Stop()

	var pairingC <-chan time.Time = pairingTimer.C

	for {
		client, err := r.dial()
		if err != nil {
			slog.Error("session dial failed", "error", err, "session_id", r.id)

			select {
			case <-r.ctx.Done():
				return
			case <-pairingC:
				if !r.hasConnectedOnce() {
					r.expirePairing(nil)
					return
				}
				pairingC = nil
			case <-time.After(r.expo.NextBackOff()):
			}
			continue
		}

		r.setClient(client)

		switch out := r.consume(client, &pairingC); out {
		case outcomeTerminal, outcomeStopped:
			return
		case outcomeTransient:
			r.resetForReconnect()
			slog.Info("session closed transiently, reconnecting", "session_id", r.id)
		}

		if r.hasConnectedOnce() {
			pairingC = nil
		}

		select {
		case <-r.ctx.Done():
			return
		case <-time.After(r.expo.NextBackOff()):
		}
	}
}

// dial loads persisted credentials and opens a protocol session. A load
// failure is treated like a dial failure so it retries rather than forcing
// an unnecessary re-pair with nil credentials.
func (r *runner) dial() (protocol.Client, error) {
	creds, err := r.mgr.store.Load(r.ctx, r.id)
	if err != nil {
		return nil, err
	}
	return r.mgr.dialer.Dial(r.ctx, r.id, creds)
}

// consume processes one connection's event stream until it ends.
func (r *runner) consume(client protocol.Client, pairingC *<-chan time.Time) outcome {
	for {
		select {
		case <-r.ctx.Done():
			_ = client.Close()
			return outcomeStopped

		case <-*pairingC:
			if r.hasConnectedOnce() {
				// Fired after a successful pairing; never terminal.
				*pairingC = nil
				continue
			}
			r.expirePairing(client)
			return outcomeTerminal

		case ev, ok := <-client.Events():
			if !ok {
				_ = client.Close()
				return outcomeTransient
			}
			if out, done := r.handleEvent(client, ev); done {
				return out
			}
		}
	}
}

// handleEvent applies one protocol event to the state machine. done is true
// when the connection's stream is finished.
func (r *runner) handleEvent(client protocol.Client, ev protocol.Event) (out outcome, done bool) {
	switch ev := ev.(type) {
	case protocol.QRChallenge:
		img, err := pairing.ImageDataURI(ev.Code)
		if err != nil {
			slog.Error("rendering pairing challenge", "error", err, "session_id", r.id)
			return 0, false
		}
		r.setAwaitingPairing(img)
		slog.Info("session awaiting pairing scan", "session_id", r.id)
		r.mgr.publishAsync(webhook.Event{
			SessionID:    r.id,
			Status:       webhook.StatusWaitingForQRScan,
			PairingImage: img,
		})

	case protocol.Connected:
		r.setConnected(ev.SelfID, ev.PhoneNumber)
		slog.Info("session connected", "session_id", r.id, "phone_number", ev.PhoneNumber)
		r.mgr.publishAsync(webhook.Event{
			SessionID:   r.id,
			Status:      webhook.StatusConnected,
			PhoneNumber: ev.PhoneNumber,
		})

	case protocol.CredentialsRotated:
		// Best effort: a failed save degrades restart resumption but
		// must not kill the live session.
		if err := r.mgr.store.Save(r.ctx, r.id, ev.State); err != nil {
			slog.Error("persisting rotated credentials", "error", err, "session_id", r.id)
		}

	case protocol.MessageReceived:
		r.touch()
		r.handleMessage(client, ev.Message)

	case protocol.ConnectionClosed:
		if ev.Reason == protocol.CloseReasonLoggedOut {
			r.terminateLoggedOut(client)
			return outcomeTerminal, true
		}
		_ = client.Close()
		return outcomeTransient, true
	}

	return 0, false
}

// handleMessage relays one inbound message, containing any panic so a bad
// message cannot take down the session loop.
func (r *runner) handleMessage(client protocol.Client, msg protocol.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("message handling panicked", "panic", rec, "session_id", r.id)
		}
	}()

	r.mu.Lock()
	selfID := r.selfID
	r.mu.Unlock()

	r.mgr.handler.Handle(r.ctx, r.id, selfID, client, msg)
}

// expirePairing handles pairing-timer expiry before any successful connect:
// nothing was ever paired, so persisted material is purged and the slot is
// released. client is nil when the timer fires between dial attempts.
func (r *runner) expirePairing(client protocol.Client) {
	slog.Warn("pairing window expired", "session_id", r.id)

	if err := r.mgr.store.Delete(r.ctx, r.id); err != nil {
		slog.Error("deleting auth state after pairing timeout", "error", err, "session_id", r.id)
	}
	if client != nil {
		_ = client.Close()
	}

	r.setTerminated()
	r.mgr.publishAsync(webhook.Event{SessionID: r.id, Status: webhook.StatusQRExpired})
}

// terminateLoggedOut handles an explicit logout close: credentials are
// useless afterwards and must be purged.
func (r *runner) terminateLoggedOut(client protocol.Client) {
	slog.Info("session logged out", "session_id", r.id)

	if err := r.mgr.store.Delete(r.ctx, r.id); err != nil {
		slog.Error("deleting auth state after logout", "error", err, "session_id", r.id)
	}
	_ = client.Close()

	r.setTerminated()
	r.mgr.publishAsync(webhook.Event{SessionID: r.id, Status: webhook.StatusDisconnected})
}

// terminate is the explicit-disconnect path, invoked from the manager.
func (r *runner) terminate(ctx context.Context, logout bool) {
	r.mu.Lock()
	client := r.client
	r.state = StateTerminated
	r.pairingImage = ""
	r.mu.Unlock()

	if logout && client != nil {
		if err := client.Logout(ctx); err != nil {
			slog.Warn("logging session out", "error", err, "session_id", r.id)
		}
	}

	r.cancel()
}

// sendText sends through the live connection.
func (r *runner) sendText(ctx context.Context, recipient, text string) error {
	r.mu.Lock()
	client := r.client
	connected := r.state == StateConnected
	r.mu.Unlock()

	if !connected || client == nil {
		return ErrNotConnected
	}
	if err := client.SendText(ctx, recipient, text); err != nil {
		return err
	}
	r.touch()
	return nil
}

// snapshot returns a copy of the session's current state.
func (r *runner) snapshot() Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Session{
		ID:             r.id,
		State:          r.state,
		PhoneNumber:    r.phoneNumber,
		PairingImage:   r.pairingImage,
		CreatedAt:      r.createdAt,
		LastActivityAt: r.lastActivity,
	}
}

func (r *runner) setClient(client protocol.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.client = client
}

func (r *runner) setAwaitingPairing(image string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = StateAwaitingPairing
	r.pairingImage = image
}

func (r *runner) setConnected(selfID, phoneNumber string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = StateConnected
	r.selfID = selfID
	r.phoneNumber = phoneNumber
	r.pairingImage = ""
	r.connectedOnce = true
	r.lastActivity = time.Now()

	// A clean connect means the endpoint is healthy again.
	r.expo.Reset()
}

func (r *runner) setTerminated() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = StateTerminated
	r.pairingImage = ""
}

// resetForReconnect returns the session to Initializing after a transient
// close. Credentials and phone identity are retained.
func (r *runner) resetForReconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = StateInitializing
	r.pairingImage = ""
	r.client = nil
}

func (r *runner) touch() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActivity = time.Now()
}

func (r *runner) hasConnectedOnce() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.connectedOnce
}
