// Package protocoltest provides scriptable fakes for the protocol interfaces.
package protocoltest

import (
	"context"
	"sync"

	"github.com/txn2/chatbridge/pkg/protocol"
)

// eventBuffer sizes the fake event channel; tests emit well under this.
const eventBuffer = 32

// SentMessage records one SendText call.
type SentMessage struct {
	Recipient string
	Text      string
}

// PresenceUpdate records one SendPresence call.
type PresenceUpdate struct {
	Recipient string
	Presence  protocol.Presence
}

// FakeClient is a scriptable protocol.Client. Tests drive the session by
// calling Emit and observe outbound traffic through the accessors.
type FakeClient struct {
	mu        sync.Mutex
	events    chan protocol.Event
	sent      []SentMessage
	presences []PresenceUpdate
	reads     []string
	loggedOut bool
	closed    bool

	// SendTextErr, when set, is returned by every SendText call.
	SendTextErr error
}

// NewFakeClient creates an idle fake client.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		events: make(chan protocol.Event, eventBuffer),
	}
}

// Emit delivers an event to the session's consumer. Emitting
// ConnectionClosed closes the stream, matching the Client contract.
func (c *FakeClient) Emit(ev protocol.Event) {
	c.events <- ev
	if _, ok := ev.(protocol.ConnectionClosed); ok {
		close(c.events)
	}
}

// Events returns the session's event stream.
func (c *FakeClient) Events() <-chan protocol.Event {
	return c.events
}

// SendText records the outbound message.
func (c *FakeClient) SendText(_ context.Context, recipient, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SendTextErr != nil {
		return c.SendTextErr
	}
	c.sent = append(c.sent, SentMessage{Recipient: recipient, Text: text})
	return nil
}

// MarkRead records the acknowledged message ID.
func (c *FakeClient) MarkRead(_ context.Context, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reads = append(c.reads, messageID)
	return nil
}

// SendPresence records the typing-state update.
func (c *FakeClient) SendPresence(_ context.Context, recipient string, presence protocol.Presence) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.presences = append(c.presences, PresenceUpdate{Recipient: recipient, Presence: presence})
	return nil
}

// Logout records the logout.
func (c *FakeClient) Logout(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loggedOut = true
	return nil
}

// Close records the teardown.
func (c *FakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return nil
}

// Sent returns a copy of all recorded SendText calls.
func (c *FakeClient) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]SentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

// Presences returns a copy of all recorded SendPresence calls.
func (c *FakeClient) Presences() []PresenceUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PresenceUpdate, len(c.presences))
	copy(out, c.presences)
	return out
}

// Reads returns a copy of all recorded MarkRead message IDs.
func (c *FakeClient) Reads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.reads))
	copy(out, c.reads)
	return out
}

// LoggedOut reports whether Logout was called.
func (c *FakeClient) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.loggedOut
}

// Closed reports whether Close was called.
func (c *FakeClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// DialRecord captures one Dial call.
type DialRecord struct {
	SessionID string
	Creds     []byte
}

// FakeDialer hands out fake clients. Tests may queue clients per session ID
// ahead of time; otherwise each Dial creates a fresh idle client.
type FakeDialer struct {
	mu      sync.Mutex
	queued  map[string][]*FakeClient
	created map[string][]*FakeClient
	dials   []DialRecord

	// DialErr, when set, is returned by every Dial call.
	DialErr error
}

// NewFakeDialer creates an empty dialer.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{
		queued:  make(map[string][]*FakeClient),
		created: make(map[string][]*FakeClient),
	}
}

// Queue schedules a client to be returned by the next Dial for sessionID.
func (d *FakeDialer) Queue(sessionID string, c *FakeClient) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.queued[sessionID] = append(d.queued[sessionID], c)
}

// Dial returns the next queued client for sessionID, or a fresh one.
func (d *FakeDialer) Dial(_ context.Context, sessionID string, creds []byte) (protocol.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.DialErr != nil {
		return nil, d.DialErr
	}

	d.dials = append(d.dials, DialRecord{SessionID: sessionID, Creds: creds})

	var c *FakeClient
	if q := d.queued[sessionID]; len(q) > 0 {
		c = q[0]
		d.queued[sessionID] = q[1:]
	} else {
		c = NewFakeClient()
	}
	d.created[sessionID] = append(d.created[sessionID], c)
	return c, nil
}

// Dials returns a copy of all recorded Dial calls.
func (d *FakeDialer) Dials() []DialRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]DialRecord, len(d.dials))
	copy(out, d.dials)
	return out
}

// DialCount returns how many times sessionID was dialed.
func (d *FakeDialer) DialCount(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, rec := range d.dials {
		if rec.SessionID == sessionID {
			n++
		}
	}
	return n
}

// Clients returns every client handed out for sessionID, in dial order.
func (d *FakeDialer) Clients(sessionID string) []*FakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*FakeClient, len(d.created[sessionID]))
	copy(out, d.created[sessionID])
	return out
}

// Verify interface compliance.
var (
	_ protocol.Client = (*FakeClient)(nil)
	_ protocol.Dialer = (*FakeDialer)(nil)
)
