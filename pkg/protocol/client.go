// Package protocol abstracts the underlying messaging-protocol client.
// The session manager drives everything through the Client and Dialer
// interfaces, so the concrete wire implementation can be swapped out and
// tests can run against a fake (see protocoltest).
package protocol

import "context"

// CloseReason classifies a connection close.
type CloseReason int

const (
	// CloseReasonTransient is any close that is not an explicit logout:
	// network drop, server restart, stream error. The session reconnects
	// with its existing credentials.
	CloseReasonTransient CloseReason = iota

	// CloseReasonLoggedOut means the remote end invalidated the pairing.
	// Credentials are useless afterwards and must be purged.
	CloseReasonLoggedOut
)

// String returns the reason name for logging.
func (r CloseReason) String() string {
	if r == CloseReasonLoggedOut {
		return "logged_out"
	}
	return "transient"
}

// Presence is a typing-state indicator sent to a chat.
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)

// Event is the tagged union of everything a protocol session can emit.
// Exactly one concrete type below implements it per occurrence.
type Event interface {
	isEvent()
}

// QRChallenge carries a raw pairing challenge to be rendered as a QR code.
// A new challenge invalidates any previously emitted one.
type QRChallenge struct {
	Code string
}

// Connected signals a successful pairing or resume.
type Connected struct {
	// SelfID is the session's own chat identity, used for self-echo and
	// mention detection.
	SelfID string

	PhoneNumber string
}

// CredentialsRotated carries updated credential material to persist.
type CredentialsRotated struct {
	State []byte
}

// MessageReceived carries one inbound message.
type MessageReceived struct {
	Message Message
}

// ConnectionClosed signals that the session's connection ended.
type ConnectionClosed struct {
	Reason CloseReason
}

func (QRChallenge) isEvent()        {}
func (Connected) isEvent()          {}
func (CredentialsRotated) isEvent() {}
func (MessageReceived) isEvent()    {}
func (ConnectionClosed) isEvent()   {}

// Message is one inbound chat message, already flattened from the wire
// representation.
type Message struct {
	// ID identifies the message for read receipts.
	ID string

	// Sender is the chat the message arrived in (a direct chat or a group).
	// Replies go back to this address.
	Sender string

	// Participant is the individual author, relevant in group chats.
	Participant string

	// FromSelf marks messages authored by this session's own identity.
	FromSelf bool

	// Group marks messages from a group conversation.
	Group bool

	Text            string
	ExtendedText    string
	ImageCaption    string
	VideoCaption    string
	DocumentCaption string

	// MentionedIDs lists identities explicitly mentioned in the message.
	MentionedIDs []string

	// QuotedParticipant is the author of the quoted message when this
	// message is a reply, empty otherwise.
	QuotedParticipant string
}

// Content returns the first non-empty textual body among the plain text,
// extended text, and media captions. Empty when the message carries none.
func (m Message) Content() string {
	for _, s := range []string{m.Text, m.ExtendedText, m.ImageCaption, m.VideoCaption, m.DocumentCaption} {
		if s != "" {
			return s
		}
	}
	return ""
}

// Client is one live protocol session.
//
// Events is closed when the session ends; after a ConnectionClosed event no
// further events are delivered. All methods are safe for concurrent use.
type Client interface {
	// Events returns the session's event stream. Events for one session
	// arrive in order.
	Events() <-chan Event

	// SendText sends a text message to a recipient.
	SendText(ctx context.Context, recipient, text string) error

	// MarkRead acknowledges an inbound message.
	MarkRead(ctx context.Context, messageID string) error

	// SendPresence publishes a typing-state update to a chat.
	SendPresence(ctx context.Context, recipient string, presence Presence) error

	// Logout invalidates the pairing on the remote end.
	Logout(ctx context.Context) error

	// Close tears down the connection without logging out.
	Close() error
}

// Dialer opens protocol sessions. A nil creds blob starts a fresh pairing
// handshake; a previously persisted blob resumes without re-pairing.
type Dialer interface {
	Dial(ctx context.Context, sessionID string, creds []byte) (Client, error)
}
