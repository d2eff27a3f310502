package collab

import (
	"encoding/json"
	"time"
)

// Server event names on the wire.
const (
	EventDocumentJoined = "document-joined"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventTextChanged    = "text-changed"
	EventCursorMoved    = "cursor-moved"
	EventSaveComplete   = "save-complete"
	EventError          = "error"
)

// ClientCommand is the closed set of commands a connection may issue after
// authentication. The engine dispatches through one exhaustive type switch,
// so adding a command is a compile-time-checked change.
type ClientCommand interface {
	commandName() string
}

// JoinDocument asks to enter a document's room.
type JoinDocument struct {
	DocumentID string
}

// LeaveDocument asks to exit the document's room.
type LeaveDocument struct {
	DocumentID string
}

// TextChange overwrites the document's current content. Operation is an
// opaque client payload relayed untouched to the other members.
type TextChange struct {
	DocumentID string
	Content    string
	Operation  json.RawMessage
}

// CursorMove reports the caller's cursor offset. Best-effort: failures are
// dropped silently.
type CursorMove struct {
	DocumentID string
	Position   int
}

// SaveDocument snapshots content into the version history. Owner only.
type SaveDocument struct {
	DocumentID string
	Content    string
}

func (JoinDocument) commandName() string  { return "join-document" }
func (LeaveDocument) commandName() string { return "leave-document" }
func (TextChange) commandName() string    { return "text-change" }
func (CursorMove) commandName() string    { return "cursor-move" }
func (SaveDocument) commandName() string  { return "save-document" }

// ServerEvent is one outbound frame: an event name plus its payload.
type ServerEvent struct {
	Type    string
	Payload interface{}
}

// EventSender delivers server events to one connection. Delivery is
// fire-and-forget and at-most-once; implementations must not block.
type EventSender interface {
	Send(event ServerEvent)
}

// UserRef identifies a user inside event payloads.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// DocumentJoinedPayload is sent to the joining caller alone.
type DocumentJoinedPayload struct {
	Document    DocumentPayload     `json:"document"`
	ActiveUsers []ActiveUserPayload `json:"activeUsers"`
}

// DocumentPayload is the full document snapshot inside document-joined.
type DocumentPayload struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Owner   UserRef `json:"owner"`
	IsOwner bool    `json:"isOwner"`
}

// ActiveUserPayload is one row of the active-user list.
type ActiveUserPayload struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	CursorPosition int       `json:"cursorPosition"`
	JoinedAt       time.Time `json:"joinedAt"`
}

// UserJoinedPayload notifies existing room members of a new joiner.
type UserJoinedPayload struct {
	User     UserRef   `json:"user"`
	JoinedAt time.Time `json:"joinedAt"`
}

// UserLeftPayload notifies remaining room members of a departure.
type UserLeftPayload struct {
	User   UserRef   `json:"user"`
	LeftAt time.Time `json:"leftAt"`
}

// TextChangedPayload fans an accepted edit out to the other members. The
// author is excluded; their client keeps its local buffer.
type TextChangedPayload struct {
	Content   string          `json:"content"`
	Operation json.RawMessage `json:"operation,omitempty"`
	User      UserRef         `json:"user"`
	Timestamp time.Time       `json:"timestamp"`
}

// CursorMovedPayload fans a cursor offset out to the other members.
type CursorMovedPayload struct {
	User      UserRef   `json:"user"`
	Position  int       `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

// SaveCompletePayload is broadcast room-wide, author included, because the
// saver needs the confirmation.
type SaveCompletePayload struct {
	Version   int64     `json:"version"`
	SavedBy   UserRef   `json:"savedBy"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload reports a recoverable failure to the caller alone.
type ErrorPayload struct {
	Message string `json:"message"`
}
