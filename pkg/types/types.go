package types

import (
	"encoding/json"
	"time"
)

// Section names one of the two independent message channels inside a room.
type Section string

const (
	SectionChat  Section = "chat"
	SectionMedia Section = "media"
)

// Kind is the message kind carried in the "type" field on the wire.
type Kind string

const (
	KindText    Kind = "text"
	KindMedia   Kind = "media"
	KindDeleted Kind = "deleted"
)

// DefaultDeletedPlaceholder replaces the body of a soft-deleted message.
const DefaultDeletedPlaceholder = "Bu mesaj silindi"

// Inbound event names.
const (
	EventJoin          = "join"
	EventMessage       = "message"
	EventDeleteMessage = "deleteMessage"
	EventLeave         = "leave"
)

// Outbound event names. EventMessage is shared with the inbound set.
const (
	EventMessageHistory = "messageHistory"
	EventMessageUpdate  = "messageUpdate"
	EventRoomUpdate     = "roomUpdate"
	EventUserCityUpdate = "userCityUpdate"
	EventError          = "error"
)

// Message is a single entry in a room section log.
// Only the soft-delete transition may change it after creation.
type Message struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	Body      string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
	Room      string  `json:"room"`
	Type      Kind    `json:"type"`
	MediaURL  string  `json:"mediaUrl,omitempty"`
	Deleted   bool    `json:"deleted"`
	UserCity  string  `json:"userCity"`
	Section   Section `json:"section"`
}

// MarkDeleted rewrites m into its tombstoned form. It reports false when m was
// already deleted, in which case m is left untouched.
func (m *Message) MarkDeleted(placeholder string) bool {
	if m.Deleted {
		return false
	}
	m.Body = placeholder
	m.Type = KindDeleted
	m.Deleted = true
	return true
}

// CreatedAt returns the message timestamp as a time.Time.
func (m *Message) CreatedAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Participant is the identity record kept for a display name.
type Participant struct {
	Name      string    `json:"username"`
	City      string    `json:"city"`
	FirstSeen time.Time `json:"first_seen"`
}

// RoomCount pairs a room with its current presence count.
type RoomCount struct {
	Room      string `json:"room"`
	UserCount int    `json:"userCount"`
}

// Envelope is the frame format used in both directions over the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEnvelope is the typed counterpart of Envelope for writes.
type OutboundEnvelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// JoinPayload is the body of a join event.
type JoinPayload struct {
	Username string  `json:"username" validate:"required,max=50"`
	Room     string  `json:"room" validate:"required,max=100"`
	Section  Section `json:"section" validate:"required,oneof=chat media"`
	City     string  `json:"city" validate:"max=100"`
}

// MessagePayload is the body of a message event.
type MessagePayload struct {
	Username string  `json:"username" validate:"required,max=50"`
	Message  string  `json:"message" validate:"max=4096"`
	Room     string  `json:"room" validate:"required,max=100"`
	Type     Kind    `json:"type" validate:"omitempty,oneof=text media"`
	MediaURL string  `json:"mediaUrl" validate:"required_if=Type media,max=2048"`
	Section  Section `json:"section" validate:"required,oneof=chat media"`
}

// DeletePayload is the body of a deleteMessage event.
type DeletePayload struct {
	MessageID string  `json:"messageId" validate:"required"`
	Room      string  `json:"room" validate:"required"`
	Username  string  `json:"username"`
	Section   Section `json:"section" validate:"required,oneof=chat media"`
}

// LeavePayload is the body of a leave event.
type LeavePayload struct {
	Room string `json:"room" validate:"required"`
}

// RoomUpdate is broadcast whenever a room's presence count changes.
type RoomUpdate = RoomCount

// CityUpdate is broadcast when a participant rejoins with a different city.
type CityUpdate struct {
	Username string `json:"username"`
	City     string `json:"city"`
}

// ErrorPayload is sent to the originating connection only.
type ErrorPayload struct {
	Message string `json:"message"`
}
