package model

import "time"

type EventType string

const (
	EventMessageCreated   EventType = "message_created"
	EventMessageUpdated   EventType = "message_updated"
	EventMessageDeleted   EventType = "message_deleted"
	EventOfferChanged     EventType = "offer_changed"
	EventAgreementChanged EventType = "agreement_changed"
	EventStatusChanged    EventType = "status_changed"
	EventFloorSet         EventType = "floor_set"
	EventReadUpdated      EventType = "read_updated"
	EventTyping           EventType = "typing"
)

// Typing is the ephemeral presence signal of one party on one thread.
type Typing struct {
	ThreadID  string    `json:"thread_id"`
	Sender    Sender    `json:"sender"`
	IsTyping  bool      `json:"is_typing"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Event is one realtime notification. Delivery is at-least-once: consumers
// must drop events whose ID they have already applied.
type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	ThreadID string    `json:"thread_id"`
	Thread   *Thread   `json:"thread,omitempty"`
	Message  *Message  `json:"message,omitempty"`
	Typing   *Typing   `json:"typing,omitempty"`
	At       time.Time `json:"at"`
}

func (e Event) VisibleTo(r Role) bool {
	if e.Type == EventFloorSet {
		return r == RoleGuide
	}
	return true
}

func (e Event) RedactFor(r Role) Event {
	if e.Thread != nil {
		e.Thread = e.Thread.RedactFor(r)
	}
	return e
}
