package model

import "time"

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindOffer  MessageKind = "offer"
	KindSystem MessageKind = "system"
)

const MaxContentLength = 4000

type Message struct {
	ID          string      `json:"id"`
	ThreadID    string      `json:"thread_id"`
	Seq         int64       `json:"seq"`
	Sender      Sender      `json:"sender"`
	Kind        MessageKind `json:"kind"`
	Content     string      `json:"content"`
	Attachments []string    `json:"attachments,omitempty"`
	Offer       *Money      `json:"offer,omitempty"`
	ClientID    string      `json:"client_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	EditedAt    *time.Time  `json:"edited_at,omitempty"`
	Deleted     bool        `json:"deleted"`
}

func (m Message) Clone() Message {
	c := m
	if m.Attachments != nil {
		c.Attachments = append([]string(nil), m.Attachments...)
	}
	if m.Offer != nil {
		o := *m.Offer
		c.Offer = &o
	}
	if m.EditedAt != nil {
		e := *m.EditedAt
		c.EditedAt = &e
	}
	return c
}

// NewerThan orders two revisions of the same message. Deletion is final and
// later edits win.
func (m Message) NewerThan(o Message) bool {
	if m.Deleted != o.Deleted {
		return m.Deleted
	}
	if m.EditedAt == nil {
		return false
	}
	if o.EditedAt == nil {
		return true
	}
	return m.EditedAt.After(*o.EditedAt)
}

type Offer struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	Amount     Money     `json:"amount"`
	ProposedBy Sender    `json:"proposed_by"`
	CreatedAt  time.Time `json:"created_at"`
}
