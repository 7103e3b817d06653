package model

import "time"

type Status string

const (
	StatusNew              Status = "new"
	StatusNegotiating      Status = "negotiating"
	StatusAgreementPending Status = "agreement_pending"
	StatusAccepted         Status = "accepted"
	StatusRejected         Status = "rejected"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether offers and agreement toggles are closed.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusCancelled
}

// Open reports whether chat messages can still be written.
func (s Status) Open() bool {
	return s != StatusRejected && s != StatusCancelled
}

type Agreement struct {
	TravelerAgreed bool `json:"traveler_agreed"`
	GuideAgreed    bool `json:"guide_agreed"`
}

func (a Agreement) Both() bool {
	return a.TravelerAgreed && a.GuideAgreed
}

func (a Agreement) Any() bool {
	return a.TravelerAgreed || a.GuideAgreed
}

func (a Agreement) Of(r Role) bool {
	if r == RoleTraveler {
		return a.TravelerAgreed
	}
	return a.GuideAgreed
}

func (a *Agreement) Set(r Role, v bool) {
	if r == RoleTraveler {
		a.TravelerAgreed = v
	} else {
		a.GuideAgreed = v
	}
}

type ReadMarkers struct {
	TravelerSeq int64 `json:"traveler_seq"`
	GuideSeq    int64 `json:"guide_seq"`
}

func (m ReadMarkers) Of(r Role) int64 {
	if r == RoleTraveler {
		return m.TravelerSeq
	}
	return m.GuideSeq
}

func (m *ReadMarkers) Set(r Role, seq int64) {
	if r == RoleTraveler {
		m.TravelerSeq = seq
	} else {
		m.GuideSeq = seq
	}
}

type LatestOffer struct {
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	ProposedBy Sender    `json:"proposed_by"`
	At         time.Time `json:"at"`
}

func (o LatestOffer) Money() Money {
	return Money{Amount: o.Amount, Currency: o.Currency}
}

// Thread is the negotiation record tying one traveler to one guide for one
// tour request.
type Thread struct {
	ID            string       `json:"id"`
	TourRequestID string       `json:"tour_request_id,omitempty"`
	TravelerID    string       `json:"traveler_id"`
	GuideID       string       `json:"guide_id"`
	Status        Status       `json:"status"`
	InitialBudget Money        `json:"initial_budget"`
	LatestOffer   *LatestOffer `json:"latest_offer"`
	MinPrice      *Money       `json:"min_price,omitempty"`
	FinalPrice    *Money       `json:"final_price"`
	Agreement     Agreement    `json:"agreement"`
	ReadMarkers   ReadMarkers  `json:"read_markers"`
	LastSeq       int64        `json:"last_seq"`
	Version       int64        `json:"version"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	Messages      []Message    `json:"messages,omitempty"`
}

func (t *Thread) PartyID(r Role) string {
	if r == RoleTraveler {
		return t.TravelerID
	}
	return t.GuideID
}

func (t *Thread) IsParticipant(s Sender) bool {
	return s.Valid() && t.PartyID(s.Role) == s.PartyID
}

// Currency is the single currency every amount on the thread uses.
func (t *Thread) Currency() string {
	return t.InitialBudget.Currency
}

// CurrentPrice is the price both parties agree to: the latest offer, or the
// initial budget when no offer was ever made.
func (t *Thread) CurrentPrice() Money {
	if t.LatestOffer != nil {
		return t.LatestOffer.Money()
	}
	return t.InitialBudget
}

// Clone deep-copies the thread, messages included.
func (t *Thread) Clone() *Thread {
	c := t.Header()
	if t.Messages != nil {
		c.Messages = make([]Message, len(t.Messages))
		for i := range t.Messages {
			c.Messages[i] = t.Messages[i].Clone()
		}
	}
	return c
}

// Header copies the thread without its messages.
func (t *Thread) Header() *Thread {
	c := *t
	c.Messages = nil
	if t.LatestOffer != nil {
		o := *t.LatestOffer
		c.LatestOffer = &o
	}
	if t.MinPrice != nil {
		m := *t.MinPrice
		c.MinPrice = &m
	}
	if t.FinalPrice != nil {
		f := *t.FinalPrice
		c.FinalPrice = &f
	}
	return &c
}

// RedactFor hides what the given role may not see. The floor is visible to
// the guide only.
func (t *Thread) RedactFor(r Role) *Thread {
	c := t.Clone()
	if r != RoleGuide {
		c.MinPrice = nil
	}
	return c
}
