package dao

import (
	"context"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

// ThreadRepository is the durable store behind the thread operations.
// Update is the only write path for an existing thread: implementations run
// fn under a per-thread write lock and persist everything fn did atomically.
// Writes to different threads must not block each other.
type ThreadRepository interface {
	Create(ctx context.Context, t *model.Thread) error
	Get(ctx context.Context, id string) (*model.Thread, error)
	ListByParty(ctx context.Context, party model.Sender) ([]model.Thread, error)
	Offers(ctx context.Context, threadID string) ([]model.Offer, error)
	Update(ctx context.Context, id string, fn func(tx ThreadTx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// ThreadTx is the locked view of one thread handed to Update callbacks.
// Changes made to Thread() are saved when the callback returns nil.
type ThreadTx interface {
	Thread() *model.Thread
	Message(id string) (*model.Message, error)
	// MessageByClientID returns nil, nil when the correlation id is unknown.
	MessageByClientID(sender model.Sender, clientID string) (*model.Message, error)
	// AppendMessage assigns the next sequence number and stores m.
	AppendMessage(m *model.Message) error
	SaveMessage(m *model.Message) error
	AddOffer(o *model.Offer) error
}
