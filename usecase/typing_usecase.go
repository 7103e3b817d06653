package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

// Presence stores ephemeral typing state with expiry.
type Presence interface {
	Set(ctx context.Context, t model.Typing) error
	Active(ctx context.Context, threadID string) ([]model.Typing, error)
}

// TypingUsecase tracks who is typing. Nothing here is persisted with the
// thread; callers must already have checked that the sender is a participant.
type TypingUsecase struct {
	presence Presence
	events   eventSink
	ttl      time.Duration
}

func NewTypingUsecase(presence Presence, pub Publisher, ttl time.Duration, logger zerolog.Logger) *TypingUsecase {
	logger = logger.With().Str("component", "typing").Logger()
	return &TypingUsecase{presence: presence, events: eventSink{pub: pub, logger: logger}, ttl: ttl}
}

// Signal records and broadcasts a typing change. Lost updates are tolerated:
// the entry expires on its own after the TTL.
func (u *TypingUsecase) Signal(ctx context.Context, threadID string, sender model.Sender, isTyping bool) (model.Typing, error) {
	at := now()
	t := model.Typing{ThreadID: threadID, Sender: sender, IsTyping: isTyping, ExpiresAt: at.Add(u.ttl)}
	if err := u.presence.Set(ctx, t); err != nil {
		return t, err
	}
	u.events.publish(ctx, model.Event{ID: NewID(), Type: model.EventTyping, ThreadID: threadID, Typing: &t, At: at})
	return t, nil
}

// Active lists parties currently typing on the thread other than viewer.
func (u *TypingUsecase) Active(ctx context.Context, threadID string, viewer model.Sender) ([]model.Typing, error) {
	all, err := u.presence.Active(ctx, threadID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Typing, 0, len(all))
	for _, t := range all {
		if t.Sender == viewer {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
