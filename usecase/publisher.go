package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/metrics"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

// Publisher fans committed events out to realtime subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

type eventSink struct {
	pub    Publisher
	logger zerolog.Logger
}

func (s eventSink) event(typ model.EventType, t *model.Thread, m *model.Message) model.Event {
	ev := model.Event{ID: NewID(), Type: typ, ThreadID: t.ID, Thread: t.Header(), At: now()}
	if m != nil {
		c := m.Clone()
		ev.Message = &c
	}
	return ev
}

// publish runs after commit. A lost event is recovered by the next snapshot
// fetch or poll, so failures are only logged.
func (s eventSink) publish(ctx context.Context, events ...model.Event) {
	if s.pub == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		if err := s.pub.Publish(ctx, ev); err != nil {
			metrics.PublishFailures.Inc()
			s.logger.Warn().Err(err).
				Str("event_type", string(ev.Type)).
				Str("thread_id", ev.ThreadID).
				Msg("event publish failed")
			continue
		}
		metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	}
}

// authorize checks that s is one of the two fixed participants of t.
func authorize(t *model.Thread, s model.Sender) error {
	if s.PartyID == "" {
		return model.ErrUnauthenticated
	}
	if !s.Role.Valid() {
		return model.ErrInvalidRole
	}
	if !t.IsParticipant(s) {
		return model.ErrNotParticipant
	}
	return nil
}

func errorCode(err error) string {
	var me *model.Error
	if errors.As(err, &me) {
		return me.Code
	}
	return "internal"
}

func touch(t *model.Thread, at time.Time) {
	t.Version++
	t.UpdatedAt = at
}
