package usecase

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/dao"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/metrics"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

type ThreadUsecase struct {
	repo   dao.ThreadRepository
	events eventSink
	logger zerolog.Logger
}

func NewThreadUsecase(repo dao.ThreadRepository, pub Publisher, logger zerolog.Logger) *ThreadUsecase {
	logger = logger.With().Str("component", "threads").Logger()
	return &ThreadUsecase{
		repo:   repo,
		events: eventSink{pub: pub, logger: logger},
		logger: logger,
	}
}

type CreateThreadInput struct {
	TravelerID    string
	GuideID       string
	InitialBudget model.Money
	TourRequestID string
}

// CreateThread opens a negotiation. Only the traveler named in the request
// may open it.
func (u *ThreadUsecase) CreateThread(ctx context.Context, creator model.Sender, in CreateThreadInput) (*model.Thread, error) {
	if creator.PartyID == "" {
		return nil, model.ErrUnauthenticated
	}
	if creator.Role != model.RoleTraveler {
		return nil, model.ErrForbiddenRole
	}
	if in.TravelerID == "" {
		in.TravelerID = creator.PartyID
	}
	if in.TravelerID != creator.PartyID {
		return nil, model.ErrNotParticipant
	}
	if in.GuideID == "" || in.GuideID == in.TravelerID {
		return nil, fmt.Errorf("%w: a distinct guide_id is required", model.ErrInvalidRequest)
	}
	budget, err := model.NewMoney(in.InitialBudget.Amount, in.InitialBudget.Currency)
	if err != nil {
		return nil, err
	}

	at := now()
	t := &model.Thread{
		ID:            NewID(),
		TourRequestID: strings.TrimSpace(in.TourRequestID),
		TravelerID:    in.TravelerID,
		GuideID:       in.GuideID,
		Status:        model.StatusNew,
		InitialBudget: budget,
		Version:       1,
		CreatedAt:     at,
		UpdatedAt:     at,
		Messages:      []model.Message{},
	}
	if err := u.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	metrics.ThreadsCreated.Inc()
	u.logger.Info().Str("thread_id", t.ID).Str("traveler_id", t.TravelerID).Str("guide_id", t.GuideID).Msg("thread created")
	return t, nil
}

type AppendMessageInput struct {
	Content     string
	Attachments []string
	ClientID    string
}

func validateContent(content string, attachments []string) error {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return model.ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > model.MaxContentLength {
		return model.ErrContentTooLong
	}
	return nil
}

// AppendMessage stores a chat message. Repeating a send with the same
// client id returns the stored message instead of writing a duplicate.
func (u *ThreadUsecase) AppendMessage(ctx context.Context, threadID string, sender model.Sender, in AppendMessageInput) (*model.Message, error) {
	if err := validateContent(in.Content, in.Attachments); err != nil {
		return nil, err
	}

	var (
		msg     *model.Message
		created bool
		header  *model.Thread
	)
	err := u.repo.Update(ctx, threadID, func(tx dao.ThreadTx) error {
		t := tx.Thread()
		if err := authorize(t, sender); err != nil {
			return err
		}
		if !t.Status.Open() {
			return model.ErrThreadClosed
		}
		existing, err := tx.MessageByClientID(sender, in.ClientID)
		if err != nil {
			return err
		}
		if existing != nil {
			msg = existing
			return nil
		}

		at := now()
		msg = &model.Message{
			ID:          NewID(),
			Sender:      sender,
			Kind:        model.KindText,
			Content:     in.Content,
			Attachments: append([]string(nil), in.Attachments...),
			ClientID:    in.ClientID,
			CreatedAt:   at,
		}
		if err := tx.AppendMessage(msg); err != nil {
			return err
		}
		touch(t, at)
		created = true
		header = t.Header()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		metrics.MessagesAppended.WithLabelValues(string(model.KindText)).Inc()
		u.events.publish(ctx, u.events.event(model.EventMessageCreated, header, msg))
	}
	return msg, nil
}

// mutableMessage loads a message the sender is allowed to change.
func mutableMessage(tx dao.ThreadTx, messageID string, sender model.Sender) (*model.Message, error) {
	t := tx.Thread()
	if err := authorize(t, sender); err != nil {
		return nil, err
	}
	if !t.Status.Open() {
		return nil, model.ErrThreadClosed
	}
	m, err := tx.Message(messageID)
	if err != nil {
		return nil, err
	}
	if m.Sender != sender || m.Kind != model.KindText {
		return nil, model.ErrEditForbidden
	}
	return m, nil
}

func (u *ThreadUsecase) EditMessage(ctx context.Context, threadID, messageID string, sender model.Sender, content string) (*model.Message, error) {
	if err := validateContent(content, nil); err != nil {
		return nil, err
	}

	var (
		msg    *model.Message
		header *model.Thread
	)
	err := u.repo.Update(ctx, threadID, func(tx dao.ThreadTx) error {
		m, err := mutableMessage(tx, messageID, sender)
		if err != nil {
			return err
		}
		if m.Deleted {
			return model.ErrMessageDeleted
		}
		at := now()
		m.Content = content
		m.EditedAt = &at
		if err := tx.SaveMessage(m); err != nil {
			return err
		}
		t := tx.Thread()
		touch(t, at)
		msg, header = m, t.Header()
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.events.publish(ctx, u.events.event(model.EventMessageUpdated, header, msg))
	return msg, nil
}

// DeleteMessage tombstones a message. Deleting twice is a no-op.
func (u *ThreadUsecase) DeleteMessage(ctx context.Context, threadID, messageID string, sender model.Sender) (*model.Message, error) {
	var (
		msg     *model.Message
		changed bool
		header  *model.Thread
	)
	err := u.repo.Update(ctx, threadID, func(tx dao.ThreadTx) error {
		m, err := mutableMessage(tx, messageID, sender)
		if err != nil {
			return err
		}
		msg = m
		if m.Deleted {
			return nil
		}
		at := now()
		m.Deleted = true
		m.Content = ""
		m.Attachments = nil
		m.EditedAt = &at
		if err := tx.SaveMessage(m); err != nil {
			return err
		}
		t := tx.Thread()
		touch(t, at)
		changed, header = true, t.Header()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		u.events.publish(ctx, u.events.event(model.EventMessageDeleted, header, msg))
	}
	return msg, nil
}

// GetSnapshot returns the full thread as the viewer may see it.
func (u *ThreadUsecase) GetSnapshot(ctx context.Context, threadID string, viewer model.Sender) (*model.Thread, error) {
	t, err := u.repo.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := authorize(t, viewer); err != nil {
		return nil, err
	}
	return t.RedactFor(viewer.Role), nil
}

// Authorize checks that party may read and subscribe to the thread.
func (u *ThreadUsecase) Authorize(ctx context.Context, threadID string, party model.Sender) error {
	t, err := u.repo.Get(ctx, threadID)
	if err != nil {
		return err
	}
	return authorize(t, party)
}

// ListThreads returns thread headers for one party, most recent first.
func (u *ThreadUsecase) ListThreads(ctx context.Context, party model.Sender) ([]model.Thread, error) {
	if party.PartyID == "" {
		return nil, model.ErrUnauthenticated
	}
	if !party.Role.Valid() {
		return nil, model.ErrInvalidRole
	}
	threads, err := u.repo.ListByParty(ctx, party)
	if err != nil {
		return nil, err
	}
	for i := range threads {
		threads[i] = *threads[i].RedactFor(party.Role)
	}
	return threads, nil
}

// MarkRead moves the party's read marker forward. Markers never move back
// and never pass the last assigned sequence.
func (u *ThreadUsecase) MarkRead(ctx context.Context, threadID string, party model.Sender, seq int64) (*model.Thread, error) {
	if seq < 0 {
		return nil, fmt.Errorf("%w: seq must not be negative", model.ErrInvalidRequest)
	}
	var (
		header  *model.Thread
		changed bool
	)
	err := u.repo.Update(ctx, threadID, func(tx dao.ThreadTx) error {
		t := tx.Thread()
		if err := authorize(t, party); err != nil {
			return err
		}
		if seq > t.LastSeq {
			seq = t.LastSeq
		}
		if seq > t.ReadMarkers.Of(party.Role) {
			t.ReadMarkers.Set(party.Role, seq)
			touch(t, now())
			changed = true
		}
		header = t.Header()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		u.events.publish(ctx, u.events.event(model.EventReadUpdated, header, nil))
	}
	return header.RedactFor(party.Role), nil
}

// Cancel closes the thread on behalf of either participant.
func (u *ThreadUsecase) Cancel(ctx context.Context, threadID string, party model.Sender, reason string) (*model.Thread, error) {
	return u.close(ctx, threadID, party, model.StatusCancelled, reason)
}

// Reject lets the guide decline the request.
func (u *ThreadUsecase) Reject(ctx context.Context, threadID string, guide model.Sender, reason string) (*model.Thread, error) {
	if guide.Role.Valid() && guide.Role != model.RoleGuide {
		return nil, model.ErrForbiddenRole
	}
	return u.close(ctx, threadID, guide, model.StatusRejected, reason)
}

func (u *ThreadUsecase) close(ctx context.Context, threadID string, party model.Sender, to model.Status, reason string) (*model.Thread, error) {
	var (
		header *model.Thread
		note   *model.Message
	)
	err := u.repo.Update(ctx, threadID, func(tx dao.ThreadTx) error {
		t := tx.Thread()
		if err := authorize(t, party); err != nil {
			return err
		}
		if t.Status.Terminal() {
			return model.ErrThreadClosed
		}
		at := now()
		content := fmt.Sprintf("%s %s the request", party.Role, to)
		if reason = strings.TrimSpace(reason); reason != "" {
			content += ": " + reason
		}
		note = &model.Message{ID: NewID(), Sender: party, Kind: model.KindSystem, Content: content, CreatedAt: at}
		if err := tx.AppendMessage(note); err != nil {
			return err
		}
		t.Status = to
		touch(t, at)
		header = t.Header()
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.MessagesAppended.WithLabelValues(string(model.KindSystem)).Inc()
	u.logger.Info().Str("thread_id", threadID).Str("status", string(to)).Str("by", party.PartyID).Msg("thread closed")
	u.events.publish(ctx,
		u.events.event(model.EventStatusChanged, header, nil),
		u.events.event(model.EventMessageCreated, header, note),
	)
	return header.RedactFor(party.Role), nil
}
