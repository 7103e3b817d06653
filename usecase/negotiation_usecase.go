package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/dao"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/metrics"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/pkg/gemini"
)

// ErrAssistantDisabled is returned by SuggestReply when no advisor is
// configured.
var ErrAssistantDisabled = errors.New("negotiation assistant is not configured")

// Advisor drafts a guide reply. *gemini.Client implements it.
type Advisor interface {
	GenerateNegotiationResponse(ctx context.Context, req gemini.NegotiationRequest) (*gemini.NegotiationResponse, error)
}

// historyWindow bounds how much conversation is sent to the advisor.
const historyWindow = 20

type NegotiationUsecase struct {
	repo    dao.ThreadRepository
	advisor Advisor
	events  eventSink
	logger  zerolog.Logger
}

// NewNegotiationUsecase wires the offer/agreement engine. advisor may be nil.
func NewNegotiationUsecase(repo dao.ThreadRepository, pub Publisher, advisor Advisor, logger zerolog.Logger) *NegotiationUsecase {
	logger = logger.With().Str("component", "negotiation").Logger()
	return &NegotiationUsecase{
		repo:    repo,
		advisor: advisor,
		events:  eventSink{pub: pub, logger: logger},
		logger:  logger,
	}
}

func checkCurrency(t *model.Thread, m model.Money) error {
	if m.Currency != t.Currency() {
		return model.ErrCurrencyMismatch
	}
	return nil
}

func statusEvents(s eventSink, before model.Status, t *model.Thread, typ model.EventType) []model.Event {
	events := []model.Event{s.event(typ, t, nil)}
	if t.Status != before {
		events = append(events, s.event(model.EventStatusChanged, t, nil))
	}
	return events
}

// ProposeOffer records a new price. It clears both agreement flags and is
// refused below the guide's floor whoever proposes it.
func (u *NegotiationUsecase) ProposeOffer(ctx context.Context, threadID string, proposer model.Sender, amount model.Money) (*model.Thread, error) {
	t, err := u.proposeOffer(ctx, threadID, proposer, amount)
	if err != nil {
		metrics.OffersRejected.WithLabelValues(errorCode(err)).Inc()
		return nil, err
	}
	metrics.OffersProposed.Inc()
	return t, nil
}

func (u *NegotiationUsecase) proposeOffer(ctx context.Context, threadID string, proposer model.Sender, amount model.Money) (*model.Thread, error) {
	price, err := model.NewMoney(amount.Amount, amount.Currency)
	if err != nil {
		return nil, err
	}

	var (
		header *model.Thread
		before model.Status
		msg    *model.Message
	)
	err = u.repo.Update(ctx, threadID, func(tx dao.ThreadTx) error {
		t := tx.Thread()
		if err := authorize(t, proposer); err != nil {
			return err
		}
		if t.Status.Terminal() {
			return model.ErrThreadClosed
		}
		if err := checkCurrency(t, price); err != nil {
			return err
		}
		if t.MinPrice != nil && price.Amount < t.MinPrice.Amount {
			return model.ErrBelowFloor
		}

		at := now()
		offer := &model.Offer{ID: NewID(), Amount: price, ProposedBy: proposer, CreatedAt: at}
		if err := tx.AddOffer(offer); err != nil {
			return err
		}
		msg = &model.Message{
			ID:        NewID(),
			Sender:    proposer,
			Kind:      model.KindOffer,
			Content:   fmt.Sprintf("%s offered %s", proposer.Role, price),
			Offer:     &price,
			CreatedAt: at,
		}
		if err := tx.AppendMessage(msg); err != nil {
			return err
		}

		before = t.Status
		t.LatestOffer = &model.LatestOffer{Amount: price.Amount, Currency: price.Currency, ProposedBy: proposer, At: at}
		t.Agreement = model.Agreement{}
		t.Status = model.StatusNegotiating
		touch(t, at)
		header = t.Header()
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.MessagesAppended.WithLabelValues(string(model.KindOffer)).Inc()
	events := statusEvents(u.events, before, header, model.EventOfferChanged)
	events = append(events, u.events.event(model.EventMessageCreated, header, msg))
	u.events.publish(ctx, events...)
	return header.RedactFor(proposer.Role), nil
}

// SetMinPrice records the guide's floor. It can be set once.
func (u *NegotiationUsecase) SetMinPrice(ctx context.Context, threadID string, guide model.Sender, amount model.Money) (*model.Thread, error) {
	if guide.Role.Valid() && guide.Role != model.RoleGuide {
		return nil, model.ErrForbiddenRole
	}
	floor, err := model.NewMoney(amount.Amount, amount.Currency)
	if err != nil {
		return nil, err
	}

	var header *model.Thread
	err = u.repo.Update(ctx, threadID, func(tx dao.ThreadTx) error {
		t := tx.Thread()
		if err := authorize(t, guide); err != nil {
			return err
		}
		if t.Status.Terminal() {
			return model.ErrThreadClosed
		}
		if t.MinPrice != nil {
			return model.ErrAlreadySet
		}
		if err := checkCurrency(t, floor); err != nil {
			return err
		}
		t.MinPrice = &floor
		touch(t, now())
		header = t.Header()
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.events.publish(ctx, u.events.event(model.EventFloorSet, header, nil))
	return header, nil
}

// Agree sets the caller's flag. The write that observes the other flag
// already set finalizes the price; repeated calls are no-ops.
func (u *NegotiationUsecase) Agree(ctx context.Context, threadID string, party model.Sender) (*model.Thread, error) {
	var (
		header    *model.Thread
		before    model.Status
		changed   bool
		finalized bool
	)
	err := u.repo.Update(ctx, threadID, func(tx dao.ThreadTx) error {
		t := tx.Thread()
		if err := authorize(t, party); err != nil {
			return err
		}
		before = t.Status
		if t.Status.Terminal() {
			return model.ErrThreadClosed
		}
		if t.Agreement.Of(party.Role) {
			header = t.Header()
			return nil
		}
		price := t.CurrentPrice()
		if t.MinPrice != nil && price.Amount < t.MinPrice.Amount {
			return model.ErrBelowFloor
		}

		t.Agreement.Set(party.Role, true)
		if t.Agreement.Both() {
			t.FinalPrice = &price
			t.Status = model.StatusAccepted
			finalized = true
		} else {
			t.Status = model.StatusAgreementPending
		}
		touch(t, now())
		changed = true
		header = t.Header()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		if finalized {
			metrics.AgreementsFinalized.Inc()
			u.logger.Info().Str("thread_id", threadID).Str("final_price", header.FinalPrice.String()).Msg("agreement finalized")
		}
		u.events.publish(ctx, statusEvents(u.events, before, header, model.EventAgreementChanged)...)
	}
	return header.RedactFor(party.Role), nil
}

// RevokeAgreement clears the caller's flag before the thread is accepted.
func (u *NegotiationUsecase) RevokeAgreement(ctx context.Context, threadID string, party model.Sender) (*model.Thread, error) {
	var (
		header  *model.Thread
		before  model.Status
		changed bool
	)
	err := u.repo.Update(ctx, threadID, func(tx dao.ThreadTx) error {
		t := tx.Thread()
		if err := authorize(t, party); err != nil {
			return err
		}
		switch t.Status {
		case model.StatusAccepted:
			return model.ErrTooLate
		case model.StatusRejected, model.StatusCancelled:
			return model.ErrThreadClosed
		}
		before = t.Status
		if !t.Agreement.Of(party.Role) {
			header = t.Header()
			return nil
		}
		t.Agreement.Set(party.Role, false)
		if !t.Agreement.Any() {
			t.Status = model.StatusNegotiating
		}
		touch(t, now())
		changed = true
		header = t.Header()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		u.events.publish(ctx, statusEvents(u.events, before, header, model.EventAgreementChanged)...)
	}
	return header.RedactFor(party.Role), nil
}

type Checkout struct {
	Ready      bool         `json:"ready"`
	FinalPrice *model.Money `json:"final_price"`
}

// ReadyToPay is the checkout gate: ready once both parties agreed.
func (u *NegotiationUsecase) ReadyToPay(ctx context.Context, threadID string, party model.Sender) (*Checkout, error) {
	t, err := u.repo.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := authorize(t, party); err != nil {
		return nil, err
	}
	if t.Status == model.StatusAccepted && t.FinalPrice != nil {
		return &Checkout{Ready: true, FinalPrice: t.FinalPrice}, nil
	}
	return &Checkout{Ready: false}, nil
}

func (u *NegotiationUsecase) OfferHistory(ctx context.Context, threadID string, viewer model.Sender) ([]model.Offer, error) {
	t, err := u.repo.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := authorize(t, viewer); err != nil {
		return nil, err
	}
	offers, err := u.repo.Offers(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if offers == nil {
		offers = []model.Offer{}
	}
	return offers, nil
}

// Suggestion is a draft for the guide. Nothing is applied to the thread.
type Suggestion struct {
	Intent       string       `json:"intent"`
	Decision     string       `json:"decision"`
	CounterPrice *model.Money `json:"counter_price,omitempty"`
	Reply        string       `json:"reply"`
	Reasoning    string       `json:"reasoning"`
}

// SuggestReply asks the advisor for the guide's next move. A counter price
// below the floor is raised to the floor.
func (u *NegotiationUsecase) SuggestReply(ctx context.Context, threadID string, guide model.Sender) (*Suggestion, error) {
	if guide.Role.Valid() && guide.Role != model.RoleGuide {
		return nil, model.ErrForbiddenRole
	}
	if u.advisor == nil {
		return nil, ErrAssistantDisabled
	}
	t, err := u.repo.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := authorize(t, guide); err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, model.ErrThreadClosed
	}

	resp, err := u.advisor.GenerateNegotiationResponse(ctx, advisorRequest(t))
	if err != nil {
		u.logger.Error().Err(err).Str("thread_id", threadID).Msg("advisor call failed")
		return nil, fmt.Errorf("generate suggestion: %w", err)
	}

	s := &Suggestion{
		Intent:    resp.Intent,
		Decision:  resp.Decision,
		Reply:     resp.ResponseContent,
		Reasoning: resp.Reasoning,
	}
	if resp.CounterPrice > 0 {
		counter := resp.CounterPrice
		if t.MinPrice != nil && counter < t.MinPrice.Amount {
			counter = t.MinPrice.Amount
		}
		s.CounterPrice = &model.Money{Amount: counter, Currency: t.Currency()}
	}
	return s, nil
}

func advisorRequest(t *model.Thread) gemini.NegotiationRequest {
	req := gemini.NegotiationRequest{
		Currency:      t.Currency(),
		InitialBudget: t.InitialBudget.Amount,
	}
	if t.LatestOffer != nil {
		req.LatestOffer = t.LatestOffer.Amount
		req.OfferedBy = string(t.LatestOffer.ProposedBy.Role)
	}
	if t.MinPrice != nil {
		req.MinPrice = t.MinPrice.Amount
	}

	msgs := t.Messages
	if len(msgs) > historyWindow {
		msgs = msgs[len(msgs)-historyWindow:]
	}
	for _, m := range msgs {
		if m.Deleted || m.Kind == model.KindSystem {
			continue
		}
		sender := "Traveler"
		if m.Sender.Role == model.RoleGuide {
			sender = "Guide"
		}
		req.History = append(req.History, gemini.MessageHistory{Sender: sender, Content: m.Content})
	}
	return req
}
