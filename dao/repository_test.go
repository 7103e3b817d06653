package dao

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

var (
	traveler = model.Sender{PartyID: "trav-1", Role: model.RoleTraveler}
	guide    = model.Sender{PartyID: "guide-1", Role: model.RoleGuide}
)

func newThread(id, tourRequestID string, at time.Time) *model.Thread {
	at = at.Truncate(time.Millisecond)
	return &model.Thread{
		ID:            id,
		TourRequestID: tourRequestID,
		TravelerID:    traveler.PartyID,
		GuideID:       guide.PartyID,
		Status:        model.StatusNew,
		InitialBudget: model.Money{Amount: 2000000, Currency: "VND"},
		Version:       1,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func textMessage(id string, from model.Sender, content, clientID string) *model.Message {
	return &model.Message{
		ID:        id,
		Sender:    from,
		Kind:      model.KindText,
		Content:   content,
		ClientID:  clientID,
		CreatedAt: time.Now().Truncate(time.Millisecond),
	}
}

// runRepositoryContract checks the behaviour every ThreadRepository must
// share.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) ThreadRepository) {
	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		th := newThread("th-1", "req-1", time.Now())
		if err := repo.Create(ctx, th); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := repo.Create(ctx, newThread("th-2", "req-1", time.Now())); !errors.Is(err, model.ErrThreadExists) {
			t.Fatalf("duplicate tour request: %v", err)
		}
		if _, err := repo.Get(ctx, "missing"); !errors.Is(err, model.ErrThreadNotFound) {
			t.Fatalf("missing thread: %v", err)
		}

		got, err := repo.Get(ctx, "th-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.TourRequestID != "req-1" || got.InitialBudget != th.InitialBudget || got.Status != model.StatusNew {
			t.Fatalf("unexpected thread %+v", got)
		}
		if !got.CreatedAt.Equal(th.CreatedAt) || got.LatestOffer != nil || got.MinPrice != nil {
			t.Fatalf("unexpected thread %+v", got)
		}
		if len(got.Messages) != 0 {
			t.Fatalf("want no messages, got %d", len(got.Messages))
		}
	})

	t.Run("update persists everything", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		if err := repo.Create(ctx, newThread("th-1", "", time.Now())); err != nil {
			t.Fatalf("create: %v", err)
		}

		offerAt := time.Now().Truncate(time.Millisecond)
		err := repo.Update(ctx, "th-1", func(tx ThreadTx) error {
			th := tx.Thread()
			hello := textMessage("m-1", traveler, "hello", "c-1")
			hello.Attachments = []string{"https://img.example/1.jpg"}
			if err := tx.AppendMessage(hello); err != nil {
				return err
			}
			if hello.Seq != 1 || hello.ThreadID != "th-1" {
				t.Errorf("append did not assign seq: %+v", hello)
			}
			offer := &model.Message{ID: "m-2", Sender: traveler, Kind: model.KindOffer, Content: "offer",
				Offer: &model.Money{Amount: 1800000, Currency: "VND"}, CreatedAt: offerAt}
			if err := tx.AppendMessage(offer); err != nil {
				return err
			}
			if err := tx.AddOffer(&model.Offer{ID: "o-1", Amount: *offer.Offer, ProposedBy: traveler, CreatedAt: offerAt}); err != nil {
				return err
			}
			th.Status = model.StatusNegotiating
			th.LatestOffer = &model.LatestOffer{Amount: 1800000, Currency: "VND", ProposedBy: traveler, At: offerAt}
			th.MinPrice = &model.Money{Amount: 1500000, Currency: "VND"}
			th.Agreement.Set(model.RoleGuide, true)
			th.ReadMarkers.Set(model.RoleTraveler, 2)
			th.Version++
			return nil
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}

		err = repo.Update(ctx, "th-1", func(tx ThreadTx) error {
			m, err := tx.MessageByClientID(traveler, "c-1")
			if err != nil || m == nil || m.ID != "m-1" {
				return fmt.Errorf("lookup by client id: %+v %v", m, err)
			}
			if m, _ := tx.MessageByClientID(guide, "c-1"); m != nil {
				t.Errorf("client id must be scoped to the sender")
			}
			if _, err := tx.Message("nope"); !errors.Is(err, model.ErrMessageNotFound) {
				t.Errorf("missing message: %v", err)
			}
			edited := time.Now().Truncate(time.Millisecond)
			m.Content = "hello there"
			m.EditedAt = &edited
			return tx.SaveMessage(m)
		})
		if err != nil {
			t.Fatalf("edit: %v", err)
		}

		got, err := repo.Get(ctx, "th-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != model.StatusNegotiating || got.LastSeq != 2 || got.Version != 2 {
			t.Fatalf("header not saved: %+v", got)
		}
		if got.LatestOffer == nil || got.LatestOffer.Amount != 1800000 || got.LatestOffer.ProposedBy != traveler || !got.LatestOffer.At.Equal(offerAt) {
			t.Fatalf("latest offer not saved: %+v", got.LatestOffer)
		}
		if got.MinPrice == nil || got.MinPrice.Amount != 1500000 || !got.Agreement.GuideAgreed || got.ReadMarkers.TravelerSeq != 2 {
			t.Fatalf("header fields not saved: %+v", got)
		}
		if len(got.Messages) != 2 {
			t.Fatalf("want 2 messages, got %d", len(got.Messages))
		}
		first, second := got.Messages[0], got.Messages[1]
		if first.Content != "hello there" || first.EditedAt == nil || len(first.Attachments) != 1 || first.ClientID != "c-1" {
			t.Fatalf("edited message: %+v", first)
		}
		if second.Seq != 2 || second.Kind != model.KindOffer || second.Offer == nil || second.Offer.Amount != 1800000 {
			t.Fatalf("offer message: %+v", second)
		}

		offers, err := repo.Offers(ctx, "th-1")
		if err != nil || len(offers) != 1 || offers[0].Amount.Amount != 1800000 || offers[0].ThreadID != "th-1" {
			t.Fatalf("offers %+v %v", offers, err)
		}
	})

	t.Run("failed update leaves no trace", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		if err := repo.Create(ctx, newThread("th-1", "", time.Now())); err != nil {
			t.Fatalf("create: %v", err)
		}
		boom := errors.New("boom")
		err := repo.Update(ctx, "th-1", func(tx ThreadTx) error {
			if err := tx.AppendMessage(textMessage("m-1", traveler, "lost", "")); err != nil {
				return err
			}
			tx.Thread().Status = model.StatusCancelled
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("want callback error, got %v", err)
		}
		got, _ := repo.Get(ctx, "th-1")
		if got.Status != model.StatusNew || got.LastSeq != 0 || len(got.Messages) != 0 {
			t.Fatalf("rolled back update leaked: %+v", got)
		}
		if err := repo.Update(ctx, "missing", func(ThreadTx) error { return nil }); !errors.Is(err, model.ErrThreadNotFound) {
			t.Fatalf("update of missing thread: %v", err)
		}
	})

	t.Run("list by party newest first", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		base := time.Now()
		for i := 0; i < 3; i++ {
			if err := repo.Create(ctx, newThread(fmt.Sprintf("th-%d", i), "", base.Add(time.Duration(i)*time.Second))); err != nil {
				t.Fatalf("create: %v", err)
			}
		}
		other := newThread("th-other", "", base)
		other.TravelerID = "trav-2"
		if err := repo.Create(ctx, other); err != nil {
			t.Fatalf("create: %v", err)
		}

		list, err := repo.ListByParty(ctx, traveler)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 3 || list[0].ID != "th-2" || list[2].ID != "th-0" {
			t.Fatalf("unexpected order %v", ids(list))
		}
		list, _ = repo.ListByParty(ctx, guide)
		if len(list) != 4 {
			t.Fatalf("guide sees %d threads", len(list))
		}
	})

	t.Run("concurrent appends get distinct sequence numbers", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		if err := repo.Create(ctx, newThread("th-1", "", time.Now())); err != nil {
			t.Fatalf("create: %v", err)
		}

		const writers = 20
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- repo.Update(ctx, "th-1", func(tx ThreadTx) error {
					return tx.AppendMessage(textMessage(fmt.Sprintf("m-%02d", i), traveler, "hi", ""))
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("append: %v", err)
			}
		}

		got, _ := repo.Get(ctx, "th-1")
		if got.LastSeq != writers || len(got.Messages) != writers {
			t.Fatalf("last seq %d, %d messages", got.LastSeq, len(got.Messages))
		}
		for i, m := range got.Messages {
			if m.Seq != int64(i+1) {
				t.Fatalf("message %d has seq %d", i, m.Seq)
			}
		}
	})
}

func ids(threads []model.Thread) []string {
	out := make([]string, len(threads))
	for i, th := range threads {
		out[i] = th.ID
	}
	return out
}

func TestMemoryThreadRepository(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) ThreadRepository {
		return NewMemoryThreadRepository()
	})
}

func TestMemoryReadsAreCopies(t *testing.T) {
	repo := NewMemoryThreadRepository()
	ctx := context.Background()
	repo.Create(ctx, newThread("th-1", "", time.Now()))
	repo.Update(ctx, "th-1", func(tx ThreadTx) error {
		return tx.AppendMessage(textMessage("m-1", traveler, "hello", ""))
	})

	got, _ := repo.Get(ctx, "th-1")
	got.Status = model.StatusAccepted
	got.Messages[0].Content = "changed"

	again, _ := repo.Get(ctx, "th-1")
	if again.Status != model.StatusNew || again.Messages[0].Content != "hello" {
		t.Fatal("caller mutated stored state")
	}
}
