package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/dao"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

var (
	traveler = model.Sender{PartyID: "trav-1", Role: model.RoleTraveler}
	guide    = model.Sender{PartyID: "guide-1", Role: model.RoleGuide}
	stranger = model.Sender{PartyID: "trav-2", Role: model.RoleTraveler}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.EventType
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type fixture struct {
	repo    *dao.MemoryThreadRepository
	pub     *recordingPublisher
	threads *ThreadUsecase
	nego    *NegotiationUsecase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := dao.NewMemoryThreadRepository()
	pub := &recordingPublisher{}
	return &fixture{
		repo:    repo,
		pub:     pub,
		threads: NewThreadUsecase(repo, pub, zerolog.Nop()),
		nego:    NewNegotiationUsecase(repo, pub, nil, zerolog.Nop()),
	}
}

func (f *fixture) newThread(t *testing.T, amount int64) *model.Thread {
	t.Helper()
	th, err := f.threads.CreateThread(context.Background(), traveler, CreateThreadInput{
		TravelerID:    traveler.PartyID,
		GuideID:       guide.PartyID,
		InitialBudget: model.Money{Amount: amount, Currency: "vnd"},
	})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	return th
}

func mustErr(t *testing.T, err, want error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", want)
	}
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
