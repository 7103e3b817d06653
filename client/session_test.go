package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/controller"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/dao"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/realtime"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/usecase"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()
	repo := dao.NewMemoryThreadRepository()
	hub := realtime.NewHub(logger)
	threads := usecase.NewThreadUsecase(repo, hub, logger)
	nego := usecase.NewNegotiationUsecase(repo, hub, nil, logger)
	typing := usecase.NewTypingUsecase(realtime.NewMemoryPresence(), hub, 2*time.Second, logger)

	srv := httptest.NewServer(controller.NewRouter(controller.RouterConfig{
		Threads:        controller.NewThreadController(threads, typing, logger),
		Negotiation:    controller.NewNegotiationController(nego, logger),
		Socket:         controller.NewSocketController(hub, threads, typing, logger),
		Health:         controller.NewHealthController(map[string]controller.Pinger{"store": repo}),
		RequestTimeout: 5 * time.Second,
		Logger:         logger,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newSession(t *testing.T, srv *httptest.Server, party model.Sender) *Session {
	t.Helper()
	s := NewSession(SessionConfig{
		BaseURL:    srv.URL,
		Party:      party,
		Conn:       ConnConfig{BaseDelay: 10 * time.Millisecond},
		Controller: Options{PollInterval: 50 * time.Millisecond},
		Logger:     zerolog.Nop(),
	})
	s.Start(context.Background())
	t.Cleanup(s.Close)
	eventually(t, func() bool { return s.Conn.Status() == StatusConnected }, "websocket connected")
	return s
}

func TestWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":    "ws://localhost:8080/ws",
		"https://api.example.com/": "wss://api.example.com/ws",
	}
	for in, want := range cases {
		if got := websocketURL(in); got != want {
			t.Errorf("websocketURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBackoff(t *testing.T) {
	cfg := ConnConfig{}
	cfg.defaults()
	want := []time.Duration{1, 2, 4, 8, 16, 30}
	for i, w := range want {
		if got := cfg.backoff(i + 1); got != w*time.Second {
			t.Errorf("attempt %d: got %s, want %s", i+1, got, w*time.Second)
		}
	}
	if cfg.MaxAttempts != 6 {
		t.Errorf("max attempts %d", cfg.MaxAttempts)
	}
}

func TestConnGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	srv.Close()

	conn := NewConn(ConnConfig{
		URL:         url,
		Party:       traveler,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: 3,
		Logger:      zerolog.Nop(),
	})
	conn.Start(context.Background())
	defer conn.Close()

	eventually(t, func() bool { return conn.Status() == StatusFailed }, "failed status")
	if err := conn.SendTyping("th-1", true); !errors.Is(err, model.ErrChannelUnavailable) {
		t.Fatalf("want channel unavailable, got %v", err)
	}
}

func TestConnCountsImmediateDropsAsFailedAttempts(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		dials.Add(1)
		ws.Close()
	}))
	defer srv.Close()

	conn := NewConn(ConnConfig{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Party:       traveler,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: 3,
		Logger:      zerolog.Nop(),
	})
	conn.Start(context.Background())
	defer conn.Close()

	eventually(t, func() bool { return conn.Status() == StatusFailed }, "failed status")
	time.Sleep(50 * time.Millisecond)
	if n := dials.Load(); n != 3 {
		t.Fatalf("dialed %d times, want 3", n)
	}

	conn.Reconnect()
	eventually(t, func() bool { return dials.Load() == 6 && conn.Status() == StatusFailed }, "second round of attempts")
}

// dropSocket closes the live socket under the connection, as a network
// failure would, and returns it.
func dropSocket(t *testing.T, c *Conn) *websocket.Conn {
	t.Helper()
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		t.Fatal("no live socket")
	}
	ws.Close()
	return ws
}

func TestConnRejoinsRoomsAfterDrop(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	trav := newSession(t, srv, traveler)
	th, err := trav.API.CreateThread(ctx, CreateThreadInput{
		TravelerID:    traveler.PartyID,
		GuideID:       guide.PartyID,
		InitialBudget: model.Money{Amount: 2000000, Currency: "VND"},
	})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}

	events := make(chan model.Event, 16)
	unsub := trav.Conn.Subscribe(th.ID, func(ev model.Event) { events <- ev })
	defer unsub()
	eventually(t, func() bool { return trav.Conn.Joined(th.ID) }, "room joined")

	old := dropSocket(t, trav.Conn)
	eventually(t, func() bool {
		trav.Conn.mu.Lock()
		current := trav.Conn.ws
		trav.Conn.mu.Unlock()
		return current != nil && current != old && trav.Conn.Joined(th.ID)
	}, "room joined again on the new socket")

	gd := NewHTTPClient(srv.URL, guide, 5*time.Second)
	if _, err := gd.AppendMessage(ctx, th.ID, SendInput{Content: "welcome back"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == model.EventMessageCreated && ev.Message != nil && ev.Message.Content == "welcome back" {
				return
			}
		case <-deadline:
			t.Fatal("no event after reconnecting")
		}
	}
}

func TestSessionsExchangeMessagesLive(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	trav := newSession(t, srv, traveler)
	gd := newSession(t, srv, guide)

	th, err := trav.API.CreateThread(ctx, CreateThreadInput{
		TravelerID:    traveler.PartyID,
		GuideID:       guide.PartyID,
		InitialBudget: model.Money{Amount: 2000000, Currency: "VND"},
	})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}

	tv := trav.Open(ctx, th.ID)
	gv := gd.Open(ctx, th.ID)
	eventually(t, func() bool { return trav.Conn.Joined(th.ID) && gd.Conn.Joined(th.ID) }, "rooms joined")
	if tv.View().Thread == nil || gv.View().Thread == nil {
		t.Fatal("snapshot not loaded")
	}

	if _, err := tv.Send(ctx, "hello guide"); err != nil {
		t.Fatalf("send: %v", err)
	}
	eventually(t, func() bool {
		v := gv.View()
		return len(v.Messages) == 1 && v.Messages[0].Content == "hello guide"
	}, "guide receives the message")

	gv.InputChanged("one moment")
	eventually(t, func() bool {
		v := tv.View()
		return len(v.Typing) == 1 && v.Typing[0].Sender == guide
	}, "traveler sees guide typing")

	if _, err := gv.SetMinPrice(ctx, model.Money{Amount: 1500000, Currency: "VND"}); err != nil {
		t.Fatalf("set min price: %v", err)
	}
	if _, err := tv.ProposeOffer(ctx, model.Money{Amount: 1000000, Currency: "VND"}); !errors.Is(err, model.ErrBelowFloor) {
		t.Fatalf("want below floor, got %v", err)
	}
	if _, err := tv.ProposeOffer(ctx, model.Money{Amount: 1600000, Currency: "VND"}); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if _, err := tv.Agree(ctx); err != nil {
		t.Fatalf("traveler agree: %v", err)
	}
	if _, err := gv.Agree(ctx); err != nil {
		t.Fatalf("guide agree: %v", err)
	}

	eventually(t, func() bool {
		v := tv.View()
		return v.Thread.Status == model.StatusAccepted && v.Thread.FinalPrice != nil
	}, "traveler sees the accepted thread")
	if v := tv.View(); v.Thread.MinPrice != nil {
		t.Fatal("traveler must never see the floor")
	}

	// a repeated agree after acceptance reads as success
	if _, err := tv.Agree(ctx); err != nil {
		t.Fatalf("repeated agree: %v", err)
	}

	co, err := trav.API.Checkout(ctx, th.ID)
	if err != nil || !co.Ready || co.FinalPrice.Amount != 1600000 {
		t.Fatalf("checkout %+v %v", co, err)
	}
}
