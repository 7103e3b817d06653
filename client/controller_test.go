package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

var (
	traveler = model.Sender{PartyID: "trav-1", Role: model.RoleTraveler}
	guide    = model.Sender{PartyID: "guide-1", Role: model.RoleGuide}
)

type fakeAPI struct {
	mu        sync.Mutex
	thread    *model.Thread
	snapErr   error
	snapCalls int

	appendFn func(in SendInput) (*model.Message, error)
	appended []SendInput
	agreeErr error
	offerErr error
	readSeqs []int64
}

func newFakeAPI() *fakeAPI {
	now := time.Now().Truncate(time.Millisecond)
	return &fakeAPI{thread: &model.Thread{
		ID:            "th-1",
		TravelerID:    traveler.PartyID,
		GuideID:       guide.PartyID,
		Status:        model.StatusNew,
		InitialBudget: model.Money{Amount: 2000000, Currency: "VND"},
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}}
}

func (f *fakeAPI) Snapshot(ctx context.Context, threadID string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapCalls++
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	return &Snapshot{Thread: f.thread.Clone()}, nil
}

func (f *fakeAPI) snapshots() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapCalls
}

func (f *fakeAPI) AppendMessage(ctx context.Context, threadID string, in SendInput) (*model.Message, error) {
	f.mu.Lock()
	f.appended = append(f.appended, in)
	fn := f.appendFn
	f.mu.Unlock()
	if fn != nil {
		return fn(in)
	}
	return f.store(in), nil
}

// store appends like the server does and returns the stored copy.
func (f *fakeAPI) store(in SendInput) *model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thread.LastSeq++
	f.thread.Version++
	m := model.Message{
		ID:        "msg-" + in.ClientID,
		ThreadID:  f.thread.ID,
		Seq:       f.thread.LastSeq,
		Sender:    traveler,
		Kind:      model.KindText,
		Content:   in.Content,
		ClientID:  in.ClientID,
		CreatedAt: time.Now(),
	}
	f.thread.Messages = append(f.thread.Messages, m)
	return &m
}

func (f *fakeAPI) EditMessage(ctx context.Context, threadID, messageID, content string) (*model.Message, error) {
	return nil, model.ErrEditForbidden
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, threadID, messageID string) (*model.Message, error) {
	return nil, model.ErrMessageNotFound
}

func (f *fakeAPI) MarkRead(ctx context.Context, threadID string, seq int64) (*model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readSeqs = append(f.readSeqs, seq)
	f.thread.ReadMarkers.Set(traveler.Role, seq)
	f.thread.Version++
	return f.thread.Header(), nil
}

func (f *fakeAPI) ProposeOffer(ctx context.Context, threadID string, amount model.Money) (*model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offerErr != nil {
		return nil, f.offerErr
	}
	f.thread.Status = model.StatusNegotiating
	f.thread.LatestOffer = &model.LatestOffer{Amount: amount.Amount, Currency: amount.Currency, ProposedBy: traveler, At: time.Now()}
	f.thread.Version++
	return f.thread.Header(), nil
}

func (f *fakeAPI) SetMinPrice(ctx context.Context, threadID string, amount model.Money) (*model.Thread, error) {
	return nil, model.ErrForbiddenRole
}

func (f *fakeAPI) Agree(ctx context.Context, threadID string) (*model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.agreeErr != nil {
		return nil, f.agreeErr
	}
	f.thread.Agreement.Set(traveler.Role, true)
	f.thread.Version++
	return f.thread.Header(), nil
}

func (f *fakeAPI) RevokeAgreement(ctx context.Context, threadID string) (*model.Thread, error) {
	return nil, model.ErrTooLate
}

type typingSignal struct {
	threadID string
	isTyping bool
}

type fakeRealtime struct {
	mu       sync.Mutex
	status   Status
	handlers map[string]func(model.Event)
	watchers []func(Status)
	typing   []typingSignal
}

func newFakeRealtime(status Status) *fakeRealtime {
	return &fakeRealtime{status: status, handlers: make(map[string]func(model.Event))}
}

func (r *fakeRealtime) Subscribe(threadID string, fn func(model.Event)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[threadID] = fn
	return func() {
		r.mu.Lock()
		delete(r.handlers, threadID)
		r.mu.Unlock()
	}
}

func (r *fakeRealtime) OnStatus(fn func(Status)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
	return func() {}
}

func (r *fakeRealtime) SendTyping(threadID string, isTyping bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing = append(r.typing, typingSignal{threadID, isTyping})
	return nil
}

func (r *fakeRealtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *fakeRealtime) emit(ev model.Event) {
	r.mu.Lock()
	fn := r.handlers[ev.ThreadID]
	r.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (r *fakeRealtime) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	watchers := append([]func(Status){}, r.watchers...)
	r.mu.Unlock()
	for _, fn := range watchers {
		fn(s)
	}
}

func (r *fakeRealtime) signals() []typingSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]typingSignal(nil), r.typing...)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func mount(t *testing.T, api *fakeAPI, rt *fakeRealtime, opts Options) *Controller {
	t.Helper()
	opts.Logger = zerolog.Nop()
	c := NewController(api, rt, "th-1", traveler, opts)
	c.Mount(context.Background())
	t.Cleanup(c.Unmount)
	return c
}

func TestMountDegradesWhenSnapshotFails(t *testing.T) {
	api := newFakeAPI()
	api.snapErr = errors.New("connection refused")
	rt := newFakeRealtime(StatusReconnecting)

	c := mount(t, api, rt, Options{PollInterval: 10 * time.Millisecond})

	v := c.View()
	if !v.Degraded || v.Thread != nil || len(v.Messages) != 0 {
		t.Fatalf("want empty degraded view, got %+v", v)
	}
	if !v.Polling {
		t.Fatal("polling should run while the channel is down")
	}

	api.mu.Lock()
	api.snapErr = nil
	api.mu.Unlock()
	eventually(t, func() bool { return c.View().Thread != nil }, "poll recovers the snapshot")
	if c.View().Degraded {
		t.Fatal("view still degraded after a successful poll")
	}
}

func TestDegradedMountRetriesWhileConnected(t *testing.T) {
	api := newFakeAPI()
	api.snapErr = errors.New("503 service unavailable")
	rt := newFakeRealtime(StatusConnected)

	c := mount(t, api, rt, Options{PollInterval: 20 * time.Millisecond})
	v := c.View()
	if !v.Degraded || v.Polling {
		t.Fatalf("want degraded view without polling, got %+v", v)
	}

	api.mu.Lock()
	api.snapErr = nil
	api.mu.Unlock()
	eventually(t, func() bool { return c.View().Thread != nil }, "snapshot retried")
	if c.View().Degraded {
		t.Fatal("view still degraded after the retry")
	}
}

func TestPollingStopsWhenChannelConnects(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime(StatusReconnecting)
	c := mount(t, api, rt, Options{PollInterval: time.Hour})

	if !c.View().Polling {
		t.Fatal("expected polling")
	}
	before := api.snapshots()
	rt.setStatus(StatusConnected)
	if c.View().Polling {
		t.Fatal("polling should stop once connected")
	}
	eventually(t, func() bool { return api.snapshots() > before }, "catch-up refresh after reconnect")
}

func TestSendIsOptimistic(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime(StatusConnected)
	release := make(chan struct{})
	api.appendFn = func(in SendInput) (*model.Message, error) {
		<-release
		return api.store(in), nil
	}
	c := mount(t, api, rt, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "  hello  ")
		done <- err
	}()

	eventually(t, func() bool {
		v := c.View()
		return len(v.Messages) == 1 && v.Messages[0].State == StateSending
	}, "optimistic entry")
	v := c.View()
	if v.Messages[0].Content != "hello" || v.Messages[0].LocalID == "" || v.Messages[0].ClientID == "" {
		t.Fatalf("bad optimistic entry %+v", v.Messages[0])
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("send: %v", err)
	}
	v = c.View()
	if len(v.Messages) != 1 || v.Messages[0].State != StateSent || v.Messages[0].Seq != 1 {
		t.Fatalf("want one confirmed message, got %+v", v.Messages)
	}
}

func TestEchoBeforeResponseDoesNotDuplicate(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime(StatusConnected)
	api.appendFn = func(in SendInput) (*model.Message, error) {
		m := api.store(in)
		rt.emit(model.Event{ID: "ev-1", Type: model.EventMessageCreated, ThreadID: "th-1", Message: m})
		return m, nil
	}
	c := mount(t, api, rt, Options{})

	if _, err := c.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if n := len(c.View().Messages); n != 1 {
		t.Fatalf("want 1 message, got %d", n)
	}
}

func TestEchoWithoutClientIDMatchesByContent(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime(StatusConnected)
	release := make(chan struct{})
	api.appendFn = func(in SendInput) (*model.Message, error) {
		<-release
		return nil, errors.New("connection reset")
	}
	c := mount(t, api, rt, Options{})

	go c.Send(context.Background(), "see you at 9")
	eventually(t, func() bool { return len(c.View().Messages) == 1 }, "optimistic entry")

	rt.emit(model.Event{ID: "ev-1", Type: model.EventMessageCreated, ThreadID: "th-1", Message: &model.Message{
		ID: "srv-1", ThreadID: "th-1", Seq: 1, Sender: traveler, Kind: model.KindText,
		Content: "see you at 9", CreatedAt: time.Now(),
	}})
	close(release)

	v := c.View()
	if len(v.Messages) != 1 || v.Messages[0].ID != "srv-1" || v.Messages[0].State != StateSent {
		t.Fatalf("echo should replace the optimistic entry, got %+v", v.Messages)
	}
}

func TestFailedSendCanBeRetried(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime(StatusConnected)
	api.appendFn = func(in SendInput) (*model.Message, error) {
		return nil, errors.New("timeout")
	}
	c := mount(t, api, rt, Options{})

	if _, err := c.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected send error")
	}
	v := c.View()
	if len(v.Messages) != 1 || v.Messages[0].State != StateFailed || v.Messages[0].Err == nil {
		t.Fatalf("want failed entry, got %+v", v.Messages)
	}
	local := v.Messages[0].LocalID

	api.mu.Lock()
	api.appendFn = nil
	api.mu.Unlock()
	m, err := c.Retry(context.Background(), local)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}

	api.mu.Lock()
	first, second := api.appended[0].ClientID, api.appended[1].ClientID
	api.mu.Unlock()
	if first != second || m.ClientID != first {
		t.Fatalf("retry must reuse the client id: %q %q %q", first, second, m.ClientID)
	}
	if v := c.View(); len(v.Messages) != 1 || v.Messages[0].State != StateSent {
		t.Fatalf("want confirmed message after retry, got %+v", v.Messages)
	}

	if _, err := c.Retry(context.Background(), local); !errors.Is(err, model.ErrMessageNotFound) {
		t.Fatalf("retrying a confirmed message: %v", err)
	}
}

func TestEmptySendIsRejectedLocally(t *testing.T) {
	api := newFakeAPI()
	c := mount(t, api, newFakeRealtime(StatusConnected), Options{})
	if _, err := c.Send(context.Background(), "   "); !errors.Is(err, model.ErrEmptyContent) {
		t.Fatalf("got %v", err)
	}
	if len(api.appended) != 0 || len(c.View().Messages) != 0 {
		t.Fatal("empty message must not be sent")
	}
}

func TestEventsAreDedupedAndOrdered(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime(StatusConnected)
	c := mount(t, api, rt, Options{})

	edited := time.Now()
	msg := model.Message{ID: "m-2", ThreadID: "th-1", Seq: 2, Sender: guide, Kind: model.KindText, Content: "v2", EditedAt: &edited}
	header := api.thread.Header()
	header.Version = 5
	header.LastSeq = 2

	rt.emit(model.Event{ID: "e-2", Type: model.EventMessageUpdated, ThreadID: "th-1", Thread: header, Message: &msg})
	rt.emit(model.Event{ID: "e-1", Type: model.EventMessageCreated, ThreadID: "th-1", Message: &model.Message{
		ID: "m-1", ThreadID: "th-1", Seq: 1, Sender: guide, Kind: model.KindText, Content: "first",
	}})

	// a stale create for m-2 arrives late and must not undo the edit
	stale := msg
	stale.EditedAt = nil
	stale.Content = "v1"
	old := api.thread.Header()
	old.Version = 3
	rt.emit(model.Event{ID: "e-0", Type: model.EventMessageCreated, ThreadID: "th-1", Thread: old, Message: &stale})

	// duplicate delivery
	rt.emit(model.Event{ID: "e-2", Type: model.EventMessageUpdated, ThreadID: "th-1", Thread: header, Message: &msg})

	v := c.View()
	if len(v.Messages) != 2 || v.Messages[0].ID != "m-1" || v.Messages[1].Content != "v2" {
		t.Fatalf("unexpected messages %+v", v.Messages)
	}
	if v.Thread.Version != 5 {
		t.Fatalf("header went back to version %d", v.Thread.Version)
	}
}

func TestDeleteWinsOverLaterEdit(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime(StatusConnected)
	c := mount(t, api, rt, Options{})

	at := time.Now()
	later := at.Add(time.Second)
	rt.emit(model.Event{ID: "d", Type: model.EventMessageDeleted, ThreadID: "th-1", Message: &model.Message{
		ID: "m-1", Seq: 1, Sender: guide, Deleted: true, EditedAt: &at,
	}})
	rt.emit(model.Event{ID: "u", Type: model.EventMessageUpdated, ThreadID: "th-1", Message: &model.Message{
		ID: "m-1", Seq: 1, Sender: guide, Content: "resurrected", EditedAt: &later,
	}})

	if v := c.View(); !v.Messages[0].Deleted {
		t.Fatalf("deleted message came back: %+v", v.Messages[0])
	}
}

func TestRemoteTypingExpires(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime(StatusConnected)
	c := mount(t, api, rt, Options{TypingTTL: 50 * time.Millisecond})

	rt.emit(model.Event{ID: "t-0", Type: model.EventTyping, ThreadID: "th-1", Typing: &model.Typing{
		ThreadID: "th-1", Sender: traveler, IsTyping: true,
	}})
	if len(c.View().Typing) != 0 {
		t.Fatal("own typing echo must be ignored")
	}

	rt.emit(model.Event{ID: "t-1", Type: model.EventTyping, ThreadID: "th-1", Typing: &model.Typing{
		ThreadID: "th-1", Sender: guide, IsTyping: true,
	}})
	if v := c.View(); len(v.Typing) != 1 || v.Typing[0].Sender != guide {
		t.Fatalf("want guide typing, got %+v", v.Typing)
	}
	eventually(t, func() bool { return len(c.View().Typing) == 0 }, "typing expiry")
}

func TestLocalTypingDebounce(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime(StatusConnected)
	c := mount(t, api, rt, Options{TypingIdle: 40 * time.Millisecond})

	c.InputChanged("h")
	c.InputChanged("he")
	c.InputChanged("hel")
	if s := rt.signals(); len(s) != 1 || !s[0].isTyping {
		t.Fatalf("want a single typing:true, got %+v", s)
	}
	eventually(t, func() bool {
		s := rt.signals()
		return len(s) == 2 && !s[1].isTyping
	}, "typing:false after idle")

	c.InputChanged("hello")
	if _, err := c.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	s := rt.signals()
	if len(s) < 4 || !s[2].isTyping || s[3].isTyping {
		t.Fatalf("send must stop typing, got %+v", s)
	}
}

func TestUnknownOutcomeRefetches(t *testing.T) {
	api := newFakeAPI()
	api.offerErr = context.DeadlineExceeded
	rt := newFakeRealtime(StatusConnected)
	c := mount(t, api, rt, Options{})

	before := api.snapshots()
	_, err := c.ProposeOffer(context.Background(), model.Money{Amount: 1800000, Currency: "VND"})
	if !errors.Is(err, model.ErrUnknownOutcome) {
		t.Fatalf("want unknown outcome, got %v", err)
	}
	if api.snapshots() != before+1 {
		t.Fatal("snapshot was not re-fetched")
	}

	api.mu.Lock()
	api.offerErr = model.ErrBelowFloor
	api.mu.Unlock()
	if _, err := c.ProposeOffer(context.Background(), model.Money{Amount: 1, Currency: "VND"}); !errors.Is(err, model.ErrBelowFloor) {
		t.Fatalf("classified errors pass through, got %v", err)
	}
}

func TestAgreeOnAcceptedThreadIsSuccess(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime(StatusConnected)
	c := mount(t, api, rt, Options{})

	api.mu.Lock()
	api.agreeErr = model.ErrThreadClosed
	api.thread.Status = model.StatusAccepted
	api.thread.Agreement = model.Agreement{TravelerAgreed: true, GuideAgreed: true}
	api.thread.Version = 9
	api.mu.Unlock()

	th, err := c.Agree(context.Background())
	if err != nil {
		t.Fatalf("agree: %v", err)
	}
	if th.Status != model.StatusAccepted {
		t.Fatalf("got status %s", th.Status)
	}

	api.mu.Lock()
	api.thread.Status = model.StatusCancelled
	api.thread.Agreement = model.Agreement{}
	api.thread.Version = 10
	api.mu.Unlock()
	if _, err := c.Agree(context.Background()); !errors.Is(err, model.ErrThreadClosed) {
		t.Fatalf("want thread closed, got %v", err)
	}
}

func TestReadReceiptsOnlyWhileVisible(t *testing.T) {
	api := newFakeAPI()
	api.store(SendInput{Content: "one", ClientID: "a"})
	api.store(SendInput{Content: "two", ClientID: "b"})
	rt := newFakeRealtime(StatusConnected)
	c := mount(t, api, rt, Options{})

	api.mu.Lock()
	n := len(api.readSeqs)
	api.mu.Unlock()
	if n != 0 {
		t.Fatal("read receipt sent while hidden")
	}

	c.SetVisible(true)
	eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.readSeqs) == 1 && api.readSeqs[0] == 2
	}, "read receipt for seq 2")
	eventually(t, func() bool {
		v := c.View()
		return v.Thread.ReadMarkers.TravelerSeq == 2
	}, "read marker applied")
}

func TestUnmountDetaches(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime(StatusConnected)
	c := NewController(api, rt, "th-1", traveler, Options{Logger: zerolog.Nop()})
	c.Mount(context.Background())

	calls := 0
	c.OnChange(func(View) { calls++ })
	c.Unmount()

	rt.emit(model.Event{ID: "x", Type: model.EventMessageCreated, ThreadID: "th-1", Message: &model.Message{ID: "m", Seq: 1}})
	if calls != 0 {
		t.Fatal("unmounted view was updated")
	}
	if s := rt.signals(); len(s) != 1 || s[0].isTyping {
		t.Fatalf("unmount must emit typing:false, got %+v", s)
	}
}

func TestOutageFallsBackToPollingWithoutDuplicates(t *testing.T) {
	api := newFakeAPI()
	rt := newFakeRealtime(StatusConnected)
	c := mount(t, api, rt, Options{PollInterval: 10 * time.Millisecond})

	rt.setStatus(StatusReconnecting)

	// the guide writes while this client is offline
	api.mu.Lock()
	api.thread.LastSeq++
	api.thread.Version++
	msg := model.Message{ID: "m-1", ThreadID: "th-1", Seq: api.thread.LastSeq, Sender: guide, Kind: model.KindText,
		Content: "still there?", CreatedAt: time.Now()}
	api.thread.Messages = append(api.thread.Messages, msg)
	header := api.thread.Header()
	api.mu.Unlock()

	eventually(t, func() bool { return len(c.View().Messages) == 1 }, "poll delivers the message")

	// the channel comes back and the buffered event arrives late
	rt.setStatus(StatusConnected)
	rt.emit(model.Event{ID: "ev-1", Type: model.EventMessageCreated, ThreadID: "th-1", Thread: header, Message: &msg})

	if v := c.View(); len(v.Messages) != 1 || v.Polling {
		t.Fatalf("want one message and no polling, got %d messages polling=%v", len(v.Messages), v.Polling)
	}
}
