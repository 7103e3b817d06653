package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

type Options struct {
	PollInterval   time.Duration
	TypingIdle     time.Duration
	TypingTTL      time.Duration
	RequestTimeout time.Duration
	// EchoWindow bounds how far apart an optimistic message and a server
	// message without client id may be and still be matched.
	EchoWindow time.Duration
	Logger     zerolog.Logger
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = 1500 * time.Millisecond
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = 2 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.EchoWindow <= 0 {
		o.EchoWindow = 10 * time.Second
	}
}

type MessageState string

const (
	StateSending MessageState = "sending"
	StateSent    MessageState = "sent"
	StateFailed  MessageState = "failed"
)

// ViewMessage is a message as the UI renders it. Optimistic entries carry a
// LocalID and no Seq until the server confirms them.
type ViewMessage struct {
	model.Message
	LocalID string
	State   MessageState
	Err     error
}

type View struct {
	Thread   *model.Thread
	Messages []ViewMessage
	Typing   []model.Typing
	Channel  Status
	Polling  bool
	Degraded bool
}

type pendingSend struct {
	localID     string
	clientID    string
	content     string
	attachments []string
	createdAt   time.Time
	state       MessageState
	err         error
}

const seenEventLimit = 1024

// Controller keeps one thread view consistent with the server. REST
// responses, realtime events and polled snapshots may arrive in any order
// and more than once; every path converges through the same merge rules.
type Controller struct {
	api      API
	rt       Realtime
	threadID string
	self     model.Sender
	opts     Options
	logger   zerolog.Logger

	mu           sync.Mutex
	mounted      bool
	thread       *model.Thread
	messages     map[string]model.Message
	pending      []*pendingSend
	seen         map[string]struct{}
	seenOrder    []string
	remoteTyping map[string]typingEntry
	degraded     bool
	visible      bool
	readInFlight bool
	onChange     func(View)
	unsub        []func()

	typingActive bool
	typingTimer  *time.Timer

	pollStop   chan struct{}
	retryTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

type typingEntry struct {
	typing model.Typing
	timer  *time.Timer
}

func NewController(api API, rt Realtime, threadID string, self model.Sender, opts Options) *Controller {
	opts.defaults()
	return &Controller{
		api:          api,
		rt:           rt,
		threadID:     threadID,
		self:         self,
		opts:         opts,
		logger:       opts.Logger.With().Str("thread_id", threadID).Logger(),
		messages:     make(map[string]model.Message),
		seen:         make(map[string]struct{}),
		remoteTyping: make(map[string]typingEntry),
	}
}

func (c *Controller) ThreadID() string {
	return c.threadID
}

// OnChange registers the render callback. It runs outside the controller
// lock and must not block for long.
func (c *Controller) OnChange(fn func(View)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Mount loads the snapshot and subscribes to live updates. A failed load
// leaves the view empty and degraded rather than failing the mount.
func (c *Controller) Mount(ctx context.Context) {
	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		return
	}
	c.mounted = true
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("initial snapshot failed")
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
	}

	unsubEvents := c.rt.Subscribe(c.threadID, c.handleEvent)
	unsubStatus := c.rt.OnStatus(c.handleStatus)

	c.mu.Lock()
	c.unsub = append(c.unsub, unsubEvents, unsubStatus)
	c.mu.Unlock()

	if c.rt.Status() != StatusConnected {
		c.startPolling()
	} else {
		c.retryIfDegraded()
	}
	c.changed()
}

// retryIfDegraded schedules one more snapshot load when the initial one
// failed while the channel is up, since no poll will run to recover it.
func (c *Controller) retryIfDegraded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.degraded || !c.mounted {
		return
	}
	c.retryTimer = time.AfterFunc(c.opts.PollInterval, func() {
		if err := c.Refresh(c.context()); err != nil {
			c.logger.Warn().Err(err).Msg("snapshot retry failed")
		}
	})
}

// Unmount detaches the view. In-flight requests finish but no longer
// update anything.
func (c *Controller) Unmount() {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	c.mounted = false
	unsub := c.unsub
	c.unsub = nil
	c.onChange = nil
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.typingActive = false
	for _, e := range c.remoteTyping {
		e.timer.Stop()
	}
	c.remoteTyping = make(map[string]typingEntry)
	c.stopPollingLocked()
	c.cancel()
	c.mu.Unlock()

	c.rt.SendTyping(c.threadID, false)
	for _, fn := range unsub {
		fn()
	}
}

// Refresh re-reads the snapshot and merges it into the view.
func (c *Controller) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	snap, err := c.api.Snapshot(ctx, c.threadID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return nil
	}
	c.degraded = false
	if snap.Thread != nil {
		c.applyHeaderLocked(snap.Thread)
		for _, m := range snap.Thread.Messages {
			c.mergeMessageLocked(m)
		}
	}
	for _, t := range snap.Typing {
		c.applyTypingLocked(t)
	}
	c.mu.Unlock()

	c.changed()
	return nil
}

func (c *Controller) handleStatus(s Status) {
	switch s {
	case StatusConnected:
		c.stopPolling()
		// events published while disconnected are not replayed
		go func() {
			if err := c.Refresh(c.context()); err != nil {
				c.logger.Debug().Err(err).Msg("catch-up refresh failed")
			}
		}()
	default:
		c.startPolling()
	}
	c.changed()
}

func (c *Controller) handleEvent(ev model.Event) {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	if _, dup := c.seen[ev.ID]; dup {
		c.mu.Unlock()
		return
	}
	c.markSeenLocked(ev.ID)

	if ev.Thread != nil {
		c.applyHeaderLocked(ev.Thread)
	}
	switch ev.Type {
	case model.EventMessageCreated, model.EventMessageUpdated, model.EventMessageDeleted:
		if ev.Message != nil {
			c.mergeMessageLocked(*ev.Message)
		}
	case model.EventTyping:
		if ev.Typing != nil {
			c.applyTypingLocked(*ev.Typing)
		}
	}
	flush := c.needsReadLocked()
	c.mu.Unlock()

	if flush {
		go c.flushRead()
	}
	c.changed()
}

func (c *Controller) markSeenLocked(id string) {
	c.seen[id] = struct{}{}
	c.seenOrder = append(c.seenOrder, id)
	if len(c.seenOrder) > seenEventLimit {
		delete(c.seen, c.seenOrder[0])
		c.seenOrder = c.seenOrder[1:]
	}
}

// applyHeaderLocked keeps the newest thread header by version.
func (c *Controller) applyHeaderLocked(t *model.Thread) {
	if c.thread != nil && t.Version <= c.thread.Version {
		return
	}
	c.thread = t.Header()
}

// mergeMessageLocked applies one server revision and settles the optimistic
// entry it confirms, if any.
func (c *Controller) mergeMessageLocked(m model.Message) {
	if existing, ok := c.messages[m.ID]; ok {
		if m.NewerThan(existing) {
			c.messages[m.ID] = m.Clone()
		}
		return
	}
	c.messages[m.ID] = m.Clone()
	if m.Sender != c.self {
		return
	}
	if i := c.matchPendingLocked(m); i >= 0 {
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
	}
}

func (c *Controller) matchPendingLocked(m model.Message) int {
	if m.ClientID != "" {
		for i, p := range c.pending {
			if p.clientID == m.ClientID {
				return i
			}
		}
		return -1
	}
	for i, p := range c.pending {
		if p.state != StateSending || p.content != strings.TrimSpace(m.Content) {
			continue
		}
		d := m.CreatedAt.Sub(p.createdAt)
		if d < 0 {
			d = -d
		}
		if d <= c.opts.EchoWindow {
			return i
		}
	}
	return -1
}

func (c *Controller) applyTypingLocked(t model.Typing) {
	if t.Sender == c.self {
		return
	}
	key := t.Sender.PartyID
	if e, ok := c.remoteTyping[key]; ok {
		e.timer.Stop()
		delete(c.remoteTyping, key)
	}
	if !t.IsTyping {
		return
	}
	// expire on the local clock, the server's may be skewed
	t.ExpiresAt = time.Now().Add(c.opts.TypingTTL)
	var timer *time.Timer
	timer = time.AfterFunc(c.opts.TypingTTL, func() {
		c.mu.Lock()
		e, ok := c.remoteTyping[key]
		if !ok || e.timer != timer {
			c.mu.Unlock()
			return
		}
		delete(c.remoteTyping, key)
		c.mu.Unlock()
		c.changed()
	})
	c.remoteTyping[key] = typingEntry{typing: t, timer: timer}
}

// View returns the current render state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	v := View{
		Channel:  c.rt.Status(),
		Polling:  c.pollStop != nil,
		Degraded: c.degraded,
	}
	if c.thread != nil {
		v.Thread = c.thread.Clone()
	}

	confirmed := make([]model.Message, 0, len(c.messages))
	for _, m := range c.messages {
		confirmed = append(confirmed, m)
	}
	sort.Slice(confirmed, func(i, j int) bool { return confirmed[i].Seq < confirmed[j].Seq })

	v.Messages = make([]ViewMessage, 0, len(confirmed)+len(c.pending))
	for _, m := range confirmed {
		v.Messages = append(v.Messages, ViewMessage{Message: m.Clone(), State: StateSent})
	}
	for _, p := range c.pending {
		v.Messages = append(v.Messages, ViewMessage{
			Message: model.Message{
				ThreadID:    c.threadID,
				Sender:      c.self,
				Kind:        model.KindText,
				Content:     p.content,
				Attachments: p.attachments,
				ClientID:    p.clientID,
				CreatedAt:   p.createdAt,
			},
			LocalID: p.localID,
			State:   p.state,
			Err:     p.err,
		})
	}

	for _, e := range c.remoteTyping {
		v.Typing = append(v.Typing, e.typing)
	}
	sort.Slice(v.Typing, func(i, j int) bool { return v.Typing[i].Sender.PartyID < v.Typing[j].Sender.PartyID })
	return v
}

func (c *Controller) changed() {
	c.mu.Lock()
	fn := c.onChange
	if fn == nil || !c.mounted {
		c.mu.Unlock()
		return
	}
	v := c.viewLocked()
	c.mu.Unlock()
	fn(v)
}

func (c *Controller) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *Controller) startPolling() {
	c.mu.Lock()
	if !c.mounted || c.pollStop != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.pollStop = stop
	ctx := c.ctx
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					c.logger.Debug().Err(err).Msg("poll failed")
				}
			}
		}
	}()
}

func (c *Controller) stopPolling() {
	c.mu.Lock()
	c.stopPollingLocked()
	c.mu.Unlock()
}

func (c *Controller) stopPollingLocked() {
	if c.pollStop != nil {
		close(c.pollStop)
		c.pollStop = nil
	}
}

// Send posts a message optimistically. The entry shows up at once as
// sending and is replaced by the server copy, or marked failed.
func (c *Controller) Send(ctx context.Context, content string, attachments ...string) (*model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return nil, model.ErrEmptyContent
	}
	clientID := uuid.NewString()
	p := &pendingSend{
		localID:     "local-" + clientID,
		clientID:    clientID,
		content:     content,
		attachments: attachments,
		createdAt:   time.Now(),
		state:       StateSending,
	}
	c.mu.Lock()
	c.pending = append(c.pending, p)
	c.mu.Unlock()

	c.forceStopTyping()
	c.changed()
	return c.deliver(ctx, p)
}

// Retry resends a failed message with its original client id so the server
// can drop the duplicate if the first attempt did land.
func (c *Controller) Retry(ctx context.Context, localID string) (*model.Message, error) {
	c.mu.Lock()
	var p *pendingSend
	for _, q := range c.pending {
		if q.localID == localID {
			p = q
			break
		}
	}
	if p == nil || p.state != StateFailed {
		c.mu.Unlock()
		return nil, model.ErrMessageNotFound
	}
	p.state = StateSending
	p.err = nil
	c.mu.Unlock()

	c.changed()
	return c.deliver(ctx, p)
}

// Discard drops a failed optimistic message.
func (c *Controller) Discard(localID string) {
	c.mu.Lock()
	for i, p := range c.pending {
		if p.localID == localID && p.state == StateFailed {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.changed()
}

func (c *Controller) deliver(ctx context.Context, p *pendingSend) (*model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	m, err := c.api.AppendMessage(ctx, c.threadID, SendInput{
		Content:     p.content,
		Attachments: p.attachments,
		ClientID:    p.clientID,
	})

	c.mu.Lock()
	if err != nil {
		p.state = StateFailed
		p.err = err
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("client_id", p.clientID).Msg("send failed")
		c.changed()
		return nil, err
	}
	if c.mounted {
		c.mergeMessageLocked(*m)
	}
	// the echo may have arrived over the socket first
	for i, q := range c.pending {
		if q == p {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	c.changed()
	return m, nil
}

// Edit changes the content of an own message. On failure the view keeps
// the previous content.
func (c *Controller) Edit(ctx context.Context, messageID, content string) (*model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	m, err := c.api.EditMessage(ctx, c.threadID, messageID, content)
	if err != nil {
		return nil, err
	}
	c.mergeAndNotify(*m)
	return m, nil
}

func (c *Controller) Delete(ctx context.Context, messageID string) (*model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	m, err := c.api.DeleteMessage(ctx, c.threadID, messageID)
	if err != nil {
		return nil, err
	}
	c.mergeAndNotify(*m)
	return m, nil
}

func (c *Controller) mergeAndNotify(m model.Message) {
	c.mu.Lock()
	if c.mounted {
		c.mergeMessageLocked(m)
	}
	c.mu.Unlock()
	c.changed()
}

// InputChanged drives the local typing signal from the compose box:
// typing:true once per burst, typing:false after an idle pause or when the
// box is cleared.
func (c *Controller) InputChanged(text string) {
	if strings.TrimSpace(text) == "" {
		c.stopTyping()
		return
	}

	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	start := !c.typingActive
	c.typingActive = true
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingTimer = time.AfterFunc(c.opts.TypingIdle, c.stopTyping)
	c.mu.Unlock()

	if start {
		if err := c.rt.SendTyping(c.threadID, true); err != nil {
			c.logger.Debug().Err(err).Msg("typing signal dropped")
		}
	}
}

func (c *Controller) stopTyping() {
	c.mu.Lock()
	active := c.typingActive
	c.typingActive = false
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.mu.Unlock()
	if active {
		c.rt.SendTyping(c.threadID, false)
	}
}

func (c *Controller) forceStopTyping() {
	c.mu.Lock()
	c.typingActive = false
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.mu.Unlock()
	c.rt.SendTyping(c.threadID, false)
}

// SetVisible tells the controller whether the thread is on screen. Read
// receipts are only sent while it is.
func (c *Controller) SetVisible(visible bool) {
	c.mu.Lock()
	c.visible = visible
	flush := c.needsReadLocked()
	c.mu.Unlock()
	if flush {
		go c.flushRead()
	}
}

func (c *Controller) needsReadLocked() bool {
	if !c.mounted || !c.visible || c.readInFlight || c.thread == nil {
		return false
	}
	return c.thread.LastSeq > c.thread.ReadMarkers.Of(c.self.Role)
}

func (c *Controller) flushRead() {
	c.mu.Lock()
	if !c.needsReadLocked() {
		c.mu.Unlock()
		return
	}
	c.readInFlight = true
	seq := c.thread.LastSeq
	ctx := c.ctx
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	t, err := c.api.MarkRead(ctx, c.threadID, seq)
	cancel()

	c.mu.Lock()
	c.readInFlight = false
	if err == nil && c.mounted {
		c.applyHeaderLocked(t)
	}
	again := err == nil && c.needsReadLocked()
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug().Err(err).Int64("seq", seq).Msg("mark read failed")
		return
	}
	c.changed()
	if again {
		c.flushRead()
	}
}

// ProposeOffer, SetMinPrice, Agree and RevokeAgreement return the updated
// thread header. When the outcome of a request is unknown the snapshot is
// re-fetched and ErrUnknownOutcome is returned.
func (c *Controller) ProposeOffer(ctx context.Context, amount model.Money) (*model.Thread, error) {
	return c.negotiate(ctx, "propose offer", func(ctx context.Context) (*model.Thread, error) {
		return c.api.ProposeOffer(ctx, c.threadID, amount)
	})
}

func (c *Controller) SetMinPrice(ctx context.Context, amount model.Money) (*model.Thread, error) {
	return c.negotiate(ctx, "set min price", func(ctx context.Context) (*model.Thread, error) {
		return c.api.SetMinPrice(ctx, c.threadID, amount)
	})
}

// Agree treats a thread that is already accepted with our flag set as
// success, since that is what a retried agree after a lost response sees.
func (c *Controller) Agree(ctx context.Context) (*model.Thread, error) {
	t, err := c.negotiate(ctx, "agree", func(ctx context.Context) (*model.Thread, error) {
		return c.api.Agree(ctx, c.threadID)
	})
	if err == nil || !errors.Is(err, model.ErrThreadClosed) {
		return t, err
	}
	if rerr := c.Refresh(ctx); rerr != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.thread != nil && c.thread.Status == model.StatusAccepted && c.thread.Agreement.Of(c.self.Role) {
		return c.thread.Clone(), nil
	}
	return nil, err
}

func (c *Controller) RevokeAgreement(ctx context.Context) (*model.Thread, error) {
	return c.negotiate(ctx, "revoke agreement", func(ctx context.Context) (*model.Thread, error) {
		return c.api.RevokeAgreement(ctx, c.threadID)
	})
}

func (c *Controller) negotiate(ctx context.Context, op string, call func(context.Context) (*model.Thread, error)) (*model.Thread, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	t, err := call(reqCtx)
	cancel()

	if err != nil {
		var me *model.Error
		if errors.As(err, &me) {
			return nil, err
		}
		c.logger.Warn().Err(err).Str("op", op).Msg("negotiation outcome unknown, refetching")
		if rerr := c.Refresh(ctx); rerr != nil {
			c.logger.Warn().Err(rerr).Msg("refetch after unknown outcome failed")
		}
		return nil, fmt.Errorf("%s: %w: %v", op, model.ErrUnknownOutcome, err)
	}

	c.mu.Lock()
	if c.mounted {
		c.applyHeaderLocked(t)
	}
	c.mu.Unlock()
	c.changed()

	// the offer message itself only arrives over the channel
	if c.rt.Status() != StatusConnected {
		if rerr := c.Refresh(ctx); rerr != nil {
			c.logger.Debug().Err(rerr).Msg("refresh after negotiation failed")
		}
	}
	return t, nil
}
