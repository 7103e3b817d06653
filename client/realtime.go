package client

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/realtime"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
	StatusClosed       Status = "closed"
)

// Realtime is what a thread view needs from the shared channel.
type Realtime interface {
	Subscribe(threadID string, fn func(model.Event)) (unsubscribe func())
	OnStatus(fn func(Status)) (unsubscribe func())
	SendTyping(threadID string, isTyping bool) error
	Status() Status
}

type ConnConfig struct {
	// URL of the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL         string
	Party       model.Sender
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	// StableAfter is how long a socket must stay up before its drop stops
	// counting against MaxAttempts.
	StableAfter time.Duration
	Dialer      *websocket.Dialer
	Logger      zerolog.Logger
}

func (c *ConnConfig) defaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 6
	}
	if c.StableAfter <= 0 {
		c.StableAfter = 10 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// backoff returns the wait before reconnect attempt n, starting at 1.
func (c *ConnConfig) backoff(n int) time.Duration {
	d := c.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return d
}

type handler struct {
	id int
	fn func(model.Event)
}

// Conn is the single websocket a process keeps to the service. Thread views
// subscribe to rooms on it; rooms are re-joined after every reconnect.
type Conn struct {
	cfg ConnConfig

	mu       sync.Mutex
	ws       *websocket.Conn
	status   Status
	rooms    map[string][]handler
	joined   map[string]bool
	watchers map[int]func(Status)
	nextID   int

	writeMu sync.Mutex
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewConn(cfg ConnConfig) *Conn {
	cfg.defaults()
	return &Conn{
		cfg:      cfg,
		status:   StatusConnecting,
		rooms:    make(map[string][]handler),
		joined:   make(map[string]bool),
		watchers: make(map[int]func(Status)),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start runs the connect loop until ctx is done or Close is called.
func (c *Conn) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.run(ctx)
}

// Reconnect restarts the connect loop after it gave up.
func (c *Conn) Reconnect() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) Close() {
	c.mu.Lock()
	cancel := c.cancel
	ws := c.ws
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if ws != nil {
		ws.Close()
	}
	<-c.done
}

func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Joined reports whether the server acknowledged the room on the current
// socket.
func (c *Conn) Joined(threadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined[threadID]
}

func (c *Conn) OnStatus(fn func(Status)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

// Subscribe delivers the events of one thread to fn. The first subscriber
// of a room joins it, the last one to leave leaves it.
func (c *Conn) Subscribe(threadID string, fn func(model.Event)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	first := len(c.rooms[threadID]) == 0
	c.rooms[threadID] = append(c.rooms[threadID], handler{id: id, fn: fn})
	c.mu.Unlock()

	if first {
		c.sendFrame(realtime.ClientFrame{Type: realtime.FrameJoin, ThreadID: threadID})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			hs := c.rooms[threadID]
			for i, h := range hs {
				if h.id == id {
					hs = append(hs[:i:i], hs[i+1:]...)
					break
				}
			}
			last := len(hs) == 0
			if last {
				delete(c.rooms, threadID)
				delete(c.joined, threadID)
			} else {
				c.rooms[threadID] = hs
			}
			c.mu.Unlock()
			if last {
				c.sendFrame(realtime.ClientFrame{Type: realtime.FrameLeave, ThreadID: threadID})
			}
		})
	}
}

func (c *Conn) SendTyping(threadID string, isTyping bool) error {
	return c.sendFrame(realtime.ClientFrame{Type: realtime.FrameTyping, ThreadID: threadID, IsTyping: isTyping})
}

func (c *Conn) sendFrame(f realtime.ClientFrame) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return model.ErrChannelUnavailable
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.cfg.Logger.Debug().Err(err).Str("frame", f.Type).Msg("realtime write failed")
		return model.ErrChannelUnavailable
	}
	return nil
}

func (c *Conn) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	watchers := make([]func(Status), 0, len(c.watchers))
	for _, fn := range c.watchers {
		watchers = append(watchers, fn)
	}
	c.mu.Unlock()

	c.cfg.Logger.Debug().Str("status", string(s)).Msg("realtime status")
	for _, fn := range watchers {
		fn(s)
	}
}

func (c *Conn) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("party_id", c.cfg.Party.PartyID)
	q.Set("role", string(c.cfg.Party.Role))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)
	defer c.setStatus(StatusClosed)

	target, err := c.dialURL()
	if err != nil {
		c.cfg.Logger.Error().Err(err).Msg("invalid realtime url")
		return
	}

	attempt := 0
	for {
		ws, _, err := c.cfg.Dialer.DialContext(ctx, target, nil)
		if err == nil {
			started := time.Now()
			c.serve(ctx, ws)
			if ctx.Err() != nil {
				return
			}
			// a socket that drops right after the upgrade is a failed attempt
			if time.Since(started) >= c.cfg.StableAfter {
				attempt = 0
			}
			attempt++
			c.cfg.Logger.Debug().Int("attempt", attempt).Msg("realtime connection dropped")
		} else {
			if ctx.Err() != nil {
				return
			}
			attempt++
			c.cfg.Logger.Debug().Err(err).Int("attempt", attempt).Msg("realtime dial failed")
		}

		if attempt >= c.cfg.MaxAttempts {
			c.setStatus(StatusFailed)
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
				attempt = 0
				c.setStatus(StatusReconnecting)
				continue
			}
		}
		c.setStatus(StatusReconnecting)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.backoff(attempt)):
		}
	}
}

// serve owns one live socket until it drops.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.joined = make(map[string]bool)
		c.mu.Unlock()
		ws.Close()
	}()

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	for _, id := range rooms {
		c.sendFrame(realtime.ClientFrame{Type: realtime.FrameJoin, ThreadID: id})
	}
	c.setStatus(StatusConnected)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.cfg.Logger.Debug().Err(err).Msg("realtime read failed")
			}
			return
		}
		var frame realtime.ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.cfg.Logger.Warn().Err(err).Msg("malformed realtime frame")
			continue
		}
		switch frame.Type {
		case realtime.FrameEvent:
			if frame.Event != nil {
				c.dispatch(*frame.Event)
			}
		case realtime.FrameJoined:
			c.mu.Lock()
			if len(c.rooms[frame.ThreadID]) > 0 {
				c.joined[frame.ThreadID] = true
			}
			c.mu.Unlock()
		case realtime.FrameError:
			c.cfg.Logger.Warn().Str("code", frame.Code).Str("thread_id", frame.ThreadID).Msg(frame.Error)
		}
	}
}

func (c *Conn) dispatch(ev model.Event) {
	c.mu.Lock()
	hs := append([]handler(nil), c.rooms[ev.ThreadID]...)
	c.mu.Unlock()
	for _, h := range hs {
		h.fn(ev)
	}
}
