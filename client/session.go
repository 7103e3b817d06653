package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

type SessionConfig struct {
	// BaseURL of the REST API, e.g. http://localhost:8080.
	BaseURL string
	Party   model.Sender
	// HTTPTimeout caps every REST call at the transport level.
	HTTPTimeout time.Duration
	Conn        ConnConfig
	Controller  Options
	Logger      zerolog.Logger
}

// Session is the per-process owner of the API client, the single realtime
// connection and one controller per open thread.
type Session struct {
	API  *HTTPClient
	Conn *Conn

	opts   Options
	logger zerolog.Logger

	mu    sync.Mutex
	views map[string]*Controller
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.Conn.URL == "" {
		cfg.Conn.URL = websocketURL(cfg.BaseURL)
	}
	cfg.Conn.Party = cfg.Party
	cfg.Conn.Logger = cfg.Logger
	cfg.Controller.Logger = cfg.Logger

	return &Session{
		API:    NewHTTPClient(cfg.BaseURL, cfg.Party, cfg.HTTPTimeout),
		Conn:   NewConn(cfg.Conn),
		opts:   cfg.Controller,
		logger: cfg.Logger,
		views:  make(map[string]*Controller),
	}
}

func websocketURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

func (s *Session) Start(ctx context.Context) {
	s.Conn.Start(ctx)
}

// Open returns the mounted controller of a thread, creating it on first use.
func (s *Session) Open(ctx context.Context, threadID string) *Controller {
	s.mu.Lock()
	if c, ok := s.views[threadID]; ok {
		s.mu.Unlock()
		return c
	}
	c := NewController(s.API, s.Conn, threadID, s.API.Party(), s.opts)
	s.views[threadID] = c
	s.mu.Unlock()

	c.Mount(ctx)
	return c
}

func (s *Session) CloseThread(threadID string) {
	s.mu.Lock()
	c, ok := s.views[threadID]
	delete(s.views, threadID)
	s.mu.Unlock()
	if ok {
		c.Unmount()
	}
}

func (s *Session) Close() {
	s.mu.Lock()
	views := s.views
	s.views = make(map[string]*Controller)
	s.mu.Unlock()

	for _, c := range views {
		c.Unmount()
	}
	s.Conn.Close()
}
