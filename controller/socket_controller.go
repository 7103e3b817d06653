package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/realtime"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/usecase"
)

const (
	defaultReadTimeout = 60 * time.Second
	maxFrameSize       = 64 << 10
)

// SocketController serves the realtime websocket: clients join thread rooms,
// receive thread events and send typing signals.
type SocketController struct {
	hub             *realtime.Hub
	threads         *usecase.ThreadUsecase
	typing          *usecase.TypingUsecase
	logger          zerolog.Logger
	inflightTimeout time.Duration
}

func NewSocketController(hub *realtime.Hub, threads *usecase.ThreadUsecase, typing *usecase.TypingUsecase, logger zerolog.Logger) *SocketController {
	return &SocketController{
		hub:             hub,
		threads:         threads,
		typing:          typing,
		logger:          logger.With().Str("component", "socket").Logger(),
		inflightTimeout: 5 * time.Second,
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Identity comes from the gateway; origin checks belong there too.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SocketController) Handle(w http.ResponseWriter, r *http.Request) {
	party := Party(r.Context())
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		ctl.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := realtime.NewConnection(party, ws)
	conn.Start()
	defer func() {
		ctl.hub.LeaveAll(conn)
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
	})

	ctl.reply(conn, realtime.ServerFrame{Type: realtime.FrameConnected, ConnectionID: conn.ID()})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				ctl.logger.Debug().Err(err).Str("connection_id", conn.ID()).Msg("websocket read ended")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))

		var frame realtime.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			ctl.replyError(conn, "", model.ErrInvalidRequest)
			continue
		}
		if frame.ThreadID == "" {
			ctl.replyError(conn, "", model.ErrInvalidRequest)
			continue
		}

		switch frame.Type {
		case realtime.FrameJoin:
			ctl.handleJoin(r.Context(), conn, frame)
		case realtime.FrameLeave:
			ctl.hub.Leave(frame.ThreadID, conn)
			ctl.reply(conn, realtime.ServerFrame{Type: realtime.FrameLeft, ThreadID: frame.ThreadID})
		case realtime.FrameTyping:
			ctl.handleTyping(r.Context(), conn, frame)
		default:
			ctl.replyError(conn, frame.ThreadID, model.ErrInvalidRequest)
		}
	}
}

func (ctl *SocketController) handleJoin(ctx context.Context, conn *realtime.Connection, frame realtime.ClientFrame) {
	ctx, cancel := context.WithTimeout(ctx, ctl.inflightTimeout)
	defer cancel()

	if err := ctl.threads.Authorize(ctx, frame.ThreadID, conn.Sender()); err != nil {
		ctl.replyError(conn, frame.ThreadID, err)
		return
	}
	ctl.hub.Join(frame.ThreadID, conn)
	ctl.reply(conn, realtime.ServerFrame{Type: realtime.FrameJoined, ThreadID: frame.ThreadID})
}

func (ctl *SocketController) handleTyping(ctx context.Context, conn *realtime.Connection, frame realtime.ClientFrame) {
	if !ctl.hub.IsMember(frame.ThreadID, conn) {
		ctl.replyError(conn, frame.ThreadID, model.ErrNotParticipant)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, ctl.inflightTimeout)
	defer cancel()

	if _, err := ctl.typing.Signal(ctx, frame.ThreadID, conn.Sender(), frame.IsTyping); err != nil {
		ctl.logger.Warn().Err(err).Str("thread_id", frame.ThreadID).Msg("typing signal failed")
	}
}

func (ctl *SocketController) reply(conn *realtime.Connection, frame realtime.ServerFrame) {
	if payload, err := json.Marshal(frame); err == nil {
		_ = conn.Send(payload)
	}
}

func (ctl *SocketController) replyError(conn *realtime.Connection, threadID string, err error) {
	frame := realtime.ServerFrame{Type: realtime.FrameError, ThreadID: threadID, Code: codeInternal, Error: "internal server error"}
	var me *model.Error
	if errors.As(err, &me) {
		frame.Code, frame.Error = me.Code, err.Error()
	} else {
		ctl.logger.Error().Err(err).Str("thread_id", threadID).Msg("socket request failed")
	}
	ctl.reply(conn, frame)
}
