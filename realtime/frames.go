package realtime

import "github.com/jayykioh/TRAVYY-touring-website-sub000/model"

// Websocket frame types. Clients send join, leave and typing; the server
// answers with the rest.
const (
	FrameJoin      = "join"
	FrameLeave     = "leave"
	FrameTyping    = "typing"
	FrameConnected = "connected"
	FrameJoined    = "joined"
	FrameLeft      = "left"
	FrameEvent     = "event"
	FrameError     = "error"
)

type ClientFrame struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	IsTyping bool   `json:"is_typing,omitempty"`
}

type ServerFrame struct {
	Type         string       `json:"type"`
	ConnectionID string       `json:"connection_id,omitempty"`
	ThreadID     string       `json:"thread_id,omitempty"`
	Event        *model.Event `json:"event,omitempty"`
	Code         string       `json:"code,omitempty"`
	Error        string       `json:"error,omitempty"`
}
