package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

// Subscriber receives encoded frames for the rooms it joined.
type Subscriber interface {
	ID() string
	Sender() model.Sender
	Send(payload []byte) error
}

// Hub keeps per-thread rooms of subscribers on this instance and fans
// events out to them, redacted for each subscriber's role.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Subscriber // threadID -> subscriberID -> subscriber
	joined map[string]map[string]struct{}   // subscriberID -> threadIDs
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]Subscriber),
		joined: make(map[string]map[string]struct{}),
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Join(threadID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[threadID]
	if room == nil {
		room = make(map[string]Subscriber)
		h.rooms[threadID] = room
	}
	room[sub.ID()] = sub

	memberships := h.joined[sub.ID()]
	if memberships == nil {
		memberships = make(map[string]struct{})
		h.joined[sub.ID()] = memberships
	}
	memberships[threadID] = struct{}{}
}

func (h *Hub) Leave(threadID string, sub Subscriber) {
	h.mu.Lock()
	h.leaveLocked(threadID, sub.ID())
	h.mu.Unlock()
}

// LeaveAll drops the subscriber from every room, e.g. on disconnect.
func (h *Hub) LeaveAll(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for threadID := range h.joined[sub.ID()] {
		h.leaveLocked(threadID, sub.ID())
	}
	delete(h.joined, sub.ID())
}

func (h *Hub) IsMember(threadID string, sub Subscriber) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[threadID][sub.ID()]
	return ok
}

func (h *Hub) RoomSize(threadID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[threadID])
}

func (h *Hub) leaveLocked(threadID, subID string) {
	room := h.rooms[threadID]
	if room == nil {
		return
	}
	delete(room, subID)
	if len(room) == 0 {
		delete(h.rooms, threadID)
	}
	if memberships, ok := h.joined[subID]; ok {
		delete(memberships, threadID)
		if len(memberships) == 0 {
			delete(h.joined, subID)
		}
	}
}

// Publish delivers the event to local subscribers. It never blocks on a
// slow subscriber.
func (h *Hub) Publish(ctx context.Context, ev model.Event) error {
	h.Deliver(ev)
	return nil
}

// Deliver fans ev out and returns how many subscribers accepted it.
func (h *Hub) Deliver(ev model.Event) int {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.rooms[ev.ThreadID]))
	for _, s := range h.rooms[ev.ThreadID] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	payloads := make(map[model.Role][]byte, 2)
	delivered := 0
	for _, s := range subs {
		role := s.Sender().Role
		if !ev.VisibleTo(role) {
			continue
		}
		payload, ok := payloads[role]
		if !ok {
			var err error
			redacted := ev.RedactFor(role)
			payload, err = json.Marshal(ServerFrame{Type: FrameEvent, ThreadID: ev.ThreadID, Event: &redacted})
			if err != nil {
				h.logger.Error().Err(err).Str("event_id", ev.ID).Msg("encode event")
				return delivered
			}
			payloads[role] = payload
		}
		if err := s.Send(payload); err != nil {
			h.logger.Debug().Err(err).Str("subscriber", s.ID()).Msg("drop event for subscriber")
			continue
		}
		delivered++
	}
	return delivered
}

// Close empties every room.
func (h *Hub) Close() {
	h.mu.Lock()
	h.rooms = make(map[string]map[string]Subscriber)
	h.joined = make(map[string]map[string]struct{})
	h.mu.Unlock()
}
