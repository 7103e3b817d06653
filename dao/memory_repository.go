package dao

import (
	"context"
	"sort"
	"sync"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

// MemoryThreadRepository keeps threads in process memory. Writers of one
// thread are serialized by that thread's lock; readers see only committed
// state.
type MemoryThreadRepository struct {
	mu        sync.RWMutex
	threads   map[string]*memoryThread
	byRequest map[string]string
}

type memoryThread struct {
	write    sync.Mutex
	header   *model.Thread
	messages []model.Message
	index    map[string]int
	offers   []model.Offer
}

func NewMemoryThreadRepository() *MemoryThreadRepository {
	return &MemoryThreadRepository{
		threads:   make(map[string]*memoryThread),
		byRequest: make(map[string]string),
	}
}

func (r *MemoryThreadRepository) Ping(ctx context.Context) error { return nil }

func (r *MemoryThreadRepository) Close() error { return nil }

func (r *MemoryThreadRepository) Create(ctx context.Context, t *model.Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[t.ID]; ok {
		return model.ErrThreadExists
	}
	if t.TourRequestID != "" {
		if _, ok := r.byRequest[t.TourRequestID]; ok {
			return model.ErrThreadExists
		}
		r.byRequest[t.TourRequestID] = t.ID
	}
	r.threads[t.ID] = &memoryThread{header: t.Header(), index: make(map[string]int)}
	return nil
}

func (r *MemoryThreadRepository) lookup(id string) (*memoryThread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mt, ok := r.threads[id]
	if !ok {
		return nil, model.ErrThreadNotFound
	}
	return mt, nil
}

func (r *MemoryThreadRepository) Get(ctx context.Context, id string) (*model.Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mt, ok := r.threads[id]
	if !ok {
		return nil, model.ErrThreadNotFound
	}
	t := mt.header.Header()
	t.Messages = make([]model.Message, len(mt.messages))
	for i := range mt.messages {
		t.Messages[i] = mt.messages[i].Clone()
	}
	return t, nil
}

func (r *MemoryThreadRepository) ListByParty(ctx context.Context, party model.Sender) ([]model.Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var threads []model.Thread
	for _, mt := range r.threads {
		if mt.header.PartyID(party.Role) == party.PartyID {
			threads = append(threads, *mt.header.Header())
		}
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})
	return threads, nil
}

func (r *MemoryThreadRepository) Offers(ctx context.Context, threadID string) ([]model.Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mt, ok := r.threads[threadID]
	if !ok {
		return nil, model.ErrThreadNotFound
	}
	return append([]model.Offer(nil), mt.offers...), nil
}

func (r *MemoryThreadRepository) Update(ctx context.Context, id string, fn func(tx ThreadTx) error) error {
	mt, err := r.lookup(id)
	if err != nil {
		return err
	}
	mt.write.Lock()
	defer mt.write.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryThreadTx{base: mt, thread: mt.header.Header(), saved: make(map[string]model.Message)}
	if err := fn(tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	mt.header = tx.thread.Header()
	for id, m := range tx.saved {
		if i, ok := mt.index[id]; ok {
			mt.messages[i] = m
		}
	}
	for _, m := range tx.appended {
		if saved, ok := tx.saved[m.ID]; ok {
			m = saved
		}
		mt.index[m.ID] = len(mt.messages)
		mt.messages = append(mt.messages, m)
	}
	mt.offers = append(mt.offers, tx.offers...)
	return nil
}

// memoryThreadTx stages changes until the callback succeeds. Reading the
// base slices is safe because only the holder of base.write mutates them.
type memoryThreadTx struct {
	base     *memoryThread
	thread   *model.Thread
	appended []model.Message
	saved    map[string]model.Message
	offers   []model.Offer
}

func (tx *memoryThreadTx) Thread() *model.Thread {
	return tx.thread
}

func (tx *memoryThreadTx) find(match func(m *model.Message) bool) *model.Message {
	for _, m := range tx.saved {
		if match(&m) {
			c := m.Clone()
			return &c
		}
	}
	for i := range tx.appended {
		if match(&tx.appended[i]) {
			c := tx.appended[i].Clone()
			return &c
		}
	}
	for i := range tx.base.messages {
		if match(&tx.base.messages[i]) {
			c := tx.base.messages[i].Clone()
			return &c
		}
	}
	return nil
}

func (tx *memoryThreadTx) Message(id string) (*model.Message, error) {
	if m := tx.find(func(m *model.Message) bool { return m.ID == id }); m != nil {
		return m, nil
	}
	return nil, model.ErrMessageNotFound
}

func (tx *memoryThreadTx) MessageByClientID(sender model.Sender, clientID string) (*model.Message, error) {
	if clientID == "" {
		return nil, nil
	}
	return tx.find(func(m *model.Message) bool {
		return m.ClientID == clientID && m.Sender.PartyID == sender.PartyID
	}), nil
}

func (tx *memoryThreadTx) AppendMessage(m *model.Message) error {
	tx.thread.LastSeq++
	m.Seq = tx.thread.LastSeq
	m.ThreadID = tx.thread.ID
	tx.appended = append(tx.appended, m.Clone())
	return nil
}

func (tx *memoryThreadTx) SaveMessage(m *model.Message) error {
	if _, err := tx.Message(m.ID); err != nil {
		return err
	}
	tx.saved[m.ID] = m.Clone()
	return nil
}

func (tx *memoryThreadTx) AddOffer(o *model.Offer) error {
	c := *o
	c.ThreadID = tx.thread.ID
	tx.offers = append(tx.offers, c)
	return nil
}
