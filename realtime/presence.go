package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

type presenceKey struct {
	threadID string
	partyID  string
}

// MemoryPresence is last-write-wins typing state with expiry, for a single
// instance.
type MemoryPresence struct {
	mu    sync.Mutex
	state map[presenceKey]model.Typing
	now   func() time.Time
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{state: make(map[presenceKey]model.Typing), now: time.Now}
}

func (p *MemoryPresence) Set(ctx context.Context, t model.Typing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := presenceKey{t.ThreadID, t.Sender.PartyID}
	if !t.IsTyping {
		delete(p.state, key)
		return nil
	}
	p.state[key] = t
	return nil
}

func (p *MemoryPresence) Active(ctx context.Context, threadID string) ([]model.Typing, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	var out []model.Typing
	for key, t := range p.state {
		if !now.Before(t.ExpiresAt) {
			delete(p.state, key)
			continue
		}
		if key.threadID == threadID {
			out = append(out, t)
		}
	}
	sortTyping(out)
	return out, nil
}

// RedisPresence shares typing state between instances. Each entry is a key
// whose TTL is the typing expiry.
type RedisPresence struct {
	client *redis.Client
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client}
}

func typingKey(threadID, partyID string) string {
	return "nego:typing:" + threadID + ":" + partyID
}

func (p *RedisPresence) Set(ctx context.Context, t model.Typing) error {
	key := typingKey(t.ThreadID, t.Sender.PartyID)
	if !t.IsTyping {
		return p.client.Del(ctx, key).Err()
	}
	ttl := time.Until(t.ExpiresAt)
	if ttl <= 0 {
		return p.client.Del(ctx, key).Err()
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return p.client.Set(ctx, key, payload, ttl).Err()
}

func (p *RedisPresence) Active(ctx context.Context, threadID string) ([]model.Typing, error) {
	var keys []string
	iter := p.client.Scan(ctx, 0, typingKey(threadID, "*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan typing keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load typing keys: %w", err)
	}
	var out []model.Typing
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var t model.Typing
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	sortTyping(out)
	return out, nil
}

func (p *RedisPresence) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func sortTyping(ts []model.Typing) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Sender.PartyID < ts[j].Sender.PartyID })
}
