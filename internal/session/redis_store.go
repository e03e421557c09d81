package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisStore keeps each session as a Redis list of JSON events. One Append is
// one RPUSH, which Redis applies atomically.
type RedisStore struct {
	client    backend.UniversalClient
	prefix    string
	ttl       time.Duration
	maxEvents int64
	now       func() time.Time
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithTTL expires an idle session's history. Zero keeps it forever.
func WithTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithMaxEvents trims each session list to the newest n events on append.
func WithMaxEvents(n int) RedisStoreOption {
	return func(s *RedisStore) { s.maxEvents = int64(n) }
}

// NewRedisStore connects to addr.
func NewRedisStore(addr, password string, db int, opts ...RedisStoreOption) *RedisStore {
	return NewRedisStoreFromClient(backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client backend.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "augur:history:",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// key escapes both IDs so the ":" separator cannot appear inside them.
func (s *RedisStore) key(k Key) string {
	return s.prefix + url.QueryEscape(k.ActorID) + ":" + url.QueryEscape(k.SessionID)
}

// Append pushes one event and refreshes trimming and expiry in the same
// pipeline.
func (s *RedisStore) Append(ctx context.Context, key Key, turns []Turn) error {
	if err := validate(turns); err != nil {
		return storeErr("append", key, err)
	}
	data, err := json.Marshal(newEvent(turns, s.now()))
	if err != nil {
		return storeErr("append", key, fmt.Errorf("marshal event: %w", err))
	}

	rk := s.key(key)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, rk, data)
	if s.maxEvents > 0 {
		pipe.LTrim(ctx, rk, -s.maxEvents, -1)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, rk, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("append", key, err)
	}
	return nil
}

// List reads the newest max events, oldest first.
func (s *RedisStore) List(ctx context.Context, key Key, max int) ([]Event, error) {
	start := int64(0)
	if max > 0 {
		start = -int64(max)
	}
	raw, err := s.client.LRange(ctx, s.key(key), start, -1).Result()
	if err != nil {
		return nil, storeErr("list", key, err)
	}

	events := make([]Event, 0, len(raw))
	for i, r := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, storeErr("list", key, fmt.Errorf("decode event %d: %w", i, err))
		}
		events = append(events, ev)
	}
	return events, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
