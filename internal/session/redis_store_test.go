package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, opts ...RedisStoreOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreFromClient(client, opts...), mr
}

func TestRedisStoreContract(t *testing.T) {
	store, _ := newTestRedis(t)
	runStoreContract(t, store)
}

func TestRedisStoreKeyLayout(t *testing.T) {
	store, mr := newTestRedis(t, WithPrefix("test:"))
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, NewKey("u1", "s1"), Pair("q", "a")))
	assert.True(t, mr.Exists("test:u1:s1"))

	items, err := mr.List("test:u1:s1")
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Contains(t, items[0], `"role":"USER"`)
}

func TestRedisStoreKeysDoNotCollide(t *testing.T) {
	store, mr := newTestRedis(t, WithPrefix("test:"))
	ctx := context.Background()

	left, right := NewKey("a:b", "c"), NewKey("a", "b:c")
	require.NoError(t, store.Append(ctx, left, Pair("left", "1")))
	require.NoError(t, store.Append(ctx, right, Pair("right", "2")))

	assert.NotEqual(t, store.key(left), store.key(right))
	assert.True(t, mr.Exists("test:a%3Ab:c"))
	assert.True(t, mr.Exists("test:a:b%3Ac"))

	events, err := store.List(ctx, left, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "left", events[0].Turns[0].Text)
}

func TestRedisStoreTTL(t *testing.T) {
	store, mr := newTestRedis(t, WithTTL(time.Minute))
	ctx := context.Background()
	key := NewKey("u", "s")

	require.NoError(t, store.Append(ctx, key, Pair("q", "a")))
	mr.FastForward(2 * time.Minute)

	events, err := store.List(ctx, key, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRedisStoreMaxEvents(t *testing.T) {
	store, _ := newTestRedis(t, WithMaxEvents(2))
	ctx := context.Background()
	key := NewKey("u", "s")

	for _, q := range []string{"1", "2", "3"} {
		require.NoError(t, store.Append(ctx, key, Pair(q, "a")))
	}
	events, err := store.List(ctx, key, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "2", events[0].Turns[0].Text)
}

func TestRedisStoreCorruptEvent(t *testing.T) {
	store, mr := newTestRedis(t)
	ctx := context.Background()
	key := NewKey("u", "s")

	_, err := mr.Push(store.key(key), "{not json")
	require.NoError(t, err)

	_, err = store.List(ctx, key, 10)
	assert.ErrorIs(t, err, ErrStore)
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newTestRedis(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.ErrorIs(t, store.Append(ctx, NewKey("u", "s"), Pair("q", "a")), ErrStore)
	_, err := store.List(ctx, NewKey("u", "s"), 1)
	assert.ErrorIs(t, err, ErrStore)
	assert.Error(t, store.Ping(ctx))
}
