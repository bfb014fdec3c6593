package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/opsagent/orchestrator/internal/circuitbreaker"
	"github.com/opsagent/orchestrator/internal/plan"
)

func newRedisStore(t *testing.T, opts RedisOptions) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return redisStoreOn(t, mr, opts), mr
}

// redisStoreOn opens another store, with its own client and cache, against mr.
func redisStoreOn(t *testing.T, mr *miniredis.Miniredis, opts RedisOptions) *RedisStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := zaptest.NewLogger(t)
	return NewRedisStore(circuitbreaker.NewRedisWrapper(client, "test", logger), opts, logger)
}

// storeContract runs the behavior every Store must share.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		c, err := s.Create(ctx, "alice")
		require.NoError(t, err)
		assert.NotEmpty(t, c.ID)

		got, err := s.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.UserID)
		assert.Empty(t, got.Messages)
	})

	t.Run("append sets title from first user message", func(t *testing.T) {
		s := newStore(t)
		c, _ := s.Create(ctx, "alice")
		got, err := s.AppendMessages(ctx, c.ID,
			Message{Role: "user", Text: "Show me   failed ADF pipelines from yesterday please"},
			Message{Role: "assistant", Text: "pl_ingest failed twice"},
		)
		require.NoError(t, err)
		assert.Equal(t, "Show me failed ADF pipelines…", got.Title)
		require.Len(t, got.Messages, 2)
		assert.False(t, got.Messages[0].Timestamp.IsZero())

		again, err := s.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, []plan.Turn{
			{Role: "user", Text: "Show me   failed ADF pipelines from yesterday please"},
			{Role: "assistant", Text: "pl_ingest failed twice"},
		}, again.Turns())
	})

	t.Run("missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrConversationNotFound)
		_, err = s.AppendMessages(ctx, "nope", Message{Role: "user", Text: "x"})
		assert.ErrorIs(t, err, ErrConversationNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		c, _ := s.Create(ctx, "alice")
		require.NoError(t, s.Delete(ctx, c.ID))
		_, err := s.Get(ctx, c.ID)
		assert.ErrorIs(t, err, ErrConversationNotFound)

		list, err := s.List(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("list per user", func(t *testing.T) {
		s := newStore(t)
		a1, _ := s.Create(ctx, "alice")
		_, _ = s.Create(ctx, "bob")
		a2, _ := s.Create(ctx, "alice")
		time.Sleep(2 * time.Millisecond)
		_, err := s.AppendMessages(ctx, a1.ID, Message{Role: "user", Text: "newest"})
		require.NoError(t, err)

		list, err := s.List(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, a1.ID, list[0].ID)
		assert.Equal(t, a2.ID, list[1].ID)
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewMemoryStore(0, 0) })
}

func TestRedisStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, _ := newRedisStore(t, RedisOptions{})
		return s
	})
}

func TestHistoryIsCapped(t *testing.T) {
	ctx := context.Background()
	for name, s := range map[string]Store{
		"memory": NewMemoryStore(0, 3),
		"redis":  func() Store { s, _ := newRedisStore(t, RedisOptions{MaxHistory: 3}); return s }(),
	} {
		t.Run(name, func(t *testing.T) {
			c, err := s.Create(ctx, "u")
			require.NoError(t, err)
			for i := 0; i < 5; i++ {
				_, err = s.AppendMessages(ctx, c.ID, Message{Role: "user", Text: fmt.Sprintf("m%d", i)})
				require.NoError(t, err)
			}
			got, err := s.Get(ctx, c.ID)
			require.NoError(t, err)
			require.Len(t, got.Messages, 3)
			assert.Equal(t, "m2", got.Messages[0].Text)
			assert.Equal(t, "m0", got.Title)
		})
	}
}

func TestRedisStoreKeysAndTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, RedisOptions{TTL: time.Hour})

	c, err := s.Create(ctx, "alice")
	require.NoError(t, err)

	assert.True(t, mr.Exists("conversation:"+c.ID))
	assert.InDelta(t, time.Hour.Seconds(), mr.TTL("conversation:"+c.ID).Seconds(), 1)
	members, err := mr.Members("user_conversations:alice")
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, members)

	raw, err := mr.Get("conversation:" + c.ID)
	require.NoError(t, err)
	assert.True(t, strings.Contains(raw, `"user_id":"alice"`))
}

func TestRedisStoreReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, RedisOptions{CacheSize: 2})

	c, err := s.Create(ctx, "alice")
	require.NoError(t, err)

	// Served from the local cache even when Redis lost the key.
	mr.Del("conversation:" + c.ID)
	_, err = s.Get(ctx, c.ID)
	require.NoError(t, err)

	// Filling the cache evicts the oldest entry, forcing a Redis read.
	for i := 0; i < 3; i++ {
		time.Sleep(time.Millisecond)
		_, err := s.Create(ctx, "bob")
		require.NoError(t, err)
	}
	_, err = s.Get(ctx, c.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestRedisStoreListPrunesExpired(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, RedisOptions{CacheSize: 1})

	c, err := s.Create(ctx, "alice")
	require.NoError(t, err)
	// Drop it from Redis and from the cache.
	mr.Del("conversation:" + c.ID)
	_, _ = s.Create(ctx, "bob")
	_, _ = s.Create(ctx, "bob")

	list, err := s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
	members, _ := mr.Members("user_conversations:alice")
	assert.Empty(t, members)
}

func TestRedisStoreAppendsFromTwoReplicas(t *testing.T) {
	ctx := context.Background()
	a, mr := newRedisStore(t, RedisOptions{})
	b := redisStoreOn(t, mr, RedisOptions{})

	c, err := a.Create(ctx, "alice")
	require.NoError(t, err)
	// Warm b's cache before a writes, so a stale read would drop a's message.
	_, err = b.Get(ctx, c.ID)
	require.NoError(t, err)

	_, err = a.AppendMessages(ctx, c.ID, Message{Role: "user", Text: "from replica A"})
	require.NoError(t, err)
	got, err := b.AppendMessages(ctx, c.ID, Message{Role: "assistant", Text: "from replica B"})
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "from replica A", got.Messages[0].Text)
	assert.Equal(t, "from replica B", got.Messages[1].Text)

	fresh := redisStoreOn(t, mr, RedisOptions{})
	stored, err := fresh.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, "from replica A", stored.Title)
}

func TestRedisStoreConcurrentAppendsKeepEveryMessage(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, RedisOptions{})
	c, err := s.Create(ctx, "alice")
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AppendMessages(ctx, c.ID, Message{Role: "user", Text: fmt.Sprintf("m%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := redisStoreOn(t, mr, RedisOptions{}).Get(ctx, c.ID)
	require.NoError(t, err)
	texts := make([]string, 0, writers)
	for _, m := range stored.Messages {
		texts = append(texts, m.Text)
	}
	assert.ElementsMatch(t, []string{"m0", "m1", "m2", "m3", "m4", "m5", "m6", "m7"}, texts)
}

func TestRedisStoreAppendIgnoresStaleCache(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, RedisOptions{})
	c, err := s.Create(ctx, "alice")
	require.NoError(t, err)

	mr.Del("conversation:" + c.ID)
	_, err = s.AppendMessages(ctx, c.ID, Message{Role: "user", Text: "x"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
	_, err = s.Get(ctx, c.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestTitleFrom(t *testing.T) {
	assert.Equal(t, "short", TitleFrom("  short "))
	assert.Equal(t, "exactly twenty-eight runes!!", TitleFrom("exactly twenty-eight runes!!"))
	assert.Equal(t, "ääääääääääääääääääääääääääää…", TitleFrom(strings.Repeat("ä", 40)))
}
