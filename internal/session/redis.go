package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opsagent/orchestrator/internal/circuitbreaker"
	"github.com/opsagent/orchestrator/internal/metrics"
)

// maxAppendAttempts bounds optimistic retries when concurrent writers race
// on one conversation key.
const maxAppendAttempts = 10

// ErrAppendConflict is returned when an append loses every optimistic retry.
var ErrAppendConflict = errors.New("conversation modified concurrently")

// RedisOptions tunes a RedisStore. Zero values select the defaults.
type RedisOptions struct {
	TTL        time.Duration
	MaxHistory int
	CacheSize  int
}

// RedisStore keeps conversations in Redis with a local cache in front.
type RedisStore struct {
	client     *circuitbreaker.RedisWrapper
	logger     *zap.Logger
	ttl        time.Duration
	maxHistory int

	mu          sync.RWMutex
	localCache  map[string]*Conversation
	cacheAccess map[string]time.Time
	maxCached   int
}

// NewRedisStore creates a store on top of a breaker-wrapped client.
func NewRedisStore(client *circuitbreaker.RedisWrapper, opts RedisOptions, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	return &RedisStore{
		client:      client,
		logger:      logger,
		ttl:         opts.TTL,
		maxHistory:  opts.MaxHistory,
		localCache:  make(map[string]*Conversation),
		cacheAccess: make(map[string]time.Time),
		maxCached:   opts.CacheSize,
	}
}

// Create creates a new conversation
func (s *RedisStore) Create(ctx context.Context, userID string) (*Conversation, error) {
	now := time.Now()
	c := &Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.save(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save conversation: %w", err)
	}
	if userID != "" {
		err := s.client.Do(ctx, func(ctx context.Context, r redis.UniversalClient) error {
			pipe := r.TxPipeline()
			pipe.SAdd(ctx, userKey(userID), c.ID)
			pipe.Expire(ctx, userKey(userID), s.ttl)
			_, err := pipe.Exec(ctx)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to index conversation: %w", err)
		}
	}
	s.cache(c)

	s.logger.Info("Created conversation",
		zap.String("conversation_id", c.ID),
		zap.String("user_id", userID),
	)
	return clone(c), nil
}

// Get retrieves a conversation by ID
func (s *RedisStore) Get(ctx context.Context, id string) (*Conversation, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return clone(c), nil
}

// AppendMessages adds messages, refreshing the TTL. The read-modify-write
// runs as a WATCH transaction on the conversation key, so appends from other
// replicas sharing the Redis instance are never overwritten.
func (s *RedisStore) AppendMessages(ctx context.Context, id string, msgs ...Message) (*Conversation, error) {
	key := conversationKey(id)
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		var (
			updated   *Conversation
			expired   bool
			decodeErr error
		)
		err := s.client.Do(ctx, func(ctx context.Context, r redis.UniversalClient) error {
			return r.Watch(ctx, func(tx *redis.Tx) error {
				data, err := tx.Get(ctx, key).Bytes()
				if err != nil {
					return err
				}
				var c Conversation
				if err := json.Unmarshal(data, &c); err != nil {
					decodeErr = err
					return nil
				}
				if c.IsExpired() {
					expired = true
					return nil
				}
				apply(&c, s.maxHistory, msgs)
				c.ExpiresAt = c.UpdatedAt.Add(s.ttl)
				out, err := json.Marshal(&c)
				if err != nil {
					return fmt.Errorf("failed to marshal conversation: %w", err)
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, out, s.ttl)
					return nil
				})
				if err == nil {
					updated = &c
				}
				return err
			}, key)
		})
		switch {
		case errors.Is(err, redis.TxFailedErr):
			metrics.ConversationAppendConflicts.Inc()
			continue
		case errors.Is(err, redis.Nil):
			s.forget(id)
			return nil, ErrConversationNotFound
		case err != nil:
			return nil, fmt.Errorf("failed to save conversation: %w", err)
		case decodeErr != nil:
			return nil, fmt.Errorf("failed to unmarshal conversation: %w", decodeErr)
		case expired:
			s.forget(id)
			return nil, ErrConversationExpired
		}
		s.cache(updated)
		return clone(updated), nil
	}
	return nil, fmt.Errorf("failed to save conversation: %w", ErrAppendConflict)
}

// Delete removes a conversation and its index entry.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	c, err := s.load(ctx, id)
	if err != nil && !errors.Is(err, ErrConversationExpired) {
		return err
	}
	err = s.client.Do(ctx, func(ctx context.Context, r redis.UniversalClient) error {
		pipe := r.TxPipeline()
		pipe.Del(ctx, conversationKey(id))
		if c != nil && c.UserID != "" {
			pipe.SRem(ctx, userKey(c.UserID), id)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	s.forget(id)

	s.logger.Info("Deleted conversation", zap.String("conversation_id", id))
	return nil
}

// List returns the user's live conversations, most recently updated first.
// Index entries whose conversation has expired are pruned.
func (s *RedisStore) List(ctx context.Context, userID string) ([]*Conversation, error) {
	var ids []string
	err := s.client.Do(ctx, func(ctx context.Context, r redis.UniversalClient) error {
		var err error
		ids, err = r.SMembers(ctx, userKey(userID)).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	sort.Strings(ids)

	var (
		out   []*Conversation
		stale []any
	)
	for _, id := range ids {
		c, err := s.load(ctx, id)
		switch {
		case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrConversationExpired):
			stale = append(stale, id)
			continue
		case err != nil:
			s.logger.Warn("Skipping unreadable conversation", zap.String("conversation_id", id), zap.Error(err))
			continue
		}
		out = append(out, clone(c))
	}
	if len(stale) > 0 {
		_ = s.client.Do(ctx, func(ctx context.Context, r redis.UniversalClient) error {
			return r.SRem(ctx, userKey(userID), stale...).Err()
		})
	}
	sortByUpdated(out)
	return out, nil
}

func conversationKey(id string) string { return "conversation:" + id }

func userKey(userID string) string { return "user_conversations:" + userID }

func (s *RedisStore) load(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	c, ok := s.localCache[id]
	s.mu.RUnlock()
	if ok {
		metrics.ConversationCacheHits.Inc()
		if c.IsExpired() {
			return nil, ErrConversationExpired
		}
		s.mu.Lock()
		s.cacheAccess[id] = time.Now()
		s.mu.Unlock()
		return c, nil
	}
	metrics.ConversationCacheMisses.Inc()

	var data []byte
	err := s.client.Do(ctx, func(ctx context.Context, r redis.UniversalClient) error {
		var err error
		data, err = r.Get(ctx, conversationKey(id)).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrConversationNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	var loaded Conversation
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	if loaded.IsExpired() {
		return nil, ErrConversationExpired
	}
	s.cache(&loaded)
	return &loaded, nil
}

func (s *RedisStore) save(ctx context.Context, c *Conversation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		ttl = s.ttl
	}
	return s.client.Do(ctx, func(ctx context.Context, r redis.UniversalClient) error {
		return r.Set(ctx, conversationKey(c.ID), data, ttl).Err()
	})
}

func (s *RedisStore) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.localCache, id)
	delete(s.cacheAccess, id)
}

func (s *RedisStore) cache(c *Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localCache[c.ID] = c
	s.cacheAccess[c.ID] = time.Now()
	s.evictLocked()
}

// evictLocked drops the least recently used half once the cache is full.
func (s *RedisStore) evictLocked() {
	if len(s.localCache) <= s.maxCached {
		return
	}
	type accessEntry struct {
		id   string
		time time.Time
	}
	entries := make([]accessEntry, 0, len(s.localCache))
	for id := range s.localCache {
		entries = append(entries, accessEntry{id: id, time: s.cacheAccess[id]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].time.Before(entries[j].time) })

	toRemove := len(entries) - s.maxCached/2
	for i := 0; i < toRemove; i++ {
		delete(s.localCache, entries[i].id)
		delete(s.cacheAccess, entries[i].id)
	}
}
