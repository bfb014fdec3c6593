package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps conversations in process.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	ttl           time.Duration
	maxHistory    int
}

// NewMemoryStore creates an empty store. Zero values select the defaults.
func NewMemoryStore(ttl time.Duration, maxHistory int) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &MemoryStore{conversations: make(map[string]*Conversation), ttl: ttl, maxHistory: maxHistory}
}

func (s *MemoryStore) Create(_ context.Context, userID string) (*Conversation, error) {
	now := time.Now()
	c := &Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.mu.Lock()
	s.conversations[c.ID] = c
	s.mu.Unlock()
	return clone(c), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return clone(c), nil
}

func (s *MemoryStore) AppendMessages(_ context.Context, id string, msgs ...Message) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	apply(c, s.maxHistory, msgs)
	c.ExpiresAt = c.UpdatedAt.Add(s.ttl)
	return clone(c), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrConversationNotFound
	}
	delete(s.conversations, id)
	return nil
}

// List returns the user's live conversations, most recently updated first.
func (s *MemoryStore) List(_ context.Context, userID string) ([]*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Conversation
	for _, c := range s.conversations {
		if c.UserID == userID && !c.IsExpired() {
			out = append(out, clone(c))
		}
	}
	sortByUpdated(out)
	return out, nil
}

func (s *MemoryStore) lookup(id string) (*Conversation, error) {
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	if c.IsExpired() {
		return nil, ErrConversationExpired
	}
	return c, nil
}

func sortByUpdated(cs []*Conversation) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].UpdatedAt.After(cs[j].UpdatedAt) })
}
