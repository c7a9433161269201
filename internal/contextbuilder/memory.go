package contextbuilder

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conduit/pkg/models"
)

// MemoryProfileStore is an in-memory ProfileStore, suitable for tests and
// for running the context builder without a relational store.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*models.UserProfile
}

// NewMemoryProfileStore creates an in-memory profile store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]*models.UserProfile)}
}

func (s *MemoryProfileStore) Get(ctx context.Context, userID string) (*models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryProfileStore) Create(ctx context.Context, profile *models.UserProfile) error {
	now := time.Now()
	profile.CreatedAt, profile.UpdatedAt = now, now
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *profile
	s.profiles[profile.UserID] = &cp
	return nil
}

func (s *MemoryProfileStore) Update(ctx context.Context, profile *models.UserProfile) error {
	profile.UpdatedAt = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profile.UserID]; !ok {
		return ErrNotFound
	}
	cp := *profile
	s.profiles[profile.UserID] = &cp
	return nil
}

// MemoryConversationStore is an in-memory ConversationStore.
type MemoryConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]models.ConversationMessage
}

// NewMemoryConversationStore creates an in-memory conversation store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.ConversationMessage),
	}
}

func (s *MemoryConversationStore) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryConversationStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	now := time.Now()
	conv.CreatedAt, conv.UpdatedAt = now, now
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *conv
	s.conversations[conv.ConversationID] = &cp
	return nil
}

func (s *MemoryConversationStore) TouchConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.UpdatedAt = time.Now()
	return nil
}

// RecentMessages returns the last limit messages in chronological order.
// A non-positive limit returns the full history.
func (s *MemoryConversationStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[conversationID]
	sorted := make([]models.ConversationMessage, len(all))
	copy(sorted, all)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return sorted, nil
}

func (s *MemoryConversationStore) AppendMessage(ctx context.Context, msg *models.ConversationMessage) error {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}
