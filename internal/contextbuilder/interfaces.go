// Package contextbuilder loads or creates a user's profile and the recent
// history of a conversation, then renders both into the system
// instructions the ReAct controller seeds each run with.
package contextbuilder

import (
	"context"
	"errors"

	"github.com/haasonsaas/conduit/pkg/models"
)

// ErrNotFound is returned by ProfileStore.Get and ConversationStore.Get on
// a miss; Builder treats it as "create on first use" rather than an error.
var ErrNotFound = errors.New("contextbuilder: not found")

// ProfileStore persists UserProfile rows.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*models.UserProfile, error)
	Create(ctx context.Context, profile *models.UserProfile) error
	Update(ctx context.Context, profile *models.UserProfile) error
}

// ConversationStore persists Conversation and ConversationMessage rows.
// Messages within a conversation are append-only and returned in
// insertion order.
type ConversationStore interface {
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	TouchConversation(ctx context.Context, conversationID string) error
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.ConversationMessage, error)
	AppendMessage(ctx context.Context, msg *models.ConversationMessage) error
}
