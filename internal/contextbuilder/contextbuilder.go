package contextbuilder

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/conduit/pkg/models"
)

const (
	basePreamble = "You are a tool-using assistant. Use the available functions " +
		"when they help answer the user accurately; otherwise answer directly. " +
		"Be concise and cite which function produced any factual claim that came from one."

	// DefaultHistoryLimit is how many prior messages Build folds into a run's
	// context when the caller doesn't specify one.
	DefaultHistoryLimit = 10
)

// Config tunes Builder.
type Config struct {
	// HistoryLimit bounds how many recent messages RecentMessages returns.
	// Zero falls back to DefaultHistoryLimit.
	HistoryLimit int
}

// Builder loads or lazily creates a user's profile, fetches recent
// conversation history, and renders both into system instructions the
// ReAct controller seeds each run with.
type Builder struct {
	profiles      ProfileStore
	conversations ConversationStore
	historyLimit  int
}

// New builds a Builder over the given stores.
func New(profiles ProfileStore, conversations ConversationStore, cfg Config) *Builder {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Builder{profiles: profiles, conversations: conversations, historyLimit: limit}
}

// Build loads or creates userID's profile, loads conversationID's recent
// history (creating the conversation if conversationID is new), and
// renders both into a BuiltContext. conversationID may be empty, in which
// case history is omitted and no conversation is created — the caller is
// expected to create one on the first turn via SaveInteraction.
func (b *Builder) Build(ctx context.Context, userID, conversationID, currentQuery string) (*models.BuiltContext, error) {
	if userID == "" {
		return nil, fmt.Errorf("contextbuilder: userID is required")
	}

	profile, err := b.loadOrCreateProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	var history []models.ConversationMessage
	if conversationID != "" {
		if _, err := b.conversations.GetConversation(ctx, conversationID); err != nil {
			if err != ErrNotFound {
				return nil, fmt.Errorf("load conversation: %w", err)
			}
			conv := &models.Conversation{ConversationID: conversationID, UserID: userID}
			if err := b.conversations.CreateConversation(ctx, conv); err != nil {
				return nil, fmt.Errorf("create conversation: %w", err)
			}
		}
		history, err = b.conversations.RecentMessages(ctx, conversationID, b.historyLimit)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
	}

	return &models.BuiltContext{
		Profile:            profile,
		History:            history,
		SystemInstructions: renderSystemInstructions(profile),
		UserID:             userID,
		ConversationID:     conversationID,
		CurrentQuery:       currentQuery,
	}, nil
}

func (b *Builder) loadOrCreateProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	profile, err := b.profiles.Get(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	profile = &models.UserProfile{UserID: userID, Preferences: map[string]any{}}
	if err := b.profiles.Create(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// SaveInteraction appends the user's message and the assistant's reply to
// conversationID, creating the conversation first if it doesn't exist, and
// touches its updated_at. metadata is attached to the assistant message
// only (e.g. run id, quality score, functions invoked).
func (b *Builder) SaveInteraction(ctx context.Context, userID, conversationID, userMessage, assistantMessage string, metadata map[string]any) error {
	if conversationID == "" {
		return fmt.Errorf("contextbuilder: conversationID is required")
	}
	if _, err := b.conversations.GetConversation(ctx, conversationID); err != nil {
		if err != ErrNotFound {
			return fmt.Errorf("load conversation: %w", err)
		}
		conv := &models.Conversation{ConversationID: conversationID, UserID: userID}
		if err := b.conversations.CreateConversation(ctx, conv); err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
	}

	if err := b.conversations.AppendMessage(ctx, &models.ConversationMessage{
		MessageID:      uuid.NewString(),
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        userMessage,
	}); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}

	if err := b.conversations.AppendMessage(ctx, &models.ConversationMessage{
		MessageID:      uuid.NewString(),
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        assistantMessage,
		Metadata:       metadata,
	}); err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}

	if err := b.conversations.TouchConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// UpdateProfile persists changes to a user's profile (preferences, custom
// instructions, permissions), creating it if it doesn't exist yet.
func (b *Builder) UpdateProfile(ctx context.Context, profile *models.UserProfile) error {
	if _, err := b.profiles.Get(ctx, profile.UserID); err != nil {
		if err == ErrNotFound {
			return b.profiles.Create(ctx, profile)
		}
		return err
	}
	return b.profiles.Update(ctx, profile)
}

// renderSystemInstructions folds the fixed preamble with the profile's
// custom instructions, preference block, and permissions clause.
func renderSystemInstructions(profile *models.UserProfile) string {
	var sb strings.Builder
	sb.WriteString(basePreamble)

	if profile.CustomInstructions != "" {
		sb.WriteString("\n\nUser-specific instructions: ")
		sb.WriteString(profile.CustomInstructions)
	}

	if len(profile.Preferences) > 0 {
		sb.WriteString("\n\nUser preferences:")
		for _, key := range []string{"tone", "verbosity", "language"} {
			if v, ok := profile.Preferences[key]; ok {
				fmt.Fprintf(&sb, "\n- %s: %v", key, v)
			}
		}
	}

	if !profile.HasAllPermissions() {
		perms := profile.PermissionList()
		sb.WriteString("\n\nYou may only call functions in these categories: ")
		sb.WriteString(strings.Join(perms, ", "))
	}

	return sb.String()
}
