package contextbuilder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/conduit/pkg/models"
)

func newTestBuilder() *Builder {
	return New(NewMemoryProfileStore(), NewMemoryConversationStore(), Config{HistoryLimit: 5})
}

func TestBuild_CreatesProfileAndConversationOnFirstUse(t *testing.T) {
	b := newTestBuilder()
	ctx := context.Background()

	built, err := b.Build(ctx, "user-1", "conv-1", "what's the weather?")
	require.NoError(t, err)
	assert.Equal(t, "user-1", built.Profile.UserID)
	assert.Empty(t, built.History)
	assert.Contains(t, built.SystemInstructions, "tool-using assistant")
	assert.Equal(t, "what's the weather?", built.CurrentQuery)
}

func TestBuild_EmptyConversationIDSkipsHistory(t *testing.T) {
	b := newTestBuilder()
	built, err := b.Build(context.Background(), "user-1", "", "hi")
	require.NoError(t, err)
	assert.Nil(t, built.History)
}

func TestBuild_RejectsEmptyUserID(t *testing.T) {
	b := newTestBuilder()
	_, err := b.Build(context.Background(), "", "conv-1", "hi")
	assert.Error(t, err)
}

func TestSaveInteraction_AppendsBothMessagesInOrder(t *testing.T) {
	b := newTestBuilder()
	ctx := context.Background()

	require.NoError(t, b.SaveInteraction(ctx, "user-1", "conv-1", "hello", "hi there", map[string]any{"run_id": "r1"}))

	built, err := b.Build(ctx, "user-1", "conv-1", "")
	require.NoError(t, err)
	require.Len(t, built.History, 2)
	assert.Equal(t, models.RoleUser, built.History[0].Role)
	assert.Equal(t, "hello", built.History[0].Content)
	assert.Equal(t, models.RoleAssistant, built.History[1].Role)
	assert.Equal(t, "hi there", built.History[1].Content)
	assert.Equal(t, "r1", built.History[1].Metadata["run_id"])
}

func TestSaveInteraction_RequiresConversationID(t *testing.T) {
	b := newTestBuilder()
	err := b.SaveInteraction(context.Background(), "user-1", "", "hi", "hello", nil)
	assert.Error(t, err)
}

func TestRenderSystemInstructions_IncludesCustomInstructionsPreferencesAndPermissions(t *testing.T) {
	profile := &models.UserProfile{
		UserID:             "user-1",
		CustomInstructions: "always answer in haiku",
		Preferences:        map[string]any{"tone": "formal", "verbosity": "brief"},
		APIPermissions:     map[string]struct{}{"weather": {}},
	}
	instructions := renderSystemInstructions(profile)
	assert.Contains(t, instructions, "always answer in haiku")
	assert.Contains(t, instructions, "tone: formal")
	assert.Contains(t, instructions, "verbosity: brief")
	assert.Contains(t, instructions, "only call functions in these categories: weather")
}

func TestRenderSystemInstructions_NoPermissionsClauseWhenUnrestricted(t *testing.T) {
	profile := &models.UserProfile{UserID: "user-1"}
	instructions := renderSystemInstructions(profile)
	assert.NotContains(t, instructions, "only call functions")
}

func TestUpdateProfile_CreatesWhenMissing(t *testing.T) {
	b := newTestBuilder()
	ctx := context.Background()
	profile := &models.UserProfile{UserID: "user-2", CustomInstructions: "be terse"}
	require.NoError(t, b.UpdateProfile(ctx, profile))

	built, err := b.Build(ctx, "user-2", "", "")
	require.NoError(t, err)
	assert.Equal(t, "be terse", built.Profile.CustomInstructions)
}

func TestUpdateProfile_UpdatesExisting(t *testing.T) {
	b := newTestBuilder()
	ctx := context.Background()
	_, err := b.Build(ctx, "user-3", "", "")
	require.NoError(t, err)

	require.NoError(t, b.UpdateProfile(ctx, &models.UserProfile{UserID: "user-3", CustomInstructions: "v2"}))
	built, err := b.Build(ctx, "user-3", "", "")
	require.NoError(t, err)
	assert.Equal(t, "v2", built.Profile.CustomInstructions)
}

func TestBuild_HistoryLimitTruncatesToMostRecent(t *testing.T) {
	b := newTestBuilder()
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		require.NoError(t, b.SaveInteraction(ctx, "user-1", "conv-1", "q", "a", nil))
	}
	built, err := b.Build(ctx, "user-1", "conv-1", "")
	require.NoError(t, err)
	assert.Len(t, built.History, 5)
}
