package memory

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/agentflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_EvictsOldest(t *testing.T) {
	t.Parallel()

	conv := NewConversation(3)
	for _, content := range []string{"one", "two", "three", "four"} {
		conv.Add(RoleUser, content, nil)
	}

	assert.Equal(t, 3, conv.Len())

	messages := conv.Last(0)
	require.Len(t, messages, 3)
	assert.Equal(t, "two", messages[0].Content)
	assert.Equal(t, "four", messages[2].Content)

	assert.Equal(t, "user: three\nuser: four", conv.Transcript(2))

	conv.Clear()
	assert.Equal(t, 0, conv.Len())
	assert.Empty(t, conv.Transcript(5))
}

func TestConversation_DefaultSize(t *testing.T) {
	t.Parallel()

	conv := NewConversation(0)
	for range DefaultMaxMessages + 5 {
		conv.Add(RoleAssistant, "x", nil)
	}

	assert.Equal(t, DefaultMaxMessages, conv.Len())
}

func TestConversation_LastReturnsCopy(t *testing.T) {
	t.Parallel()

	conv := NewConversation(2)
	conv.Add(RoleUser, "hello", map[string]any{"k": "v"})

	messages := conv.Last(1)
	messages[0].Content = "changed"

	assert.Equal(t, "hello", conv.Last(1)[0].Content)
}

func TestContentID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", ContentID("hello"))
}

func TestInMemoryBackend_AddSearchDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	collection := NewInMemoryBackend().Collection("test")

	id, err := collection.Add(ctx, "the cat sat on the mat", map[string]any{"kind": "animal"}, "")
	require.NoError(t, err)
	assert.Equal(t, ContentID("the cat sat on the mat"), id)

	again, err := collection.Add(ctx, "the cat sat on the mat", nil, "")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	_, err = collection.Add(ctx, "stock prices rose sharply", map[string]any{"kind": "finance"}, "")
	require.NoError(t, err)
	_, err = collection.Add(ctx, "a dog chased the cat", map[string]any{"kind": "animal"}, "custom")
	require.NoError(t, err)

	results, err := collection.Search(ctx, "cat on a mat", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "the cat sat on the mat", results[0].Content)
	assert.Equal(t, "a dog chased the cat", results[1].Content)
	assert.Less(t, results[0].Distance, results[1].Distance)

	filtered, err := collection.Search(ctx, "cat", 5, map[string]any{"kind": "finance"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "stock prices rose sharply", filtered[0].Content)

	require.NoError(t, collection.Delete(ctx, "custom"))
	require.NoError(t, collection.Delete(ctx, "missing"))

	results, err = collection.Search(ctx, "cat", 5, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	none, err := collection.Search(ctx, "cat", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestInMemoryBackend_CollectionsAreIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := NewInMemoryBackend()

	_, err := backend.Collection("a").Add(ctx, "alpha", nil, "")
	require.NoError(t, err)

	results, err := backend.Collection("b").Search(ctx, "alpha", 3, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = backend.Collection("a").Search(ctx, "alpha", 3, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestManager_GetContextForPrompt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty manager renders nothing", func(t *testing.T) {
		t.Parallel()

		manager := NewManager("agent", 10, NewInMemoryBackend().Collection("x"), slog.Default())
		assert.Empty(t, manager.GetContextForPrompt(ctx, "anything", DefaultContextOptions()))
	})

	t.Run("conversation only", func(t *testing.T) {
		t.Parallel()

		manager := NewManager("agent", 10, nil, slog.Default())
		require.NoError(t, manager.AddInteraction(ctx, "hi", "hello", nil, true))

		got := manager.GetContextForPrompt(ctx, "hi", DefaultContextOptions())
		assert.Equal(t, "Recent Conversation:\nuser: hi\nassistant: hello", got)
	})

	t.Run("both sections", func(t *testing.T) {
		t.Parallel()

		manager := NewManager("agent", 10, NewInMemoryBackend().Collection("x"), slog.Default())
		require.NoError(t, manager.AddFact(ctx, "the sky is blue", nil))
		require.NoError(t, manager.AddFact(ctx, "grass is green", nil))
		require.NoError(t, manager.AddInteraction(ctx, "what color is the sky", "blue", nil, false))

		got := manager.GetContextForPrompt(ctx, "sky color", ContextOptions{
			IncludeConversation:  true,
			IncludeLongTerm:      true,
			ConversationMessages: 1,
			LongTermResults:      1,
		})
		assert.Equal(t, "Recent Conversation:\nassistant: blue\n\nRelevant Context from Memory:\n1. the sky is blue", got)
	})

	t.Run("long term only", func(t *testing.T) {
		t.Parallel()

		manager := NewManager("agent", 10, NewInMemoryBackend().Collection("x"), slog.Default())
		require.NoError(t, manager.AddInteraction(ctx, "q", "a", nil, true))

		got := manager.GetContextForPrompt(ctx, "q", ContextOptions{IncludeLongTerm: true})
		assert.Equal(t, "Relevant Context from Memory:\n1. User: q\nAssistant: a", got)
	})
}

func TestManager_TagsLongTermItems(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	collection := NewInMemoryBackend().Collection("x")
	manager := NewManager("writer", 10, collection, slog.Default())

	require.NoError(t, manager.AddFact(ctx, "fact one", map[string]any{"source": "test"}))

	results, err := collection.Search(ctx, "fact", 1, map[string]any{"agent_id": "writer", "type": "fact"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "test", results[0].Metadata["source"])
	assert.NotEmpty(t, results[0].Metadata["timestamp"])

	recalled, err := manager.Recall(ctx, "fact", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"fact one"}, recalled)
}

func TestScope_ForAgent(t *testing.T) {
	t.Parallel()

	scope := NewScope(NewInMemoryBackend(), slog.Default())

	first := scope.ForAgent("a", models.MemoryConfig{Enabled: true, MaxMessages: 4, LongTerm: true})
	second := scope.ForAgent("a", models.MemoryConfig{Enabled: true})
	other := scope.ForAgent("b", models.MemoryConfig{Enabled: true})

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)
	assert.True(t, first.HasLongTerm())
	assert.False(t, other.HasLongTerm())

	disabled := NewScope(nil, slog.Default()).ForAgent("a", models.MemoryConfig{Enabled: true, LongTerm: true})
	assert.False(t, disabled.HasLongTerm())
}
