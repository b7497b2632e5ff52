package quizbank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/Hackerecon/internal/model"
)

func TestMemoryStore_IndexesByPhaseTag(t *testing.T) {
	store := NewMemoryStore(DefaultPrompts())

	sqliDetection := store.PromptsForPhase("sqli-detection")
	require.Len(t, sqliDetection, 1)
	assert.Equal(t, "sqli-detection-1", sqliDetection[0].QuestionID)

	unknown := store.PromptsForPhase("nonexistent")
	assert.Empty(t, unknown)
}

func TestMemoryStore_AddAppends(t *testing.T) {
	store := NewMemoryStore(nil)
	store.Add(model.QuestionPrompt{QuestionID: "q1", PhaseTag: "xss-payload"})
	store.Add(model.QuestionPrompt{QuestionID: "q2", PhaseTag: "xss-payload"})

	got := store.PromptsForPhase("xss-payload")
	require.Len(t, got, 2)
}

func TestMemoryStore_ReturnsCopyNotSharedSlice(t *testing.T) {
	store := NewMemoryStore(DefaultPrompts())
	got := store.PromptsForPhase("sqli")
	got[0].Text = "mutated"

	again := store.PromptsForPhase("sqli")
	assert.NotEqual(t, "mutated", again[0].Text)
}
