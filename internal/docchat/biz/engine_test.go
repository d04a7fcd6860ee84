package biz

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docchat/internal/model"
	errs "github.com/kart-io/docchat/pkg/errors"
)

const (
	catText = "The cat sleeps all day."
	dogText = "The dog barks at night."
)

func isAnswerPrompt(prompt string) bool {
	return strings.HasPrefix(prompt, "Answer the question based on the provided context.")
}

func TestEngine_GroundedAnswerSkipsIrrelevantDocuments(t *testing.T) {
	env := newTestEnv(t)
	catLoc := env.ingestText(t, "cat", catText)
	dogLoc := env.ingestText(t, "dog", dogText)
	env.chat.reply = func(int, string) (string, error) { return "It sleeps.", nil }

	ans, err := env.engine(DefaultEngineConfig()).Answer(context.Background(), []string{dogLoc, catLoc}, "what does the cat do?", nil)
	require.NoError(t, err)
	require.NotNil(t, ans)

	assert.True(t, ans.Grounded)
	assert.Equal(t, "It sleeps.", ans.Text)
	assert.Equal(t, []string{catLoc}, ans.Sources)
	assert.Equal(t, GenerateOK, ans.Kind)

	prompts := env.chat.calls()
	require.Len(t, prompts, 1)
	assert.True(t, isAnswerPrompt(prompts[0]))
	assert.Contains(t, prompts[0], "Context: "+catText)
	assert.Contains(t, prompts[0], "Current Question: what does the cat do?")
	assert.NotContains(t, prompts[0], dogText)

	snap := env.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap["relevance_skips"])
	assert.Equal(t, uint64(1), snap["answers_grounded"])
}

func TestEngine_JoinsAnswersInCandidateOrder(t *testing.T) {
	env := newTestEnv(t)
	first := env.ingestText(t, "first", "A cat on a boat.")
	second := env.ingestText(t, "second", "A cat in a hat.")
	env.chat.reply = func(_ int, prompt string) (string, error) {
		if strings.Contains(prompt, "boat") {
			return "Boat cat.", nil
		}
		return "Hat cat.", nil
	}

	ans, err := env.engine(DefaultEngineConfig()).Answer(context.Background(), []string{second, first}, "which cat?", nil)
	require.NoError(t, err)

	assert.Equal(t, "Hat cat. Boat cat.", ans.Text)
	assert.Equal(t, []string{second, first}, ans.Sources)
}

func TestEngine_EmptyAnswersAreNotCollected(t *testing.T) {
	env := newTestEnv(t)
	catLoc := env.ingestText(t, "cat", catText)
	env.chat.reply = func(_ int, prompt string) (string, error) {
		if isAnswerPrompt(prompt) {
			return "  ", nil
		}
		return "general reply", nil
	}

	ans, err := env.engine(DefaultEngineConfig()).Answer(context.Background(), []string{catLoc}, "cat?", nil)
	require.NoError(t, err)

	assert.False(t, ans.Grounded)
	assert.Equal(t, "general reply", ans.Text)
	assert.Empty(t, ans.Sources)
}

func TestEngine_FallbackWhenNothingRelevant(t *testing.T) {
	env := newTestEnv(t)
	dogLoc := env.ingestText(t, "dog", dogText)
	env.chat.reply = func(int, string) (string, error) { return "Fish are not mentioned.", nil }

	history := []model.ConversationTurn{{Message: "hi", Response: "hello"}}
	ans, err := env.engine(DefaultEngineConfig()).Answer(context.Background(), []string{dogLoc}, "tell me about fish", history)
	require.NoError(t, err)

	assert.False(t, ans.Grounded)
	assert.Equal(t, GenerateOK, ans.Kind)
	assert.Equal(t, "Fish are not mentioned.", ans.Text)
	assert.Equal(t, []string{"You: hi\nAI: hello\nYou: tell me about fish\nAI:"}, env.chat.calls())
	assert.Equal(t, uint64(1), env.metrics.Snapshot()["answers_fallback"])
}

func TestEngine_EmptyCandidateSetFallsBack(t *testing.T) {
	env := newTestEnv(t)
	env.chat.reply = func(int, string) (string, error) { return "", nil }

	ans, err := env.engine(DefaultEngineConfig()).Answer(context.Background(), nil, "q", nil)
	require.NoError(t, err)

	assert.Equal(t, GenerateEmpty, ans.Kind)
	assert.Equal(t, EmptyReplyMessage, ans.Text)
	assert.Zero(t, env.embedder.callCount())
}

func TestEngine_MissingIndexIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	catLoc := env.ingestText(t, "cat", catText)
	missing := env.registry.Backend().Locate("gone")
	env.chat.reply = func(int, string) (string, error) { return "It sleeps.", nil }

	ans, err := env.engine(DefaultEngineConfig()).Answer(context.Background(), []string{missing, catLoc}, "cat?", nil)
	require.NoError(t, err)

	assert.True(t, ans.Grounded)
	assert.Equal(t, []string{catLoc}, ans.Sources)
	assert.Equal(t, uint64(1), env.metrics.Snapshot()["missing_skips"])
}

func TestEngine_DeletedIndexFallsBack(t *testing.T) {
	env := newTestEnv(t)
	catLoc := env.ingestText(t, "cat", catText)
	_, metaPath, _ := env.registry.Paths("cat")
	require.NoError(t, NewCleaner(env.registry, env.metrics).Delete(context.Background(), catLoc, metaPath))
	env.chat.reply = func(int, string) (string, error) { return "general", nil }

	ans, err := env.engine(DefaultEngineConfig()).Answer(context.Background(), []string{catLoc}, "cat?", nil)
	require.NoError(t, err)
	assert.False(t, ans.Grounded)
	assert.Equal(t, "general", ans.Text)
}

func TestEngine_CondensesFollowUpQuestion(t *testing.T) {
	env := newTestEnv(t)
	catLoc := env.ingestText(t, "cat", catText)
	env.chat.reply = func(_ int, prompt string) (string, error) {
		if strings.Contains(prompt, "Standalone question:") {
			return " When does the cat sleep? ", nil
		}
		return "All day.", nil
	}

	history := []model.ConversationTurn{{Message: "Do you know my cat?", Response: "Yes."}, {Message: "dangling"}}
	ans, err := env.engine(DefaultEngineConfig()).Answer(context.Background(), []string{catLoc}, "and the cat?", history)
	require.NoError(t, err)
	assert.Equal(t, "All day.", ans.Text)

	prompts := env.chat.calls()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "Human: Do you know my cat?\nAssistant: Yes.")
	assert.Contains(t, prompts[0], "Follow Up Input: and the cat?")
	assert.Contains(t, prompts[1], "Chat History: Human: Do you know my cat?\nAssistant: Yes.\n")
	assert.Contains(t, prompts[1], "Current Question: When does the cat sleep?")
	assert.NotContains(t, prompts[1], "dangling")
	assert.Equal(t, uint64(1), env.metrics.Snapshot()["condensed_queries"])
}

func TestEngine_CondenseOncePerAttempt(t *testing.T) {
	env := newTestEnv(t)
	a := env.ingestText(t, "a", "A cat on a boat.")
	b := env.ingestText(t, "b", "A cat in a hat.")
	env.chat.reply = func(_ int, prompt string) (string, error) {
		if strings.Contains(prompt, "Standalone question:") {
			return "Which cat?", nil
		}
		return "x", nil
	}

	history := []model.ConversationTurn{{Message: "m", Response: "r"}}
	_, err := env.engine(DefaultEngineConfig()).Answer(context.Background(), []string{a, b}, "the cat?", history)
	require.NoError(t, err)

	condense := 0
	for _, p := range env.chat.calls() {
		if strings.Contains(p, "Standalone question:") {
			condense++
		}
	}
	assert.Equal(t, 1, condense)
	assert.Len(t, env.chat.calls(), 3)
}

func TestEngine_CondenseDisabled(t *testing.T) {
	env := newTestEnv(t)
	catLoc := env.ingestText(t, "cat", catText)

	cfg := DefaultEngineConfig()
	cfg.CondenseQuestion = false
	history := []model.ConversationTurn{{Message: "m", Response: "r"}}
	_, err := env.engine(cfg).Answer(context.Background(), []string{catLoc}, "the cat?", history)
	require.NoError(t, err)

	prompts := env.chat.calls()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Current Question: the cat?")
}

func TestEngine_EmbeddingModelMismatchWarnsButAnswers(t *testing.T) {
	env := newTestEnv(t)
	catLoc := env.ingestText(t, "cat", catText)
	env.embedder.model = "fake-embed-v2"
	env.chat.reply = func(int, string) (string, error) { return "It sleeps.", nil }

	ans, err := env.engine(DefaultEngineConfig()).Answer(context.Background(), []string{catLoc}, "cat?", nil)
	require.NoError(t, err)

	assert.True(t, ans.Grounded)
	assert.Equal(t, uint64(1), env.metrics.ModelMismatches())
}

func TestEngine_ExhaustionCoolsDownAndRetries(t *testing.T) {
	env := newTestEnv(t)
	catLoc := env.ingestText(t, "cat", catText)
	env.chat.reply = func(call int, _ string) (string, error) {
		if call == 1 {
			return "", errs.ErrProviderExhausted
		}
		return "It sleeps.", nil
	}

	cfg := DefaultEngineConfig()
	ans, err := env.engine(cfg).Answer(context.Background(), []string{catLoc}, "cat?", nil)
	require.NoError(t, err)

	assert.Equal(t, "It sleeps.", ans.Text)
	assert.Equal(t, 1, env.sleeps.count(cfg.Cooldown))
	assert.Equal(t, uint64(1), env.metrics.Cooldowns())
	assert.Len(t, env.chat.calls(), 2)
}

func TestEngine_ExhaustionSurfacesAfterThreeAttempts(t *testing.T) {
	env := newTestEnv(t)
	catLoc := env.ingestText(t, "cat", catText)
	env.chat.reply = func(int, string) (string, error) { return "", errs.ErrProviderExhausted }

	cfg := DefaultEngineConfig()
	ans, err := env.engine(cfg).Answer(context.Background(), []string{catLoc}, "cat?", nil)

	assert.Nil(t, ans)
	require.Error(t, err)
	assert.True(t, errs.IsResourceExhausted(err))
	assert.Len(t, env.chat.calls(), 3)
	// 每次尝试一次冷却，尝试之间另有退避等待
	assert.Equal(t, 3, env.sleeps.count(cfg.Cooldown))
	assert.Equal(t, []time.Duration{
		30 * time.Second, 4 * time.Second,
		30 * time.Second, 4 * time.Second,
		30 * time.Second,
	}, env.sleeps.all())
}

func TestEngine_FallbackExhaustionIsRetried(t *testing.T) {
	env := newTestEnv(t)
	env.chat.reply = func(int, string) (string, error) { return "", errs.ErrProviderExhausted }

	_, err := env.engine(DefaultEngineConfig()).Answer(context.Background(), nil, "q", nil)

	assert.True(t, errs.IsResourceExhausted(err))
	assert.Len(t, env.chat.calls(), 3)
}

func TestEngine_EmbeddingExhaustionIsRetried(t *testing.T) {
	env := newTestEnv(t)
	catLoc := env.ingestText(t, "cat", catText)
	env.embedder.err = func(int) error { return errs.ErrProviderExhausted }

	_, err := env.engine(DefaultEngineConfig()).Answer(context.Background(), []string{catLoc}, "cat?", nil)

	assert.True(t, errs.IsResourceExhausted(err))
	assert.Equal(t, uint64(3), env.metrics.Cooldowns())
}

func TestEngine_OtherFailuresAreAbsent(t *testing.T) {
	env := newTestEnv(t)
	catLoc := env.ingestText(t, "cat", catText)
	env.chat.reply = func(int, string) (string, error) { return "", errors.New("bad gateway") }

	ans, err := env.engine(DefaultEngineConfig()).Answer(context.Background(), []string{catLoc}, "cat?", nil)

	assert.NoError(t, err)
	assert.Nil(t, ans)
	assert.Len(t, env.chat.calls(), 1)
	assert.Empty(t, env.sleeps.all())
	assert.Equal(t, uint64(1), env.metrics.Snapshot()["answers_absent"])
}

func TestEngine_FallbackProviderFailureReturnsApology(t *testing.T) {
	env := newTestEnv(t)
	env.chat.reply = func(int, string) (string, error) { return "", errors.New("bad gateway") }

	ans, err := env.engine(DefaultEngineConfig()).Answer(context.Background(), nil, "q", nil)

	require.NoError(t, err)
	require.NotNil(t, ans)
	assert.False(t, ans.Grounded)
	assert.Equal(t, GenerateProvider, ans.Kind)
	assert.Equal(t, ErrorReplyMessage, ans.Text)
	assert.Len(t, env.chat.calls(), 1)
	assert.Equal(t, uint64(1), env.metrics.Snapshot()["answers_absent"])
}

func TestEngine_CorruptIndexIsAbsent(t *testing.T) {
	env := newTestEnv(t)
	catLoc := env.ingestText(t, "cat", catText)
	require.NoError(t, os.WriteFile(filepath.Join(catLoc, "index.json"), []byte("{broken"), 0o644))

	ans, err := env.engine(DefaultEngineConfig()).Answer(context.Background(), []string{catLoc}, "cat?", nil)

	assert.NoError(t, err)
	assert.Nil(t, ans)
	assert.Empty(t, env.chat.calls())
}

func TestEngine_CanceledDuringCooldown(t *testing.T) {
	env := newTestEnv(t)
	catLoc := env.ingestText(t, "cat", catText)
	env.chat.reply = func(int, string) (string, error) { return "", errs.ErrProviderExhausted }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ans, err := env.engine(DefaultEngineConfig()).Answer(ctx, []string{catLoc}, "cat?", nil)

	assert.Nil(t, ans)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, env.chat.calls(), 1)
}
