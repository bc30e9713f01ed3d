package service

import (
	"context"
	"errors"
	"testing"

	"docvault-go/internal/config"
	"docvault-go/internal/model"
	"docvault-go/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAskService(t *testing.T, chunks *stubChunks, llmClient *stubLLM, cfg config.LLMConfig) AskService {
	t.Helper()
	retrieval := NewRetrievalService(&axisEmbedder{}, chunks, nil, config.RetrievalConfig{TopK: 3})
	history := repository.NewAskHistoryRepository(newTestRedis(t))
	return NewAskService(retrieval, llmClient, history, cfg)
}

func TestAskBuildsPromptFromRetrievedChunks(t *testing.T) {
	ctx := context.Background()
	chunks := &stubChunks{nearest: []model.RetrievedChunk{retrieved("alpha"), retrieved("beta"), retrieved("alpha")}}
	llmClient := &stubLLM{answer: "  Revenue grew.  "}
	svc := newAskService(t, chunks, llmClient, config.LLMConfig{})

	res, err := svc.Ask(ctx, 1, "  How did revenue change?  ")
	require.NoError(t, err)
	assert.Equal(t, "Revenue grew.", res.Answer)
	assert.False(t, res.Insufficient)
	assert.Len(t, res.Sources, 3)

	require.Len(t, llmClient.prompts, 1)
	prompt := llmClient.prompts[0]
	assert.Contains(t, prompt, "Based on the following context")
	assert.Contains(t, prompt, "[1] (alpha.txt) alpha\n[2] (beta.txt) beta\n")
	assert.Contains(t, prompt, "\nQuestion: How did revenue change?\nAnswer:")

	history, err := svc.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "How did revenue change?", history[0].Question)
	assert.Equal(t, []string{"alpha.txt", "beta.txt"}, history[0].Sources)
}

func TestAskWithoutContextSkipsModel(t *testing.T) {
	llmClient := &stubLLM{answer: "should not be used"}
	svc := newAskService(t, &stubChunks{}, llmClient, config.LLMConfig{})

	res, err := svc.Ask(context.Background(), 1, "anything?")
	require.NoError(t, err)
	assert.True(t, res.Insufficient)
	assert.Equal(t, defaultNoResultText, res.Answer)
	assert.Empty(t, res.Sources)
	assert.Empty(t, llmClient.prompts)
}

func TestAskUsesConfiguredPrompt(t *testing.T) {
	cfg := config.LLMConfig{Prompt: config.LLMPromptConfig{Rules: "Answer in Spanish.", NoResultText: "Sin información."}}

	llmClient := &stubLLM{answer: "ok"}
	svc := newAskService(t, &stubChunks{nearest: []model.RetrievedChunk{retrieved("a")}}, llmClient, cfg)
	_, err := svc.Ask(context.Background(), 1, "q")
	require.NoError(t, err)
	assert.Contains(t, llmClient.prompts[0], "Answer in Spanish.\n\nContext:\n")

	empty := newAskService(t, &stubChunks{}, &stubLLM{}, cfg)
	res, err := empty.Ask(context.Background(), 1, "q")
	require.NoError(t, err)
	assert.Equal(t, "Sin información.", res.Answer)
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	svc := newAskService(t, &stubChunks{}, &stubLLM{}, config.LLMConfig{})
	_, err := svc.Ask(context.Background(), 1, "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestAskModelFailure(t *testing.T) {
	ctx := context.Background()
	svc := newAskService(t, &stubChunks{nearest: []model.RetrievedChunk{retrieved("a")}}, &stubLLM{err: errors.New("timeout")}, config.LLMConfig{})

	_, err := svc.Ask(ctx, 1, "q")
	require.Error(t, err)
	history, err := svc.History(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, history)
}
