package providers

import (
	"testing"

	"github.com/smallbiznis/shopassist/internal/config"
	"github.com/smallbiznis/shopassist/internal/embedding/openai"
	"github.com/smallbiznis/shopassist/internal/embedding/tfidf"
	"github.com/smallbiznis/shopassist/internal/llm"
	"github.com/smallbiznis/shopassist/internal/llm/keyword"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewEmbeddingProvider(t *testing.T) {
	p, err := NewEmbeddingProvider(config.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, tfidf.Provider{}, p)

	p, err = NewEmbeddingProvider(config.Config{Embed: config.EmbedConfig{
		Provider: config.ProviderOpenAI,
		BaseURL:  "http://localhost:11434/v1",
		Model:    "nomic-embed-text",
	}}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &openai.Client{}, p)

	_, err = NewEmbeddingProvider(config.Config{Embed: config.EmbedConfig{Provider: "word2vec"}}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewLLMClient(t *testing.T) {
	c, err := NewLLMClient(config.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &keyword.Client{}, c)

	_, err = NewLLMClient(config.Config{LLM: config.LLMConfig{
		Provider: config.ProviderOpenAI,
		BaseURL:  "https://api.openai.com/v1",
	}}, zap.NewNop())
	assert.Error(t, err)

	c, err = NewLLMClient(config.Config{LLM: config.LLMConfig{
		Provider: config.ProviderOpenAI,
		BaseURL:  "http://localhost:11434/v1",
		Model:    "llama3",
	}}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &llm.OpenAIClient{}, c)
}
