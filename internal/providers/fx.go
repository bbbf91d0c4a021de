// Package providers selects the external oracles the assistant talks to:
// the embedding provider used by the product index and the language model
// used for intent classification.
package providers

import (
	"fmt"

	"github.com/smallbiznis/shopassist/internal/config"
	"github.com/smallbiznis/shopassist/internal/embedding"
	"github.com/smallbiznis/shopassist/internal/embedding/openai"
	"github.com/smallbiznis/shopassist/internal/embedding/tfidf"
	"github.com/smallbiznis/shopassist/internal/llm"
	"github.com/smallbiznis/shopassist/internal/llm/keyword"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers",
	fx.Provide(NewEmbeddingProvider),
	fx.Provide(NewLLMClient),
	fx.Provide(NewSamplingOptions),
)

func NewEmbeddingProvider(cfg config.Config, log *zap.Logger) (embedding.Provider, error) {
	switch cfg.Embed.Provider {
	case "", config.ProviderTFIDF:
		log.Info("embedding provider selected", zap.String("provider", config.ProviderTFIDF))
		return tfidf.NewProvider(), nil
	case config.ProviderOpenAI:
		client, err := openai.NewClient(openai.Config{
			BaseURL:    cfg.Embed.BaseURL,
			APIKey:     cfg.Embed.APIKey,
			Model:      cfg.Embed.Model,
			MaxRetries: 2,
		})
		if err != nil {
			return nil, err
		}
		log.Info("embedding provider selected",
			zap.String("provider", config.ProviderOpenAI),
			zap.String("model", cfg.Embed.Model),
		)
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embed.Provider)
	}
}

func NewLLMClient(cfg config.Config, log *zap.Logger) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", config.ProviderKeyword:
		log.Info("intent oracle selected", zap.String("provider", config.ProviderKeyword))
		return keyword.New(), nil
	case config.ProviderOpenAI:
		if cfg.LLM.APIKey == "" && cfg.LLM.BaseURL == "https://api.openai.com/v1" {
			return nil, fmt.Errorf("llm provider %q requires an api key", cfg.LLM.Provider)
		}
		log.Info("intent oracle selected",
			zap.String("provider", config.ProviderOpenAI),
			zap.String("model", cfg.LLM.Model),
		)
		return llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func NewSamplingOptions(cfg config.Config) llm.SamplingOptions {
	return llm.SamplingOptions{Temperature: cfg.LLM.Temperature}
}
