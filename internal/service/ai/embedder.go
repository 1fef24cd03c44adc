package ai

import (
	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// EmbedderConfig points at an OpenAI-compatible embeddings endpoint.
type EmbedderConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// NewEmbedder builds a langchaingo embedder for cfg.
func NewEmbedder(cfg EmbedderConfig) (embeddings.Embedder, error) {
	token := cfg.APIKey
	if token == "" {
		// local OpenAI-compatible servers accept any token
		token = "none"
	}

	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create embedding client")
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create embedder")
	}
	return embedder, nil
}
