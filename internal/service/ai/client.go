package ai

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	historyModel "github.com/fengnong/fengnong-agent/backend/internal/model/history"
)

// Client wraps the hosted chat-completion and embedding services.
type Client struct {
	chain    compose.Runnable[map[string]any, *schema.Message]
	embedder embeddings.Embedder
}

// NewClient compiles the prompt chain around chatModel. embedder may be nil
// when no embedding endpoint is configured; Embed then fails.
func NewClient(ctx context.Context, chatModel model.BaseChatModel, embedder embeddings.Embedder) (*Client, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile chat chain")
	}

	return &Client{chain: runnable, embedder: embedder}, nil
}

// Complete runs a single-shot completion.
func (c *Client) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	response, err := c.chain.Invoke(ctx, buildChainInput(systemPrompt, nil, userMessage))
	if err != nil {
		return "", upstreamError("complete", err)
	}

	log.Debug().Int("length", len(response.Content)).Msg("generated completion")
	return response.Content, nil
}

// StreamComplete issues a streaming request seeded with priorTurns. Each call
// opens a new upstream request.
func (c *Client) StreamComplete(ctx context.Context, systemPrompt, userMessage string, priorTurns []historyModel.Turn) (FragmentStream, error) {
	reader, err := c.chain.Stream(ctx, buildChainInput(systemPrompt, priorTurns, userMessage))
	if err != nil {
		return nil, upstreamError("stream", err)
	}
	return newMessageStream(reader), nil
}

// Embed converts text to a vector. Empty text is passed through to the
// provider unchanged.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embedder == nil {
		return nil, upstreamError("embed", errors.New("embedding model not configured"))
	}

	vectors, err := c.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, upstreamError("embed", err)
	}
	if len(vectors) == 0 {
		return nil, upstreamError("embed", errors.New("provider returned no embedding"))
	}
	return vectors[0], nil
}

func buildChainInput(systemPrompt string, priorTurns []historyModel.Turn, userMessage string) map[string]any {
	return map[string]any{
		"system":  systemPrompt,
		"history": buildHistoryMessages(priorTurns),
		"query":   userMessage,
	}
}

// buildHistoryMessages maps stored turns role-for-role onto model context.
func buildHistoryMessages(turns []historyModel.Turn) []*schema.Message {
	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case historyModel.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case historyModel.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}
