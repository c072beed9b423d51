// Package ai wraps the hosted text-generation capability behind a small
// interface and adds quota-aware retry on top of it.
package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/nebulaai/nebula/backend/internal/config"
)

// Generator produces text from a fully assembled prompt. Implementations
// surface quota exhaustion through the error text (HTTP 429 semantics or
// the words "quota"/"rate").
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ArkGenerator sends prompts to an Ark-hosted chat model.
type ArkGenerator struct {
	chatModel model.ChatModel
}

// NewArkGenerator builds the generator from the AI configuration.
func NewArkGenerator(ctx context.Context, cfg config.AIConfig) (*ArkGenerator, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return &ArkGenerator{chatModel: chatModel}, nil
}

// Generate invokes the model with the prompt as a single user message.
// The prompt already carries the instructional preamble and conversation
// context, so no separate system message is supplied.
func (g *ArkGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	response, err := g.chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", fmt.Errorf("model invocation failed: %w", err)
	}

	log.Printf("[ai] generated response, length=%d", len(response.Content))
	return response.Content, nil
}
