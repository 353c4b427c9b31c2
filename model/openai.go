package model

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
)

// OpenAIGenerator streams from any OpenAI-compatible chat endpoint, Ollama's
// /v1 included. Keep-alive has no equivalent there.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(baseURL, apiKey, model string) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (g *OpenAIGenerator) Stream(ctx context.Context, prompt string, onChunk func(string) error) error {
	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive stream: %w", err)
		}
		if len(response.Choices) == 0 || response.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onChunk(response.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
}

func (g *OpenAIGenerator) WarmUp(ctx context.Context) error {
	if err := g.Stream(ctx, warmUpPrompt, func(string) error { return nil }); err != nil {
		return fmt.Errorf("warm up %s: %w", g.model, err)
	}
	return nil
}
