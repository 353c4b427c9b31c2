package model

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// EmbedderInterface определяет интерфейс для создания эмбеддингов
type EmbedderInterface interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator streams a completion for a prompt. Stream blocks until the
// model signals end of stream, onChunk fails or ctx is cancelled.
type Generator interface {
	Stream(ctx context.Context, prompt string, onChunk func(chunk string) error) error
	WarmUp(ctx context.Context) error
}

var (
	_ EmbedderInterface = (*OllamaEmbedder)(nil)
	_ Generator         = (*OllamaGenerator)(nil)
	_ Generator         = (*OpenAIGenerator)(nil)
)

// warmUpPrompt is the dummy request that forces the model into memory.
const warmUpPrompt = "Hola"

// NewEmbedder создает Ollama embedder
func NewEmbedder(baseURL, model string) *OllamaEmbedder {
	slog.Info("[EMBEDDER] uses local Ollama for embeddings", "model", model, "url", baseURL)
	return NewOllamaEmbedder(baseURL, model, &http.Client{Timeout: 30 * time.Second})
}
