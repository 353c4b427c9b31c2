package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type OllamaGenerator struct {
	baseURL   string
	model     string
	keepAlive string
	client    *http.Client
	logger    *slog.Logger
}

type GenerateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	Stream    bool   `json:"stream"`
	KeepAlive string `json:"keep_alive,omitempty"`
}

type GenerateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewOllamaGenerator builds a streaming client for /api/generate. The
// client has no overall timeout: a stream may legitimately run for minutes
// and is bounded by the caller's context instead.
func NewOllamaGenerator(baseURL, model, keepAlive string) *OllamaGenerator {
	return &OllamaGenerator{
		baseURL:   baseURL,
		model:     model,
		keepAlive: keepAlive,
		client:    &http.Client{},
		logger:    slog.Default(),
	}
}

func (g *OllamaGenerator) Stream(ctx context.Context, prompt string, onChunk func(string) error) error {
	reqBody, err := json.Marshal(GenerateRequest{
		Model:     g.model,
		Prompt:    prompt,
		Stream:    true,
		KeepAlive: g.keepAlive,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(body))
	}

	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk GenerateChunk
		if err := decoder.Decode(&chunk); err == io.EOF {
			return errors.New("ollama stream ended without done flag")
		} else if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}

		if chunk.Error != "" {
			return fmt.Errorf("ollama: %s", chunk.Error)
		}
		if chunk.Response != "" {
			if err := onChunk(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
}

// WarmUp issues a dummy generation so the model is loaded, and kept loaded
// through keep_alive, before the first real request.
func (g *OllamaGenerator) WarmUp(ctx context.Context) error {
	start := time.Now()
	err := g.Stream(ctx, warmUpPrompt, func(string) error { return nil })
	if err != nil {
		return fmt.Errorf("warm up %s: %w", g.model, err)
	}
	g.logger.Info("model warmed up", "model", g.model, "took", time.Since(start).String())
	return nil
}

// Ping checks that the Ollama server answers.
func (g *OllamaGenerator) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama unavailable, status %d", resp.StatusCode)
	}
	return nil
}
