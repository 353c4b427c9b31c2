package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"medirag/model"
	"medirag/store"
	"medirag/types"
)

type Service struct {
	embedder model.EmbedderInterface
	index    store.VectorIndex
	defaultK int
	maxK     int
	logger   *slog.Logger
}

func NewService(embedder model.EmbedderInterface, index store.VectorIndex, defaultK, maxK int) *Service {
	if defaultK <= 0 {
		defaultK = 2
	}
	if maxK < defaultK {
		maxK = defaultK
	}
	return &Service{
		embedder: embedder,
		index:    index,
		defaultK: defaultK,
		maxK:     maxK,
		logger:   slog.Default(),
	}
}

// EffectiveK resolves the requested breadth against the configured bounds.
func (s *Service) EffectiveK(k int) int {
	if k <= 0 {
		return s.defaultK
	}
	return min(k, s.maxK)
}

// Retrieve returns at most k documents ranked by similarity to prompt.
func (s *Service) Retrieve(ctx context.Context, prompt string, k int) ([]types.ScoredDocument, error) {
	if prompt == "" {
		return nil, errors.New("empty prompt")
	}
	k = s.EffectiveK(k)
	start := time.Now()

	vec, err := s.embedder.Embed(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: embed prompt: %w", types.ErrRetrievalUnavailable, err)
	}

	docs, err := s.index.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("%w: search index: %w", types.ErrRetrievalUnavailable, err)
	}

	store.SortByScore(docs)
	if len(docs) > k {
		docs = docs[:k]
	}

	s.logger.Info("[RETRIEVAL] documents found", "k", k, "count", len(docs), "took", time.Since(start).String())
	return docs, nil
}
