package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"medirag/docstore"
	"medirag/model"
	"medirag/store"
	"medirag/types"

	"golang.org/x/sync/errgroup"
)

type Service struct {
	logger   *slog.Logger
	docs     *docstore.Store
	extra    []string
	embedder model.EmbedderInterface
	writer   store.IndexWriter
	workers  int
}

// New builds an index loader. extra lists document files outside the
// store directory that must be indexed too, such as the product document.
func New(docs *docstore.Store, extra []string, embedder model.EmbedderInterface, writer store.IndexWriter, workers int) *Service {
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		logger:   slog.Default(),
		docs:     docs,
		extra:    extra,
		embedder: embedder,
		writer:   writer,
		workers:  workers,
	}
}

// Run embeds every document and replaces the index content with the
// result. Nothing is written unless every document was embedded.
func (s *Service) Run(ctx context.Context) (int, error) {
	start := time.Now()

	documents, err := s.collect(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("[LOADER] documents found", "count", len(documents), "workers", s.workers)

	entries := make([]types.IndexEntry, len(documents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, doc := range documents {
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, doc.Content)
			if err != nil {
				return fmt.Errorf("embed %s: %w", doc.SourcePath, err)
			}
			entries[i] = types.IndexEntry{
				DocID:      doc.ID,
				Name:       doc.Name,
				Content:    doc.Content,
				SourcePath: doc.SourcePath,
				Attributes: doc.Attributes,
				Embedding:  vec,
			}
			s.logger.Debug("[LOADER] document embedded", "name", doc.Name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := s.writer.Rebuild(ctx, entries); err != nil {
		return 0, fmt.Errorf("rebuild index: %w", err)
	}
	s.logger.Info("[LOADER] index rebuilt", "entries", len(entries), "took", time.Since(start).String())
	return len(entries), nil
}

// collect lists the store and the extra files, dropping documents whose
// name maps to an id already seen.
func (s *Service) collect(ctx context.Context) ([]types.Document, error) {
	documents, err := s.docs.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, path := range s.extra {
		doc, err := docstore.Load(path)
		if err != nil {
			return nil, err
		}
		documents = append(documents, doc)
	}

	seen := make(map[string]struct{}, len(documents))
	unique := documents[:0]
	for _, doc := range documents {
		key := doc.ID.String()
		if _, ok := seen[key]; ok {
			s.logger.Warn("[LOADER] duplicate document skipped", "name", doc.Name, "path", doc.SourcePath)
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, doc)
	}
	return unique, nil
}
