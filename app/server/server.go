package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"medirag/app/agent"
	"medirag/app/api"
	"medirag/app/middleware"
	"medirag/app/retrieval"
	"medirag/app/stream"
	"medirag/config"
	"medirag/docstore"
	"medirag/model"
	"medirag/store"
	"medirag/types"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const (
	warmUpTimeout   = 2 * time.Minute
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	// ctx ends in-flight streams when the server stops.
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu    sync.Mutex
	app   *fiber.App
	index store.VectorIndex
}

func NewServer(cfg config.Config) *Server {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Server{
		cfg:    cfg,
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Server) Stop() {
	s.cancel(types.ErrServerStopping)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.app != nil {
		if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			s.logger.Error("error to shut down http server", "error", err)
		}
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			s.logger.Error("error to close vector index", "error", err)
		}
	}
	s.logger.Info("server stopped")
}

// Run loads everything the handlers need, in order, and then serves HTTP
// until Stop is called.
func (s *Server) Run() error {
	ctx := s.ctx

	docs, err := docstore.New(s.cfg.DocsDir)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	files, err := docs.List(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	s.logger.Info("document store ready", "dir", docs.Dir(), "documents", len(files))

	assembler, err := agent.NewAssembler(s.cfg.FallbackDoc, s.cfg.AppKeywords, &agent.TiktokenCounter{})
	if err != nil {
		return err
	}

	index, err := OpenIndex(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	s.mu.Lock()
	s.index = index
	s.mu.Unlock()

	if n, err := index.Count(ctx); err != nil {
		s.logger.Warn("error to count index entries", "error", err)
	} else {
		s.logger.Info("vector index ready", "backend", s.cfg.IndexBackend, "entries", n)
	}

	generator := NewGenerator(s.cfg)
	s.warmUp(ctx, generator)

	var (
		embedder  = model.NewEmbedder(s.cfg.OllamaURL, s.cfg.EmbeddingModel)
		retriever = retrieval.NewService(embedder, index, s.cfg.TopK, s.cfg.MaxTopK)
		relay     = stream.NewRelay(generator, stream.Config{
			FirstChunkTimeout: s.cfg.FirstChunkTimeout,
			PollInterval:      s.cfg.PollInterval,
		})
		contextHandler = api.NewContextHandler(s.ctx, retriever, assembler, relay, s.cfg.DefaultLang)
		checkHandler   = api.NewCheckHandler()
		app            = fiber.New(fiber.Config{ErrorHandler: api.ErrorHandler})
	)

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{AllowOrigins: "*"}))
	app.Use(middleware.RequestID())

	app.Get("/", checkHandler.HandleRoot)
	app.Get("/health", checkHandler.HandleHealthy)
	app.Post("/test", checkHandler.HandleEcho)
	app.Post("/context", contextHandler.HandleContext)

	s.mu.Lock()
	s.app = app
	s.mu.Unlock()

	return app.Listen(s.cfg.ServerAddr)
}

// warmUp loads the model before traffic arrives. A failure only costs the
// first request some latency, so it is logged and ignored.
func (s *Server) warmUp(ctx context.Context, generator model.Generator) {
	ctx, cancel := context.WithTimeout(ctx, warmUpTimeout)
	defer cancel()

	if pinger, ok := generator.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(ctx); err != nil {
			s.logger.Warn("model server is not reachable", "url", s.cfg.OllamaURL, "error", err)
			return
		}
	}
	s.logger.Info("warming up model", "model", s.cfg.LLMModel)
	if err := generator.WarmUp(ctx); err != nil {
		s.logger.Warn("model warm up failed", "error", err)
	}
}

// OpenIndex opens the configured index backend for reading.
func OpenIndex(ctx context.Context, cfg config.Config) (store.VectorIndex, error) {
	switch cfg.IndexBackend {
	case config.BackendFile:
		idx, err := store.OpenSnapshot(cfg.IndexPath)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		pg, err := store.NewPostgresStore(ctx, cfg.PG.ConnString(), cfg.EmbeddingDim)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
}

func NewGenerator(cfg config.Config) model.Generator {
	switch cfg.GenerationBackend {
	case config.GeneratorOpenAI:
		return model.NewOpenAIGenerator(cfg.OpenAIBaseURL, cfg.OpenAIKey, cfg.LLMModel)
	default:
		return model.NewOllamaGenerator(cfg.OllamaURL, cfg.LLMModel, cfg.KeepAlive)
	}
}
