package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"medirag/config"
	"medirag/docstore"
	"medirag/loader/service"
	"medirag/model"
	"medirag/store"
)

var cfg config.Config

func init() {
	mustLoadConfig()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, err := docstore.New(cfg.DocsDir)
	if err != nil {
		log.Fatal("error to open document store: ", err)
	}

	writer, closeWriter := mustOpenWriter(ctx)
	defer closeWriter()

	embedder := model.NewEmbedder(cfg.OllamaURL, cfg.EmbeddingModel)
	n, err := service.New(docs, extraDocuments(), embedder, writer, cfg.LoaderWorkers).Run(ctx)
	if err != nil {
		log.Printf("error to rebuild index: %v\n", err)
		closeWriter()
		os.Exit(1)
	}
	log.Printf("Index rebuilt with %d documents\n", n)
}

func mustOpenWriter(ctx context.Context) (store.IndexWriter, func()) {
	if cfg.IndexBackend == config.BackendFile {
		return store.SnapshotWriter{Path: cfg.IndexPath}, func() {}
	}

	pool, err := store.NewPostgresStore(ctx, cfg.PG.ConnString(), cfg.EmbeddingDim)
	if err != nil {
		log.Fatal("error to connect to Postgres database: ", err)
	}
	if err := pool.Init(ctx); err != nil {
		pool.Close()
		log.Fatal("error to create tables: ", err)
	}

	closed := false
	return pool, func() {
		if closed {
			return
		}
		closed = true
		log.Println("Closing database connection pool...")
		if err := pool.Close(); err != nil {
			log.Printf("error closing pool: %v\n", err)
		}
	}
}

// extraDocuments returns the fallback document when it lives outside the
// document directory, so it is indexed like any other document.
func extraDocuments() []string {
	fallback, err := filepath.Abs(cfg.FallbackDoc)
	if err != nil {
		return nil
	}
	dir, err := filepath.Abs(cfg.DocsDir)
	if err != nil {
		return nil
	}
	if strings.EqualFold(filepath.Dir(fallback), dir) {
		return nil
	}
	if _, err := os.Stat(fallback); err != nil {
		log.Printf("fallback document %s not found, skipping\n", fallback)
		return nil
	}
	return []string{fallback}
}

func mustLoadConfig() {
	if err := config.LoadEnvFile(); err != nil {
		log.Fatal("Error loading .env file: ", err)
	}
	cfg = config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration: ", err)
	}
}
