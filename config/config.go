// Package config reads the process configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendFile     = "file"

	GeneratorOllama = "ollama"
	GeneratorOpenAI = "openai"
)

type PGConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// ConnString builds the libpq style DSN used by pgxpool.
func (p PGConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		p.Host, p.Port, p.User, p.Password, p.DBName)
}

type Config struct {
	ServerAddr string

	DocsDir     string
	FallbackDoc string
	AppKeywords []string

	IndexBackend string
	IndexPath    string
	EmbeddingDim int
	PG           PGConfig

	GenerationBackend string
	OllamaURL         string
	LLMModel          string
	EmbeddingModel    string
	OpenAIBaseURL     string
	OpenAIKey         string
	KeepAlive         string

	TopK              int
	MaxTopK           int
	FirstChunkTimeout time.Duration
	PollInterval      time.Duration
	DefaultLang       string

	LoaderWorkers int
}

// LoadEnvFile loads variables from the given .env files. Unlike a plain
// godotenv.Load a missing file is not an error: in containers the
// environment is usually injected directly.
func LoadEnvFile(paths ...string) error {
	err := godotenv.Load(paths...)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func Load() Config {
	cfg := Config{
		ServerAddr:  getEnv("SERVER_ADDR", ":8000"),
		DocsDir:     getEnv("DOCS_DIR", "./docs"),
		FallbackDoc: getEnv("FALLBACK_DOC", "./docs/meditime.md"),
		AppKeywords: getList("APP_KEYWORDS", []string{"app", "meditime"}),

		IndexBackend: strings.ToLower(getEnv("INDEX_BACKEND", BackendPostgres)),
		IndexPath:    getEnv("INDEX_PATH", "./storage/index.json"),
		EmbeddingDim: getInt("EMBEDDING_DIM", 768),
		PG: PGConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getInt("PG_PORT", 5432),
			User:     getEnv("PG_USER", "postgres"),
			Password: getEnv("PG_PASS", ""),
			DBName:   getEnv("PG_DB_NAME", "medirag"),
		},

		GenerationBackend: strings.ToLower(getEnv("GENERATION_BACKEND", GeneratorOllama)),
		OllamaURL:         strings.TrimRight(getEnv("OLLAMA_URL", "http://localhost:11434"), "/"),
		LLMModel:          getEnv("LLM_MODEL", "llama3"),
		EmbeddingModel:    getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "http://localhost:11434/v1"),
		OpenAIKey:         getEnv("OPENAI_API_KEY", "ollama"),
		KeepAlive:         getEnv("KEEP_ALIVE", "30m"),

		TopK:              getInt("RETRIEVAL_TOP_K", 2),
		MaxTopK:           getInt("RETRIEVAL_MAX_K", 20),
		FirstChunkTimeout: getDuration("FIRST_CHUNK_TIMEOUT", 60*time.Second),
		PollInterval:      getDuration("DISCONNECT_POLL_INTERVAL", time.Second),
		DefaultLang:       getEnv("DEFAULT_LANG", "es"),

		LoaderWorkers: getInt("LOADER_WORKERS", 4),
	}
	if cfg.MaxTopK < cfg.TopK {
		cfg.MaxTopK = cfg.TopK
	}
	return cfg
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	switch c.IndexBackend {
	case BackendPostgres, BackendFile:
	default:
		return fmt.Errorf("unknown INDEX_BACKEND %q", c.IndexBackend)
	}
	switch c.GenerationBackend {
	case GeneratorOllama, GeneratorOpenAI:
	default:
		return fmt.Errorf("unknown GENERATION_BACKEND %q", c.GenerationBackend)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", c.TopK)
	}
	if c.FirstChunkTimeout <= 0 || c.PollInterval <= 0 {
		return errors.New("FIRST_CHUNK_TIMEOUT and DISCONNECT_POLL_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getInt(key string, def int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return d
}

func getList(key string, def []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
