// Package config loads runtime configuration from environment variables.
package config

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

const (
	ProviderAIHub  = "aihub"
	ProviderOpenAI = "openai"
)

type EmbeddingConfig struct {
	Provider  string
	Model     string
	Dimension int

	// BatchSize is the number of texts embedded per sequential batch.
	BatchSize int
	// MaxWorkers bounds concurrent embedding calls within a batch.
	// Zero selects the I/O-bound heuristic (see OptimalWorkers).
	MaxWorkers int
	// MaxRetries is the per-text retry budget before the zero-vector fallback.
	MaxRetries int
}

type VisionConfig struct {
	Model string
	// MaxWorkers bounds concurrent image-description calls.
	MaxWorkers int
}

type LLMConfig struct {
	Provider string
	Model    string
}

type IngestionConfig struct {
	ChunkSize    int
	ChunkOverlap int
	// MaxWorkers bounds concurrent file loading and parallel splitting.
	// Zero selects the mixed-workload heuristic.
	MaxWorkers int
	// DataDir is the root under which per-session staging directories live.
	DataDir string
}

type Config struct {
	PostgresDSN string
	Neo4jURI    string
	Neo4jUser   string
	Neo4jPass   string

	AIHubHost   string
	AIHubAPIKey string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	Embeddings EmbeddingConfig
	Vision     VisionConfig
	LLM        LLMConfig
	Ingestion  IngestionConfig

	RequestTimeout time.Duration
	ListenAddr     string
}

func Load() Config {
	return Config{
		PostgresDSN: postgresDSN(),
		Neo4jURI:    getEnv("NEO4J_URI", ""),
		Neo4jUser:   getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPass:   getEnv("NEO4J_PASSWORD", "password"),

		AIHubHost:   getEnv("AIHUB_HOST", "https://aihub-vvitu.social/api/ollama-api"),
		AIHubAPIKey: getEnv("AIHUB_API_KEY", ""),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		Embeddings: EmbeddingConfig{
			Provider:   getEnv("EMBEDDINGS_PROVIDER", ProviderAIHub),
			Model:      getEnv("EMBEDDINGS_MODEL", "qwen3-embedding:8b"),
			Dimension:  getEnvInt("EMBEDDINGS_DIMENSION", 1024),
			BatchSize:  getEnvInt("EMBEDDINGS_BATCH_SIZE", 20),
			MaxWorkers: getEnvInt("EMBEDDINGS_MAX_WORKERS", 0),
			MaxRetries: getEnvInt("EMBEDDINGS_MAX_RETRIES", 3),
		},
		Vision: VisionConfig{
			Model:      getEnv("VISION_MODEL", "moondream:latest"),
			MaxWorkers: getEnvInt("VISION_MAX_WORKERS", 4),
		},
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", ProviderAIHub),
			Model:    getEnv("LLM_MODEL", "gpt-oss:20b"),
		},
		Ingestion: IngestionConfig{
			ChunkSize:    getEnvInt("CHUNK_SIZE", 300),
			ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 100),
			MaxWorkers:   getEnvInt("INGESTION_MAX_WORKERS", 0),
			DataDir:      getEnv("DATA_DIR", "data"),
		},

		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
	}
}

// OptimalWorkers returns a worker-pool size for the given workload kind:
// "io" for network-bound calls, "mixed" for file loading plus light CPU work.
func OptimalWorkers(kind string) int {
	cpus := runtime.NumCPU()
	switch kind {
	case "io":
		return minInt(32, cpus*2)
	case "mixed":
		return minInt(16, cpus+2)
	default:
		return cpus
	}
}

// postgresDSN resolves POSTGRES_DSN. Leaving the variable unset keeps the
// local default; setting it empty or to the literal "memory" selects the
// in-memory vector index instead of Postgres.
func postgresDSN() string {
	value, ok := os.LookupEnv("POSTGRES_DSN")
	if !ok {
		return "postgres://localhost:5432/doc-chat?sslmode=disable"
	}
	if value == "memory" {
		return ""
	}
	return value
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
