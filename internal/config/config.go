package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	DBName      string
	Port        string
	GinMode     string
	CORSOrigins []string

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Embeddings
	GeminiAPIKey          string
	GoogleEmbeddingsModel string
	VectorDimensions      int
	EmbeddingRPM          int

	// Chunking
	MaxChunkSize int

	// Ingestion pipeline
	IngestConcurrency  int
	IngestMaxRetry     int
	FetchTimeout       int // seconds
	RenderTimeout      int // seconds
	RepairSweepMinutes int

	// API rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// MongoDB Atlas Vector Search
	VectorSearchEnabled bool
	VectorIndexName     string

	// Telemetry
	TracingEnabled bool
	OTLPEndpoint   string
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/readstash"),
		DBName:      getEnv("DB_NAME", "readstash"),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),

		// Redis Configuration
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// Embeddings
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		VectorDimensions:      getEnvInt("VECTOR_DIM", 768),
		EmbeddingRPM:          getEnvInt("EMBEDDING_RPM", 1500),

		// Chunking
		MaxChunkSize: getEnvInt("MAX_CHUNK_SIZE", 1000),

		// Ingestion pipeline
		IngestConcurrency:  getEnvInt("INGEST_CONCURRENCY", 4),
		IngestMaxRetry:     getEnvInt("INGEST_MAX_RETRY", 5),
		FetchTimeout:       getEnvInt("FETCH_TIMEOUT", 60),
		RenderTimeout:      getEnvInt("RENDER_TIMEOUT", 45),
		RepairSweepMinutes: getEnvInt("REPAIR_SWEEP_MINUTES", 10),

		// API rate limiting
		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		// MongoDB Atlas Vector Search
		VectorSearchEnabled: getEnvBool("MONGODB_VECTOR_ENABLED", false),
		VectorIndexName:     getEnv("MONGODB_VECTOR_INDEX", "chunks_vector"),

		// Telemetry
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
	}

	// Validate required fields
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
