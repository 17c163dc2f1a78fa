package ai

import (
	"context"
	"fmt"
	"time"

	"readstash-backend/internal/config"
	"readstash-backend/internal/logger"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"
)

// GeminiEmbedder computes embeddings with Google Generative AI
// (text-embedding-004 by default). Calls go through a circuit breaker and
// a client-side rate limiter so a degraded upstream fails fast instead of
// stalling every worker.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
	breaker   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
}

func NewGeminiEmbedder(ctx context.Context, cfg *config.Config) (*GeminiEmbedder, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiEmbeddings",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	// 90% of the per-minute request budget, with burst headroom.
	limiter := rate.NewLimiter(rate.Limit(float64(cfg.EmbeddingRPM)*0.9/60.0), max(1, cfg.EmbeddingRPM/10))

	return &GeminiEmbedder{
		client:    client,
		model:     cfg.GoogleEmbeddingsModel,
		dimension: cfg.VectorDimensions,
		breaker:   breaker,
		limiter:   limiter,
	}, nil
}

func (g *GeminiEmbedder) Dimension() int {
	return g.dimension
}

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		model := g.client.EmbeddingModel(g.model)
		resp, err := model.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, err
		}
		if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
			return nil, fmt.Errorf("no embedding returned")
		}
		return resp.Embedding.Values, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	vector := result.([]float32)
	if len(vector) != g.dimension {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrEmbeddingUnavailable, len(vector), g.dimension)
	}
	return vector, nil
}

func (g *GeminiEmbedder) Close() error {
	return g.client.Close()
}
