package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/rennixue/question-app/internal/metrics"
	"github.com/rennixue/question-app/pkg/circuitbreaker"
	"github.com/rennixue/question-app/pkg/utils"
)

// EmbeddingCache is a read-through store for vectors keyed by text hash.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

type EmbedderConfig struct {
	BaseURL  string
	APIKey   string
	Model    string
	CacheTTL time.Duration
}

// Embedder calls an OpenAI compatible embeddings endpoint, which may be a
// local Ollama serving bge-m3.
type Embedder struct {
	client *openai.Client
	model  string
	cache  EmbeddingCache
	ttl    time.Duration
	cb     *circuitbreaker.Breaker
	log    *zap.Logger
}

// NewEmbedder builds an embedder. cache may be nil.
func NewEmbedder(cfg EmbedderConfig, cache EmbeddingCache, log *zap.Logger) *Embedder {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &Embedder{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		cache:  cache,
		ttl:    cfg.CacheTTL,
		cb: circuitbreaker.New("embedding", circuitbreaker.Config{
			OpenTimeout:      15 * time.Second,
			FailureThreshold: 5,
			Logger:           log,
		}),
		log: log,
	}
}

func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedSeveral(ctx, text)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedSeveral returns one vector per text in order. Cached texts are not
// sent; the rest go out in a single request.
func (e *Embedder) EmbedSeveral(ctx context.Context, texts ...string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missing []int

	for i, t := range texts {
		keys[i] = utils.HashString(e.model, t)
		if e.cache == nil {
			missing = append(missing, i)
			continue
		}
		vec, ok, err := e.cache.GetEmbedding(ctx, keys[i])
		if err != nil {
			e.log.Warn("Failed to read embedding cache", zap.Error(err))
		}
		if ok {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			out[i] = vec
			continue
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	input := make([]string, len(missing))
	for j, i := range missing {
		input[j] = texts[i]
	}
	resp, err := circuitbreaker.Call(ctx, e.cb, func() (openai.EmbeddingResponse, error) {
		return e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: input,
			Model: openai.EmbeddingModel(e.model),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(resp.Data) != len(input) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(input), len(resp.Data))
	}

	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(missing) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		i := missing[d.Index]
		out[i] = d.Embedding
		if e.cache != nil {
			if err := e.cache.SetEmbedding(ctx, keys[i], d.Embedding, e.ttl); err != nil {
				e.log.Warn("Failed to write embedding cache", zap.Error(err))
			}
		}
	}
	e.log.Debug("Embeddings generated", zap.Int("requested", len(texts)), zap.Int("computed", len(missing)))
	return out, nil
}
