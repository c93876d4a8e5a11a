package zilliz

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/rennixue/question-app/pkg/circuitbreaker"
)

const (
	vectorField  = "embedding"
	searchNProbe = 16
)

// row is one search hit with its requested output fields.
type row struct {
	fields map[string]any
	score  float32
}

func (r row) str(name string) string {
	s, _ := r.fields[name].(string)
	return s
}

func (r row) int64(name string) int64 {
	n, _ := r.fields[name].(int64)
	return n
}

type searchRequest struct {
	collection   string
	expr         string
	outputFields []string
	vector       []float32
	topK         int
}

// searcher is the one Milvus operation the indexes need.
type searcher interface {
	search(ctx context.Context, req searchRequest) ([]row, error)
}

// Client is a shared Milvus/Zilliz connection guarded by a circuit breaker.
type Client struct {
	client client.Client
	cb     *circuitbreaker.Breaker
	log    *zap.Logger
}

func NewClient(ctx context.Context, endpoint, apiKey string, log *zap.Logger) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	log.Info("Zilliz/Milvus client initialized", zap.String("endpoint", endpoint))

	return &Client{
		client: c,
		cb: circuitbreaker.New("zilliz", circuitbreaker.Config{
			OpenTimeout:      20 * time.Second,
			FailureThreshold: 5,
			Logger:           log,
		}),
		log: log,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

// Ping checks that the given collection is reachable.
func (z *Client) Ping(ctx context.Context, collection string) error {
	has, err := z.client.HasCollection(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		return fmt.Errorf("collection %s does not exist", collection)
	}
	return nil
}

func searchParams() (entity.SearchParam, error) {
	return entity.NewIndexIvfFlatSearchParam(searchNProbe)
}

func (z *Client) search(ctx context.Context, req searchRequest) ([]row, error) {
	sp, err := searchParams()
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	results, err := circuitbreaker.Call(ctx, z.cb, func() ([]client.SearchResult, error) {
		return z.client.Search(
			ctx,
			req.collection,
			[]string{},
			req.expr,
			req.outputFields,
			[]entity.Vector{entity.FloatVector(req.vector)},
			vectorField,
			entity.COSINE,
			req.topK,
			sp,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", req.collection, err)
	}

	var rows []row
	for _, sr := range results {
		if sr.Err != nil {
			return nil, fmt.Errorf("failed to search %s: %w", req.collection, sr.Err)
		}
		for i := 0; i < sr.ResultCount; i++ {
			r := row{fields: make(map[string]any, len(req.outputFields)), score: sr.Scores[i]}
			for _, name := range req.outputFields {
				col := sr.Fields.GetColumn(name)
				if col == nil {
					continue
				}
				if v, err := col.Get(i); err == nil {
					r.fields[name] = v
				}
			}
			rows = append(rows, r)
		}
	}

	z.log.Debug("Vector search completed",
		zap.String("collection", req.collection),
		zap.Int("top_k", req.topK),
		zap.Int("results", len(rows)),
		zap.String("expr", req.expr),
	)
	return rows, nil
}
