// Package majors expands a free-text major into the canonical majors used to
// filter historical questions.
package majors

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	closestThreshold    = 0.8
	similarityThreshold = 0.8
)

type embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

type index interface {
	Closest(ctx context.Context, vec []float32, threshold float32) (string, bool, error)
}

type graph interface {
	SimilarMajors(ctx context.Context, major string, minSimilarity float64) ([]string, error)
}

type Resolver struct {
	embed embedder
	index index
	graph graph
	log   *zap.Logger
}

func NewResolver(embed embedder, idx index, g graph, log *zap.Logger) *Resolver {
	return &Resolver{embed: embed, index: idx, graph: g, log: log}
}

// SimilarMajors returns nil when the major matches no canonical major, which
// means no filter.
func (r *Resolver) SimilarMajors(ctx context.Context, major string) ([]string, error) {
	major = strings.TrimSpace(major)
	if major == "" {
		return nil, nil
	}

	vec, err := r.embed.EmbedOne(ctx, major)
	if err != nil {
		return nil, fmt.Errorf("failed to embed major: %w", err)
	}

	closest, ok, err := r.index.Closest(ctx, vec, closestThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to find closest major: %w", err)
	}
	if !ok {
		r.log.Debug("No canonical major matched", zap.String("major", major))
		return nil, nil
	}

	similar, err := r.graph.SimilarMajors(ctx, closest, similarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to load similar majors: %w", err)
	}
	r.log.Debug("Majors resolved",
		zap.String("major", major),
		zap.String("closest", closest),
		zap.Strings("similar", similar))
	return similar, nil
}
