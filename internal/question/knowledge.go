package question

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// KnowledgeExtractor turns a topic and its context into ranked key points
// grounded in the course material.
type KnowledgeExtractor struct {
	agent      Agent
	embedder   Embedder
	chunks     ChunkStore
	chunkLimit int
	log        *zap.Logger
}

func NewKnowledgeExtractor(agent Agent, embedder Embedder, chunks ChunkStore, chunkLimit int, log *zap.Logger) *KnowledgeExtractor {
	if chunkLimit <= 0 {
		chunkLimit = 8
	}
	return &KnowledgeExtractor{agent: agent, embedder: embedder, chunks: chunks, chunkLimit: chunkLimit, log: log}
}

func (k *KnowledgeExtractor) Extract(ctx context.Context, topic, description string, scopeID int64) (Knowledge, error) {
	var out Knowledge

	if description != "" {
		raw, err := k.agent.AnalyzeDescription(ctx, topic, description)
		if err == nil {
			out.Analysis, err = parseAnalysis(raw)
		}
		if err != nil {
			if ctx.Err() != nil {
				return Knowledge{}, ctx.Err()
			}
			k.log.Warn("Failed to analyze description", zap.Error(err))
			out.Analysis = Analysis{}
		}
	}

	probe := definitionProbe(topic, out.Analysis.KeyConcepts, description)
	vec, err := k.embedder.EmbedOne(ctx, probe)
	if err != nil {
		return Knowledge{}, fmt.Errorf("failed to embed probe: %w", err)
	}

	lowered := strings.ToLower(strings.TrimSpace(topic))
	out.Chunks, err = k.chunks.QueryChunks(ctx, lowered, vec, scopeID, k.chunkLimit)
	if err != nil {
		return Knowledge{}, fmt.Errorf("failed to query chunks: %w", err)
	}
	k.log.Debug("Chunks retrieved", zap.Int("count", len(out.Chunks)))

	texts := make([]string, len(out.Chunks))
	for i, c := range out.Chunks {
		texts[i] = c.Text
	}
	raw, err := k.agent.AnalyzeChunks(ctx, lowered, texts)
	if err != nil {
		return Knowledge{}, fmt.Errorf("failed to analyze chunks: %w", err)
	}
	out.KeyPoints = RankKeyPoints(parseKeyPoints(lowered, raw))

	return out, nil
}

// definitionProbe is the text embedded to find chunks defining the topic.
// Key concepts from the analysis take precedence over the raw context.
func definitionProbe(topic, keyConcepts, description string) string {
	topic = strings.ToLower(strings.TrimSpace(topic))
	probe := "Definition or explanation of " + topic + "."
	extra := strings.TrimSpace(keyConcepts)
	if extra == "" {
		extra = strings.TrimSpace(description)
	}
	if extra != "" {
		probe += "\nKnowledge of " + topic + " related to the following context:\n" + extra
	}
	return probe
}

// RankKeyPoints orders key points strong before medium, keeping the input
// order within a relevance, and drops weak ones.
func RankKeyPoints(kps []KeyPoint) []KeyPoint {
	out := slices.Clone(kps)
	slices.SortStableFunc(out, func(a, b KeyPoint) int {
		return b.Relevance.rank() - a.Relevance.rank()
	})
	return slices.DeleteFunc(out, func(kp KeyPoint) bool {
		return kp.Relevance.rank() == 0
	})
}
