package zilliz

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rennixue/question-app/internal/question"
)

const chunkScoreThreshold = 0.4

// ChunkStore reads preprocessed course material chunks.
type ChunkStore struct {
	db         searcher
	collection string
	log        *zap.Logger
}

func NewChunkStore(c *Client, collection string, log *zap.Logger) *ChunkStore {
	return &ChunkStore{db: c, collection: collection, log: log}
}

// QueryChunks returns up to limit chunks of scopeID that are close to vec
// and mention topic, allowing small spelling differences.
func (s *ChunkStore) QueryChunks(ctx context.Context, topic string, vec []float32, scopeID int64, limit int) ([]question.Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.search(ctx, searchRequest{
		collection:   s.collection,
		expr:         "order_id == " + strconv.FormatInt(scopeID, 10),
		outputFields: []string{"id", "chunk"},
		vector:       vec,
		topK:         overFetch(limit, 4),
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		s.log.Info("No chunks retrieved", zap.Int64("order_id", scopeID))
	}

	kp := strings.ToLower(strings.TrimSpace(topic))
	var out []question.Chunk
	for _, r := range rows {
		if r.score < chunkScoreThreshold {
			continue
		}
		text := r.str("chunk")
		if text == "" || !mentionsFuzzy(kp, strings.ToLower(text)) {
			continue
		}
		out = append(out, question.Chunk{ID: strconv.FormatInt(r.int64("id"), 10), Text: text})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// mentionsFuzzy reports whether kp appears in text with at most two
// characters missing or changed, and at least half of kp appears verbatim.
func mentionsFuzzy(kp, text string) bool {
	a, b := []rune(kp), []rune(text)
	if len(a) == 0 {
		return true
	}
	return len(a)-lcsSubsequence(a, b) <= 2 && lcsSubstring(a, b) >= len(a)/2
}

func lcsSubsequence(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func lcsSubstring(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	best := 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				best = max(best, cur[j])
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return best
}
