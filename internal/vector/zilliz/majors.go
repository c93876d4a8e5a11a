package zilliz

import (
	"context"

	"go.uber.org/zap"
)

// MajorIndex maps a free-text major onto the canonical major list.
type MajorIndex struct {
	db         searcher
	collection string
	log        *zap.Logger
}

func NewMajorIndex(c *Client, collection string, log *zap.Logger) *MajorIndex {
	return &MajorIndex{db: c, collection: collection, log: log}
}

// Closest returns the canonical major nearest to vec, if it scores at least
// threshold.
func (m *MajorIndex) Closest(ctx context.Context, vec []float32, threshold float32) (string, bool, error) {
	rows, err := m.db.search(ctx, searchRequest{
		collection:   m.collection,
		outputFields: []string{"major"},
		vector:       vec,
		topK:         1,
	})
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 || rows[0].score < threshold || rows[0].str("major") == "" {
		return "", false, nil
	}
	return rows[0].str("major"), true, nil
}
