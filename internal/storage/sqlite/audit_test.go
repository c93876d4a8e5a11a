package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rennixue/question-app/internal/question"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "audit.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	require.NoError(t, c.InitSchema())
	return c
}

func TestInitSchemaIsIdempotent(t *testing.T) {
	c := newTestClient(t)
	assert.NoError(t, c.InitSchema())
	assert.NoError(t, c.Ping(context.Background()))
}

func TestAuditLogSearch(t *testing.T) {
	c := newTestClient(t)
	a := NewAuditLog(c)
	ctx := context.Background()

	require.NoError(t, a.LogSearch(ctx, question.SearchLog{
		TaskID: 7, IsDev: true, Topic: "entropy", Context: "second law", Type: question.TypeMultipleChoice,
	}))
	require.NoError(t, a.LogSearch(ctx, question.SearchLog{TaskID: 8, Topic: "other"}))

	got, err := c.GetSearches(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].TaskID)
	assert.True(t, got[0].IsDev)
	assert.Equal(t, "entropy", got[0].Topic)
	assert.Equal(t, "second law", got[0].Context)
	assert.Equal(t, "multiple choice", got[0].QType)
	assert.Equal(t, int64(1700000000), got[0].CreatedAt.Unix())
}

func TestAuditLogSearchTerms(t *testing.T) {
	c := newTestClient(t)
	a := NewAuditLog(c)
	ctx := context.Background()

	require.NoError(t, a.LogSearchTerms(ctx, 7, question.Terms{
		PrimaryTerm:    "entropy",
		SecondaryTerms: []string{"thermodynamics"},
		Synonyms:       []string{"disorder", "randomness"},
	}))

	got, err := c.GetSearchTerms(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "entropy", got.PrimaryTerm)
	assert.Equal(t, []string{"thermodynamics"}, got.SecondaryTerms)
	assert.Equal(t, []string{"disorder", "randomness"}, got.Synonyms)

	_, err = c.GetSearchTerms(ctx, 99)
	assert.Error(t, err)
}

func TestAuditLogKnowledge(t *testing.T) {
	c := newTestClient(t)
	a := NewAuditLog(c)
	ctx := context.Background()

	require.NoError(t, a.LogKnowledge(ctx, 7, question.Knowledge{
		Analysis:  question.Analysis{KeyConcepts: "entropy"},
		KeyPoints: []question.KeyPoint{{Name: "second law", Relevance: question.RelevanceStrong}},
		Chunks:    []question.Chunk{{ID: "3", Text: "a"}, {ID: "9", Text: "b"}},
	}))

	got, err := c.GetKnowledge(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "9"}, got.ChunkIDs)
	assert.JSONEq(t, `{"key_concepts":"entropy","requirement":"","referential_question":"","other_info":""}`, got.Analysis)
	assert.JSONEq(t, `[{"name":"second law","explanation":"","relevance":"strong"}]`, got.KeyPoints)
}

func TestAuditLogVerify(t *testing.T) {
	c := newTestClient(t)
	a := NewAuditLog(c)
	ctx := context.Background()

	kept := question.NewQuestion("What is entropy?", question.SourceHistorical, question.TypeOpen)
	dropped := question.NewQuestion("Compute NPV.", question.SourceHistorical, question.TypeCalculation)

	require.NoError(t, a.LogVerify(ctx, 7, false, question.SourceHistorical, []question.VerifyRecord{
		{Question: kept, Passed: true},
		{Question: dropped, Passed: false},
	}))
	require.NoError(t, a.LogVerify(ctx, 7, false, question.SourceSameCourse, nil))

	got, err := c.GetVerifyRecords(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, kept.ID.String(), got[0].QuestionID)
	assert.True(t, got[0].Passed)
	assert.Equal(t, "historical", got[0].Source)
	assert.Equal(t, "open", got[0].QType)

	assert.Equal(t, dropped.ID.String(), got[1].QuestionID)
	assert.False(t, got[1].Passed)
	assert.Equal(t, "Compute NPV.", got[1].Content)
	assert.Equal(t, "calculation", got[1].QType)
}
