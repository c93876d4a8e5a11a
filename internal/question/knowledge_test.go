package question_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rennixue/question-app/internal/question"
	"github.com/rennixue/question-app/internal/question/questiontest"
)

func TestRankKeyPoints(t *testing.T) {
	in := []question.KeyPoint{
		{Name: "a", Relevance: question.RelevanceWeak},
		{Name: "b", Relevance: question.RelevanceMedium},
		{Name: "c", Relevance: question.RelevanceStrong},
		{Name: "d", Relevance: question.RelevanceMedium},
		{Name: "e", Relevance: "critical"},
	}

	got := question.RankKeyPoints(in)

	want := []question.KeyPoint{
		{Name: "c", Relevance: question.RelevanceStrong},
		{Name: "b", Relevance: question.RelevanceMedium},
		{Name: "d", Relevance: question.RelevanceMedium},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RankKeyPoints mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "a", in[0].Name, "input is left untouched")
}

// probeRecorder remembers the text embedded for the chunk query.
type probeRecorder struct {
	questiontest.Embedder
	texts []string
}

func (p *probeRecorder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	p.texts = append(p.texts, text)
	return p.Embedder.EmbedOne(ctx, text)
}

func TestKnowledgeExtract(t *testing.T) {
	agent := &questiontest.Agent{
		Description: "```json\n{\"key_concepts\": \"Carnot cycle\", \"requirement\": \"Use SI units.\"}\n```",
		Chunks: `<summary>Disorder of a system.</summary>
<entity><name>Carnot cycle</name><explanation>Ideal engine.</explanation><strength>STRONG</strength></entity>
<entity><name>steam tables</name></entity>`,
	}
	embedder := &probeRecorder{}
	chunks := questiontest.Chunks{Chunks: []question.Chunk{{ID: "1", Text: "Entropy S = Q/T"}}}
	x := question.NewKnowledgeExtractor(agent, embedder, chunks, 4, zap.NewNop())

	k, err := x.Extract(context.Background(), " Entropy ", "focus on engines", 42)
	require.NoError(t, err)

	assert.Equal(t, "Use SI units.", k.Analysis.Requirement)
	require.Len(t, embedder.texts, 1)
	assert.Equal(t, "Definition or explanation of entropy.\nKnowledge of entropy related to the following context:\nCarnot cycle", embedder.texts[0])

	want := []question.KeyPoint{
		{Name: "entropy", Explanation: "Disorder of a system.", Relevance: question.RelevanceStrong},
		{Name: "Carnot cycle", Explanation: "Ideal engine.", Relevance: question.RelevanceStrong},
	}
	if diff := cmp.Diff(want, k.KeyPoints); diff != "" {
		t.Errorf("key points mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, k.Chunks, 1)
}

func TestKnowledgeExtractDescriptionFailure(t *testing.T) {
	agent := &questiontest.Agent{Description: "no fenced json here", Chunks: "<summary>s</summary>"}
	embedder := &probeRecorder{}
	x := question.NewKnowledgeExtractor(agent, embedder, questiontest.Chunks{}, 0, zap.NewNop())

	k, err := x.Extract(context.Background(), "entropy", "raw context", 1)
	require.NoError(t, err)

	assert.Equal(t, question.Analysis{}, k.Analysis)
	assert.Contains(t, embedder.texts[0], "raw context", "falls back to the raw context")
	require.Len(t, k.KeyPoints, 1)
}

func TestKnowledgeExtractChunkFailure(t *testing.T) {
	agent := &questiontest.Agent{}
	x := question.NewKnowledgeExtractor(agent, questiontest.Embedder{}, questiontest.Chunks{Err: errors.New("collection not loaded")}, 0, zap.NewNop())

	_, err := x.Extract(context.Background(), "entropy", "", 1)
	assert.ErrorContains(t, err, "collection not loaded")
}
