package question_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/rennixue/question-app/internal/question"
	"github.com/rennixue/question-app/internal/question/questiontest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const termsJSON = "```json\n{\"primary_term\": \"entropy\", \"secondary_terms\": [\"thermodynamics\"], \"synonyms\": [\"disorder\"]}\n```"

const chunksAnalysis = `<summary>A measure of disorder.</summary>
<entity><name>second law</name><explanation>Entropy never decreases.</explanation><strength>medium</strength></entity>
<entity><name>heat engine trivia</name><explanation>Unrelated.</explanation><strength>weak</strength></entity>`

type harness struct {
	agent    *questiontest.Agent
	index    *questiontest.Index
	audit    *questiontest.Audit
	notifier *questiontest.Notifier
	chunks   questiontest.Chunks
}

func newHarness() *harness {
	return &harness{
		agent: &questiontest.Agent{
			Terms:  termsJSON,
			Chunks: chunksAnalysis,
			Scripts: []questiontest.Script{
				{Deltas: []string{questiontest.Units("open", "Define entropy.", "State the second law.")}},
				{Deltas: []string{questiontest.Units("open", "Compute the entropy change.")}},
			},
		},
		index: &questiontest.Index{
			SameCourse:     questiontest.Questions(question.SourceSameCourse, "2019 - Monash - Physics - PHYS101", "2023 - Monash - Physics - PHYS101"),
			SameUniversity: questiontest.Questions(question.SourceSameUniversity, "2020 - Monash - Chemistry - CHEM1", "/ - Monash - Chemistry - CHEM1", "2022 - Monash - Chemistry - CHEM1"),
			Historical:     questiontest.Questions(question.SourceHistorical, "2018 - UNSW - Physics - PHYS1121"),
		},
		audit:    &questiontest.Audit{},
		notifier: &questiontest.Notifier{},
		chunks:   questiontest.Chunks{Chunks: []question.Chunk{{ID: "c1", Text: "Entropy is a measure of disorder."}}},
	}
}

func (h *harness) orchestrator() *question.Orchestrator {
	return question.NewOrchestrator(question.Deps{
		Agent:    h.agent,
		Index:    h.index,
		Embedder: questiontest.Embedder{},
		Chunks:   h.chunks,
		Majors:   questiontest.Majors{Majors: []string{"physics", "applied physics"}},
		Audit:    h.audit,
		Notifier: h.notifier,
	}, question.Config{
		Limits:   question.RetrievalLimits{SameCourse: 20, SameUniversity: 20, Historical: 20},
		Debounce: time.Hour,
	}, zap.NewNop(),
		question.WithBatchSize(func() int { return 3 }),
		question.WithGeneratorOptions(question.WithShuffle(func(int, func(i, j int)) {})),
	)
}

func request() question.Request {
	return question.Request{
		TaskID:     7,
		CourseID:   42,
		Topic:      "Entropy",
		Type:       question.TypeAny,
		Major:      "Physics",
		CourseName: "Thermal Physics",
		CourseCode: "phys-101",
		University: "Monash",
	}
}

func drain(t *testing.T, s *question.Stream) []question.Block {
	t.Helper()
	var blocks []question.Block
	for {
		b, err := s.Next()
		if errors.Is(err, io.EOF) {
			return blocks
		}
		require.NoError(t, err)
		blocks = append(blocks, b)
	}
}

func shape(b question.Block) string {
	switch b := b.(type) {
	case question.StartBlock:
		return fmt.Sprintf("%s/start", b.Source)
	case question.ProgressBlock:
		return fmt.Sprintf("%s/progress:%d", b.Source, len(b.Questions))
	case question.CheckpointBlock:
		return fmt.Sprintf("%s/checkpoint:%d", b.Source, b.Count)
	case question.FinishBlock:
		return fmt.Sprintf("%s/finish:%d", b.Source, b.Count)
	case question.DoneBlock:
		return fmt.Sprintf("done:%d", b.Count)
	default:
		return fmt.Sprintf("unknown %T", b)
	}
}

func shapes(blocks []question.Block) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = shape(b)
	}
	return out
}

// assertProtocol checks the terminal block is unique and last, and that each
// checkpoint or finish counts the progress items of its tag since start.
func assertProtocol(t *testing.T, blocks []question.Block) {
	t.Helper()
	require.NotEmpty(t, blocks)
	for i, b := range blocks {
		_, isDone := b.(question.DoneBlock)
		assert.Equal(t, i == len(blocks)-1, isDone, "block %d: %s", i, shape(b))
	}
	sums := map[question.Source]int{}
	for _, b := range blocks {
		switch b := b.(type) {
		case question.StartBlock:
			sums[b.Source] = 0
		case question.ProgressBlock:
			sums[b.Source] += len(b.Questions)
		case question.CheckpointBlock:
			assert.Equal(t, sums[b.Source], b.Count, "checkpoint %s", b.Source)
		case question.FinishBlock:
			assert.Equal(t, sums[b.Source], b.Count, "finish %s", b.Source)
		}
	}
}

func sectionCounts(sections []question.Section) []int {
	out := make([]int, len(sections))
	for i, s := range sections {
		out[i] = s.Count
	}
	return out
}

func rejectFirst(question.VerifyPrompt) (string, error) {
	return "```json\n{\"judgements\":[{\"question_index\":0,\"can_be_solved\":false}]}\n```", nil
}

func TestOrchestratorSuccess(t *testing.T) {
	h := newHarness()
	h.agent.VerifyFn = rejectFirst

	blocks := drain(t, h.orchestrator().Start(context.Background(), request()))

	assert.Equal(t, []string{
		"same_course/start", "same_course/progress:2", "same_course/finish:2",
		"same_university/start", "same_university/progress:2", "same_university/finish:2",
		"historical/start", "historical/finish:0",
		"generated/start", "generated/progress:2", "generated/checkpoint:2",
		"generated/progress:1", "generated/finish:3",
		"done:7",
	}, shapes(blocks))
	assertProtocol(t, blocks)

	sameCourse := blocks[1].(question.ProgressBlock).Questions
	assert.Contains(t, sameCourse[0].MetaInfo, "2023", "newest exam first")

	outcomes := h.notifier.All()
	require.Len(t, outcomes, 1)
	out := outcomes[0]
	assert.True(t, out.OK)
	assert.Empty(t, out.Message)
	assert.Equal(t, int64(7), out.TaskID)
	assert.Len(t, out.Questions, 7)
	assert.Equal(t, []int{2, 2, 0, 2, 1}, sectionCounts(out.Sections))
	assert.Equal(t, 2, out.Questions[len(out.Questions)-1].BatchNo)

	require.Len(t, h.agent.Prompts, 2)
	assert.Equal(t, "entropy", h.agent.Prompts[0].Topic)
	assert.Equal(t, "thermodynamics", h.agent.Prompts[0].Context)
	assert.Empty(t, h.agent.Prompts[0].Known)
	assert.Len(t, h.agent.Prompts[1].Known, 2)
	assert.Equal(t, 3, h.agent.Prompts[1].Number)

	kps := h.agent.Prompts[0].KeyPoints
	require.Len(t, kps, 2)
	assert.Equal(t, "entropy", kps[0].Name)
	assert.Equal(t, question.RelevanceStrong, kps[0].Relevance)
	assert.Equal(t, "second law", kps[1].Name)

	assert.Equal(t, 1, h.agent.MaxInFlight, "agent calls must not overlap")
	require.Len(t, h.audit.Verifies[question.SourceSameUniversity], 3)
	assert.False(t, h.audit.Verifies[question.SourceSameUniversity][0].Passed)
	require.Len(t, h.audit.Searches, 1)
	assert.Equal(t, "Entropy", h.audit.Searches[0].Topic)
}

func TestOrchestratorHistoricalTierDedupesAndExcludes(t *testing.T) {
	h := newHarness()
	h.index.Historical = append(h.index.Historical, h.index.SameCourse[0])

	blocks := drain(t, h.orchestrator().Start(context.Background(), request()))
	assertProtocol(t, blocks)

	assert.Contains(t, shapes(blocks), "historical/progress:1")
	q, ok := h.index.Query(question.SourceHistorical)
	require.True(t, ok)
	assert.Equal(t, "Monash", q.ExcludeUniversity)
	assert.Equal(t, []string{"physics", "applied physics"}, q.Majors)
	assert.Equal(t, []string{"disorder"}, q.Synonyms)

	sc, ok := h.index.Query(question.SourceSameCourse)
	require.True(t, ok)
	assert.Equal(t, "PHYS101", sc.CourseCode)
	assert.Equal(t, "entropy", sc.Topic)
}

func TestOrchestratorTierFailureDegrades(t *testing.T) {
	h := newHarness()
	h.index.SameUniversityErr = errors.New("index unavailable")

	blocks := drain(t, h.orchestrator().Start(context.Background(), request()))
	assertProtocol(t, blocks)

	assert.Equal(t, []string{"same_university/start", "same_university/finish:0"}, shapes(blocks)[3:5])
	q, ok := h.index.Query(question.SourceHistorical)
	require.True(t, ok)
	assert.Empty(t, q.ExcludeUniversity, "historical absorbs the failed tier")
	assert.Equal(t, "PHYS101", q.ExcludeCourseCode)

	outcomes := h.notifier.All()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].OK)
}

func TestOrchestratorTermFailureKeepsTopic(t *testing.T) {
	h := newHarness()
	h.agent.TermsErr = errors.New("agent down")

	drain(t, h.orchestrator().Start(context.Background(), request()))

	require.Len(t, h.agent.Prompts, 2)
	assert.Equal(t, "Entropy", h.agent.Prompts[0].Topic)
	q, _ := h.index.Query(question.SourceHistorical)
	assert.Empty(t, q.Synonyms)
}

func TestOrchestratorKnowledgeFailureIsSubstituted(t *testing.T) {
	h := newHarness()
	h.agent.ChunksErr = errors.New("context length exceeded")

	drain(t, h.orchestrator().Start(context.Background(), request()))

	require.Len(t, h.agent.Prompts, 2)
	assert.Empty(t, h.agent.Prompts[0].KeyPoints)
	outcomes := h.notifier.All()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].OK)
}

func TestOrchestratorCancelBeforeGeneration(t *testing.T) {
	h := newHarness()
	h.index.Historical = nil
	h.agent.Scripts[0] = questiontest.Script{Block: true}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := h.orchestrator().Start(ctx, request())

	var blocks []question.Block
	for {
		b, err := s.Next()
		require.NoError(t, err)
		blocks = append(blocks, b)
		if shape(b) == "same_university/finish:3" {
			break
		}
	}
	cancel()
	blocks = append(blocks, drain(t, s)...)

	assertProtocol(t, blocks)
	last := blocks[len(blocks)-1].(question.DoneBlock)
	assert.Equal(t, 5, last.Count)

	outcomes := h.notifier.All()
	require.Len(t, outcomes, 1)
	out := outcomes[0]
	assert.True(t, out.OK)
	assert.Equal(t, question.NoteCancelled, out.Message)
	assert.Len(t, out.Questions, 5)
	assert.NoError(t, out.CtxErr, "notification must outlive the request context")
	assert.Equal(t, []int{2, 3, 0, 0, 0}, sectionCounts(out.Sections))
}

func TestOrchestratorCloseDuringGeneration(t *testing.T) {
	h := newHarness()
	h.agent.Scripts[0] = questiontest.Script{
		Deltas: []string{questiontest.Units("open", "Partial.")},
		Block:  true,
	}

	s := h.orchestrator().Start(context.Background(), request())
	for {
		b, err := s.Next()
		require.NoError(t, err)
		if shape(b) == "generated/start" {
			break
		}
	}
	s.Close()

	outcomes := h.notifier.All()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].OK)
	assert.Equal(t, question.NoteCancelled, outcomes[0].Message)
	assert.Len(t, outcomes[0].Questions, 6)

	b, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "done:6", shape(b))
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOrchestratorErrorDuringSecondBatch(t *testing.T) {
	h := newHarness()
	h.agent.Scripts[1] = questiontest.Script{
		Deltas: []string{"<question><content>half"},
		Err:    errors.New("connection reset"),
	}

	blocks := drain(t, h.orchestrator().Start(context.Background(), request()))
	assertProtocol(t, blocks)
	assert.Equal(t, "done:8", shape(blocks[len(blocks)-1]))

	outcomes := h.notifier.All()
	require.Len(t, outcomes, 1)
	out := outcomes[0]
	assert.False(t, out.OK)
	assert.Equal(t, question.MsgGenerateError, out.Message)
	assert.Len(t, out.Questions, 8)
	assert.Equal(t, []int{2, 3, 1, 2, 0}, sectionCounts(out.Sections))
}

func TestOrchestratorDeadline(t *testing.T) {
	h := newHarness()
	h.agent.Scripts[0] = questiontest.Script{Block: true}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	blocks := drain(t, h.orchestrator().Start(ctx, request()))
	assertProtocol(t, blocks)

	outcomes := h.notifier.All()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].OK)
	assert.Equal(t, question.MsgTimeExceeded, outcomes[0].Message)
}

func TestOrchestratorVerifyFailureIsFatal(t *testing.T) {
	h := newHarness()
	h.agent.VerifyFn = func(question.VerifyPrompt) (string, error) {
		return "", errors.New("rate limited")
	}

	blocks := drain(t, h.orchestrator().Start(context.Background(), request()))
	assertProtocol(t, blocks)
	assert.Equal(t, []string{
		"same_course/start", "same_course/progress:2", "same_course/finish:2",
		"same_university/start", "done:2",
	}, shapes(blocks))

	outcomes := h.notifier.All()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].OK)
	assert.Equal(t, question.MsgGenerateError, outcomes[0].Message)
	assert.Equal(t, []int{2, 0, 0, 0, 0}, sectionCounts(outcomes[0].Sections))
}

func TestOrchestratorRecoversPanic(t *testing.T) {
	h := newHarness()
	h.agent.VerifyFn = func(question.VerifyPrompt) (string, error) {
		panic("nil map")
	}

	blocks := drain(t, h.orchestrator().Start(context.Background(), request()))
	assertProtocol(t, blocks)

	outcomes := h.notifier.All()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].OK)
	assert.Equal(t, question.MsgGenerateError, outcomes[0].Message)
}

func TestOrchestratorFiltersGeneratedType(t *testing.T) {
	h := newHarness()
	h.agent.Scripts[0] = questiontest.Script{Deltas: []string{
		questiontest.Units("open", "Explain entropy.") +
			questiontest.Units("multiple choice", "Pick one:\nA) a\nB) b\nC) c\nD) d"),
	}}
	req := request()
	req.Type = question.TypeMultipleChoice

	blocks := drain(t, h.orchestrator().Start(context.Background(), req))
	assertProtocol(t, blocks)

	assert.Contains(t, shapes(blocks), "generated/checkpoint:1")
	outcomes := h.notifier.All()
	require.Len(t, outcomes, 1)
	gen := outcomes[0].Sections[3]
	assert.Equal(t, 1, gen.Count)
	for _, q := range outcomes[0].Questions {
		if q.Source == question.SourceGenerated {
			assert.Equal(t, question.TypeMultipleChoice, q.Type)
		}
	}
}
