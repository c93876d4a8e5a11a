package question

import (
	"context"
)

// SearchQuery is shared by the three retrieval tiers; each tier reads the
// fields it filters on.
type SearchQuery struct {
	Topic       string
	Synonyms    []string
	TopicVector []float32
	QueryVector []float32
	Type        Type
	CourseCode  string
	University  string
	Majors      []string
	// ExcludeUniversity drops every hit from this university.
	ExcludeUniversity string
	// ExcludeCourseCode with University drops hits of that exact course.
	ExcludeCourseCode string
	Limit             int
}

type SearchIndex interface {
	SearchSameCourse(ctx context.Context, q SearchQuery) ([]Question, error)
	SearchSameUniversity(ctx context.Context, q SearchQuery) ([]Question, error)
	SearchHistorical(ctx context.Context, q SearchQuery) ([]Question, error)
}

type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedSeveral(ctx context.Context, texts ...string) ([][]float32, error)
}

type ChunkStore interface {
	QueryChunks(ctx context.Context, topic string, vec []float32, scopeID int64, limit int) ([]Chunk, error)
}

// MajorResolver expands a free-text major into the canonical majors whose
// questions count as related.
type MajorResolver interface {
	SimilarMajors(ctx context.Context, major string) ([]string, error)
}

// TextStream yields raw text deltas and io.EOF once the agent is done.
type TextStream interface {
	Recv() (string, error)
	Close() error
}

type VerifyPrompt struct {
	Topic     string
	KeyPoints []KeyPoint
	Questions []string
}

type GeneratePrompt struct {
	Topic       string
	Context     string
	Requirement string
	Type        Type
	Major       string
	Course      string
	KeyPoints   []KeyPoint
	Number      int
	// Known is empty for the first batch.
	Known []Question
}

// Agent is the generative model. It returns raw text; parsing the tagged
// output is done here.
type Agent interface {
	AnalyzeQuery(ctx context.Context, topic string) (string, error)
	AnalyzeDescription(ctx context.Context, topic, description string) (string, error)
	AnalyzeChunks(ctx context.Context, topic string, chunks []string) (string, error)
	VerifyQuestions(ctx context.Context, p VerifyPrompt) (string, error)
	GenerateStream(ctx context.Context, p GeneratePrompt) (TextStream, error)
}

type RewriteAgent interface {
	Rewrite(ctx context.Context, background, prompt, question string) (string, error)
}

type SearchLog struct {
	TaskID  int64
	IsDev   bool
	Topic   string
	Context string
	Type    Type
}

type VerifyRecord struct {
	Question Question
	Passed   bool
}

// AuditLog records what was searched and decided. Callers swallow its
// errors after logging them.
type AuditLog interface {
	LogSearch(ctx context.Context, entry SearchLog) error
	LogSearchTerms(ctx context.Context, taskID int64, terms Terms) error
	LogKnowledge(ctx context.Context, taskID int64, k Knowledge) error
	LogVerify(ctx context.Context, taskID int64, isDev bool, src Source, records []VerifyRecord) error
}

// Notifier delivers the outcome of a generation job. Implementations log
// delivery failures and never return them.
type Notifier interface {
	NotifySuccess(ctx context.Context, taskID int64, questions []Question, sections []Section, note string)
	NotifyError(ctx context.Context, taskID int64, message string, questions []Question, sections []Section)
}

type RewriteNotifier interface {
	NotifyRewriteSuccess(ctx context.Context, questionID int64, q Question)
	NotifyRewriteError(ctx context.Context, questionID int64, message string)
}

type requestIDKey struct{}

// WithRequestID attaches the caller's request id so collaborators can
// forward it.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
