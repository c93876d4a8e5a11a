// Package questiontest provides in-memory collaborators for exercising the
// generation pipeline.
package questiontest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rennixue/question-app/internal/question"
)

// Script is what one GenerateStream call produces.
type Script struct {
	Deltas []string
	// Err is returned by Recv after the deltas.
	Err error
	// Block makes Recv wait for ctx after the deltas.
	Block bool
}

type Agent struct {
	mu sync.Mutex

	Terms       string
	TermsErr    error
	Description string
	Chunks      string
	ChunksErr   error
	VerifyFn    func(question.VerifyPrompt) (string, error)
	Scripts     []Script
	Rewritten   string
	RewriteErr  error

	Prompts     []question.GeneratePrompt
	VerifyCalls []question.VerifyPrompt
	inFlight    int
	MaxInFlight int
}

func (a *Agent) enter() func() {
	a.mu.Lock()
	a.inFlight++
	if a.inFlight > a.MaxInFlight {
		a.MaxInFlight = a.inFlight
	}
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		a.inFlight--
		a.mu.Unlock()
	}
}

// InFlight reports calls and streams that have not finished yet.
func (a *Agent) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight
}

func (a *Agent) AnalyzeQuery(ctx context.Context, topic string) (string, error) {
	defer a.enter()()
	if a.TermsErr != nil {
		return "", a.TermsErr
	}
	return a.Terms, nil
}

func (a *Agent) AnalyzeDescription(ctx context.Context, topic, description string) (string, error) {
	defer a.enter()()
	return a.Description, nil
}

func (a *Agent) AnalyzeChunks(ctx context.Context, topic string, chunks []string) (string, error) {
	defer a.enter()()
	if a.ChunksErr != nil {
		return "", a.ChunksErr
	}
	return a.Chunks, nil
}

func (a *Agent) VerifyQuestions(ctx context.Context, p question.VerifyPrompt) (string, error) {
	defer a.enter()()
	a.mu.Lock()
	a.VerifyCalls = append(a.VerifyCalls, p)
	a.mu.Unlock()
	if a.VerifyFn == nil {
		return "```json\n{\"judgements\": []}\n```", nil
	}
	return a.VerifyFn(p)
}

func (a *Agent) GenerateStream(ctx context.Context, p question.GeneratePrompt) (question.TextStream, error) {
	a.mu.Lock()
	n := len(a.Prompts)
	a.Prompts = append(a.Prompts, p)
	a.mu.Unlock()
	if n >= len(a.Scripts) {
		return nil, fmt.Errorf("no script for generation call %d", n)
	}
	return &textStream{ctx: ctx, script: a.Scripts[n], exit: a.enter()}, nil
}

func (a *Agent) Rewrite(ctx context.Context, background, prompt, q string) (string, error) {
	defer a.enter()()
	return a.Rewritten, a.RewriteErr
}

type textStream struct {
	ctx    context.Context
	script Script
	i      int
	exit   func()
	once   sync.Once
}

func (s *textStream) Recv() (string, error) {
	if s.i < len(s.script.Deltas) {
		d := s.script.Deltas[s.i]
		s.i++
		return d, nil
	}
	if s.script.Block {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	if s.script.Err != nil {
		return "", s.script.Err
	}
	return "", io.EOF
}

func (s *textStream) Close() error {
	s.once.Do(s.exit)
	return nil
}

// Units renders generated questions the way the agent is prompted to.
func Units(typ string, contents ...string) string {
	var b strings.Builder
	for _, c := range contents {
		fmt.Fprintf(&b, "<question>\n<content>%s</content>\n<type>%s</type>\n</question>\n", c, typ)
	}
	return b.String()
}

type Index struct {
	mu sync.Mutex

	SameCourse        []question.Question
	SameCourseErr     error
	SameUniversity    []question.Question
	SameUniversityErr error
	Historical        []question.Question
	HistoricalErr     error

	Queries map[question.Source]question.SearchQuery
}

func (x *Index) record(src question.Source, q question.SearchQuery) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.Queries == nil {
		x.Queries = map[question.Source]question.SearchQuery{}
	}
	x.Queries[src] = q
}

func (x *Index) Query(src question.Source) (question.SearchQuery, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	q, ok := x.Queries[src]
	return q, ok
}

func (x *Index) SearchSameCourse(ctx context.Context, q question.SearchQuery) ([]question.Question, error) {
	x.record(question.SourceSameCourse, q)
	return x.SameCourse, x.SameCourseErr
}

func (x *Index) SearchSameUniversity(ctx context.Context, q question.SearchQuery) ([]question.Question, error) {
	x.record(question.SourceSameUniversity, q)
	return x.SameUniversity, x.SameUniversityErr
}

func (x *Index) SearchHistorical(ctx context.Context, q question.SearchQuery) ([]question.Question, error) {
	x.record(question.SourceHistorical, q)
	return x.Historical, x.HistoricalErr
}

type Embedder struct {
	Err error
}

func (e Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (e Embedder) EmbedSeveral(ctx context.Context, texts ...string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := e.EmbedOne(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type Chunks struct {
	Chunks []question.Chunk
	Err    error
}

func (c Chunks) QueryChunks(ctx context.Context, topic string, vec []float32, scopeID int64, limit int) ([]question.Chunk, error) {
	return c.Chunks, c.Err
}

type Majors struct {
	Majors []string
	Err    error
}

func (m Majors) SimilarMajors(ctx context.Context, major string) ([]string, error) {
	return m.Majors, m.Err
}

type Audit struct {
	mu       sync.Mutex
	Searches []question.SearchLog
	Terms    []question.Terms
	Verifies map[question.Source][]question.VerifyRecord
	Known    []question.Knowledge
}

func (a *Audit) LogSearch(ctx context.Context, entry question.SearchLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Searches = append(a.Searches, entry)
	return nil
}

func (a *Audit) LogSearchTerms(ctx context.Context, taskID int64, terms question.Terms) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Terms = append(a.Terms, terms)
	return nil
}

func (a *Audit) LogKnowledge(ctx context.Context, taskID int64, k question.Knowledge) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Known = append(a.Known, k)
	return nil
}

func (a *Audit) LogVerify(ctx context.Context, taskID int64, isDev bool, src question.Source, records []question.VerifyRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Verifies == nil {
		a.Verifies = map[question.Source][]question.VerifyRecord{}
	}
	a.Verifies[src] = records
	return nil
}

// Outcome is one recorded notification.
type Outcome struct {
	OK        bool
	TaskID    int64
	Message   string
	Questions []question.Question
	Sections  []question.Section
	CtxErr    error
}

type Notifier struct {
	mu       sync.Mutex
	Outcomes []Outcome
}

func (n *Notifier) NotifySuccess(ctx context.Context, taskID int64, qs []question.Question, sections []question.Section, note string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Outcomes = append(n.Outcomes, Outcome{OK: true, TaskID: taskID, Message: note, Questions: qs, Sections: sections, CtxErr: ctx.Err()})
}

func (n *Notifier) NotifyError(ctx context.Context, taskID int64, message string, qs []question.Question, sections []question.Section) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Outcomes = append(n.Outcomes, Outcome{TaskID: taskID, Message: message, Questions: qs, Sections: sections, CtxErr: ctx.Err()})
}

func (n *Notifier) All() []Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Outcome(nil), n.Outcomes...)
}

type RewriteNotifier struct {
	mu        sync.Mutex
	Rewritten []question.Question
	Errors    []string
	IDs       []int64
}

func (n *RewriteNotifier) NotifyRewriteSuccess(ctx context.Context, questionID int64, q question.Question) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.IDs = append(n.IDs, questionID)
	n.Rewritten = append(n.Rewritten, q)
}

func (n *RewriteNotifier) NotifyRewriteError(ctx context.Context, questionID int64, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.IDs = append(n.IDs, questionID)
	n.Errors = append(n.Errors, message)
}

// Questions builds n retrieved questions with the given source and metas.
func Questions(src question.Source, metas ...string) []question.Question {
	out := make([]question.Question, len(metas))
	for i, m := range metas {
		q := question.NewQuestion(fmt.Sprintf("%s question %d", src, i), src, question.TypeOpen)
		q.MetaInfo = m
		out[i] = q
	}
	return out
}
