package question

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rennixue/question-app/internal/metrics"
)

const (
	NoteCancelled    = "request cancelled"
	MsgTimeExceeded  = "exceeds max execution time"
	MsgGenerateError = "error when generate"
)

type Config struct {
	Limits         RetrievalLimits
	ChunkLimit     int
	VerifyMaxChars int
	BatchMin       int
	BatchMax       int
	Debounce       time.Duration
	NotifyTimeout  time.Duration
	IsDev          bool
}

type Deps struct {
	Agent    Agent
	Index    SearchIndex
	Embedder Embedder
	Chunks   ChunkStore
	Majors   MajorResolver
	Audit    AuditLog
	Notifier Notifier
}

type Option func(*Orchestrator)

// WithBatchSize overrides how many questions each generation batch asks for.
func WithBatchSize(fn func() int) Option {
	return func(o *Orchestrator) { o.batchSize = fn }
}

func WithGeneratorOptions(opts ...GeneratorOption) Option {
	return func(o *Orchestrator) { o.genOpts = append(o.genOpts, opts...) }
}

// Orchestrator runs one generation job per Start call: three retrieval
// tiers, two generation batches, a terminal block and one notification.
type Orchestrator struct {
	agent     Agent
	retriever *Retriever
	knowledge *KnowledgeExtractor
	verifier  *Verifier
	generator *Generator
	audit     AuditLog
	notifier  Notifier
	cfg       Config
	batchSize func() int
	genOpts   []GeneratorOption
	now       func() time.Time
	log       *zap.Logger
}

func NewOrchestrator(deps Deps, cfg Config, log *zap.Logger, opts ...Option) *Orchestrator {
	if cfg.BatchMin <= 0 {
		cfg.BatchMin = 10
	}
	if cfg.BatchMax < cfg.BatchMin {
		cfg.BatchMax = cfg.BatchMin
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 30 * time.Second
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = time.Second
	}

	o := &Orchestrator{
		agent:    deps.Agent,
		audit:    deps.Audit,
		notifier: deps.Notifier,
		cfg:      cfg,
		now:      time.Now,
		log:      log,
	}
	o.batchSize = func() int {
		return cfg.BatchMin + rand.Intn(cfg.BatchMax-cfg.BatchMin+1)
	}
	for _, opt := range opts {
		opt(o)
	}

	o.retriever = NewRetriever(deps.Index, deps.Embedder, deps.Majors, cfg.Limits, log.Named("retriever"))
	o.knowledge = NewKnowledgeExtractor(deps.Agent, deps.Embedder, deps.Chunks, cfg.ChunkLimit, log.Named("knowledge"))
	o.verifier = NewVerifier(deps.Agent, cfg.VerifyMaxChars, log.Named("verifier"))
	genOpts := append([]GeneratorOption{WithDebounce(cfg.Debounce)}, o.genOpts...)
	o.generator = NewGenerator(deps.Agent, log.Named("generator"), genOpts...)
	return o
}

// Stream is the consumer side of one job.
type Stream struct {
	blocks   chan Block
	cancel   context.CancelFunc
	done     DoneBlock
	finished bool
}

// Next returns blocks in protocol order. After the pipeline ends it returns
// the terminal DoneBlock once and then io.EOF. Next is not safe for
// concurrent use.
func (s *Stream) Next() (Block, error) {
	if b, ok := <-s.blocks; ok {
		return b, nil
	}
	if !s.finished {
		s.finished = true
		return s.done, nil
	}
	return nil, io.EOF
}

// Close cancels the job and waits until its outcome has been notified.
func (s *Stream) Close() {
	s.cancel()
	for range s.blocks {
	}
}

// Start launches the job. Cancelling ctx, or calling Close, ends it as a
// cancellation; a ctx deadline ends it as a time budget failure.
func (o *Orchestrator) Start(ctx context.Context, req Request) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{blocks: make(chan Block), cancel: cancel}
	metrics.ActiveStreams.Inc()
	go o.run(ctx, req, s)
	return s
}

type runState struct {
	questions      []Question
	sections       []Section
	knowledge      *Future[Knowledge]
	knowledgeReady bool
	k              Knowledge
}

func (st *runState) add(qs []Question) {
	st.questions = append(st.questions, qs...)
	for _, q := range qs {
		metrics.QuestionsEmitted.WithLabelValues(q.Source.String()).Inc()
	}
}

func (o *Orchestrator) run(ctx context.Context, req Request, s *Stream) {
	defer metrics.ActiveStreams.Dec()
	started := o.now()
	log := o.log.With(
		zap.Int64("task_id", req.TaskID),
		zap.String("request_id", RequestID(ctx)),
	)
	st := &runState{sections: defaultSections()}
	em := newEmitter(s.blocks, o.now)

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("Recovered panic in generation pipeline", zap.Any("panic", rec), zap.Stack("stack"))
				err = fmt.Errorf("pipeline panic: %v", rec)
			}
		}()
		return o.pipeline(ctx, req, em, st, log)
	}()

	o.conclude(ctx, req, st, err, log)

	total := o.now().Sub(started)
	log.Debug("Stream finished", zap.Int("total_count", len(st.questions)), zap.Duration("total_time", total))
	s.done = DoneBlock{Count: len(st.questions), Elapsed: total}
	close(s.blocks)
}

func (o *Orchestrator) pipeline(ctx context.Context, req Request, em *emitter, st *runState, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	o.audited(log, "search", o.audit.LogSearch(ctx, SearchLog{
		TaskID:  req.TaskID,
		IsDev:   o.cfg.IsDev,
		Topic:   req.Topic,
		Context: req.Context,
		Type:    req.Type,
	}))
	req, synonyms := o.normalizeTopic(ctx, req, log)
	if err := ctx.Err(); err != nil {
		return err
	}

	st.knowledge = o.startKnowledge(ctx, &wg, req, log)
	tiers := o.retriever.Start(ctx, &wg, req, synonyms)

	if err := o.plainTier(ctx, em, st, tiers[0], log); err != nil {
		return err
	}
	if err := o.verifiedTier(ctx, em, st, req, SourceSameUniversity, 1, tiers[1], log); err != nil {
		return err
	}
	if err := o.verifiedTier(ctx, em, st, req, SourceHistorical, 2, tiers[2], log); err != nil {
		return err
	}
	return o.generate(ctx, em, st, req, log)
}

// normalizeTopic replaces the topic by the agent's primary term and moves
// secondary terms into the context. Failure keeps the request as is.
func (o *Orchestrator) normalizeTopic(ctx context.Context, req Request, log *zap.Logger) (Request, []string) {
	raw, err := o.agent.AnalyzeQuery(ctx, req.Topic)
	var terms Terms
	if err == nil {
		terms, err = parseTerms(raw)
	}
	if err != nil {
		log.Warn("Failed to extract terms", zap.Error(err))
		return req, nil
	}
	o.audited(log, "search_terms", o.audit.LogSearchTerms(ctx, req.TaskID, terms))

	req.Topic = terms.PrimaryTerm
	req.Context = strings.TrimSpace(strings.Join(terms.SecondaryTerms, ", ") + "\n\n" + req.Context)
	log.Info("Normalized search topic",
		zap.String("topic", req.Topic),
		zap.Strings("synonyms", terms.Synonyms),
		zap.String("context", req.Context),
	)
	return req, terms.Synonyms
}

func (o *Orchestrator) startKnowledge(ctx context.Context, wg *sync.WaitGroup, req Request, log *zap.Logger) *Future[Knowledge] {
	f := NewFuture[Knowledge]()
	wg.Add(1)
	go func() {
		defer wg.Done()
		var (
			k   Knowledge
			err error
		)
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("Recovered panic in knowledge extraction", zap.Any("panic", rec))
				err = fmt.Errorf("knowledge panic: %v", rec)
			}
			f.Resolve(k, err)
		}()
		began := o.now()
		k, err = o.knowledge.Extract(ctx, req.Topic, req.Context, req.CourseID)
		metrics.StageDuration.WithLabelValues("knowledge").Observe(o.now().Sub(began).Seconds())
	}()
	return f
}

// awaitKnowledge joins the background extraction once. Its failure is
// replaced by empty knowledge; only cancellation is returned.
func (o *Orchestrator) awaitKnowledge(ctx context.Context, st *runState, log *zap.Logger) (Knowledge, error) {
	if st.knowledgeReady {
		return st.k, nil
	}
	k, err := st.knowledge.Await(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Knowledge{}, ctxErr
		}
		log.Error("Failed to fetch knowledge", zap.Error(err))
		k = Knowledge{}
	}
	st.k, st.knowledgeReady = k, true
	return k, nil
}

// awaitTier degrades a failed search to an empty tier.
func (o *Orchestrator) awaitTier(ctx context.Context, src Source, f *Future[[]Question], log *zap.Logger) ([]Question, error) {
	qs, err := f.Await(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Error("Failed to search questions", zap.Stringer("source", src), zap.Error(err))
		return nil, nil
	}
	log.Debug("Tier retrieved", zap.Stringer("source", src), zap.Int("count", len(qs)))
	return qs, nil
}

func (o *Orchestrator) plainTier(ctx context.Context, em *emitter, st *runState, f *Future[[]Question], log *zap.Logger) error {
	src := SourceSameCourse
	if err := em.start(ctx, src); err != nil {
		return err
	}
	qs, err := o.awaitTier(ctx, src, f, log)
	if err != nil {
		return err
	}
	qs = StripHeadings(SortByYear(qs))
	if err := em.progress(ctx, src, qs); err != nil {
		return err
	}
	st.add(qs)
	return o.closeTier(ctx, em, st, src, 0)
}

func (o *Orchestrator) verifiedTier(ctx context.Context, em *emitter, st *runState, req Request, src Source, section int, f *Future[[]Question], log *zap.Logger) error {
	if err := em.start(ctx, src); err != nil {
		return err
	}
	qs, err := o.awaitTier(ctx, src, f, log)
	if err != nil {
		return err
	}
	if len(qs) > 0 {
		k, err := o.awaitKnowledge(ctx, st, log)
		if err != nil {
			return err
		}
		qs = StripHeadings(SortByYear(qs))
		verified, err := o.verifier.Verify(ctx, qs, req.Topic, k.KeyPoints)
		if err != nil {
			return err
		}
		o.auditVerify(ctx, req, src, qs, verified, log)
		if err := em.progress(ctx, src, verified); err != nil {
			return err
		}
		st.add(verified)
		log.Debug("Tier verified", zap.Stringer("source", src), zap.Int("retrieved", len(qs)), zap.Int("verified", len(verified)))
	}
	return o.closeTier(ctx, em, st, src, section)
}

func (o *Orchestrator) closeTier(ctx context.Context, em *emitter, st *runState, src Source, section int) error {
	count, elapsed, err := em.finish(ctx, src)
	if err != nil {
		return err
	}
	st.sections[section].Count, st.sections[section].Elapsed = count, elapsed
	metrics.StageDuration.WithLabelValues(src.String()).Observe(elapsed.Seconds())
	return nil
}

func (o *Orchestrator) auditVerify(ctx context.Context, req Request, src Source, all, kept []Question, log *zap.Logger) {
	passed := make(map[string]bool, len(kept))
	for _, q := range kept {
		passed[q.ID.String()] = true
	}
	records := make([]VerifyRecord, len(all))
	for i, q := range all {
		records[i] = VerifyRecord{Question: q, Passed: passed[q.ID.String()]}
	}
	metrics.VerificationExcluded.WithLabelValues(src.String()).Add(float64(len(all) - len(kept)))
	o.audited(log, "verify", o.audit.LogVerify(ctx, req.TaskID, o.cfg.IsDev, src, records))
}

func (o *Orchestrator) generate(ctx context.Context, em *emitter, st *runState, req Request, log *zap.Logger) error {
	src := SourceGenerated
	if err := em.start(ctx, src); err != nil {
		return err
	}
	k, err := o.awaitKnowledge(ctx, st, log)
	if err != nil {
		return err
	}
	o.audited(log, "knowledge", o.audit.LogKnowledge(ctx, req.TaskID, k))

	var generated []Question
	collect := func(qs []Question) error {
		if err := em.progress(ctx, src, qs); err != nil {
			return err
		}
		st.add(qs)
		generated = append(generated, qs...)
		return nil
	}

	prompt := GeneratePrompt{
		Topic:       req.Topic,
		Context:     req.Context,
		Requirement: k.Analysis.Requirement,
		Type:        req.Type,
		Major:       req.Major,
		Course:      req.CourseName,
		KeyPoints:   k.KeyPoints,
		Number:      o.batchSize(),
	}
	if err := o.generator.Generate(ctx, prompt, 1, collect); err != nil {
		return err
	}
	count1, elapsed1, err := em.checkpoint(ctx, src)
	if err != nil {
		return err
	}
	st.sections[3].Count, st.sections[3].Elapsed = count1, elapsed1
	metrics.StageDuration.WithLabelValues("generated_batch_1").Observe(elapsed1.Seconds())

	prompt.Known = slices.Clone(generated)
	prompt.Number = o.batchSize()
	if err := o.generator.Generate(ctx, prompt, 2, collect); err != nil {
		return err
	}
	count, elapsed, err := em.finish(ctx, src)
	if err != nil {
		return err
	}
	st.sections[4].Count, st.sections[4].Elapsed = count-count1, elapsed-elapsed1
	metrics.StageDuration.WithLabelValues("generated_batch_2").Observe((elapsed - elapsed1).Seconds())
	log.Debug("Generation finished", zap.Int("generated", len(generated)))
	return nil
}

// conclude sends the single outcome notification. It runs detached from
// ctx so that a cancelled request is still reported.
func (o *Orchestrator) conclude(ctx context.Context, req Request, st *runState, err error, log *zap.Logger) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.NotifyTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Recovered panic while notifying outcome", zap.Any("panic", rec))
		}
	}()

	qs, sections := slices.Clone(st.questions), slices.Clone(st.sections)
	switch {
	case err == nil:
		metrics.GenerationOutcomes.WithLabelValues("ok").Inc()
		log.Info("Generation completed", zap.Int("count", len(qs)))
		o.notifier.NotifySuccess(nctx, req.TaskID, qs, sections, "")
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		metrics.GenerationOutcomes.WithLabelValues("timeout").Inc()
		log.Error("Generation exceeded its time budget", zap.Int("count", len(qs)), zap.Error(err))
		o.notifier.NotifyError(nctx, req.TaskID, MsgTimeExceeded, qs, sections)
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		metrics.GenerationOutcomes.WithLabelValues("cancelled").Inc()
		log.Warn("Request cancelled", zap.Int("count", len(qs)))
		o.notifier.NotifySuccess(nctx, req.TaskID, qs, sections, NoteCancelled)
	default:
		metrics.GenerationOutcomes.WithLabelValues("error").Inc()
		log.Error("Generation failed", zap.Int("count", len(qs)), zap.Error(err))
		o.notifier.NotifyError(nctx, req.TaskID, MsgGenerateError, qs, sections)
	}
}

func (o *Orchestrator) audited(log *zap.Logger, entry string, err error) {
	if err != nil {
		log.Error("Failed to write audit log", zap.String("entry", entry), zap.Error(err))
	}
}
