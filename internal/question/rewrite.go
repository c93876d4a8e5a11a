package question

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rennixue/question-app/internal/metrics"
)

const MsgRewriteError = "error when rewrite"

// RewriteJob is a validated rewrite request.
type RewriteJob struct {
	QuestionID int64
	QuestionNo string
	Topic      string
	Context    string
	Type       Type
	Prompt     string
	Question   string
}

// Rewriter produces a new version of an existing question and reports it
// through the rewrite callback.
type Rewriter struct {
	agent    RewriteAgent
	notifier RewriteNotifier
	budget   time.Duration
	log      *zap.Logger
}

func NewRewriter(agent RewriteAgent, notifier RewriteNotifier, budget time.Duration, log *zap.Logger) *Rewriter {
	if budget <= 0 {
		budget = 120 * time.Second
	}
	return &Rewriter{agent: agent, notifier: notifier, budget: budget, log: log}
}

// Rewrite asks the agent for the new question.
func (r *Rewriter) Rewrite(ctx context.Context, job RewriteJob) (Question, error) {
	raw, err := r.agent.Rewrite(ctx, rewriteBackground(job), job.Prompt, job.Question)
	if err != nil {
		return Question{}, fmt.Errorf("failed to rewrite question: %w", err)
	}
	u := parseUnit(raw)
	if units := questionUnits(raw); len(units) > 0 {
		u = units[0]
	}
	if u.content == "" {
		return Question{}, errors.New("agent returned an empty question")
	}
	return NewQuestion(u.content, SourceRewritten, u.typ), nil
}

// Run rewrites within the rewrite budget and notifies the outcome. It is
// detached from ctx cancellation; the caller has already been answered.
func (r *Rewriter) Run(ctx context.Context, job RewriteJob) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.budget)
	defer cancel()
	log := r.log.With(
		zap.Int64("question_id", job.QuestionID),
		zap.String("request_id", RequestID(ctx)),
	)

	q, err := func() (q Question, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("Recovered panic in rewrite", zap.Any("panic", rec))
				err = fmt.Errorf("rewrite panic: %v", rec)
			}
		}()
		return r.Rewrite(ctx, job)
	}()

	// The notification gets its own budget when the rewrite used it all up.
	nctx, ncancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer ncancel()
	switch {
	case err == nil:
		metrics.GenerationOutcomes.WithLabelValues("rewrite_ok").Inc()
		log.Debug("Rewrite completed", zap.String("question_no", job.QuestionNo))
		r.notifier.NotifyRewriteSuccess(nctx, job.QuestionID, q)
	case errors.Is(err, context.DeadlineExceeded):
		metrics.GenerationOutcomes.WithLabelValues("rewrite_timeout").Inc()
		log.Warn("Rewrite exceeded its time budget")
		r.notifier.NotifyRewriteError(nctx, job.QuestionID, MsgTimeExceeded)
	default:
		metrics.GenerationOutcomes.WithLabelValues("rewrite_error").Inc()
		log.Error("Rewrite failed", zap.Error(err))
		r.notifier.NotifyRewriteError(nctx, job.QuestionID, MsgRewriteError)
	}
}

func rewriteBackground(job RewriteJob) string {
	background := "Write " + job.Type.Natural() + " about " + job.Topic + "."
	if c := strings.TrimSpace(job.Context); c != "" {
		background += " Refer to the following for more information:\n" + c
	}
	return background
}
