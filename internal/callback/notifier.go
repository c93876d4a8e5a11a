// Package callback reports job outcomes to the courseware platform.
package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rennixue/question-app/internal/metrics"
	"github.com/rennixue/question-app/internal/question"
)

const (
	generatePath  = "/courseware_platform/question/callback/generate"
	rewrittenPath = "/courseware_platform/question/callback/rewritten"
)

type Config struct {
	BaseURL string
	// Skip logs each request instead of sending it.
	Skip    bool
	Timeout time.Duration
}

// Notifier posts generation and rewrite outcomes. Delivery failures are
// logged and counted, never returned.
type Notifier struct {
	cfg Config
	log *zap.Logger
}

func NewNotifier(cfg Config, log *zap.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Notifier{cfg: cfg, log: log}
}

type questionPayload struct {
	QuestionNo      string `json:"questionNo"`
	QuestionType    int    `json:"questionType"`
	GenType         int    `json:"genType"`
	GenNo           int    `json:"genNo"`
	BatchNo         int    `json:"batchNo"`
	GenQuestion     string `json:"genQuestion"`
	GenQuestionInfo string `json:"genQuestionInfo,omitempty"`
}

type sectionPayload struct {
	GenType int     `json:"genType"`
	BatchNo int     `json:"batchNo"`
	Count   int     `json:"count"`
	Elapsed float64 `json:"elapsed"`
}

type generatePayload struct {
	Status    int               `json:"status"`
	TaskID    int64             `json:"taskId"`
	Questions []questionPayload `json:"questions"`
	Sections  []sectionPayload  `json:"sections"`
	Error     string            `json:"error,omitempty"`
}

type rewritePayload struct {
	Status     int              `json:"status"`
	QuestionID int64            `json:"questionId"`
	Question   *questionPayload `json:"question,omitempty"`
	Error      string           `json:"error,omitempty"`
}

func toQuestionPayload(q question.Question, genNo int) questionPayload {
	return questionPayload{
		QuestionNo:      strings.ReplaceAll(q.ID.String(), "-", ""),
		QuestionType:    q.Type.Code(),
		GenType:         q.Source.Code(),
		GenNo:           genNo,
		BatchNo:         q.BatchNo,
		GenQuestion:     q.Content,
		GenQuestionInfo: q.MetaInfo,
	}
}

func toGeneratePayload(status int, taskID int64, qs []question.Question, sections []question.Section, msg string) generatePayload {
	p := generatePayload{
		Status:    status,
		TaskID:    taskID,
		Questions: make([]questionPayload, len(qs)),
		Sections:  make([]sectionPayload, len(sections)),
		Error:     msg,
	}
	for i, q := range qs {
		p.Questions[i] = toQuestionPayload(q, i+1)
	}
	for i, s := range sections {
		p.Sections[i] = sectionPayload{
			GenType: s.Source.Code(),
			BatchNo: s.BatchNo,
			Count:   s.Count,
			Elapsed: math.Round(s.Elapsed.Seconds()*100) / 100,
		}
	}
	return p
}

func (n *Notifier) NotifySuccess(ctx context.Context, taskID int64, qs []question.Question, sections []question.Section, note string) {
	n.send(ctx, "generate", generatePath, toGeneratePayload(1, taskID, qs, sections, note))
}

func (n *Notifier) NotifyError(ctx context.Context, taskID int64, message string, qs []question.Question, sections []question.Section) {
	n.send(ctx, "generate", generatePath, toGeneratePayload(0, taskID, qs, sections, message))
}

func (n *Notifier) NotifyRewriteSuccess(ctx context.Context, questionID int64, q question.Question) {
	p := toQuestionPayload(q, -1)
	n.send(ctx, "rewrite", rewrittenPath, rewritePayload{Status: 1, QuestionID: questionID, Question: &p})
}

func (n *Notifier) NotifyRewriteError(ctx context.Context, questionID int64, message string) {
	n.send(ctx, "rewrite", rewrittenPath, rewritePayload{Status: 0, QuestionID: questionID, Error: message})
}

func (n *Notifier) send(ctx context.Context, kind, path string, body any) {
	url := n.cfg.BaseURL + path
	requestID := question.RequestID(ctx)
	log := n.log.With(zap.String("kind", kind), zap.String("url", url), zap.String("request_id", requestID))

	if n.cfg.Skip {
		raw, _ := json.Marshal(body)
		log.Info("Skipping callback", zap.ByteString("body", raw))
		return
	}

	if err := n.post(ctx, url, requestID, body); err != nil {
		metrics.CallbackFailures.WithLabelValues(kind).Inc()
		log.Error("Callback failed", zap.Error(err))
		return
	}
	log.Debug("Callback delivered")
}

func (n *Notifier) post(ctx context.Context, url, requestID string, body any) error {
	timeout := n.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if timeout <= 0 {
		return fmt.Errorf("no time left to deliver callback: %w", context.DeadlineExceeded)
	}

	agent := fiber.Post(url).JSON(body).Timeout(timeout)
	if requestID != "" {
		agent.Set("X-Request-Id", requestID)
	}

	code, resp, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("failed to post callback: %w", errs[0])
	}
	if code >= fiber.StatusMultipleChoices {
		return fmt.Errorf("callback rejected with status %d: %s", code, resp)
	}
	return nil
}
