package handlers

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/rennixue/question-app/internal/middleware/requestid"
	"github.com/rennixue/question-app/internal/middleware/validation"
	"github.com/rennixue/question-app/internal/question"
)

type streamStarter interface {
	Start(ctx context.Context, req question.Request) *question.Stream
}

type rewriteRunner interface {
	Run(ctx context.Context, job question.RewriteJob)
}

type QuestionHandler struct {
	orchestrator streamStarter
	rewriter     rewriteRunner
	budget       time.Duration
	log          *zap.Logger
}

func NewQuestionHandler(orchestrator streamStarter, rewriter rewriteRunner, budget time.Duration, log *zap.Logger) *QuestionHandler {
	if budget <= 0 {
		budget = 180 * time.Second
	}
	return &QuestionHandler{
		orchestrator: orchestrator,
		rewriter:     rewriter,
		budget:       budget,
		log:          log,
	}
}

// start begins a job detached from the transport. fasthttp does not cancel
// request contexts on disconnect, so writers close the stream themselves.
func (h *QuestionHandler) start(id string, req question.Request) (*question.Stream, context.CancelFunc) {
	ctx := question.WithRequestID(context.Background(), id)
	ctx, cancel := context.WithTimeout(ctx, h.budget)
	return h.orchestrator.Start(ctx, req), cancel
}

// GenerateBlocks streams the job's blocks as server-sent events.
func (h *QuestionHandler) GenerateBlocks(c *fiber.Ctx) error {
	req, ok := validation.Validated[question.Request](c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	id := requestid.Get(c)
	log := h.log.With(zap.Int64("task_id", req.TaskID), zap.String("request_id", id))
	log.Info("Generate blocks requested",
		zap.String("topic", req.Topic),
		zap.Stringer("type", req.Type),
	)

	stream, cancel := h.start(id, req)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(sseWriter(stream, cancel, log))
	return nil
}

// sseWriter pushes blocks until the terminal one. A failed flush means the
// client went away, and closing the stream reports the job as cancelled.
func sseWriter(stream *question.Stream, cancel context.CancelFunc, log *zap.Logger) fasthttp.StreamWriter {
	return func(w *bufio.Writer) {
		defer cancel()
		defer stream.Close()

		for {
			b, err := stream.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			frame, err := question.EncodeSSE(b)
			if err != nil {
				log.Error("Failed to encode block", zap.Error(err))
				return
			}
			if _, err := w.Write(frame); err != nil {
				log.Warn("Client went away", zap.Error(err))
				return
			}
			if err := w.Flush(); err != nil {
				log.Warn("Client went away", zap.Error(err))
				return
			}
		}
	}
}

// Rewrite accepts the job and reports the result through the callback.
func (h *QuestionHandler) Rewrite(c *fiber.Ctx) error {
	job, ok := validation.Validated[question.RewriteJob](c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	id := requestid.Get(c)
	h.log.Info("Rewrite requested",
		zap.Int64("question_id", job.QuestionID),
		zap.String("request_id", id),
	)

	go h.rewriter.Run(question.WithRequestID(context.Background(), id), job)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"rewritten_from": job.QuestionID,
		"status":         "created",
		"message":        "ok",
	})
}
