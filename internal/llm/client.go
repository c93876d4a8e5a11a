package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/rennixue/question-app/internal/metrics"
	"github.com/rennixue/question-app/internal/question"
	"github.com/rennixue/question-app/pkg/circuitbreaker"
)

const (
	analysisMaxTokens = 4096
	chunksMaxTokens   = 8192
	verifyMaxTokens   = 1024
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Client is the chat model behind question.Agent and question.RewriteAgent.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.Breaker
	log         *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		HalfOpenRequests: 2,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           log,
	})

	log.Info("LLM client initialized",
		zap.String("model", cfg.Model),
		zap.String("base_url", oc.BaseURL),
	)

	return &Client{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		cb:          cb,
		log:         log,
	}
}

// complete sends a single user message and returns the whole reply.
func (c *Client) complete(ctx context.Context, stage, userMsg string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return circuitbreaker.Call(ctx, c.cb, func() (string, error) {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: userMsg}},
			Temperature: c.temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("failed to create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("completion has no choices")
		}

		metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))
		c.log.Debug("LLM completion generated",
			zap.String("stage", stage),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)
		return resp.Choices[0].Message.Content, nil
	})
}

func (c *Client) AnalyzeQuery(ctx context.Context, topic string) (string, error) {
	msg, err := render("analyze_query", struct{ Topic string }{topic})
	if err != nil {
		return "", err
	}
	return c.complete(ctx, "analyze_query", msg, analysisMaxTokens)
}

func (c *Client) AnalyzeDescription(ctx context.Context, topic, description string) (string, error) {
	msg, err := render("analyze_description", struct{ Topic, Description string }{topic, description})
	if err != nil {
		return "", err
	}
	return c.complete(ctx, "analyze_description", msg, analysisMaxTokens)
}

func (c *Client) AnalyzeChunks(ctx context.Context, topic string, chunks []string) (string, error) {
	msg, err := render("analyze_chunks", struct {
		Topic  string
		Chunks []string
	}{topic, chunks})
	if err != nil {
		return "", err
	}
	return c.complete(ctx, "analyze_chunks", msg, chunksMaxTokens)
}

func (c *Client) VerifyQuestions(ctx context.Context, p question.VerifyPrompt) (string, error) {
	msg, err := render("verify_questions", p)
	if err != nil {
		return "", err
	}
	return c.complete(ctx, "verify_questions", msg, verifyMaxTokens)
}

func (c *Client) Rewrite(ctx context.Context, background, prompt, q string) (string, error) {
	msg, err := render("rewrite", struct{ Background, Prompt, Question string }{background, prompt, q})
	if err != nil {
		return "", err
	}
	return c.complete(ctx, "rewrite", msg, analysisMaxTokens)
}

// GenerateStream opens a streamed completion. The circuit breaker only
// guards opening the stream; the caller owns it afterwards.
func (c *Client) GenerateStream(ctx context.Context, p question.GeneratePrompt) (question.TextStream, error) {
	msg, err := generateMessage(p)
	if err != nil {
		return nil, err
	}

	stream, err := circuitbreaker.Call(ctx, c.cb, func() (*openai.ChatCompletionStream, error) {
		s, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: msg}},
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
			Stream:      true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open completion stream: %w", err)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Debug("Generation stream opened", zap.Int("number", p.Number), zap.Int("known", len(p.Known)))
	return &textStream{stream: stream}, nil
}

type textStream struct {
	stream *openai.ChatCompletionStream
}

// Recv skips chunks without content. io.EOF from the stream is passed
// through unchanged.
func (s *textStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *textStream) Close() error {
	s.stream.Close()
	return nil
}
