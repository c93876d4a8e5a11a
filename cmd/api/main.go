package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/rennixue/question-app/internal/api/handlers"
	"github.com/rennixue/question-app/internal/cache/redis"
	"github.com/rennixue/question-app/internal/callback"
	"github.com/rennixue/question-app/internal/kg/neo4j"
	"github.com/rennixue/question-app/internal/llm"
	"github.com/rennixue/question-app/internal/majors"
	"github.com/rennixue/question-app/internal/metrics"
	"github.com/rennixue/question-app/internal/middleware/ratelimit"
	"github.com/rennixue/question-app/internal/middleware/requestid"
	"github.com/rennixue/question-app/internal/middleware/security"
	"github.com/rennixue/question-app/internal/middleware/validation"
	"github.com/rennixue/question-app/internal/question"
	"github.com/rennixue/question-app/internal/storage/sqlite"
	"github.com/rennixue/question-app/internal/vector/zilliz"
	"github.com/rennixue/question-app/pkg/config"
	appLogger "github.com/rennixue/question-app/pkg/logger"
	"github.com/rennixue/question-app/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	log := appLogger.GetLogger()
	appLogger.Info("Starting question generation server", zap.String("env", cfg.App.Env))

	metrics.Init()
	ctx := context.Background()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path, appLogger.Named("sqlite"))
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	zillizClient, err := retry.Do(ctx, retry.StartupPolicy("zilliz", log), func(ctx context.Context) (*zilliz.Client, error) {
		return zilliz.NewClient(ctx, cfg.Zilliz.Endpoint, cfg.Zilliz.APIKey, appLogger.Named("zilliz"))
	})
	if err != nil {
		appLogger.Fatal("Failed to create Zilliz client", zap.Error(err))
	}
	defer zillizClient.Close()

	majorGraph, err := retry.Do(ctx, retry.StartupPolicy("neo4j", log), func(ctx context.Context) (*neo4j.MajorGraph, error) {
		return neo4j.NewMajorGraph(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database, appLogger.Named("neo4j"))
	})
	if err != nil {
		appLogger.Fatal("Failed to create Neo4j client", zap.Error(err))
	}
	defer majorGraph.Close(context.Background())

	// The embedding cache is optional; without Redis every text is embedded.
	var cache llm.EmbeddingCache
	redisClient, err := retry.Do(ctx, retry.StartupPolicy("redis", log), func(ctx context.Context) (*redis.Client, error) {
		return redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, appLogger.Named("redis"))
	})
	if err != nil {
		appLogger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		cache = redisClient
	}

	llmClient := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.ChatModel,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	}, appLogger.Named("llm"))

	embedder := llm.NewEmbedder(llm.EmbedderConfig{
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
		Model:    cfg.Embedding.Model,
		CacheTTL: time.Duration(cfg.Embedding.CacheTTLSec) * time.Second,
	}, cache, appLogger.Named("embedding"))

	notifier := callback.NewNotifier(callback.Config{
		BaseURL: cfg.Callback.BaseURL,
		Skip:    cfg.Callback.Skip,
		Timeout: time.Duration(cfg.Callback.TimeoutSec) * time.Second,
	}, appLogger.Named("callback"))

	gen := cfg.Generation
	orchestrator := question.NewOrchestrator(question.Deps{
		Agent:    llmClient,
		Index:    zilliz.NewQuestionIndex(zillizClient, cfg.Zilliz.QuestionCollection, appLogger.Named("questions")),
		Embedder: embedder,
		Chunks:   zilliz.NewChunkStore(zillizClient, cfg.Zilliz.ChunkCollection, appLogger.Named("chunks")),
		Majors: majors.NewResolver(
			embedder,
			zilliz.NewMajorIndex(zillizClient, cfg.Zilliz.MajorCollection, appLogger.Named("majors")),
			majorGraph,
			appLogger.Named("majors"),
		),
		Audit:    sqlite.NewAuditLog(sqliteClient),
		Notifier: notifier,
	}, question.Config{
		Limits: question.RetrievalLimits{
			SameCourse:     gen.SameCourseLimit,
			SameUniversity: gen.SameUniversityLimit,
			Historical:     gen.HistoricalLimit,
		},
		ChunkLimit:     gen.ChunkLimit,
		VerifyMaxChars: gen.VerifyMaxChars,
		BatchMin:       gen.BatchMin,
		BatchMax:       gen.BatchMax,
		Debounce:       gen.Debounce(),
		IsDev:          cfg.App.IsDev(),
	}, appLogger.Named("orchestrator"))

	rewriter := question.NewRewriter(llmClient, notifier, cfg.Server.RewriteBudget(), appLogger.Named("rewriter"))

	// A stream holds its response open for the whole generate budget.
	writeTimeout := max(time.Duration(cfg.Server.WriteTimeout)*time.Second, cfg.Server.GenerateBudget()+30*time.Second)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: writeTimeout,
		BodyLimit:    cfg.Server.BodyLimit,
		ErrorHandler: errorHandler,
	})

	app.Use(recover.New())
	app.Use(requestid.Middleware())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency} ${respHeader:X-Request-ID}\n",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: cfg.App.IsDev()}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, X-Request-ID",
		AllowMethods:  "GET, POST, OPTIONS",
		ExposeHeaders: "X-Request-ID",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
		Burst:             cfg.Server.RateLimit.Burst,
		Logger:            appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	questionHandler := handlers.NewQuestionHandler(orchestrator, rewriter, cfg.Server.GenerateBudget(), appLogger.Named("handler"))
	wsHandler := handlers.NewWebSocketHandler(questionHandler, appLogger.Named("websocket"))
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Check{
		"zilliz": func(ctx context.Context) error { return zillizClient.Ping(ctx, cfg.Zilliz.QuestionCollection) },
		"neo4j":  majorGraph.Ping,
		"sqlite": sqliteClient.Ping,
		"redis": func(ctx context.Context) error {
			if redisClient == nil {
				return errors.New("not connected")
			}
			return redisClient.Ping(ctx)
		},
	}, 5*time.Second, appLogger.Named("health"))

	api := app.Group("/api")
	api.Get("/health", healthHandler.Health)

	questions := api.Group("/question", limiter.Middleware())
	questions.Post("/generate-blocks",
		validation.Body[question.GenerateRequest, question.Request](log),
		questionHandler.GenerateBlocks,
	)
	questions.Get("/generate-blocks/ws", wsHandler.Upgrade, websocket.New(wsHandler.HandleConnection))
	questions.Post("/rewrite",
		validation.Body[question.RewriteRequest, question.RewriteJob](log),
		questionHandler.Rewrite,
	)

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Error("Server shutdown incomplete", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal server error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		msg = e.Message
	} else {
		appLogger.Error("Unhandled request error",
			zap.String("path", c.Path()),
			zap.String("request_id", requestid.Get(c)),
			zap.Error(err),
		)
	}

	return c.Status(code).JSON(fiber.Map{
		"error": msg,
	})
}
