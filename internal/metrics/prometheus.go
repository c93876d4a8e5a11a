package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "question_app_stage_duration_seconds",
			Help:    "Duration of each generation stage in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	QuestionsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "question_app_questions_emitted_total",
			Help: "Questions pushed to callers, by source",
		},
		[]string{"source"},
	)

	GenerationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "question_app_generation_outcomes_total",
			Help: "Generation jobs by outcome",
		},
		[]string{"status"},
	)

	VerificationExcluded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "question_app_verification_excluded_total",
			Help: "Retrieved questions rejected by verification",
		},
		[]string{"source"},
	)

	ActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "question_app_active_streams",
			Help: "Generation streams currently running",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "question_app_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "question_app_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	CallbackFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "question_app_callback_failures_total",
			Help: "Outcome callbacks that could not be delivered",
		},
		[]string{"kind"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "question_app_llm_tokens_used_total",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			StageDuration,
			QuestionsEmitted,
			GenerationOutcomes,
			VerificationExcluded,
			ActiveStreams,
			CacheHits,
			CacheMisses,
			CallbackFailures,
			LLMTokensUsed,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
