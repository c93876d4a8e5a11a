package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig
	Server     ServerConfig
	Callback   CallbackConfig
	LLM        LLMConfig
	Embedding  EmbeddingConfig
	Zilliz     ZillizConfig
	Neo4j      Neo4jConfig
	Redis      RedisConfig
	SQLite     SQLiteConfig
	Generation GenerationConfig
	Logging    LoggingConfig
}

type AppConfig struct {
	Env string
}

// IsDev reports whether audit rows should be marked as development traffic.
func (a AppConfig) IsDev() bool {
	return a.Env != "production"
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        int
	WriteTimeout       int
	BodyLimit          int
	MaxGenerateSeconds int
	MaxRewriteSeconds  int
	RateLimit          RateLimitConfig
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type CallbackConfig struct {
	BaseURL    string
	Skip       bool
	TimeoutSec int
}

type LLMConfig struct {
	BaseURL     string
	APIKey      string
	ChatModel   string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type EmbeddingConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Dimension   int
	CacheTTLSec int
}

type ZillizConfig struct {
	Endpoint           string
	APIKey             string
	QuestionCollection string
	ChunkCollection    string
	MajorCollection    string
	VectorDim          int
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type SQLiteConfig struct {
	Path string
}

type GenerationConfig struct {
	BatchMin            int
	BatchMax            int
	DebounceMillis      int
	SameCourseLimit     int
	SameUniversityLimit int
	HistoricalLimit     int
	ChunkLimit          int
	VerifyMaxChars      int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (s ServerConfig) GenerateBudget() time.Duration {
	return time.Duration(s.MaxGenerateSeconds) * time.Second
}

func (s ServerConfig) RewriteBudget() time.Duration {
	return time.Duration(s.MaxRewriteSeconds) * time.Second
}

func (g GenerationConfig) Debounce() time.Duration {
	return time.Duration(g.DebounceMillis) * time.Millisecond
}

func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/question-app")

	v.SetEnvPrefix("QUESTION_APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Generation.BatchMin <= 0 || c.Generation.BatchMax < c.Generation.BatchMin {
		return fmt.Errorf("invalid generation batch range [%d, %d]", c.Generation.BatchMin, c.Generation.BatchMax)
	}
	if c.Server.MaxGenerateSeconds <= 0 {
		return errors.New("server.maxGenerateSeconds must be positive")
	}
	if !c.Callback.Skip && c.Callback.BaseURL == "" {
		return errors.New("callback.baseURL is required unless callback.skip is set")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 0)
	v.SetDefault("server.bodyLimit", 4194304)
	v.SetDefault("server.maxGenerateSeconds", 180)
	v.SetDefault("server.maxRewriteSeconds", 120)
	v.SetDefault("server.rateLimit.requestsPerMinute", 30)
	v.SetDefault("server.rateLimit.burst", 5)

	v.SetDefault("callback.baseURL", "http://localhost:9000")
	v.SetDefault("callback.skip", false)
	v.SetDefault("callback.timeoutSec", 10)

	v.SetDefault("llm.baseURL", "https://api.openai.com/v1")
	v.SetDefault("llm.chatModel", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.maxTokens", 8192)
	v.SetDefault("llm.timeoutSec", 120)

	v.SetDefault("embedding.baseURL", "http://localhost:11434/v1")
	v.SetDefault("embedding.apiKey", "ollama")
	v.SetDefault("embedding.model", "bge-m3")
	v.SetDefault("embedding.dimension", 1024)
	v.SetDefault("embedding.cacheTTLSec", 86400)

	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.questionCollection", "question_retrieval")
	v.SetDefault("zilliz.chunkCollection", "file_preprocess")
	v.SetDefault("zilliz.majorCollection", "db_major")
	v.SetDefault("zilliz.vectorDim", 1024)

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("sqlite.path", "./data/question-app.db")

	v.SetDefault("generation.batchMin", 10)
	v.SetDefault("generation.batchMax", 20)
	v.SetDefault("generation.debounceMillis", 1000)
	v.SetDefault("generation.sameCourseLimit", 20)
	v.SetDefault("generation.sameUniversityLimit", 20)
	v.SetDefault("generation.historicalLimit", 20)
	v.SetDefault("generation.chunkLimit", 8)
	v.SetDefault("generation.verifyMaxChars", 1000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
