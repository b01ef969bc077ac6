package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	LogLevel        string
	CORSAllowOrigin []string
	DatabaseURL     string

	StateStore string
	StateKey   string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	RedisAddress  string
	RedisPassword string
	RedisDB       int

	LLMProvider   string
	LLMModel      string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	OutcomeQueueURL string

	Analysis AnalysisConfig
}

// AnalysisConfig carries the orchestrator's admission and retry policy.
type AnalysisConfig struct {
	Cooldown         time.Duration
	JobTimeout       time.Duration
	MaxRetries       int
	GlobalLimit      int
	GlobalWindow     time.Duration
	BreakerThreshold int
	BreakerWindow    time.Duration
	BreakerOpen      time.Duration
	HistoryLimit     int
	CoalesceQueued   bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")
	stateStore := normalizeStateStore(getEnv("STATE_STORE", "memory"))

	if stateStore == "postgres" && dbURL == "" {
		log.Printf("DATABASE_URL is required for STATE_STORE=postgres")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		DatabaseURL:     dbURL,
		StateStore:      stateStore,
		StateKey:        getEnv("STATE_KEY", "analysis-orchestrator"),
		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),
		RedisAddress:    getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		LLMProvider:     normalizeProvider(getEnv("LLM_PROVIDER", "openai")),
		LLMModel:        getEnv("LLM_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		OutcomeQueueURL: getEnv("OUTCOME_QUEUE_URL", ""),
		Analysis:        loadAnalysis(),
	}
}

// DefaultAnalysis returns the orchestrator policy used when no overrides are set.
func DefaultAnalysis() AnalysisConfig {
	return AnalysisConfig{
		Cooldown:         60 * time.Second,
		JobTimeout:       20 * time.Second,
		MaxRetries:       3,
		GlobalLimit:      4,
		GlobalWindow:     time.Minute,
		BreakerThreshold: 3,
		BreakerWindow:    10 * time.Minute,
		BreakerOpen:      15 * time.Minute,
		HistoryLimit:     20,
		CoalesceQueued:   false,
	}
}

func loadAnalysis() AnalysisConfig {
	def := DefaultAnalysis()
	return AnalysisConfig{
		Cooldown:         getEnvDuration("ANALYSIS_COOLDOWN", def.Cooldown),
		JobTimeout:       getEnvDuration("ANALYSIS_JOB_TIMEOUT", def.JobTimeout),
		MaxRetries:       getEnvInt("ANALYSIS_MAX_RETRIES", def.MaxRetries),
		GlobalLimit:      getEnvInt("ANALYSIS_GLOBAL_LIMIT", def.GlobalLimit),
		GlobalWindow:     getEnvDuration("ANALYSIS_GLOBAL_WINDOW", def.GlobalWindow),
		BreakerThreshold: getEnvInt("ANALYSIS_BREAKER_THRESHOLD", def.BreakerThreshold),
		BreakerWindow:    getEnvDuration("ANALYSIS_BREAKER_WINDOW", def.BreakerWindow),
		BreakerOpen:      getEnvDuration("ANALYSIS_BREAKER_OPEN", def.BreakerOpen),
		HistoryLimit:     getEnvInt("ANALYSIS_HISTORY_LIMIT", def.HistoryLimit),
		CoalesceQueued:   getEnvBool("ANALYSIS_COALESCE_QUEUED", def.CoalesceQueued),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config %s invalid int %q, using %d", key, raw, def)
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil || val <= 0 {
		log.Printf("config %s invalid duration %q, using %s", key, raw, def)
		return def
	}
	return val
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("config %s invalid bool %q, using %t", key, raw, def)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeStateStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "pg":
		return "postgres"
	case "object":
		return "object"
	case "redis":
		return "redis"
	default:
		return "memory"
	}
}

func normalizeProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "placeholder", "none":
		return "placeholder"
	default:
		return "openai"
	}
}
