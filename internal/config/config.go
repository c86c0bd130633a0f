package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string   `envconfig:"PORT" default:"8080"`
	Environment string   `envconfig:"ENVIRONMENT" default:"local"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS"`

	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DSN      string `envconfig:"DSN" default:"file:calls.db?_pragma=busy_timeout(5000)"`

	Jobs      JobsConfig
	Providers ProvidersConfig
	Analytics AnalyticsConfig

	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`
}

// JobsConfig controls the transcription/analysis worker pools.
type JobsConfig struct {
	TranscriptionWorkers int           `envconfig:"TRANSCRIPTION_WORKERS" default:"2"`
	AnalysisWorkers      int           `envconfig:"ANALYSIS_WORKERS" default:"2"`
	TranscriptionTimeout time.Duration `envconfig:"TRANSCRIPTION_TIMEOUT" default:"30s"`
	AnalysisTimeout      time.Duration `envconfig:"ANALYSIS_TIMEOUT" default:"60s"`
	MaxAttempts          int           `envconfig:"JOB_MAX_ATTEMPTS" default:"3"`
	BackoffInitial       time.Duration `envconfig:"JOB_BACKOFF_INITIAL" default:"1s"`
	BackoffMultiplier    float64       `envconfig:"JOB_BACKOFF_MULTIPLIER" default:"5"`
	BackoffMax           time.Duration `envconfig:"JOB_BACKOFF_MAX" default:"30s"`
	QueueSize            int           `envconfig:"JOB_QUEUE_SIZE" default:"256"`
	AutoTranscribe       bool          `envconfig:"AUTO_TRANSCRIBE" default:"true"`
	AutoAnalyze          bool          `envconfig:"AUTO_ANALYZE" default:"true"`
	StaleSchedule        string        `envconfig:"STALE_JOB_SCHEDULE" default:"@every 1m"`
	StaleAfter           time.Duration `envconfig:"STALE_JOB_AFTER" default:"5m"`
}

type ProvidersConfig struct {
	TranscribeURL     string `envconfig:"TRANSCRIBE_URL"`
	UseMockTranscribe bool   `envconfig:"USE_MOCK_TRANSCRIBE"`

	LLMProvider   string `envconfig:"LLM_PROVIDER" default:"gateway"`
	LLMGatewayURL string `envconfig:"LLM_GATEWAY_URL"`
	LLMAPIKey     string `envconfig:"LLM_API_KEY"`
	LLMModel      string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMBaseURL    string `envconfig:"LLM_BASE_URL"`
	UseMockLLM    bool   `envconfig:"USE_MOCK_LLM"`

	IntentAllowlist    []string `envconfig:"INTENT_ALLOWLIST"`
	OutcomeAllowlist   []string `envconfig:"OUTCOME_ALLOWLIST"`
	SentimentAllowlist []string `envconfig:"SENTIMENT_ALLOWLIST" default:"positive,neutral,negative,mixed"`
}

type AnalyticsConfig struct {
	TopIntents int           `envconfig:"ANALYTICS_TOP_INTENTS" default:"5"`
	CacheTTL   time.Duration `envconfig:"ANALYTICS_CACHE_TTL" default:"15s"`
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch strings.ToLower(c.DBDriver) {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.Jobs.TranscriptionWorkers <= 0 || c.Jobs.AnalysisWorkers <= 0 {
		return fmt.Errorf("worker counts must be positive")
	}
	if c.Jobs.MaxAttempts <= 0 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be positive")
	}
	if c.Jobs.TranscriptionTimeout <= 0 || c.Jobs.AnalysisTimeout <= 0 {
		return fmt.Errorf("job timeouts must be positive")
	}
	switch c.Providers.LLMProvider {
	case "gateway", "openai":
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.Providers.LLMProvider)
	}
	return nil
}
