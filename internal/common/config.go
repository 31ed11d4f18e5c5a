package common

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Pipeline   PipelineConfig
	Jobs       JobsConfig
	Capability CapabilityConfig
	RateLimit  RateLimitConfig
	Redis      RedisConfig
	OCR        OCRConfig
	Inbox      InboxConfig
	Log        LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // postgres | mysql | sqlite
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
	HTTPAddr string
}

// PipelineConfig holds normalization, QA and scoring knobs.
type PipelineConfig struct {
	SchemaPath            string // empty uses the embedded default schema
	DateOrder             string // dmy | mdy
	MaxDocumentBytes      int64
	ConfidenceThreshold   float64
	CompletenessThreshold float64
	IntegrityThreshold    float64
	PenaltyPerMissingDoc  float64
}

// JobsConfig holds scheduler and retry configuration.
type JobsConfig struct {
	Workers           int
	PollInterval      time.Duration
	JobTimeout        time.Duration
	DefaultMaxAttempt int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration
}

// CapabilityConfig holds extraction capability configuration.
type CapabilityConfig struct {
	Provider        string // openai | gemini
	Model           string
	APIKey          string
	BaseURL         string
	Temperature     float32
	Timeout         time.Duration
	MaxPromptTokens int
}

// RateLimitConfig configures the limiter shared by all workers.
type RateLimitConfig struct {
	Backend       string // memory | redis
	RatePerSecond float64
	Burst         int
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
}

// RedisConfig is only used when a redis-backed limiter or notifier is enabled.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Notify   bool // fan job events out over redis pub/sub
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	TessdataDir   string
	TesseractLang string
	DPI           int
}

// InboxConfig configures the fsnotify document source.
type InboxConfig struct {
	Dirs     []string
	Debounce time.Duration
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string // text | json
}

// LoadConfig loads configuration from an optional YAML file and environment
// variables. An empty path searches ./subsidy.yaml and /etc/subsidy/.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("subsidy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/subsidy")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, NewAppError(CodeConfig, "read config", err)
		}
	}

	return &Config{
		Database: DatabaseConfig{
			Driver:           strings.ToLower(v.GetString("database.driver")),
			DSN:              v.GetString("database.dsn"),
			MaxConns:         v.GetInt32("database.max_conns"),
			MinConns:         v.GetInt32("database.min_conns"),
			MaxConnLifetime:  v.GetDuration("database.max_conn_lifetime"),
			MaxConnIdleTime:  v.GetDuration("database.max_conn_idle_time"),
			DialTimeout:      v.GetDuration("database.dial_timeout"),
			StatementTimeout: v.GetDuration("database.statement_timeout"),
		},
		Server: ServerConfig{
			GRPCAddr: v.GetString("server.grpc_addr"),
			HTTPAddr: v.GetString("server.http_addr"),
		},
		Pipeline: PipelineConfig{
			SchemaPath:            v.GetString("pipeline.schema_path"),
			DateOrder:             strings.ToLower(v.GetString("pipeline.date_order")),
			MaxDocumentBytes:      v.GetInt64("pipeline.max_document_bytes"),
			ConfidenceThreshold:   v.GetFloat64("pipeline.confidence_threshold"),
			CompletenessThreshold: v.GetFloat64("pipeline.completeness_threshold"),
			IntegrityThreshold:    v.GetFloat64("pipeline.integrity_threshold"),
			PenaltyPerMissingDoc:  v.GetFloat64("pipeline.penalty_per_missing_doc"),
		},
		Jobs: JobsConfig{
			Workers:           v.GetInt("jobs.workers"),
			PollInterval:      v.GetDuration("jobs.poll_interval"),
			JobTimeout:        v.GetDuration("jobs.job_timeout"),
			DefaultMaxAttempt: v.GetInt("jobs.max_attempts"),
			BackoffBase:       v.GetDuration("jobs.backoff_base"),
			BackoffMultiplier: v.GetFloat64("jobs.backoff_multiplier"),
			BackoffMax:        v.GetDuration("jobs.backoff_max"),
		},
		Capability: CapabilityConfig{
			Provider:        strings.ToLower(v.GetString("capability.provider")),
			Model:           v.GetString("capability.model"),
			APIKey:          v.GetString("capability.api_key"),
			BaseURL:         v.GetString("capability.base_url"),
			Temperature:     float32(v.GetFloat64("capability.temperature")),
			Timeout:         v.GetDuration("capability.timeout"),
			MaxPromptTokens: v.GetInt("capability.max_prompt_tokens"),
		},
		RateLimit: RateLimitConfig{
			Backend:       strings.ToLower(v.GetString("ratelimit.backend")),
			RatePerSecond: v.GetFloat64("ratelimit.rate_per_second"),
			Burst:         v.GetInt("ratelimit.burst"),
			MaxRetries:    v.GetInt("ratelimit.max_retries"),
			BackoffBase:   v.GetDuration("ratelimit.backoff_base"),
			BackoffMax:    v.GetDuration("ratelimit.backoff_max"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Channel:  v.GetString("redis.channel"),
			Notify:   v.GetBool("redis.notify"),
		},
		OCR: OCRConfig{
			TessdataDir:   v.GetString("ocr.tessdata_dir"),
			TesseractLang: v.GetString("ocr.tesseract_lang"),
			DPI:           v.GetInt("ocr.dpi"),
		},
		Inbox: InboxConfig{
			Dirs:     splitList(v.GetStringSlice("inbox.dirs")),
			Debounce: v.GetDuration("inbox.debounce"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.dial_timeout", 3*time.Second)
	v.SetDefault("database.statement_timeout", time.Duration(0))

	v.SetDefault("server.grpc_addr", ":8080")
	v.SetDefault("server.http_addr", ":8081")

	v.SetDefault("pipeline.date_order", "dmy")
	v.SetDefault("pipeline.max_document_bytes", 20<<20)
	v.SetDefault("pipeline.confidence_threshold", 0.5)
	v.SetDefault("pipeline.completeness_threshold", 0.7)
	v.SetDefault("pipeline.integrity_threshold", 0.8)
	v.SetDefault("pipeline.penalty_per_missing_doc", 0.1)

	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.poll_interval", 500*time.Millisecond)
	v.SetDefault("jobs.job_timeout", 3*time.Minute)
	v.SetDefault("jobs.max_attempts", 3)
	v.SetDefault("jobs.backoff_base", 5*time.Second)
	v.SetDefault("jobs.backoff_multiplier", 2.0)
	v.SetDefault("jobs.backoff_max", 10*time.Minute)

	v.SetDefault("capability.provider", "openai")
	v.SetDefault("capability.model", "gpt-4o-mini")
	v.SetDefault("capability.temperature", 0.0)
	v.SetDefault("capability.timeout", 45*time.Second)
	v.SetDefault("capability.max_prompt_tokens", 12000)

	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.rate_per_second", 2.0)
	v.SetDefault("ratelimit.burst", 4)
	v.SetDefault("ratelimit.max_retries", 5)
	v.SetDefault("ratelimit.backoff_base", 250*time.Millisecond)
	v.SetDefault("ratelimit.backoff_max", 8*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.channel", "subsidy.jobs")

	v.SetDefault("ocr.tesseract_lang", "eng+fra+deu")
	v.SetDefault("ocr.dpi", 300)

	v.SetDefault("inbox.debounce", 750*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// bindEnv keeps the flat environment names used by the deployment scripts.
func bindEnv(v *viper.Viper) {
	pairs := map[string]string{
		"database.driver":                  "DB_DRIVER",
		"database.dsn":                     "DB_URL",
		"database.max_conns":               "DB_MAX_CONNS",
		"database.min_conns":               "DB_MIN_CONNS",
		"database.max_conn_lifetime":       "DB_MAX_CONN_LIFETIME",
		"database.max_conn_idle_time":      "DB_MAX_CONN_IDLE_TIME",
		"database.dial_timeout":            "DB_DIAL_TIMEOUT",
		"database.statement_timeout":       "DB_STATEMENT_TIMEOUT",
		"server.grpc_addr":                 "GRPC_ADDR",
		"server.http_addr":                 "HTTP_ADDR",
		"pipeline.schema_path":             "SCHEMA_PATH",
		"pipeline.date_order":              "DATE_ORDER",
		"pipeline.max_document_bytes":      "MAX_DOCUMENT_BYTES",
		"pipeline.confidence_threshold":    "QA_CONFIDENCE_THRESHOLD",
		"pipeline.completeness_threshold":  "QA_COMPLETENESS_THRESHOLD",
		"pipeline.integrity_threshold":     "QA_INTEGRITY_THRESHOLD",
		"pipeline.penalty_per_missing_doc": "ELIGIBILITY_PENALTY_PER_DOC",
		"jobs.workers":                     "WORKERS",
		"jobs.poll_interval":               "JOBS_POLL_INTERVAL",
		"jobs.job_timeout":                 "JOB_TIMEOUT",
		"jobs.max_attempts":                "JOBS_MAX_ATTEMPTS",
		"jobs.backoff_base":                "JOBS_BACKOFF_BASE",
		"jobs.backoff_multiplier":          "JOBS_BACKOFF_MULTIPLIER",
		"jobs.backoff_max":                 "JOBS_BACKOFF_MAX",
		"capability.provider":              "CAPABILITY_PROVIDER",
		"capability.model":                 "OPENAI_MODEL",
		"capability.api_key":               "OPENAI_API_KEY",
		"capability.base_url":              "CAPABILITY_BASE_URL",
		"capability.temperature":           "OPENAI_TEMPERATURE",
		"capability.timeout":               "OPENAI_TIMEOUT",
		"capability.max_prompt_tokens":     "MAX_PROMPT_TOKENS",
		"ratelimit.backend":                "RATELIMIT_BACKEND",
		"ratelimit.rate_per_second":        "RATELIMIT_RPS",
		"ratelimit.burst":                  "RATELIMIT_BURST",
		"ratelimit.max_retries":            "RATELIMIT_MAX_RETRIES",
		"redis.addr":                       "REDIS_ADDR",
		"redis.password":                   "REDIS_PASSWORD",
		"redis.db":                         "REDIS_DB",
		"redis.channel":                    "REDIS_CHANNEL",
		"redis.notify":                     "REDIS_NOTIFY",
		"ocr.tessdata_dir":                 "TESSDATA_PREFIX",
		"ocr.tesseract_lang":               "TESSERACT_LANG",
		"inbox.dirs":                       "INBOX_DIRS",
		"log.level":                        "LOG_LEVEL",
		"log.format":                       "LOG_FORMAT",
	}
	for key, env := range pairs {
		_ = v.BindEnv(key, env)
	}
	// Gemini deployments usually only export GEMINI_API_KEY.
	_ = v.BindEnv("capability.api_key", "OPENAI_API_KEY", "GEMINI_API_KEY")
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return NewAppError(CodeConfig, "DB_DRIVER must be one of postgres, mysql, sqlite", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError(CodeConfig, "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" && c.Server.HTTPAddr == "" {
		return NewAppError(CodeConfig, "GRPC_ADDR or HTTP_ADDR is required", ErrInvalidInput)
	}
	switch c.Capability.Provider {
	case "openai", "gemini":
	default:
		return NewAppError(CodeConfig, "CAPABILITY_PROVIDER must be openai or gemini", ErrInvalidInput)
	}
	if c.Capability.APIKey == "" {
		return NewAppError(CodeConfig, "OPENAI_API_KEY (or GEMINI_API_KEY) is required", ErrInvalidInput)
	}
	switch c.Pipeline.DateOrder {
	case "dmy", "mdy":
	default:
		return NewAppError(CodeConfig, "DATE_ORDER must be dmy or mdy", ErrInvalidInput)
	}
	if c.Jobs.Workers <= 0 {
		return NewAppError(CodeConfig, "WORKERS must be positive", ErrInvalidInput)
	}
	if c.Jobs.DefaultMaxAttempt <= 0 {
		return NewAppError(CodeConfig, "JOBS_MAX_ATTEMPTS must be positive", ErrInvalidInput)
	}
	if (c.RateLimit.Backend == "redis" || c.Redis.Notify) && c.Redis.Addr == "" {
		return NewAppError(CodeConfig, "REDIS_ADDR is required for the redis limiter", ErrInvalidInput)
	}
	return nil
}
