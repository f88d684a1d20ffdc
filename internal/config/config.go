// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, the Slack app credentials, the job store,
// the remote collection/training/inference services, generation parameters,
// rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-doppel-bot/internal/domain"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "doppel")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SlackConfig holds the workspace app credentials.
type SlackConfig struct {
	BotToken      string // SLACK_BOT_TOKEN (xoxb-…)
	SigningSecret string // SLACK_SIGNING_SECRET; empty disables request verification
	APIBaseURL    string // SLACK_API_URL
}

// Store drivers.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// StoreConfig selects and locates the job store.
type StoreConfig struct {
	Driver      string // STORE_DRIVER: sqlite|postgres|redis
	DBPath      string // DB_PATH (sqlite)
	DatabaseURL string // DATABASE_URL (postgres DSN)
	RedisURL    string // REDIS_URL (redis://host:port/db)
}

// RemoteConfig locates the collection, fine-tuning, and inference services.
type RemoteConfig struct {
	CollectorURL string        // COLLECTOR_URL
	FineTunerURL string        // FINETUNER_URL
	InferenceURL string        // INFERENCE_URL
	Token        string        // SERVICE_TOKEN (bearer token for all three)
	Timeout      time.Duration // REMOTE_TIMEOUT for inference calls
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration // drain window for in-flight work
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	Slack  SlackConfig
	Store  StoreConfig
	Remote RemoteConfig

	// Generation
	MaxInputChars int // character budget of the conversation window
	Sampling      domain.SamplingConfig

	// Pipeline
	PipelineTimeout time.Duration // ceiling for collection + training
	MentionTimeout  time.Duration // ceiling for one mention reply
	EventReceiptTTL time.Duration // how long a seen event id suppresses redeliveries

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	def := domain.DefaultSampling()
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		Slack: SlackConfig{
			BotToken:      getenv("SLACK_BOT_TOKEN", ""),
			SigningSecret: getenv("SLACK_SIGNING_SECRET", ""),
			APIBaseURL:    strings.TrimRight(getenv("SLACK_API_URL", "https://slack.com/api"), "/"),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(strings.TrimSpace(getenv("STORE_DRIVER", StoreSQLite))),
			DBPath:      getenv("DB_PATH", "doppel.db"),
			DatabaseURL: getenv("DATABASE_URL", ""),
			RedisURL:    getenv("REDIS_URL", ""),
		},
		Remote: RemoteConfig{
			CollectorURL: getenv("COLLECTOR_URL", ""),
			FineTunerURL: getenv("FINETUNER_URL", ""),
			InferenceURL: getenv("INFERENCE_URL", ""),
			Token:        getenv("SERVICE_TOKEN", ""),
			Timeout:      getdur("REMOTE_TIMEOUT", 90*time.Second),
		},

		// Generation
		MaxInputChars: getint("MAX_INPUT_CHARS", 512),
		Sampling: domain.SamplingConfig{
			DoSample:          getbool("GEN_DO_SAMPLE", def.DoSample),
			Temperature:       getfloat("GEN_TEMPERATURE", def.Temperature),
			TopP:              getfloat("GEN_TOP_P", def.TopP),
			TopK:              getint("GEN_TOP_K", def.TopK),
			NumBeams:          getint("GEN_NUM_BEAMS", def.NumBeams),
			MaxNewTokens:      getint("GEN_MAX_NEW_TOKENS", def.MaxNewTokens),
			RepetitionPenalty: getfloat("GEN_REPETITION_PENALTY", def.RepetitionPenalty),
		},

		// Pipeline
		PipelineTimeout: getdur("PIPELINE_TIMEOUT", 4*time.Hour),
		MentionTimeout:  getdur("MENTION_TIMEOUT", 2*time.Minute),
		EventReceiptTTL: getdur("EVENT_RECEIPT_TTL", time.Hour),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "doppel"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.Store.Driver == "sqlite3" {
		cfg.Store.Driver = StoreSQLite
	}
	if cfg.Store.Driver == "postgresql" || cfg.Store.Driver == "pg" {
		cfg.Store.Driver = StorePostgres
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("SHUTDOWN_TIMEOUT must be > 0")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.Store.Driver {
	case StoreSQLite:
		if strings.TrimSpace(cfg.Store.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case StorePostgres:
		if strings.TrimSpace(cfg.Store.DatabaseURL) == "" {
			return cfg, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case StoreRedis:
		if strings.TrimSpace(cfg.Store.RedisURL) == "" {
			return cfg, errors.New("REDIS_URL is required when STORE_DRIVER=redis")
		}
	default:
		return cfg, errors.New("STORE_DRIVER must be one of: sqlite, postgres, redis")
	}
	if cfg.Remote.Timeout <= 0 {
		return cfg, errors.New("REMOTE_TIMEOUT must be > 0")
	}
	if cfg.MaxInputChars <= 0 {
		return cfg, errors.New("MAX_INPUT_CHARS must be > 0")
	}
	if cfg.Sampling.Temperature < 0 {
		return cfg, errors.New("GEN_TEMPERATURE must be >= 0")
	}
	if cfg.Sampling.TopP < 0 || cfg.Sampling.TopP > 1 {
		return cfg, errors.New("GEN_TOP_P must be in [0,1]")
	}
	if cfg.Sampling.TopK < 0 || cfg.Sampling.NumBeams < 1 || cfg.Sampling.MaxNewTokens < 1 {
		return cfg, errors.New("GEN_TOP_K must be >= 0, GEN_NUM_BEAMS and GEN_MAX_NEW_TOKENS >= 1")
	}
	if cfg.Sampling.RepetitionPenalty <= 0 {
		return cfg, errors.New("GEN_REPETITION_PENALTY must be > 0")
	}
	if cfg.PipelineTimeout <= 0 || cfg.MentionTimeout <= 0 {
		return cfg, errors.New("PIPELINE_TIMEOUT and MENTION_TIMEOUT must be > 0")
	}
	if cfg.EventReceiptTTL <= 0 {
		return cfg, errors.New("EVENT_RECEIPT_TTL must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
