package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Classifier ClassifierConfig
	Safety     SafetyConfig
	Auth       AuthConfig
	Browser    BrowserConfig
	Alerts     AlertsConfig
	Log        LogConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	RateLimit      int // requests per minute per client, 0 disables
}

type StorageConfig struct {
	Backend string // file, postgres or redis
	DataDir string
}

type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type ClassifierConfig struct {
	Provider       string // none, openai, anthropic or http
	Fallback       string
	OpenAIKey      string
	OpenAIBaseURL  string
	VisionModel    string
	AnthropicKey   string
	AnthropicURL   string
	AnthropicModel string
	TextURL        string
	ImageURL       string
	HTTPToken      string
	RetryMax       int
	Timeout        time.Duration
	Threshold      float64
	MaxWords       int
	TextLabels     []string
	ImageLabels    []string
}

type SafetyConfig struct {
	FailClosed       bool
	ImageGranularity string // resource or page
	MaxImages        int
	ImageMaxBytes    int64
	HighSeverity     []string
	RulesFile        string
}

type AuthConfig struct {
	JWTSecret    string
	PasscodeHash string // bcrypt
	TokenTTL     time.Duration
}

type BrowserConfig struct {
	DevToolsURL   string // empty disables the CDP surface
	HomeURL       string
	NoticeBaseURL string
}

type AlertsConfig struct {
	WebhookURL    string
	WebhookSecret string
	Mode          string // inline or asynq
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

func Load() (*Config, error) {
	var errs []string
	intVar := func(key string, fallback int) int {
		v, err := getEnvInt(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	floatVar := func(key string, fallback float64) float64 {
		v, err := getEnvFloat(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	boolVar := func(key string, fallback bool) bool {
		v, err := getEnvBool(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	durationVar := func(key string, fallback time.Duration) time.Duration {
		v, err := getEnvDuration(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}

	port := intVar("SERVER_PORT", 8080)
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "127.0.0.1"),
			Port:           port,
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
			RateLimit:      intVar("RATE_LIMIT_PER_MINUTE", 120),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", "file")),
			DataDir: getEnv("DATA_DIR", "data"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: intVar("DB_MAX_CONNS", 10),
			MinConns: intVar("DB_MIN_CONNS", 1),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        intVar("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "safebrowse:"),
		},
		Classifier: ClassifierConfig{
			Provider:       strings.ToLower(getEnv("CLASSIFIER_PROVIDER", "none")),
			Fallback:       strings.ToLower(getEnv("CLASSIFIER_FALLBACK", "")),
			OpenAIKey:      getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
			VisionModel:    getEnv("OPENAI_VISION_MODEL", "gpt-4o-mini"),
			AnthropicKey:   getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicURL:   getEnv("ANTHROPIC_BASE_URL", ""),
			AnthropicModel: getEnv("ANTHROPIC_MODEL", "claude-3-haiku-20240307"),
			TextURL:        getEnv("CLASSIFIER_TEXT_URL", ""),
			ImageURL:       getEnv("CLASSIFIER_IMAGE_URL", ""),
			HTTPToken:      getEnv("CLASSIFIER_HTTP_TOKEN", ""),
			RetryMax:       intVar("CLASSIFIER_RETRY_MAX", 1),
			Timeout:        durationVar("CLASSIFIER_TIMEOUT", 3*time.Second),
			Threshold:      floatVar("CLASSIFIER_THRESHOLD", 0.8),
			MaxWords:       intVar("CLASSIFIER_MAX_WORDS", 512),
			TextLabels:     getEnvList("CLASSIFIER_UNSAFE_TEXT_LABELS", nil),
			ImageLabels:    getEnvList("CLASSIFIER_UNSAFE_IMAGE_LABELS", nil),
		},
		Safety: SafetyConfig{
			FailClosed:       boolVar("SAFETY_FAIL_CLOSED", false),
			ImageGranularity: strings.ToLower(getEnv("SAFETY_IMAGE_GRANULARITY", "resource")),
			MaxImages:        intVar("SAFETY_MAX_IMAGES", 16),
			ImageMaxBytes:    int64(intVar("SAFETY_IMAGE_MAX_BYTES", 5<<20)),
			HighSeverity:     getEnvList("SAFETY_HIGH_SEVERITY_CATEGORIES", nil),
			RulesFile:        getEnv("PATTERN_RULES_FILE", ""),
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			PasscodeHash: getEnv("PARENT_PASSCODE_HASH", ""),
			TokenTTL:     durationVar("TOKEN_TTL", 12*time.Hour),
		},
		Browser: BrowserConfig{
			DevToolsURL:   getEnv("CDP_DEVTOOLS_URL", ""),
			HomeURL:       getEnv("HOME_URL", "https://www.kiddle.co"),
			NoticeBaseURL: getEnv("NOTICE_BASE_URL", fmt.Sprintf("http://127.0.0.1:%d/blocked", port)),
		},
		Alerts: AlertsConfig{
			WebhookURL:    getEnv("ALERT_WEBHOOK_URL", ""),
			WebhookSecret: getEnv("ALERT_WEBHOOK_SECRET", ""),
			Mode:          strings.ToLower(getEnv("ALERT_QUEUE_MODE", "inline")),
		},
		Log: LogConfig{
			Level:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  intVar("LOG_MAX_SIZE_MB", 50),
			MaxBackups: intVar("LOG_MAX_BACKUPS", 3),
		},
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var problems []string

	var missing []string
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Auth.PasscodeHash == "" {
		missing = append(missing, "PARENT_PASSCODE_HASH")
	}
	switch c.Storage.Backend {
	case "file":
	case "postgres":
		if c.Database.URL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case "redis":
		if c.Redis.Addr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}
	if len(missing) > 0 {
		problems = append(problems, "missing required env vars: "+strings.Join(missing, ", "))
	}

	for _, p := range []string{c.Classifier.Provider, c.Classifier.Fallback} {
		switch p {
		case "", "none", "openai", "anthropic", "http":
		default:
			problems = append(problems, fmt.Sprintf("unknown classifier provider %q", p))
		}
	}
	if c.Classifier.Threshold <= 0 || c.Classifier.Threshold >= 1 {
		problems = append(problems, "CLASSIFIER_THRESHOLD must be between 0 and 1")
	}
	if c.Classifier.Timeout <= 0 {
		problems = append(problems, "CLASSIFIER_TIMEOUT must be positive")
	}
	if g := c.Safety.ImageGranularity; g != "resource" && g != "page" {
		problems = append(problems, fmt.Sprintf("unknown SAFETY_IMAGE_GRANULARITY %q", g))
	}
	if m := c.Alerts.Mode; m != "inline" && m != "asynq" {
		problems = append(problems, fmt.Sprintf("unknown ALERT_QUEUE_MODE %q", m))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
