package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Decision backends
const (
	DecisionClaude = "claude"
	DecisionGemini = "gemini"
	DecisionRules  = "rules"
)

// Session backends
const (
	SessionMemory = "memory"
	SessionSQLite = "sqlite"
	SessionRedis  = "redis"
)

type Config struct {
	// HTTP Server
	Port            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Decision engine
	DecisionBackend string
	AnthropicAPIKey string
	AnthropicModel  string
	GeminiAPIKey    string
	GeminiModel     string
	MaxTokens       int
	MaxRounds       int
	DecisionTimeout time.Duration
	RoutingFile     string

	// Speech synthesis
	TTSEnabled         bool
	TTSAPIKey          string
	TTSCredentialsFile string
	TTSLanguage        string
	TTSVoice           string
	TTSTimeout         time.Duration

	// Session state
	SessionBackend   string
	SQLiteDBPath     string
	RedisURL         string
	SessionTTL       time.Duration
	SessionCacheSize int
	SessionCacheTTL  time.Duration

	// AMQP audit events (optional)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	AMQPPrefetch int

	// Rate limiting
	RateLimitPerMinute int
}

func Load() *Config {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DecisionBackend: getEnv("DECISION_BACKEND", DecisionRules),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-haiku-4-5"),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		MaxTokens:       getEnvInt("DECISION_MAX_TOKENS", 1024),
		MaxRounds:       getEnvInt("DECISION_MAX_ROUNDS", 8),
		DecisionTimeout: getEnvDuration("DECISION_TIMEOUT", 30*time.Second),
		RoutingFile:     getEnv("ROUTING_FILE", ""),

		TTSEnabled:         getEnvBool("TTS_ENABLED", false),
		TTSAPIKey:          getEnv("TTS_API_KEY", ""),
		TTSCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		TTSLanguage:        getEnv("TTS_LANGUAGE", "en-US"),
		TTSVoice:           getEnv("TTS_VOICE", "en-US-Neural2-F"),
		TTSTimeout:         getEnvDuration("TTS_TIMEOUT", 20*time.Second),

		SessionBackend:   getEnv("SESSION_BACKEND", SessionMemory),
		SQLiteDBPath:     getEnv("SQLITE_DB_PATH", "./data/aiquery.db"),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SessionTTL:       getEnvDuration("SESSION_TTL", 0),
		SessionCacheSize: getEnvInt("SESSION_CACHE_SIZE", 256),
		SessionCacheTTL:  getEnvDuration("SESSION_CACHE_TTL", 5*time.Minute),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "aiquery"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "conversation_audit"),
		AMQPPrefetch: getEnvInt("AMQP_PREFETCH", 10),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validDecision := []string{DecisionClaude, DecisionGemini, DecisionRules}
	if !slices.Contains(validDecision, c.DecisionBackend) {
		errors = append(errors, fmt.Sprintf("invalid decision backend '%s': must be one of %v", c.DecisionBackend, validDecision))
	}
	if c.DecisionBackend == DecisionClaude && c.AnthropicAPIKey == "" {
		errors = append(errors, "ANTHROPIC_API_KEY is required when using the claude decision backend")
	}
	if c.DecisionBackend == DecisionGemini && c.GeminiAPIKey == "" {
		errors = append(errors, "GEMINI_API_KEY is required when using the gemini decision backend")
	}
	if c.MaxRounds < 1 || c.MaxRounds > 32 {
		errors = append(errors, fmt.Sprintf("invalid max rounds %d: must be between 1 and 32", c.MaxRounds))
	}
	if c.MaxTokens < 64 {
		errors = append(errors, fmt.Sprintf("invalid max tokens %d: must be at least 64", c.MaxTokens))
	}
	if c.RoutingFile != "" {
		if _, err := os.Stat(c.RoutingFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("routing file does not exist: %s", c.RoutingFile))
		}
	}

	if c.TTSEnabled && c.TTSAPIKey == "" && c.TTSCredentialsFile == "" {
		errors = append(errors, "TTS_API_KEY or GOOGLE_APPLICATION_CREDENTIALS is required when TTS_ENABLED is true")
	}

	validSession := []string{SessionMemory, SessionSQLite, SessionRedis}
	if !slices.Contains(validSession, c.SessionBackend) {
		errors = append(errors, fmt.Sprintf("invalid session backend '%s': must be one of %v", c.SessionBackend, validSession))
	}

	if c.SessionBackend == SessionSQLite {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.SessionBackend == SessionRedis {
		if parsedURL, err := url.Parse(c.RedisURL); err != nil || c.RedisURL == "" {
			errors = append(errors, fmt.Sprintf("invalid Redis URL '%s'", c.RedisURL))
		} else if parsedURL.Scheme != "redis" && parsedURL.Scheme != "rediss" {
			errors = append(errors, fmt.Sprintf("invalid Redis URL scheme '%s': must be 'redis' or 'rediss'", parsedURL.Scheme))
		}
	}

	if c.SessionBackend == SessionRedis && c.RequestTimeout <= 0 {
		errors = append(errors, "REQUEST_TIMEOUT must be positive when using the redis session backend: it bounds the thread lock lifetime")
	}

	if c.SessionCacheSize < 0 {
		errors = append(errors, fmt.Sprintf("invalid session cache size %d: must not be negative", c.SessionCacheSize))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// lockMargin covers saving the conversation after the run deadline.
const lockMargin = 30 * time.Second

// LockTTL is how long a distributed thread lock may live. It outlasts the
// longest run REQUEST_TIMEOUT allows; zero means unbounded runs.
func (c *Config) LockTTL() time.Duration {
	if c.RequestTimeout <= 0 {
		return 0
	}
	return c.RequestTimeout + lockMargin
}

// AuditEnabled reports whether conversation audit events should be published
func (c *Config) AuditEnabled() bool {
	return c.AMQPURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
