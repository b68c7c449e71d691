package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the service config file.
const ConfigPath = "config.yaml"

// ResolvePath picks the config path: explicit flag value, then CHAT_CONFIG,
// then ConfigPath.
func ResolvePath(flagValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv("CHAT_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	StorageDriver string `yaml:"storageDriver"`
	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	AuthServiceURL string `yaml:"authServiceURL"`
	AuthJWKSURL    string `yaml:"authJwksURL"`
	JWTIssuer      string `yaml:"jwtIssuer"`
	JWTAudience    string `yaml:"jwtAudience"`
	JWTLeeway      string `yaml:"jwtLeeway"`
	BookServiceURL string `yaml:"bookServiceURL"`

	GenerationProvider string `yaml:"generationProvider"`
	GenerationBaseURL  string `yaml:"generationBaseURL"`
	GenerationAPIKey   string `yaml:"generationAPIKey"`
	GenerationModel    string `yaml:"generationModel"`
	MaxResponseTokens  int    `yaml:"maxResponseTokens"`
	CompletionTimeout  string `yaml:"completionTimeout"`
	HistoryLimit       int    `yaml:"historyLimit"`
	PersonaTemplate    string `yaml:"personaTemplate"`

	TurnRateLimitPerMinute int      `yaml:"turnRateLimitPerMinute"`
	InsightCacheTTL        string   `yaml:"insightCacheTTL"`
	TrustedProxyCIDRs      []string `yaml:"trustedProxyCidrs"`

	EventsDriver string `yaml:"eventsDriver"`
	RabbitURL    string `yaml:"rabbitURL"`
	EventsTopic  string `yaml:"eventsTopic"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString("CHAT_PORT", &cfg.Port)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("CHAT_STORAGE_DRIVER", &cfg.StorageDriver)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("CHAT_AUTH_SERVICE_URL", &cfg.AuthServiceURL)
	setString("CHAT_AUTH_JWKS_URL", &cfg.AuthJWKSURL)
	setString("JWT_ISSUER", &cfg.JWTIssuer)
	setString("JWT_AUDIENCE", &cfg.JWTAudience)
	setString("JWT_LEEWAY", &cfg.JWTLeeway)
	setString("CHAT_BOOK_SERVICE_URL", &cfg.BookServiceURL)
	setString("CHAT_GENERATION_PROVIDER", &cfg.GenerationProvider)
	setString("CHAT_GENERATION_BASE_URL", &cfg.GenerationBaseURL)
	setString("CHAT_GENERATION_API_KEY", &cfg.GenerationAPIKey)
	setString("CHAT_GENERATION_MODEL", &cfg.GenerationModel)
	setInt("CHAT_MAX_RESPONSE_TOKENS", &cfg.MaxResponseTokens)
	setString("CHAT_COMPLETION_TIMEOUT", &cfg.CompletionTimeout)
	setInt("CHAT_HISTORY_LIMIT", &cfg.HistoryLimit)
	setInt("CHAT_TURN_RATE_LIMIT_PER_MINUTE", &cfg.TurnRateLimitPerMinute)
	setString("CHAT_INSIGHT_CACHE_TTL", &cfg.InsightCacheTTL)
	setString("CHAT_EVENTS_DRIVER", &cfg.EventsDriver)
	setString("RABBITMQ_URL", &cfg.RabbitURL)
	setString("CHAT_EVENTS_TOPIC", &cfg.EventsTopic)
	if v := os.Getenv("CHAT_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = "postgres"
	}
	cfg.GenerationProvider = strings.ToLower(strings.TrimSpace(cfg.GenerationProvider))
	if cfg.GenerationProvider == "" {
		cfg.GenerationProvider = "mock"
	}
	cfg.EventsDriver = strings.ToLower(strings.TrimSpace(cfg.EventsDriver))
	if cfg.EventsDriver == "" {
		cfg.EventsDriver = "none"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.StorageDriver {
	case "postgres", "sqlite":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return fmt.Errorf("config: databaseURL is required for storageDriver %q (set in config.yaml or DATABASE_URL)", cfg.StorageDriver)
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown storageDriver %q (postgres, sqlite or memory)", cfg.StorageDriver)
	}
	if strings.TrimSpace(cfg.AuthJWKSURL) == "" {
		return errors.New("config: authJwksURL is required (set in config.yaml or CHAT_AUTH_JWKS_URL)")
	}
	switch cfg.GenerationProvider {
	case "openai", "gemini":
		if strings.TrimSpace(cfg.GenerationAPIKey) == "" {
			return fmt.Errorf("config: generationAPIKey is required for provider %q (set in config.yaml or CHAT_GENERATION_API_KEY)", cfg.GenerationProvider)
		}
		if strings.TrimSpace(cfg.GenerationModel) == "" {
			return errors.New("config: generationModel is required (set in config.yaml)")
		}
	case "ollama":
		if strings.TrimSpace(cfg.GenerationModel) == "" {
			return errors.New("config: generationModel is required (set in config.yaml)")
		}
	case "mock":
	default:
		return fmt.Errorf("config: unknown generationProvider %q", cfg.GenerationProvider)
	}
	if cfg.MaxResponseTokens < 0 {
		return errors.New("config: maxResponseTokens must be >= 0")
	}
	if cfg.HistoryLimit < 0 {
		return errors.New("config: historyLimit must be >= 0")
	}
	if cfg.TurnRateLimitPerMinute < 0 {
		return errors.New("config: turnRateLimitPerMinute must be >= 0")
	}
	if cfg.TurnRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when turnRateLimitPerMinute is set")
	}
	if _, err := ParseDuration("completionTimeout", cfg.CompletionTimeout); err != nil {
		return err
	}
	if _, err := ParseDuration("insightCacheTTL", cfg.InsightCacheTTL); err != nil {
		return err
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return err
	}
	switch cfg.EventsDriver {
	case "none":
	case "rabbitmq":
		if strings.TrimSpace(cfg.RabbitURL) == "" {
			return errors.New("config: rabbitURL is required for eventsDriver rabbitmq (set in config.yaml or RABBITMQ_URL)")
		}
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for eventsDriver redis")
		}
	default:
		return fmt.Errorf("config: unknown eventsDriver %q (none, rabbitmq or redis)", cfg.EventsDriver)
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseDuration parses an optional duration setting; empty means zero.
func ParseDuration(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be >= 0", name)
	}
	return dur, nil
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}
