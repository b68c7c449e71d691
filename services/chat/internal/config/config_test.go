package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const baseYAML = `
port: "8083"
logLevel: "debug"
storageDriver: "sqlite"
databaseURL: "file:chat.db"
authJwksURL: "http://localhost:8081/auth/jwks"
generationProvider: "ollama"
generationBaseURL: "http://localhost:11434"
generationModel: "llama3"
completionTimeout: "45s"
historyLimit: 40
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.EventsDriver != "none" {
		t.Fatalf("eventsDriver = %q, want none", cfg.EventsDriver)
	}
	if cfg.HistoryLimit != 40 {
		t.Fatalf("historyLimit = %d, want 40", cfg.HistoryLimit)
	}
	timeout, err := ParseDuration("completionTimeout", cfg.CompletionTimeout)
	if err != nil || timeout != 45*time.Second {
		t.Fatalf("completionTimeout = %v (%v), want 45s", timeout, err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CHAT_GENERATION_PROVIDER", "OpenAI")
	t.Setenv("CHAT_GENERATION_API_KEY", "sk-test")
	t.Setenv("CHAT_GENERATION_MODEL", "gpt-4o-mini")
	t.Setenv("CHAT_MAX_RESPONSE_TOKENS", "256")
	t.Setenv("CHAT_HISTORY_LIMIT", "not-a-number")
	t.Setenv("CHAT_TURN_RATE_LIMIT_PER_MINUTE", "30")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("CHAT_TRUSTED_PROXY_CIDRS", "10.0.0.0/8, ,192.168.0.0/16")

	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.GenerationProvider != "openai" {
		t.Fatalf("provider = %q, want openai", cfg.GenerationProvider)
	}
	if cfg.GenerationModel != "gpt-4o-mini" {
		t.Fatalf("model = %q", cfg.GenerationModel)
	}
	if cfg.MaxResponseTokens != 256 {
		t.Fatalf("maxResponseTokens = %d, want 256", cfg.MaxResponseTokens)
	}
	if cfg.HistoryLimit != 40 {
		t.Fatalf("historyLimit = %d, want yaml value kept", cfg.HistoryLimit)
	}
	if cfg.TurnRateLimitPerMinute != 30 {
		t.Fatalf("turnRateLimitPerMinute = %d, want 30", cfg.TurnRateLimitPerMinute)
	}
	if len(cfg.TrustedProxyCIDRs) != 2 {
		t.Fatalf("trusted proxies = %v", cfg.TrustedProxyCIDRs)
	}
}

func TestValidateConfigRejects(t *testing.T) {
	valid := FileConfig{
		Port:               "8083",
		StorageDriver:      "memory",
		AuthJWKSURL:        "http://localhost/jwks",
		GenerationProvider: "mock",
		EventsDriver:       "none",
	}
	if err := validateConfig(valid); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(*FileConfig){
		"unknown storage":      func(c *FileConfig) { c.StorageDriver = "mongo" },
		"postgres without dsn": func(c *FileConfig) { c.StorageDriver = "postgres" },
		"missing jwks":         func(c *FileConfig) { c.AuthJWKSURL = "" },
		"openai without key":   func(c *FileConfig) { c.GenerationProvider = "openai"; c.GenerationModel = "m" },
		"unknown provider":     func(c *FileConfig) { c.GenerationProvider = "claude-local" },
		"negative history":     func(c *FileConfig) { c.HistoryLimit = -1 },
		"rate limit no redis":  func(c *FileConfig) { c.TurnRateLimitPerMinute = 10 },
		"bad timeout":          func(c *FileConfig) { c.CompletionTimeout = "soon" },
		"negative ttl":         func(c *FileConfig) { c.InsightCacheTTL = "-1s" },
		"rabbit without url":   func(c *FileConfig) { c.EventsDriver = "rabbitmq" },
		"unknown events":       func(c *FileConfig) { c.EventsDriver = "kafka" },
	}
	for name, mutate := range cases {
		cfg := valid
		mutate(&cfg)
		if err := validateConfig(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("CHAT_CONFIG", "")
	if got := ResolvePath(""); got != ConfigPath {
		t.Fatalf("ResolvePath() = %q, want %q", got, ConfigPath)
	}
	t.Setenv("CHAT_CONFIG", "/etc/chat.yaml")
	if got := ResolvePath(""); got != "/etc/chat.yaml" {
		t.Fatalf("ResolvePath() = %q, want env value", got)
	}
	if got := ResolvePath("local.yaml"); got != "local.yaml" {
		t.Fatalf("ResolvePath(flag) = %q, want flag value", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read error, got %v", err)
	}
}
