// Package config loads service configuration from the environment. main
// loads a .env file first via godotenv; everything here reads plain env vars
// with defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	ListenAddr    string
	DatabasePath  string
	WorkspaceRoot string

	// HostedMode refuses local_path project sources; the server then only
	// touches directories it created itself under WorkspaceRoot.
	HostedMode bool

	// APIToken, when set, is required as a bearer token on every request.
	APIToken string

	LLMBaseURL       string
	LLMAPIKey        string
	LLMModel         string
	ModelPricingPath string

	MaxConcurrentAgents   int
	DiscoveryMaxQuestions int
	TaskTimeout           time.Duration
	SessionTimeout        time.Duration
	WatchdogMaxIterations int64
	PauseGrace            time.Duration

	SubscriberQueueSize int
	OverflowEvictTicks  int

	GateTestCommand      []string
	GateCoverageCommand  []string
	GateTypeCheckCommand []string
	GateLintCommand      []string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:    getEnv("CODEFRAME_LISTEN_ADDR", ":8080"),
		DatabasePath:  getEnv("DATABASE_PATH", "codeframe.db"),
		WorkspaceRoot: getEnv("WORKSPACE_ROOT", "workspaces"),
		HostedMode:    getEnvBool("HOSTED_MODE", false),
		APIToken:      os.Getenv("API_TOKEN"),

		LLMBaseURL:       os.Getenv("LLM_BASE_URL"),
		LLMAPIKey:        os.Getenv("LLM_API_KEY"),
		LLMModel:         getEnv("LLM_MODEL", "gpt-4o"),
		ModelPricingPath: os.Getenv("MODEL_PRICING_PATH"),

		MaxConcurrentAgents:   getEnvInt("MAX_CONCURRENT_AGENTS", 5),
		DiscoveryMaxQuestions: getEnvInt("DISCOVERY_MAX_QUESTIONS", 12),
		TaskTimeout:           getEnvDuration("TASK_TIMEOUT_SECONDS", 600*time.Second),
		SessionTimeout:        getEnvDuration("SESSION_TIMEOUT_SECONDS", 7200*time.Second),
		WatchdogMaxIterations: int64(getEnvInt("WATCHDOG_MAX_ITERATIONS", 1000)),
		PauseGrace:            getEnvMillis("PAUSE_GRACE_MS", 15*time.Second),

		SubscriberQueueSize: getEnvInt("SUBSCRIBER_QUEUE_SIZE", 256),
		OverflowEvictTicks:  getEnvInt("OVERFLOW_EVICT_TICKS", 3),

		GateTestCommand:      getEnvCommand("GATE_TEST_CMD"),
		GateCoverageCommand:  getEnvCommand("GATE_COVERAGE_CMD"),
		GateTypeCheckCommand: getEnvCommand("GATE_TYPECHECK_CMD"),
		GateLintCommand:      getEnvCommand("GATE_LINT_CMD"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.MaxConcurrentAgents <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_AGENTS must be positive, got %d", c.MaxConcurrentAgents)
	}
	if c.DiscoveryMaxQuestions <= 0 {
		return fmt.Errorf("DISCOVERY_MAX_QUESTIONS must be positive, got %d", c.DiscoveryMaxQuestions)
	}
	if c.SubscriberQueueSize <= 0 {
		return fmt.Errorf("SUBSCRIBER_QUEUE_SIZE must be positive, got %d", c.SubscriberQueueSize)
	}
	if c.SessionTimeout <= 0 || c.TaskTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.TaskTimeout >= c.SessionTimeout {
		return fmt.Errorf("TASK_TIMEOUT_SECONDS must be below SESSION_TIMEOUT_SECONDS")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	n := getEnvInt(key, -1)
	if n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	n := getEnvInt(key, -1)
	if n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

// getEnvCommand splits a command string on whitespace. Gate commands are
// simple argv lists; no shell interpretation happens.
func getEnvCommand(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	return strings.Fields(v)
}
