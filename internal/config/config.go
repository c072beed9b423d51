package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting the service reads from the environment.
type Config struct {
	Server    ServerConfig
	Mongo     MongoConfig
	AI        AIConfig
	Prompt    PromptSettings
	Guardrail GuardrailSettings
}

// Load builds the full configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	mongo, err := loadMongoConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	prompt, err := loadPromptSettings()
	if err != nil {
		return nil, err
	}

	guardrail, err := loadGuardrailSettings()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Mongo: mongo, AI: ai, Prompt: prompt, Guardrail: guardrail}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow ":8080" or "127.0.0.1:8080" to pass through as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// MongoConfig describes the durable conversation backend.
type MongoConfig struct {
	URI              string
	Database         string
	SelectionTimeout time.Duration
	ConnectTimeout   time.Duration
	MaxPoolSize      uint64
}

func loadMongoConfig() (MongoConfig, error) {
	selection, err := parseOptionalIntEnv("MONGODB_SELECTION_TIMEOUT_MS")
	if err != nil {
		return MongoConfig{}, err
	}
	selectionMS := 5000
	if selection != nil && *selection > 0 {
		selectionMS = *selection
	}

	connect, err := parseOptionalIntEnv("MONGODB_CONNECT_TIMEOUT_MS")
	if err != nil {
		return MongoConfig{}, err
	}
	connectMS := 10000
	if connect != nil && *connect > 0 {
		connectMS = *connect
	}

	pool, err := parseOptionalIntEnv("MONGODB_MAX_POOL_SIZE")
	if err != nil {
		return MongoConfig{}, err
	}
	poolSize := 50
	if pool != nil && *pool > 0 {
		poolSize = *pool
	}

	return MongoConfig{
		URI:              getEnvOrDefault("MONGODB_URI", "mongodb://localhost:27017"),
		Database:         getEnvOrDefault("MONGODB_DATABASE", "nebula_ai"),
		SelectionTimeout: time.Duration(selectionMS) * time.Millisecond,
		ConnectTimeout:   time.Duration(connectMS) * time.Millisecond,
		MaxPoolSize:      uint64(poolSize),
	}, nil
}

// AIConfig describes the hosted model invoked for generation.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("model credentials missing: provide ARK_API_KEY + ARK_MODEL or the AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// PromptSettings overrides the prompt window bounds.
type PromptSettings struct {
	MaxHistory       int
	SummaryThreshold int
}

func loadPromptSettings() (PromptSettings, error) {
	maxHistory := 10
	if override, err := parseOptionalIntEnv("PROMPT_MAX_HISTORY"); err != nil {
		return PromptSettings{}, err
	} else if override != nil && *override > 0 {
		maxHistory = *override
	}

	threshold := 8
	if override, err := parseOptionalIntEnv("PROMPT_SUMMARY_THRESHOLD"); err != nil {
		return PromptSettings{}, err
	} else if override != nil && *override > 0 {
		threshold = *override
	}

	return PromptSettings{MaxHistory: maxHistory, SummaryThreshold: threshold}, nil
}

// GuardrailSettings toggles the filter's pattern classes per deployment.
type GuardrailSettings struct {
	Harmful   bool
	Spam      bool
	OffTopic  bool
	Profanity bool
}

func loadGuardrailSettings() (GuardrailSettings, error) {
	harmful, err := parseBoolEnv("GUARDRAIL_HARMFUL", true)
	if err != nil {
		return GuardrailSettings{}, err
	}
	spam, err := parseBoolEnv("GUARDRAIL_SPAM", true)
	if err != nil {
		return GuardrailSettings{}, err
	}
	offTopic, err := parseBoolEnv("GUARDRAIL_OFF_TOPIC", true)
	if err != nil {
		return GuardrailSettings{}, err
	}
	profanity, err := parseBoolEnv("GUARDRAIL_PROFANITY", true)
	if err != nil {
		return GuardrailSettings{}, err
	}

	return GuardrailSettings{Harmful: harmful, Spam: spam, OffTopic: offTopic, Profanity: profanity}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
