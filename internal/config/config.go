package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Port        int    `koanf:"port"`
	NatsURL     string `koanf:"nats_url"`
	NatsToken   string `koanf:"nats_token"`
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`
	LogLevel    string `koanf:"log_level"`

	LLMProvider     string `koanf:"llm_provider"`
	AnthropicAPIKey string `koanf:"anthropic_api_key"`
	AnthropicModel  string `koanf:"anthropic_model"`
	GeminiAPIKey    string `koanf:"gemini_api_key"`
	GeminiModel     string `koanf:"gemini_model"`

	EvalMaxTokens    int           `koanf:"eval_max_tokens"`
	EvalTimeout      time.Duration `koanf:"eval_timeout"`
	EvalMaxRetries   int           `koanf:"eval_max_retries"`
	EvalStrictBands  bool          `koanf:"eval_strict_bands"`
	ReleaseThreshold float64       `koanf:"release_threshold"`

	SlackBotToken string `koanf:"slack_bot_token"`
	SlackChannel  string `koanf:"slack_disputes_channel"`
	TranscriptURL string `koanf:"transcript_url"`

	StorageEndpoint  string `koanf:"storage_endpoint"`
	StorageAccessKey string `koanf:"storage_access_key"`
	StorageSecretKey string `koanf:"storage_secret_key"`
	StorageBucket    string `koanf:"storage_bucket"`
	StorageUseSSL    bool   `koanf:"storage_use_ssl"`

	APIToken string `koanf:"api_token"`
}

const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// envKeys maps environment variables onto config keys. Variables not listed
// here are ignored.
var envKeys = map[string]string{
	"ARBITER_PORT":           "port",
	"NATS_URL":               "nats_url",
	"NATS_TOKEN":             "nats_token",
	"DATABASE_URL":           "database_url",
	"REDIS_URL":              "redis_url",
	"LOG_LEVEL":              "log_level",
	"LLM_PROVIDER":           "llm_provider",
	"ANTHROPIC_API_KEY":      "anthropic_api_key",
	"ARBITER_MODEL":          "anthropic_model",
	"GEMINI_API_KEY":         "gemini_api_key",
	"GEMINI_MODEL":           "gemini_model",
	"EVAL_MAX_TOKENS":        "eval_max_tokens",
	"EVAL_TIMEOUT":           "eval_timeout",
	"EVAL_MAX_RETRIES":       "eval_max_retries",
	"EVAL_STRICT_BANDS":      "eval_strict_bands",
	"RELEASE_THRESHOLD":      "release_threshold",
	"SLACK_BOT_TOKEN":        "slack_bot_token",
	"SLACK_DISPUTES_CHANNEL": "slack_disputes_channel",
	"TRANSCRIPT_URL":         "transcript_url",
	"STORAGE_ENDPOINT":       "storage_endpoint",
	"STORAGE_ACCESS_KEY":     "storage_access_key",
	"STORAGE_SECRET_KEY":     "storage_secret_key",
	"STORAGE_BUCKET":         "storage_bucket",
	"STORAGE_USE_SSL":        "storage_use_ssl",
	"ARBITER_API_TOKEN":      "api_token",
}

// Defaults leaves RedisURL, TranscriptURL and StorageEndpoint empty. The
// lock, transcript fetching and the ledger stay off until they are set.
func Defaults() Config {
	return Config{
		Port:             8760,
		NatsURL:          "nats://hermes:4222",
		LogLevel:         "info",
		LLMProvider:      ProviderAnthropic,
		AnthropicModel:   "claude-3-5-sonnet-20240620",
		GeminiModel:      "gemini-2.5-flash",
		EvalMaxTokens:    1024,
		EvalTimeout:      90 * time.Second,
		EvalMaxRetries:   3,
		ReleaseThreshold: 7.0,
		StorageBucket:    "arbiter-ledger",
	}
}

// Load layers defaults, the YAML file named by ARBITER_CONFIG (if any) and
// the environment, in that order. Empty environment variables count as unset.
func Load() (Config, error) {
	k := koanf.New(".")

	if path := os.Getenv("ARBITER_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		name, ok := envKeys[key]
		if !ok || value == "" {
			return "", nil
		}
		return name, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := Defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	switch c.LLMProvider {
	case ProviderAnthropic, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLMProvider))
	}
	if c.EvalMaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("eval max tokens must be positive, got %d", c.EvalMaxTokens))
	}
	if c.EvalTimeout <= 0 {
		errs = append(errs, fmt.Errorf("eval timeout must be positive, got %s", c.EvalTimeout))
	}
	if c.EvalMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("eval max retries must not be negative, got %d", c.EvalMaxRetries))
	}
	if c.ReleaseThreshold < 0 || c.ReleaseThreshold > 10 {
		errs = append(errs, fmt.Errorf("release threshold %g is outside [0, 10]", c.ReleaseThreshold))
	}
	return errors.Join(errs...)
}
