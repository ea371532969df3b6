// Package config loads service configuration from a YAML file with
// environment variable overrides for secrets and deploy-time settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Gmail    GmailConfig    `yaml:"gmail"`
	LLM      LLMConfig      `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Polling  PollingConfig  `yaml:"polling"`
	Events   EventsConfig   `yaml:"events"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// GetHost returns the bind host, honoring container environments where
// binding localhost would make the service unreachable.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// StorageConfig holds DynamoDB configuration. TablePrefix namespaces all
// tables so multiple deployments can share one account.
type StorageConfig struct {
	Region      string `yaml:"region"`
	AWSProfile  string `yaml:"aws_profile"`
	TablePrefix string `yaml:"table_prefix"`
	Endpoint    string `yaml:"endpoint"` // local DynamoDB for development
}

// GetAWSProfile returns the profile to use, empty in container environments
// where the task role provides credentials.
func (c StorageConfig) GetAWSProfile() string {
	if p := os.Getenv("AWS_PROFILE_OVERRIDE"); p != "" {
		return p
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// GmailConfig holds the OAuth application credentials for Gmail access.
type GmailConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// LLMConfig holds the model provider configuration. Any OpenAI-compatible
// chat completions endpoint works.
type LLMConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-request timeout for model calls.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PipelineConfig holds per-message processing knobs.
type PipelineConfig struct {
	ConfidenceThreshold       float64 `yaml:"confidence_threshold"`
	PrefilterMaxContentLength int     `yaml:"prefilter_max_content_length"`
	IdempotencyTTLDays        int     `yaml:"idempotency_ttl_days"`
	BatchSize                 int     `yaml:"batch_size"`
}

// PollingConfig holds the mailbox poll scheduler configuration.
type PollingConfig struct {
	Enabled            bool   `yaml:"enabled"`
	PeriodMinutes      int    `yaml:"period_minutes"`
	MaxMessagesPerPoll int    `yaml:"max_messages_per_poll"`
	Label              string `yaml:"label"`
	FirstSyncTimezone  string `yaml:"first_sync_timezone"`
}

// Period returns the poll interval.
func (c PollingConfig) Period() time.Duration {
	return time.Duration(c.PeriodMinutes) * time.Minute
}

// EventsConfig holds the downstream event sink configuration. With an empty
// RedisAddr events go to the structured log only.
type EventsConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	Stream    string `yaml:"stream"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "ap-south-1"
	}
	if c.Storage.TablePrefix == "" {
		c.Storage.TablePrefix = "sales-funnel"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "mistralai/mistral-small"
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.Pipeline.ConfidenceThreshold == 0 {
		c.Pipeline.ConfidenceThreshold = 0.8
	}
	if c.Pipeline.PrefilterMaxContentLength == 0 {
		c.Pipeline.PrefilterMaxContentLength = 5000
	}
	if c.Pipeline.IdempotencyTTLDays == 0 {
		c.Pipeline.IdempotencyTTLDays = 90
	}
	if c.Pipeline.BatchSize == 0 {
		c.Pipeline.BatchSize = 20
	}
	if c.Polling.PeriodMinutes == 0 {
		c.Polling.PeriodMinutes = 15
	}
	if c.Polling.MaxMessagesPerPoll == 0 {
		c.Polling.MaxMessagesPerPoll = 100
	}
	if c.Polling.Label == "" {
		c.Polling.Label = "INBOX"
	}
	if c.Polling.FirstSyncTimezone == "" {
		c.Polling.FirstSyncTimezone = "Asia/Kolkata"
	}
	if c.Events.Stream == "" {
		c.Events.Stream = "sales-funnel-events"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets
// never have to live in config.yaml.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Gmail.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Gmail.ClientSecret = v
	}
	if v := os.Getenv("GOOGLE_REDIRECT_URL"); v != "" {
		cfg.Gmail.RedirectURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.Region = v
	}
	if v := os.Getenv("DYNAMODB_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("TABLE_PREFIX"); v != "" {
		cfg.Storage.TablePrefix = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Events.RedisAddr = v
	}
	if v := os.Getenv("CONFIDENCE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return nil, fmt.Errorf("invalid CONFIDENCE_THRESHOLD %q", v)
		}
		cfg.Pipeline.ConfidenceThreshold = f
	}
	if v := os.Getenv("POLLING_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid POLLING_ENABLED %q", v)
		}
		cfg.Polling.Enabled = b
	}
	if v := os.Getenv("POLL_PERIOD_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid POLL_PERIOD_MINUTES %q", v)
		}
		cfg.Polling.PeriodMinutes = n
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (set LLM_API_KEY)")
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %v outside [0,1]", c.Pipeline.ConfidenceThreshold)
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	// Truncation keeps a 60% head, a marker, and a 20% tail; anything shorter
	// than this leaves no room for that split.
	if c.Pipeline.PrefilterMaxContentLength < 160 {
		return fmt.Errorf("prefilter_max_content_length must be at least 160")
	}
	if c.Polling.PeriodMinutes < 1 {
		return fmt.Errorf("poll period must be at least a minute")
	}
	if _, err := time.LoadLocation(c.Polling.FirstSyncTimezone); err != nil {
		return fmt.Errorf("invalid first_sync_timezone %q: %w", c.Polling.FirstSyncTimezone, err)
	}
	return nil
}
