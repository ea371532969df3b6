package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"

storage:
  region: "us-east-1"
  table_prefix: "staging-funnel"

llm:
  api_key: "test-key"
  model: "mistralai/mistral-small"
  timeout_seconds: 45

pipeline:
  confidence_threshold: 0.7
  prefilter_max_content_length: 4000
  batch_size: 10

polling:
  enabled: true
  period_minutes: 5
  max_messages_per_poll: 25
  label: "Leads"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "us-east-1", cfg.Storage.Region)
	assert.Equal(t, "staging-funnel", cfg.Storage.TablePrefix)
	assert.Equal(t, 45, cfg.LLM.TimeoutSeconds)
	assert.Equal(t, 0.7, cfg.Pipeline.ConfidenceThreshold)
	assert.Equal(t, 4000, cfg.Pipeline.PrefilterMaxContentLength)
	assert.Equal(t, 10, cfg.Pipeline.BatchSize)
	assert.True(t, cfg.Polling.Enabled)
	assert.Equal(t, 5, cfg.Polling.PeriodMinutes)
	assert.Equal(t, 25, cfg.Polling.MaxMessagesPerPoll)
	assert.Equal(t, "Leads", cfg.Polling.Label)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: "test-key"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "mistralai/mistral-small", cfg.LLM.Model)
	assert.Equal(t, 0.8, cfg.Pipeline.ConfidenceThreshold)
	assert.Equal(t, 5000, cfg.Pipeline.PrefilterMaxContentLength)
	assert.Equal(t, 90, cfg.Pipeline.IdempotencyTTLDays)
	assert.Equal(t, 20, cfg.Pipeline.BatchSize)
	assert.Equal(t, 15, cfg.Polling.PeriodMinutes)
	assert.Equal(t, 100, cfg.Polling.MaxMessagesPerPoll)
	assert.Equal(t, "INBOX", cfg.Polling.Label)
	assert.Equal(t, "Asia/Kolkata", cfg.Polling.FirstSyncTimezone)
	assert.Equal(t, "sales-funnel-events", cfg.Events.Stream)
	assert.False(t, cfg.Polling.Enabled)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: "file-key"
  base_url: "https://file-url.com"
`)

	t.Setenv("LLM_API_KEY", "env-key")
	t.Setenv("LLM_BASE_URL", "https://env-url.com")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.65")
	t.Setenv("POLLING_ENABLED", "true")
	t.Setenv("POLL_PERIOD_MINUTES", "30")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.LLM.APIKey)
	assert.Equal(t, "https://env-url.com", cfg.LLM.BaseURL)
	assert.Equal(t, 0.65, cfg.Pipeline.ConfidenceThreshold)
	assert.True(t, cfg.Polling.Enabled)
	assert.Equal(t, 30, cfg.Polling.PeriodMinutes)
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: "k"
`)

	t.Setenv("CONFIDENCE_THRESHOLD", "1.5")
	_, err := LoadFromEnv(path)
	assert.Error(t, err)
}

func TestValidateTimezone(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.LLM.APIKey = "k"
	cfg.Polling.FirstSyncTimezone = "Mars/Olympus"
	assert.Error(t, cfg.validate())

	cfg.Polling.FirstSyncTimezone = "Asia/Kolkata"
	assert.NoError(t, cfg.validate())
}

func TestValidatePrefilterContentFloor(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.LLM.APIKey = "k"
	cfg.Pipeline.PrefilterMaxContentLength = 10
	assert.Error(t, cfg.validate())

	cfg.Pipeline.PrefilterMaxContentLength = 160
	assert.NoError(t, cfg.validate())
}

func TestValidateRequiresAPIKey(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	assert.Error(t, cfg.validate())
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	assert.Equal(t, 45*time.Second, LLMConfig{TimeoutSeconds: 45}.Timeout())
	assert.Equal(t, 15*time.Minute, PollingConfig{PeriodMinutes: 15}.Period())
}
