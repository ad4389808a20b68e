package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileDefaults(t *testing.T) {
	p, err := Load(NewViper(), "")
	require.NoError(t, err)

	tests := []struct {
		name     string
		expected any
		actual   any
	}{
		{"Addr", ":8787", p.Addr},
		{"LLMBaseURL", "https://api.openai.com/v1", p.LLMBaseURL},
		{"LLMModel", "gpt-4o-mini", p.LLMModel},
		{"LLMMaxTokens", 1024, p.LLMMaxTokens},
		{"LLMTemperature", 0.8, p.LLMTemperature},
		{"RetryMaxAttempts", 3, p.RetryMaxAttempts},
		{"RetryBaseDelay", 500 * time.Millisecond, p.RetryBaseDelay},
		{"RetryMaxDelay", 8 * time.Second, p.RetryMaxDelay},
		{"MemoryBaseURL", "http://localhost:8000", p.MemoryBaseURL},
		{"MemorySearchTimeout", 10 * time.Second, p.MemorySearchTimeout},
		{"MemoryStoreTimeout", 15 * time.Second, p.MemoryStoreTimeout},
		{"MemoryMaxFacts", 5, p.MemoryMaxFacts},
		{"MemoryRateLimit", 5.0, p.MemoryRateLimit},
		{"MemoryRateBurst", 10, p.MemoryRateBurst},
		{"AgentCommand", "claude", p.AgentCommand},
		{"AgentModel", "haiku", p.AgentModel},
		{"AgentConcurrency", 3, p.AgentConcurrency},
		{"AgentTimeout", 60 * time.Second, p.AgentTimeout},
		{"DeepSweep", false, p.DeepSweep},
		{"InsightTask", false, p.InsightTask},
		{"SessionDriver", DriverMemory, p.SessionDriver},
		{"SerializeTurns", true, p.SerializeTurns},
		{"StreamTimeout", 5 * time.Minute, p.StreamTimeout},
		{"GenerateTimeout", 2 * time.Minute, p.GenerateTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.actual)
		})
	}
}

func TestProfileFromEnv(t *testing.T) {
	t.Setenv("MINDLOOP_LLM_API_KEY", "sk-test")
	t.Setenv("MINDLOOP_LLM_MODEL", "gpt-4o")
	t.Setenv("MINDLOOP_MEMORY_BASE_URL", "")
	t.Setenv("MINDLOOP_AGENT_CONCURRENCY", "5")
	t.Setenv("MINDLOOP_AGENT_DEEP_SWEEP", "true")
	t.Setenv("MINDLOOP_SESSION_SERIALIZE_TURNS", "false")
	t.Setenv("MINDLOOP_TIMEOUT_STREAM", "30s")

	p, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", p.LLMAPIKey)
	assert.Equal(t, "gpt-4o", p.LLMModel)
	assert.False(t, p.IsMemoryEnabled())
	assert.Equal(t, 5, p.AgentConcurrency)
	assert.True(t, p.DeepSweep)
	assert.False(t, p.SerializeTurns)
	assert.Equal(t, 30*time.Second, p.StreamTimeout)
}

func TestProfileConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mindloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  model: from-file\n  api_key: file-key\nsession:\n  driver: sqlite\n"), 0o600))
	t.Setenv("MINDLOOP_LLM_MODEL", "from-env")

	p, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", p.LLMModel)
	assert.Equal(t, "file-key", p.LLMAPIKey)
	assert.Equal(t, DriverSQLite, p.SessionDriver)

	_, err = Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("MINDLOOP_LLM_MODEL=dotenv-model\nMINDLOOP_LLM_API_KEY=dotenv-key\n"), 0o600))
	t.Setenv("MINDLOOP_LLM_API_KEY", "already-set")
	t.Cleanup(func() { os.Unsetenv("MINDLOOP_LLM_MODEL") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env"), path))
	assert.Equal(t, "dotenv-model", os.Getenv("MINDLOOP_LLM_MODEL"))
	assert.Equal(t, "already-set", os.Getenv("MINDLOOP_LLM_API_KEY"))
}

func TestProfileValidate(t *testing.T) {
	valid := func() *Profile {
		return &Profile{
			Mode:             "prod",
			LLMProvider:      "openai",
			LLMAPIKey:        "key",
			AgentConcurrency: 3,
			MemoryMaxFacts:   5,
			SessionDriver:    DriverMemory,
			AgentConfigDir:   "/tmp/agent",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Profile)
		wantErr string
	}{
		{"Valid", func(*Profile) {}, ""},
		{"UnknownDriver", func(p *Profile) { p.SessionDriver = "postgres" }, "unsupported session driver"},
		{"ZeroConcurrency", func(p *Profile) { p.AgentConcurrency = 0 }, "agent concurrency must be positive"},
		{"ZeroFacts", func(p *Profile) { p.MemoryMaxFacts = 0 }, "memory max facts must be positive"},
		{"MissingKeyIsNotChecked", func(p *Profile) { p.LLMAPIKey = "" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProfileValidateLLM(t *testing.T) {
	tests := []struct {
		name    string
		p       Profile
		wantErr string
	}{
		{"Valid", Profile{LLMProvider: "openai", LLMAPIKey: "key", LLMModel: "gpt-4o-mini"}, ""},
		{"MissingKey", Profile{LLMProvider: "openai", LLMModel: "gpt-4o-mini"}, "llm api key is required"},
		{"OllamaNeedsNoKey", Profile{LLMProvider: "ollama", LLMModel: "llama3"}, ""},
		{"MissingModel", Profile{LLMProvider: "openai", LLMAPIKey: "key"}, "llm model is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.ValidateLLM()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProfileValidateNormalizes(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	p := &Profile{
		Mode:             "staging",
		LLMAPIKey:        "key",
		AgentConcurrency: 1,
		MemoryMaxFacts:   1,
		SessionDriver:    " SQLite ",
		AgentConfigDir:   "~/.mindloop/agent-config",
	}
	require.NoError(t, p.Validate())
	assert.Equal(t, "dev", p.Mode)
	assert.True(t, p.IsDev())
	assert.Equal(t, DriverSQLite, p.SessionDriver)
	assert.Equal(t, "mindloop.db", p.SessionDSN)
	assert.Equal(t, filepath.Join(home, ".mindloop/agent-config"), p.AgentConfigDir)
}
