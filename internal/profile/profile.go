package profile

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. MINDLOOP_LLM_API_KEY.
const EnvPrefix = "MINDLOOP"

// Session drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Profile is the configuration to start mindloop.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the HTTP binding address for serve
	Addr string
	// IdentityKernel overrides the default companion identity
	IdentityKernel string

	// LLM
	LLMProvider      string
	LLMBaseURL       string
	LLMAPIKey        string
	LLMModel         string
	LLMMaxTokens     int
	LLMTemperature   float64
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Memory service. An empty base URL disables it.
	MemoryBaseURL       string
	MemoryAPIKey        string
	MemorySearchTimeout time.Duration
	MemoryStoreTimeout  time.Duration
	MemoryMaxFacts      int
	MemoryRateLimit     float64
	MemoryRateBurst     int

	// Agent task runner
	AgentCommand     string
	AgentModel       string
	AgentConfigDir   string
	AgentConcurrency int
	AgentTimeout     time.Duration
	DeepSweep        bool
	InsightTask      bool

	// Session
	SessionDriver  string
	SessionDSN     string
	SerializeTurns bool
	SessionIdleTTL time.Duration // sqlite driver only

	StreamTimeout   time.Duration
	GenerateTimeout time.Duration
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsMemoryEnabled reports whether a memory service is configured.
func (p *Profile) IsMemoryEnabled() bool {
	return p.MemoryBaseURL != ""
}

// SetDefaults registers every configuration key with its default.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", "dev")
	v.SetDefault("server.addr", ":8787")
	v.SetDefault("identity_kernel", "")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.8)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_base", 500*time.Millisecond)
	v.SetDefault("llm.retry_cap", 8*time.Second)

	v.SetDefault("memory.base_url", "http://localhost:8000")
	v.SetDefault("memory.api_key", "")
	v.SetDefault("memory.search_timeout", 10*time.Second)
	v.SetDefault("memory.store_timeout", 15*time.Second)
	v.SetDefault("memory.max_facts", 5)
	v.SetDefault("memory.rate", 5.0)
	v.SetDefault("memory.burst", 10)

	v.SetDefault("agent.command", "claude")
	v.SetDefault("agent.model", "haiku")
	v.SetDefault("agent.config_dir", "~/.mindloop/agent-config")
	v.SetDefault("agent.concurrency", 3)
	v.SetDefault("agent.timeout", 60*time.Second)
	v.SetDefault("agent.deep_sweep", false)
	v.SetDefault("agent.insight", false)

	v.SetDefault("session.driver", DriverMemory)
	v.SetDefault("session.dsn", "")
	v.SetDefault("session.serialize_turns", true)
	v.SetDefault("session.idle_ttl", 24*time.Hour)

	v.SetDefault("timeout.stream", 5*time.Minute)
	v.SetDefault("timeout.generate", 2*time.Minute)
}

// NewViper returns a viper instance with defaults and MINDLOOP_* env binding.
// Nested keys map to env vars by replacing dots, so llm.api_key is read from
// MINDLOOP_LLM_API_KEY. An empty variable counts as set, so
// MINDLOOP_MEMORY_BASE_URL= disables the memory service.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads variables from the given files, or .env.local and .env in
// the working directory. Variables already set are kept. Missing files are
// skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env.local", ".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return pkgerrors.Wrapf(err, "failed to load %s", p)
		}
		slog.Debug("loaded env file", "path", p)
	}
	return nil
}

// Load reads a Profile from v. When configFile is set it is read first; flags
// bound to v and environment variables take precedence over it.
func Load(v *viper.Viper, configFile string) (*Profile, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to read config file %s", configFile)
		}
	}

	p := &Profile{
		Mode:           v.GetString("mode"),
		Addr:           v.GetString("server.addr"),
		IdentityKernel: v.GetString("identity_kernel"),

		LLMProvider:      v.GetString("llm.provider"),
		LLMBaseURL:       v.GetString("llm.base_url"),
		LLMAPIKey:        v.GetString("llm.api_key"),
		LLMModel:         v.GetString("llm.model"),
		LLMMaxTokens:     v.GetInt("llm.max_tokens"),
		LLMTemperature:   v.GetFloat64("llm.temperature"),
		RetryMaxAttempts: v.GetInt("llm.max_retries"),
		RetryBaseDelay:   v.GetDuration("llm.retry_base"),
		RetryMaxDelay:    v.GetDuration("llm.retry_cap"),

		MemoryBaseURL:       v.GetString("memory.base_url"),
		MemoryAPIKey:        v.GetString("memory.api_key"),
		MemorySearchTimeout: v.GetDuration("memory.search_timeout"),
		MemoryStoreTimeout:  v.GetDuration("memory.store_timeout"),
		MemoryMaxFacts:      v.GetInt("memory.max_facts"),
		MemoryRateLimit:     v.GetFloat64("memory.rate"),
		MemoryRateBurst:     v.GetInt("memory.burst"),

		AgentCommand:     v.GetString("agent.command"),
		AgentModel:       v.GetString("agent.model"),
		AgentConfigDir:   v.GetString("agent.config_dir"),
		AgentConcurrency: v.GetInt("agent.concurrency"),
		AgentTimeout:     v.GetDuration("agent.timeout"),
		DeepSweep:        v.GetBool("agent.deep_sweep"),
		InsightTask:      v.GetBool("agent.insight"),

		SessionDriver:  v.GetString("session.driver"),
		SessionDSN:     v.GetString("session.dsn"),
		SerializeTurns: v.GetBool("session.serialize_turns"),
		SessionIdleTTL: v.GetDuration("session.idle_ttl"),

		StreamTimeout:   v.GetDuration("timeout.stream"),
		GenerateTimeout: v.GetDuration("timeout.generate"),
	}
	return p, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	p.SessionDriver = strings.ToLower(strings.TrimSpace(p.SessionDriver))
	switch p.SessionDriver {
	case DriverMemory:
	case DriverSQLite:
		if p.SessionDSN == "" {
			p.SessionDSN = "mindloop.db"
		}
	default:
		return pkgerrors.Errorf("unsupported session driver %q (valid: %s, %s)", p.SessionDriver, DriverMemory, DriverSQLite)
	}

	if p.AgentConcurrency <= 0 {
		return pkgerrors.Errorf("agent concurrency must be positive, got %d", p.AgentConcurrency)
	}
	if p.MemoryMaxFacts <= 0 {
		return pkgerrors.Errorf("memory max facts must be positive, got %d", p.MemoryMaxFacts)
	}
	dir, err := expandHome(p.AgentConfigDir)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to resolve agent config dir")
	}
	p.AgentConfigDir = dir
	return nil
}

// ValidateLLM checks the generation settings. Commands that never generate
// skip it.
func (p *Profile) ValidateLLM() error {
	if p.LLMAPIKey == "" && p.LLMProvider != "ollama" {
		return pkgerrors.Errorf("llm api key is required for provider %q (set %s_LLM_API_KEY)", p.LLMProvider, EnvPrefix)
	}
	if p.LLMModel == "" {
		return pkgerrors.New("llm model is required")
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
