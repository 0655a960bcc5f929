package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel             = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens         = 8192
	DefaultTemperature       = 0.7
	DefaultMaxToolIterations = 20
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 18890
	DefaultBufSize           = 100

	DefaultMemoryAgentSchedule  = "0 0 2 * * *" // nightly 02:00
	DefaultEventsAgentSchedule  = "0 30 2 * * *"
	DefaultContactAgentSchedule = "0 0 3 * * 1" // weekly, Monday

	DefaultEmbeddingTimeoutMs = 15000
	DefaultEmbeddingBatchSize = 16
)

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Store     StoreConfig     `json:"store"`
	Dashboard DashboardConfig `json:"dashboard"`
	Memory    MemoryConfig    `json:"memory"`
	Agents    AgentsConfig    `json:"agents"`
}

type AgentConfig struct {
	Workspace         string  `json:"workspace"`
	Model             string  `json:"model"`
	MaxTokens         int     `json:"maxTokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"maxToolIterations"`
	Timezone          string  `json:"timezone,omitempty"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StoreConfig locates the review store: approvals, proposals, the audit
// log, and the conversation log share one sqlite file.
type StoreConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

// DashboardConfig locates the relational entity store (contacts,
// circles, events, scheduled templates, user actions).
type DashboardConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

type MemoryConfig struct {
	IndexPath string          `json:"indexPath,omitempty"`
	Embedding EmbeddingConfig `json:"embedding"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider,omitempty"` // "api" (default) or "ollama"
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
	BatchSize int    `json:"batchSize,omitempty"`
}

type AgentsConfig struct {
	MemorySchedule  string `json:"memorySchedule,omitempty"`
	EventsSchedule  string `json:"eventsSchedule,omitempty"`
	ContactSchedule string `json:"contactSchedule,omitempty"`

	MaxConsolidations int `json:"maxConsolidations,omitempty"`
	MaxPromotions     int `json:"maxPromotions,omitempty"`
	MaxEventMemories  int `json:"maxEventMemories,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace:         filepath.Join(home, ".steward", "workspace"),
			Model:             DefaultModel,
			MaxTokens:         DefaultMaxTokens,
			Temperature:       DefaultTemperature,
			MaxToolIterations: DefaultMaxToolIterations,
		},
		Provider: ProviderConfig{},
		Channels: ChannelsConfig{},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Memory: MemoryConfig{
			Embedding: EmbeddingConfig{
				TimeoutMs: DefaultEmbeddingTimeoutMs,
				BatchSize: DefaultEmbeddingBatchSize,
			},
		},
		Agents: AgentsConfig{
			MemorySchedule:    DefaultMemoryAgentSchedule,
			EventsSchedule:    DefaultEventsAgentSchedule,
			ContactSchedule:   DefaultContactAgentSchedule,
			MaxConsolidations: 5,
			MaxPromotions:     10,
			MaxEventMemories:  15,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".steward")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DataDir is where sqlite files land when paths are not configured.
func DataDir() string {
	return filepath.Join(ConfigDir(), "data")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("STEWARD_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("STEWARD_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("STEWARD_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if path := os.Getenv("STEWARD_DB_PATH"); path != "" {
		cfg.Store.DBPath = path
	}
	if path := os.Getenv("STEWARD_DASHBOARD_DB_PATH"); path != "" {
		cfg.Dashboard.DBPath = path
	}
	if path := os.Getenv("STEWARD_MEMORY_INDEX_PATH"); path != "" {
		cfg.Memory.IndexPath = path
	}
	if key := os.Getenv("STEWARD_EMBEDDING_API_KEY"); key != "" {
		cfg.Memory.Embedding.APIKey = key
	}
	if url := os.Getenv("STEWARD_EMBEDDING_BASE_URL"); url != "" {
		cfg.Memory.Embedding.BaseURL = url
	}
	if model := os.Getenv("STEWARD_EMBEDDING_MODEL"); model != "" {
		cfg.Memory.Embedding.Model = model
	}
	if tz := os.Getenv("CALENDAR_TIMEZONE"); tz != "" {
		cfg.Agent.Timezone = tz
	}
	if v := os.Getenv("STEWARD_MAX_CONSOLIDATIONS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Agents.MaxConsolidations = parsed
		}
	}
	if v := os.Getenv("STEWARD_MAX_PROMOTIONS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Agents.MaxPromotions = parsed
		}
	}

	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = filepath.Join(DataDir(), "steward.db")
	}
	if cfg.Dashboard.DBPath == "" {
		cfg.Dashboard.DBPath = filepath.Join(DataDir(), "dashboard.db")
	}
	if cfg.Memory.IndexPath == "" {
		cfg.Memory.IndexPath = filepath.Join(DataDir(), "memory.db")
	}
	if cfg.Memory.Embedding.TimeoutMs <= 0 {
		cfg.Memory.Embedding.TimeoutMs = DefaultEmbeddingTimeoutMs
	}
	if cfg.Memory.Embedding.BatchSize <= 0 {
		cfg.Memory.Embedding.BatchSize = DefaultEmbeddingBatchSize
	}
	if cfg.Agents.MemorySchedule == "" {
		cfg.Agents.MemorySchedule = DefaultMemoryAgentSchedule
	}
	if cfg.Agents.EventsSchedule == "" {
		cfg.Agents.EventsSchedule = DefaultEventsAgentSchedule
	}
	if cfg.Agents.ContactSchedule == "" {
		cfg.Agents.ContactSchedule = DefaultContactAgentSchedule
	}
	if cfg.Agents.MaxConsolidations <= 0 {
		cfg.Agents.MaxConsolidations = 5
	}
	if cfg.Agents.MaxPromotions <= 0 {
		cfg.Agents.MaxPromotions = 10
	}
	if cfg.Agents.MaxEventMemories <= 0 {
		cfg.Agents.MaxEventMemories = 15
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
