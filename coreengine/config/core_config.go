// Package config provides process configuration and the per-jurisdiction
// rule tables driving the rental-application pipeline.
//
// Operator configuration is resolved through Viper: each key maps to an env
// var with the LEASEFLOW_ prefix (e.g. "db_path" → LEASEFLOW_DB_PATH) and to
// a YAML field in leaseflow.config.yaml. Pipeline wiring (stage order, stage
// payload contracts) lives in pipeline.go and is code, not operator config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Viper keys.
const (
	KeyDataDir           = "data_dir"
	KeyDBPath            = "db_path"
	KeyMemoryFile        = "memory_file"
	KeyMaxHistory        = "max_history"
	KeyCacheTTLSeconds   = "cache_ttl_seconds"
	KeyLLMTimeoutSeconds = "llm_timeout_seconds"
	KeyOpenAIAPIKey      = "openai_api_key"
	KeyChatModel         = "chat_model"
	KeyEmbedModel        = "embed_model"
	KeyListenAddr        = "listen_addr"
	KeyOTLPEndpoint      = "otlp_endpoint"
	KeyLogLevel          = "log_level"
	KeyRulesFile         = "rules_file"
)

const (
	DefaultMaxHistory        = 50
	DefaultCacheTTLSeconds   = 300
	DefaultLLMTimeoutSeconds = 60
	DefaultChatModel         = "gpt-4o-mini"
	DefaultEmbedModel        = "text-embedding-3-small"
	DefaultListenAddr        = ":8080"
	DefaultLogLevel          = "info"
)

// CoreConfig holds resolved operator-level configuration for a leaseflow
// process.
type CoreConfig struct {
	DataDir           string // Base directory for all state (~/.leaseflow)
	DBPath            string // SQLite database path
	MemoryFile        string // JSON persistence file for the memory store
	MaxHistory        int    // Memory store ring capacity
	CacheTTLSeconds   int    // Profile cache TTL
	LLMTimeoutSeconds int    // Generation and embedding call timeout
	OpenAIAPIKey      string // Empty disables the generative model
	ChatModel         string
	EmbedModel        string
	ListenAddr        string
	OTLPEndpoint      string // Empty disables trace export
	LogLevel          string
	RulesFile         string // Optional YAML override for jurisdiction rules
}

// CacheTTL returns the profile cache TTL as a duration.
func (c *CoreConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// LLMTimeout returns the generative-model call timeout as a duration.
func (c *CoreConfig) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// LLMEnabled reports whether a generative model is configured.
func (c *CoreConfig) LLMEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *CoreConfig) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

func init() {
	viper.SetEnvPrefix("LEASEFLOW")
	viper.AutomaticEnv()
	viper.SetDefault(KeyMaxHistory, DefaultMaxHistory)
	viper.SetDefault(KeyCacheTTLSeconds, DefaultCacheTTLSeconds)
	viper.SetDefault(KeyLLMTimeoutSeconds, DefaultLLMTimeoutSeconds)
	viper.SetDefault(KeyChatModel, DefaultChatModel)
	viper.SetDefault(KeyEmbedModel, DefaultEmbedModel)
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyLogLevel, DefaultLogLevel)
}

// Load reads configuration from Viper (which merges env vars, config file,
// and defaults) and returns a validated CoreConfig.
func Load() (*CoreConfig, error) {
	dataDir := resolveDataDir()
	cfg := &CoreConfig{
		DataDir:           dataDir,
		DBPath:            viper.GetString(KeyDBPath),
		MemoryFile:        viper.GetString(KeyMemoryFile),
		MaxHistory:        viper.GetInt(KeyMaxHistory),
		CacheTTLSeconds:   viper.GetInt(KeyCacheTTLSeconds),
		LLMTimeoutSeconds: viper.GetInt(KeyLLMTimeoutSeconds),
		OpenAIAPIKey:      resolveAPIKey(),
		ChatModel:         viper.GetString(KeyChatModel),
		EmbedModel:        viper.GetString(KeyEmbedModel),
		ListenAddr:        viper.GetString(KeyListenAddr),
		OTLPEndpoint:      viper.GetString(KeyOTLPEndpoint),
		LogLevel:          viper.GetString(KeyLogLevel),
		RulesFile:         viper.GetString(KeyRulesFile),
	}

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(dataDir, "leaseflow.db")
	}
	if cfg.MemoryFile == "" {
		cfg.MemoryFile = filepath.Join(dataDir, "agent_memory.json")
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".leaseflow"
	}
	return filepath.Join(home, ".leaseflow")
}

// resolveAPIKey falls back to the conventional OPENAI_API_KEY env var so a
// single-tenant development setup works without LEASEFLOW_ prefixed config.
func resolveAPIKey() string {
	if k := viper.GetString(KeyOpenAIAPIKey); k != "" {
		return k
	}
	return os.Getenv("OPENAI_API_KEY")
}

func (c *CoreConfig) validate() error {
	if c.MaxHistory <= 0 {
		return fmt.Errorf("max_history must be positive, got %d", c.MaxHistory)
	}
	if c.CacheTTLSeconds <= 0 {
		return fmt.Errorf("cache_ttl_seconds must be positive, got %d", c.CacheTTLSeconds)
	}
	if c.LLMTimeoutSeconds <= 0 {
		return fmt.Errorf("llm_timeout_seconds must be positive, got %d", c.LLMTimeoutSeconds)
	}
	return nil
}
