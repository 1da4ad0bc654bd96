// ABOUTME: Configuration loading and parsing for stream-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete stream-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Providers ProvidersConfig `yaml:"providers"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	// APIKeys maps principal IDs to bcrypt hashes of their API keys,
	// as printed by the apikey CLI command.
	APIKeys map[string]string `yaml:"api_keys"`
}

// ProvidersConfig holds AI provider configuration
type ProvidersConfig struct {
	Gemini GeminiConfig `yaml:"gemini"`

	// Offline switches all providers to deterministic scripted streams.
	// Used for local development and tests; no API keys required.
	Offline bool `yaml:"offline"`
}

// GeminiConfig holds Gemini provider configuration
type GeminiConfig struct {
	APIKey      string `yaml:"api_key"`
	ChatModel   string `yaml:"chat_model"`
	SpeechModel string `yaml:"speech_model"`
	Voice       string `yaml:"voice"`
}

// SessionsConfig holds stream session timing configuration
type SessionsConfig struct {
	StaleTimeout time.Duration `yaml:"-"`
	SendTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	StaleTimeoutRaw string `yaml:"stale_timeout"`
	SendTimeoutRaw  string `yaml:"send_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default session timings, used when the config file omits them.
const (
	DefaultStaleTimeout = 30 * time.Minute
	DefaultSendTimeout  = 5 * time.Second
)

// DefaultChatModel is used when a live config omits providers.gemini.chat_model.
const DefaultChatModel = "gemini-2.0-flash"

// ChatModel names the model that will back chat sessions, "script" when
// the scripted offline providers are active.
func (p ProvidersConfig) ChatModel() string {
	if p.Offline {
		return "script"
	}
	return p.Gemini.ChatModel
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	return LoadWithOffline(path, false)
}

// LoadWithOffline behaves like Load but can force offline providers before
// validation runs, so a config without API keys still loads. Backs the
// serve --offline flag.
func LoadWithOffline(path string, offline bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if offline {
		cfg.Providers.Offline = true
	}
	if !cfg.Providers.Offline && cfg.Providers.Gemini.ChatModel == "" {
		cfg.Providers.Gemini.ChatModel = DefaultChatModel
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	// A live Gemini provider needs an API key; offline mode does not
	if !c.Providers.Offline && c.Providers.Gemini.APIKey == "" {
		return fmt.Errorf("providers.gemini.api_key is required (or set providers.offline)")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	cfg.Sessions.StaleTimeout = DefaultStaleTimeout
	if cfg.Sessions.StaleTimeoutRaw != "" {
		cfg.Sessions.StaleTimeout, err = time.ParseDuration(cfg.Sessions.StaleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing stale_timeout %q: %w", cfg.Sessions.StaleTimeoutRaw, err)
		}
	}

	cfg.Sessions.SendTimeout = DefaultSendTimeout
	if cfg.Sessions.SendTimeoutRaw != "" {
		cfg.Sessions.SendTimeout, err = time.ParseDuration(cfg.Sessions.SendTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing send_timeout %q: %w", cfg.Sessions.SendTimeoutRaw, err)
		}
	}

	return nil
}
