// Package config provides configuration management for the chatrelay server.
// It handles loading and parsing YAML configuration files with environment
// variable overrides, and provides structured access to application settings
// including server port, WhatsApp credentials, Groq API keys, and the session
// store connection string.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file
// and overridden by environment variables.
type Config struct {
	// Host is the listen address for the HTTP server. Empty binds all interfaces.
	Host string `yaml:"host" json:"host"`

	// Port is the listen port for the HTTP server.
	Port int `yaml:"port" json:"port"`

	// Debug enables debug-level logging and Gin debug mode.
	Debug bool `yaml:"debug" json:"debug"`

	// LogFile is an optional path for rotating file logs. Empty logs to stderr only.
	LogFile string `yaml:"log-file" json:"log-file"`

	// ManagementKey guards the administrative endpoints (session clear).
	// Empty disables the management surface entirely.
	ManagementKey string `yaml:"management-key" json:"management-key"`

	// WhatsApp holds WhatsApp Cloud API credentials and endpoints.
	WhatsApp WhatsAppConfig `yaml:"whatsapp" json:"whatsapp"`

	// Groq holds speech-to-text and chat completion backend settings.
	Groq GroqConfig `yaml:"groq" json:"groq"`

	// Session holds conversation session store settings.
	Session SessionConfig `yaml:"session" json:"session"`

	// Bot holds persona settings interpolated into the default system prompt.
	Bot BotConfig `yaml:"bot" json:"bot"`
}

// WhatsAppConfig holds WhatsApp Cloud API settings.
type WhatsAppConfig struct {
	// Token is the Graph API bearer token.
	Token string `yaml:"token" json:"token"`

	// PhoneNumberID is the business phone number identifier. Takes precedence
	// over the legacy PhoneID alias when both are set.
	PhoneNumberID string `yaml:"phone-number-id" json:"phone-number-id"`

	// PhoneID is a legacy alias for PhoneNumberID kept for existing deployments.
	PhoneID string `yaml:"phone-id" json:"phone-id"`

	// VerifyToken is the shared secret echoed back during webhook verification.
	VerifyToken string `yaml:"verify-token" json:"verify-token"`

	// BaseURL is the Graph API root. Defaults to the v21.0 endpoint.
	BaseURL string `yaml:"base-url,omitempty" json:"base-url,omitempty"`
}

// GroqConfig holds Groq API settings for transcription and completion.
type GroqConfig struct {
	// APIKey is the Groq API key.
	APIKey string `yaml:"api-key" json:"api-key"`

	// BaseURL is the OpenAI-compatible API root. Defaults to the public endpoint.
	BaseURL string `yaml:"base-url,omitempty" json:"base-url,omitempty"`

	// ChatModel is the completion model identifier.
	// nil/empty means default ("llama-3.3-70b-versatile").
	ChatModel string `yaml:"chat-model,omitempty" json:"chat-model,omitempty"`

	// WhisperModel is the transcription model identifier.
	// Empty means default ("whisper-large-v3-turbo").
	WhisperModel string `yaml:"whisper-model,omitempty" json:"whisper-model,omitempty"`

	// Language is the fixed transcription language. Empty means default ("es").
	Language string `yaml:"language,omitempty" json:"language,omitempty"`

	// MaxTokens bounds completion output length. nil means default (500).
	MaxTokens *int `yaml:"max-tokens,omitempty" json:"max-tokens,omitempty"`

	// Temperature is the completion sampling temperature. nil means default (0.7).
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`

	// PromptTokenBudget caps the token footprint of history sent with a
	// completion. Older turns are dropped first. nil means default (3000).
	PromptTokenBudget *int `yaml:"prompt-token-budget,omitempty" json:"prompt-token-budget,omitempty"`
}

// SessionConfig holds conversation session store settings.
type SessionConfig struct {
	// StoreURL selects the backend: postgres:// URLs use PostgreSQL, anything
	// else is treated as a SQLite database path. Empty uses an in-memory store.
	StoreURL string `yaml:"store-url" json:"store-url"`

	// TTL is how long a session survives without a refreshing write.
	// nil means default (24h).
	TTL *time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// MaxHistory bounds the number of retained history turns.
	// nil means default (20).
	MaxHistory *int `yaml:"max-history,omitempty" json:"max-history,omitempty"`
}

// BotConfig holds persona settings for the default system prompt.
type BotConfig struct {
	// BusinessName is interpolated into the default system prompt.
	BusinessName string `yaml:"business-name,omitempty" json:"business-name,omitempty"`

	// BusinessDescription is interpolated into the default system prompt.
	BusinessDescription string `yaml:"business-description,omitempty" json:"business-description,omitempty"`

	// SystemPromptFile optionally overrides the built-in persona prompt.
	// The file is watched and hot-reloaded on change.
	SystemPromptFile string `yaml:"system-prompt-file,omitempty" json:"system-prompt-file,omitempty"`
}

// LoadConfig reads the YAML configuration at path, applies environment
// variable overrides, and returns the resulting Config. A missing file is not
// an error; the configuration then comes from environment variables alone.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
			}
		case os.IsNotExist(err):
			// Environment-only configuration.
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides maps the deployment environment variables onto the config.
// Environment values win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("WHATSAPP_TOKEN"); v != "" {
		c.WhatsApp.Token = v
	}
	if v := os.Getenv("WHATSAPP_PHONE_NUMBER_ID"); v != "" {
		c.WhatsApp.PhoneNumberID = v
	}
	if v := os.Getenv("WHATSAPP_PHONE_ID"); v != "" {
		c.WhatsApp.PhoneID = v
	}
	if v := os.Getenv("WEBHOOK_VERIFY_TOKEN"); v != "" {
		c.WhatsApp.VerifyToken = v
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		c.Groq.APIKey = v
	}
	if v := os.Getenv("SESSION_STORE_URL"); v != "" {
		c.Session.StoreURL = v
	}
	if v := os.Getenv("MANAGEMENT_KEY"); v != "" {
		c.ManagementKey = v
	}
}

// PhoneNumberID resolves the dual-alias phone identifier. The canonical
// phone-number-id wins; the legacy phone-id is a fallback only.
func (c *Config) PhoneNumberID() string {
	if c.WhatsApp.PhoneNumberID != "" {
		return c.WhatsApp.PhoneNumberID
	}
	return c.WhatsApp.PhoneID
}

// GetPort returns the listen port, defaulting to 8080.
func (c *Config) GetPort() int {
	if c == nil || c.Port <= 0 {
		return 8080
	}
	return c.Port
}

// GetGraphBaseURL returns the Graph API root, defaulting to v21.0.
func (c *WhatsAppConfig) GetGraphBaseURL() string {
	if c == nil || c.BaseURL == "" {
		return "https://graph.facebook.com/v21.0"
	}
	return c.BaseURL
}

// GetBaseURL returns the Groq API root, defaulting to the public endpoint.
func (c *GroqConfig) GetBaseURL() string {
	if c == nil || c.BaseURL == "" {
		return "https://api.groq.com/openai/v1"
	}
	return c.BaseURL
}

// GetChatModel returns the completion model, defaulting to llama-3.3-70b-versatile.
func (c *GroqConfig) GetChatModel() string {
	if c == nil || c.ChatModel == "" {
		return "llama-3.3-70b-versatile"
	}
	return c.ChatModel
}

// GetWhisperModel returns the transcription model, defaulting to whisper-large-v3-turbo.
func (c *GroqConfig) GetWhisperModel() string {
	if c == nil || c.WhisperModel == "" {
		return "whisper-large-v3-turbo"
	}
	return c.WhisperModel
}

// GetLanguage returns the transcription language, defaulting to "es".
func (c *GroqConfig) GetLanguage() string {
	if c == nil || c.Language == "" {
		return "es"
	}
	return c.Language
}

// GetMaxTokens returns the completion output bound, defaulting to 500.
func (c *GroqConfig) GetMaxTokens() int {
	if c == nil || c.MaxTokens == nil {
		return 500
	}
	return *c.MaxTokens
}

// GetTemperature returns the sampling temperature, defaulting to 0.7.
func (c *GroqConfig) GetTemperature() float64 {
	if c == nil || c.Temperature == nil {
		return 0.7
	}
	return *c.Temperature
}

// GetPromptTokenBudget returns the history token budget, defaulting to 3000.
func (c *GroqConfig) GetPromptTokenBudget() int {
	if c == nil || c.PromptTokenBudget == nil {
		return 3000
	}
	return *c.PromptTokenBudget
}

// GetTTL returns the session time-to-live, defaulting to 24 hours.
func (c *SessionConfig) GetTTL() time.Duration {
	if c == nil || c.TTL == nil || *c.TTL <= 0 {
		return 24 * time.Hour
	}
	return *c.TTL
}

// GetMaxHistory returns the history cap, defaulting to 20 turns (10 exchanges).
func (c *SessionConfig) GetMaxHistory() int {
	if c == nil || c.MaxHistory == nil || *c.MaxHistory <= 0 {
		return 20
	}
	return *c.MaxHistory
}

// GetBusinessName returns the persona business name, defaulting to "Loopera".
func (c *BotConfig) GetBusinessName() string {
	if c == nil || c.BusinessName == "" {
		return "Loopera"
	}
	return c.BusinessName
}

// GetBusinessDescription returns the persona description, defaulting to the
// AI-agent consultancy blurb.
func (c *BotConfig) GetBusinessDescription() string {
	if c == nil || c.BusinessDescription == "" {
		return "Desarrollo de Agentes AI para empresas"
	}
	return c.BusinessDescription
}
