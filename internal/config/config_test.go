package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.GetPort() != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.GetPort())
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
port: 9090
whatsapp:
  token: tok-123
  phone-number-id: "555000"
  verify-token: secret
groq:
  api-key: gsk-abc
  max-tokens: 256
session:
  store-url: sessions.db
  ttl: 1h
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.GetPort() != 9090 {
		t.Errorf("port = %d, want 9090", cfg.GetPort())
	}
	if cfg.WhatsApp.Token != "tok-123" {
		t.Errorf("token = %q", cfg.WhatsApp.Token)
	}
	if got := cfg.Groq.GetMaxTokens(); got != 256 {
		t.Errorf("max tokens = %d, want 256", got)
	}
	if got := cfg.Session.GetTTL(); got != time.Hour {
		t.Errorf("ttl = %v, want 1h", got)
	}
}

func TestPhoneNumberIDAliasPrecedence(t *testing.T) {
	tests := []struct {
		name      string
		canonical string
		legacy    string
		want      string
	}{
		{"canonical wins", "111", "222", "111"},
		{"legacy fallback", "", "222", "222"},
		{"both empty", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.WhatsApp.PhoneNumberID = tt.canonical
			cfg.WhatsApp.PhoneID = tt.legacy
			if got := cfg.PhoneNumberID(); got != tt.want {
				t.Errorf("PhoneNumberID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7777")
	t.Setenv("WHATSAPP_PHONE_NUMBER_ID", "env-canonical")
	t.Setenv("GROQ_API_KEY", "gsk-env")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.GetPort() != 7777 {
		t.Errorf("port = %d, want 7777", cfg.GetPort())
	}
	if cfg.PhoneNumberID() != "env-canonical" {
		t.Errorf("phone id = %q", cfg.PhoneNumberID())
	}
	if cfg.Groq.APIKey != "gsk-env" {
		t.Errorf("api key = %q", cfg.Groq.APIKey)
	}
}

func TestGroqDefaults(t *testing.T) {
	var g GroqConfig
	if g.GetChatModel() != "llama-3.3-70b-versatile" {
		t.Errorf("chat model = %q", g.GetChatModel())
	}
	if g.GetWhisperModel() != "whisper-large-v3-turbo" {
		t.Errorf("whisper model = %q", g.GetWhisperModel())
	}
	if g.GetLanguage() != "es" {
		t.Errorf("language = %q", g.GetLanguage())
	}
	if g.GetTemperature() != 0.7 {
		t.Errorf("temperature = %v", g.GetTemperature())
	}
	if g.GetMaxTokens() != 500 {
		t.Errorf("max tokens = %d", g.GetMaxTokens())
	}
}

func TestPromptSourceFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("custom persona\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &Config{}
	cfg.Bot.SystemPromptFile = path

	ps := NewPromptSource(cfg)
	defer ps.Close()

	if got := ps.SystemPrompt(); got != "custom persona" {
		t.Errorf("SystemPrompt() = %q, want file contents", got)
	}
}

func TestPromptSourceFallback(t *testing.T) {
	cfg := &Config{}
	ps := NewPromptSource(cfg)
	defer ps.Close()

	got := ps.SystemPrompt()
	if got == "" {
		t.Fatal("expected built-in persona prompt")
	}
	if want := "asistente virtual de Loopera"; !strings.Contains(got, want) {
		t.Errorf("prompt missing %q", want)
	}
}
