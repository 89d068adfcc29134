// Package llm implements the Groq backend adapter: chat completion for reply
// generation and Whisper transcription for voice notes. Both calls are
// stateless single attempts; errors surface to the caller, which owns the
// retry-or-apologize decision.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/loopera/chatrelay/internal/config"
	"github.com/loopera/chatrelay/internal/session"
)

const defaultRequestTimeout = 60 * time.Second

// Client calls the Groq OpenAI-compatible API. Safe for concurrent use.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	chatModel    string
	whisperModel string
	language     string
	maxTokens    int
	temperature  float64
	tokenBudget  int

	// transcode converts the provider voice-note codec into a
	// transcription-friendly format. Replaceable in tests.
	transcode func(ctx context.Context, audio []byte) ([]byte, error)
}

// ClientOption customises Client construction.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTranscoder overrides the audio transcoding step, mainly for tests.
func WithTranscoder(fn func(ctx context.Context, audio []byte) ([]byte, error)) ClientOption {
	return func(c *Client) { c.transcode = fn }
}

// NewClient creates a Groq client from configuration.
func NewClient(cfg *config.GroqConfig, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: defaultRequestTimeout},
		baseURL:      cfg.GetBaseURL(),
		apiKey:       cfg.APIKey,
		chatModel:    cfg.GetChatModel(),
		whisperModel: cfg.GetWhisperModel(),
		language:     cfg.GetLanguage(),
		maxTokens:    cfg.GetMaxTokens(),
		temperature:  cfg.GetTemperature(),
		tokenBudget:  cfg.GetPromptTokenBudget(),
		transcode:    transcodeVoiceNote,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete generates a reply for the user utterance given the conversation
// history and a system prompt. The message list is ordered system prompt,
// history turns, then the new user turn. History is trimmed to the prompt
// token budget, newest turns kept.
func (c *Client) Complete(ctx context.Context, utterance string, history []session.Turn, systemPrompt string) (string, error) {
	history = TrimToTokenBudget(history, c.tokenBudget-CountTokens(systemPrompt)-CountTokens(utterance))

	payload := []byte(`{}`)
	payload, _ = sjson.SetBytes(payload, "model", c.chatModel)
	payload, _ = sjson.SetBytes(payload, "temperature", c.temperature)
	payload, _ = sjson.SetBytes(payload, "max_tokens", c.maxTokens)
	payload, _ = sjson.SetBytes(payload, "messages.-1", map[string]string{
		"role": "system", "content": systemPrompt,
	})
	for _, turn := range history {
		payload, _ = sjson.SetBytes(payload, "messages.-1", map[string]string{
			"role": turn.Role, "content": turn.Content,
		})
	}
	payload, _ = sjson.SetBytes(payload, "messages.-1", map[string]string{
		"role": session.RoleUser, "content": utterance,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: build completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("llm: completion: %w", err)
	}
	content := gjson.GetBytes(body, "choices.0.message.content").String()
	if content == "" {
		return "", fmt.Errorf("llm: completion returned no content")
	}
	return content, nil
}

// Transcribe converts a voice note into text. The audio arrives in the
// provider's compressed codec and is transcoded to 16 kHz mono before upload;
// transcoding must succeed before transcription is attempted.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	prepared, err := c.transcode(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("llm: transcode audio: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "audio.mp3")
	if err != nil {
		return "", fmt.Errorf("llm: build transcription request: %w", err)
	}
	if _, err = part.Write(prepared); err != nil {
		return "", fmt.Errorf("llm: build transcription request: %w", err)
	}
	_ = writer.WriteField("model", c.whisperModel)
	_ = writer.WriteField("language", c.language)
	_ = writer.WriteField("response_format", "json")
	if err = writer.Close(); err != nil {
		return "", fmt.Errorf("llm: build transcription request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("llm: build transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("llm: transcription: %w", err)
	}
	return gjson.GetBytes(body, "text").String(), nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = string(body)
			if len(msg) > 200 {
				msg = msg[:200] + "..."
			}
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
	return body, nil
}
