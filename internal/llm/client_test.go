package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/loopera/chatrelay/internal/config"
	"github.com/loopera/chatrelay/internal/session"
)

func testClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.GroqConfig{APIKey: "gsk-test", BaseURL: server.URL}
	return NewClient(cfg, opts...)
}

func TestCompleteMessageOrderAndParams(t *testing.T) {
	var gotBody []byte
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"¡Claro!"}}]}`))
	})

	history := []session.Turn{
		{Role: session.RoleUser, Content: "hola"},
		{Role: session.RoleAssistant, Content: "buenas"},
	}
	reply, err := client.Complete(context.Background(), "¿precios?", history, "eres un bot")
	require.NoError(t, err)
	assert.Equal(t, "¡Claro!", reply)

	messages := gjson.GetBytes(gotBody, "messages").Array()
	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0].Get("role").String())
	assert.Equal(t, "eres un bot", messages[0].Get("content").String())
	assert.Equal(t, "user", messages[1].Get("role").String())
	assert.Equal(t, "hola", messages[1].Get("content").String())
	assert.Equal(t, "assistant", messages[2].Get("role").String())
	assert.Equal(t, "user", messages[3].Get("role").String())
	assert.Equal(t, "¿precios?", messages[3].Get("content").String())

	assert.Equal(t, "llama-3.3-70b-versatile", gjson.GetBytes(gotBody, "model").String())
	assert.InDelta(t, 0.7, gjson.GetBytes(gotBody, "temperature").Float(), 0.0001)
	assert.Equal(t, int64(500), gjson.GetBytes(gotBody, "max_tokens").Int())
}

func TestCompleteBackendError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	})

	_, err := client.Complete(context.Background(), "hola", nil, "sys")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestTranscribeUploadsTranscodedAudio(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"text":"hola mundo"}`))
	}, WithTranscoder(func(ctx context.Context, audio []byte) ([]byte, error) {
		return []byte("MP3:" + string(audio)), nil
	}))

	text, err := client.Transcribe(context.Background(), []byte("OGG"))
	require.NoError(t, err)
	assert.Equal(t, "hola mundo", text)
	assert.Contains(t, gotContentType, "multipart/form-data")

	body := string(gotBody)
	assert.Contains(t, body, "MP3:OGG")
	assert.Contains(t, body, "whisper-large-v3-turbo")
	assert.Contains(t, body, `name="language"`)
	assert.Contains(t, body, "\r\nes\r\n")
}

func TestTranscribeTranscodeFailureSkipsUpload(t *testing.T) {
	called := false
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	}, WithTranscoder(func(ctx context.Context, audio []byte) ([]byte, error) {
		return nil, assert.AnError
	}))

	_, err := client.Transcribe(context.Background(), []byte("OGG"))
	require.Error(t, err)
	assert.False(t, called, "transcription must not be attempted when transcoding fails")
}

func TestTranscribeBackendErrorPropagates(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad audio"}}`, http.StatusBadRequest)
	}, WithTranscoder(func(ctx context.Context, audio []byte) ([]byte, error) {
		return audio, nil
	}))

	_, err := client.Transcribe(context.Background(), []byte("OGG"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad audio")
}

func TestCountTokens(t *testing.T) {
	if CountTokens("") != 0 {
		t.Error("empty string should count 0 tokens")
	}
	n := CountTokens("hello world, this is a sentence about llamas")
	if n <= 0 || n > 20 {
		t.Errorf("token count = %d, outside plausible range", n)
	}
}

func TestTrimToTokenBudgetKeepsNewest(t *testing.T) {
	long := strings.Repeat("palabra ", 50)
	history := []session.Turn{
		{Role: session.RoleUser, Content: long},
		{Role: session.RoleAssistant, Content: long},
		{Role: session.RoleUser, Content: "corto"},
		{Role: session.RoleAssistant, Content: "sí"},
	}
	perExchange := CountTokens("corto") + CountTokens("sí") + 2*perTurnOverhead

	trimmed := TrimToTokenBudget(history, perExchange+5)
	if len(trimmed) != 2 {
		t.Fatalf("trimmed len = %d, want 2", len(trimmed))
	}
	if trimmed[0].Content != "corto" || trimmed[1].Content != "sí" {
		t.Errorf("kept wrong turns: %+v", trimmed)
	}
}

func TestTrimToTokenBudgetNoTrimNeeded(t *testing.T) {
	history := []session.Turn{
		{Role: session.RoleUser, Content: "a"},
		{Role: session.RoleAssistant, Content: "b"},
	}
	trimmed := TrimToTokenBudget(history, 1000)
	if len(trimmed) != 2 {
		t.Errorf("trimmed len = %d, want 2", len(trimmed))
	}
}

func TestTrimToTokenBudgetZeroBudget(t *testing.T) {
	history := []session.Turn{{Role: session.RoleUser, Content: "a"}}
	if got := TrimToTokenBudget(history, 0); len(got) != 0 {
		t.Errorf("zero budget should drop all history, got %d turns", len(got))
	}
}
