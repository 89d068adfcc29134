package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopera/chatrelay/internal/config"
	"github.com/loopera/chatrelay/internal/session"
	"github.com/loopera/chatrelay/internal/wa"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []*wa.InboundMessage
}

func (r *recordingDispatcher) Dispatch(msg *wa.InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func newTestServer(t *testing.T) (*Server, *recordingDispatcher, session.Store) {
	t.Helper()
	cfg := &config.Config{ManagementKey: "mgmt-key"}
	cfg.WhatsApp.VerifyToken = "verify-secret"
	dispatcher := &recordingDispatcher{}
	store := session.NewMemoryStore(session.Options{})
	return NewServer(cfg, dispatcher, store, "test"), dispatcher, store
}

const messageEnvelope = `{"entry":[{"changes":[{"value":{"messages":[{"from":"573001112233","id":"wamid.A","type":"text","text":{"body":"hola"}}]}}]}]}`

func TestVerificationHandshake(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-secret&hub.challenge=xyz123", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "xyz123", rec.Body.String())
}

func TestVerificationWrongToken(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=xyz123", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "xyz123")
}

func TestVerificationWrongMode(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=unsubscribe&hub.verify_token=verify-secret&hub.challenge=xyz123", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeliveryDispatchesMessage(t *testing.T) {
	server, dispatcher, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(messageEnvelope))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
	require.Equal(t, 1, dispatcher.count())
	assert.Equal(t, "573001112233", dispatcher.msgs[0].From)
}

func TestDeliveryWebhookAliasRoute(t *testing.T) {
	server, dispatcher, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(messageEnvelope))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, dispatcher.count())
}

func TestDeliveryStatusCallbackAcknowledgedAndIgnored(t *testing.T) {
	server, dispatcher, _ := newTestServer(t)

	body := `{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.A","status":"read"}]}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, dispatcher.count())
}

func TestDeliveryMalformedBodyStillAcknowledged(t *testing.T) {
	server, dispatcher, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"entry": [`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, dispatcher.count())
}

func TestDeliveryGzipBody(t *testing.T) {
	server, dispatcher, _ := newTestServer(t)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(messageEnvelope))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req := httptest.NewRequest(http.MethodPost, "/webhook", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, dispatcher.count())
}

func TestHealthAndRoot(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatrelay")
}

func TestMetricsEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatrelay_active_connections")
}

func TestClearSessionRequiresManagementKey(t *testing.T) {
	server, _, store := newTestServer(t)
	store.Update(context.Background(), "57300", "q", "a", nil)

	req := httptest.NewRequest(http.MethodDelete, "/v0/sessions/57300", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/v0/sessions/57300", nil)
	req.Header.Set("X-Management-Key", "mgmt-key")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	sess := store.Get(context.Background(), "57300")
	assert.Empty(t, sess.History)
}
