package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telegem/telegem/pkg/assembly"
	"github.com/telegem/telegem/pkg/config"
	"github.com/telegem/telegem/pkg/gateway"
	"github.com/telegem/telegem/pkg/session"
)

func newTestServer(t *testing.T) (*Server, *recordingSender) {
	t.Helper()
	cfg := &config.Config{
		BotToken:    "123:abc",
		WebhookBase: "https://bot.example.com",
		ListenAddr:  ":0",
	}
	sessions := session.NewStore(nil)
	gw, err := gateway.New(gateway.Config{
		Sessions: sessions,
		Pipeline: assembly.NewPipeline(),
		Model:    echoModel{},
	})
	require.NoError(t, err)
	api := &recordingSender{}
	bot := NewBot(api, gw, sessions, staticFetcher{}, true)

	pub, sub, err := BuildPubSub(config.BusConfig{})
	require.NoError(t, err)

	srv, err := NewServer(cfg, nil, bot, pub, sub)
	require.NoError(t, err)
	return srv, api
}

func TestHandleWebhookDispatchesUpdate(t *testing.T) {
	srv, api := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.dispatchLoop(ctx) }()
	// GoChannel drops messages published before the subscription exists.
	time.Sleep(50 * time.Millisecond)

	body := `{"update_id":1,"message":{"message_id":1,"chat":{"id":55},"text":"hello"}}`
	req := httptest.NewRequest(http.MethodPost, webhookPath("123:abc"), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.handleWebhook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	require.Eventually(t, func() bool {
		return len(api.sentMessages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "echo: hello", api.sentMessages()[0].Text)
}

func TestHandleWebhookRejectsNonJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, webhookPath("123:abc"), strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	srv.handleWebhook(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleWebhookRejectsGet(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, webhookPath("123:abc"), nil)
	rec := httptest.NewRecorder()
	srv.handleWebhook(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthRoute(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bot running", rec.Body.String())
}

func TestMalformedUpdateIsDroppedNotFatal(t *testing.T) {
	srv, api := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.dispatchLoop(ctx) }()
	time.Sleep(50 * time.Millisecond)

	req := httptest.NewRequest(http.MethodPost, webhookPath("123:abc"), strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.handleWebhook(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// A valid update afterwards still gets through.
	body := `{"update_id":2,"message":{"message_id":2,"chat":{"id":56},"text":"still alive"}}`
	req = httptest.NewRequest(http.MethodPost, webhookPath("123:abc"), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	srv.handleWebhook(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return len(api.sentMessages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "echo: still alive", api.sentMessages()[0].Text)
}
