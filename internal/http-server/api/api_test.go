package api

import (
	"context"
	"encoding/json"
	"io"
	"linkgate/entity"
	"linkgate/impl/core"
	"linkgate/impl/membership"
	"linkgate/impl/registry"
	"linkgate/impl/session"
	"linkgate/internal/cache"
	"linkgate/internal/config"
	"linkgate/internal/database/memory"
	"linkgate/internal/http-server/middleware/authenticate"
	"linkgate/lib/clock"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner  = int64(10)
	apiKey = "test-api-key-0123456789"
)

type envelope struct {
	Data          json.RawMessage `json:"data"`
	Success       bool            `json:"success"`
	StatusMessage string          `json:"status_message"`
}

type fixture struct {
	server *Server
	core   *core.Core
	clock  *clock.Fake
	linkId string
}

func setup(t *testing.T, opts Options) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	links := registry.New(store, 720*time.Hour, clk, nil, log)
	sessions := session.New(store, links, session.Config{Window: 30 * time.Minute, MaxAttempts: 3}, clk, nil, log)
	gate := membership.New(nil, nil, time.Second, nil, log)
	c := core.New(core.Config{PublicUrl: "https://gate.example.com"}, links, sessions, gate, store, clk, nil, log)

	link, err := c.CreateLink(context.Background(), entity.Principal{Id: owner}, "https://t.me/+Hidden")
	require.NoError(t, err)

	if opts.Auth == nil {
		opts.Auth = authenticate.KeyRing{{Key: apiKey, Principal: owner}}
	}
	conf := &config.Config{Listen: config.Listen{BindIp: "127.0.0.1", Port: "0"}}
	return &fixture{server: New(conf, log, c, opts), core: c, clock: clk, linkId: link.Id}
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func (f *fixture) grant(t *testing.T) string {
	t.Helper()
	g, err := f.core.RequestAccess(context.Background(), entity.Principal{Id: 1001}, f.linkId)
	require.NoError(t, err)
	return g.Session.Token
}

func TestSession_StatusAndComplete(t *testing.T) {
	f := setup(t, Options{})
	token := f.grant(t)

	rec, env := f.do(t, http.MethodGet, "/api/session/"+token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view entity.SessionView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, entity.SessionPending, view.State)
	assert.Equal(t, 3, view.AttemptsLeft)
	assert.NotContains(t, string(env.Data), "t.me")

	rec, env = f.do(t, http.MethodPost, "/api/session/"+token+"/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var done entity.Completion
	require.NoError(t, json.Unmarshal(env.Data, &done))
	assert.Equal(t, "https://t.me/+Hidden", done.Destination)

	rec, env = f.do(t, http.MethodPost, "/api/session/"+token+"/complete", `{"code":""}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)
}

func TestSession_Errors(t *testing.T) {
	f := setup(t, Options{})

	rec, _ := f.do(t, http.MethodGet, "/api/session/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	token := f.grant(t)
	rec, _ = f.do(t, http.MethodPost, "/api/session/"+token+"/complete", `{"code":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/session/"+token+"/challenge", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.clock.Advance(30 * time.Minute)
	rec, _ = f.do(t, http.MethodGet, "/api/session/"+token, "")
	assert.Equal(t, http.StatusGone, rec.Code)
	rec, _ = f.do(t, http.MethodPost, "/api/session/"+token+"/complete", "")
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestLinks(t *testing.T) {
	f := setup(t, Options{})
	auth := []string{"Authorization", "Bearer " + apiKey}

	rec, _ := f.do(t, http.MethodPost, "/v1/links/", `{"destination":"https://t.me/+New"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = f.do(t, http.MethodPost, "/v1/links/", `{"destination":"https://t.me/+New"}`, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/v1/links/", `{"destination":"https://example.com/x"}`, auth...)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec, _ = f.do(t, http.MethodPost, "/v1/links/", `{}`, auth...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := f.do(t, http.MethodPost, "/v1/links/", `{"destination":"https://t.me/+New"}`, auth...)
	require.Equal(t, http.StatusCreated, rec.Code)
	var link entity.LinkRecord
	require.NoError(t, json.Unmarshal(env.Data, &link))
	assert.True(t, link.Active)
	assert.Equal(t, owner, link.Owner)

	rec, _ = f.do(t, http.MethodGet, "/v1/links/"+link.Id, "", auth...)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = f.do(t, http.MethodDelete, "/v1/links/"+link.Id, "", auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &link))
	assert.False(t, link.Active)

	rec, _ = f.do(t, http.MethodDelete, "/v1/links/"+link.Id, "", auth...)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLinks_Forbidden(t *testing.T) {
	f := setup(t, Options{Auth: authenticate.KeyRing{{Key: apiKey, Principal: owner + 1}}})
	auth := []string{"Authorization", "Bearer " + apiKey}

	rec, _ := f.do(t, http.MethodDelete, "/v1/links/"+f.linkId, "", auth...)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = f.do(t, http.MethodGet, "/v1/links/"+f.linkId, "", auth...)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthAndNotFound(t *testing.T) {
	f := setup(t, Options{})

	rec, env := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"durable":false`)

	rec, _ = f.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = f.do(t, http.MethodPut, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := setup(t, Options{Limiter: cache.NewLimiter(client, 2, time.Minute)})
	for i := 0; i < 2; i++ {
		rec, _ := f.do(t, http.MethodGet, "/api/session/unknown", "", "X-Forwarded-For", "10.1.1.1")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec, _ := f.do(t, http.MethodGet, "/api/session/unknown", "", "X-Forwarded-For", "10.1.1.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	rec, _ = f.do(t, http.MethodGet, "/api/session/unknown", "", "X-Forwarded-For", "10.1.1.2")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
