package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotama/firefly-telegram-assistant/internal/daemon"
	"github.com/dkotama/firefly-telegram-assistant/internal/plugins"
	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/catalog"
)

const secret = "test-secret"

type echoHandler struct {
	gotUser string
	err     error
}

func (h *echoHandler) HandleMessage(_ context.Context, userID, text string) ([]api.OutboundMessage, error) {
	h.gotUser = userID
	if h.err != nil {
		return nil, h.err
	}
	return []api.OutboundMessage{{Text: "got " + text, Buttons: [][]api.Button{{{Label: "OK", Data: "ok"}}}}}, nil
}

type fakePipeline struct {
	canSync bool
	synced  int
}

func (p *fakePipeline) SyncNow() bool {
	if p.canSync {
		p.synced++
	}
	return p.canSync
}

func (p *fakePipeline) Status() daemon.Status {
	return daemon.Status{Running: true, Reader: "firefly", Writer: "firefly", PendingWrites: 1}
}

type fakeCounter struct {
	n   int
	err error
}

func (c fakeCounter) Count(context.Context) (int, error) { return c.n, c.err }

func newServer(t *testing.T, h Handler, p Pipeline, store Counter) *Server {
	t.Helper()
	cat := catalog.New()
	cat.Observe(&api.TransactionRecord{Category: "Food", Payee: "Sukiya"})
	s, err := New(Deps{
		Handler:  h,
		Pipeline: p,
		Plugins:  []plugins.Info{{Name: "firefly", Kind: "reader"}},
		Store:    store,
		Catalog:  cat,
	}, Config{Addr: ":0", JWTSecret: secret}, nil)
	require.NoError(t, err)
	return s
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := IssueToken(secret, userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, s *Server, method, path, tok string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp Response
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestServer_Health(t *testing.T) {
	s := newServer(t, &echoHandler{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_PluginsArePublic(t *testing.T) {
	s := newServer(t, &echoHandler{}, nil, nil)
	rec, resp := do(t, s, http.MethodGet, "/api/v1/plugins", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, resp.Code)
	assert.Contains(t, rec.Body.String(), `"firefly"`)
}

// TestServer_Auth tests that protected routes reject missing and forged tokens.
func TestServer_Auth(t *testing.T) {
	s := newServer(t, &echoHandler{}, nil, nil)
	forged, err := IssueToken("other-secret", "42", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(secret, "42", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"forged", "Bearer " + forged},
		{"garbage", "Bearer not.a.token"},
		{"expired", "Bearer " + expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewBufferString(`{"text":"hi"}`))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

// TestServer_PostMessage tests that the token subject becomes the user id.
func TestServer_PostMessage(t *testing.T) {
	h := &echoHandler{}
	s := newServer(t, h, nil, nil)

	rec, resp := do(t, s, http.MethodPost, "/api/v1/messages", token(t, "42"), MessageRequest{Text: "Pay 768 yen at Sukiya"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", h.gotUser)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	msgs, ok := data["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	assert.Equal(t, "got Pay 768 yen at Sukiya", msgs[0].(map[string]any)["text"])
}

func TestServer_PostMessageErrors(t *testing.T) {
	s := newServer(t, &echoHandler{}, nil, nil)
	rec, _ := do(t, s, http.MethodPost, "/api/v1/messages", token(t, "42"), map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s = newServer(t, &echoHandler{err: errors.New("boom")}, nil, nil)
	rec, resp := do(t, s, http.MethodPost, "/api/v1/messages", token(t, "42"), MessageRequest{Text: "hi"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, -1, resp.Code)
}

func TestServer_Sync(t *testing.T) {
	p := &fakePipeline{canSync: true}
	s := newServer(t, &echoHandler{}, p, nil)
	rec, _ := do(t, s, http.MethodPost, "/api/v1/sync", token(t, "42"), nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, p.synced)

	s = newServer(t, &echoHandler{}, &fakePipeline{}, nil)
	rec, _ = do(t, s, http.MethodPost, "/api/v1/sync", token(t, "42"), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	s = newServer(t, &echoHandler{}, nil, nil)
	rec, _ = do(t, s, http.MethodPost, "/api/v1/sync", token(t, "42"), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_Stats(t *testing.T) {
	s := newServer(t, &echoHandler{}, &fakePipeline{}, fakeCounter{n: 12})
	rec, _ := do(t, s, http.MethodGet, "/api/v1/stats", token(t, "42"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 12, body.Data.Records)
	assert.Equal(t, 1, body.Data.Catalog.Categories)
	require.NotNil(t, body.Data.Pipeline)
	assert.Equal(t, 1, body.Data.Pipeline.PendingWrites)

	s = newServer(t, &echoHandler{}, nil, fakeCounter{err: errors.New("db down")})
	rec, _ = do(t, s, http.MethodGet, "/api/v1/stats", token(t, "42"), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTokenRoundTrip(t *testing.T) {
	tok, err := IssueToken(secret, "1001", 0)
	require.NoError(t, err)
	sub, err := ParseToken(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, "1001", sub)

	_, err = IssueToken("", "1001", 0)
	assert.Error(t, err)
	_, err = IssueToken(secret, "", 0)
	assert.Error(t, err)
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(Deps{Handler: &echoHandler{}}, Config{Addr: ":0"}, nil)
	assert.Error(t, err)
}

// TestServer_Run tests graceful shutdown on context cancellation.
func TestServer_Run(t *testing.T) {
	s, err := New(Deps{Handler: &echoHandler{}}, Config{Addr: "127.0.0.1:0", JWTSecret: secret}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
