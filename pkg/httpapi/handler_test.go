package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/chatbridge/pkg/authstate"
	"github.com/txn2/chatbridge/pkg/health"
	"github.com/txn2/chatbridge/pkg/protocol"
	"github.com/txn2/chatbridge/pkg/protocol/protocoltest"
	"github.com/txn2/chatbridge/pkg/session"
)

const (
	apiWaitTimeout = 2 * time.Second
	apiWaitTick    = 5 * time.Millisecond
)

type apiEnv struct {
	handler *Handler
	manager *session.Manager
	dialer  *protocoltest.FakeDialer
	store   authstate.Store
	checker *health.Checker
}

func newAPIEnv(t *testing.T, capacity int, token string) *apiEnv {
	t.Helper()

	dialer := protocoltest.NewFakeDialer()
	store := authstate.NewMemoryStore()
	mgr := session.NewManager(session.Config{
		Capacity:                 capacity,
		PairingTimeout:           time.Minute,
		ReconnectInitialInterval: 5 * time.Millisecond,
	}, dialer, store, nil, nil)
	t.Cleanup(func() { _ = mgr.Close() })

	checker := health.NewChecker()
	checker.SetSessionGauge(mgr.Count)

	var auth func(http.Handler) http.Handler
	if token != "" {
		auth = TokenAuth(token)
	}

	return &apiEnv{
		handler: NewHandler(mgr, checker, auth),
		manager: mgr,
		dialer:  dialer,
		store:   store,
		checker: checker,
	}
}

func (env *apiEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

// emitForSession waits for the session's dial and emits an event on its
// fake client.
func (env *apiEnv) emitForSession(t *testing.T, sessionID string, ev protocol.Event) {
	t.Helper()

	require.Eventually(t, func() bool {
		return env.dialer.DialCount(sessionID) >= 1
	}, apiWaitTimeout, apiWaitTick)
	env.dialer.Clients(sessionID)[0].Emit(ev)
}

func TestConnect_ThenStatusShowsPairingImage(t *testing.T) {
	env := newAPIEnv(t, 10, "")

	rec := env.do(t, http.MethodPost, "/connect", `{"sessionId":"channel-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"success":true,"message":"connection initiated or already exists"}`,
		rec.Body.String())

	env.emitForSession(t, "channel-1", protocol.QRChallenge{Code: "2@pairing-payload"})

	require.Eventually(t, func() bool {
		status, _ := env.manager.Status("channel-1")
		return status == "waiting_for_qr_scan"
	}, apiWaitTimeout, apiWaitTick)

	rec = env.do(t, http.MethodGet, "/status/channel-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "waiting_for_qr_scan", body.Status)
	require.NotNil(t, body.PairingImage)
	assert.True(t, strings.HasPrefix(*body.PairingImage, "data:image/png;base64,"))
}

func TestConnect_Idempotent(t *testing.T) {
	env := newAPIEnv(t, 10, "")

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/connect", `{"sessionId":"channel-1"}`).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/connect", `{"sessionId":"channel-1"}`).Code)
	assert.Equal(t, 1, env.manager.Count())
}

func TestConnect_ValidatesBody(t *testing.T) {
	env := newAPIEnv(t, 10, "")

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/connect", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/connect", `not json`).Code)
	assert.Zero(t, env.manager.Count())
}

func TestConnect_PoolExhausted(t *testing.T) {
	env := newAPIEnv(t, 1, "")

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/connect", `{"sessionId":"channel-a"}`).Code)

	rec := env.do(t, http.MethodPost, "/connect", `{"sessionId":"channel-b"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The rejected session does not exist and reports disconnected.
	rec = env.do(t, http.MethodGet, "/status/channel-b", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "disconnected", body.Status)
	assert.Nil(t, body.PairingImage)
}

func TestStatus_UnknownSession(t *testing.T) {
	env := newAPIEnv(t, 10, "")

	rec := env.do(t, http.MethodGet, "/status/never-seen", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"disconnected","pairingImage":null}`, rec.Body.String())

	// Reading status never registers a session.
	assert.Zero(t, env.manager.Count())
}

func TestSendMessage(t *testing.T) {
	env := newAPIEnv(t, 10, "")

	rec := env.do(t, http.MethodPost, "/send-message",
		`{"sessionId":"channel-1","recipient":"628222","message":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, "unknown session")

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/connect", `{"sessionId":"channel-1"}`).Code)

	rec = env.do(t, http.MethodPost, "/send-message",
		`{"sessionId":"channel-1","recipient":"628222","message":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, "registered but not yet connected")

	env.emitForSession(t, "channel-1", protocol.Connected{SelfID: "628111@s.whatsapp.net", PhoneNumber: "628111"})
	require.Eventually(t, func() bool {
		status, _ := env.manager.Status("channel-1")
		return status == "connected"
	}, apiWaitTimeout, apiWaitTick)

	rec = env.do(t, http.MethodPost, "/send-message",
		`{"sessionId":"channel-1","recipient":"628222","message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	sent := env.dialer.Clients("channel-1")[0].Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, protocoltest.SentMessage{Recipient: "628222", Text: "hi"}, sent[0])
}

func TestSendMessage_ValidatesBody(t *testing.T) {
	env := newAPIEnv(t, 10, "")

	for _, body := range []string{
		`{}`,
		`{"sessionId":"channel-1"}`,
		`{"sessionId":"channel-1","recipient":"628222"}`,
		`{"recipient":"628222","message":"hi"}`,
	} {
		assert.Equal(t, http.StatusBadRequest,
			env.do(t, http.MethodPost, "/send-message", body).Code, "body: %s", body)
	}
}

func TestDisconnect(t *testing.T) {
	env := newAPIEnv(t, 10, "")
	ctx := t.Context()

	require.NoError(t, env.store.Save(ctx, "channel-1", []byte("creds")))
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/connect", `{"sessionId":"channel-1"}`).Code)
	env.emitForSession(t, "channel-1", protocol.Connected{SelfID: "628111@s.whatsapp.net", PhoneNumber: "628111"})

	rec := env.do(t, http.MethodPost, "/disconnect", `{"sessionId":"channel-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	require.Eventually(t, func() bool {
		return env.manager.Count() == 0
	}, apiWaitTimeout, apiWaitTick)

	blob, err := env.store.Load(ctx, "channel-1")
	require.NoError(t, err)
	assert.Nil(t, blob)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/disconnect", `{}`).Code)
}

func TestTokenAuth(t *testing.T) {
	env := newAPIEnv(t, 10, "server-token")

	rec := env.do(t, http.MethodPost, "/connect", `{"sessionId":"channel-1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "missing token")

	rec = env.do(t, http.MethodPost, "/connect", `{"sessionId":"channel-1"}`,
		ServerTokenHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "wrong token")

	rec = env.do(t, http.MethodPost, "/connect", `{"sessionId":"channel-1"}`,
		ServerTokenHeader, "server-token")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open with auth enabled.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/readyz", "").Code)

	env.checker.SetReady()
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/readyz", "").Code)
}
