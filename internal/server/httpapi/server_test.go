package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fateworks/pik/internal/logging"
	"github.com/fateworks/pik/internal/server/config"
	"github.com/fateworks/pik/internal/server/consent"
	"github.com/fateworks/pik/internal/server/eventbus"
	"github.com/fateworks/pik/internal/server/identity"
	"github.com/fateworks/pik/internal/server/ingest"
	"github.com/fateworks/pik/internal/server/ledger"
	"github.com/fateworks/pik/internal/server/loot"
	"github.com/fateworks/pik/internal/server/passkeys"
	"github.com/fateworks/pik/internal/server/ratelimit"
	"github.com/fateworks/pik/internal/server/repositories/repotest"
	"github.com/fateworks/pik/internal/server/sessions"
	"github.com/fateworks/pik/internal/server/settings"
	"github.com/fateworks/pik/internal/server/sources"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func newTestServer(t *testing.T) (*Server, *repotest.Manager) {
	t.Helper()

	cfg := &config.Config{
		Env:            "development",
		RPName:         "PIK Test",
		RPID:           "localhost",
		RPOrigin:       "http://localhost:8080",
		SessionHashKey: "test-hash-key",
	}
	mgr := repotest.NewManager()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	bus := eventbus.New()
	ls := ledger.NewService(mgr, bus, log)
	st := settings.NewService(mgr)
	ss := sessions.NewService(mgr, st, cfg.SessionHashKey)
	sv := sources.NewService(mgr, log)
	cs := consent.NewService(mgr, ls, st, log)
	ids := identity.NewService(mgr, ls, st, log)
	le := loot.NewEngine(mgr, ls, log)
	ing := ingest.NewService(mgr, cs, ls, st, le, log)
	pk, err := passkeys.NewEngine(cfg, mgr, ls, ss, log)
	require.NoError(t, err)

	return NewServer(Deps{
		Config:   cfg,
		Log:      log,
		Limiter:  ratelimit.New(),
		Bus:      bus,
		Manager:  mgr,
		Identity: ids,
		Consent:  cs,
		Ingest:   ing,
		Sources:  sv,
		Sessions: ss,
		Settings: st,
		Ledger:   ls,
		Passkeys: pk,
		Keys:     passkeys.NewKeyManager(mgr, ls, log),
		Loot:     le,
	}), mgr
}

func doRequest(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "10.1.2.3:4321"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) (string, map[string]any, string) {
	t.Helper()
	var env struct {
		Status  string          `json:"status"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))

	var data map[string]any
	if len(env.Data) > 0 && env.Data[0] == '{' {
		require.NoError(t, json.Unmarshal(env.Data, &data))
	}
	return env.Status, data, env.Message
}

func enrollUser(t *testing.T, s *Server, body string) string {
	t.Helper()
	w := doRequest(s, http.MethodPost, "/api/users/enroll", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	status, data, _ := decodeEnvelope(t, w)
	require.Equal(t, "ok", status)
	return data["root_id"].(string)
}

func registerSource(t *testing.T, s *Server, id, name string) string {
	t.Helper()
	w := doRequest(s, http.MethodPost, "/api/sources",
		`{"source_id":"`+id+`","source_name":"`+name+`"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	_, data, _ := decodeEnvelope(t, w)
	return data["api_key"].(string)
}

func TestEnrollAndFetchUser(t *testing.T) {
	s, _ := newTestServer(t)

	rootID := enrollUser(t, s, `{"hero_name":"Kaelen","fate_alignment":"ember","enrolled_by":"operator"}`)

	w := doRequest(s, http.MethodGet, "/api/users/"+rootID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status, data, _ := decodeEnvelope(t, w)
	assert.Equal(t, "ok", status)

	ident := data["identity"].(map[string]any)
	assert.Equal(t, "Kaelen", ident["hero_name"])
	assert.Equal(t, float64(1), ident["fate_level"])

	prog := data["progression"].(map[string]any)
	assert.Equal(t, float64(250), prog["xp_needed_for_next"])

	w = doRequest(s, http.MethodGet, "/api/users", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestEnrollRejectsBadBodies(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/users/enroll", `{"hero_name":"Kaelen"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	status, _, message := decodeEnvelope(t, w)
	assert.Equal(t, "error", status)
	assert.NotEmpty(t, message)

	w = doRequest(s, http.MethodPost, "/api/users/enroll", `{broken`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserDetailNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/users/no-such-root", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	status, _, message := decodeEnvelope(t, w)
	assert.Equal(t, "error", status)
	assert.NotEmpty(t, message)
}

func TestIngestRequiresAPIKey(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/ingest",
		`{"root_id":"x","event_type":"progression.xp_granted","payload":{"xp":10}}`, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(s, http.MethodPost, "/api/ingest",
		`{"root_id":"x","event_type":"progression.xp_granted","payload":{"xp":10}}`,
		map[string]string{"X-PIK-API-Key": "pik_wrong"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestIngestFlow(t *testing.T) {
	s, _ := newTestServer(t)

	apiKey := registerSource(t, s, "hv-main", "Heroes' Veritas")
	rootID := enrollUser(t, s,
		`{"hero_name":"Kaelen","fate_alignment":"ember","enrolled_by":"operator","source_id":"hv-main"}`)

	w := doRequest(s, http.MethodPost, "/api/ingest",
		`{"root_id":"`+rootID+`","event_type":"progression.xp_granted","payload":{"xp":100}}`,
		map[string]string{"X-PIK-API-Key": apiKey})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	status, data, _ := decodeEnvelope(t, w)
	assert.Equal(t, "ok", status)
	changes := data["changes_applied"].(map[string]any)
	assert.Equal(t, float64(100), changes["total_xp"])

	// The timeline shows the enrollment, the consent grant and the ingest.
	w = doRequest(s, http.MethodGet, "/api/users/"+rootID+"/timeline", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Len(t, env.Data, 3)
}

func TestIngestWithoutConsentForbidden(t *testing.T) {
	s, _ := newTestServer(t)

	apiKey := registerSource(t, s, "hv-main", "Heroes' Veritas")
	rootID := enrollUser(t, s, `{"hero_name":"Kaelen","fate_alignment":"ember","enrolled_by":"operator"}`)

	w := doRequest(s, http.MethodPost, "/api/ingest",
		`{"root_id":"`+rootID+`","event_type":"progression.xp_granted","payload":{"xp":100}}`,
		map[string]string{"X-PIK-API-Key": apiKey})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestConsentLinkLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	registerSource(t, s, "hv-main", "Heroes' Veritas")
	rootID := enrollUser(t, s, `{"hero_name":"Kaelen","fate_alignment":"ember","enrolled_by":"operator"}`)

	w := doRequest(s, http.MethodPost, "/api/users/"+rootID+"/links",
		`{"source_id":"hv-main","granted_by":"user"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	_, data, _ := decodeEnvelope(t, w)
	linkID := data["link_id"].(string)

	w = doRequest(s, http.MethodPost, "/api/users/"+rootID+"/links",
		`{"source_id":"hv-main","granted_by":"user"}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(s, http.MethodDelete, "/api/users/"+rootID+"/links/"+linkID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodDelete, "/api/users/"+rootID+"/links/"+linkID, "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestProfileUpdateRequiresOwnership(t *testing.T) {
	s, _ := newTestServer(t)

	rootID := enrollUser(t, s, `{"hero_name":"Kaelen","fate_alignment":"ember","enrolled_by":"operator"}`)
	otherID := enrollUser(t, s, `{"hero_name":"Mira","fate_alignment":"tide","enrolled_by":"operator"}`)

	// No token at all.
	w := doRequest(s, http.MethodPut, "/api/users/"+rootID+"/profile", `{"hero_name":"Kael"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(s, http.MethodPost, "/api/auth/impersonate/"+rootID, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, data, _ := decodeEnvelope(t, w)
	token := data["session_token"].(string)

	auth := map[string]string{"Authorization": "Bearer " + token}

	w = doRequest(s, http.MethodPut, "/api/users/"+rootID+"/profile", `{"hero_name":"Kael"}`, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, data, _ = decodeEnvelope(t, w)
	assert.Equal(t, "Kael", data["hero_name"])

	// A valid session for a different identity is forbidden.
	w = doRequest(s, http.MethodPut, "/api/users/"+otherID+"/profile", `{"hero_name":"Hax"}`, auth)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestImpersonateUnknownRoot(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/auth/impersonate/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDemoRateLimit(t *testing.T) {
	s, _ := newTestServer(t)

	for i := 0; i < 5; i++ {
		w := doRequest(s, http.MethodPost, "/api/auth/impersonate/missing", "", nil)
		require.Equal(t, http.StatusNotFound, w.Code, "request %d", i+1)
	}

	w := doRequest(s, http.MethodPost, "/api/auth/impersonate/missing", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestConfigEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/config", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, data, _ := decodeEnvelope(t, w)
	assert.Equal(t, float64(250), data["xp_base_threshold"])

	w = doRequest(s, http.MethodPost, "/api/config",
		`{"config_key":"event_xp_multiplier","config_value":"2.0"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodPost, "/api/config",
		`{"config_key":"not_a_key","config_value":"1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterOptionsEndpoint(t *testing.T) {
	s, mgr := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/auth/register/options",
		`{"hero_name":"Kaelen","fate_alignment":"ember"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	status, data, _ := decodeEnvelope(t, w)
	assert.Equal(t, "ok", status)
	pub := data["publicKey"].(map[string]any)
	assert.NotEmpty(t, pub["challenge"])

	require.Len(t, mgr.Challenges(), 1)
}

func TestSourceStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	registerSource(t, s, "hv-main", "Heroes' Veritas")

	w := doRequest(s, http.MethodPost, "/api/sources/hv-main/status", `{"status":"suspended"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, data, _ := decodeEnvelope(t, w)
	assert.Equal(t, "suspended", data["status"])

	w = doRequest(s, http.MethodPost, "/api/sources/hv-main/status", `{"status":"nuked"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOperatorGrantCache(t *testing.T) {
	s, _ := newTestServer(t)
	rootID := enrollUser(t, s, `{"hero_name":"Kaelen","fate_alignment":"ember","enrolled_by":"operator"}`)

	w := doRequest(s, http.MethodPost, "/api/users/"+rootID+"/caches",
		`{"cache_type":"level_up","rarity":"epic"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	status, data, _ := decodeEnvelope(t, w)
	assert.Equal(t, "ok", status)
	assert.Equal(t, "epic", data["rarity"])
	assert.Equal(t, "sealed", data["status"])
	assert.Equal(t, "operator_grant", data["trigger"])

	w = doRequest(s, http.MethodGet, "/api/users/"+rootID+"/caches", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Data, 1)
	assert.Equal(t, "epic", env.Data[0]["rarity"])
}

func TestOperatorGrantCacheValidation(t *testing.T) {
	s, _ := newTestServer(t)
	rootID := enrollUser(t, s, `{"hero_name":"Kaelen","fate_alignment":"ember","enrolled_by":"operator"}`)

	w := doRequest(s, http.MethodPost, "/api/users/"+rootID+"/caches",
		`{"cache_type":"mystery_box"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(s, http.MethodPost, "/api/users/"+rootID+"/caches",
		`{"cache_type":"level_up","rarity":"mythic"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(s, http.MethodPost, "/api/users/no-such-root/caches",
		`{"cache_type":"level_up"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodOptions, "/api/users", "", map[string]string{
		"Origin": "http://localhost:5173",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}
