package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jornada-hub/jornada/internal/application/command"
	"github.com/jornada-hub/jornada/internal/application/progression"
	"github.com/jornada-hub/jornada/internal/application/query"
	"github.com/jornada-hub/jornada/internal/infrastructure/catalog"
	"github.com/jornada-hub/jornada/internal/infrastructure/persistence/memory"
	"github.com/jornada-hub/jornada/internal/interface/http/handlers"
	"github.com/jornada-hub/jornada/pkg/retry"
	"github.com/jornada-hub/jornada/pkg/timeutil"
)

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

func newTestServer(t *testing.T, health *handlers.CompositeHealthChecker) http.Handler {
	t.Helper()
	return newTestServerWithConfig(t, health, DefaultConfig())
}

func newTestServerWithConfig(t *testing.T, health *handlers.CompositeHealthChecker, config Config) http.Handler {
	t.Helper()

	now := timeutil.DateTime(2024, 5, 20, 10, 0, 0)
	clock := func() time.Time { return now }
	store := memory.NewStore()
	c := catalog.MustDefault()
	engine := progression.NewEngine(store, c.Phases, c.Badges, nil, progression.Config{Clock: clock})
	opts := command.Options{
		Retrier: retry.New(retry.WithMaxAttempts(1)),
		Clock:   clock,
	}

	config.RateLimitPerMinute = 0
	srv := NewServer(config, Dependencies{
		RegisterMember:    command.NewRegisterMemberHandler(engine, opts),
		RecordCompletion:  command.NewRecordCompletionHandler(engine, store, opts),
		RevertCompletion:  command.NewRevertCompletionHandler(engine, opts),
		RecordLogin:       command.NewRecordLoginHandler(engine, opts),
		GetProgress:       query.NewGetProgressHandler(store, c.Phases, c.Badges, nil, query.GetProgressConfig{Clock: clock}),
		CheckAvailability: query.NewCheckAvailabilityHandler(store, clock),
		Catalog:           query.NewCatalogHandler(c.Phases, c.Badges),
		Health:            health,
	})
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

const dailyMission = `{"request_id":"req-1","activity_id":"oracao","activity_type":"mission","points":10,"period":"diário"}`

func TestServer_CompletionLifecycle(t *testing.T) {
	h := newTestServer(t, nil)

	rec, env := do(t, h, http.MethodPost, "/v1/members", `{"user_id":"u-1","display_name":"Ana"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	assert.Equal(t, "/v1/members/u-1/progress", rec.Header().Get("Location"))
	assert.NotEmpty(t, env.RequestID)

	rec, env = do(t, h, http.MethodPost, "/v1/members", `{"user_id":"u-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_exists", env.Error.Code)

	rec, env = do(t, h, http.MethodPost, "/v1/members/u-1/completions", dailyMission)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out OutcomeResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, 10, out.Stats.Points)
	assert.Equal(t, "req-1", out.Completion.ID)
	require.NotNil(t, out.Availability)
	assert.True(t, out.Availability.Available)
	require.NotEmpty(t, out.NewlyEarnedBadges)
	assert.Equal(t, "first_mission", out.NewlyEarnedBadges[0].ID)

	// Same day: the daily mission is in cool-down.
	rec, env = do(t, h, http.MethodPost, "/v1/members/u-1/completions",
		`{"request_id":"req-2","activity_id":"oracao","activity_type":"mission","points":10,"period":"diário"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "activity_locked", env.Error.Code)
	assert.NotNil(t, env.Error.Details)

	rec, env = do(t, h, http.MethodGet, "/v1/members/u-1/activities/oracao/availability", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var availability struct {
		Available bool       `json:"available"`
		UnlocksAt *time.Time `json:"unlocks_at"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &availability))
	assert.False(t, availability.Available)
	require.NotNil(t, availability.UnlocksAt)
	assert.True(t, timeutil.DateTime(2024, 5, 21, 0, 0, 0).Equal(*availability.UnlocksAt))

	rec, _ = do(t, h, http.MethodPost, "/v1/members/u-1/completions",
		`{"request_id":"req-3","activity_id":"oracao","activity_type":"mission","points":10,"period":"diário","force":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, env = do(t, h, http.MethodGet, "/v1/members/u-1/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view query.ProgressView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, 20, view.Stats.Points)
	assert.Equal(t, 2, view.Stats.MissionsCompleted)
	assert.Equal(t, "Gota", view.Phase.Name)
	require.NotNil(t, view.PointsToNext)
	assert.Equal(t, 30, *view.PointsToNext)

	rec, env = do(t, h, http.MethodDelete, "/v1/members/u-1/completions/req-3", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, 10, out.Stats.Points)

	rec, env = do(t, h, http.MethodDelete, "/v1/members/u-1/completions/req-3", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestServer_RecordLogin(t *testing.T) {
	h := newTestServer(t, nil)
	rec, _ := do(t, h, http.MethodPost, "/v1/members", `{"user_id":"u-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := do(t, h, http.MethodPost, "/v1/members/u-1/logins", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out LoginResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, 1, out.Streak)

	rec, env = do(t, h, http.MethodPost, "/v1/members/u-1/logins", `{"at":"2024-05-21T09:00:00-03:00"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, 1, out.PreviousStreak)
	assert.Equal(t, 2, out.Streak)

	rec, env = do(t, h, http.MethodPost, "/v1/members/ghost/logins", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestServer_BadRequests(t *testing.T) {
	h := newTestServer(t, nil)
	_, _ = do(t, h, http.MethodPost, "/v1/members", `{"user_id":"u-1"}`)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed json", http.MethodPost, "/v1/members", `{"user_id":`, http.StatusBadRequest, "invalid_body"},
		{"unknown field", http.MethodPost, "/v1/members", `{"id":"x"}`, http.StatusBadRequest, "invalid_body"},
		{"missing body", http.MethodPost, "/v1/members/u-1/completions", "", http.StatusBadRequest, "invalid_body"},
		{"blank user", http.MethodPost, "/v1/members", `{"user_id":"  "}`, http.StatusBadRequest, "validation_error"},
		{"unknown type", http.MethodPost, "/v1/members/u-1/completions", `{"activity_id":"a","activity_type":"quiz","points":1}`, http.StatusBadRequest, "validation_error"},
		{"negative points", http.MethodPost, "/v1/members/u-1/completions", `{"activity_id":"a","activity_type":"book","points":-5}`, http.StatusBadRequest, "validation_error"},
		{"bad timestamp", http.MethodGet, "/v1/members/u-1/activities/a/availability?at=yesterday", "", http.StatusBadRequest, "validation_error"},
		{"unknown member", http.MethodGet, "/v1/members/ghost/progress", "", http.StatusNotFound, "not_found"},
		{"unknown route", http.MethodGet, "/v1/nothing", "", http.StatusNotFound, "not_found"},
		{"wrong method", http.MethodPut, "/v1/phases", "", http.StatusMethodNotAllowed, "method_not_allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestServer_Catalog(t *testing.T) {
	h := newTestServer(t, nil)

	rec, env := do(t, h, http.MethodGet, "/v1/phases", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "max-age=300")
	var phases []query.PhaseDTO
	require.NoError(t, json.Unmarshal(env.Data, &phases))
	require.Len(t, phases, 7)
	assert.Equal(t, "Gota", phases[0].Name)
	assert.Nil(t, phases[6].MaxPoints)

	rec, env = do(t, h, http.MethodGet, "/v1/badges", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var badges []query.BadgeDTO
	require.NoError(t, json.Unmarshal(env.Data, &badges))
	assert.Len(t, badges, 15)
	assert.Equal(t, "first_mission", badges[0].ID)
}

func TestServer_Probes(t *testing.T) {
	health := handlers.NewCompositeHealthChecker("test")
	healthy := true
	health.AddCheck("store", func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("connection refused")
	}, true)
	health.AddCheck("redis", func(context.Context) error { return errors.New("timeout") }, false)
	h := newTestServer(t, health)

	rec, _ := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")

	rec, env := do(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.True(t, status.Ready)
	assert.False(t, status.Healthy)
	assert.Equal(t, "Degraded: redis", status.Message)

	healthy = false
	rec, env = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", env.Error.Code)
}

func TestServer_ForceGate(t *testing.T) {
	config := DefaultConfig()
	config.AllowForce = func(userID string) bool { return userID == "admin" }
	h := newTestServerWithConfig(t, nil, config)
	_, _ = do(t, h, http.MethodPost, "/v1/members", `{"user_id":"u-1"}`)

	rec, env := do(t, h, http.MethodPost, "/v1/members/u-1/completions",
		`{"activity_id":"oracao","activity_type":"mission","points":10,"period":"diário","force":true}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", env.Error.Code)

	rec, _ = do(t, h, http.MethodPost, "/v1/members/u-1/completions", dailyMission)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestServer_CORS(t *testing.T) {
	h := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/phases", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Minute, 100)
	now := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
	ok, wait := rl.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait)
	ok, _ = rl.Allow("b")
	assert.True(t, ok)

	now = now.Add(31 * time.Second)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
}

func TestRateLimiter_EvictsOldestClient(t *testing.T) {
	rl := newRateLimiter(1, time.Hour, 1)
	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, _ = rl.Allow("b")
	assert.True(t, ok)

	// "a" was evicted and starts with a full bucket.
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
}

func TestServer_RateLimited(t *testing.T) {
	cfg := DefaultConfig()
	srv := NewServer(cfg, Dependencies{})
	srv.limiter = newRateLimiter(1, time.Minute, 10)
	h := srv.Handler()

	rec, _ := do(t, h, http.MethodGet, "/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, env := do(t, h, http.MethodGet, "/v1/nope", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", env.Error.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestServer_ServeAndShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	srv := NewServer(cfg, Dependencies{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	require.Eventually(t, srv.IsRunning, time.Second, 5*time.Millisecond)
	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.NoError(t, <-done)
	assert.False(t, srv.IsRunning())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))
}
