package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devlauncher/internal/logsink"
	"github.com/loykin/devlauncher/internal/metrics"
	"github.com/loykin/devlauncher/internal/service"
	"github.com/loykin/devlauncher/internal/supervisor"
)

type fakeController struct {
	mu      sync.Mutex
	calls   []string
	err     error
	status  []service.Status
	unknown bool
}

func (f *fakeController) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeController) Start(_ context.Context, name string) error   { return f.record("start " + name) }
func (f *fakeController) Stop(_ context.Context, name string) error    { return f.record("stop " + name) }
func (f *fakeController) Restart(_ context.Context, name string) error { return f.record("restart " + name) }
func (f *fakeController) StartAll(context.Context) error               { return f.record("start-all") }
func (f *fakeController) StopAll(context.Context) error                { return f.record("stop-all") }
func (f *fakeController) RestartAll(context.Context) error             { return f.record("restart-all") }
func (f *fakeController) ForceKillAll(context.Context)                 { _ = f.record("force-kill-all") }
func (f *fakeController) Status() []service.Status                     { return f.status }

func (f *fakeController) StatusOf(name string) (service.Status, error) {
	if f.unknown {
		return service.Status{}, &supervisor.OpError{Op: "status", Service: name, Err: supervisor.ErrUnknownService}
	}
	return service.Status{Name: name, Lifecycle: service.Running, PID: 7, Alive: true}, nil
}

func setupRouter(t *testing.T, ctl Controller, base string) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(ctl, base).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusList(t *testing.T) {
	ctl := &fakeController{status: []service.Status{
		{Name: "backend", Lifecycle: service.Running, PID: 10, Alive: true},
		{Name: "frontend", Lifecycle: service.Stopped},
	}}
	h := setupRouter(t, ctl, "/api")
	rec := doReq(t, h, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Services, 2)
	assert.Equal(t, service.Running, resp.Services[0].Lifecycle)
	assert.Contains(t, rec.Body.String(), `"lifecycle":"stopped"`)
}

func TestServiceActions(t *testing.T) {
	ctl := &fakeController{}
	h := setupRouter(t, ctl, "api/")
	for _, action := range []string{"start", "stop", "restart"} {
		rec := doReq(t, h, http.MethodPost, "/api/services/backend/"+action)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	for _, path := range []string{"/api/start", "/api/stop", "/api/restart", "/api/force-kill-all"} {
		rec := doReq(t, h, http.MethodPost, path)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.Equal(t, []string{
		"start backend", "stop backend", "restart backend",
		"start-all", "stop-all", "restart-all", "force-kill-all",
	}, ctl.calls)
}

func TestServiceActionErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"already running", &supervisor.OpError{Op: "start", Service: "backend", Err: supervisor.ErrAlreadyRunning}, http.StatusConflict},
		{"not running", &supervisor.OpError{Op: "stop", Service: "backend", Err: supervisor.ErrNotRunning}, http.StatusConflict},
		{"unknown", &supervisor.OpError{Op: "lookup", Service: "x", Err: supervisor.ErrUnknownService}, http.StatusNotFound},
		{"closed", supervisor.ErrClosed, http.StatusServiceUnavailable},
		{"spawn", &supervisor.OpError{Op: "start", Service: "backend", Err: &supervisor.SpawnError{Command: "nope", Err: errors.New("not found")}}, http.StatusUnprocessableEntity},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupRouter(t, &fakeController{err: tt.err}, "")
			rec := doReq(t, h, http.MethodPost, "/services/backend/start")
			assert.Equal(t, tt.want, rec.Code)
			var e errorResp
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestBadRequests(t *testing.T) {
	h := setupRouter(t, &fakeController{}, "")
	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodPost, "/services/a..b/start").Code)
	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodGet, "/services/bad*name").Code)
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodPost, "/services/backend/explode").Code)

	h = setupRouter(t, &fakeController{unknown: true}, "")
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodGet, "/services/ghost").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	metrics.IncStart("backend")

	gin.SetMode(gin.TestMode)
	h := NewRouter(&fakeController{}, "/api").
		WithMetricsHandler(metrics.HandlerFor(reg)).
		Handler()
	rec := doReq(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "devlauncher_service_starts_total")
}

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestIsSafeName(t *testing.T) {
	valid := []string{"a", "A1._-", "name.1-2_3"}
	invalid := []string{"", "..", "a..b", "a/b", `a\\b`, "hello*", "unicode한글"}
	for _, s := range valid {
		if !isSafeName(s) {
			t.Fatalf("expected valid name %q", s)
		}
	}
	for _, s := range invalid {
		if isSafeName(s) {
			t.Fatalf("expected invalid name %q", s)
		}
	}
}

func TestNewServerAgainstSupervisor(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sup, err := supervisor.New(context.Background(),
		[]service.Spec{{Name: "backend", Command: []string{"/bin/sh", "-c", "sleep 30"}}},
		logsink.New(),
		supervisor.Options{GracePeriod: time.Second, PIDDir: t.TempDir(), Logger: log},
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Close(context.Background()) })

	srv, err := NewServer("127.0.0.1:0", "/api", sup, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	base := "http://" + srv.Addr

	post := func(path string) *http.Response {
		resp, err := http.Post(base+path, "application/json", nil)
		require.NoError(t, err)
		return resp
	}

	resp := post("/api/services/backend/start")
	var st service.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, service.Running, st.Lifecycle)
	assert.Greater(t, st.PID, 0)

	resp = post("/api/services/backend/start")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post("/api/services/backend/stop")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/api/status")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.True(t, strings.Contains(string(body), `"lifecycle":"stopped"`), string(body))
}

func TestRestartSurvivesClientTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := logsink.New()
	// exits cleanly 0.3s after TERM, well inside the grace period
	script := "trap 'sleep 0.3; exit 0' TERM; while :; do sleep 0.1; done"
	sup, err := supervisor.New(context.Background(),
		[]service.Spec{{Name: "backend", Command: []string{"/bin/sh", "-c", script}}},
		sink,
		supervisor.Options{GracePeriod: 2 * time.Second, RestartDelay: 10 * time.Millisecond, PIDDir: t.TempDir(), Logger: log},
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Close(context.Background()) })
	require.NoError(t, sup.Start(context.Background(), "backend"))
	first, err := sup.StatusOf("backend")
	require.NoError(t, err)
	// let the shell install the trap
	time.Sleep(200 * time.Millisecond)

	srv, err := NewServer("127.0.0.1:0", "/api", sup, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	impatient := &http.Client{Timeout: 100 * time.Millisecond}
	_, err = impatient.Post("http://"+srv.Addr+"/api/services/backend/restart", "application/json", nil)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		st, err := sup.StatusOf("backend")
		return err == nil && st.Lifecycle == service.Running && st.PID != first.PID
	}, 5*time.Second, 20*time.Millisecond)

	var stopped bool
	for _, l := range sink.Drain(0) {
		assert.NotEqual(t, logsink.SeverityWarning, l.Severity, l.Text)
		if strings.Contains(l.Text, "stopped backend (exit status 0)") {
			stopped = true
		}
	}
	assert.True(t, stopped, "service should have stopped gracefully")
}

func TestNewServerSelectsReleaseMode(t *testing.T) {
	gin.SetMode(gin.DebugMode)
	t.Cleanup(func() { gin.SetMode(gin.TestMode) })

	srv, err := NewServer("127.0.0.1:0", "/api", &fakeController{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	assert.Equal(t, gin.ReleaseMode, gin.Mode())

	gin.SetMode(gin.TestMode)
	srv2, err := NewServer("127.0.0.1:0", "/api", &fakeController{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv2.Close() })
	assert.Equal(t, gin.TestMode, gin.Mode(), "an explicit mode is left alone")
}
