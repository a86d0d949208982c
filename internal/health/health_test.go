package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fluidstore/internal/version"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func ok(context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, h http.HandlerFunc, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestHealthz_Report(t *testing.T) {
	build := version.BuildInfo{Version: "1.4.0", Commit: "abc123", Date: "2026-01-01"}
	tests := []struct {
		name     string
		checkers map[string]Checker
		code     int
		status   Status
	}{
		{
			name:   "no dependencies",
			code:   http.StatusOK,
			status: StatusHealthy,
		},
		{
			name: "all healthy",
			checkers: map[string]Checker{
				"postgres": NewSimpleChecker("postgres", ok),
				"redis":    NewSimpleChecker("redis", ok).Optional(),
			},
			code:   http.StatusOK,
			status: StatusHealthy,
		},
		{
			name: "optional down",
			checkers: map[string]Checker{
				"postgres": NewSimpleChecker("postgres", ok),
				"redis":    NewSimpleChecker("redis", failing("no redis")).Optional(),
			},
			code:   http.StatusOK,
			status: StatusDegraded,
		},
		{
			name: "critical down wins over degraded",
			checkers: map[string]Checker{
				"postgres": NewSimpleChecker("postgres", failing("connection refused")),
				"redis":    NewSimpleChecker("redis", failing("no redis")).Optional(),
			},
			code:   http.StatusServiceUnavailable,
			status: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(build)
			for name, c := range tt.checkers {
				h.RegisterChecker(name, c)
			}

			w := serve(t, h.ServeHTTP, "/healthz")
			require.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			resp := decode[Response](t, w)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, build, resp.Build)
			assert.Len(t, resp.Checks, len(tt.checkers))
		})
	}
}

func TestHealthz_ChecksKeyedByRegistration(t *testing.T) {
	h := NewHandler(version.BuildInfo{})
	h.RegisterChecker("orders-db", NewSimpleChecker("postgres", failing("boom")))

	resp := decode[Response](t, serve(t, h.ServeHTTP, "/healthz"))
	check, found := resp.Checks["orders-db"]
	require.True(t, found)
	assert.Equal(t, "postgres", check.Name)
	assert.Equal(t, "boom", check.Message)
}

func TestReadyz(t *testing.T) {
	h := NewHandler(version.BuildInfo{})
	h.RegisterChecker("catalog", NewSimpleChecker("catalog", ok))

	w := serve(t, h.ReadinessHandler, "/readyz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Readiness{Ready: true}, decode[Readiness](t, w))

	h.RegisterChecker("postgres", NewSimpleChecker("postgres", failing("not ready")))
	h.RegisterChecker("kafka", NewSimpleChecker("kafka", failing("not ready")))
	h.RegisterChecker("redis", NewSimpleChecker("redis", failing("not ready")).Optional())

	w = serve(t, h.ReadinessHandler, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	got := decode[Readiness](t, w)
	assert.False(t, got.Ready)
	assert.Equal(t, []string{"kafka", "postgres"}, got.Failing)
}

func TestLivez(t *testing.T) {
	w := serve(t, LivenessHandler, "/livez")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestEvaluate_RunsChecksConcurrently(t *testing.T) {
	h := NewHandler(version.BuildInfo{})
	var inFlight, peak atomic.Int32
	slow := func(context.Context) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		h.RegisterChecker(name, NewSimpleChecker(name, slow))
	}

	status, checks := h.evaluate(context.Background())
	assert.Equal(t, StatusHealthy, status)
	assert.Len(t, checks, 4)
	assert.Greater(t, peak.Load(), int32(1))
}

func TestSimpleChecker(t *testing.T) {
	check := NewSimpleChecker("catalog", func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	}).Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
	assert.GreaterOrEqual(t, check.DurationMs, int64(10))
	assert.Empty(t, check.Message)

	check = NewSimpleChecker("catalog", failing("test error")).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Equal(t, "test error", check.Message)
}

func TestPingChecker(t *testing.T) {
	healthy := NewPingChecker("postgres", pingFunc(ok), 0).Check(context.Background())
	assert.Equal(t, StatusHealthy, healthy.Status)
	assert.Equal(t, "postgres", healthy.Name)

	down := pingFunc(failing("connection refused"))
	assert.Equal(t, StatusUnhealthy, NewPingChecker("postgres", down, time.Second).Check(context.Background()).Status)

	got := NewPingChecker("redis", down, time.Second).Optional().Check(context.Background())
	assert.Equal(t, StatusDegraded, got.Status)
	assert.Equal(t, "connection refused", got.Message)
}

func TestPingChecker_Timeout(t *testing.T) {
	slow := pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	got := NewPingChecker("redis", slow, 10*time.Millisecond).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, got.Status)
	assert.Contains(t, got.Message, context.DeadlineExceeded.Error())
}

func TestPingChecker_RespectsCallerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := NewPingChecker("postgres", pingFunc(func(ctx context.Context) error {
		return ctx.Err()
	}), time.Minute).Check(ctx)
	assert.Equal(t, StatusUnhealthy, got.Status)
}

func TestWorse(t *testing.T) {
	assert.Equal(t, StatusDegraded, worse(StatusHealthy, StatusDegraded))
	assert.Equal(t, StatusUnhealthy, worse(StatusUnhealthy, StatusDegraded))
	assert.Equal(t, StatusUnhealthy, worse(StatusDegraded, StatusUnhealthy))
	assert.Equal(t, StatusHealthy, worse(StatusHealthy, StatusHealthy))
}
