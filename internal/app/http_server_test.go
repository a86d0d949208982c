package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/fluidstore/internal/health"
	"github.com/vladislavdragonenkov/fluidstore/internal/version"
)

// opsServer поднимает служебный сервер на свободном порту и ждёт, пока он начнёт отвечать.
func opsServer(t *testing.T, checkers map[string]healthcheck.Checker) (string, context.CancelFunc) {
	t.Helper()

	handler := healthcheck.NewHandler(version.Current())
	for name, c := range checkers {
		handler.RegisterChecker(name, c)
	}

	port := findFreePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := startMetricsServer(ctx, fmt.Sprintf(":%d", port), log.WithField("test", t.Name()), handler)
	require.NotNil(t, srv)

	base := fmt.Sprintf("http://localhost:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/livez")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond, "ops server did not start")
	return base, cancel
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestOpsServer_Endpoints(t *testing.T) {
	base, _ := opsServer(t, nil)

	code, body := get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "go_goroutines")

	code, body = get(t, base+"/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get(t, base+"/readyz")
	assert.Equal(t, http.StatusOK, code)
	var ready healthcheck.Readiness
	require.NoError(t, json.Unmarshal([]byte(body), &ready))
	assert.True(t, ready.Ready)

	code, body = get(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	var report healthcheck.Response
	require.NoError(t, json.Unmarshal([]byte(body), &report))
	assert.Equal(t, healthcheck.StatusHealthy, report.Status)
	assert.Equal(t, version.Current().Version, report.Build.Version)
}

func TestOpsServer_ReadyzListsFailingDependencies(t *testing.T) {
	refused := func(context.Context) error { return errors.New("connection refused") }
	base, _ := opsServer(t, map[string]healthcheck.Checker{
		"postgres": healthcheck.NewSimpleChecker("postgres", refused),
		"redis":    healthcheck.NewSimpleChecker("redis", refused).Optional(),
	})

	code, body := get(t, base+"/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)
	var ready healthcheck.Readiness
	require.NoError(t, json.Unmarshal([]byte(body), &ready))
	assert.False(t, ready.Ready)
	// redis некритичен и в списке не появляется
	assert.Equal(t, []string{"postgres"}, ready.Failing)

	code, body = get(t, base+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.True(t, strings.Contains(body, "connection refused"))

	// liveness не зависит от компонентов
	code, _ = get(t, base+"/livez")
	assert.Equal(t, http.StatusOK, code)
}

func TestOpsServer_DegradedStaysReady(t *testing.T) {
	base, _ := opsServer(t, map[string]healthcheck.Checker{
		"redis": healthcheck.NewSimpleChecker("redis", func(context.Context) error {
			return errors.New("redis: i/o timeout")
		}).Optional(),
	})

	code, _ := get(t, base+"/readyz")
	assert.Equal(t, http.StatusOK, code)

	code, body := get(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	var report healthcheck.Response
	require.NoError(t, json.Unmarshal([]byte(body), &report))
	assert.Equal(t, healthcheck.StatusDegraded, report.Status)
}

func TestOpsServer_StopsOnCancel(t *testing.T) {
	base, cancel := opsServer(t, nil)
	cancel()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/livez")
		if err != nil {
			return true
		}
		resp.Body.Close()
		return false
	}, 2*time.Second, 20*time.Millisecond, "ops server still answers after cancel")
}

func TestOpsServer_AddrInUse(t *testing.T) {
	busy, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer busy.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ListenAndServe падает в горутине, вызывающий получает сервер и warn в логе.
	srv := startMetricsServer(ctx, busy.Addr().String(), log.WithField("test", "addr-in-use"), healthcheck.NewHandler(version.Current()))
	assert.NotNil(t, srv)
}

func TestShutdownHTTP(t *testing.T) {
	logger := log.WithField("test", "shutdown-http")

	t.Run("nil server", func(_ *testing.T) {
		shutdownHTTP(nil, logger)
	})

	t.Run("running server", func(t *testing.T) {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}), ReadHeaderTimeout: time.Second}
		go func() { _ = srv.Serve(lis) }()

		url := "http://" + lis.Addr().String() + "/"
		code, _ := get(t, url)
		require.Equal(t, http.StatusNoContent, code)

		shutdownHTTP(srv, logger)
		_, err = http.Get(url)
		assert.Error(t, err)
	})
}

func findFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}
