package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fluidstore/internal/service/httpapi"
)

// fakeStorefront отвечает так же, как HTTP API витрины, и проверяет заголовок корзины.
type fakeStorefront struct {
	mu      sync.Mutex
	carts   map[string]bool
	submits int
	failAdd bool
}

func newFakeStorefront() *fakeStorefront {
	return &fakeStorefront{carts: make(map[string]bool)}
}

func (f *fakeStorefront) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/products", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	})
	mux.HandleFunc("POST /api/cart/items", func(w http.ResponseWriter, r *http.Request) {
		if f.failAdd {
			http.Error(w, "boom", http.StatusServiceUnavailable)
			return
		}
		id := r.Header.Get(httpapi.CartIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			http.Error(w, "bad cart", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.carts[id] = true
		f.mu.Unlock()
	})
	mux.HandleFunc("POST /api/checkout/begin", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.carts[r.Header.Get(httpapi.CartIDHeader)] {
			http.Error(w, "cart is empty", http.StatusConflict)
		}
	})
	mux.HandleFunc("POST /api/checkout/submit", func(w http.ResponseWriter, r *http.Request) {
		var details map[string]string
		if err := json.NewDecoder(r.Body).Decode(&details); err != nil || details["email"] == "" {
			http.Error(w, "bad details", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.submits++
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	return mux
}

func testConfig(url string, mode loadMode) config {
	return config{
		baseURL:     url,
		total:       6,
		concurrency: 3,
		timeout:     time.Second,
		mode:        mode,
		productID:   "eo-5w30",
		quantity:    2,
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []string{"browse", "cart", " checkout "} {
		_, err := parseMode(m)
		require.NoError(t, err, m)
	}
	_, err := parseMode("pay")
	require.Error(t, err)
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(flag.NewFlagSet("t", flag.ContinueOnError),
		[]string{"-url=http://shop:8080/", "-mode=cart", "-duration=1m", "-total=10", "-concurrency=4"})
	require.NoError(t, err)
	require.Equal(t, "http://shop:8080", cfg.baseURL)
	require.Equal(t, modeCart, cfg.mode)
	require.Equal(t, time.Minute, cfg.duration)
	require.True(t, cfg.totalSet)
	require.Equal(t, 4, cfg.concurrency)

	cases := map[string][]string{
		"bad mode":        {"-mode=pay"},
		"empty url":       {"-url= "},
		"negative dur":    {"-duration=-1s"},
		"zero total":      {"-total=0"},
		"zero total dur":  {"-duration=1s", "-total=0"},
		"zero workers":    {"-concurrency=0"},
		"zero timeout":    {"-timeout=0s"},
		"empty product":   {"-product="},
		"zero quantity":   {"-quantity=0"},
		"unknown flag":    {"-addr=x"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseConfig(flag.NewFlagSet("t", flag.ContinueOnError), args)
			require.Error(t, err)
		})
	}
}

func TestDispatchJobs(t *testing.T) {
	jobs := make(chan int, 10)
	dispatchJobs(jobs, config{total: 3})
	var got []int
	for id := range jobs {
		got = append(got, id)
	}
	require.Equal(t, []int{0, 1, 2}, got)

	jobs = make(chan int, 100)
	dispatchJobs(jobs, config{duration: 10 * time.Millisecond, total: 5, totalSet: true})
	count := 0
	for range jobs {
		count++
	}
	require.Equal(t, 5, count)
}

func TestRun_CheckoutScenario(t *testing.T) {
	shop := newFakeStorefront()
	srv := httptest.NewServer(shop.handler())
	defer srv.Close()

	result := run(testConfig(srv.URL, modeCheckout), srv.Client())
	require.Equal(t, int64(6), result.TotalScenarios)
	require.Zero(t, result.FailedScenarios)
	require.Equal(t, 6, shop.submits)
	require.Equal(t, int64(6), result.Steps["SubmitCheckout"].Statuses["201"])
	require.Len(t, result.Steps, 5)
}

func TestRun_BrowseSkipsCart(t *testing.T) {
	shop := newFakeStorefront()
	srv := httptest.NewServer(shop.handler())
	defer srv.Close()

	result := run(testConfig(srv.URL, modeBrowse), srv.Client())
	require.Zero(t, result.FailedScenarios)
	require.Empty(t, shop.carts)
	_, ok := result.Steps["AddCartItem"]
	require.False(t, ok)
}

func TestRun_FailedStepFailsScenario(t *testing.T) {
	shop := newFakeStorefront()
	shop.failAdd = true
	srv := httptest.NewServer(shop.handler())
	defer srv.Close()

	result := run(testConfig(srv.URL, modeCheckout), srv.Client())
	require.Equal(t, int64(6), result.FailedScenarios)
	require.InDelta(t, 1.0, result.ErrorRate, 1e-9)
	require.Equal(t, int64(6), result.Steps["AddCartItem"].Statuses["503"])
	require.Zero(t, shop.submits)
}

func TestRun_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := testConfig(url, modeBrowse)
	cfg.total = 1
	result := run(cfg, &http.Client{Timeout: 100 * time.Millisecond})
	require.Equal(t, int64(1), result.Steps["ListProducts"].Statuses["error"])
}

func TestLatencySummaryAndRatio(t *testing.T) {
	require.Equal(t, latencySummary{}, buildLatencySummary(nil))

	s := buildLatencySummary([]float64{4, 1, 3, 2})
	require.Equal(t, 1.0, s.Min)
	require.Equal(t, 4.0, s.Max)
	require.Equal(t, 2.5, s.Avg)
	require.InDelta(t, 2.5, s.P50, 1e-9)
	require.Equal(t, 7.0, percentile([]float64{7}, 99))

	require.Zero(t, ratio(1, 0))
	require.Equal(t, 0.25, ratio(1, 4))
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, writeJSONReport("report.json", report{TotalScenarios: 3}))
	raw, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	require.Contains(t, string(raw), `"total_scenarios": 3`)

	require.Error(t, writeJSONReport(".", report{}))
	require.Error(t, writeJSONReport("../escape.json", report{}))
}

func TestPrintReport(t *testing.T) {
	col := newCollector()
	col.record(scenarioStep, 10*time.Millisecond, "ok", true)
	col.record("ListProducts", 5*time.Millisecond, "200", true)

	var buf bytes.Buffer
	printReport(&buf, col.buildReport(time.Now(), time.Second), config{mode: modeBrowse, total: 1})
	out := buf.String()
	require.True(t, strings.HasPrefix(out, "Load test summary"))
	require.Contains(t, out, "mode=browse run=count:1 total=1 success=1")
	require.Contains(t, out, "ListProducts: calls=1")
	require.NotContains(t, out, "scenario: calls")

	require.Equal(t, "duration:1m0s", runTarget(config{duration: time.Minute}))
	require.Equal(t, "duration:1m0s,max-total:5", runTarget(config{duration: time.Minute, total: 5, totalSet: true}))
}
