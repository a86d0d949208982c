// Команда loadtest нагружает HTTP API витрины сценариями покупателя.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fluidstore/internal/service/httpapi"
)

type loadMode string

const (
	modeBrowse   loadMode = "browse"
	modeCart     loadMode = "cart"
	modeCheckout loadMode = "checkout"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	productID   string
	quantity    int
	outputPath  string
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	var (
		cfg       config
		modeValue string
	)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "адрес HTTP API витрины")
	fs.IntVar(&cfg.total, "total", 400, "число сценариев; вместе с -duration ограничивает сверху")
	fs.DurationVar(&cfg.duration, "duration", 0, "длительность прогона (например 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "число параллельных покупателей")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "таймаут одного запроса")
	fs.StringVar(&modeValue, "mode", string(modeCheckout), "сценарий: browse | cart | checkout")
	fs.StringVar(&cfg.productID, "product", "eo-5w30", "товар, который кладётся в корзину")
	fs.IntVar(&cfg.quantity, "quantity", 1, "количество товара")
	fs.StringVar(&cfg.outputPath, "output", "", "путь к JSON-отчёту")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("url is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.mode != modeBrowse && strings.TrimSpace(cfg.productID) == "":
		return cfg, errors.New("product is required")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch m := loadMode(strings.TrimSpace(value)); m {
	case modeBrowse, modeCart, modeCheckout:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	result := run(cfg, &http.Client{Timeout: cfg.timeout})
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// run прогоняет сценарии пулом воркеров и собирает отчёт.
func run(cfg config, client *http.Client) report {
	startedAt := time.Now()
	col := newCollector()
	shopper := &shopper{client: client, cfg: cfg, col: col}

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = shopper.runScenario(id)
			}
		}()
	}
	dispatchJobs(jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()
	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type shopper struct {
	client *http.Client
	cfg    config
	col    *collector
}

// runScenario выполняет один сценарий покупателя с собственной корзиной.
func (s *shopper) runScenario(index int) (err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "failed"
		}
		s.col.record(scenarioStep, time.Since(start), status, err == nil)
	}()

	if err := s.call("ListProducts", http.MethodGet, "/api/products", "", nil, http.StatusOK); err != nil {
		return err
	}
	if s.cfg.mode == modeBrowse {
		return nil
	}

	cartID := uuid.NewString()
	item := map[string]any{"product_id": s.cfg.productID, "quantity": s.cfg.quantity}
	if err := s.call("AddCartItem", http.MethodPost, "/api/cart/items", cartID, item, http.StatusOK); err != nil {
		return err
	}
	if s.cfg.mode == modeCart {
		return nil
	}

	if err := s.call("BeginCheckout", http.MethodPost, "/api/checkout/begin", cartID, nil, http.StatusOK); err != nil {
		return err
	}
	details := map[string]string{
		"name":             "Load Shopper",
		"email":            fmt.Sprintf("load-%d@example.com", index),
		"phone":            "+70000000000",
		"shipping_address": "Loadtest street, 1",
	}
	return s.call("SubmitCheckout", http.MethodPost, "/api/checkout/submit", cartID, details, http.StatusCreated)
}

func (s *shopper) call(step, method, path, cartID string, body any, want int) error {
	start := time.Now()
	status, err := s.do(method, path, cartID, body)
	ok := err == nil && status == want
	label := "error"
	if err == nil {
		label = strconv.Itoa(status)
	}
	s.col.record(step, time.Since(start), label, ok)

	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	if !ok {
		return fmt.Errorf("%s: unexpected status %d", step, status)
	}
	return nil
}

func (s *shopper) do(method, path, cartID string, body any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cartID != "" {
		req.Header.Set(httpapi.CartIDHeader, cartID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
