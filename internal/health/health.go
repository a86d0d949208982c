// Package health отдаёт liveness и readiness витрины.
//
// /healthz возвращает подробный отчёт по всем зависимостям, /readyz только
// решение балансировщику: пускать трафик или нет. Некритичные зависимости
// (Redis) переводят отчёт в degraded, но готовность не снимают.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/fluidstore/internal/version"
)

const (
	defaultPingTimeout = 2 * time.Second
	// evaluateTimeout ограничивает весь прогон, даже если checker забыл про ctx.
	evaluateTimeout = 5 * time.Second
	maxParallel     = 8
)

// Status — состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// worse возвращает более тяжёлый из двух статусов.
func worse(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusUnhealthy:
			return 2
		case StatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// Check — результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — тело /healthz.
type Response struct {
	Status        Status            `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	Checks        map[string]Check  `json:"checks,omitempty"`
	Build         version.BuildInfo `json:"build"`
	UptimeSeconds int64             `json:"uptime_seconds"`
}

// Readiness — тело /readyz.
type Readiness struct {
	Ready   bool     `json:"ready"`
	Failing []string `json:"failing,omitempty"`
}

// Checker проверяет одну зависимость. Реализация обязана уважать ctx.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler собирает зарегистрированные проверки.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	build    version.BuildInfo
	started  time.Time
	now      func() time.Time
}

func NewHandler(build version.BuildInfo) *Handler {
	return &Handler{
		checkers: make(map[string]Checker),
		build:    build,
		started:  time.Now(),
		now:      time.Now,
	}
}

// RegisterChecker добавляет или заменяет проверку под именем name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	h.checkers[name] = checker
	h.mu.Unlock()
}

// evaluate прогоняет проверки параллельно и сводит общий статус.
func (h *Handler) evaluate(ctx context.Context) (Status, map[string]Check) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	checkers := make([]Checker, 0, len(h.checkers))
	for name, c := range h.checkers {
		names = append(names, name)
		checkers = append(checkers, c)
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, evaluateTimeout)
	defer cancel()

	results := make([]Check, len(checkers))
	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i := range checkers {
		g.Go(func() error {
			results[i] = checkers[i].Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	checks := make(map[string]Check, len(results))
	for i, check := range results {
		checks[names[i]] = check
		overall = worse(overall, check.Status)
	}
	return overall, checks
}

// ServeHTTP отдаёт подробный отчёт. Unhealthy отвечает 503, degraded 200.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, checks := h.evaluate(r.Context())
	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, Response{
		Status:        status,
		Timestamp:     h.now().UTC(),
		Checks:        checks,
		Build:         h.build,
		UptimeSeconds: int64(h.now().Sub(h.started).Seconds()),
	})
}

// ReadinessHandler отвечает 503 и списком имён, если хоть одна критичная проверка упала.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	_, checks := h.evaluate(r.Context())

	var failing []string
	for name, check := range checks {
		if check.Status == StatusUnhealthy {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)

	if len(failing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, Readiness{Failing: failing})
		return
	}
	writeJSON(w, http.StatusOK, Readiness{Ready: true})
}

// LivenessHandler отвечает 200, пока процесс способен обслужить запрос.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// FuncChecker оборачивает произвольную функцию проверки.
type FuncChecker struct {
	name string
	fn   func(ctx context.Context) error
	// failAs — статус при ошибке fn.
	failAs Status
}

func NewSimpleChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn, failAs: StatusUnhealthy}
}

// Pinger — зависимость с Ping (PostgreSQL, Redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingChecker проверяет pinger с собственным таймаутом поверх ctx запроса.
func NewPingChecker(name string, pinger Pinger, timeout time.Duration) *FuncChecker {
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	return NewSimpleChecker(name, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return pinger.Ping(ctx)
	})
}

// Optional помечает зависимость некритичной: ошибка даёт degraded.
func (c *FuncChecker) Optional() *FuncChecker {
	c.failAs = StatusDegraded
	return c
}

func (c *FuncChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.fn(ctx)
	check := Check{Name: c.name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = c.failAs
		check.Message = err.Error()
	}
	return check
}
