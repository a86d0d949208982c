// Package checkout реализует машину состояний оформления заказа:
// Idle -> DetailsEntry -> Submitting -> Succeeded | Failed.
//
// Контакты проверяются до любого сетевого вызова, повторная отправка во время
// Submitting игнорируется, вызов шлюза ограничен таймаутом. При ошибке корзина
// и введённые данные сохраняются, повтор выполняется только явным Submit.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fluidstore/internal/cart"
	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
	"github.com/vladislavdragonenkov/fluidstore/internal/metrics"
	"github.com/vladislavdragonenkov/fluidstore/internal/pricing"
)

// DefaultSubmitTimeout — предел ожидания ответа шлюза.
const DefaultSubmitTimeout = 20 * time.Second

// Причины ошибок отправки, показываемые покупателю.
const (
	ReasonTimeout     = "request timed out"
	ReasonRejected    = "order was rejected"
	ReasonUnreachable = "could not reach the order service"
	ReasonInvalidCart = "cart contains invalid items"
)

var (
	// ErrCartEmpty — оформление пустой корзины.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrSubmitInProgress — отправка уже выполняется, повторный вызов проигнорирован.
	ErrSubmitInProgress = errors.New("order submission already in progress")
	// ErrInvalidTransition — операция недопустима в текущем состоянии.
	ErrInvalidTransition = errors.New("invalid checkout transition")
)

// State — состояние оформления.
type State string

const (
	StateIdle         State = "idle"
	StateDetailsEntry State = "details_entry"
	StateSubmitting   State = "submitting"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
)

// Cart — то, что машине нужно от корзины.
type Cart interface {
	Reload(ctx context.Context) error
	Lines() []domain.CartLine
	Clear(ctx context.Context) error
}

// cartObserver — корзина, которая рассылает снимки после каждого изменения.
type cartObserver interface {
	Subscribe(fn func(cart.Snapshot)) func()
}

// Snapshot — вид машины для отображения.
type Snapshot struct {
	State       State                  `json:"state"`
	OrderID     string                 `json:"order_id,omitempty"`
	Error       string                 `json:"error,omitempty"`
	FieldErrors map[string]string      `json:"field_errors,omitempty"`
	Details     domain.CustomerDetails `json:"details"`
	ItemCount   int                    `json:"item_count"`
	Notice      *Notification          `json:"notice,omitempty"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Option настраивает Machine.
type Option func(*Machine)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(mx *metrics.CheckoutMetrics) Option {
	return func(m *Machine) { m.metrics = mx }
}

// WithNotifier подключает получателя уведомлений.
func WithNotifier(n Notifier) Option {
	return func(m *Machine) { m.notifier = n }
}

// WithSubmitTimeout задаёт предел ожидания шлюза; d <= 0 оставляет значение по умолчанию.
func WithSubmitTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithCloser регистрирует функцию, которая вызывается при Close.
func WithCloser(fn func()) Option {
	return func(m *Machine) {
		if fn != nil {
			m.closers = append(m.closers, fn)
		}
	}
}

// Machine координирует переход от изменяемой корзины к отправленному заказу.
type Machine struct {
	mu       sync.Mutex
	cart     Cart
	calc     *pricing.Calculator
	gateway  domain.OrderGateway
	logger   *log.Entry
	metrics  *metrics.CheckoutMetrics
	notifier Notifier
	timeout  time.Duration
	now      func() time.Time

	state     State
	details   domain.CustomerDetails
	orderID   string
	lastErr   error
	notice    *Notification
	updatedAt time.Time
	itemCount int

	closers   []func()
	closeOnce sync.Once
}

// NewMachine создаёт машину в состоянии Idle.
func NewMachine(store Cart, calc *pricing.Calculator, gateway domain.OrderGateway, opts ...Option) *Machine {
	m := &Machine{
		cart:    store,
		calc:    calc,
		gateway: gateway,
		logger:  log.WithField("component", "checkout"),
		timeout: DefaultSubmitTimeout,
		now:     time.Now,
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.updatedAt = m.now()
	m.itemCount = countItems(store.Lines())
	if obs, ok := store.(cartObserver); ok {
		m.closers = append(m.closers, obs.Subscribe(m.onCartChange))
	}
	return m
}

// onCartChange держит счётчик товаров актуальным без опроса корзины.
func (m *Machine) onCartChange(snap cart.Snapshot) {
	m.mu.Lock()
	m.itemCount = snap.TotalItems
	m.mu.Unlock()
}

// Close отписывает машину от корзины и освобождает зарегистрированные ресурсы.
// Повторные вызовы ничего не делают.
func (m *Machine) Close() {
	m.closeOnce.Do(func() {
		for i := len(m.closers) - 1; i >= 0; i-- {
			m.closers[i]()
		}
	})
}

func countItems(lines []domain.CartLine) int {
	total := 0
	for _, l := range lines {
		total += l.Quantity
	}
	return total
}

// Begin переводит Idle (или Failed/DetailsEntry) в DetailsEntry. Пустая корзина
// оставляет машину в Idle и возвращает ErrCartEmpty.
func (m *Machine) Begin(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateSubmitting:
		m.mu.Unlock()
		return ErrSubmitInProgress
	case StateSucceeded:
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	m.mu.Unlock()

	if err := m.cart.Reload(ctx); err != nil {
		m.logger.WithError(err).Warn("cart reload before checkout failed, using cached view")
	}
	empty := len(m.cart.Lines()) == 0

	m.mu.Lock()
	if m.state == StateSubmitting {
		m.mu.Unlock()
		return ErrSubmitInProgress
	}
	if empty {
		m.setLocked(StateIdle)
		m.lastErr = ErrCartEmpty
		n := m.noticeLocked(LevelError, "Your cart is empty", "")
		m.mu.Unlock()

		m.recordEmptyCart()
		m.emit(n)
		return ErrCartEmpty
	}
	m.setLocked(StateDetailsEntry)
	m.lastErr = nil
	m.notice = nil
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordCheckoutStarted()
	}
	return nil
}

// SetDetails сохраняет введённые данные без проверки.
func (m *Machine) SetDetails(details domain.CustomerDetails) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateDetailsEntry, StateFailed:
		m.details = details
		m.updatedAt = m.now()
		return nil
	case StateSubmitting:
		return ErrSubmitInProgress
	default:
		return ErrInvalidTransition
	}
}

// Cancel возвращает машину в Idle из DetailsEntry или Failed. Данные сохраняются.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateDetailsEntry, StateFailed, StateIdle:
		m.setLocked(StateIdle)
		m.lastErr = nil
		return nil
	case StateSubmitting:
		return ErrSubmitInProgress
	default:
		return ErrInvalidTransition
	}
}

// Submit проверяет контакты, строит черновик и один раз вызывает шлюз.
// Возвращает id заказа при успехе. Повторный вызов во время Submitting
// возвращает ErrSubmitInProgress без обращения к шлюзу.
func (m *Machine) Submit(ctx context.Context, details domain.CustomerDetails) (string, error) {
	m.mu.Lock()
	if m.state == StateSubmitting {
		m.mu.Unlock()
		m.recordSubmission(metrics.OutcomeDuplicate)
		return "", ErrSubmitInProgress
	}
	if m.state != StateDetailsEntry && m.state != StateFailed {
		m.mu.Unlock()
		return "", ErrInvalidTransition
	}

	details = details.Normalize()
	m.details = details
	if err := details.Validate(); err != nil {
		m.lastErr = err
		m.updatedAt = m.now()
		m.mu.Unlock()
		m.recordSubmission(metrics.OutcomeValidation)
		return "", err
	}
	resumeState := m.state
	m.setLocked(StateSubmitting)
	m.lastErr = nil
	m.notice = nil
	m.mu.Unlock()

	if err := m.cart.Reload(ctx); err != nil {
		m.logger.WithError(err).Warn("cart reload before submit failed, using cached view")
	}
	lines := m.cart.Lines()
	if len(lines) == 0 {
		m.mu.Lock()
		m.setLocked(StateIdle)
		m.lastErr = ErrCartEmpty
		n := m.noticeLocked(LevelError, "Your cart is empty", "")
		m.mu.Unlock()

		m.recordEmptyCart()
		m.emit(n)
		return "", ErrCartEmpty
	}

	quote, err := m.calc.Quote(lines)
	if err != nil {
		subErr := &domain.SubmissionError{Reason: ReasonInvalidCart, Err: err}
		m.mu.Lock()
		m.setLocked(resumeState)
		m.lastErr = subErr
		n := m.noticeLocked(LevelError, subErr.Reason, "")
		m.mu.Unlock()

		m.recordSubmission(metrics.OutcomeValidation)
		m.emit(n)
		return "", subErr
	}
	draft := domain.NewOrderDraft(details, lines, quote.Amounts())

	order, err := m.callGateway(ctx, draft)
	if err != nil {
		return "", m.fail(err)
	}
	return order.ID, m.succeed(ctx, order)
}

// callGateway выполняет единственный вызов шлюза под таймаутом.
// Отмена ctx вызывающего не прерывает отправку: результат фиксируется машиной.
func (m *Machine) callGateway(ctx context.Context, draft domain.OrderDraft) (domain.Order, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	started := m.now()
	if m.metrics != nil {
		m.metrics.RecordSubmitStarted()
	}
	order, err := m.gateway.SubmitOrder(callCtx, draft)
	if m.metrics != nil {
		m.metrics.RecordSubmitFinished(m.now().Sub(started))
	}
	// Заказ с id уже сохранён, даже если ответ пришёл после дедлайна:
	// таймаутом считается только ошибка самого шлюза.
	if err == nil && order.ID == "" {
		err = errors.New("gateway returned order without id")
	}
	return order, err
}

func (m *Machine) succeed(ctx context.Context, order domain.Order) error {
	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()
	if err := m.cart.Clear(clearCtx); err != nil {
		// Заказ уже принят; корзина будет перезаписана следующей мутацией.
		m.logger.WithError(err).WithField("order_id", order.ID).Error("failed to clear cart after order")
	}

	m.mu.Lock()
	m.setLocked(StateSucceeded)
	m.orderID = order.ID
	m.lastErr = nil
	n := m.noticeLocked(LevelSuccess, fmt.Sprintf("Order placed successfully. Order ID: %s", order.ID), order.ID)
	m.mu.Unlock()

	m.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"total":    order.TotalAmount.StringFixed(2),
	}).Info("order submitted")
	m.recordSubmission(metrics.OutcomeSucceeded)
	m.emit(n)
	return nil
}

func (m *Machine) fail(cause error) error {
	subErr := &domain.SubmissionError{Reason: reasonFor(cause), Err: cause}
	outcome := metrics.OutcomeFailed
	if errors.Is(cause, context.DeadlineExceeded) {
		outcome = metrics.OutcomeTimeout
	}

	m.mu.Lock()
	m.setLocked(StateFailed)
	m.lastErr = subErr
	n := m.noticeLocked(LevelError, subErr.Reason, "")
	m.mu.Unlock()

	m.logger.WithError(cause).WithField("reason", subErr.Reason).Warn("order submission failed")
	m.recordSubmission(outcome)
	m.emit(n)
	return subErr
}

// reasonFor превращает ошибку шлюза в текст для покупателя.
func reasonFor(err error) string {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.As(err, &ve):
		return ReasonRejected + ": " + ve.Error()
	case errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrItemPriceInvalid),
		errors.Is(err, domain.ErrAmountMismatch),
		errors.Is(err, domain.ErrAmountNegative):
		return ReasonRejected + ": " + err.Error()
	default:
		return ReasonUnreachable
	}
}

// Dismiss скрывает текущее уведомление.
func (m *Machine) Dismiss() {
	m.mu.Lock()
	m.notice = nil
	m.mu.Unlock()
}

// State возвращает текущее состояние.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OrderID возвращает id принятого заказа (после Succeeded).
func (m *Machine) OrderID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orderID
}

// LastError возвращает последнюю ошибку, видимую пользователю.
func (m *Machine) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Details возвращает сохранённые контактные данные.
func (m *Machine) Details() domain.CustomerDetails {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.details
}

// Snapshot возвращает полный вид машины.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		State:     m.state,
		OrderID:   m.orderID,
		Details:   m.details,
		ItemCount: m.itemCount,
		UpdatedAt: m.updatedAt,
	}
	if m.lastErr != nil {
		snap.Error = m.lastErr.Error()
		var ve *domain.ValidationError
		if errors.As(m.lastErr, &ve) {
			snap.FieldErrors = ve.Map()
		}
		var se *domain.SubmissionError
		if errors.As(m.lastErr, &se) {
			snap.Error = se.Reason
		}
	}
	if m.notice != nil {
		n := *m.notice
		snap.Notice = &n
	}
	return snap
}

func (m *Machine) setLocked(s State) {
	m.state = s
	m.updatedAt = m.now()
}

func (m *Machine) noticeLocked(level Level, message, orderID string) Notification {
	n := Notification{Level: level, Message: message, OrderID: orderID, At: m.now()}
	m.notice = &n
	return n
}

func (m *Machine) emit(n Notification) {
	if m.notifier != nil {
		m.notifier.Notify(n)
	}
}

func (m *Machine) recordSubmission(outcome string) {
	if m.metrics != nil {
		m.metrics.RecordSubmission(outcome)
	}
}

func (m *Machine) recordEmptyCart() {
	if m.metrics != nil {
		m.metrics.RecordEmptyCart()
	}
}
