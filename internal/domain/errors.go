package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product id is required")
	// Ошибка отсутствующего названия товара.
	ErrProductNameRequired = errors.New("product name is required")
	// Ошибка отрицательной цены товара.
	ErrProductPriceNegative = errors.New("product price must be non-negative")
	// Ошибка отрицательного остатка на складе.
	ErrProductStockNegative = errors.New("product stock must be non-negative")
	// ErrProductNotFound возвращается каталогом, если товара нет.
	ErrProductNotFound = errors.New("product not found")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("order amount must be non-negative")
	// Ошибка несоответствия итоговой суммы и её слагаемых.
	ErrAmountMismatch = errors.New("order total does not match subtotal, shipping and tax")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order id is required")
	// ErrOrderNotFound возвращается, если обновление или чтение не затронуло ни одной записи.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidOrderStatus — значение статуса заказа вне словаря.
	ErrInvalidOrderStatus = errors.New("invalid order status")
	// ErrInvalidPaymentStatus — значение статуса оплаты вне словаря.
	ErrInvalidPaymentStatus = errors.New("invalid payment status")
	// ErrInvalidOrderField — попытка обновить поле, которое нельзя менять.
	ErrInvalidOrderField = errors.New("invalid order field")
	// ErrInvalidAmountField — агрегирование по неизвестной колонке.
	ErrInvalidAmountField = errors.New("invalid amount field")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrSessionNotFound — сессия администратора не найдена или истекла.
	ErrSessionNotFound = errors.New("session not found")
)

// FieldError описывает ошибку конкретного поля формы.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError собирает ошибки полей, найденные до любого I/O.
type ValidationError struct {
	Fields []FieldError
}

// Add добавляет ошибку поля.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Empty сообщает, что ошибок не найдено.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// Map возвращает ошибки в виде field -> message.
func (e *ValidationError) Map() map[string]string {
	out := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		if _, ok := out[f.Field]; !ok {
			out[f.Field] = f.Message
		}
	}
	return out
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}

// SubmissionError — ошибка отправки заказа со строкой, пригодной для показа клиенту.
type SubmissionError struct {
	Reason string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// IsNotFound проверяет, что ошибка означает отсутствие заказа.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

// IsValidation проверяет, что ошибка является ошибкой валидации полей.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
