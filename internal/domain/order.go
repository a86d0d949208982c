package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ принят, но ещё не подтверждён магазином.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — магазин подтвердил заказ.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusCompleted — заказ выдан или доставлен.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid сообщает, входит ли значение в словарь статусов заказа.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// ParseOrderStatus разбирает статус заказа, пришедший извне.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", ErrInvalidOrderStatus
	}
	return s, nil
}

// OrderLine — снимок позиции корзины в момент оформления.
type OrderLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// Amounts — денежные слагаемые заказа.
type Amounts struct {
	Subtotal     decimal.Decimal
	ShippingCost decimal.Decimal
	TaxAmount    decimal.Decimal
	TotalAmount  decimal.Decimal
}

// OrderDraft — рассчитанный, но ещё не сохранённый заказ.
type OrderDraft struct {
	Customer      CustomerDetails
	Items         []OrderLine
	Subtotal      decimal.Decimal
	ShippingCost  decimal.Decimal
	TaxAmount     decimal.Decimal
	TotalAmount   decimal.Decimal
	Status        OrderStatus
	PaymentStatus PaymentStatus
}

// NewOrderDraft строит черновик из корзины, контактов и расчёта.
// Здесь проходит граница отправки, поэтому суммы округляются до копеек;
// итог пересчитывается из округлённых слагаемых.
func NewOrderDraft(customer CustomerDetails, lines []CartLine, amounts Amounts) OrderDraft {
	items := make([]OrderLine, 0, len(lines))
	for _, l := range lines {
		items = append(items, OrderLine{
			ProductID:   l.Product.ID,
			ProductName: l.Product.Name,
			Quantity:    l.Quantity,
			Price:       l.Product.Price,
		})
	}

	subtotal := amounts.Subtotal.Round(2)
	shipping := amounts.ShippingCost.Round(2)
	tax := amounts.TaxAmount.Round(2)

	return OrderDraft{
		Customer:      customer.Normalize(),
		Items:         items,
		Subtotal:      subtotal,
		ShippingCost:  shipping,
		TaxAmount:     tax,
		TotalAmount:   subtotal.Add(shipping).Add(tax),
		Status:        OrderStatusPending,
		PaymentStatus: PaymentStatusPending,
	}
}

// Validate проверяет базовые инварианты черновика и возвращает список замечаний.
func (d OrderDraft) Validate() []error {
	var errs []error

	if err := d.Customer.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(d.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range d.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if d.Subtotal.IsNegative() || d.ShippingCost.IsNegative() || d.TaxAmount.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}
	if !d.Subtotal.Add(d.ShippingCost).Add(d.TaxAmount).Equal(d.TotalAmount) {
		errs = append(errs, ErrAmountMismatch)
	}
	if !d.Status.Valid() {
		errs = append(errs, ErrInvalidOrderStatus)
	}
	if !d.PaymentStatus.Valid() {
		errs = append(errs, ErrInvalidPaymentStatus)
	}

	return errs
}

// Order — сохранённый заказ, которым владеет хранилище.
type Order struct {
	ID            string          `json:"id"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	Address       string          `json:"shipping_address,omitempty"`
	Items         []OrderLine     `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ShippingCost  decimal.Decimal `json:"shipping_cost"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// OrderFromDraft собирает заказ из черновика и присвоенного идентификатора.
func OrderFromDraft(id string, d OrderDraft, now time.Time) Order {
	items := make([]OrderLine, len(d.Items))
	copy(items, d.Items)
	return Order{
		ID:            id,
		CustomerName:  d.Customer.Name,
		CustomerEmail: d.Customer.Email,
		CustomerPhone: d.Customer.Phone,
		Address:       d.Customer.ShippingAddress,
		Items:         items,
		Subtotal:      d.Subtotal,
		ShippingCost:  d.ShippingCost,
		TaxAmount:     d.TaxAmount,
		TotalAmount:   d.TotalAmount,
		Status:        d.Status,
		PaymentStatus: d.PaymentStatus,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// OrderField — поле заказа, которое разрешено менять через обновление по id.
type OrderField string

const (
	OrderFieldStatus        OrderField = "status"
	OrderFieldPaymentStatus OrderField = "payment_status"
)

// ValidateValue проверяет значение для поля и возвращает его нормализованную форму.
func (f OrderField) ValidateValue(value string) (string, error) {
	switch f {
	case OrderFieldStatus:
		s, err := ParseOrderStatus(value)
		return string(s), err
	case OrderFieldPaymentStatus:
		s, err := ParsePaymentStatus(value)
		return string(s), err
	default:
		return "", ErrInvalidOrderField
	}
}

// AmountField — денежная колонка, по которой допустимо агрегирование.
type AmountField string

const (
	AmountTotal    AmountField = "total_amount"
	AmountSubtotal AmountField = "subtotal"
	AmountTax      AmountField = "tax_amount"
	AmountShipping AmountField = "shipping_cost"
)

// Valid сообщает, что колонка есть в белом списке.
func (f AmountField) Valid() bool {
	switch f {
	case AmountTotal, AmountSubtotal, AmountTax, AmountShipping:
		return true
	}
	return false
}

// Of возвращает значение колонки для заказа.
func (f AmountField) Of(o Order) decimal.Decimal {
	switch f {
	case AmountSubtotal:
		return o.Subtotal
	case AmountTax:
		return o.TaxAmount
	case AmountShipping:
		return o.ShippingCost
	default:
		return o.TotalAmount
	}
}

// OrderSort задаёт порядок выдачи списка заказов.
type OrderSort string

const (
	OrderSortNewest    OrderSort = "created_desc"
	OrderSortOldest    OrderSort = "created_asc"
	OrderSortTotalDesc OrderSort = "total_desc"
)

// OrderFilter ограничивает выборку заказов. Пустые поля не фильтруют.
type OrderFilter struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
	// ExcludeStatus исключает заказы с этим статусом (например, отменённые из выручки).
	ExcludeStatus OrderStatus
	CustomerEmail string
	CreatedFrom   time.Time
	CreatedTo     time.Time
}

// Match проверяет заказ на соответствие фильтру.
func (f OrderFilter) Match(o Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
		return false
	}
	if f.ExcludeStatus != "" && o.Status == f.ExcludeStatus {
		return false
	}
	if f.CustomerEmail != "" && !strings.EqualFold(o.CustomerEmail, f.CustomerEmail) {
		return false
	}
	if !f.CreatedFrom.IsZero() && o.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && !o.CreatedAt.Before(f.CreatedTo) {
		return false
	}
	return true
}
