// Package pricing рассчитывает суммы корзины: subtotal, доставку, налог и итог.
//
// Все функции чистые: одинаковые строки и конфигурация дают одинаковый результат.
// Округление до копеек выполняется только в Quote.Rounded.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

// ErrInvalidLine — строка корзины с отрицательной ценой или количеством < 1.
var ErrInvalidLine = errors.New("invalid cart line")

// ErrInvalidConfig — некорректные константы расчёта.
var ErrInvalidConfig = errors.New("invalid pricing config")

// Значения по умолчанию для витрины.
var (
	DefaultFreeShippingThreshold = decimal.NewFromInt(5000)
	DefaultShippingFee           = decimal.NewFromInt(250)
	DefaultTaxRate               = decimal.RequireFromString("0.15")
)

// Config содержит константы расчёта, заменяемые для конкретной инсталляции.
type Config struct {
	// FreeShippingThreshold — subtotal, начиная с которого доставка бесплатна (включительно).
	FreeShippingThreshold decimal.Decimal
	// ShippingFee — фиксированная стоимость доставки ниже порога.
	ShippingFee decimal.Decimal
	// TaxRate — доля налога от subtotal.
	TaxRate decimal.Decimal
}

// DefaultConfig возвращает константы витрины.
func DefaultConfig() Config {
	return Config{
		FreeShippingThreshold: DefaultFreeShippingThreshold,
		ShippingFee:           DefaultShippingFee,
		TaxRate:               DefaultTaxRate,
	}
}

// Validate отклоняет отрицательные значения и ставку больше 1.
func (c Config) Validate() error {
	switch {
	case c.FreeShippingThreshold.IsNegative():
		return fmt.Errorf("%w: free shipping threshold is negative", ErrInvalidConfig)
	case c.ShippingFee.IsNegative():
		return fmt.Errorf("%w: shipping fee is negative", ErrInvalidConfig)
	case c.TaxRate.IsNegative() || c.TaxRate.GreaterThan(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: tax rate must be within [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// Calculator применяет Config к строкам корзины.
type Calculator struct {
	cfg Config
}

// NewCalculator создаёт калькулятор. Некорректная конфигурация возвращает ошибку.
func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{cfg: cfg}, nil
}

// Config возвращает копию констант.
func (c *Calculator) Config() Config {
	return c.cfg
}

// Subtotal суммирует price * quantity без промежуточного округления.
func (c *Calculator) Subtotal(lines []domain.CartLine) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, l := range lines {
		if l.Product.Price.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: product %s has negative price", ErrInvalidLine, l.Product.ID)
		}
		if l.Quantity < 1 {
			return decimal.Zero, fmt.Errorf("%w: product %s has quantity %d", ErrInvalidLine, l.Product.ID, l.Quantity)
		}
		sum = sum.Add(l.LineTotal())
	}
	return sum, nil
}

// ShippingCost возвращает 0, если subtotal достиг порога, иначе фиксированный тариф.
func (c *Calculator) ShippingCost(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(c.cfg.FreeShippingThreshold) {
		return decimal.Zero
	}
	return c.cfg.ShippingFee
}

// TaxAmount = subtotal * TaxRate.
func (c *Calculator) TaxAmount(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(c.cfg.TaxRate)
}

// Total складывает слагаемые.
func (c *Calculator) Total(subtotal, shipping, tax decimal.Decimal) decimal.Decimal {
	return subtotal.Add(shipping).Add(tax)
}

// Quote — полный расчёт корзины.
type Quote struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	Total        decimal.Decimal `json:"total"`
	FreeShipping bool            `json:"free_shipping"`
	// AmountToFreeShipping — сколько не хватает до бесплатной доставки.
	AmountToFreeShipping decimal.Decimal `json:"amount_to_free_shipping"`
}

// Quote считает все суммы разом.
func (c *Calculator) Quote(lines []domain.CartLine) (Quote, error) {
	subtotal, err := c.Subtotal(lines)
	if err != nil {
		return Quote{}, err
	}
	shipping := c.ShippingCost(subtotal)
	tax := c.TaxAmount(subtotal)

	missing := c.cfg.FreeShippingThreshold.Sub(subtotal)
	if missing.IsNegative() {
		missing = decimal.Zero
	}

	return Quote{
		Subtotal:             subtotal,
		ShippingCost:         shipping,
		TaxAmount:            tax,
		Total:                c.Total(subtotal, shipping, tax),
		FreeShipping:         shipping.IsZero(),
		AmountToFreeShipping: missing,
	}, nil
}

// Rounded округляет слагаемые до 2 знаков; итог пересобирается из округлённых частей.
func (q Quote) Rounded() Quote {
	subtotal := q.Subtotal.Round(2)
	shipping := q.ShippingCost.Round(2)
	tax := q.TaxAmount.Round(2)
	return Quote{
		Subtotal:             subtotal,
		ShippingCost:         shipping,
		TaxAmount:            tax,
		Total:                subtotal.Add(shipping).Add(tax),
		FreeShipping:         q.FreeShipping,
		AmountToFreeShipping: q.AmountToFreeShipping.Round(2),
	}
}

// Amounts переводит расчёт в денежные слагаемые заказа.
func (q Quote) Amounts() domain.Amounts {
	return domain.Amounts{
		Subtotal:     q.Subtotal,
		ShippingCost: q.ShippingCost,
		TaxAmount:    q.TaxAmount,
		TotalAmount:  q.Total,
	}
}
