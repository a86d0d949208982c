package domain

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// Product — справочная запись каталога. Ядро только читает товары.
type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Slug          string          `json:"slug,omitempty"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Category      string          `json:"category,omitempty"`
	ImageURL      string          `json:"image_url,omitempty"`
	StockQuantity int             `json:"stock_quantity"`
	CreatedAt     time.Time       `json:"created_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at,omitempty"`
}

// NewProduct собирает товар и проверяет его на границе.
func NewProduct(id, name string, price decimal.Decimal, stock int) (Product, error) {
	p := Product{
		ID:            strings.TrimSpace(id),
		Name:          strings.TrimSpace(name),
		Price:         price,
		StockQuantity: stock,
	}
	p.Slug = p.DefaultSlug()
	if err := p.Validate(); err != nil {
		return Product{}, err
	}
	return p, nil
}

// Validate проверяет инварианты товара.
func (p Product) Validate() error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return ErrProductIDRequired
	case strings.TrimSpace(p.Name) == "":
		return ErrProductNameRequired
	case p.Price.IsNegative():
		return ErrProductPriceNegative
	case p.StockQuantity < 0:
		return ErrProductStockNegative
	}
	return nil
}

// DefaultSlug строит адрес страницы товара из названия; если в названии
// нет латиницы и цифр, используется id.
func (p Product) DefaultSlug() string {
	if s := Slugify(p.Name); s != "" {
		return s
	}
	return Slugify(p.ID)
}

// Slugify переводит строку в нижний регистр и заменяет всё, кроме a-z и 0-9,
// одиночными дефисами без дефисов по краям: "Brake Fluid DOT 4" -> "brake-fluid-dot-4".
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	dash := false
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}

// InStock сообщает, есть ли товар на складе.
func (p Product) InStock() bool {
	return p.StockQuantity > 0
}

// CartLine связывает снимок товара с запрошенным количеством (>= 1).
type CartLine struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// LineTotal возвращает price * quantity без округления.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ProductSort задаёт порядок выдачи каталога.
type ProductSort string

const (
	ProductSortNewest    ProductSort = "newest"
	ProductSortName      ProductSort = "name"
	ProductSortPriceLow  ProductSort = "price-low"
	ProductSortPriceHigh ProductSort = "price-high"
	ProductSortCategory  ProductSort = "category"
)

// ParseProductSort возвращает порядок сортировки, неизвестное значение даёт newest.
func ParseProductSort(raw string) ProductSort {
	switch s := ProductSort(strings.TrimSpace(raw)); s {
	case ProductSortName, ProductSortPriceLow, ProductSortPriceHigh, ProductSortCategory:
		return s
	default:
		return ProductSortNewest
	}
}

// ProductQuery описывает поиск по каталогу.
type ProductQuery struct {
	// Search ищет подстроку в названии или описании без учёта регистра.
	Search   string
	Category string
	Sort     ProductSort
	Limit    int
}
