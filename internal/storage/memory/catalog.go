package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

// catalogInMemory — каталог товаров в памяти.
type catalogInMemory struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

// NewCatalog создаёт каталог с указанными товарами.
func NewCatalog(products ...domain.Product) *catalogInMemory {
	c := &catalogInMemory{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = withSlug(p)
	}
	return c
}

// Upsert добавляет или заменяет товар; пустой slug строится из названия.
func (c *catalogInMemory) Upsert(p domain.Product) {
	p = withSlug(p)
	c.mu.Lock()
	c.products[p.ID] = p
	c.mu.Unlock()
}

func (c *catalogInMemory) ListProducts(ctx context.Context, q domain.ProductQuery) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	search := strings.ToLower(strings.TrimSpace(q.Search))

	c.mu.RLock()
	result := make([]domain.Product, 0, len(c.products))
	for _, p := range c.products {
		if q.Category != "" && p.Category != q.Category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		result = append(result, p)
	}
	c.mu.RUnlock()

	sortProducts(result, q.Sort)
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (c *catalogInMemory) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (c *catalogInMemory) GetProductBySlug(ctx context.Context, slug string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Совпадение slug у нескольких товаров решается наименьшим id, как в PostgreSQL.
	var (
		found domain.Product
		ok    bool
	)
	for _, p := range c.products {
		if p.Slug == slug && (!ok || p.ID < found.ID) {
			found, ok = p, true
		}
	}
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return found, nil
}

func withSlug(p domain.Product) domain.Product {
	if p.Slug == "" {
		p.Slug = p.DefaultSlug()
	}
	return p
}

func (c *catalogInMemory) SuggestProducts(ctx context.Context, term string, limit int) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))

	c.mu.RLock()
	result := make([]domain.Product, 0, limit)
	for _, p := range c.products {
		if strings.Contains(strings.ToLower(p.Name), term) {
			result = append(result, p)
		}
	}
	c.mu.RUnlock()

	sortProducts(result, domain.ProductSortName)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (c *catalogInMemory) RelatedProducts(ctx context.Context, category, excludeID string, limit int) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	result := make([]domain.Product, 0, limit)
	for _, p := range c.products {
		if p.Category == category && p.ID != excludeID {
			result = append(result, p)
		}
	}
	c.mu.RUnlock()

	sortProducts(result, domain.ProductSortNewest)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (c *catalogInMemory) Categories(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	seen := make(map[string]struct{})
	for _, p := range c.products {
		if p.Category != "" {
			seen[p.Category] = struct{}{}
		}
	}
	c.mu.RUnlock()

	result := make([]string, 0, len(seen))
	for cat := range seen {
		result = append(result, cat)
	}
	sort.Strings(result)
	return result, nil
}

func sortProducts(ps []domain.Product, order domain.ProductSort) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		switch order {
		case domain.ProductSortName:
			if a.Name != b.Name {
				return a.Name < b.Name
			}
		case domain.ProductSortPriceLow:
			if !a.Price.Equal(b.Price) {
				return a.Price.LessThan(b.Price)
			}
		case domain.ProductSortPriceHigh:
			if !a.Price.Equal(b.Price) {
				return a.Price.GreaterThan(b.Price)
			}
		case domain.ProductSortCategory:
			if a.Category != b.Category {
				return a.Category < b.Category
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	})
}

// SeedProducts возвращает демонстрационный ассортимент для локального запуска.
func SeedProducts() []domain.Product {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	mk := func(id, name, desc, price, category string, stock, day int) domain.Product {
		at := base.AddDate(0, 0, day)
		return domain.Product{
			ID:            id,
			Name:          name,
			Slug:          domain.Slugify(name),
			Description:   desc,
			Price:         decimal.RequireFromString(price),
			Category:      category,
			StockQuantity: stock,
			CreatedAt:     at,
			UpdatedAt:     at,
		}
	}
	return []domain.Product{
		mk("eo-5w30", "Premium Engine Oil 5W-30", "Fully synthetic engine oil for petrol engines", "2450.00", "Engine Oil", 150, 0),
		mk("eo-15w40", "Heavy Duty Engine Oil 15W-40", "Mineral oil for diesel trucks and generators", "2890.00", "Engine Oil", 100, 1),
		mk("eo-0w20", "Synthetic Engine Oil 0W-20", "Low viscosity oil for hybrid engines", "3150.00", "Engine Oil", 80, 2),
		mk("cl-adv", "Advanced Coolant Formula", "Ready-to-use long life coolant", "1650.00", "Coolant", 200, 3),
		mk("cl-uni", "Universal Coolant Concentrate", "Concentrate, mix 1:1 with distilled water", "1390.00", "Coolant", 300, 4),
		mk("bf-dot4", "Brake Fluid DOT 4", "High boiling point brake fluid", "890.00", "Brake Fluid", 120, 5),
		mk("tf-atf", "Automatic Transmission Fluid", "Dexron VI compatible ATF", "2150.00", "Transmission Fluid", 60, 6),
	}
}

var _ domain.ProductCatalog = (*catalogInMemory)(nil)
