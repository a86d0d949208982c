package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

const productColumns = `id, name, slug, description, price, category, image_url, stock_quantity, created_at, updated_at`

// Catalog — каталог товаров в PostgreSQL.
type Catalog struct {
	db *sql.DB
}

// NewCatalog создаёт PostgreSQL-реализацию ProductCatalog.
func NewCatalog(store *Store) *Catalog {
	return &Catalog{db: store.DB()}
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Description, &p.Price, &p.Category,
		&p.ImageURL, &p.StockQuantity, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// Upsert добавляет товар или обновляет существующий (используется при наполнении каталога).
func (c *Catalog) Upsert(ctx context.Context, p domain.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Slug == "" {
		p.Slug = p.DefaultSlug()
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			slug = EXCLUDED.slug,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			category = EXCLUDED.category,
			image_url = EXCLUDED.image_url,
			stock_quantity = EXCLUDED.stock_quantity,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.Slug, p.Description, p.Price, p.Category, p.ImageURL, p.StockQuantity, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (c *Catalog) ListProducts(ctx context.Context, q domain.ProductQuery) ([]domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		conds []string
		args  []any
	)
	if q.Category != "" {
		args = append(args, q.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		args = append(args, "%"+escapeLike(s)+"%")
		conds = append(conds, fmt.Sprintf("(name ILIKE $%[1]d OR description ILIKE $%[1]d)", len(args)))
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += productOrderBy(q.Sort)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return c.queryProducts(ctx, query, args...)
}

func (c *Catalog) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	p, err := scanProduct(c.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (c *Catalog) GetProductBySlug(ctx context.Context, slug string) (domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	p, err := scanProduct(c.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE slug = $1 ORDER BY id LIMIT 1`, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product by slug: %w", err)
	}
	return p, nil
}

func (c *Catalog) SuggestProducts(ctx context.Context, term string, limit int) ([]domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	args := []any{"%" + escapeLike(strings.TrimSpace(term)) + "%"}
	query := `SELECT ` + productColumns + ` FROM products WHERE name ILIKE $1` + productOrderBy(domain.ProductSortName)
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $2"
	}
	return c.queryProducts(ctx, query, args...)
}

func (c *Catalog) RelatedProducts(ctx context.Context, category, excludeID string, limit int) ([]domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	args := []any{category, excludeID}
	query := `SELECT ` + productColumns + ` FROM products WHERE category = $1 AND id <> $2` +
		productOrderBy(domain.ProductSortNewest)
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $3"
	}
	return c.queryProducts(ctx, query, args...)
}

func (c *Catalog) Categories(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT category FROM products WHERE category <> '' ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	result := make([]string, 0)
	for rows.Next() {
		var cat string
		if err := rows.Scan(&cat); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		result = append(result, cat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return result, nil
}

func (c *Catalog) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return result, nil
}

func productOrderBy(s domain.ProductSort) string {
	switch s {
	case domain.ProductSortName:
		return " ORDER BY name ASC, id ASC"
	case domain.ProductSortPriceLow:
		return " ORDER BY price ASC, id ASC"
	case domain.ProductSortPriceHigh:
		return " ORDER BY price DESC, id ASC"
	case domain.ProductSortCategory:
		return " ORDER BY category ASC, id ASC"
	default:
		return " ORDER BY created_at DESC, id ASC"
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var _ domain.ProductCatalog = (*Catalog)(nil)
