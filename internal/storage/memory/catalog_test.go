package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

func TestCatalog_ListSearchAndSort(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(SeedProducts()...)

	all, err := c.ListProducts(ctx, domain.ProductQuery{})
	require.NoError(t, err)
	require.Len(t, all, len(SeedProducts()))
	require.Equal(t, "tf-atf", all[0].ID, "newest first by default")

	oils, err := c.ListProducts(ctx, domain.ProductQuery{Category: "Engine Oil", Sort: domain.ProductSortPriceLow})
	require.NoError(t, err)
	require.Len(t, oils, 3)
	require.Equal(t, "eo-5w30", oils[0].ID)
	require.Equal(t, "eo-0w20", oils[2].ID)

	bySearch, err := c.ListProducts(ctx, domain.ProductQuery{Search: "DIESEL"})
	require.NoError(t, err)
	require.Len(t, bySearch, 1, "description matches case-insensitively")
	require.Equal(t, "eo-15w40", bySearch[0].ID)

	limited, err := c.ListProducts(ctx, domain.ProductQuery{Limit: 4})
	require.NoError(t, err)
	require.Len(t, limited, 4)
}

func TestCatalog_SuggestRelatedCategories(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(SeedProducts()...)

	sugg, err := c.SuggestProducts(ctx, "coolant", 5)
	require.NoError(t, err)
	require.Len(t, sugg, 2)
	require.Equal(t, "Advanced Coolant Formula", sugg[0].Name)

	related, err := c.RelatedProducts(ctx, "Engine Oil", "eo-5w30", 4)
	require.NoError(t, err)
	require.Len(t, related, 2)
	require.Equal(t, "eo-0w20", related[0].ID)

	cats, err := c.Categories(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Brake Fluid", "Coolant", "Engine Oil", "Transmission Fluid"}, cats)

	_, err = c.GetProduct(ctx, "missing")
	require.True(t, errors.Is(err, domain.ErrProductNotFound))
}

func TestCatalog_GetProductBySlug(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(SeedProducts()...)

	p, err := c.GetProductBySlug(ctx, "brake-fluid-dot-4")
	require.NoError(t, err)
	require.Equal(t, "bf-dot4", p.ID)

	// Товар без slug получает адрес из названия при записи.
	c.Upsert(domain.Product{ID: "gr-lith", Name: "Lithium Grease EP2", Price: decimal.NewFromInt(450)})
	p, err = c.GetProductBySlug(ctx, "lithium-grease-ep2")
	require.NoError(t, err)
	require.Equal(t, "gr-lith", p.ID)

	// Одинаковый slug у двух товаров: выигрывает меньший id.
	c.Upsert(domain.Product{ID: "gr-aaa", Name: "Lithium Grease EP2", Price: decimal.NewFromInt(500)})
	p, err = c.GetProductBySlug(ctx, "lithium-grease-ep2")
	require.NoError(t, err)
	require.Equal(t, "gr-aaa", p.ID)

	_, err = c.GetProductBySlug(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}
