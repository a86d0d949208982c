package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
	"github.com/vladislavdragonenkov/fluidstore/internal/storage/memory"
)

func seedCatalog(t *testing.T, c *Catalog) {
	t.Helper()
	for _, p := range memory.SeedProducts() {
		if err := c.Upsert(context.Background(), p); err != nil {
			t.Fatalf("seed product %s: %v", p.ID, err)
		}
	}
}

func TestCatalog_PostgresQueries(t *testing.T) {
	ctx := context.Background()
	store := openPostgresStoreForIntegrationTest(t)
	c := NewCatalog(store)
	seedCatalog(t, c)

	newest, err := c.ListProducts(ctx, domain.ProductQuery{Limit: 2})
	if err != nil {
		t.Fatalf("list newest: %v", err)
	}
	if len(newest) != 2 || newest[0].ID != "tf-atf" {
		t.Fatalf("unexpected newest: %+v", newest)
	}

	cheap, err := c.ListProducts(ctx, domain.ProductQuery{Sort: domain.ProductSortPriceLow})
	if err != nil || cheap[0].ID != "bf-dot4" {
		t.Fatalf("unexpected price-low order: %+v err=%v", cheap, err)
	}

	diesel, err := c.ListProducts(ctx, domain.ProductQuery{Search: "DIESEL"})
	if err != nil || len(diesel) != 1 || diesel[0].ID != "eo-15w40" {
		t.Fatalf("unexpected search result: %+v err=%v", diesel, err)
	}

	coolant, err := c.ListProducts(ctx, domain.ProductQuery{Category: "Coolant"})
	if err != nil || len(coolant) != 2 {
		t.Fatalf("unexpected category result: %+v err=%v", coolant, err)
	}

	suggest, err := c.SuggestProducts(ctx, "oil", 5)
	if err != nil || len(suggest) != 3 {
		t.Fatalf("unexpected suggestions: %+v err=%v", suggest, err)
	}

	related, err := c.RelatedProducts(ctx, "Engine Oil", "eo-5w30", 4)
	if err != nil || len(related) != 2 || related[0].ID != "eo-0w20" {
		t.Fatalf("unexpected related: %+v err=%v", related, err)
	}

	cats, err := c.Categories(ctx)
	if err != nil || len(cats) != 4 || cats[0] != "Brake Fluid" {
		t.Fatalf("unexpected categories: %v err=%v", cats, err)
	}

	if _, err := c.GetProduct(ctx, "missing"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	p, err := c.GetProduct(ctx, "eo-5w30")
	if err != nil || p.StockQuantity != 150 || p.Price.StringFixed(2) != "2450.00" {
		t.Fatalf("unexpected product: %+v err=%v", p, err)
	}

	bySlug, err := c.GetProductBySlug(ctx, "premium-engine-oil-5w-30")
	if err != nil || bySlug.ID != "eo-5w30" {
		t.Fatalf("unexpected product by slug: %+v err=%v", bySlug, err)
	}
	if _, err := c.GetProductBySlug(ctx, "missing"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound by slug, got %v", err)
	}
}

func TestCatalog_PostgresSearchEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	store := openPostgresStoreForIntegrationTest(t)
	c := NewCatalog(store)
	seedCatalog(t, c)

	got, err := c.ListProducts(ctx, domain.ProductQuery{Search: "%"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("wildcard must be matched literally, got %d rows", len(got))
	}
}

func TestHistoryRepository_PostgresAppendList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewHistoryRepository(store)

	base := time.Now().UTC().Round(time.Microsecond)
	events := []domain.HistoryEvent{
		{OrderID: "order-1", Type: domain.HistoryOrderCreated, Occurred: base},
		{OrderID: "order-1", Type: domain.HistoryStatusChanged, Reason: "confirmed", Occurred: base.Add(time.Second)},
		{OrderID: "order-2", Type: domain.HistoryOrderCreated, Occurred: base},
	}
	for _, e := range events {
		if err := repo.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := repo.Append(domain.HistoryEvent{OrderID: "order-1", Type: domain.HistoryPaymentStatusChanged}); err != nil {
		t.Fatalf("append without timestamp: %v", err)
	}

	got, err := repo.List("order-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[1].Reason != "confirmed" || got[2].Occurred.IsZero() {
		t.Fatalf("unexpected history: %+v", got)
	}
}
