package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
	"github.com/vladislavdragonenkov/fluidstore/internal/storage/memory"
)

// slowCatalog считает вызовы GetProduct и задерживает их, чтобы запросы пересеклись.
type slowCatalog struct {
	domain.ProductCatalog
	calls atomic.Int32
}

func (c *slowCatalog) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	c.calls.Add(1)
	time.Sleep(30 * time.Millisecond)
	return c.ProductCatalog.GetProduct(ctx, id)
}

func TestService_ProductCollapsesConcurrentLookups(t *testing.T) {
	repo := &slowCatalog{ProductCatalog: memory.NewCatalog(memory.SeedProducts()...)}
	s := NewService(repo, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := s.Product(context.Background(), "eo-5w30")
			require.NoError(t, err)
			require.Equal(t, "Premium Engine Oil 5W-30", p.Name)
		}()
	}
	wg.Wait()

	require.Less(t, repo.calls.Load(), int32(8))
}

func TestService_ProductBySlug(t *testing.T) {
	bad := domain.Product{ID: "bad", Name: "Broken Oil", Slug: "broken-oil", Price: decimal.NewFromInt(-5)}
	s := NewService(memory.NewCatalog(append(memory.SeedProducts(), bad)...), nil)
	ctx := context.Background()

	p, err := s.ProductBySlug(ctx, "advanced-coolant-formula")
	require.NoError(t, err)
	require.Equal(t, "cl-adv", p.ID)

	p, err = s.ProductBySlug(ctx, " Advanced-Coolant-Formula ")
	require.NoError(t, err, "slug is normalized before lookup")
	require.Equal(t, "cl-adv", p.ID)

	for _, slug := range []string{"", "---", "broken-oil", "no-such-product"} {
		_, err := s.ProductBySlug(ctx, slug)
		require.ErrorIs(t, err, domain.ErrProductNotFound, slug)
	}
}

func TestService_SkipsMalformedRows(t *testing.T) {
	bad := domain.Product{ID: "bad", Name: "Broken", Price: decimal.NewFromInt(-5)}
	repo := memory.NewCatalog(append(memory.SeedProducts(), bad)...)
	s := NewService(repo, nil)

	all, err := s.List(context.Background(), domain.ProductQuery{})
	require.NoError(t, err)
	for _, p := range all {
		require.NotEqual(t, "bad", p.ID)
	}

	_, err = s.Product(context.Background(), "bad")
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestService_SuggestMinimumLength(t *testing.T) {
	s := NewService(memory.NewCatalog(memory.SeedProducts()...), nil)

	short, err := s.Suggest(context.Background(), "o")
	require.NoError(t, err)
	require.Empty(t, short)

	oils, err := s.Suggest(context.Background(), "oil")
	require.NoError(t, err)
	require.Len(t, oils, 3)
}

func TestService_RelatedAndLatest(t *testing.T) {
	ctx := context.Background()
	s := NewService(memory.NewCatalog(memory.SeedProducts()...), nil)

	p, err := s.Product(ctx, "cl-adv")
	require.NoError(t, err)
	related, err := s.Related(ctx, p)
	require.NoError(t, err)
	require.Len(t, related, 1)
	require.Equal(t, "cl-uni", related[0].ID)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	require.Len(t, latest, LatestLimit)

	none, err := s.Related(ctx, domain.Product{ID: "x"})
	require.NoError(t, err)
	require.Empty(t, none)
}
