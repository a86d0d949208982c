// Package catalog даёт чтение каталога товаров поверх domain.ProductCatalog:
// проверка строк на границе, схлопывание одинаковых конкурентных запросов
// и ограничения витрины (подсказки от 2 символов, похожие товары).
package catalog

import (
	"context"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

// Лимиты витрины.
const (
	MinSuggestLength = 2
	SuggestLimit     = 5
	RelatedLimit     = 4
	LatestLimit      = 4
	MaxListLimit     = 100
)

// Service читает каталог.
type Service struct {
	repo   domain.ProductCatalog
	logger *log.Entry
	sfg    singleflight.Group
}

// NewService создаёт сервис каталога.
func NewService(repo domain.ProductCatalog, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &Service{repo: repo, logger: logger}
}

// List возвращает товары по запросу; битые строки пропускаются.
func (s *Service) List(ctx context.Context, q domain.ProductQuery) ([]domain.Product, error) {
	q.Search = strings.TrimSpace(q.Search)
	if q.Sort == "" {
		q.Sort = domain.ProductSortNewest
	}
	if q.Limit <= 0 || q.Limit > MaxListLimit {
		q.Limit = MaxListLimit
	}
	products, err := s.repo.ListProducts(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.valid(products), nil
}

// Latest возвращает новые поступления для главной страницы.
func (s *Service) Latest(ctx context.Context) ([]domain.Product, error) {
	return s.List(ctx, domain.ProductQuery{Sort: domain.ProductSortNewest, Limit: LatestLimit})
}

// Product возвращает товар по id. Одновременные запросы одного id выполняются один раз.
func (s *Service) Product(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return s.lookup("id:"+id, func() (domain.Product, error) {
		return s.repo.GetProduct(ctx, id)
	})
}

// ProductBySlug возвращает товар по адресу страницы; адрес сравнивается
// в нормализованном виде, поэтому "Brake-Fluid-DOT-4" найдёт "brake-fluid-dot-4".
func (s *Service) ProductBySlug(ctx context.Context, slug string) (domain.Product, error) {
	slug = domain.Slugify(slug)
	if slug == "" {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return s.lookup("slug:"+slug, func() (domain.Product, error) {
		return s.repo.GetProductBySlug(ctx, slug)
	})
}

func (s *Service) lookup(key string, get func() (domain.Product, error)) (domain.Product, error) {
	v, err, _ := s.sfg.Do(key, func() (interface{}, error) {
		p, err := get()
		if err != nil {
			return nil, err
		}
		if verr := p.Validate(); verr != nil {
			s.logger.WithError(verr).WithField("product_id", p.ID).Warn("malformed product row")
			return nil, domain.ErrProductNotFound
		}
		return p, nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return v.(domain.Product), nil
}

// Suggest возвращает подсказки; короткий запрос даёт пустой результат.
func (s *Service) Suggest(ctx context.Context, term string) ([]domain.Product, error) {
	term = strings.TrimSpace(term)
	if utf8.RuneCountInString(term) < MinSuggestLength {
		return []domain.Product{}, nil
	}
	products, err := s.repo.SuggestProducts(ctx, term, SuggestLimit)
	if err != nil {
		return nil, err
	}
	return s.valid(products), nil
}

// Related возвращает товары той же категории.
func (s *Service) Related(ctx context.Context, p domain.Product) ([]domain.Product, error) {
	if p.Category == "" {
		return []domain.Product{}, nil
	}
	products, err := s.repo.RelatedProducts(ctx, p.Category, p.ID, RelatedLimit)
	if err != nil {
		return nil, err
	}
	return s.valid(products), nil
}

// Categories возвращает список категорий.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	return s.repo.Categories(ctx)
}

func (s *Service) valid(in []domain.Product) []domain.Product {
	out := make([]domain.Product, 0, len(in))
	for _, p := range in {
		if err := p.Validate(); err != nil {
			s.logger.WithError(err).WithField("product_id", p.ID).Warn("skipping malformed product row")
			continue
		}
		out = append(out, p)
	}
	return out
}
