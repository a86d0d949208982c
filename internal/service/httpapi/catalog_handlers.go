package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	products, err := s.deps.Catalog.List(r.Context(), domain.ProductQuery{
		Search:   q.Get("q"),
		Category: q.Get("category"),
		Sort:     domain.ParseProductSort(q.Get("sort")),
		Limit:    limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) suggestProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.deps.Catalog.Suggest(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) categories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.deps.Catalog.Categories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Catalog.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) getProductBySlug(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Catalog.ProductBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) relatedProducts(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Catalog.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	related, err := s.deps.Catalog.Related(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"products": related})
}
