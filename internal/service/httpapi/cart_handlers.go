package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/fluidstore/internal/cart"
	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
	"github.com/vladislavdragonenkov/fluidstore/internal/pricing"
)

// CartResponse — корзина с округлённым расчётом.
type CartResponse struct {
	CartID    string            `json:"cart_id"`
	Lines     []domain.CartLine `json:"lines"`
	ItemCount int               `json:"item_count"`
	Quote     pricing.Quote     `json:"quote"`
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Server) openCart(r *http.Request) *cart.Store {
	opts := append([]cart.Option{cart.WithLogger(loggerFrom(r))}, s.deps.CartOptions...)
	return cart.Open(r.Context(), s.deps.CartStorage, cartID(r.Context()), opts...)
}

func (s *Server) respondCart(w http.ResponseWriter, r *http.Request, status int, store *cart.Store) {
	snap := store.Snapshot()
	quote, err := s.deps.Pricing.Quote(snap.Lines)
	if err != nil {
		writeError(w, r, err)
		return
	}
	lines := snap.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}
	respondJSON(w, status, CartResponse{
		CartID:    snap.CartID,
		Lines:     lines,
		ItemCount: snap.TotalItems,
		Quote:     quote.Rounded(),
	})
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	s.respondCart(w, r, http.StatusOK, s.openCart(r))
}

// addCartItem читает товар из каталога на сервере; остаток проверяется здесь, а не в корзине.
func (s *Server) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 1 {
		writeError(w, r, cart.ErrQuantityInvalid)
		return
	}

	product, err := s.deps.Catalog.Product(r.Context(), req.ProductID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	store := s.openCart(r)
	if inCart := quantityOf(store, product.ID); inCart+req.Quantity > product.StockQuantity {
		writeError(w, r, fmt.Errorf("%w: %d in stock, %d in cart", errInsufficientStock, product.StockQuantity, inCart))
		return
	}
	if err := store.AddItem(r.Context(), product, req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}
	s.respondCart(w, r, http.StatusOK, store)
}

func (s *Server) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var req updateQuantityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	productID := chi.URLParam(r, "productID")

	store := s.openCart(r)
	if req.Quantity > 0 {
		for _, l := range store.Lines() {
			if l.Product.ID == productID && req.Quantity > l.Product.StockQuantity {
				writeError(w, r, fmt.Errorf("%w: %d in stock", errInsufficientStock, l.Product.StockQuantity))
				return
			}
		}
	}
	if err := store.UpdateQuantity(r.Context(), productID, req.Quantity); err != nil {
		writeError(w, r, err)
		return
	}
	s.respondCart(w, r, http.StatusOK, store)
}

func (s *Server) removeCartItem(w http.ResponseWriter, r *http.Request) {
	store := s.openCart(r)
	if err := store.RemoveItem(r.Context(), chi.URLParam(r, "productID")); err != nil {
		writeError(w, r, err)
		return
	}
	s.respondCart(w, r, http.StatusOK, store)
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	store := s.openCart(r)
	if err := store.Clear(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	s.respondCart(w, r, http.StatusOK, store)
}

func quantityOf(store *cart.Store, productID string) int {
	for _, l := range store.Lines() {
		if l.Product.ID == productID {
			return l.Quantity
		}
	}
	return 0
}
