// Package httpapi — HTTP-поверхность витрины и административной панели.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fluidstore/internal/auth"
	"github.com/vladislavdragonenkov/fluidstore/internal/backoffice"
	"github.com/vladislavdragonenkov/fluidstore/internal/cart"
	"github.com/vladislavdragonenkov/fluidstore/internal/catalog"
	"github.com/vladislavdragonenkov/fluidstore/internal/checkout"
	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
	"github.com/vladislavdragonenkov/fluidstore/internal/pricing"
)

// CartIDHeader — заголовок с идентификатором корзины покупателя.
const CartIDHeader = "X-Cart-ID"

const defaultRequestTimeout = 30 * time.Second

// Deps — зависимости HTTP API.
type Deps struct {
	Catalog     *catalog.Service
	CartStorage domain.CartStorage
	CartOptions []cart.Option
	Pricing     *pricing.Calculator
	Checkout    *checkout.Registry
	Dashboard   *backoffice.Dashboard
	Auth        *auth.Authenticator
	Logger      *log.Entry
	// RequestTimeout ограничивает обработку запроса; отправка заказа живёт по своему таймауту.
	RequestTimeout time.Duration
}

// Server обслуживает /api.
type Server struct {
	deps   Deps
	logger *log.Entry
}

// NewServer создаёт HTTP API.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "httpapi")
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}
	return &Server{deps: deps, logger: logger}
}

// Routes возвращает chi router со всеми маршрутами.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.deps.RequestTimeout))

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", s.listProducts)
			r.Get("/suggest", s.suggestProducts)
			r.Get("/categories", s.categories)
			r.Get("/by-slug/{slug}", s.getProductBySlug)
			r.Get("/{id}", s.getProduct)
			r.Get("/{id}/related", s.relatedProducts)
		})

		r.Group(func(r chi.Router) {
			r.Use(cartIdentity)

			r.Get("/cart", s.getCart)
			r.Delete("/cart", s.clearCart)
			r.Post("/cart/items", s.addCartItem)
			r.Put("/cart/items/{productID}", s.updateCartItem)
			r.Delete("/cart/items/{productID}", s.removeCartItem)

			r.Get("/checkout", s.checkoutSnapshot)
			r.Post("/checkout/begin", s.beginCheckout)
			r.Post("/checkout/submit", s.submitCheckout)
			r.Post("/checkout/cancel", s.cancelCheckout)
			r.Post("/checkout/dismiss", s.dismissCheckout)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", s.login)
			r.Post("/logout", s.logout)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)

				r.Get("/orders", s.listOrders)
				r.Get("/orders/{id}", s.getOrder)
				r.Get("/orders/{id}/history", s.orderHistory)
				r.Patch("/orders/{id}/status", s.setOrderStatus)
				r.Patch("/orders/{id}/payment-status", s.setPaymentStatus)
				r.Get("/stats", s.stats)
			})
		})
	})
	return r
}

type ctxKey int

const (
	cartIDKey ctxKey = iota
	sessionKey
	loggerKey
)

// cartIdentity берёт id корзины из X-Cart-ID или выдаёт новый и возвращает его в ответе.
func cartIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(CartIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(CartIDHeader, id)
		ctx := context.WithValue(r.Context(), cartIDKey, id)
		ctx = context.WithValue(ctx, loggerKey, loggerFrom(r).WithField("cart_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func cartID(ctx context.Context) string {
	id, _ := ctx.Value(cartIDKey).(string)
	return id
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Auth == nil {
			writeError(w, r, auth.ErrNotConfigured)
			return
		}
		session, err := s.deps.Auth.Verify(r.Context(), bearerToken(r))
		if err != nil {
			writeError(w, r, errUnauthenticated)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, session)
		ctx = context.WithValue(ctx, loggerKey, loggerFrom(r).WithField("admin", session.Username))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := s.logger.WithField("request_id", middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), loggerKey, logger)))

		entry := logger.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start).String(),
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("request served")
			return
		}
		entry.Debug("request served")
	})
}

func loggerFrom(r *http.Request) *log.Entry {
	if l, ok := r.Context().Value(loggerKey).(*log.Entry); ok {
		return l
	}
	return log.WithField("component", "httpapi")
}
