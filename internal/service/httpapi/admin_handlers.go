package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/fluidstore/internal/auth"
	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		writeError(w, r, auth.ErrNotConfigured)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := s.deps.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth != nil {
		if err := s.deps.Auth.Logout(r.Context(), bearerToken(r)); err != nil {
			writeError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// listOrders принимает status, payment_status, email, from, to (RFC3339) и limit.
func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := parseOrderFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	orders, err := s.deps.Dashboard.LoadOrders(r.Context(), filter, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.deps.Dashboard.Order(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) orderHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Dashboard.History(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.HistoryEvent{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": events})
}

// stats отдаёт кэшированные показатели; refresh=true или пустой кэш пересчитывают их.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats := s.deps.Dashboard.Stats()
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh || stats.RefreshedAt.IsZero() {
		var err error
		if stats, err = s.deps.Dashboard.RefreshStats(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) setOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	order, err := s.deps.Dashboard.SetOrderStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) setPaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	order, err := s.deps.Dashboard.SetPaymentStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func parseOrderFilter(r *http.Request) (domain.OrderFilter, error) {
	q := r.URL.Query()
	var filter domain.OrderFilter
	if raw := q.Get("status"); raw != "" {
		st, err := domain.ParseOrderStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = st
	}
	if raw := q.Get("payment_status"); raw != "" {
		st, err := domain.ParsePaymentStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.PaymentStatus = st
	}
	filter.CustomerEmail = strings.TrimSpace(q.Get("email"))

	for key, dst := range map[string]*time.Time{"from": &filter.CreatedFrom, "to": &filter.CreatedTo} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			ve := &domain.ValidationError{}
			ve.Add(key, "must be an RFC3339 timestamp")
			return filter, ve
		}
		*dst = t
	}
	return filter, nil
}
