package httpapi

import (
	"net/http"

	"github.com/vladislavdragonenkov/fluidstore/internal/checkout"
	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

// SubmitResponse — результат успешной отправки заказа.
type SubmitResponse struct {
	OrderID  string            `json:"order_id"`
	Checkout checkout.Snapshot `json:"checkout"`
}

func (s *Server) machine(w http.ResponseWriter, r *http.Request) (*checkout.Machine, bool) {
	m, err := s.deps.Checkout.Machine(r.Context(), cartID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return m, true
}

func (s *Server) checkoutSnapshot(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) beginCheckout(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Checkout.Begin(r.Context(), cartID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m.Snapshot())
}

// submitCheckout отправляет заказ. Повторный запрос во время отправки отклоняется
// без второго обращения к шлюзу.
func (s *Server) submitCheckout(w http.ResponseWriter, r *http.Request) {
	var details domain.CustomerDetails
	if err := decodeJSON(w, r, &details); err != nil {
		writeError(w, r, err)
		return
	}
	m, ok := s.machine(w, r)
	if !ok {
		return
	}

	orderID, err := m.Submit(r.Context(), details)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, SubmitResponse{OrderID: orderID, Checkout: m.Snapshot()})
}

func (s *Server) cancelCheckout(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	if err := m.Cancel(); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) dismissCheckout(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	m.Dismiss()
	respondJSON(w, http.StatusOK, m.Snapshot())
}
