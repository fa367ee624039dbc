package handler

import (
	"net/http"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/penalty"
)

// PenaltyQuoter prices a booking cancellation.
type PenaltyQuoter interface {
	Quote(req *domain.PenaltyQuoteRequest) (*penalty.Penalty, error)
}

// BookingHandler handles booking-related endpoints.
type BookingHandler struct {
	penalties PenaltyQuoter
}

func NewBookingHandler(penalties PenaltyQuoter) *BookingHandler {
	return &BookingHandler{penalties: penalties}
}

// Penalty handles POST /api/bookings/penalty.
func (h *BookingHandler) Penalty(w http.ResponseWriter, r *http.Request) {
	var req domain.PenaltyQuoteRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, err)
		return
	}
	quote, err := h.penalties.Quote(&req)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, quote)
}
