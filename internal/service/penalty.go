package service

import (
	"errors"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/penalty"
	"github.com/go-playground/validator/v10"
)

// PenaltyService quotes booking cancellation penalties.
type PenaltyService struct {
	validate *validator.Validate
	now      func() time.Time
}

func NewPenaltyService() *PenaltyService {
	return &PenaltyService{validate: validator.New(), now: time.Now}
}

// Quote returns the penalty for cancelling the described booking. CancelAt
// defaults to the current time.
func (s *PenaltyService) Quote(req *domain.PenaltyQuoteRequest) (*penalty.Penalty, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(formatValidationErrors(err))
	}
	cancelAt := s.now()
	if req.CancelAt != nil {
		cancelAt = *req.CancelAt
	}
	p, err := penalty.Calculate(req.Policies, req.TotalAmount, req.StartDate, cancelAt)
	if err != nil {
		if errors.Is(err, penalty.ErrInvalidPolicy) {
			return nil, domain.ErrValidation(err.Error())
		}
		return nil, domain.ErrInternal("failed to calculate penalty", err)
	}
	return &p, nil
}
