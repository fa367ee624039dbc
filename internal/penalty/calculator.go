// Package penalty computes cancellation penalties from a listing's policies.
package penalty

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrInvalidPolicy is returned for policy data that cannot be evaluated.
var ErrInvalidPolicy = errors.New("invalid cancellation policy")

const day = 24 * time.Hour

// Penalty is the outcome of a calculation. Policy is nil when none applies.
type Penalty struct {
	Amount            float64                    `json:"amount"`
	Policy            *domain.CancellationPolicy `json:"policy,omitempty"`
	DaysBeforeBooking int                        `json:"daysBeforeBooking"`
}

// DaysBefore returns the whole days between cancelAt and start, rounded up.
// It is negative once the booking has started.
func DaysBefore(start, cancelAt time.Time) int {
	return int(math.Ceil(float64(start.Sub(cancelAt)) / float64(day)))
}

// Calculate returns the penalty owed for cancelling a booking of total at cancelAt.
// Policies are evaluated from the tightest window outwards; the first whose
// DaysQuantity covers the remaining days applies.
func Calculate(policies []domain.CancellationPolicy, total float64, start, cancelAt time.Time) (Penalty, error) {
	if total < 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return Penalty{}, fmt.Errorf("%w: total amount %v", ErrInvalidPolicy, total)
	}
	for i, p := range policies {
		if err := validate(p); err != nil {
			return Penalty{}, fmt.Errorf("policy %d: %w", i, err)
		}
	}

	days := DaysBefore(start, cancelAt)
	result := Penalty{DaysBeforeBooking: days}

	sorted := make([]domain.CancellationPolicy, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DaysQuantity < sorted[j].DaysQuantity
	})

	for i := range sorted {
		if days <= sorted[i].DaysQuantity {
			applicable := sorted[i]
			result.Policy = &applicable
			break
		}
	}
	if result.Policy == nil {
		return result, nil
	}

	totalDec := decimal.NewFromFloat(total)
	var amount decimal.Decimal
	switch result.Policy.Type {
	case domain.PenaltyFixed:
		amount = decimal.Min(decimal.NewFromFloat(result.Policy.Amount), totalDec)
	case domain.PenaltyPercentage:
		amount = totalDec.Mul(decimal.NewFromFloat(result.Policy.Amount)).Div(decimal.NewFromInt(100))
	}
	result.Amount = amount.Round(2).InexactFloat64()
	return result, nil
}

func validate(p domain.CancellationPolicy) error {
	if p.DaysQuantity < 0 {
		return fmt.Errorf("%w: negative daysQuantity %d", ErrInvalidPolicy, p.DaysQuantity)
	}
	if p.Amount < 0 || math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) {
		return fmt.Errorf("%w: amount %v", ErrInvalidPolicy, p.Amount)
	}
	switch p.Type {
	case domain.PenaltyFixed:
	case domain.PenaltyPercentage:
		if p.Amount > 100 {
			return fmt.Errorf("%w: percentage %v exceeds 100", ErrInvalidPolicy, p.Amount)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidPolicy, p.Type)
	}
	return nil
}
