package service

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/pkg/payment"
)

// ErrInvalidTransition is returned for a status change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid subscription transition")

// transitions lists the allowed targets per status. Terminal statuses have none.
// active -> active is a renewal.
var transitions = map[domain.SubscriptionStatus][]domain.SubscriptionStatus{
	domain.StatusPendingPayment: {domain.StatusAuthorized, domain.StatusActive, domain.StatusCancelled, domain.StatusExpired},
	domain.StatusAuthorized:     {domain.StatusActive, domain.StatusPaused, domain.StatusCancelled, domain.StatusExpired},
	domain.StatusActive:         {domain.StatusActive, domain.StatusPaused, domain.StatusCancelled, domain.StatusExpired},
	domain.StatusPaused:         {domain.StatusActive, domain.StatusCancelled, domain.StatusExpired},
}

// CanTransition reports whether a subscription may move from one status to another.
func CanTransition(from, to domain.SubscriptionStatus) bool {
	return slices.Contains(transitions[from], to)
}

// validTransitionsFrom returns the statuses reachable from from.
func validTransitionsFrom(from domain.SubscriptionStatus) []domain.SubscriptionStatus {
	return slices.Clone(transitions[from])
}

// transition moves sub to status to, or fails without touching it. The error
// names the statuses that were reachable.
func transition(sub *domain.UserSubscription, to domain.SubscriptionStatus) error {
	if !CanTransition(sub.Status, to) {
		allowed := "none"
		if targets := validTransitionsFrom(sub.Status); len(targets) > 0 {
			names := make([]string, len(targets))
			for i, t := range targets {
				names[i] = string(t)
			}
			allowed = strings.Join(names, ", ")
		}
		return fmt.Errorf("%w: %s -> %s (allowed: %s)", ErrInvalidTransition, sub.Status, to, allowed)
	}
	sub.Status = to
	return nil
}

// mapProviderStatus translates a provider preapproval status.
func mapProviderStatus(status string) (domain.SubscriptionStatus, bool) {
	switch status {
	case payment.StatusPending:
		return domain.StatusPendingPayment, true
	case payment.StatusAuthorized:
		return domain.StatusActive, true
	case payment.StatusPaused:
		return domain.StatusPaused, true
	case payment.StatusCancelled:
		return domain.StatusCancelled, true
	case payment.StatusFinished, payment.StatusExpired:
		return domain.StatusExpired, true
	}
	return "", false
}
