package payment

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoRefreshToken is returned by RefreshToken when there is nothing to refresh with.
	ErrNoRefreshToken = errors.New("payment: no refresh token")
	// ErrNotConfigured is returned when a call needs credentials that were not provided.
	ErrNotConfigured = errors.New("payment: provider credentials not configured")
	// ErrInvalidState is returned for an OAuth state that cannot be parsed.
	ErrInvalidState = errors.New("payment: invalid oauth state")
	// ErrUnsupportedCycle is returned for a billing cycle with no provider frequency.
	ErrUnsupportedCycle = errors.New("payment: unsupported billing cycle")
)

// ErrorKind separates failures worth retrying from definitive refusals.
type ErrorKind int

const (
	// KindUnavailable covers network errors, timeouts, 429 and 5xx responses.
	KindUnavailable ErrorKind = iota + 1
	// KindRejected covers every other 4xx response.
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindRejected:
		return "rejected"
	}
	return "unknown"
}

// ProviderError is returned by every Gateway call that reached or tried to reach the provider.
type ProviderError struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("payment provider %s %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err is a provider failure worth retrying.
func IsUnavailable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindUnavailable
}

// IsRejected reports whether err is a definitive provider refusal.
func IsRejected(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindRejected
}

func unavailable(op string, err error) *ProviderError {
	return &ProviderError{Op: op, Kind: KindUnavailable, Err: err}
}

// statusError classifies a non-2xx response.
func statusError(op string, status int, body string) *ProviderError {
	kind := KindRejected
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		kind = KindUnavailable
	}
	return &ProviderError{Op: op, Kind: kind, StatusCode: status, Body: body}
}
