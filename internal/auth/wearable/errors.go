package wearable

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthorizationError is the error type returned by the callback path.
type AuthorizationError struct {
	// Type is the stable reason code reported to the browser.
	Type string `json:"type"`
	// Message is a human-readable message describing the error.
	Message string `json:"message"`
	// HTTPStatus carries the token endpoint status, when one was received.
	HTTPStatus int `json:"http_status,omitempty"`
	// Cause is the underlying error.
	Cause error `json:"-"`
}

func (e *AuthorizationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AuthorizationError) Unwrap() error { return e.Cause }

// Is matches any AuthorizationError with the same Type, so errors.Is(err, ErrDuplicateCode)
// holds for errors built with NewAuthorizationError.
func (e *AuthorizationError) Is(target error) bool {
	t, ok := target.(*AuthorizationError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

var (
	// ErrInvalidState is returned for an unknown, expired or already consumed state.
	ErrInvalidState = &AuthorizationError{
		Type:    "invalid_state",
		Message: "authorization state is unknown or expired",
	}

	// ErrMissingCode is returned when the callback carries a valid state but no code.
	ErrMissingCode = &AuthorizationError{
		Type:    "missing_code",
		Message: "authorization code is missing",
	}

	// ErrDuplicateCode is returned when the code has already been claimed.
	ErrDuplicateCode = &AuthorizationError{
		Type:    "duplicate_code",
		Message: "authorization code was already used",
	}

	// ErrTokenExchange is returned when the token endpoint rejected the exchange.
	ErrTokenExchange = &AuthorizationError{
		Type:    "token_exchange_failed",
		Message: "failed to exchange authorization code for tokens",
	}

	// ErrRateLimited is returned when the token endpoint answered 429.
	ErrRateLimited = &AuthorizationError{
		Type:       "rate_limited",
		Message:    "token endpoint rate limited the exchange",
		HTTPStatus: http.StatusTooManyRequests,
	}

	// ErrLedgerUnavailable is returned when the used-code ledger cannot be consulted.
	// The code is treated as unclaimable.
	ErrLedgerUnavailable = &AuthorizationError{
		Type:    "ledger_unavailable",
		Message: "used-code ledger is unavailable",
	}

	// ErrProviderDenied is reported when the provider redirected back with an error.
	ErrProviderDenied = &AuthorizationError{
		Type:    "provider_denied",
		Message: "provider returned an authorization error",
	}
)

// NewAuthorizationError creates an error of baseErr's type with a status and cause.
func NewAuthorizationError(baseErr *AuthorizationError, httpStatus int, cause error) *AuthorizationError {
	if httpStatus == 0 {
		httpStatus = baseErr.HTTPStatus
	}
	return &AuthorizationError{
		Type:       baseErr.Type,
		Message:    baseErr.Message,
		HTTPStatus: httpStatus,
		Cause:      cause,
	}
}

// TokenEndpointError describes a non-2xx response from the token endpoint.
type TokenEndpointError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *TokenEndpointError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("token endpoint returned %d", e.StatusCode)
}

// classifyExchangeError maps an exchanger failure onto the callback taxonomy.
func classifyExchangeError(err error) *AuthorizationError {
	var endpointErr *TokenEndpointError
	if errors.As(err, &endpointErr) {
		if endpointErr.StatusCode == http.StatusTooManyRequests {
			return NewAuthorizationError(ErrRateLimited, http.StatusTooManyRequests, err)
		}
		return NewAuthorizationError(ErrTokenExchange, endpointErr.StatusCode, err)
	}
	return NewAuthorizationError(ErrTokenExchange, 0, err)
}
