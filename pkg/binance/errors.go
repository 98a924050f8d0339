package binance

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNoResult means the outcome is unknown after retries. Callers must retry later,
	// never read it as zero.
	ErrNoResult = errors.New("binance: no result")
	// ErrUnauthorized is returned on HTTP 401. The client disables its credentials.
	ErrUnauthorized = errors.New("binance: unauthorized")
	// ErrRestricted is returned on HTTP 451. The client disables its credentials.
	ErrRestricted = errors.New("binance: service unavailable from a restricted location")
	// ErrCredentialsDisabled is returned for signed calls after an auth failure.
	ErrCredentialsDisabled = errors.New("binance: credentials disabled")
)

// APIError is a request the exchange rejected (4xx other than 401/429/451)
type APIError struct {
	Status int    `json:"-"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: status=%d code=%d msg=%s", e.Status, e.Code, e.Msg)
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Msg == "" {
		apiErr.Msg = string(body)
	}
	return apiErr
}

// IsRejected reports whether err is an exchange rejection
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// IsAuthError reports whether err means the credential set cannot be used
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrRestricted) ||
		errors.Is(err, ErrCredentialsDisabled)
}
