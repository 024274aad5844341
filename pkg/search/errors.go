package search

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRateLimited matches any ProviderError of class ClassRateLimit via errors.Is.
var ErrRateLimited = errors.New("rate limited")

// RateLimitCode is the provider's "Rate limit exceeded" error code.
const RateLimitCode = 88

// ErrorClass categorizes provider errors
type ErrorClass string

const (
	ClassClient    ErrorClass = "client"     // 4xx, not retryable
	ClassServer    ErrorClass = "server"     // 5xx
	ClassRateLimit ErrorClass = "rate_limit" // 429 or code 88
	ClassNetwork   ErrorClass = "network"    // transport failure, no response
	ClassProtocol  ErrorClass = "protocol"   // undecodable response
)

// ProviderError is a failed provider call.
type ProviderError struct {
	StatusCode int
	Code       int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.StatusCode != 0 && e.Code != 0:
		return fmt.Sprintf("search %s error (status %d, code %d): %s", e.Class, e.StatusCode, e.Code, msg)
	case e.StatusCode != 0:
		return fmt.Sprintf("search %s error (status %d): %s", e.Class, e.StatusCode, msg)
	default:
		return fmt.Sprintf("search %s error: %s", e.Class, msg)
	}
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is reports rate-limit errors as ErrRateLimited.
func (e *ProviderError) Is(target error) bool {
	return target == ErrRateLimited && e.Class == ClassRateLimit
}

// Classify maps an HTTP status and provider error code to an ErrorClass.
func Classify(status, code int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests || code == RateLimitCode:
		return ClassRateLimit
	case status >= 500:
		return ClassServer
	case status >= 400:
		return ClassClient
	case status == 0:
		return ClassNetwork
	default:
		return ClassProtocol
	}
}

// IsRateLimited reports whether err signals an exhausted rate-limit window.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
