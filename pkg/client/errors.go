package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dghubble/go-twitter/twitter"

	"github.com/Sternrassler/sonet/pkg/search"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// classifyResponse turns the outcome of a search call into nil or an error.
// Context errors are returned unchanged; everything else becomes a *search.ProviderError.
func classifyResponse(ctx context.Context, resp *http.Response, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		return ctxErr
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if err == nil && status >= 200 && status < 300 {
		return nil
	}

	perr := &search.ProviderError{StatusCode: status, Err: err}

	var apiErr twitter.APIError
	if errors.As(err, &apiErr) && len(apiErr.Errors) > 0 {
		perr.Code = apiErr.Errors[0].Code
		perr.Message = apiErr.Errors[0].Message
		// The API error document is the whole story; keep the chain free of it.
		perr.Err = nil
	}
	if perr.Message == "" && resp != nil {
		perr.Message = resp.Status
	}

	switch {
	case status == 0:
		perr.Class = search.ClassNetwork
	case status >= 200 && status < 300:
		// 2xx with an error means the body did not decode.
		perr.Class = search.ClassProtocol
		perr.Message = fmt.Sprintf("decode response: %v", err)
	default:
		perr.Class = search.Classify(status, perr.Code)
	}
	return perr
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(class search.ErrorClass) bool {
	switch class {
	case search.ClassServer:
		// 5xx server errors should be retried
		return true
	case search.ClassNetwork:
		// Network errors should be retried
		return true
	case search.ClassRateLimit:
		// Rate limits are handled by rotating credentials, not by waiting here
		return false
	default:
		return false
	}
}

// errorClass returns the class of a provider error, or "" for anything else.
func errorClass(err error) search.ErrorClass {
	var perr *search.ProviderError
	if errors.As(err, &perr) {
		return perr.Class
	}
	return ""
}
