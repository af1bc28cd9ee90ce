package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// HTTPError represents a non-2xx response from Salesforce
type HTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
	// ErrorCode and Message are parsed from the Salesforce error body, if present
	ErrorCode string
	Message   string
}

// sfError is one entry of a Salesforce error response
type sfError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

func newHTTPError(status int, body []byte, retryAfter time.Duration) *HTTPError {
	e := &HTTPError{
		StatusCode: status,
		Body:       string(body),
		RetryAfter: retryAfter,
	}

	// REST and Bulk 2.0 return a list of errors; some endpoints return one object
	var list []sfError
	if err := json.Unmarshal(body, &list); err == nil && len(list) > 0 {
		e.ErrorCode, e.Message = list[0].ErrorCode, list[0].Message
	} else {
		var single sfError
		if err := json.Unmarshal(body, &single); err == nil {
			e.ErrorCode, e.Message = single.ErrorCode, single.Message
		}
	}
	return e
}

func (e *HTTPError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether repeating the request may succeed
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// GetHTTPError extracts HTTPError from error if possible
func GetHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// IsRetryable checks if error is retryable.
// Network errors are retryable; HTTP errors are retryable on 429 and 5xx.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if httpErr, ok := GetHTTPError(err); ok {
		return httpErr.Retryable()
	}
	var le *LookupError
	if errors.As(err, &le) {
		return false
	}
	return true
}

// LookupError reports that lookup traits did not resolve to exactly one record
type LookupError struct {
	Code       string
	ObjectType string
	Matches    int
}

const (
	LookupNotFound        = "NOT_FOUND"
	LookupMultipleMatches = "MULTIPLE_MATCHES"
)

func (e *LookupError) Error() string {
	if e.Code == LookupNotFound {
		return fmt.Sprintf("no %s record matches the lookup fields", e.ObjectType)
	}
	return fmt.Sprintf("%d %s records match the lookup fields", e.Matches, e.ObjectType)
}
