package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	// Browser and session lifecycle.
	ErrCodeLaunch             = "LAUNCH_FAILED"
	ErrCodeNavigationTimeout  = "NAVIGATION_TIMEOUT"
	ErrCodeContentWaitTimeout = "CONTENT_WAIT_TIMEOUT"
	ErrCodeNavigation         = "NAVIGATION_FAILED"
	ErrCodeLoginRequired      = "LOGIN_REQUIRED"
	ErrCodePlatformLimited    = "RATE_LIMITED_BY_PLATFORM"

	// Parsing and per-query outcomes.
	ErrCodeParse          = "PARSE_ERROR"
	ErrCodeEmptyResults   = "EMPTY_RESULTS"
	ErrCodeQueryExhausted = "QUERY_EXHAUSTED"

	// Task lifecycle.
	ErrCodeAlreadyRunning = "ALREADY_RUNNING"
	ErrCodeStuckRun       = "STUCK_RUN"
	ErrCodeStore          = "STORE_FAILED"
	ErrCodeDisabled       = "ACQUISITION_DISABLED"

	// API surface.
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf returns the code of the outermost ScrapeError in err's chain,
// or ErrCodeInternal when there is none.
func CodeOf(err error) string {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether any ScrapeError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var se *ScrapeError
		if !errors.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Err
	}
	return false
}

// DetailOf converts any error to an ErrorDetail.
func DetailOf(err error) *ErrorDetail {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.ToDetail()
	}
	return &ErrorDetail{Code: ErrCodeInternal, Message: err.Error()}
}
