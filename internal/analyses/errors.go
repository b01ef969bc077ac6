package analyses

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidScope = errors.New("invalid scope")

	// Admission rejections.
	ErrBreakerOpen       = errors.New("circuit breaker open")
	ErrCooldownActive    = errors.New("cooldown active")
	ErrAlreadyQueued     = errors.New("already queued")
	ErrGlobalRateLimited = errors.New("global rate limit exceeded")

	// Execution failures.
	ErrProviderRateLimited = errors.New("provider rate limited")
	ErrTimeout             = errors.New("analysis timed out")
	ErrProvider            = errors.New("provider error")
)

const (
	ErrorCodeValidation          = "VALIDATION_ERROR"
	ErrorCodeNotFound            = "NOT_FOUND"
	ErrorCodeBreakerOpen         = "BREAKER_OPEN"
	ErrorCodeCooldownActive      = "COOLDOWN_ACTIVE"
	ErrorCodeAlreadyQueued       = "ALREADY_QUEUED"
	ErrorCodeGlobalRateLimited   = "GLOBAL_RATE_LIMITED"
	ErrorCodeProviderRateLimited = "PROVIDER_RATE_LIMITED"
	ErrorCodeTimeout             = "TIMEOUT"
	ErrorCodeProvider            = "PROVIDER_ERROR"
	ErrorCodeInterrupted         = "INTERRUPTED"
	ErrorCodeInternal            = "INTERNAL_ERROR"
)

// RejectionError is returned synchronously when a request is not admitted.
type RejectionError struct {
	Kind       error
	Message    string
	RetryAfter time.Duration
}

func (e *RejectionError) Error() string { return e.Message }

func (e *RejectionError) Unwrap() error { return e.Kind }

// JobError is delivered through a job's future when execution fails.
type JobError struct {
	Kind  error
	JobID string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("analysis job %s failed: %v", e.JobID, e.Err)
}

func (e *JobError) Unwrap() []error { return []error{e.Kind, e.Err} }

// ErrorCode maps an orchestrator error onto its stable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidScope):
		return ErrorCodeValidation
	case errors.Is(err, ErrNotFound):
		return ErrorCodeNotFound
	case errors.Is(err, ErrBreakerOpen):
		return ErrorCodeBreakerOpen
	case errors.Is(err, ErrCooldownActive):
		return ErrorCodeCooldownActive
	case errors.Is(err, ErrAlreadyQueued):
		return ErrorCodeAlreadyQueued
	case errors.Is(err, ErrGlobalRateLimited):
		return ErrorCodeGlobalRateLimited
	case errors.Is(err, ErrProviderRateLimited):
		return ErrorCodeProviderRateLimited
	case errors.Is(err, ErrTimeout):
		return ErrorCodeTimeout
	case errors.Is(err, ErrProvider):
		return ErrorCodeProvider
	default:
		return ErrorCodeInternal
	}
}

func breakerOpenError(remaining time.Duration) *RejectionError {
	minutes := ceilUnits(remaining, time.Minute)
	return &RejectionError{
		Kind:       ErrBreakerOpen,
		Message:    fmt.Sprintf("System busy, try again in %d %s", minutes, plural(minutes, "minute")),
		RetryAfter: remaining,
	}
}

func cooldownError(remaining time.Duration) *RejectionError {
	seconds := ceilUnits(remaining, time.Second)
	return &RejectionError{
		Kind:       ErrCooldownActive,
		Message:    fmt.Sprintf("Please wait %d %s before requesting this analysis again", seconds, plural(seconds, "second")),
		RetryAfter: remaining,
	}
}

func alreadyQueuedError() *RejectionError {
	return &RejectionError{
		Kind:    ErrAlreadyQueued,
		Message: "An analysis for this scope is already queued",
	}
}

func globalLimitError(limit int, window, retryAfter time.Duration) *RejectionError {
	seconds := ceilUnits(retryAfter, time.Second)
	return &RejectionError{
		Kind:       ErrGlobalRateLimited,
		Message:    fmt.Sprintf("Global limit of %d analyses per %s exceeded, try again in %d %s", limit, describeWindow(window), seconds, plural(seconds, "second")),
		RetryAfter: retryAfter,
	}
}

func ceilUnits(d, unit time.Duration) int {
	if d <= 0 {
		return 1
	}
	n := int(math.Ceil(float64(d) / float64(unit)))
	if n < 1 {
		return 1
	}
	return n
}

func describeWindow(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		n := int(d / time.Minute)
		if n == 1 {
			return "minute"
		}
		return fmt.Sprintf("%d minutes", n)
	}
	return d.String()
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
