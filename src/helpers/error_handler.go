package helpers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tickfeed/src/logger"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type TickfeedError struct {
	Message string
	Cause   error
}

func (e *TickfeedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *TickfeedError) Unwrap() error {
	return e.Cause
}

type ConfigurationError struct{ TickfeedError }
type NetworkError struct{ TickfeedError }

// TransientFetchError marks a page request that may succeed when retried.
type TransientFetchError struct{ TickfeedError }

// MergeKeyConflict is raised when duplicate keys cannot be resolved with the
// configured keep policy.
type MergeKeyConflict struct{ TickfeedError }

// PersistenceUnavailable wraps storage failures on load or save.
type PersistenceUnavailable struct{ TickfeedError }

// HTTPStatusError carries a non-200 upstream answer.
type HTTPStatusError struct {
	TickfeedError
	StatusCode int
}

// MalformedPageError is returned when a page body cannot be decoded.
type MalformedPageError struct{ TickfeedError }

// FatalIngestionError aborts a walk. It names where ingestion stopped.
type FatalIngestionError struct {
	TickfeedError
	Dataset string
	Group   string
	Cursor  time.Time
}

func (e *FatalIngestionError) Error() string {
	return fmt.Sprintf("ingestion of %s [%s] stopped at %s: %s",
		e.Dataset, e.Group, e.Cursor.UTC().Format(time.RFC3339Nano), e.TickfeedError.Error())
}

var (
	ErrNotFound      = errors.New("not found")
	ErrCursorStalled = errors.New("cursor did not advance")
)

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

func NewTransientFetchError(msg string, cause error) error {
	return &TransientFetchError{TickfeedError{Message: msg, Cause: cause}}
}

func NewNetworkError(msg string, cause error) error {
	return &NetworkError{TickfeedError{Message: msg, Cause: cause}}
}

func NewHTTPStatusError(url string, code int) error {
	return &HTTPStatusError{
		TickfeedError: TickfeedError{Message: fmt.Sprintf("GET %s: bad status %d", url, code)},
		StatusCode:    code,
	}
}

func NewMalformedPageError(msg string, cause error) error {
	return &MalformedPageError{TickfeedError{Message: msg, Cause: cause}}
}

func NewPersistenceUnavailable(msg string, cause error) error {
	return &PersistenceUnavailable{TickfeedError{Message: msg, Cause: cause}}
}

func NewMergeKeyConflict(msg string) error {
	return &MergeKeyConflict{TickfeedError{Message: msg}}
}

func NewFatalIngestionError(dataset, group string, cursor time.Time, cause error) error {
	return &FatalIngestionError{
		TickfeedError: TickfeedError{Message: "fatal ingestion error", Cause: cause},
		Dataset:       dataset,
		Group:         group,
		Cursor:        cursor,
	}
}

func NewConfigurationError(msg string, cause error) error {
	return &ConfigurationError{TickfeedError{Message: msg, Cause: cause}}
}

// -----------------------------------------------------------------------------

// IsTransient reports whether err is worth retrying on the same cursor.
// HTTP 4xx answers other than 429 and 403 are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var status *HTTPStatusError
	if errors.As(err, &status) {
		return status.StatusCode == 429 || status.StatusCode == 403 || status.StatusCode >= 500
	}
	var tf *TransientFetchError
	var ne *NetworkError
	var mp *MalformedPageError
	return errors.As(err, &tf) || errors.As(err, &ne) || errors.As(err, &mp) ||
		errors.Is(err, context.DeadlineExceeded)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// -----------------------------------------------------------------------------

// RetryWithBackoff runs fn up to attempts times while it fails with a
// transient error. The wait doubles after every failed attempt when backoff is
// set, otherwise it stays at delay. It returns the number of retries used.
func RetryWithBackoff[T any](ctx context.Context, operation string, attempts int, delay time.Duration, backoff bool, log *logger.Logger, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T
	var lastErr error
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, attempt, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == attempts-1 {
			return zero, attempt, err
		}

		wait := delay
		if backoff {
			wait = delay * time.Duration(1<<attempt)
		}
		if log != nil {
			log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt+1, attempts, operation, err, wait)
		}
		if serr := Sleep(ctx, wait); serr != nil {
			return zero, attempt, serr
		}
	}

	return zero, attempts - 1, lastErr
}

// -----------------------------------------------------------------------------
// Error Handler
// -----------------------------------------------------------------------------

// ErrorHandler counts failures per component across cycles.
type ErrorHandler struct {
	Logger                 *logger.Logger
	ErrorCount             int
	MaxErrorsBeforeRestart int
}

func NewErrorHandler(log *logger.Logger) *ErrorHandler {
	if log == nil {
		log = logger.NewLogger(nil, "ErrorHandler")
	}
	return &ErrorHandler{
		Logger:                 log,
		MaxErrorsBeforeRestart: 10,
	}
}

// -----------------------------------------------------------------------------

func (e *ErrorHandler) ResetErrorCount() {
	e.ErrorCount = 0
}

// -----------------------------------------------------------------------------

// Handle logs err and reports whether the error budget is exhausted.
func (e *ErrorHandler) Handle(err error, where string) bool {
	if err == nil {
		if e.ErrorCount > 0 {
			e.ErrorCount--
		}
		return false
	}
	e.ErrorCount++
	e.Logger.Error("Error in %s: %v", where, err)
	return e.ErrorCount >= e.MaxErrorsBeforeRestart
}
