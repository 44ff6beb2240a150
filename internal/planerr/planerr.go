// Package planerr provides the typed error kinds, recovery strategies, and
// aggregation used across the dose-calculation engine, optimizer, and plan
// controller.
package planerr

import (
	"fmt"
	"runtime"
	"time"
)

// Code identifies one of the seven error kinds of the plan controller's
// error model. These are kinds, not Go type names.
type Code string

const (
	// InvalidGeometry: CT/mask/dose grids disagree on shape or spacing.
	// Fatal; surfaced to the caller.
	InvalidGeometry Code = "INVALID_GEOMETRY"

	// MissingStructure: a referenced structure has no mask. Warn; skip
	// that objective or skip normalization.
	MissingStructure Code = "MISSING_STRUCTURE"

	// NumericFailure: NaN/Inf in dose or gradient. Fatal; the caller
	// should preserve the last good state.
	NumericFailure Code = "NUMERIC_FAILURE"

	// Unconverged: optimizer exceeded max_iterations without reaching
	// epsilon. Warn; return the best-so-far weight vector.
	Unconverged Code = "UNCONVERGED"

	// Cancelled: an external cancel was observed at a suspension point.
	// Returns partial results with a "partial" status.
	Cancelled Code = "CANCELLED"

	// ResourceExhausted: memory/allocation failed for a dose or depth
	// grid. Fatal.
	ResourceExhausted Code = "RESOURCE_EXHAUSTED"

	// ConfigError: unrecognized algorithm or out-of-range parameter.
	// Fatal at setup.
	ConfigError Code = "CONFIG_ERROR"
)

// Severity levels for errors.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL" // system cannot continue
	SeverityError    Severity = "ERROR"    // operation failed
	SeverityWarning  Severity = "WARNING"  // operation degraded, recoverable
	SeverityInfo     Severity = "INFO"     // informational
)

// fatalCodes are never recoverable regardless of the severity passed to New.
var fatalCodes = map[Code]bool{
	InvalidGeometry:   true,
	NumericFailure:    true,
	ResourceExhausted: true,
	ConfigError:       true,
}

// Error is a typed error carrying the kind, severity, a message, an
// optional wrapped cause, free-form metadata (component, beam index,
// objective index, ...), and whether local recovery applies.
type Error struct {
	Code        Code
	Severity    Severity
	Message     string
	Cause       error
	Timestamp   time.Time
	StackTrace  string
	Metadata    map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Code, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message)
}

// Unwrap implements error unwrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

func defaultRecoverable(code Code, severity Severity) bool {
	if fatalCodes[code] {
		return false
	}
	return severity == SeverityWarning || severity == SeverityInfo ||
		code == MissingStructure || code == Unconverged
}

// New creates a new Error with the default recoverability for its kind.
func New(code Code, severity Severity, message string) *Error {
	return &Error{
		Code:        code,
		Severity:    severity,
		Message:     message,
		Timestamp:   time.Now(),
		StackTrace:  captureStackTrace(),
		Metadata:    make(map[string]interface{}),
		Recoverable: defaultRecoverable(code, severity),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(code Code, severity Severity, message string, cause error) *Error {
	e := New(code, severity, message)
	e.Cause = cause
	return e
}

// WithMetadata attaches a key/value pair (e.g. "beam_index", "objective")
// to the error and returns it for chaining.
func (e *Error) WithMetadata(key string, value interface{}) *Error {
	e.Metadata[key] = value
	return e
}

// WithRecoverable overrides the default recoverability.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// RecoveryFunc attempts to recover from an error, returning nil on success.
type RecoveryFunc func(*Error) error

// Logger logs errors.
type Logger interface {
	Log(err *Error)
}

// ErrorHandler dispatches errors to a Logger and, for recoverable kinds, to
// a registered RecoveryFunc.
type ErrorHandler struct {
	handlers map[Code]RecoveryFunc
	logger   Logger
}

// NewErrorHandler creates an ErrorHandler that logs to logger.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{
		handlers: make(map[Code]RecoveryFunc),
		logger:   logger,
	}
}

// RegisterHandler registers a recovery handler for a given error code.
// Local recovery is expected for MissingStructure and Unconverged.
func (h *ErrorHandler) RegisterHandler(code Code, handler RecoveryFunc) {
	h.handlers[code] = handler
}

// Handle logs err and, if it is recoverable and a handler is registered,
// attempts recovery. Returns nil on successful recovery.
func (h *ErrorHandler) Handle(err error) error {
	perr, ok := err.(*Error)
	if !ok {
		perr = Wrap(ConfigError, SeverityError, "unrecognized error", err)
	}

	if h.logger != nil {
		h.logger.Log(perr)
	}

	if !perr.Recoverable {
		return perr
	}

	if handler, exists := h.handlers[perr.Code]; exists {
		if recoveryErr := handler(perr); recoveryErr == nil {
			return nil
		}
	}

	return perr
}

// SimpleLogger prints errors to stdout.
type SimpleLogger struct{}

// Log prints a timestamped error line plus cause/metadata if present.
func (l *SimpleLogger) Log(err *Error) {
	fmt.Printf("[%s] %s [%s]: %s\n",
		err.Timestamp.Format("2006-01-02 15:04:05"),
		err.Severity,
		err.Code,
		err.Message)

	if err.Cause != nil {
		fmt.Printf("  caused by: %v\n", err.Cause)
	}
	if len(err.Metadata) > 0 {
		fmt.Printf("  metadata: %v\n", err.Metadata)
	}
}

// RecoveryStrategy groups reusable recovery behaviors (retry with backoff,
// fallback value).
type RecoveryStrategy struct{}

// RetryWithBackoff retries operation up to maxRetries times with
// exponentially doubling delay, starting at initialDelay.
func (rs *RecoveryStrategy) RetryWithBackoff(
	operation func() error,
	maxRetries int,
	initialDelay time.Duration,
) error {
	delay := initialDelay

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := operation(); err == nil {
			return nil
		}
		time.Sleep(delay)
		delay *= 2
	}

	return New(Unconverged, SeverityError, "max retries exceeded")
}

// FallbackValue runs operation and returns fallback if it fails.
func (rs *RecoveryStrategy) FallbackValue(
	operation func() (interface{}, error),
	fallback interface{},
) interface{} {
	if value, err := operation(); err == nil {
		return value
	}
	return fallback
}

// CircuitBreaker trips open after maxFailures consecutive failures and
// fails fast until resetTimeout elapses.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	failures     int
	lastFailure  time.Time
	isOpen       bool
}

// NewCircuitBreaker creates a circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
	}
}

// Call executes operation through the breaker.
func (cb *CircuitBreaker) Call(operation func() error) error {
	if cb.isOpen && time.Since(cb.lastFailure) > cb.resetTimeout {
		cb.isOpen = false
		cb.failures = 0
	}

	if cb.isOpen {
		return New(ResourceExhausted, SeverityError, "circuit breaker is open")
	}

	if err := operation(); err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.maxFailures {
			cb.isOpen = true
		}
		return err
	}

	cb.failures = 0
	return nil
}

// ErrorAggregator collects multiple errors (e.g. several MissingStructure
// warnings) surfaced together by the plan controller.
type ErrorAggregator struct {
	errors []*Error
}

// NewErrorAggregator creates an empty aggregator.
func NewErrorAggregator() *ErrorAggregator {
	return &ErrorAggregator{errors: make([]*Error, 0)}
}

// Add appends err to the aggregator, wrapping non-*Error values.
func (ea *ErrorAggregator) Add(err error) {
	if err == nil {
		return
	}
	if perr, ok := err.(*Error); ok {
		ea.errors = append(ea.errors, perr)
	} else {
		ea.errors = append(ea.errors, Wrap(ConfigError, SeverityError, "unrecognized error", err))
	}
}

// HasErrors reports whether any error was added.
func (ea *ErrorAggregator) HasErrors() bool {
	return len(ea.errors) > 0
}

// GetErrors returns all collected errors in insertion order.
func (ea *ErrorAggregator) GetErrors() []*Error {
	return ea.errors
}

// Error returns a combined summary message.
func (ea *ErrorAggregator) Error() string {
	if len(ea.errors) == 0 {
		return "no errors"
	}
	if len(ea.errors) == 1 {
		return ea.errors[0].Error()
	}
	return fmt.Sprintf("multiple errors (%d): %s (and %d more)",
		len(ea.errors), ea.errors[0].Message, len(ea.errors)-1)
}

// HighestSeverity returns the highest severity among all collected errors.
func (ea *ErrorAggregator) HighestSeverity() Severity {
	if len(ea.errors) == 0 {
		return SeverityInfo
	}

	highest := SeverityInfo
	for _, err := range ea.errors {
		if err.Severity == SeverityCritical {
			return SeverityCritical
		}
		if err.Severity == SeverityError && highest != SeverityCritical {
			highest = SeverityError
		}
		if err.Severity == SeverityWarning && highest == SeverityInfo {
			highest = SeverityWarning
		}
	}
	return highest
}
