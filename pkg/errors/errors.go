// Package errors provides the error handling and warning system for the
// metcalfe library. Validation failures, unsupported specifications, and
// estimation failures are distinct typed errors; non-fatal conditions such as
// a degraded parameter extraction are surfaced as warnings instead.
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	Global warning handling
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		// Default handler logs to standard error output.
		log.Printf("metcalfe-warning: %v\n", w)
	}
	// zerolog warn function (lazily initialized to avoid an import cycle)
	zerologWarnFunc func(warning error)
)

// SetWarningHandler sets the warning handler for the whole library.
// It controls how non-fatal conditions such as ConvergenceWarning or
// DegradedExtractionWarning are reported.
//
// Example:
//
//	errors.SetWarningHandler(func(w error) {
//	    // ignore warnings
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc installs a zerolog-backed warning function.
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn emits a warning. If a zerolog function has been installed it takes
// precedence over the plain handler.
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}

	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	Warning types
//
// ===========================================================================

// ConvergenceWarning is emitted when an estimation attempt does not converge
// and the engine falls back to the next initialization strategy.
type ConvergenceWarning struct {
	Algorithm  string
	Iterations int
	Message    string
}

func (w *ConvergenceWarning) Error() string {
	if w.Message != "" {
		return fmt.Sprintf("%s failed to converge after %d iterations: %s", w.Algorithm, w.Iterations, w.Message)
	}
	return fmt.Sprintf("%s failed to converge after %d iterations. Consider increasing MaxIter or adjusting starting values.", w.Algorithm, w.Iterations)
}

// MarshalZerologObject adds the structured warning fields to a zerolog event.
func (w *ConvergenceWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("algorithm", w.Algorithm).
		Int("iterations", w.Iterations).
		Str("message", w.Message).
		Str("type", "ConvergenceWarning")
}

// NewConvergenceWarning creates a new ConvergenceWarning.
func NewConvergenceWarning(algorithm string, iterations int, message string) *ConvergenceWarning {
	return &ConvergenceWarning{Algorithm: algorithm, Iterations: iterations, Message: message}
}

// DegradedExtractionWarning is emitted when the parameter extractor cannot
// reconstruct the fitted parameters from the optimizer's vector and degrades
// to a default result (equal betas, high-persistence transitions). The
// corresponding FitResult carries Degraded=true so the condition stays
// distinguishable from a genuine convergence.
type DegradedExtractionWarning struct {
	Reason  string
	NParams int
}

func (w *DegradedExtractionWarning) Error() string {
	return fmt.Sprintf("parameter extraction degraded to default result: %s (vector has %d parameters)", w.Reason, w.NParams)
}

// MarshalZerologObject adds the structured warning fields to a zerolog event.
func (w *DegradedExtractionWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("reason", w.Reason).
		Int("n_params", w.NParams).
		Str("type", "DegradedExtractionWarning")
}

// NewDegradedExtractionWarning creates a new DegradedExtractionWarning.
func NewDegradedExtractionWarning(reason string, nParams int) *DegradedExtractionWarning {
	return &DegradedExtractionWarning{Reason: reason, NParams: nParams}
}

// ===========================================================================
//
//	Structured error types
//
// ===========================================================================

// NotFittedError is returned when results or predictions are requested from a
// model that has not been fitted successfully.
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("metcalfe: %s: this model is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError creates a new NotFittedError with a stack trace attached.
func NewNotFittedError(modelName, method string) error {
	err := &NotFittedError{ModelName: modelName, Method: method}
	return errors.WithStack(err)
}

// DomainError is returned when input series violate the model domain:
// non-positive values, mismatched lengths, or empty data.
type DomainError struct {
	Op     string
	Reason string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("metcalfe: %s: %s", e.Op, e.Reason)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *DomainError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("reason", e.Reason).
		Str("type", "DomainError")
}

// NewDomainError creates a new DomainError with a stack trace attached.
func NewDomainError(op, reason string) error {
	err := &DomainError{Op: op, Reason: reason}
	return errors.WithStack(err)
}

// InvalidRegimeError is returned for an unsupported regime count or for a
// regime key that is not present among the fitted betas.
type InvalidRegimeError struct {
	Op     string
	Regime int
	Valid  []int
}

func (e *InvalidRegimeError) Error() string {
	return fmt.Sprintf("metcalfe: %s: regime %d is not valid, must be one of %v", e.Op, e.Regime, e.Valid)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *InvalidRegimeError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("regime", e.Regime).
		Ints("valid", e.Valid).
		Str("type", "InvalidRegimeError")
}

// NewInvalidRegimeError creates a new InvalidRegimeError with a stack trace attached.
func NewInvalidRegimeError(op string, regime int, valid []int) error {
	err := &InvalidRegimeError{Op: op, Regime: regime, Valid: valid}
	return errors.WithStack(err)
}

// FittingError is returned only after the full initialization cascade of the
// estimation engine is exhausted. Attempts holds the per-strategy failures.
type FittingError struct {
	Op       string
	Attempts []error
}

func (e *FittingError) Error() string {
	return fmt.Sprintf("metcalfe: %s: estimation failed after %d initialization strategies (last: %v)",
		e.Op, len(e.Attempts), e.lastAttempt())
}

func (e *FittingError) lastAttempt() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1]
}

func (e *FittingError) Unwrap() error {
	return e.lastAttempt()
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *FittingError) MarshalZerologObject(event *zerolog.Event) {
	attempts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		attempts[i] = a.Error()
	}
	event.Str("operation", e.Op).
		Strs("attempts", attempts).
		Str("type", "FittingError")
}

// NewFittingError creates a new FittingError with a stack trace attached.
func NewFittingError(op string, attempts []error) error {
	err := &FittingError{Op: op, Attempts: attempts}
	return errors.WithStack(err)
}

// ValueError is returned when an argument value is inappropriate for the
// requested operation.
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("metcalfe: %s: %s", e.Op, e.Message)
}

// NewValueError creates a new ValueError with a stack trace attached.
func NewValueError(op, message string) error {
	err := &ValueError{Op: op, Message: message}
	return errors.WithStack(err)
}

// DimensionError is returned when input dimensions do not match expectations.
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns
}

func (e *DimensionError) Error() string {
	axisName := "columns"
	if e.Axis == 0 {
		axisName = "rows"
	}
	return fmt.Sprintf("metcalfe: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
}

// MarshalZerologObject adds the structured error fields to a zerolog event.
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("type", "DimensionError")
}

// NewDimensionError creates a new DimensionError with a stack trace attached.
func NewDimensionError(op string, expected, got, axis int) error {
	err := &DimensionError{Op: op, Expected: expected, Got: got, Axis: axis}
	return errors.WithStack(err)
}

// NumericalInstabilityError reports NaN or Inf values produced during
// estimation. It aborts the current cascade attempt, not the whole fit.
type NumericalInstabilityError struct {
	Operation string
	Values    []float64
	Iteration int
}

func (e *NumericalInstabilityError) Error() string {
	valStr := ""
	for i, v := range e.Values {
		if i > 0 {
			valStr += ", "
		}
		if i >= 5 {
			valStr += "..."
			break
		}
		valStr += fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("metcalfe: numerical instability detected in %s at iteration %d. Values: [%s]",
		e.Operation, e.Iteration, valStr)
}

// NewNumericalInstabilityError creates a new NumericalInstabilityError.
func NewNumericalInstabilityError(operation string, values []float64, iteration int) error {
	err := &NumericalInstabilityError{
		Operation: operation,
		Values:    values,
		Iteration: iteration,
	}
	return errors.WithStack(err)
}

// ===========================================================================
//
//	cockroachdb/errors wrappers
//
// ===========================================================================

// Is reports whether err matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with a message.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New creates a new error.
func New(message string) error {
	return errors.New(message)
}

// Newf creates a new formatted error.
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack attaches a stack trace to an error.
func WithStack(err error) error {
	return errors.WithStack(err)
}

// ===========================================================================
//
//	Common error variables
//
// ===========================================================================

var (
	// ErrEmptyData is returned when an empty series is supplied.
	ErrEmptyData = New("empty data")

	// ErrSingularMatrix is returned when a weighted design matrix cannot be inverted.
	ErrSingularMatrix = New("singular matrix")
)
