package cachebay

import "fmt"

// SanitizedError is an error that knows how to render a message safe to
// hand back across the façade boundary, the same shape as the teacher's
// graphql.SanitizedError (graphql/errors.go).
type SanitizedError interface {
	error
	SanitizedError() string
}

// SafeError is an error whose message is always safe to surface,
// mirroring graphql.SafeError.
type SafeError struct{ message string }

func (e SafeError) Error() string          { return e.message }
func (e SafeError) SanitizedError() string { return e.message }

// NewSafeError constructs a SafeError, matching graphql.NewSafeError's
// signature.
func NewSafeError(format string, a ...interface{}) error {
	return SafeError{message: fmt.Sprintf(format, a...)}
}

// PlanError reports a malformed or ambiguous document at plan time
// (spec §7); it always wraps an *internal/planner.PlanError.
type PlanError struct{ cause error }

func (e *PlanError) Error() string          { return "cachebay: " + e.cause.Error() }
func (e *PlanError) Unwrap() error          { return e.cause }
func (e *PlanError) SanitizedError() string { return e.Error() }

// SchemaError reports a write payload structurally inconsistent with
// the plan (spec §7); it always wraps an *internal/canonical.SchemaError.
type SchemaError struct{ cause error }

func (e *SchemaError) Error() string          { return "cachebay: " + e.cause.Error() }
func (e *SchemaError) Unwrap() error          { return e.cause }
func (e *SchemaError) SanitizedError() string { return e.Error() }

// ConfigurationError reports a synchronous misconfiguration, such as
// calling executeSubscription with no Ws transport configured (spec §7).
type ConfigurationError struct{ message string }

func (e *ConfigurationError) Error() string          { return "cachebay: " + e.message }
func (e *ConfigurationError) SanitizedError() string { return e.Error() }

func newConfigurationError(format string, a ...interface{}) error {
	return &ConfigurationError{message: fmt.Sprintf(format, a...)}
}

// TransportError wraps a network-layer failure returned by a Transport
// collaborator. It is never thrown (spec §7 "Network errors from
// transports are propagated as result values, not raised"); it only
// ever appears inside a Result's Error field.
type TransportError struct{ cause error }

func (e *TransportError) Error() string          { return "cachebay: transport: " + e.cause.Error() }
func (e *TransportError) Unwrap() error          { return e.cause }
func (e *TransportError) SanitizedError() string { return e.Error() }

func newTransportError(cause error) error {
	if cause == nil {
		return nil
	}
	return &TransportError{cause: cause}
}
