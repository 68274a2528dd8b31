package providers

import "fmt"

// ErrorCode classifies a ProviderError. The retriable subset is exactly
// {RateLimit, Timeout, Unavailable, Upstream5xx} — all others are terminal.
type ErrorCode string

// ErrorCode constants for provider-level failures.
const (
	ErrRateLimit      ErrorCode = "RATE_LIMIT"
	ErrTimeout        ErrorCode = "TIMEOUT"
	ErrUnavailable    ErrorCode = "UNAVAILABLE"
	ErrUpstream5xx    ErrorCode = "UPSTREAM_5XX"
	ErrSafety         ErrorCode = "SAFETY"
	ErrContextOverflow ErrorCode = "CONTEXT_OVERFLOW"
	ErrAuth           ErrorCode = "AUTH"
	ErrUnknown        ErrorCode = "UNKNOWN"
)

// Retriable reports whether a ProviderError with this code should trigger
// the fallback controller.
func (c ErrorCode) Retriable() bool {
	switch c {
	case ErrRateLimit, ErrTimeout, ErrUnavailable, ErrUpstream5xx:
		return true
	default:
		return false
	}
}

// ValidationError signals a malformed request. Never retriable.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "validation error: " + e.Message }

// NewValidationError constructs a ValidationError.
func NewValidationError(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}

// ModelNotFoundError signals that the requested modelID has no registry mapping.
type ModelNotFoundError struct {
	ModelID string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model not found: %s", e.ModelID)
}

// ProviderNotFoundError signals that a named provider is not registered.
type ProviderNotFoundError struct {
	Provider string
}

func (e *ProviderNotFoundError) Error() string {
	return fmt.Sprintf("provider not found: %s", e.Provider)
}

// ForbiddenError signals the caller lacks access to an entity.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string { return "forbidden: " + e.Message }

// NotFoundErrorKind signals a requested resource is absent (distinct from
// ModelNotFoundError, which is routing-specific).
type NotFoundErrorKind struct {
	Resource string
}

func (e *NotFoundErrorKind) Error() string { return fmt.Sprintf("not found: %s", e.Resource) }

// RoutingError signals the router could not resolve a request to a
// provider+model. May be conditionally retriable depending on cause.
type RoutingError struct {
	Message    string
	IsRetriable bool
}

func (e *RoutingError) Error() string { return "routing error: " + e.Message }

// Retriable reports whether this routing failure should trigger fallback.
func (e *RoutingError) Retriable() bool { return e.IsRetriable }

// ProviderError carries a back-end failure with a taxonomy code.
type ProviderError struct {
	Code     ErrorCode
	Provider string
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider error [%s/%s]: %s: %v", e.Provider, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider error [%s/%s]: %s", e.Provider, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Retriable reports whether this error's code is in the retriable subset.
func (e *ProviderError) Retriable() bool { return e.Code.Retriable() }

// NewProviderError constructs a ProviderError.
func NewProviderError(provider string, code ErrorCode, message string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Code: code, Message: message, Cause: cause}
}

// FallbackExhaustedError signals that every fallback attempt failed.
type FallbackExhaustedError struct {
	OriginalModelID string
	Attempts        int
	LastErr         error
}

func (e *FallbackExhaustedError) Error() string {
	return fmt.Sprintf("fallback exhausted for %s after %d attempt(s): %v", e.OriginalModelID, e.Attempts, e.LastErr)
}

func (e *FallbackExhaustedError) Unwrap() error { return e.LastErr }

// BudgetExceededError signals that budget enforcement denied a request.
type BudgetExceededError struct {
	UserID    string
	ProjectID string
	Message   string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded for user=%s project=%s: %s", e.UserID, e.ProjectID, e.Message)
}

// ContentFilteredError signals a prompt or completion was blocked.
type ContentFilteredError struct {
	Reason     string
	Categories []string
}

func (e *ContentFilteredError) Error() string {
	return "content filtered: " + e.Reason
}

// retriable is implemented by error kinds that can self-report retriability
// beyond the ProviderError/ErrorCode pair (e.g. RoutingError).
type retriable interface {
	Retriable() bool
}

// IsRetriable inspects err and reports whether the fallback controller
// should treat it as retriable. Non-taxonomy errors are treated as not
// retriable (fail closed on the unknown case).
func IsRetriable(err error) bool {
	if r, ok := err.(retriable); ok {
		return r.Retriable()
	}
	return false
}
