package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers and for transport mapping.
type Kind string

const (
	Unauthenticated            Kind = "unauthenticated"
	Forbidden                  Kind = "forbidden"
	NotFound                   Kind = "not_found"
	ValidationError            Kind = "validation_error"
	InvalidStateTransition     Kind = "invalid_state_transition"
	NoClusterAvailable         Kind = "no_cluster_available"
	ProviderError              Kind = "provider_error"
	ProvisioningFailed         Kind = "provisioning_failed"
	PaymentVerificationFailed  Kind = "payment_verification_failed"
	PaymentCurrencyUnsupported Kind = "payment_currency_unsupported"
	Unknown                    Kind = "unknown_error"
)

// Error is the single error shape crossing service boundaries. Cause is kept
// for logs only and is never rendered to external callers.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Status: defaultStatus(kind), Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause to a new Error. The cause's text does not leak into
// Message; it travels only for logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Status: defaultStatus(kind), Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, or Unknown when err is not a fault.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusOf maps err to an HTTP-like status code.
func StatusOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Status != 0 {
			return fe.Status
		}
		return defaultStatus(fe.Kind)
	}
	return http.StatusInternalServerError
}

func defaultStatus(kind Kind) int {
	switch kind {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case ValidationError:
		return http.StatusBadRequest
	case InvalidStateTransition:
		return http.StatusConflict
	case NoClusterAvailable:
		return http.StatusServiceUnavailable
	case ProviderError, ProvisioningFailed:
		return http.StatusBadGateway
	case PaymentVerificationFailed:
		return http.StatusBadRequest
	case PaymentCurrencyUnsupported:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
