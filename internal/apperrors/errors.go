package apperrors

import "errors"

// Reference-data errors are raised while resolving exchange rates or cost indices.
var (
	// ErrConfiguration indicates that no exchange rate could be resolved and no fallback
	// rate is configured. Callers surface it as "pricing temporarily unavailable".
	ErrConfiguration = errors.New("no rate available and no fallback configured")

	// ErrInvalidExchangeRate indicates a non-ARS price was requested without a positive rate.
	ErrInvalidExchangeRate = errors.New("invalid exchange rate")

	// ErrNotFound indicates that a stored snapshot or index row does not exist.
	ErrNotFound = errors.New("resource not found")
)

// Input errors are raised before any pricing computation begins.
var (
	// ErrValidation indicates that input data failed validation checks.
	ErrValidation = errors.New("validation error")
)

// UserMessage maps an error to the text shown to budget preparers.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "pricing temporarily unavailable"
	case errors.Is(err, ErrInvalidExchangeRate):
		return "exchange rate unavailable for the requested currency"
	case errors.Is(err, ErrValidation):
		return err.Error()
	default:
		return "unexpected pricing error"
	}
}
