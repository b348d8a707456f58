package models

import "errors"

// Domain error kinds. Callers wrap them with context and match with errors.Is;
// the HTTP layer maps each kind to a status code.
var (
	ErrResourceNotFound           = errors.New("resource not found")
	ErrInvalidCredential          = errors.New("invalid credential")
	ErrResourceBusy               = errors.New("resource busy")
	ErrInsufficientFunds          = errors.New("insufficient funds")
	ErrInvalidAmount              = errors.New("invalid amount")
	ErrUnsupportedTransactionType = errors.New("unsupported transaction type")
	ErrRiskBlocked                = errors.New("blocked by risk screening")
	ErrDownstreamUnavailable      = errors.New("downstream unavailable")
	ErrForbidden                  = errors.New("forbidden")
	ErrInvalidTransition          = errors.New("invalid status transition")
)

// ErrorKind returns the name of the domain kind err belongs to, or "Internal".
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrResourceNotFound):
		return "ResourceNotFound"
	case errors.Is(err, ErrInvalidCredential):
		return "InvalidCredential"
	case errors.Is(err, ErrResourceBusy):
		return "ResourceBusy"
	case errors.Is(err, ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ErrUnsupportedTransactionType):
		return "UnsupportedTransactionType"
	case errors.Is(err, ErrRiskBlocked):
		return "RiskBlocked"
	case errors.Is(err, ErrDownstreamUnavailable):
		return "DownstreamUnavailable"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	default:
		return "Internal"
	}
}
