package common

import (
	"errors"
	"fmt"
)

// ErrInvalidOrder is returned for requests rejected before the network call.
var ErrInvalidOrder = errors.New("invalid order")

// CredentialError means the exchange refused the keys, or they are incomplete.
// It is never retried.
type CredentialError struct {
	Exchange Exchange
	Reason   string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s: invalid credentials: %s", e.Exchange, e.Reason)
}

// UnsupportedOperationError marks a capability the exchange variant lacks.
type UnsupportedOperationError struct {
	Exchange  Exchange
	Operation string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s: %s is not supported", e.Exchange, e.Operation)
}

// TransportError covers network failures, timeouts, non-2xx responses and
// error codes returned inside 2xx bodies. Endpoint is the request path
// without its query string.
type TransportError struct {
	Exchange Exchange
	Method   string
	Endpoint string
	Status   int
	Code     string
	Message  string
	Err      error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s %s %s", e.Exchange, e.Method, e.Endpoint)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status %d", e.Status)
	}
	if e.Code != "" {
		msg += " code " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// DataUnavailableError is returned by price and balance providers when no
// usable value exists.
type DataUnavailableError struct {
	Source string
	Symbol string
	Reason string
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("%s data unavailable for %s: %s", e.Source, e.Symbol, e.Reason)
}

// IsCredentialError reports whether err is, or wraps, a CredentialError.
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}

// IsUnsupported reports whether err is, or wraps, an UnsupportedOperationError.
func IsUnsupported(err error) bool {
	var ue *UnsupportedOperationError
	return errors.As(err, &ue)
}

// IsDataUnavailable reports whether err is, or wraps, a DataUnavailableError.
func IsDataUnavailable(err error) bool {
	var de *DataUnavailableError
	return errors.As(err, &de)
}
