// Package pspErr defines the error taxonomy shared by every component:
// every failure that can reach a customer or an operator carries a Code
// and a human message, and wraps its cause the way internal/card/service.go
// wraps lnd/database errors in the teacher repo.
package pspErr

import (
	"errors"
	"fmt"
)

type Code string

const (
	InvalidParams   Code = "invalid_params"
	OptionMismatch  Code = "option_mismatch"
	ConnectionError Code = "connection_error"
	ClientRejected  Code = "client_rejected"
	NodeError       Code = "node_error"
	InvoiceError    Code = "invoice_error"
	ProtocolError   Code = "protocol_error"
	Cancelled       Code = "cancelled"
	InvalidInvoice  Code = "invalid_invoice"
)

// Error is the taxonomy-carrying error type. It implements Unwrap so
// errors.Is/errors.As keep working through pspErr.New/Wrap the same way
// fmt.Errorf("%w", err) does in the teacher's card package.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Newf formats message the way fmt.Errorf does, without attaching a cause.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the taxonomy code from err, defaulting to NodeError for
// anything that isn't a *Error — matching §7's rule that unrecognised
// backend failures surface to the customer only as a generic node error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return NodeError
}
