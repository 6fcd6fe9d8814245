package payme

import (
	"errors"
	"fmt"
)

// Kind enumerates the provider-mandated error classes.
type Kind int

const (
	KindSystemError Kind = iota
	KindInvalidAmount
	KindInvalidAccount
	KindAccountPending
	KindMethodNotFound
	KindInvalidParams
	KindTransactionNotFound
	KindCantPerform
	KindCantCancel
	KindUnauthorized
	KindInvalidRequest
)

// Provider error codes.
const (
	CodeInvalidAmount       = -31001
	CodeInvalidAccount      = -31050
	CodeAccountPending      = -31051
	CodeMethodNotFound      = -32601
	CodeInvalidParams       = -32602
	CodeTransactionNotFound = -31003
	CodeCantPerform         = -31008
	CodeCantCancel          = -31007
	CodeUnauthorized        = -32504
	CodeSystemError         = -32400
	CodeInvalidRequest      = -32600
)

var kindCodes = map[Kind]int{
	KindSystemError:         CodeSystemError,
	KindInvalidAmount:       CodeInvalidAmount,
	KindInvalidAccount:      CodeInvalidAccount,
	KindAccountPending:      CodeAccountPending,
	KindMethodNotFound:      CodeMethodNotFound,
	KindInvalidParams:       CodeInvalidParams,
	KindTransactionNotFound: CodeTransactionNotFound,
	KindCantPerform:         CodeCantPerform,
	KindCantCancel:          CodeCantCancel,
	KindUnauthorized:        CodeUnauthorized,
	KindInvalidRequest:      CodeInvalidRequest,
}

// Code returns the wire code for k. Unknown kinds collapse to SystemError.
func (k Kind) Code() int {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return CodeSystemError
}

func (k Kind) String() string {
	switch k {
	case KindInvalidAmount:
		return "invalid_amount"
	case KindInvalidAccount:
		return "invalid_account"
	case KindAccountPending:
		return "account_pending"
	case KindMethodNotFound:
		return "method_not_found"
	case KindInvalidParams:
		return "invalid_params"
	case KindTransactionNotFound:
		return "transaction_not_found"
	case KindCantPerform:
		return "cant_perform"
	case KindCantCancel:
		return "cant_cancel"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return "system_error"
	}
}

// Error is a business failure carried back to the provider as a JSON-RPC
// error object.
type Error struct {
	Kind    Kind
	Message string
	Data    interface{}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("payme %s (%d): %s", e.Kind, e.Kind.Code(), e.Message)
}

// Code returns the wire code.
func (e *Error) Code() int {
	if e == nil {
		return CodeSystemError
	}
	return e.Kind.Code()
}

// NewError builds a tagged error.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Message: msg}
}

// SystemError is the only error shape internal faults are allowed to take on
// the wire.
func SystemError() *Error {
	return &Error{Kind: KindSystemError, Message: "System error"}
}

// AsError extracts a *Error from err. Any other error yields SystemError and
// false.
func AsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) && perr != nil {
		return perr, true
	}
	return SystemError(), false
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var perr *Error
	return errors.As(err, &perr) && perr != nil && perr.Kind == kind
}
