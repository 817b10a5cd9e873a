// Package ferrors defines the error taxonomy shared by every component of
// the node. Each FiberError carries a numeric RPC code alongside the
// message, so the rpc package can map errors without string matching --
// channeldb/error.go's plain sentinel errors don't carry that, so this
// extends the teacher's pattern rather than copying it outright.
package ferrors

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Code is the taxonomy from spec.md 7.
type Code int

const (
	CodeInvalidParameter Code = iota + 1
	CodeDuplicatedInvoice
	CodeUnknownChannel
	CodeUnknownTlc
	CodeIllegalState
	CodeTlcValueOutOfRange
	CodeInsufficientBalance
	CodeTooManyInflightTlcs
	CodeExpiryTooSoon
	CodeNoRoute
	CodeAmountBelowMin
	CodeAmountAboveMax
	CodeExceedsMaxParts
	CodeFeeExceedsMax
	CodePaymentTimeout
	CodePeerDisconnected
	CodeProtocolViolation
	CodeStorageFailure
)

func (c Code) String() string {
	switch c {
	case CodeInvalidParameter:
		return "InvalidParameter"
	case CodeDuplicatedInvoice:
		return "DuplicatedInvoice"
	case CodeUnknownChannel:
		return "UnknownChannel"
	case CodeUnknownTlc:
		return "UnknownTlc"
	case CodeIllegalState:
		return "IllegalState"
	case CodeTlcValueOutOfRange:
		return "TlcValueOutOfRange"
	case CodeInsufficientBalance:
		return "InsufficientBalance"
	case CodeTooManyInflightTlcs:
		return "TooManyInflightTlcs"
	case CodeExpiryTooSoon:
		return "ExpiryTooSoon"
	case CodeNoRoute:
		return "NoRoute"
	case CodeAmountBelowMin:
		return "AmountBelowMin"
	case CodeAmountAboveMax:
		return "AmountAboveMax"
	case CodeExceedsMaxParts:
		return "ExceedsMaxParts"
	case CodeFeeExceedsMax:
		return "FeeExceedsMax"
	case CodePaymentTimeout:
		return "PaymentTimeout"
	case CodePeerDisconnected:
		return "PeerDisconnected"
	case CodeProtocolViolation:
		return "ProtocolViolation"
	case CodeStorageFailure:
		return "StorageFailure"
	default:
		return "Unknown"
	}
}

// FiberError is the error type returned across component boundaries
// (store, channel actor, payment session, RPC). Fatal reports whether the
// error should halt the process rather than merely fail the caller (spec.md
// 7: storage failures are fatal).
type FiberError struct {
	Code    Code
	Message string
	Fatal   bool

	// Stack is populated only for Fatal errors: an operator chasing a
	// storage failure needs to know which call site it came from, while
	// a routine InvalidParameter or NoRoute doesn't warrant the cost.
	Stack string
}

func (e *FiberError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code Code, format string, args ...interface{}) *FiberError {
	return &FiberError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewFatal builds a StorageFailure-class error that callers must treat as
// fatal: I/O errors on a store commit, or corrupted on-disk records.
func NewFatal(format string, args ...interface{}) *FiberError {
	msg := fmt.Sprintf(format, args...)
	return &FiberError{
		Code:    CodeStorageFailure,
		Message: msg,
		Fatal:   true,
		Stack:   goerrors.Wrap(msg, 1).ErrorStack(),
	}
}

// Is allows errors.Is(err, ferrors.CodeUnknownChannel) style checks via a
// lightweight sentinel wrapper, used by callers that only care about the
// code and not the formatted message.
func Is(err error, code Code) bool {
	fe, ok := err.(*FiberError)
	return ok && fe.Code == code
}
