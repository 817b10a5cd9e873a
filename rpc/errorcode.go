package rpc

import "github.com/EthanYuan/fiber/ferrors"

// codeByName maps the string form of a ferrors.Code (as returned by its
// String method) back to the code, for decoding remove_tlc's
// reason.error_code parameter. ferrors itself has no need to parse names
// back from strings, so that direction lives here instead.
var codeByName = func() map[string]ferrors.Code {
	all := []ferrors.Code{
		ferrors.CodeInvalidParameter, ferrors.CodeDuplicatedInvoice, ferrors.CodeUnknownChannel,
		ferrors.CodeUnknownTlc, ferrors.CodeIllegalState, ferrors.CodeTlcValueOutOfRange,
		ferrors.CodeInsufficientBalance, ferrors.CodeTooManyInflightTlcs, ferrors.CodeExpiryTooSoon,
		ferrors.CodeNoRoute, ferrors.CodeAmountBelowMin, ferrors.CodeAmountAboveMax,
		ferrors.CodeExceedsMaxParts, ferrors.CodeFeeExceedsMax, ferrors.CodePaymentTimeout,
		ferrors.CodePeerDisconnected, ferrors.CodeProtocolViolation, ferrors.CodeStorageFailure,
	}
	m := make(map[string]ferrors.Code, len(all))
	for _, c := range all {
		m[c.String()] = c
	}
	return m
}()
