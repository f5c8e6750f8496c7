package rpc

import (
	"errors"
	"net/http"

	"codice/core"
	"codice/crypto"
	"codice/native/certificate"
	"codice/native/common"
	"codice/native/listing"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeForbidden      = -32003
	codeNotFound       = -32004
	codeConflict       = -32010
	codeRateLimited    = -32020
	codeUnavailable    = -32030
	codeRejected       = -32050
)

func invalidParams(message string, data interface{}) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: message, Data: data, status: http.StatusBadRequest}
}

func unavailable(message string) *RPCError {
	return &RPCError{Code: codeUnavailable, Message: message, status: http.StatusServiceUnavailable}
}

var (
	notFoundErrors = []error{
		certificate.ErrInvalidToken,
		certificate.ErrCollectionNotFound,
		listing.ErrListingNotFound,
		listing.ErrCoordinatorNotFound,
		core.ErrContractNotFound,
		core.ErrReceiptNotFound,
	}
	forbiddenErrors = []error{
		certificate.ErrNotOwnerOrApproved,
		certificate.ErrAuthenticationDenied,
		certificate.ErrMissingRole,
		listing.ErrNotTokenOwner,
		listing.ErrNotApproved,
		listing.ErrNotClaimer,
	}
	invalidErrors = []error{
		core.ErrInvalidPayload,
		core.ErrInvalidChainID,
		core.ErrUnknownTxType,
		core.ErrUnexpectedValue,
		core.ErrNotLedger,
		core.ErrNotCoordinator,
		core.ErrReadRequestExpired,
		core.ErrReadRequestTooLong,
	}
	conflictErrors = []error{
		core.ErrInvalidNonce,
		listing.ErrAlreadyClaimed,
		certificate.ErrCollectionExists,
		listing.ErrCoordinatorExists,
	}
)

func matchAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// toRPCError maps engine and node sentinels onto JSON-RPC error codes. Errors
// that are not recognised are reported as execution rejections with the
// original message.
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.status == 0 {
			rpcErr.status = http.StatusBadRequest
		}
		return rpcErr
	}
	out := &RPCError{Message: err.Error()}
	var missing *certificate.MissingRoleError
	if errors.As(err, &missing) {
		out.Data = map[string]string{
			"account": crypto.FormatAddress(missing.Account),
			"role":    missing.Role.Hex(),
		}
	}
	switch {
	case matchAny(err, notFoundErrors):
		out.Code, out.status = codeNotFound, http.StatusNotFound
	case matchAny(err, forbiddenErrors):
		out.Code, out.status = codeForbidden, http.StatusForbidden
	case matchAny(err, invalidErrors):
		out.Code, out.status = codeInvalidParams, http.StatusBadRequest
	case matchAny(err, conflictErrors):
		out.Code, out.status = codeConflict, http.StatusConflict
	case errors.Is(err, common.ErrModulePaused):
		out.Code, out.status = codeUnavailable, http.StatusServiceUnavailable
	case errors.Is(err, common.ErrQuotaRequestsExceeded), errors.Is(err, common.ErrQuotaMintCapExceeded):
		out.Code, out.status = codeRateLimited, http.StatusTooManyRequests
	default:
		// Execution failures are reported in the response body with 200 so
		// clients can distinguish them from transport errors.
		out.Code, out.status = codeRejected, http.StatusOK
	}
	return out
}
