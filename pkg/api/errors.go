package api

import (
	"errors"
	"net/http"

	"github.com/uhyunpark/hyperbid/pkg/app/core/registry"
	"github.com/uhyunpark/hyperbid/pkg/app/core/transaction"
)

var kindStatus = map[string]int{
	"Unauthorized":            http.StatusForbidden,
	"InvalidDescription":      http.StatusBadRequest,
	"ItemNotFound":            http.StatusNotFound,
	"BiddingClosed":           http.StatusConflict,
	"NoBids":                  http.StatusConflict,
	"AlreadyInitialized":      http.StatusConflict,
	"NotInitialized":          http.StatusConflict,
	"BidTooLow":               http.StatusUnprocessableEntity,
	"TransferFailed":          http.StatusUnprocessableEntity,
	"ArithmeticOverflow":      http.StatusUnprocessableEntity,
	"StorageCapacityExceeded": http.StatusUnprocessableEntity,
}

// classify maps an App error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, transaction.ErrMalformed):
		return http.StatusBadRequest, "Malformed"
	case errors.Is(err, transaction.ErrInvalidSignature):
		return http.StatusUnauthorized, "InvalidSignature"
	case errors.Is(err, transaction.ErrStaleNonce):
		return http.StatusConflict, "StaleNonce"
	}
	if kind := registry.Kind(err); kind != "" {
		return kindStatus[kind], kind
	}
	return http.StatusInternalServerError, "Internal"
}
