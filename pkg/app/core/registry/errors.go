package registry

import "errors"

var (
	ErrUnauthorized            = errors.New("unauthorized")
	ErrArithmeticOverflow      = errors.New("arithmetic overflow")
	ErrItemNotFound            = errors.New("item not found")
	ErrBiddingClosed           = errors.New("bidding closed")
	ErrBidTooLow               = errors.New("bid too low")
	ErrNoBids                  = errors.New("no bids")
	ErrStorageCapacityExceeded = errors.New("storage capacity exceeded")
	ErrTransferFailed          = errors.New("transfer failed")
	ErrInvalidDescription      = errors.New("invalid description")

	ErrAlreadyInitialized = errors.New("registry already initialized")
	ErrNotInitialized     = errors.New("registry not initialized")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrArithmeticOverflow, "ArithmeticOverflow"},
	{ErrItemNotFound, "ItemNotFound"},
	{ErrBiddingClosed, "BiddingClosed"},
	{ErrBidTooLow, "BidTooLow"},
	{ErrNoBids, "NoBids"},
	{ErrStorageCapacityExceeded, "StorageCapacityExceeded"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrInvalidDescription, "InvalidDescription"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrNotInitialized, "NotInitialized"},
}

// Kind names the error kind of err, or "" if err is not a registry error.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}
