package api

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbid/pkg/app/core/amount"
	"github.com/uhyunpark/hyperbid/pkg/app/core/registry"
)

// ==============================
// REST Response Types
// ==============================

// RegistryInfo is returned by GET /api/v1/registry
type RegistryInfo struct {
	Address              common.Address `json:"address"`
	Admin                common.Address `json:"admin"`
	BidCounter           uint64         `json:"bidCounter"`
	ItemCount            int            `json:"itemCount"`
	Seed                 string         `json:"seed"`
	Bump                 uint8          `json:"bump"`
	ListingFee           amount.Amount  `json:"listingFee"`
	RedemptionMultiplier uint64         `json:"redemptionMultiplier"`
	SizeBytes            int            `json:"sizeBytes"`
	MaxBytes             int            `json:"maxBytes"`
}

type BidInfo struct {
	Bidder common.Address `json:"bidder"`
	Amount amount.Amount  `json:"amount"`
}

// ItemInfo is one catalog entry with its bids.
// HighestBid is the bid that would win if the item closed now.
type ItemInfo struct {
	ID            uint64         `json:"id"`
	Description   string         `json:"description"`
	StartingPrice amount.Amount  `json:"startingPrice"`
	Owner         common.Address `json:"owner"`
	Open          bool           `json:"open"`
	Bids          []BidInfo      `json:"bids"`
	HighestBid    *BidInfo       `json:"highestBid,omitempty"`
}

func newItemInfo(item *registry.Item) ItemInfo {
	info := ItemInfo{
		ID:            item.ID,
		Description:   item.Description,
		StartingPrice: item.StartingPrice,
		Owner:         item.Owner,
		Open:          item.Open,
		Bids:          make([]BidInfo, len(item.Bids)),
	}
	for i, b := range item.Bids {
		info.Bids[i] = BidInfo{Bidder: b.Bidder, Amount: b.Amount}
	}
	if w, ok := item.Winner(); ok {
		info.HighestBid = &BidInfo{Bidder: w.Bidder, Amount: w.Amount}
	}
	return info
}

// AccountInfo is returned by GET /api/v1/accounts/{address}
type AccountInfo struct {
	Address common.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
	Native  amount.Amount  `json:"native"`
	Token   amount.Amount  `json:"token"`
}

// EscrowInfo is returned by GET /api/v1/escrow
type EscrowInfo struct {
	Address common.Address `json:"address"`
	Bump    uint8          `json:"bump"`
	Native  amount.Amount  `json:"native"`
	Token   amount.Amount  `json:"token"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type string      `json:"type"` // "receipt" or "item"
	Data interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["receipts", "items", "item:1"]
}

// ==============================
// REST Request Types
// ==============================

// Transactions are posted as transaction.SignedTransaction.

// FaucetRequest is the payload for POST /api/v1/faucet
type FaucetRequest struct {
	Address string `json:"address"`
	Native  string `json:"native"` // decimal, e.g. "1.5"
	Token   string `json:"token"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"` // error kind, e.g. "BidTooLow"
	Message string `json:"message"`
}
