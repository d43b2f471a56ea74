package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrMalformed        = errors.New("malformed transaction")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrStaleNonce       = errors.New("stale nonce")
)

// TxType names a ledger command.
type TxType string

const (
	TxTypeInitialize   TxType = "initialize"
	TxTypeAddItem      TxType = "add_item"
	TxTypePlaceBid     TxType = "place_bid"
	TxTypeCloseItem    TxType = "close_item"
	TxTypeRedeemEscrow TxType = "redeem_escrow"
)

// SignedTransaction is the wire envelope for a command.
// Exactly the payload matching Type is set; initialize carries none.
type SignedTransaction struct {
	Type         TxType               `json:"type"`
	Signer       string               `json:"signer"`    // 0x address
	Nonce        string               `json:"nonce"`     // decimal uint64
	AddItem      *AddItemPayload      `json:"addItem,omitempty"`
	PlaceBid     *PlaceBidPayload     `json:"placeBid,omitempty"`
	CloseItem    *CloseItemPayload    `json:"closeItem,omitempty"`
	RedeemEscrow *RedeemEscrowPayload `json:"redeemEscrow,omitempty"`
	Signature    string               `json:"signature"` // 0x + 65 bytes
}

// Amounts are decimal strings such as "2.5".
type AddItemPayload struct {
	Description   string `json:"description"`
	StartingPrice string `json:"startingPrice"`
}

type PlaceBidPayload struct {
	ItemID uint64 `json:"itemId"`
	Amount string `json:"amount"`
}

type CloseItemPayload struct {
	ItemID uint64 `json:"itemId"`
}

type RedeemEscrowPayload struct {
	Amount string `json:"amount"`
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &tx, nil
}

// Validate performs basic validation on transaction structure
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("%w: missing transaction type", ErrMalformed)
	}
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	if !common.IsHexAddress(tx.Signer) {
		return fmt.Errorf("%w: invalid signer %q", ErrMalformed, tx.Signer)
	}
	if _, err := strconv.ParseUint(tx.Nonce, 10, 64); err != nil {
		return fmt.Errorf("%w: invalid nonce %q", ErrMalformed, tx.Nonce)
	}

	payloads := 0
	for _, set := range []bool{tx.AddItem != nil, tx.PlaceBid != nil, tx.CloseItem != nil, tx.RedeemEscrow != nil} {
		if set {
			payloads++
		}
	}

	want := 1
	switch tx.Type {
	case TxTypeInitialize:
		want = 0
	case TxTypeAddItem:
		if tx.AddItem == nil {
			return fmt.Errorf("%w: add_item requires addItem payload", ErrMalformed)
		}
		if !utf8.ValidString(tx.AddItem.Description) {
			return fmt.Errorf("%w: description is not valid UTF-8", ErrMalformed)
		}
	case TxTypePlaceBid:
		if tx.PlaceBid == nil {
			return fmt.Errorf("%w: place_bid requires placeBid payload", ErrMalformed)
		}
	case TxTypeCloseItem:
		if tx.CloseItem == nil {
			return fmt.Errorf("%w: close_item requires closeItem payload", ErrMalformed)
		}
	case TxTypeRedeemEscrow:
		if tx.RedeemEscrow == nil {
			return fmt.Errorf("%w: redeem_escrow requires redeemEscrow payload", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrMalformed, tx.Type)
	}
	if payloads != want {
		return fmt.Errorf("%w: %s carries %d payloads", ErrMalformed, tx.Type, payloads)
	}
	return nil
}

// ParseTransaction decodes and validates a JSON envelope.
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

// Example:
//   {
//     "type": "place_bid",
//     "signer": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//     "nonce": "3",
//     "placeBid": {"itemId": 1, "amount": "2.0"},
//     "signature": "0x1234567890abcdef..."
//   }
