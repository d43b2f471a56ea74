package transaction

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbid/pkg/app/core/amount"
)

// ReceiptTypeFaucet marks a dev-faucet credit, which is not a signed command.
const ReceiptTypeFaucet TxType = "faucet"

// Receipt records a committed state change.
type Receipt struct {
	Seq       uint64          `json:"seq"` // commit order, starting at 1
	ID        string          `json:"id"`
	Type      TxType          `json:"type"`
	Signer    common.Address  `json:"signer"`
	Nonce     uint64          `json:"nonce"`
	ItemID    uint64          `json:"itemId,omitempty"`
	Amount    amount.Amount   `json:"amount"`
	Fee       amount.Amount   `json:"fee"`
	Payout    amount.Amount   `json:"payout"`
	Winner    *common.Address `json:"winner,omitempty"`
	Timestamp int64           `json:"timestamp"` // unix nanos

	// RegistryHash is keccak256 of the encoded registry after this change.
	RegistryHash common.Hash `json:"registryHash"`
}
