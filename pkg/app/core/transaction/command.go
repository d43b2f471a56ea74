package transaction

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hyperbid/pkg/app/core/amount"
	"github.com/uhyunpark/hyperbid/pkg/crypto"
)

// Command is a decoded SignedTransaction. Only the fields used by Type are set.
type Command struct {
	Type          TxType
	Signer        common.Address
	Nonce         uint64
	Description   string
	StartingPrice amount.Amount
	ItemID        uint64
	Amount        amount.Amount
}

// Command decodes the envelope. It does not check the signature.
func (tx *SignedTransaction) Command() (*Command, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	nonce, _ := strconv.ParseUint(tx.Nonce, 10, 64)
	cmd := &Command{
		Type:   tx.Type,
		Signer: common.HexToAddress(tx.Signer),
		Nonce:  nonce,
	}

	var err error
	switch tx.Type {
	case TxTypeAddItem:
		cmd.Description = tx.AddItem.Description
		cmd.StartingPrice, err = amount.Parse(tx.AddItem.StartingPrice)
	case TxTypePlaceBid:
		cmd.ItemID = tx.PlaceBid.ItemID
		cmd.Amount, err = amount.Parse(tx.PlaceBid.Amount)
	case TxTypeCloseItem:
		cmd.ItemID = tx.CloseItem.ItemID
	case TxTypeRedeemEscrow:
		cmd.Amount, err = amount.Parse(tx.RedeemEscrow.Amount)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return cmd, nil
}

// Envelope renders cmd as an unsigned SignedTransaction.
func (c *Command) Envelope() *SignedTransaction {
	tx := &SignedTransaction{
		Type:   c.Type,
		Signer: c.Signer.Hex(),
		Nonce:  strconv.FormatUint(c.Nonce, 10),
	}
	switch c.Type {
	case TxTypeAddItem:
		tx.AddItem = &AddItemPayload{Description: c.Description, StartingPrice: c.StartingPrice.String()}
	case TxTypePlaceBid:
		tx.PlaceBid = &PlaceBidPayload{ItemID: c.ItemID, Amount: c.Amount.String()}
	case TxTypeCloseItem:
		tx.CloseItem = &CloseItemPayload{ItemID: c.ItemID}
	case TxTypeRedeemEscrow:
		tx.RedeemEscrow = &RedeemEscrowPayload{Amount: c.Amount.String()}
	}
	return tx
}

var (
	fieldSigner = apitypes.Type{Name: "signer", Type: "address"}
	fieldNonce  = apitypes.Type{Name: "nonce", Type: "uint256"}
)

// ToEIP712 returns the typed data signed for cmd. Amounts are signed in base units.
func (c *Command) ToEIP712() (*crypto.CommandEIP712, error) {
	msg := apitypes.TypedDataMessage{
		"signer": c.Signer.Hex(),
		"nonce":  strconv.FormatUint(c.Nonce, 10),
	}
	units := func(a amount.Amount) string { return strconv.FormatUint(a.Units(), 10) }
	id := strconv.FormatUint(c.ItemID, 10)

	out := &crypto.CommandEIP712{Message: msg}
	switch c.Type {
	case TxTypeInitialize:
		out.PrimaryType = "Initialize"
		out.Fields = []apitypes.Type{fieldSigner, fieldNonce}
	case TxTypeAddItem:
		out.PrimaryType = "AddItem"
		out.Fields = []apitypes.Type{
			{Name: "description", Type: "string"},
			{Name: "startingPrice", Type: "uint256"},
			fieldSigner, fieldNonce,
		}
		msg["description"] = c.Description
		msg["startingPrice"] = units(c.StartingPrice)
	case TxTypePlaceBid:
		out.PrimaryType = "PlaceBid"
		out.Fields = []apitypes.Type{
			{Name: "itemId", Type: "uint64"},
			{Name: "amount", Type: "uint256"},
			fieldSigner, fieldNonce,
		}
		msg["itemId"] = id
		msg["amount"] = units(c.Amount)
	case TxTypeCloseItem:
		out.PrimaryType = "CloseItem"
		out.Fields = []apitypes.Type{
			{Name: "itemId", Type: "uint64"},
			fieldSigner, fieldNonce,
		}
		msg["itemId"] = id
	case TxTypeRedeemEscrow:
		out.PrimaryType = "RedeemEscrow"
		out.Fields = []apitypes.Type{
			{Name: "amount", Type: "uint256"},
			fieldSigner, fieldNonce,
		}
		msg["amount"] = units(c.Amount)
	default:
		return nil, fmt.Errorf("%w: unknown transaction type %q", ErrMalformed, c.Type)
	}
	return out, nil
}

// Sign builds a signed envelope for cmd. cmd.Signer is set from key.
func Sign(e *crypto.EIP712Signer, key *crypto.Signer, cmd Command) (*SignedTransaction, error) {
	cmd.Signer = key.Address()
	typed, err := cmd.ToEIP712()
	if err != nil {
		return nil, err
	}
	sig, err := e.SignCommand(key, typed)
	if err != nil {
		return nil, err
	}
	tx := cmd.Envelope()
	tx.Signature = fmt.Sprintf("0x%x", sig)
	return tx, nil
}
