package account

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbid/pkg/app/core/amount"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// Account holds a participant's native currency and token balances.
// Nonce is the last command nonce committed for this address.
type Account struct {
	Address common.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
	Native  amount.Amount  `json:"native"`
	Token   amount.Amount  `json:"token"`
}

// NewAccount creates an account with zero balances.
func NewAccount(addr common.Address) *Account {
	return &Account{Address: addr}
}

func (a *Account) clone() *Account {
	c := *a
	return &c
}

func debit(balance *amount.Amount, amt amount.Amount, what string, owner common.Address) error {
	next, err := balance.Sub(amt)
	if err != nil {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientFunds, owner.Hex(), *balance, what, amt)
	}
	*balance = next
	return nil
}

func credit(balance *amount.Amount, amt amount.Amount, what string, owner common.Address) error {
	next, err := balance.Add(amt)
	if err != nil {
		return fmt.Errorf("%s balance of %s overflows: %w", what, owner.Hex(), err)
	}
	*balance = next
	return nil
}
