package auction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbid/pkg/app/core/account"
	"github.com/uhyunpark/hyperbid/pkg/app/core/amount"
	"github.com/uhyunpark/hyperbid/pkg/app/core/registry"
	"github.com/uhyunpark/hyperbid/pkg/crypto"
)

// hostLedger moves value inside a staged account Tx on behalf of one
// verified command. A user authority is honored only for the command's
// signer; a program authority only for the address its seeds derive.
type hostLedger struct {
	tx        *account.Tx
	programID common.Address
	signer    common.Address
}

func (l *hostLedger) authorize(from common.Address, auth registry.Authority) error {
	if auth.IsProgram() {
		derived, err := crypto.CreateProgramAddress(auth.Seeds, l.programID)
		if err != nil {
			return fmt.Errorf("invalid program seeds: %w", err)
		}
		if derived != from {
			return fmt.Errorf("program seeds derive %s, not %s", derived.Hex(), from.Hex())
		}
		return nil
	}
	if auth.Signer != from || auth.Signer != l.signer {
		return fmt.Errorf("%s has not signed for %s", l.signer.Hex(), from.Hex())
	}
	return nil
}

func (l *hostLedger) TransferNative(from, to common.Address, amt amount.Amount, auth registry.Authority) error {
	if err := l.authorize(from, auth); err != nil {
		return err
	}
	return l.tx.TransferNative(from, to, amt)
}

func (l *hostLedger) TransferToken(from, to common.Address, amt amount.Amount, auth registry.Authority) error {
	if err := l.authorize(from, auth); err != nil {
		return err
	}
	return l.tx.TransferToken(from, to, amt)
}

var _ registry.Ledger = (*hostLedger)(nil)
