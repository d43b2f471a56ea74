package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/uhyunpark/hyperbid/pkg/crypto"
)

// Verifier checks that a command was signed by its claimed signer.
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

// NewVerifier creates a new transaction verifier
func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify decodes tx and recovers its signer. The recovered address must
// match tx.Signer.
func (v *Verifier) Verify(tx *SignedTransaction) (*Command, error) {
	cmd, err := tx.Command()
	if err != nil {
		return nil, err
	}

	typed, err := cmd.ToEIP712()
	if err != nil {
		return nil, err
	}

	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	recovered, err := v.eip712Signer.RecoverCommandSigner(typed, sigBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if recovered != cmd.Signer {
		return nil, fmt.Errorf("%w: signed by %s, claimed %s", ErrInvalidSignature, recovered.Hex(), cmd.Signer.Hex())
	}
	return cmd, nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}

	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}

	return sigBytes, nil
}
