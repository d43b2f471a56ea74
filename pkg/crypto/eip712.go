package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the domain separator for ledger commands.
// VerifyingContract is the program ID, so a signature for one deployment
// cannot be replayed against another.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the HyperBid domain bound to chainID and programID.
func DefaultDomain(chainID int64, programID common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              "HyperBid",
		Version:           "1",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: programID,
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// CommandEIP712 is one typed command ready for hashing.
// Message values are strings; integers are decimal strings.
type CommandEIP712 struct {
	PrimaryType string
	Fields      []apitypes.Type
	Message     apitypes.TypedDataMessage
}

// EIP712Signer hashes, signs and recovers typed commands for a single domain.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain {
	return e.domain
}

func (e *EIP712Signer) typedData(cmd *CommandEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":  domainType,
			cmd.PrimaryType: cmd.Fields,
		},
		PrimaryType: cmd.PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: cmd.Message,
	}
}

// HashCommand returns keccak256("\x19\x01" || domainSeparator || hashStruct(cmd)).
func (e *EIP712Signer) HashCommand(cmd *CommandEIP712) ([]byte, error) {
	if cmd == nil || cmd.PrimaryType == "" {
		return nil, fmt.Errorf("command has no primary type")
	}
	typedData := e.typedData(cmd)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", cmd.PrimaryType, err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// SignCommand hashes cmd and signs it with signer.
func (e *EIP712Signer) SignCommand(signer *Signer, cmd *CommandEIP712) ([]byte, error) {
	hash, err := e.HashCommand(cmd)
	if err != nil {
		return nil, err
	}

	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", cmd.PrimaryType, err)
	}
	return signature, nil
}

// RecoverCommandSigner returns the address that signed cmd.
func (e *EIP712Signer) RecoverCommandSigner(cmd *CommandEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashCommand(cmd)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// CommandToJSON renders cmd in the eth_signTypedData_v4 format wallets expect.
func (e *EIP712Signer) CommandToJSON(cmd *CommandEIP712) (string, error) {
	typedData := e.typedData(cmd)
	jsonBytes, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
