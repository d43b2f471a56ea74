package crypto

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// Program-derived addresses
//
// A program-derived address is computed from a list of seeds and the program ID:
//
//	keccak256(seed_0 || ... || seed_n || programID || "ProgramDerivedAddress")[12:]
//
// The 32-byte hash must NOT be a valid secp256k1 x-coordinate. If it were, a
// point (and so potentially a private key) would exist for it; rejecting those
// hashes leaves an address that only the program can authorize, by presenting
// the seeds again.
//
// FindProgramAddress appends a one-byte "bump" seed, starting at 255 and
// counting down until the hash falls off the curve.

const (
	MaxSeeds      = 16
	MaxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"
)

var curveB = big.NewInt(7)

var (
	ErrInvalidSeeds = errors.New("invalid seeds")
	ErrOnCurve      = errors.New("derived hash is a valid curve point")
	ErrNoViableBump = errors.New("no viable bump seed")
)

// CreateProgramAddress derives the address for seeds under programID.
// Callers that already know the bump pass it as the last seed.
func CreateProgramAddress(seeds [][]byte, programID common.Address) (common.Address, error) {
	if len(seeds) > MaxSeeds {
		return common.Address{}, fmt.Errorf("%w: %d seeds exceeds max %d", ErrInvalidSeeds, len(seeds), MaxSeeds)
	}

	h := sha3.NewLegacyKeccak256()
	for i, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return common.Address{}, fmt.Errorf("%w: seed %d is %d bytes (max %d)", ErrInvalidSeeds, i, len(seed), MaxSeedLength)
		}
		h.Write(seed)
	}
	h.Write(programID.Bytes())
	h.Write([]byte(pdaMarker))
	sum := h.Sum(nil)

	if isCurveX(sum) {
		return common.Address{}, ErrOnCurve
	}
	return common.BytesToAddress(sum[12:]), nil
}

// FindProgramAddress searches bumps 255..0 and returns the first address that
// is off the curve together with its bump.
func FindProgramAddress(seeds [][]byte, programID common.Address) (common.Address, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if errors.Is(err, ErrOnCurve) {
			continue
		}
		if err != nil {
			return common.Address{}, 0, err
		}
		return addr, uint8(bump), nil
	}
	return common.Address{}, 0, ErrNoViableBump
}

// isCurveX reports whether x is the x-coordinate of a secp256k1 point,
// i.e. whether x^3 + 7 is a quadratic residue mod p.
func isCurveX(x []byte) bool {
	params := crypto.S256().Params()
	xi := new(big.Int).SetBytes(x)
	if xi.Cmp(params.P) >= 0 {
		return false
	}

	y2 := new(big.Int).Exp(xi, big.NewInt(3), params.P)
	y2.Add(y2, curveB)
	y2.Mod(y2, params.P)
	return new(big.Int).ModSqrt(y2, params.P) != nil
}
