package registry

import (
	"fmt"
	"math/bits"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbid/pkg/app/core/amount"
	"github.com/uhyunpark/hyperbid/pkg/crypto"
)

const (
	DefaultMaxRegistryBytes     = 5000
	DefaultRedemptionMultiplier = 4
)

// DefaultListingFee is the native fee a bidder pays the item owner per bid (0.02).
var DefaultListingFee = amount.MustParse("0.02")

// Params configures a Program.
type Params struct {
	ProgramID            common.Address
	ListingFee           amount.Amount
	RedemptionMultiplier uint64
	MaxRegistryBytes     int
}

// DefaultParams returns the stock parameters for programID.
func DefaultParams(programID common.Address) Params {
	return Params{
		ProgramID:            programID,
		ListingFee:           DefaultListingFee,
		RedemptionMultiplier: DefaultRedemptionMultiplier,
		MaxRegistryBytes:     DefaultMaxRegistryBytes,
	}
}

// Authority is what a transfer is authorized by: a transaction signer, or the
// program itself presenting the seeds of one of its derived addresses.
type Authority struct {
	Signer common.Address
	Seeds  [][]byte
}

func SignedBy(addr common.Address) Authority {
	return Authority{Signer: addr}
}

func ProgramSigned(seeds [][]byte) Authority {
	return Authority{Seeds: seeds}
}

func (a Authority) IsProgram() bool {
	return a.Seeds != nil
}

// Ledger moves value between accounts. Implementations must verify auth
// against from, and must leave balances untouched when they return an error.
type Ledger interface {
	TransferNative(from, to common.Address, amt amount.Amount, auth Authority) error
	TransferToken(from, to common.Address, amt amount.Amount, auth Authority) error
}

// Program implements the registry operations. It holds no state of its own:
// callers pass the registry and serialize calls against it.
//
// Every operation validates before it mutates or moves value, so on error the
// registry passed in is unchanged and no transfer was attempted, except when a
// transfer itself fails, in which case the caller must discard the ledger
// changes made by earlier transfers of the same operation.
type Program struct {
	params Params
}

func NewProgram(params Params) *Program {
	if params.MaxRegistryBytes <= 0 {
		params.MaxRegistryBytes = DefaultMaxRegistryBytes
	}
	return &Program{params: params}
}

func (p *Program) Params() Params {
	return p.params
}

// EscrowAddress returns the program-controlled account tokens are redeemed from.
func (p *Program) EscrowAddress(r *Registry) (common.Address, error) {
	return crypto.CreateProgramAddress(r.EscrowSeeds(), p.params.ProgramID)
}

// Initialize creates a registry administered by caller.
func (p *Program) Initialize(caller common.Address, seed string, bump uint8) (*Registry, error) {
	r := &Registry{
		BidCounter: 0,
		Admin:      caller,
		Items:      []Item{},
		Seed:       seed,
		Bump:       bump,
	}
	if err := p.checkCapacity(r); err != nil {
		return nil, err
	}
	return r, nil
}

// AddItem lists a new item owned by the admin and returns a copy of it.
func (p *Program) AddItem(r *Registry, caller common.Address, description string, startingPrice amount.Amount) (Item, error) {
	if caller != r.Admin {
		return Item{}, fmt.Errorf("%w: %s is not the admin", ErrUnauthorized, caller.Hex())
	}
	// CBOR text strings must be UTF-8 or the registry cannot be decoded again.
	if !utf8.ValidString(description) {
		return Item{}, fmt.Errorf("%w: not valid UTF-8", ErrInvalidDescription)
	}

	newID, carry := bits.Add64(r.BidCounter, 1, 0)
	if carry != 0 {
		return Item{}, fmt.Errorf("%w: bid counter", ErrArithmeticOverflow)
	}

	item := Item{
		ID:            newID,
		Description:   description,
		StartingPrice: startingPrice,
		Owner:         caller,
		Open:          true,
		Bids:          []BidRecord{},
	}

	grown := *r
	grown.Items = append(r.Items[:len(r.Items):len(r.Items)], item)
	grown.BidCounter = newID
	if err := p.checkCapacity(&grown); err != nil {
		return Item{}, err
	}

	r.Items = grown.Items
	r.BidCounter = newID
	return item.Clone(), nil
}

// PlaceBid records a bid of bid tokens by caller on item itemID, charging the
// listing fee in native currency. Both go to the item's current owner.
func (p *Program) PlaceBid(r *Registry, ledger Ledger, caller common.Address, itemID uint64, bid amount.Amount) (BidRecord, error) {
	idx, err := r.indexOf(itemID)
	if err != nil {
		return BidRecord{}, err
	}
	item := &r.Items[idx]
	if !item.Open {
		return BidRecord{}, fmt.Errorf("%w: item %d", ErrBiddingClosed, itemID)
	}
	if bid < item.StartingPrice {
		return BidRecord{}, fmt.Errorf("%w: %s < starting price %s", ErrBidTooLow, bid, item.StartingPrice)
	}

	record := BidRecord{Bidder: caller, Amount: bid}

	grown := *r
	grown.Items = make([]Item, len(r.Items))
	copy(grown.Items, r.Items)
	grown.Items[idx].Bids = append(item.Bids[:len(item.Bids):len(item.Bids)], record)
	if err := p.checkCapacity(&grown); err != nil {
		return BidRecord{}, err
	}

	auth := SignedBy(caller)
	if err := ledger.TransferNative(caller, item.Owner, p.params.ListingFee, auth); err != nil {
		return BidRecord{}, fmt.Errorf("%w: listing fee: %v", ErrTransferFailed, err)
	}
	if err := ledger.TransferToken(caller, item.Owner, bid, auth); err != nil {
		return BidRecord{}, fmt.Errorf("%w: bid amount: %v", ErrTransferFailed, err)
	}

	item.Bids = grown.Items[idx].Bids
	return record, nil
}

// CloseItem settles item itemID to its highest bidder.
func (p *Program) CloseItem(r *Registry, caller common.Address, itemID uint64) (BidRecord, error) {
	if caller != r.Admin {
		return BidRecord{}, fmt.Errorf("%w: %s is not the admin", ErrUnauthorized, caller.Hex())
	}
	item, err := r.FindItem(itemID)
	if err != nil {
		return BidRecord{}, err
	}
	if !item.Open {
		return BidRecord{}, fmt.Errorf("%w: item %d", ErrBiddingClosed, itemID)
	}
	winner, ok := item.Winner()
	if !ok {
		return BidRecord{}, fmt.Errorf("%w: item %d", ErrNoBids, itemID)
	}

	item.Owner = winner.Bidder
	item.Open = false
	return winner, nil
}

// RedeemEscrow takes amt native currency from caller for the admin and pays
// caller amt × RedemptionMultiplier tokens out of the escrow account. It
// returns the token amount paid.
func (p *Program) RedeemEscrow(r *Registry, ledger Ledger, caller common.Address, amt amount.Amount) (amount.Amount, error) {
	payout, err := amt.MulUint64(p.params.RedemptionMultiplier)
	if err != nil {
		return 0, fmt.Errorf("%w: redemption payout", ErrArithmeticOverflow)
	}

	escrow, err := p.EscrowAddress(r)
	if err != nil {
		return 0, fmt.Errorf("failed to derive escrow address: %w", err)
	}

	if err := ledger.TransferNative(caller, r.Admin, amt, SignedBy(caller)); err != nil {
		return 0, fmt.Errorf("%w: redemption payment: %v", ErrTransferFailed, err)
	}
	if err := ledger.TransferToken(escrow, caller, payout, ProgramSigned(r.EscrowSeeds())); err != nil {
		return 0, fmt.Errorf("%w: escrow payout: %v", ErrTransferFailed, err)
	}
	return payout, nil
}

func (p *Program) checkCapacity(r *Registry) error {
	size, err := EncodedSize(r)
	if err != nil {
		return err
	}
	if size > p.params.MaxRegistryBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrStorageCapacityExceeded, size, p.params.MaxRegistryBytes)
	}
	return nil
}
