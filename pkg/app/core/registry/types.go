package registry

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbid/pkg/app/core/amount"
)

// BidRecord is one bid on an item. Immutable once appended.
type BidRecord struct {
	_      struct{}       `cbor:",toarray"`
	Bidder common.Address `json:"bidder"`
	Amount amount.Amount  `json:"amount"`
}

// Item is one auction listing with its bid history.
// Only Owner and Open change after creation, and only at settlement.
type Item struct {
	_             struct{}       `cbor:",toarray"`
	ID            uint64         `json:"id"`
	Description   string         `json:"description"`
	StartingPrice amount.Amount  `json:"startingPrice"`
	Owner         common.Address `json:"owner"`
	Open          bool           `json:"open"`
	Bids          []BidRecord    `json:"bids"`
}

// Registry is the root record: the catalog plus its admin and addressing metadata.
// Seed and Bump are fixed at Initialize and derive both the registry's storage
// address and the escrow authority.
type Registry struct {
	_          struct{}       `cbor:",toarray"`
	BidCounter uint64         `json:"bidCounter"`
	Admin      common.Address `json:"admin"`
	Items      []Item         `json:"items"`
	Seed       string         `json:"seed"`
	Bump       uint8          `json:"bump"`
}

// FindItem resolves an item by id. The returned pointer aliases r.Items.
func (r *Registry) FindItem(id uint64) (*Item, error) {
	idx, err := r.indexOf(id)
	if err != nil {
		return nil, err
	}
	return &r.Items[idx], nil
}

func (r *Registry) indexOf(id uint64) (int, error) {
	for i := range r.Items {
		if r.Items[i].ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: id %d", ErrItemNotFound, id)
}

// EscrowSeeds returns the seeds (including the stored bump) that sign for the
// program's escrow account.
func (r *Registry) EscrowSeeds() [][]byte {
	return [][]byte{[]byte(r.Seed), {r.Bump}}
}

// Validate checks structural invariants.
func (r *Registry) Validate() error {
	if r.BidCounter != uint64(len(r.Items)) {
		return fmt.Errorf("bid counter %d does not match %d items", r.BidCounter, len(r.Items))
	}
	seen := make(map[uint64]struct{}, len(r.Items))
	for _, item := range r.Items {
		if item.ID == 0 || item.ID > r.BidCounter {
			return fmt.Errorf("item id %d out of range", item.ID)
		}
		if _, dup := seen[item.ID]; dup {
			return fmt.Errorf("duplicate item id %d", item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy.
func (r *Registry) Clone() *Registry {
	c := *r
	c.Items = make([]Item, len(r.Items))
	for i := range r.Items {
		c.Items[i] = r.Items[i].Clone()
	}
	return &c
}

// Clone returns a deep copy.
func (it *Item) Clone() Item {
	c := *it
	c.Bids = make([]BidRecord, len(it.Bids))
	copy(c.Bids, it.Bids)
	return c
}

// Winner returns the highest bid, the earliest one among equal amounts.
func (it *Item) Winner() (BidRecord, bool) {
	if len(it.Bids) == 0 {
		return BidRecord{}, false
	}
	best := it.Bids[0]
	for _, b := range it.Bids[1:] {
		if b.Amount > best.Amount {
			best = b
		}
	}
	return best, true
}
