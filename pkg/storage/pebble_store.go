package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbid/pkg/app/core/account"
	"github.com/uhyunpark/hyperbid/pkg/app/core/registry"
	"github.com/uhyunpark/hyperbid/pkg/app/core/transaction"
)

// PebbleStore persists the registry, accounts and receipts.
// Multi-key updates go through a Batch so they land atomically.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MemTableSize: 32 << 20,
		MaxOpenFiles: 1000,
		BytesPerSync: 512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) get(key []byte) ([]byte, bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

// LoadRegistry loads the registry stored at addr.
// Returns nil if none exists.
func (s *PebbleStore) LoadRegistry(addr common.Address) (*registry.Registry, error) {
	data, ok, err := s.get(registryKey(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to get registry: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return registry.Decode(data)
}

// LoadAccount loads an account from Pebble
// Returns nil if account doesn't exist
func (s *PebbleStore) LoadAccount(addr common.Address) (*account.Account, error) {
	data, ok, err := s.get(accountKey(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var acc account.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return &acc, nil
}

// LoadRecentReceipts returns up to limit receipts, newest first.
func (s *PebbleStore) LoadRecentReceipts(limit int) ([]*transaction.Receipt, error) {
	prefix := []byte(prefixReceipt)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open receipt iterator: %w", err)
	}
	defer iter.Close()

	receipts := []*transaction.Receipt{}
	for iter.Last(); iter.Valid() && len(receipts) < limit; iter.Prev() {
		var r transaction.Receipt
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal receipt %s: %w", iter.Key(), err)
		}
		receipts = append(receipts, &r)
	}
	return receipts, iter.Error()
}

// LastReceiptSeq returns the sequence of the newest receipt, or 0 if none.
func (s *PebbleStore) LastReceiptSeq() (uint64, error) {
	prefix := []byte(prefixReceipt)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to open receipt iterator: %w", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseReceiptKey(iter.Key())
}

var _ account.Loader = (*PebbleStore)(nil)

// Batch collects writes that commit together.
type Batch struct {
	batch *pebble.Batch
}

func (s *PebbleStore) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

func (b *Batch) SaveRegistry(addr common.Address, r *registry.Registry) error {
	data, err := registry.Encode(r)
	if err != nil {
		return err
	}
	return b.batch.Set(registryKey(addr), data, nil)
}

func (b *Batch) SaveAccount(acc *account.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	return b.batch.Set(accountKey(acc.Address), data, nil)
}

func (b *Batch) SaveReceipt(r *transaction.Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}
	if r.Seq == 0 {
		return fmt.Errorf("receipt %s has no sequence", r.ID)
	}
	return b.batch.Set(receiptKey(r.Seq), data, nil)
}

// Commit writes the batch to Pebble atomically and syncs it.
func (b *Batch) Commit() error {
	if err := b.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Close releases the batch; uncommitted writes are dropped.
func (b *Batch) Close() error {
	return b.batch.Close()
}
