package account

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbid/pkg/app/core/amount"
)

// Loader reads persisted accounts. LoadAccount returns nil, nil for unknown addresses.
type Loader interface {
	LoadAccount(addr common.Address) (*Account, error)
}

// Manager caches committed accounts in memory in front of a Loader.
// Changes are made through a Tx and become visible only on Apply.
type Manager struct {
	mu       sync.RWMutex
	accounts map[common.Address]*Account
	loader   Loader
}

// NewManager creates a manager. loader may be nil for a purely in-memory ledger.
func NewManager(loader Loader) *Manager {
	return &Manager{
		accounts: make(map[common.Address]*Account),
		loader:   loader,
	}
}

// Get returns a copy of the committed account, zero-valued if unknown.
func (m *Manager) Get(addr common.Address) (Account, error) {
	acc, err := m.committed(addr)
	if err != nil {
		return Account{}, err
	}
	return *acc, nil
}

// committed returns the cached account, loading it on first use.
// The result must not be mutated.
func (m *Manager) committed(addr common.Address) (*Account, error) {
	m.mu.RLock()
	acc, ok := m.accounts[addr]
	m.mu.RUnlock()
	if ok {
		return acc, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if acc, ok := m.accounts[addr]; ok {
		return acc, nil
	}

	if m.loader != nil {
		loaded, err := m.loader.LoadAccount(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to load account %s: %w", addr.Hex(), err)
		}
		acc = loaded
	}
	if acc == nil {
		acc = NewAccount(addr)
	}
	m.accounts[addr] = acc
	return acc, nil
}

// Begin starts a staged set of changes.
func (m *Manager) Begin() *Tx {
	return &Tx{m: m, staged: make(map[common.Address]*Account)}
}

// Apply publishes the staged accounts of tx. Call it only after the same
// accounts have been persisted.
func (m *Manager) Apply(tx *Tx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, acc := range tx.staged {
		m.accounts[addr] = acc
	}
}

// Tx is a copy-on-write overlay over committed accounts.
// A Tx is not safe for concurrent use; discarding it discards its changes.
type Tx struct {
	m      *Manager
	staged map[common.Address]*Account
}

// account returns the staged copy of addr for modification.
func (tx *Tx) account(addr common.Address) (*Account, error) {
	if acc, ok := tx.staged[addr]; ok {
		return acc, nil
	}
	committed, err := tx.m.committed(addr)
	if err != nil {
		return nil, err
	}
	acc := committed.clone()
	tx.staged[addr] = acc
	return acc, nil
}

// Get returns a copy of addr as seen inside this Tx.
func (tx *Tx) Get(addr common.Address) (Account, error) {
	if acc, ok := tx.staged[addr]; ok {
		return *acc, nil
	}
	return tx.m.Get(addr)
}

// TransferNative moves amt native currency. On error nothing changes.
func (tx *Tx) TransferNative(from, to common.Address, amt amount.Amount) error {
	return tx.transfer(from, to, amt, "native", func(a *Account) *amount.Amount { return &a.Native })
}

// TransferToken moves amt tokens. On error nothing changes.
func (tx *Tx) TransferToken(from, to common.Address, amt amount.Amount) error {
	return tx.transfer(from, to, amt, "token", func(a *Account) *amount.Amount { return &a.Token })
}

func (tx *Tx) transfer(from, to common.Address, amt amount.Amount, what string, field func(*Account) *amount.Amount) error {
	src, err := tx.account(from)
	if err != nil {
		return err
	}
	dst, err := tx.account(to)
	if err != nil {
		return err
	}

	if from == to {
		if *field(src) < amt {
			return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientFunds, from.Hex(), *field(src), what, amt)
		}
		return nil
	}

	srcBal, dstBal := *field(src), *field(dst)
	if err := debit(&srcBal, amt, what, from); err != nil {
		return err
	}
	if err := credit(&dstBal, amt, what, to); err != nil {
		return err
	}
	*field(src), *field(dst) = srcBal, dstBal
	return nil
}

// Credit mints balances into addr.
func (tx *Tx) Credit(addr common.Address, native, token amount.Amount) error {
	acc, err := tx.account(addr)
	if err != nil {
		return err
	}
	n, t := acc.Native, acc.Token
	if err := credit(&n, native, "native", addr); err != nil {
		return err
	}
	if err := credit(&t, token, "token", addr); err != nil {
		return err
	}
	acc.Native, acc.Token = n, t
	return nil
}

// SetNonce records nonce as the last one committed for addr.
func (tx *Tx) SetNonce(addr common.Address, nonce uint64) error {
	acc, err := tx.account(addr)
	if err != nil {
		return err
	}
	acc.Nonce = nonce
	return nil
}

// Touched returns copies of every staged account, ordered by address.
func (tx *Tx) Touched() []*Account {
	out := make([]*Account, 0, len(tx.staged))
	for _, acc := range tx.staged {
		out = append(out, acc.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out
}
