package auction

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperbid/params"
	"github.com/uhyunpark/hyperbid/pkg/app/core/account"
	"github.com/uhyunpark/hyperbid/pkg/app/core/amount"
	"github.com/uhyunpark/hyperbid/pkg/app/core/registry"
	"github.com/uhyunpark/hyperbid/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperbid/pkg/crypto"
	"github.com/uhyunpark/hyperbid/pkg/metrics"
	"github.com/uhyunpark/hyperbid/pkg/storage"
	"github.com/uhyunpark/hyperbid/pkg/util"
)

// App is the single writer for one registry and its accounts.
//
// Every command runs under mu against a clone of the committed registry and a
// staged account overlay. Only a successful command is persisted, in one
// pebble batch, after which the in-memory state is swapped.
type App struct {
	mu sync.Mutex

	program  *registry.Program
	verifier *transaction.Verifier
	domain   crypto.EIP712Domain
	store    *storage.PebbleStore
	accounts *account.Manager
	clock    util.Clock
	logger   *zap.SugaredLogger

	seed         string
	registryAddr common.Address
	bump         uint8
	reg          *registry.Registry // nil until Initialize commits

	receiptSeq uint64 // sequence of the last committed receipt

	onCommit func(Commit)
}

// Commit is passed to the commit hook: the receipt and, for commands that
// change an item, a copy of that item as of this commit.
type Commit struct {
	Receipt *transaction.Receipt
	Item    *registry.Item
}

type Option func(*App)

func WithClock(c util.Clock) Option {
	return func(a *App) { a.clock = c }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(a *App) { a.logger = l }
}

// NewApp opens the ledger described by cfg on store, loading any registry
// already persisted at its derived address.
func NewApp(cfg params.Ledger, store *storage.PebbleStore, opts ...Option) (*App, error) {
	addr, bump, err := crypto.FindProgramAddress([][]byte{[]byte(cfg.RegistrySeed)}, cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive registry address: %w", err)
	}

	domain := crypto.DefaultDomain(cfg.ChainID, cfg.ProgramID)
	a := &App{
		program:      registry.NewProgram(cfg.Params()),
		verifier:     transaction.NewVerifier(domain),
		domain:       domain,
		store:        store,
		accounts:     account.NewManager(store),
		clock:        util.RealClock{},
		logger:       zap.NewNop().Sugar(),
		seed:         cfg.RegistrySeed,
		registryAddr: addr,
		bump:         bump,
	}
	for _, opt := range opts {
		opt(a)
	}

	reg, err := store.LoadRegistry(addr)
	if err != nil {
		return nil, err
	}
	if reg != nil {
		if err := reg.Validate(); err != nil {
			return nil, fmt.Errorf("stored registry is invalid: %w", err)
		}
		if reg.Seed != cfg.RegistrySeed || reg.Bump != bump {
			return nil, fmt.Errorf("stored registry was derived from seed %q bump %d, config gives %q bump %d",
				reg.Seed, reg.Bump, cfg.RegistrySeed, bump)
		}
	}
	a.reg = reg

	if a.receiptSeq, err = store.LastReceiptSeq(); err != nil {
		return nil, err
	}

	items := 0
	if reg != nil {
		items = len(reg.Items)
		a.recordRegistrySize()
	}
	a.logger.Infow("app_loaded",
		"registry", addr.Hex(),
		"bump", bump,
		"initialized", reg != nil,
		"items", items,
	)
	return a, nil
}

// SetOnCommit registers fn to be called after each commit, outside the lock.
func (a *App) SetOnCommit(fn func(Commit)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onCommit = fn
}

type execution struct {
	registry *registry.Registry // nil when the registry is untouched
	accounts *account.Tx
	receipt  *transaction.Receipt
	item     *registry.Item // item changed by the command, if any
}

// Submit verifies, executes and commits a signed command.
func (a *App) Submit(tx *transaction.SignedTransaction) (*transaction.Receipt, error) {
	start := time.Now()
	cmd, err := a.verifier.Verify(tx)
	if err != nil {
		metrics.RecordCommand(string(tx.Type), "InvalidSignature", time.Since(start))
		a.logger.Warnw("cmd_rejected", "type", tx.Type, "signer", tx.Signer, "err", err)
		return nil, err
	}

	a.mu.Lock()
	ex, err := a.execute(cmd)
	if err == nil {
		err = a.commit(ex)
	}
	hook := a.onCommit
	a.mu.Unlock()

	if err != nil {
		metrics.RecordCommand(string(cmd.Type), failureKind(err), time.Since(start))
		a.logger.Warnw("cmd_failed",
			"type", cmd.Type,
			"signer", cmd.Signer.Hex(),
			"nonce", cmd.Nonce,
			"kind", registry.Kind(err),
			"err", err,
		)
		return nil, err
	}

	metrics.RecordCommand(string(cmd.Type), "committed", time.Since(start))
	r := ex.receipt
	a.logger.Infow("cmd_committed",
		"type", r.Type,
		"signer", r.Signer.Hex(),
		"nonce", r.Nonce,
		"item", r.ItemID,
		"amount", r.Amount.String(),
		"receipt", r.ID,
	)
	if hook != nil {
		hook(Commit{Receipt: r, Item: ex.item})
	}
	return r, nil
}

// Simulate verifies and executes tx without committing anything.
func (a *App) Simulate(tx *transaction.SignedTransaction) (*transaction.Receipt, error) {
	cmd, err := a.verifier.Verify(tx)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	ex, err := a.execute(cmd)
	if err != nil {
		return nil, err
	}
	return ex.receipt, nil
}

func (a *App) execute(cmd *transaction.Command) (*execution, error) {
	tx := a.accounts.Begin()
	signer, err := tx.Get(cmd.Signer)
	if err != nil {
		return nil, err
	}
	if cmd.Nonce <= signer.Nonce {
		return nil, fmt.Errorf("%w: got %d, last committed %d", transaction.ErrStaleNonce, cmd.Nonce, signer.Nonce)
	}

	ledger := &hostLedger{tx: tx, programID: a.program.Params().ProgramID, signer: cmd.Signer}
	rcpt := a.newReceipt(cmd.Type, cmd.Signer)
	rcpt.Nonce = cmd.Nonce

	var reg *registry.Registry
	if cmd.Type == transaction.TxTypeInitialize {
		if a.reg != nil {
			return nil, fmt.Errorf("%w at %s", registry.ErrAlreadyInitialized, a.registryAddr.Hex())
		}
		if reg, err = a.program.Initialize(cmd.Signer, a.seed, a.bump); err != nil {
			return nil, err
		}
	} else {
		if a.reg == nil {
			return nil, registry.ErrNotInitialized
		}
		reg = a.reg.Clone()
		if err := a.apply(reg, ledger, cmd, rcpt); err != nil {
			return nil, err
		}
	}

	if err := tx.SetNonce(cmd.Signer, cmd.Nonce); err != nil {
		return nil, err
	}
	if rcpt.RegistryHash, err = registryHash(reg); err != nil {
		return nil, err
	}
	ex := &execution{registry: reg, accounts: tx, receipt: rcpt}
	switch cmd.Type {
	case transaction.TxTypeAddItem, transaction.TxTypePlaceBid, transaction.TxTypeCloseItem:
		item, err := reg.FindItem(rcpt.ItemID)
		if err != nil {
			return nil, err
		}
		snapshot := item.Clone()
		ex.item = &snapshot
	}
	return ex, nil
}

func (a *App) apply(reg *registry.Registry, ledger registry.Ledger, cmd *transaction.Command, rcpt *transaction.Receipt) error {
	switch cmd.Type {
	case transaction.TxTypeAddItem:
		item, err := a.program.AddItem(reg, cmd.Signer, cmd.Description, cmd.StartingPrice)
		if err != nil {
			return err
		}
		rcpt.ItemID = item.ID
		rcpt.Amount = item.StartingPrice

	case transaction.TxTypePlaceBid:
		bid, err := a.program.PlaceBid(reg, ledger, cmd.Signer, cmd.ItemID, cmd.Amount)
		if err != nil {
			return err
		}
		rcpt.ItemID = cmd.ItemID
		rcpt.Amount = bid.Amount
		rcpt.Fee = a.program.Params().ListingFee

	case transaction.TxTypeCloseItem:
		winner, err := a.program.CloseItem(reg, cmd.Signer, cmd.ItemID)
		if err != nil {
			return err
		}
		rcpt.ItemID = cmd.ItemID
		rcpt.Amount = winner.Amount
		rcpt.Winner = &winner.Bidder

	case transaction.TxTypeRedeemEscrow:
		payout, err := a.program.RedeemEscrow(reg, ledger, cmd.Signer, cmd.Amount)
		if err != nil {
			return err
		}
		rcpt.Amount = cmd.Amount
		rcpt.Payout = payout

	default:
		return fmt.Errorf("%w: unknown transaction type %q", transaction.ErrMalformed, cmd.Type)
	}
	return nil
}

func (a *App) commit(ex *execution) error {
	b := a.store.NewBatch()
	defer b.Close()

	if ex.registry != nil {
		if err := b.SaveRegistry(a.registryAddr, ex.registry); err != nil {
			return err
		}
	}
	for _, acc := range ex.accounts.Touched() {
		if err := b.SaveAccount(acc); err != nil {
			return err
		}
	}
	ex.receipt.Seq = a.receiptSeq + 1
	if err := b.SaveReceipt(ex.receipt); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return err
	}
	a.receiptSeq = ex.receipt.Seq

	if ex.registry != nil {
		a.reg = ex.registry
		a.recordRegistrySize()
	}
	a.accounts.Apply(ex.accounts)
	return nil
}

func (a *App) recordRegistrySize() {
	if size, err := registry.EncodedSize(a.reg); err == nil {
		metrics.SetRegistrySize(len(a.reg.Items), size)
	}
}

func failureKind(err error) string {
	if errors.Is(err, transaction.ErrStaleNonce) {
		return "StaleNonce"
	}
	return registry.Kind(err)
}

func (a *App) newReceipt(typ transaction.TxType, signer common.Address) *transaction.Receipt {
	return &transaction.Receipt{
		ID:        uuid.NewString(),
		Type:      typ,
		Signer:    signer,
		Timestamp: a.clock.Now().UnixNano(),
	}
}

func registryHash(reg *registry.Registry) (common.Hash, error) {
	if reg == nil {
		return common.Hash{}, nil
	}
	data, err := registry.Encode(reg)
	if err != nil {
		return common.Hash{}, err
	}
	return ethcrypto.Keccak256Hash(data), nil
}

// Faucet credits addr with native and token balances. Devnet only.
func (a *App) Faucet(addr common.Address, native, token amount.Amount) (*transaction.Receipt, error) {
	a.mu.Lock()
	tx := a.accounts.Begin()
	err := tx.Credit(addr, native, token)
	rcpt := a.newReceipt(transaction.ReceiptTypeFaucet, addr)
	rcpt.Amount = native
	rcpt.Payout = token
	if err == nil {
		rcpt.RegistryHash, err = registryHash(a.reg)
	}
	if err == nil {
		err = a.commit(&execution{accounts: tx, receipt: rcpt})
	}
	hook := a.onCommit
	a.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("faucet: %w", err)
	}
	a.logger.Infow("faucet_credited", "address", addr.Hex(), "native", native.String(), "token", token.String())
	if hook != nil {
		hook(Commit{Receipt: rcpt})
	}
	return rcpt, nil
}

// Registry returns a copy of the committed registry.
func (a *App) Registry() (*registry.Registry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reg == nil {
		return nil, registry.ErrNotInitialized
	}
	return a.reg.Clone(), nil
}

// Item returns a copy of one committed item.
func (a *App) Item(id uint64) (registry.Item, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reg == nil {
		return registry.Item{}, registry.ErrNotInitialized
	}
	item, err := a.reg.FindItem(id)
	if err != nil {
		return registry.Item{}, err
	}
	return item.Clone(), nil
}

// Account returns the committed state of addr.
func (a *App) Account(addr common.Address) (account.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accounts.Get(addr)
}

// RegistryAddress is where the registry is stored. It is also the escrow
// account: the program signs for it with the registry's seed and bump.
func (a *App) RegistryAddress() common.Address {
	return a.registryAddr
}

func (a *App) Bump() uint8 {
	return a.bump
}

func (a *App) Params() registry.Params {
	return a.program.Params()
}

// Domain is the EIP-712 domain commands must be signed under.
func (a *App) Domain() crypto.EIP712Domain {
	return a.domain
}

// RecentReceipts returns up to limit committed receipts, newest first.
func (a *App) RecentReceipts(limit int) ([]*transaction.Receipt, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	return a.store.LoadRecentReceipts(limit)
}
