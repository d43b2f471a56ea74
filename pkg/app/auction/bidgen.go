package auction

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperbid/pkg/app/core/amount"
	"github.com/uhyunpark/hyperbid/pkg/app/core/registry"
	"github.com/uhyunpark/hyperbid/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperbid/pkg/crypto"
)

// BidGenerator signs bids for a set of simulated bidders.
type BidGenerator struct {
	bidders []*crypto.Signer
	nonces  map[common.Address]uint64
	rng     *rand.Rand
	eip712  *crypto.EIP712Signer
}

func NewBidGenerator(numBidders int, domain crypto.EIP712Domain, seed int64) (*BidGenerator, error) {
	g := &BidGenerator{
		bidders: make([]*crypto.Signer, numBidders),
		nonces:  make(map[common.Address]uint64, numBidders),
		rng:     rand.New(rand.NewSource(seed)),
		eip712:  crypto.NewEIP712Signer(domain),
	}
	for i := range g.bidders {
		signer, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		g.bidders[i] = signer
	}
	return g, nil
}

func (g *BidGenerator) Bidders() []*crypto.Signer {
	return g.bidders
}

// NextBid signs a bid by a random bidder on a random open item, for between
// one and two times its starting price. It returns false when no item is open.
func (g *BidGenerator) NextBid(items []registry.Item) (*transaction.SignedTransaction, bool, error) {
	open := make([]*registry.Item, 0, len(items))
	for i := range items {
		if items[i].Open {
			open = append(open, &items[i])
		}
	}
	if len(open) == 0 || len(g.bidders) == 0 {
		return nil, false, nil
	}

	item := open[g.rng.Intn(len(open))]
	signer := g.bidders[g.rng.Intn(len(g.bidders))]

	bid := item.StartingPrice
	if bid > 0 {
		extra := amount.Amount(g.rng.Int63n(int64(min(uint64(bid), 1<<62)) + 1))
		if sum, err := bid.Add(extra); err == nil {
			bid = sum
		}
	}

	g.nonces[signer.Address()]++
	tx, err := transaction.Sign(g.eip712, signer, transaction.Command{
		Type:   transaction.TxTypePlaceBid,
		Nonce:  g.nonces[signer.Address()],
		ItemID: item.ID,
		Amount: bid,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to sign bid: %w", err)
	}
	return tx, true, nil
}

// FeederConfig controls the devnet bid feeder.
type FeederConfig struct {
	Bidders    int
	Interval   time.Duration
	FundNative amount.Amount
	FundToken  amount.Amount
}

func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		Bidders:    5,
		Interval:   2 * time.Second,
		FundNative: amount.MustParse("10"),
		FundToken:  amount.MustParse("1000"),
	}
}

// StartBidFeeder funds cfg.Bidders simulated bidders through the faucet and
// then submits one bid per interval until ctx is done.
func StartBidFeeder(ctx context.Context, app *App, cfg FeederConfig, logger *zap.SugaredLogger) (context.CancelFunc, error) {
	gen, err := NewBidGenerator(cfg.Bidders, app.Domain(), time.Now().UnixNano())
	if err != nil {
		return nil, err
	}
	for _, b := range gen.Bidders() {
		if _, err := app.Faucet(b.Address(), cfg.FundNative, cfg.FundToken); err != nil {
			return nil, err
		}
	}

	feedCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		accepted, rejected := 0, 0
		logger.Infow("bid_feeder_started", "bidders", cfg.Bidders, "interval", cfg.Interval)

		for {
			select {
			case <-feedCtx.Done():
				logger.Infow("bid_feeder_stopped", "accepted", accepted, "rejected", rejected)
				return

			case <-ticker.C:
				reg, err := app.Registry()
				if err != nil {
					continue // not initialized yet
				}
				tx, ok, err := gen.NextBid(reg.Items)
				if err != nil {
					logger.Warnw("bid_feeder_sign_failed", "err", err)
					continue
				}
				if !ok {
					continue
				}
				if _, err := app.Submit(tx); err != nil {
					rejected++
					continue
				}
				accepted++
			}
		}
	}()

	return cancel, nil
}
