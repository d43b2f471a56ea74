package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperbid/params"
	"github.com/uhyunpark/hyperbid/pkg/api"
	"github.com/uhyunpark/hyperbid/pkg/app/auction"
	"github.com/uhyunpark/hyperbid/pkg/storage"
	"github.com/uhyunpark/hyperbid/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	store, err := storage.NewPebbleStore(cfg.Node.DataDir)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "dir", cfg.Node.DataDir, "err", err)
	}
	defer store.Close()

	app, err := auction.NewApp(cfg.Ledger, store, auction.WithLogger(sugar))
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}

	sugar.Infow("node_starting",
		"program", cfg.Ledger.ProgramID.Hex(),
		"chain_id", cfg.Ledger.ChainID,
		"registry", app.RegistryAddress().Hex(),
		"bump", app.Bump(),
		"data_dir", cfg.Node.DataDir,
		"faucet", cfg.Node.FaucetEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(app, api.Config{
		FaucetEnabled: cfg.Node.FaucetEnabled,
		CORSOrigins:   cfg.Node.CORSOrigins,
	}, sugar)

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- apiServer.Start(ctx, cfg.Node.APIAddr)
	}()

	// ---- Bid Feeder (optional) ----
	// Enable with: DEMO_BIDDERS=5
	if cfg.Node.DemoBidders > 0 {
		feederCfg := auction.DefaultFeederConfig()
		feederCfg.Bidders = cfg.Node.DemoBidders
		cancelFeeder, err := auction.StartBidFeeder(ctx, app, feederCfg, sugar)
		if err != nil {
			sugar.Fatalw("bid_feeder_failed", "err", err)
		}
		defer cancelFeeder()
	}

	// Progress logging loop
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := <-apiErr; err != nil {
				sugar.Errorw("api_server_failed", "err", err)
			}
			sugar.Info("node_stopped")
			return
		case err := <-apiErr:
			sugar.Errorw("api_server_failed", "err", err)
			return
		case <-ticker.C:
			reg, err := app.Registry()
			if err != nil {
				sugar.Infow("ledger_status", "initialized", false)
				continue
			}
			open := 0
			for i := range reg.Items {
				if reg.Items[i].Open {
					open++
				}
			}
			sugar.Infow("ledger_status",
				"initialized", true,
				"items", len(reg.Items),
				"open_items", open,
			)
		}
	}
}
