package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/hyperbid/pkg/app/core/amount"
	"github.com/uhyunpark/hyperbid/pkg/app/core/registry"
)

// DefaultProgramID identifies this deployment in derived addresses and
// in the EIP-712 domain.
var DefaultProgramID = common.HexToAddress("0x00000000000000000000000000000000000b1d01")

type Ledger struct {
	ProgramID    common.Address
	RegistrySeed string // at most 32 bytes
	ChainID      int64

	ListingFee           amount.Amount
	RedemptionMultiplier uint64
	MaxRegistryBytes     int
}

type Node struct {
	DataDir       string
	APIAddr       string
	LogFile       string // empty logs to stdout only
	LogLevel      string
	FaucetEnabled bool
	CORSOrigins   []string
	DemoBidders   int // simulated bidders fed through the faucet; 0 disables
}

type Config struct {
	Ledger Ledger
	Node   Node
}

func Default() Config {
	return Config{
		Ledger: Ledger{
			ProgramID:            DefaultProgramID,
			RegistrySeed:         "bid1",
			ChainID:              1337,
			ListingFee:           registry.DefaultListingFee,
			RedemptionMultiplier: registry.DefaultRedemptionMultiplier,
			MaxRegistryBytes:     registry.DefaultMaxRegistryBytes,
		},
		Node: Node{
			DataDir:       "data/hyperbid",
			APIAddr:       ":8080",
			LogLevel:      "info",
			FaucetEnabled: false,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		},
	}
}

// Params returns the registry program parameters.
func (l Ledger) Params() registry.Params {
	return registry.Params{
		ProgramID:            l.ProgramID,
		ListingFee:           l.ListingFee,
		RedemptionMultiplier: l.RedemptionMultiplier,
		MaxRegistryBytes:     l.MaxRegistryBytes,
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if id := os.Getenv("PROGRAM_ID"); common.IsHexAddress(id) {
		cfg.Ledger.ProgramID = common.HexToAddress(id)
	}
	cfg.Ledger.RegistrySeed = getEnv("REGISTRY_SEED", cfg.Ledger.RegistrySeed)
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Ledger.ChainID = id
		}
	}
	if v := os.Getenv("LISTING_FEE"); v != "" {
		if fee, err := amount.Parse(v); err == nil {
			cfg.Ledger.ListingFee = fee
		}
	}
	if v := os.Getenv("REDEMPTION_MULTIPLIER"); v != "" {
		if m, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Ledger.RedemptionMultiplier = m
		}
	}
	if v := os.Getenv("MAX_REGISTRY_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Ledger.MaxRegistryBytes = n
		}
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	if v := os.Getenv("FAUCET_ENABLED"); v != "" {
		cfg.Node.FaucetEnabled = v == "true"
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Node.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("DEMO_BIDDERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Node.DemoBidders = n
		}
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
