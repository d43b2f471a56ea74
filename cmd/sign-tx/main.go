package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbid/params"
	"github.com/uhyunpark/hyperbid/pkg/app/core/amount"
	"github.com/uhyunpark/hyperbid/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperbid/pkg/crypto"
)

func main() {
	keyHex := flag.String("key", "", "Private key hex (generates a new key when empty)")
	txType := flag.String("type", "", "Command: initialize, add_item, place_bid, close_item, redeem_escrow")
	nonce := flag.Uint64("nonce", 1, "Nonce, greater than the signer's last committed nonce")
	desc := flag.String("desc", "", "Item description (add_item)")
	price := flag.String("price", "0", "Starting price (add_item)")
	itemID := flag.Uint64("item", 0, "Item id (place_bid, close_item)")
	amt := flag.String("amount", "0", "Bid or redemption amount (place_bid, redeem_escrow)")
	chainID := flag.Int64("chain-id", 0, "EIP-712 chain id (default from config)")
	program := flag.String("program", "", "Program id (default from config)")
	submit := flag.String("submit", "", "Node base URL to POST the signed command to, e.g. http://localhost:8080")
	flag.Parse()

	cfg := params.LoadFromEnv("")
	if *chainID != 0 {
		cfg.Ledger.ChainID = *chainID
	}
	if *program != "" {
		if !common.IsHexAddress(*program) {
			log.Fatalf("invalid program id %q", *program)
		}
		cfg.Ledger.ProgramID = common.HexToAddress(*program)
	}

	signer, err := loadKey(*keyHex)
	if err != nil {
		log.Fatalf("key: %v", err)
	}
	if *txType == "" {
		// Key generation only.
		fmt.Printf("Address: %s\n", signer.Address().Hex())
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
		return
	}

	cmd := transaction.Command{
		Type:        transaction.TxType(*txType),
		Signer:      signer.Address(),
		Nonce:       *nonce,
		Description: *desc,
		ItemID:      *itemID,
	}
	if cmd.StartingPrice, err = amount.Parse(*price); err != nil {
		log.Fatalf("price: %v", err)
	}
	if cmd.Amount, err = amount.Parse(*amt); err != nil {
		log.Fatalf("amount: %v", err)
	}

	domain := crypto.DefaultDomain(cfg.Ledger.ChainID, cfg.Ledger.ProgramID)
	tx, err := transaction.Sign(crypto.NewEIP712Signer(domain), signer, cmd)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}

	// Check the envelope the same way the node will.
	if _, err := transaction.NewVerifier(domain).Verify(tx); err != nil {
		log.Fatalf("verify: %v", err)
	}

	txJSON, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		log.Fatalf("marshal: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Signer: %s\n", signer.Address().Hex())
	fmt.Println(string(txJSON))

	if *submit != "" {
		if err := post(strings.TrimRight(*submit, "/")+"/api/v1/tx", txJSON); err != nil {
			log.Fatalf("submit: %v", err)
		}
	}
}

func loadKey(keyHex string) (*crypto.Signer, error) {
	if keyHex == "" {
		fmt.Fprintln(os.Stderr, "Generating new keypair...")
		return crypto.GenerateKey()
	}
	return crypto.FromPrivateKeyHex(keyHex)
}

func post(url string, body []byte) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", resp.Status, strings.TrimSpace(string(out)))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node returned %s", resp.Status)
	}
	return nil
}
