package transaction

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbid/pkg/app/core/amount"
	"github.com/uhyunpark/hyperbid/pkg/crypto"
)

var testDomain = crypto.DefaultDomain(1337, common.HexToAddress("0x00000000000000000000000000000000000b1d01"))

func signTest(t *testing.T, key *crypto.Signer, cmd Command) *SignedTransaction {
	t.Helper()
	tx, err := Sign(crypto.NewEIP712Signer(testDomain), key, cmd)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

func TestVerify_AllCommandTypes(t *testing.T) {
	key, _ := crypto.GenerateKey()
	v := NewVerifier(testDomain)

	cmds := []Command{
		{Type: TxTypeInitialize, Nonce: 1},
		{Type: TxTypeAddItem, Nonce: 2, Description: "https://example.com/lot/1", StartingPrice: amount.MustParse("1.0")},
		{Type: TxTypePlaceBid, Nonce: 3, ItemID: 1, Amount: amount.MustParse("2.5")},
		{Type: TxTypeCloseItem, Nonce: 4, ItemID: 1},
		{Type: TxTypeRedeemEscrow, Nonce: 5, Amount: amount.MustParse("0.1")},
	}

	for _, want := range cmds {
		t.Run(string(want.Type), func(t *testing.T) {
			tx := signTest(t, key, want)

			// Through the wire format and back.
			data, err := tx.Serialize()
			if err != nil {
				t.Fatal(err)
			}
			parsed, err := ParseTransaction(data)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}

			got, err := v.Verify(parsed)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			want.Signer = key.Address()
			if *got != want {
				t.Errorf("command = %+v, want %+v", *got, want)
			}
		})
	}
}

func TestVerify_TamperedPayload(t *testing.T) {
	key, _ := crypto.GenerateKey()
	v := NewVerifier(testDomain)

	tx := signTest(t, key, Command{Type: TxTypePlaceBid, Nonce: 1, ItemID: 1, Amount: amount.MustParse("2")})
	tx.PlaceBid.Amount = "200"

	if _, err := v.Verify(tx); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerify_WrongClaimedSigner(t *testing.T) {
	key, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	v := NewVerifier(testDomain)

	tx := signTest(t, key, Command{Type: TxTypeCloseItem, Nonce: 1, ItemID: 1})
	tx.Signer = other.Address().Hex()

	if _, err := v.Verify(tx); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerify_OtherDomain(t *testing.T) {
	key, _ := crypto.GenerateKey()
	tx := signTest(t, key, Command{Type: TxTypeInitialize, Nonce: 1})

	v := NewVerifier(crypto.DefaultDomain(1, testDomain.VerifyingContract))
	if _, err := v.Verify(tx); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerify_BadSignatureEncoding(t *testing.T) {
	key, _ := crypto.GenerateKey()
	v := NewVerifier(testDomain)
	tx := signTest(t, key, Command{Type: TxTypeInitialize, Nonce: 1})

	tx.Signature = "0x1234"
	if _, err := v.Verify(tx); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("short signature: err = %v", err)
	}

	tx.Signature = "0x" + strings.Repeat("zz", 65)
	if _, err := v.Verify(tx); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("non-hex signature: err = %v", err)
	}
}

func TestParseTransaction_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"missing type", `{"signer":"0x00000000000000000000000000000000000000aa","nonce":"1","signature":"0x00"}`},
		{"unknown type", `{"type":"mint","signer":"0x00000000000000000000000000000000000000aa","nonce":"1","signature":"0x00"}`},
		{"bad signer", `{"type":"initialize","signer":"alice","nonce":"1","signature":"0x00"}`},
		{"bad nonce", `{"type":"initialize","signer":"0x00000000000000000000000000000000000000aa","nonce":"-1","signature":"0x00"}`},
		{"missing payload", `{"type":"place_bid","signer":"0x00000000000000000000000000000000000000aa","nonce":"1","signature":"0x00"}`},
		{"extra payload", `{"type":"initialize","signer":"0x00000000000000000000000000000000000000aa","nonce":"1","closeItem":{"itemId":1},"signature":"0x00"}`},
		{"missing signature", `{"type":"initialize","signer":"0x00000000000000000000000000000000000000aa","nonce":"1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTransaction([]byte(tt.data)); !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestCommand_BadAmount(t *testing.T) {
	tx := &SignedTransaction{
		Type:      TxTypePlaceBid,
		Signer:    "0x00000000000000000000000000000000000000aa",
		Nonce:     "1",
		PlaceBid:  &PlaceBidPayload{ItemID: 1, Amount: "1.0000000001"},
		Signature: "0x00",
	}
	if _, err := tx.Command(); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestValidate_DescriptionMustBeUTF8(t *testing.T) {
	tx := &SignedTransaction{
		Type:      TxTypeAddItem,
		Signer:    "0x00000000000000000000000000000000000000aa",
		Nonce:     "1",
		AddItem:   &AddItemPayload{Description: "lot\xff", StartingPrice: "1"},
		Signature: "0x00",
	}
	if err := tx.Validate(); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}

	tx.AddItem.Description = "lot 7"
	if err := tx.Validate(); err != nil {
		t.Errorf("valid description rejected: %v", err)
	}
}
