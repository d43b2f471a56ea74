package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/uhyunpark/hyperbid/params"
	"github.com/uhyunpark/hyperbid/pkg/app/auction"
	"github.com/uhyunpark/hyperbid/pkg/app/core/amount"
	"github.com/uhyunpark/hyperbid/pkg/app/core/registry"
	"github.com/uhyunpark/hyperbid/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperbid/pkg/crypto"
	"github.com/uhyunpark/hyperbid/pkg/storage"
	"github.com/uhyunpark/hyperbid/pkg/util"
)

type fixture struct {
	t      *testing.T
	app    *auction.App
	server *Server
	e      *crypto.EIP712Signer
	nonces map[*crypto.Signer]uint64
}

func newFixture(t *testing.T, faucet bool) *fixture {
	t.Helper()
	store, err := storage.NewPebbleStore(t.TempDir())
	assert.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	app, err := auction.NewApp(params.Default().Ledger, store,
		auction.WithClock(util.NewManualClock(time.Unix(1_700_000_000, 0), time.Millisecond)))
	assert.NoError(t, err)

	return &fixture{
		t:      t,
		app:    app,
		server: NewServer(app, Config{FaucetEnabled: faucet, CORSOrigins: []string{"*"}}, nil),
		e:      crypto.NewEIP712Signer(app.Domain()),
		nonces: make(map[*crypto.Signer]uint64),
	}
}

func (f *fixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		assert.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) signed(key *crypto.Signer, cmd transaction.Command) *transaction.SignedTransaction {
	f.t.Helper()
	f.nonces[key]++
	cmd.Nonce = f.nonces[key]
	tx, err := transaction.Sign(f.e, key, cmd)
	assert.NoError(f.t, err)
	return tx
}

func (f *fixture) submit(key *crypto.Signer, cmd transaction.Command) *httptest.ResponseRecorder {
	f.t.Helper()
	return f.do("POST", "/api/v1/tx", f.signed(key, cmd))
}

func (f *fixture) fund(key *crypto.Signer, native, token string) {
	f.t.Helper()
	_, err := f.app.Faucet(key.Address(), amount.MustParse(native), amount.MustParse(token))
	assert.NoError(f.t, err)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func newKey(t *testing.T) *crypto.Signer {
	t.Helper()
	k, err := crypto.GenerateKey()
	assert.NoError(t, err)
	return k
}

func TestSubmitAndQuery(t *testing.T) {
	f := newFixture(t, true)
	admin, bidder := newKey(t), newKey(t)

	rec := f.submit(admin, transaction.Command{Type: transaction.TxTypeInitialize})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.submit(admin, transaction.Command{Type: transaction.TxTypeAddItem, Description: "lamp", StartingPrice: amount.MustParse("1")})
	assert.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, uint64(1), decode[transaction.Receipt](t, rec).ItemID)

	rec = f.do("POST", "/api/v1/faucet", FaucetRequest{Address: bidder.Address().Hex(), Native: "1", Token: "10"})
	assert.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, transaction.ReceiptTypeFaucet, decode[transaction.Receipt](t, rec).Type)

	rec = f.submit(bidder, transaction.Command{Type: transaction.TxTypePlaceBid, ItemID: 1, Amount: amount.MustParse("3")})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do("GET", "/api/v1/items/1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	item := decode[ItemInfo](t, rec)
	check.Equal(t, "lamp", item.Description)
	check.True(t, item.Open)
	check.Equal(t, 1, len(item.Bids))
	assert.NotNil(t, item.HighestBid)
	check.Equal(t, bidder.Address(), item.HighestBid.Bidder)

	rec = f.do("GET", "/api/v1/accounts/"+bidder.Address().Hex(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	acc := decode[AccountInfo](t, rec)
	check.Equal(t, uint64(1), acc.Nonce)
	check.Equal(t, amount.MustParse("0.98"), acc.Native)
	check.Equal(t, amount.MustParse("7"), acc.Token)

	rec = f.do("GET", "/api/v1/registry", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	info := decode[RegistryInfo](t, rec)
	check.Equal(t, admin.Address(), info.Admin)
	check.Equal(t, uint64(1), info.BidCounter)
	check.Equal(t, f.app.RegistryAddress(), info.Address)
	check.True(t, info.SizeBytes > 0)
	check.Equal(t, registry.DefaultMaxRegistryBytes, info.MaxBytes)

	rec = f.submit(admin, transaction.Command{Type: transaction.TxTypeCloseItem, ItemID: 1})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do("GET", "/api/v1/items?open=true", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, 0, len(decode[[]ItemInfo](t, rec)))

	rec = f.do("GET", "/api/v1/items", nil)
	items := decode[[]ItemInfo](t, rec)
	check.Equal(t, 1, len(items))
	check.Equal(t, bidder.Address(), items[0].Owner)
}

func TestErrorStatusAndCode(t *testing.T) {
	f := newFixture(t, false)
	admin, other := newKey(t), newKey(t)

	rec := f.do("GET", "/api/v1/registry", nil)
	check.Equal(t, http.StatusConflict, rec.Code)
	check.Equal(t, "NotInitialized", decode[ErrorResponse](t, rec).Code)

	assert.Equal(t, http.StatusOK, f.submit(admin, transaction.Command{Type: transaction.TxTypeInitialize}).Code)
	assert.Equal(t, http.StatusOK, f.submit(admin, transaction.Command{Type: transaction.TxTypeAddItem, Description: "x", StartingPrice: amount.MustParse("5")}).Code)

	cases := []struct {
		name   string
		key    *crypto.Signer
		cmd    transaction.Command
		status int
		code   string
	}{
		{"non-admin add", other, transaction.Command{Type: transaction.TxTypeAddItem, Description: "y"}, http.StatusForbidden, "Unauthorized"},
		{"missing item", other, transaction.Command{Type: transaction.TxTypePlaceBid, ItemID: 9, Amount: 10}, http.StatusNotFound, "ItemNotFound"},
		{"too low", other, transaction.Command{Type: transaction.TxTypePlaceBid, ItemID: 1, Amount: amount.MustParse("4")}, http.StatusUnprocessableEntity, "BidTooLow"},
		{"unfunded", other, transaction.Command{Type: transaction.TxTypePlaceBid, ItemID: 1, Amount: amount.MustParse("6")}, http.StatusUnprocessableEntity, "TransferFailed"},
		{"no bids", admin, transaction.Command{Type: transaction.TxTypeCloseItem, ItemID: 1}, http.StatusConflict, "NoBids"},
		{"reinitialize", admin, transaction.Command{Type: transaction.TxTypeInitialize}, http.StatusConflict, "AlreadyInitialized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.submit(tc.key, tc.cmd)
			check.Equal(t, tc.status, rec.Code)
			check.Equal(t, tc.code, decode[ErrorResponse](t, rec).Code)
		})
	}

	// Replay a transaction that was already committed.
	f.nonces[admin] = 0
	rec = f.submit(admin, transaction.Command{Type: transaction.TxTypeInitialize})
	check.Equal(t, http.StatusConflict, rec.Code)
	check.Equal(t, "StaleNonce", decode[ErrorResponse](t, rec).Code)

	tx := f.signed(other, transaction.Command{Type: transaction.TxTypeCloseItem, ItemID: 1})
	tx.Signer = admin.Address().Hex()
	rec = f.do("POST", "/api/v1/tx", tx)
	check.Equal(t, http.StatusUnauthorized, rec.Code)
	check.Equal(t, "InvalidSignature", decode[ErrorResponse](t, rec).Code)

	req := httptest.NewRequest("POST", "/api/v1/tx", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(raw, req)
	check.Equal(t, http.StatusBadRequest, raw.Code)
	check.Equal(t, "Malformed", decode[ErrorResponse](t, raw).Code)

	check.Equal(t, http.StatusBadRequest, f.do("GET", "/api/v1/accounts/nothex", nil).Code)
	check.Equal(t, http.StatusBadRequest, f.do("GET", "/api/v1/receipts?limit=0", nil).Code)

	// Faucet route is absent when disabled.
	check.Equal(t, http.StatusNotFound, f.do("POST", "/api/v1/faucet", FaucetRequest{Address: other.Address().Hex(), Native: "1"}).Code)
}

func TestSimulateLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, false)
	admin := newKey(t)

	rec := f.do("POST", "/api/v1/tx/simulate", f.signed(admin, transaction.Command{Type: transaction.TxTypeInitialize}))
	assert.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, transaction.TxTypeInitialize, decode[transaction.Receipt](t, rec).Type)

	check.Equal(t, http.StatusConflict, f.do("GET", "/api/v1/registry", nil).Code)
	acc := decode[AccountInfo](t, f.do("GET", "/api/v1/accounts/"+admin.Address().Hex(), nil))
	check.Equal(t, uint64(0), acc.Nonce)

	// The simulated nonce is still usable.
	f.nonces[admin] = 0
	check.Equal(t, http.StatusOK, f.submit(admin, transaction.Command{Type: transaction.TxTypeInitialize}).Code)
}

func TestEscrowAndReceipts(t *testing.T) {
	f := newFixture(t, true)
	admin, user := newKey(t), newKey(t)
	assert.Equal(t, http.StatusOK, f.submit(admin, transaction.Command{Type: transaction.TxTypeInitialize}).Code)

	escrow := f.app.RegistryAddress()
	rec := f.do("POST", "/api/v1/faucet", FaucetRequest{Address: escrow.Hex(), Token: "100"})
	assert.Equal(t, http.StatusOK, rec.Code)
	f.fund(user, "2", "0")

	rec = f.submit(user, transaction.Command{Type: transaction.TxTypeRedeemEscrow, Amount: amount.MustParse("1.5")})
	assert.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, amount.MustParse("6"), decode[transaction.Receipt](t, rec).Payout)

	rec = f.do("GET", "/api/v1/escrow", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	info := decode[EscrowInfo](t, rec)
	check.Equal(t, escrow, info.Address)
	check.Equal(t, f.app.Bump(), info.Bump)
	check.Equal(t, amount.MustParse("94"), info.Token)

	rec = f.do("GET", "/api/v1/receipts?limit=2", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	receipts := decode[[]transaction.Receipt](t, rec)
	check.Equal(t, 2, len(receipts))
	check.Equal(t, transaction.TxTypeRedeemEscrow, receipts[0].Type)
	check.Equal(t, transaction.ReceiptTypeFaucet, receipts[1].Type)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do("GET", "/health", nil)
	check.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, rec))

	assert.Equal(t, http.StatusOK, f.submit(newKey(t), transaction.Command{Type: transaction.TxTypeInitialize}).Code)
	rec = f.do("GET", "/metrics", nil)
	check.Equal(t, http.StatusOK, rec.Code)
	check.True(t, strings.Contains(rec.Body.String(), `hyperbid_ledger_commands_total{result="committed",type="initialize"}`))
}

func TestWebSocketFeed(t *testing.T) {
	f := newFixture(t, false)
	admin := newKey(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.server.hub.Run(ctx)

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	assert.NoError(t, err)
	defer conn.Close()

	assert.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{"receipts", "item:1"}}))
	waitSubscribed(t, f.server.hub, "item:1")

	assert.Equal(t, http.StatusOK, f.submit(admin, transaction.Command{Type: transaction.TxTypeInitialize}).Code)
	assert.Equal(t, http.StatusOK, f.submit(admin, transaction.Command{Type: transaction.TxTypeAddItem, Description: "vase", StartingPrice: 1}).Code)

	var got []string
	for len(got) < 3 {
		assert.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		assert.NoError(t, conn.ReadJSON(&msg))
		got = append(got, msg.Type)
		if msg.Type == "item" {
			var item ItemInfo
			assert.NoError(t, json.Unmarshal(msg.Data, &item))
			check.Equal(t, "vase", item.Description)
		}
	}
	check.Equal(t, []string{"receipt", "receipt", "item"}, got)
}

func waitSubscribed(t *testing.T, h *Hub, channel string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		for c := range h.clients {
			if c.IsSubscribed(channel) {
				h.mu.RUnlock()
				return
			}
		}
		h.mu.RUnlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no client subscribed to %s", channel)
}

func TestClassify(t *testing.T) {
	status, code := classify(fmt.Errorf("%w: item 3", registry.ErrBiddingClosed))
	check.Equal(t, http.StatusConflict, status)
	check.Equal(t, "BiddingClosed", code)

	status, code = classify(fmt.Errorf("%w: too big", registry.ErrStorageCapacityExceeded))
	check.Equal(t, http.StatusUnprocessableEntity, status)
	check.Equal(t, "StorageCapacityExceeded", code)

	status, code = classify(fmt.Errorf("disk on fire"))
	check.Equal(t, http.StatusInternalServerError, status)
	check.Equal(t, "Internal", code)
}

func TestCORSCredentialsOnlyForExplicitOrigins(t *testing.T) {
	f := newFixture(t, false)
	get := func(s *Server, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	// Wildcard: any origin, no credentials.
	rec := get(f.server, "http://evil.example")
	check.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	check.Equal(t, "", rec.Header().Get("Access-Control-Allow-Credentials"))

	pinned := &Server{cfg: Config{CORSOrigins: params.Default().Node.CORSOrigins}, router: f.server.router}
	rec = get(pinned, "http://localhost:3000")
	check.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	check.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = get(pinned, "http://evil.example")
	check.Equal(t, "", rec.Header().Get("Access-Control-Allow-Origin"))
}
