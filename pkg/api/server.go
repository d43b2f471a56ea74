package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperbid/pkg/app/auction"
	"github.com/uhyunpark/hyperbid/pkg/app/core/amount"
	"github.com/uhyunpark/hyperbid/pkg/app/core/registry"
	"github.com/uhyunpark/hyperbid/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperbid/pkg/metrics"
)

const (
	maxBodyBytes        = 64 << 10
	defaultReceiptLimit = 50
	maxReceiptLimit     = 1000
)

// Config holds the server options that come from params.Node.
type Config struct {
	FaucetEnabled bool
	CORSOrigins   []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	app    *auction.App
	cfg    Config
	router *mux.Router
	hub    *Hub // WebSocket hub
	logger *zap.SugaredLogger
}

// NewServer creates a new API server and hooks it to the app's receipts.
func NewServer(app *auction.App, cfg Config, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		app:    app,
		cfg:    cfg,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		logger: logger,
	}
	s.setupRoutes()
	app.SetOnCommit(s.BroadcastCommit)
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(metrics.InstrumentHandler)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Commands
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/tx/simulate", s.handleSimulateTx).Methods("POST")
	if s.cfg.FaucetEnabled {
		api.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
	}

	// Registry endpoints
	api.HandleFunc("/registry", s.handleGetRegistry).Methods("GET")
	api.HandleFunc("/items", s.handleGetItems).Methods("GET")
	api.HandleFunc("/items/{id:[0-9]+}", s.handleGetItem).Methods("GET")
	api.HandleFunc("/escrow", s.handleGetEscrow).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/receipts", s.handleGetReceipts).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check and Prometheus scrape
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")
}

// Handler returns the router wrapped in CORS handling. Credentials are only
// allowed for an explicit origin list.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: !slices.Contains(s.cfg.CORSOrigins, "*"),
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down api: %w", err)
		}
		return nil
	}
}

// ==============================
// Command Handlers
// ==============================

func (s *Server) readTx(w http.ResponseWriter, r *http.Request) (*transaction.SignedTransaction, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed", "failed to read body: "+err.Error())
		return nil, false
	}
	tx, err := transaction.ParseTransaction(body)
	if err != nil {
		s.respondAppError(w, err)
		return nil, false
	}
	return tx, true
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.readTx(w, r)
	if !ok {
		return
	}
	rcpt, err := s.app.Submit(tx)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, rcpt)
}

func (s *Server) handleSimulateTx(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.readTx(w, r)
	if !ok {
		return
	}
	rcpt, err := s.app.Simulate(tx)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, rcpt)
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed", "invalid request body: "+err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "Malformed", "invalid address")
		return
	}
	native, err := parseOptionalAmount(req.Native)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed", "native: "+err.Error())
		return
	}
	token, err := parseOptionalAmount(req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed", "token: "+err.Error())
		return
	}

	rcpt, err := s.app.Faucet(common.HexToAddress(req.Address), native, token)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, rcpt)
}

func parseOptionalAmount(s string) (amount.Amount, error) {
	if s == "" {
		return 0, nil
	}
	return amount.Parse(s)
}

// ==============================
// Query Handlers
// ==============================

func (s *Server) handleGetRegistry(w http.ResponseWriter, r *http.Request) {
	reg, err := s.app.Registry()
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	size, err := registry.EncodedSize(reg)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	p := s.app.Params()
	respondJSON(w, RegistryInfo{
		Address:              s.app.RegistryAddress(),
		Admin:                reg.Admin,
		BidCounter:           reg.BidCounter,
		ItemCount:            len(reg.Items),
		Seed:                 reg.Seed,
		Bump:                 reg.Bump,
		ListingFee:           p.ListingFee,
		RedemptionMultiplier: p.RedemptionMultiplier,
		SizeBytes:            size,
		MaxBytes:             p.MaxRegistryBytes,
	})
}

func (s *Server) handleGetItems(w http.ResponseWriter, r *http.Request) {
	reg, err := s.app.Registry()
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	openOnly := r.URL.Query().Get("open") == "true"

	items := make([]ItemInfo, 0, len(reg.Items))
	for i := range reg.Items {
		if openOnly && !reg.Items[i].Open {
			continue
		}
		items = append(items, newItemInfo(&reg.Items[i]))
	}
	respondJSON(w, items)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Malformed", "invalid item id")
		return
	}
	item, err := s.app.Item(id)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, newItemInfo(&item))
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	addr := s.app.RegistryAddress()
	acc, err := s.app.Account(addr)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, EscrowInfo{
		Address: addr,
		Bump:    s.app.Bump(),
		Native:  acc.Native,
		Token:   acc.Token,
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "Malformed", "invalid address")
		return
	}

	acc, err := s.app.Account(common.HexToAddress(addressStr))
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, AccountInfo{
		Address: acc.Address,
		Nonce:   acc.Nonce,
		Native:  acc.Native,
		Token:   acc.Token,
	})
}

func (s *Server) handleGetReceipts(w http.ResponseWriter, r *http.Request) {
	limit := defaultReceiptLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "Malformed", "limit must be a positive integer")
			return
		}
		limit = min(n, maxReceiptLimit)
	}

	receipts, err := s.app.RecentReceipts(limit)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	if receipts == nil {
		receipts = []*transaction.Receipt{}
	}
	respondJSON(w, receipts)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called from the app)
// ==============================

// BroadcastCommit pushes a committed receipt to "receipts" subscribers and,
// when the command touched an item, that item as of the same commit.
func (s *Server) BroadcastCommit(c auction.Commit) {
	s.hub.BroadcastToChannel("receipts", WSMessage{Type: "receipt", Data: c.Receipt})
	if c.Item == nil {
		return
	}
	msg := WSMessage{Type: "item", Data: newItemInfo(c.Item)}
	s.hub.BroadcastToChannel("items", msg)
	s.hub.BroadcastToChannel(itemChannel(c.Item.ID), msg)
}

func itemChannel(id uint64) string {
	return "item:" + strconv.FormatUint(id, 10)
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) respondAppError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Errorw("request_failed", "err", err)
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		status, code = http.StatusRequestEntityTooLarge, "Malformed"
	}
	respondError(w, status, code, err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	})
}
