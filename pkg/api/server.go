package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/bundlesettle/pkg/settle"
	"github.com/uhyunpark/bundlesettle/pkg/storage"
)

const (
	channelBundles = "bundles"

	defaultReceiptLimit = 20
	maxReceiptLimit     = 500
	maxBundleBody       = 4 << 20
)

// Settler executes encoded bundles.
type Settler interface {
	Execute(ctx context.Context, raw []byte) (*storage.Receipt, error)
}

// Reader serves committed state.
type Reader interface {
	Receipt(bundleHash common.Hash) (*storage.Receipt, error)
	RecentReceipts(limit int) ([]*storage.Receipt, error)
	Reserve(owner, asset common.Address) (*uint256.Int, error)
	SavedFees(asset common.Address) (*uint256.Int, error)
}

type Config struct {
	AllowedOrigins []string
	Metrics        http.Handler // served on /metrics when set
	Logger         *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	settler Settler
	reader  Reader
	router  *mux.Router
	hub     *Hub // WebSocket hub
	cfg     Config
	log     *zap.SugaredLogger

	// hub lifetime
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new API server and starts its WebSocket hub.
// Close stops the hub.
func NewServer(settler Settler, reader Reader, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		ctx:     ctx,
		cancel:  cancel,
		settler: settler,
		reader:  reader,
		router:  mux.NewRouter(),
		hub:     NewHub(cfg.Logger),
		cfg:     cfg,
		log:     cfg.Logger,
	}
	s.setupRoutes()
	go s.hub.Run(ctx)
	return s
}

// Close stops the WebSocket hub and disconnects every client.
func (s *Server) Close() {
	s.cancel()
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Bundles
	api.HandleFunc("/bundles", s.handleSubmitBundle).Methods("POST")
	api.HandleFunc("/bundles", s.handleListBundles).Methods("GET")
	api.HandleFunc("/bundles/decode", s.handleDecodeBundle).Methods("POST")
	api.HandleFunc("/bundles/{hash}", s.handleGetBundle).Methods("GET")

	// Balances
	api.HandleFunc("/reserves/{owner}/{asset}", s.handleGetReserve).Methods("GET")
	api.HandleFunc("/fees/{asset}", s.handleGetFees).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.cfg.Metrics != nil {
		s.router.Handle("/metrics", s.cfg.Metrics).Methods("GET")
	}
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Run serves on addr until ctx is cancelled, then closes the server.
func (s *Server) Run(ctx context.Context, addr string) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Infow("api_listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitBundle(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.readBundle(w, r)
	if !ok {
		return
	}

	rcpt, err := s.settler.Execute(r.Context(), raw)
	if err != nil {
		resp := AbortResponse{
			Error:      "bundle aborted",
			Message:    err.Error(),
			BundleHash: settle.Hash(raw),
			Reason:     settle.Reason(err),
		}
		var ae *settle.AbortError
		if errors.As(err, &ae) {
			resp.Phase = string(ae.Phase)
			if ae.Order >= 0 {
				item := ae.Order
				resp.Item = &item
			}
			if ae.Asset != (common.Address{}) {
				resp.Asset = ae.Asset.Hex()
			}
		}
		status := http.StatusUnprocessableEntity
		if errors.Is(err, settle.ErrReentrantCall) {
			status = http.StatusConflict
		}
		respondStatus(w, status, resp)
		return
	}

	s.log.Debugw("bundle_submitted", "bundle", rcpt.BundleHash.Hex(), "seq", rcpt.Sequence)
	respondJSON(w, rcpt)
}

func (s *Server) handleDecodeBundle(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.readBundle(w, r)
	if !ok {
		return
	}
	b, err := settle.Decode(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed bundle", err.Error())
		return
	}
	respondJSON(w, map[string]any{
		"bundleHash": settle.Hash(raw),
		"bundle":     b,
	})
}

func (s *Server) handleListBundles(w http.ResponseWriter, r *http.Request) {
	limit := defaultReceiptLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", q)
			return
		}
		limit = min(n, maxReceiptLimit)
	}

	receipts, err := s.reader.RecentReceipts(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load receipts", err.Error())
		return
	}
	if receipts == nil {
		receipts = []*storage.Receipt{}
	}
	respondJSON(w, receipts)
}

func (s *Server) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	hashHex := mux.Vars(r)["hash"]
	if len(hashHex) != 66 {
		respondError(w, http.StatusBadRequest, "invalid bundle hash", hashHex)
		return
	}
	rcpt, err := s.reader.Receipt(common.HexToHash(hashHex))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load receipt", err.Error())
		return
	}
	if rcpt == nil {
		respondError(w, http.StatusNotFound, "bundle not found", hashHex)
		return
	}
	respondJSON(w, rcpt)
}

func (s *Server) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner, ok := parseAddress(w, vars["owner"])
	if !ok {
		return
	}
	asset, ok := parseAddress(w, vars["asset"])
	if !ok {
		return
	}
	bal, err := s.reader.Reserve(owner, asset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load reserve", err.Error())
		return
	}
	respondJSON(w, ReserveInfo{Owner: owner, Asset: asset, Balance: bal.Dec()})
}

func (s *Server) handleGetFees(w http.ResponseWriter, r *http.Request) {
	asset, ok := parseAddress(w, mux.Vars(r)["asset"])
	if !ok {
		return
	}
	saved, err := s.reader.SavedFees(asset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load fees", err.Error())
		return
	}
	respondJSON(w, FeeInfo{Asset: asset, Saved: saved.Dec()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called from settlement)
// ==============================

// BroadcastReceipt pushes a committed bundle to "bundles" subscribers.
func (s *Server) BroadcastReceipt(r *storage.Receipt) {
	s.hub.BroadcastToChannel(channelBundles, BundleUpdate{Type: "bundle", Receipt: r})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) readBundle(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	var req SubmitBundleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBundleBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return nil, false
	}
	if len(req.Bundle) == 0 {
		respondError(w, http.StatusBadRequest, "missing bundle", "")
		return nil, false
	}
	return req.Bundle, true
}

func parseAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondStatus(w, http.StatusOK, data)
}

func respondStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondStatus(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}
