package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ethledger/internal/config"
)

type LedgerStatus interface {
	MaxParsedBlock(ctx context.Context) (uint64, bool, error)
	Ping(ctx context.Context) error
}

type RPCStatus interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Server exposes the operational surface of the ingester: health, readiness,
// progress and metrics. It serves no ledger data.
type Server struct {
	cfg       config.Config
	ledger    LedgerStatus
	rpc       RPCStatus
	metrics   *Metrics
	buildInfo BuildInfo
}

func NewServer(cfg config.Config, ledger LedgerStatus, rpc RPCStatus, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if ledger == nil || rpc == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{cfg: cfg, ledger: ledger, rpc: rpc, metrics: metrics, buildInfo: buildInfo}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /version", s.handleVersion)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.ledger.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db not ready")
		return
	}
	if _, err := s.rpc.LatestBlockNumber(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "rpc not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	LastParsedBlock *uint64        `json:"last_parsed_block"`
	ChainHead       *uint64        `json:"chain_head"`
	Lag             *uint64        `json:"lag"`
	Uptime          string         `json:"uptime"`
	Session         sessionStatus  `json:"session"`
	Config          map[string]any `json:"config"`
}

type sessionStatus struct {
	Blocks          uint64     `json:"blocks"`
	Transactions    uint64     `json:"transactions"`
	TokenTransfers  uint64     `json:"token_transfers"`
	PublishErrors   uint64     `json:"publish_errors"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	last, ok, err := s.ledger.MaxParsedBlock(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "ledger read failed")
		return
	}
	snap := s.metrics.Snapshot()
	resp := statusResponse{
		Uptime: time.Since(snap.StartTime).Round(time.Second).String(),
		Session: sessionStatus{
			Blocks:         snap.Blocks,
			Transactions:   snap.TotalTxns,
			TokenTransfers: snap.TokenTxns,
			PublishErrors:  snap.PublishErrors,
		},
		Config: map[string]any{
			"db_driver":              s.cfg.DBDriver,
			"confirmations":          s.cfg.Confirmations,
			"confirmation_window":    s.cfg.ConfirmationWindowFactor,
			"poll_interval":          s.cfg.PollInterval.String(),
			"block_wait_timeout":     s.cfg.BlockWaitTimeout.String(),
			"receipt_worker_divisor": s.cfg.ReceiptWorkerDivisor,
			"receipt_max_workers":    s.cfg.ReceiptMaxWorkers,
			"kafka_enabled":          len(s.cfg.KafkaBrokers) > 0,
			"token_cache_enabled":    s.cfg.RedisAddr != "",
		},
	}
	if snap.HasProcessed {
		resp.Session.LastProcessedAt = &snap.LastProcessedAt
	}
	if ok {
		resp.LastParsedBlock = &last
	}
	if head, err := s.rpc.LatestBlockNumber(ctx); err == nil {
		resp.ChainHead = &head
		if ok && head >= last {
			lag := head - last
			resp.Lag = &lag
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
