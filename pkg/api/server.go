package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ledgertap/pkg/bus"
	"github.com/cuemby/ledgertap/pkg/config"
	"github.com/cuemby/ledgertap/pkg/interest"
	"github.com/cuemby/ledgertap/pkg/log"
	"github.com/cuemby/ledgertap/pkg/metrics"
	"github.com/cuemby/ledgertap/pkg/supervisor"
	"github.com/cuemby/ledgertap/pkg/types"
)

// Applier is the supervisor surface the control plane needs: every
// mutation is pushed through it and returns only once the topology
// changed.
type Applier interface {
	ApplyUpsert(ctx context.Context, id string) error
	ApplyRemove(ctx context.Context, id string) error
	WorkerCount() int
}

// Server is the control-plane HTTP surface: interest CRUD, health,
// metrics and the live WebSocket tap.
type Server struct {
	table   *interest.Table
	applier Applier
	bus     *bus.Bus

	mutationTimeout time.Duration
	logger          zerolog.Logger
	httpServer      *http.Server
}

// NewServer creates a control-plane server listening on cfg.Addr.
func NewServer(table *interest.Table, applier Applier, b *bus.Bus, cfg config.ControlConfig) *Server {
	s := &Server{
		table:           table,
		applier:         applier,
		bus:             b,
		mutationTimeout: cfg.MutationTimeout(),
		logger:          log.WithComponent("api"),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler; exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/interests", s.instrument("/interests", s.handleList))
	mux.HandleFunc("/interests/upsert", s.instrument("/interests/upsert", s.handleUpsert))
	mux.HandleFunc("/interests/remove", s.instrument("/interests/remove", s.handleRemove))
	mux.HandleFunc("/healthz", s.instrument("/healthz", s.handleHealth))
	mux.HandleFunc("/live", s.handleLive)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Control plane listening")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Control plane server failed")
		}
	}()
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// mutationResponse is the wire shape of upsert and remove responses.
type mutationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// upsertRequest carries the predicate inputs. Identifier strings are
// base58 pubkeys of exactly the canonical width.
type upsertRequest struct {
	InterestID    string   `json:"interest_id"`
	Accounts      []string `json:"accounts,omitempty"`
	AccountOwners []string `json:"account_owners,omitempty"`
	TxInclude     []string `json:"transaction_accounts_include,omitempty"`
	TxRequired    []string `json:"transaction_accounts_required,omitempty"`
	IncludeFailed bool     `json:"include_failed,omitempty"`
}

type removeRequest struct {
	InterestID string `json:"interest_id"`
}

// handleList serves GET /interests as {"<id>": "active"}.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	out := make(map[string]string)
	for _, summary := range s.table.List() {
		out[summary.ID] = "active"
	}
	writeJSON(w, http.StatusOK, out)
}

// handleUpsert validates the predicate, installs it in the table and
// waits for the supervisor to realize it.
func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.mutationFailed(w, "upsert", http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	pred, err := parsePredicate(&req)
	if err != nil {
		s.mutationFailed(w, "upsert", http.StatusBadRequest, err)
		return
	}

	gen, err := s.table.Upsert(req.InterestID, pred)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, interest.ErrInvalidPredicate) {
			status = http.StatusBadRequest
		}
		s.mutationFailed(w, "upsert", status, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.mutationTimeout)
	defer cancel()
	if err := s.applier.ApplyUpsert(ctx, req.InterestID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, supervisor.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		s.mutationFailed(w, "upsert", status, err)
		return
	}

	metrics.InterestMutationsTotal.WithLabelValues("upsert", "ok").Inc()
	s.logger.Info().
		Str("interest_id", req.InterestID).
		Uint64("generation", gen).
		Msg("Interest upserted")
	writeJSON(w, http.StatusOK, mutationResponse{
		Success: true,
		Message: fmt.Sprintf("interest %s active at generation %d", req.InterestID, gen),
		Count:   s.table.Snapshot().Len(),
	})
}

// handleRemove deletes an interest and waits for its worker to retire.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req removeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.mutationFailed(w, "remove", http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if err := s.table.Remove(req.InterestID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, interest.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.mutationFailed(w, "remove", status, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.mutationTimeout)
	defer cancel()
	if err := s.applier.ApplyRemove(ctx, req.InterestID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, supervisor.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		s.mutationFailed(w, "remove", status, err)
		return
	}

	metrics.InterestMutationsTotal.WithLabelValues("remove", "ok").Inc()
	s.logger.Info().Str("interest_id", req.InterestID).Msg("Interest removed")
	writeJSON(w, http.StatusOK, mutationResponse{
		Success: true,
		Message: fmt.Sprintf("interest %s removed", req.InterestID),
		Count:   s.table.Snapshot().Len(),
	})
}

// handleHealth reports liveness plus a few pipeline gauges.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"interests": s.table.Snapshot().Len(),
		"workers":   s.applier.WorkerCount(),
	})
}

func (s *Server) mutationFailed(w http.ResponseWriter, op string, status int, err error) {
	metrics.InterestMutationsTotal.WithLabelValues(op, "error").Inc()
	s.logger.Warn().Err(err).Str("op", op).Int("status", status).Msg("Mutation rejected")
	writeJSON(w, status, mutationResponse{
		Success: false,
		Message: err.Error(),
		Count:   s.table.Snapshot().Len(),
	})
}

// parsePredicate converts request identifier strings, rejecting any with
// the wrong width.
func parsePredicate(req *upsertRequest) (types.Predicate, error) {
	var (
		pred types.Predicate
		err  error
	)
	if pred.Accounts, err = types.ParsePubkeySet(req.Accounts); err != nil {
		return pred, err
	}
	if pred.Owners, err = types.ParsePubkeySet(req.AccountOwners); err != nil {
		return pred, err
	}
	if pred.TxAccountsIncluded, err = types.ParsePubkeySet(req.TxInclude); err != nil {
		return pred, err
	}
	if pred.TxAccountsRequired, err = types.ParsePubkeySet(req.TxRequired); err != nil {
		return pred, err
	}
	pred.IncludeFailed = req.IncludeFailed
	return pred, nil
}

// instrument wraps a handler with request counting and timing.
func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.ControlRequestsTotal.WithLabelValues(path, strconv.Itoa(rec.status)).Inc()
		metrics.ControlRequestDuration.WithLabelValues(path).Observe(timer.Duration().Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
