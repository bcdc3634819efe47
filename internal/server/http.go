package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"StableLend/internal/core"
	"StableLend/internal/observability"
	"StableLend/internal/query"
	"StableLend/internal/state"
)

// HTTPServer serves the JSON operation and query API plus the health and
// metrics endpoints.
type HTTPServer struct {
	engine        *core.Engine
	queries       *query.QueryService
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	httpServer    *http.Server
	log           zerolog.Logger
}

func NewHTTPServer(
	addr string,
	engine *core.Engine,
	queries *query.QueryService,
	healthChecker *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *HTTPServer {
	s := &HTTPServer{
		engine:        engine,
		queries:       queries,
		healthChecker: healthChecker,
		metrics:       metrics,
		log:           log,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/deposit", s.handleDeposit)
	mux.HandleFunc("POST /v1/withdraw", s.handleWithdraw)
	mux.HandleFunc("POST /v1/borrow", s.handleBorrow)
	mux.HandleFunc("POST /v1/repay", s.handleRepay)
	mux.HandleFunc("POST /v1/batch", s.handleBatch)
	mux.HandleFunc("POST /v1/liquidate", s.handleLiquidate)
	mux.HandleFunc("POST /v1/harvest", s.handleHarvest)
	mux.HandleFunc("POST /v1/params", s.handleSetParam)

	mux.HandleFunc("GET /v1/accounts/{id}", s.handleGetAccount)
	mux.HandleFunc("GET /v1/accounts/{id}/solvency", s.handleGetSolvency)
	mux.HandleFunc("GET /v1/accounts/{id}/activity", s.handleGetActivity)
	mux.HandleFunc("GET /v1/totals", s.handleGetTotals)
	mux.HandleFunc("GET /v1/params", s.handleGetParams)
	mux.HandleFunc("GET /v1/events", s.handleGetEvents)
	mux.HandleFunc("GET /v1/integrity", s.handleIntegrity)

	mux.HandleFunc("/healthz", healthChecker.LivenessHandler)
	mux.HandleFunc("/readyz", healthChecker.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

// Start serves until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- request/response shapes ---

type opResponse struct {
	OperationID uuid.UUID `json:"operation_id"`
	Sequence    int64     `json:"sequence"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type depositRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type withdrawRequest struct {
	Caller              string `json:"caller"`
	CollateralRecipient string `json:"collateral_recipient"`
	RewardsRecipient    string `json:"rewards_recipient"`
	Amount              string `json:"amount"`
}

type borrowRequest struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type repayRequest struct {
	Caller  string `json:"caller"`
	Account string `json:"account,omitempty"`
	Amount  string `json:"amount"`
}

type batchActionRequest struct {
	Kind                string `json:"kind"`
	To                  string `json:"to,omitempty"`
	CollateralRecipient string `json:"collateral_recipient,omitempty"`
	RewardsRecipient    string `json:"rewards_recipient,omitempty"`
	Recipient           string `json:"recipient,omitempty"`
	Account             string `json:"account,omitempty"`
	Amount              string `json:"amount"`
}

type batchRequest struct {
	Caller  string               `json:"caller"`
	Actions []batchActionRequest `json:"actions"`
}

type liquidationEntryRequest struct {
	Account            string `json:"account"`
	RequestedPrincipal string `json:"requested_principal"`
}

type liquidateRequest struct {
	Liquidator string                    `json:"liquidator"`
	Entries    []liquidationEntryRequest `json:"entries"`
	Route      []string                  `json:"route,omitempty"`
	Recipient  string                    `json:"recipient"`
}

type setParamRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// --- operation handlers ---

func (s *HTTPServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, ok := s.parseID(w, req.Caller, "caller")
	if !ok {
		return
	}
	to, ok := s.parseID(w, req.To, "to")
	if !ok {
		return
	}
	amount, ok := s.parseAmount(w, req.Amount)
	if !ok {
		return
	}

	opID, err := s.engine.Deposit(r.Context(), caller, to, amount)
	s.finishOp(w, opID, err)
}

func (s *HTTPServer) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, ok := s.parseID(w, req.Caller, "caller")
	if !ok {
		return
	}
	collateralRecipient, ok := s.parseID(w, req.CollateralRecipient, "collateral_recipient")
	if !ok {
		return
	}
	rewardsRecipient, ok := s.parseID(w, req.RewardsRecipient, "rewards_recipient")
	if !ok {
		return
	}
	amount, ok := s.parseAmount(w, req.Amount)
	if !ok {
		return
	}

	opID, err := s.engine.Withdraw(r.Context(), caller, collateralRecipient, rewardsRecipient, amount)
	s.finishOp(w, opID, err)
}

func (s *HTTPServer) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, ok := s.parseID(w, req.Caller, "caller")
	if !ok {
		return
	}
	recipient, ok := s.parseID(w, req.Recipient, "recipient")
	if !ok {
		return
	}
	amount, ok := s.parseAmount(w, req.Amount)
	if !ok {
		return
	}

	opID, err := s.engine.Borrow(r.Context(), caller, recipient, amount)
	s.finishOp(w, opID, err)
}

func (s *HTTPServer) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, ok := s.parseID(w, req.Caller, "caller")
	if !ok {
		return
	}
	account := uuid.Nil
	if req.Account != "" {
		if account, ok = s.parseID(w, req.Account, "account"); !ok {
			return
		}
	}
	amount, ok := s.parseAmount(w, req.Amount)
	if !ok {
		return
	}

	opID, err := s.engine.Repay(r.Context(), caller, account, amount)
	s.finishOp(w, opID, err)
}

func (s *HTTPServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, ok := s.parseID(w, req.Caller, "caller")
	if !ok {
		return
	}

	actions := make([]core.Action, 0, len(req.Actions))
	for i, a := range req.Actions {
		action, err := s.buildAction(a)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: action %d: %v", state.ErrInvalidRequest, i, err))
			return
		}
		actions = append(actions, action)
	}

	opID, err := s.engine.Execute(r.Context(), caller, actions)
	s.finishOp(w, opID, err)
}

func (s *HTTPServer) buildAction(a batchActionRequest) (core.Action, error) {
	amount, err := uint256.FromDecimal(a.Amount)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %v", a.Amount, err)
	}

	switch a.Kind {
	case "deposit":
		to, err := uuid.Parse(a.To)
		if err != nil {
			return nil, fmt.Errorf("to: %v", err)
		}
		return core.DepositAction{To: to, Amount: amount}, nil

	case "withdraw":
		collateralRecipient, err := uuid.Parse(a.CollateralRecipient)
		if err != nil {
			return nil, fmt.Errorf("collateral_recipient: %v", err)
		}
		rewardsRecipient, err := uuid.Parse(a.RewardsRecipient)
		if err != nil {
			return nil, fmt.Errorf("rewards_recipient: %v", err)
		}
		return core.WithdrawAction{
			CollateralRecipient: collateralRecipient,
			RewardsRecipient:    rewardsRecipient,
			Amount:              amount,
		}, nil

	case "borrow":
		recipient, err := uuid.Parse(a.Recipient)
		if err != nil {
			return nil, fmt.Errorf("recipient: %v", err)
		}
		return core.BorrowAction{Recipient: recipient, Amount: amount}, nil

	case "repay":
		account := uuid.Nil
		if a.Account != "" {
			if account, err = uuid.Parse(a.Account); err != nil {
				return nil, fmt.Errorf("account: %v", err)
			}
		}
		return core.RepayAction{Account: account, Amount: amount}, nil

	default:
		return nil, fmt.Errorf("unknown kind %q", a.Kind)
	}
}

func (s *HTTPServer) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	liquidator, ok := s.parseID(w, req.Liquidator, "liquidator")
	if !ok {
		return
	}
	recipient, ok := s.parseID(w, req.Recipient, "recipient")
	if !ok {
		return
	}

	entries := make([]core.LiquidationEntry, 0, len(req.Entries))
	for i, e := range req.Entries {
		account, err := uuid.Parse(e.Account)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: entry %d account: %v", state.ErrInvalidRequest, i, err))
			return
		}
		principal, err := uint256.FromDecimal(e.RequestedPrincipal)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: entry %d requested_principal: %v", state.ErrInvalidRequest, i, err))
			return
		}
		entries = append(entries, core.LiquidationEntry{Account: account, RequestedPrincipal: principal})
	}

	opID, err := s.engine.Liquidate(r.Context(), liquidator, entries, req.Route, recipient)
	s.finishOp(w, opID, err)
}

func (s *HTTPServer) handleHarvest(w http.ResponseWriter, r *http.Request) {
	opID, err := s.engine.Harvest(r.Context())
	s.finishOp(w, opID, err)
}

func (s *HTTPServer) handleSetParam(w http.ResponseWriter, r *http.Request) {
	var req setParamRequest
	if !s.decode(w, r, &req) {
		return
	}
	value, ok := s.parseAmount(w, req.Value)
	if !ok {
		return
	}

	opID, err := s.engine.SetParam(r.Context(), req.Name, value)
	s.finishOp(w, opID, err)
}

// --- query handlers ---

func (s *HTTPServer) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.parseID(w, r.PathValue("id"), "id")
	if !ok {
		return
	}

	resp, err := s.queries.GetAccount(r.Context(), owner)
	s.finishQuery(w, "account", resp, err)
}

func (s *HTTPServer) handleGetSolvency(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.parseID(w, r.PathValue("id"), "id")
	if !ok {
		return
	}

	resp, err := s.queries.GetSolvency(r.Context(), owner)
	s.finishQuery(w, "solvency", resp, err)
}

func (s *HTTPServer) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.parseID(w, r.PathValue("id"), "id")
	if !ok {
		return
	}

	q := r.URL.Query()

	limit := 100
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: limit %q", state.ErrInvalidRequest, v))
			return
		}
		limit = parsed
	}

	var beforeSequence *int64
	if v := q.Get("before"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: before %q", state.ErrInvalidRequest, v))
			return
		}
		beforeSequence = &parsed
	}

	resp, err := s.queries.GetAccountActivity(r.Context(), owner, limit, beforeSequence)
	s.finishQuery(w, "activity", resp, err)
}

func (s *HTTPServer) handleGetTotals(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.GetTotals(r.Context())
	s.finishQuery(w, "totals", resp, err)
}

func (s *HTTPServer) handleGetParams(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.GetParams(r.Context())
	s.finishQuery(w, "params", resp, err)
}

func (s *HTTPServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var fromSequence int64
	if v := q.Get("from"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: from %q", state.ErrInvalidRequest, v))
			return
		}
		fromSequence = parsed
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: limit %q", state.ErrInvalidRequest, v))
			return
		}
		limit = parsed
	}

	resp, err := s.queries.GetEventHistory(r.Context(), fromSequence, limit, q.Get("type"))
	s.finishQuery(w, "events", resp, err)
}

func (s *HTTPServer) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.VerifyIntegrity(r.Context())
	s.finishQuery(w, "integrity", resp, err)
}

// --- helpers ---

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, fmt.Errorf("%w: decode body: %v", state.ErrInvalidRequest, err))
		return false
	}
	return true
}

func (s *HTTPServer) parseID(w http.ResponseWriter, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %s %q", state.ErrInvalidAddress, field, raw))
		return uuid.Nil, false
	}
	return id, true
}

func (s *HTTPServer) parseAmount(w http.ResponseWriter, raw string) (*uint256.Int, bool) {
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: amount %q", state.ErrInvalidAmount, raw))
		return nil, false
	}
	return amount, true
}

func (s *HTTPServer) finishOp(w http.ResponseWriter, opID uuid.UUID, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, opResponse{
		OperationID: opID,
		Sequence:    s.engine.Sequence(),
	})
}

func (s *HTTPServer) finishQuery(w http.ResponseWriter, endpoint string, resp interface{}, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// statusFor maps the error taxonomy onto HTTP status codes: malformed input
// is 400, a well-formed request the ledger refuses is 422, a busy engine is
// 409, everything else is 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, state.ErrInvalidAmount),
		errors.Is(err, state.ErrInvalidAddress),
		errors.Is(err, state.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrInsufficientCollateral),
		errors.Is(err, state.ErrInsufficientDebt),
		errors.Is(err, state.ErrDebtCeilingExceeded),
		errors.Is(err, state.ErrInvalidExchangeRate),
		errors.Is(err, state.ErrInsolventCaller),
		errors.Is(err, state.ErrNothingToLiquidate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrReentrantCall):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
