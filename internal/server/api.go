package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"PredictLedger/internal/errs"
	"PredictLedger/internal/ingestion"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/projection"
	"PredictLedger/internal/query"
	"PredictLedger/internal/state"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

const maxCommandBody = 64 << 10

// AdminOps are maintenance actions that run against the live processor.
type AdminOps interface {
	TakeSnapshot(ctx context.Context) (int64, error)
	RebuildProjections(ctx context.Context) error
}

// ServerDeps holds everything the HTTP API calls into. Query, Trades and
// Admin may be nil; their routes then answer 503.
type ServerDeps struct {
	QueryService  *query.QueryService
	IngestService *ingestion.AdminIngestService
	Trades        *projection.TradeHistory
	Admin         AdminOps
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
}

// API serves the JSON routes.
type API struct {
	deps *ServerDeps
	log  zerolog.Logger
}

func NewAPI(deps *ServerDeps) *API {
	return &API{deps: deps, log: observability.NewLogger("api")}
}

type route struct {
	method, pattern, endpoint string
	handler                   runtime.HandlerFunc
}

// Register adds every route to mux.
func (a *API) Register(mux *runtime.ServeMux) error {
	routes := []route{
		{"POST", "/v1/commands/{type}", "submit_command", a.submitCommand},
		{"GET", "/v1/markets", "list_markets", a.listMarkets},
		{"GET", "/v1/markets/{id}", "get_market", a.getMarket},
		{"GET", "/v1/markets/{id}/quote", "get_quote", a.getQuote},
		{"GET", "/v1/markets/{id}/trades", "list_trades", a.listTrades},
		{"GET", "/v1/markets/{id}/positions/{user}", "get_position", a.getPosition},
		{"GET", "/v1/users/{user}/positions", "list_positions", a.listPositions},
		{"GET", "/v1/users/{user}/trades", "recent_trades", a.recentTrades},
		{"GET", "/v1/wallets/{user}", "get_wallet", a.getWallet},
		{"GET", "/v1/accounts/{path}/journals", "list_journals", a.listJournals},
		{"GET", "/v1/config", "get_config", a.getConfig},
		{"GET", "/v1/admin/integrity", "verify_integrity", a.verifyIntegrity},
		{"POST", "/v1/admin/snapshot", "take_snapshot", a.takeSnapshot},
		{"POST", "/v1/admin/rebuild-projections", "rebuild_projections", a.rebuildProjections},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, a.instrument(r.endpoint, r.handler)); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (a *API) instrument(endpoint string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, params)
		if a.deps.Metrics != nil {
			a.deps.Metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
			a.deps.Metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

// ============================================================================
// Commands
// ============================================================================

// CommandResponse is the reply to a submitted command.
type CommandResponse struct {
	Duplicate   bool            `json:"duplicate"`
	Sequence    int64           `json:"sequence,omitempty"`
	CommandType string          `json:"command_type"`
	Result      json.RawMessage `json:"result,omitempty"`
	StateHash   string          `json:"state_hash,omitempty"`
}

func (a *API) submitCommand(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if a.deps.IngestService == nil {
		writeError(w, http.StatusServiceUnavailable, "ingest unavailable")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > maxCommandBody {
		writeError(w, http.StatusRequestEntityTooLarge, "command body too large")
		return
	}

	outcome, err := a.deps.IngestService.Inject(r.Context(), params["type"], body)
	if err == nil {
		err = outcome.Err
	}
	if err != nil {
		a.writeErr(w, err)
		return
	}

	resp := CommandResponse{CommandType: params["type"], Duplicate: outcome.Duplicate}
	if out := outcome.Output; out != nil {
		resp.Sequence = out.Envelope.Sequence
		resp.Result = out.Envelope.Result
		resp.StateHash = hex.EncodeToString(out.Envelope.StateHash[:])
	}
	writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// Markets
// ============================================================================

func (a *API) listMarkets(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	limit, err := pageSize(r, 50, 200)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	var after *uint64
	if v := r.URL.Query().Get("after"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			a.writeErr(w, fmt.Errorf("after %q: %w", v, query.ErrInvalidArgument))
			return
		}
		after = &id
	}
	if !a.hasQuery(w) {
		return
	}

	markets, err := a.deps.QueryService.ListMarkets(r.Context(), r.URL.Query().Get("status"), limit, after)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

func (a *API) getMarket(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := marketParam(params)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	if !a.hasQuery(w) {
		return
	}
	m, err := a.deps.QueryService.GetMarket(r.Context(), id)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) getQuote(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := marketParam(params)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	q := r.URL.Query()

	dir := query.DirectionBuy
	if v := q.Get("direction"); v != "" {
		if dir, err = query.ParseDirection(v); err != nil {
			a.writeErr(w, err)
			return
		}
	}
	side, err := state.ParseSide(q.Get("side"))
	if err != nil {
		a.writeErr(w, err)
		return
	}
	amount, err := strconv.ParseUint(q.Get("amount"), 10, 64)
	if err != nil {
		a.writeErr(w, fmt.Errorf("amount %q: %w", q.Get("amount"), query.ErrInvalidArgument))
		return
	}
	if !a.hasQuery(w) {
		return
	}

	quote, err := a.deps.QueryService.GetQuote(r.Context(), id, dir, side, amount)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (a *API) listTrades(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := marketParam(params)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	limit, err := pageSize(r, 100, 500)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	var before *int64
	if v := r.URL.Query().Get("before"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			a.writeErr(w, fmt.Errorf("before %q: %w", v, query.ErrInvalidArgument))
			return
		}
		before = &seq
	}
	if !a.hasQuery(w) {
		return
	}

	trades, err := a.deps.QueryService.ListTrades(r.Context(), id, limit, before)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// ============================================================================
// Positions, wallets, journals
// ============================================================================

func (a *API) getPosition(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := marketParam(params)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	user, err := userParam(params)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	if !a.hasQuery(w) {
		return
	}

	pos, err := a.deps.QueryService.GetPosition(r.Context(), id, user)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (a *API) listPositions(w http.ResponseWriter, r *http.Request, params map[string]string) {
	user, err := userParam(params)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	if !a.hasQuery(w) {
		return
	}

	positions, err := a.deps.QueryService.ListPositions(r.Context(), user)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// recentTrades serves a user's latest trades from the in-memory history.
func (a *API) recentTrades(w http.ResponseWriter, r *http.Request, params map[string]string) {
	user, err := userParam(params)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	limit, err := pageSize(r, 50, 500)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	if a.deps.Trades == nil {
		writeError(w, http.StatusServiceUnavailable, "trade history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": a.deps.Trades.QueryByUser(user, limit)})
}

func (a *API) getWallet(w http.ResponseWriter, r *http.Request, params map[string]string) {
	user, err := userParam(params)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	if !a.hasQuery(w) {
		return
	}

	wallet, err := a.deps.QueryService.GetWallet(r.Context(), user)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (a *API) listJournals(w http.ResponseWriter, r *http.Request, params map[string]string) {
	path := params["path"]
	if path == "" {
		a.writeErr(w, fmt.Errorf("account path required: %w", query.ErrInvalidArgument))
		return
	}
	limit, err := pageSize(r, 100, 500)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	var before *int64
	if v := r.URL.Query().Get("before"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			a.writeErr(w, fmt.Errorf("before %q: %w", v, query.ErrInvalidArgument))
			return
		}
		before = &seq
	}
	if !a.hasQuery(w) {
		return
	}

	entries, err := a.deps.QueryService.GetJournalHistory(r.Context(), path, limit, before)
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"journals": entries})
}

func (a *API) getConfig(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !a.hasQuery(w) {
		return
	}
	cfg, err := a.deps.QueryService.GetConfig(r.Context())
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// ============================================================================
// Admin
// ============================================================================

func (a *API) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !a.hasQuery(w) {
		return
	}
	report, err := a.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if a.deps.Admin == nil {
		writeError(w, http.StatusServiceUnavailable, "admin unavailable")
		return
	}
	seq, err := a.deps.Admin.TakeSnapshot(r.Context())
	if err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sequence": seq})
}

func (a *API) rebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if a.deps.Admin == nil {
		writeError(w, http.StatusServiceUnavailable, "admin unavailable")
		return
	}
	if err := a.deps.Admin.RebuildProjections(r.Context()); err != nil {
		a.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rebuilt": true})
}

// ============================================================================
// Helpers
// ============================================================================

func (a *API) hasQuery(w http.ResponseWriter) bool {
	if a.deps.QueryService == nil {
		writeError(w, http.StatusServiceUnavailable, "query service unavailable")
		return false
	}
	return true
}

func (a *API) writeErr(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": errs.CodeOf(err)})
}

// StatusFor maps an error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ingestion.ErrMalformedCommand), errors.Is(err, query.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrMarketNotFound), errors.Is(err, errs.ErrPositionNotFound),
		errors.Is(err, errs.ErrConfigMissing):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}

	var e *errs.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindState:
		return http.StatusConflict
	case errs.KindAuthorization:
		return http.StatusForbidden
	case errs.KindAccounting, errs.KindSolvency:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func marketParam(params map[string]string) (uint64, error) {
	id, err := strconv.ParseUint(params["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("market id %q: %w", params["id"], query.ErrInvalidArgument)
	}
	return id, nil
}

func userParam(params map[string]string) (uuid.UUID, error) {
	id, err := uuid.Parse(params["user"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("user %q: %w", params["user"], query.ErrInvalidArgument)
	}
	return id, nil
}

func pageSize(r *http.Request, def, max int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit %q: %w", v, query.ErrInvalidArgument)
	}
	if n > max {
		n = max
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
