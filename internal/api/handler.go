package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/costmodel"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// maxBodyBytes bounds request bodies; a full batch fits comfortably.
const maxBodyBytes = 16 << 20

// Engine is the decision engine behind the API.
type Engine interface {
	ProcessTransaction(ctx context.Context, req *domain.Request) (*domain.Decision, error)
	ProcessBatch(ctx context.Context, txs []*domain.Transaction) (*domain.BatchResult, error)
}

// DecisionReader reads the decision audit log.
type DecisionReader interface {
	GetDecision(ctx context.Context, id string) (*domain.DecisionRecord, error)
	ListDecisionsByTransaction(ctx context.Context, txID string) ([]*domain.DecisionRecord, error)
	Ping(ctx context.Context) error
}

// ClaimRecorder stores decided transactions in beneficiary history.
type ClaimRecorder interface {
	RecordClaim(ctx context.Context, tx *domain.Transaction) (int64, error)
}

// Settings holds the reloadable engine configuration.
type Settings interface {
	Current() *config.Snapshot
	ReloadFile(path string) (*config.Snapshot, error)
}

// Deps are the collaborators of the API. Engine and Settings are required;
// the others disable their endpoints or checks when nil.
type Deps struct {
	Engine     Engine
	Settings   Settings
	Decisions  DecisionReader
	Claims     ClaimRecorder
	Cache      domain.Cache
	Bus        domain.EventBus
	ConfigPath string
	Version    string
	Logger     *slog.Logger
}

// Handler holds dependencies for API handlers.
type Handler struct {
	engine     Engine
	settings   Settings
	decisions  DecisionReader
	claims     ClaimRecorder
	cache      domain.Cache
	bus        domain.EventBus
	configPath string
	version    string
	logger     *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{
		engine:     deps.Engine,
		settings:   deps.Settings,
		decisions:  deps.Decisions,
		claims:     deps.Claims,
		cache:      deps.Cache,
		bus:        deps.Bus,
		configPath: deps.ConfigPath,
		version:    deps.Version,
		logger:     deps.Logger,
	}
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string      `json:"error"`
	Code  domain.Code `json:"code"`
}

// BatchRequest is the body of POST /v1/batches.
type BatchRequest struct {
	Transactions []*domain.Transaction `json:"transactions"`
}

// SubmitResponse is the body of POST /v1/transactions.
type SubmitResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

// CostModelResponse describes the decision policy in force.
type CostModelResponse struct {
	CostMatrix    domain.CostMatrix                   `json:"costMatrix"`
	Threshold     float64                             `json:"threshold"`
	RiskBands     map[domain.RiskLevel]float64        `json:"riskBands"`
	Routing       map[domain.RiskLevel]domain.Routing `json:"routing"`
	Weights       map[domain.Adapter]float64          `json:"weights"`
	ConfigVersion int64                               `json:"configVersion"`
	LoadedAt      time.Time                           `json:"loadedAt"`
}

// ReloadResponse reports the snapshot installed by a reload.
type ReloadResponse struct {
	ConfigVersion int64     `json:"configVersion"`
	LoadedAt      time.Time `json:"loadedAt"`
}

// Decide handles POST /v1/decisions. The workflow and audience query
// parameters override the body.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if v := r.URL.Query().Get("workflow"); v != "" {
		req.Workflow = domain.WorkflowType(v)
	}
	if v := r.URL.Query().Get("audience"); v != "" {
		req.Audience = domain.Audience(v)
	}

	decision, err := h.engine.ProcessTransaction(ctx, &req)
	if err != nil {
		h.logFailure(ctx, "decision failed", err)
		writeError(w, err)
		return
	}

	if h.claims != nil {
		if _, err := h.claims.RecordClaim(ctx, req.Transaction); err != nil {
			h.logger.ErrorContext(ctx, "failed to record claim",
				"tx_id", req.Transaction.ID,
				"error", err,
			)
		}
	}

	writeJSON(w, http.StatusOK, decision)
}

// Batch handles POST /v1/batches.
func (h *Handler) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.engine.ProcessBatch(r.Context(), req.Transactions)
	if err != nil {
		h.logFailure(r.Context(), "batch failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Submit handles POST /v1/transactions: the request is queued on the bus
// and decided by the worker.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "event bus not configured", Code: domain.CodeUnknown})
		return
	}

	var req domain.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Transaction == nil || req.Transaction.ID == "" {
		writeError(w, domain.InvalidInputf("transaction id is required"))
		return
	}
	if req.Workflow == domain.WorkflowBatch {
		writeError(w, domain.InvalidInputf("batch workflow is not accepted for a single transaction"))
		return
	}

	payload, err := json.Marshal(req)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.bus.Publish(r.Context(), domain.TopicTransactionSubmitted, payload); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to publish submission",
			"tx_id", req.Transaction.ID,
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "submission not queued", Code: domain.CodeUnknown})
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		TransactionID: req.Transaction.ID,
		Status:        "accepted",
	})
}

// GetDecision handles GET /v1/decisions/{id}.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	if h.decisions == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "decision store not configured", Code: domain.CodeUnknown})
		return
	}

	rec, err := h.decisions.GetDecision(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListTransactionDecisions handles GET /v1/transactions/{id}/decisions.
func (h *Handler) ListTransactionDecisions(w http.ResponseWriter, r *http.Request) {
	if h.decisions == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "decision store not configured", Code: domain.CodeUnknown})
		return
	}

	records, err := h.decisions.ListDecisionsByTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []*domain.DecisionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": records,
		"count":     len(records),
	})
}

// CostModel handles GET /v1/cost-model.
func (h *Handler) CostModel(w http.ResponseWriter, r *http.Request) {
	snap := h.settings.Current()

	routing := make(map[domain.RiskLevel]domain.Routing, 4)
	for _, level := range []domain.RiskLevel{domain.RiskLow, domain.RiskMedium, domain.RiskHigh, domain.RiskCritical} {
		routing[level] = costmodel.Route(level, snap.Model.Decide(lowerBound(level)))
	}

	weights := make(map[domain.Adapter]float64, len(snap.Weights))
	for a, v := range snap.Weights {
		weights[a] = v
	}

	writeJSON(w, http.StatusOK, CostModelResponse{
		CostMatrix: snap.Model.Matrix(),
		Threshold:  snap.Model.Threshold(),
		RiskBands: map[domain.RiskLevel]float64{
			domain.RiskLow:      0,
			domain.RiskMedium:   costmodel.MediumCutpoint,
			domain.RiskHigh:     costmodel.HighCutpoint,
			domain.RiskCritical: costmodel.CriticalCutpoint,
		},
		Routing:       routing,
		Weights:       weights,
		ConfigVersion: snap.Version,
		LoadedAt:      snap.LoadedAt,
	})
}

// lowerBound is the smallest probability classified as level.
func lowerBound(level domain.RiskLevel) float64 {
	switch level {
	case domain.RiskCritical:
		return costmodel.CriticalCutpoint
	case domain.RiskHigh:
		return costmodel.HighCutpoint
	case domain.RiskMedium:
		return costmodel.MediumCutpoint
	default:
		return 0
	}
}

// Reload handles POST /v1/config/reload. A rejected configuration leaves
// the current snapshot in force.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	snap, err := h.settings.ReloadFile(h.configPath)
	if err != nil {
		h.logger.WarnContext(r.Context(), "config reload rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: domain.CodeOf(err)})
		return
	}

	h.logger.InfoContext(r.Context(), "config reloaded", "config_version", snap.Version)
	writeJSON(w, http.StatusOK, ReloadResponse{
		ConfigVersion: snap.Version,
		LoadedAt:      snap.LoadedAt,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	if h.decisions != nil {
		check("repository", h.decisions.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("bus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"version":       h.version,
		"engineVersion": domain.EngineVersion,
		"configVersion": h.settings.Current().Version,
		"checks":        checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	code := domain.CodeOf(err)
	level := slog.LevelWarn
	if statusFor(code) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"code", code,
		"request_id", GetRequestID(ctx),
		"error", err,
	)
}

// decodeJSON reads one JSON value from the body. Errors wrap
// domain.ErrInvalidInput.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.InvalidInputf("request body is empty")
		}
		return fmt.Errorf("%w: invalid JSON request body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// statusFor maps an error code to its HTTP status.
func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeInvalidInput:
		return http.StatusBadRequest
	case domain.CodeInsufficientData:
		return http.StatusUnprocessableEntity
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeAdapterTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	writeJSON(w, statusFor(code), ErrorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
