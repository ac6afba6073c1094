package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mercadash/internal/middleware"
	"github.com/hitoshi/mercadash/internal/model"
	"github.com/hitoshi/mercadash/internal/report"
)

// RunnerInterface は収集実行ハンドラーが必要とするレジストリインターフェース。
type RunnerInterface interface {
	StartCatalog(sessionID, token string) string
	StartSales(sessionID, token string) string
	Snapshot(runID string) (*report.RunSnapshot, bool)
	CatalogResult(runID string) (*model.CatalogResult, bool, bool)
	SalesResult(runID string) (*model.SalesResult, bool, bool)
}

// RunHandler は収集実行のHTTPハンドラー。
type RunHandler struct {
	runner RunnerInterface
}

// NewRunHandler はRunHandlerを生成する。
func NewRunHandler(runner RunnerInterface) *RunHandler {
	return &RunHandler{runner: runner}
}

// startRunResponse は実行開始リクエストのレスポンス。
type startRunResponse struct {
	RunID string `json:"run_id"`
}

// StartCatalogRun はカタログ収集の実行を開始する。
// POST /api/catalog/runs
func (h *RunHandler) StartCatalogRun(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthExpiredError())
		return
	}

	runID := h.runner.StartCatalog(session.ID, session.Token)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(startRunResponse{RunID: runID})
}

// StartSalesRun は売上集計の実行を開始する。
// POST /api/sales/runs
func (h *RunHandler) StartSalesRun(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthExpiredError())
		return
	}

	runID := h.runner.StartSales(session.ID, session.Token)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(startRunResponse{RunID: runID})
}

// GetRun は実行の進捗スナップショットを返す。ポーリング用。
// GET /api/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	snapshot, ok := h.runner.Snapshot(runID)
	if !ok {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewRunNotFoundError(runID))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

// runResultResponse は終端に達した実行の結果レスポンス。
// Kindに応じてCatalogかSalesの一方だけが埋まる。
type runResultResponse struct {
	RunID   string               `json:"run_id"`
	Kind    report.RunKind       `json:"kind"`
	State   model.RunState       `json:"state"`
	Catalog *model.CatalogResult `json:"catalog,omitempty"`
	Sales   *model.SalesResult   `json:"sales,omitempty"`
}

// GetRunResult は終端に達した実行の結果を返す。
// 認証拒否で終わった実行には401を返し、再認証を促す。
// GET /api/runs/{id}/result
func (h *RunHandler) GetRunResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	snapshot, ok := h.runner.Snapshot(runID)
	if !ok {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewRunNotFoundError(runID))
		return
	}
	if !snapshot.Terminal() {
		writeAPIErrorResponse(w, http.StatusConflict, model.NewRunNotFinishedError(runID))
		return
	}
	if snapshot.Progress.State == model.RunStateAuthFailed {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthExpiredError())
		return
	}
	if snapshot.Err != "" {
		slog.Error("run finished with error",
			slog.String("run_id", runID),
			slog.String("error", snapshot.Err),
		)
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewUpstreamFailedError(snapshot.Err))
		return
	}

	res := runResultResponse{
		RunID: runID,
		Kind:  snapshot.Kind,
		State: snapshot.Progress.State,
	}

	switch snapshot.Kind {
	case report.RunKindCatalog:
		result, _, done := h.runner.CatalogResult(runID)
		if !done || result == nil {
			writeAPIErrorResponse(w, http.StatusConflict, model.NewRunNotFinishedError(runID))
			return
		}
		res.Catalog = result
	case report.RunKindSales:
		result, _, done := h.runner.SalesResult(runID)
		if !done || result == nil {
			writeAPIErrorResponse(w, http.StatusConflict, model.NewRunNotFinishedError(runID))
			return
		}
		res.Sales = result
	default:
		handleServiceError(w, errors.New("unknown run kind"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}
