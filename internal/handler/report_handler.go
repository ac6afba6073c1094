package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/mercadash/internal/middleware"
	"github.com/hitoshi/mercadash/internal/model"
	"github.com/hitoshi/mercadash/internal/report"
)

// ReportProvider はレポートハンドラーが必要とする結果取得インターフェース。
type ReportProvider interface {
	LatestResults(sessionID string) (*model.CatalogResult, *model.SalesResult)
}

// ReportHandler はSKU結合済みダッシュボードレポートのHTTPハンドラー。
type ReportHandler struct {
	provider ReportProvider
	writeCSV func(w http.ResponseWriter, rows []report.Row) error
}

// NewReportHandler はReportHandlerを生成する。
func NewReportHandler(provider ReportProvider, writeCSV func(w http.ResponseWriter, rows []report.Row) error) *ReportHandler {
	return &ReportHandler{
		provider: provider,
		writeCSV: writeCSV,
	}
}

// reportResponse はダッシュボードレポートのレスポンス。
// カタログ・売上それぞれの終端状態を保持し、部分結果は完了と区別して提示する。
type reportResponse struct {
	Ready        bool           `json:"ready"`
	Rows         []report.Row   `json:"rows"`
	CatalogState model.RunState `json:"catalog_state"`
	SalesState   model.RunState `json:"sales_state"`
	Intended     int            `json:"intended_count"`
	Hydrated     int            `json:"hydrated_count"`
	Unresolved   int            `json:"unresolved_count"`
	WindowFrom   *time.Time     `json:"window_from,omitempty"`
	WindowTo     *time.Time     `json:"window_to,omitempty"`
}

// GetReport は最新の終端結果をSKUで結合したレポートを返す。
// GET /api/report?status=active&q=keyword
//
// 売上集計がまだ無い場合、各行のウィンドウ内販売数は0のまま返す。
// カタログ収集がまだ無い場合はready=falseで空のレポートを返す。
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthExpiredError())
		return
	}

	status, q, apiErr := parseReportFilter(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	catalog, sales := h.provider.LatestResults(session.ID)
	res := buildReport(catalog, sales)
	res.Rows = report.Filter(res.Rows, status, q)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// ExportCSV はレポートをCSVファイルとしてダウンロードさせる。
// GET /api/report/export.csv?status=active&q=keyword
func (h *ReportHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthExpiredError())
		return
	}

	status, q, apiErr := parseReportFilter(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	catalog, sales := h.provider.LatestResults(session.ID)
	if catalog == nil {
		writeAPIErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     model.ErrCodeRunNotFinished,
			Message:  "エクスポート可能なカタログ収集結果がありません。",
			Category: "validation",
			Action:   "カタログ収集を実行し、完了後にエクスポートしてください。",
		})
		return
	}

	res := buildReport(catalog, sales)
	rows := report.Filter(res.Rows, status, q)

	filename := "report-" + time.Now().UTC().Format("20060102-150405") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	if err := h.writeCSV(w, rows); err != nil {
		// ヘッダ送信後はエラーレスポンスを返せないためログのみ
		slog.Error("csv export failed", slog.String("error", err.Error()))
	}
}

// buildReport はカタログ・売上の終端結果からレポートレスポンスを組み立てる。
func buildReport(catalog *model.CatalogResult, sales *model.SalesResult) reportResponse {
	res := reportResponse{
		Ready:        catalog != nil,
		Rows:         []report.Row{},
		CatalogState: model.RunStateIdle,
		SalesState:   model.RunStateIdle,
	}
	if catalog == nil {
		return res
	}

	res.CatalogState = catalog.State
	res.Intended = catalog.Intended
	res.Hydrated = catalog.Hydrated

	var skuUnits map[string]int
	if sales != nil {
		skuUnits = sales.SKUUnits
		res.SalesState = sales.State
		res.Unresolved = sales.Unresolved
		res.WindowFrom = &sales.WindowFrom
		res.WindowTo = &sales.WindowTo
	}

	res.Rows = report.Join(catalog.Items, skuUnits)
	return res
}

// parseReportFilter はレポート絞り込みのクエリパラメータを検証する。
func parseReportFilter(r *http.Request) (model.ItemStatus, string, *model.APIError) {
	q := r.URL.Query().Get("q")

	rawStatus := r.URL.Query().Get("status")
	if rawStatus == "" {
		return "", q, nil
	}

	status, ok := model.ParseItemStatus(rawStatus)
	if !ok {
		return "", "", model.NewInvalidParameterError("status=" + rawStatus)
	}
	return status, q, nil
}
