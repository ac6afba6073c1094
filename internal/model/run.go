package model

import "time"

// RunState は1回の収集実行の状態を表す。
// 遷移: idle → fetching_first_page → {authenticated_not_found | paging} →
// complete | partial | auth_failed
type RunState string

const (
	// RunStateIdle は未開始。
	RunStateIdle RunState = "idle"
	// RunStateFetchingFirstPage は最初のページを取得中。
	RunStateFetchingFirstPage RunState = "fetching_first_page"
	// RunStateNotFound は認証済みだが対象データが0件。
	RunStateNotFound RunState = "authenticated_not_found"
	// RunStatePaging はページネーション走査中。
	RunStatePaging RunState = "paging"
	// RunStateComplete は全件取得完了。
	RunStateComplete RunState = "complete"
	// RunStatePartial は安全上限または連続失敗しきい値による途中終了。
	// 完了とは区別して報告しなければならない。
	RunStatePartial RunState = "partial"
	// RunStateAuthFailed は認証拒否による即時中断。リトライ対象外。
	RunStateAuthFailed RunState = "auth_failed"
)

// Terminal は終端状態かどうかを返す。
func (s RunState) Terminal() bool {
	switch s {
	case RunStateComplete, RunStatePartial, RunStateAuthFailed, RunStateNotFound:
		return true
	}
	return false
}

// Progress は収集実行の進捗スナップショット。
// UIのプログレス表示用にページ単位の進捗を保持する。
type Progress struct {
	State          RunState `json:"state"`
	PagesDone      int      `json:"pages_done"`
	PagesExpected  int      `json:"pages_expected"`
	ItemsCollected int      `json:"items_collected"`
}

// CatalogResult はカタログ収集パイプラインの最終結果。
// IntendedとHydratedは部分失敗時に乖離し、呼び出し元はその差を観測できる。
type CatalogResult struct {
	Items    []CatalogItem `json:"items"`
	Intended int           `json:"intended_count"`
	Hydrated int           `json:"hydrated_count"`
	State    RunState      `json:"state"`
}

// SalesResult は売上集計パイプラインの最終結果。
// SKUUnitsはSKU→ウィンドウ内販売数のマッピング。
// Unresolvedはカタログに解決できず集計から除外した出品IDの数。
type SalesResult struct {
	SKUUnits   map[string]int `json:"sku_units"`
	Orders     int            `json:"order_count"`
	Lines      int            `json:"line_count"`
	Unresolved int            `json:"unresolved_count"`
	WindowFrom time.Time      `json:"window_from"`
	WindowTo   time.Time      `json:"window_to"`
	State      RunState       `json:"state"`
}
