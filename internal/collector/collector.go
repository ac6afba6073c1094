// Package collector はoffset/limitページネーションのアップストリーム資源を
// 走査して単一のコレクションへ集約する収集機構を提供する。
// ページ間ペーシング、安全上限、連続失敗しきい値、進捗通知を扱う。
package collector

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/mercadash/internal/model"
)

// PageFunc は1ページ分の取得を行う関数。
// resultsとそのページ時点で申告されたtotalを返す。
// totalは走査中に変動しうる概算値として扱う。
type PageFunc[T any] func(ctx context.Context, offset, limit int) (results []T, total int, err error)

// ProgressFunc は進捗スナップショットの通知先。nil可。
type ProgressFunc func(p model.Progress)

// Config は1回の収集走査のパラメータ。
// 型パラメータTは走査対象の要素型で、Collectと揃える。
type Config[T any] struct {
	// PageSize は1ページあたりの件数。アップストリーム上限以下であること。
	PageSize int
	// Interval はページ間のリクエスト間隔。レート制限回避のための
	// 意図的なスループット調整であり、0で無効化できる。
	Interval time.Duration
	// SafetyCeiling は取得レコード数の安全上限。到達時はpartialで終了する。
	SafetyCeiling int
	// FailureThreshold は走査を打ち切る連続ページ失敗数。
	FailureThreshold int
	// KeyOf は重複排除のキー関数。nilの場合は重複排除しない。
	KeyOf func(item T) string
}

// Result は収集走査の結果。
// Itemsは挿入順（アップストリームのページ順）を保つ。
type Result[T any] struct {
	Items []T
	// State は終端状態（complete / partial / auth_failed / authenticated_not_found）。
	State model.RunState
	// PagesDone は成功したページ数。
	PagesDone int
	// PageFailures は失敗したページ数（リトライ試行後も失敗したもの）。
	PageFailures int
	// DeclaredTotal は最後に観測した申告total。
	DeclaredTotal int
}

// Collect はページネーション走査を実行し、結果を単一コレクションに集約する。
//
// 終了条件:
//   - 走査済みoffsetが申告totalに到達 → complete（ただし失敗ページを
//     スキップしていた場合はpartial。欠落のある集合をcompleteとして
//     提示してはならない）
//   - 累積件数がSafetyCeilingに到達 → partial（エラーではなく意図的な打ち切り）
//   - 連続ページ失敗がFailureThresholdを超過 → partial
//   - 認証拒否 → auth_failed（即時中断、リトライなし）
//
// 申告totalはページごとに読み直し、最新値を完了判定に使う。
// 走査中にセラーが出品を増減させた場合でも、上限はSafetyCeilingが抑える。
// アキュムレータは本関数のローカル値であり、呼び出し間で共有されない。
func Collect[T any](ctx context.Context, cfg Config[T], logger *slog.Logger, fetch PageFunc[T], progress ProgressFunc) (*Result[T], error) {
	res := &Result[T]{State: model.RunStateFetchingFirstPage}
	notify(progress, res, 0)

	var seen map[string]bool
	if cfg.KeyOf != nil {
		seen = make(map[string]bool)
	}

	// ページ間ペーシング。バケット初期値1のため初回ページは待たない。
	var limiter *rate.Limiter
	if cfg.Interval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Interval), 1)
	}

	offset := 0
	consecutiveFailures := 0
	fetched := 0 // 重複排除前の取得件数（offset進行とtotal比較に使用）

	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return res, err
			}
		}

		results, total, err := fetch(ctx, offset, cfg.PageSize)
		if err != nil {
			if errors.Is(err, model.ErrAuthRejected) {
				// 認証拒否はトランジエントではない。即時中断。
				res.State = model.RunStateAuthFailed
				notify(progress, res, expectedPages(res.DeclaredTotal, cfg.PageSize))
				return res, err
			}
			if res.PagesDone == 0 && res.PageFailures == 0 {
				// 最初のページが失敗: データゼロのまま呼び出し元へ
				return res, err
			}

			res.PageFailures++
			consecutiveFailures++
			logger.Warn("ページの取得に失敗しました",
				slog.Int("offset", offset),
				slog.Int("consecutive_failures", consecutiveFailures),
				slog.String("error", err.Error()),
			)
			if consecutiveFailures >= cfg.FailureThreshold {
				logger.Warn("連続ページ失敗により収集を打ち切ります",
					slog.Int("failure_threshold", cfg.FailureThreshold),
				)
				res.State = model.RunStatePartial
				notify(progress, res, expectedPages(res.DeclaredTotal, cfg.PageSize))
				return res, nil
			}
			// 失敗ページはスキップして次のoffsetへ進む
			offset += cfg.PageSize
			continue
		}

		consecutiveFailures = 0
		res.PagesDone++
		res.DeclaredTotal = total

		for _, item := range results {
			if seen != nil {
				key := cfg.KeyOf(item)
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			res.Items = append(res.Items, item)
		}
		fetched += len(results)
		offset += cfg.PageSize

		res.State = model.RunStatePaging
		notify(progress, res, expectedPages(total, cfg.PageSize))

		if total == 0 && fetched == 0 {
			res.State = model.RunStateNotFound
			notify(progress, res, 0)
			return res, nil
		}

		if fetched >= cfg.SafetyCeiling {
			logger.Info("安全上限に達したため収集を打ち切ります",
				slog.Int("safety_ceiling", cfg.SafetyCeiling),
				slog.Int("fetched", fetched),
			)
			res.State = model.RunStatePartial
			notify(progress, res, expectedPages(total, cfg.PageSize))
			return res, nil
		}

		// 最新の申告totalに対する完了判定。
		// 空ページはtotalの残存ドリフトに対する防御で、終端扱いにする。
		// 失敗ページをスキップして到達した終端は欠落を含むためpartial。
		if offset >= total || len(results) == 0 {
			if res.PageFailures > 0 {
				res.State = model.RunStatePartial
			} else {
				res.State = model.RunStateComplete
			}
			notify(progress, res, expectedPages(total, cfg.PageSize))
			return res, nil
		}
	}
}

// Chunk はitemsをsize以下のバッチに分割する。
// マルチゲット上限（20件）に合わせたバッチ分割に使用する。
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}

// expectedPages は申告totalから予想ページ数を計算する。
func expectedPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// notify は進捗コールバックへスナップショットを送る。
func notify[T any](progress ProgressFunc, res *Result[T], pagesExpected int) {
	if progress == nil {
		return
	}
	progress(model.Progress{
		State:          res.State,
		PagesDone:      res.PagesDone,
		PagesExpected:  pagesExpected,
		ItemsCollected: len(res.Items),
	})
}
