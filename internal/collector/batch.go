package collector

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/mercadash/internal/model"
)

// BatchFunc は1バッチ分のID群の詳細取得を行う関数。
// 取得できたIDのマッピングと、件別サブステータスが非200のためスキップした
// 件数を返す。スキップはページ失敗として数えない。
type BatchFunc[T any] func(ctx context.Context, ids []string) (found map[string]T, skipped int, err error)

// BatchStats はバッチ詳細取得の統計。
// 部分失敗時にIntendedとHydratedは乖離し、呼び出し元はその差を観測できる。
type BatchStats struct {
	// Intended は取得しようとしたIDの総数。
	Intended int
	// Hydrated は実際に詳細を取得できたIDの数。
	Hydrated int
	// SkippedIDs は件別サブステータス非200によりスキップしたIDの数。
	SkippedIDs int
	// FailedBatches はリトライ後も失敗したバッチの数。
	FailedBatches int
}

// HydrateBatches はidsをbatchSize以下のバッチに分割し、順次詳細を取得して
// IDキーのマッピングへマージする。バッチ間はintervalでペーシングする。
//
// リトライ後も失敗したバッチは記録して継続する（部分ハイドレーション）。
// 認証拒否のみ即時中断して伝播する。取得済みマッピングへの追加は
// バッチ単位で行い、途中失敗が中途半端な状態を残すことはない。
func HydrateBatches[T any](ctx context.Context, ids []string, batchSize int, interval time.Duration, logger *slog.Logger, fetch BatchFunc[T]) (map[string]T, *BatchStats, error) {
	stats := &BatchStats{Intended: len(ids)}
	found := make(map[string]T, len(ids))

	if len(ids) == 0 {
		return found, stats, nil
	}

	var limiter *rate.Limiter
	if interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}

	for _, batch := range Chunk(ids, batchSize) {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return found, stats, err
			}
		}

		batchFound, skipped, err := fetch(ctx, batch)
		if err != nil {
			if errors.Is(err, model.ErrAuthRejected) {
				return found, stats, err
			}
			// バッチ全体の失敗: 記録して残りのバッチを継続する
			stats.FailedBatches++
			logger.Warn("詳細バッチの取得に失敗しました",
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()),
			)
			continue
		}

		stats.SkippedIDs += skipped
		for id, item := range batchFound {
			found[id] = item
		}
	}

	stats.Hydrated = len(found)
	return found, stats, nil
}
