// Package catalog はセラーのカタログ収集パイプラインを提供する。
// 出品ID検索のページネーション走査と、マルチゲットによる詳細ハイドレーションの
// 2パスでカタログ全体を組み立てる。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mercadash/internal/collector"
	"github.com/hitoshi/mercadash/internal/meli"
	"github.com/hitoshi/mercadash/internal/model"
)

// MarketplaceAPI はカタログ収集が必要とするアップストリーム操作。
// テスト時にモックに差し替え可能。
type MarketplaceAPI interface {
	Me(ctx context.Context, token string) (*meli.UserInfo, error)
	SearchItemIDs(ctx context.Context, token string, sellerID int64, statuses []model.ItemStatus, offset, limit int) (*meli.IDPage, error)
	GetItems(ctx context.Context, token string, ids []string, attributes []string) ([]meli.MultiGetEntry, error)
}

// TitleSanitizer は表示前のタイトルサニタイズのインターフェース。
type TitleSanitizer interface {
	Sanitize(title string) string
}

// Metrics はカタログパイプラインのメトリクス記録インターフェース。nil可。
type Metrics interface {
	RecordPipelineRun(pipeline string, state model.RunState, duration time.Duration)
	RecordHydrationGap(gap int)
}

// Config はカタログ収集のチューニングパラメータ。
type Config struct {
	PageSize         int
	BatchSize        int
	PageInterval     time.Duration
	SafetyCeiling    int
	FailureThreshold int
}

// Service はカタログ収集パイプライン。
// 結果は呼び出しごとのローカル値であり、並行する収集間で状態を共有しない。
type Service struct {
	api       MarketplaceAPI
	sanitizer TitleSanitizer
	logger    *slog.Logger
	metrics   Metrics
	config    Config
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(api MarketplaceAPI, sanitizer TitleSanitizer, logger *slog.Logger, metrics Metrics, config Config) *Service {
	return &Service{
		api:       api,
		sanitizer: sanitizer,
		logger:    logger,
		metrics:   metrics,
		config:    config,
	}
}

// Collect はセラーのカタログを収集する。
//
// パス1: 出品ID検索を全ステータス対象にページネーション走査する。
// パス2: 収集したIDを20件以下のバッチに分け、マルチゲットで詳細を取得する。
// 件別サブステータス非200の出品はスキップし、ページ失敗として扱わない。
// 最終結果は意図した件数と実際にハイドレートできた件数の両方を報告する。
func (s *Service) Collect(ctx context.Context, token string, progress collector.ProgressFunc) (*model.CatalogResult, error) {
	start := time.Now()

	user, err := s.api.Me(ctx, token)
	if err != nil {
		if errors.Is(err, model.ErrAuthRejected) {
			s.finish(model.RunStateAuthFailed, start)
			return &model.CatalogResult{State: model.RunStateAuthFailed}, err
		}
		return nil, fmt.Errorf("セラーIDの解決に失敗しました: %w", err)
	}

	// パス1: 出品IDのページネーション走査
	idWalk, err := collector.Collect(ctx, collector.Config[string]{
		PageSize:         s.config.PageSize,
		Interval:         s.config.PageInterval,
		SafetyCeiling:    s.config.SafetyCeiling,
		FailureThreshold: s.config.FailureThreshold,
		KeyOf:            func(id string) string { return id },
	}, s.logger, func(ctx context.Context, offset, limit int) ([]string, int, error) {
		page, err := s.api.SearchItemIDs(ctx, token, user.ID, model.AllItemStatuses, offset, limit)
		if err != nil {
			return nil, 0, err
		}
		return page.IDs, page.Total, nil
	}, progress)
	if err != nil {
		if idWalk != nil && idWalk.State == model.RunStateAuthFailed {
			s.finish(model.RunStateAuthFailed, start)
			return &model.CatalogResult{State: model.RunStateAuthFailed}, err
		}
		return nil, fmt.Errorf("出品IDの収集に失敗しました: %w", err)
	}

	if idWalk.State == model.RunStateNotFound {
		s.finish(model.RunStateNotFound, start)
		return &model.CatalogResult{Items: []model.CatalogItem{}, State: model.RunStateNotFound}, nil
	}

	// パス2: 詳細ハイドレーション
	details, stats, err := collector.HydrateBatches(ctx, idWalk.Items, s.config.BatchSize, s.config.PageInterval, s.logger,
		func(ctx context.Context, ids []string) (map[string]model.CatalogItem, int, error) {
			return s.fetchBatch(ctx, token, ids)
		})
	if err != nil {
		if errors.Is(err, model.ErrAuthRejected) {
			s.finish(model.RunStateAuthFailed, start)
			return &model.CatalogResult{State: model.RunStateAuthFailed}, err
		}
		return nil, fmt.Errorf("出品詳細の取得に失敗しました: %w", err)
	}

	// 挿入順 = アップストリームのページ順を維持してマージする
	items := make([]model.CatalogItem, 0, len(details))
	for _, id := range idWalk.Items {
		if item, ok := details[id]; ok {
			items = append(items, item)
		}
	}

	state := idWalk.State
	if stats.FailedBatches > 0 {
		// バッチ丸ごとの欠落はpartialとして報告する。
		// 件別サブステータスによるスキップ（削除済み出品等）は想定内であり
		// completeのまま、件数の乖離のみで観測させる。
		state = model.RunStatePartial
	}

	gap := stats.Intended - stats.Hydrated
	if s.metrics != nil {
		s.metrics.RecordHydrationGap(gap)
	}
	s.finish(state, start)

	s.logger.Info("カタログ収集が完了しました",
		slog.Int64("seller_id", user.ID),
		slog.String("state", string(state)),
		slog.Int("intended", stats.Intended),
		slog.Int("hydrated", stats.Hydrated),
		slog.Int("skipped_ids", stats.SkippedIDs),
		slog.Int("failed_batches", stats.FailedBatches),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return &model.CatalogResult{
		Items:    items,
		Intended: stats.Intended,
		Hydrated: stats.Hydrated,
		State:    state,
	}, nil
}

// fetchBatch は1バッチ分のマルチゲットを実行し、出品詳細をドメインモデルへ変換する。
func (s *Service) fetchBatch(ctx context.Context, token string, ids []string) (map[string]model.CatalogItem, int, error) {
	entries, err := s.api.GetItems(ctx, token, ids, nil)
	if err != nil {
		return nil, 0, err
	}

	found := make(map[string]model.CatalogItem, len(entries))
	skipped := 0
	for _, entry := range entries {
		if entry.Code != 200 {
			skipped++
			continue
		}
		found[entry.Body.ID] = s.toCatalogItem(entry.Body)
	}
	return found, skipped, nil
}

// toCatalogItem はマルチゲットの出品詳細をドメインモデルへ変換する。
// SKUの正規化とタイトルのサニタイズはここで一度だけ行う。
func (s *Service) toCatalogItem(d meli.ItemDetail) model.CatalogItem {
	logisticType := ""
	if d.Shipping.LogisticType != nil {
		logisticType = *d.Shipping.LogisticType
	}

	title := d.Title
	if s.sanitizer != nil {
		title = s.sanitizer.Sanitize(title)
	}

	return model.CatalogItem{
		ID:           d.ID,
		Title:        title,
		Price:        d.Price,
		Available:    d.Available,
		SoldTotal:    d.SoldTotal,
		Status:       model.ItemStatus(d.Status),
		Permalink:    d.Permalink,
		ThumbnailURL: d.Thumbnail,
		Shipping: model.Shipping{
			Mode:         d.Shipping.Mode,
			FreeShipping: d.Shipping.FreeShipping,
			LogisticType: logisticType,
		},
		SKU: model.SKUOf(d.Attributes),
	}
}

// finish はパイプラインの終了をメトリクスに記録する。
func (s *Service) finish(state model.RunState, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordPipelineRun("catalog", state, time.Since(start))
	}
}
