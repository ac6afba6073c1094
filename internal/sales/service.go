// Package sales は注文履歴の収集とSKU別販売数への集約を提供する。
// 直近ウィンドウの注文をページネーション走査し、明細をitemID→数量に畳み込み、
// マルチゲットでSKUを解決してSKU→販売数のマッピングを導出する。
package sales

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

// MarketplaceAPI は売上集計が必要とするアップストリーム操作。
// テスト時にモックに差し替え可能。
type MarketplaceAPI interface {
	Me(ctx context.Context, token string) (*meli.UserInfo, error)
	SearchOrders(ctx context.Context, token string, sellerID int64, from, to time.Time, offset, limit int) (*meli.OrderPage, error)
	GetItems(ctx context.Context, token string, ids []string, attributes []string) ([]meli.MultiGetEntry, error)
}

// Metrics は売上パイプラインのメトリクス記録インターフェース。nil可。
type Metrics interface {
	RecordPipelineRun(pipeline string, state model.RunState, duration time.Duration)
	RecordUnresolvedRefs(count int)
}

// Config は売上集計のチューニングパラメータ。
type Config struct {
	PageSize         int
	BatchSize        int
	PageInterval     time.Duration
	SafetyCeiling    int
	FailureThreshold int
	// WindowDays は集計対象の直近日数（デフォルト60日）。
	WindowDays int
}

// Service は売上集計パイプライン。
// 結果は呼び出しごとのローカル値であり、並行する収集間で状態を共有しない。
type Service struct {
	api     MarketplaceAPI
	logger  *slog.Logger
	metrics Metrics
	config  Config
	// now はテスト用に差し替え可能な現在時刻の供給元。
	now func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(api MarketplaceAPI, logger *slog.Logger, metrics Metrics, config Config) *Service {
	if config.WindowDays <= 0 {
		config.WindowDays = 60
	}
	return &Service{
		api:     api,
		logger:  logger,
		metrics: metrics,
		config:  config,
		now:     time.Now,
	}
}

// Collect は直近ウィンドウの注文を収集し、SKU→販売数のマッピングを導出する。
//
// パス1: 注文明細の(itemID, quantity)をitemID→数量合計に畳み込む。
// 数量が非正、またはitemIDが欠落した明細は無視する。
// パス2: itemIDごとのSKUをマルチゲット（属性リストのみ要求）で解決し、
// itemID→数量をSKU→数量へ畳み込む。複数のitemIDが同一SKUを共有する場合は
// 合算する。解決できなかったitemIDは集計から除外し、件数のみ記録する。
//
// 加算は可換なため、最終結果は中間マップの反復順序に依存しない。
func (s *Service) Collect(ctx context.Context, token string, progress collector.ProgressFunc) (*model.SalesResult, error) {
	start := time.Now()

	windowTo := s.now().UTC()
	windowFrom := windowTo.AddDate(0, 0, -s.config.WindowDays)

	user, err := s.api.Me(ctx, token)
	if err != nil {
		if errors.Is(err, model.ErrAuthRejected) {
			s.finish(model.RunStateAuthFailed, start)
			return &model.SalesResult{State: model.RunStateAuthFailed}, err
		}
		return nil, fmt.Errorf("セラーIDの解決に失敗しました: %w", err)
	}

	// 注文のページネーション走査
	orderWalk, err := collector.Collect(ctx, collector.Config[model.Order]{
		PageSize:         s.config.PageSize,
		Interval:         s.config.PageInterval,
		SafetyCeiling:    s.config.SafetyCeiling,
		FailureThreshold: s.config.FailureThreshold,
	}, s.logger, func(ctx context.Context, offset, limit int) ([]model.Order, int, error) {
		page, err := s.api.SearchOrders(ctx, token, user.ID, windowFrom, windowTo, offset, limit)
		if err != nil {
			return nil, 0, err
		}
		return page.Orders, page.Total, nil
	}, progress)
	if err != nil {
		if orderWalk != nil && orderWalk.State == model.RunStateAuthFailed {
			s.finish(model.RunStateAuthFailed, start)
			return &model.SalesResult{State: model.RunStateAuthFailed}, err
		}
		return nil, fmt.Errorf("注文の収集に失敗しました: %w", err)
	}

	result := &model.SalesResult{
		SKUUnits:   make(map[string]int),
		Orders:     len(orderWalk.Items),
		WindowFrom: windowFrom,
		WindowTo:   windowTo,
		State:      orderWalk.State,
	}

	if orderWalk.State == model.RunStateNotFound {
		s.finish(model.RunStateNotFound, start)
		return result, nil
	}

	// パス1: itemID→数量の畳み込み
	itemUnits := FoldOrderLines(orderWalk.Items)
	for _, o := range orderWalk.Items {
		result.Lines += len(o.Lines)
	}

	// パス2: SKU解決とSKU→数量への畳み込み
	ids := make([]string, 0, len(itemUnits))
	for id := range itemUnits {
		ids = append(ids, id)
	}

	skuByItem, stats, err := collector.HydrateBatches(ctx, ids, s.config.BatchSize, s.config.PageInterval, s.logger,
		func(ctx context.Context, batch []string) (map[string]string, int, error) {
			return s.resolveSKUs(ctx, token, batch)
		})
	if err != nil {
		if errors.Is(err, model.ErrAuthRejected) {
			s.finish(model.RunStateAuthFailed, start)
			result.State = model.RunStateAuthFailed
			return result, err
		}
		return nil, fmt.Errorf("SKUの解決に失敗しました: %w", err)
	}

	for itemID, units := range itemUnits {
		sku, ok := skuByItem[itemID]
		if !ok {
			// 削除済み・アクセス不能な出品は集計から除外する（エラーではない）
			result.Unresolved++
			continue
		}
		result.SKUUnits[sku] += units
	}

	if stats.FailedBatches > 0 {
		result.State = model.RunStatePartial
	}

	if s.metrics != nil {
		s.metrics.RecordUnresolvedRefs(result.Unresolved)
	}
	s.finish(result.State, start)

	s.logger.Info("売上集計が完了しました",
		slog.Int64("seller_id", user.ID),
		slog.String("state", string(result.State)),
		slog.Int("orders", result.Orders),
		slog.Int("lines", result.Lines),
		slog.Int("skus", len(result.SKUUnits)),
		slog.Int("unresolved", result.Unresolved),
		slog.Time("window_from", windowFrom),
		slog.Time("window_to", windowTo),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return result, nil
}

// FoldOrderLines は注文明細を(itemID, 数量合計)のマッピングへ畳み込む。
// 数量が非正、またはitemIDが欠落した明細は無視する。純粋関数。
func FoldOrderLines(orders []model.Order) map[string]int {
	units := make(map[string]int)
	for _, o := range orders {
		for _, line := range o.Lines {
			if line.ItemID == "" || line.Quantity <= 0 {
				continue
			}
			units[line.ItemID] += line.Quantity
		}
	}
	return units
}

// resolveSKUs は1バッチ分のitemIDのSKUをマルチゲットで解決する。
// 属性リストのみ要求してペイロードを絞る。件別サブステータス非200は
// スキップとして数え、失敗扱いにしない。
func (s *Service) resolveSKUs(ctx context.Context, token string, ids []string) (map[string]string, int, error) {
	entries, err := s.api.GetItems(ctx, token, ids, []string{"id", "attributes"})
	if err != nil {
		return nil, 0, err
	}

	found := make(map[string]string, len(entries))
	skipped := 0
	for _, entry := range entries {
		if entry.Code != 200 {
			skipped++
			continue
		}
		found[entry.Body.ID] = model.SKUOf(entry.Body.Attributes)
	}
	return found, skipped, nil
}

// finish はパイプラインの終了をメトリクスに記録する。
func (s *Service) finish(state model.RunState, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordPipelineRun("sales", state, time.Since(start))
	}
}
