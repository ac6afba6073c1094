// Package report は収集パイプラインのオーケストレーションと結果の結合を提供する。
// カタログ収集と売上集計は独立した2本のパイプラインとして起動され、
// 実行レジストリが進捗スナップショットと終端結果を保持する。
package report

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mercadash/internal/collector"
	"github.com/hitoshi/mercadash/internal/model"
)

// CatalogCollector はカタログ収集パイプラインのインターフェース。
type CatalogCollector interface {
	Collect(ctx context.Context, token string, progress collector.ProgressFunc) (*model.CatalogResult, error)
}

// SalesCollector は売上集計パイプラインのインターフェース。
type SalesCollector interface {
	Collect(ctx context.Context, token string, progress collector.ProgressFunc) (*model.SalesResult, error)
}

// SessionInvalidator は認証拒否されたセッションの無効化インターフェース。
type SessionInvalidator interface {
	Invalidate(sessionID string)
}

// RunKind は収集実行の種別。
type RunKind string

const (
	// RunKindCatalog はカタログ収集。
	RunKindCatalog RunKind = "catalog"
	// RunKindSales は売上集計。
	RunKindSales RunKind = "sales"
)

// RunSnapshot は収集実行の観測可能なスナップショット。
type RunSnapshot struct {
	ID         string         `json:"id"`
	Kind       RunKind        `json:"kind"`
	Progress   model.Progress `json:"progress"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	// Err はパイプラインがデータゼロのまま失敗した場合のメッセージ。
	Err string `json:"error,omitempty"`
}

// Terminal は実行が終端に達しているかを返す。
func (s *RunSnapshot) Terminal() bool {
	return s.FinishedAt != nil
}

// runEntry はレジストリ内部の実行状態。
type runEntry struct {
	snapshot  RunSnapshot
	sessionID string
	catalog   *model.CatalogResult
	sales     *model.SalesResult
}

// runTTL は終端に達した実行をレジストリに保持する期間。
// 結果はセッション中のUI表示のためだけに保持し、永続化しない。
const runTTL = 30 * time.Minute

// Runner は収集実行のレジストリ。
// 各実行のアキュムレータはパイプライン呼び出しのローカル値であり、
// レジストリはスナップショットの読み取りだけを提供する。
// 2本のパイプラインは相互にロックを奪い合わず並行に進行できる。
type Runner struct {
	catalog     CatalogCollector
	sales       SalesCollector
	invalidator SessionInvalidator
	logger      *slog.Logger

	mu     sync.RWMutex
	runs   map[string]*runEntry
	latest map[string]map[RunKind]string // sessionID → kind → 最新の終端実行ID

	stopCh chan struct{}
}

// NewRunner はRunnerの新しいインスタンスを生成し、
// 期限切れ実行のクリーンアップを開始する。
func NewRunner(catalog CatalogCollector, sales SalesCollector, invalidator SessionInvalidator, logger *slog.Logger) *Runner {
	r := &Runner{
		catalog:     catalog,
		sales:       sales,
		invalidator: invalidator,
		logger:      logger,
		runs:        make(map[string]*runEntry),
		latest:      make(map[string]map[RunKind]string),
		stopCh:      make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (r *Runner) Stop() {
	close(r.stopCh)
}

// StartCatalog はカタログ収集をバックグラウンドで開始し、実行IDを返す。
// リクエストコンテキストから切り離して実行するため、ブラウザが
// ページを離れても実行は破棄されるだけで共有状態を壊さない。
func (r *Runner) StartCatalog(sessionID, token string) string {
	entry := r.register(RunKindCatalog, sessionID)

	go func() {
		result, err := r.catalog.Collect(context.Background(), token, r.progressFunc(entry.snapshot.ID))
		r.finishCatalog(entry.snapshot.ID, result, err)
	}()

	return entry.snapshot.ID
}

// StartSales は売上集計をバックグラウンドで開始し、実行IDを返す。
func (r *Runner) StartSales(sessionID, token string) string {
	entry := r.register(RunKindSales, sessionID)

	go func() {
		result, err := r.sales.Collect(context.Background(), token, r.progressFunc(entry.snapshot.ID))
		r.finishSales(entry.snapshot.ID, result, err)
	}()

	return entry.snapshot.ID
}

// Snapshot は実行の進捗スナップショットを返す。
func (r *Runner) Snapshot(runID string) (*RunSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.runs[runID]
	if !ok {
		return nil, false
	}
	snapshot := entry.snapshot
	return &snapshot, true
}

// CatalogResult は終端に達したカタログ実行の結果を返す。
// 実行が見つからない場合は(nil, false, false)、まだ終端でない場合は
// (nil, true, false)を返す。
func (r *Runner) CatalogResult(runID string) (*model.CatalogResult, bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.runs[runID]
	if !ok || entry.snapshot.Kind != RunKindCatalog {
		return nil, false, false
	}
	if !entry.snapshot.Terminal() {
		return nil, true, false
	}
	return entry.catalog, true, true
}

// SalesResult は終端に達した売上実行の結果を返す。
func (r *Runner) SalesResult(runID string) (*model.SalesResult, bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.runs[runID]
	if !ok || entry.snapshot.Kind != RunKindSales {
		return nil, false, false
	}
	if !entry.snapshot.Terminal() {
		return nil, true, false
	}
	return entry.sales, true, true
}

// LatestResults はセッションの最新の終端結果（カタログ・売上）を返す。
// どちらかが未実行の場合はnilを返す。
func (r *Runner) LatestResults(sessionID string) (*model.CatalogResult, *model.SalesResult) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds, ok := r.latest[sessionID]
	if !ok {
		return nil, nil
	}

	var catalog *model.CatalogResult
	var sales *model.SalesResult
	if id, ok := kinds[RunKindCatalog]; ok {
		if entry, ok := r.runs[id]; ok {
			catalog = entry.catalog
		}
	}
	if id, ok := kinds[RunKindSales]; ok {
		if entry, ok := r.runs[id]; ok {
			sales = entry.sales
		}
	}
	return catalog, sales
}

// register は新しい実行をレジストリに登録する。
func (r *Runner) register(kind RunKind, sessionID string) *runEntry {
	entry := &runEntry{
		snapshot: RunSnapshot{
			ID:        uuid.NewString(),
			Kind:      kind,
			Progress:  model.Progress{State: model.RunStateIdle},
			StartedAt: time.Now(),
		},
		sessionID: sessionID,
	}

	r.mu.Lock()
	r.runs[entry.snapshot.ID] = entry
	r.mu.Unlock()

	r.logger.Info("収集実行を開始します",
		slog.String("run_id", entry.snapshot.ID),
		slog.String("kind", string(kind)),
	)

	return entry
}

// progressFunc は実行IDに対応する進捗更新コールバックを返す。
func (r *Runner) progressFunc(runID string) collector.ProgressFunc {
	return func(p model.Progress) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if entry, ok := r.runs[runID]; ok {
			entry.snapshot.Progress = p
		}
	}
}

// finishCatalog はカタログ実行の終端処理を行う。
func (r *Runner) finishCatalog(runID string, result *model.CatalogResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.runs[runID]
	if !ok {
		return
	}

	now := time.Now()
	entry.snapshot.FinishedAt = &now
	entry.catalog = result

	// 結果がnil（データゼロのまま失敗）の場合は停止時点の状態を保ち、
	// エラーメッセージだけを記録する。
	state := entry.snapshot.Progress.State
	if result != nil {
		state = result.State
	}
	r.finishCommon(entry, state, err)
}

// finishSales は売上実行の終端処理を行う。
func (r *Runner) finishSales(runID string, result *model.SalesResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.runs[runID]
	if !ok {
		return
	}

	now := time.Now()
	entry.snapshot.FinishedAt = &now
	entry.sales = result

	state := entry.snapshot.Progress.State
	if result != nil {
		state = result.State
	}
	r.finishCommon(entry, state, err)
}

// finishCommon は実行終端の共通処理（呼び出し元がロックを保持していること）。
func (r *Runner) finishCommon(entry *runEntry, state model.RunState, err error) {
	entry.snapshot.Progress.State = state
	if err != nil {
		entry.snapshot.Err = err.Error()
	}

	if state == model.RunStateAuthFailed {
		// 認証拒否はトランジエントではない。セッションを即時無効化して
		// 呼び出し元に再認証を強制させる。
		if r.invalidator != nil {
			r.invalidator.Invalidate(entry.sessionID)
		}
	} else if state.Terminal() {
		kinds, ok := r.latest[entry.sessionID]
		if !ok {
			kinds = make(map[RunKind]string)
			r.latest[entry.sessionID] = kinds
		}
		kinds[entry.snapshot.Kind] = entry.snapshot.ID
	}

	r.logger.Info("収集実行が終了しました",
		slog.String("run_id", entry.snapshot.ID),
		slog.String("kind", string(entry.snapshot.Kind)),
		slog.String("state", string(state)),
	)
}

// cleanupLoop はバックグラウンドで期限切れ実行を定期的に削除する。
func (r *Runner) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanup()
		case <-r.stopCh:
			return
		}
	}
}

// cleanup は終端からrunTTLを超えた実行を削除する。
func (r *Runner) cleanup() {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.runs {
		if entry.snapshot.FinishedAt != nil && now.Sub(*entry.snapshot.FinishedAt) > runTTL {
			delete(r.runs, id)
		}
	}
	for sessionID, kinds := range r.latest {
		for kind, id := range kinds {
			if _, ok := r.runs[id]; !ok {
				delete(kinds, kind)
			}
		}
		if len(kinds) == 0 {
			delete(r.latest, sessionID)
		}
	}
}
