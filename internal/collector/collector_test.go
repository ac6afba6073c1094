package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/hitoshi/mercadash/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// makeIDs は連番のIDを生成する。
func makeIDs(prefix string, from, count int) []string {
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		ids = append(ids, fmt.Sprintf("%s%d", prefix, from+i))
	}
	return ids
}

// pagedFetch は固定のID全集合に対するoffset/limitページングをシミュレートする。
func pagedFetch(all []string) PageFunc[string] {
	return func(ctx context.Context, offset, limit int) ([]string, int, error) {
		if offset >= len(all) {
			return nil, len(all), nil
		}
		end := offset + limit
		if end > len(all) {
			end = len(all)
		}
		return all[offset:end], len(all), nil
	}
}

func identityKey(s string) string { return s }

func testConfig() Config[string] {
	return Config[string]{
		PageSize:         50,
		Interval:         0, // テストではペーシング無効
		SafetyCeiling:    1000,
		FailureThreshold: 3,
		KeyOf:            identityKey,
	}
}

func TestCollect_CompleteInExactPages(t *testing.T) {
	var buf bytes.Buffer
	all := makeIDs("MLA", 1, 120)

	var pageCalls int
	fetch := func(ctx context.Context, offset, limit int) ([]string, int, error) {
		pageCalls++
		return pagedFetch(all)(ctx, offset, limit)
	}

	res, err := Collect(context.Background(), testConfig(), newTestLogger(&buf), fetch, nil)
	if err != nil {
		t.Fatalf("Collect がエラーを返した: %v", err)
	}

	if res.State != model.RunStateComplete {
		t.Errorf("State = %s, want complete", res.State)
	}
	if len(res.Items) != 120 {
		t.Errorf("len(Items) = %d, want 120", len(res.Items))
	}
	// total=120, pageSize=50 → ちょうど⌈120/50⌉=3ページで完了
	if pageCalls != 3 {
		t.Errorf("ページ呼び出し回数 = %d, want 3", pageCalls)
	}
	if res.DeclaredTotal != 120 {
		t.Errorf("DeclaredTotal = %d, want 120", res.DeclaredTotal)
	}
}

func TestCollect_EmptyCatalogIsNotFound(t *testing.T) {
	var buf bytes.Buffer

	fetch := func(ctx context.Context, offset, limit int) ([]string, int, error) {
		return nil, 0, nil
	}

	res, err := Collect(context.Background(), testConfig(), newTestLogger(&buf), fetch, nil)
	if err != nil {
		t.Fatalf("Collect がエラーを返した: %v", err)
	}

	if res.State != model.RunStateNotFound {
		t.Errorf("State = %s, want authenticated_not_found", res.State)
	}
	if len(res.Items) != 0 {
		t.Errorf("len(Items) = %d, want 0", len(res.Items))
	}
}

func TestCollect_SafetyCeilingTruncatesAsPartial(t *testing.T) {
	var buf bytes.Buffer
	all := makeIDs("MLA", 1, 1500)

	cfg := testConfig()
	res, err := Collect(context.Background(), cfg, newTestLogger(&buf), pagedFetch(all), nil)
	if err != nil {
		t.Fatalf("Collect がエラーを返した: %v", err)
	}

	if res.State != model.RunStatePartial {
		t.Errorf("State = %s, want partial", res.State)
	}
	if len(res.Items) != cfg.SafetyCeiling {
		t.Errorf("len(Items) = %d, want %d", len(res.Items), cfg.SafetyCeiling)
	}
}

func TestCollect_AuthRejectionAbortsImmediately(t *testing.T) {
	var buf bytes.Buffer
	var pageCalls int

	fetch := func(ctx context.Context, offset, limit int) ([]string, int, error) {
		pageCalls++
		if pageCalls == 2 {
			return nil, 0, fmt.Errorf("認証が拒否されました: %w", model.ErrAuthRejected)
		}
		return makeIDs("MLA", offset+1, limit), 500, nil
	}

	res, err := Collect(context.Background(), testConfig(), newTestLogger(&buf), fetch, nil)
	if !errors.Is(err, model.ErrAuthRejected) {
		t.Fatalf("errors.Is(err, ErrAuthRejected) = false, err = %v", err)
	}

	if res.State != model.RunStateAuthFailed {
		t.Errorf("State = %s, want auth_failed", res.State)
	}
	// 途中ページでの認証拒否も即時中断: 3ページ目以降は呼ばれない
	if pageCalls != 2 {
		t.Errorf("ページ呼び出し回数 = %d, want 2", pageCalls)
	}
}

func TestCollect_FirstPageFailureReturnsError(t *testing.T) {
	var buf bytes.Buffer

	fetch := func(ctx context.Context, offset, limit int) ([]string, int, error) {
		return nil, 0, errors.New("upstream unavailable")
	}

	res, err := Collect(context.Background(), testConfig(), newTestLogger(&buf), fetch, nil)
	if err == nil {
		t.Fatal("最初のページの失敗がエラーとして返らなかった")
	}
	if len(res.Items) != 0 {
		t.Errorf("len(Items) = %d, want 0", len(res.Items))
	}
}

func TestCollect_ConsecutiveFailuresTruncateAsPartial(t *testing.T) {
	var buf bytes.Buffer
	var pageCalls int

	// 1ページ目成功、以降は失敗し続ける
	fetch := func(ctx context.Context, offset, limit int) ([]string, int, error) {
		pageCalls++
		if pageCalls == 1 {
			return makeIDs("MLA", 1, limit), 500, nil
		}
		return nil, 0, errors.New("upstream unavailable")
	}

	res, err := Collect(context.Background(), testConfig(), newTestLogger(&buf), fetch, nil)
	if err != nil {
		t.Fatalf("Collect がエラーを返した: %v", err)
	}

	if res.State != model.RunStatePartial {
		t.Errorf("State = %s, want partial", res.State)
	}
	// 成功1ページ分のデータは保持される
	if len(res.Items) != 50 {
		t.Errorf("len(Items) = %d, want 50", len(res.Items))
	}
	if res.PageFailures != 3 {
		t.Errorf("PageFailures = %d, want 3", res.PageFailures)
	}
}

func TestCollect_IntermittentFailuresResetCounter(t *testing.T) {
	var buf bytes.Buffer
	var pageCalls int

	// 失敗と成功が交互: 連続失敗がしきい値に達しないため走査は続く
	fetch := func(ctx context.Context, offset, limit int) ([]string, int, error) {
		pageCalls++
		if pageCalls%2 == 0 {
			return nil, 0, errors.New("transient failure")
		}
		if offset >= 200 {
			return nil, 200, nil
		}
		return makeIDs("MLA", offset+1, limit), 200, nil
	}

	res, err := Collect(context.Background(), testConfig(), newTestLogger(&buf), fetch, nil)
	if err != nil {
		t.Fatalf("Collect がエラーを返した: %v", err)
	}

	// 途中失敗をスキップした走査は最後まで続くが、
	// 欠落を含むためcompleteではなくpartialとして終端する
	if res.State != model.RunStatePartial {
		t.Errorf("State = %s, want partial", res.State)
	}
	if res.PageFailures == 0 {
		t.Error("PageFailures = 0, 失敗ページが記録されていない")
	}
	if res.PagesDone < 2 {
		t.Errorf("PagesDone = %d, 失敗カウンタのリセット後も走査が続いていない", res.PagesDone)
	}
}

func TestCollect_SkippedPageIsNeverReportedComplete(t *testing.T) {
	var buf bytes.Buffer

	// 1ページ目成功、2ページ目失敗、以降は空: 申告total 100件中50件のみ取得
	fetch := func(ctx context.Context, offset, limit int) ([]string, int, error) {
		switch offset {
		case 0:
			return makeIDs("MLA", 1, limit), 100, nil
		case 50:
			return nil, 0, errors.New("upstream unavailable")
		default:
			return nil, 100, nil
		}
	}

	res, err := Collect(context.Background(), testConfig(), newTestLogger(&buf), fetch, nil)
	if err != nil {
		t.Fatalf("Collect がエラーを返した: %v", err)
	}

	if res.State != model.RunStatePartial {
		t.Errorf("State = %s, want partial（欠落のある集合をcompleteとして提示してはならない）", res.State)
	}
	if len(res.Items) != 50 {
		t.Errorf("len(Items) = %d, want 50", len(res.Items))
	}
	if res.PageFailures != 1 {
		t.Errorf("PageFailures = %d, want 1", res.PageFailures)
	}
	if res.DeclaredTotal != 100 {
		t.Errorf("DeclaredTotal = %d, want 100", res.DeclaredTotal)
	}
}

func TestCollect_DeduplicatesPreservingFirstSeenOrder(t *testing.T) {
	var buf bytes.Buffer
	var pageCalls int

	// ページ境界の重複をシミュレート: 2ページ目の先頭が1ページ目の末尾と重複
	fetch := func(ctx context.Context, offset, limit int) ([]string, int, error) {
		pageCalls++
		switch pageCalls {
		case 1:
			return []string{"MLA1", "MLA2", "MLA3"}, 6, nil
		case 2:
			return []string{"MLA3", "MLA4", "MLA5"}, 6, nil
		default:
			return nil, 6, nil
		}
	}

	cfg := testConfig()
	cfg.PageSize = 3

	res, err := Collect(context.Background(), cfg, newTestLogger(&buf), fetch, nil)
	if err != nil {
		t.Fatalf("Collect がエラーを返した: %v", err)
	}

	want := []string{"MLA1", "MLA2", "MLA3", "MLA4", "MLA5"}
	if len(res.Items) != len(want) {
		t.Fatalf("len(Items) = %d, want %d", len(res.Items), len(want))
	}
	for i, id := range want {
		if res.Items[i] != id {
			t.Errorf("Items[%d] = %s, want %s（初出順を保持すること）", i, res.Items[i], id)
		}
	}
}

func TestCollect_ProgressNotifications(t *testing.T) {
	var buf bytes.Buffer
	all := makeIDs("MLA", 1, 100)

	var snapshots []model.Progress
	progress := func(p model.Progress) {
		snapshots = append(snapshots, p)
	}

	res, err := Collect(context.Background(), testConfig(), newTestLogger(&buf), pagedFetch(all), progress)
	if err != nil {
		t.Fatalf("Collect がエラーを返した: %v", err)
	}
	if res.State != model.RunStateComplete {
		t.Fatalf("State = %s, want complete", res.State)
	}

	if len(snapshots) < 2 {
		t.Fatalf("進捗通知が少なすぎる: %d", len(snapshots))
	}
	if snapshots[0].State != model.RunStateFetchingFirstPage {
		t.Errorf("最初の通知のState = %s, want fetching_first_page", snapshots[0].State)
	}
	last := snapshots[len(snapshots)-1]
	if last.State != model.RunStateComplete {
		t.Errorf("最後の通知のState = %s, want complete", last.State)
	}
	if last.ItemsCollected != 100 {
		t.Errorf("最後の通知のItemsCollected = %d, want 100", last.ItemsCollected)
	}
	if last.PagesExpected != 2 {
		t.Errorf("PagesExpected = %d, want 2", last.PagesExpected)
	}
}

func TestCollect_GrowingDeclaredTotalUsesLatest(t *testing.T) {
	var buf bytes.Buffer
	var pageCalls int

	// 走査中にtotalが60→90に増えるケース。最新値で完了判定される。
	fetch := func(ctx context.Context, offset, limit int) ([]string, int, error) {
		pageCalls++
		switch pageCalls {
		case 1:
			return makeIDs("MLA", 1, 50), 60, nil
		case 2:
			return makeIDs("MLA", 51, 40), 90, nil
		default:
			t.Fatalf("3ページ目が呼ばれた（offset=100 >= total=90で終了すべき）")
			return nil, 0, nil
		}
	}

	res, err := Collect(context.Background(), testConfig(), newTestLogger(&buf), fetch, nil)
	if err != nil {
		t.Fatalf("Collect がエラーを返した: %v", err)
	}

	if res.State != model.RunStateComplete {
		t.Errorf("State = %s, want complete", res.State)
	}
	if len(res.Items) != 90 {
		t.Errorf("len(Items) = %d, want 90", len(res.Items))
	}
	if res.DeclaredTotal != 90 {
		t.Errorf("DeclaredTotal = %d, want 90", res.DeclaredTotal)
	}
}

func TestChunk(t *testing.T) {
	ids := makeIDs("MLA", 1, 45)

	chunks := Chunk(ids, 20)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 20 || len(chunks[1]) != 20 || len(chunks[2]) != 5 {
		t.Errorf("チャンクサイズ = %d/%d/%d, want 20/20/5",
			len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}

	if got := Chunk([]string{}, 20); got != nil {
		t.Errorf("空入力のChunk = %v, want nil", got)
	}
	if got := Chunk(ids, 0); got != nil {
		t.Errorf("size=0のChunk = %v, want nil", got)
	}
}

func TestExpectedPages(t *testing.T) {
	tests := []struct {
		total, pageSize, want int
	}{
		{120, 50, 3},
		{100, 50, 2},
		{1, 50, 1},
		{0, 50, 0},
		{50, 0, 0},
	}
	for _, tt := range tests {
		if got := expectedPages(tt.total, tt.pageSize); got != tt.want {
			t.Errorf("expectedPages(%d, %d) = %d, want %d", tt.total, tt.pageSize, got, tt.want)
		}
	}
}
