// Package meli はマーケットプレイスAPIの読み取り専用クライアントを提供する。
// 全ての呼び出しはリトライ/バックオフ付きのフェッチャーを経由する。
package meli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/mercadash/internal/model"
)

const (
	// defaultBaseURL はマーケットプレイスAPIのベースURL。
	defaultBaseURL = "https://api.mercadolibre.com"
	// MaxPageSize は一覧系エンドポイントの1ページあたりの上限件数。
	MaxPageSize = 50
	// MaxMultiGetIDs はマルチゲット1リクエストあたりの上限ID数。
	MaxMultiGetIDs = 20
)

// UpstreamMetrics はアップストリーム呼び出しのメトリクス記録インターフェース。
type UpstreamMetrics interface {
	RecordUpstreamStatus(statusCode int)
	RecordRetry()
}

// Client はマーケットプレイスAPIのクライアント。
// ベアラートークンは呼び出しごとに受け取り、クライアント自体は保持しない。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にベースURLを差し替え可能
	retry      RetryPolicy
	metrics    UpstreamMetrics
}

// Option はClientの生成オプション。
type Option func(*Client)

// WithBaseURL はAPIベースURLを差し替える。テストおよびサイト別エンドポイント用。
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithRetryPolicy はリトライ指針を差し替える。
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.retry = policy
	}
}

// WithMetrics はメトリクスレコーダーを設定する。
func WithMetrics(m UpstreamMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    defaultBaseURL,
		retry:      DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserInfo は認証済みユーザー情報。
type UserInfo struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
}

// Me はベアラートークンから操作主体のセラーIDを解決する。
func (c *Client) Me(ctx context.Context, token string) (*UserInfo, error) {
	var user UserInfo
	if err := c.getJSON(ctx, token, "/users/me", nil, &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("ユーザー情報にIDが含まれていません")
	}
	return &user, nil
}

// IDPage は出品ID検索の1ページ分の結果。
// Totalは長いページネーション走査中に変動しうる概算値であり、
// offset+件数との厳密な一致は仮定しない。
type IDPage struct {
	IDs   []string
	Total int
}

// SearchItemIDs はセラーの出品IDをoffset/limitページネーションで検索する。
// limitはMaxPageSize以下でなければならない。
func (c *Client) SearchItemIDs(ctx context.Context, token string, sellerID int64, statuses []model.ItemStatus, offset, limit int) (*IDPage, error) {
	if limit <= 0 || limit > MaxPageSize {
		return nil, fmt.Errorf("limitが上限を超えています: %d > %d", limit, MaxPageSize)
	}

	statusCSV := make([]string, 0, len(statuses))
	for _, s := range statuses {
		statusCSV = append(statusCSV, string(s))
	}

	q := url.Values{}
	if len(statusCSV) > 0 {
		q.Set("status", strings.Join(statusCSV, ","))
	}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var payload struct {
		Results []string `json:"results"`
		Paging  struct {
			Total int `json:"total"`
		} `json:"paging"`
	}
	path := fmt.Sprintf("/users/%d/items/search", sellerID)
	if err := c.getJSON(ctx, token, path, q, &payload); err != nil {
		return nil, err
	}

	return &IDPage{IDs: payload.Results, Total: payload.Paging.Total}, nil
}

// ItemDetail はマルチゲットが返す出品詳細。
type ItemDetail struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Price     float64 `json:"price"`
	Available int     `json:"available_quantity"`
	SoldTotal int     `json:"sold_quantity"`
	Status    string  `json:"status"`
	Permalink string  `json:"permalink"`
	Thumbnail string  `json:"thumbnail"`
	Shipping  struct {
		Mode         string  `json:"mode"`
		FreeShipping bool    `json:"free_shipping"`
		LogisticType *string `json:"logistic_type"`
	} `json:"shipping"`
	Attributes []model.Attribute `json:"attributes"`
}

// MultiGetEntry はマルチゲットレスポンスの1件分。
// Codeは件別のHTTP相当ステータスで、Bodyはcode==200の場合のみ有効。
type MultiGetEntry struct {
	Code int        `json:"code"`
	Body ItemDetail `json:"body"`
}

// GetItems は最大20件の出品詳細を1回のマルチゲットで取得する。
// attributesを指定すると取得フィールドを絞り込める（例: "id,attributes"）。
// バッチ全体が200でも、件別に非200のサブステータスが返りうる。
// 呼び出し元はcode≠200のエントリをスキップし、ページ失敗として扱わない。
func (c *Client) GetItems(ctx context.Context, token string, ids []string, attributes []string) ([]MultiGetEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxMultiGetIDs {
		return nil, fmt.Errorf("IDの数が上限を超えています: %d > %d", len(ids), MaxMultiGetIDs)
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	if len(attributes) > 0 {
		q.Set("attributes", strings.Join(attributes, ","))
	}

	var entries []MultiGetEntry
	if err := c.getJSON(ctx, token, "/items", q, &entries); err != nil {
		return nil, err
	}

	return entries, nil
}

// OrderPage は注文検索の1ページ分の結果。
type OrderPage struct {
	Orders []model.Order
	Total  int
}

// orderPayload はアップストリームの注文レスポンスのワイヤ表現。
type orderPayload struct {
	ID          int64     `json:"id"`
	DateCreated time.Time `json:"date_created"`
	OrderItems  []struct {
		Item struct {
			ID string `json:"id"`
		} `json:"item"`
		Quantity int `json:"quantity"`
	} `json:"order_items"`
}

// SearchOrders はセラーの注文を作成日時ウィンドウで検索する。
// 日時境界はISO-8601（RFC3339）のインスタント。limitはMaxPageSize以下。
func (c *Client) SearchOrders(ctx context.Context, token string, sellerID int64, from, to time.Time, offset, limit int) (*OrderPage, error) {
	if limit <= 0 || limit > MaxPageSize {
		return nil, fmt.Errorf("limitが上限を超えています: %d > %d", limit, MaxPageSize)
	}

	q := url.Values{}
	q.Set("seller", strconv.FormatInt(sellerID, 10))
	q.Set("order.date_created.from", from.UTC().Format(time.RFC3339))
	q.Set("order.date_created.to", to.UTC().Format(time.RFC3339))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var payload struct {
		Results []orderPayload `json:"results"`
		Paging  struct {
			Total int `json:"total"`
		} `json:"paging"`
	}
	if err := c.getJSON(ctx, token, "/orders/search", q, &payload); err != nil {
		return nil, err
	}

	orders := make([]model.Order, 0, len(payload.Results))
	for _, o := range payload.Results {
		order := model.Order{
			ID:          o.ID,
			DateCreated: o.DateCreated,
		}
		for _, line := range o.OrderItems {
			order.Lines = append(order.Lines, model.OrderLine{
				ItemID:   line.Item.ID,
				Quantity: line.Quantity,
			})
		}
		orders = append(orders, order)
	}

	return &OrderPage{Orders: orders, Total: payload.Paging.Total}, nil
}

// getJSON はGET呼び出しをリトライ付きで実行し、2xxのボディをoutにデコードする。
// 非2xx（認証拒否とバックオフ対象を除く）はエラーとして返す。
func (c *Client) getJSON(ctx context.Context, token, path string, query url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("マーケットプレイスAPIがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("マーケットプレイスAPIがステータス %d を返しました: %s", resp.StatusCode, truncateBody(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	return nil
}

// truncateBody はログ/エラーメッセージ用にボディを短縮する。
func truncateBody(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
