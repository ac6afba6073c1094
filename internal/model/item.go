// Package model はドメインモデルを定義する。
package model

// ItemStatus は出品のライフサイクルステータス。
type ItemStatus string

const (
	// ItemStatusActive は販売中の出品。
	ItemStatusActive ItemStatus = "active"
	// ItemStatusPaused は一時停止中の出品。
	ItemStatusPaused ItemStatus = "paused"
	// ItemStatusClosed は終了した出品。
	ItemStatusClosed ItemStatus = "closed"
	// ItemStatusUnderReview は審査中の出品。
	ItemStatusUnderReview ItemStatus = "under_review"
	// ItemStatusInactive は非アクティブな出品。
	ItemStatusInactive ItemStatus = "inactive"
)

// AllItemStatuses はカタログ収集の対象となる全ステータス。
// 過去実装には active のみを対象とする版が存在したが、
// ダッシュボードでは全ステータスを表示するためスーパーセットを採用する。
var AllItemStatuses = []ItemStatus{
	ItemStatusActive,
	ItemStatusPaused,
	ItemStatusClosed,
	ItemStatusUnderReview,
	ItemStatusInactive,
}

// ParseItemStatus は文字列を既知のステータスとして解釈する。
// 未知の値の場合は第2戻り値がfalseになる。
func ParseItemStatus(s string) (ItemStatus, bool) {
	for _, status := range AllItemStatuses {
		if string(status) == s {
			return status, true
		}
	}
	return "", false
}

// SKUNone はSKU未設定の出品に割り当てるセンチネル値。
// 集計キーを常に定義済みにするため、SKUの正規化はNormalizeSKUに集約する。
const SKUNone = "no-sku"

// SellerSKUAttributeID は出品属性リスト上のセラー定義SKUの属性ID。
const SellerSKUAttributeID = "SELLER_SKU"

// NormalizeSKU はセラー定義SKUを集計キーとして正規化する。
// 空文字列はSKUNoneに変換する。正規化はこの関数に一元化し、
// カタログ側と売上集計側で扱いが分かれないようにする。
func NormalizeSKU(sku string) string {
	if sku == "" {
		return SKUNone
	}
	return sku
}

// Shipping は出品の配送条件。
type Shipping struct {
	// Mode は配送モード（me2等）。
	Mode string `json:"mode"`
	// FreeShipping は送料無料かどうか。
	FreeShipping bool `json:"free_shipping"`
	// LogisticType はロジスティクス種別。未設定の場合は空文字列。
	LogisticType string `json:"logistic_type,omitempty"`
}

// Attribute は出品の汎用属性。SELLER_SKUの抽出に使用する。
type Attribute struct {
	ID        string `json:"id"`
	ValueName string `json:"value_name"`
}

// CatalogItem はセラーが所有するマーケットプレイス出品1件を表す。
// IDはセラーのカタログ内で一意（アップストリーム採番）。
// SKUは一意性も存在も保証されない（正規化済み、未設定はSKUNone）。
type CatalogItem struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Price        float64    `json:"price"`
	Available    int        `json:"available_quantity"`
	SoldTotal    int        `json:"sold_quantity"`
	Status       ItemStatus `json:"status"`
	Permalink    string     `json:"permalink"`
	ThumbnailURL string     `json:"thumbnail"`
	Shipping     Shipping   `json:"shipping"`
	SKU          string     `json:"sku"`
}

// SKUOf は属性リストからセラー定義SKUを抽出し正規化して返す。
func SKUOf(attrs []Attribute) string {
	for _, a := range attrs {
		if a.ID == SellerSKUAttributeID {
			return NormalizeSKU(a.ValueName)
		}
	}
	return SKUNone
}
