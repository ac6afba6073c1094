package report

import (
	"strings"

	"github.com/hitoshi/mercadash/internal/model"
)

// Row はダッシュボード表示用の結合済み行。
// カタログの1出品に、売上集計から解決したウィンドウ内販売数を付与したもの。
type Row struct {
	ItemID       string           `json:"item_id"`
	Title        string           `json:"title"`
	SKU          string           `json:"sku"`
	Price        float64          `json:"price"`
	Available    int              `json:"available_quantity"`
	SoldLifetime int              `json:"sold_quantity"`
	SoldWindow   int              `json:"sold_window"`
	Status       model.ItemStatus `json:"status"`
	ShippingMode string           `json:"shipping_mode"`
	FreeShipping bool             `json:"free_shipping"`
	Permalink    string           `json:"permalink"`
	Thumbnail    string           `json:"thumbnail"`
}

// Join はカタログ出品とSKU別販売数をSKUで結合する。
// 販売実績のないSKU（マップに存在しないキー）は0として扱い、
// 同一SKUを共有する複数出品には同じ合算値が付く。
// 行順はカタログ収集時の出現順を保つ。
func Join(items []model.CatalogItem, skuUnits map[string]int) []Row {
	rows := make([]Row, 0, len(items))
	for _, item := range items {
		rows = append(rows, Row{
			ItemID:       item.ID,
			Title:        item.Title,
			SKU:          item.SKU,
			Price:        item.Price,
			Available:    item.Available,
			SoldLifetime: item.SoldTotal,
			SoldWindow:   skuUnits[item.SKU],
			Status:       item.Status,
			ShippingMode: item.Shipping.Mode,
			FreeShipping: item.Shipping.FreeShipping,
			Permalink:    item.Permalink,
			Thumbnail:    item.ThumbnailURL,
		})
	}
	return rows
}

// Filter は行をステータスとキーワードで絞り込む。
// statusが空文字列なら全ステータスを通し、qはタイトル・SKU・出品IDに対する
// 大文字小文字を無視した部分一致で判定する。
func Filter(rows []Row, status model.ItemStatus, q string) []Row {
	q = strings.ToLower(strings.TrimSpace(q))
	if status == "" && q == "" {
		return rows
	}

	filtered := make([]Row, 0, len(rows))
	for _, row := range rows {
		if status != "" && row.Status != status {
			continue
		}
		if q != "" && !matchKeyword(row, q) {
			continue
		}
		filtered = append(filtered, row)
	}
	return filtered
}

// matchKeyword は行がキーワードに部分一致するかを判定する。
func matchKeyword(row Row, q string) bool {
	return strings.Contains(strings.ToLower(row.Title), q) ||
		strings.Contains(strings.ToLower(row.SKU), q) ||
		strings.Contains(strings.ToLower(row.ItemID), q)
}
