// Package export はレポートのファイル出力を提供する。
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/hitoshi/mercadash/internal/report"
)

// csvHeader は出力カラムの定義。列順はダッシュボードの表示順に合わせる。
var csvHeader = []string{
	"item_id",
	"title",
	"sku",
	"price",
	"available_quantity",
	"sold_lifetime",
	"sold_window",
	"status",
	"shipping_mode",
	"free_shipping",
	"permalink",
}

// WriteCSV は結合済みレポート行をCSVとして書き出す。
// 1行目はヘッダ。数値はロケール非依存の表記で出力する。
func WriteCSV(w io.Writer, rows []report.Row) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("CSVヘッダの書き込みに失敗しました: %w", err)
	}

	for _, row := range rows {
		record := []string{
			row.ItemID,
			row.Title,
			row.SKU,
			strconv.FormatFloat(row.Price, 'f', -1, 64),
			strconv.Itoa(row.Available),
			strconv.Itoa(row.SoldLifetime),
			strconv.Itoa(row.SoldWindow),
			string(row.Status),
			row.ShippingMode,
			strconv.FormatBool(row.FreeShipping),
			row.Permalink,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("CSV行の書き込みに失敗しました: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("CSV出力のフラッシュに失敗しました: %w", err)
	}
	return nil
}
