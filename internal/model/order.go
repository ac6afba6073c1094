package model

import "time"

// OrderLine は注文内の1明細。出品IDと数量のみを扱う。
type OrderLine struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// Order はセラーの注文1件を表す。
// 集計に必要なのは作成日時と明細のみで、他の注文フィールドは扱わない。
type Order struct {
	ID          int64       `json:"id"`
	DateCreated time.Time   `json:"date_created"`
	Lines       []OrderLine `json:"lines"`
}
