// Package model 定义盘口聚合器中使用的核心数据结构。
// 包含最优报价、深度档位、逐笔成交以及归一化后的行情事件。
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Size 可缺省的数量字段
// Valid=false 表示该字段未出现在行情中（区别于数量为 0）
type Size struct {
	// Value 数量
	Value int64
	// Valid 是否有值
	Valid bool
}

// NewSize 创建有效的数量字段
func NewSize(v int64) Size {
	return Size{Value: v, Valid: true}
}

// MarshalJSON 无值时输出 null
func (s Size) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(s.Value)
}

// UnmarshalJSON 支持 null
func (s *Size) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = Size{}
		return nil
	}
	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = NewSize(v)
	return nil
}

// NullPrice 创建有效的可缺省价格
func NullPrice(p decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(p)
}

// BestQuote 单个标的的最优买卖报价（BBO）
// 原地更新，不保留历史，始终反映最近一次观测
type BestQuote struct {
	// BidPrice 买一价，可缺省
	BidPrice decimal.NullDecimal `json:"bid_price"`
	// BidSize 买一量，可缺省
	BidSize Size `json:"bid_size"`
	// AskPrice 卖一价，可缺省
	AskPrice decimal.NullDecimal `json:"ask_price"`
	// AskSize 卖一量，可缺省
	AskSize Size `json:"ask_size"`
	// ObservedAt 最近一次更新对应的行情时间
	ObservedAt time.Time `json:"observed_at"`
}

// HasBid 买一价是否存在
func (q *BestQuote) HasBid() bool {
	return q.BidPrice.Valid
}

// HasAsk 卖一价是否存在
func (q *BestQuote) HasAsk() bool {
	return q.AskPrice.Valid
}

// IsComplete 买卖双边价格是否都存在
func (q *BestQuote) IsComplete() bool {
	return q.HasBid() && q.HasAsk()
}

// Spread 计算买卖价差
// 公式: AskPrice - BidPrice；任一边缺失时 ok=false
func (q *BestQuote) Spread() (spread decimal.Decimal, ok bool) {
	if !q.IsComplete() {
		return decimal.Zero, false
	}
	return q.AskPrice.Decimal.Sub(q.BidPrice.Decimal), true
}

// QuoteUpdate 一条 Level One 报价更新
// 只有 Valid 的字段会覆盖 BestQuote，其余保持原值
type QuoteUpdate struct {
	// Symbol 标的代码，如 SPY
	Symbol string
	// BidPrice 买一价
	BidPrice decimal.NullDecimal
	// BidSize 买一量
	BidSize Size
	// AskPrice 卖一价
	AskPrice decimal.NullDecimal
	// AskSize 卖一量
	AskSize Size
	// ObservedAt 行情时间
	ObservedAt time.Time
}

// FieldCount 返回更新中有效字段的数量
func (u *QuoteUpdate) FieldCount() int {
	n := 0
	if u.BidPrice.Valid {
		n++
	}
	if u.BidSize.Valid {
		n++
	}
	if u.AskPrice.Valid {
		n++
	}
	if u.AskSize.Valid {
		n++
	}
	return n
}

// ApplyTo 将更新中存在的字段写入 q
func (u *QuoteUpdate) ApplyTo(q *BestQuote) {
	if u.BidPrice.Valid {
		q.BidPrice = u.BidPrice
	}
	if u.BidSize.Valid {
		q.BidSize = u.BidSize
	}
	if u.AskPrice.Valid {
		q.AskPrice = u.AskPrice
	}
	if u.AskSize.Valid {
		q.AskSize = u.AskSize
	}
	q.ObservedAt = u.ObservedAt
}
