// Package classify 根据当前最优报价推断成交的主动方。
package classify

import (
	"github.com/shopspring/decimal"

	"schwab-bookmap/internal/core/model"
)

// Classify 判定成交主动方
// 规则（按优先级）:
//   - 买一或卖一缺失: UNKNOWN
//   - price >= ask: BUY
//   - price <= bid: SELL
//   - 其余（严格位于买卖之间）: UNKNOWN
//
// 使用的是入库时刻的报价，可能滞后于撮合时刻的真实盘口。
func Classify(price decimal.Decimal, q *model.BestQuote) model.Aggressor {
	if q == nil || !q.IsComplete() {
		return model.AggressorUnknown
	}
	if price.GreaterThanOrEqual(q.AskPrice.Decimal) {
		return model.AggressorBuy
	}
	if price.LessThanOrEqual(q.BidPrice.Decimal) {
		return model.AggressorSell
	}
	return model.AggressorUnknown
}
