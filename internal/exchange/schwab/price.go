package schwab

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"schwab-bookmap/internal/util/fastparse"
)

// parsePrice 解析价格，非正数视为无效（无报价时 streamer 可能推送 0）
func parsePrice(raw json.RawMessage) (decimal.Decimal, error) {
	px, err := fastparse.ParseDecimal(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !px.IsPositive() {
		return decimal.Zero, fmt.Errorf("非正价格 %s", px)
	}
	return px, nil
}
