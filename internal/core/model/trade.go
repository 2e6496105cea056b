package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Aggressor 成交主动方
type Aggressor string

const (
	// AggressorBuy 主动买：成交价 >= 卖一
	AggressorBuy Aggressor = "BUY"
	// AggressorSell 主动卖：成交价 <= 买一
	AggressorSell Aggressor = "SELL"
	// AggressorUnknown 无法判定：报价不全或成交价位于买卖之间
	AggressorUnknown Aggressor = "UNKNOWN"
)

// TradeTimeLayout 逐笔成交时间的展示格式（毫秒精度）
const TradeTimeLayout = "15:04:05.000"

// TradePrint 一条 Time & Sales 成交
type TradePrint struct {
	// Symbol 标的代码
	Symbol string
	// Price 成交价
	Price decimal.Decimal
	// Size 成交量
	Size int64
	// TradeTime 交易所成交时间（毫秒精度）
	TradeTime time.Time
}

// TradeRecord 已分类的成交记录，创建后不可变
type TradeRecord struct {
	// Time 成交时间（毫秒精度）
	Time time.Time `json:"time"`
	// Price 成交价
	Price decimal.Decimal `json:"price"`
	// Size 成交量
	Size int64 `json:"size"`
	// Aggressor 主动方
	Aggressor Aggressor `json:"aggressor"`
}

// TimeString 以 HH:MM:SS.mmm 格式返回成交时间
func (t TradeRecord) TimeString() string {
	return t.Time.Format(TradeTimeLayout)
}
