// Package flow 统计最近成交的主动买卖力量。
// 在滚动窗口内按主动方累计笔数与成交量，并计算 VWAP 与买卖失衡度：
// imbalance = (buy_vol - sell_vol) / (buy_vol + sell_vol)
package flow

import (
	"sync"

	"github.com/shopspring/decimal"

	"schwab-bookmap/internal/core/model"
)

type tradeSample struct {
	aggressor model.Aggressor
	size      int64
	notional  decimal.Decimal
}

// FlowStats 成交流统计（滚动窗口）
type FlowStats struct {
	// Count 窗口内成交笔数
	Count int64 `json:"count"`
	// BuyCount 主动买笔数
	BuyCount int64 `json:"buy_count"`
	// SellCount 主动卖笔数
	SellCount int64 `json:"sell_count"`
	// UnknownCount 无法判定笔数
	UnknownCount int64 `json:"unknown_count"`

	// BuyVolume 主动买成交量
	BuyVolume int64 `json:"buy_volume"`
	// SellVolume 主动卖成交量
	SellVolume int64 `json:"sell_volume"`
	// UnknownVolume 无法判定成交量
	UnknownVolume int64 `json:"unknown_volume"`

	// Imbalance 买卖失衡度 [-1, 1]，无已判定成交时为 0
	Imbalance float64 `json:"imbalance"`
	// VWAP 成交量加权均价，窗口为空或总量为 0 时缺失
	VWAP decimal.NullDecimal `json:"vwap"`
}

// Calculator 成交流计算器（滚动窗口，并发安全）
type Calculator struct {
	mu sync.Mutex

	// windowSize 滚动窗口大小
	windowSize int
	// buf 环形缓冲区
	buf []tradeSample
	// pos 写入位置
	pos int
	// full 是否已填满
	full bool

	// 维护滚动统计（O(1) 更新）
	count        int64
	buyCount     int64
	sellCount    int64
	unknownCount int64
	buyVol       int64
	sellVol      int64
	unknownVol   int64
	sumNotional  decimal.Decimal
}

// NewCalculator 创建成交流计算器
// 参数 windowSize: 滚动窗口大小（建议与成交保留条数一致）
func NewCalculator(windowSize int) *Calculator {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Calculator{
		windowSize: windowSize,
		buf:        make([]tradeSample, windowSize),
	}
}

// WriteTrade 作为成交下游接入入库器
func (c *Calculator) WriteTrade(_ string, rec model.TradeRecord) error {
	c.Add(rec)
	return nil
}

// Add 添加一笔已分类成交
func (c *Calculator) Add(rec model.TradeRecord) {
	s := tradeSample{
		aggressor: rec.Aggressor,
		size:      rec.Size,
		notional:  rec.Price.Mul(decimal.NewFromInt(rec.Size)),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// 若环已满，移除旧样本对统计的贡献
	if c.full {
		c.apply(c.buf[c.pos], -1)
	}

	c.buf[c.pos] = s
	c.pos++
	if c.pos >= c.windowSize {
		c.pos = 0
		c.full = true
	}

	c.apply(s, 1)
}

// apply 将样本计入（sign=1）或移出（sign=-1）统计
func (c *Calculator) apply(s tradeSample, sign int64) {
	c.count += sign
	switch s.aggressor {
	case model.AggressorBuy:
		c.buyCount += sign
		c.buyVol += sign * s.size
	case model.AggressorSell:
		c.sellCount += sign
		c.sellVol += sign * s.size
	default:
		c.unknownCount += sign
		c.unknownVol += sign * s.size
	}
	if sign > 0 {
		c.sumNotional = c.sumNotional.Add(s.notional)
	} else {
		c.sumNotional = c.sumNotional.Sub(s.notional)
	}
}

// Stats 返回滚动窗口统计
func (c *Calculator) Stats() FlowStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := FlowStats{
		Count:         c.count,
		BuyCount:      c.buyCount,
		SellCount:     c.sellCount,
		UnknownCount:  c.unknownCount,
		BuyVolume:     c.buyVol,
		SellVolume:    c.sellVol,
		UnknownVolume: c.unknownVol,
	}

	if classified := c.buyVol + c.sellVol; classified > 0 {
		out.Imbalance = float64(c.buyVol-c.sellVol) / float64(classified)
	}
	if total := c.buyVol + c.sellVol + c.unknownVol; total > 0 {
		out.VWAP = model.NullPrice(c.sumNotional.Div(decimal.NewFromInt(total)))
	}
	return out
}
