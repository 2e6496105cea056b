package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Level 深度档位
// 表示某一价格档位上的聚合挂单量
type Level struct {
	// Price 价格
	Price decimal.Decimal `json:"price"`
	// Size 聚合数量
	Size int64 `json:"size"`
}

// DepthSnapshot 一条完整的深度快照（NASDAQ_BOOK / NYSE_BOOK）
// 快照语义：整体替换，不做增量合并
type DepthSnapshot struct {
	// Symbol 标的代码
	Symbol string
	// Bids 买盘档位（顺序不作保证，由 store 排序）
	Bids []Level
	// Asks 卖盘档位
	Asks []Level
	// ObservedAt 快照时间
	ObservedAt time.Time
}

// BookSnapshot 某一时刻的盘口只读视图
// 由 store 在读锁内拷贝生成，供渲染、HTTP 接口和输出使用
type BookSnapshot struct {
	// Symbol 标的代码
	Symbol string `json:"symbol"`
	// Quote 最优报价
	Quote BestQuote `json:"quote"`
	// Bids 买盘，价格从高到低
	Bids []Level `json:"bids"`
	// Asks 卖盘，价格从低到高
	Asks []Level `json:"asks"`
	// BidDepth 买盘总档位数（截断前）
	BidDepth int `json:"bid_depth"`
	// AskDepth 卖盘总档位数（截断前）
	AskDepth int `json:"ask_depth"`
	// Trades 最近成交，最新在前
	Trades []TradeRecord `json:"trades"`
	// TakenAt 快照时间（本机时钟）
	TakenAt time.Time `json:"taken_at"`
}

// DepthEmpty 深度簿是否为空
func (s *BookSnapshot) DepthEmpty() bool {
	return len(s.Bids) == 0 && len(s.Asks) == 0
}
