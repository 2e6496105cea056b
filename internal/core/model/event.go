package model

// EventKind 归一化行情事件类型
type EventKind string

const (
	// EventQuote Level One 报价
	EventQuote EventKind = "quote"
	// EventDepth 深度快照
	EventDepth EventKind = "depth"
	// EventTrade 逐笔成交
	EventTrade EventKind = "trade"
)

// FeedEvent 统一行情事件
// 由 schwab 解析器或回放源产生，交给聚合器单 goroutine 消费。
// Quote/Depth/Trade 三者按 Kind 只有一个非空。
type FeedEvent struct {
	// Kind 事件类型
	Kind EventKind
	// Service 来源服务，如 LEVELONE_EQUITIES、NASDAQ_BOOK、TIMESALE_EQUITY
	Service string
	// Symbol 标的代码
	Symbol string
	// Quote 报价更新
	Quote *QuoteUpdate
	// Depth 深度快照
	Depth *DepthSnapshot
	// Trade 逐笔成交
	Trade *TradePrint
	// ArrivedAtUnixNs 本机收到消息的时间戳（纳秒）
	ArrivedAtUnixNs int64
	// ExchTsUnixMs 服务端消息时间戳（毫秒），无则为 0
	ExchTsUnixMs int64
	// Issues 解析过程中被跳过的字段或档位说明
	Issues []string
}
