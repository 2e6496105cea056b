// Package ingest 将归一化行情事件写入盘口状态。
// 只在聚合器 goroutine 中调用；解析问题记录 warn 日志，不向上抛出。
package ingest

import (
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"schwab-bookmap/internal/core/classify"
	"schwab-bookmap/internal/core/model"
	"schwab-bookmap/internal/core/store"
)

// TradeSink 已分类成交的下游输出
type TradeSink interface {
	WriteTrade(symbol string, rec model.TradeRecord) error
}

// Tee 将成交依次写入多个下游，忽略 nil
type Tee []TradeSink

// WriteTrade 写入全部下游，汇总错误
func (t Tee) WriteTrade(symbol string, rec model.TradeRecord) error {
	var errs []error
	for _, s := range t {
		if s == nil {
			continue
		}
		if err := s.WriteTrade(symbol, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats 入库统计
type Stats struct {
	// Quotes 已应用的报价更新
	Quotes int64 `json:"quotes"`
	// Depths 已应用的深度快照
	Depths int64 `json:"depths"`
	// Trades 已入库的成交
	Trades int64 `json:"trades"`
	// Dropped 因无有效字段而丢弃的事件
	Dropped int64 `json:"dropped"`
	// Ignored 不含买卖字段的增量报价（如仅最新价变化）
	Ignored int64 `json:"ignored"`
	// Issues 累计的字段问题数
	Issues int64 `json:"issues"`
}

// Ingestor 行情入库器
type Ingestor struct {
	// store 盘口状态
	store *store.Store
	// sink 成交输出，可为空
	sink TradeSink
	// logger 日志记录器
	logger *zap.Logger

	quotes  int64
	depths  int64
	trades  int64
	dropped int64
	ignored int64
	issues  int64
}

// New 创建入库器
// 参数 st: 盘口状态
// 参数 sink: 成交输出，可为 nil
// 参数 logger: 日志记录器
func New(st *store.Store, sink TradeSink, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		store:  st,
		sink:   sink,
		logger: logger.Named("ingest"),
	}
}

// Apply 按事件类型分发
func (in *Ingestor) Apply(ev *model.FeedEvent) {
	if ev == nil {
		return
	}
	if len(ev.Issues) > 0 {
		atomic.AddInt64(&in.issues, int64(len(ev.Issues)))
		in.logger.Warn("行情字段无效，已跳过",
			zap.String("service", ev.Service),
			zap.String("symbol", ev.Symbol),
			zap.Strings("issues", ev.Issues))
	}

	switch ev.Kind {
	case model.EventQuote:
		// 增量推送只带变化字段，没有买卖字段且无解析问题属于正常流量
		if ev.Quote != nil && ev.Quote.FieldCount() == 0 && len(ev.Issues) == 0 {
			atomic.AddInt64(&in.ignored, 1)
			return
		}
		in.HandleQuote(ev.Quote)
	case model.EventDepth:
		in.HandleDepth(ev.Depth)
	case model.EventTrade:
		in.HandleTrade(ev.Trade)
	}
}

// HandleQuote 应用 Level One 报价
// 没有任何有效字段的报价丢弃
func (in *Ingestor) HandleQuote(upd *model.QuoteUpdate) {
	if upd == nil || upd.FieldCount() == 0 {
		atomic.AddInt64(&in.dropped, 1)
		in.logger.Warn("报价没有可用字段，已丢弃")
		return
	}
	in.store.UpdateBestQuote(upd)
	atomic.AddInt64(&in.quotes, 1)
}

// HandleDepth 应用深度快照
// 无效档位已在解析阶段剔除，其余档位照常替换
func (in *Ingestor) HandleDepth(snap *model.DepthSnapshot) {
	if snap == nil {
		atomic.AddInt64(&in.dropped, 1)
		in.logger.Warn("深度快照无效，已丢弃")
		return
	}
	in.store.ReplaceDepth(snap)
	atomic.AddInt64(&in.depths, 1)
}

// HandleTrade 分类并记录成交
// 分类使用入库时刻的 BBO
func (in *Ingestor) HandleTrade(tp *model.TradePrint) {
	if tp == nil {
		atomic.AddInt64(&in.dropped, 1)
		in.logger.Warn("成交缺少价格或数量，已丢弃")
		return
	}

	quote, _ := in.store.BestQuote(tp.Symbol)
	rec := model.TradeRecord{
		Time:      tp.TradeTime.Truncate(time.Millisecond),
		Price:     tp.Price,
		Size:      tp.Size,
		Aggressor: classify.Classify(tp.Price, &quote),
	}
	in.store.AppendTrade(tp.Symbol, rec)
	atomic.AddInt64(&in.trades, 1)

	if in.sink != nil {
		if err := in.sink.WriteTrade(tp.Symbol, rec); err != nil {
			in.logger.Warn("写入成交失败", zap.Error(err))
		}
	}
}

// Stats 获取入库统计
func (in *Ingestor) Stats() Stats {
	return Stats{
		Quotes:  atomic.LoadInt64(&in.quotes),
		Depths:  atomic.LoadInt64(&in.depths),
		Trades:  atomic.LoadInt64(&in.trades),
		Dropped: atomic.LoadInt64(&in.dropped),
		Ignored: atomic.LoadInt64(&in.ignored),
		Issues:  atomic.LoadInt64(&in.issues),
	}
}
