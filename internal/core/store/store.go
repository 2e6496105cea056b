// Package store 维护每个标的的最优报价、深度簿与成交缓冲区。
// 写入由聚合器单 goroutine 完成；渲染器与 HTTP 接口通过读锁获取快照拷贝。
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/btree"

	"schwab-bookmap/internal/core/model"
	"schwab-bookmap/internal/core/tradelog"
)

// btreeDegree 深度簿 B 树阶数
const btreeDegree = 16

// book 单个标的的盘口状态
type book struct {
	// quote 最优报价
	quote model.BestQuote
	// bids 买盘，按价格降序
	bids *btree.BTreeG[model.Level]
	// asks 卖盘，按价格升序
	asks *btree.BTreeG[model.Level]
	// trades 最近成交
	trades *tradelog.Log
}

func bidLess(a, b model.Level) bool { return a.Price.GreaterThan(b.Price) }
func askLess(a, b model.Level) bool { return a.Price.LessThan(b.Price) }

// Store 盘口状态存储
// 生命周期：行情流启动时创建一次，停止时随进程释放。
type Store struct {
	mu sync.RWMutex
	// books key: 标的代码
	books map[string]*book
	// tradeCap 每个标的保留的成交条数
	tradeCap int
}

// New 创建盘口状态存储
// 参数 tradeCap: 每个标的保留的成交条数（<=0 时取默认 100）
func New(tradeCap int) *Store {
	if tradeCap <= 0 {
		tradeCap = tradelog.DefaultCapacity
	}
	return &Store{
		books:    make(map[string]*book, 1),
		tradeCap: tradeCap,
	}
}

// getOrCreate 获取标的状态，不存在则初始化（调用方需持有写锁）
func (s *Store) getOrCreate(symbol string) *book {
	b, ok := s.books[symbol]
	if !ok {
		b = &book{
			bids:   btree.NewG(btreeDegree, bidLess),
			asks:   btree.NewG(btreeDegree, askLess),
			trades: tradelog.New(s.tradeCap),
		}
		s.books[symbol] = b
	}
	return b
}

// UpdateBestQuote 用 Level One 报价更新 BBO
// 仅覆盖更新中存在的字段，缺失字段保持原值
func (s *Store) UpdateBestQuote(upd *model.QuoteUpdate) {
	if upd == nil || upd.Symbol == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	upd.ApplyTo(&s.getOrCreate(upd.Symbol).quote)
}

// ReplaceDepth 用深度快照整体替换买卖盘
// 替换后以新的最优档位重算 BBO；某一边为空时该边 BBO 字段置为缺失，另一边不受影响。
// 同一价格出现多次时以最后一次为准；数量为负的档位在解析阶段已被剔除。
func (s *Store) ReplaceDepth(snap *model.DepthSnapshot) {
	if snap == nil || snap.Symbol == "" {
		return
	}

	// 在锁外构建新树，锁内只做指针交换
	bids := btree.NewG(btreeDegree, bidLess)
	for _, lv := range snap.Bids {
		bids.ReplaceOrInsert(lv)
	}
	asks := btree.NewG(btreeDegree, askLess)
	for _, lv := range snap.Asks {
		asks.ReplaceOrInsert(lv)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.getOrCreate(snap.Symbol)
	b.bids = bids
	b.asks = asks

	if best, ok := bids.Min(); ok {
		b.quote.BidPrice = model.NullPrice(best.Price)
		b.quote.BidSize = model.NewSize(best.Size)
	} else {
		b.quote.BidPrice.Valid = false
		b.quote.BidSize = model.Size{}
	}
	if best, ok := asks.Min(); ok {
		b.quote.AskPrice = model.NullPrice(best.Price)
		b.quote.AskSize = model.NewSize(best.Size)
	} else {
		b.quote.AskPrice.Valid = false
		b.quote.AskSize = model.Size{}
	}
	b.quote.ObservedAt = snap.ObservedAt
}

// AppendTrade 追加一条已分类的成交，满时淘汰最旧一条
func (s *Store) AppendTrade(symbol string, rec model.TradeRecord) {
	if symbol == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getOrCreate(symbol).trades.Append(rec)
}

// BestQuote 获取标的当前 BBO 的拷贝
// 标的不存在时返回零值与 false
func (s *Store) BestQuote(symbol string) (model.BestQuote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[symbol]
	if !ok {
		return model.BestQuote{}, false
	}
	return b.quote, true
}

// Trades 返回最近 limit 条成交，最新在前（<=0 表示全部）
func (s *Store) Trades(symbol string, limit int) []model.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[symbol]
	if !ok {
		return nil
	}
	return b.trades.Recent(limit)
}

// Snapshot 在同一把读锁内获取 BBO、深度与最近成交，保证三者一致
// 参数 maxLevels: 每边最多档位数
// 参数 maxTrades: 最多成交条数
// 标的不存在时返回仅含 Symbol 的空快照与 false
func (s *Store) Snapshot(symbol string, maxLevels, maxTrades int) (model.BookSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := model.BookSnapshot{Symbol: symbol, TakenAt: time.Now()}
	b, ok := s.books[symbol]
	if !ok {
		return snap, false
	}
	snap.Quote = b.quote
	snap.Bids = collect(b.bids, maxLevels)
	snap.Asks = collect(b.asks, maxLevels)
	snap.BidDepth = b.bids.Len()
	snap.AskDepth = b.asks.Len()
	snap.Trades = b.trades.Recent(maxTrades)
	return snap, true
}

// Symbols 返回已有状态的标的列表（字典序）
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.books))
	for sym := range s.books {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// collect 按树序取前 n 档
func collect(t *btree.BTreeG[model.Level], n int) []model.Level {
	size := t.Len()
	if n <= 0 || n > size {
		n = size
	}
	out := make([]model.Level, 0, n)
	t.Ascend(func(lv model.Level) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, lv)
		return true
	})
	return out
}
