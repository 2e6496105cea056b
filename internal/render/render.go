// Package render 周期性输出文本版 bookmap 视图。
// 每个周期从 store 取一份一致快照，先渲染再等待，直到 ctx 取消。
package render

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"schwab-bookmap/internal/core/model"
	"schwab-bookmap/internal/core/store"
)

// ANSI 颜色
const (
	colorGreen = "\033[92m"
	colorRed   = "\033[91m"
	colorReset = "\033[0m"
	clearSeq   = "\033[H\033[2J"
)

// headerTimeLayout 标题时间格式
const headerTimeLayout = "2006-01-02 15:04:05"

// SnapshotSink 快照下游（jsonl、redis）
type SnapshotSink interface {
	PublishSnapshot(ctx context.Context, snap model.BookSnapshot) error
}

// Options 渲染参数
type Options struct {
	// Symbol 标的代码
	Symbol string
	// Interval 渲染间隔
	Interval time.Duration
	// MaxLevels 每边展示档位数
	MaxLevels int
	// MaxTrades 展示成交条数
	MaxTrades int
	// NoColor 关闭 ANSI 颜色
	NoColor bool
	// ClearScreen 每次渲染前清屏
	ClearScreen bool
}

// Renderer 文本渲染器
type Renderer struct {
	// opts 渲染参数
	opts Options
	// store 盘口状态
	store *store.Store
	// out 输出目标
	out io.Writer
	// sinks 快照下游
	sinks []SnapshotSink
	// logger 日志记录器
	logger *zap.Logger
}

// New 创建渲染器
// 参数 opts: 渲染参数，零值字段取默认（5s、10 档、10 笔）
// 参数 st: 盘口状态
// 参数 out: 输出目标，通常为 os.Stdout
func New(opts Options, st *store.Store, out io.Writer, logger *zap.Logger, sinks ...SnapshotSink) *Renderer {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.MaxLevels <= 0 {
		opts.MaxLevels = 10
	}
	if opts.MaxTrades <= 0 {
		opts.MaxTrades = 10
	}
	return &Renderer{
		opts:   opts,
		store:  st,
		out:    out,
		sinks:  sinks,
		logger: logger.Named("render"),
	}
}

// Run 渲染循环：渲染 → 等待间隔 → 重复
// 取消只在两次渲染之间检查，单次渲染不会被打断
func (r *Renderer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		r.Tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick 渲染一次并推送快照
func (r *Renderer) Tick(ctx context.Context) {
	snap, _ := r.store.Snapshot(r.opts.Symbol, r.opts.MaxLevels, r.opts.MaxTrades)

	var b strings.Builder
	if r.opts.ClearScreen {
		b.WriteString(clearSeq)
	}
	b.WriteString(r.Render(&snap))
	if _, err := io.WriteString(r.out, b.String()); err != nil {
		r.logger.Warn("输出视图失败", zap.Error(err))
	}

	for _, s := range r.sinks {
		if err := s.PublishSnapshot(ctx, snap); err != nil {
			r.logger.Warn("推送快照失败", zap.Error(err))
		}
	}
}

// Render 将快照格式化为文本
func (r *Renderer) Render(snap *model.BookSnapshot) string {
	var b strings.Builder
	q := &snap.Quote

	fmt.Fprintf(&b, "--- Bookmap-like View for %s --- (%s) ---\n", snap.Symbol, snap.TakenAt.Format(headerTimeLayout))

	b.WriteString("\n--- ASKS (Price: Volume) ---\n")
	if len(snap.Asks) == 0 {
		b.WriteString(" (no ask data)\n")
	}
	for _, lv := range snap.Asks {
		marker := ""
		if q.HasAsk() && lv.Price.Equal(q.AskPrice.Decimal) {
			marker = "<-- BEST ASK"
		}
		writeLevel(&b, lv, marker)
	}

	b.WriteString("\n--- SPREAD ---\n")
	if spread, ok := q.Spread(); ok {
		fmt.Fprintf(&b, "Ask: %s (Size: %s)\n", q.AskPrice.Decimal.StringFixed(2), sizeText(q.AskSize))
		fmt.Fprintf(&b, "Bid: %s (Size: %s)\n", q.BidPrice.Decimal.StringFixed(2), sizeText(q.BidSize))
		fmt.Fprintf(&b, "Spread: %s\n", spread.StringFixed(2))
	} else {
		b.WriteString(" (BBO not fully available)\n")
	}

	b.WriteString("\n--- BIDS (Price: Volume) ---\n")
	if len(snap.Bids) == 0 {
		b.WriteString(" (no bid data)\n")
	}
	for _, lv := range snap.Bids {
		marker := ""
		if q.HasBid() && lv.Price.Equal(q.BidPrice.Decimal) {
			marker = "<-- BEST BID"
		}
		writeLevel(&b, lv, marker)
	}

	fmt.Fprintf(&b, "\n--- RECENT TRADES (Last %d) ---\n", len(snap.Trades))
	if len(snap.Trades) == 0 {
		b.WriteString(" (no trades yet)\n")
	}
	for _, tr := range snap.Trades {
		line := fmt.Sprintf("%s | %s | Vol: %-6d | %-7s", tr.TimeString(), tr.Price.StringFixed(2), tr.Size, tr.Aggressor)
		b.WriteString(r.colorize(line, tr.Aggressor))
		b.WriteByte('\n')
	}
	b.WriteString("------------------------------------\n")
	return b.String()
}

// colorize 按主动方着色：买绿卖红
func (r *Renderer) colorize(line string, a model.Aggressor) string {
	if r.opts.NoColor {
		return line
	}
	switch a {
	case model.AggressorBuy:
		return colorGreen + line + colorReset
	case model.AggressorSell:
		return colorRed + line + colorReset
	}
	return line
}

func writeLevel(b *strings.Builder, lv model.Level, marker string) {
	line := fmt.Sprintf("%s : %-8d%s", lv.Price.StringFixed(2), lv.Size, marker)
	b.WriteString(strings.TrimRight(line, " "))
	b.WriteByte('\n')
}

func sizeText(s model.Size) string {
	if !s.Valid {
		return "N/A"
	}
	return fmt.Sprintf("%d", s.Value)
}
