package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"schwab-bookmap/internal/core/model"
	"schwab-bookmap/internal/core/store"
	"schwab-bookmap/internal/exchange/schwab"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memSink struct {
	rows []model.TradeRecord
	err  error
}

func (m *memSink) WriteTrade(symbol string, rec model.TradeRecord) error {
	m.rows = append(m.rows, rec)
	return m.err
}

func newIngestor(sink TradeSink) (*Ingestor, *store.Store, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.WarnLevel)
	st := store.New(100)
	return New(st, sink, zap.New(core)), st, logs
}

func depthEvent(bids, asks []model.Level) *model.FeedEvent {
	return &model.FeedEvent{
		Kind:    model.EventDepth,
		Service: "NASDAQ_BOOK",
		Symbol:  "SPY",
		Depth:   &model.DepthSnapshot{Symbol: "SPY", Bids: bids, Asks: asks, ObservedAt: time.Now()},
	}
}

func tradeEvent(px string, size int64, ms int64) *model.FeedEvent {
	return &model.FeedEvent{
		Kind:    model.EventTrade,
		Service: "TIMESALE_EQUITY",
		Symbol:  "SPY",
		Trade:   &model.TradePrint{Symbol: "SPY", Price: dec(px), Size: size, TradeTime: time.UnixMilli(ms)},
	}
}

func TestIngestor_ClassifiesAgainstCurrentBook(t *testing.T) {
	sink := &memSink{}
	in, st, _ := newIngestor(sink)

	in.Apply(depthEvent(
		[]model.Level{{Price: dec("100.00"), Size: 500}, {Price: dec("99.99"), Size: 300}},
		[]model.Level{{Price: dec("100.05"), Size: 200}, {Price: dec("100.06"), Size: 400}},
	))

	tests := []struct {
		price string
		want  model.Aggressor
	}{
		{"100.05", model.AggressorBuy},
		{"100.00", model.AggressorSell},
		{"100.02", model.AggressorUnknown},
	}
	for i, tt := range tests {
		in.Apply(tradeEvent(tt.price, 100, 1700000000000+int64(i)))
	}

	trades := st.Trades("SPY", 10)
	if len(trades) != 3 {
		t.Fatalf("成交数 = %d, want 3", len(trades))
	}
	// 最新在前
	for i, tt := range tests {
		got := trades[len(trades)-1-i]
		if got.Aggressor != tt.want {
			t.Errorf("price %s: Aggressor = %s, want %s", tt.price, got.Aggressor, tt.want)
		}
	}
	if len(sink.rows) != 3 {
		t.Errorf("sink 收到 %d 条, want 3", len(sink.rows))
	}
	if got := in.Stats(); got.Depths != 1 || got.Trades != 3 {
		t.Errorf("Stats() = %+v", got)
	}
}

func TestIngestor_TradeWithoutQuoteIsUnknown(t *testing.T) {
	in, st, _ := newIngestor(nil)
	in.Apply(tradeEvent("100.00", 10, 1700000000000))

	trades := st.Trades("SPY", 1)
	if len(trades) != 1 || trades[0].Aggressor != model.AggressorUnknown {
		t.Errorf("无报价时成交 = %+v, want UNKNOWN", trades)
	}
}

func TestIngestor_TradeTimeMillisecondPrecision(t *testing.T) {
	in, st, _ := newIngestor(nil)
	ev := tradeEvent("1", 1, 0)
	ev.Trade.TradeTime = time.Unix(1700000000, 123456789)
	in.Apply(ev)

	got := st.Trades("SPY", 1)[0].Time
	if got.Nanosecond() != 123000000 {
		t.Errorf("成交时间纳秒 = %d, want 123000000", got.Nanosecond())
	}
}

func TestIngestor_PartialQuote(t *testing.T) {
	in, st, _ := newIngestor(nil)

	in.Apply(&model.FeedEvent{Kind: model.EventQuote, Symbol: "SPY", Quote: &model.QuoteUpdate{
		Symbol: "SPY", BidPrice: model.NullPrice(dec("10")), BidSize: model.NewSize(1),
		AskPrice: model.NullPrice(dec("11")), AskSize: model.NewSize(2),
	}})
	in.Apply(&model.FeedEvent{Kind: model.EventQuote, Symbol: "SPY", Quote: &model.QuoteUpdate{
		Symbol: "SPY", AskPrice: model.NullPrice(dec("10.5")),
	}})

	q, ok := st.BestQuote("SPY")
	if !ok {
		t.Fatal("BestQuote 不存在")
	}
	if !q.BidPrice.Decimal.Equal(dec("10")) || !q.AskPrice.Decimal.Equal(dec("10.5")) || q.AskSize.Value != 2 {
		t.Errorf("部分更新后 BBO = %+v", q)
	}
}

func TestIngestor_DropsAndWarns(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	in, st, logs := newIngestor(sink)

	in.Apply(&model.FeedEvent{Kind: model.EventQuote, Symbol: "SPY", Quote: &model.QuoteUpdate{Symbol: "SPY"},
		Issues: []string{"1: 无效数值"}})
	in.Apply(&model.FeedEvent{Kind: model.EventTrade, Symbol: "SPY", Issues: []string{"LAST_PRICE: 字段缺失"}})
	in.Apply(&model.FeedEvent{Kind: model.EventDepth, Symbol: "SPY", Issues: []string{"bids: 无效档位数组"}})
	in.Apply(nil)
	in.Apply(tradeEvent("1", 1, 1))

	if _, ok := st.BestQuote("SPY"); !ok {
		t.Fatal("成交应已创建标的状态")
	}
	if q, _ := st.BestQuote("SPY"); q.HasBid() || q.HasAsk() {
		t.Errorf("丢弃的报价不应写入, got %+v", q)
	}

	got := in.Stats()
	if got.Dropped != 3 || got.Issues != 3 || got.Trades != 1 {
		t.Errorf("Stats() = %+v, want dropped=3 issues=3 trades=1", got)
	}
	// 3 条 issues + 3 条丢弃 + 1 条 sink 失败
	if n := logs.FilterLevelExact(zapcore.WarnLevel).Len(); n != 7 {
		t.Errorf("warn 日志数 = %d, want 7", n)
	}
}

func TestIngestor_IgnoresQuoteDeltaWithoutBidAsk(t *testing.T) {
	in, st, logs := newIngestor(nil)
	parser := schwab.NewParser("SPY")

	in.Apply(&model.FeedEvent{Kind: model.EventQuote, Symbol: "SPY",
		Quote: &model.QuoteUpdate{Symbol: "SPY", BidPrice: model.NullPrice(dec("100.00"))}})

	frame := []byte(`{"data":[{"service":"LEVELONE_EQUITIES","timestamp":1700000000000,"content":[{"key":"SPY","3":100.01}]}]}`)
	for i := 0; i < 50; i++ {
		events, err := parser.Parse(frame, 1)
		if err != nil {
			t.Fatalf("Parse() err = %v", err)
		}
		for _, ev := range events {
			in.Apply(ev)
		}
	}

	if n := logs.FilterLevelExact(zapcore.WarnLevel).Len(); n != 0 {
		t.Errorf("warn 日志数 = %d, want 0", n)
	}
	got := in.Stats()
	if got.Ignored != 50 || got.Dropped != 0 || got.Quotes != 1 {
		t.Errorf("Stats() = %+v, want ignored=50 dropped=0 quotes=1", got)
	}
	if q, _ := st.BestQuote("SPY"); !q.HasBid() || !q.BidPrice.Decimal.Equal(dec("100.00")) {
		t.Errorf("买价应保持不变, got %+v", q)
	}
}

func TestIngestor_EmptySideClearsBBO(t *testing.T) {
	in, st, _ := newIngestor(nil)

	in.Apply(depthEvent(
		[]model.Level{{Price: dec("100.00"), Size: 500}},
		[]model.Level{{Price: dec("100.05"), Size: 200}},
	))
	in.Apply(depthEvent([]model.Level{{Price: dec("99.00"), Size: 1}}, nil))

	q, _ := st.BestQuote("SPY")
	if q.HasAsk() || !q.HasBid() || !q.BidPrice.Decimal.Equal(dec("99.00")) {
		t.Errorf("空卖盘后 BBO = %+v", q)
	}
}

func TestTee_WritesAllAndJoinsErrors(t *testing.T) {
	a := &memSink{}
	b := &memSink{err: errors.New("b failed")}
	tee := Tee{a, nil, b}

	err := tee.WriteTrade("SPY", model.TradeRecord{Price: dec("1"), Size: 1})
	if err == nil || err.Error() != "b failed" {
		t.Errorf("WriteTrade() err = %v", err)
	}
	if len(a.rows) != 1 || len(b.rows) != 1 {
		t.Errorf("下游收到 %d/%d 条, want 1/1", len(a.rows), len(b.rows))
	}
}
