// Package jsonl 输出模块测试
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"schwab-bookmap/internal/core/model"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("打开文件失败: %v", err)
	}
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("解析行失败: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func TestWriter_WriteAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.jsonl")
	core, logs := observer.New(zapcore.WarnLevel)
	w, err := NewWriter(path, 4, zap.New(core))
	if err != nil {
		t.Fatalf("NewWriter() err = %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := w.Write(map[string]int{"i": i}); err != nil {
			t.Fatalf("Write() err = %v", err)
		}
	}
	// 无法编码的值只计入失败，不影响后续写入
	if err := w.Write(func() {}); err != nil {
		t.Fatalf("Write() 应只投递, err = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() err = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("重复 Close() err = %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 10 {
		t.Fatalf("行数 = %d, want 10", len(lines))
	}
	if lines[9]["i"].(float64) != 9 {
		t.Errorf("最后一行 = %v", lines[9])
	}

	st := w.Stats()
	if st.File != "out.jsonl" || st.Written != 10 || st.Failed != 1 || st.Pending != 0 {
		t.Errorf("Stats() = %+v, want out.jsonl 10/1/0", st)
	}
	if n := logs.FilterMessage("写入 JSONL 记录失败").Len(); n != 1 {
		t.Errorf("失败日志数 = %d, want 1", n)
	}

	if err := w.Write(1); !errors.Is(err, ErrClosed) {
		t.Errorf("关闭后 Write() err = %v, want ErrClosed", err)
	}
	if err := w.Flush(); !errors.Is(err, ErrClosed) {
		t.Errorf("关闭后 Flush() err = %v, want ErrClosed", err)
	}
}

func TestWriter_FlushWritesEverythingQueued(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	w, err := NewWriter(path, 0, nil)
	if err != nil {
		t.Fatalf("NewWriter() err = %v", err)
	}
	defer w.Close()

	for i := 0; i < 500; i++ {
		w.Write(map[string]int{"i": i})
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() err = %v", err)
	}
	lines := readLines(t, path)
	if len(lines) != 500 {
		t.Fatalf("flush 后行数 = %d, want 500", len(lines))
	}
	for i, l := range lines {
		if int(l["i"].(float64)) != i {
			t.Fatalf("第 %d 行 = %v, 顺序错乱", i, l)
		}
	}
}

func TestWriter_AutoFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	w, err := NewWriter(path, 0, nil)
	if err != nil {
		t.Fatalf("NewWriter() err = %v", err)
	}
	defer w.Close()

	w.Write(map[string]string{"a": "b"})

	deadline := time.Now().Add(3 * autoFlushInterval)
	for time.Now().Before(deadline) {
		if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("%v 内未自动刷盘", 3*autoFlushInterval)
}

func TestWriter_ConcurrentWriteAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	w, err := NewWriter(path, 2, nil)
	if err != nil {
		t.Fatalf("NewWriter() err = %v", err)
	}

	var wg sync.WaitGroup
	var accepted int64
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if err := w.Write(i); err != nil {
					return
				}
				atomic.AddInt64(&accepted, 1)
			}
		}()
	}
	time.Sleep(5 * time.Millisecond)
	if err := w.Close(); err != nil {
		t.Fatalf("Close() err = %v", err)
	}
	wg.Wait()

	// 投递成功的记录都应写入文件
	if got := int64(len(readLines(t, path))); got != atomic.LoadInt64(&accepted) {
		t.Errorf("行数 = %d, 投递成功 = %d", got, accepted)
	}
}

func TestSink_Envelopes(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Dir: dir, Session: "sess-1", Trades: true, Snapshots: true, Metrics: true})
	if err != nil {
		t.Fatalf("Open() err = %v", err)
	}

	rec := model.TradeRecord{
		Time:      time.UnixMilli(1700000000123).UTC(),
		Price:     decimal.RequireFromString("100.05"),
		Size:      100,
		Aggressor: model.AggressorBuy,
	}
	if err := s.WriteTrade("SPY", rec); err != nil {
		t.Fatalf("WriteTrade() err = %v", err)
	}
	if err := s.PublishSnapshot(context.Background(), model.BookSnapshot{Symbol: "SPY"}); err != nil {
		t.Fatalf("PublishSnapshot() err = %v", err)
	}
	if err := s.WriteMetrics(map[string]int{"reconnect_count": 1}); err != nil {
		t.Fatalf("WriteMetrics() err = %v", err)
	}
	if s.Capture() != nil {
		t.Error("未启用 capture 时 Capture() 应为 nil")
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() err = %v", err)
	}
	stats := s.Stats()
	if len(stats) != 3 {
		t.Fatalf("Stats() 文件数 = %d, want 3", len(stats))
	}
	for i, want := range []string{TradesFile, SnapshotsFile, MetricsFile} {
		if stats[i].File != want || stats[i].Written != 1 {
			t.Errorf("Stats()[%d] = %+v, want %s 写入 1 条", i, stats[i], want)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() err = %v", err)
	}

	trades := readLines(t, filepath.Join(dir, TradesFile))
	if len(trades) != 1 {
		t.Fatalf("trades 行数 = %d", len(trades))
	}
	tr := trades[0]
	if tr["session"] != "sess-1" || tr["kind"] != KindTrade {
		t.Errorf("信封 = %v", tr)
	}
	data := tr["data"].(map[string]any)
	for _, k := range []string{"symbol", "time", "price", "size", "aggressor"} {
		if _, ok := data[k]; !ok {
			t.Errorf("成交缺少字段 %s: %v", k, data)
		}
	}
	if data["price"] != "100.05" || data["aggressor"] != "BUY" {
		t.Errorf("成交内容 = %v", data)
	}

	if snaps := readLines(t, filepath.Join(dir, SnapshotsFile)); len(snaps) != 1 || snaps[0]["kind"] != KindSnapshot {
		t.Errorf("snapshots = %v", snaps)
	}
	if _, err := os.Stat(filepath.Join(dir, CaptureFile)); !os.IsNotExist(err) {
		t.Errorf("未启用 capture 不应创建文件, err = %v", err)
	}
}

func TestReader_EnvelopeAndBare(t *testing.T) {
	input := strings.Join([]string{
		`{"session":"s","kind":"capture","ts_unix_ns":5,"data":{"arrived_at_ns":1,"frame":{"data":[]}}}`,
		``,
		`{"arrived_at_ns":2,"frame":{"notify":[]}}`,
	}, "\n")

	r := NewReader(strings.NewReader(input))

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next() err = %v", err)
	}
	if rec.Kind != KindCapture || rec.Session != "s" || !strings.Contains(string(rec.Data), `"arrived_at_ns":1`) {
		t.Errorf("第一条 = %+v", rec)
	}

	rec, err = r.Next()
	if err != nil {
		t.Fatalf("Next() err = %v", err)
	}
	if rec.Kind != "" || !strings.Contains(string(rec.Data), `"arrived_at_ns":2`) {
		t.Errorf("裸记录 = %+v", rec)
	}
	if r.Line() != 3 {
		t.Errorf("Line() = %d, want 3", r.Line())
	}

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("读完后 err = %v, want io.EOF", err)
	}

	bad := NewReader(strings.NewReader("{oops\n"))
	if _, err := bad.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Errorf("无效行 err = %v", err)
	}
}

// TestTradeRow_OutputCompleteness 成交输出行必含全部字段
func TestTradeRow_OutputCompleteness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("trades.jsonl 行必含必需字段", prop.ForAll(
		func(cents int64, size int64, ms int64, aggr string) bool {
			row := TradeRow{
				Symbol: "SPY",
				TradeRecord: model.TradeRecord{
					Time:      time.UnixMilli(ms),
					Price:     decimal.New(cents, -2),
					Size:      size,
					Aggressor: model.Aggressor(aggr),
				},
			}
			b, err := json.Marshal(Record{Session: "s", Kind: KindTrade, TsUnixNs: 1, Data: row})
			if err != nil {
				return false
			}

			var raw RawRecord
			if err := json.Unmarshal(b, &raw); err != nil {
				return false
			}
			var m map[string]any
			if err := json.Unmarshal(raw.Data, &m); err != nil {
				return false
			}
			for _, k := range []string{"symbol", "time", "price", "size", "aggressor"} {
				if _, ok := m[k]; !ok {
					return false
				}
			}
			return raw.Session == "s" && raw.Kind == KindTrade
		},
		gen.Int64Range(1, 100000000),
		gen.Int64Range(0, 1000000),
		gen.Int64Range(1, 4102444800000),
		gen.OneConstOf("BUY", "SELL", "UNKNOWN"),
	))

	properties.TestingRun(t)
}
