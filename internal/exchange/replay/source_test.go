package replay

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"schwab-bookmap/internal/core/model"
	"schwab-bookmap/internal/exchange/schwab"
	"schwab-bookmap/internal/output/jsonl"
	"schwab-bookmap/internal/stats/latency"
)

const (
	quoteFrame = `{"data":[{"service":"LEVELONE_EQUITIES","timestamp":1700000000000,"content":[{"key":"SPY","1":100.00,"2":100.05,"4":500,"5":200}]}]}`
	bookFrame  = `{"data":[{"service":"NASDAQ_BOOK","timestamp":1700000000001,"content":[{"key":"SPY","2":[{"0":100.00,"1":500}],"3":[{"0":100.05,"1":200}]}]}]}`
	tradeFrame = `{"data":[{"service":"TIMESALE_EQUITY","timestamp":1700000000002,"content":[{"key":"SPY","1":1700000000002,"2":100.05,"3":100}]}]}`
)

// writeCapture 用 jsonl 录制器写入测试文件
func writeCapture(t *testing.T, frames []schwab.CapturedFrame, extra ...string) string {
	t.Helper()
	dir := t.TempDir()
	s, err := jsonl.Open(jsonl.Options{Dir: dir, Session: "test", Capture: true})
	if err != nil {
		t.Fatalf("Open() err = %v", err)
	}
	for _, f := range frames {
		if err := s.Capture().Write(f); err != nil {
			t.Fatalf("Write() err = %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() err = %v", err)
	}

	path := filepath.Join(dir, jsonl.CaptureFile)
	if len(extra) > 0 {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			t.Fatalf("打开文件失败: %v", err)
		}
		f.WriteString(strings.Join(extra, "\n") + "\n")
		f.Close()
	}
	return path
}

func collect(t *testing.T, src *Source) []*model.FeedEvent {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(context.Background()) }()

	var out []*model.FeedEvent
	for ev := range src.Events() {
		out = append(out, ev)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Run() err = %v", err)
	}
	return out
}

func TestSource_ReplaysCapture(t *testing.T) {
	path := writeCapture(t, []schwab.CapturedFrame{
		{ArrivedAtUnixNs: 1_000, Frame: json.RawMessage(quoteFrame)},
		{ArrivedAtUnixNs: 2_000, Frame: json.RawMessage(bookFrame)},
		{ArrivedAtUnixNs: 3_000, Frame: json.RawMessage(tradeFrame)},
	})

	src := NewSource(path, 0, "SPY", 0, zap.NewNop())
	events := collect(t, src)

	wantKinds := []model.EventKind{model.EventQuote, model.EventDepth, model.EventTrade}
	if len(events) != len(wantKinds) {
		t.Fatalf("事件数 = %d, want %d", len(events), len(wantKinds))
	}
	for i, k := range wantKinds {
		if events[i].Kind != k {
			t.Errorf("events[%d].Kind = %s, want %s", i, events[i].Kind, k)
		}
		if events[i].ArrivedAtUnixNs != int64(i+1)*1_000 {
			t.Errorf("events[%d].ArrivedAtUnixNs = %d", i, events[i].ArrivedAtUnixNs)
		}
	}

	st := src.Stats()
	if st.Frames != 3 || st.Events != 3 || st.BadLines != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestSource_PreservesRecordedLag(t *testing.T) {
	// 报价服务端时间 1700000000000ms，录制时 5ms 后到达
	arrived := (1700000000000 + 5) * int64(time.Millisecond)
	path := writeCapture(t, []schwab.CapturedFrame{
		{ArrivedAtUnixNs: arrived, Frame: json.RawMessage(quoteFrame)},
	})

	src := NewSource(path, 0, "SPY", 0, zap.NewNop())
	events := collect(t, src)
	if len(events) != 1 {
		t.Fatalf("事件数 = %d, want 1", len(events))
	}

	tracker := latency.NewTracker(16)
	tracker.Observe(events[0])
	st := tracker.Stats("LEVELONE_EQUITIES")
	if st.Count != 1 {
		t.Fatalf("Count = %d, want 1", st.Count)
	}
	if st.P50Ms != 5 {
		t.Errorf("P50Ms = %v, want 5", st.P50Ms)
	}
}

func TestSource_SkipsBadLinesAndOtherKinds(t *testing.T) {
	path := writeCapture(t,
		[]schwab.CapturedFrame{{ArrivedAtUnixNs: 1, Frame: json.RawMessage(quoteFrame)}},
		`{oops`,
		`{"session":"x","kind":"trade","ts_unix_ns":1,"data":{"symbol":"SPY"}}`,
		`{"arrived_at_ns":5,"frame":`+tradeFrame+`}`,
		`{"session":"x","kind":"capture","ts_unix_ns":1,"data":{"arrived_at_ns":6}}`,
	)

	src := NewSource(path, 0, "SPY", 1, zap.NewNop())
	events := collect(t, src)

	if len(events) != 2 {
		t.Fatalf("事件数 = %d, want 2", len(events))
	}
	if events[1].Kind != model.EventTrade {
		t.Errorf("裸录制帧应被回放, got %s", events[1].Kind)
	}
	if st := src.Stats(); st.BadLines != 2 {
		t.Errorf("BadLines = %d, want 2", st.BadLines)
	}
}

func TestSource_Pacing(t *testing.T) {
	path := writeCapture(t, []schwab.CapturedFrame{
		{ArrivedAtUnixNs: int64(time.Second), Frame: json.RawMessage(quoteFrame)},
		{ArrivedAtUnixNs: int64(time.Second + 200*time.Millisecond), Frame: json.RawMessage(tradeFrame)},
	})

	src := NewSource(path, 2, "SPY", 0, zap.NewNop())
	start := time.Now()
	events := collect(t, src)
	elapsed := time.Since(start)

	if len(events) != 2 {
		t.Fatalf("事件数 = %d, want 2", len(events))
	}
	if elapsed < 90*time.Millisecond {
		t.Errorf("2 倍速回放 200ms 间隔耗时 %v, want >= 100ms", elapsed)
	}
}

func TestSource_Cancel(t *testing.T) {
	path := writeCapture(t, []schwab.CapturedFrame{
		{ArrivedAtUnixNs: int64(time.Second), Frame: json.RawMessage(quoteFrame)},
		{ArrivedAtUnixNs: int64(time.Hour), Frame: json.RawMessage(tradeFrame)},
	})

	src := NewSource(path, 1, "SPY", 0, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	<-src.Events()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("取消后 Run() err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("取消后 Run 未退出")
	}
}

func TestSource_MissingFile(t *testing.T) {
	src := NewSource(filepath.Join(t.TempDir(), "none.jsonl"), 0, "SPY", 0, zap.NewNop())
	if err := src.Run(context.Background()); err == nil {
		t.Error("文件不存在应返回错误")
	}
	if _, ok := <-src.Events(); ok {
		t.Error("Run 返回后事件通道应关闭")
	}
}
