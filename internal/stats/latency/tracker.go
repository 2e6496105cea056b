// Package latency 统计行情推送延迟。
// 延迟定义为本机收到时间减去服务端时间戳，按服务分别维护滚动窗口。
package latency

import (
	"sort"
	"sync"

	"schwab-bookmap/internal/core/model"
	"schwab-bookmap/internal/util/timeutil"
)

// DefaultWindowSize 默认滚动窗口大小
const DefaultWindowSize = 10000

// LagStats 单个服务的延迟统计快照（滚动窗口）
// 单位：毫秒。时钟不同步时可能为负值。
type LagStats struct {
	// Service 服务名
	Service string `json:"service"`
	// Count 样本总数（累计）
	Count int64 `json:"count"`
	// P50Ms 中位延迟
	P50Ms float64 `json:"p50_ms"`
	// P90Ms P90 延迟
	P90Ms float64 `json:"p90_ms"`
	// P99Ms P99 延迟
	P99Ms float64 `json:"p99_ms"`
}

type rollingWindow struct {
	size  int
	buf   []int64
	pos   int
	count int64
	full  bool
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size, buf: make([]int64, 0, size)}
}

func (w *rollingWindow) add(v int64) {
	w.count++
	if w.size <= 0 {
		return
	}

	if !w.full {
		w.buf = append(w.buf, v)
		if len(w.buf) == w.size {
			w.full = true
			w.pos = 0
		}
		return
	}

	w.buf[w.pos] = v
	w.pos++
	if w.pos >= w.size {
		w.pos = 0
	}
}

// quantiles 计算窗口分位数（最近秩）
func (w *rollingWindow) quantiles(qs ...float64) []int64 {
	values := make([]int64, len(qs))
	if len(w.buf) == 0 {
		return values
	}

	tmp := make([]int64, len(w.buf))
	copy(tmp, w.buf)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	n := len(tmp)
	for i, q := range qs {
		switch {
		case q <= 0:
			values[i] = tmp[0]
		case q >= 1:
			values[i] = tmp[n-1]
		default:
			values[i] = tmp[int(float64(n-1)*q)]
		}
	}
	return values
}

// Tracker 行情延迟追踪器（并发安全）
type Tracker struct {
	mu sync.Mutex
	// windowSize 每个服务的窗口大小
	windowSize int
	// windows key: 服务名
	windows map[string]*rollingWindow
}

// NewTracker 创建延迟追踪器
// 参数 windowSize: 滚动窗口大小，<=0 时取默认值
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Tracker{
		windowSize: windowSize,
		windows:    make(map[string]*rollingWindow, 3),
	}
}

// Observe 记录一条事件的推送延迟
// 没有服务端时间戳或到达时间的事件不计入
func (t *Tracker) Observe(ev *model.FeedEvent) {
	if ev == nil || ev.Service == "" || ev.ExchTsUnixMs <= 0 || ev.ArrivedAtUnixNs <= 0 {
		return
	}
	lagNs := ev.ArrivedAtUnixNs - timeutil.MsToNano(ev.ExchTsUnixMs)

	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[ev.Service]
	if !ok {
		w = newRollingWindow(t.windowSize)
		t.windows[ev.Service] = w
	}
	w.add(lagNs)
}

// Stats 获取指定服务的统计快照
func (t *Tracker) Stats(service string) LagStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.statsLocked(service)
}

// All 获取全部服务的统计快照，按服务名排序
func (t *Tracker) All() []LagStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]LagStats, 0, len(t.windows))
	for svc := range t.windows {
		out = append(out, t.statsLocked(svc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

func (t *Tracker) statsLocked(service string) LagStats {
	w, ok := t.windows[service]
	if !ok {
		return LagStats{Service: service}
	}
	qs := w.quantiles(0.50, 0.90, 0.99)
	return LagStats{
		Service: service,
		Count:   w.count,
		P50Ms:   float64(qs[0]) / 1_000_000.0,
		P90Ms:   float64(qs[1]) / 1_000_000.0,
		P99Ms:   float64(qs[2]) / 1_000_000.0,
	}
}
