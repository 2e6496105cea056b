// Package latency 延迟追踪器测试
package latency

import (
	"math"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"schwab-bookmap/internal/core/model"
	"schwab-bookmap/internal/util/timeutil"
)

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func event(service string, arrivedNs, exchMs int64) *model.FeedEvent {
	return &model.FeedEvent{Service: service, ArrivedAtUnixNs: arrivedNs, ExchTsUnixMs: exchMs}
}

func TestTracker_LagCalculation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("单样本时各分位数等于该延迟", prop.ForAll(
		func(exchMs, lagNs int64) bool {
			tr := NewTracker(100)
			arrived := timeutil.MsToNano(exchMs) + lagNs
			tr.Observe(event("LEVELONE_EQUITIES", arrived, exchMs))

			st := tr.Stats("LEVELONE_EQUITIES")
			wantMs := float64(lagNs) / 1_000_000.0
			return st.Count == 1 &&
				approxEqual(st.P50Ms, wantMs, 1e-9) &&
				approxEqual(st.P90Ms, wantMs, 1e-9) &&
				approxEqual(st.P99Ms, wantMs, 1e-9)
		},
		gen.Int64Range(1_600_000_000_000, 1_900_000_000_000),
		gen.Int64Range(-1_000_000_000, 10_000_000_000),
	))

	properties.TestingRun(t)
}

func TestTracker_QuantilesOrdered(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("P50 <= P90 <= P99 且落在样本范围内", prop.ForAll(
		func(lags []int64) bool {
			if len(lags) == 0 {
				return true
			}
			tr := NewTracker(1000)
			const exchMs = 1_700_000_000_000
			for _, lag := range lags {
				tr.Observe(event("NASDAQ_BOOK", timeutil.MsToNano(exchMs)+lag, exchMs))
			}
			st := tr.Stats("NASDAQ_BOOK")

			sorted := append([]int64(nil), lags...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			lo := float64(sorted[0]) / 1_000_000.0
			hi := float64(sorted[len(sorted)-1]) / 1_000_000.0

			return st.P50Ms <= st.P90Ms && st.P90Ms <= st.P99Ms &&
				st.P50Ms >= lo && st.P99Ms <= hi
		},
		gen.SliceOf(gen.Int64Range(0, 5_000_000_000)),
	))

	properties.TestingRun(t)
}

func TestTracker_RollingWindowEvicts(t *testing.T) {
	tr := NewTracker(3)
	const exchMs = 1_700_000_000_000
	base := timeutil.MsToNano(exchMs)

	for _, lagMs := range []int64{1000, 1000, 1000, 5, 5, 5} {
		tr.Observe(event("TIMESALE_EQUITY", base+lagMs*1_000_000, exchMs))
	}

	st := tr.Stats("TIMESALE_EQUITY")
	if st.Count != 6 {
		t.Errorf("Count = %d, want 6", st.Count)
	}
	if st.P99Ms != 5 {
		t.Errorf("P99Ms = %v, want 5（旧样本应被淘汰）", st.P99Ms)
	}
}

func TestTracker_IgnoresAndAll(t *testing.T) {
	tr := NewTracker(0)

	tr.Observe(nil)
	tr.Observe(event("", 10, 1))
	tr.Observe(event("LEVELONE_EQUITIES", 10, 0))
	tr.Observe(event("LEVELONE_EQUITIES", 0, 1))
	if got := tr.All(); len(got) != 0 {
		t.Fatalf("无效事件不应计入, got %+v", got)
	}

	tr.Observe(event("TIMESALE_EQUITY", timeutil.MsToNano(2), 1))
	tr.Observe(event("LEVELONE_EQUITIES", timeutil.MsToNano(3), 1))

	all := tr.All()
	if len(all) != 2 || all[0].Service != "LEVELONE_EQUITIES" || all[1].Service != "TIMESALE_EQUITY" {
		t.Errorf("All() = %+v", all)
	}
	if !approxEqual(all[0].P50Ms, 2, 1e-9) {
		t.Errorf("LEVELONE P50Ms = %v, want 2", all[0].P50Ms)
	}

	if st := tr.Stats("NYSE_BOOK"); st.Count != 0 || st.Service != "NYSE_BOOK" {
		t.Errorf("未知服务 Stats() = %+v", st)
	}
}
