// Package tradelog 成交缓冲区测试
package tradelog

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"schwab-bookmap/internal/core/model"
)

func rec(i int) model.TradeRecord {
	return model.TradeRecord{
		Time:      time.UnixMilli(1700000000000 + int64(i)),
		Price:     decimal.NewFromInt(int64(100 + i)),
		Size:      int64(i),
		Aggressor: model.AggressorUnknown,
	}
}

// TestLog_Bounded 容量不超限，且保留最新 N 条（按追加顺序）
func TestLog_Bounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("保留最新 capacity 条", prop.ForAll(
		func(capacity, appends int) bool {
			l := New(capacity)
			for i := 0; i < appends; i++ {
				l.Append(rec(i))
				if l.Len() > capacity {
					return false
				}
			}

			all := l.All()
			want := appends
			if want > capacity {
				want = capacity
			}
			if len(all) != want {
				return false
			}
			first := appends - want
			for i, r := range all {
				if r.Size != int64(first+i) {
					return false
				}
			}
			return l.Total() == int64(appends)
		},
		gen.IntRange(1, 150),
		gen.IntRange(0, 400),
	))

	properties.TestingRun(t)
}

func TestLog_EvictsOldest(t *testing.T) {
	l := New(DefaultCapacity)
	for i := 0; i <= DefaultCapacity; i++ {
		l.Append(rec(i))
	}

	if l.Len() != DefaultCapacity {
		t.Fatalf("Len = %d, want %d", l.Len(), DefaultCapacity)
	}
	all := l.All()
	if all[0].Size != 1 {
		t.Errorf("最旧一条应被淘汰, all[0].Size = %d", all[0].Size)
	}
	if all[len(all)-1].Size != int64(DefaultCapacity) {
		t.Errorf("最新一条 Size = %d, want %d", all[len(all)-1].Size, DefaultCapacity)
	}
}

func TestLog_Recent(t *testing.T) {
	tests := []struct {
		name    string
		cap     int
		appends int
		n       int
		want    []int64
	}{
		{"未写满", 5, 3, 2, []int64{2, 1}},
		{"未写满取全部", 5, 3, 0, []int64{2, 1, 0}},
		{"写满回绕", 3, 5, 3, []int64{4, 3, 2}},
		{"写满边界", 3, 3, 2, []int64{2, 1}},
		{"n 超过条数", 3, 2, 10, []int64{1, 0}},
		{"空", 3, 0, 5, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.cap)
			for i := 0; i < tt.appends; i++ {
				l.Append(rec(i))
			}
			got := l.Recent(tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Size != tt.want[i] {
					t.Errorf("got[%d].Size = %d, want %d", i, got[i].Size, tt.want[i])
				}
			}
		})
	}
}

func TestNew_DefaultCapacity(t *testing.T) {
	if c := New(0).Cap(); c != DefaultCapacity {
		t.Errorf("Cap = %d, want %d", c, DefaultCapacity)
	}
}
