// Package tradelog 实现固定容量的逐笔成交环形缓冲区。
// 写满后按 FIFO 淘汰最旧记录。
package tradelog

import "schwab-bookmap/internal/core/model"

// DefaultCapacity 默认保留的成交条数
const DefaultCapacity = 100

// Log 成交环形缓冲区（非并发安全，由 store 的锁保护）
type Log struct {
	// buf 环形缓冲区
	buf []model.TradeRecord
	// pos 下一次写入位置（写满后生效）
	pos int
	// full 是否已写满
	full bool
	// total 累计追加条数
	total int64
}

// New 创建成交缓冲区
// 参数 capacity: 容量，<=0 时使用 DefaultCapacity
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{buf: make([]model.TradeRecord, 0, capacity)}
}

// Append 追加一条成交，满时淘汰最旧一条
func (l *Log) Append(rec model.TradeRecord) {
	l.total++
	if !l.full {
		l.buf = append(l.buf, rec)
		if len(l.buf) == cap(l.buf) {
			l.full = true
			l.pos = 0
		}
		return
	}

	l.buf[l.pos] = rec
	l.pos++
	if l.pos >= len(l.buf) {
		l.pos = 0
	}
}

// Len 当前保留条数
func (l *Log) Len() int {
	return len(l.buf)
}

// Cap 容量
func (l *Log) Cap() int {
	return cap(l.buf)
}

// Total 累计追加条数（含已淘汰）
func (l *Log) Total() int64 {
	return l.total
}

// All 按追加顺序（旧→新）返回全部记录的拷贝
func (l *Log) All() []model.TradeRecord {
	out := make([]model.TradeRecord, 0, len(l.buf))
	if !l.full {
		return append(out, l.buf...)
	}
	out = append(out, l.buf[l.pos:]...)
	return append(out, l.buf[:l.pos]...)
}

// Recent 返回最近 n 条记录，最新在前
// n<=0 或超过当前条数时返回全部
func (l *Log) Recent(n int) []model.TradeRecord {
	size := len(l.buf)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]model.TradeRecord, 0, n)
	// 最新一条的位置
	idx := size - 1
	if l.full {
		idx = l.pos - 1
		if idx < 0 {
			idx = size - 1
		}
	}
	for i := 0; i < n; i++ {
		out = append(out, l.buf[idx])
		idx--
		if idx < 0 {
			idx = size - 1
		}
	}
	return out
}
