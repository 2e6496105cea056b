// Package timeutil 提供时间相关的工具函数。
// 主要用于记录消息到达时间与行情时间戳转换。
package timeutil

import (
	"time"
)

var (
	// baseTime 基准时间点（包含单调时钟读数）
	baseTime = time.Now()
	// baseUnixNs 基准时间点对应的 Unix 纳秒时间戳
	baseUnixNs = baseTime.UnixNano()
)

// NowNano 获取当前时间的纳秒时间戳
// NowNano = baseUnixNs + time.Since(baseTime)，系统时间跳变时差值仍单调，避免污染行情延迟统计。
func NowNano() int64 {
	return baseUnixNs + time.Since(baseTime).Nanoseconds()
}

// MsToNano 将毫秒时间戳转换为纳秒
func MsToNano(ms int64) int64 {
	return ms * 1_000_000
}

// MsOrNow 将毫秒时间戳转换为 time.Time，ms<=0 时回退为当前时间
// 行情缺少时间戳时按本机时间记录
func MsOrNow(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

