// Package backoff 实现流连接断线重连的指数退避。
// 默认基础间隔 1s，最大间隔 30s，抖动 ±20%
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Backoff 指数退避计算器（非并发安全，由单个读循环持有）
type Backoff struct {
	// base 基础等待时间
	base time.Duration
	// max 最大等待时间
	max time.Duration
	// jitter 抖动比例（0-1）
	jitter float64
	// attempt 当前重试次数
	attempt int
}

// New 创建退避计算器
// 参数 base: 基础等待时间
// 参数 max: 最大等待时间（小于 base 时取 base）
// 参数 jitter: 抖动比例，超出 [0,1] 时截断
func New(base, max time.Duration, jitter float64) *Backoff {
	if max < base {
		max = base
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &Backoff{base: base, max: max, jitter: jitter}
}

// FromMs 按毫秒配置创建，非正值回退默认
func FromMs(baseMs, maxMs int, jitter float64) *Backoff {
	base := time.Duration(baseMs) * time.Millisecond
	max := time.Duration(maxMs) * time.Millisecond
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return New(base, max, jitter)
}

// Next 获取下次重试的等待时间
// base * 2^attempt，封顶 max 后再施加抖动
func (b *Backoff) Next() time.Duration {
	delay := b.max
	// 位移超过 30 位后必然封顶，避免溢出
	if b.attempt < 30 {
		if d := b.base << uint(b.attempt); d > 0 && d < b.max {
			delay = d
		}
	}

	if b.jitter > 0 {
		factor := 1.0 + (rand.Float64()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * factor)
	}

	b.attempt++
	return delay
}

// Wait 等待下一次退避间隔
// ctx 取消时提前返回 ctx.Err()
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reset 连接成功后重置重试次数
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 获取当前重试次数
func (b *Backoff) Attempt() int {
	return b.attempt
}
