// Package replay 从录制的 capture.jsonl 回放行情。
// 回放与实时连接共用同一个解析器，产出相同的 FeedEvent。
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"schwab-bookmap/internal/core/model"
	"schwab-bookmap/internal/exchange/schwab"
	"schwab-bookmap/internal/output/jsonl"
)

// Stats 回放统计
type Stats struct {
	// Frames 已回放帧数
	Frames int64 `json:"frames"`
	// Events 已产出事件数
	Events int64 `json:"events"`
	// BadLines 无法解析的行数
	BadLines int64 `json:"bad_lines"`
}

// Source 回放数据源
type Source struct {
	// path 录制文件路径
	path string
	// speed 回放倍速，0 表示不等待
	speed float64
	// parser 消息解析器
	parser *schwab.Parser
	// logger 日志记录器
	logger *zap.Logger
	// eventCh 事件输出通道，Run 结束时关闭
	// 事件的到达时间沿用录制值，回放出的行情延迟与录制时一致
	eventCh chan *model.FeedEvent

	frames   int64
	events   int64
	badLines int64
}

// NewSource 创建回放源
// 参数 path: capture.jsonl 路径
// 参数 speed: 回放倍速（1 为原速，0 为尽快）
// 参数 symbol: 默认标的
// 参数 buffer: 事件通道容量
func NewSource(path string, speed float64, symbol string, buffer int, logger *zap.Logger) *Source {
	if buffer <= 0 {
		buffer = 1000
	}
	if speed < 0 {
		speed = 0
	}
	return &Source{
		path:    path,
		speed:   speed,
		parser:  schwab.NewParser(symbol),
		logger:  logger.Named("replay"),
		eventCh: make(chan *model.FeedEvent, buffer),
	}
}

// Events 获取行情事件通道
func (s *Source) Events() <-chan *model.FeedEvent {
	return s.eventCh
}

// Stats 获取回放统计
func (s *Source) Stats() Stats {
	return Stats{
		Frames:   atomic.LoadInt64(&s.frames),
		Events:   atomic.LoadInt64(&s.events),
		BadLines: atomic.LoadInt64(&s.badLines),
	}
}

// Run 回放整个文件，读完或 ctx 取消时返回并关闭事件通道
// 单行错误记录后跳过，只有文件无法打开或读取时返回错误
func (s *Source) Run(ctx context.Context) error {
	defer close(s.eventCh)

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("打开回放文件失败: %w", err)
	}
	defer f.Close()

	s.logger.Info("开始回放", zap.String("path", s.path), zap.Float64("speed", s.speed))

	r := jsonl.NewReader(f)
	var prevArrived int64
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isScanError(err) {
				return err
			}
			atomic.AddInt64(&s.badLines, 1)
			s.logger.Warn("跳过无效回放行", zap.Int("line", r.Line()), zap.Error(err))
			continue
		}
		if rec.Kind != "" && rec.Kind != jsonl.KindCapture {
			continue
		}

		var cf schwab.CapturedFrame
		if err := json.Unmarshal(rec.Data, &cf); err != nil || len(cf.Frame) == 0 {
			atomic.AddInt64(&s.badLines, 1)
			s.logger.Warn("跳过无效录制帧", zap.Int("line", r.Line()), zap.Error(err))
			continue
		}

		if err := s.pace(ctx, prevArrived, cf.ArrivedAtUnixNs); err != nil {
			return nil
		}
		prevArrived = cf.ArrivedAtUnixNs

		events, err := s.parser.Parse(cf.Frame, cf.ArrivedAtUnixNs)
		if err != nil {
			atomic.AddInt64(&s.badLines, 1)
			s.logger.Warn("解析录制帧失败", zap.Int("line", r.Line()), zap.Error(err))
			continue
		}
		atomic.AddInt64(&s.frames, 1)

		for _, ev := range events {
			select {
			case s.eventCh <- ev:
				atomic.AddInt64(&s.events, 1)
			case <-ctx.Done():
				return nil
			}
		}
	}

	st := s.Stats()
	s.logger.Info("回放结束",
		zap.Int64("frames", st.Frames),
		zap.Int64("events", st.Events),
		zap.Int64("bad_lines", st.BadLines))
	return nil
}

// pace 按录制间隔除以倍速等待
func (s *Source) pace(ctx context.Context, prev, cur int64) error {
	if s.speed == 0 || prev == 0 || cur <= prev {
		return ctx.Err()
	}
	gap := time.Duration(float64(cur-prev) / s.speed)
	if gap <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(gap)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// isScanError 是否为底层读取错误（而非单行 JSON 错误）
func isScanError(err error) bool {
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return !errors.As(err, &syn) && !errors.As(err, &typ)
}
