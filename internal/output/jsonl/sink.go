package jsonl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"schwab-bookmap/internal/core/model"
)

// 输出文件名
const (
	TradesFile    = "trades.jsonl"
	SnapshotsFile = "snapshots.jsonl"
	CaptureFile   = "capture.jsonl"
	MetricsFile   = "metrics.jsonl"
)

// Options 输出配置
type Options struct {
	// Dir 输出目录
	Dir string
	// Session 会话 ID
	Session string
	// BufferSize 每个文件的写入缓冲
	BufferSize int
	// Trades 是否写入成交
	Trades bool
	// Snapshots 是否写入盘口快照
	Snapshots bool
	// Capture 是否录制原始帧
	Capture bool
	// Metrics 是否写入指标
	Metrics bool
	// Logger 日志记录器，可为 nil
	Logger *zap.Logger
}

// TradeRow 成交输出行
type TradeRow struct {
	// Symbol 标的代码
	Symbol string `json:"symbol"`
	model.TradeRecord
}

// Sink 按类型分文件的输出集合
// 未启用的类型对应方法为空操作
type Sink struct {
	// trades 成交
	trades *Recorder
	// snapshots 盘口快照
	snapshots *Recorder
	// capture 原始帧
	capture *Recorder
	// metrics 指标
	metrics *Recorder
	// writers 全部底层写入器
	writers []*Writer
}

// Open 按配置打开输出文件
func Open(opts Options) (*Sink, error) {
	s := &Sink{}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("jsonl")

	open := func(enabled bool, name, kind string) (*Recorder, error) {
		if !enabled {
			return nil, nil
		}
		w, err := NewWriter(filepath.Join(opts.Dir, name), opts.BufferSize, logger)
		if err != nil {
			return nil, fmt.Errorf("打开 %s 失败: %w", name, err)
		}
		s.writers = append(s.writers, w)
		return NewRecorder(w, opts.Session, kind), nil
	}

	var err error
	if s.trades, err = open(opts.Trades, TradesFile, KindTrade); err != nil {
		s.Close()
		return nil, err
	}
	if s.snapshots, err = open(opts.Snapshots, SnapshotsFile, KindSnapshot); err != nil {
		s.Close()
		return nil, err
	}
	if s.capture, err = open(opts.Capture, CaptureFile, KindCapture); err != nil {
		s.Close()
		return nil, err
	}
	if s.metrics, err = open(opts.Metrics, MetricsFile, KindMetrics); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// WriteTrade 写入一笔已分类成交
func (s *Sink) WriteTrade(symbol string, rec model.TradeRecord) error {
	if s.trades == nil {
		return nil
	}
	return s.trades.Write(TradeRow{Symbol: symbol, TradeRecord: rec})
}

// PublishSnapshot 写入盘口快照
func (s *Sink) PublishSnapshot(_ context.Context, snap model.BookSnapshot) error {
	if s.snapshots == nil {
		return nil
	}
	return s.snapshots.Write(snap)
}

// WriteMetrics 写入指标
func (s *Sink) WriteMetrics(v any) error {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Write(v)
}

// Capture 原始帧录制器，未启用时返回 nil
func (s *Sink) Capture() *Recorder {
	return s.capture
}

// Stats 各输出文件的写入统计，按打开顺序
func (s *Sink) Stats() []FileStats {
	out := make([]FileStats, 0, len(s.writers))
	for _, w := range s.writers {
		out = append(out, w.Stats())
	}
	return out
}

// Flush 刷新全部文件
func (s *Sink) Flush() error {
	var errs []error
	for _, w := range s.writers {
		if err := w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", w.Path(), err))
		}
	}
	return errors.Join(errs...)
}

// Close 关闭全部文件
func (s *Sink) Close() error {
	var errs []error
	for _, w := range s.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭 %s: %w", w.Path(), err))
		}
	}
	return errors.Join(errs...)
}
