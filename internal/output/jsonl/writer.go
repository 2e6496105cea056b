// Package jsonl 实现异步 JSONL 文件写入与读取。
// 写入使用带缓冲的 channel，聚合循环只投递，编码与文件 I/O 在后台 goroutine 完成。
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrClosed 写入器已关闭
var ErrClosed = errors.New("jsonl 写入器已关闭")

const (
	// defaultBufferSize 默认记录通道容量
	defaultBufferSize = 1000
	// fileBufferSize 文件缓冲大小
	fileBufferSize = 1 << 20
	// autoFlushInterval 后台定时刷盘间隔，录制文件中途崩溃最多丢失这段时间的数据
	autoFlushInterval = time.Second
)

// FileStats 单个输出文件的写入统计
type FileStats struct {
	// File 文件名
	File string `json:"file"`
	// Written 已编码写入的记录数
	Written int64 `json:"written"`
	// Failed 编码或写入失败的记录数
	Failed int64 `json:"failed"`
	// Pending 尚在通道中等待写入的记录数
	Pending int `json:"pending"`
}

// Writer 单文件异步 JSONL 写入器
// flush 请求走独立通道，处理前先排空记录通道，
// 因此 Flush 返回时此前投递的记录都已落盘
type Writer struct {
	// path 输出文件路径
	path string
	// logger 日志记录器
	logger *zap.Logger
	// records 待写入记录
	records chan any
	// flushReq flush 请求，携带回复通道
	flushReq chan chan error
	// stop 关闭信号
	stop chan struct{}
	// done 后台 goroutine 退出信号
	done chan struct{}

	// mu 保护 closed；投递方持读锁，Close 持写锁
	mu       sync.RWMutex
	closed   bool
	closeErr error

	written int64
	failed  int64
}

// NewWriter 创建 JSONL 写入器（追加模式）
// 参数 path: 输出文件路径，目录不存在时创建
// 参数 bufferSize: 记录通道容量，<=0 取默认值
// 参数 logger: 日志记录器，可为 nil
func NewWriter(path string, bufferSize int, logger *zap.Logger) (*Writer, error) {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}

	w := &Writer{
		path:     path,
		logger:   logger.With(zap.String("file", filepath.Base(path))),
		records:  make(chan any, bufferSize),
		flushReq: make(chan chan error),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run(f)
	return w, nil
}

// Path 输出文件路径
func (w *Writer) Path() string {
	return w.path
}

// Write 投递一条记录
// 通道满时阻塞，直到后台 goroutine 消费
func (w *Writer) Write(v any) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	w.records <- v
	return nil
}

// Flush 等待已投递记录写入并刷盘
func (w *Writer) Flush() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	reply := make(chan error, 1)
	w.flushReq <- reply
	return <-reply
}

// Close 写完剩余记录后关闭文件，可重复调用
func (w *Writer) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.stop)
	}
	w.mu.Unlock()

	<-w.done
	return w.closeErr
}

// Stats 返回写入统计
func (w *Writer) Stats() FileStats {
	return FileStats{
		File:    filepath.Base(w.path),
		Written: atomic.LoadInt64(&w.written),
		Failed:  atomic.LoadInt64(&w.failed),
		Pending: len(w.records),
	}
}

// run 后台写入循环，独占文件句柄
func (w *Writer) run(f *os.File) {
	defer close(w.done)

	bw := bufio.NewWriterSize(f, fileBufferSize)
	ticker := time.NewTicker(autoFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case v := <-w.records:
			w.encode(bw, v)

		case reply := <-w.flushReq:
			w.drain(bw)
			reply <- bw.Flush()

		case <-ticker.C:
			if bw.Buffered() > 0 {
				if err := bw.Flush(); err != nil {
					w.logger.Warn("定时刷盘失败", zap.Error(err))
				}
			}

		case <-w.stop:
			// Close 持写锁后不会再有新的投递
			w.drain(bw)
			err := bw.Flush()
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			w.closeErr = err
			return
		}
	}
}

// drain 写入通道中已有的全部记录
func (w *Writer) drain(bw *bufio.Writer) {
	for {
		select {
		case v := <-w.records:
			w.encode(bw, v)
		default:
			return
		}
	}
}

// encode 编码一条记录并写入缓冲
func (w *Writer) encode(bw *bufio.Writer, v any) {
	b, err := json.Marshal(v)
	if err == nil {
		b = append(b, '\n')
		_, err = bw.Write(b)
	}
	if err != nil {
		// 只记录第一次与之后每 1000 次失败
		if n := atomic.AddInt64(&w.failed, 1); n%1000 == 1 {
			w.logger.Warn("写入 JSONL 记录失败", zap.Int64("failed", n), zap.Error(err))
		}
		return
	}
	atomic.AddInt64(&w.written, 1)
}
