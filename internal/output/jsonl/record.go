package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"schwab-bookmap/internal/util/timeutil"
)

// 记录类型
const (
	KindTrade    = "trade"
	KindSnapshot = "snapshot"
	KindCapture  = "capture"
	KindMetrics  = "metrics"
)

// maxLineSize 单行最大长度（深度快照帧可能较大）
const maxLineSize = 4 << 20

// Record 输出文件中的一行
type Record struct {
	// Session 本次运行的会话 ID
	Session string `json:"session"`
	// Kind 记录类型
	Kind string `json:"kind"`
	// TsUnixNs 写入时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	// Data 记录内容
	Data any `json:"data"`
}

// RawRecord 读取时的记录，Data 延迟解码
type RawRecord struct {
	// Session 会话 ID
	Session string `json:"session"`
	// Kind 记录类型
	Kind string `json:"kind"`
	// TsUnixNs 写入时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	// Data 记录内容
	Data json.RawMessage `json:"data"`
}

// Recorder 为写入的内容套上 Record 信封
type Recorder struct {
	// w 底层写入器
	w *Writer
	// session 会话 ID
	session string
	// kind 记录类型
	kind string
}

// NewRecorder 创建信封写入器
func NewRecorder(w *Writer, session, kind string) *Recorder {
	return &Recorder{w: w, session: session, kind: kind}
}

// Write 写入一条记录
func (r *Recorder) Write(v any) error {
	return r.w.Write(Record{
		Session:  r.session,
		Kind:     r.kind,
		TsUnixNs: timeutil.NowNano(),
		Data:     v,
	})
}

// Reader 逐行读取 JSONL 记录
type Reader struct {
	// sc 行扫描器
	sc *bufio.Scanner
	// line 当前行号
	line int
}

// NewReader 创建读取器
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Reader{sc: sc}
}

// Next 读取下一条记录，空行跳过，读完返回 io.EOF
// 没有 data 字段的行视为裸记录，整行作为 Data 返回
func (r *Reader) Next() (*RawRecord, error) {
	for r.sc.Scan() {
		r.line++
		b := r.sc.Bytes()
		if len(b) == 0 {
			continue
		}

		var rec RawRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("第 %d 行解析失败: %w", r.line, err)
		}
		if len(rec.Data) == 0 {
			rec.Data = append(json.RawMessage(nil), b...)
		}
		return &rec, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("读取第 %d 行失败: %w", r.line+1, err)
	}
	return nil, io.EOF
}

// Line 当前行号
func (r *Reader) Line() int {
	return r.line
}
