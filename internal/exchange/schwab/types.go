// Package schwab 定义 Schwab streamer 消息类型。
package schwab

import "encoding/json"

// 服务名称
const (
	ServiceAdmin    = "ADMIN"
	ServiceLevelOne = "LEVELONE_EQUITIES"
	ServiceTimeSale = "TIMESALE_EQUITY"
	ServiceNasdaq   = "NASDAQ_BOOK"
	ServiceNYSE     = "NYSE_BOOK"
)

// 命令
const (
	CommandLogin  = "LOGIN"
	CommandLogout = "LOGOUT"
	CommandSubs   = "SUBS"
)

// 订阅字段
const (
	// LevelOneFields 0 代码, 1 买价, 2 卖价, 4 买量, 5 卖量
	// 不订阅 3 最新价，成交价来自 TIMESALE_EQUITY
	LevelOneFields = "0,1,2,4,5"
	// TimeSaleFields 0 代码, 1 成交时间, 2 成交价, 3 成交量, 4 序号
	TimeSaleFields = "0,1,2,3,4"
	// BookFields 0 代码, 1 快照时间, 2 买盘, 3 卖盘
	BookFields = "0,1,2,3"
)

// Request streamer 请求
type Request struct {
	// Service 服务名
	Service string `json:"service"`
	// RequestID 请求序号
	RequestID string `json:"requestid"`
	// Command 命令: LOGIN, SUBS, LOGOUT
	Command string `json:"command"`
	// CustomerID schwabClientCustomerId
	CustomerID string `json:"SchwabClientCustomerId"`
	// CorrelID schwabClientCorrelId
	CorrelID string `json:"SchwabClientCorrelId"`
	// Parameters 命令参数
	Parameters map[string]string `json:"parameters,omitempty"`
}

// RequestBatch 批量请求
type RequestBatch struct {
	// Requests 请求列表
	Requests []Request `json:"requests"`
}

// Frame streamer 推送的一帧
// 一帧只会包含 response、notify、data 中的一种或多种
type Frame struct {
	// Response 命令响应
	Response []ResponseItem `json:"response,omitempty"`
	// Notify 心跳或通知
	Notify []NotifyItem `json:"notify,omitempty"`
	// Data 行情数据
	Data []DataItem `json:"data,omitempty"`
}

// ResponseItem 命令响应
type ResponseItem struct {
	// Service 服务名
	Service string `json:"service"`
	// Command 命令
	Command string `json:"command"`
	// RequestID 请求序号
	RequestID string `json:"requestid"`
	// Timestamp 服务端时间（毫秒）
	Timestamp int64 `json:"timestamp"`
	// Content 结果
	Content ResponseContent `json:"content"`
}

// ResponseContent 命令结果，code=0 表示成功
type ResponseContent struct {
	// Code 结果码
	Code int `json:"code"`
	// Msg 结果描述
	Msg string `json:"msg"`
}

// NotifyItem 通知
type NotifyItem struct {
	// Heartbeat 心跳时间（毫秒字符串）
	Heartbeat string `json:"heartbeat,omitempty"`
	// Service 服务名（非心跳通知）
	Service string `json:"service,omitempty"`
	// Content 通知内容
	Content *ResponseContent `json:"content,omitempty"`
}

// DataItem 行情数据
// Content 每一项对应一个标的，key 为代码，其余字段为数字编号或 schwabdev 翻译后的名称
type DataItem struct {
	// Service 服务名
	Service string `json:"service"`
	// Timestamp 服务端时间（毫秒）
	Timestamp int64 `json:"timestamp"`
	// Command 命令
	Command string `json:"command"`
	// Content 行情内容
	Content []map[string]json.RawMessage `json:"content"`
}

// CapturedFrame 录制的原始帧，用于离线回放
type CapturedFrame struct {
	// ArrivedAtUnixNs 本机收到时间（纳秒）
	ArrivedAtUnixNs int64 `json:"arrived_at_ns"`
	// Frame 原始帧
	Frame json.RawMessage `json:"frame"`
}

// ConnectionMetrics 连接质量指标
type ConnectionMetrics struct {
	// ReconnectCount 重连次数
	ReconnectCount int64 `json:"reconnect_count"`
	// ParseErrorCount 解析错误次数
	ParseErrorCount int64 `json:"parse_error_count"`
	// ResponseErrorCount 非 0 响应次数
	ResponseErrorCount int64 `json:"response_error_count"`
	// DroppedEvents 通道满丢弃的事件数
	DroppedEvents int64 `json:"dropped_events"`
	// UpdatesPerSec 每秒事件数
	UpdatesPerSec float64 `json:"updates_per_sec"`
	// LastMessageAgeMs 最后消息距今时间（毫秒）
	LastMessageAgeMs int64 `json:"last_message_age_ms"`
	// LastHeartbeatAgeMs 最后心跳距今时间（毫秒）
	LastHeartbeatAgeMs int64 `json:"last_heartbeat_age_ms"`
}
