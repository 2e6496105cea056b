package schwab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"schwab-bookmap/internal/config"
	"schwab-bookmap/internal/core/model"
	"schwab-bookmap/internal/util/backoff"
	"schwab-bookmap/internal/util/timeutil"
)

// loginTimeout 等待 LOGIN 响应的超时时间
const loginTimeout = 10 * time.Second

// errClosed 客户端已关闭
var errClosed = errors.New("客户端已关闭")

// FrameRecorder 原始帧录制器（jsonl 写入器实现）
type FrameRecorder interface {
	Write(v any) error
}

// Subscription 订阅目标
type Subscription struct {
	// Symbol 标的代码
	Symbol string
	// BookService 深度服务：NASDAQ_BOOK 或 NYSE_BOOK
	BookService string
}

// Client Schwab streamer 客户端
// 读循环是唯一的读者；所有写操作由 connMu 串行化
type Client struct {
	// cfg Schwab 配置
	cfg *config.SchwabConfig
	// sub 订阅目标
	sub Subscription
	// tokens access_token 来源
	tokens TokenSource
	// fetcher streamer 参数获取器
	fetcher Fetcher
	// logger 日志记录器
	logger *zap.Logger
	// parser 消息解析器
	parser *Parser
	// recorder 原始帧录制器，可为空
	recorder FrameRecorder

	// conn WebSocket 连接
	conn *websocket.Conn
	// info 当前连接使用的 streamer 参数
	info *StreamerInfo
	// connMu 连接锁
	connMu sync.Mutex

	// eventCh 行情事件输出通道，Run 退出时关闭
	eventCh chan *model.FeedEvent
	// metrics 连接指标
	metrics ConnectionMetrics
	// metricsMu 指标锁
	metricsMu sync.RWMutex
	// lastMsgTime 最后消息时间（纳秒）
	lastMsgTime int64
	// lastHeartbeatNs 最后心跳时间（纳秒）
	lastHeartbeatNs int64
	// updateCount 事件计数（用于计算每秒更新数）
	updateCount int64
	// requestID 请求序号
	requestID int64
	// backoff 重连退避
	backoff *backoff.Backoff
	// closed 是否已关闭
	closed int32

	// parseErrSampleCount 解析错误计数（用于采样日志）
	parseErrSampleCount uint64
	// lastParseErrLogNs 上次解析错误日志时间（纳秒）
	lastParseErrLogNs int64
}

// NewClient 创建 Schwab streamer 客户端
// 参数 cfg: Schwab 配置
// 参数 sub: 订阅目标
// 参数 tokens: access_token 来源
// 参数 fetcher: streamer 参数获取器
// 参数 logger: 日志记录器
func NewClient(cfg *config.SchwabConfig, sub Subscription, tokens TokenSource, fetcher Fetcher, logger *zap.Logger) *Client {
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = 1000
	}
	return &Client{
		cfg:     cfg,
		sub:     sub,
		tokens:  tokens,
		fetcher: fetcher,
		logger:  logger.Named("schwab"),
		parser:  NewParser(sub.Symbol),
		eventCh: make(chan *model.FeedEvent, buf),
		backoff: backoff.FromMs(cfg.ReconnectBaseMs, cfg.ReconnectMaxMs, 0.2),
	}
}

// SetRecorder 设置原始帧录制器，需在 Run 之前调用
func (c *Client) SetRecorder(r FrameRecorder) {
	c.recorder = r
}

// Connect 建立连接并完成 LOGIN
// 每次连接都重新读取 token 并获取 streamer 参数
// 参数 ctx: 上下文，用于取消连接
func (c *Client) Connect(ctx context.Context) error {
	token, err := c.tokens()
	if err != nil {
		return fmt.Errorf("获取 access_token 失败: %w", err)
	}

	info, err := c.fetcher.FetchStreamerInfo(ctx, token)
	if err != nil {
		return fmt.Errorf("获取 streamer 参数失败: %w", err)
	}
	url := info.StreamerSocketURL
	if c.cfg.StreamerURL != "" {
		url = c.cfg.StreamerURL
	}

	header := http.Header{}
	header.Set("User-Agent", "schwab-bookmap/1.0")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("连接 Schwab streamer 失败: %w", err)
	}

	if err := c.login(conn, info, token); err != nil {
		conn.Close()
		return err
	}

	c.connMu.Lock()
	if c.IsClosed() {
		c.connMu.Unlock()
		conn.Close()
		return errClosed
	}
	c.conn = conn
	c.info = info
	c.connMu.Unlock()

	c.backoff.Reset()
	c.logger.Info("Schwab streamer 登录成功", zap.String("url", url))
	return nil
}

// login 发送 ADMIN/LOGIN 并等待响应
// 连接尚未发布给读循环，这里独占读写
func (c *Client) login(conn *websocket.Conn, info *StreamerInfo, token string) error {
	req := c.newRequest(info, ServiceAdmin, CommandLogin, map[string]string{
		"Authorization":          token,
		"SchwabClientChannel":    info.Channel,
		"SchwabClientFunctionId": info.FunctionID,
	})
	if err := writeBatch(conn, req); err != nil {
		return fmt.Errorf("发送 LOGIN 失败: %w", err)
	}

	deadline := time.Now().Add(loginTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("设置读超时失败: %w", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("等待 LOGIN 响应失败: %w", err)
		}
		f, err := DecodeFrame(data)
		if err != nil {
			continue
		}
		for _, resp := range f.Response {
			if resp.Service != ServiceAdmin || resp.Command != CommandLogin {
				continue
			}
			if resp.Content.Code != 0 {
				return fmt.Errorf("LOGIN 被拒绝: code=%d, msg=%s", resp.Content.Code, resp.Content.Msg)
			}
			return nil
		}
	}
}

// Subscribe 订阅 Level One、Time & Sales 与深度
func (c *Client) Subscribe() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("WebSocket 未连接")
	}

	reqs := []Request{
		c.newRequest(c.info, ServiceLevelOne, CommandSubs, map[string]string{
			"keys": c.sub.Symbol, "fields": LevelOneFields,
		}),
		c.newRequest(c.info, ServiceTimeSale, CommandSubs, map[string]string{
			"keys": c.sub.Symbol, "fields": TimeSaleFields,
		}),
		c.newRequest(c.info, c.sub.BookService, CommandSubs, map[string]string{
			"keys": c.sub.Symbol, "fields": BookFields,
		}),
	}

	if err := writeBatch(c.conn, reqs...); err != nil {
		return fmt.Errorf("发送订阅请求失败: %w", err)
	}

	c.logger.Info("Schwab 订阅请求已发送",
		zap.String("symbol", c.sub.Symbol),
		zap.String("book", c.sub.BookService))
	return nil
}

// Run 启动客户端主循环，阻塞直到 ctx 取消或 Close
// 退出时关闭事件通道
func (c *Client) Run(ctx context.Context) {
	defer close(c.eventCh)

	go c.metricsLoop(ctx)

	// ctx 取消时关闭连接，使阻塞中的 ReadMessage 返回
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-stop:
		}
	}()

	c.readLoop(ctx)
}

// readLoop 读取循环
func (c *Client) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || c.IsClosed() {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		if c.cfg.ReadTimeoutMs > 0 {
			conn.SetReadDeadline(time.Now().Add(time.Duration(c.cfg.ReadTimeoutMs) * time.Millisecond))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.IsClosed() {
				return
			}
			c.logger.Warn("读取 Schwab 消息失败", zap.Error(err))
			c.reconnect(ctx)
			continue
		}

		c.handleMessage(data)
	}
}

// handleMessage 处理一帧消息
func (c *Client) handleMessage(data []byte) {
	nowNs := timeutil.NowNano()
	atomic.StoreInt64(&c.lastMsgTime, nowNs)

	f, err := DecodeFrame(data)
	if err != nil {
		c.incrementParseErrorCount()
		c.maybeLogParseError(err, data)
		return
	}

	for _, n := range f.Notify {
		if n.Heartbeat != "" {
			atomic.StoreInt64(&c.lastHeartbeatNs, nowNs)
			continue
		}
		c.logger.Info("收到 Schwab 通知", zap.String("service", n.Service), zap.Any("content", n.Content))
	}

	for _, resp := range f.Response {
		if resp.Content.Code != 0 {
			c.incrementResponseErrorCount()
			c.logger.Warn("Schwab 命令失败",
				zap.String("service", resp.Service),
				zap.String("command", resp.Command),
				zap.Int("code", resp.Content.Code),
				zap.String("msg", resp.Content.Msg))
			continue
		}
		c.logger.Debug("收到 Schwab 响应",
			zap.String("service", resp.Service),
			zap.String("command", resp.Command))
	}

	if len(f.Data) == 0 {
		return
	}

	if c.recorder != nil {
		if err := c.recorder.Write(CapturedFrame{ArrivedAtUnixNs: nowNs, Frame: data}); err != nil {
			c.logger.Warn("录制原始帧失败", zap.Error(err))
		}
	}

	for _, ev := range c.parser.Events(f.Data, nowNs) {
		atomic.AddInt64(&c.updateCount, 1)
		select {
		case c.eventCh <- ev:
		default:
			c.incrementDroppedCount()
			c.logger.Warn("Schwab eventCh 已满，丢弃事件", zap.String("service", ev.Service))
		}
	}
}

// metricsLoop 指标统计循环
// 每秒计算更新数
func (c *Client) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastCount int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.IsClosed() {
				return
			}

			count := atomic.LoadInt64(&c.updateCount)
			qps := float64(count - lastCount)
			lastCount = count

			c.metricsMu.Lock()
			c.metrics.UpdatesPerSec = qps
			c.metricsMu.Unlock()
		}
	}
}

// reconnect 退避后重连并重新订阅
// 每次尝试都计入 ReconnectCount，失败的尝试同样计数
func (c *Client) reconnect(ctx context.Context) {
	c.closeConn()

	c.logger.Info("Schwab 准备重连", zap.Int("attempt", c.backoff.Attempt()+1))
	if err := c.backoff.Wait(ctx); err != nil {
		return
	}
	if c.IsClosed() {
		return
	}
	c.incrementReconnectCount()

	if err := c.Connect(ctx); err != nil {
		c.logger.Error("Schwab 重连失败", zap.Error(err))
		return
	}

	if err := c.Subscribe(); err != nil {
		c.logger.Error("Schwab 重新订阅失败", zap.Error(err))
	}
}

// closeConn 关闭连接
func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close 关闭客户端
// 尽力发送 LOGOUT 后关闭连接，可重复调用
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	c.connMu.Lock()
	if c.conn != nil {
		req := c.newRequest(c.info, ServiceAdmin, CommandLogout, nil)
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := writeBatch(c.conn, req); err != nil {
			c.logger.Warn("发送 LOGOUT 失败", zap.Error(err))
		}
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.logger.Info("Schwab 客户端已关闭")
	return nil
}

// Events 获取行情事件通道
func (c *Client) Events() <-chan *model.FeedEvent {
	return c.eventCh
}

// Metrics 获取连接指标
func (c *Client) Metrics() ConnectionMetrics {
	c.metricsMu.RLock()
	m := c.metrics
	c.metricsMu.RUnlock()

	nowNs := timeutil.NowNano()
	if last := atomic.LoadInt64(&c.lastMsgTime); last > 0 {
		m.LastMessageAgeMs = (nowNs - last) / 1_000_000
	}
	if last := atomic.LoadInt64(&c.lastHeartbeatNs); last > 0 {
		m.LastHeartbeatAgeMs = (nowNs - last) / 1_000_000
	}
	return m
}

// newRequest 构建请求
func (c *Client) newRequest(info *StreamerInfo, service, command string, params map[string]string) Request {
	req := Request{
		Service:    service,
		RequestID:  strconv.FormatInt(atomic.AddInt64(&c.requestID, 1)-1, 10),
		Command:    command,
		Parameters: params,
	}
	if info != nil {
		req.CustomerID = info.CustomerID
		req.CorrelID = info.CorrelID
	}
	return req
}

// writeBatch 序列化并发送请求
// 调用方负责串行化写入
func writeBatch(conn *websocket.Conn, reqs ...Request) error {
	data, err := json.Marshal(RequestBatch{Requests: reqs})
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// incrementReconnectCount 增加重连计数
func (c *Client) incrementReconnectCount() {
	c.metricsMu.Lock()
	c.metrics.ReconnectCount++
	c.metricsMu.Unlock()
}

// incrementParseErrorCount 增加解析错误计数
func (c *Client) incrementParseErrorCount() {
	c.metricsMu.Lock()
	c.metrics.ParseErrorCount++
	c.metricsMu.Unlock()
}

// incrementResponseErrorCount 增加失败响应计数
func (c *Client) incrementResponseErrorCount() {
	c.metricsMu.Lock()
	c.metrics.ResponseErrorCount++
	c.metricsMu.Unlock()
}

// incrementDroppedCount 增加丢弃事件计数
func (c *Client) incrementDroppedCount() {
	c.metricsMu.Lock()
	c.metrics.DroppedEvents++
	c.metricsMu.Unlock()
}

// maybeLogParseError 采样记录解析错误原始消息，避免刷盘
// 采样策略：每 100 次错误记录 1 条，且至少间隔 1 分钟
func (c *Client) maybeLogParseError(err error, data []byte) {
	count := atomic.AddUint64(&c.parseErrSampleCount, 1)
	if count%100 != 1 {
		return
	}

	nowNs := timeutil.NowNano()
	last := atomic.LoadInt64(&c.lastParseErrLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&c.lastParseErrLogNs, nowNs)

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	c.logger.Warn("解析 Schwab 消息失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}

// IsClosed 客户端是否已关闭
func (c *Client) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}
