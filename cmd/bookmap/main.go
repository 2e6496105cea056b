// Package main 是 schwab-bookmap 的入口点。
// 订阅单个标的的 Level One、深度与逐笔成交，维护内存盘口并周期性输出文本 bookmap 视图。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"schwab-bookmap/internal/api"
	"schwab-bookmap/internal/config"
	"schwab-bookmap/internal/core/ingest"
	"schwab-bookmap/internal/core/model"
	"schwab-bookmap/internal/core/store"
	"schwab-bookmap/internal/exchange/replay"
	"schwab-bookmap/internal/exchange/schwab"
	"schwab-bookmap/internal/output/jsonl"
	"schwab-bookmap/internal/output/rediscache"
	"schwab-bookmap/internal/render"
	"schwab-bookmap/internal/stats/flow"
	"schwab-bookmap/internal/stats/latency"
	"schwab-bookmap/internal/util/timeutil"
)

// shutdownTimeout 优雅关闭超时
const shutdownTimeout = 10 * time.Second

// feedSource 行情来源：实时 streamer 或回放文件
type feedSource interface {
	Events() <-chan *model.FeedEvent
}

type metricsSnapshot struct {
	// TsUnixNs 指标采集时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	// Session 会话 ID
	Session string `json:"session"`
	// Mode 行情模式
	Mode string `json:"mode"`
	// Connection streamer 连接指标（实时模式）
	Connection *schwab.ConnectionMetrics `json:"connection,omitempty"`
	// Replay 回放统计（回放模式）
	Replay *replay.Stats `json:"replay,omitempty"`
	// Ingest 入库统计
	Ingest ingest.Stats `json:"ingest"`
	// Flow 最近成交的主动买卖统计
	Flow flow.FlowStats `json:"flow"`
	// FeedLag 各服务推送延迟
	FeedLag []latency.LagStats `json:"feed_lag"`
	// UpdatesPerSec 各服务的更新速率（基于聚合器统计）
	UpdatesPerSec []updateRate `json:"updates_per_sec,omitempty"`
	// Output 各输出文件的写入统计
	Output []jsonl.FileStats `json:"output,omitempty"`
}

type updateRate struct {
	// Service 服务名
	Service string `json:"service"`
	// UpdatesPerSec 每秒更新次数
	UpdatesPerSec float64 `json:"updates_per_sec"`
}

// app 运行期组件
type app struct {
	cfg     *config.Config
	session string
	logger  *zap.Logger

	client  *schwab.Client
	replay  *replay.Source
	ingest  *ingest.Ingestor
	tracker *latency.Tracker
	flow    *flow.Calculator
	sink    *jsonl.Sink

	ratesMu sync.Mutex
	rates   []updateRate
}

func main() {
	var configPath, envPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.StringVar(&envPath, "env", ".env", "环境变量文件路径（不存在则忽略）")
	flag.Parse()

	if err := config.LoadEnv(envPath); err != nil {
		fmt.Fprintf(os.Stderr, "加载环境变量失败: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel)
	defer logger.Sync()

	session := uuid.NewString()
	logger = logger.With(zap.String("session", session))
	logger.Info("启动",
		zap.String("symbol", cfg.Symbol),
		zap.String("book", cfg.BookService),
		zap.String("mode", cfg.Feed.Mode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	sink, err := jsonl.Open(jsonl.Options{
		Dir:        cfg.Output.Dir,
		Session:    session,
		BufferSize: cfg.Output.BufferSize,
		Trades:     cfg.Output.TradesEnabled,
		Snapshots:  cfg.Output.SnapshotsEnabled,
		Capture:    cfg.Output.CaptureEnabled && cfg.Feed.Mode == config.FeedLive,
		Metrics:    cfg.Output.MetricsEnabled,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("创建输出文件失败", zap.Error(err))
		os.Exit(1)
	}

	var publisher *rediscache.Publisher
	if cfg.Redis.Enabled {
		publisher = rediscache.NewPublisher(&cfg.Redis, logger)
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := publisher.Ping(pingCtx); err != nil {
			// Redis 只是旁路输出，不可用时继续运行
			logger.Warn("Redis 暂不可用", zap.Error(err))
		}
		pingCancel()
	}

	bookStore := store.New(cfg.Display.TradeLogSize)
	flowCalc := flow.NewCalculator(cfg.Display.TradeLogSize)
	a := &app{
		cfg:     cfg,
		session: session,
		logger:  logger,
		ingest:  ingest.New(bookStore, ingest.Tee{sink, flowCalc}, logger),
		tracker: latency.NewTracker(latency.DefaultWindowSize),
		flow:    flowCalc,
		sink:    sink,
	}

	var src feedSource
	feedDone := make(chan struct{})
	switch cfg.Feed.Mode {
	case config.FeedReplay:
		a.replay = replay.NewSource(cfg.Feed.ReplayPath, cfg.Feed.ReplaySpeed, cfg.Symbol, cfg.Schwab.EventBuffer, logger)
		src = a.replay
		go func() {
			defer close(feedDone)
			if err := a.replay.Run(ctx); err != nil {
				logger.Error("回放失败", zap.Error(err))
			}
		}()
	default:
		a.client, err = startLive(ctx, cfg, sink, logger)
		if err != nil {
			logger.Error("启动实时行情失败", zap.Error(err))
			sink.Close()
			os.Exit(1)
		}
		src = a.client
		go func() {
			defer close(feedDone)
			a.client.Run(ctx)
		}()
	}

	sinks := []render.SnapshotSink{sink}
	if publisher != nil {
		sinks = append(sinks, publisher)
	}
	renderer := render.New(render.Options{
		Symbol:      cfg.Symbol,
		Interval:    cfg.Display.RenderInterval(),
		MaxLevels:   cfg.Display.MaxLevels,
		MaxTrades:   cfg.Display.MaxTrades,
		NoColor:     cfg.Display.NoColor,
		ClearScreen: cfg.Display.ClearScreen,
	}, bookStore, os.Stdout, logger, sinks...)

	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		renderer.Run(ctx)
	}()

	var server *api.Server
	if cfg.HTTP.Enabled {
		server = api.NewServer(cfg.HTTP.Addr, bookStore, session, func() any { return a.metrics() }, logger)
		server.Start()
	}

	a.runAggregator(ctx, src, sink)

	// 回放读完时聚合器先于信号返回，这里统一取消，让渲染器在两次渲染之间退出
	cancel()
	<-renderDone
	// 最后一帧视图（回放结束时便于查看最终盘口）
	renderer.Tick(context.Background())

	if err := sink.WriteMetrics(a.metrics()); err != nil {
		logger.Warn("写入最终指标失败", zap.Error(err))
	}

	// 优雅关闭（10s 超时）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if a.client != nil {
			_ = a.client.Close()
		}
		<-feedDone
		if server != nil {
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("关闭 HTTP 服务失败", zap.Error(err))
			}
		}
		if err := sink.Close(); err != nil {
			logger.Warn("关闭输出文件失败", zap.Error(err))
		}
		if publisher != nil {
			if err := publisher.Invalidate(shutdownCtx, cfg.Symbol); err != nil {
				logger.Warn("清理 Redis 快照失败", zap.Error(err))
			}
			_ = publisher.Close()
		}
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("关闭超时，强制退出")
	case <-done:
		logger.Info("关闭完成")
	}
}

// startLive 读取 token、连接并订阅
func startLive(ctx context.Context, cfg *config.Config, sink *jsonl.Sink, logger *zap.Logger) (*schwab.Client, error) {
	tokens := schwab.FileToken(cfg.Schwab.TokenPath)
	if cfg.Schwab.AccessToken != "" {
		tokens = schwab.StaticToken(cfg.Schwab.AccessToken)
	}

	fetcher := schwab.NewHTTPFetcher(cfg.Schwab.APIBase, cfg.Schwab.TimeoutMs)
	client := schwab.NewClient(&cfg.Schwab, schwab.Subscription{
		Symbol:      cfg.Symbol,
		BookService: cfg.BookService,
	}, tokens, fetcher, logger)
	if rec := sink.Capture(); rec != nil {
		client.SetRecorder(rec)
	}

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	defer startCancel()

	if err := client.Connect(startCtx); err != nil {
		return nil, fmt.Errorf("连接失败: %w", err)
	}
	if err := client.Subscribe(); err != nil {
		client.Close()
		return nil, fmt.Errorf("订阅失败: %w", err)
	}
	return client, nil
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// 视图输出到 stdout，日志走 stderr 避免混在一起
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// runAggregator 聚合循环：唯一写入 store 的 goroutine
// 行情通道关闭（回放结束或客户端退出）或 ctx 取消时返回
func (a *app) runAggregator(ctx context.Context, src feedSource, sink *jsonl.Sink) {
	events := src.Events()

	intervalMs := a.cfg.Output.MetricsIntervalMs
	if intervalMs <= 0 {
		intervalMs = 10000
	}
	metricsTicker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer metricsTicker.Stop()

	counts := make(map[string]int64)
	lastCounts := make(map[string]int64)
	lastMetricsAt := timeutil.NowNano()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				a.logger.Info("行情通道已关闭")
				return
			}
			counts[ev.Service]++
			a.tracker.Observe(ev)
			a.ingest.Apply(ev)

		case <-metricsTicker.C:
			nowNs := timeutil.NowNano()
			elapsedSec := float64(nowNs-lastMetricsAt) / 1e9
			if elapsedSec <= 0 {
				elapsedSec = float64(intervalMs) / 1000
			}

			rates := make([]updateRate, 0, len(counts))
			for svc, v := range counts {
				rates = append(rates, updateRate{Service: svc, UpdatesPerSec: float64(v-lastCounts[svc]) / elapsedSec})
				lastCounts[svc] = v
			}
			lastMetricsAt = nowNs

			a.ratesMu.Lock()
			a.rates = rates
			a.ratesMu.Unlock()

			if err := sink.WriteMetrics(a.metrics()); err != nil {
				a.logger.Warn("写入指标失败", zap.Error(err))
			}
			if err := sink.Flush(); err != nil {
				a.logger.Warn("刷新输出文件失败", zap.Error(err))
			}
		}
	}
}

// metrics 组装指标快照（可在任意 goroutine 调用）
func (a *app) metrics() metricsSnapshot {
	snap := metricsSnapshot{
		TsUnixNs: timeutil.NowNano(),
		Session:  a.session,
		Mode:     a.cfg.Feed.Mode,
		Ingest:   a.ingest.Stats(),
		Flow:     a.flow.Stats(),
		FeedLag:  a.tracker.All(),
		Output:   a.sink.Stats(),
	}
	if a.client != nil {
		m := a.client.Metrics()
		snap.Connection = &m
	}
	if a.replay != nil {
		st := a.replay.Stats()
		snap.Replay = &st
	}

	a.ratesMu.Lock()
	snap.UpdatesPerSec = append([]updateRate(nil), a.rates...)
	a.ratesMu.Unlock()
	return snap
}
