// Package config 负责加载和验证 YAML 配置文件。
// 敏感信息（令牌路径、访问令牌、Redis 密码）来自环境变量，可由 .env 文件提供。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 订阅的深度服务
const (
	// BookNasdaq NASDAQ 上市标的的深度服务（如 QQQ）
	BookNasdaq = "NASDAQ_BOOK"
	// BookNYSE NYSE/ARCA 上市标的的深度服务（如 SPY）
	BookNYSE = "NYSE_BOOK"
)

// 行情来源模式
const (
	// FeedLive 连接 Schwab streamer
	FeedLive = "live"
	// FeedReplay 回放 capture.jsonl
	FeedReplay = "replay"
)

// 环境变量名
const (
	EnvTokenPath     = "TOKEN_PATH"
	EnvAccessToken   = "SCHWAB_ACCESS_TOKEN"
	EnvRedisPassword = "REDIS_PASSWORD"
)

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Symbol 订阅的标的代码，如 SPY
	Symbol string `yaml:"symbol"`
	// BookService 深度服务: NASDAQ_BOOK 或 NYSE_BOOK
	BookService string `yaml:"book_service"`
	// Display 终端展示配置
	Display DisplayConfig `yaml:"display"`
	// Schwab Schwab API 与 streamer 配置
	Schwab SchwabConfig `yaml:"schwab"`
	// Feed 行情来源配置
	Feed FeedConfig `yaml:"feed"`
	// Output 文件输出配置
	Output OutputConfig `yaml:"output"`
	// Redis 快照缓存配置
	Redis RedisConfig `yaml:"redis"`
	// HTTP 状态接口配置
	HTTP HTTPConfig `yaml:"http"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// DisplayConfig 终端盘口展示配置
type DisplayConfig struct {
	// IntervalSec 刷新间隔（秒）
	IntervalSec int `yaml:"interval_sec"`
	// MaxLevels 每边展示档位数
	MaxLevels int `yaml:"max_levels"`
	// MaxTrades 展示成交条数
	MaxTrades int `yaml:"max_trades"`
	// TradeLogSize 每个标的保留的成交条数
	TradeLogSize int `yaml:"trade_log_size"`
	// NoColor 关闭 ANSI 颜色
	NoColor bool `yaml:"no_color"`
	// ClearScreen 每次刷新前清屏
	ClearScreen bool `yaml:"clear_screen"`
}

// SchwabConfig Schwab API 与 streamer 配置
type SchwabConfig struct {
	// APIBase Trader API 地址
	APIBase string `yaml:"api_base"`
	// TokenPath 令牌文件路径（schwabdev 格式），可被 TOKEN_PATH 覆盖
	TokenPath string `yaml:"token_path"`
	// AccessToken 直接指定的访问令牌，仅来自 SCHWAB_ACCESS_TOKEN
	AccessToken string `yaml:"-"`
	// StreamerURL 覆盖 userPreference 返回的 streamer 地址（可选）
	StreamerURL string `yaml:"streamer_url"`
	// TimeoutMs HTTP 请求超时（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
	// ReadTimeoutMs 读超时（毫秒），超时未收到任何消息（含心跳）则重连
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
	// ReconnectBaseMs 重连退避基础间隔（毫秒）
	ReconnectBaseMs int `yaml:"reconnect_base_ms"`
	// ReconnectMaxMs 重连退避最大间隔（毫秒）
	ReconnectMaxMs int `yaml:"reconnect_max_ms"`
	// EventBuffer 行情事件通道容量
	EventBuffer int `yaml:"event_buffer"`
}

// FeedConfig 行情来源配置
type FeedConfig struct {
	// Mode live 或 replay
	Mode string `yaml:"mode"`
	// ReplayPath 回放文件路径
	ReplayPath string `yaml:"replay_path"`
	// ReplaySpeed 回放倍速，0 表示不等待
	ReplaySpeed float64 `yaml:"replay_speed"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// TradesEnabled 是否输出逐笔成交
	TradesEnabled bool `yaml:"trades_enabled"`
	// SnapshotsEnabled 是否在每次刷新时输出盘口快照
	SnapshotsEnabled bool `yaml:"snapshots_enabled"`
	// CaptureEnabled 是否录制原始 streamer 帧（供 replay 使用）
	CaptureEnabled bool `yaml:"capture_enabled"`
	// MetricsEnabled 是否输出指标文件
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// MetricsIntervalMs 指标输出间隔（毫秒）
	MetricsIntervalMs int `yaml:"metrics_interval_ms"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// RedisConfig 快照缓存配置
type RedisConfig struct {
	// Enabled 是否发布快照到 Redis
	Enabled bool `yaml:"enabled"`
	// Addr 地址，如 localhost:6379
	Addr string `yaml:"addr"`
	// Password 密码，可被 REDIS_PASSWORD 覆盖
	Password string `yaml:"password"`
	// DB 库编号
	DB int `yaml:"db"`
	// TTLSec 快照过期时间（秒）
	TTLSec int `yaml:"ttl_sec"`
	// KeyPrefix key 前缀
	KeyPrefix string `yaml:"key_prefix"`
}

// HTTPConfig 状态接口配置
type HTTPConfig struct {
	// Enabled 是否启用
	Enabled bool `yaml:"enabled"`
	// Addr 监听地址，如 :8080
	Addr string `yaml:"addr"`
}

// LoadEnv 加载 .env 文件到进程环境变量
// 文件不存在不视为错误；已存在的环境变量不会被覆盖
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("加载 %s 失败: %w", f, err)
		}
	}
	return nil
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.applyEnv(os.Getenv)
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// applyEnv 用环境变量覆盖敏感配置
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvTokenPath); v != "" {
		c.Schwab.TokenPath = v
	}
	if v := getenv(EnvAccessToken); v != "" {
		c.Schwab.AccessToken = v
	}
	if v := getenv(EnvRedisPassword); v != "" {
		c.Redis.Password = v
	}
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "schwab-bookmap"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	if c.BookService == "" {
		c.BookService = BookNasdaq
	}
	c.BookService = strings.ToUpper(c.BookService)

	if c.Display.IntervalSec == 0 {
		c.Display.IntervalSec = 5
	}
	if c.Display.MaxLevels == 0 {
		c.Display.MaxLevels = 10
	}
	if c.Display.MaxTrades == 0 {
		c.Display.MaxTrades = 10
	}
	if c.Display.TradeLogSize == 0 {
		c.Display.TradeLogSize = 100
	}

	if c.Schwab.APIBase == "" {
		c.Schwab.APIBase = "https://api.schwabapi.com"
	}
	if c.Schwab.TokenPath == "" {
		c.Schwab.TokenPath = "tokens.json"
	}
	if c.Schwab.TimeoutMs == 0 {
		c.Schwab.TimeoutMs = 10000 // 10 秒
	}
	if c.Schwab.ReadTimeoutMs == 0 {
		c.Schwab.ReadTimeoutMs = 60000 // 60 秒，streamer 心跳约 10 秒一次
	}
	if c.Schwab.ReconnectBaseMs == 0 {
		c.Schwab.ReconnectBaseMs = 1000
	}
	if c.Schwab.ReconnectMaxMs == 0 {
		c.Schwab.ReconnectMaxMs = 30000
	}
	if c.Schwab.EventBuffer == 0 {
		c.Schwab.EventBuffer = 1000
	}

	if c.Feed.Mode == "" {
		c.Feed.Mode = FeedLive
	}
	c.Feed.Mode = strings.ToLower(c.Feed.Mode)

	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.MetricsIntervalMs == 0 {
		c.Output.MetricsIntervalMs = 10000 // 10 秒
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}

	if c.Redis.TTLSec == 0 {
		c.Redis.TTLSec = 60
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "bookmap"
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
}

// Validate 验证配置合法性
// 返回: 若配置无效则返回汇总所有问题的错误
func (c *Config) Validate() error {
	var errs []string

	if c.Symbol == "" {
		errs = append(errs, "symbol: 标的代码不能为空")
	}
	if c.BookService != BookNasdaq && c.BookService != BookNYSE {
		errs = append(errs, fmt.Sprintf("book_service: 无效的深度服务 '%s'，有效值: %s, %s", c.BookService, BookNasdaq, BookNYSE))
	}

	if c.Display.IntervalSec <= 0 {
		errs = append(errs, "display.interval_sec: 刷新间隔必须为正数")
	}
	if c.Display.MaxLevels <= 0 {
		errs = append(errs, "display.max_levels: 展示档位数必须为正数")
	}
	if c.Display.MaxTrades <= 0 {
		errs = append(errs, "display.max_trades: 展示成交条数必须为正数")
	}
	if c.Display.TradeLogSize <= 0 {
		errs = append(errs, "display.trade_log_size: 成交保留条数必须为正数")
	}
	if c.Display.TradeLogSize > 0 && c.Display.MaxTrades > c.Display.TradeLogSize {
		errs = append(errs, "display.max_trades: 展示条数不能超过 trade_log_size")
	}

	switch c.Feed.Mode {
	case FeedLive:
		if c.Schwab.APIBase == "" {
			errs = append(errs, "schwab.api_base: API 地址不能为空")
		}
		if c.Schwab.TokenPath == "" && c.Schwab.AccessToken == "" {
			errs = append(errs, "schwab.token_path: 需要令牌文件或 SCHWAB_ACCESS_TOKEN")
		}
		if c.Schwab.ReadTimeoutMs <= 0 {
			errs = append(errs, "schwab.read_timeout_ms: 读超时必须为正数")
		}
	case FeedReplay:
		if c.Feed.ReplayPath == "" {
			errs = append(errs, "feed.replay_path: 回放模式需要回放文件")
		}
	default:
		errs = append(errs, fmt.Sprintf("feed.mode: 无效的模式 '%s'，有效值: %s, %s", c.Feed.Mode, FeedLive, FeedReplay))
	}
	if c.Feed.ReplaySpeed < 0 {
		errs = append(errs, "feed.replay_speed: 回放倍速不能为负数")
	}

	if c.Output.BufferSize < 0 {
		errs = append(errs, "output.buffer_size: 缓冲区大小不能为负数")
	}
	if c.Output.MetricsIntervalMs < 0 {
		errs = append(errs, "output.metrics_interval_ms: 指标间隔不能为负数")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr: 启用 Redis 时地址不能为空")
	}
	if c.Redis.TTLSec < 0 {
		errs = append(errs, "redis.ttl_sec: 过期时间不能为负数")
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		errs = append(errs, "http.addr: 启用状态接口时监听地址不能为空")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// RenderInterval 返回刷新间隔
func (d *DisplayConfig) RenderInterval() time.Duration {
	return time.Duration(d.IntervalSec) * time.Second
}
