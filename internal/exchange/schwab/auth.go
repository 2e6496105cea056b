package schwab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrNoAccessToken token 文件中没有可用的 access_token
var ErrNoAccessToken = errors.New("token 文件缺少 access_token")

// TokenFile token 文件内容
// 兼容 schwabdev 格式（token_dictionary.access_token）与扁平格式（access_token）
type TokenFile struct {
	// AccessToken 扁平格式的 access_token
	AccessToken string `json:"access_token"`
	// TokenDictionary schwabdev 格式
	TokenDictionary *struct {
		AccessToken string `json:"access_token"`
	} `json:"token_dictionary"`
}

// Token 返回文件中的 access_token，schwabdev 格式优先
func (t *TokenFile) Token() string {
	if t.TokenDictionary != nil && t.TokenDictionary.AccessToken != "" {
		return t.TokenDictionary.AccessToken
	}
	return t.AccessToken
}

// LoadAccessToken 从 token 文件读取 access_token
// 只读不刷新，token 过期需外部工具更新文件
func LoadAccessToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("读取 token 文件失败: %w", err)
	}

	var tf TokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return "", fmt.Errorf("解析 token 文件失败: %w", err)
	}

	token := strings.TrimSpace(tf.Token())
	if token == "" {
		return "", ErrNoAccessToken
	}
	return token, nil
}

// TokenSource 获取当前 access_token
// 每次重连都会调用，以便读到外部刷新后的文件
type TokenSource func() (string, error)

// StaticToken 固定 token（来自环境变量）
func StaticToken(token string) TokenSource {
	return func() (string, error) {
		if token == "" {
			return "", ErrNoAccessToken
		}
		return token, nil
	}
}

// FileToken 每次从文件重新读取 token
func FileToken(path string) TokenSource {
	return func() (string, error) {
		return LoadAccessToken(path)
	}
}

// StreamerInfo streamer 连接参数
type StreamerInfo struct {
	// StreamerSocketURL websocket 地址
	StreamerSocketURL string `json:"streamerSocketUrl"`
	// CustomerID schwabClientCustomerId
	CustomerID string `json:"schwabClientCustomerId"`
	// CorrelID schwabClientCorrelId
	CorrelID string `json:"schwabClientCorrelId"`
	// Channel schwabClientChannel
	Channel string `json:"schwabClientChannel"`
	// FunctionID schwabClientFunctionId
	FunctionID string `json:"schwabClientFunctionId"`
}

// UserPreference userPreference 接口响应（只取 streamerInfo）
type UserPreference struct {
	// StreamerInfo streamer 连接参数，通常只有一项
	StreamerInfo []StreamerInfo `json:"streamerInfo"`
}

// Fetcher streamer 参数获取器接口
type Fetcher interface {
	// FetchStreamerInfo 获取 streamer 连接参数
	FetchStreamerInfo(ctx context.Context, token string) (*StreamerInfo, error)
}

// HTTPFetcher 通过 Trader API 获取 streamer 参数
type HTTPFetcher struct {
	// client HTTP 客户端
	client *http.Client
	// apiBase API 根地址
	apiBase string
}

// NewHTTPFetcher 创建 HTTP 获取器
// 参数 apiBase: API 根地址，如 https://api.schwabapi.com
// 参数 timeoutMs: HTTP 请求超时时间（毫秒）
func NewHTTPFetcher(apiBase string, timeoutMs int) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		},
		apiBase: strings.TrimRight(apiBase, "/"),
	}
}

// FetchStreamerInfo 获取 streamer 连接参数
// 参数 ctx: 上下文，用于取消请求
// 参数 token: access_token
func (f *HTTPFetcher) FetchStreamerInfo(ctx context.Context, token string) (*StreamerInfo, error) {
	body, err := f.doRequest(ctx, f.apiBase+"/trader/v1/userPreference", token)
	if err != nil {
		return nil, fmt.Errorf("请求 userPreference 失败: %w", err)
	}

	var pref UserPreference
	if err := json.Unmarshal(body, &pref); err != nil {
		return nil, fmt.Errorf("解析 userPreference 失败: %w", err)
	}

	if len(pref.StreamerInfo) == 0 {
		return nil, fmt.Errorf("userPreference 缺少 streamerInfo")
	}
	info := pref.StreamerInfo[0]
	if info.StreamerSocketURL == "" {
		return nil, fmt.Errorf("streamerInfo 缺少 streamerSocketUrl")
	}
	return &info, nil
}

// doRequest 执行带 Bearer 认证的 GET 请求
func (f *HTTPFetcher) doRequest(ctx context.Context, url, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", "schwab-bookmap/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP 状态码错误: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	return body, nil
}
