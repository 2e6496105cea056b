// Package schwab 实现 Schwab streamer 行情解析。
// 同时支持原始数字字段（"1"、"2"…）与 schwabdev 翻译后的字段名（BID_PRICE…）。
package schwab

import (
	"encoding/json"
	"fmt"

	"schwab-bookmap/internal/core/model"
	"schwab-bookmap/internal/util/fastparse"
	"schwab-bookmap/internal/util/timeutil"
)

// 字段别名，按顺序查找第一个存在的 key
var (
	fieldBidPrice  = []string{"1", "BID_PRICE"}
	fieldAskPrice  = []string{"2", "ASK_PRICE"}
	fieldBidSize   = []string{"4", "BID_SIZE"}
	fieldAskSize   = []string{"5", "ASK_SIZE"}
	fieldTradeTime = []string{"1", "TRADE_TIME"}
	fieldLastPrice = []string{"2", "LAST_PRICE"}
	fieldLastSize  = []string{"3", "LAST_SIZE"}
	fieldBookTime  = []string{"1", "BOOK_TIME"}
	fieldBids      = []string{"2", "bids", "BIDS"}
	fieldAsks      = []string{"3", "asks", "ASKS"}
	fieldLvlPrice  = []string{"0", "price", "BID_PRICE", "ASK_PRICE"}
	fieldLvlSize   = []string{"1", "totalVolume", "volume", "TOTAL_VOLUME", "BIDS_TOTAL_VOLUME", "ASKS_TOTAL_VOLUME"}
)

// Parser Schwab 消息解析器（无状态，可并发使用）
type Parser struct {
	// defaultSymbol content 缺少 key 时使用的标的
	defaultSymbol string
}

// NewParser 创建解析器
// 参数 defaultSymbol: 订阅的标的，content 缺少 key 时兜底
func NewParser(defaultSymbol string) *Parser {
	return &Parser{defaultSymbol: defaultSymbol}
}

// DecodeFrame 解码一帧
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("解析 streamer 帧失败: %w", err)
	}
	return &f, nil
}

// Parse 解析一帧中的行情数据
// 非 data 帧（response/notify）返回空列表
func (p *Parser) Parse(data []byte, arrivedAt int64) ([]*model.FeedEvent, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	return p.Events(f.Data, arrivedAt), nil
}

// Events 将 data 项转换为归一化事件
// 未识别的服务忽略；单个字段或档位的问题记录在事件的 Issues 中
func (p *Parser) Events(items []DataItem, arrivedAt int64) []*model.FeedEvent {
	var events []*model.FeedEvent
	for i := range items {
		item := &items[i]
		for _, content := range item.Content {
			var ev *model.FeedEvent
			switch item.Service {
			case ServiceLevelOne:
				ev = p.parseQuote(item, content)
			case ServiceTimeSale:
				ev = p.parseTrade(item, content)
			case ServiceNasdaq, ServiceNYSE:
				ev = p.parseBook(item, content)
			default:
				continue
			}
			ev.ArrivedAtUnixNs = arrivedAt
			events = append(events, ev)
		}
	}
	return events
}

// newEvent 初始化事件公共字段
func (p *Parser) newEvent(kind model.EventKind, item *DataItem, content map[string]json.RawMessage) *model.FeedEvent {
	ev := &model.FeedEvent{
		Kind:         kind,
		Service:      item.Service,
		Symbol:       p.defaultSymbol,
		ExchTsUnixMs: item.Timestamp,
	}
	if raw, ok := content["key"]; ok {
		var key string
		if err := json.Unmarshal(raw, &key); err == nil && key != "" {
			ev.Symbol = key
		} else {
			ev.Issues = append(ev.Issues, fmt.Sprintf("key: 无效标的 %s", raw))
		}
	}
	return ev
}

// parseQuote 解析 Level One 报价
// 只写入成功解析的字段；缺失字段为正常增量推送，不记为问题
func (p *Parser) parseQuote(item *DataItem, content map[string]json.RawMessage) *model.FeedEvent {
	ev := p.newEvent(model.EventQuote, item, content)
	upd := &model.QuoteUpdate{
		Symbol:     ev.Symbol,
		ObservedAt: timeutil.MsOrNow(item.Timestamp),
	}

	if raw, name, ok := lookup(content, fieldBidPrice); ok {
		if px, err := parsePrice(raw); err != nil {
			ev.Issues = append(ev.Issues, fmt.Sprintf("%s: %v", name, err))
		} else {
			upd.BidPrice = model.NullPrice(px)
		}
	}
	if raw, name, ok := lookup(content, fieldAskPrice); ok {
		if px, err := parsePrice(raw); err != nil {
			ev.Issues = append(ev.Issues, fmt.Sprintf("%s: %v", name, err))
		} else {
			upd.AskPrice = model.NullPrice(px)
		}
	}
	if raw, name, ok := lookup(content, fieldBidSize); ok {
		if sz, err := fastparse.ParseSize(raw); err != nil {
			ev.Issues = append(ev.Issues, fmt.Sprintf("%s: %v", name, err))
		} else {
			upd.BidSize = model.NewSize(sz)
		}
	}
	if raw, name, ok := lookup(content, fieldAskSize); ok {
		if sz, err := fastparse.ParseSize(raw); err != nil {
			ev.Issues = append(ev.Issues, fmt.Sprintf("%s: %v", name, err))
		} else {
			upd.AskSize = model.NewSize(sz)
		}
	}

	ev.Quote = upd
	return ev
}

// parseTrade 解析 Time & Sales 成交
// 价格或数量无效时整条丢弃（Trade 为空），时间无效时按本机时间
func (p *Parser) parseTrade(item *DataItem, content map[string]json.RawMessage) *model.FeedEvent {
	ev := p.newEvent(model.EventTrade, item, content)

	raw, name, ok := lookup(content, fieldLastPrice)
	if !ok {
		ev.Issues = append(ev.Issues, "LAST_PRICE: 字段缺失")
		return ev
	}
	px, err := parsePrice(raw)
	if err != nil {
		ev.Issues = append(ev.Issues, fmt.Sprintf("%s: %v", name, err))
		return ev
	}

	raw, name, ok = lookup(content, fieldLastSize)
	if !ok {
		ev.Issues = append(ev.Issues, "LAST_SIZE: 字段缺失")
		return ev
	}
	sz, err := fastparse.ParseSize(raw)
	if err != nil {
		ev.Issues = append(ev.Issues, fmt.Sprintf("%s: %v", name, err))
		return ev
	}

	var tradeMs int64
	if raw, name, ok := lookup(content, fieldTradeTime); ok {
		if tradeMs, err = fastparse.ParseUnixMs(raw); err != nil {
			ev.Issues = append(ev.Issues, fmt.Sprintf("%s: %v", name, err))
			tradeMs = 0
		}
	}
	if tradeMs > 0 {
		ev.ExchTsUnixMs = tradeMs
	}

	ev.Trade = &model.TradePrint{
		Symbol:    ev.Symbol,
		Price:     px,
		Size:      sz,
		TradeTime: timeutil.MsOrNow(tradeMs),
	}
	return ev
}

// parseBook 解析深度快照
// 缺少价格或数量的档位跳过；某一边数组本身无法解析时整条丢弃（Depth 为空）
func (p *Parser) parseBook(item *DataItem, content map[string]json.RawMessage) *model.FeedEvent {
	ev := p.newEvent(model.EventDepth, item, content)

	bookMs := item.Timestamp
	if raw, name, ok := lookup(content, fieldBookTime); ok {
		if ms, err := fastparse.ParseUnixMs(raw); err != nil {
			ev.Issues = append(ev.Issues, fmt.Sprintf("%s: %v", name, err))
		} else {
			bookMs = ms
		}
	}
	ev.ExchTsUnixMs = bookMs

	bids, ok := p.parseSide(ev, content, fieldBids, "bids")
	if !ok {
		return ev
	}
	asks, ok := p.parseSide(ev, content, fieldAsks, "asks")
	if !ok {
		return ev
	}

	ev.Depth = &model.DepthSnapshot{
		Symbol:     ev.Symbol,
		Bids:       bids,
		Asks:       asks,
		ObservedAt: timeutil.MsOrNow(bookMs),
	}
	return ev
}

// parseSide 解析一侧档位
// 返回 ok=false 表示数组本身无效
func (p *Parser) parseSide(ev *model.FeedEvent, content map[string]json.RawMessage, names []string, side string) ([]model.Level, bool) {
	raw, _, present := lookup(content, names)
	if !present {
		return nil, true
	}

	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		ev.Issues = append(ev.Issues, fmt.Sprintf("%s: 无效档位数组: %v", side, err))
		return nil, false
	}

	levels := make([]model.Level, 0, len(entries))
	for i, entry := range entries {
		pxRaw, _, ok := lookup(entry, fieldLvlPrice)
		if !ok {
			ev.Issues = append(ev.Issues, fmt.Sprintf("%s[%d]: 缺少价格", side, i))
			continue
		}
		szRaw, _, ok := lookup(entry, fieldLvlSize)
		if !ok {
			ev.Issues = append(ev.Issues, fmt.Sprintf("%s[%d]: 缺少数量", side, i))
			continue
		}
		px, err := parsePrice(pxRaw)
		if err != nil {
			ev.Issues = append(ev.Issues, fmt.Sprintf("%s[%d].price: %v", side, i, err))
			continue
		}
		sz, err := fastparse.ParseSize(szRaw)
		if err != nil {
			ev.Issues = append(ev.Issues, fmt.Sprintf("%s[%d].size: %v", side, i, err))
			continue
		}
		levels = append(levels, model.Level{Price: px, Size: sz})
	}
	return levels, true
}

// lookup 按别名顺序查找字段，null 视为缺失
func lookup(content map[string]json.RawMessage, names []string) (json.RawMessage, string, bool) {
	for _, n := range names {
		if raw, ok := content[n]; ok && string(raw) != "null" {
			return raw, n, true
		}
	}
	return nil, "", false
}
