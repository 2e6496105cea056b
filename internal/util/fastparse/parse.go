// Package fastparse 解析流行情中的数值字段。
// Schwab 推送的价格/数量既可能是 JSON 数字也可能是数字字符串，这里统一处理。
package fastparse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

var (
	// ErrMissing 字段缺失或为 null
	ErrMissing = errors.New("字段缺失")
	// ErrNegative 数量为负数
	ErrNegative = errors.New("数量为负数")
)

var nullLiteral = []byte("null")

// numberText 提取原始 JSON 值中的数字文本
// 支持 123、123.45、"123.45"，null 与空值返回 ErrMissing
func numberText(raw json.RawMessage) (string, error) {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 || bytes.Equal(v, nullLiteral) {
		return "", ErrMissing
	}
	if v[0] == '"' {
		s, err := strconv.Unquote(string(v))
		if err != nil {
			return "", fmt.Errorf("无效字符串 %s: %w", v, err)
		}
		if s == "" {
			return "", ErrMissing
		}
		return s, nil
	}
	return string(v), nil
}

// ParseDecimal 解析价格字段
// 参数 raw: 原始 JSON 值
// 返回: 十进制价格
func ParseDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	s, err := numberText(raw)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("无效数值 %q: %w", s, err)
	}
	return d, nil
}

// ParseInt 解析整数字段
// 允许 500、"500"、500.0 这类无小数部分的写法
func ParseInt(raw json.RawMessage) (int64, error) {
	d, err := ParseDecimal(raw)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("非整数 %s", d)
	}
	return d.IntPart(), nil
}

// ParseSize 解析非负数量字段
func ParseSize(raw json.RawMessage) (int64, error) {
	v, err := ParseInt(raw)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, ErrNegative
	}
	return v, nil
}

// ParseUnixMs 解析毫秒时间戳字段
func ParseUnixMs(raw json.RawMessage) (int64, error) {
	v, err := ParseInt(raw)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("无效时间戳 %d", v)
	}
	return v, nil
}
