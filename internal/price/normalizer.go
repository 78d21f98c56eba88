// Package price 将各种格式的价格文本转换为整数金额与货币代码。
package price

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/silencecat2007/pokepark-kanto/internal/model"
)

const (
	CurrencyJPY = "JPY"
	CurrencyUSD = "USD"
	CurrencyTWD = "TWD"
	CurrencyHKD = "HKD"
)

// 多字符前缀货币（secondary form），例如 "US$12.50"
var prefixCurrencies = map[string]string{
	"US": CurrencyUSD,
	"NT": CurrencyTWD,
	"HK": CurrencyHKD,
}

var (
	yenPrefixRe  = regexp.MustCompile(`[¥￥]\s*([0-9][0-9,]*)`)
	yenSuffixRe  = regexp.MustCompile(`([0-9][0-9,]*)\s*円`)
	dollarRe     = regexp.MustCompile(`(US|NT|HK)\s?\$\s*([0-9][0-9,]*)(?:\.[0-9]+)?`)
	isoPrefixRe  = regexp.MustCompile(`\b(JPY|USD|TWD|HKD)\s*([0-9][0-9,]*)(?:\.[0-9]+)?`)
	isoSuffixRe  = regexp.MustCompile(`([0-9][0-9,]*)(?:\.[0-9]+)?\s*(JPY|USD|TWD|HKD)\b`)
	bareAmountRe = regexp.MustCompile(`^([0-9][0-9,]*)(?:\.[0-9]+)?$`)
)

type pattern struct {
	re      *regexp.Regexp
	extract func(m []string) (digits, currency string)
}

var patterns = []pattern{
	{yenPrefixRe, func(m []string) (string, string) { return m[1], CurrencyJPY }},
	{yenSuffixRe, func(m []string) (string, string) { return m[1], CurrencyJPY }},
	{dollarRe, func(m []string) (string, string) { return m[2], prefixCurrencies[m[1]] }},
	{isoPrefixRe, func(m []string) (string, string) { return m[2], m[1] }},
	{isoSuffixRe, func(m []string) (string, string) { return m[1], m[2] }},
}

// Normalize 从任意文本中解析第一个带货币标记的价格。
//
// 支持 "¥3,500"、"3,500円"、"US$12.50"、"JPY 3500" 等形式；小数部分直接截断。
// 无法解析时返回 false，从不 panic。
func Normalize(text string) (model.Price, bool) {
	p, _, ok := Find(text)
	return p, ok
}

// Find 与 Normalize 相同，另外返回命中的原始片段（已做全角转半角）。
func Find(text string) (model.Price, string, bool) {
	text = narrow(text)
	if strings.TrimSpace(text) == "" {
		return model.Price{}, "", false
	}

	// 取文本中最靠前的价格标记
	bestPos := -1
	var best model.Price
	var raw string
	for _, p := range patterns {
		loc := p.re.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		if bestPos >= 0 && loc[0] >= bestPos {
			continue
		}
		m := submatches(text, loc)
		digits, currency := p.extract(m)
		amount, ok := parseDigits(digits)
		if !ok {
			continue
		}
		bestPos = loc[0]
		best = model.Price{Amount: amount, Currency: currency}
		raw = m[0]
	}
	return best, raw, bestPos >= 0
}

// NormalizeAmount 解析结构化字段中的金额（货币单独给出）。
//
// 结构化字段常见的是纯数字 "3500" 或 "3500.0"；带货币标记的文本同样接受。
// currency 为空时默认 JPY。
func NormalizeAmount(text, currency string) (model.Price, bool) {
	text = strings.TrimSpace(narrow(text))
	if p, ok := Normalize(text); ok {
		return p, true
	}
	m := bareAmountRe.FindStringSubmatch(text)
	if m == nil {
		return model.Price{}, false
	}
	amount, ok := parseDigits(m[1])
	if !ok {
		return model.Price{}, false
	}
	return model.Price{Amount: amount, Currency: normalizeCurrency(currency)}, true
}

// Format 按货币输出价格文本，例如 Format(3500, "JPY") == "¥3,500"。
// 未知货币使用 ISO 前缀形式 "EUR 12"。
func Format(amount int64, currency string) string {
	switch c := normalizeCurrency(currency); c {
	case CurrencyJPY:
		return "¥" + groupDigits(amount)
	case CurrencyUSD:
		return "US$" + groupDigits(amount)
	case CurrencyTWD:
		return "NT$" + groupDigits(amount)
	case CurrencyHKD:
		return "HK$" + groupDigits(amount)
	default:
		return c + " " + groupDigits(amount)
	}
}

func groupDigits(v int64) string {
	s := strconv.FormatInt(v, 10)
	n := len(s)
	if n <= 3 {
		return s
	}
	var b strings.Builder
	b.Grow(n + n/3)
	for i, ch := range []byte(s) {
		b.WriteByte(ch)
		if (n-i-1)%3 == 0 && i != n-1 {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func parseDigits(s string) (int64, bool) {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func normalizeCurrency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	switch c {
	case "", "¥", "￥", "円", "YEN":
		return CurrencyJPY
	}
	return c
}

// narrow 将全角数字、逗号等转换为半角，保留日文字符。
func narrow(s string) string {
	return width.Narrow.String(s)
}

func submatches(s string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := range out {
		if loc[2*i] >= 0 {
			out[i] = s[loc[2*i]:loc[2*i+1]]
		}
	}
	return out
}
