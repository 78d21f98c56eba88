package crawler

import (
	"context"
	"errors"
	"strings"
)

// 搜索页“无商品”提示
var noItemsHints = []string{
	"出品された商品がありません",
	"該当する商品はありません",
	"検索結果はありません",
	"商品が見つかりません",
	"見つかりませんでした",
	"検索結果がありません",
}

// blockRule 描述一种拦截页：标题或源码（均为小写）命中任一关键词即视为该类型。
type blockRule struct {
	kind     string
	inTitle  []string
	inSource []string
}

// 按顺序匹配，先命中者优先
var blockRules = []blockRule{
	{
		kind:    "cloudflare_challenge",
		inTitle: []string{"just a moment"},
		inSource: []string{
			"cf-browser-verification",
			"challenge-platform",
			"challenges.cloudflare.com",
			`id="challenge-form"`,
			"cf-turnstile",
		},
	},
	{
		kind:     "captcha",
		inSource: []string{"g-recaptcha", "h-captcha", "verify you are human"},
	},
	{
		kind:    "403_forbidden",
		inTitle: []string{"403", "forbidden", "access denied"},
	},
	{
		kind:    "429_rate_limited",
		inTitle: []string{"429", "too many requests"},
	},
	{
		kind:    "unknown_block",
		inTitle: []string{"attention required", "checking your browser", "recaptcha", "hcaptcha"},
	},
}

// DetectBlockType 根据标题和页面源码判断拦截类型，未被拦截时返回空字符串。
func DetectBlockType(title, html string) string {
	if title == "" && strings.TrimSpace(html) == "" {
		return "blank_page"
	}
	lowerTitle := strings.ToLower(title)
	lowerHTML := strings.ToLower(html)
	for _, r := range blockRules {
		if containsAny(lowerTitle, r.inTitle) || containsAny(lowerHTML, r.inSource) {
			return r.kind
		}
	}
	return ""
}

// ============================================================================
// 错误分类
// ============================================================================

// ErrorClass 是抓取错误的分类，用于诊断计数与指标标签。
type ErrorClass int

const (
	ErrClassUnknown ErrorClass = iota
	ErrClassTimeout
	ErrClassBlocked // 403/429/Cloudflare 等
	ErrClassNetwork
	ErrClassParse
)

func (c ErrorClass) String() string {
	switch c {
	case ErrClassTimeout:
		return "timeout"
	case ErrClassBlocked:
		return "blocked"
	case ErrClassNetwork:
		return "network_error"
	case ErrClassParse:
		return "parse_error"
	default:
		return "unknown"
	}
}

// 错误信息关键词（小写），按顺序匹配
var errorRules = []struct {
	class    ErrorClass
	keywords []string
}{
	{ErrClassBlocked, []string{"blocked_page", "cloudflare", "attention required", "access denied", "403", "429", "forbidden", "too many requests"}},
	{ErrClassTimeout, []string{"timeout", "deadline exceeded"}},
	{ErrClassNetwork, []string{"net::", "connection", "navigate", "no such host", "dial tcp", "eof"}},
	{ErrClassParse, []string{"parse", "extract"}},
}

// ClassifyError 把页面打开或读取时的错误归类。ctx 的超时与取消都算作 timeout。
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrClassTimeout
	}
	msg := strings.ToLower(err.Error())
	for _, r := range errorRules {
		if containsAny(msg, r.keywords) {
			return r.class
		}
	}
	return ErrClassUnknown
}
