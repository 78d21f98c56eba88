package crawler

import (
	"context"
	"fmt"
	"strings"
)

// Page 是一个已打开的页面。浏览器与静态两种后端实现相同的接口，
// 发现与提取逻辑只依赖这个接口。
type Page interface {
	// URL 返回页面最终地址（跟随重定向后）。
	URL() string
	// HTML 返回当前页面源码（浏览器后端为渲染后的 DOM）。
	HTML(ctx context.Context) (string, error)
	// Text 返回 body 可见文本。
	Text(ctx context.Context) (string, error)
	// Query 返回所有匹配 selector 的元素的属性值；attr 为空时返回元素文本。
	Query(ctx context.Context, selector, attr string) ([]string, error)
	// LoadMore 触发一次增量加载。返回 false 表示该后端不支持继续加载。
	LoadMore(ctx context.Context) (bool, error)
	Close() error
}

// PageProvider 打开页面。Open 必须遵守 ctx 的截止时间。
type PageProvider interface {
	Open(ctx context.Context, rawURL string) (Page, error)
	Name() string
	Close() error
}

const (
	BackendBrowser = "browser"
	BackendStatic  = "static"
)

// blockedError 表示页面被反爬拦截，错误信息带 blocked_page 前缀以便分类。
func blockedError(blockType string) error {
	return fmt.Errorf("blocked_page: %s", blockType)
}

// IsNoItemsPage 检查搜索页是否处于"无商品"状态。
func IsNoItemsPage(ctx context.Context, page Page) bool {
	if found, err := page.Query(ctx, ".merEmptyState", ""); err == nil && len(found) > 0 {
		return true
	}
	text, err := page.Text(ctx)
	return err == nil && text != "" && containsAny(text, noItemsHints)
}

// containsAny 检查文本是否包含任意一个关键词
func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
