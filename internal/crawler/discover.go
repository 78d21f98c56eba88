package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var ErrEmptyResult = errors.New("search returned no candidate links")

var (
	itemPathRe = regexp.MustCompile(`^/(?:item|shops/product)/[A-Za-z0-9]+/?$`)
	// 源码（包括 script 内的 JSON）中出现的商品地址，兼容 "\/item\/m123" 这种转义写法。
	// 必须紧跟在引号、=、( 或空白之后，并在 ID 处结束，CDN 图片路径里的 /item/ 不会命中。
	itemSourceRe = regexp.MustCompile(`(?:^|["'=(\s])(?:(https?):\\?/\\?/([A-Za-z0-9.:-]+))?\\?/(item|shops\\?/product)\\?/([A-Za-z0-9]+)(?:\\?/)?(?:$|[^A-Za-z0-9_./\\-])`)
)

// 出现在 /item/ 之后但不是商品 ID 的路径段（图片变体、详情图目录等）
var nonItemSegments = map[string]bool{
	"webp": true, "jpg": true, "jpeg": true, "png": true,
	"detail": true, "orig": true, "photos": true, "thumb": true,
	"small": true, "large": true, "list": true,
}

// isItemPath 判断路径是否为商品页：/item/<id> 或 /shops/product/<id>。
func isItemPath(path string) bool {
	if !itemPathRe.MatchString(path) {
		return false
	}
	trimmed := strings.TrimSuffix(path, "/")
	id := trimmed[strings.LastIndex(trimmed, "/")+1:]
	return !nonItemSegments[strings.ToLower(id)]
}

// 商品卡片容器
var itemContainerSelectors = []string{
	`[data-testid="item-cell"]`,
	`[data-testid*="item"]`,
	`li[data-testid]`,
	`[itemtype*="Product"]`,
	`[class*="ItemThumbnail"]`,
	`[id^="item-"]`,
}

// Strategy 是一种链接发现方式：从页面文档中取出可能指向商品页的引用。
// 返回值可以是相对地址，由 Discoverer 统一解析与规范化。
type Strategy struct {
	Name string
	Fn   func(doc *goquery.Document, base *url.URL) []string
}

// DefaultStrategies 返回按顺序执行的发现策略，结果取并集。
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "item_path_anchors", Fn: itemPathAnchors},
		{Name: "structural_markers", Fn: structuralMarkers},
		{Name: "document_scan", Fn: documentScan},
	}
}

func itemPathAnchors(doc *goquery.Document, base *url.URL) []string {
	var out []string
	doc.Find(`a[href]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		u, err := base.Parse(strings.TrimSpace(href))
		if err != nil || !strings.EqualFold(u.Host, base.Host) {
			return
		}
		if isItemPath(u.Path) {
			out = append(out, u.String())
		}
	})
	return out
}

func structuralMarkers(doc *goquery.Document, _ *url.URL) []string {
	var out []string
	doc.Find(strings.Join(itemContainerSelectors, ", ")).Each(func(_ int, c *goquery.Selection) {
		c.Find(`a[href], [data-href]`).AddSelection(c.Filter(`a[href], [data-href]`)).Each(func(_ int, a *goquery.Selection) {
			if href, ok := a.Attr("href"); ok {
				out = append(out, strings.TrimSpace(href))
			}
			if href, ok := a.Attr("data-href"); ok {
				out = append(out, strings.TrimSpace(href))
			}
		})
	})
	return out
}

func documentScan(doc *goquery.Document, _ *url.URL) []string {
	src, err := doc.Html()
	if err != nil {
		return nil
	}
	var out []string
	for _, m := range itemSourceRe.FindAllStringSubmatch(src, -1) {
		ref := "/" + strings.ReplaceAll(m[3], `\/`, "/") + "/" + m[4]
		if m[2] != "" {
			ref = m[1] + "://" + m[2] + ref
		}
		out = append(out, ref)
	}
	return out
}

// NormalizeURL 返回去掉 query 与 fragment 的绝对地址，用作去重键。
func NormalizeURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u.String(), true
}

// DiscoveryOptions 控制链接发现的上限。
type DiscoveryOptions struct {
	MaxLinks     int
	MaxIdleLoads int
}

// Discoverer 在搜索结果页上执行全部策略，并在增量加载后重复，直到达到上限。
type Discoverer struct {
	strategies []Strategy
	opts       DiscoveryOptions
	logger     *slog.Logger
}

func NewDiscoverer(opts DiscoveryOptions, logger *slog.Logger, strategies ...Strategy) *Discoverer {
	if opts.MaxLinks <= 0 {
		opts.MaxLinks = 120
	}
	if opts.MaxIdleLoads <= 0 {
		opts.MaxIdleLoads = 3
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{strategies: strategies, opts: opts, logger: logger}
}

// Discover 返回规范化后的商品链接（保持首次出现顺序）。
// 没有任何链接时返回 ErrEmptyResult。
func (d *Discoverer) Discover(ctx context.Context, page Page) ([]string, error) {
	base, err := url.Parse(page.URL())
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("parse page url %q: invalid base", page.URL())
	}
	origin := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}

	seen := make(map[string]struct{})
	var links []string

	collect := func() (int, error) {
		html, err := page.HTML(ctx)
		if err != nil {
			return 0, err
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return 0, fmt.Errorf("parse search page: %w", err)
		}
		added := 0
		for _, s := range d.strategies {
			for _, ref := range d.run(s, doc, base) {
				if len(links) >= d.opts.MaxLinks {
					return added, nil
				}
				u, err := origin.Parse(ref)
				// 只保留与搜索页同一站点的商品页
				if err != nil || !strings.EqualFold(u.Host, base.Host) || !isItemPath(u.Path) {
					continue
				}
				norm, ok := NormalizeURL(u.String())
				if !ok {
					continue
				}
				if _, dup := seen[norm]; dup {
					continue
				}
				seen[norm] = struct{}{}
				links = append(links, norm)
				added++
			}
		}
		return added, nil
	}

	if _, err := collect(); err != nil {
		return nil, err
	}
	if len(links) == 0 && IsNoItemsPage(ctx, page) {
		return nil, ErrEmptyResult
	}

	for idle := 0; idle < d.opts.MaxIdleLoads && len(links) < d.opts.MaxLinks; {
		more, err := page.LoadMore(ctx)
		if err != nil {
			d.logger.Warn("load more failed", slog.String("url", page.URL()), slog.String("error", err.Error()))
			break
		}
		if !more {
			break
		}
		added, err := collect()
		if err != nil {
			d.logger.Warn("collect after load failed", slog.String("url", page.URL()), slog.String("error", err.Error()))
			break
		}
		if added == 0 {
			idle++
		} else {
			idle = 0
		}
	}

	if len(links) == 0 {
		return nil, ErrEmptyResult
	}
	d.logger.Debug("links discovered", slog.String("url", page.URL()), slog.Int("count", len(links)))
	return links, nil
}

// run 执行单个策略；策略 panic 只会降低召回率。
func (d *Discoverer) run(s Strategy, doc *goquery.Document, base *url.URL) (refs []string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("discovery strategy panic recovered",
				slog.String("strategy", s.Name),
				slog.Any("panic", r))
			refs = nil
		}
	}()
	return s.Fn(doc, base)
}
