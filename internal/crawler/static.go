package crawler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/silencecat2007/pokepark-kanto/internal/pkg/metrics"
)

const staticMaxBodySize = 8 << 20

// StaticOptions 是静态抓取后端的配置。
type StaticOptions struct {
	UserAgent   string
	PageTimeout time.Duration
}

// StaticProvider 直接请求 HTML，不执行 JavaScript。
// 适合服务端渲染的商品页，以及测试。
type StaticProvider struct {
	opts   StaticOptions
	logger *slog.Logger
}

func NewStaticProvider(opts StaticOptions, logger *slog.Logger) *StaticProvider {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = defaultPageTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StaticProvider{opts: opts, logger: logger}
}

func (s *StaticProvider) Name() string { return BackendStatic }

func (s *StaticProvider) Close() error { return nil }

func (s *StaticProvider) Open(ctx context.Context, rawURL string) (Page, error) {
	start := time.Now()
	defer func() {
		metrics.PageOpenDuration.WithLabelValues(BackendStatic).Observe(time.Since(start).Seconds())
	}()

	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.UserAgent(s.opts.UserAgent),
		colly.MaxBodySize(staticMaxBodySize),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(s.opts.PageTimeout)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "ja,en;q=0.8")
	})

	var (
		body     []byte
		status   int
		finalURL string
	)
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		status = r.StatusCode
		finalURL = r.Request.URL.String()
	})

	if err := c.Visit(rawURL); err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}

	switch {
	case status == http.StatusForbidden:
		return nil, blockedError("403_forbidden")
	case status == http.StatusTooManyRequests:
		return nil, blockedError("429_rate_limited")
	case status < 200 || status >= 300:
		return nil, fmt.Errorf("fetch page: unexpected status %d", status)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if blockType := DetectBlockType(doc.Find("title").First().Text(), string(body)); blockType != "" {
		return nil, blockedError(blockType)
	}

	if finalURL == "" {
		finalURL = rawURL
	}
	return &staticPage{url: finalURL, html: string(body), doc: doc}, nil
}

type staticPage struct {
	url  string
	html string
	doc  *goquery.Document
}

func (p *staticPage) URL() string { return p.url }

func (p *staticPage) HTML(context.Context) (string, error) { return p.html, nil }

// Text 返回去掉脚本与样式后的 body 文本。
func (p *staticPage) Text(context.Context) (string, error) {
	body := p.doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(body.Text()), " "), nil
}

func (p *staticPage) Query(_ context.Context, selector, attr string) ([]string, error) {
	var out []string
	p.doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		if attr == "" {
			out = append(out, strings.TrimSpace(sel.Text()))
			return
		}
		if v, ok := sel.Attr(attr); ok {
			out = append(out, v)
		}
	})
	return out, nil
}

// LoadMore 静态页面没有增量加载。
func (p *staticPage) LoadMore(context.Context) (bool, error) { return false, nil }

func (p *staticPage) Close() error { return nil }
