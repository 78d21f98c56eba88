package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/silencecat2007/pokepark-kanto/internal/pkg/metrics"
)

const (
	pageCreateTimeout    = 10 * time.Second       // 页面创建超时
	stealthScriptTimeout = 5 * time.Second        // Stealth 脚本应用超时
	requestIdleTimeout   = 15 * time.Second       // 等待网络空闲的上限
	scrollWaitInterval   = 500 * time.Millisecond // 每次滚动后等待渲染
	defaultPageTimeout   = 45 * time.Second
	defaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// 高带宽资源与追踪脚本，对提取没有帮助
var defaultBlockedURLs = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico", "*.avif",
	"*.woff", "*.woff2", "*.ttf", "*.eot", "*.otf",
	"*.mp4", "*.webm", "*.mp3",
	"*google-analytics*",
	"*googletagmanager*",
	"*doubleclick*",
	"*criteo*",
	"*facebook*",
	"*appsflyer*",
	"*tiktok*",
	"*sentry*",
}

// BrowserOptions 是无头浏览器后端的配置。
type BrowserOptions struct {
	BinPath     string
	Headless    bool
	ProxyURL    string
	UserAgent   string
	PageTimeout time.Duration
	BlockedURLs []string
}

// BrowserProvider 使用 go-rod 驱动的 Chromium 渲染页面。
type BrowserProvider struct {
	browser *rod.Browser
	opts    BrowserOptions
	logger  *slog.Logger
}

// NewBrowserProvider 启动浏览器。ctx 控制浏览器的整个生命周期。
func NewBrowserProvider(ctx context.Context, opts BrowserOptions, logger *slog.Logger) (*BrowserProvider, error) {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = defaultPageTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.BlockedURLs == nil {
		opts.BlockedURLs = defaultBlockedURLs
	}
	browser, err := startBrowser(ctx, opts, logger)
	if err != nil {
		return nil, err
	}
	return &BrowserProvider{browser: browser, opts: opts, logger: logger}, nil
}

func (b *BrowserProvider) Name() string { return BackendBrowser }

func (b *BrowserProvider) Close() error {
	if b.browser == nil {
		return nil
	}
	return b.browser.Close()
}

func startBrowser(ctx context.Context, opts BrowserOptions, logger *slog.Logger) (*rod.Browser, error) {
	bin := opts.BinPath
	if bin == "" {
		logger.Info("no browser binary specified, downloading default...")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	// 针对容器环境的 Flag
	l := launcher.New().
		Headless(opts.Headless).
		Bin(bin).
		NoSandbox(true).
		Set("disable-dev-shm-usage", "true").
		Set("disable-gpu", "true").
		Set("disable-software-rasterizer", "true").
		Set("disk-cache-size", "1").
		Set("media-cache-size", "1").
		Set("js-flags", "--max_old_space_size=512")

	var proxyUser, proxyPass string
	if opts.ProxyURL != "" {
		parsed, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("invalid proxy url: %s", opts.ProxyURL)
		}
		server := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
		if parsed.User != nil {
			proxyUser = parsed.User.Username()
			proxyPass, _ = parsed.User.Password()
		}
		l = l.Proxy(server)
		logger.Info("using http proxy", slog.String("server", server))
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	if proxyUser != "" {
		go browser.MustHandleAuth(proxyUser, proxyPass)()
	}

	logger.Info("browser started", slog.String("bin", bin), slog.Bool("headless", opts.Headless))
	return browser, nil
}

// Open 创建新标签页并导航到 rawURL。
//
// 每一步都用 select 做超时保护：rod 的调用在浏览器卡住时可能不返回。
func (b *BrowserProvider) Open(ctx context.Context, rawURL string) (Page, error) {
	start := time.Now()
	defer func() {
		metrics.PageOpenDuration.WithLabelValues(BackendBrowser).Observe(time.Since(start).Seconds())
	}()

	page, err := b.createPage(ctx)
	if err != nil {
		return nil, err
	}

	if err := (proto.NetworkSetBlockedURLs{Urls: b.opts.BlockedURLs}).Call(page); err != nil {
		b.logger.Warn("set blocked urls failed", slog.String("error", err.Error()))
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.opts.UserAgent}); err != nil {
		b.logger.Warn("set user agent failed", slog.String("error", err.Error()))
	}

	navigateCtx, navigateCancel := context.WithTimeout(ctx, b.opts.PageTimeout)
	defer navigateCancel()

	navigateErrCh := make(chan error, 1)
	go func() {
		navigateErrCh <- page.Context(navigateCtx).Navigate(rawURL)
	}()

	select {
	case navErr := <-navigateErrCh:
		if navErr != nil {
			_ = page.Close()
			return nil, fmt.Errorf("navigate: %w", navErr)
		}
	case <-navigateCtx.Done():
		_ = page.Close()
		return nil, fmt.Errorf("navigate timeout: %w", navigateCtx.Err())
	}

	if err := page.Context(navigateCtx).WaitLoad(); err != nil {
		b.logger.Debug("WaitLoad failed, continuing anyway",
			slog.String("url", rawURL),
			slog.String("error", err.Error()))
	}

	// WaitRequestIdle 返回一个阻塞到网络空闲的函数
	waitIdle := page.Context(navigateCtx).WaitRequestIdle(time.Second, nil, nil, nil)
	idleCtx, idleCancel := context.WithTimeout(ctx, requestIdleTimeout)
	defer idleCancel()
	idleDone := make(chan struct{})
	go func() {
		waitIdle()
		close(idleDone)
	}()
	select {
	case <-idleDone:
	case <-idleCtx.Done():
		b.logger.Debug("WaitRequestIdle timeout, continuing", slog.String("url", rawURL))
	}

	bp := &browserPage{page: page, timeout: b.opts.PageTimeout, target: rawURL}
	if info, err := page.Context(navigateCtx).Info(); err == nil {
		bp.finalURL = info.URL
		html, _ := bp.HTML(ctx)
		if blockType := DetectBlockType(info.Title, html); blockType != "" {
			_ = page.Close()
			return nil, blockedError(blockType)
		}
	}
	return bp, nil
}

func (b *BrowserProvider) createPage(ctx context.Context) (*rod.Page, error) {
	page, err := awaitResult(ctx, pageCreateTimeout,
		func() (*rod.Page, error) {
			return b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
		},
		func(late *rod.Page) {
			if late != nil {
				_ = late.Close()
			}
		})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	stealthDone := make(chan error, 1)
	go func() {
		_, evalErr := page.EvalOnNewDocument(stealth.JS)
		stealthDone <- evalErr
	}()

	stealthTimer := time.NewTimer(stealthScriptTimeout)
	defer stealthTimer.Stop()
	select {
	case err := <-stealthDone:
		if err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("apply stealth script: %w", err)
		}
	case <-stealthTimer.C:
		_ = page.Close()
		return nil, fmt.Errorf("apply stealth script timeout after %v", stealthScriptTimeout)
	case <-ctx.Done():
		_ = page.Close()
		return nil, fmt.Errorf("context cancelled during stealth script: %w", ctx.Err())
	}
	return page, nil
}

type browserPage struct {
	page     *rod.Page
	timeout  time.Duration
	target   string
	finalURL string
}

func (p *browserPage) URL() string {
	if p.finalURL != "" {
		return p.finalURL
	}
	return p.target
}

// bounded 返回绑定了单次操作超时的页面副本。
func (p *browserPage) bounded(ctx context.Context) (*rod.Page, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(ctx, p.timeout)
	return p.page.Context(opCtx), cancel
}

func (p *browserPage) HTML(ctx context.Context) (string, error) {
	page, cancel := p.bounded(ctx)
	defer cancel()
	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

func (p *browserPage) Text(ctx context.Context) (string, error) {
	page, cancel := p.bounded(ctx)
	defer cancel()
	v, err := page.Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", fmt.Errorf("read body text: %w", err)
	}
	return v.Value.String(), nil
}

func (p *browserPage) Query(ctx context.Context, selector, attr string) ([]string, error) {
	page, cancel := p.bounded(ctx)
	defer cancel()
	// Elements 不等待元素出现，找不到时直接返回空列表
	elems, err := page.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", selector, err)
	}
	out := make([]string, 0, len(elems))
	for _, el := range elems {
		if attr == "" {
			if txt, err := el.Text(); err == nil {
				out = append(out, txt)
			}
			continue
		}
		if v, err := el.Attribute(attr); err == nil && v != nil {
			out = append(out, *v)
		}
	}
	return out, nil
}

// LoadMore 向下滚动一屏并等待懒加载渲染。
func (p *browserPage) LoadMore(ctx context.Context) (bool, error) {
	page, cancel := p.bounded(ctx)
	defer cancel()
	if _, err := page.Eval(`() => window.scrollBy(0, window.innerHeight)`); err != nil {
		return false, fmt.Errorf("scroll: %w", err)
	}
	select {
	case <-time.After(scrollWaitInterval):
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return true, nil
}

func (p *browserPage) Close() error {
	return p.page.Close()
}
