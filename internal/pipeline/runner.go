// Package pipeline 串起一次完整的抓取：
// (关键词, 状态过滤) → 链接发现 → 详情提取 → 图鉴匹配 → 汇总。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/silencecat2007/pokepark-kanto/internal/aggregate"
	"github.com/silencecat2007/pokepark-kanto/internal/catalog"
	"github.com/silencecat2007/pokepark-kanto/internal/crawler"
	"github.com/silencecat2007/pokepark-kanto/internal/model"
	"github.com/silencecat2007/pokepark-kanto/internal/pkg/dedup"
	"github.com/silencecat2007/pokepark-kanto/internal/pkg/metrics"
	"github.com/silencecat2007/pokepark-kanto/internal/pkg/ratelimit"
)

// Deps 是 Runner 的外部依赖。Visited 与 Pacer 可以为 nil。
type Deps struct {
	Provider crawler.PageProvider
	Registry *catalog.Registry
	Visited  dedup.Set
	Pacer    ratelimit.Pacer
	Logger   *slog.Logger
}

// Runner 顺序执行一次抓取。一个 Runner 只用于一次 Run。
type Runner struct {
	cfg        RunConfig
	provider   crawler.PageProvider
	registry   *catalog.Registry
	matcher    *catalog.Matcher
	discoverer *crawler.Discoverer
	extractor  *crawler.Extractor
	visited    dedup.Set
	pacer      ratelimit.Pacer
	store      *aggregate.Store
	logger     *slog.Logger
	now        func() time.Time

	visits int
}

func NewRunner(cfg RunConfig, deps Deps) (*Runner, error) {
	if deps.Provider == nil {
		return nil, errors.New("pipeline: page provider is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("pipeline: catalog registry is required")
	}
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	visited := deps.Visited
	if visited == nil {
		visited = dedup.NewMemorySet()
	}
	pacer := deps.Pacer
	if pacer == nil {
		pacer = ratelimit.Chain{}
	}

	return &Runner{
		cfg:      cfg,
		provider: deps.Provider,
		registry: deps.Registry,
		matcher:  catalog.NewMatcher(deps.Registry),
		discoverer: crawler.NewDiscoverer(crawler.DiscoveryOptions{
			MaxLinks:     cfg.MaxLinksPerSearch,
			MaxIdleLoads: cfg.MaxIdleLoads,
		}, logger),
		extractor: crawler.NewExtractor(crawler.ExtractOptions{
			SoldMarkers:   cfg.SoldMarkers,
			ActiveMarkers: cfg.ActiveMarkers,
		}, logger),
		visited: visited,
		pacer:   pacer,
		store:   aggregate.NewStore(),
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Run 执行全部 (关键词, 状态过滤) 组合并返回快照。
//
// 注册表只能通过 catalog.New 构造，完整性在此之前已经检查过。
// ctx 被取消时返回已完成部分的快照与 ctx 的错误。
func (r *Runner) Run(ctx context.Context) (model.Snapshot, error) {
	start := r.now()
	var diags []model.Diagnostics

	for _, keyword := range r.cfg.Keywords {
		for _, filter := range r.cfg.StatusFilters {
			if err := ctx.Err(); err != nil {
				return r.store.Snapshot(r.now(), diags), err
			}
			diags = append(diags, r.runSearch(ctx, keyword, filter))
		}
	}

	snap := r.store.Snapshot(r.now(), diags)
	r.observe(snap, start)
	r.logger.Info("run finished",
		slog.Int("records", snap.TotalCount),
		slog.Int("confirmed_sold", len(snap.ConfirmedSold())),
		slog.Int("item_visits", r.visits),
		slog.Duration("elapsed", r.now().Sub(start)))
	return snap, ctx.Err()
}

// runSearch 处理一个 (关键词, 状态过滤) 组合。
func (r *Runner) runSearch(ctx context.Context, keyword, filter string) model.Diagnostics {
	searchURL := crawler.BuildSearchURL(r.cfg.SearchBase, crawler.SearchQuery{
		Keyword:      keyword,
		StatusFilter: filter,
		Sort:         r.cfg.Sort,
		Order:        r.cfg.Order,
	})
	diag := model.Diagnostics{Keyword: keyword, StatusFilter: filter, SearchURL: searchURL}
	log := r.logger.With(slog.String("keyword", keyword), slog.String("status_filter", filter))

	links, err := r.discover(ctx, searchURL)
	switch {
	case errors.Is(err, crawler.ErrEmptyResult):
		diag.EmptyResult = true
		diag.Note = "no candidate links"
		metrics.EmptyResultsTotal.Inc()
		log.Info("search returned no items", slog.String("url", searchURL))
		return diag
	case err != nil:
		class := crawler.ClassifyError(err)
		diag.Errors++
		diag.Note = "search failed: " + class.String()
		metrics.CrawlerErrorsTotal.WithLabelValues(r.provider.Name(), class.String()).Inc()
		log.Warn("search page failed",
			slog.String("url", searchURL),
			slog.String("error_type", class.String()),
			slog.String("error", err.Error()))
		return diag
	}

	diag.LinksCollected = len(links)
	metrics.LinksCollectedTotal.WithLabelValues(filter).Add(float64(len(links)))
	log.Info("links collected", slog.Int("count", len(links)))

	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		o := r.candidate(ctx, model.CandidateLink{URL: link, Keyword: keyword, StatusFilter: filter})
		o.apply(&diag, r.provider.Name())
		if o.Kind == KindNetwork {
			log.Warn("candidate failed",
				slog.String("url", link),
				slog.String("error_type", o.ErrClass.String()),
				slog.String("error", o.Err.Error()))
		}
	}
	return diag
}

func (r *Runner) discover(ctx context.Context, searchURL string) ([]string, error) {
	if err := r.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	openCtx, cancel := context.WithTimeout(ctx, r.cfg.CandidateTimeout)
	defer cancel()

	page, err := r.provider.Open(openCtx, searchURL)
	if err != nil {
		return nil, err
	}
	defer page.Close()
	return r.discoverer.Discover(openCtx, page)
}

// candidate 处理单个候选链接。任何错误（包括 panic）都转换为 Outcome。
func (r *Runner) candidate(ctx context.Context, link model.CandidateLink) (out Outcome) {
	out.URL = link.URL
	defer func() {
		if p := recover(); p != nil {
			out = Outcome{
				Kind:     KindNetwork,
				URL:      link.URL,
				ErrClass: crawler.ErrClassUnknown,
				Err:      fmt.Errorf("candidate panic: %v", p),
			}
		}
	}()

	seen, err := r.visited.Visit(ctx, link.URL)
	if err != nil {
		r.logger.Debug("visited set error", slog.String("error", err.Error()))
	}
	if seen {
		out.Kind = KindSkippedVisited
		return out
	}
	if r.cfg.MaxItemVisits > 0 && r.visits >= r.cfg.MaxItemVisits {
		out.Kind = KindBudgetSkipped
		return out
	}
	r.visits++

	if err := r.pacer.Wait(ctx); err != nil {
		return networkOutcome(link.URL, err)
	}
	candCtx, cancel := context.WithTimeout(ctx, r.cfg.CandidateTimeout)
	defer cancel()

	page, err := r.provider.Open(candCtx, link.URL)
	if err != nil {
		return networkOutcome(link.URL, err)
	}
	defer page.Close()

	detail, err := r.extractor.Extract(candCtx, page, link.URL)
	switch {
	case errors.Is(err, crawler.ErrMissingTitle):
		out.Kind = KindMissingTitle
		return out
	case err != nil:
		return networkOutcome(link.URL, err)
	}

	match, err := r.matcher.Match(detail.Title)
	if err != nil {
		out.Kind = KindUnresolved
		out.Err = err
		r.logger.Debug("title unresolved", slog.String("url", link.URL), slog.String("title", detail.Title))
		return out
	}

	out.Record = newRecord(link, detail, match, r.now())
	out.NameMismatch = !match.NameConfirmed
	if r.store.Add(out.Record) {
		out.Kind = KindMatched
	} else {
		out.Kind = KindDuplicate
	}
	return out
}

func networkOutcome(url string, err error) Outcome {
	return Outcome{Kind: KindNetwork, URL: url, ErrClass: crawler.ClassifyError(err), Err: err}
}

func newRecord(link model.CandidateLink, detail model.ListingDetail, match catalog.Match, at time.Time) model.Record {
	rec := model.Record{
		CatalogNumber: match.Number,
		CanonicalName: match.Name,
		Title:         detail.Title,
		SoldStatus:    detail.SoldStatus,
		SourceURL:     link.URL,
		Keyword:       link.Keyword,
		CapturedAt:    at.UTC(),
	}
	if detail.Price != nil {
		amount := detail.Price.Amount
		currency := detail.Price.Currency
		rec.PriceAmount = &amount
		rec.Currency = &currency
	}
	return rec
}

func (r *Runner) observe(snap model.Snapshot, start time.Time) {
	counts := map[model.SoldStatus]int{
		model.StatusSold:    0,
		model.StatusActive:  0,
		model.StatusUnknown: 0,
	}
	for _, rec := range snap.Records {
		counts[rec.SoldStatus]++
	}
	for status, n := range counts {
		metrics.SnapshotRecords.WithLabelValues(string(status)).Set(float64(n))
	}
	metrics.RunDuration.Set(r.now().Sub(start).Seconds())
}
