// Package scraper 按配置组装一次完整的抓取运行，并负责定时执行。
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/silencecat2007/pokepark-kanto/internal/aggregate"
	"github.com/silencecat2007/pokepark-kanto/internal/catalog"
	"github.com/silencecat2007/pokepark-kanto/internal/config"
	"github.com/silencecat2007/pokepark-kanto/internal/crawler"
	"github.com/silencecat2007/pokepark-kanto/internal/model"
	"github.com/silencecat2007/pokepark-kanto/internal/pipeline"
	"github.com/silencecat2007/pokepark-kanto/internal/pkg/dedup"
	"github.com/silencecat2007/pokepark-kanto/internal/pkg/metrics"
	"github.com/silencecat2007/pokepark-kanto/internal/pkg/notify"
	"github.com/silencecat2007/pokepark-kanto/internal/pkg/queue"
	"github.com/silencecat2007/pokepark-kanto/internal/pkg/ratelimit"
)

const (
	redisPingTimeout   = 3 * time.Second
	browserInitTimeout = 2 * time.Minute
	publishTimeout     = time.Minute
	publishWorkers     = 3
)

// Service 持有跨运行复用的资源（Redis、MySQL、通知器）。
// 页面后端在每次运行时创建并在结束时关闭。
type Service struct {
	cfg      *config.Config
	logger   *slog.Logger
	rdb      *redis.Client
	catalog  catalog.Provider
	mirror   *aggregate.Mirror
	notifier notify.Notifier

	newProvider func(ctx context.Context) (crawler.PageProvider, error)
}

// NewService 按配置连接可选的 Redis 与 MySQL。
// Redis 不可达时降级为无缓存运行，MySQL 连接失败则返回错误。
func NewService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	s := &Service{cfg: cfg, logger: logger}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, running without cache and shared state",
				slog.String("addr", cfg.Redis.Addr),
				slog.String("error", err.Error()))
			_ = rdb.Close()
		} else {
			s.rdb = rdb
		}
	}

	var cache catalog.Cache
	if s.rdb != nil {
		cache = catalog.NewRedisCache(s.rdb, cfg.Catalog.CacheTTL.Std())
	}
	s.catalog = catalog.NewSourceProvider(cfg.Catalog.SourceURL, cache, logger)

	if cfg.MySQL.DSN != "" {
		mirror, err := aggregate.OpenMirror(cfg.MySQL.DSN, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.mirror = mirror
	}

	if cfg.Email.SMTPHost != "" && len(cfg.Email.To) > 0 {
		s.notifier = notify.NewEmailNotifier(&cfg.Email, logger)
	} else {
		s.notifier = notify.Nop{}
	}

	s.newProvider = s.openProvider
	return s, nil
}

func (s *Service) openProvider(ctx context.Context) (crawler.PageProvider, error) {
	switch s.cfg.Scrape.Backend {
	case crawler.BackendStatic:
		return crawler.NewStaticProvider(crawler.StaticOptions{
			UserAgent:   s.cfg.Browser.UserAgent,
			PageTimeout: s.cfg.Browser.PageTimeout.Std(),
		}, s.logger), nil
	default:
		initCtx, cancel := context.WithTimeout(ctx, browserInitTimeout)
		defer cancel()
		// 浏览器的生命周期跟随运行 ctx，初始化超时只约束启动阶段
		type result struct {
			p   *crawler.BrowserProvider
			err error
		}
		ch := make(chan result, 1)
		go func() {
			p, err := crawler.NewBrowserProvider(ctx, crawler.BrowserOptions{
				BinPath:     s.cfg.Browser.BinPath,
				Headless:    s.cfg.Browser.Headless,
				ProxyURL:    s.cfg.Browser.ProxyURL,
				UserAgent:   s.cfg.Browser.UserAgent,
				PageTimeout: s.cfg.Browser.PageTimeout.Std(),
			}, s.logger)
			ch <- result{p, err}
		}()
		select {
		case r := <-ch:
			if r.err != nil {
				return nil, r.err
			}
			return r.p, nil
		case <-initCtx.Done():
			go func() {
				if r := <-ch; r.p != nil {
					_ = r.p.Close()
				}
			}()
			return nil, fmt.Errorf("start browser: %w", initCtx.Err())
		}
	}
}

// pacer 组合本地随机间隔与可选的 Redis 全局令牌桶。
func (s *Service) pacer() ratelimit.Pacer {
	sc := s.cfg.Scrape
	chain := ratelimit.Chain{ratelimit.NewJitter(ratelimit.JitterOptions{
		Enabled:           sc.DelayEnabled,
		MinDelay:          sc.DelayMin.Std(),
		MaxDelay:          sc.DelayMax.Std(),
		RequestsPerSecond: sc.RequestsPerSecond,
		Burst:             sc.Burst,
	})}
	if s.rdb != nil && sc.GlobalRate > 0 && sc.GlobalBurst > 0 {
		chain = append(chain, ratelimit.NewRedisBucket(s.rdb, s.logger, "", sc.GlobalRate, sc.GlobalBurst))
	}
	return chain
}

func (s *Service) visitedSet() dedup.Set {
	if s.rdb == nil {
		return dedup.NewMemorySet()
	}
	set := dedup.NewRedisSet(s.rdb, s.cfg.Scrape.DedupTTL.Std(), s.cfg.Scrape.VisitedNamespace, s.logger)
	s.logger.Debug("visited set in redis", slog.String("run_id", set.RunID()))
	return set
}

// LoadRegistry 加载并校验图鉴。refresh 为 true 时跳过缓存。
func (s *Service) LoadRegistry(ctx context.Context, refresh bool) (*catalog.Registry, error) {
	if !refresh {
		return catalog.LoadRegistry(ctx, s.catalog, s.logger)
	}
	entries, err := s.catalog.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.New(entries)
}

// RunOnce 执行一次抓取并写出快照。
//
// 注册表污染、后端启动失败或运行被取消时不写快照，上一次的结果保持不变，
// 并发送中止通知。镜像、指标推送与摘要邮件失败只记录日志。
func (s *Service) RunOnce(ctx context.Context) (model.Snapshot, error) {
	start := time.Now()

	reg, err := s.LoadRegistry(ctx, false)
	if err != nil {
		s.abort(ctx, "catalog registry check failed", err)
		return model.Snapshot{}, fmt.Errorf("catalog: %w", err)
	}

	provider, err := s.newProvider(ctx)
	if err != nil {
		s.abort(ctx, "page backend failed to start", err)
		return model.Snapshot{}, fmt.Errorf("open %s backend: %w", s.cfg.Scrape.Backend, err)
	}
	defer func() {
		if err := provider.Close(); err != nil {
			s.logger.Warn("close page backend failed", slog.String("error", err.Error()))
		}
	}()

	runner, err := pipeline.NewRunner(s.cfg.RunConfig(), pipeline.Deps{
		Provider: provider,
		Registry: reg,
		Visited:  s.visitedSet(),
		Pacer:    s.pacer(),
		Logger:   s.logger,
	})
	if err != nil {
		return model.Snapshot{}, err
	}

	snap, err := runner.Run(ctx)
	if err != nil {
		s.abort(ctx, "run interrupted", err)
		return snap, fmt.Errorf("run: %w", err)
	}

	if err := aggregate.WriteFile(s.cfg.App.OutputPath, snap); err != nil {
		s.abort(ctx, "write snapshot failed", err)
		return snap, err
	}
	s.logger.Info("snapshot written",
		slog.String("path", s.cfg.App.OutputPath),
		slog.Int("count", snap.TotalCount),
		slog.Duration("elapsed", time.Since(start)))

	s.publish(ctx, snap)
	return snap, nil
}

// publish 并行执行快照写出后的收尾任务：MySQL 镜像、指标推送与摘要邮件。
// 任一任务失败只记录日志，不影响本次运行的结果。
func (s *Service) publish(ctx context.Context, snap model.Snapshot) {
	pool := queue.NewPool(s.logger, publishWorkers, publishWorkers)
	pool.Start(ctx)

	var jobs []queue.Job
	if s.mirror != nil {
		jobs = append(jobs, queue.Job{Name: "mysql_mirror", Run: func(ctx context.Context) error {
			return s.mirror.Replace(ctx, snap)
		}})
	}
	jobs = append(jobs,
		queue.Job{Name: "metrics_push", Run: func(ctx context.Context) error {
			return metrics.Push(ctx, s.cfg.Metrics.PushgatewayURL, s.cfg.Metrics.Job)
		}},
		queue.Job{Name: "run_summary", Run: func(ctx context.Context) error {
			return s.notifier.RunSummary(ctx, snap)
		}},
	)
	for _, job := range jobs {
		if err := pool.Submit(job); err != nil {
			s.logger.Warn("submit publish job failed", slog.String("job", job.Name), slog.String("error", err.Error()))
		}
	}
	if err := pool.Shutdown(publishTimeout); err != nil {
		s.logger.Warn("publish jobs did not finish", slog.String("error", err.Error()))
	}
}

func (s *Service) abort(ctx context.Context, reason string, cause error) {
	s.logger.Error("run aborted", slog.String("reason", reason), slog.String("error", cause.Error()))
	// ctx 可能已经取消，中止通知使用独立的超时
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.notifier.Abort(notifyCtx, reason, cause); err != nil {
		s.logger.Warn("send abort notification failed", slog.String("error", err.Error()))
	}
}

// Schedule 按 cron 表达式重复执行 RunOnce，直到 ctx 结束。
// 上一次运行未结束时跳过本次触发。
func (s *Service) Schedule(ctx context.Context, spec string) error {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn))
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	_, err := c.AddFunc(spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("scheduled run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	c.Start()
	s.logger.Info("scheduler started", slog.String("schedule", spec))
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// Close 释放 Redis 与 MySQL 连接。
func (s *Service) Close() error {
	var errs []error
	if s.rdb != nil {
		errs = append(errs, s.rdb.Close())
	}
	if s.mirror != nil {
		errs = append(errs, s.mirror.Close())
	}
	return errors.Join(errs...)
}
