package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pokepark"

var (
	// CandidateOutcomesTotal 按结果分类统计候选商品处理次数。
	CandidateOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "candidate_outcomes_total",
		Help:      "Processed candidate listings by outcome.",
	}, []string{"outcome"})

	// LinksCollectedTotal 链接发现阶段收集到的候选链接数。
	LinksCollectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "links_collected_total",
		Help:      "Candidate links collected per status filter.",
	}, []string{"status_filter"})

	// EmptyResultsTotal 搜索无结果次数。
	EmptyResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "empty_results_total",
		Help:      "Keyword/filter combinations that produced no candidate links.",
	})

	// NullPriceTotal 价格缺失的记录数。
	NullPriceTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "null_price_total",
		Help:      "Records kept without a parseable price.",
	})

	// CrawlerErrorsTotal 按错误类型统计抓取错误。
	CrawlerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "crawler_errors_total",
		Help:      "Navigation and fetch errors by class.",
	}, []string{"backend", "error_type"})

	// PageOpenDuration 页面打开（导航+加载）耗时。
	PageOpenDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "page_open_duration_seconds",
		Help:      "Time spent opening a page.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
	}, []string{"backend"})

	// RateLimitWaitDuration 限速等待耗时。
	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rate_limit_wait_seconds",
		Help:      "Time spent waiting for politeness delay and rate limit.",
		Buckets:   prometheus.DefBuckets,
	})

	// RateLimitTimeoutTotal 限速等待超时次数。
	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_timeout_total",
		Help:      "Rate limit waits aborted by context.",
	})

	// SnapshotRecords 最近一次快照的记录数。
	SnapshotRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_records",
		Help:      "Records in the latest snapshot by sold status.",
	}, []string{"sold_status"})

	// RunDuration 整次运行耗时。
	RunDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of the last scrape run.",
	})
)

// Collectors 返回批处理任务需要推送到 Pushgateway 的全部指标。
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		CandidateOutcomesTotal,
		LinksCollectedTotal,
		EmptyResultsTotal,
		NullPriceTotal,
		CrawlerErrorsTotal,
		PageOpenDuration,
		RateLimitWaitDuration,
		RateLimitTimeoutTotal,
		SnapshotRecords,
		RunDuration,
	}
}
