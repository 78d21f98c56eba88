package pipeline

import (
	"time"

	"github.com/silencecat2007/pokepark-kanto/internal/crawler"
)

// 默认搜索关键词与状态过滤
var (
	DefaultKeywords      = []string{"ポケパークカントー ピンバッジ", "pokemon park kanto pin"}
	DefaultStatusFilters = []string{"sold_out|trading"}
)

// RunConfig 是一次运行的不可变参数，按值传递给 Runner。
type RunConfig struct {
	Keywords      []string
	StatusFilters []string
	SearchBase    string
	Sort          string
	Order         string

	MaxLinksPerSearch int
	MaxIdleLoads      int
	// MaxItemVisits 是整次运行打开商品页的上限，<=0 表示不限制。
	MaxItemVisits int

	PageTimeout time.Duration
	// CandidateTimeout 是单个候选（打开+提取）的总时限，为 0 时取 2*PageTimeout。
	CandidateTimeout time.Duration

	SoldMarkers   []string
	ActiveMarkers []string
}

// withDefaults 返回补全默认值后的副本。
func (c RunConfig) withDefaults() RunConfig {
	if len(c.Keywords) == 0 {
		c.Keywords = DefaultKeywords
	}
	if len(c.StatusFilters) == 0 {
		c.StatusFilters = DefaultStatusFilters
	}
	if c.SearchBase == "" {
		c.SearchBase = crawler.DefaultSearchBase
	}
	if c.MaxLinksPerSearch <= 0 {
		c.MaxLinksPerSearch = 120
	}
	if c.MaxIdleLoads <= 0 {
		c.MaxIdleLoads = 3
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 45 * time.Second
	}
	if c.CandidateTimeout <= 0 {
		c.CandidateTimeout = 2 * c.PageTimeout
	}
	return c
}
