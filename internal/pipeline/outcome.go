package pipeline

import (
	"github.com/silencecat2007/pokepark-kanto/internal/crawler"
	"github.com/silencecat2007/pokepark-kanto/internal/model"
	"github.com/silencecat2007/pokepark-kanto/internal/pkg/metrics"
)

// Kind 是单个候选链接的处理结果类型。
type Kind string

const (
	KindMatched        Kind = "matched"
	KindDuplicate      Kind = "duplicate"
	KindMissingTitle   Kind = "missing_title"
	KindUnresolved     Kind = "unresolved"
	KindNetwork        Kind = "network_error"
	KindSkippedVisited Kind = "skipped_visited"
	KindBudgetSkipped  Kind = "budget_skipped"
)

// Outcome 是候选链接的处理结果。每个候选都会产生一个 Outcome 并计入诊断。
type Outcome struct {
	Kind Kind
	URL  string
	// Record 仅在 KindMatched / KindDuplicate 时有效。
	Record model.Record
	// NameMismatch 表示按编号解析成功但标题中的名称与标准名称不一致。
	NameMismatch bool
	ErrClass     crawler.ErrorClass
	Err          error
}

// fetched 表示该候选是否实际打开了商品页。
func (o Outcome) fetched() bool {
	switch o.Kind {
	case KindSkippedVisited, KindBudgetSkipped:
		return false
	default:
		return true
	}
}

// apply 把结果计入诊断与指标。
func (o Outcome) apply(d *model.Diagnostics, backend string) {
	if o.fetched() {
		d.ItemsVisited++
	}
	metrics.CandidateOutcomesTotal.WithLabelValues(string(o.Kind)).Inc()

	switch o.Kind {
	case KindMatched:
		d.ItemsMatched++
		if o.Record.PriceAmount == nil {
			d.NullPrice++
			metrics.NullPriceTotal.Inc()
		}
		if o.Record.SoldStatus == model.StatusUnknown {
			d.UnknownStatus++
		}
		if o.NameMismatch {
			d.NameMismatch++
		}
	case KindDuplicate:
		d.Duplicates++
	case KindMissingTitle:
		d.MissingTitle++
	case KindUnresolved:
		d.Unresolved++
	case KindNetwork:
		d.Errors++
		metrics.CrawlerErrorsTotal.WithLabelValues(backend, o.ErrClass.String()).Inc()
	case KindSkippedVisited:
		d.SkippedVisited++
	case KindBudgetSkipped:
		d.BudgetSkipped++
	}
}
