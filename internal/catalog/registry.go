// Package catalog 管理 151 款图鉴条目，并将商品标题解析为图鉴编号。
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/silencecat2007/pokepark-kanto/internal/model"
)

const (
	MinNumber = 1
	MaxNumber = 151
)

var ErrRegistryContamination = errors.New("catalog registry contaminated")

// genericTokens 出现在标题里的通用词，绝不能出现在标准名称中，
// 否则子串匹配会把任意标题都解析成该条目。
var genericTokens = []string{
	"no.",
	"ピンバッジ",
	"ポケパーク",
	"セット",
	"まとめ",
	"送料無料",
	"新品",
	"未使用",
	"pin",
	"badge",
}

// ContaminationError 描述导致注册表不可用的具体条目。
type ContaminationError struct {
	Number int
	Name   string
	Reason string
}

func (e *ContaminationError) Error() string {
	if e.Number == 0 && e.Name == "" {
		return fmt.Sprintf("catalog registry contaminated: %s", e.Reason)
	}
	return fmt.Sprintf("catalog registry contaminated: no=%d name=%q: %s", e.Number, e.Name, e.Reason)
}

func (e *ContaminationError) Unwrap() error { return ErrRegistryContamination }

// Registry 是加载后只读的图鉴表，可在多个 goroutine 间共享。
type Registry struct {
	byNumber map[int]model.CatalogEntry
	entries  []model.CatalogEntry
	// 按名称长度降序（同长度按编号升序），子串匹配时优先命中更长的名称
	longestFirst []model.CatalogEntry
}

// New 校验并构建注册表。校验失败返回 *ContaminationError。
func New(entries []model.CatalogEntry) (*Registry, error) {
	if err := CheckIntegrity(entries); err != nil {
		return nil, err
	}

	r := &Registry{
		byNumber: make(map[int]model.CatalogEntry, len(entries)),
		entries:  make([]model.CatalogEntry, len(entries)),
	}
	copy(r.entries, entries)
	sort.Slice(r.entries, func(i, j int) bool { return r.entries[i].Number < r.entries[j].Number })
	for _, e := range r.entries {
		r.byNumber[e.Number] = e
	}

	r.longestFirst = make([]model.CatalogEntry, len(r.entries))
	copy(r.longestFirst, r.entries)
	sort.SliceStable(r.longestFirst, func(i, j int) bool {
		li := utf8.RuneCountInString(r.longestFirst[i].Name)
		lj := utf8.RuneCountInString(r.longestFirst[j].Name)
		if li != lj {
			return li > lj
		}
		return r.longestFirst[i].Number < r.longestFirst[j].Number
	})
	return r, nil
}

// Lookup 按编号查找条目。
func (r *Registry) Lookup(number int) (model.CatalogEntry, bool) {
	e, ok := r.byNumber[number]
	return e, ok
}

// Entries 返回按编号排序的全部条目副本。
func (r *Registry) Entries() []model.CatalogEntry {
	out := make([]model.CatalogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Registry) Len() int { return len(r.entries) }

// CheckIntegrity 校验条目：编号 1..151 完整且唯一，名称非空、唯一且不含通用词。
func CheckIntegrity(entries []model.CatalogEntry) error {
	if len(entries) != MaxNumber {
		return &ContaminationError{Reason: fmt.Sprintf("expected %d entries, got %d", MaxNumber, len(entries))}
	}

	seenNumber := make(map[int]bool, len(entries))
	seenName := make(map[string]int, len(entries))
	for _, e := range entries {
		if e.Number < MinNumber || e.Number > MaxNumber {
			return &ContaminationError{Number: e.Number, Name: e.Name, Reason: "number out of range"}
		}
		if seenNumber[e.Number] {
			return &ContaminationError{Number: e.Number, Name: e.Name, Reason: "duplicate number"}
		}
		seenNumber[e.Number] = true

		name := strings.TrimSpace(e.Name)
		if name == "" {
			return &ContaminationError{Number: e.Number, Reason: "empty name"}
		}
		if other, ok := seenName[name]; ok {
			return &ContaminationError{Number: e.Number, Name: e.Name, Reason: fmt.Sprintf("duplicate name (also no=%d)", other)}
		}
		seenName[name] = e.Number

		lower := strings.ToLower(fold(name))
		for _, tok := range genericTokens {
			if strings.Contains(lower, tok) {
				return &ContaminationError{Number: e.Number, Name: e.Name, Reason: fmt.Sprintf("contains generic token %q", tok)}
			}
		}
	}
	return nil
}
