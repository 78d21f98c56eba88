package catalog

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/silencecat2007/pokepark-kanto/internal/model"
)

var ErrUnresolvedIdentity = errors.New("unresolved catalog identity")

// markerRe 匹配 "No.25"、"No 0025"、"№25"、"Ｎｏ．25" 等编号标记。
// 紧贴在英文字母后的标记只接受大写 N 加句点的写法（"KantoNo.25"），"Casino 25" 不算。
// 末尾要求非数字，避免把 "No.12345" 截成 1234。
var markerRe = regexp.MustCompile(`(?:(?i:\bNo\.?)|No\.|№|(?i:Ｎｏ[.．]?))\s*0*(\d{1,4})(?:\D|$)`)

// 编号后名称片段的分隔符
var nameSeparators = "/|｜・、,，()（）[]【】「」『』<>＜＞ \t　-－~〜:："

// Match 是一次标题解析的结果。Name 总是注册表中的标准名称。
type Match struct {
	Number int
	Name   string
	// ByMarker 表示通过编号标记解析（否则为名称子串匹配）。
	ByMarker bool
	// NameConfirmed 表示标题中的名称与编号对应的标准名称一致。
	// 名称匹配路径下恒为 true。
	NameConfirmed bool
}

// Matcher 将自由文本标题解析为图鉴条目。只读，可并发使用。
type Matcher struct {
	reg *Registry
}

func NewMatcher(reg *Registry) *Matcher {
	return &Matcher{reg: reg}
}

// Match 解析标题：先找编号标记，再按名称从长到短做子串匹配。
func (m *Matcher) Match(title string) (Match, error) {
	text := fold(title)

	if res, ok := m.matchMarker(text); ok {
		return res, nil
	}
	if e, ok := m.matchName(text); ok {
		return Match{Number: e.Number, Name: e.Name, NameConfirmed: true}, nil
	}
	return Match{}, ErrUnresolvedIdentity
}

func (m *Matcher) matchMarker(text string) (Match, bool) {
	for _, loc := range markerRe.FindAllStringSubmatchIndex(text, -1) {
		n, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		e, ok := m.reg.Lookup(n)
		if !ok {
			// 超出范围的编号视为没有编号
			continue
		}
		return Match{
			Number:        e.Number,
			Name:          e.Name,
			ByMarker:      true,
			NameConfirmed: nameAgrees(text, text[loc[3]:], e.Name),
		}, true
	}
	return Match{}, false
}

func (m *Matcher) matchName(text string) (model.CatalogEntry, bool) {
	for _, e := range m.reg.longestFirst {
		if strings.Contains(text, e.Name) {
			return e, true
		}
	}
	return model.CatalogEntry{}, false
}

// nameAgrees 比较编号后的第一个名称片段与标准名称；编号后没有名称时退回整段标题。
func nameAgrees(title, tail, canonical string) bool {
	token := firstNameToken(tail)
	if token == "" {
		return strings.Contains(title, canonical)
	}
	return strings.HasPrefix(token, canonical)
}

// firstNameToken 跳过 "ピンバッジ" 等通用词，返回第一个可能是名称的片段。
func firstNameToken(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(nameSeparators, r)
	})
	for _, f := range fields {
		if !isGeneric(f) {
			return f
		}
	}
	return ""
}

func isGeneric(s string) bool {
	lower := strings.ToLower(s)
	for _, tok := range genericTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// fold 统一全角/半角：全角英数转半角，半角片假名转全角，
// 再做 NFC 组合（ﾋﾟ 折叠后是 ヒ + 组合用半浊点）。
func fold(s string) string {
	return norm.NFC.String(width.Fold.String(s))
}
