package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/silencecat2007/pokepark-kanto/internal/model"
	"github.com/silencecat2007/pokepark-kanto/internal/price"
)

var ErrMissingTitle = errors.New("listing has no title")

var (
	DefaultSoldMarkers   = []string{"売り切れ", "SOLD", "取引終了", "売却済み"}
	DefaultActiveMarkers = []string{"購入手続きへ"}
)

// 站点标题后缀
var titleSuffixes = []string{"- メルカリ", "| メルカリ", "by メルカリ", "- Mercari", "| Mercari"}

// 结构化状态值（小写，schema.org 地址只取最后一段）
var (
	structuredSold = map[string]bool{
		"soldout":              true,
		"outofstock":           true,
		"sold_out":             true,
		"trading":              true,
		"item_status_sold_out": true,
		"item_status_trading":  true,
		"discontinued":         true,
	}
	structuredActive = map[string]bool{
		"instock":             true,
		"on_sale":             true,
		"onsale":              true,
		"item_status_on_sale": true,
	}
)

// 结构化 JSON 块
const jsonBlockSelector = `script[type="application/ld+json"], script#__NEXT_DATA__`

// ExtractOptions 配置售出/在售的文本标记。
type ExtractOptions struct {
	SoldMarkers   []string
	ActiveMarkers []string
}

// Extractor 从商品页中提取标题、价格与售出状态。
type Extractor struct {
	opts   ExtractOptions
	logger *slog.Logger
}

func NewExtractor(opts ExtractOptions, logger *slog.Logger) *Extractor {
	if len(opts.SoldMarkers) == 0 {
		opts.SoldMarkers = DefaultSoldMarkers
	}
	if len(opts.ActiveMarkers) == 0 {
		opts.ActiveMarkers = DefaultActiveMarkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{opts: opts, logger: logger}
}

// Extract 读取页面源码与可见文本并提取详情。
func (e *Extractor) Extract(ctx context.Context, page Page, sourceURL string) (model.ListingDetail, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return model.ListingDetail{}, err
	}
	text, err := page.Text(ctx)
	if err != nil {
		e.logger.Debug("read visible text failed", slog.String("url", sourceURL), slog.String("error", err.Error()))
		text = ""
	}
	return e.ExtractDocument(html, text, sourceURL)
}

// ExtractDocument 对已获取的源码执行提取，不做任何 I/O。
func (e *Extractor) ExtractDocument(html, text, sourceURL string) (model.ListingDetail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return model.ListingDetail{}, fmt.Errorf("parse listing html: %w", err)
	}
	blocks := jsonBlocks(doc)

	detail := model.ListingDetail{SourceURL: sourceURL}
	detail.Title = extractTitle(doc)
	if detail.Title == "" {
		return detail, ErrMissingTitle
	}

	if p, raw, ok := extractPrice(doc, blocks, text); ok {
		detail.Price = &p
		detail.RawPriceText = raw
	}
	detail.SoldStatus = e.soldStatus(doc, blocks, text)
	return detail, nil
}

// ============================================================================
// 标题
// ============================================================================

var titleStrategies = []func(doc *goquery.Document) string{
	func(doc *goquery.Document) string {
		for _, sel := range []string{
			`meta[property="og:title"]`,
			`meta[name="twitter:title"]`,
			`meta[property="twitter:title"]`,
		} {
			if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
				return v
			}
		}
		return microdataName(doc)
	},
	func(doc *goquery.Document) string {
		return doc.Find("h1").First().Text()
	},
	func(doc *goquery.Document) string {
		return doc.Find("title").First().Text()
	},
}

// microdataName 返回商品的 itemprop="name"。
// 只接受最近的 itemscope 为 Product 或不在任何 itemscope 内的元素，
// 面包屑（BreadcrumbList/ListItem）、卖家等其他实体的 name 会被跳过。
func microdataName(doc *goquery.Document) string {
	var name string
	doc.Find(`[itemprop="name"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		scope := s.ParentsFiltered("[itemscope], [itemtype]").First()
		if scope.Length() > 0 {
			if t, _ := scope.Attr("itemtype"); !strings.Contains(t, "Product") {
				return true
			}
		}
		v := s.Text()
		if goquery.NodeName(s) == "meta" {
			v, _ = s.Attr("content")
		}
		if v = strings.TrimSpace(v); v != "" {
			name = v
			return false
		}
		return true
	})
	return name
}

func extractTitle(doc *goquery.Document) string {
	for _, fn := range titleStrategies {
		if t := cleanTitle(fn(doc)); t != "" {
			return t
		}
	}
	return ""
}

func cleanTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	for _, suffix := range titleSuffixes {
		s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
	}
	return s
}

// ============================================================================
// 价格
// ============================================================================

func extractPrice(doc *goquery.Document, blocks []any, text string) (model.Price, string, bool) {
	if p, raw, ok := structuredPrice(doc); ok {
		return p, raw, true
	}
	if p, raw, ok := jsonPrice(blocks); ok {
		return p, raw, true
	}
	if p, raw, ok := price.Find(text); ok {
		return p, raw, true
	}
	return model.Price{}, "", false
}

func structuredPrice(doc *goquery.Document) (model.Price, string, bool) {
	pairs := [][2]string{
		{`meta[property="product:price:amount"]`, `meta[property="product:price:currency"]`},
		{`meta[property="og:price:amount"]`, `meta[property="og:price:currency"]`},
		{`[itemprop="price"]`, `[itemprop="priceCurrency"]`},
	}
	for _, pair := range pairs {
		amount := attrOrText(doc.Find(pair[0]).First())
		if amount == "" {
			continue
		}
		currency := attrOrText(doc.Find(pair[1]).First())
		if p, ok := price.NormalizeAmount(amount, currency); ok {
			return p, amount, true
		}
	}
	return model.Price{}, "", false
}

func attrOrText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	if v, ok := sel.Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(sel.Text())
}

func jsonBlocks(doc *goquery.Document) []any {
	var out []any
	doc.Find(jsonBlockSelector).Each(func(_ int, s *goquery.Selection) {
		dec := json.NewDecoder(strings.NewReader(s.Text()))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil {
			out = append(out, v)
		}
	})
	return out
}

// jsonPrice 广度优先搜索任意层级中名称包含 price 的字段。
// 同层中 "price" 优先，其次是以 price 结尾的字段。
func jsonPrice(blocks []any) (model.Price, string, bool) {
	queue := append([]any(nil), blocks...)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		switch v := node.(type) {
		case []any:
			queue = append(queue, v...)
		case map[string]any:
			currency := siblingCurrency(v)
			for _, k := range priceKeys(v) {
				raw, ok := scalarString(v[k])
				if !ok {
					continue
				}
				if p, ok := price.NormalizeAmount(raw, currency); ok && p.Amount > 0 {
					return p, raw, true
				}
			}
			for _, k := range sortedKeys(v) {
				switch v[k].(type) {
				case map[string]any, []any:
					queue = append(queue, v[k])
				}
			}
		}
	}
	return model.Price{}, "", false
}

func priceKeys(m map[string]any) []string {
	var keys []string
	for k := range m {
		if strings.Contains(strings.ToLower(k), "price") {
			keys = append(keys, k)
		}
	}
	rank := func(k string) int {
		lk := strings.ToLower(k)
		switch {
		case lk == "price":
			return 0
		case strings.HasSuffix(lk, "price"):
			return 1
		default:
			return 2
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := rank(keys[i]), rank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
	return keys
}

func siblingCurrency(m map[string]any) string {
	for _, k := range sortedKeys(m) {
		if strings.Contains(strings.ToLower(k), "currency") {
			if s, ok := scalarString(m[k]); ok {
				return s
			}
		}
	}
	return ""
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ============================================================================
// 售出状态
// ============================================================================

func (e *Extractor) soldStatus(doc *goquery.Document, blocks []any, text string) model.SoldStatus {
	var structSold, structActive bool
	classify := func(v string) {
		token := strings.ToLower(strings.TrimSpace(v))
		if i := strings.LastIndex(token, "/"); i >= 0 {
			token = token[i+1:]
		}
		switch {
		case structuredSold[token]:
			structSold = true
		case structuredActive[token]:
			structActive = true
		}
	}

	for _, sel := range []string{
		`meta[property="product:availability"]`,
		`meta[property="og:availability"]`,
		`[itemprop="availability"]`,
	} {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			for _, attr := range []string{"content", "href"} {
				if v, ok := s.Attr(attr); ok {
					classify(v)
				}
			}
		})
	}
	walkStatusValues(blocks, classify)

	textSold := containsAny(text, e.opts.SoldMarkers)
	textActive := containsAny(text, e.opts.ActiveMarkers)

	switch {
	case structActive && (structSold || textSold):
		return model.StatusUnknown
	case structSold || textSold:
		return model.StatusSold
	case structActive || textActive:
		return model.StatusActive
	default:
		return model.StatusUnknown
	}
}

// walkStatusValues 对名称包含 status 或 availability 的字符串字段调用 fn。
func walkStatusValues(node any, fn func(string)) {
	switch v := node.(type) {
	case []any:
		for _, child := range v {
			walkStatusValues(child, fn)
		}
	case map[string]any:
		for k, child := range v {
			lk := strings.ToLower(k)
			if s, ok := child.(string); ok && (strings.Contains(lk, "status") || strings.Contains(lk, "availability")) {
				fn(s)
				continue
			}
			walkStatusValues(child, fn)
		}
	}
}
