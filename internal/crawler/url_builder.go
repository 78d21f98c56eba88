package crawler

import (
	"net/url"
	"strings"
)

const DefaultSearchBase = "https://jp.mercari.com/search"

// SearchQuery 描述一次搜索页请求。
type SearchQuery struct {
	Keyword string
	// StatusFilter 直接作为 status 参数，例如 "sold_out|trading"，为空时不限制。
	StatusFilter string
	// Sort/Order 为空时使用站点默认的 created_time/desc。
	Sort  string
	Order string
}

// BuildSearchURL 构造 Mercari 搜索页面的 URL。base 为空时使用 DefaultSearchBase。
func BuildSearchURL(base string, q SearchQuery) string {
	if base == "" {
		base = DefaultSearchBase
	}
	values := url.Values{}

	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		values.Set("keyword", kw)
	}
	if q.StatusFilter != "" {
		values.Set("status", q.StatusFilter)
	}
	values.Set("sort", mapSortBy(q.Sort))
	values.Set("order", mapSortOrder(q.Order))

	qs := values.Encode()
	qs = strings.ReplaceAll(qs, "+", "%20")
	return base + "?" + qs
}

// mapSortBy 只接受站点支持的排序字段，其余回落到 created_time。
func mapSortBy(s string) string {
	switch strings.ToLower(s) {
	case "price", "score", "num_likes":
		return strings.ToLower(s)
	default:
		return "created_time"
	}
}

func mapSortOrder(o string) string {
	if strings.EqualFold(o, "asc") {
		return "asc"
	}
	return "desc"
}
