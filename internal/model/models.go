package model

import (
	"time"
)

// SoldStatus 表示商品的售出状态。
type SoldStatus string

const (
	StatusSold    SoldStatus = "sold"
	StatusActive  SoldStatus = "active"
	StatusUnknown SoldStatus = "unknown"
)

// CatalogEntry 是图鉴中的一项（编号 1..151 与标准名称）。
type CatalogEntry struct {
	Number int    `json:"no"`
	Name   string `json:"name"`
}

// CandidateLink 是搜索页中发现的候选商品链接。
//
// URL 已经是去掉 query/fragment 的绝对地址。
type CandidateLink struct {
	URL          string
	Keyword      string
	StatusFilter string
}

// Price 是归一化后的价格（整数金额 + 货币代码）。
type Price struct {
	Amount   int64
	Currency string
}

// ListingDetail 是单个商品页的提取结果，只在一次候选处理中存在。
type ListingDetail struct {
	Title        string
	RawPriceText string
	Price        *Price
	SoldStatus   SoldStatus
	SourceURL    string
}

// Record 是最终写入快照的一条记录。
//
// CatalogNumber 一定是图鉴中存在的编号；SourceURL 在同一快照内唯一。
// CapturedAt 是抓取时间，不是真实成交时间。
type Record struct {
	CatalogNumber int        `json:"catalog_number"`
	CanonicalName string     `json:"canonical_name"`
	Title         string     `json:"title"`
	PriceAmount   *int64     `json:"price_amount"`
	Currency      *string    `json:"currency"`
	SoldStatus    SoldStatus `json:"sold_status"`
	SourceURL     string     `json:"source_url"`
	Keyword       string     `json:"keyword"`
	CapturedAt    time.Time  `json:"captured_at"`
}

// Diagnostics 记录单个 (关键词, 状态过滤) 组合的运行情况。
type Diagnostics struct {
	Keyword        string `json:"keyword"`
	StatusFilter   string `json:"status_filter"`
	SearchURL      string `json:"search_url"`
	LinksCollected int    `json:"links_collected"`
	ItemsVisited   int    `json:"items_visited"`
	ItemsMatched   int    `json:"items_matched"`
	NullPrice      int    `json:"null_price"`
	Errors         int    `json:"errors"`
	MissingTitle   int    `json:"missing_title"`
	Unresolved     int    `json:"unresolved"`
	SkippedVisited int    `json:"skipped_visited"`
	Duplicates     int    `json:"duplicates"`
	UnknownStatus  int    `json:"unknown_status"`
	NameMismatch   int    `json:"name_mismatch"`
	BudgetSkipped  int    `json:"budget_skipped"`
	EmptyResult    bool   `json:"empty_result"`
	Note           string `json:"note,omitempty"`
}

// Snapshot 是一次运行的完整输出，每次运行整体覆盖上一次的快照。
type Snapshot struct {
	GeneratedAt time.Time     `json:"updated_at"`
	TotalCount  int           `json:"count"`
	Records     []Record      `json:"items"`
	Diagnostics []Diagnostics `json:"debug"`
}

// ConfirmedSold 返回确认已售出的记录（排除 active 与 unknown）。
func (s *Snapshot) ConfirmedSold() []Record {
	out := make([]Record, 0, len(s.Records))
	for _, r := range s.Records {
		if r.SoldStatus == StatusSold {
			out = append(out, r)
		}
	}
	return out
}

// SaleRecord 是快照在 MySQL 中的镜像行。
//
// 表内容每次运行整体替换，不保留历史。
type SaleRecord struct {
	ID            uint      `gorm:"primaryKey"`
	CatalogNumber int       `gorm:"index;not null"`
	CanonicalName string    `gorm:"type:varchar(64);not null"`
	Title         string    `gorm:"type:varchar(512)"`
	PriceAmount   *int64    // NULL 表示价格未知
	Currency      *string   `gorm:"type:varchar(8)"`
	SoldStatus    string    `gorm:"type:varchar(16);index"`
	SourceURL     string    `gorm:"type:varchar(191);uniqueIndex;not null"`
	Keyword       string    `gorm:"type:varchar(191)"`
	CapturedAt    time.Time `gorm:"not null"`
}
