// Package aggregate 汇总一次运行产生的记录：按来源地址去重、排序成快照，
// 并负责快照的落盘与 MySQL 镜像。
package aggregate

import (
	"sort"
	"sync"
	"time"

	"github.com/silencecat2007/pokepark-kanto/internal/crawler"
	"github.com/silencecat2007/pokepark-kanto/internal/model"
)

// Store 是运行期内的记录集合，同一来源地址只保留第一次出现的记录。
type Store struct {
	mu         sync.Mutex
	byURL      map[string]struct{}
	records    []model.Record
	duplicates int
}

func NewStore() *Store {
	return &Store{byURL: make(map[string]struct{})}
}

// Add 加入一条记录。来源地址已存在时丢弃并返回 false。
func (s *Store) Add(r model.Record) bool {
	key := r.SourceURL
	if norm, ok := crawler.NormalizeURL(r.SourceURL); ok {
		key = norm
		r.SourceURL = norm
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byURL[key]; dup {
		s.duplicates++
		return false
	}
	s.byURL[key] = struct{}{}
	s.records = append(s.records, r)
	return true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Duplicates 返回被丢弃的重复记录数。
func (s *Store) Duplicates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duplicates
}

// Snapshot 按图鉴编号升序、抓取时间升序排列记录，其余保持加入顺序。
func (s *Store) Snapshot(generatedAt time.Time, diags []model.Diagnostics) model.Snapshot {
	s.mu.Lock()
	records := make([]model.Record, len(s.records))
	copy(records, s.records)
	s.mu.Unlock()

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CatalogNumber != records[j].CatalogNumber {
			return records[i].CatalogNumber < records[j].CatalogNumber
		}
		return records[i].CapturedAt.Before(records[j].CapturedAt)
	})
	if diags == nil {
		diags = []model.Diagnostics{}
	}
	return model.Snapshot{
		GeneratedAt: generatedAt,
		TotalCount:  len(records),
		Records:     records,
		Diagnostics: diags,
	}
}
