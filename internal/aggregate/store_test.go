package aggregate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/silencecat2007/pokepark-kanto/internal/model"
)

func rec(no int, url string, at time.Time) model.Record {
	return model.Record{
		CatalogNumber: no,
		CanonicalName: "name",
		Title:         "title",
		SoldStatus:    model.StatusSold,
		SourceURL:     url,
		CapturedAt:    at,
	}
}

// ============================================================================
// Store
// ============================================================================

func TestStore_Add(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewStore()

	if !s.Add(rec(25, "https://jp.mercari.com/item/m1?ref=a", base)) {
		t.Fatal("first add rejected")
	}
	// 只有 query/fragment 不同，视为同一个商品
	if s.Add(rec(1, "https://JP.mercari.com/item/m1#top", base.Add(time.Second))) {
		t.Fatal("duplicate accepted")
	}
	if !s.Add(rec(1, "https://jp.mercari.com/item/m2", base)) {
		t.Fatal("distinct add rejected")
	}

	if s.Len() != 2 || s.Duplicates() != 1 {
		t.Fatalf("len=%d duplicates=%d", s.Len(), s.Duplicates())
	}

	snap := s.Snapshot(base, nil)
	for _, r := range snap.Records {
		if r.SourceURL == "https://jp.mercari.com/item/m1" && r.CatalogNumber != 25 {
			t.Fatalf("first-seen record must win, got %+v", r)
		}
	}
}

func TestStore_Snapshot(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewStore()
	s.Add(rec(150, "https://jp.mercari.com/item/a", base))
	s.Add(rec(25, "https://jp.mercari.com/item/b", base.Add(2*time.Second)))
	s.Add(rec(25, "https://jp.mercari.com/item/c", base.Add(time.Second)))
	s.Add(rec(1, "https://jp.mercari.com/item/d", base))
	s.Add(rec(25, "https://jp.mercari.com/item/e", base.Add(time.Second)))

	snap := s.Snapshot(base, []model.Diagnostics{{Keyword: "k"}})

	want := []string{"d", "c", "e", "b", "a"}
	if snap.TotalCount != len(want) || len(snap.Records) != len(want) {
		t.Fatalf("count=%d records=%d", snap.TotalCount, len(snap.Records))
	}
	for i, id := range want {
		if got := snap.Records[i].SourceURL; got != "https://jp.mercari.com/item/"+id {
			t.Errorf("records[%d] = %s, want item/%s", i, got, id)
		}
	}
	if len(snap.Diagnostics) != 1 {
		t.Fatalf("diagnostics lost")
	}

	// Snapshot 不影响后续 Add
	s.Add(rec(2, "https://jp.mercari.com/item/f", base))
	if len(snap.Records) != 5 {
		t.Fatalf("snapshot must be a copy")
	}
}

func TestStore_EmptySnapshot(t *testing.T) {
	snap := NewStore().Snapshot(time.Now(), nil)
	if snap.TotalCount != 0 || snap.Records == nil || snap.Diagnostics == nil {
		t.Fatalf("unexpected empty snapshot: %+v", snap)
	}
}

// ============================================================================
// 快照文件
// ============================================================================

func TestWriteReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "sold_prices.json")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	amount := int64(3500)
	currency := "JPY"
	first := model.Snapshot{
		GeneratedAt: at,
		TotalCount:  1,
		Records: []model.Record{{
			CatalogNumber: 25,
			CanonicalName: "ピカチュウ",
			Title:         "ポケパーク カントー No.025 ピカチュウ",
			PriceAmount:   &amount,
			Currency:      &currency,
			SoldStatus:    model.StatusSold,
			SourceURL:     "https://jp.mercari.com/item/m1",
			CapturedAt:    at,
		}},
	}
	if err := WriteFile(path, first); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.TotalCount != 1 || *got.Records[0].PriceAmount != 3500 || !got.GeneratedAt.Equal(at) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	// 第二次写入整体覆盖，不留临时文件
	if err := WriteFile(path, model.Snapshot{GeneratedAt: at}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err = ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.TotalCount != 0 || len(got.Records) != 0 {
		t.Fatalf("snapshot not replaced: %+v", got)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected only the snapshot file, got %d entries", len(entries))
	}

	raw, _ := os.ReadFile(path)
	for _, key := range []string{`"updated_at"`, `"count"`, `"items": []`, `"debug": []`} {
		if !strings.Contains(string(raw), key) {
			t.Errorf("output missing %s", key)
		}
	}
}

func TestReadFile_Missing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "none.json")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
