package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/silencecat2007/pokepark-kanto/internal/catalog"
	"github.com/silencecat2007/pokepark-kanto/internal/crawler"
	"github.com/silencecat2007/pokepark-kanto/internal/model"
	"github.com/silencecat2007/pokepark-kanto/internal/pkg/logger"
)

// 商品页：标题 / 正文
var listings = map[string]string{
	// 编号 + 名称 + 价格 + 售出
	"m1": `<html><head><meta property="og:title" content="ポケパーク カントー No.0025 ピカチュウ ピンバッジ - メルカリ"></head>
<body><h1>ignored</h1><p>¥3,500</p><p>売り切れ</p></body></html>`,
	// 无编号，最长名称匹配
	"m2": `<html><head><title>ピンバッジ レアコイル ポケパーク | メルカリ</title></head>
<body><p>￥1,200</p><button>購入手続きへ</button></body></html>`,
	// 价格无法解析
	"m3": `<html><head><title>No.145 サンダー</title></head><body><p>価格は応相談</p><p>SOLD</p></body></html>`,
	// 无标题
	"m4": `<html><head></head><body><p>¥500</p></body></html>`,
	// 无法解析身份
	"m5": `<html><head><title>ノーブランド 缶バッジ</title></head><body><p>¥300</p></body></html>`,
	// 编号与名称不一致，编号优先
	"m7": `<html><head><title>No.025 ミュウ</title></head><body><p>¥9,800</p><p>売り切れ</p></body></html>`,
}

const searchLinks = `<div data-testid="item-cell"><a href="/item/m1?ref=search">1</a></div>
<div data-testid="item-cell"><a href="/item/m2">2</a></div>
<a href="/item/m3#photos">3</a>
<li data-testid="cell"><a href="/item/m4">4</a></li>
<a href="/item/m5">5</a>
<a href="/item/m6">6</a>
<script>{"items":[{"id":"m7","url":"\/item\/m7"}]}</script>`

func newMarketServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch r.URL.Query().Get("keyword") {
		case "none":
			fmt.Fprint(w, `<html><head><title>検索</title></head><body><div class="merEmptyState">出品された商品がありません</div></body></html>`)
		case "down":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			fmt.Fprintf(w, `<html><head><title>検索</title></head><body>%s</body></html>`, searchLinks)
		}
	})
	mux.HandleFunc("/item/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/item/")
		if id == "slow" {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		body, ok := listings[id]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestRunner(t *testing.T, srv *httptest.Server, cfg RunConfig, provider crawler.PageProvider) *Runner {
	t.Helper()
	reg, err := catalog.New(catalog.DefaultEntries())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if provider == nil {
		provider = crawler.NewStaticProvider(crawler.StaticOptions{PageTimeout: 2 * time.Second}, logger.Discard())
	}
	cfg.SearchBase = srv.URL + "/search"
	r, err := NewRunner(cfg, Deps{Provider: provider, Registry: reg, Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return r
}

func recordByURL(snap model.Snapshot, suffix string) (model.Record, bool) {
	for _, r := range snap.Records {
		if strings.HasSuffix(r.SourceURL, suffix) {
			return r, true
		}
	}
	return model.Record{}, false
}

// ============================================================================
// 完整运行
// ============================================================================

func TestRunner_Run(t *testing.T) {
	srv := newMarketServer(t)
	r := newTestRunner(t, srv, RunConfig{
		Keywords:      []string{"kanto", "none"},
		StatusFilters: []string{"sold_out|trading", "on_sale"},
	}, nil)

	snap, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if snap.TotalCount != 4 || len(snap.Records) != 4 {
		t.Fatalf("count = %d, records = %+v", snap.TotalCount, snap.Records)
	}
	if len(snap.Diagnostics) != 4 {
		t.Fatalf("diagnostics = %d", len(snap.Diagnostics))
	}

	t.Run("marker_name_price_sold", func(t *testing.T) {
		rec, ok := recordByURL(snap, "/item/m1")
		if !ok {
			t.Fatal("m1 missing")
		}
		if rec.CatalogNumber != 25 || rec.CanonicalName != "ピカチュウ" || rec.SoldStatus != model.StatusSold {
			t.Fatalf("m1 = %+v", rec)
		}
		if rec.PriceAmount == nil || *rec.PriceAmount != 3500 || *rec.Currency != "JPY" {
			t.Fatalf("m1 price = %v", rec.PriceAmount)
		}
		if rec.SourceURL != srv.URL+"/item/m1" || rec.Keyword != "kanto" {
			t.Fatalf("m1 source = %s keyword = %s", rec.SourceURL, rec.Keyword)
		}
	})

	t.Run("longest_name_match", func(t *testing.T) {
		rec, ok := recordByURL(snap, "/item/m2")
		if !ok {
			t.Fatal("m2 missing")
		}
		if rec.CatalogNumber != 82 || rec.CanonicalName != "レアコイル" || rec.SoldStatus != model.StatusActive {
			t.Fatalf("m2 = %+v", rec)
		}
	})

	t.Run("null_price_retained", func(t *testing.T) {
		rec, ok := recordByURL(snap, "/item/m3")
		if !ok {
			t.Fatal("m3 missing")
		}
		if rec.CatalogNumber != 145 || rec.PriceAmount != nil || rec.Currency != nil {
			t.Fatalf("m3 = %+v", rec)
		}
	})

	t.Run("number_wins_over_name", func(t *testing.T) {
		rec, ok := recordByURL(snap, "/item/m7")
		if !ok {
			t.Fatal("m7 missing")
		}
		if rec.CatalogNumber != 25 || rec.CanonicalName != "ピカチュウ" {
			t.Fatalf("m7 = %+v", rec)
		}
	})

	t.Run("ordered_by_number", func(t *testing.T) {
		for i := 1; i < len(snap.Records); i++ {
			if snap.Records[i-1].CatalogNumber > snap.Records[i].CatalogNumber {
				t.Fatalf("records not ordered: %d before %d", snap.Records[i-1].CatalogNumber, snap.Records[i].CatalogNumber)
			}
		}
		if len(snap.ConfirmedSold()) != 3 {
			t.Fatalf("confirmed sold = %d", len(snap.ConfirmedSold()))
		}
	})

	t.Run("diagnostics", func(t *testing.T) {
		first := snap.Diagnostics[0]
		want := model.Diagnostics{
			Keyword:        "kanto",
			StatusFilter:   "sold_out|trading",
			SearchURL:      first.SearchURL,
			LinksCollected: 7,
			ItemsVisited:   7,
			ItemsMatched:   4,
			NullPrice:      1,
			Errors:         1,
			MissingTitle:   1,
			Unresolved:     1,
			NameMismatch:   1,
		}
		if first != want {
			t.Fatalf("diag[0] = %+v\nwant %+v", first, want)
		}
		if !strings.Contains(first.SearchURL, "status=sold_out%7Ctrading") {
			t.Fatalf("search url = %s", first.SearchURL)
		}

		// 第二个过滤条件找到相同链接，全部跳过
		second := snap.Diagnostics[1]
		if second.LinksCollected != 7 || second.SkippedVisited != 7 || second.ItemsVisited != 0 {
			t.Fatalf("diag[1] = %+v", second)
		}
	})

	t.Run("empty_result_proceeds", func(t *testing.T) {
		for _, d := range snap.Diagnostics[2:] {
			if d.Keyword != "none" || !d.EmptyResult || d.Note == "" || d.LinksCollected != 0 {
				t.Fatalf("empty diag = %+v", d)
			}
		}
	})
}

func TestRunner_VisitBudget(t *testing.T) {
	srv := newMarketServer(t)
	r := newTestRunner(t, srv, RunConfig{
		Keywords:      []string{"kanto"},
		StatusFilters: []string{"sold_out|trading"},
		MaxItemVisits: 2,
	}, nil)

	snap, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	d := snap.Diagnostics[0]
	if d.ItemsVisited != 2 || d.BudgetSkipped != 5 {
		t.Fatalf("diag = %+v", d)
	}
	if snap.TotalCount != 2 {
		t.Fatalf("count = %d", snap.TotalCount)
	}
}

func TestRunner_SearchBlocked(t *testing.T) {
	srv := newMarketServer(t)
	r := newTestRunner(t, srv, RunConfig{
		Keywords:      []string{"down", "kanto"},
		StatusFilters: []string{"sold_out|trading"},
	}, nil)

	snap, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	blocked := snap.Diagnostics[0]
	if blocked.Errors != 1 || blocked.Note != "search failed: blocked" || blocked.EmptyResult {
		t.Fatalf("blocked diag = %+v", blocked)
	}
	if snap.TotalCount != 4 {
		t.Fatalf("run must continue after a failed search, count = %d", snap.TotalCount)
	}
}

// ============================================================================
// 候选边界
// ============================================================================

type panicProvider struct {
	crawler.PageProvider
	panicOn string
}

func (p panicProvider) Open(ctx context.Context, rawURL string) (crawler.Page, error) {
	if strings.HasSuffix(rawURL, p.panicOn) {
		panic("renderer crashed")
	}
	return p.PageProvider.Open(ctx, rawURL)
}

func TestRunner_CandidatePanicRecovered(t *testing.T) {
	srv := newMarketServer(t)
	static := crawler.NewStaticProvider(crawler.StaticOptions{}, logger.Discard())
	r := newTestRunner(t, srv, RunConfig{
		Keywords:      []string{"kanto"},
		StatusFilters: []string{"sold_out|trading"},
	}, panicProvider{PageProvider: static, panicOn: "/item/m1"})

	snap, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok := recordByURL(snap, "/item/m1"); ok {
		t.Fatal("panicking candidate must not produce a record")
	}
	d := snap.Diagnostics[0]
	if d.Errors != 2 || d.ItemsMatched != 3 {
		t.Fatalf("diag = %+v", d)
	}
}

func TestRunner_CandidateTimeout(t *testing.T) {
	srv := newMarketServer(t)
	r := newTestRunner(t, srv, RunConfig{
		Keywords:         []string{"kanto"},
		StatusFilters:    []string{"sold_out|trading"},
		CandidateTimeout: 100 * time.Millisecond,
	}, nil)

	o := r.candidate(context.Background(), model.CandidateLink{URL: srv.URL + "/item/slow", Keyword: "kanto"})
	if o.Kind != KindNetwork || o.ErrClass != crawler.ErrClassTimeout {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestRunner_Canceled(t *testing.T) {
	srv := newMarketServer(t)
	r := newTestRunner(t, srv, RunConfig{Keywords: []string{"kanto"}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewRunner_RequiresDeps(t *testing.T) {
	if _, err := NewRunner(RunConfig{}, Deps{}); err == nil {
		t.Fatal("expected error without provider")
	}
	static := crawler.NewStaticProvider(crawler.StaticOptions{}, nil)
	if _, err := NewRunner(RunConfig{}, Deps{Provider: static}); err == nil {
		t.Fatal("expected error without registry")
	}
}

func TestOutcome_Apply(t *testing.T) {
	amount := int64(100)
	tests := []struct {
		name    string
		outcome Outcome
		check   func(d model.Diagnostics) bool
	}{
		{"matched_with_price", Outcome{Kind: KindMatched, Record: model.Record{PriceAmount: &amount, SoldStatus: model.StatusSold}},
			func(d model.Diagnostics) bool { return d.ItemsVisited == 1 && d.ItemsMatched == 1 && d.NullPrice == 0 }},
		{"matched_unknown_status", Outcome{Kind: KindMatched, Record: model.Record{SoldStatus: model.StatusUnknown}},
			func(d model.Diagnostics) bool { return d.NullPrice == 1 && d.UnknownStatus == 1 }},
		{"duplicate", Outcome{Kind: KindDuplicate},
			func(d model.Diagnostics) bool { return d.ItemsVisited == 1 && d.Duplicates == 1 && d.ItemsMatched == 0 }},
		{"skipped_visited", Outcome{Kind: KindSkippedVisited},
			func(d model.Diagnostics) bool { return d.ItemsVisited == 0 && d.SkippedVisited == 1 }},
		{"budget", Outcome{Kind: KindBudgetSkipped},
			func(d model.Diagnostics) bool { return d.ItemsVisited == 0 && d.BudgetSkipped == 1 }},
		{"network", Outcome{Kind: KindNetwork, ErrClass: crawler.ErrClassBlocked},
			func(d model.Diagnostics) bool { return d.ItemsVisited == 1 && d.Errors == 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d model.Diagnostics
			tt.outcome.apply(&d, crawler.BackendStatic)
			if !tt.check(d) {
				t.Fatalf("diag = %+v", d)
			}
		})
	}
}
