package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/silencecat2007/pokepark-kanto/internal/pkg/logger"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>検索</title></head><body>
<div data-testid="item-cell"><a href="/item/m1?src=s">1</a></div>
<script>var x = "should not be visible";</script>
<p>ポケパーク</p></body></html>`))
	})
	mux.HandleFunc("/blocked", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/challenge", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Just a moment...</title></head><body></body></html>`))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStaticProvider_Open(t *testing.T) {
	srv := newTestServer(t)
	p := NewStaticProvider(StaticOptions{}, logger.Discard())
	ctx := context.Background()

	page, err := p.Open(ctx, srv.URL+"/search")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer page.Close()

	if !strings.HasPrefix(page.URL(), srv.URL) {
		t.Fatalf("url = %s", page.URL())
	}
	hrefs, err := page.Query(ctx, `[data-testid="item-cell"] a`, "href")
	if err != nil || len(hrefs) != 1 || hrefs[0] != "/item/m1?src=s" {
		t.Fatalf("query = %v, %v", hrefs, err)
	}
	text, _ := page.Text(ctx)
	if strings.Contains(text, "should not be visible") || !strings.Contains(text, "ポケパーク") {
		t.Fatalf("text = %q", text)
	}
	if more, err := page.LoadMore(ctx); more || err != nil {
		t.Fatalf("static LoadMore = %v, %v", more, err)
	}

	links, err := NewDiscoverer(DiscoveryOptions{}, logger.Discard()).Discover(ctx, page)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(links) != 1 || links[0] != srv.URL+"/item/m1" {
		t.Fatalf("links = %v", links)
	}
}

func TestStaticProvider_Errors(t *testing.T) {
	srv := newTestServer(t)
	p := NewStaticProvider(StaticOptions{}, logger.Discard())

	tests := []struct {
		name     string
		path     string
		expected ErrorClass
	}{
		{"forbidden", "/blocked", ErrClassBlocked},
		{"challenge", "/challenge", ErrClassBlocked},
		{"server_error", "/broken", ErrClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Open(context.Background(), srv.URL+tt.path)
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := ClassifyError(err); got != tt.expected {
				t.Fatalf("class = %v (%v), expected %v", got, err, tt.expected)
			}
		})
	}
}

func TestStaticProvider_ContextCanceled(t *testing.T) {
	srv := newTestServer(t)
	p := NewStaticProvider(StaticOptions{}, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Open(ctx, srv.URL+"/search"); err == nil {
		t.Fatalf("expected error for canceled context")
	}
}
