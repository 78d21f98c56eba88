package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/silencecat2007/pokepark-kanto/internal/config"
	"github.com/silencecat2007/pokepark-kanto/internal/model"
	"github.com/silencecat2007/pokepark-kanto/internal/pkg/logger"
)

type fakeSender struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func newTestNotifier(cfg config.EmailConfig) (*EmailNotifier, *fakeSender) {
	n := NewEmailNotifier(&cfg, logger.Discard())
	fs := &fakeSender{}
	n.dialer = fs
	return n, fs
}

func fullConfig() config.EmailConfig {
	return config.EmailConfig{
		SMTPHost:        "smtp.example.com",
		SMTPPort:        587,
		SMTPUser:        "bot",
		FromEmail:       "bot@example.com",
		To:              []string{"owner@example.com"},
		NotifyOnSuccess: true,
	}
}

func testSnapshot() model.Snapshot {
	amount := int64(3500)
	jpy := "JPY"
	return model.Snapshot{
		GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		TotalCount:  2,
		Records: []model.Record{
			{CatalogNumber: 25, CanonicalName: "ピカチュウ", Title: "No.025 <ピカチュウ>", PriceAmount: &amount, Currency: &jpy,
				SoldStatus: model.StatusSold, SourceURL: "https://jp.mercari.com/item/m1"},
			{CatalogNumber: 82, CanonicalName: "レアコイル", Title: "レアコイル", SoldStatus: model.StatusActive,
				SourceURL: "https://jp.mercari.com/item/m2"},
		},
		Diagnostics: []model.Diagnostics{{Keyword: "kanto", StatusFilter: "sold_out|trading", LinksCollected: 2, Note: "ok"}},
	}
}

func TestEmailNotifier_RunSummary(t *testing.T) {
	n, fs := newTestNotifier(fullConfig())
	if err := n.RunSummary(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fs.sent) != 1 {
		t.Fatalf("sent = %d", len(fs.sent))
	}
	m := fs.sent[0]
	if got := m.GetHeader("Subject"); len(got) != 1 || got[0] != "[PokePark Kanto] 2 records, 1 sold" {
		t.Fatalf("subject = %v", got)
	}
	if got := m.GetHeader("To"); len(got) != 1 || got[0] != "owner@example.com" {
		t.Fatalf("to = %v", got)
	}
}

func TestEmailNotifier_Skips(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(c *config.EmailConfig)
	}{
		{"missing_host", func(c *config.EmailConfig) { c.SMTPHost = "" }},
		{"missing_recipients", func(c *config.EmailConfig) { c.To = nil }},
		{"success_disabled", func(c *config.EmailConfig) { c.NotifyOnSuccess = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fullConfig()
			tt.cfg(&cfg)
			n, fs := newTestNotifier(cfg)
			if err := n.RunSummary(context.Background(), testSnapshot()); err != nil {
				t.Fatalf("send: %v", err)
			}
			if len(fs.sent) != 0 {
				t.Fatalf("expected no email")
			}
		})
	}
}

func TestEmailNotifier_Abort(t *testing.T) {
	cfg := fullConfig()
	cfg.NotifyOnSuccess = false
	n, fs := newTestNotifier(cfg)

	if err := n.Abort(context.Background(), "catalog registry contaminated", errors.New("entry 25")); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if len(fs.sent) != 1 || fs.sent[0].GetHeader("Subject")[0] != "[PokePark Kanto] run aborted" {
		t.Fatalf("abort mail not sent")
	}

	fs.err = errors.New("smtp down")
	if err := n.Abort(context.Background(), "x", nil); err == nil || !strings.Contains(err.Error(), "smtp down") {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}

func TestBuildSummaryBody(t *testing.T) {
	body := buildSummaryBody(testSnapshot())

	for _, want := range []string{
		"<td>0025</td>",
		"¥3,500",
		"No.025 &lt;ピカチュウ&gt;",
		"sold_out|trading",
		"确认售出: 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
	if strings.Contains(body, "レアコイル</td>") {
		t.Error("active records must not be listed as sold")
	}
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	if err := n.RunSummary(context.Background(), model.Snapshot{}); err != nil {
		t.Fatal(err)
	}
	if err := n.Abort(context.Background(), "", nil); err != nil {
		t.Fatal(err)
	}
}
