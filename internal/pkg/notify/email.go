package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/silencecat2007/pokepark-kanto/internal/config"
	"github.com/silencecat2007/pokepark-kanto/internal/model"
	"github.com/silencecat2007/pokepark-kanto/internal/price"
)

// 摘要邮件中最多列出的售出记录
const maxSummaryRows = 50

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
	dialer sender
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
	}
}

func (n *EmailNotifier) configured() bool {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip notification")
		return false
	}
	if len(n.cfg.To) == 0 {
		n.logger.Warn("email recipient empty, skip notification")
		return false
	}
	return true
}

// RunSummary 发送运行摘要。notify_on_success 关闭时不发送。
func (n *EmailNotifier) RunSummary(ctx context.Context, snap model.Snapshot) error {
	if !n.cfg.NotifyOnSuccess || !n.configured() {
		return nil
	}
	sold := snap.ConfirmedSold()
	subject := fmt.Sprintf("[PokePark Kanto] %d records, %d sold", snap.TotalCount, len(sold))
	return n.send(ctx, subject, buildSummaryBody(snap))
}

// Abort 发送中止通知，不受 notify_on_success 影响。
func (n *EmailNotifier) Abort(ctx context.Context, reason string, cause error) error {
	if !n.configured() {
		return nil
	}
	msg := "unknown"
	if cause != nil {
		msg = cause.Error()
	}
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 600px; margin: 0 auto; padding: 16px;">
    <h2 style="color: #b91c1c;">抓取已中止</h2>
    <p>%s</p>
    <pre style="background: #f3f4f6; padding: 12px; white-space: pre-wrap;">%s</pre>
    <p>上一次的快照未被修改。</p>
  </div>
</body>
</html>`, html.EscapeString(reason), html.EscapeString(msg))
	return n.send(ctx, "[PokePark Kanto] run aborted", body)
}

func (n *EmailNotifier) send(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", n.cfg.To...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	n.logger.Info("email notification sent",
		slog.String("to", strings.Join(n.cfg.To, ",")),
		slog.String("subject", subject))
	return nil
}

func buildSummaryBody(snap model.Snapshot) string {
	var b strings.Builder
	sold := snap.ConfirmedSold()

	b.WriteString(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; color: #1f2937; }
  table { border-collapse: collapse; width: 100%; font-size: 13px; }
  th, td { border: 1px solid #e5e7eb; padding: 4px 8px; text-align: left; }
  th { background: #f3f4f6; }
</style>
</head>
<body>
`)
	fmt.Fprintf(&b, "<h2>PokePark Kanto</h2>\n<p>更新时间: %s<br>记录数: %d<br>确认售出: %d</p>\n",
		snap.GeneratedAt.Format("2006-01-02 15:04:05 MST"), snap.TotalCount, len(sold))

	if len(sold) > 0 {
		b.WriteString("<table>\n<tr><th>No.</th><th>名称</th><th>价格</th><th>标题</th></tr>\n")
		for i, r := range sold {
			if i == maxSummaryRows {
				fmt.Fprintf(&b, "<tr><td colspan=\"4\">… %d more</td></tr>\n", len(sold)-maxSummaryRows)
				break
			}
			fmt.Fprintf(&b, "<tr><td>%04d</td><td>%s</td><td>%s</td><td><a href=\"%s\">%s</a></td></tr>\n",
				r.CatalogNumber,
				html.EscapeString(r.CanonicalName),
				recordPrice(r),
				html.EscapeString(r.SourceURL),
				html.EscapeString(r.Title))
		}
		b.WriteString("</table>\n")
	}

	if len(snap.Diagnostics) > 0 {
		b.WriteString("<h3>诊断</h3>\n<table>\n<tr><th>关键词</th><th>状态</th><th>链接</th><th>访问</th><th>匹配</th><th>无价格</th><th>错误</th><th>备注</th></tr>\n")
		for _, d := range snap.Diagnostics {
			fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>%s</td></tr>\n",
				html.EscapeString(d.Keyword),
				html.EscapeString(d.StatusFilter),
				d.LinksCollected, d.ItemsVisited, d.ItemsMatched, d.NullPrice, d.Errors,
				html.EscapeString(d.Note))
		}
		b.WriteString("</table>\n")
	}
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

func recordPrice(r model.Record) string {
	if r.PriceAmount == nil {
		return "-"
	}
	currency := price.CurrencyJPY
	if r.Currency != nil {
		currency = *r.Currency
	}
	return html.EscapeString(price.Format(*r.PriceAmount, currency))
}

