package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"kimhanh/internal/config"

	"github.com/shopspring/decimal"
	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
	send   func(m *gomail.Message) error
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
	n.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
		return d.DialAndSend(m)
	}
	return n
}

// Enabled SMTP 与收件人是否都已配置。
func (n *EmailNotifier) Enabled() bool {
	return n != nil && n.cfg != nil && n.cfg.SMTPHost != "" && n.cfg.FromEmail != "" && strings.TrimSpace(n.cfg.StaffTo) != ""
}

// NotifyCollectionSaved 发送收藏集保存邮件给店员。未配置时跳过。
func (n *EmailNotifier) NotifyCollectionSaved(ctx context.Context, c CollectionNotice) error {
	if !n.Enabled() {
		n.logger.Debug("email config missing, skip notification")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", n.cfg.StaffTo)
	m.SetHeader("Subject", fmt.Sprintf("[Kim Hạnh] Bộ sưu tập mới - %s", c.Identity.Primary.Name))
	m.SetBody("text/html", buildHTMLBody(c))

	if err := n.send(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("collection email sent",
		slog.String("to", n.cfg.StaffTo),
		slog.String("phone", c.Identity.Phone),
		slog.Int("items", len(c.Items)))
	return nil
}

func buildHTMLBody(c CollectionNotice) string {
	var rows strings.Builder
	for _, it := range c.Items {
		fmt.Fprintf(&rows, `<tr><td><img src="%s" width="64" /></td><td>%s</td><td>%s</td><td>%d</td><td>%s</td></tr>`,
			html.EscapeString(it.ImageURL()),
			html.EscapeString(it.Product.Name),
			html.EscapeString(it.Product.Category),
			it.Quantity,
			FormatVND(it.Product.LaborCost))
		rows.WriteString("\n")
	}

	partner := ""
	if c.Identity.Partner != nil {
		partner = fmt.Sprintf("<div>Người phối ngẫu: %s (%s)</div>",
			html.EscapeString(c.Identity.Partner.Name), html.EscapeString(c.Identity.Partner.DOB))
	}

	template := `
<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #fbf8f1; color: #1f2937; }
  .card { max-width: 640px; margin: 24px auto; background: #ffffff; border-radius: 12px; border: 1px solid #e5e7eb; }
  .header { background: #7c5a12; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold; }
  .content { padding: 20px; }
  table { width: 100%%; border-collapse: collapse; }
  td { padding: 6px; border-bottom: 1px solid #f1f1f1; font-size: 14px; }
  .total { font-size: 22px; font-weight: bold; color: #b45309; margin-top: 16px; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">Bộ sưu tập của %s</div>
    <div class="content">
      <div>Điện thoại: %s</div>
      <div>Ngày sinh: %s</div>
      %s
      <table>%s</table>
      <div>Tổng trọng lượng: %s chỉ</div>
      <div>Tổng tiền công: %s</div>
      <div class="total">Tạm tính: %s</div>
      <div style="font-size:12px;color:#6b7280;">Lưu lúc %s</div>
    </div>
  </div>
</body>
</html>`

	return fmt.Sprintf(template,
		html.EscapeString(c.Identity.Primary.Name),
		html.EscapeString(c.Identity.Phone),
		html.EscapeString(c.Identity.Primary.DOB),
		partner,
		rows.String(),
		c.Summary.TotalWeight.String(),
		FormatVND(c.Summary.TotalLaborCost),
		FormatVND(c.Summary.TotalPrice),
		c.SavedAt.Format("02/01/2006 15:04"))
}

// FormatVND 将金额四舍五入到整数并按 vi-VN 习惯加千位分隔符，如 5.250.000 ₫。
func FormatVND(v decimal.Decimal) string {
	s := v.Round(0).String()
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	n := len(s)
	out := make([]byte, 0, n+n/3+1)
	for i, ch := range []byte(s) {
		out = append(out, ch)
		if (n-i-1)%3 == 0 && i != n-1 {
			out = append(out, '.')
		}
	}
	if neg {
		return "-" + string(out) + " ₫"
	}
	return string(out) + " ₫"
}
