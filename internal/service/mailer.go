package service

import (
	"fmt"
	"io"

	"gopkg.in/gomail.v2"

	"github.com/Maskeit/api-cisnatura/internal/config"
)

// Mailer sends order notifications. Delivery is best-effort: callers log
// failures and move on, they never roll back state over a lost email.
type Mailer interface {
	SendShippingNotification(n *ShippingNotification) error
}

type Attachment struct {
	Filename string
	Content  []byte
}

type ShippingNotification struct {
	To             string
	OrderNumber    string
	Carrier        string
	TrackingNumber string
	TrackingURL    string
	Note           string
	Attachment     *Attachment
}

type smtpMailer struct {
	dialer    *gomail.Dialer
	from      string
	storeName string
}

func NewMailer(cfg config.SMTP) Mailer {
	return &smtpMailer{
		dialer:    gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:      cfg.From,
		storeName: cfg.StoreName,
	}
}

func (m *smtpMailer) SendShippingNotification(n *ShippingNotification) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", n.To)
	msg.SetHeader("Subject", fmt.Sprintf("Tu pedido %s va en camino - %s", n.OrderNumber, m.storeName))
	msg.SetBody("text/html", m.shippingBody(n))

	if n.Attachment != nil {
		msg.Attach(n.Attachment.Filename, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(n.Attachment.Content)
			return err
		}))
	}

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send shipping notification: %w", err)
	}
	return nil
}

func (m *smtpMailer) shippingBody(n *ShippingNotification) string {
	tracking := n.TrackingNumber
	if n.TrackingURL != "" {
		tracking = fmt.Sprintf(`<a href="%s">%s</a>`, n.TrackingURL, n.TrackingNumber)
	}

	note := ""
	if n.Note != "" {
		note = fmt.Sprintf(`<p>%s</p>`, n.Note)
	}

	return fmt.Sprintf(`
	<h2>Tu pedido %s fue enviado</h2>
	<p>Paquetería: <strong>%s</strong></p>
	<p>Número de guía: %s</p>
	%s
	<p>Gracias por tu compra en %s.</p>
	`, n.OrderNumber, n.Carrier, tracking, note, m.storeName)
}
