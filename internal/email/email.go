package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/jordan-wright/email"

	"ring0.store/fulfillment/internal/logger"
	"ring0.store/fulfillment/models"
)

type Config struct {
	Host      string
	Port      string
	Username  string
	Password  string
	From      string
	StoreName string
}

// SMTPMailer sends purchase confirmations as plain-text email.
type SMTPMailer struct {
	cfg  Config
	send func(e *email.Email) error
}

func NewSMTPMailer(cfg Config) *SMTPMailer {
	m := &SMTPMailer{cfg: cfg}
	m.send = m.sendSMTP
	return m
}

func (m *SMTPMailer) SendPurchaseEmail(ctx context.Context, receipt models.PurchaseReceipt) error {
	if m.cfg.Host == "" || m.cfg.Port == "" {
		logger.Error("SMTP configuration missing")
		return fmt.Errorf("SMTP configuration missing")
	}
	if receipt.CustomerEmail == "" {
		return fmt.Errorf("order %s has no customer email", receipt.OrderNumber)
	}

	e := email.NewEmail()
	e.From = fmt.Sprintf("%s <%s>", m.cfg.StoreName, m.cfg.From)
	e.To = []string{receipt.CustomerEmail}
	e.Subject = Subject(m.cfg.StoreName, receipt)
	e.Text = []byte(Body(m.cfg.StoreName, receipt))

	// the SMTP client has no context support, so give up waiting instead
	done := make(chan error, 1)
	go func() { done <- m.send(e) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("sending purchase email for %s: %w", receipt.OrderNumber, ctx.Err())
	}
}

func (m *SMTPMailer) sendSMTP(e *email.Email) error {
	addr := fmt.Sprintf("%s:%s", m.cfg.Host, m.cfg.Port)
	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	return e.Send(addr, auth)
}

func Subject(storeName string, receipt models.PurchaseReceipt) string {
	return fmt.Sprintf("[%s] Your %s license key (order %s)", storeName, receipt.ProductName, receipt.OrderNumber)
}

// Body renders the purchase confirmation text.
func Body(storeName string, receipt models.PurchaseReceipt) string {
	expires := "Never (lifetime)"
	if receipt.ExpiresAt != nil {
		expires = receipt.ExpiresAt.UTC().Format(time.RFC1123)
	}

	product := receipt.ProductName
	if receipt.Duration != "" {
		product = fmt.Sprintf("%s (%s)", receipt.ProductName, receipt.Duration)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello,\n\n")
	fmt.Fprintf(&b, "Thank you for your purchase from %s! Your payment has been confirmed.\n\n", storeName)
	fmt.Fprintf(&b, "ORDER DETAILS\n")
	fmt.Fprintf(&b, "Order Number: %s\n", receipt.OrderNumber)
	fmt.Fprintf(&b, "Product: %s\n", product)
	fmt.Fprintf(&b, "Amount Paid: %s\n\n", receipt.TotalPaid)
	fmt.Fprintf(&b, "LICENSE DETAILS\n")
	fmt.Fprintf(&b, "License Key: %s\n", receipt.LicenseKey)
	fmt.Fprintf(&b, "Expires: %s\n\n", expires)
	fmt.Fprintf(&b, "Keep this key private. It is bound to your order and cannot be reissued to another email.\n\n")
	fmt.Fprintf(&b, "NEED HELP?\n")
	fmt.Fprintf(&b, "Reply to this email with your order number and we will get back to you.\n\n")
	fmt.Fprintf(&b, "Best regards,\n")
	fmt.Fprintf(&b, "The %s Team", storeName)
	return b.String()
}
