package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jordan-wright/email"

	"ring0.store/fulfillment/models"
)

func testReceipt() models.PurchaseReceipt {
	expires := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	return models.PurchaseReceipt{
		CustomerEmail: "buyer@example.com",
		OrderNumber:   "STRIPE-1001",
		ProductName:   "HWID Spoofer",
		Duration:      "30 Days",
		LicenseKey:    "RING0-ABCD-EFGH-JKLM-NPQR",
		ExpiresAt:     &expires,
		TotalPaid:     "$29.99",
	}
}

func testConfig() Config {
	return Config{
		Host:      "smtp.example.com",
		Port:      "587",
		Username:  "user",
		Password:  "pass",
		From:      "licenses@ring0.store",
		StoreName: "Ring-0",
	}
}

func TestSendPurchaseEmail(t *testing.T) {
	var sent *email.Email
	m := NewSMTPMailer(testConfig())
	m.send = func(e *email.Email) error {
		sent = e
		return nil
	}

	if err := m.SendPurchaseEmail(context.Background(), testReceipt()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sent == nil {
		t.Fatal("Expected email to be sent")
	}
	if sent.From != "Ring-0 <licenses@ring0.store>" {
		t.Errorf("Unexpected from: %q", sent.From)
	}
	if len(sent.To) != 1 || sent.To[0] != "buyer@example.com" {
		t.Errorf("Unexpected recipients: %v", sent.To)
	}
	if !strings.Contains(sent.Subject, "STRIPE-1001") {
		t.Errorf("Subject should name the order: %q", sent.Subject)
	}
	if !strings.Contains(string(sent.Text), "RING0-ABCD-EFGH-JKLM-NPQR") {
		t.Error("Body should contain the license key")
	}
}

func TestSendPurchaseEmail_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		receipt func() models.PurchaseReceipt
		sendErr error
	}{
		{
			name:    "missing SMTP host",
			cfg:     Config{Port: "587", From: "a@b.c"},
			receipt: testReceipt,
		},
		{
			name: "missing recipient",
			cfg:  testConfig(),
			receipt: func() models.PurchaseReceipt {
				r := testReceipt()
				r.CustomerEmail = ""
				return r
			},
		},
		{
			name:    "smtp failure",
			cfg:     testConfig(),
			receipt: testReceipt,
			sendErr: errors.New("connection refused"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewSMTPMailer(tt.cfg)
			m.send = func(e *email.Email) error { return tt.sendErr }

			if err := m.SendPurchaseEmail(context.Background(), tt.receipt()); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestSendPurchaseEmail_ContextTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	m := NewSMTPMailer(testConfig())
	m.send = func(e *email.Email) error {
		<-release
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := m.SendPurchaseEmail(ctx, testReceipt())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestBody(t *testing.T) {
	tests := []struct {
		name     string
		receipt  func() models.PurchaseReceipt
		contains []string
	}{
		{
			name:    "timed license",
			receipt: testReceipt,
			contains: []string{
				"Thank you for your purchase from Ring-0!",
				"Order Number: STRIPE-1001",
				"Product: HWID Spoofer (30 Days)",
				"Amount Paid: $29.99",
				"License Key: RING0-ABCD-EFGH-JKLM-NPQR",
				"Expires: Tue, 01 Apr 2025 12:00:00 UTC",
				"The Ring-0 Team",
			},
		},
		{
			name: "lifetime license",
			receipt: func() models.PurchaseReceipt {
				r := testReceipt()
				r.Duration = "Lifetime"
				r.ExpiresAt = nil
				return r
			},
			contains: []string{
				"Product: HWID Spoofer (Lifetime)",
				"Expires: Never (lifetime)",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := Body("Ring-0", tt.receipt())
			for _, want := range tt.contains {
				if !strings.Contains(body, want) {
					t.Errorf("Body missing %q:\n%s", want, body)
				}
			}
		})
	}
}
