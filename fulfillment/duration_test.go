package fulfillment

import (
	"testing"
	"time"
)

func TestExpiry(t *testing.T) {
	from := time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		duration   string
		expected   *time.Time
		recognized bool
	}{
		{"30 Days", at(from.AddDate(0, 0, 30)), true},
		{"1 Day", at(from.AddDate(0, 0, 1)), true},
		{"7days", at(from.AddDate(0, 0, 7)), true},
		{"2 Weeks", at(from.AddDate(0, 0, 14)), true},
		{"1 Month", at(from.AddDate(0, 1, 0)), true},
		{"3 months", at(from.AddDate(0, 3, 0)), true},
		{"1 Year", at(from.AddDate(1, 0, 0)), true},
		{"24 Hours", at(from.Add(24 * time.Hour)), true},
		{"  12 h ", at(from.Add(12 * time.Hour)), true},
		{"Weekly", at(from.AddDate(0, 0, 7)), true},
		{"Monthly", at(from.AddDate(0, 1, 0)), true},
		{"Lifetime", nil, true},
		{"LIFETIME", nil, true},
		{"Permanent", nil, true},
		{"N/A", at(from.Add(DefaultExpiry)), false},
		{"", at(from.Add(DefaultExpiry)), false},
		{"0 Days", at(from.Add(DefaultExpiry)), false},
		{"soon", at(from.Add(DefaultExpiry)), false},
	}

	for _, tt := range tests {
		t.Run(tt.duration, func(t *testing.T) {
			got, ok := Expiry(tt.duration, from)
			if ok != tt.recognized {
				t.Errorf("Expected recognized=%v, got %v", tt.recognized, ok)
			}
			if tt.expected == nil {
				if got != nil {
					t.Errorf("Expected no expiry, got %s", got)
				}
				return
			}
			if got == nil || !got.Equal(*tt.expected) {
				t.Errorf("Expected %s, got %v", tt.expected, got)
			}
		})
	}
}
