package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFormatMoney(t *testing.T) {
	cases := []struct {
		amount string
		code   string
		want   string
	}{
		{"35.98", "usd", "$35.98"},
		{"5.99", "USD", "$5.99"},
		{"30", "usd", "$30.00"},
		{"1234.5", "usd", "$1,234.50"},
		{"0", "", "$0.00"},
	}
	for _, tc := range cases {
		got := FormatMoney(decimal.RequireFromString(tc.amount), tc.code)
		if got != tc.want {
			t.Errorf("FormatMoney(%s, %q) = %q, want %q", tc.amount, tc.code, got, tc.want)
		}
	}
}

func TestNewOrderSummaryAddsShipping(t *testing.T) {
	items := []CartItem{
		{ID: "ts1", Price: decimal.RequireFromString("29.99"), Quantity: 1},
	}
	summary := NewOrderSummary(items, decimal.RequireFromString("5.99"))
	if summary.Subtotal.String() != "29.99" {
		t.Fatalf("unexpected subtotal %s", summary.Subtotal)
	}
	if summary.Total.String() != "35.98" {
		t.Fatalf("unexpected total %s", summary.Total)
	}

	items[0].Quantity = 9
	if summary.Items[0].Quantity != 1 {
		t.Fatalf("summary must not alias caller items")
	}
}

func TestCartItemLineTotal(t *testing.T) {
	item := CartItem{Price: decimal.RequireFromString("24.99"), Quantity: 3}
	if got := item.LineTotal().String(); got != "74.97" {
		t.Fatalf("unexpected line total %s", got)
	}
}
