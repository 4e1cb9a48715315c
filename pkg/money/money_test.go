package money

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewFormatterRejectsBadInput(t *testing.T) {
	if _, err := NewFormatter("not a locale", "VND"); err == nil {
		t.Fatal("expected error for bad locale")
	}
	if _, err := NewFormatter("vi-VN", "XYZ"); err == nil {
		t.Fatal("expected error for bad currency")
	}
}

func TestFormatIncludesAmount(t *testing.T) {
	f, err := NewFormatter("en-US", "USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := f.Format(decimal.NewFromInt(42))
	if !strings.Contains(got, "42") {
		t.Fatalf("expected formatted amount to contain 42, got %q", got)
	}
	if !strings.Contains(got, "$") {
		t.Fatalf("expected dollar symbol, got %q", got)
	}
}

func TestFormatPercent(t *testing.T) {
	if got := FormatPercent(decimal.NewFromFloat(0.02)); got != "2%" {
		t.Fatalf("expected 2%%, got %q", got)
	}
	if got := FormatPercent(decimal.NewFromFloat(0.085)); got != "9%" {
		t.Fatalf("expected rounded 9%%, got %q", got)
	}
}

func TestOrderTotal(t *testing.T) {
	sub := decimal.NewFromInt(100)
	shipping := decimal.NewFromInt(10)
	tax := decimal.NewFromFloat(0.02)

	got := OrderTotal(sub, shipping, tax)
	if !got.Equal(decimal.NewFromInt(112)) {
		t.Fatalf("expected 112, got %s", got)
	}
}

func TestOrderTotalEmptyCartSkipsShipping(t *testing.T) {
	got := OrderTotal(decimal.Zero, decimal.NewFromInt(10), decimal.NewFromFloat(0.02))
	if !got.IsZero() {
		t.Fatalf("expected zero total for empty cart, got %s", got)
	}
}
