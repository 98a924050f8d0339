package util

import (
	"strings"
	"testing"
)

func TestFloorToStep(t *testing.T) {
	tests := []struct {
		qty  float64
		step float64
		want string
	}{
		{0.123456, 0.001, "0.123"},
		{1.9999, 0.1, "1.9"},
		{0.3, 0.1, "0.3"},
		{57, 1, "57"},
		{0.0009, 0.001, "0"},
		{2.5, 0, "2.5"},
	}
	for _, tt := range tests {
		if got := FloorToStep(tt.qty, tt.step).String(); got != tt.want {
			t.Errorf("FloorToStep(%v, %v) = %s, want %s", tt.qty, tt.step, got, tt.want)
		}
	}
}

func TestPositionQuantity(t *testing.T) {
	// 1000 * 10% * 5x / 25 = 20
	if got := PositionQuantity(1000, 10, 5, 25, 0.001).String(); got != "20" {
		t.Fatalf("qty = %s, want 20", got)
	}
	if !PositionQuantity(0, 10, 5, 25, 0.001).IsZero() {
		t.Fatal("zero balance should size to zero")
	}
	if !PositionQuantity(1, 1, 1, 60000, 0.001).IsZero() {
		t.Fatal("degenerate quantity should floor to zero")
	}
}

func TestAveragingThreshold(t *testing.T) {
	want := []float64{200, 300, 500, 800, 1300, 2100, 3400}
	for i, w := range want {
		got, ok := AveragingThreshold(i)
		if !ok || got != w {
			t.Fatalf("threshold[%d] = %v,%v want %v", i, got, ok, w)
		}
	}
	if _, ok := AveragingThreshold(7); ok {
		t.Fatal("schedule must stop after 7 add-ons")
	}
}

func TestNewClientOrderID(t *testing.T) {
	id := NewClientOrderID("pb")
	if !strings.HasPrefix(id, "pb-") || len(id) > 36 {
		t.Fatalf("id = %q", id)
	}
	if NewClientOrderID("pb") == id {
		t.Fatal("ids must be unique")
	}
}

func TestRoundToStep(t *testing.T) {
	if got := RoundToStep(0.1+0.2, 0.1).String(); got != "0.3" {
		t.Fatalf("RoundToStep(0.1+0.2) = %s", got)
	}
	if got := RoundToStep(0.29999999, 0.001).String(); got != "0.3" {
		t.Fatalf("RoundToStep(0.29999999) = %s", got)
	}
}
