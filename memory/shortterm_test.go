package memory

import (
	"fmt"
	"testing"
)

func inputs(xs []Exchange) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = x.Input
	}
	return out
}

func TestShortTerm_FIFOEviction(t *testing.T) {
	stm := NewShortTerm(3)

	for i := 1; i <= 3; i++ {
		if evicted := stm.Append(NewExchange(fmt.Sprintf("in%d", i), "out")); evicted != nil {
			t.Errorf("append %d evicted %v", i, inputs(evicted))
		}
	}

	evicted := stm.Append(NewExchange("in4", "out"))
	if len(evicted) != 1 || evicted[0].Input != "in1" {
		t.Errorf("evicted = %v, want [in1]", inputs(evicted))
	}

	got := inputs(stm.Items())
	want := []string{"in2", "in3", "in4"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Items() = %v, want %v", got, want)
		}
	}
}

func TestShortTerm_Fifteen(t *testing.T) {
	stm := NewShortTerm(15)
	for i := 1; i <= 16; i++ {
		stm.Append(NewExchange(fmt.Sprintf("input %d", i), "ok"))
	}

	items := stm.Items()
	if len(items) != 15 {
		t.Fatalf("Len = %d, want 15", len(items))
	}
	if items[0].Input != "input 2" {
		t.Errorf("oldest = %q, want input 2", items[0].Input)
	}
	if items[14].Input != "input 16" {
		t.Errorf("newest = %q, want input 16", items[14].Input)
	}
}

func TestShortTerm_ZeroCapacity(t *testing.T) {
	stm := NewShortTerm(0)
	evicted := stm.Append(NewExchange("hello", "hi"))
	if stm.Len() != 0 {
		t.Errorf("Len() = %d, want 0", stm.Len())
	}
	if len(evicted) != 1 || evicted[0].Input != "hello" {
		t.Errorf("evicted = %v", inputs(evicted))
	}

	if NewShortTerm(-4).Cap() != 0 {
		t.Error("negative capacity should clamp to 0")
	}
}

func TestShortTerm_Resize(t *testing.T) {
	tests := []struct {
		name     string
		newCap   int
		wantLen  int
		wantHead string
	}{
		{"shrink", 2, 2, "in4"},
		{"grow", 10, 5, "in1"},
		{"same", 5, 5, "in1"},
		{"zero", 0, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stm := NewShortTerm(5)
			for i := 1; i <= 5; i++ {
				stm.Append(NewExchange(fmt.Sprintf("in%d", i), "out"))
			}

			evicted := stm.Resize(tt.newCap)
			if stm.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", stm.Len(), tt.wantLen)
			}
			if len(evicted) != 5-tt.wantLen {
				t.Errorf("evicted %d, want %d", len(evicted), 5-tt.wantLen)
			}
			if tt.wantLen > 0 && stm.Items()[0].Input != tt.wantHead {
				t.Errorf("head = %q, want %q", stm.Items()[0].Input, tt.wantHead)
			}
		})
	}
}

func TestShortTerm_ItemsIsCopy(t *testing.T) {
	stm := NewShortTerm(2)
	stm.Append(NewExchange("a", "b"))

	items := stm.Items()
	items[0].Input = "mutated"

	if stm.Items()[0].Input != "a" {
		t.Error("Items() should return a copy")
	}
}

func TestNewExchange(t *testing.T) {
	x := NewExchange("q", "a")
	if x.ID == "" || x.At.IsZero() {
		t.Errorf("exchange not stamped: %+v", x)
	}
	if NewExchange("q", "a").ID == x.ID {
		t.Error("exchange ids should be unique")
	}
}
