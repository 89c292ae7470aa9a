package timeline

import (
	"math"
	"strings"
	"testing"
)

func sampleEvents() []Event {
	return []Event{
		{ID: 0, Role: RoleUser, Content: "outline my essay", Timestamp: 2},
		{ID: 1, Role: RoleAssistant, Content: "Here is an outline", Timestamp: 5},
		{ID: 2, Role: RoleUser, Content: "shorter please", Timestamp: 9},
	}
}

func TestNew_Empty(t *testing.T) {
	tl, err := New(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tl.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tl.Len())
	}
	if got := tl.VisibleCount(100); got != 0 {
		t.Errorf("VisibleCount = %d, want 0", got)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		events  []Event
		wantErr string
	}{
		{
			name:    "unknown role",
			events:  []Event{{Role: "system", Timestamp: 1}},
			wantErr: "unknown role",
		},
		{
			name:    "negative timestamp",
			events:  []Event{{Role: RoleUser, Timestamp: -1}},
			wantErr: "invalid timestamp",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.events)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestNew_CopiesInput(t *testing.T) {
	events := sampleEvents()
	tl, err := New(events)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events[0].Content = "mutated"
	if e, _ := tl.At(0); e.Content != "outline my essay" {
		t.Errorf("timeline shares caller slice: content = %q", e.Content)
	}
}

func TestNew_SortsOutOfOrder(t *testing.T) {
	tl, err := New([]Event{
		{ID: 0, Role: RoleUser, Timestamp: 7},
		{ID: 1, Role: RoleAssistant, Timestamp: 3},
		{ID: 2, Role: RoleUser, Timestamp: 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ids []int
	for _, e := range tl.Events() {
		ids = append(ids, e.ID)
	}
	want := []int{1, 2, 0}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}

func TestVisible_Scenario(t *testing.T) {
	tl, _ := New(sampleEvents())

	got := tl.Visible(6)
	if len(got) != 2 {
		t.Fatalf("Visible(6) len = %d, want 2", len(got))
	}
	if got[0].ID != 0 || got[1].ID != 1 {
		t.Errorf("Visible(6) = %+v, want first two events", got)
	}
	if n := tl.VisibleCount(9); n != 3 {
		t.Errorf("VisibleCount(9) = %d, want 3 (inclusive boundary)", n)
	}
	if n := tl.VisibleCount(1.99); n != 0 {
		t.Errorf("VisibleCount(1.99) = %d, want 0", n)
	}
}

func TestVisible_Monotonic(t *testing.T) {
	tl, _ := New(sampleEvents())
	prev := 0
	for sec := 0.0; sec <= 12; sec += 0.25 {
		n := tl.VisibleCount(sec)
		if n < prev {
			t.Fatalf("visible count shrank from %d to %d at %.2fs", prev, n, sec)
		}
		prev = n
	}
}

func TestVisible_BackwardRecompute(t *testing.T) {
	tl, _ := New(sampleEvents())
	_ = tl.Visible(10)
	got := tl.Visible(4)
	if len(got) != 1 || got[0].ID != 0 {
		t.Errorf("Visible(4) after Visible(10) = %+v, want only event 0", got)
	}
}

func TestMarkers(t *testing.T) {
	tl, _ := New(sampleEvents())
	markers := tl.Markers(10)
	if len(markers) != 3 {
		t.Fatalf("len = %d, want 3", len(markers))
	}
	wantPct := []float64{20, 50, 90}
	for i, m := range markers {
		if math.Abs(m.Percent-wantPct[i]) > 1e-9 {
			t.Errorf("markers[%d].Percent = %v, want %v", i, m.Percent, wantPct[i])
		}
	}
	if markers[2].Label != "Message at 0:09" {
		t.Errorf("label = %q", markers[2].Label)
	}

	for _, m := range tl.Markers(0) {
		if m.Percent != 0 {
			t.Errorf("zero duration marker percent = %v, want 0", m.Percent)
		}
	}
}

func TestFormatClock(t *testing.T) {
	tests := []struct {
		sec  float64
		want string
	}{
		{0, "0:00"},
		{9.9, "0:09"},
		{61, "1:01"},
		{3600, "60:00"},
		{-3, "0:00"},
	}
	for _, tt := range tests {
		if got := FormatClock(tt.sec); got != tt.want {
			t.Errorf("FormatClock(%v) = %q, want %q", tt.sec, got, tt.want)
		}
	}
}

func TestMarkPasted(t *testing.T) {
	events := sampleEvents()
	got := MarkPasted(events, []string{"  Here is  ", "", "   "})
	if !got[1].Highlighted {
		t.Error("event 1 should be highlighted")
	}
	if got[0].Highlighted || got[2].Highlighted {
		t.Error("only event 1 should be highlighted")
	}
	if events[1].Highlighted {
		t.Error("MarkPasted must not mutate its input")
	}
}
