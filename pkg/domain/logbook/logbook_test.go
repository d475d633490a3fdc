package logbook

import (
	"errors"
	"testing"
	"time"
)

func TestCategoryLabelsAndOrder(t *testing.T) {
	want := []Category{"CRT", "APP", "SVR", "WRN", "INF", "DBG", "LOG"}
	got := HighPriority()
	if len(got) != len(want) {
		t.Fatalf("expected %d high priority categories, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if CategoryAppError.Label() != "App Error" {
		t.Errorf("unexpected label %q", CategoryAppError.Label())
	}
	if Category("XYZ").Valid() {
		t.Error("expected XYZ to be invalid")
	}
	for _, c := range AllCategories() {
		if !c.Valid() || c.Label() == "" {
			t.Errorf("category %s should be valid with a label", c)
		}
	}
}

func TestParseContainerRejectsObsoleteFormat(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "{broken"},
		{"legacy array", `["a","b"]`},
		{"records without id", `{"logs":[{"dt":"2024-01-01T00:00:00Z","type":"WRN","details":"x"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseContainer(tt.raw)
			if !errors.Is(err, ErrObsoleteFormat) {
				t.Errorf("expected ErrObsoleteFormat, got %v", err)
			}
		})
	}
}

func TestContainerEncodeParse(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := &Container{
		LogID: "0190-abc",
		Logs: []Record{
			{Time: now, Category: CategoryWarning, Details: "disk low"},
			{Time: now.Add(-time.Minute), Category: CategoryWarning, Details: "disk lower"},
		},
	}
	c.MarkSent(now)

	raw, err := c.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	parsed, err := ParseContainer(raw)
	if err != nil {
		t.Fatalf("ParseContainer: %v", err)
	}
	if !parsed.Sent || parsed.SentAt == nil || !parsed.SentAt.Equal(now) {
		t.Errorf("sent state lost: %+v", parsed)
	}
	oldest, ok := parsed.Oldest()
	if !ok || oldest.Details != "disk lower" {
		t.Errorf("expected oldest record 'disk lower', got %+v", oldest)
	}
	if parsed.HasUnsent() {
		t.Error("sent container must not report unsent records")
	}

	parsed.ClearSent()
	if !parsed.HasUnsent() {
		t.Error("expected unsent records after rollback")
	}
}

func TestContainerIsStale(t *testing.T) {
	now := time.Now()
	c := &Container{LogID: "x", Logs: []Record{{Time: now}}}
	if c.IsStale(now, time.Minute) {
		t.Error("unsent container is never stale")
	}
	c.MarkSent(now.Add(-2 * time.Minute))
	if !c.IsStale(now, time.Minute) {
		t.Error("expected container sent two minutes ago to be stale")
	}
	if c.IsStale(now, 0) {
		t.Error("zero timeout disables staleness")
	}
}

func TestActivityIdle(t *testing.T) {
	idle, err := ParseActivity(`{"mc":0,"kp":0}`)
	if err != nil {
		t.Fatalf("ParseActivity: %v", err)
	}
	if !idle.IsIdle() {
		t.Error("expected idle activity")
	}

	busy, _ := ParseActivity(`{"mc":3,"kp":0}`)
	if busy.IsIdle() {
		t.Error("expected clicks to count as activity")
	}

	if _, err := ParseActivity("nope"); !errors.Is(err, ErrObsoleteFormat) {
		t.Errorf("expected ErrObsoleteFormat, got %v", err)
	}
}
