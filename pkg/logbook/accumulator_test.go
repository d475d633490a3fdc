package logbook

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/wndlink/wndlink/pkg/domain"
	"github.com/wndlink/wndlink/pkg/domain/logbook"
	"github.com/wndlink/wndlink/pkg/infrastructure/persistence"
)

func newTestAccumulator(opts Options) (*Accumulator, *persistence.MemoryStore, *domain.ManualClock) {
	store := persistence.NewMemoryStore()
	clock := domain.NewManualClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	return New(store, opts, clock, nil), store, clock
}

func TestDuplicateDetailsAreDropped(t *testing.T) {
	acc, _, _ := newTestAccumulator(DefaultOptions())

	if err := acc.AddLog(logbook.CategoryWarning, "disk low"); err != nil {
		t.Fatalf("AddLog: %v", err)
	}
	if err := acc.AddLog(logbook.CategoryWarning, "disk low"); !errors.Is(err, logbook.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	c, err := acc.Load(logbook.CategoryWarning)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Logs) != 1 {
		t.Errorf("expected exactly one record, got %d", len(c.Logs))
	}
}

func TestDuplicateCheckSpansCategories(t *testing.T) {
	acc, _, _ := newTestAccumulator(DefaultOptions())
	acc.AddLog(logbook.CategoryWarning, "same text")
	if err := acc.AddLog(logbook.CategoryInfo, "same text"); !errors.Is(err, logbook.ErrDuplicate) {
		t.Errorf("expected duplicate across categories, got %v", err)
	}
	acc.AddLog(logbook.CategoryInfo, "other text")
	if err := acc.AddLog(logbook.CategoryInfo, "same text"); err != nil {
		t.Errorf("non-consecutive repeat must be kept, got %v", err)
	}
}

func TestAddLogRejections(t *testing.T) {
	acc, store, _ := newTestAccumulator(DefaultOptions())
	tests := []struct {
		name     string
		category logbook.Category
		details  string
		want     error
	}{
		{"empty category", "", "x", logbook.ErrEmptyDetails},
		{"empty details", logbook.CategoryInfo, "", logbook.ErrEmptyDetails},
		{"unknown category", "XYZ", "x", logbook.ErrUnknownCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := acc.AddLog(tt.category, tt.details); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if store.Count() != 0 {
		t.Error("rejected logs must not be stored")
	}

	disabled, _, _ := newTestAccumulator(Options{Disabled: true})
	if err := disabled.AddLog(logbook.CategoryInfo, "x"); !errors.Is(err, logbook.ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
}

func TestRecordsAreNewestFirstAndActivityOverwrites(t *testing.T) {
	acc, _, clock := newTestAccumulator(DefaultOptions())
	acc.AddLog(logbook.CategoryNavigation, "/home")
	clock.Advance(time.Second)
	acc.AddLog(logbook.CategoryNavigation, "/orders")

	nav, _ := acc.Load(logbook.CategoryNavigation)
	if nav.Logs[0].Details != "/orders" || nav.Logs[1].Details != "/home" {
		t.Errorf("expected newest first, got %+v", nav.Logs)
	}

	acc.AddLog(logbook.CategoryActivity, `{"mc":1,"kp":0}`)
	acc.AddLog(logbook.CategoryActivity, `{"mc":4,"kp":2}`)
	act, _ := acc.Load(logbook.CategoryActivity)
	if len(act.Logs) != 1 || act.Logs[0].Details != `{"mc":4,"kp":2}` {
		t.Errorf("expected single overwritten ACT record, got %+v", act.Logs)
	}
}

func TestRingBufferKeepsMostRecent(t *testing.T) {
	acc, _, clock := newTestAccumulator(Options{MaxEntries: 10, Slack: 2})

	for i := 0; i < 13; i++ {
		clock.Advance(time.Second)
		if err := acc.AddLog(logbook.CategoryInfo, fmt.Sprintf("event %d", i)); err != nil {
			t.Fatalf("AddLog %d: %v", i, err)
		}
	}

	c, _ := acc.Load(logbook.CategoryInfo)
	if len(c.Logs) != 10 {
		t.Fatalf("expected cap of 10 records, got %d", len(c.Logs))
	}
	for i, r := range c.Logs {
		want := fmt.Sprintf("event %d", 12-i)
		if r.Details != want {
			t.Errorf("position %d: expected %q, got %q", i, want, r.Details)
		}
	}
}

func TestRingBufferEvictsOldestOnTimestampTie(t *testing.T) {
	acc, _, _ := newTestAccumulator(Options{MaxEntries: 3})

	for i := 0; i < 4; i++ {
		if err := acc.AddLog(logbook.CategoryWarning, fmt.Sprintf("w%d", i)); err != nil {
			t.Fatalf("AddLog %d: %v", i, err)
		}
	}

	c, _ := acc.Load(logbook.CategoryWarning)
	var got []string
	for _, r := range c.Logs {
		got = append(got, r.Details)
	}
	want := []string{"w3", "w2", "w1"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestTrimToCapAcrossCategories(t *testing.T) {
	acc, _, clock := newTestAccumulator(Options{MaxEntries: 3, Slack: 100})

	acc.AddLog(logbook.CategoryWarning, "w1")
	clock.Advance(time.Second)
	acc.AddLog(logbook.CategoryInfo, "i1")
	clock.Advance(time.Second)
	acc.AddLog(logbook.CategoryWarning, "w2")
	clock.Advance(time.Second)
	acc.AddLog(logbook.CategoryDebug, "d1")
	clock.Advance(time.Second)
	acc.AddLog(logbook.CategoryActivity, `{"mc":1,"kp":1}`)

	if n := acc.TrimToCap(); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	w, _ := acc.Load(logbook.CategoryWarning)
	if len(w.Logs) != 1 || w.Logs[0].Details != "w2" {
		t.Errorf("expected oldest warning evicted, got %+v", w.Logs)
	}
	if act, _ := acc.Load(logbook.CategoryActivity); act == nil || len(act.Logs) != 1 {
		t.Error("activity must not count toward or be trimmed by the cap")
	}
	if n := acc.TrimToCap(); n != 0 {
		t.Errorf("second trim should be a no-op, got %d", n)
	}
}

func TestGetOldestAge(t *testing.T) {
	acc, store, clock := newTestAccumulator(DefaultOptions())

	if _, ok := acc.GetOldestAge(logbook.CategoryNavigation); ok {
		t.Error("empty category has no age")
	}

	acc.AddLog(logbook.CategoryNavigation, "/a")
	clock.Advance(2 * time.Minute)
	acc.AddLog(logbook.CategoryNavigation, "/b")
	clock.Advance(time.Minute)

	age, ok := acc.GetOldestAge(logbook.CategoryNavigation)
	if !ok || age != 3*time.Minute {
		t.Errorf("expected 3m, got %v %v", age, ok)
	}

	if _, err := acc.Claim(logbook.CategoryNavigation); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, ok := acc.GetOldestAge(logbook.CategoryNavigation); ok {
		t.Error("sent container has no age")
	}
	clock.Advance(6 * time.Minute)
	if _, ok := acc.GetOldestAge(logbook.CategoryNavigation); !ok {
		t.Error("stale sent container should report its age again")
	}

	store.Set(Key(logbook.CategoryLogin), `["legacy"]`)
	if _, ok := acc.GetOldestAge(logbook.CategoryLogin); ok {
		t.Error("unparseable container has no age")
	}
	if _, err := store.Get(Key(logbook.CategoryLogin)); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Error("unparseable container should be wiped")
	}
}

func TestClaimAndRelease(t *testing.T) {
	acc, _, _ := newTestAccumulator(DefaultOptions())
	acc.AddLog(logbook.CategoryCritical, "save failed")

	claimed, err := acc.Claim(logbook.CategoryCritical)
	if err != nil || claimed == nil {
		t.Fatalf("Claim: %v %v", claimed, err)
	}
	if again, _ := acc.Claim(logbook.CategoryCritical); again != nil {
		t.Error("a sent container must not be claimed twice")
	}

	if err := acc.Release(logbook.CategoryCritical, claimed.LogID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	c, _ := acc.Load(logbook.CategoryCritical)
	if c.Sent || !c.HasUnsent() {
		t.Errorf("expected rollback of sent flag, got %+v", c)
	}
}

func TestMarkShippedKeepsLateRecords(t *testing.T) {
	acc, _, clock := newTestAccumulator(DefaultOptions())
	acc.AddLog(logbook.CategoryServerError, "500 on /orders")

	claimed, _ := acc.Claim(logbook.CategoryServerError)
	clock.Advance(time.Second)
	acc.AddLog(logbook.CategoryServerError, "502 on /orders")

	if err := acc.MarkShipped(logbook.CategoryServerError, claimed.LogID, claimed.Logs); err != nil {
		t.Fatalf("MarkShipped: %v", err)
	}
	c, _ := acc.Load(logbook.CategoryServerError)
	if c == nil || len(c.Logs) != 1 || c.Logs[0].Details != "502 on /orders" {
		t.Fatalf("expected late record to remain, got %+v", c)
	}
	if c.LogID == claimed.LogID || c.Sent {
		t.Errorf("remaining records need a fresh unsent container, got %+v", c)
	}

	claimed, _ = acc.Claim(logbook.CategoryServerError)
	acc.MarkShipped(logbook.CategoryServerError, claimed.LogID, claimed.Logs)
	if c, _ := acc.Load(logbook.CategoryServerError); c != nil {
		t.Errorf("fully shipped container should be removed, got %+v", c)
	}
}

func TestRemoveLogByID(t *testing.T) {
	acc, _, _ := newTestAccumulator(DefaultOptions())
	acc.AddLog(logbook.CategoryInfo, "hello")
	c, _ := acc.Load(logbook.CategoryInfo)

	if acc.RemoveLogByID("nope") {
		t.Error("unknown id must not match")
	}
	if !acc.RemoveLogByID(c.LogID) {
		t.Fatal("expected container to be removed")
	}
	if acc.RemoveLogByID(c.LogID) {
		t.Error("second removal must report false")
	}
}

func TestStats(t *testing.T) {
	acc, _, _ := newTestAccumulator(DefaultOptions())
	acc.AddLog(logbook.CategoryInfo, "a")
	acc.AddLog(logbook.CategoryInfo, "b")
	acc.AddLog(logbook.CategoryDebug, "c")

	stats := acc.Stats()
	if len(stats) != 2 || stats[logbook.CategoryInfo].Count != 2 || stats[logbook.CategoryDebug].Count != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if len(acc.Containers()) != 2 {
		t.Errorf("expected two containers")
	}
}
