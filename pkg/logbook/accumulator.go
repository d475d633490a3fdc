// Package logbook accumulates client-local log records in one stored
// container per category until the shipping senders drain them.
package logbook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/wndlink/wndlink/pkg/domain"
	"github.com/wndlink/wndlink/pkg/domain/logbook"
	"github.com/wndlink/wndlink/pkg/logger"
)

// KeyPrefix precedes the category code in container keys.
const KeyPrefix = "logs_"

// Options bounds the accumulator.
type Options struct {
	Disabled bool
	// MaxEntries caps the records kept across all categories except ACT.
	MaxEntries int
	// Slack is how far inserts may overshoot MaxEntries before an
	// immediate trim.
	Slack int
	// RetentionSchedule is the cron expression of the periodic trim.
	RetentionSchedule string
	// StaleSentTimeout releases sent flags left behind by a crashed window.
	StaleSentTimeout time.Duration
}

// DefaultOptions returns the standard bounds.
func DefaultOptions() Options {
	return Options{
		MaxEntries:        100,
		Slack:             10,
		RetentionSchedule: "@hourly",
		StaleSentTimeout:  5 * time.Minute,
	}
}

// CategoryStats summarizes one container.
type CategoryStats struct {
	Count  int       `json:"count"`
	Sent   bool      `json:"sent"`
	LogID  string    `json:"logId,omitempty"`
	Oldest time.Time `json:"oldest,omitempty"`
}

// Accumulator is the log store of one signed-in user.
type Accumulator struct {
	store  domain.KVStore
	opts   Options
	clock  domain.Clock
	events domain.EventBus

	mu          sync.Mutex
	lastDetails string
}

// New creates an accumulator over an already namespaced store.
func New(store domain.KVStore, opts Options, clock domain.Clock, events domain.EventBus) *Accumulator {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultOptions().MaxEntries
	}
	if opts.Slack < 0 {
		opts.Slack = 0
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if events == nil {
		events = domain.NopEventBus{}
	}
	return &Accumulator{store: store, opts: opts, clock: clock, events: events}
}

// Key returns the storage key of a category's container.
func Key(c logbook.Category) string { return KeyPrefix + c.String() }

// AddLog records details under category. Duplicates of the previous details
// (in any category) are dropped with ErrDuplicate. ACT keeps a single record
// whose details each call overwrites, keeping the first timestamp; other
// categories prepend.
func (a *Accumulator) AddLog(category logbook.Category, details string) error {
	if a.opts.Disabled {
		return logbook.ErrDisabled
	}
	if category == "" || details == "" {
		return logbook.ErrEmptyDetails
	}
	if !category.Valid() {
		logger.ErrorCF("logbook", "Unknown log category", map[string]interface{}{
			"category": category.String(),
		})
		return fmt.Errorf("%w: %q", logbook.ErrUnknownCategory, category)
	}

	a.mu.Lock()
	if details == a.lastDetails {
		a.mu.Unlock()
		return logbook.ErrDuplicate
	}
	a.lastDetails = details

	c, err := a.loadLocked(category)
	if err != nil {
		a.wipeLocked(category, err)
		c = nil
	}
	if c == nil || len(c.Logs) == 0 && !c.Sent {
		c = &logbook.Container{LogID: newLogID()}
	}

	rec := logbook.Record{Time: a.clock.Now().UTC(), Category: category, Details: details}
	if category == logbook.CategoryActivity {
		// The batch age runs from the first activity since the last shipment.
		if len(c.Logs) > 0 && !c.Sent {
			rec.Time = c.Logs[0].Time
		}
		c.Logs = []logbook.Record{rec}
	} else {
		c.Logs = append([]logbook.Record{rec}, c.Logs...)
	}
	if err := a.saveLocked(category, c); err != nil {
		a.mu.Unlock()
		return err
	}

	var trimmed int
	if category != logbook.CategoryActivity && a.totalLocked() > a.opts.MaxEntries+a.opts.Slack {
		trimmed = a.trimLocked()
	}
	a.mu.Unlock()

	a.events.Publish(domain.NewEvent(domain.EventLogAdded, domain.EntityID(c.LogID), category.String()))
	if trimmed > 0 {
		a.publishTrimmed(trimmed)
	}
	return nil
}

// GetOldestAge returns the age of the category's oldest unsent record. A
// sent container only counts once its sent flag has gone stale. Unparseable
// containers are wiped.
func (a *Accumulator) GetOldestAge(category logbook.Category) (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.loadLocked(category)
	if err != nil {
		a.wipeLocked(category, err)
		return 0, false
	}
	if c == nil || len(c.Logs) == 0 {
		return 0, false
	}
	now := a.clock.Now()
	if c.Sent && !c.IsStale(now, a.opts.StaleSentTimeout) {
		return 0, false
	}
	oldest, _ := c.Oldest()
	return now.Sub(oldest.Time), true
}

// RemoveLogByID deletes the container whose logId matches.
func (a *Accumulator) RemoveLogByID(logID string) bool {
	if logID == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, category := range logbook.AllCategories() {
		c, err := a.loadLocked(category)
		if err != nil || c == nil || c.LogID != logID {
			continue
		}
		if err := a.store.Remove(Key(category)); err != nil {
			logger.ErrorCF("logbook", "Failed to remove log container", map[string]interface{}{
				"category": category.String(),
				"error":    err.Error(),
			})
			return false
		}
		logger.DebugCF("logbook", "Removed log container", map[string]interface{}{
			"category": category.String(),
			"log_id":   logID,
		})
		return true
	}
	return false
}

// Load returns the stored container, or nil when there is none. An
// unparseable container yields an error wrapping logbook.ErrObsoleteFormat.
func (a *Accumulator) Load(category logbook.Category) (*logbook.Container, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loadLocked(category)
}

// Save overwrites the category's container.
func (a *Accumulator) Save(category logbook.Category, c *logbook.Container) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saveLocked(category, c)
}

// Wipe deletes the category's container.
func (a *Accumulator) Wipe(category logbook.Category) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wipeLocked(category, nil)
}

// Claim marks the category's container as sent and returns a copy of it
// for shipping. It returns nil when nothing is waiting, including when
// another sender holds a fresh sent flag.
func (a *Accumulator) Claim(category logbook.Category) (*logbook.Container, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.loadLocked(category)
	if err != nil {
		return nil, err
	}
	now := a.clock.Now()
	if !c.HasUnsent() {
		if c == nil || len(c.Logs) == 0 || !c.IsStale(now, a.opts.StaleSentTimeout) {
			return nil, nil
		}
		logger.WarnCF("logbook", "Releasing stale sent flag", map[string]interface{}{
			"category": category.String(),
			"log_id":   c.LogID,
		})
	}
	c.MarkSent(now)
	if err := a.saveLocked(category, c); err != nil {
		return nil, err
	}
	snapshot := *c
	snapshot.Logs = append([]logbook.Record(nil), c.Logs...)
	return &snapshot, nil
}

// Release clears the sent flag after a failed shipment.
func (a *Accumulator) Release(category logbook.Category, logID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.loadLocked(category)
	if err != nil || c == nil || c.LogID != logID {
		return err
	}
	c.ClearSent()
	return a.saveLocked(category, c)
}

// MarkShipped removes exactly the shipped records from the container with
// logID. Records added while the shipment was in flight stay behind under a
// fresh log id.
func (a *Accumulator) MarkShipped(category logbook.Category, logID string, shipped []logbook.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.loadLocked(category)
	if err != nil {
		return err
	}
	if c == nil || c.LogID != logID {
		return nil
	}

	gone := make(map[logbook.Record]int, len(shipped))
	for _, r := range shipped {
		gone[normalize(r)]++
	}
	remaining := make([]logbook.Record, 0, len(c.Logs))
	for _, r := range c.Logs {
		key := normalize(r)
		if gone[key] > 0 {
			gone[key]--
			continue
		}
		remaining = append(remaining, r)
	}

	if len(remaining) == 0 {
		return a.store.Remove(Key(category))
	}
	return a.saveLocked(category, &logbook.Container{Logs: remaining, LogID: newLogID()})
}

// TrimToCap evicts the oldest records beyond MaxEntries and returns how
// many were removed.
func (a *Accumulator) TrimToCap() int {
	a.mu.Lock()
	n := a.trimLocked()
	a.mu.Unlock()

	if n > 0 {
		a.publishTrimmed(n)
	}
	return n
}

// RunRetention trims on the retention schedule until ctx is cancelled.
func (a *Accumulator) RunRetention(ctx context.Context) error {
	expr := a.opts.RetentionSchedule
	if expr == "" {
		expr = DefaultOptions().RetentionSchedule
	}
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid retention schedule %q", expr)
	}

	for {
		next, err := gronx.NextTickAfter(expr, a.clock.Now(), false)
		if err != nil {
			return fmt.Errorf("retention schedule %q: %w", expr, err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if n := a.TrimToCap(); n > 0 {
			logger.InfoCF("logbook", "Retention sweep trimmed logs", map[string]interface{}{"removed": n})
		}
	}
}

// Stats returns per-category counts for categories holding records.
func (a *Accumulator) Stats() map[logbook.Category]CategoryStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[logbook.Category]CategoryStats)
	for _, category := range logbook.AllCategories() {
		c, err := a.loadLocked(category)
		if err != nil || c == nil || len(c.Logs) == 0 {
			continue
		}
		oldest, _ := c.Oldest()
		out[category] = CategoryStats{Count: len(c.Logs), Sent: c.Sent, LogID: c.LogID, Oldest: oldest.Time}
	}
	return out
}

// Containers returns every parseable stored container.
func (a *Accumulator) Containers() map[logbook.Category]*logbook.Container {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[logbook.Category]*logbook.Container)
	for _, category := range logbook.AllCategories() {
		if c, err := a.loadLocked(category); err == nil && c != nil {
			out[category] = c
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Internals. All *Locked helpers require a.mu.
// ---------------------------------------------------------------------------

func (a *Accumulator) loadLocked(category logbook.Category) (*logbook.Container, error) {
	raw, err := a.store.Get(Key(category))
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s logs: %w", category, err)
	}
	return logbook.ParseContainer(raw)
}

func (a *Accumulator) saveLocked(category logbook.Category, c *logbook.Container) error {
	raw, err := c.Encode()
	if err != nil {
		return err
	}
	if err := a.store.Set(Key(category), raw); err != nil {
		return fmt.Errorf("save %s logs: %w", category, err)
	}
	return nil
}

func (a *Accumulator) wipeLocked(category logbook.Category, cause error) error {
	if err := a.store.Remove(Key(category)); err != nil {
		return fmt.Errorf("wipe %s logs: %w", category, err)
	}
	fields := map[string]interface{}{"category": category.String()}
	if cause != nil {
		fields["cause"] = cause.Error()
	}
	logger.InfoCF("logbook", "Wiped log container", fields)
	a.events.Publish(domain.NewEvent(domain.EventLogWiped, "", category.String()))
	return nil
}

func (a *Accumulator) totalLocked() int {
	total := 0
	for _, category := range logbook.AllCategories() {
		if category == logbook.CategoryActivity {
			continue
		}
		if c, err := a.loadLocked(category); err == nil && c != nil {
			total += len(c.Logs)
		}
	}
	return total
}

type located struct {
	category logbook.Category
	record   logbook.Record
}

func (a *Accumulator) trimLocked() int {
	containers := make(map[logbook.Category]*logbook.Container)
	var all []located
	for _, category := range logbook.AllCategories() {
		if category == logbook.CategoryActivity {
			continue
		}
		c, err := a.loadLocked(category)
		if err != nil || c == nil || len(c.Logs) == 0 {
			continue
		}
		containers[category] = c
		// Stored newest first; collect oldest first so ties keep insertion order.
		for i := len(c.Logs) - 1; i >= 0; i-- {
			all = append(all, located{category: category, record: c.Logs[i]})
		}
	}

	excess := len(all) - a.opts.MaxEntries
	if excess <= 0 {
		return 0
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].record.Time.Before(all[j].record.Time)
	})
	evict := make(map[logbook.Category]map[logbook.Record]int)
	for _, l := range all[:excess] {
		if evict[l.category] == nil {
			evict[l.category] = make(map[logbook.Record]int)
		}
		evict[l.category][normalize(l.record)]++
	}

	for category, drop := range evict {
		c := containers[category]
		kept := c.Logs[:0]
		for _, r := range c.Logs {
			key := normalize(r)
			if drop[key] > 0 {
				drop[key]--
				continue
			}
			kept = append(kept, r)
		}
		c.Logs = kept
		if len(c.Logs) == 0 {
			if err := a.store.Remove(Key(category)); err != nil {
				logger.ErrorCF("logbook", "Trim failed", map[string]interface{}{"category": category.String(), "error": err.Error()})
			}
			continue
		}
		if err := a.saveLocked(category, c); err != nil {
			logger.ErrorCF("logbook", "Trim failed", map[string]interface{}{"category": category.String(), "error": err.Error()})
		}
	}
	return excess
}

func (a *Accumulator) publishTrimmed(n int) {
	logger.DebugCF("logbook", "Trimmed logs to cap", map[string]interface{}{
		"removed": n,
		"cap":     a.opts.MaxEntries,
	})
	a.events.Publish(domain.NewEvent(domain.EventLogTrimmed, "", n))
}

// normalize makes records comparable after a JSON round trip.
func normalize(r logbook.Record) logbook.Record {
	r.Time = r.Time.UTC().Round(0)
	return r
}

func newLogID() string {
	return domain.NewTimeOrderedID().String()
}
