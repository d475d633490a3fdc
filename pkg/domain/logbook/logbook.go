// Package logbook defines the client-local log model: categories, records
// and the per-category container that the shipping senders drain.
package logbook

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Categories
// ---------------------------------------------------------------------------

// Category is the short code stored with every record.
type Category string

const (
	CategoryCritical    Category = "CRT"
	CategoryAppError    Category = "APP"
	CategoryServerError Category = "SVR"
	CategoryWarning     Category = "WRN"
	CategoryInfo        Category = "INF"
	CategoryDebug       Category = "DBG"
	CategoryLogin       Category = "LOG"
	CategoryActivity    Category = "ACT"
	CategoryNavigation  Category = "NAV"
)

var labels = map[Category]string{
	CategoryCritical:    "Critical",
	CategoryAppError:    "App Error",
	CategoryServerError: "Server Error",
	CategoryWarning:     "Warning",
	CategoryInfo:        "Info",
	CategoryDebug:       "Debug",
	CategoryLogin:       "Login",
	CategoryActivity:    "Activity",
	CategoryNavigation:  "Navigation",
}

func (c Category) String() string { return string(c) }

// Label is the human-readable type written to the remote store.
func (c Category) Label() string { return labels[c] }

// Valid returns true if the category is known.
func (c Category) Valid() bool {
	_, ok := labels[c]
	return ok
}

// HighPriority is the drain order of the high-priority sender.
func HighPriority() []Category {
	return []Category{
		CategoryCritical, CategoryAppError, CategoryServerError, CategoryWarning,
		CategoryInfo, CategoryDebug, CategoryLogin,
	}
}

// LowPriority lists the batched telemetry categories.
func LowPriority() []Category {
	return []Category{CategoryActivity, CategoryNavigation}
}

// AllCategories returns every known category.
func AllCategories() []Category {
	return append(HighPriority(), LowPriority()...)
}

// ---------------------------------------------------------------------------
// Record and container
// ---------------------------------------------------------------------------

// Record is one accumulated event.
type Record struct {
	Time     time.Time `json:"dt"`
	Category Category  `json:"type"`
	Details  string    `json:"details"`
}

// Container groups a category's records. Logs are newest first. Sent marks a
// container whose shipment is in flight in some window.
type Container struct {
	Logs   []Record   `json:"logs"`
	LogID  string     `json:"logId"`
	Sent   bool       `json:"sent"`
	SentAt *time.Time `json:"sentAt,omitempty"`
}

// HasUnsent reports whether the container holds records nobody is shipping.
func (c *Container) HasUnsent() bool {
	return c != nil && len(c.Logs) > 0 && !c.Sent
}

// Oldest returns the record with the earliest timestamp.
func (c *Container) Oldest() (Record, bool) {
	if c == nil || len(c.Logs) == 0 {
		return Record{}, false
	}
	oldest := c.Logs[0]
	for _, r := range c.Logs[1:] {
		if r.Time.Before(oldest.Time) {
			oldest = r
		}
	}
	return oldest, true
}

// MarkSent flags the container as in flight.
func (c *Container) MarkSent(at time.Time) {
	c.Sent = true
	c.SentAt = &at
}

// ClearSent rolls a failed shipment back.
func (c *Container) ClearSent() {
	c.Sent = false
	c.SentAt = nil
}

// IsStale reports whether a sent flag is older than timeout, meaning the
// window that set it most likely died mid-write.
func (c *Container) IsStale(now time.Time, timeout time.Duration) bool {
	if c == nil || !c.Sent || c.SentAt == nil || timeout <= 0 {
		return false
	}
	return now.Sub(*c.SentAt) > timeout
}

// Encode serializes the container for storage.
func (c *Container) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode log container: %w", err)
	}
	return string(data), nil
}

// SerializeLogs renders the records for the remote details field.
func (c *Container) SerializeLogs() (string, error) {
	data, err := json.Marshal(c.Logs)
	if err != nil {
		return "", fmt.Errorf("serialize logs: %w", err)
	}
	return string(data), nil
}

// ParseContainer decodes a stored container. Anything that does not decode
// into the current shape is reported as ErrObsoleteFormat.
func ParseContainer(raw string) (*Container, error) {
	var c Container
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrObsoleteFormat, err)
	}
	if c.LogID == "" && len(c.Logs) > 0 {
		return nil, fmt.Errorf("%w: missing logId", ErrObsoleteFormat)
	}
	return &c, nil
}

// ---------------------------------------------------------------------------
// Activity payload
// ---------------------------------------------------------------------------

// Activity is the details document of the single ACT record: counters of
// mouse clicks and key presses since the last shipment.
type Activity struct {
	MouseClicks int `json:"mc"`
	KeyPresses  int `json:"kp"`
}

// IsIdle reports an all-zero activity payload.
func (a Activity) IsIdle() bool {
	return a.MouseClicks == 0 && a.KeyPresses == 0
}

// ParseActivity decodes an ACT record's details.
func ParseActivity(details string) (Activity, error) {
	var a Activity
	if err := json.Unmarshal([]byte(details), &a); err != nil {
		return Activity{}, fmt.Errorf("%w: activity: %v", ErrObsoleteFormat, err)
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// Domain errors
// ---------------------------------------------------------------------------

// LogError is a typed error for the log domain.
type LogError string

func (e LogError) Error() string { return string(e) }

const (
	ErrUnknownCategory LogError = "unknown log category"
	ErrObsoleteFormat  LogError = "obsolete log format"
	ErrEmptyDetails    LogError = "log details cannot be empty"
	ErrDisabled        LogError = "logging is disabled"
	ErrDuplicate       LogError = "duplicate of previous log"
)
