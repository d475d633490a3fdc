package iframewnd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wndlink/wndlink/pkg/domain"
	domainlog "github.com/wndlink/wndlink/pkg/domain/logbook"
	"github.com/wndlink/wndlink/pkg/logbook"
	"github.com/wndlink/wndlink/pkg/logger"
	"github.com/wndlink/wndlink/pkg/recordapi"
)

// LogFields names the remote fields of a shipped log batch.
type LogFields struct {
	LogID    string
	LogType  string
	Details  string
	DateTime string
	Account  string
}

// SenderOptions configures both senders.
type SenderOptions struct {
	HighPriorityInterval time.Duration
	LowPriorityInterval  time.Duration
	// AgeThreshold is how old the oldest ACT/NAV record must be before the
	// category ships.
	AgeThreshold time.Duration
	// Target is the record API target receiving log batches.
	Target    string
	AccountID string
	Fields    LogFields
	// ToastText confirms the email sent by a critical log write.
	ToastText    string
	ToastTimeout time.Duration
}

// DefaultSenderOptions returns the standard cadences.
func DefaultSenderOptions() SenderOptions {
	return SenderOptions{
		HighPriorityInterval: 10 * time.Second,
		LowPriorityInterval:  time.Minute,
		AgeThreshold:         60 * time.Minute,
		Fields: LogFields{
			LogID:    "log_id",
			LogType:  "log_type",
			Details:  "details",
			DateTime: "date_time",
			Account:  "account",
		},
		ToastText:    "Email sent",
		ToastTimeout: 10 * time.Second,
	}
}

// ---------------------------------------------------------------------------
// Shared shipping
// ---------------------------------------------------------------------------

type shipper struct {
	opts   SenderOptions
	logs   *logbook.Accumulator
	writer recordapi.Writer
	clock  domain.Clock
	events domain.EventBus
}

// wipeObsolete handles a container that no longer parses.
func (s *shipper) wipeObsolete(category domainlog.Category, cause error) {
	if err := s.logs.Wipe(category); err != nil {
		logger.ErrorCF("iframewnd", "Failed to wipe obsolete logs", map[string]interface{}{
			"category": category.String(),
			"error":    err.Error(),
		})
		return
	}
	s.logs.AddLog(domainlog.CategoryInfo, fmt.Sprintf("Obsolete format in %s logs, wiped: %v", category, cause))
}

// write sends one claimed container and settles its sent flag.
func (s *shipper) write(ctx context.Context, category domainlog.Category, c *domainlog.Container) error {
	details, err := c.SerializeLogs()
	if err != nil {
		s.logs.Release(category, c.LogID)
		return err
	}
	f := s.opts.Fields
	fields := map[string]interface{}{
		f.LogID:    c.LogID,
		f.LogType:  category.Label(),
		f.Details:  details,
		f.DateTime: s.clock.Now().UTC().Format(time.RFC3339),
	}
	if s.opts.AccountID != "" {
		fields[f.Account] = s.opts.AccountID
	}

	if _, err := s.writer.Write(ctx, s.opts.Target, "", fields, ""); err != nil {
		if rbErr := s.logs.Release(category, c.LogID); rbErr != nil {
			logger.ErrorCF("iframewnd", "Failed to roll back sent flag", map[string]interface{}{
				"category": category.String(),
				"error":    rbErr.Error(),
			})
		}
		logger.WarnCF("iframewnd", "Log shipment failed", map[string]interface{}{
			"category": category.String(),
			"log_id":   c.LogID,
			"error":    err.Error(),
		})
		s.events.Publish(domain.NewEvent(domain.EventLogShipFailed, domain.EntityID(c.LogID), category.String()))
		return err
	}

	if err := s.logs.MarkShipped(category, c.LogID, c.Logs); err != nil {
		logger.ErrorCF("iframewnd", "Failed to settle shipped logs", map[string]interface{}{
			"category": category.String(),
			"error":    err.Error(),
		})
	}
	logger.DebugCF("iframewnd", "Logs shipped", map[string]interface{}{
		"category": category.String(),
		"log_id":   c.LogID,
		"records":  len(c.Logs),
	})
	s.events.Publish(domain.NewEvent(domain.EventLogShipped, domain.EntityID(c.LogID), category.String()))
	return nil
}

// loop runs a ticker-driven sender until stopped.
type loop struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

func (l *loop) start(ctx context.Context, every time.Duration, pass func(context.Context)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running.Store(true)

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// Parent cancelled without stop: forget this run so start works again.
				l.mu.Lock()
				if l.done == done {
					l.cancel, l.done = nil, nil
					l.running.Store(false)
				}
				l.mu.Unlock()
				cancel()
				return
			case <-ticker.C:
				pass(ctx)
			}
		}
	}(l.done)
}

func (l *loop) stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.running.Store(false)
}

// ---------------------------------------------------------------------------
// High priority
// ---------------------------------------------------------------------------

// HighPrioritySender drains CRT, APP, SVR, WRN, INF, DBG and LOG, in that
// order, one category at a time.
type HighPrioritySender struct {
	shipper
	ui   UIHooks
	loop loop
	busy atomic.Bool
}

// NewHighPrioritySender creates a stopped sender.
func NewHighPrioritySender(opts SenderOptions, logs *logbook.Accumulator, writer recordapi.Writer, ui UIHooks, clock domain.Clock, events domain.EventBus) *HighPrioritySender {
	if ui == nil {
		ui = NopUIHooks{}
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if events == nil {
		events = domain.NopEventBus{}
	}
	if opts.HighPriorityInterval <= 0 {
		opts.HighPriorityInterval = DefaultSenderOptions().HighPriorityInterval
	}
	return &HighPrioritySender{
		shipper: shipper{opts: opts, logs: logs, writer: writer, clock: clock, events: events},
		ui:      ui,
	}
}

// Start ticks the sender. Idempotent.
func (s *HighPrioritySender) Start(ctx context.Context) {
	s.loop.start(ctx, s.opts.HighPriorityInterval, func(ctx context.Context) { s.RunOnce(ctx) })
}

// Stop halts the ticker and waits for a running pass. Idempotent.
func (s *HighPrioritySender) Stop() { s.loop.stop() }

// Running reports whether the ticker is active.
func (s *HighPrioritySender) Running() bool { return s.loop.running.Load() }

// RunOnce performs one pass and returns how many categories shipped. A
// failed write ends the pass; the next pass starts again from CRT. A pass
// that starts while another is in flight, such as during a critical write,
// does nothing.
func (s *HighPrioritySender) RunOnce(ctx context.Context) int {
	if !s.busy.CompareAndSwap(false, true) {
		return 0
	}
	defer s.busy.Store(false)

	shipped := 0
	for _, category := range domainlog.HighPriority() {
		if ctx.Err() != nil {
			return shipped
		}
		c, err := s.logs.Claim(category)
		if errors.Is(err, domainlog.ErrObsoleteFormat) {
			s.wipeObsolete(category, err)
			continue
		}
		if err != nil {
			logger.ErrorCF("iframewnd", "Failed to read logs", map[string]interface{}{
				"category": category.String(),
				"error":    err.Error(),
			})
			return shipped
		}
		if c == nil {
			continue
		}

		if category == domainlog.CategoryCritical {
			err = s.shipCritical(ctx, c)
		} else {
			err = s.write(ctx, category, c)
		}
		if err != nil {
			return shipped
		}
		shipped++
	}
	return shipped
}

// shipCritical writes CRT with auto refresh paused and the spinner shown,
// then waits for the confirmation toast of the email the write triggers.
func (s *HighPrioritySender) shipCritical(ctx context.Context, c *domainlog.Container) error {
	s.ui.PauseAutoRefresh()
	s.ui.ShowSpinner()
	defer func() {
		s.ui.HideSpinner()
		s.ui.ResumeAutoRefresh()
	}()

	if err := s.write(ctx, domainlog.CategoryCritical, c); err != nil {
		return err
	}
	if !s.ui.WaitForToast(ctx, s.opts.ToastText, s.opts.ToastTimeout) {
		if ctx.Err() != nil {
			logger.DebugC("iframewnd", "Toast wait cancelled")
			return nil
		}
		logger.WarnC("iframewnd", "Critical log confirmation toast not observed")
		s.logs.AddLog(domainlog.CategoryAppError,
			fmt.Sprintf("Critical log %s shipped but %q confirmation was not observed", c.LogID, s.opts.ToastText))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Low priority
// ---------------------------------------------------------------------------

// LowPrioritySender batches ACT and NAV, shipping a category only once its
// oldest record is older than the age threshold.
type LowPrioritySender struct {
	shipper
	loop loop
	busy atomic.Bool
}

// NewLowPrioritySender creates a stopped sender.
func NewLowPrioritySender(opts SenderOptions, logs *logbook.Accumulator, writer recordapi.Writer, clock domain.Clock, events domain.EventBus) *LowPrioritySender {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if events == nil {
		events = domain.NopEventBus{}
	}
	if opts.LowPriorityInterval <= 0 {
		opts.LowPriorityInterval = DefaultSenderOptions().LowPriorityInterval
	}
	if opts.AgeThreshold <= 0 {
		opts.AgeThreshold = DefaultSenderOptions().AgeThreshold
	}
	return &LowPrioritySender{
		shipper: shipper{opts: opts, logs: logs, writer: writer, clock: clock, events: events},
	}
}

// Start ticks the sender. Idempotent.
func (s *LowPrioritySender) Start(ctx context.Context) {
	s.loop.start(ctx, s.opts.LowPriorityInterval, func(ctx context.Context) { s.RunOnce(ctx) })
}

// Stop halts the ticker. Idempotent.
func (s *LowPrioritySender) Stop() { s.loop.stop() }

// Running reports whether the ticker is active.
func (s *LowPrioritySender) Running() bool { return s.loop.running.Load() }

// RunOnce performs one pass and returns how many categories shipped.
func (s *LowPrioritySender) RunOnce(ctx context.Context) int {
	if !s.busy.CompareAndSwap(false, true) {
		return 0
	}
	defer s.busy.Store(false)

	shipped := 0
	for _, category := range domainlog.LowPriority() {
		if ctx.Err() != nil {
			return shipped
		}
		current, err := s.logs.Load(category)
		if errors.Is(err, domainlog.ErrObsoleteFormat) {
			s.wipeObsolete(category, err)
			continue
		}
		if err != nil || current == nil {
			continue
		}

		age, ok := s.logs.GetOldestAge(category)
		if !ok || age <= s.opts.AgeThreshold {
			continue
		}

		if category == domainlog.CategoryActivity && len(current.Logs) > 0 {
			activity, err := domainlog.ParseActivity(current.Logs[0].Details)
			if err != nil {
				s.wipeObsolete(category, err)
				continue
			}
			if activity.IsIdle() {
				logger.DebugC("iframewnd", "Skipping idle activity")
				s.logs.Wipe(category)
				continue
			}
		}

		c, err := s.logs.Claim(category)
		if err != nil || c == nil {
			continue
		}
		if s.write(ctx, category, c) == nil {
			shipped++
		}
	}
	return shipped
}
