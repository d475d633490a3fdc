// Package iframewnd owns the companion window: it opens it, waits for the
// ready handshake, keeps it alive with heartbeats, recycles it, and drives
// the two log senders while it is ready.
package iframewnd

import (
	"context"
	"sync"
	"time"

	"github.com/wndlink/wndlink/pkg/domain"
	"github.com/wndlink/wndlink/pkg/domain/message"
	"github.com/wndlink/wndlink/pkg/logbook"
	"github.com/wndlink/wndlink/pkg/logger"
	"github.com/wndlink/wndlink/pkg/recordapi"
	"github.com/wndlink/wndlink/pkg/wndmsg"
)

// Options configures the lifecycle and both senders.
type Options struct {
	Enabled         bool
	Route           string
	ReadyTimeout    time.Duration
	RecycleInterval time.Duration
	Senders         SenderOptions
}

// DefaultOptions returns the standard timings.
func DefaultOptions() Options {
	return Options{
		Enabled:         true,
		Route:           "/iframewnd",
		ReadyTimeout:    60 * time.Second,
		RecycleInterval: 5 * time.Minute,
		Senders:         DefaultSenderOptions(),
	}
}

// Deps are the collaborators of a Manager. Queue, Logs, Writer and Host are
// required.
type Deps struct {
	Host      WindowHost
	Queue     *wndmsg.Service
	Logs      *logbook.Accumulator
	Writer    recordapi.Writer
	UI        UIHooks
	Clock     domain.Clock
	Events    domain.EventBus
	AfterFunc AfterFunc
}

// Status is a snapshot of the companion lifecycle.
type Status struct {
	Enabled    bool                    `json:"enabled"`
	Present    bool                    `json:"present"`
	Ready      bool                    `json:"ready"`
	State      domain.ConnectionStatus `json:"state"`
	Created    int                     `json:"created"`
	Recreated  int                     `json:"recreated"`
	LastReady  *time.Time              `json:"last_ready,omitempty"`
	Heartbeat  bool                    `json:"heartbeat"`
	LastError  string                  `json:"last_error,omitempty"`
	HighSender bool                    `json:"high_priority_sender"`
	LowSender  bool                    `json:"low_priority_sender"`
}

// Manager holds at most one companion window.
type Manager struct {
	opts      Options
	host      WindowHost
	queue     *wndmsg.Service
	ui        UIHooks
	clock     domain.Clock
	events    domain.EventBus
	afterFunc AfterFunc

	high *HighPrioritySender
	low  *LowPrioritySender

	mu        sync.Mutex
	baseCtx   context.Context
	stopped   bool
	window    Window
	opening   bool
	ready     bool
	failsafe  Timer
	recycle   Timer
	created   int
	recreated int
	lastReady time.Time
	lastError string

	// Bumped whenever the matching timer is armed or cancelled, so a
	// callback that lost the race with Stop can tell it is stale.
	failsafeGen uint64
	recycleGen  uint64
}

// New creates a Manager and registers its ready handler on the queue.
func New(opts Options, deps Deps) *Manager {
	if deps.UI == nil {
		deps.UI = NopUIHooks{}
	}
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	if deps.Events == nil {
		deps.Events = domain.NopEventBus{}
	}
	if deps.AfterFunc == nil {
		deps.AfterFunc = systemAfterFunc
	}
	if opts.Route == "" {
		opts.Route = DefaultOptions().Route
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultOptions().ReadyTimeout
	}
	if opts.RecycleInterval <= 0 {
		opts.RecycleInterval = DefaultOptions().RecycleInterval
	}

	m := &Manager{
		opts:      opts,
		host:      deps.Host,
		queue:     deps.Queue,
		ui:        deps.UI,
		clock:     deps.Clock,
		events:    deps.Events,
		afterFunc: deps.AfterFunc,
		baseCtx:   context.Background(),
	}
	m.high = NewHighPrioritySender(opts.Senders, deps.Logs, deps.Writer, deps.UI, deps.Clock, deps.Events)
	m.low = NewLowPrioritySender(opts.Senders, deps.Logs, deps.Writer, deps.Clock, deps.Events)
	deps.Queue.RegisterHandler(message.TypeReady, m.HandleReady)
	return m
}

// HighPriority returns the high-priority sender.
func (m *Manager) HighPriority() *HighPrioritySender { return m.high }

// LowPriority returns the low-priority sender.
func (m *Manager) LowPriority() *LowPrioritySender { return m.low }

// Start remembers ctx for timers and senders, then creates the companion.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.baseCtx = ctx
	m.stopped = false
	m.mu.Unlock()
	return m.Create()
}

// Stop deletes the companion. Create, Recreate and pending timers do
// nothing afterwards until the next Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.Delete()
}

// Create opens the companion unless it is disabled, the login form is
// showing, this process is the companion, nobody is signed in, or one
// already exists. A failsafe timer recreates the companion if it does not
// become ready in time.
func (m *Manager) Create() error {
	if !m.opts.Enabled {
		return nil
	}
	if m.ui.LoginFormVisible() || m.ui.InCompanionContext() || !m.ui.Authenticated() {
		logger.DebugC("iframewnd", "Companion creation skipped by page state")
		return nil
	}

	m.mu.Lock()
	if m.stopped || m.baseCtx.Err() != nil {
		m.mu.Unlock()
		return nil
	}
	if m.window != nil || m.opening {
		m.mu.Unlock()
		return nil
	}
	m.opening = true
	ctx := m.baseCtx
	m.mu.Unlock()

	w, err := m.host.Open(ctx, m.opts.Route)

	m.mu.Lock()
	m.opening = false
	if m.stopped {
		m.mu.Unlock()
		if err == nil {
			w.Close()
		}
		return nil
	}
	if err == nil {
		m.window = w
		m.created++
		m.lastError = ""
	} else {
		m.lastError = err.Error()
	}
	m.armFailsafeLocked()
	m.mu.Unlock()

	if err != nil {
		logger.ErrorCF("iframewnd", "Failed to open companion", map[string]interface{}{
			"route": m.opts.Route,
			"error": err.Error(),
		})
		return err
	}
	logger.InfoCF("iframewnd", "Companion created", map[string]interface{}{"route": m.opts.Route})
	m.events.Publish(domain.NewEvent(domain.EventCompanionCreated, "", m.opts.Route))
	return nil
}

func (m *Manager) armFailsafeLocked() {
	if m.failsafe != nil {
		m.failsafe.Stop()
	}
	m.failsafeGen++
	gen := m.failsafeGen
	m.failsafe = m.afterFunc(m.opts.ReadyTimeout, func() { m.onReadyTimeout(gen) })
}

func (m *Manager) onReadyTimeout(gen uint64) {
	m.mu.Lock()
	if gen != m.failsafeGen || m.stopped {
		m.mu.Unlock()
		return
	}
	ready := m.ready
	m.failsafe = nil
	m.mu.Unlock()
	if ready {
		return
	}
	logger.WarnCF("iframewnd", "Companion did not become ready in time", map[string]interface{}{
		"timeout": m.opts.ReadyTimeout.String(),
	})
	m.events.Publish(domain.NewEvent(domain.EventCompanionTimeout, "", m.opts.ReadyTimeout.String()))
	m.Recreate()
}

// HandleReady is the queue handler for the companion's ready request. It
// starts the heartbeat and both senders and arms the recycle timer. A
// repeated ready for an already ready companion is acknowledged without
// restarting anything.
func (m *Manager) HandleReady(_ context.Context, env message.Envelope) error {
	m.mu.Lock()
	if m.window == nil {
		m.mu.Unlock()
		logger.DebugCF("iframewnd", "Ready from a companion that is no longer tracked", map[string]interface{}{"id": env.ID})
		return nil
	}
	if m.ready {
		m.mu.Unlock()
		return nil
	}
	m.ready = true
	m.lastReady = m.clock.Now()
	if m.failsafe != nil {
		m.failsafe.Stop()
		m.failsafe = nil
	}
	m.failsafeGen++
	m.recycleGen++
	gen := m.recycleGen
	m.recycle = m.afterFunc(m.opts.RecycleInterval, func() { m.onRecycle(gen) })
	ctx := m.baseCtx
	m.mu.Unlock()

	m.queue.StartHeartbeat(true)
	m.high.Start(ctx)
	m.low.Start(ctx)

	logger.InfoC("iframewnd", "Companion ready")
	m.events.Publish(domain.NewEvent(domain.EventCompanionReady, "", nil))
	return nil
}

func (m *Manager) onRecycle(gen uint64) {
	m.mu.Lock()
	if gen != m.recycleGen || m.stopped {
		m.mu.Unlock()
		return
	}
	m.recycle = nil
	m.mu.Unlock()
	logger.DebugC("iframewnd", "Recycling companion")
	m.events.Publish(domain.NewEvent(domain.EventCompanionRecycled, "", nil))
	m.Recreate()
}

// Delete stops the heartbeat and senders, purges pending heartbeats, closes
// the companion and forgets it. Safe to call when nothing exists.
func (m *Manager) Delete() {
	m.mu.Lock()
	w := m.window
	m.window = nil
	m.ready = false
	if m.failsafe != nil {
		m.failsafe.Stop()
		m.failsafe = nil
	}
	if m.recycle != nil {
		m.recycle.Stop()
		m.recycle = nil
	}
	m.failsafeGen++
	m.recycleGen++
	m.mu.Unlock()

	m.queue.StartHeartbeat(false)
	m.queue.RemoveAllMessagesOfType(message.TypeHeartbeat)
	m.high.Stop()
	m.low.Stop()

	if w == nil {
		return
	}
	if err := w.Close(); err != nil {
		logger.WarnCF("iframewnd", "Closing companion failed", map[string]interface{}{"error": err.Error()})
	}
	logger.InfoC("iframewnd", "Companion deleted")
	m.events.Publish(domain.NewEvent(domain.EventCompanionDestroyed, "", nil))
}

// Recreate replaces the companion with a fresh one.
func (m *Manager) Recreate() {
	m.Delete()
	m.mu.Lock()
	m.recreated++
	m.mu.Unlock()
	m.Create()
}

// Status returns a snapshot for status endpoints.
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{
		Enabled:   m.opts.Enabled,
		Present:   m.window != nil,
		Ready:     m.ready,
		Created:   m.created,
		Recreated: m.recreated,
		LastError: m.lastError,
	}
	if !m.lastReady.IsZero() {
		t := m.lastReady
		st.LastReady = &t
	}
	m.mu.Unlock()

	switch {
	case st.Ready:
		st.State = domain.StatusConnected
	case st.Present:
		st.State = domain.StatusConnecting
	case st.LastError != "":
		st.State = domain.StatusError
	default:
		st.State = domain.StatusIdle
	}
	st.Heartbeat = m.queue.HeartbeatRunning()
	st.HighSender = m.high.Running()
	st.LowSender = m.low.Running()
	return st
}
