// Package app is the composition root of the app context: it wires storage,
// the event bus, the message queue, the log accumulator and the companion
// lifecycle from configuration, and exposes the use cases the API and CLI
// call.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wndlink/wndlink/pkg/bus"
	"github.com/wndlink/wndlink/pkg/companion"
	"github.com/wndlink/wndlink/pkg/config"
	"github.com/wndlink/wndlink/pkg/domain"
	domainlog "github.com/wndlink/wndlink/pkg/domain/logbook"
	"github.com/wndlink/wndlink/pkg/domain/message"
	"github.com/wndlink/wndlink/pkg/iframewnd"
	"github.com/wndlink/wndlink/pkg/infrastructure/eventbus"
	"github.com/wndlink/wndlink/pkg/infrastructure/persistence"
	"github.com/wndlink/wndlink/pkg/logbook"
	"github.com/wndlink/wndlink/pkg/logger"
	"github.com/wndlink/wndlink/pkg/recordapi"
	"github.com/wndlink/wndlink/pkg/transport/wstransport"
	"github.com/wndlink/wndlink/pkg/wire"
	"github.com/wndlink/wndlink/pkg/wndmsg"
)

// ---------------------------------------------------------------------------
// Composition root
// ---------------------------------------------------------------------------

// Overrides replace collaborators NewContainer would otherwise build from
// configuration. Zero fields keep the configured ones.
type Overrides struct {
	Store     domain.KVStore
	Writer    recordapi.Writer
	UI        iframewnd.UIHooks
	Clock     domain.Clock
	AfterFunc iframewnd.AfterFunc
}

// Container holds the app context and its collaborators.
type Container struct {
	Config *config.Config
	Events *eventbus.InProcessEventBus
	Store  domain.KVStore
	Writer recordapi.Writer
	Logs   *logbook.Accumulator
	Queue  *wndmsg.Service

	Companion *iframewnd.Manager

	// Bus is set in inprocess mode, Hub in remote mode.
	Bus   *bus.WindowBus
	Hub   *wstransport.Hub
	Codec wire.Codec

	clock      domain.Clock
	closeStore func() error
	startTime  time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// NewContainer builds a fully wired, not yet started, app context.
func NewContainer(cfg *config.Config, ov Overrides) (*Container, error) {
	codec, err := wire.ByName(cfg.Messaging.Codec)
	if err != nil {
		return nil, err
	}

	c := &Container{
		Config:     cfg,
		Events:     eventbus.New(),
		Codec:      codec,
		clock:      ov.Clock,
		closeStore: func() error { return nil },
		startTime:  time.Now(),
	}
	if c.clock == nil {
		c.clock = domain.SystemClock{}
	}

	raw := ov.Store
	if raw == nil {
		store, closeFn, err := persistence.Open(cfg.Storage.Driver, cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
		}
		raw, c.closeStore = store, closeFn
	}
	c.Store = persistence.NewNamespace(raw, cfg.App.ID, cfg.App.UserID)

	c.Writer = ov.Writer
	if c.Writer == nil {
		c.Writer = NewWriter(cfg)
	}

	c.Logs = logbook.New(c.Store, LogbookOptions(cfg), c.clock, c.Events)

	var transport message.Transport
	var host iframewnd.WindowHost
	switch cfg.Companion.Mode {
	case "remote":
		c.Hub = wstransport.NewHub(message.EndpointApp, codec)
		c.Hub.SetConnectionHooks(
			func() { logger.InfoC("app", "Remote companion connected") },
			func() { logger.InfoC("app", "Remote companion disconnected") },
		)
		transport, host = c.Hub, companion.NewRemoteHost(c.Hub)
	default:
		c.Bus = bus.NewWindowBus(bus.DefaultQueueSize)
		transport = c.Bus.Port(message.EndpointApp)
		host = companion.NewInProcessHost(c.Bus, c.Writer, CompanionOptions(cfg),
			QueueOptions(cfg, message.EndpointCompanion), c.clock, c.Events)
	}

	c.Queue = wndmsg.New(QueueOptions(cfg, message.EndpointApp), transport, wndmsg.Hooks{
		OnFailure: func(t message.Type, id int64) {
			logger.WarnCF("app", "Request to companion failed", map[string]interface{}{"type": t.String(), "id": id})
		},
		OnCompanionUnresponsive: func() { c.Companion.Recreate() },
		LogAppError: func(details string) {
			c.Logs.AddLog(domainlog.CategoryAppError, details)
		},
	}, c.clock, c.Events)

	c.Companion = iframewnd.New(ManagerOptions(cfg), iframewnd.Deps{
		Host:      host,
		Queue:     c.Queue,
		Logs:      c.Logs,
		Writer:    c.Writer,
		UI:        ov.UI,
		Clock:     c.clock,
		Events:    c.Events,
		AfterFunc: ov.AfterFunc,
	})

	c.Queue.RegisterHandler(message.TypeServerError, c.handleServerError)
	c.Queue.RegisterHandler(message.TypeLogsCleaned, c.handleLogsCleaned)
	c.Queue.RegisterHandler(message.TypeReloadApp, c.handleReloadApp)

	return c, nil
}

// Start runs the bus, the queue, the retention sweep and the companion.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	if c.Bus != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.Bus.Run(ctx)
		}()
	}

	c.Queue.Start(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Logs.RunRetention(ctx); err != nil {
			logger.ErrorCF("app", "Retention sweep disabled", map[string]interface{}{"error": err.Error()})
		}
	}()

	c.Events.Publish(domain.NewEvent(domain.EventSystemStartup, "", c.Config.Companion.Mode))
	logger.InfoCF("app", "App context started", map[string]interface{}{
		"mode":      c.Config.Companion.Mode,
		"developer": c.Config.IsDeveloper(),
	})

	if err := c.Companion.Start(ctx); err != nil {
		// The failsafe timer retries; a failed first open is not fatal.
		logger.WarnCF("app", "Initial companion open failed", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

// Stop tears everything down. Safe to call more than once.
func (c *Container) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	c.Companion.Stop()
	c.Queue.Stop()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	if c.Bus != nil {
		c.Bus.Close()
	}
	if c.Hub != nil {
		c.Hub.Disconnect()
	}
	c.Events.Publish(domain.NewEvent(domain.EventSystemShutdown, "", nil))
	c.Events.Close()
	return c.closeStore()
}

// Uptime is the time since the container was built.
func (c *Container) Uptime() time.Duration { return time.Since(c.startTime) }

// ---------------------------------------------------------------------------
// Use cases
// ---------------------------------------------------------------------------

// AddLog records details under the category code, e.g. "CRT".
func (c *Container) AddLog(category, details string) error {
	cat := domainlog.Category(category)
	if !cat.Valid() {
		return fmt.Errorf("%w: %q", domainlog.ErrUnknownCategory, category)
	}
	return c.Logs.AddLog(cat, details)
}

// SendToCompanion enqueues a request for the companion.
func (c *Container) SendToCompanion(ctx context.Context, t message.Type, payload interface{}) (int64, error) {
	if t == "" {
		return 0, message.ErrEmptyType
	}
	return c.Queue.Request(ctx, t, message.EndpointCompanion, payload)
}

// statusEvents is how many recent domain events a status snapshot carries.
const statusEvents = 20

// Status is the runtime snapshot served by the API.
type Status struct {
	Mode         string                                       `json:"mode"`
	Uptime       string                                       `json:"uptime"`
	Companion    iframewnd.Status                             `json:"companion"`
	Pending      []message.PendingInfo                        `json:"pending"`
	Logs         map[domainlog.Category]logbook.CategoryStats `json:"logs"`
	RecentEvents []domain.Event                               `json:"recent_events"`
}

// Status returns the current snapshot.
func (c *Container) Status() Status {
	return Status{
		Mode:         c.Config.Companion.Mode,
		Uptime:       c.Uptime().Round(time.Second).String(),
		Companion:    c.Companion.Status(),
		Pending:      c.Queue.Pending(),
		Logs:         c.Logs.Stats(),
		RecentEvents: c.Events.Recent(statusEvents),
	}
}

// ---------------------------------------------------------------------------
// Handlers for companion requests
// ---------------------------------------------------------------------------

func (c *Container) handleServerError(_ context.Context, env message.Envelope) error {
	var p companion.ServerErrorPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	return ignoreDropped(c.Logs.AddLog(domainlog.CategoryServerError, fmt.Sprintf("status %d: %s", p.Status, p.Details)))
}

func (c *Container) handleLogsCleaned(_ context.Context, env message.Envelope) error {
	var p companion.LogsCleanedPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	if !c.Logs.RemoveLogByID(p.LogID) {
		logger.DebugCF("app", "Cleaned logs were already gone", map[string]interface{}{"log_id": p.LogID})
	}
	return nil
}

func (c *Container) handleReloadApp(_ context.Context, env message.Envelope) error {
	logger.InfoCF("app", "Companion asked for an app reload", map[string]interface{}{"id": env.ID})
	return nil
}

// ignoreDropped treats a deliberately skipped log entry as handled so the
// request is still acknowledged.
func ignoreDropped(err error) error {
	if errors.Is(err, domainlog.ErrDuplicate) || errors.Is(err, domainlog.ErrDisabled) {
		return nil
	}
	return err
}
