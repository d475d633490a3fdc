package companion

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/wndlink/wndlink/pkg/bus"
	"github.com/wndlink/wndlink/pkg/domain"
	"github.com/wndlink/wndlink/pkg/domain/message"
	"github.com/wndlink/wndlink/pkg/iframewnd"
	"github.com/wndlink/wndlink/pkg/logger"
	"github.com/wndlink/wndlink/pkg/recordapi"
	"github.com/wndlink/wndlink/pkg/transport/wstransport"
	"github.com/wndlink/wndlink/pkg/wire"
	"github.com/wndlink/wndlink/pkg/wndmsg"
)

// ---------------------------------------------------------------------------
// In-process host
// ---------------------------------------------------------------------------

// InProcessHost runs each companion as a goroutine-backed runtime on the
// companion endpoint of a WindowBus.
type InProcessHost struct {
	bus       *bus.WindowBus
	writer    recordapi.Writer
	opts      Options
	queueOpts wndmsg.Options
	clock     domain.Clock
	events    domain.EventBus
}

// NewInProcessHost creates a host on wb. queueOpts configures each
// companion's queue; its Self is forced to the companion endpoint.
func NewInProcessHost(wb *bus.WindowBus, writer recordapi.Writer, opts Options, queueOpts wndmsg.Options, clock domain.Clock, events domain.EventBus) *InProcessHost {
	queueOpts.Self = message.EndpointCompanion
	return &InProcessHost{
		bus:       wb,
		writer:    writer,
		opts:      opts,
		queueOpts: queueOpts,
		clock:     clock,
		events:    events,
	}
}

// Open starts a companion runtime and sends its ready request.
func (h *InProcessHost) Open(ctx context.Context, route string) (iframewnd.Window, error) {
	h.bus.Attach(message.EndpointCompanion)
	queue := wndmsg.New(h.queueOpts, h.bus.Port(message.EndpointCompanion), wndmsg.Hooks{}, h.clock, h.events)
	rt := NewRuntime(queue, h.writer, h.opts, h.clock, route)

	ctx, cancel := context.WithCancel(ctx)
	if err := rt.Start(ctx); err != nil {
		cancel()
		rt.Stop()
		h.bus.Detach(message.EndpointCompanion)
		return nil, err
	}
	return &inProcessWindow{runtime: rt, cancel: cancel, bus: h.bus}, nil
}

type inProcessWindow struct {
	runtime *Runtime
	cancel  context.CancelFunc
	bus     *bus.WindowBus
	once    sync.Once
}

func (w *inProcessWindow) Close() error {
	w.once.Do(func() {
		w.bus.Detach(message.EndpointCompanion)
		w.runtime.Stop()
		w.cancel()
		logger.DebugCF("companion", "In-process companion closed", map[string]interface{}{
			"instance": w.runtime.Instance(),
		})
	})
	return nil
}

var _ iframewnd.WindowHost = (*InProcessHost)(nil)

// ---------------------------------------------------------------------------
// Remote host
// ---------------------------------------------------------------------------

// RemoteHost stands for a companion process that dials the app's websocket
// hub. Opening only records the handle; the process announces itself with
// its own ready request. Closing drops its connection, and the process
// reconnects as a fresh companion.
type RemoteHost struct {
	hub *wstransport.Hub
}

// NewRemoteHost creates a host over hub.
func NewRemoteHost(hub *wstransport.Hub) *RemoteHost {
	return &RemoteHost{hub: hub}
}

func (h *RemoteHost) Open(_ context.Context, route string) (iframewnd.Window, error) {
	logger.DebugCF("companion", "Awaiting remote companion", map[string]interface{}{
		"route":     route,
		"connected": h.hub.Connected(),
	})
	return remoteWindow{hub: h.hub}, nil
}

type remoteWindow struct {
	hub *wstransport.Hub
}

func (w remoteWindow) Close() error {
	w.hub.Disconnect()
	return nil
}

var _ iframewnd.WindowHost = (*RemoteHost)(nil)

// ---------------------------------------------------------------------------
// Remote worker
// ---------------------------------------------------------------------------

// WorkerOptions configures a companion process.
type WorkerOptions struct {
	URL       string
	Header    http.Header
	Codec     wire.Codec
	Queue     wndmsg.Options
	Companion Options
	// Backoff is the delay before reconnecting; it doubles up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// RunWorker keeps a companion connected to the app until ctx is cancelled.
// Every connection gets a fresh queue and runtime.
func RunWorker(ctx context.Context, opts WorkerOptions, writer recordapi.Writer, clock domain.Clock) error {
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = 30 * time.Second
	}
	opts.Queue.Self = message.EndpointCompanion

	delay := opts.Backoff
	for {
		client, err := wstransport.Dial(ctx, opts.URL, opts.Header, message.EndpointCompanion, opts.Codec)
		if err == nil {
			delay = opts.Backoff
			runConnection(ctx, client, opts, writer, clock)
		} else {
			logger.WarnCF("companion", "Connecting to app failed", map[string]interface{}{
				"url":   opts.URL,
				"error": err.Error(),
				"retry": delay.String(),
			})
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if err != nil {
			delay *= 2
			if delay > opts.MaxBackoff {
				delay = opts.MaxBackoff
			}
		}
	}
}

func runConnection(ctx context.Context, client *wstransport.Client, opts WorkerOptions, writer recordapi.Writer, clock domain.Clock) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := wndmsg.New(opts.Queue, client, wndmsg.Hooks{}, clock, nil)
	rt := NewRuntime(queue, writer, opts.Companion, clock, "")

	done := make(chan struct{})
	go func() {
		client.Run(connCtx)
		close(done)
	}()

	if err := rt.Start(connCtx); err != nil {
		logger.ErrorCF("companion", "Companion failed to start", map[string]interface{}{"error": err.Error()})
	}
	<-done
	rt.Stop()
	logger.InfoC("companion", "Disconnected from app")
}
