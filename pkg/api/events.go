// Event bridge: forwards domain events and window bus traffic to the
// dashboard stream.
package api

import (
	"context"

	"github.com/wndlink/wndlink/pkg/app"
	"github.com/wndlink/wndlink/pkg/bus"
	"github.com/wndlink/wndlink/pkg/domain"
	"github.com/wndlink/wndlink/pkg/logger"
)

// EventBridge connects the app context to a DashboardHub.
type EventBridge struct {
	app *app.Container
	hub *DashboardHub
}

// NewEventBridge creates a bridge from c to hub.
func NewEventBridge(c *app.Container, hub *DashboardHub) *EventBridge {
	return &EventBridge{app: c, hub: hub}
}

// Run subscribes to the event bus and, in inprocess mode, taps the window
// bus. It returns immediately; tap forwarding stops with ctx.
func (eb *EventBridge) Run(ctx context.Context) {
	eb.app.Events.SubscribeAll(eb.forwardEvent)

	if eb.app.Bus != nil {
		go eb.forwardDeliveries(ctx, eb.app.Bus.SubscribeTap("event-bridge"))
	}
	logger.InfoC("events", "Event bridge started")
}

func (eb *EventBridge) forwardEvent(evt domain.Event) {
	data := evt.Payload()
	if s, ok := data.(string); ok {
		data = truncate(s, 200)
	}
	eb.hub.Broadcast(string(evt.EventType()), map[string]interface{}{
		"aggregate_id": evt.AggregateID(),
		"data":         data,
	})
}

func (eb *EventBridge) forwardDeliveries(ctx context.Context, tap <-chan bus.Delivery) {
	for {
		select {
		case <-ctx.Done():
			logger.DebugC("events", "Delivery bridge stopped")
			return
		case d, ok := <-tap:
			if !ok {
				return
			}
			eb.hub.Broadcast("message.delivered", map[string]interface{}{
				"to":      d.To,
				"type":    d.Envelope.Type,
				"subtype": d.Envelope.Subtype,
				"id":      d.Envelope.ID,
			})
		}
	}
}
