// Package bus is the in-process message.Transport: the app and companion
// endpoints share one WindowBus when both run inside a single process.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/wndlink/wndlink/pkg/domain/message"
)

// DefaultQueueSize is the per-endpoint buffer.
const DefaultQueueSize = 100

// Delivery is what taps observe: one envelope on its way to an endpoint.
type Delivery struct {
	To       message.Endpoint `json:"to"`
	Envelope message.Envelope `json:"envelope"`
	At       time.Time        `json:"at"`
}

// Subscriber is a named tap on the delivery stream. Multiple subscribers can
// independently consume the same deliveries (fan-out).
type Subscriber struct {
	Name string
	ch   chan Delivery
}

type mailbox struct {
	queue    chan message.Envelope
	handler  func(message.Envelope)
	attached bool
}

// WindowBus routes envelopes between endpoints through buffered queues.
// Each endpoint is dispatched by its own goroutine, so handlers for one
// endpoint never run concurrently with each other.
type WindowBus struct {
	boxes     map[message.Endpoint]*mailbox
	taps      []*Subscriber
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWindowBus creates a bus with mailboxes for the app and companion
// endpoints. The app endpoint starts attached; the companion attaches when
// its window opens.
func NewWindowBus(queueSize int) *WindowBus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	wb := &WindowBus{boxes: make(map[message.Endpoint]*mailbox)}
	for _, ep := range []message.Endpoint{message.EndpointApp, message.EndpointCompanion} {
		wb.boxes[ep] = &mailbox{queue: make(chan message.Envelope, queueSize)}
	}
	wb.boxes[message.EndpointApp].attached = true
	return wb
}

// Port returns the transport used by the given endpoint.
func (wb *WindowBus) Port(self message.Endpoint) *Port {
	return &Port{bus: wb, self: self}
}

// Attach marks an endpoint as live. Sends to a detached endpoint fail with
// message.ErrNoPeer.
func (wb *WindowBus) Attach(ep message.Endpoint) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	if box, ok := wb.boxes[ep]; ok {
		box.attached = true
	}
}

// Detach takes an endpoint offline and discards whatever was queued for it.
func (wb *WindowBus) Detach(ep message.Endpoint) {
	wb.mu.Lock()
	box, ok := wb.boxes[ep]
	if ok {
		box.attached = false
		box.handler = nil
	}
	wb.mu.Unlock()
	if !ok {
		return
	}
	for {
		select {
		case <-box.queue:
		default:
			return
		}
	}
}

// Attached reports whether an endpoint is live.
func (wb *WindowBus) Attached(ep message.Endpoint) bool {
	wb.mu.RLock()
	defer wb.mu.RUnlock()
	box, ok := wb.boxes[ep]
	return ok && box.attached
}

// --- Fan-out subscriptions ---

// SubscribeTap creates a named subscriber that receives copies of every
// delivery. The returned channel is buffered; slow consumers drop.
func (wb *WindowBus) SubscribeTap(name string) <-chan Delivery {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan Delivery, 64)}
	wb.taps = append(wb.taps, sub)
	return sub.ch
}

func (wb *WindowBus) fanOut(d Delivery) {
	for _, sub := range wb.taps {
		select {
		case sub.ch <- d:
		default: // non-blocking, drop if subscriber is slow
		}
	}
}

// --- Publish / dispatch ---

func (wb *WindowBus) deliver(to message.Endpoint, env message.Envelope) error {
	wb.mu.RLock()
	if wb.closed {
		wb.mu.RUnlock()
		return message.ErrTransportClosed
	}
	box, ok := wb.boxes[to]
	if !ok || !box.attached {
		wb.mu.RUnlock()
		return message.ErrNoPeer
	}
	defer wb.mu.RUnlock()
	wb.fanOut(Delivery{To: to, Envelope: env, At: time.Now()})

	// Sends stay under the read lock so Close cannot close the queue
	// underneath them.
	select {
	case box.queue <- env:
	default:
		// Queue full, drop oldest and retry
		select {
		case <-box.queue:
		default:
		}
		select {
		case box.queue <- env:
		default:
		}
	}
	return nil
}

func (wb *WindowBus) setHandler(ep message.Endpoint, handler func(message.Envelope)) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	if box, ok := wb.boxes[ep]; ok {
		box.handler = handler
	}
}

func (wb *WindowBus) handler(ep message.Endpoint) func(message.Envelope) {
	wb.mu.RLock()
	defer wb.mu.RUnlock()
	return wb.boxes[ep].handler
}

// Run starts one dispatch goroutine per endpoint and blocks until ctx is
// cancelled or the bus is closed.
func (wb *WindowBus) Run(ctx context.Context) {
	for ep, box := range wb.boxes {
		wb.wg.Add(1)
		go wb.dispatch(ctx, ep, box.queue)
	}
	wb.wg.Wait()
}

func (wb *WindowBus) dispatch(ctx context.Context, ep message.Endpoint, queue <-chan message.Envelope) {
	defer wb.wg.Done()
	for {
		select {
		case env, ok := <-queue:
			if !ok {
				return
			}
			if h := wb.handler(ep); h != nil {
				h(env)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the bus. Pending envelopes are discarded.
func (wb *WindowBus) Close() {
	wb.closeOnce.Do(func() {
		wb.mu.Lock()
		wb.closed = true
		for _, sub := range wb.taps {
			close(sub.ch)
		}
		for _, box := range wb.boxes {
			close(box.queue)
		}
		wb.mu.Unlock()
	})
}

// ---------------------------------------------------------------------------
// Port
// ---------------------------------------------------------------------------

// Port is one endpoint's view of the bus.
type Port struct {
	bus  *WindowBus
	self message.Endpoint
}

// Self returns the endpoint this port receives for.
func (p *Port) Self() message.Endpoint { return p.self }

// SendTo queues env for the target endpoint.
func (p *Port) SendTo(_ context.Context, to message.Endpoint, env message.Envelope) error {
	return p.bus.deliver(to, env)
}

// OnMessage sets the receive callback for this port's endpoint.
func (p *Port) OnMessage(handler func(message.Envelope)) {
	p.bus.setHandler(p.self, handler)
}

var _ message.Transport = (*Port)(nil)
