package wndmsg

import (
	"time"

	"github.com/wndlink/wndlink/pkg/domain/message"
)

// Options tunes one queue.
type Options struct {
	// Self is the endpoint this queue sends from and receives for.
	Self message.Endpoint
	// ExpirationWindow is how long a request waits for its ack.
	ExpirationWindow time.Duration
	// RetryCount bounds deliveries of one request before it fails.
	RetryCount int
	// SweepInterval is the expiry check cadence.
	SweepInterval time.Duration
	// HeartbeatInterval is the heartbeat cadence once started.
	HeartbeatInterval time.Duration
}

// DefaultOptions returns the standard timings for self.
func DefaultOptions(self message.Endpoint) Options {
	return Options{
		Self:              self,
		ExpirationWindow:  10 * time.Second,
		RetryCount:        5,
		SweepInterval:     time.Second,
		HeartbeatInterval: time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions(o.Self)
	if o.Self == "" {
		o.Self = message.EndpointApp
	}
	if o.ExpirationWindow <= 0 {
		o.ExpirationWindow = d.ExpirationWindow
	}
	if o.RetryCount <= 0 {
		o.RetryCount = d.RetryCount
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = d.SweepInterval
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	return o
}

// Hooks are the queue's outbound capabilities. Unset slots are no-ops,
// except OnAppMessage: without it, requests of unregistered types are
// dropped.
type Hooks struct {
	// SendExternal delivers envelopes whose endpoints are not the
	// app/companion pair.
	SendExternal func(env message.Envelope) error
	// OnFailure runs once when a non-heartbeat request exhausts its retries.
	OnFailure func(t message.Type, id int64)
	// OnCompanionUnresponsive runs when a heartbeat exhausts its retries.
	OnCompanionUnresponsive func()
	// LogAppError records an application error log entry.
	LogAppError func(details string)
	// OnAppMessage handles requests no handler is registered for.
	OnAppMessage func(env message.Envelope) error
}

func (h Hooks) withDefaults() Hooks {
	if h.SendExternal == nil {
		h.SendExternal = func(message.Envelope) error { return nil }
	}
	if h.OnFailure == nil {
		h.OnFailure = func(message.Type, int64) {}
	}
	if h.OnCompanionUnresponsive == nil {
		h.OnCompanionUnresponsive = func() {}
	}
	if h.LogAppError == nil {
		h.LogAppError = func(string) {}
	}
	return h
}
