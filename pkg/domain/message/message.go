// Package message defines the envelope exchanged between the app context and
// the companion context, the transport port that carries it, and the
// correlation id generator.
package message

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wndlink/wndlink/pkg/domain"
)

// ---------------------------------------------------------------------------
// Message vocabulary
// ---------------------------------------------------------------------------

// Type is the semantic purpose of a message.
type Type string

const (
	TypeHeartbeat    Type = "heartbeatMsg"
	TypeReady        Type = "readyMsg"
	TypeReloadApp    Type = "reloadAppMsg"
	TypePrefsChanged Type = "prefsChangedMsg"
	TypeFiltersSync  Type = "filtersSyncMsg"
	TypeServerError  Type = "serverErrorMsg"
	TypeLogsCleaned  Type = "logsCleanedMsg"
)

func (t Type) String() string { return string(t) }

// Subtype distinguishes requests from acknowledgements.
type Subtype string

const (
	SubtypeRequest Subtype = "request"
	SubtypeAck     Subtype = "acknowledgement"
)

func (s Subtype) String() string { return string(s) }

// Valid returns true for the two known subtypes.
func (s Subtype) Valid() bool {
	return s == SubtypeRequest || s == SubtypeAck
}

// Endpoint is a logical message address.
type Endpoint string

const (
	EndpointApp       Endpoint = "app"
	EndpointCompanion Endpoint = "companion"
)

func (e Endpoint) String() string { return string(e) }

// IsFixedPair reports whether src and dst are the app/companion pair, in
// either direction. Everything else goes through the external send hook.
func IsFixedPair(src, dst Endpoint) bool {
	return (src == EndpointApp && dst == EndpointCompanion) ||
		(src == EndpointCompanion && dst == EndpointApp)
}

// ---------------------------------------------------------------------------
// Envelope value object
// ---------------------------------------------------------------------------

// Envelope is the unit of communication. Payload is opaque to the queue.
type Envelope struct {
	Type        Type        `json:"type" msgpack:"type"`
	Subtype     Subtype     `json:"subtype" msgpack:"subtype"`
	Source      Endpoint    `json:"source" msgpack:"source"`
	Destination Endpoint    `json:"destination" msgpack:"destination"`
	ID          int64       `json:"id" msgpack:"id"`
	Payload     interface{} `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

// IsRequest reports whether the envelope is a request.
func (e Envelope) IsRequest() bool { return e.Subtype == SubtypeRequest }

// AckFor builds the acknowledgement of req, addressed back to its source.
func AckFor(req Envelope) Envelope {
	return Envelope{
		Type:        req.Type,
		Subtype:     SubtypeAck,
		Source:      req.Destination,
		Destination: req.Source,
		ID:          req.ID,
	}
}

// DecodePayload converts the opaque payload into v. Payloads arrive as
// generic maps after a wire round trip, so this goes through JSON.
func (e Envelope) DecodePayload(v interface{}) error {
	if e.Payload == nil {
		return ErrEmptyPayload
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Correlation ids
// ---------------------------------------------------------------------------

// IDGenerator hands out request ids derived from the clock in milliseconds.
// An id never repeats and never goes backwards: when the clock reading is not
// past the previous id, the previous id plus one is used instead.
type IDGenerator struct {
	mu    sync.Mutex
	clock domain.Clock
	last  int64
}

// NewIDGenerator creates a generator reading clock.
func NewIDGenerator(clock domain.Clock) *IDGenerator {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &IDGenerator{clock: clock}
}

// Next returns the next id.
func (g *IDGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.clock.Now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}

// ---------------------------------------------------------------------------
// Transport port
// ---------------------------------------------------------------------------

// Transport carries envelopes between the two fixed endpoints. Delivery is
// best effort: a nil error from SendTo does not mean the peer received it.
type Transport interface {
	// SendTo delivers env to the given endpoint.
	SendTo(ctx context.Context, to Endpoint, env Envelope) error
	// OnMessage registers the receive callback for envelopes addressed to
	// this side. A later call replaces the earlier handler.
	OnMessage(handler func(env Envelope))
}

// ---------------------------------------------------------------------------
// Pending entry snapshot
// ---------------------------------------------------------------------------

// PendingInfo describes a request still waiting for its acknowledgement.
type PendingInfo struct {
	ID               int64     `json:"id"`
	Type             Type      `json:"type"`
	Destination      Endpoint  `json:"destination"`
	ExpiresAt        time.Time `json:"expires_at"`
	RetriesRemaining int       `json:"retries_remaining"`
}

// ---------------------------------------------------------------------------
// Domain errors
// ---------------------------------------------------------------------------

// MessageError is a typed error for the message domain.
type MessageError string

func (e MessageError) Error() string { return string(e) }

const (
	ErrEmptyType       MessageError = "message type cannot be empty"
	ErrEmptySubtype    MessageError = "message subtype cannot be empty"
	ErrInvalidSubtype  MessageError = "message subtype must be request or acknowledgement"
	ErrEmptyPayload    MessageError = "message has no payload"
	ErrNoPeer          MessageError = "no peer connected for endpoint"
	ErrTransportClosed MessageError = "transport closed"
)
