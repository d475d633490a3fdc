// Package wndmsg is the request/acknowledgement queue between the app and
// the companion. Requests stay pending until acked; the sweep redelivers
// expired ones and escalates once the retry budget is spent.
package wndmsg

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/wndlink/wndlink/pkg/domain"
	"github.com/wndlink/wndlink/pkg/domain/message"
	"github.com/wndlink/wndlink/pkg/logger"
)

// Handler processes a request. Returning nil acknowledges it; an error
// leaves it unacknowledged so the sender retries.
type Handler func(ctx context.Context, env message.Envelope) error

// AckHandler observes acknowledgements of a message type.
type AckHandler func(env message.Envelope)

type pendingEntry struct {
	env              message.Envelope
	expiresAt        time.Time
	retriesRemaining int
}

// Service owns one endpoint's pending queue and handler table.
type Service struct {
	opts      Options
	transport message.Transport
	hooks     Hooks
	clock     domain.Clock
	ids       *message.IDGenerator
	events    domain.EventBus

	mu          sync.Mutex
	pending     map[int64]*pendingEntry
	handlers    map[message.Type]Handler
	ackHandlers map[message.Type][]AckHandler
	baseCtx     context.Context
	cancel      context.CancelFunc
	heartbeat   chan struct{}
	wg          sync.WaitGroup
}

// New creates a queue and registers it as the transport's receiver.
func New(opts Options, transport message.Transport, hooks Hooks, clock domain.Clock, events domain.EventBus) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if events == nil {
		events = domain.NopEventBus{}
	}
	s := &Service{
		opts:        opts.withDefaults(),
		transport:   transport,
		hooks:       hooks.withDefaults(),
		clock:       clock,
		ids:         message.NewIDGenerator(clock),
		events:      events,
		pending:     make(map[int64]*pendingEntry),
		handlers:    make(map[message.Type]Handler),
		ackHandlers: make(map[message.Type][]AckHandler),
		baseCtx:     context.Background(),
	}
	if transport != nil {
		transport.OnMessage(s.Receive)
	}
	return s
}

// Self returns the endpoint this queue speaks for.
func (s *Service) Self() message.Endpoint { return s.opts.Self }

// Options returns the effective timings.
func (s *Service) Options() Options { return s.opts }

// --- Handler registration ---

// RegisterHandler sets the request handler for t, replacing any previous one.
func (s *Service) RegisterHandler(t message.Type, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[t] = h
}

// RegisterAckHandler adds an observer for acknowledgements of t.
func (s *Service) RegisterAckHandler(t message.Type, h AckHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackHandlers[t] = append(s.ackHandlers[t], h)
}

// --- Sending ---

// Request sends a new request from this endpoint and returns its id.
func (s *Service) Request(ctx context.Context, t message.Type, to message.Endpoint, payload interface{}) (int64, error) {
	return s.Send(ctx, message.Envelope{
		Type:        t,
		Subtype:     message.SubtypeRequest,
		Destination: to,
		Payload:     payload,
	})
}

// Send delivers env. Requests are tracked until acknowledged: a zero id is
// replaced by a fresh one, and re-sending a pending id redelivers without
// touching its retry state. An empty source means this endpoint. Delivery
// errors are logged; the retry sweep covers lost requests.
func (s *Service) Send(ctx context.Context, env message.Envelope) (int64, error) {
	if env.Type == "" {
		logger.ErrorCF("wndmsg", "Refusing to send message without type", map[string]interface{}{
			"destination": env.Destination.String(),
		})
		return 0, message.ErrEmptyType
	}
	if env.Subtype == "" {
		logger.ErrorCF("wndmsg", "Refusing to send message without subtype", map[string]interface{}{
			"type": env.Type.String(),
		})
		return 0, message.ErrEmptySubtype
	}
	if !env.Subtype.Valid() {
		return 0, message.ErrInvalidSubtype
	}
	if env.Source == "" {
		env.Source = s.opts.Self
	}

	if env.IsRequest() {
		if env.ID == 0 {
			env.ID = s.ids.Next()
		}
		s.mu.Lock()
		if _, exists := s.pending[env.ID]; !exists {
			s.pending[env.ID] = &pendingEntry{
				env:              env,
				expiresAt:        s.clock.Now().Add(s.opts.ExpirationWindow),
				retriesRemaining: s.opts.RetryCount,
			}
		}
		s.mu.Unlock()

		s.events.Publish(domain.NewEvent(domain.EventMessageSent, idKey(env.ID), map[string]interface{}{
			"type":        env.Type.String(),
			"destination": env.Destination.String(),
		}))
	}

	if err := s.deliver(ctx, env); err != nil && !env.IsRequest() {
		return env.ID, err
	}
	return env.ID, nil
}

// deliver routes env over the transport or the external hook. Never called
// with s.mu held.
func (s *Service) deliver(ctx context.Context, env message.Envelope) error {
	var err error
	if message.IsFixedPair(env.Source, env.Destination) && s.transport != nil {
		err = s.transport.SendTo(ctx, env.Destination, env)
	} else {
		err = s.hooks.SendExternal(env)
	}
	if err != nil {
		logger.DebugCF("wndmsg", "Delivery failed", map[string]interface{}{
			"type":        env.Type.String(),
			"subtype":     env.Subtype.String(),
			"id":          env.ID,
			"destination": env.Destination.String(),
			"error":       err.Error(),
		})
	}
	return err
}

// --- Expiry sweep ---

// Sweep retries or fails every expired request.
func (s *Service) Sweep() {
	now := s.clock.Now()

	var retry, failed []message.Envelope
	s.mu.Lock()
	for id, entry := range s.pending {
		if entry.expiresAt.Sub(now) > 0 {
			continue
		}
		entry.retriesRemaining--
		if entry.retriesRemaining > 0 {
			entry.expiresAt = now.Add(s.opts.ExpirationWindow)
			retry = append(retry, entry.env)
			continue
		}
		delete(s.pending, id)
		failed = append(failed, entry.env)
	}
	ctx := s.baseCtx
	s.mu.Unlock()

	sortByID(retry)
	sortByID(failed)

	for _, env := range retry {
		logger.DebugCF("wndmsg", "Retrying request", map[string]interface{}{
			"type": env.Type.String(),
			"id":   env.ID,
		})
		s.events.Publish(domain.NewEvent(domain.EventMessageRetried, idKey(env.ID), env.Type.String()))
		s.deliver(ctx, env)
	}
	for _, env := range failed {
		s.escalate(env)
	}
}

func (s *Service) escalate(env message.Envelope) {
	logger.WarnCF("wndmsg", "Request exhausted its retries", map[string]interface{}{
		"type":        env.Type.String(),
		"id":          env.ID,
		"destination": env.Destination.String(),
	})
	s.events.Publish(domain.NewEvent(domain.EventMessageFailed, idKey(env.ID), env.Type.String()))

	if env.Type == message.TypeHeartbeat {
		s.hooks.OnCompanionUnresponsive()
		return
	}
	s.hooks.LogAppError(fmt.Sprintf("Message %s (id %d) to %s was not acknowledged after %d attempts",
		env.Type, env.ID, env.Destination, s.opts.RetryCount))
	s.hooks.OnFailure(env.Type, env.ID)
}

// --- Receiving ---

// Receive handles an envelope addressed to this endpoint. It is registered
// as the transport callback by New.
func (s *Service) Receive(env message.Envelope) {
	if env.Type == "" || !env.Subtype.Valid() {
		logger.WarnCF("wndmsg", "Ignoring malformed message", map[string]interface{}{
			"type":    env.Type.String(),
			"subtype": env.Subtype.String(),
		})
		return
	}
	if env.IsRequest() {
		s.handleRequest(env)
		return
	}
	s.handleAck(env)
}

func (s *Service) handleRequest(env message.Envelope) {
	s.mu.Lock()
	handler, ok := s.handlers[env.Type]
	ctx := s.baseCtx
	s.mu.Unlock()

	var err error
	switch {
	case ok:
		err = handler(ctx, env)
	case s.hooks.OnAppMessage != nil:
		err = s.hooks.OnAppMessage(env)
	default:
		logger.WarnCF("wndmsg", "No handler for message type", map[string]interface{}{
			"type":   env.Type.String(),
			"id":     env.ID,
			"source": env.Source.String(),
		})
		return
	}
	if err != nil {
		logger.WarnCF("wndmsg", "Handler failed, leaving request unacknowledged", map[string]interface{}{
			"type":  env.Type.String(),
			"id":    env.ID,
			"error": err.Error(),
		})
		return
	}
	s.deliver(ctx, message.AckFor(env))
}

func (s *Service) handleAck(env message.Envelope) {
	removed := 0
	s.mu.Lock()
	if env.Type == message.TypeHeartbeat {
		removed = s.removeTypeLocked(message.TypeHeartbeat)
	} else if _, ok := s.pending[env.ID]; ok {
		delete(s.pending, env.ID)
		removed = 1
	}
	observers := append([]AckHandler(nil), s.ackHandlers[env.Type]...)
	s.mu.Unlock()

	if removed > 0 {
		s.events.Publish(domain.NewEvent(domain.EventMessageAcked, idKey(env.ID), env.Type.String()))
	}
	for _, observe := range observers {
		observe(env)
	}
}

// --- Queue maintenance ---

// RemoveAllMessagesOfType drops every pending request of type t and returns
// how many were removed.
func (s *Service) RemoveAllMessagesOfType(t message.Type) int {
	s.mu.Lock()
	n := s.removeTypeLocked(t)
	s.mu.Unlock()

	if n > 0 {
		s.events.Publish(domain.NewEvent(domain.EventMessageDropped, "", map[string]interface{}{
			"type":  t.String(),
			"count": n,
		}))
	}
	return n
}

func (s *Service) removeTypeLocked(t message.Type) int {
	n := 0
	for id, entry := range s.pending {
		if entry.env.Type == t {
			delete(s.pending, id)
			n++
		}
	}
	return n
}

// Pending returns the outstanding requests ordered by id.
func (s *Service) Pending() []message.PendingInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]message.PendingInfo, 0, len(s.pending))
	for _, entry := range s.pending {
		out = append(out, message.PendingInfo{
			ID:               entry.env.ID,
			Type:             entry.env.Type,
			Destination:      entry.env.Destination,
			ExpiresAt:        entry.expiresAt,
			RetriesRemaining: entry.retriesRemaining,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PendingCount returns the number of outstanding requests.
func (s *Service) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// --- Lifecycle ---

// Start runs the sweep ticker until Stop or ctx cancellation. Calling it
// while running does nothing.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.baseCtx = ctx
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.mu.Lock()
				if s.baseCtx == ctx {
					s.cancel = nil
				}
				s.mu.Unlock()
				cancel()
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()

	logger.InfoCF("wndmsg", "Message queue started", map[string]interface{}{
		"self":       s.opts.Self.String(),
		"expiration": s.opts.ExpirationWindow.String(),
		"retries":    s.opts.RetryCount,
	})
}

// Stop halts the sweep and the heartbeat. Safe to call repeatedly.
func (s *Service) Stop() {
	s.StartHeartbeat(false)

	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	logger.InfoCF("wndmsg", "Message queue stopped", map[string]interface{}{"self": s.opts.Self.String()})
}

// StartHeartbeat turns the periodic heartbeat to the companion on or off.
// Turning it on sends one heartbeat immediately; turning it off also purges
// pending heartbeats. Repeated calls with the same value do nothing.
func (s *Service) StartHeartbeat(run bool) {
	s.mu.Lock()
	if run == (s.heartbeat != nil) {
		s.mu.Unlock()
		return
	}
	if !run {
		close(s.heartbeat)
		s.heartbeat = nil
		s.mu.Unlock()
		s.RemoveAllMessagesOfType(message.TypeHeartbeat)
		logger.DebugC("wndmsg", "Heartbeat stopped")
		return
	}
	stop := make(chan struct{})
	s.heartbeat = stop
	ctx := s.baseCtx
	s.mu.Unlock()

	s.sendHeartbeat(ctx)
	go func() {
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				s.mu.Lock()
				if s.heartbeat == stop {
					s.heartbeat = nil
				}
				s.mu.Unlock()
				return
			case <-ticker.C:
				s.sendHeartbeat(ctx)
			}
		}
	}()
	logger.DebugCF("wndmsg", "Heartbeat started", map[string]interface{}{
		"interval": s.opts.HeartbeatInterval.String(),
	})
}

// HeartbeatRunning reports whether the heartbeat timer is active.
func (s *Service) HeartbeatRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeat != nil
}

func (s *Service) sendHeartbeat(ctx context.Context) {
	s.Request(ctx, message.TypeHeartbeat, message.EndpointCompanion, HeartbeatPayload{
		SentAt: s.clock.Now().UTC(),
	})
}

// HeartbeatPayload is the body of a heartbeat request.
type HeartbeatPayload struct {
	SentAt time.Time `json:"sentAt"`
}

func idKey(id int64) domain.EntityID {
	return domain.EntityID(strconv.FormatInt(id, 10))
}

func sortByID(envs []message.Envelope) {
	sort.Slice(envs, func(i, j int) bool { return envs[i].ID < envs[j].ID })
}
