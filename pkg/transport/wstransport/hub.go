package wstransport

import (
	"context"
	"net/http"
	"sync"

	"github.com/wndlink/wndlink/pkg/domain/message"
	"github.com/wndlink/wndlink/pkg/logger"
	"github.com/wndlink/wndlink/pkg/wire"
)

// Hub is the app side of a websocket link. It holds at most one companion
// connection; a new connection replaces the previous one.
type Hub struct {
	self  message.Endpoint
	codec wire.Codec

	mu           sync.RWMutex
	peer         *peer
	handler      func(message.Envelope)
	onConnect    func()
	onDisconnect func()
}

// NewHub creates a hub receiving for the self endpoint.
func NewHub(self message.Endpoint, codec wire.Codec) *Hub {
	if codec == nil {
		codec = wire.JSONCodec{}
	}
	return &Hub{self: self, codec: codec}
}

// SetConnectionHooks registers callbacks for peer connect and disconnect.
func (h *Hub) SetConnectionHooks(onConnect, onDisconnect func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = onConnect
	h.onDisconnect = onDisconnect
}

// HandleWebSocket upgrades the request and adopts the connection as the
// current peer.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("ws", "WebSocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	p := newPeer(conn, h.codec)

	h.mu.Lock()
	previous := h.peer
	h.peer = p
	onConnect := h.onConnect
	h.mu.Unlock()

	if previous != nil {
		logger.InfoC("ws", "Replacing existing companion connection")
		previous.close()
	}
	logger.InfoCF("ws", "Companion connected", map[string]interface{}{
		"remote": r.RemoteAddr,
		"codec":  h.codec.Name(),
	})
	if onConnect != nil {
		onConnect()
	}

	go p.writePump()
	go func() {
		p.readPump(h.receive)
		h.drop(p)
	}()
}

func (h *Hub) receive(frame []byte) {
	env, err := h.codec.Unmarshal(frame)
	if err != nil {
		logger.WarnCF("ws", "Dropping undecodable frame", map[string]interface{}{"error": err.Error()})
		return
	}
	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()
	if handler != nil {
		handler(env)
	}
}

// drop forgets p if it is still the current peer.
func (h *Hub) drop(p *peer) {
	h.mu.Lock()
	current := h.peer == p
	if current {
		h.peer = nil
	}
	onDisconnect := h.onDisconnect
	h.mu.Unlock()

	if current {
		logger.InfoC("ws", "Companion disconnected")
		if onDisconnect != nil {
			onDisconnect()
		}
	}
}

// Connected reports whether a companion is attached.
func (h *Hub) Connected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peer != nil
}

// Disconnect closes the current companion connection, if any.
func (h *Hub) Disconnect() {
	h.mu.RLock()
	p := h.peer
	h.mu.RUnlock()
	if p != nil {
		p.close()
	}
}

// SendTo encodes env and queues it on the companion connection.
func (h *Hub) SendTo(_ context.Context, to message.Endpoint, env message.Envelope) error {
	if to == h.self {
		return message.ErrNoPeer
	}
	h.mu.RLock()
	p := h.peer
	h.mu.RUnlock()
	if p == nil {
		return message.ErrNoPeer
	}
	frame, err := h.codec.Marshal(env)
	if err != nil {
		return err
	}
	return p.enqueue(frame)
}

// OnMessage sets the receive callback.
func (h *Hub) OnMessage(handler func(message.Envelope)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

var _ message.Transport = (*Hub)(nil)
