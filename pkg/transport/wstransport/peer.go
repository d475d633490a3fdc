// Package wstransport carries envelopes over a websocket when the companion
// runs as a separate process. The app side serves a Hub; the companion side
// dials it with a Client. Both implement message.Transport.
package wstransport

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wndlink/wndlink/pkg/domain/message"
	"github.com/wndlink/wndlink/pkg/logger"
	"github.com/wndlink/wndlink/pkg/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameSize   = 64 * 1024
	sendBufferSize = 256
)

var (
	errSendBufferFull = errors.New("websocket send buffer full")
	errPeerClosed     = message.ErrTransportClosed
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Same-origin requests have no Origin header
		}
		// Allow localhost origins only
		for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
			if strings.HasPrefix(origin, prefix) {
				return true
			}
		}
		logger.WarnCF("ws", "Rejected WebSocket from disallowed origin", map[string]interface{}{"origin": origin})
		return false
	},
}

// peer owns one websocket connection and its write queue.
type peer struct {
	conn      *websocket.Conn
	codec     wire.Codec
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(conn *websocket.Conn, codec wire.Codec) *peer {
	return &peer{
		conn:  conn,
		codec: codec,
		send:  make(chan []byte, sendBufferSize),
		done:  make(chan struct{}),
	}
}

func (p *peer) frameType() int {
	if p.codec.Binary() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func (p *peer) enqueue(frame []byte) error {
	select {
	case <-p.done:
		return errPeerClosed
	default:
	}
	select {
	case p.send <- frame:
		return nil
	case <-p.done:
		return errPeerClosed
	default:
		return errSendBufferFull
	}
}

// close asks writePump to send a close frame and drop the connection.
func (p *peer) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// readPump hands every frame to onFrame until the connection fails.
func (p *peer) readPump(onFrame func([]byte)) {
	defer p.close()

	p.conn.SetReadLimit(maxFrameSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.DebugCF("ws", "Read failed", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		onFrame(data)
	}
}

func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.close()
		p.conn.Close()
	}()

	for {
		select {
		case frame := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(p.frameType(), frame); err != nil {
				logger.DebugCF("ws", "Write failed", map[string]interface{}{"error": err.Error()})
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-p.done:
			p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
