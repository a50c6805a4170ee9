package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lattice-editor/server/internal/documents"
	"github.com/lattice-editor/server/internal/hub"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// connection binds one websocket to one joined peer in one Hub. The
// read pump and write pump are each a single goroutine, which is what
// gives per-connection, per-direction message ordering: neither pump
// ever runs two frames concurrently against the same socket.
type connection struct {
	ws         *websocket.Conn
	h          *hub.Hub
	peer       *hub.Peer
	documentID documents.DocumentID
	logger     *zap.Logger
}

func (c *connection) run() {
	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()
	c.readPump()
	c.h.Leave(c.peer.ID)
	close(c.peer.Outbox)
	<-done
}

// readPump decodes client frames serially and applies them to the Hub.
// It never writes to the socket itself, keeping read and write fully
// independent goroutines as gorilla/websocket requires.
func (c *connection) readPump() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.peer.Outbox <- hub.OutboundMessage{Type: hub.MessageError, DocumentID: c.documentID.String(), Reason: "malformed message"}
			continue
		}

		switch msg.Type {
		case ActionUpdate:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, err := c.h.Edit(ctx, c.peer, msg.UpdateB64, func() { c.h.TakeSnapshot(context.Background()) })
			cancel()
			if err != nil {
				c.peer.Outbox <- hub.OutboundMessage{Type: hub.MessageError, DocumentID: c.documentID.String(), Reason: err.Error()}
			}
		case ActionPresence:
			c.h.Presence(c.peer, msg.PresenceB64)
		case ActionLeave:
			return
		default:
			c.peer.Outbox <- hub.OutboundMessage{Type: hub.MessageError, DocumentID: c.documentID.String(), Reason: "unknown message type"}
		}
	}
}

// writePump drains the peer's outbox and is the only goroutine ever
// allowed to call a write method on the socket, per gorilla/websocket's
// concurrency contract.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.peer.Outbox:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(toWire(msg)); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func toWire(msg hub.OutboundMessage) outboundMessage {
	return outboundMessage{
		Type:        msg.Type,
		DocumentID:  msg.DocumentID,
		Seq:         msg.Seq,
		UpdateB64:   msg.UpdateB64,
		PresenceB64: msg.PresenceB64,
		PeerID:      msg.PeerID,
		PeerName:    msg.PeerName,
		Peers:       msg.Peers,
		Reason:      msg.Reason,
	}
}
