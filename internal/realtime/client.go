package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second

	// Router capabilities and rtpParameters blobs are large.
	maxMessageSize = 512 * 1024

	// sendQueueSize bounds the outbound queue; a full queue means a slow
	// or dead client and drops the connection.
	sendQueueSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // trust-the-LAN deployment
	},
}

// Client is a single WebSocket connection. Until a successful join it has
// no identity; afterwards it owns exactly one peer in one room.
type Client struct {
	id      string
	conn    *websocket.Conn
	manager *Manager
	log     *zap.Logger
	ctx     context.Context
	send    chan []byte

	// room and peer are only touched by the connection's own read loop.
	room *Room
	peer *Peer
}

// ServeWs handles the WebSocket upgrade and runs the connection until the
// client goes away.
func ServeWs(manager *Manager, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			id:      uuid.NewString(),
			conn:    conn,
			manager: manager,
			ctx:     c.Request.Context(),
			send:    make(chan []byte, sendQueueSize),
		}
		client.log = logger.With(zap.String("conn_id", client.id))
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.leaveRoom()
		close(c.send)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues pre-serialized bytes for the writer. Returns false when
// the queue is full. A broadcast racing the connection's teardown loses
// the peer anyway, so a send on the closed channel is swallowed.
func (c *Client) enqueue(data []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// dropSlow disconnects a client whose outbound queue overflowed. The read
// loop observes the closed socket and runs the normal disconnection path.
func (c *Client) dropSlow() {
	c.log.Warn("outbound queue full, dropping connection")
	_ = c.conn.Close()
}

// sendEvent serializes and queues one event for this client.
func (c *Client) sendEvent(typ string, payload interface{}) {
	data, err := marshalEvent(typ, payload)
	if err != nil {
		c.log.Error("marshal event", zap.String("type", typ), zap.Error(err))
		return
	}
	if !c.enqueue(data) {
		c.dropSlow()
	}
}

func (c *Client) sendError(message string) {
	c.sendEvent(evtError, ErrorData{Message: message})
}

// leaveRoom runs the disconnection path: remove the peer, tell the others,
// garbage-collect the room.
func (c *Client) leaveRoom() {
	if c.room == nil || c.peer == nil {
		return
	}
	room, peer := c.room, c.peer
	c.room, c.peer = nil, nil

	if removed := room.RemovePeer(peer.ID); removed != nil {
		data, err := marshalEvent(evtPeerLeft, PeerLeftData{
			PeerID:     removed.ID,
			WasTeacher: removed.IsTeacher,
		})
		if err == nil {
			room.Broadcast(data, removed.ID)
		}
	}
	c.manager.CloseRoomIfEmpty(room.ID)
}
