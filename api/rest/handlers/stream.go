package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"splat-orchestrator/core/events"
	"splat-orchestrator/core/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Subscriber registers room handlers
type Subscriber interface {
	Subscribe(room string, handler events.Handler) func()
}

// StreamHandler pushes status events to WebSocket clients
type StreamHandler struct {
	subs         Subscriber
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

// NewStreamHandler creates a stream handler over subs
func NewStreamHandler(subs Subscriber) *StreamHandler {
	return &StreamHandler{
		subs: subs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingInterval: 30 * time.Second,
	}
}

type clientMessage struct {
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	ProjectName string `json:"projectName"`
}

type statusMessage struct {
	Type string `json:"type"`
	models.StatusEvent
}

type streamConn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
}

// enqueue never blocks. A full buffer drops msg.
func (c *streamConn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *streamConn) enqueueJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode stream message")
		return
	}
	if !c.enqueue(data) {
		log.Warn().Str("remote", c.ws.RemoteAddr().String()).Msg("dropping stream message for slow client")
	}
}

// Serve handles GET /ws?userId=&projectName=. Without a query the client
// must join a room before it receives anything.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var initial *models.JobKey
	if q.Get("userId") != "" || q.Get("projectName") != "" {
		key := models.JobKey{UserID: q.Get("userId"), ProjectName: q.Get("projectName")}
		if err := key.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
			return
		}
		initial = &key
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &streamConn{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	go h.writeLoop(c)

	unsubscribe := func() {}
	join := func(key models.JobKey) {
		unsubscribe()
		unsubscribe = h.subs.Subscribe(key.Room(), func(ctx context.Context, e models.StatusEvent) error {
			c.enqueueJSON(statusMessage{Type: "trainingStatus", StatusEvent: e})
			return nil
		})
		log.Debug().Str("room", key.Room()).Msg("stream client joined room")
	}
	if initial != nil {
		join(*initial)
	}
	defer func() {
		unsubscribe()
		close(c.done)
		ws.Close()
	}()

	pongWait := h.pingInterval * 2
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("stream client read error")
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case "join":
			key := models.JobKey{UserID: msg.UserID, ProjectName: msg.ProjectName}
			if err := key.Validate(); err != nil {
				c.enqueueJSON(map[string]string{"type": "error", "message": err.Error()})
				continue
			}
			join(key)
		case "ping":
			c.enqueueJSON(map[string]string{"type": "pong"})
		default:
			log.Debug().Str("type", msg.Type).Msg("ignoring stream message")
		}
	}
}

// writeLoop owns every write on the connection
func (h *StreamHandler) writeLoop(c *streamConn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Msg("stream write failed")
				c.ws.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.ws.Close()
				return
			}
		}
	}
}
