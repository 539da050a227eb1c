package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// recording is a backend session allocated by /api/recording/start.
type recording struct {
	ID         string
	MeetingID  string
	User       string
	SampleRate int
	Channels   int
	CreatedAt  time.Time
}

type envelope struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"session_id,omitempty"`
	Text       string  `json:"text,omitempty"`
	IsFinal    bool    `json:"is_final,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Timestamp  string  `json:"timestamp,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// Hub tracks allocated recordings and their live socket clients.
type Hub struct {
	transcriber Transcriber
	logger      *zap.Logger

	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu         sync.RWMutex
	recordings map[string]*recording
	clients    map[string]*client
}

func NewHub(transcriber Transcriber, logger *zap.Logger) *Hub {
	return &Hub{
		transcriber: transcriber,
		logger:      logger,
		register:    make(chan *client),
		unregister:  make(chan *client),
		done:        make(chan struct{}),
		recordings:  make(map[string]*recording),
		clients:     make(map[string]*client),
	}
}

// Run serves register and unregister requests until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.mu.Lock()
			if previous, ok := h.clients[c.rec.ID]; ok {
				previous.conn.Close()
			}
			h.clients[c.rec.ID] = c
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("sessionID", c.rec.ID))

		case c := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[c.rec.ID]; ok && current == c {
				delete(h.clients, c.rec.ID)
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("sessionID", c.rec.ID))
		}
	}
}

func (h *Hub) join(c *client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

func (h *Hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) addRecording(rec *recording) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recordings[rec.ID] = rec
}

func (h *Hub) recording(id string) (*recording, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.recordings[id]
	return rec, ok
}

// finishMeeting drops every recording started for meetingID by user and
// reports whether any existed.
func (h *Hub) finishMeeting(meetingID string, user string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	found := false
	for id, rec := range h.recordings {
		if rec.MeetingID == meetingID && rec.User == user {
			delete(h.recordings, id)
			found = true
		}
	}
	return found
}

// ServeSocket upgrades the request and starts the client pumps.
func (h *Hub) ServeSocket(c echo.Context, rec *recording) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	cl := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan writeData, 256),
		rec:    rec,
		logger: h.logger.With(zap.String("sessionID", rec.ID)),
	}
	h.join(cl)

	cl.queueJSON(envelope{Type: "connected", SessionID: rec.ID})

	go cl.writePump()
	go cl.readPump()
	return nil
}

type writeData struct {
	Type    int
	Payload []byte
}

// client is one socket streaming audio for a recording.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan writeData
	rec    *recording
	logger *zap.Logger

	mu       sync.Mutex
	pcm      []byte
	closed   bool
	finished bool
}

func (c *client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.closeSend()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.processAudio(message)
		case websocket.TextMessage:
			if c.processControl(message) {
				return
			}
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Warn("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) processAudio(chunk []byte) {
	c.mu.Lock()
	c.pcm = append(c.pcm, chunk...)
	c.mu.Unlock()

	text, err := c.hub.transcriber.Transcribe(context.Background(), chunk, c.rec.SampleRate, c.rec.Channels)
	if err != nil {
		c.queueJSON(envelope{Type: "error", Message: err.Error()})
		return
	}
	if text == "" {
		return
	}
	c.queueJSON(envelope{
		Type:       "transcript",
		Text:       text,
		Confidence: 0.5,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// processControl handles text frames and reports whether the socket
// should close.
func (c *client) processControl(message []byte) bool {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		c.queueJSON(envelope{Type: "error", Message: "malformed control message"})
		return false
	}

	switch msg.Type {
	case "stop":
		c.flushFinal()
		return true
	case "ping":
		c.queueJSON(envelope{Type: "pong"})
	default:
		c.logger.Debug("Ignoring control message", zap.String("type", msg.Type))
	}
	return false
}

// flushFinal sends one final transcript covering everything received.
func (c *client) flushFinal() {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	pcm := c.pcm
	c.mu.Unlock()

	text, err := c.hub.transcriber.Transcribe(context.Background(), pcm, c.rec.SampleRate, c.rec.Channels)
	if err != nil {
		c.queueJSON(envelope{Type: "error", Message: err.Error()})
		return
	}
	if text == "" {
		return
	}
	c.queueJSON(envelope{
		Type:       "transcript",
		Text:       text,
		IsFinal:    true,
		Confidence: 0.9,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (c *client) queueJSON(msg envelope) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- writeData{Type: websocket.TextMessage, Payload: payload}:
	default:
		c.logger.Warn("Dropping outbound message, client too slow", zap.String("type", msg.Type))
	}
}

func (c *client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
