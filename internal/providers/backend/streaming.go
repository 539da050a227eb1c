package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parth2411/transcription-platform-sub000/internal/domain"
	"github.com/parth2411/transcription-platform-sub000/internal/ports"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// ErrStreamClosed is returned when audio is sent after CloseSend or teardown.
var ErrStreamClosed = errors.New("audio stream is already closed")

// TokenSource yields the bearer token used for the socket handshake.
type TokenSource interface {
	BearerToken() (string, error)
}

// Dialer implements ports.StreamDialer against the platform backend.
type Dialer struct {
	base   *url.URL
	tokens TokenSource
	logger *zap.Logger
	dialer *websocket.Dialer
}

func NewDialer(base *url.URL, tokens TokenSource, logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{
		base:   base,
		tokens: tokens,
		logger: logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
	}
}

func (d *Dialer) Dial(ctx context.Context, target ports.StreamTarget) (ports.StreamingSession, error) {
	token, err := d.tokens.BearerToken()
	if err != nil {
		return nil, err
	}

	wsURL, err := resolveSocketURL(d.base, target)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	conn, resp, err := d.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to recording websocket (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to recording websocket: %w", err)
	}

	session := newStreamingSession(conn, d.logger.With(zap.String("sessionID", target.SessionID)))

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-session.done:
		}
	}()

	return session, nil
}

// resolveSocketURL turns the backend-issued websocket_url into an absolute
// ws(s) URL carrying the session id.
func resolveSocketURL(base *url.URL, target ports.StreamTarget) (string, error) {
	raw := strings.TrimSpace(target.URL)
	if raw == "" {
		return "", errors.New("backend returned an empty websocket url")
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid websocket url %q: %w", raw, err)
	}

	resolved := ref
	if !ref.IsAbs() {
		if base == nil {
			return "", fmt.Errorf("relative websocket url %q without an API base", raw)
		}
		resolved = base.ResolveReference(ref)
	}

	switch resolved.Scheme {
	case "https":
		resolved.Scheme = "wss"
	case "http":
		resolved.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported websocket scheme %q", resolved.Scheme)
	}

	if target.SessionID != "" {
		query := resolved.Query()
		if query.Get("session_id") == "" {
			query.Set("session_id", target.SessionID)
		}
		resolved.RawQuery = query.Encode()
	}
	return resolved.String(), nil
}

type streamingSession struct {
	conn   *websocket.Conn
	logger *zap.Logger

	events chan domain.StreamEvent
	audio  chan []byte
	done   chan struct{}
	// closing is closed by Close so a blocked emit gives up.
	closing chan struct{}
	// readDone is closed when the backend side of the socket is gone.
	readDone chan struct{}

	writeMu sync.Mutex
	wg      sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
	stopSent      bool
	stopMu        sync.Mutex
}

func newStreamingSession(conn *websocket.Conn, logger *zap.Logger) *streamingSession {
	s := &streamingSession{
		conn:   conn,
		logger: logger,
		events: make(chan domain.StreamEvent, 64),
		audio:  make(chan []byte, 32),
		done:   make(chan struct{}),

		closing:  make(chan struct{}),
		readDone: make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()
	return s
}

func (s *streamingSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return ErrStreamClosed
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return ErrStreamClosed
	}
}

// CloseSend stops accepting audio; the write loop drains what is queued and
// then sends the stop control frame so the backend can finalize.
func (s *streamingSession) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *streamingSession) Events() <-chan domain.StreamEvent {
	return s.events
}

func (s *streamingSession) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.CloseSend()
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamingSession) setErr(err error) {
	if err == nil || s.closedNormally(err) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// closedNormally reports whether err is an orderly hangup. Errors are
// usually wrapped, so the close frame is found with errors.As.
func (s *streamingSession) closedNormally(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return true
		}
		// Once the stop frame is out the backend may hang up any way it likes.
		return s.stopFrameSent()
	}
	return s.stopFrameSent() && (errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF))
}

func (s *streamingSession) stopFrameSent() bool {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	return s.stopSent
}

func (s *streamingSession) write(messageType int, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, payload)
}

func (s *streamingSession) writeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				if err := s.write(websocket.TextMessage, []byte(`{"type":"stop"}`)); err != nil {
					s.setErr(fmt.Errorf("failed to send stop frame: %w", err))
					return
				}
				s.stopMu.Lock()
				s.stopSent = true
				s.stopMu.Unlock()
				s.logger.Debug("Stop frame sent")
				return
			}
			if err := s.write(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("failed to send audio: %w", err))
				_ = s.conn.Close()
				return
			}
		case <-s.readDone:
			return
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.setErr(fmt.Errorf("failed to ping: %w", err))
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *streamingSession) readLoop() {
	defer s.wg.Done()
	defer close(s.readDone)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read backend event: %w", err))
			return
		}

		var envelope streamEnvelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			s.logger.Warn("Ignoring malformed backend message", zap.Error(err))
			continue
		}

		switch domain.StreamEventType(strings.ToLower(envelope.Type)) {
		case domain.StreamEventConnected:
			s.emit(domain.StreamEvent{Type: domain.StreamEventConnected, SessionID: envelope.SessionID})
		case domain.StreamEventTranscript:
			s.emit(domain.StreamEvent{Type: domain.StreamEventTranscript, Chunk: envelope.chunk()})
		case domain.StreamEventError:
			message := strings.TrimSpace(envelope.Message)
			if message == "" {
				message = "backend returned an unknown error"
			}
			s.emit(domain.StreamEvent{Type: domain.StreamEventError, Message: message})
			s.setErr(errors.New(message))
			_ = s.conn.Close()
			return
		default:
			s.logger.Debug("Ignoring backend message", zap.String("type", envelope.Type))
		}
	}
}

// emit hands an event to the consumer. Transcripts wait for room until the
// session is closed; anything else is dropped when the buffer is full.
func (s *streamingSession) emit(event domain.StreamEvent) {
	if event.Type == domain.StreamEventTranscript {
		select {
		case s.events <- event:
		case <-s.closing:
			s.logger.Debug("Session closed with a transcript undelivered")
		}
		return
	}
	select {
	case s.events <- event:
	default:
		s.logger.Warn("Dropping backend event, consumer is behind", zap.String("type", string(event.Type)))
	}
}

type streamEnvelope struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id"`
	Text       string          `json:"text"`
	IsFinal    bool            `json:"is_final"`
	Confidence float64         `json:"confidence"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Message    string          `json:"message"`
}

func (e streamEnvelope) chunk() domain.TranscriptChunk {
	return domain.TranscriptChunk{
		Text:       strings.TrimSpace(e.Text),
		IsFinal:    e.IsFinal,
		Confidence: e.Confidence,
		Timestamp:  parseTimestamp(e.Timestamp),
		Source:     domain.TranscriptSourceStream,
	}
}

// parseTimestamp accepts RFC3339 strings or unix seconds (int or float).
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Now()
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, text); err == nil {
			return t
		}
		return time.Now()
	}
	var seconds float64
	if err := json.Unmarshal(raw, &seconds); err == nil {
		whole := int64(seconds)
		return time.Unix(whole, int64((seconds-float64(whole))*float64(time.Second)))
	}
	return time.Now()
}
