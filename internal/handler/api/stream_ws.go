package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"MarketPulse/pkg/bus"
	xlogger "MarketPulse/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// StreamOption configures SignalStream.
type StreamOption func(*SignalStream)

// WithStreamBuffer sets how many signals may queue per client before it is dropped.
func WithStreamBuffer(n int) StreamOption {
	return func(s *SignalStream) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithCheckOrigin overrides the upgrader origin check.
func WithCheckOrigin(f func(r *http.Request) bool) StreamOption {
	return func(s *SignalStream) {
		s.upgrader.CheckOrigin = f
	}
}

type streamClient struct {
	send   chan []byte
	symbol string
	once   sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.send) })
}

// SignalStream relays the signals channel to WebSocket clients on /ws/signals.
// Clients may pass ?symbol= to receive a single symbol.
type SignalStream struct {
	logger   *xlogger.Logger
	upgrader websocket.Upgrader
	buffer   int

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

func NewSignalStream(logger *xlogger.Logger, opts ...StreamOption) *SignalStream {
	s := &SignalStream{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		buffer:  64,
		clients: make(map[*streamClient]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches the stream to sub as the "ws-bridge" handler.
func (s *SignalStream) Register(sub *bus.Subscriber) error {
	return sub.Subscribe("ws-bridge", s, bus.ChannelSignals)
}

func (s *SignalStream) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/signals", s.Serve)
}

// Clients returns the number of connected clients.
func (s *SignalStream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Handle fans a signals message out to every interested client.
// A client whose queue is full is disconnected rather than blocking the bus.
func (s *SignalStream) Handle(_ context.Context, msg *bus.Message) error {
	var head struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(msg.Payload, &head); err != nil {
		return err
	}
	sym := strings.ToUpper(head.Symbol)

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if c.symbol != "" && c.symbol != sym {
			continue
		}
		select {
		case c.send <- msg.Payload:
		default:
			delete(s.clients, c)
			c.close()
			s.logger.Warn("ws client too slow, disconnecting", xlogger.String("symbol_filter", c.symbol))
		}
	}
	return nil
}

// Close disconnects every client.
func (s *SignalStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		c.close()
	}
}

func (s *SignalStream) Serve(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", xlogger.Error(err))
		return nil
	}

	client := &streamClient{
		send:   make(chan []byte, s.buffer),
		symbol: strings.ToUpper(strings.TrimSpace(c.QueryParam("symbol"))),
	}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("ws client connected", xlogger.String("remote", c.RealIP()), xlogger.String("symbol_filter", client.symbol))

	go s.readLoop(conn, client)
	s.writeLoop(conn, client)
	return nil
}

func (s *SignalStream) remove(c *streamClient) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		c.close()
	}
	s.mu.Unlock()
}

// readLoop only services control frames; clients do not send data.
func (s *SignalStream) readLoop(conn *websocket.Conn, c *streamClient) {
	defer s.remove(c)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *SignalStream) writeLoop(conn *websocket.Conn, c *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		s.remove(c)
		_ = conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
