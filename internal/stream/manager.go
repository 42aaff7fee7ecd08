// Package stream pushes sync notifications to WebSocket clients.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	// Maximum message queue size per client
	maxQueueSize = 256

	// Ping interval to keep connections alive
	pingInterval = 30 * time.Second

	// Clients only send control frames
	maxMessageSize = 4 * 1024
)

// Subscriber delivers the messages published on a subject until unsubscribed
type Subscriber interface {
	Subscribe(subject string, handler func(data []byte)) (unsubscribe func() error, err error)
}

type natsSubscriber struct {
	conn *nats.Conn
}

// NATSSubscriber adapts a NATS connection to Subscriber
func NATSSubscriber(conn *nats.Conn) Subscriber {
	return &natsSubscriber{conn: conn}
}

func (s *natsSubscriber) Subscribe(subject string, handler func(data []byte)) (func() error, error) {
	sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

// Manager handles WebSocket connections and their subscriptions
type Manager struct {
	subscriber Subscriber
	logger     *zap.Logger

	clients map[string]*Client
	mu      sync.RWMutex
}

// Client is one connected WebSocket client following one subject
type Client struct {
	id      string
	subject string
	conn    *websocket.Conn
	send    chan []byte
	manager *Manager
	logger  *zap.Logger

	unsubscribe func() error

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Message is the frame written to clients
type Message struct {
	Type    string          `json:"type"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

// NewManager creates a new stream manager
func NewManager(subscriber Subscriber, logger *zap.Logger) *Manager {
	return &Manager{
		subscriber: subscriber,
		logger:     logger.Named("stream_manager"),
		clients:    make(map[string]*Client),
	}
}

// Serve upgrades the request and forwards every message on subject until the client leaves
func (m *Manager) Serve(w http.ResponseWriter, r *http.Request, subject string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		m.logger.Error("Failed to accept WebSocket connection", zap.Error(err))
		return
	}

	client, err := m.createClient(subject, conn)
	if err != nil {
		m.logger.Error("Failed to subscribe", zap.String("subject", subject), zap.Error(err))
		conn.Close(websocket.StatusInternalError, "subscription failed")
		return
	}

	m.logger.Info("WebSocket client connected",
		zap.String("client_id", client.id),
		zap.String("subject", subject))

	go client.writePump()
	go client.readPump()
	go client.pingTicker()

	<-client.ctx.Done()

	m.logger.Info("WebSocket client disconnected",
		zap.String("client_id", client.id),
		zap.String("subject", subject))
}

func (m *Manager) createClient(subject string, conn *websocket.Conn) (*Client, error) {
	ctx, cancel := context.WithCancel(context.Background())

	id := uuid.NewString()
	client := &Client{
		id:      id,
		subject: subject,
		conn:    conn,
		send:    make(chan []byte, maxQueueSize),
		manager: m,
		logger:  m.logger.With(zap.String("client_id", id)),
		ctx:     ctx,
		cancel:  cancel,
	}

	unsubscribe, err := m.subscriber.Subscribe(subject, client.handleNotification)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	client.unsubscribe = unsubscribe

	m.mu.Lock()
	m.clients[client.id] = client
	m.mu.Unlock()

	return client, nil
}

// handleNotification queues one published message for the client
func (c *Client) handleNotification(data []byte) {
	if !json.Valid(data) {
		c.logger.Error("Dropping malformed notification")
		return
	}

	frame, err := json.Marshal(Message{Type: "notification", Subject: c.subject, Data: data})
	if err != nil {
		c.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	select {
	case <-c.ctx.Done():
	case c.send <- frame:
	default:
		// Client is too slow
		c.logger.Warn("Client message queue full, disconnecting")
		c.close()
	}
}

// writePump sends queued messages to the WebSocket connection
func (c *Client) writePump() {
	defer c.close()

	for {
		select {
		case <-c.ctx.Done():
			return
		case message := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()

			if err != nil {
				c.logger.Debug("Failed to write message", zap.Error(err))
				return
			}
		}
	}
}

// readPump drains client frames so close and ping control frames are processed
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		if _, _, err := c.conn.Read(c.ctx); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.logger.Debug("Client closed connection normally")
			} else {
				c.logger.Debug("Client read ended", zap.Error(err))
			}
			return
		}
	}
}

// pingTicker sends periodic ping messages
func (c *Client) pingTicker() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
			err := c.conn.Ping(ctx)
			cancel()

			if err != nil {
				c.logger.Debug("Failed to ping client", zap.Error(err))
				c.close()
				return
			}
		}
	}
}

// close tears the client down once
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.cancel()

		if c.unsubscribe != nil {
			if err := c.unsubscribe(); err != nil {
				c.logger.Warn("Failed to unsubscribe", zap.Error(err))
			}
		}

		c.conn.Close(websocket.StatusNormalClosure, "")

		c.manager.mu.Lock()
		delete(c.manager.clients, c.id)
		c.manager.mu.Unlock()
	})
}

// ClientCount returns the number of connected clients
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}
