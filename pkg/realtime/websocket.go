// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package realtime implements the WebSocket connection manager, the
// in-process PubSub manager, and the metric Stream manager (§4.12).
// Grounded on original_source/.../dashboard/realtime/{websocket,pubsub,
// streaming}.py. The wire transport itself is out of scope (§1); Conn is
// satisfied by *github.com/gorilla/websocket.Conn or any test double.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MessageType names a WebSocket frame kind (websocket.py MessageType).
type MessageType string

const (
	MsgSubscribe   MessageType = "subscribe"
	MsgUnsubscribe MessageType = "unsubscribe"
	MsgData        MessageType = "data"
	MsgError       MessageType = "error"
	MsgPing        MessageType = "ping"
	MsgPong        MessageType = "pong"
	MsgAuth        MessageType = "auth"
	MsgAuthSuccess MessageType = "auth_success"
	MsgAuthFailure MessageType = "auth_failure"
)

// Message is the JSON frame exchanged over a connection (§6).
type Message struct {
	Type      MessageType `json:"type"`
	Channel   string      `json:"channel,omitempty"`
	Data      any         `json:"data,omitempty"`
	ID        string      `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Conn is the minimal transport a Connection writes frames to. Satisfied
// by *websocket.Conn; tests substitute an in-memory double.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
}

// GorillaConn adapts a *websocket.Conn to Conn, writing text frames.
type GorillaConn struct{ *websocket.Conn }

// WriteMessage writes data as a WebSocket text frame.
func (g GorillaConn) WriteMessage(_ int, data []byte) error {
	return g.Conn.WriteMessage(websocket.TextMessage, data)
}

// Connection is one live client session (websocket.py WebSocketConnection).
type Connection struct {
	mu sync.Mutex

	ID     string
	UserID string

	subscribed map[string]bool

	ConnectedAt      time.Time
	LastActivity     time.Time
	IsAuthenticated  bool
	Metadata         map[string]any

	conn Conn
}

// Subscribe adds channel to the connection's subscription set.
func (c *Connection) Subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed[channel] = true
}

// Unsubscribe removes channel from the connection's subscription set.
func (c *Connection) Unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribed, channel)
}

// Channels returns the connection's current subscription set.
func (c *Connection) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscribed))
	for ch := range c.subscribed {
		out = append(out, ch)
	}
	return out
}

// Send marshals msg and writes it to the underlying transport.
func (c *Connection) Send(msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(1, body)
}

// Touch stamps LastActivity with now.
func (c *Connection) Touch(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastActivity = now
}

// AuthHandler validates auth payload data and returns the resolved user id,
// or an error on failure (websocket.py's auth_handler).
type AuthHandler func(data any) (string, error)

// MessageHandler observes non-reserved message types (websocket.py
// on_message registrations).
type MessageHandler func(conn *Connection, msg Message)

// Manager owns the connection registry, per-user index, and channel
// subscriber index (§4.12). All three maps share one mutex (§5).
type Manager struct {
	mu sync.Mutex

	connections       map[string]*Connection
	userConnections   map[string]map[string]bool
	channelSubscribers map[string]map[string]bool

	pingInterval        time.Duration
	maxConnectionsPerUser int

	authHandler AuthHandler
	handlers    map[MessageType][]MessageHandler

	logger *slog.Logger
	cancel context.CancelFunc
}

// NewManager constructs a Manager with the given ping interval and per-user
// connection cap (0 disables the cap).
func NewManager(pingInterval time.Duration, maxConnectionsPerUser int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Manager{
		connections:           make(map[string]*Connection),
		userConnections:       make(map[string]map[string]bool),
		channelSubscribers:    make(map[string]map[string]bool),
		pingInterval:          pingInterval,
		maxConnectionsPerUser: maxConnectionsPerUser,
		handlers:              make(map[MessageType][]MessageHandler),
		logger:                logger,
	}
}

// SetAuthHandler installs the handler invoked on AUTH messages.
func (m *Manager) SetAuthHandler(h AuthHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authHandler = h
}

// OnMessage registers a handler for a non-reserved message type.
func (m *Manager) OnMessage(t MessageType, h MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = append(m.handlers[t], h)
}

// Start launches the background ping loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.pingAll()
			}
		}
	}()
}

func (m *Manager) pingAll() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		if err := c.Send(Message{Type: MsgPing}); err != nil {
			m.logger.Warn("ping failed", "connection_id", c.ID, "error", err)
		}
	}
}

// Stop halts the ping loop and disconnects every live connection.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	ids := make([]string, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Disconnect(id)
	}
}

// Connect registers a new connection, evicting the user's oldest connection
// if the per-user cap is exceeded (§3 invariant).
func (m *Manager) Connect(id string, transport Conn, userID string, metadata map[string]any) *Connection {
	m.mu.Lock()

	if userID != "" && m.maxConnectionsPerUser > 0 {
		existing := m.userConnections[userID]
		if len(existing) >= m.maxConnectionsPerUser {
			var oldest string
			var oldestAt time.Time
			for cid := range existing {
				c, ok := m.connections[cid]
				if !ok {
					continue
				}
				if oldest == "" || c.ConnectedAt.Before(oldestAt) {
					oldest, oldestAt = cid, c.ConnectedAt
				}
			}
			m.mu.Unlock()
			if oldest != "" {
				m.Disconnect(oldest)
			}
			m.mu.Lock()
		}
	}

	conn := &Connection{
		ID:           id,
		UserID:       userID,
		subscribed:   make(map[string]bool),
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		Metadata:     metadata,
		conn:         transport,
	}
	m.connections[id] = conn

	if userID != "" {
		if m.userConnections[userID] == nil {
			m.userConnections[userID] = make(map[string]bool)
		}
		m.userConnections[userID][id] = true
	}
	m.mu.Unlock()
	return conn
}

// Disconnect removes a connection and scrubs it from the user and channel
// indexes.
func (m *Manager) Disconnect(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[id]
	if !ok {
		return
	}
	delete(m.connections, id)

	if conn.UserID != "" {
		if set, ok := m.userConnections[conn.UserID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.userConnections, conn.UserID)
			}
		}
	}
	for ch := range conn.subscribed {
		if subs, ok := m.channelSubscribers[ch]; ok {
			delete(subs, id)
		}
	}
}

// HandleMessage parses and routes one inbound frame (§4.12).
func (m *Manager) HandleMessage(id string, raw []byte) {
	m.mu.Lock()
	conn, ok := m.connections[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	conn.Touch(time.Now())

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		conn.Send(Message{Type: MsgError, Data: map[string]string{"error": "invalid message format: " + err.Error()}})
		return
	}

	switch msg.Type {
	case MsgAuth:
		m.handleAuth(conn, msg)
	case MsgSubscribe:
		m.handleSubscribe(conn, msg)
	case MsgUnsubscribe:
		m.handleUnsubscribe(conn, msg)
	case MsgPing:
		conn.Send(Message{Type: MsgPong})
	default:
		m.mu.Lock()
		handlers := append([]MessageHandler{}, m.handlers[msg.Type]...)
		m.mu.Unlock()
		for _, h := range handlers {
			m.dispatchSafely(h, conn, msg)
		}
	}
}

func (m *Manager) dispatchSafely(h MessageHandler, conn *Connection, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("message handler panicked", "recover", r, "connection_id", conn.ID)
		}
	}()
	h(conn, msg)
}

func (m *Manager) handleAuth(conn *Connection, msg Message) {
	m.mu.Lock()
	handler := m.authHandler
	m.mu.Unlock()

	if handler == nil {
		conn.mu.Lock()
		conn.IsAuthenticated = true
		conn.mu.Unlock()
		conn.Send(Message{Type: MsgAuthSuccess})
		return
	}

	userID, err := handler(msg.Data)
	if err != nil || userID == "" {
		errMsg := "authentication failed"
		if err != nil {
			errMsg = err.Error()
		}
		conn.Send(Message{Type: MsgAuthFailure, Data: map[string]string{"error": errMsg}})
		return
	}

	conn.mu.Lock()
	conn.UserID = userID
	conn.IsAuthenticated = true
	conn.mu.Unlock()

	m.mu.Lock()
	if m.userConnections[userID] == nil {
		m.userConnections[userID] = make(map[string]bool)
	}
	m.userConnections[userID][conn.ID] = true
	m.mu.Unlock()

	conn.Send(Message{Type: MsgAuthSuccess, Data: map[string]string{"user_id": userID}})
}

func (m *Manager) handleSubscribe(conn *Connection, msg Message) {
	if msg.Channel == "" {
		conn.Send(Message{Type: MsgError, Data: map[string]string{"error": "channel required for subscription"}})
		return
	}
	conn.Subscribe(msg.Channel)

	m.mu.Lock()
	if m.channelSubscribers[msg.Channel] == nil {
		m.channelSubscribers[msg.Channel] = make(map[string]bool)
	}
	m.channelSubscribers[msg.Channel][conn.ID] = true
	m.mu.Unlock()
}

func (m *Manager) handleUnsubscribe(conn *Connection, msg Message) {
	if msg.Channel == "" {
		return
	}
	conn.Unsubscribe(msg.Channel)

	m.mu.Lock()
	if subs, ok := m.channelSubscribers[msg.Channel]; ok {
		delete(subs, conn.ID)
	}
	m.mu.Unlock()
}

// Broadcast sends data to every connection subscribed to channel.
func (m *Manager) Broadcast(channel string, data any) {
	m.mu.Lock()
	subs := m.channelSubscribers[channel]
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.Unlock()

	msg := Message{Type: MsgData, Channel: channel, Data: data}
	for _, c := range conns {
		if err := c.Send(msg); err != nil {
			m.logger.Warn("broadcast failed", "connection_id", c.ID, "channel", channel, "error", err)
		}
	}
}

// SendToUser sends data to every live connection owned by userID.
func (m *Manager) SendToUser(userID string, data any, channel string) {
	m.mu.Lock()
	ids := m.userConnections[userID]
	conns := make([]*Connection, 0, len(ids))
	for id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.Unlock()

	msg := Message{Type: MsgData, Channel: channel, Data: data}
	for _, c := range conns {
		if err := c.Send(msg); err != nil {
			m.logger.Warn("send_to_user failed", "user_id", userID, "error", err)
		}
	}
}

// GetConnection returns a connection by id.
func (m *Manager) GetConnection(id string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	return c, ok
}

// GetUserConnections returns every live connection owned by userID.
func (m *Manager) GetUserConnections(userID string) []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Connection
	for id := range m.userConnections[userID] {
		if c, ok := m.connections[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Stats summarizes the manager for dashboards (websocket.py get_stats).
type Stats struct {
	TotalConnections        int
	UniqueUsers             int
	TotalChannels           int
	AuthenticatedConnections int
}

func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		TotalConnections: len(m.connections),
		UniqueUsers:      len(m.userConnections),
		TotalChannels:    len(m.channelSubscribers),
	}
	for _, c := range m.connections {
		c.mu.Lock()
		if c.IsAuthenticated {
			s.AuthenticatedConnections++
		}
		c.mu.Unlock()
	}
	return s
}
