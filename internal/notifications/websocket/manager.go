package websocket

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/internal/notifications"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Manager handles WebSocket connections and message routing
type Manager struct {
	connections map[string]*Connection
	mu          sync.RWMutex
	hub         *Hub
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// Connection represents a WebSocket client connection
type Connection struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan notifications.Message
	ConnectedAt  time.Time
	LastActivity time.Time
	UserAgent    string
	IPAddress    string

	mu sync.Mutex
	// account is the followed account; zero follows every transaction
	account chain.Address
	closed  bool
}

// Hub manages the broadcast of messages to connections. It is the only goroutine that
// closes Send channels.
type Hub struct {
	connections map[*Connection]bool
	broadcast   chan notifications.Message
	register    chan *Connection
	unregister  chan *Connection
	stop        chan struct{}
	logger      *zap.Logger
}

// NewManager creates a new WebSocket manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := &Hub{
		connections: make(map[*Connection]bool),
		broadcast:   make(chan notifications.Message, sendBuffer),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		stop:        make(chan struct{}),
		logger:      logger,
	}

	go hub.run()

	return &Manager{
		connections: make(map[string]*Connection),
		hub:         hub,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// SetCheckOrigin replaces the origin policy of the upgrader
func (m *Manager) SetCheckOrigin(fn func(r *http.Request) bool) {
	m.upgrader.CheckOrigin = fn
}

func (c *Connection) Account() chain.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

func (c *Connection) follow(account chain.Address) {
	c.mu.Lock()
	c.account = account
	c.mu.Unlock()
}

// trySend queues message unless the buffer is full or the hub closed the connection
func (c *Connection) trySend(message notifications.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Connection) wants(message notifications.Message) bool {
	account := c.Account()
	if account.IsZero() || len(message.Accounts) == 0 {
		return true
	}
	for _, a := range message.Accounts {
		if a == account {
			return true
		}
	}
	return false
}

// HandleConnection upgrades the request and starts streaming. account may be zero.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, account chain.Address) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:           uuid.New().String(),
		Conn:         conn,
		Send:         make(chan notifications.Message, sendBuffer),
		ConnectedAt:  now,
		LastActivity: now,
		UserAgent:    r.Header.Get("User-Agent"),
		IPAddress:    r.RemoteAddr,
		account:      account,
	}

	connection.Send <- notifications.StatusMessage("connected", map[string]interface{}{
		"connection_id": connection.ID,
		"account":       account,
	})

	select {
	case m.hub.register <- connection:
	case <-m.hub.stop:
		conn.Close()
		return nil, fmt.Errorf("websocket manager closed")
	}

	m.mu.Lock()
	m.connections[connection.ID] = connection
	m.mu.Unlock()

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

// readPump reads subscription changes from the client
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		select {
		case m.hub.unregister <- conn:
		case <-m.hub.stop:
		}
		m.mu.Lock()
		delete(m.connections, conn.ID)
		m.mu.Unlock()
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg notifications.Message
		err := conn.Conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Warn("Websocket read failed", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}

		conn.mu.Lock()
		conn.LastActivity = time.Now()
		conn.mu.Unlock()

		m.handleMessage(conn, &msg)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming WebSocket messages
func (m *Manager) handleMessage(conn *Connection, msg *notifications.Message) {
	switch msg.Type {
	case notifications.MessageTypeSubscribe:
		m.handleSubscribe(conn, msg)
	default:
		m.reply(conn, notifications.Message{
			Type:      notifications.MessageTypeError,
			Channel:   "private",
			Data:      map[string]interface{}{"error": fmt.Sprintf("unknown message type %q", msg.Type)},
			Timestamp: time.Now().UTC(),
		})
	}
}

// handleSubscribe changes the followed account. An empty account follows everything.
func (m *Manager) handleSubscribe(conn *Connection, msg *notifications.Message) {
	var account chain.Address
	if raw, _ := msg.Data["account"].(string); raw != "" {
		a, err := chain.ParseAddress(raw)
		if err != nil {
			m.reply(conn, notifications.Message{
				Type:      notifications.MessageTypeError,
				Channel:   "private",
				Data:      map[string]interface{}{"error": err.Error()},
				Timestamp: time.Now().UTC(),
			})
			return
		}
		account = a
	}
	conn.follow(account)
	m.reply(conn, notifications.StatusMessage("subscribed", map[string]interface{}{"account": account}))
}

// reply queues a direct message without blocking the read loop
func (m *Manager) reply(conn *Connection, message notifications.Message) {
	if !conn.trySend(message) {
		m.logger.Warn("Dropping reply", zap.String("connection_id", conn.ID))
	}
}

// run runs the hub in its own goroutine
func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.connections[conn] = true
			h.logger.Debug("Connection registered", zap.String("connection_id", conn.ID))

		case conn := <-h.unregister:
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				conn.close()
				h.logger.Debug("Connection unregistered", zap.String("connection_id", conn.ID))
			}

		case message := <-h.broadcast:
			for conn := range h.connections {
				if !conn.wants(message) {
					continue
				}
				if !conn.trySend(message) {
					conn.close()
					delete(h.connections, conn)
				}
			}

		case <-h.stop:
			for conn := range h.connections {
				conn.close()
				delete(h.connections, conn)
			}
			return
		}
	}
}

// Broadcast queues a message for every interested connection
func (m *Manager) Broadcast(message notifications.Message) error {
	select {
	case m.hub.broadcast <- message:
		return nil
	default:
		return fmt.Errorf("broadcast channel full")
	}
}

// GetConnectionCount returns the number of active connections
func (m *Manager) GetConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// ConnectionInfo represents connection information for monitoring
type ConnectionInfo struct {
	ConnectionID string        `json:"connection_id"`
	Account      chain.Address `json:"account,omitempty"`
	ConnectedAt  time.Time     `json:"connected_at"`
	LastActivity time.Time     `json:"last_activity"`
	UserAgent    string        `json:"user_agent"`
	IPAddress    string        `json:"ip_address"`
}

// GetConnectionInfo returns information about all active connections
func (m *Manager) GetConnectionInfo() []ConnectionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := make([]ConnectionInfo, 0, len(m.connections))
	for _, conn := range m.connections {
		conn.mu.Lock()
		info = append(info, ConnectionInfo{
			ConnectionID: conn.ID,
			Account:      conn.account,
			ConnectedAt:  conn.ConnectedAt,
			LastActivity: conn.LastActivity,
			UserAgent:    conn.UserAgent,
			IPAddress:    conn.IPAddress,
		})
		conn.mu.Unlock()
	}
	return info
}

// Close stops the hub and closes every connection
func (m *Manager) Close() {
	close(m.hub.stop)

	m.mu.Lock()
	for _, conn := range m.connections {
		conn.Conn.Close()
	}
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()
}
