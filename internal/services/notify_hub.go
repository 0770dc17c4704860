package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Notification is the payload pushed to connected agents when an
// escalation fires for them.
type Notification struct {
	Type      string    `json:"type"`
	UserID    uint      `json:"user_id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

type notifyClient struct {
	id     string
	userID uint
	conn   *websocket.Conn
	send   chan Notification
}

// NotifyHub fans escalation notifications out to agents connected over
// WebSocket. It implements Notifier; delivery is best-effort, a user with
// no open connection still counts as notified (the audit row is the
// durable record).
type NotifyHub struct {
	clients    map[string]*notifyClient
	register   chan *notifyClient
	unregister chan *notifyClient
	deliver    chan Notification
	mutex      sync.RWMutex
}

var notifyUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the CORS layer in front
	},
}

func NewNotifyHub() *NotifyHub {
	return &NotifyHub{
		clients:    make(map[string]*notifyClient),
		register:   make(chan *notifyClient),
		unregister: make(chan *notifyClient),
		deliver:    make(chan Notification, 64),
	}
}

// Run pumps registrations and deliveries; start it once as a goroutine.
func (h *NotifyHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.id] = client
			h.mutex.Unlock()
			logrus.Infof("Notify client %s connected (user %d)", client.id, client.userID)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
				logrus.Infof("Notify client %s disconnected", client.id)
			}
			h.mutex.Unlock()

		case n := <-h.deliver:
			h.mutex.Lock()
			for _, client := range h.clients {
				if n.UserID != 0 && client.userID != n.UserID {
					continue
				}
				select {
				case client.send <- n:
				default:
					// slow consumer, drop the connection
					close(client.send)
					delete(h.clients, client.id)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// NotifyUser queues a notification for every connection the user holds.
func (h *NotifyHub) NotifyUser(ctx context.Context, userID uint, subject, body string) error {
	n := Notification{
		Type:      "escalation",
		UserID:    userID,
		Subject:   subject,
		Body:      body,
		Timestamp: time.Now(),
	}
	select {
	case h.deliver <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClientCount returns the number of open connections.
func (h *NotifyHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request; the authenticated user id must
// already be in the gin context.
func (h *NotifyHub) HandleWebSocket(c *gin.Context) {
	userID, _ := c.Get("user_id")
	uid, _ := userID.(uint)

	conn, err := notifyUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Errorf("Notify websocket upgrade failed: %v", err)
		return
	}
	client := &notifyClient{
		id:     uuid.NewString(),
		userID: uid,
		conn:   conn,
		send:   make(chan Notification, 16),
	}
	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *notifyClient) writePump() {
	defer c.conn.Close()
	for n := range c.send {
		if err := c.conn.WriteJSON(n); err != nil {
			return
		}
	}
}

// readPump only watches for the peer going away.
func (c *notifyClient) readPump(h *NotifyHub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// LogEmailGateway is the default EmailGateway when no real transport is
// configured: it records the send in the application log. The escalation
// engine only depends on the interface.
type LogEmailGateway struct {
	From   string
	Logger *logrus.Logger
}

func (g *LogEmailGateway) Send(ctx context.Context, to, subject, body string) error {
	logger := g.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"from":    g.From,
		"to":      to,
		"subject": subject,
	}).Info("email dispatched")
	return nil
}
