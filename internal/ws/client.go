// Package ws carries the change feed over WebSocket: the server endpoint that
// bridges a realtime.Feed to browsers and CLI clients, and the client-side
// RemoteFeed that dials it.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/auth"
	"github.com/tableside/api/internal/enum"
	"github.com/tableside/api/internal/realtime"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (we validate via JWT)
	},
}

// SessionVerifier reports whether a session is still live.
// Satisfied by *auth.Service.
type SessionVerifier interface {
	VerifySession(ctx context.Context, sessionID uuid.UUID) error
}

// RoleResolver resolves a user's role server-side.
// Satisfied by *auth.Resolver.
type RoleResolver interface {
	Role(ctx context.Context, userID uuid.UUID, email string) string
}

// Server upgrades /ws/changes requests and streams matching changes.
type Server struct {
	feed      realtime.Feed
	jwtSecret string
	sessions  SessionVerifier
	roles     RoleResolver
}

func NewServer(feed realtime.Feed, jwtSecret string, sessions SessionVerifier, roles RoleResolver) *Server {
	return &Server{feed: feed, jwtSecret: jwtSecret, sessions: sessions, roles: roles}
}

// client is a single WebSocket connection bound to one subscription.
type client struct {
	conn *websocket.Conn
	send chan []byte

	once sync.Once
	gone chan struct{}
}

func (c *client) close() {
	c.once.Do(func() { close(c.gone) })
}

// enqueue never blocks the feed. A client that cannot keep up is dropped.
func (c *client) enqueue(msg []byte) {
	select {
	case <-c.gone:
	case c.send <- msg:
	default:
		logrus.Warn("ws: client send buffer full, disconnecting")
		c.close()
	}
}

// readPump waits for the peer to go away. Clients never send data.
func (c *client) readPump() {
	defer func() {
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).Debug("ws: read")
			}
			return
		}
	}
}

// writePump sends one JSON change per message until the client or its
// subscription goes away.
func (c *client) writePump(sub realtime.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-sub.Done():
			code := websocket.CloseNormalClosure
			if sub.Err() != nil {
				code = websocket.CloseTryAgainLater
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, errText(sub.Err())))
			return

		case <-c.gone:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeHTTP handles GET /ws/changes?table=&event=&filter=&token=.
// Catalog tables are public. Orders need a session; only owners may watch
// orders without an id filter.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := realtime.ParseFilter(q.Get("table"), q.Get("event"), q.Get("filter"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if status, msg := s.authorize(r, &filter); status != 0 {
		http.Error(w, msg, status)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("ws: upgrade")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		gone: make(chan struct{}),
	}

	// The subscription outlives the HTTP request; the read pump ends it.
	sub, err := s.feed.Subscribe(context.Background(), filter, func(ch realtime.Change) {
		msg, err := json.Marshal(ch)
		if err != nil {
			logrus.WithError(err).Warn("ws: marshal change")
			return
		}
		c.enqueue(msg)
	})
	if err != nil {
		logrus.WithError(err).Warn("ws: subscribe")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		conn.Close()
		return
	}

	go c.writePump(sub)
	go c.readPump()
}

// authorize checks access to the feed f selects. An order id filter is
// rewritten to the canonical form the trigger payload uses.
func (s *Server) authorize(r *http.Request, f *realtime.Filter) (int, string) {
	switch f.Table {
	case enum.TableCategories, enum.TableMenuItems, enum.TableDailyOffers:
		return 0, ""
	case enum.TableOrders:
	default:
		return http.StatusForbidden, "table not available"
	}

	// A single order is watched by its durable id, which only the customer
	// who placed it holds.
	if f.Column == "id" {
		id, err := uuid.Parse(f.Value)
		if err != nil {
			return http.StatusBadRequest, "invalid order id"
		}
		f.Value = id.String()
		return 0, ""
	}

	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		return http.StatusUnauthorized, "missing token"
	}
	claims, err := auth.ValidateToken(s.jwtSecret, tokenStr)
	if err != nil {
		return http.StatusUnauthorized, "invalid token"
	}
	if s.sessions != nil {
		if err := s.sessions.VerifySession(r.Context(), claims.SessionID); err != nil {
			return http.StatusUnauthorized, "session expired or signed out"
		}
	}
	if s.roles.Role(r.Context(), claims.UserID, claims.Email) != enum.RoleOwner {
		return http.StatusForbidden, "insufficient permissions"
	}
	return 0, ""
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
