package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/table-reservation/internal/model"
	"github.com/iliyamo/table-reservation/internal/notify"
	"github.com/iliyamo/table-reservation/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 64
)

// Client is one WebSocket connection.  UserID is zero for guests.
type Client struct {
	conn   *websocket.Conn
	wmu    sync.Mutex // serialises data frames from both pumps
	send   chan []byte
	topics map[notify.Topic]bool // owned by the hub goroutine

	UserID uint64
	Role   string
}

// NewClient builds a client around conn; conn may be nil in tests.
func NewClient(conn *websocket.Conn, userID uint64, role string) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		topics: make(map[notify.Topic]bool),
		UserID: userID,
		Role:   role,
	}
}

// Send exposes the outbound queue; it is closed when the hub drops the
// client.
func (c *Client) Send() <-chan []byte { return c.send }

// CanJoin reports whether the client may subscribe to topic.  Slot and
// catalog topics are public; a user topic belongs to that user; the admin
// topic needs the ADMIN role.
func (c *Client) CanJoin(t notify.Topic) bool {
	switch t.Kind {
	case notify.KindSlot, notify.KindCatalog:
		return true
	case notify.KindUser:
		return c.UserID != 0 && t == notify.UserTopic(c.UserID)
	case notify.KindAdmin:
		return c.Role == model.RoleAdmin
	}
	return false
}

// inbound is a client control message, e.g. {"action":"join","topic":"slot:1"}.
type inbound struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// control acknowledges or rejects a control message.
type control struct {
	Event   string `json:"event"`
	Topic   string `json:"topic,omitempty"`
	Message string `json:"message,omitempty"`
}

// Handler upgrades GET /ws.  An optional ?token= access token identifies
// the caller; authenticated users are subscribed to their own topic and
// admins to the admin topic straight away.
func Handler(hub *Hub, secret string, allowedOrigins []string) echo.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return func(c echo.Context) error {
		var id utils.Identity
		if raw := c.QueryParam("token"); raw != "" {
			var err error
			if id, err = utils.ParseAccessToken(secret, raw); err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
		}

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// the upgrader has already written the error response
			c.Logger().Warnf("[ws] upgrade: %v", err)
			return nil
		}
		client := NewClient(conn, id.UserID, id.Role)

		ctx := context.WithoutCancel(c.Request().Context())
		hub.Register(ctx, client)
		if client.UserID != 0 {
			hub.Join(ctx, client, notify.UserTopic(client.UserID))
		}
		if client.Role == model.RoleAdmin {
			hub.Join(ctx, client, notify.AdminTopic())
		}

		go client.writePump()
		client.readPump(ctx, hub)
		return nil
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.TrimSpace(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// readPump handles control messages until the connection fails.
func (c *Client) readPump(ctx context.Context, hub *Hub) {
	defer func() {
		hub.Unregister(ctx, c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read: %v", err)
			}
			return
		}
		c.reply(c.handle(ctx, hub, raw))
	}
}

// handle applies one control message and returns the acknowledgement.
func (c *Client) handle(ctx context.Context, hub *Hub, raw []byte) control {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return control{Event: "error", Message: "invalid message"}
	}
	topic, err := notify.ParseTopic(in.Topic)
	if err != nil {
		return control{Event: "error", Topic: in.Topic, Message: err.Error()}
	}
	switch in.Action {
	case "join":
		if !c.CanJoin(topic) {
			return control{Event: "error", Topic: in.Topic, Message: "not allowed to join topic"}
		}
		hub.Join(ctx, c, topic)
		return control{Event: "joined", Topic: topic.String()}
	case "leave":
		hub.Leave(ctx, c, topic)
		return control{Event: "left", Topic: topic.String()}
	}
	return control{Event: "error", Topic: in.Topic, Message: "unknown action " + in.Action}
}

func (c *Client) reply(msg control) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := c.writeText(data); err != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) writeText(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// writePump is the only goroutine writing hub traffic and pings to conn.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if err := c.writeText(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
