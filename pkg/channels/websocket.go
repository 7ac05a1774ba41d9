package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sipeed/godcmd/pkg/bus"
	"github.com/sipeed/godcmd/pkg/config"
	"github.com/sipeed/godcmd/pkg/logger"
)

const wsWriteTimeout = 10 * time.Second

// wsIncoming is a client frame. Group frames carry the group id in ChatID.
type wsIncoming struct {
	Content string `json:"content"`
	ChatID  string `json:"chat_id,omitempty"`
	IsGroup bool   `json:"is_group,omitempty"`
}

type wsOutgoing struct {
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
	ChatID  string `json:"chat_id"`
}

type wsClient struct {
	conn *websocket.Conn
	id   string
	// gorilla connections allow one concurrent writer
	writeMu sync.Mutex
}

func (cl *wsClient) write(v any) error {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	_ = cl.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return cl.conn.WriteJSON(v)
}

// WebSocketChannel accepts chat clients over WebSocket. The client id is the
// sender id; private chats are keyed "ws:<client id>", group chats by the
// chat_id the client sends.
type WebSocketChannel struct {
	*BaseChannel
	config   config.WebSocketConfig
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	clients   map[string]*wsClient            // client id -> client
	chatConns map[string]map[string]*wsClient // chat id -> members
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewWebSocketChannel(cfg config.WebSocketConfig, msgBus *bus.MessageBus) *WebSocketChannel {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	return &WebSocketChannel{
		BaseChannel: NewBaseChannel("websocket", msgBus),
		config:      cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[string]*wsClient),
		chatConns: make(map[string]map[string]*wsClient),
	}
}

func (c *WebSocketChannel) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc(c.config.Path, c.handleWS)

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", c.config.Host, c.config.Port))
	if err != nil {
		c.cancel()
		return err
	}
	c.listener = ln
	c.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	c.setRunning(true)

	logger.InfoCF("channels", "WebSocket server listening", map[string]any{
		"addr": ln.Addr().String(),
		"path": c.config.Path,
	})

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("channels", "WebSocket server error", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

// Addr is the bound listen address, useful when the port is 0.
func (c *WebSocketChannel) Addr() string {
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

func (c *WebSocketChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	for _, cl := range c.clients {
		cl.conn.Close()
	}
	c.clients = make(map[string]*wsClient)
	c.chatConns = make(map[string]map[string]*wsClient)
	c.mu.Unlock()

	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

func (c *WebSocketChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("websocket channel not running")
	}

	c.mu.RLock()
	members := make([]*wsClient, 0, len(c.chatConns[msg.ChatID]))
	for _, cl := range c.chatConns[msg.ChatID] {
		members = append(members, cl)
	}
	c.mu.RUnlock()

	if len(members) == 0 {
		return fmt.Errorf("no connection for chat %s", msg.ChatID)
	}

	out := wsOutgoing{Content: msg.Content, Type: string(msg.Type), ChatID: msg.ChatID}
	var errs []error
	for _, cl := range members {
		if err := cl.write(out); err != nil {
			errs = append(errs, fmt.Errorf("client %s: %w", cl.id, err))
		}
	}
	return errors.Join(errs...)
}

func (c *WebSocketChannel) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("channels", "WebSocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	cl := &wsClient{conn: conn, id: clientID}

	c.mu.Lock()
	if old, ok := c.clients[clientID]; ok {
		c.dropLocked(old)
		old.conn.Close()
	}
	c.clients[clientID] = cl
	c.joinLocked(privateChatID(clientID), cl)
	c.mu.Unlock()

	logger.InfoCF("channels", "WebSocket client connected", map[string]any{
		"client_id":   clientID,
		"remote_addr": r.RemoteAddr,
	})

	go c.readPump(cl)
}

func privateChatID(clientID string) string {
	return "ws:" + clientID
}

func (c *WebSocketChannel) joinLocked(chatID string, cl *wsClient) {
	if c.chatConns[chatID] == nil {
		c.chatConns[chatID] = make(map[string]*wsClient)
	}
	c.chatConns[chatID][cl.id] = cl
}

func (c *WebSocketChannel) dropLocked(cl *wsClient) {
	if c.clients[cl.id] == cl {
		delete(c.clients, cl.id)
	}
	for chatID, members := range c.chatConns {
		if members[cl.id] == cl {
			delete(members, cl.id)
			if len(members) == 0 {
				delete(c.chatConns, chatID)
			}
		}
	}
}

func (c *WebSocketChannel) readPump(cl *wsClient) {
	defer func() {
		c.mu.Lock()
		c.dropLocked(cl)
		c.mu.Unlock()
		cl.conn.Close()
		logger.InfoCF("channels", "WebSocket client disconnected", map[string]any{"client_id": cl.id})
	}()

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WarnCF("channels", "WebSocket read error", map[string]any{
					"client_id": cl.id,
					"error":     err.Error(),
				})
			}
			return
		}
		if c.ctx.Err() != nil {
			return
		}

		var in wsIncoming
		if err := json.Unmarshal(data, &in); err != nil {
			_ = cl.write(wsOutgoing{Type: string(bus.OutboundError), Content: "invalid message"})
			continue
		}

		chatID := privateChatID(cl.id)
		if in.IsGroup && in.ChatID != "" {
			chatID = in.ChatID
			c.mu.Lock()
			c.joinLocked(chatID, cl)
			c.mu.Unlock()
		}

		c.HandleMessage(c.ctx, cl.id, chatID, in.Content, in.IsGroup && in.ChatID != "")
	}
}
