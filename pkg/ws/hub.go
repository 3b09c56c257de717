package ws

import (
	"encoding/json"
	"sync"
	"time"

	"OmniSearch/pkg/zlog"

	"github.com/gorilla/websocket"
)

// Hub 按主题（任务 ID 或通配 "*"）维护订阅的 WebSocket 客户端，
// 用于把任务状态变更实时推送给调用方
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(c *Client) {
	if c == nil || c.topic == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.topic]
	if set == nil {
		set = make(map[*Client]struct{})
		h.clients[c.topic] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) Unregister(c *Client) {
	if c == nil || c.topic == "" {
		return
	}
	h.mu.Lock()
	set := h.clients[c.topic]
	if set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.topic)
		}
	}
	h.mu.Unlock()
	c.Close()
}

// Broadcast 向订阅了该主题以及通配主题 "*" 的客户端推送消息
func (h *Hub) Broadcast(topic string, payload []byte) bool {
	if topic == "" || len(payload) == 0 {
		return false
	}

	h.mu.RLock()
	targets := make([]*Client, 0, 8)
	for c := range h.clients[topic] {
		targets = append(targets, c)
	}
	for c := range h.clients["*"] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	ok := false
	for _, c := range targets {
		if c == nil {
			continue
		}
		select {
		case c.send <- payload:
			ok = true
		default:
			h.Unregister(c)
		}
	}
	return ok
}

func (h *Hub) BroadcastJSON(topic string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(topic, b)
	return nil
}

type Client struct {
	topic string
	conn  *websocket.Conn
	send  chan []byte

	closeOnce sync.Once
}

func NewClient(topic string, conn *websocket.Conn) *Client {
	return &Client{
		topic: topic,
		conn:  conn,
		send:  make(chan []byte, 64),
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) WritePump() {
	if c.conn == nil {
		return
	}
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			zlog.Error(err.Error())
			return
		}
	}
}
