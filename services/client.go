package services

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"landrop/logger"
	"landrop/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = 10 * time.Second
	maxMessageSize = 512 * 1024 // 512KB
)

// 连接状态
const (
	StateConnecting int32 = iota
	StateAuthenticated
	StateActive
	StateClosed
)

// Upgrader WebSocket升级器
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 局域网内允许所有来源
	},
}

// Client 表示一个WebSocket连接，同一用户可以有多个
type Client struct {
	ID          string // 连接ID，注册时分配
	UserID      int64
	UserName    string
	Role        string
	ClientType  string
	Claims      *TokenClaims
	Conn        *websocket.Conn
	Send        chan []byte
	ConnectedAt time.Time

	state     int32
	lastSeen  int64
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient 创建客户端，conn为nil时只在内存中收发（用于测试和跨节点投递）
func NewClient(conn *websocket.Conn, claims *TokenClaims, clientType string, buffer int) *Client {
	if clientType == "" {
		clientType = models.ClientTypeWeb
	}
	if buffer <= 0 {
		buffer = 256
	}
	c := &Client{
		Conn:        conn,
		Claims:      claims,
		ClientType:  clientType,
		Send:        make(chan []byte, buffer),
		ConnectedAt: time.Now(),
		done:        make(chan struct{}),
	}
	if claims != nil {
		c.UserID = claims.UserID
		c.UserName = claims.UserName
		c.Role = claims.Role
	}
	c.touch()
	return c
}

// Label 客户端标识 name#id
func (c *Client) Label() string {
	return models.ClientID(c.UserName, c.UserID)
}

// State 当前连接状态
func (c *Client) State() int32 {
	return atomic.LoadInt32(&c.state)
}

// MarkAuthenticated 握手校验通过
func (c *Client) MarkAuthenticated() bool {
	return atomic.CompareAndSwapInt32(&c.state, StateConnecting, StateAuthenticated)
}

func (c *Client) markActive() bool {
	return atomic.CompareAndSwapInt32(&c.state, StateAuthenticated, StateActive)
}

// Done 连接关闭后关闭的通道
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// close 幂等关闭
func (c *Client) close() {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.state, StateClosed)
		close(c.done)
	})
}

func (c *Client) touch() {
	atomic.StoreInt64(&c.lastSeen, time.Now().UnixNano())
}

// LastSeen 最近一次收到消息或pong的时间
func (c *Client) LastSeen() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastSeen))
}

// trySend 非阻塞投递，缓冲区满或已关闭返回false
func (c *Client) trySend(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- payload:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// WritePump 将消息从通道发送到WebSocket连接，每条消息一个文本帧
func (c *Client) WritePump(m *WebSocketManager) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		m.Unregister(c.ID)
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.L().Debug("写入消息失败", zap.String("client", c.Label()), zap.Error(err))
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// ReadPump 从WebSocket连接读取消息并按顺序分发
func (c *Client) ReadPump(m *WebSocketManager, router *Router) {
	defer func() {
		m.Unregister(c.ID)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.L().Info("连接异常断开", zap.String("client", c.Label()), zap.Error(err))
			}
			return
		}
		c.touch()
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleReceivedMessage(message, m, router)
	}
}

// handleReceivedMessage 处理接收到的消息，在读协程内同步执行以保持单连接内的回复顺序
func (c *Client) handleReceivedMessage(message []byte, m *WebSocketManager, router *Router) {
	var env models.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		m.SendToClient(c, models.NewCommonError("", http.StatusBadRequest, "消息格式错误"))
		return
	}
	router.Dispatch(context.Background(), c, &env)
}
