package services

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"landrop/logger"
	"landrop/models"
)

// Relay 把投递转发给其他节点
type Relay interface {
	PublishDelivery(ctx context.Context, userID int64, payload []byte) error
}

// WebSocketManager 连接注册表：userID -> clientID -> client
type WebSocketManager struct {
	byUser map[int64]map[string]*Client
	byID   map[string]*Client
	mu     sync.RWMutex

	// 可选的跨节点组件
	presence Presence
	relay    Relay
	nodeID   string

	connectionCount int32
	maxConnections  int32

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWebSocketManager 创建一个新的连接注册表，maxConnections为0表示不限制
func NewWebSocketManager(nodeID string, maxConnections int, presence Presence) *WebSocketManager {
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	return &WebSocketManager{
		byUser:         make(map[int64]map[string]*Client),
		byID:           make(map[string]*Client),
		presence:       presence,
		nodeID:         nodeID,
		maxConnections: int32(maxConnections),
		stopCh:         make(chan struct{}),
	}
}

// SetRelay 设置跨节点转发
func (m *WebSocketManager) SetRelay(relay Relay) {
	m.mu.Lock()
	m.relay = relay
	m.mu.Unlock()
}

// NodeID 当前节点ID
func (m *WebSocketManager) NodeID() string {
	return m.nodeID
}

// Run 定期清理没有心跳的连接
func (m *WebSocketManager) Run() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupExpiredConnections()
		case <-m.stopCh:
			return
		}
	}
}

// Stop 关闭所有连接
func (m *WebSocketManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.mu.RLock()
		ids := make([]string, 0, len(m.byID))
		for id := range m.byID {
			ids = append(ids, id)
		}
		m.mu.RUnlock()
		for _, id := range ids {
			m.Unregister(id)
		}
	})
}

// Register 注册一个新的连接，同一用户的多个连接互不影响
func (m *WebSocketManager) Register(client *Client) (string, error) {
	if m.maxConnections > 0 && atomic.LoadInt32(&m.connectionCount) >= m.maxConnections {
		logger.L().Warn("达到最大连接数限制，拒绝新连接", zap.Int64("userId", client.UserID))
		return "", ErrTooManyConnections
	}
	if client.State() == StateConnecting {
		return "", ErrAuthInvalid
	}

	m.mu.Lock()
	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	conns, ok := m.byUser[client.UserID]
	if !ok {
		conns = make(map[string]*Client)
		m.byUser[client.UserID] = conns
	}
	conns[client.ID] = client
	m.byID[client.ID] = client
	client.markActive()
	count := atomic.AddInt32(&m.connectionCount, 1)
	m.mu.Unlock()

	if m.presence != nil {
		if err := m.presence.Online(context.Background(), client.UserID); err != nil {
			logger.L().Warn("记录在线状态失败", zap.Error(err))
		}
	}

	logger.L().Info("客户端已连接",
		zap.String("client", client.Label()),
		zap.String("clientId", client.ID),
		zap.String("clientType", client.ClientType),
		zap.Int32("connections", count))
	return client.ID, nil
}

// Unregister 注销一个连接，重复调用是安全的
func (m *WebSocketManager) Unregister(clientID string) bool {
	m.mu.Lock()
	client, ok := m.byID[clientID]
	if ok {
		delete(m.byID, clientID)
		if conns := m.byUser[client.UserID]; conns != nil {
			delete(conns, clientID)
			if len(conns) == 0 {
				delete(m.byUser, client.UserID)
			}
		}
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	client.close()
	count := atomic.AddInt32(&m.connectionCount, -1)

	if m.presence != nil {
		if err := m.presence.Offline(context.Background(), client.UserID); err != nil {
			logger.L().Warn("清除在线状态失败", zap.Error(err))
		}
	}

	logger.L().Info("客户端已断开连接",
		zap.String("client", client.Label()),
		zap.String("clientId", client.ID),
		zap.Int32("connections", count))
	return true
}

// SendTo 发送给用户的所有连接，用户离线时静默忽略
func (m *WebSocketManager) SendTo(userID int64, msg *models.OutEnvelope) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.L().Error("序列化消息失败", zap.String("type", msg.Type), zap.Error(err))
		return 0
	}
	delivered := m.deliverLocal(userID, payload)

	m.mu.RLock()
	relay := m.relay
	m.mu.RUnlock()
	if relay != nil {
		if err := relay.PublishDelivery(context.Background(), userID, payload); err != nil {
			logger.L().Warn("转发消息失败", zap.Int64("userId", userID), zap.Error(err))
		}
	}
	return delivered
}

// SendToClient 只发送给指定连接
func (m *WebSocketManager) SendToClient(client *Client, msg *models.OutEnvelope) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.L().Error("序列化消息失败", zap.String("type", msg.Type), zap.Error(err))
		return false
	}
	return m.deliver(client, payload)
}

// DeliverRemote 投递其他节点转发来的消息
func (m *WebSocketManager) DeliverRemote(origin string, userID int64, payload []byte) int {
	if origin == m.nodeID {
		return 0
	}
	return m.deliverLocal(userID, payload)
}

// BroadcastToRoles 广播给指定角色的连接，roles为空时广播给所有连接
func (m *WebSocketManager) BroadcastToRoles(msg *models.OutEnvelope, roles ...string) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0
	}
	delivered := 0
	for _, client := range m.snapshot(roles...) {
		if m.deliver(client, payload) {
			delivered++
		}
	}
	return delivered
}

// HasRole 是否存在指定角色的连接
func (m *WebSocketManager) HasRole(roles ...string) bool {
	return len(m.snapshot(roles...)) > 0
}

func (m *WebSocketManager) snapshot(roles ...string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	clients := make([]*Client, 0, len(m.byID))
	for _, client := range m.byID {
		if len(roles) == 0 || containsString(roles, client.Role) {
			clients = append(clients, client)
		}
	}
	return clients
}

func (m *WebSocketManager) deliverLocal(userID int64, payload []byte) int {
	clients := m.ClientsOf(userID)
	delivered := 0
	for _, client := range clients {
		if m.deliver(client, payload) {
			delivered++
		}
	}
	return delivered
}

// deliver 缓冲区已满的连接会被断开
func (m *WebSocketManager) deliver(client *Client, payload []byte) bool {
	if client.trySend(payload) {
		return true
	}
	if client.State() != StateClosed {
		logger.L().Warn("客户端发送缓冲区已满，断开连接", zap.String("client", client.Label()))
		m.Unregister(client.ID)
	}
	return false
}

// ClientsOf 用户在本节点的所有连接
func (m *WebSocketManager) ClientsOf(userID int64) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := m.byUser[userID]
	clients := make([]*Client, 0, len(conns))
	for _, client := range conns {
		clients = append(clients, client)
	}
	return clients
}

// IsOnline 用户是否在线，先查本节点再查共享的在线状态
func (m *WebSocketManager) IsOnline(userID int64) bool {
	m.mu.RLock()
	_, ok := m.byUser[userID]
	m.mu.RUnlock()
	if ok {
		return true
	}
	if m.presence == nil {
		return false
	}
	online, err := m.presence.IsOnline(context.Background(), userID)
	if err != nil {
		logger.L().Warn("查询在线状态失败", zap.Error(err))
		return false
	}
	return online
}

// OnlineUsers 在线用户ID
func (m *WebSocketManager) OnlineUsers() []int64 {
	if m.presence != nil {
		ids, err := m.presence.OnlineUsers(context.Background())
		if err == nil {
			return ids
		}
		logger.L().Warn("获取在线用户失败", zap.Error(err))
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.byUser))
	for id := range m.byUser {
		ids = append(ids, id)
	}
	return ids
}

// CloseUser 断开用户在本节点的所有连接
func (m *WebSocketManager) CloseUser(userID int64) int {
	closed := 0
	for _, client := range m.ClientsOf(userID) {
		if m.Unregister(client.ID) {
			closed++
		}
	}
	return closed
}

// cleanupExpiredConnections 清理长时间没有心跳的连接
func (m *WebSocketManager) cleanupExpiredConnections() {
	deadline := time.Now().Add(-2 * pongWait)
	for _, client := range m.snapshot() {
		if client.Conn != nil && client.LastSeen().Before(deadline) {
			logger.L().Info("检测到过期连接", zap.String("client", client.Label()))
			m.Unregister(client.ID)
		}
	}
}

// GetConnectionCount 获取当前连接数
func (m *WebSocketManager) GetConnectionCount() int32 {
	return atomic.LoadInt32(&m.connectionCount)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
