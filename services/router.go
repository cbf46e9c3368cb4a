package services

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"landrop/logger"
	"landrop/models"
)

// HandlerFunc 处理一种类型的消息，返回的错误会作为 commonError 回复给发送方
type HandlerFunc func(ctx context.Context, c *Client, env *models.Envelope) error

// Router 按消息类型分发
type Router struct {
	handlers map[string]HandlerFunc

	manager  *WebSocketManager
	friends  *FriendService
	chats    *ChatService
	notifier *NotifyService

	now func() time.Time
}

// NewRouter 创建路由并注册所有消息处理函数
func NewRouter(manager *WebSocketManager, friends *FriendService, chats *ChatService, notifier *NotifyService) *Router {
	r := &Router{
		handlers: make(map[string]HandlerFunc),
		manager:  manager,
		friends:  friends,
		chats:    chats,
		notifier: notifier,
		now:      time.Now,
	}
	r.Handle("pullData", r.pullData)
	r.Handle("queryFriendList", r.queryFriendList)
	r.Handle("queryChatRecords", r.queryChatRecords)
	r.Handle("chatSendData", r.chatSendData)
	r.Handle("addFriends", r.addFriends)
	r.Handle("dealWithFriendsRequest", r.dealWithFriendsRequest)
	r.Handle("changeChatRecordsStatus", r.changeChatRecordsStatus)
	r.Handle("getNotifyRedDotData", r.getNotifyRedDotData)
	r.Handle("queryClients", r.queryClients)
	return r
}

// Handle 注册消息处理函数
func (r *Router) Handle(msgType string, h HandlerFunc) {
	r.handlers[msgType] = h
}

// Dispatch 校验身份后调用对应的处理函数，未知类型直接丢弃
func (r *Router) Dispatch(ctx context.Context, c *Client, env *models.Envelope) {
	if env.UserID() != c.UserID {
		r.manager.SendToClient(c, models.NewCommonError(env.SID, http.StatusBadRequest, "用户信息不一致，请确认。"))
		return
	}
	if c.Claims != nil && c.Claims.Expired(r.now()) {
		r.manager.SendToClient(c, models.NewCommonError(env.SID, http.StatusUnauthorized, ErrAuthInvalid.Error()))
		return
	}

	h, ok := r.handlers[env.Type]
	if !ok {
		logger.L().Debug("未知的消息类型", zap.String("type", env.Type), zap.String("client", c.Label()))
		return
	}

	if err := h(ctx, c, env); err != nil {
		code := ErrorCode(err)
		if code == http.StatusInternalServerError {
			logger.L().Error("处理消息失败", zap.String("type", env.Type), zap.String("client", c.Label()), zap.Error(err))
		} else {
			logger.L().Warn("处理消息失败", zap.String("type", env.Type), zap.String("client", c.Label()), zap.Error(err))
		}
		r.manager.SendToClient(c, models.NewCommonError(env.SID, code, ErrorMessage(err)))
	}
}
