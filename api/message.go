package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"landrop/middleware"
	"landrop/services"
)

// ChatController 聊天记录和红点的REST查询，数据与WebSocket回复一致
type ChatController struct {
	ChatService   *services.ChatService
	FriendService *services.FriendService
	NotifyService *services.NotifyService
}

// NewChatController 创建聊天控制器
func NewChatController(chats *services.ChatService, friends *services.FriendService, notifier *services.NotifyService) *ChatController {
	return &ChatController{
		ChatService:   chats,
		FriendService: friends,
		NotifyService: notifier,
	}
}

// GetChatRecords 获取与好友的聊天记录
func (c *ChatController) GetChatRecords(ctx *gin.Context) {
	claims := middleware.Claims(ctx)
	if claims == nil {
		fail(ctx, http.StatusUnauthorized, "未认证")
		return
	}

	friendID, err := strconv.ParseInt(ctx.Query("friendId"), 10, 64)
	if err != nil {
		fail(ctx, http.StatusBadRequest, "无效的friendId")
		return
	}

	records, err := c.ChatService.ListForPair(ctx.Request.Context(), claims.UserID, friendID)
	if err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, records)
}

// GetFriendList 获取好友列表
func (c *ChatController) GetFriendList(ctx *gin.Context) {
	claims := middleware.Claims(ctx)
	if claims == nil {
		fail(ctx, http.StatusUnauthorized, "未认证")
		return
	}

	friends, err := c.FriendService.ListFriends(ctx.Request.Context(), claims.UserID)
	if err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, friends)
}

// GetRedDotData 获取红点数据
func (c *ChatController) GetRedDotData(ctx *gin.Context) {
	claims := middleware.Claims(ctx)
	if claims == nil {
		fail(ctx, http.StatusUnauthorized, "未认证")
		return
	}

	data, err := c.NotifyService.RedDot(ctx.Request.Context(), claims.UserID)
	if err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, data)
}
