package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"landrop/logger"
	"landrop/models"
	"landrop/services"
)

// WebSocketController WebSocket控制器
type WebSocketController struct {
	UserService  *services.UserService
	TokenService *services.TokenService
	WSManager    *services.WebSocketManager
	Router       *services.Router
	BufferSize   int
}

// NewWebSocketController 创建WebSocket控制器
func NewWebSocketController(
	userService *services.UserService,
	tokenService *services.TokenService,
	wsManager *services.WebSocketManager,
	router *services.Router,
	bufferSize int,
) *WebSocketController {
	return &WebSocketController{
		UserService:  userService,
		TokenService: tokenService,
		WSManager:    wsManager,
		Router:       router,
		BufferSize:   bufferSize,
	}
}

// HandleWebSocket 处理握手：ws://host:port/ws?ldToken=&id=&name=
func (c *WebSocketController) HandleWebSocket(ctx *gin.Context) {
	claims, err := c.authenticate(ctx)

	// 创建WebSocket连接
	conn, upErr := services.Upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if upErr != nil {
		logger.L().Debug("WebSocket升级失败", zap.Error(upErr))
		return
	}

	// 校验失败时直接关闭，不发送任何消息
	if err != nil {
		logger.L().Info("WebSocket握手校验失败", zap.String("ip", ctx.ClientIP()), zap.Error(err))
		closeConn(conn, websocket.ClosePolicyViolation)
		return
	}

	client := services.NewClient(conn, claims, ctx.Query("clientType"), c.BufferSize)
	client.MarkAuthenticated()

	// 注册客户端
	if _, err := c.WSManager.Register(client); err != nil {
		logger.L().Warn("注册连接失败", zap.String("client", client.Label()), zap.Error(err))
		closeConn(conn, websocket.CloseTryAgainLater)
		return
	}

	if err := c.UserService.UpdateIP(context.Background(), claims.UserID, ctx.ClientIP()); err != nil {
		logger.L().Warn("记录用户IP失败", zap.Int64("userId", claims.UserID), zap.Error(err))
	}

	c.WSManager.SendToClient(client, &models.OutEnvelope{
		Type:    "welcome",
		Content: "连接成功",
	})

	// 启动读写协程
	go client.WritePump(c.WSManager)
	go client.ReadPump(c.WSManager, c.Router)
}

// authenticate 校验令牌，查询参数中的id需要与令牌一致，用户必须未被解绑
func (c *WebSocketController) authenticate(ctx *gin.Context) (*services.TokenClaims, error) {
	claims, err := c.TokenService.Validate(ctx.Query("ldToken"))
	if err != nil {
		return nil, err
	}
	if idStr := ctx.Query("id"); idStr != "" {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id != claims.UserID {
			return nil, services.ErrAuthInvalid
		}
	}

	user, err := c.UserService.GetUserByID(ctx.Request.Context(), claims.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, services.ErrAuthInvalid
	}
	return claims, nil
}

func closeConn(conn *websocket.Conn, code int) {
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
	conn.Close()
}
