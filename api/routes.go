package api

import (
	"github.com/gin-gonic/gin"

	"landrop/middleware"
	"landrop/services"
)

// Services 路由依赖的服务
type Services struct {
	Users      *services.UserService
	Tokens     *services.TokenService
	Friends    *services.FriendService
	Chats      *services.ChatService
	Notifier   *services.NotifyService
	Router     *services.Router
	WSManager  *services.WebSocketManager
	Kafka      *services.KafkaService
	Device     *services.DeviceMonitor
	BufferSize int
}

// RegisterRoutes 注册API路由
func RegisterRoutes(r *gin.Engine, s Services) {
	// 创建控制器
	authController := NewAuthController(s.Users, s.Tokens, s.WSManager)
	userController := NewUserController(s.Users, s.WSManager)
	chatController := NewChatController(s.Chats, s.Friends, s.Notifier)
	wsController := NewWebSocketController(s.Users, s.Tokens, s.WSManager, s.Router, s.BufferSize)
	monitorController := NewMonitorController(s.WSManager, s.Kafka, s.Device)

	// WebSocket，令牌在查询参数中
	r.GET("/ws", wsController.HandleWebSocket)

	api := r.Group("/api/v1")
	{
		// 认证相关
		api.POST("/appLogin", authController.AppLogin)

		// 用户相关
		api.GET("/getUserList", userController.GetUserList)
		api.POST("/updateUserInfo", userController.UpdateUserInfo)

		// 聊天相关
		api.GET("/getFriendList", chatController.GetFriendList)
		api.GET("/getChatRecords", chatController.GetChatRecords)
		api.GET("/getRedDotData", chatController.GetRedDotData)

		// 监控相关
		api.GET("/getWSStatus", monitorController.GetWSStatus)
	}

	// 管理员接口
	admin := r.Group("/api/v1", middleware.AdminOnly())
	{
		admin.POST("/createUser", userController.CreateUser)
		admin.POST("/createToken", authController.CreateToken)
		admin.POST("/unBindUser", userController.UnBindUser)
		admin.GET("/monitor/system", monitorController.GetSystemStatus)
	}
}
