package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"landrop/logger"
	"landrop/middleware"
	"landrop/models"
	"landrop/services"
)

// UserController 用户控制器
type UserController struct {
	UserService *services.UserService
	WSManager   *services.WebSocketManager
}

// NewUserController 创建用户控制器
func NewUserController(userService *services.UserService, wsManager *services.WebSocketManager) *UserController {
	return &UserController{
		UserService: userService,
		WSManager:   wsManager,
	}
}

// GetUserList 获取所有用户及在线状态
func (c *UserController) GetUserList(ctx *gin.Context) {
	users, err := c.UserService.ListUsers(ctx.Request.Context())
	if err != nil {
		failErr(ctx, err)
		return
	}

	list := make([]models.UserResponse, 0, len(users))
	for i := range users {
		list = append(list, users[i].ToResponse(c.WSManager.IsOnline(users[i].ID)))
	}
	ok(ctx, list)
}

// CreateUser 管理员创建用户
func (c *UserController) CreateUser(ctx *gin.Context) {
	var req services.CreateUserInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, "请求参数错误: "+err.Error())
		return
	}

	user, err := c.UserService.CreateUser(ctx.Request.Context(), req)
	if err != nil {
		failErr(ctx, err)
		return
	}
	logger.L().Info("已创建用户", zap.Int64("id", user.ID), zap.String("name", user.Name))
	ok(ctx, user.ToResponse(false))
}

// UnBindUser 解绑用户并断开其所有连接
func (c *UserController) UnBindUser(ctx *gin.Context) {
	var req struct {
		ID models.ID `json:"id"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil || req.ID <= 0 {
		fail(ctx, http.StatusBadRequest, "缺少用户ID")
		return
	}

	id := int64(req.ID)
	if err := c.UserService.UnbindUser(ctx.Request.Context(), id); err != nil {
		failErr(ctx, err)
		return
	}
	closed := c.WSManager.CloseUser(id)
	logger.L().Info("已解绑用户", zap.Int64("id", id), zap.Int("closed", closed))
	ok(ctx, gin.H{"id": id})
}

// UpdateUserInfo 修改当前用户的昵称和头像
func (c *UserController) UpdateUserInfo(ctx *gin.Context) {
	claims := middleware.Claims(ctx)
	if claims == nil {
		fail(ctx, http.StatusUnauthorized, "未认证")
		return
	}

	var req struct {
		NickName string `json:"nickName"`
		Avatar   string `json:"avatar"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, "请求参数错误: "+err.Error())
		return
	}

	user, err := c.UserService.UpdateUserInfo(ctx.Request.Context(), claims.UserID, req.NickName, req.Avatar)
	if err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, user.ToResponse(c.WSManager.IsOnline(user.ID)))
}
