package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"landrop/logger"
	"landrop/models"
	"landrop/services"
)

// AuthController 认证控制器
type AuthController struct {
	UserService  *services.UserService
	TokenService *services.TokenService
	WSManager    *services.WebSocketManager
}

// NewAuthController 创建认证控制器
func NewAuthController(userService *services.UserService, tokenService *services.TokenService, wsManager *services.WebSocketManager) *AuthController {
	return &AuthController{
		UserService:  userService,
		TokenService: tokenService,
		WSManager:    wsManager,
	}
}

// AppLogin 用户登录
func (c *AuthController) AppLogin(ctx *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
		Pwd  string `json:"pwd" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, "请求参数错误: "+err.Error())
		return
	}

	// 验证用户
	user, err := c.UserService.Login(ctx.Request.Context(), req.Name, req.Pwd)
	if err != nil {
		failErr(ctx, err)
		return
	}

	token, expiresAt, err := c.TokenService.Generate(user.ID, user.Name, user.Role)
	if err != nil {
		logger.L().Error("生成令牌失败", zap.Int64("userId", user.ID), zap.Error(err))
		fail(ctx, http.StatusInternalServerError, "生成令牌失败")
		return
	}

	ok(ctx, gin.H{
		"token":     token,
		"expiresAt": expiresAt.UnixMilli(),
		"user":      user.ToResponse(c.WSManager.IsOnline(user.ID)),
	})
}

// CreateToken 管理员为指定用户签发令牌
func (c *AuthController) CreateToken(ctx *gin.Context) {
	var req struct {
		ID models.ID `json:"id"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil || req.ID <= 0 {
		fail(ctx, http.StatusBadRequest, "缺少用户ID")
		return
	}

	user, err := c.UserService.GetUserByID(ctx.Request.Context(), int64(req.ID))
	if err != nil {
		failErr(ctx, err)
		return
	}
	if !user.Active {
		fail(ctx, http.StatusBadRequest, "用户已解绑")
		return
	}

	token, expiresAt, err := c.TokenService.Generate(user.ID, user.Name, user.Role)
	if err != nil {
		logger.L().Error("生成令牌失败", zap.Int64("userId", user.ID), zap.Error(err))
		fail(ctx, http.StatusInternalServerError, "生成令牌失败")
		return
	}

	ok(ctx, gin.H{
		"token":     token,
		"expiresAt": expiresAt.UnixMilli(),
		"expiry":    int64(c.TokenService.Expiry() / time.Hour),
	})
}
