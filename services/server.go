package services

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"landrop/logger"
)

// StartServer 启动HTTP服务器
func StartServer(r *gin.Engine, port string) *http.Server {
	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// WebSocket连接是长连接，写超时由写协程自己设置
		IdleTimeout: 120 * time.Second,
	}

	// 在后台启动服务器
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L().Fatal("监听失败", zap.Error(err))
		}
	}()

	logger.L().Info("服务器启动", zap.String("port", port))
	return srv
}
