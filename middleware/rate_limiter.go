package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"landrop/logger"
)

// RateLimiter 创建一个基于Redis的限流中间件，rdb为nil时不限流
func RateLimiter(rdb *redis.Client, apiLimit, wsLimit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil {
			c.Next()
			return
		}

		// 获取客户端IP
		clientIP := c.ClientIP()

		// WebSocket握手单独计数
		if c.Request.URL.Path == "/ws" {
			handleRateLimit(c, rdb, "rate_limit:ws:"+clientIP, wsLimit, time.Minute)
			return
		}

		handleRateLimit(c, rdb, "rate_limit:api:"+clientIP, apiLimit, time.Minute)
	}
}

// handleRateLimit 固定窗口计数，第一次计数时设置过期时间
func handleRateLimit(c *gin.Context, rdb *redis.Client, key string, limit int, window time.Duration) {
	if limit <= 0 {
		c.Next()
		return
	}
	ctx := c.Request.Context()

	n, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		// 发生错误，允许请求通过
		logger.L().Warn("限流计数失败", zap.String("key", key), zap.Error(err))
		c.Next()
		return
	}
	if n == 1 {
		rdb.Expire(ctx, key, window)
	}
	count := int(n)

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

	// 检查是否超过限制
	if count > limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"code": http.StatusTooManyRequests,
			"msg":  "请求过于频繁，请稍后再试",
		})
		return
	}
	c.Next()
}
