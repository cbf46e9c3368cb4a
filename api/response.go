package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"landrop/services"
)

// 成功响应 {code:200, data}
func ok(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": data})
}

// 失败响应 {code, msg}，HTTP状态码与code一致
func fail(ctx *gin.Context, status int, msg string) {
	ctx.JSON(status, gin.H{"code": status, "msg": msg})
}

// failErr 按错误类型返回状态码
func failErr(ctx *gin.Context, err error) {
	fail(ctx, services.ErrorCode(err), services.ErrorMessage(err))
}
