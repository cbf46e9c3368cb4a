package api

import (
	"runtime"

	"github.com/gin-gonic/gin"

	"landrop/services"
)

// MonitorController 监控控制器
type MonitorController struct {
	WSManager     *services.WebSocketManager
	KafkaService  *services.KafkaService
	DeviceMonitor *services.DeviceMonitor
}

// NewMonitorController 创建监控控制器，kafkaService可以为nil
func NewMonitorController(wsManager *services.WebSocketManager, kafkaService *services.KafkaService, device *services.DeviceMonitor) *MonitorController {
	return &MonitorController{
		WSManager:     wsManager,
		KafkaService:  kafkaService,
		DeviceMonitor: device,
	}
}

// GetSystemStatus 获取系统状态
func (c *MonitorController) GetSystemStatus(ctx *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := gin.H{
		"node":        c.WSManager.NodeID(),
		"connections": c.WSManager.GetConnectionCount(),
		"goroutines":  runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc":       m.Alloc / 1024 / 1024,      // MB
			"total_alloc": m.TotalAlloc / 1024 / 1024, // MB
			"sys":         m.Sys / 1024 / 1024,        // MB
			"num_gc":      m.NumGC,
		},
	}
	if c.DeviceMonitor != nil {
		status["device"] = c.DeviceMonitor.Snapshot(ctx.Request.Context())
	}

	// 获取Kafka指标
	if c.KafkaService != nil {
		kafkaMetrics := c.KafkaService.GetMetrics()
		status["kafka"] = gin.H{
			"messages_sent":     kafkaMetrics["messages_sent"],
			"messages_received": kafkaMetrics["messages_received"],
			"errors":            kafkaMetrics["errors"],
		}
	}
	ok(ctx, status)
}

// GetWSStatus 获取连接统计信息
func (c *MonitorController) GetWSStatus(ctx *gin.Context) {
	ok(ctx, gin.H{
		"connections": c.WSManager.GetConnectionCount(),
		"onlineUsers": c.WSManager.OnlineUsers(),
	})
}
