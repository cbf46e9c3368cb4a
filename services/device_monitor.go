package services

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	psNet "github.com/shirou/gopsutil/v4/net"
	"go.uber.org/zap"

	"landrop/logger"
	"landrop/models"
)

// NetworkUsage 单个网卡在一个采样周期内的流量
type NetworkUsage struct {
	AdapterCode string `json:"adapterCode"`
	AdapterName string `json:"adapterName"`
	Upload      uint64 `json:"upload"`
	Download    uint64 `json:"download"`
}

// DeviceInfo 设备实时信息
type DeviceInfo struct {
	Time     string                  `json:"time"`
	CPUUsage float64                 `json:"cpuUsage"`
	MemUsage float64                 `json:"memUsage"`
	Network  map[string]NetworkUsage `json:"network,omitempty"`
}

// DeviceMonitor 定期采集本机状态并推送给管理员
type DeviceMonitor struct {
	manager  *WebSocketManager
	interval time.Duration

	mu   sync.Mutex
	last map[string]psNet.IOCountersStat
}

// NewDeviceMonitor 创建设备监控
func NewDeviceMonitor(manager *WebSocketManager, interval time.Duration) *DeviceMonitor {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &DeviceMonitor{
		manager:  manager,
		interval: interval,
		last:     make(map[string]psNet.IOCountersStat),
	}
}

// Run 有管理员连接时才采集和推送
func (d *DeviceMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.manager.HasRole(models.RoleAdmin, models.RoleAdminPlus) {
				continue
			}
			info := d.Snapshot(ctx)
			msg := &models.OutEnvelope{
				Type:       "deviceRealTimeInfo",
				Content:    info,
				ClientType: models.ClientTypeApp,
				TimeStamp:  time.Now().UnixMilli(),
			}
			d.manager.BroadcastToRoles(msg, models.RoleAdmin, models.RoleAdminPlus)
		}
	}
}

// Snapshot 采集一次，网卡流量为与上次采集的差值
func (d *DeviceMonitor) Snapshot(ctx context.Context) DeviceInfo {
	info := DeviceInfo{
		Time:    time.Now().Format("2006-01-02 15:04:05"),
		Network: make(map[string]NetworkUsage),
	}

	// CPU使用率，与上次调用之间的平均值
	if usage, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(usage) > 0 {
		info.CPUUsage = usage[0]
	} else if err != nil {
		logger.L().Debug("获取CPU使用率失败", zap.Error(err))
	}

	// 内存使用率
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemUsage = vm.UsedPercent
	} else {
		logger.L().Debug("获取内存使用率失败", zap.Error(err))
	}

	stats, err := psNet.IOCountersWithContext(ctx, true)
	if err != nil {
		logger.L().Debug("获取网卡流量失败", zap.Error(err))
		return info
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, stat := range stats {
		prev, ok := d.last[stat.Name]
		d.last[stat.Name] = stat
		if !ok {
			continue
		}
		info.Network[stat.Name] = NetworkUsage{
			AdapterCode: stat.Name,
			AdapterName: stat.Name,
			Upload:      counterDelta(stat.BytesSent, prev.BytesSent),
			Download:    counterDelta(stat.BytesRecv, prev.BytesRecv),
		}
	}
	return info
}

// counterDelta 计数器回绕或网卡重置时返回0
func counterDelta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}
