package web

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/streamcast/live-rules/internal/rules"
)

// SystemHandler 系统状态处理器
type SystemHandler struct {
	service   *rules.Service
	startedAt time.Time
}

// NewSystemHandler 创建系统状态处理器
func NewSystemHandler(service *rules.Service) *SystemHandler {
	return &SystemHandler{
		service:   service,
		startedAt: time.Now(),
	}
}

// SystemStatus 系统状态
type SystemStatus struct {
	UptimeSeconds  int64   `json:"uptime_seconds"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	MemoryUsedMB   uint64  `json:"memory_used_mb"`
	Goroutines     int     `json:"goroutines"`
	RuleCount      int     `json:"rule_count"`
	PendingActions int     `json:"pending_actions"`
}

// GetStatus 获取系统状态
func (h *SystemHandler) GetStatus(c *gin.Context) {
	status := SystemStatus{
		UptimeSeconds:  int64(time.Since(h.startedAt).Seconds()),
		Goroutines:     runtime.NumGoroutine(),
		RuleCount:      h.service.Store().Count(),
		PendingActions: h.service.PendingCount(),
	}

	// 采样失败不阻断状态返回，保持字段为零值
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status.MemoryPercent = vm.UsedPercent
		status.MemoryUsedMB = vm.Used / 1024 / 1024
	}

	successResponse(c, status)
}

// GetEngineMetrics 获取引擎计数器快照
func (h *SystemHandler) GetEngineMetrics(c *gin.Context) {
	successResponse(c, h.service.Metrics())
}
