package actions

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog/log"

	"github.com/streamcast/live-rules/internal/model"
	"github.com/streamcast/live-rules/internal/rules"
)

// MeasureHandler 指标记录处理器：把事件写入InfluxDB，
// 用于直播复盘统计（礼物流水、弹幕热度曲线）
type MeasureHandler struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewMeasureHandler 创建指标记录处理器
func NewMeasureHandler(url, token, org, bucket string) *MeasureHandler {
	client := influxdb2.NewClient(url, token)
	return &MeasureHandler{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}
}

// Name 返回处理器名称
func (h *MeasureHandler) Name() string {
	return "measure"
}

// Execute 以动作名为measurement写入数据点：
// 字符串字段作为tag，数值字段作为field
func (h *MeasureHandler) Execute(ctx context.Context, ref rules.ActionRef, payload map[string]any) error {
	tags := make(map[string]string)
	fields := make(map[string]any)
	for key, value := range payload {
		if s, ok := value.(string); ok {
			tags[key] = s
			continue
		}
		if f, ok := model.ToFloat64(value); ok {
			fields[key] = f
		}
	}
	// InfluxDB要求至少一个field
	if len(fields) == 0 {
		fields["count"] = 1.0
	}

	point := influxdb2.NewPoint(ref.Name, tags, fields, time.Now())
	if err := h.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("写入InfluxDB失败: %w", err)
	}

	log.Debug().
		Str("measurement", ref.Name).
		Int("tags", len(tags)).
		Int("fields", len(fields)).
		Msg("指标记录完成")
	return nil
}

// Close 关闭InfluxDB客户端
func (h *MeasureHandler) Close() {
	h.client.Close()
}
