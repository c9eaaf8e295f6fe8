package actions

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/streamcast/live-rules/internal/rules"
)

// MQTTHandler MQTT桥接处理器：把动作载荷发布到外部broker，
// 供OSC桥、电击项圈等设备侧网关订阅
type MQTTHandler struct {
	client      mqtt.Client
	topicPrefix string
	qos         byte
}

// NewMQTTHandler 创建MQTT处理器并建立连接
func NewMQTTHandler(brokerURL, clientID, topicPrefix string, qos byte) (*MQTTHandler, error) {
	if topicPrefix == "" {
		topicPrefix = "live/actions"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT连接丢失")
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Info().Str("broker", brokerURL).Msg("MQTT已连接")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("连接MQTT broker失败: %w", token.Error())
	}

	return &MQTTHandler{
		client:      client,
		topicPrefix: topicPrefix,
		qos:         qos,
	}, nil
}

// Name 返回处理器名称
func (h *MQTTHandler) Name() string {
	return "mqtt"
}

// Execute 发布载荷到 <prefix>/<category>/<action> 主题
func (h *MQTTHandler) Execute(_ context.Context, ref rules.ActionRef, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化载荷失败: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/%s", h.topicPrefix, ref.Category, ref.Name)
	token := h.client.Publish(topic, h.qos, false, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("发布MQTT消息失败: %w", token.Error())
	}

	log.Debug().
		Str("topic", topic).
		Int("bytes", len(data)).
		Msg("MQTT动作执行成功")
	return nil
}

// Close 断开MQTT连接
func (h *MQTTHandler) Close() {
	h.client.Disconnect(250)
}
