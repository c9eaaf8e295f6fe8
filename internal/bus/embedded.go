package bus

import (
	"fmt"
	"net"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// EmbeddedURL 配置为该值时启动内置NATS服务器，无需外部部署
const EmbeddedURL = "embedded"

const embeddedFallbackPort = 14222

// StartEmbeddedServer 启动内置NATS服务器并返回连接地址。
// 先探测本机是否已有NATS在跑；4222被占用时退到备用端口。
func StartEmbeddedServer() (*server.Server, string, error) {
	port := 4222

	// 已有服务器可直接复用
	probeURL := fmt.Sprintf("nats://127.0.0.1:%d", port)
	if nc, err := nats.Connect(probeURL, nats.Timeout(500*time.Millisecond)); err == nil {
		nc.Close()
		log.Info().Str("url", probeURL).Msg("发现已运行的NATS服务器，直接复用")
		return nil, probeURL, nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		port = embeddedFallbackPort
		ln, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			return nil, "", fmt.Errorf("无法找到可用端口: %w", err)
		}
	}
	ln.Close()

	opts := &server.Options{
		ServerName: "live-rules-nats",
		Host:       "127.0.0.1",
		Port:       port,
		NoLog:      true,
		NoSigs:     true,
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, "", fmt.Errorf("创建内置NATS服务器失败: %w", err)
	}

	log.Info().Int("port", port).Msg("启动内置NATS服务器")
	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return nil, "", fmt.Errorf("内置NATS服务器启动超时")
	}

	return srv, fmt.Sprintf("nats://127.0.0.1:%d", port), nil
}
