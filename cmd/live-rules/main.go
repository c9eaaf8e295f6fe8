package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/streamcast/live-rules/internal/bus"
	"github.com/streamcast/live-rules/internal/config"
	"github.com/streamcast/live-rules/internal/rules"
	"github.com/streamcast/live-rules/internal/rules/actions"
	"github.com/streamcast/live-rules/internal/storage"
	"github.com/streamcast/live-rules/internal/web"
)

func main() {
	cfgFile := flag.String("config", "", "配置文件路径，留空使用默认配置")
	flag.Parse()

	if err := run(*cfgFile); err != nil {
		log.Fatal().Err(err).Msg("启动失败")
	}
}

func run(cfgFile string) error {
	cfg, err := config.Load(cfgFile, nil)
	if err != nil {
		return err
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	// 事件总线：embedded时先拉起内置NATS服务器
	natsURL := cfg.Bus.URL
	if natsURL == bus.EmbeddedURL {
		srv, url, err := bus.StartEmbeddedServer()
		if err != nil {
			return err
		}
		if srv != nil {
			defer srv.Shutdown()
		}
		natsURL = url
	}

	eventBus, err := bus.NewEventBus(natsURL, cfg.Bus.SubjectPrefix)
	if err != nil {
		return err
	}
	defer eventBus.Close()

	store, err := newStorage(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	service, err := rules.NewService(store, eventBus)
	if err != nil {
		return err
	}

	overlay := registerHandlers(cfg, service, eventBus)
	if overlay != nil {
		defer overlay.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := service.Start(ctx); err != nil {
		return err
	}
	defer service.Stop()

	server := web.NewServer(cfg.Web, service, overlay)
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP服务器异常退出")
		}
	}()

	log.Info().
		Str("bus", cfg.Bus.URL).
		Str("storage", cfg.Storage.Backend).
		Int("rules", service.Store().Count()).
		Msg("规则引擎已启动")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("收到退出信号，开始优雅关闭")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP服务器关闭超时")
	}
	return nil
}

// newStorage 按配置创建规则存储后端
func newStorage(cfg config.StorageConfig) (rules.Storage, error) {
	switch cfg.Backend {
	case "sqlite":
		return storage.NewSQLiteStore(cfg.DBPath)
	case "file":
		return storage.NewFileStore(cfg.RuleDir)
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("不支持的存储后端: %s", cfg.Backend)
	}
}

// registerHandlers 按配置注册动作处理器。
// console、forward、overlay始终可用，其余接收端按需启用。
func registerHandlers(cfg *config.Config, service *rules.Service, eventBus *bus.EventBus) *actions.OverlayHandler {
	service.RegisterActionHandler("console", actions.NewConsoleHandler())
	service.RegisterActionHandler("forward", actions.NewForwardHandler(eventBus.Conn(), ""))

	overlay := actions.NewOverlayHandler()
	service.RegisterActionHandler("overlay", overlay)

	if cfg.Actions.Webhook.Enabled {
		service.RegisterActionHandler("webhook", actions.NewWebhookHandler(cfg.Actions.Webhook.BaseURL, 0))
	}
	if cfg.Actions.Leaderboard.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Actions.Leaderboard.Addr,
			Password: cfg.Actions.Leaderboard.Password,
			DB:       cfg.Actions.Leaderboard.DB,
		})
		service.RegisterActionHandler("leaderboard", actions.NewLeaderboardHandler(client, cfg.Actions.Leaderboard.KeyPrefix))
	}
	if cfg.Actions.MQTT.Enabled {
		handler, err := actions.NewMQTTHandler(
			cfg.Actions.MQTT.BrokerURL,
			cfg.Actions.MQTT.ClientID,
			cfg.Actions.MQTT.TopicPrefix,
			cfg.Actions.MQTT.QoS,
		)
		if err != nil {
			log.Error().Err(err).Msg("MQTT接收端连接失败，已跳过注册")
		} else {
			service.RegisterActionHandler("mqtt", handler)
		}
	}
	if cfg.Actions.Measure.Enabled {
		m := cfg.Actions.Measure
		service.RegisterActionHandler("measure", actions.NewMeasureHandler(m.URL, m.Token, m.Org, m.Bucket))
	}

	return overlay
}
