package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	Bus      BusConfig     `mapstructure:"bus"`
	Storage  StorageConfig `mapstructure:"storage"`
	Web      WebConfig     `mapstructure:"web"`
	Actions  ActionsConfig `mapstructure:"actions"`
}

// BusConfig 事件总线配置。URL为"embedded"时启动内置NATS服务器
type BusConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// StorageConfig 规则存储配置
type StorageConfig struct {
	// Backend 取值: sqlite | file | memory
	Backend string `mapstructure:"backend"`
	DBPath  string `mapstructure:"db_path"`
	RuleDir string `mapstructure:"rule_dir"`
}

// WebConfig 管理面板配置
type WebConfig struct {
	Addr string     `mapstructure:"addr"`
	Auth AuthConfig `mapstructure:"auth"`
}

// AuthConfig 面板登录配置。PasswordHash为bcrypt哈希，
// 留空表示关闭认证（仅限本机回环使用）
type AuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	JWTSecret    string `mapstructure:"jwt_secret"`
}

// ActionsConfig 动作接收端配置，未配置的接收端不注册
type ActionsConfig struct {
	Webhook     WebhookConfig     `mapstructure:"webhook"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Measure     MeasureConfig     `mapstructure:"measure"`
}

// WebhookConfig HTTP回调接收端
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
}

// LeaderboardConfig Redis排行榜接收端
type LeaderboardConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// MQTTConfig MQTT接收端（智能灯光等直播间联动设备）
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BrokerURL   string `mapstructure:"broker_url"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

// MeasureConfig InfluxDB指标接收端
type MeasureConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("bus.url", "embedded")
	v.SetDefault("bus.subject_prefix", "live.events")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.db_path", "./data/rules.db")
	v.SetDefault("storage.rule_dir", "./data/rules")
	v.SetDefault("web.addr", ":8088")
	v.SetDefault("web.auth.enabled", false)
	v.SetDefault("web.auth.username", "admin")
	v.SetDefault("actions.leaderboard.key_prefix", "live:leaderboard")
	v.SetDefault("actions.mqtt.topic_prefix", "live/actions")
	v.SetDefault("actions.mqtt.client_id", "live-rules")
}

// Load 加载配置文件并监听热更新。
// 路径为空时只用默认值，方便零配置起步。
func Load(path string, onChange func(*Config)) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if path != "" && onChange != nil {
		v.OnConfigChange(func(_ fsnotify.Event) {
			next := &Config{}
			if err := v.Unmarshal(next); err != nil {
				log.Error().Err(err).Msg("配置热更新解析失败，保留旧配置")
				return
			}
			if err := next.Validate(); err != nil {
				log.Error().Err(err).Msg("配置热更新校验失败，保留旧配置")
				return
			}
			log.Info().Str("file", path).Msg("配置已热更新")
			onChange(next)
		})
		v.WatchConfig()
	}

	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "file", "memory":
	default:
		return fmt.Errorf("不支持的存储后端: %s", c.Storage.Backend)
	}
	if c.Web.Auth.Enabled {
		if c.Web.Auth.PasswordHash == "" {
			return fmt.Errorf("启用认证时必须配置password_hash")
		}
		if c.Web.Auth.JWTSecret == "" {
			return fmt.Errorf("启用认证时必须配置jwt_secret")
		}
	}
	return nil
}
