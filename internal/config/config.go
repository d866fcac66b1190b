// Package config 加载服务器配置。
//
// 配置来源（优先级从高到低）：
//  1. 环境变量（SHLHTTP_*，例如 SHLHTTP_SERVER_PORT=8080）
//  2. 配置文件（YAML）
//  3. 默认值
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Senhnn/shlhttp"
	"github.com/spf13/viper"
)

// Config 完整配置
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	// Level DEBUG, INFO, WARN, ERROR，大小写不敏感
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR"`
	// Output stdout, stderr 或文件路径
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig 监听与reactor参数
type ServerConfig struct {
	Address         string        `mapstructure:"address" validate:"omitempty,ip4_addr"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	Backlog         int           `mapstructure:"backlog" validate:"gte=1"`
	MaxConnections  int           `mapstructure:"max_connections" validate:"gte=1"`
	Workers         int           `mapstructure:"workers" validate:"gte=1,lte=4096"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout" validate:"gt=0"`
	WheelSize       int           `mapstructure:"wheel_size" validate:"gte=2"`
	TickInterval    time.Duration `mapstructure:"tick_interval" validate:"gt=0"`
	IdleTicks       int           `mapstructure:"idle_ticks" validate:"gte=1"`
	ListenET        bool          `mapstructure:"listen_edge_triggered"`
	ConnET          bool          `mapstructure:"conn_edge_triggered"`
	ReuseAddr       bool          `mapstructure:"reuse_addr"`
	TCPNoDelay      bool          `mapstructure:"tcp_no_delay"`
	TCPKeepAlive    time.Duration `mapstructure:"tcp_keep_alive" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// HTTPConfig 静态文件服务配置
type HTTPConfig struct {
	Root  string `mapstructure:"root" validate:"required"`
	Index string `mapstructure:"index" validate:"required"`
	Gzip  bool   `mapstructure:"gzip"`
}

// MetricsConfig prometheus导出配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address" validate:"required_if=Enabled true"`
}

// Load 读取配置文件（path为空时只使用默认值和环境变量），补全默认值并校验
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SHLHTTP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// 所有键都需要默认值，AutomaticEnv只覆盖viper已知的键
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("server.address", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.backlog", shlhttp.DefaultBacklog)
	v.SetDefault("server.max_connections", shlhttp.DefaultMaxConnections)
	v.SetDefault("server.workers", shlhttp.DefaultNumWorkers)
	v.SetDefault("server.poll_timeout", shlhttp.DefaultPollTimeout)
	v.SetDefault("server.wheel_size", shlhttp.DefaultWheelSize)
	v.SetDefault("server.tick_interval", shlhttp.DefaultTickInterval)
	v.SetDefault("server.idle_ticks", shlhttp.DefaultIdleTicks)
	v.SetDefault("server.listen_edge_triggered", true)
	v.SetDefault("server.conn_edge_triggered", true)
	v.SetDefault("server.reuse_addr", true)
	v.SetDefault("server.tcp_no_delay", false)
	v.SetDefault("server.tcp_keep_alive", time.Duration(0))
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("http.root", "./resources")
	v.SetDefault("http.index", "index.html")
	v.SetDefault("http.gzip", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", "127.0.0.1:9090")
}

// ApplyDefaults 规范化取值，并为零值字段补默认值
func ApplyDefaults(cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(strings.TrimSpace(cfg.Logging.Level))
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}

	s := &cfg.Server
	if s.Backlog == 0 {
		s.Backlog = shlhttp.DefaultBacklog
	}
	if s.MaxConnections == 0 {
		s.MaxConnections = shlhttp.DefaultMaxConnections
	}
	if s.Workers == 0 {
		s.Workers = shlhttp.DefaultNumWorkers
	}
	if s.PollTimeout == 0 {
		s.PollTimeout = shlhttp.DefaultPollTimeout
	}
	if s.WheelSize == 0 {
		s.WheelSize = shlhttp.DefaultWheelSize
	}
	if s.TickInterval == 0 {
		s.TickInterval = shlhttp.DefaultTickInterval
	}
	if s.IdleTicks == 0 {
		s.IdleTicks = shlhttp.DefaultIdleTicks
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 10 * time.Second
	}

	if cfg.HTTP.Index == "" {
		cfg.HTTP.Index = "index.html"
	}
}

// ServerOptions 把配置转换为服务器选项
func (c *Config) ServerOptions() []shlhttp.OptionFunc {
	s := c.Server
	return []shlhttp.OptionFunc{
		shlhttp.WithAddress(s.Address),
		shlhttp.WithPort(s.Port),
		shlhttp.WithBacklog(s.Backlog),
		shlhttp.WithMaxConnections(s.MaxConnections),
		shlhttp.WithNumWorkers(s.Workers),
		shlhttp.WithPollTimeout(s.PollTimeout),
		shlhttp.WithWheelSize(s.WheelSize),
		shlhttp.WithTickInterval(s.TickInterval),
		shlhttp.WithIdleTicks(s.IdleTicks),
		shlhttp.WithEdgeTriggered(s.ListenET, s.ConnET),
		shlhttp.WithReuseAddr(s.ReuseAddr),
		shlhttp.WithTCPNoDelay(s.TCPNoDelay),
		shlhttp.WithTCPKeepAlive(s.TCPKeepAlive),
	}
}
