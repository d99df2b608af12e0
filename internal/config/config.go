package config

import (
	"bytes"
	stdErrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "ImageGen-Console/internal/errors"
	"ImageGen-Console/pkg/logger"
)

const (
	// EnvConfigPath 指定配置文件路径的环境变量。
	EnvConfigPath = "IMAGEGEN_CONFIG"
	// DefaultPath 为未指定时使用的配置文件。
	DefaultPath = "configs/genconsole.yaml"

	defaultAccessTokenEnv = "IMAGEGEN_ACCESS_TOKEN"
)

// Config 描述了 genconsole 启动时需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Cache    CacheConfig    `yaml:"cache"`
	Storage  StorageConfig  `yaml:"storage"`
	Events   EventsConfig   `yaml:"events"`
	Poller   PollerConfig   `yaml:"poller"`
	Alerting AlertingConfig `yaml:"alerting"`
	Logging  logger.Config  `yaml:"logging"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与强制刷新限流。
type ServerConfig struct {
	Address string `yaml:"address"`
	// RefreshRate 为每秒允许的强制刷新次数。
	RefreshRate     float64  `yaml:"refresh_rate"`
	RefreshBurst    int      `yaml:"refresh_burst"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// BackendConfig 描述生图后端的访问方式。
type BackendConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
	// AccessToken 为空时从 AccessTokenEnv 指定的环境变量读取。
	AccessToken    string `yaml:"access_token"`
	AccessTokenEnv string `yaml:"access_token_env"`
	PageSize       int    `yaml:"page_size"`
}

// CacheConfig 对应历史缓存的新鲜度与容量参数。
type CacheConfig struct {
	Namespace            string   `yaml:"namespace"`
	Version              string   `yaml:"version"`
	MaxAge               Duration `yaml:"max_age"`
	StaleThreshold       Duration `yaml:"stale_threshold"`
	MaxSize              int      `yaml:"max_size"`
	IncrementalThreshold int      `yaml:"incremental_threshold"`
	BackgroundTimeout    Duration `yaml:"background_timeout"`
}

// StorageConfig 选择缓存的存储后端。
type StorageConfig struct {
	Driver string             `yaml:"driver"`
	Redis  RedisStorageConfig `yaml:"redis"`
	MySQL  MySQLConfig        `yaml:"mysql"`
	SQLite SQLiteConfig       `yaml:"sqlite"`
	Badger BadgerConfig       `yaml:"badger"`
}

// RedisStorageConfig 描述 Redis 连接。
type RedisStorageConfig struct {
	Address  string   `yaml:"address"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	TTL      Duration `yaml:"ttl"`
}

// MySQLConfig 描述 MySQL 连接池。
type MySQLConfig struct {
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime Duration `yaml:"conn_max_idle_time"`
}

// SQLiteConfig 描述本地 SQLite 文件。
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// BadgerConfig 描述本地 Badger 目录。
type BadgerConfig struct {
	Path           string   `yaml:"path"`
	InMemory       bool     `yaml:"in_memory"`
	SyncWrites     bool     `yaml:"sync_writes"`
	GCInterval     Duration `yaml:"gc_interval"`
	GCDiscardRatio float64  `yaml:"gc_discard_ratio"`
}

// EventsConfig 选择缓存事件总线。
type EventsConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisBusConfig `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisBusConfig 描述 Redis Pub/Sub 通道。
type RedisBusConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// RabbitMQConfig 描述 RabbitMQ 交换机。
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// PollerConfig 覆盖内置轮询配置，零值表示沿用内置值。
type PollerConfig struct {
	Task                 PollProfileConfig `yaml:"task"`
	Upscale              PollProfileConfig `yaml:"upscale"`
	Video                PollProfileConfig `yaml:"video"`
	ErrorInterval        Duration          `yaml:"error_interval"`
	MaxConsecutiveErrors int               `yaml:"max_consecutive_errors"`
	Concurrency          int               `yaml:"concurrency"`
}

// PollProfileConfig 为单个轮询类型的间隔与次数。
type PollProfileConfig struct {
	Interval    Duration `yaml:"interval"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// AlertingConfig 描述告警渠道。
type AlertingConfig struct {
	WebhookURL     string   `yaml:"webhook_url"`
	WebhookTimeout Duration `yaml:"webhook_timeout"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Duration 支持 "5m" 形式的字符串，也接受表示秒数的整数。
type Duration time.Duration

// D 返回 time.Duration。
func (d Duration) D() time.Duration { return time.Duration(d) }

// UnmarshalYAML 实现 yaml.Unmarshaler。
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	value := strings.TrimSpace(node.Value)
	if value == "" {
		*d = 0
		return nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("第 %d 行: 无法解析时长 %q", node.Line, value)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML 实现 yaml.Marshaler。
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// ResolvePath 返回配置文件路径：显式参数优先，其次环境变量，最后默认值。
func ResolvePath(flag string) string {
	if path := strings.TrimSpace(flag); path != "" {
		return path
	}
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 解析指定路径的 YAML 配置文件。文件不存在时返回全部默认值。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		if stdErrors.Is(err, os.ErrNotExist) {
			cfg := &Config{}
			cfg.applyDefaults(filepath.Dir(path))
			return cfg, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "打开配置文件失败")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取配置文件失败")
	}
	return Parse(content, filepath.Dir(path))
}

// Parse 解析 YAML 内容，相对路径以 baseDir 为基准。
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !stdErrors.Is(err, io.EOF) {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析配置失败")
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查驱动名称等枚举字段。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "redis", "mysql", "sqlite", "badger":
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的存储驱动: "+c.Storage.Driver)
	}
	switch c.Events.Driver {
	case "none", "memory", "redis", "rabbitmq":
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的事件驱动: "+c.Events.Driver)
	}
	if c.Storage.Driver == "mysql" && strings.TrimSpace(c.Storage.MySQL.DSN) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "mysql 存储需要配置 dsn")
	}
	if c.Events.Driver == "rabbitmq" && strings.TrimSpace(c.Events.RabbitMQ.URL) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "rabbitmq 事件总线需要配置 url")
	}
	return nil
}

// ResolveAccessToken 返回后端访问令牌，配置优先于环境变量。
func (b BackendConfig) ResolveAccessToken() string {
	if token := strings.TrimSpace(b.AccessToken); token != "" {
		return token
	}
	if b.AccessTokenEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(b.AccessTokenEnv))
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RefreshRate <= 0 {
		c.Server.RefreshRate = 0.2
	}
	if c.Server.RefreshBurst <= 0 {
		c.Server.RefreshBurst = 2
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = Duration(15 * time.Second)
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://localhost:9000"
	}
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = Duration(30 * time.Second)
	}
	if c.Backend.AccessTokenEnv == "" {
		c.Backend.AccessTokenEnv = defaultAccessTokenEnv
	}
	if c.Backend.PageSize <= 0 {
		c.Backend.PageSize = 20
	}

	if c.Cache.Namespace == "" {
		c.Cache.Namespace = "imagegen"
	}
	if c.Cache.Version == "" {
		c.Cache.Version = "1.0"
	}
	if c.Cache.MaxAge <= 0 {
		c.Cache.MaxAge = Duration(5 * time.Minute)
	}
	if c.Cache.StaleThreshold <= 0 {
		c.Cache.StaleThreshold = c.Cache.MaxAge + Duration(2*time.Minute)
	}
	if c.Cache.MaxSize <= 0 {
		c.Cache.MaxSize = 100
	}
	if c.Cache.IncrementalThreshold <= 0 {
		c.Cache.IncrementalThreshold = 10
	}
	if c.Cache.BackgroundTimeout <= 0 {
		c.Cache.BackgroundTimeout = Duration(30 * time.Second)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Redis.Address == "" {
		c.Storage.Redis.Address = "127.0.0.1:6379"
	}
	c.Storage.SQLite.Path = c.resolveData(c.Storage.SQLite.Path, "history.db")
	c.Storage.Badger.Path = c.resolveData(c.Storage.Badger.Path, "badger")
	if c.Storage.Badger.GCInterval <= 0 {
		c.Storage.Badger.GCInterval = Duration(10 * time.Minute)
	}
	if c.Storage.Badger.GCDiscardRatio <= 0 {
		c.Storage.Badger.GCDiscardRatio = 0.5
	}

	c.Events.Driver = strings.ToLower(strings.TrimSpace(c.Events.Driver))
	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
	if c.Events.Redis.Address == "" {
		c.Events.Redis.Address = c.Storage.Redis.Address
	}
	if c.Events.Redis.Channel == "" {
		c.Events.Redis.Channel = "genconsole:events"
	}
	if c.Events.RabbitMQ.Exchange == "" {
		c.Events.RabbitMQ.Exchange = "genconsole.events"
	}

	if c.Poller.ErrorInterval <= 0 {
		c.Poller.ErrorInterval = Duration(2 * time.Second)
	}
	if c.Poller.MaxConsecutiveErrors <= 0 {
		c.Poller.MaxConsecutiveErrors = 5
	}
	if c.Poller.Concurrency <= 0 {
		c.Poller.Concurrency = 4
	}

	if c.Alerting.WebhookTimeout <= 0 {
		c.Alerting.WebhookTimeout = Duration(5 * time.Second)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stderr"}
	}
	if c.Logging.Audit.Enabled {
		c.Logging.Audit.Path = c.resolveData(c.Logging.Audit.Path, "audit.log")
	}
}

func (c *Config) resolveData(path, fallback string) string {
	if path == "" {
		return filepath.Join(c.Runtime.DataDir, fallback)
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Runtime.DataDir, path)
}
