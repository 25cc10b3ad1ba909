package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Game      GameConfig      `mapstructure:"game"`
	Room      RoomConfig      `mapstructure:"room"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	PublicURL       string        `mapstructure:"public_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr 监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	SendQueueSize     int           `mapstructure:"send_queue_size"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	EnableCompression bool          `mapstructure:"enable_compression"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addrs     []string `mapstructure:"addrs"`
	Password  string   `mapstructure:"password"`
	DB        int      `mapstructure:"db"`
	KeyPrefix string   `mapstructure:"key_prefix"`
}

// BrokerConfig 广播层配置
type BrokerConfig struct {
	Driver        string `mapstructure:"driver"` // memory 或 redis
	BufferSize    int    `mapstructure:"buffer_size"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// GameConfig 单人游戏配置
type GameConfig struct {
	InitialHealth    int           `mapstructure:"initial_health"`
	OptionCount      int           `mapstructure:"option_count"`
	PrefetchNextTurn bool          `mapstructure:"prefetch_next_turn"`
	FeaturedAlbum    string        `mapstructure:"featured_album"`
	EraProbability   float64       `mapstructure:"era_probability"`
	EraMaxScore      int           `mapstructure:"era_max_score"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
}

// RoomConfig 房间配置
type RoomConfig struct {
	GraceWindow time.Duration `mapstructure:"grace_window"`
	IDLength    int           `mapstructure:"id_length"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Pprof   bool   `mapstructure:"pprof"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWT JWTConfig `mapstructure:"jwt"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret       string `mapstructure:"secret"`
	Issuer       string `mapstructure:"issuer"`
	ExpireHours  int    `mapstructure:"expire_hours"`
	RefreshHours int    `mapstructure:"refresh_hours"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		// TRUESWIFTIE_SERVER_PORT 之类的环境变量覆盖配置文件
		v.SetEnvPrefix("TRUESWIFTIE")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		SetDefaults(v)

		if err = v.ReadInConfig(); err != nil {
			// 配置文件不存在时使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		loaded := &Config{}
		if err = v.Unmarshal(loaded); err != nil {
			return
		}
		if err = loaded.Validate(); err != nil {
			return
		}
		cfg = loaded
	})

	return err
}

// Load 从指定viper实例读取配置，不修改全局状态（测试和子命令使用）
func Load(vp *viper.Viper) (*Config, error) {
	SetDefaults(vp)
	c := &Config{}
	if err := vp.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Default 返回全部默认值组成的配置
func Default() *Config {
	c, _ := Load(viper.New())
	return c
}

// SetDefaults 设置默认配置值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.public_url", "http://localhost:5173")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/trueswiftie.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.send_queue_size", 64)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.enable_compression", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addrs", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "trueswiftie")

	v.SetDefault("broker.driver", "memory")
	v.SetDefault("broker.buffer_size", 64)
	v.SetDefault("broker.channel_prefix", "trueswiftie:ws")

	v.SetDefault("game.initial_health", 1)
	v.SetDefault("game.option_count", 3)
	v.SetDefault("game.prefetch_next_turn", false)
	v.SetDefault("game.featured_album", "The Life of a Showgirl")
	v.SetDefault("game.era_probability", 0.4)
	v.SetDefault("game.era_max_score", 5)
	v.SetDefault("game.lock_timeout", "5s")

	v.SetDefault("room.grace_window", "10s")
	v.SetDefault("room.id_length", 8)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "trueswiftie.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.pprof", false)

	v.SetDefault("security.jwt.secret", "change-me")
	v.SetDefault("security.jwt.issuer", "trueswiftie")
	v.SetDefault("security.jwt.expire_hours", 24)
	v.SetDefault("security.jwt.refresh_hours", 168)
}

// Validate 校验配置取值范围
func (c *Config) Validate() error {
	switch {
	case c.Game.InitialHealth < 1:
		return fmt.Errorf("game.initial_health 必须大于0: %d", c.Game.InitialHealth)
	case c.Game.OptionCount < 1:
		return fmt.Errorf("game.option_count 必须大于0: %d", c.Game.OptionCount)
	case c.Game.EraProbability < 0 || c.Game.EraProbability > 1:
		return fmt.Errorf("game.era_probability 超出范围: %v", c.Game.EraProbability)
	case c.Room.IDLength < 4 || c.Room.IDLength > 32:
		return fmt.Errorf("room.id_length 超出范围: %d", c.Room.IDLength)
	case c.Broker.Driver != "memory" && c.Broker.Driver != "redis":
		return fmt.Errorf("不支持的广播驱动: %s", c.Broker.Driver)
	case c.Broker.Driver == "redis" && !c.Redis.Enabled:
		return fmt.Errorf("broker.driver=redis 需要启用 redis")
	}
	return nil
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			fmt.Printf("配置重载被拒绝: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}

		fmt.Printf("配置已重新加载: %s\n", e.Name)
	})
}

// Viper 返回底层viper实例，供命令行参数绑定
func Viper() *viper.Viper {
	return v
}
