package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/wfunc/word-duel/internal/errors"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Game      GameConfig      `mapstructure:"game"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Store     StoreConfig     `mapstructure:"store"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Log       LogConfig       `mapstructure:"log"`
	Security  SecurityConfig  `mapstructure:"security"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	System    SystemConfig    `mapstructure:"system"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
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
	Path              string        `mapstructure:"path"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	SendBufferSize    int           `mapstructure:"send_buffer_size"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	EnableCompression bool          `mapstructure:"enable_compression"`
}

// GameConfig 对局默认配置
type GameConfig struct {
	TurnTimeLimit       time.Duration       `mapstructure:"turn_time_limit"`
	LivesPerPlayer      int                 `mapstructure:"lives_per_player"`
	RoundsToWin         int                 `mapstructure:"rounds_to_win"`
	TeamCount           int                 `mapstructure:"team_count"`
	MaxTeamSize         int                 `mapstructure:"max_team_size"`
	SimilarityThreshold float64             `mapstructure:"similarity_threshold"`
	DefaultLanguage     string              `mapstructure:"default_language"`
	Words               map[string][]string `mapstructure:"words"`
}

// OracleConfig 相似度服务配置
type OracleConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
}

// StoreConfig 会话快照存储配置
type StoreConfig struct {
	Backend       string        `mapstructure:"backend"` // memory, database, cache
	SnapshotTTL   time.Duration `mapstructure:"snapshot_ttl"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

// RegistryConfig 会话注册表配置
type RegistryConfig struct {
	MaxSessions     int           `mapstructure:"max_sessions"`
	IdleGrace       time.Duration `mapstructure:"idle_grace"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
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

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWT JWTConfig `mapstructure:"jwt"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret         string `mapstructure:"secret"`
	Issuer         string `mapstructure:"issuer"`
	AllowQueryUser bool   `mapstructure:"allow_query_user"` // 开发模式下允许 ?user_id= 直接指定身份
}

// TelemetryConfig 链路追踪配置
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	Timezone string `mapstructure:"timezone"`
	MaxProcs int    `mapstructure:"max_procs"`
	EnvFile  string `mapstructure:"env_file"`
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
		v, cfg, err = load(configPath)
	})

	return err
}

// Load 读取配置但不写入全局实例，测试与工具命令使用
func Load(configPath string) (*Config, error) {
	_, c, err := load(configPath)
	return c, err
}

func load(configPath string) (*viper.Viper, *Config, error) {
	vp := viper.New()

	// 设置配置文件路径
	if configPath != "" {
		vp.SetConfigFile(configPath)
	} else {
		vp.SetConfigName("config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath("./config")
		vp.AddConfigPath(".")
	}

	// 设置环境变量前缀
	vp.SetEnvPrefix("WORD_DUEL")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	if err := vp.ReadInConfig(); err != nil {
		// 如果配置文件不存在，使用默认配置
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, errors.Wrap(err, errors.ErrConfigLoad, "读取配置文件失败")
		}
	}

	c := &Config{}
	if err := vp.Unmarshal(c); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrConfigParse, "解析配置失败")
	}

	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	return vp, c, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// 数据库默认配置
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/word-duel.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	// WebSocket默认配置
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.send_buffer_size", 256)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.enable_compression", false)

	// 对局默认配置
	v.SetDefault("game.turn_time_limit", "30s")
	v.SetDefault("game.lives_per_player", 3)
	v.SetDefault("game.rounds_to_win", 3)
	v.SetDefault("game.team_count", 2)
	v.SetDefault("game.max_team_size", 4)
	v.SetDefault("game.similarity_threshold", 0.8)
	v.SetDefault("game.default_language", "en")
	v.SetDefault("game.words", map[string][]string{
		"en": {"ocean", "mountain", "library", "thunder", "garden", "bridge", "candle", "forest"},
		"es": {"océano", "montaña", "biblioteca", "trueno", "jardín", "puente", "vela", "bosque"},
	})

	// 相似度服务默认配置
	v.SetDefault("oracle.enabled", false)
	v.SetDefault("oracle.url", "http://127.0.0.1:9090/similarity")
	v.SetDefault("oracle.timeout", "2s")
	v.SetDefault("oracle.retries", 1)

	// 快照存储默认配置
	v.SetDefault("store.backend", "cache")
	v.SetDefault("store.snapshot_ttl", "24h")
	v.SetDefault("store.write_timeout", "2s")
	v.SetDefault("store.purge_interval", "10m")

	// 注册表默认配置
	v.SetDefault("registry.max_sessions", 10000)
	v.SetDefault("registry.idle_grace", "5m")
	v.SetDefault("registry.cleanup_interval", "1m")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "word-duel.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)

	// 安全默认配置
	v.SetDefault("security.jwt.secret", "change-me")
	v.SetDefault("security.jwt.issuer", "word-duel")
	v.SetDefault("security.jwt.allow_query_user", true)

	// 链路追踪默认配置
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "word-duel")
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("system.timezone", "UTC")
	v.SetDefault("system.env_file", ".env")
}

// Validate 校验配置中不可能成立的取值
func (c *Config) Validate() error {
	g := c.Game
	if g.TurnTimeLimit <= 0 {
		return fmt.Errorf("配置验证失败: game.turn_time_limit 必须大于0")
	}
	if g.LivesPerPlayer < 1 {
		return fmt.Errorf("配置验证失败: game.lives_per_player 不能小于1")
	}
	if g.RoundsToWin < 1 {
		return fmt.Errorf("配置验证失败: game.rounds_to_win 不能小于1")
	}
	if g.TeamCount < 2 {
		return fmt.Errorf("配置验证失败: game.team_count 不能小于2")
	}
	if g.MaxTeamSize < 0 {
		return fmt.Errorf("配置验证失败: game.max_team_size 不能为负数")
	}
	if g.SimilarityThreshold <= 0 || g.SimilarityThreshold > 1 {
		return fmt.Errorf("配置验证失败: game.similarity_threshold 必须在 (0,1] 区间")
	}

	switch c.Store.Backend {
	case "memory", "database", "cache":
	default:
		return fmt.Errorf("配置验证失败: 未知的 store.backend %q", c.Store.Backend)
	}
	if c.Store.SnapshotTTL <= 0 {
		return fmt.Errorf("配置验证失败: store.snapshot_ttl 必须大于0")
	}

	if c.Oracle.Enabled && c.Oracle.URL == "" {
		return fmt.Errorf("配置验证失败: 启用相似度服务时 oracle.url 不能为空")
	}
	if c.Oracle.Retries < 0 {
		return fmt.Errorf("配置验证失败: oracle.retries 不能为负数")
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
		mu.Lock()
		defer mu.Unlock()

		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			fmt.Printf("配置重载被拒绝: %v\n", err)
			return
		}

		cfg = newCfg

		if callback != nil {
			callback(cfg)
		}

		fmt.Printf("配置已重新加载: %s\n", e.Name)
	})
}
