package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/expense-reconciler/pkg/utils"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Lock     LockConfig     `mapstructure:"lock"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Import   ImportConfig   `mapstructure:"import"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// Lock backends
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// LockConfig selects and tunes the per-reimbursement lock
type LockConfig struct {
	Backend         string        `mapstructure:"backend"`
	Wait            time.Duration `mapstructure:"wait"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	TTL             time.Duration `mapstructure:"ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	RetryCount      int           `mapstructure:"retry_count"`
}

// WorkflowConfig holds work order rules
type WorkflowConfig struct {
	CommunicationMinContent int `mapstructure:"communication_min_content"`
}

// ImportConfig holds the status sheet inbox settings. The inbox worker is
// disabled while InboxDir is empty.
type ImportConfig struct {
	InboxDir     string        `mapstructure:"inbox_dir"`
	Sheet        string        `mapstructure:"sheet"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Actor        string        `mapstructure:"actor"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
	Service    string `mapstructure:"service"`

	// Instance tells replicas apart; empty means the host name
	Instance string `mapstructure:"instance"`
}

// Load reads .env when present, then the YAML file at configPath (optional
// when empty), then environment variables such as SERVER_PORT or
// LOCK_BACKEND.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/reconciler.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Lock defaults
	v.SetDefault("lock.backend", LockBackendMemory)
	v.SetDefault("lock.wait", 10*time.Second)
	v.SetDefault("lock.redis_addr", "localhost:6379")
	v.SetDefault("lock.key_prefix", "expense-reconciler:")
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("lock.retry_interval", 100*time.Millisecond)
	v.SetDefault("lock.retry_count", 50)
	v.SetDefault("lock.refresh_interval", 10*time.Second)

	// Workflow defaults
	v.SetDefault("workflow.communication_min_content", 10)

	// Import defaults
	v.SetDefault("import.inbox_dir", "")
	v.SetDefault("import.poll_interval", time.Minute)
	v.SetDefault("import.actor", "status-sheet-worker")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.service", "expense-reconciler")
	v.SetDefault("logger.instance", "")
}

func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("lock.redis_addr", "REDIS_ADDR")
	_ = v.BindEnv("lock.redis_password", "REDIS_PASSWORD")
	_ = v.BindEnv("database.path", "DATABASE_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Lock.Backend {
	case LockBackendMemory:
	case LockBackendRedis:
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis_addr is required for the redis backend")
		}
		if c.Lock.TTL <= 0 {
			return fmt.Errorf("lock.ttl must be positive")
		}
	default:
		return fmt.Errorf("lock.backend must be %q or %q, got %q", LockBackendMemory, LockBackendRedis, c.Lock.Backend)
	}

	if c.Workflow.CommunicationMinContent < 0 {
		return fmt.Errorf("workflow.communication_min_content must not be negative")
	}

	if c.Import.InboxDir != "" && c.Import.PollInterval <= 0 {
		return fmt.Errorf("import.poll_interval must be positive")
	}

	switch c.Logger.Format {
	case "", utils.FormatJSON, utils.FormatConsole:
	default:
		return fmt.Errorf("logger.format must be %q or %q, got %q", utils.FormatJSON, utils.FormatConsole, c.Logger.Format)
	}

	return nil
}
