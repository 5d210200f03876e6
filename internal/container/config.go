// Package container provides dependency injection and lifecycle management
// for the expense reconciler.
package container

import (
	"fmt"
	"time"
)

// Lock backends
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Lock configuration
	Lock LockConfig

	// Workflow configuration
	Workflow WorkflowConfig

	// Status sheet inbox configuration
	Import ImportConfig

	// Server configuration
	Server ServerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// BusyTimeout is how long SQLite waits on a locked database
	BusyTimeout time.Duration
}

// LockConfig holds per-reimbursement lock settings.
type LockConfig struct {
	// Backend is memory for a single instance or redis for several
	Backend string

	// Wait bounds how long the memory backend waits for a key
	Wait time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	// TTL of a redis lock; a crashed holder frees the key after it
	TTL time.Duration

	// RefreshInterval is how often a held redis lock extends its TTL
	RefreshInterval time.Duration

	RetryInterval time.Duration
	RetryCount    int
}

// WorkflowConfig holds work order rules.
type WorkflowConfig struct {
	// CommunicationMinContent is the minimum communication content length
	CommunicationMinContent int
}

// ImportConfig holds status sheet inbox settings.
type ImportConfig struct {
	// InboxDir is polled for upstream XLSX exports; empty disables the worker
	InboxDir string

	// Sheet to read; empty means the first sheet
	Sheet string

	PollInterval time.Duration

	// Actor recorded on the status changes the worker makes
	Actor string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/reconciler.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Lock: LockConfig{
			Backend:         LockBackendMemory,
			Wait:            10 * time.Second,
			RedisAddr:       "localhost:6379",
			KeyPrefix:       "expense-reconciler:",
			TTL:             30 * time.Second,
			RefreshInterval: 10 * time.Second,
			RetryInterval:   100 * time.Millisecond,
			RetryCount:      50,
		},
		Workflow: WorkflowConfig{
			CommunicationMinContent: 10,
		},
		Import: ImportConfig{
			PollInterval: time.Minute,
			Actor:        "status-sheet-worker",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Lock.Backend {
	case LockBackendMemory:
	case LockBackendRedis:
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}

	return nil
}
