package config

import (
	"os"

	"github.com/garyjia/expense-reconciler/internal/container"
	"github.com/garyjia/expense-reconciler/pkg/utils"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Lock: container.LockConfig{
			Backend:         c.Lock.Backend,
			Wait:            c.Lock.Wait,
			RedisAddr:       c.Lock.RedisAddr,
			RedisPassword:   c.Lock.RedisPassword,
			RedisDB:         c.Lock.RedisDB,
			KeyPrefix:       c.Lock.KeyPrefix,
			TTL:             c.Lock.TTL,
			RefreshInterval: c.Lock.RefreshInterval,
			RetryInterval:   c.Lock.RetryInterval,
			RetryCount:      c.Lock.RetryCount,
		},
		Workflow: container.WorkflowConfig{
			CommunicationMinContent: c.Workflow.CommunicationMinContent,
		},
		Import: container.ImportConfig{
			InboxDir:     c.Import.InboxDir,
			Sheet:        c.Import.Sheet,
			PollInterval: c.Import.PollInterval,
			Actor:        c.Import.Actor,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
	}
}

// ToLoggerConfig builds the logger settings for one process of the service.
// component names the binary; outputPath overrides logger.output_path when set.
func (c *Config) ToLoggerConfig(component, outputPath string) utils.LoggerConfig {
	if outputPath == "" {
		outputPath = c.Logger.OutputPath
	}

	instance := c.Logger.Instance
	if instance == "" {
		if host, err := os.Hostname(); err == nil {
			instance = host
		}
	}

	fields := map[string]string{
		"component":    component,
		"lock_backend": c.Lock.Backend,
	}
	if instance != "" {
		fields["instance"] = instance
	}

	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		Format:     c.Logger.Format,
		OutputPath: outputPath,
		Service:    c.Logger.Service,
		Fields:     fields,
	}
}
