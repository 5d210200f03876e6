// Command import-status ingests an upstream XLSX status export into the
// reconciler database and prints the import report as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/garyjia/expense-reconciler/internal/config"
	"github.com/garyjia/expense-reconciler/internal/container"
	"github.com/garyjia/expense-reconciler/internal/domain/entity"
	"github.com/garyjia/expense-reconciler/internal/infrastructure/external/statusfeed"
	"github.com/garyjia/expense-reconciler/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	file := flag.String("file", "", "XLSX status export to import")
	sheet := flag.String("sheet", "", "sheet name (default: first sheet)")
	actorID := flag.String("actor", "status-import", "actor recorded on the status changes")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: import-status -file export.xlsx [-sheet name] [-config path] [-actor id]")
		os.Exit(2)
	}

	if err := run(*configPath, *file, *sheet, *actorID); err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, file, sheet, actorID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// Logs go to stderr so stdout carries only the report
	logger, err := utils.NewLogger(cfg.ToLoggerConfig("import-status", "stderr"))
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container close failed", zap.Error(err))
		}
	}()

	feed := statusfeed.NewXLSXFile(file, sheet, logger)
	report, err := c.Services().StatusImport.Import(ctx, feed, entity.Actor{ID: actorID})
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			logger.Error("Failed to write report", zap.Error(encErr))
		}
	}
	return err
}
