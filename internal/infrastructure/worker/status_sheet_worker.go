package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-reconciler/internal/application/port"
	"github.com/garyjia/expense-reconciler/internal/application/service"
	"github.com/garyjia/expense-reconciler/internal/domain/entity"
	"github.com/garyjia/expense-reconciler/internal/infrastructure/external/statusfeed"
)

// Inbox subdirectories a sheet is moved to once handled
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// StatusSheetWorkerConfig holds configuration for the status sheet worker
type StatusSheetWorkerConfig struct {
	// InboxDir is polled for *.xlsx exports of the upstream system
	InboxDir     string
	Sheet        string
	PollInterval time.Duration
	Actor        entity.Actor
}

// DefaultStatusSheetWorkerConfig returns default configuration
func DefaultStatusSheetWorkerConfig() StatusSheetWorkerConfig {
	return StatusSheetWorkerConfig{
		PollInterval: time.Minute,
		Actor:        entity.Actor{ID: "status-sheet-worker"},
	}
}

// StatusSheetWorker imports upstream status sheets dropped into an inbox
// directory. Each sheet is imported once, then moved to processed/ together
// with its JSON report, or to failed/ with the error.
type StatusSheetWorker struct {
	config   StatusSheetWorkerConfig
	importer service.StatusImporter
	logger   *zap.Logger

	// openFeed is replaced in tests
	openFeed func(path, sheet string) port.StatusFeed

	// Runtime state
	mu             sync.RWMutex
	wg             sync.WaitGroup
	cancel         context.CancelFunc
	isRunning      bool
	processedCount int
	failedCount    int
	lastError      error
}

// NewStatusSheetWorker creates a new status sheet worker
func NewStatusSheetWorker(config StatusSheetWorkerConfig, importer service.StatusImporter, logger *zap.Logger) *StatusSheetWorker {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultStatusSheetWorkerConfig().PollInterval
	}
	if config.Actor.ID == "" {
		config.Actor = DefaultStatusSheetWorkerConfig().Actor
	}

	return &StatusSheetWorker{
		config:   config,
		importer: importer,
		logger:   logger,
		openFeed: func(path, sheet string) port.StatusFeed {
			return statusfeed.NewXLSXFile(path, sheet, logger)
		},
	}
}

// Start creates the inbox directories and begins the polling loop
func (w *StatusSheetWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("status sheet worker already running")
	}
	if w.config.InboxDir == "" {
		return fmt.Errorf("status sheet worker: inbox directory is required")
	}

	for _, dir := range []string{w.config.InboxDir, w.dir(ProcessedDir), w.dir(FailedDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.isRunning = true

	w.logger.Info("StatusSheetWorker started",
		zap.String("inbox_dir", w.config.InboxDir),
		zap.Duration("poll_interval", w.config.PollInterval))

	w.wg.Add(1)
	go w.pollLoop(loopCtx)

	return nil
}

// Stop terminates the polling loop and waits for an import in progress
func (w *StatusSheetWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()

	w.mu.RLock()
	defer w.mu.RUnlock()
	w.logger.Info("StatusSheetWorker stopped",
		zap.Int("processed_count", w.processedCount),
		zap.Int("failed_count", w.failedCount))

	return nil
}

// Name returns the worker name for identification
func (w *StatusSheetWorker) Name() string {
	return "StatusSheetWorker"
}

// Stats returns the number of imported and failed sheets and the last error
func (w *StatusSheetWorker) Stats() (processed, failed int, lastErr error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.processedCount, w.failedCount, w.lastError
}

func (w *StatusSheetWorker) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.ProcessInbox(ctx); err != nil {
			w.mu.Lock()
			w.lastError = err
			w.mu.Unlock()
			w.logger.Error("Failed to process status inbox", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessInbox imports every sheet currently in the inbox, oldest name first
func (w *StatusSheetWorker) ProcessInbox(ctx context.Context) error {
	entries, err := os.ReadDir(w.config.InboxDir)
	if err != nil {
		return fmt.Errorf("read inbox: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), "~$") {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".xlsx") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return nil
		}
		w.processSheet(ctx, name)
	}
	return nil
}

func (w *StatusSheetWorker) processSheet(ctx context.Context, name string) {
	path := filepath.Join(w.config.InboxDir, name)

	report, err := w.importer.Import(ctx, w.openFeed(path, w.config.Sheet), w.config.Actor)
	if err != nil && ctx.Err() != nil {
		// Shutdown interrupted the import; the sheet stays for the next run
		return
	}

	if err != nil {
		w.logger.Error("Status sheet import failed", zap.String("file", name), zap.Error(err))
		w.mu.Lock()
		w.failedCount++
		w.lastError = err
		w.mu.Unlock()
		w.moveTo(FailedDir, name, map[string]string{"error": err.Error()})
		return
	}

	w.logger.Info("Status sheet imported",
		zap.String("file", name),
		zap.Int("total", report.Total),
		zap.Int("applied", report.Applied),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("failed_rows", len(report.Failed)))
	w.mu.Lock()
	w.processedCount++
	w.mu.Unlock()
	w.moveTo(ProcessedDir, name, report)
}

// moveTo moves the sheet into sub and writes the outcome next to it
func (w *StatusSheetWorker) moveTo(sub, name string, outcome interface{}) {
	target := filepath.Join(w.dir(sub), name)
	if err := os.Rename(filepath.Join(w.config.InboxDir, name), target); err != nil {
		w.logger.Error("Failed to move status sheet", zap.String("file", name), zap.String("target", target), zap.Error(err))
		return
	}

	raw, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		w.logger.Error("Failed to encode import outcome", zap.String("file", name), zap.Error(err))
		return
	}
	if err := os.WriteFile(target+".json", raw, 0o644); err != nil {
		w.logger.Error("Failed to write import outcome", zap.String("file", name), zap.Error(err))
	}
}

func (w *StatusSheetWorker) dir(sub string) string {
	return filepath.Join(w.config.InboxDir, sub)
}
