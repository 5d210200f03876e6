package container

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/expense-reconciler/internal/application/dispatcher"
	"github.com/garyjia/expense-reconciler/internal/application/port"
	"github.com/garyjia/expense-reconciler/internal/application/service"
	"github.com/garyjia/expense-reconciler/internal/domain/entity"
	"github.com/garyjia/expense-reconciler/internal/infrastructure/lock"
	"github.com/garyjia/expense-reconciler/internal/infrastructure/persistence/repository"
	"github.com/garyjia/expense-reconciler/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-reconciler/internal/infrastructure/worker"
	"github.com/garyjia/expense-reconciler/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Database       *database.DB
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
}

// LockBundle holds the configured locker and its teardown, if any.
type LockBundle struct {
	Locker port.Locker
	Close  func() error
}

// ProvideDatabase opens the SQLite database and applies the embedded
// migrations.
func ProvideDatabase(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		Database:       db,
		SqlDB:          db.DB,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repository implementations.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Reimbursement: repository.NewReimbursementRepository(sqlDB, logger),
		WorkOrder:     repository.NewWorkOrderRepository(sqlDB, logger),
		LineItem:      repository.NewLineItemRepository(sqlDB, logger),
		Selection:     repository.NewSelectionRepository(sqlDB, logger),
		Store:         repository.NewReconciliationStore(sqlDB, logger),
	}, nil
}

// ProvideLocker creates the locker selected by cfg.Backend.
func ProvideLocker(ctx context.Context, cfg *LockConfig, logger *zap.Logger) (*LockBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("lock config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	switch cfg.Backend {
	case LockBackendMemory, "":
		return &LockBundle{
			Locker: lock.NewMemoryLocker(cfg.Wait, logger),
			Close:  func() error { return nil },
		}, nil

	case LockBackendRedis:
		locker, err := lock.NewRedisLocker(ctx, lock.RedisConfig{
			Addr:            cfg.RedisAddr,
			Password:        cfg.RedisPassword,
			DB:              cfg.RedisDB,
			KeyPrefix:       cfg.KeyPrefix,
			TTL:             cfg.TTL,
			RefreshInterval: cfg.RefreshInterval,
			RetryInterval:   cfg.RetryInterval,
			RetryCount:      cfg.RetryCount,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &LockBundle{Locker: locker, Close: locker.Close}, nil

	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// ProvideDispatcher creates the event dispatcher.
// Returns dispatcher.Dispatcher implementation.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	// Create dispatcher logger adapter
	dispatcherLogger := &dispatcherLoggerAdapter{logger: logger}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(dispatcherLogger),
	), nil
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Locker     port.Locker
	Dispatcher dispatcher.Dispatcher
	Workflow   *WorkflowConfig
	Logger     *zap.Logger
}

// ProvideServices creates all application services and subscribes the
// event observers to the dispatcher.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Locker == nil {
		return nil, fmt.Errorf("locker is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	// Create logger adapter for services
	serviceLogger := &zapLoggerAdapter{logger: deps.Logger}

	var opts []service.WorkOrderOption
	if deps.Workflow != nil {
		opts = append(opts, service.WithCommunicationMinContent(deps.Workflow.CommunicationMinContent))
	}

	resolver := service.NewResolver(
		deps.Repos.Store,
		deps.Repos.Reimbursement,
		deps.TxManager,
		deps.Locker,
		deps.Dispatcher,
		serviceLogger,
	)
	reconciler := service.NewReconciler(
		deps.Repos.Store,
		deps.Repos.LineItem,
		deps.Repos.Reimbursement,
		resolver,
		deps.TxManager,
		deps.Locker,
		deps.Dispatcher,
		serviceLogger,
	)
	workOrders := service.NewWorkOrderService(
		deps.Repos.WorkOrder,
		deps.Repos.Selection,
		deps.Repos.LineItem,
		deps.Repos.Reimbursement,
		deps.Repos.Store,
		reconciler,
		resolver,
		deps.TxManager,
		deps.Locker,
		deps.Dispatcher,
		serviceLogger,
		opts...,
	)
	spawner := service.NewAuditSpawner(
		deps.Repos.WorkOrder,
		deps.Repos.Selection,
		workOrders,
		deps.TxManager,
		deps.Locker,
		deps.Dispatcher,
		serviceLogger,
	)
	spawner.Register(deps.Dispatcher)

	observer := service.NewNotificationObserver(deps.Repos.Reimbursement, serviceLogger)
	observer.Register(deps.Dispatcher)

	return &ServiceBundle{
		Resolver:      resolver,
		Reconciler:    reconciler,
		WorkOrder:     workOrders,
		AuditSpawner:  spawner,
		Reimbursement: service.NewReimbursementService(deps.Repos.Reimbursement, deps.Repos.LineItem, workOrders, deps.TxManager, deps.Locker, deps.Dispatcher, serviceLogger),
		StatusImport:  service.NewStatusImporter(deps.Repos.Reimbursement, resolver, serviceLogger),
	}, nil
}

// ProvideWorkers creates the worker manager and registers the status sheet
// worker when an inbox directory is configured.
func ProvideWorkers(cfg *ImportConfig, services *ServiceBundle, logger *zap.Logger) (*worker.WorkerManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("import config is required")
	}
	if services == nil {
		return nil, fmt.Errorf("services are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(logger)

	if cfg.InboxDir != "" {
		manager.Register(worker.NewStatusSheetWorker(worker.StatusSheetWorkerConfig{
			InboxDir:     cfg.InboxDir,
			Sheet:        cfg.Sheet,
			PollInterval: cfg.PollInterval,
			Actor:        entity.Actor{ID: cfg.Actor},
		}, services.StatusImport, logger))
	}

	return manager, nil
}
