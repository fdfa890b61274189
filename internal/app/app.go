package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"csync-go/internal/config"
	"csync-go/internal/containerdb"
	"csync-go/internal/csync"
	"csync-go/internal/scan"
	"csync-go/internal/store"
)

// App is the application layer between the CLI and the sync service. It
// constructs all collaborators from config, applies the per-operation
// timeout, journals mutating operations, and manages resource lifecycles
// on Close. It is the explicit session object: no process-wide singletons.
type App struct {
	cfg        *config.Config
	containers *containerdb.SQLiteStore
	content    csync.ContentStore
	service    *csync.Service
	op         *SyncOperation
	logFile    *os.File
	logger     csync.Logger
}

// New creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Sync", "Put").
// The caller must call Close when done.
func New(cfg *config.Config, operation string, verbose bool) (*App, error) {
	ctx := context.Background()

	content, err := store.NewContentStoreFromConfig(ctx, cfg.Content)
	if err != nil {
		return nil, fmt.Errorf("creating content store: %w", err)
	}

	containers, err := containerdb.NewStoreFromConfig(cfg.Containers, csync.RealClock{}, csync.UUIDGenerator{})
	if err != nil {
		return nil, fmt.Errorf("creating container store: %w", err)
	}

	if err := containers.Migrate(); err != nil {
		containers.Close()
		return nil, fmt.Errorf("migrating container database: %w", err)
	}
	if err := containers.CheckMigrations(); err != nil {
		containers.Close()
		return nil, fmt.Errorf("container database schema out of date: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID, verbose)
	if err != nil {
		containers.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	retryPolicy := csync.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
	}
	if retryPolicy.MaxAttempts == 0 {
		retryPolicy = csync.DefaultRetryPolicy()
	}

	applier := csync.NewApplier(content, retryPolicy,
		cfg.Upload.MaxSize, cfg.Upload.Concurrency, logger, csync.RealClock{})
	service := csync.NewService(containers, content, scan.NewTreeScanner(),
		applier, retryPolicy, logger, csync.RealClock{})

	return &App{
		cfg:        cfg,
		containers: containers,
		content:    content,
		service:    service,
		op:         NewSyncOperation(operation, ""),
		logFile:    logFile,
		logger:     logger,
	}, nil
}

// opContext returns the context for one store-facing operation, bounded by
// the configured query timeout.
func (a *App) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.cfg.QueryTimeout())
}

// journalOperation records the operation in the container database, giving
// it an auto-increment ID. Only called for mutating commands.
func (a *App) journalOperation(ctx context.Context, parameters string) {
	if a.op.Persisted() {
		return
	}
	a.op.Parameters = parameters
	id, err := a.containers.RecordOperation(ctx, a.op.Operation, parameters)
	if err != nil {
		// The journal is advisory; a failed record must not block the sync.
		a.logger.Warn("journaling operation failed", "error", err)
		return
	}
	a.op.ID = id
}

// finish records the terminal pipeline state on the operation record.
func (a *App) finish(res *csync.Result, err error) {
	switch {
	case res != nil:
		a.op.State = res.State
	case err != nil:
		a.op.State = csync.StateFailed
	default:
		a.op.State = csync.StateCommitted
	}
}

// Put uploads a local file or tree into a new container.
func (a *App) Put(localPath, dest string, opts csync.PutOptions) (*csync.Result, error) {
	ctx, cancel := a.opContext()
	defer cancel()

	if !opts.DryRun {
		a.journalOperation(ctx, localPath)
	}
	res, err := a.service.Put(ctx, localPath, dest, opts)
	a.finish(res, err)
	return res, err
}

// Sync reconciles a local tree against an existing container.
func (a *App) Sync(localPath, rawURL string, opts csync.SyncOptions) (*csync.Result, error) {
	ctx, cancel := a.opContext()
	defer cancel()

	if !opts.DryRun {
		a.journalOperation(ctx, localPath+" "+rawURL)
	}
	res, err := a.service.Sync(ctx, localPath, rawURL, opts)
	a.finish(res, err)
	return res, err
}

// Add places a single file or content link into a container.
func (a *App) Add(source, rawURL string, force bool) (*csync.Result, error) {
	ctx, cancel := a.opContext()
	defer cancel()

	a.journalOperation(ctx, source+" "+rawURL)
	res, err := a.service.Add(ctx, source, rawURL, force)
	a.finish(res, err)
	return res, err
}

// Remove deletes an entry or subtree from a container.
func (a *App) Remove(rawURL string, recursive bool) (*csync.Result, error) {
	ctx, cancel := a.opContext()
	defer cancel()

	a.journalOperation(ctx, rawURL)
	res, err := a.service.Remove(ctx, rawURL, recursive)
	a.finish(res, err)
	return res, err
}

// Fetch resolves a container URL read-only for ls/tree rendering.
func (a *App) Fetch(rawURL string) (*csync.Version, csync.ContainerMap, error) {
	ctx, cancel := a.opContext()
	defer cancel()
	return a.service.Fetch(ctx, rawURL)
}

// SyncOnce runs one watch-triggered sync with a fresh journal entry.
func (a *App) SyncOnce(localPath, rawURL string, opts csync.SyncOptions) (*csync.Result, error) {
	a.op = NewSyncOperation("Sync", localPath+" "+rawURL)
	return a.Sync(localPath, rawURL, opts)
}

// Logger exposes the app's structured logger so collaborators wired up
// outside New, like the filesystem watcher, share the same log file.
func (a *App) Logger() csync.Logger {
	return a.logger
}

// History returns the most recent journaled operations.
func (a *App) History(limit int) ([]containerdb.Operation, error) {
	ctx, cancel := a.opContext()
	defer cancel()
	return a.containers.RecentOperations(ctx, limit)
}

// Close finalizes the operation journal entry and closes all resources.
func (a *App) Close() error {
	var firstErr error

	if a.op.Persisted() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.containers.FinishOperation(ctx, a.op.ID, a.op.State); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
		cancel()
	}

	if err := a.containers.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing container store: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// ExitCode maps an error to the CLI's process exit code so scripting
// consumers can distinguish failure modes.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var scanErr *csync.ScanError
	var conflict *csync.ConflictError
	switch {
	case errors.As(err, &scanErr):
		return 2
	case errors.Is(err, csync.ErrContainerNotFound),
		errors.Is(err, csync.ErrVersionNotFound),
		errors.Is(err, csync.ErrPathNotFound),
		errors.Is(err, csync.ErrContentNotFound):
		return 3
	case errors.As(err, &conflict):
		return 4
	case errors.Is(err, csync.ErrPayloadTooLarge):
		return 5
	case csync.IsTransient(err):
		return 6 // retries exhausted
	default:
		return 1
	}
}
