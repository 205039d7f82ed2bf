package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/artpar/botctl/internal/core/domain"
	"github.com/artpar/botctl/internal/engine"
	"github.com/artpar/botctl/internal/shell/docker"
	"github.com/artpar/botctl/internal/shell/store"
	"github.com/artpar/botctl/internal/shell/workspace"
)

// lifecycle is the set of operations the commands drive.
type lifecycle interface {
	Install(ctx context.Context, req engine.InstallRequest) (*engine.InstallResult, error)
	Remove(ctx context.Context, name, confirm string) error
	List(ctx context.Context) ([]engine.InstanceSummary, error)
	Status(ctx context.Context, name string) (engine.InstanceSummary, error)
	Restart(ctx context.Context, name string) ([]docker.ServiceStatus, error)
	Logs(ctx context.Context, name string, tail int, sink func(line string)) error
	History(ctx context.Context, name string, limit int) ([]store.Entry, error)
	Root() string
}

var _ lifecycle = (*engine.Manager)(nil)

// openFunc opens the lifecycle backend. The returned close func releases it.
type openFunc func(ctx context.Context, cfg *Config, progress io.Writer, logger *slog.Logger) (lifecycle, func() error, error)

// openManager wires the workspace store, the Docker driver and the journal
// into an engine.Manager.
func openManager(ctx context.Context, cfg *Config, progress io.Writer, logger *slog.Logger) (lifecycle, func() error, error) {
	workspaces, err := workspace.NewStore(cfg.Workspace.Root)
	if err != nil {
		return nil, nil, &ConfigError{Key: "workspace.root", Err: err}
	}

	dockerClient, err := docker.NewDockerClient(ctx, cfg.Docker.Host)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to docker: %w", err)
	}

	driver := docker.NewDriver(dockerClient, workspaces, docker.DriverOptions{
		Prefix:      cfg.Instance.Prefix,
		Progress:    progress,
		StopTimeout: cfg.Docker.StopTimeout,
		Logger:      logger,
	})
	if err := driver.Ping(ctx); err != nil {
		if errors.Is(err, domain.ErrPermission) {
			dockerClient.Close()
			return nil, nil, err
		}
		// Later runtime calls report their own failures; list still works.
		logger.Warn("docker daemon is not reachable", "error", err)
	}

	closers := []func() error{dockerClient.Close}

	var journal engine.Journal
	if cfg.Journal.Enabled {
		if js, err := openJournal(cfg); err != nil {
			logger.Warn("operation journal disabled", "dsn", cfg.JournalDSN(), "error", err)
		} else {
			journal = js
			closers = append(closers, js.Close)
		}
	}

	manager := engine.NewManager(cfg.ManagerConfig(), driver, workspaces, journal, logger)
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	return manager, closeAll, nil
}

func openJournal(cfg *Config) (*store.SQLiteStore, error) {
	if cfg.Journal.DSN == "" {
		if err := os.MkdirAll(cfg.Workspace.Root, 0o755); err != nil {
			return nil, err
		}
	}
	return store.NewSQLiteStore(cfg.JournalDSN())
}
