package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/pgembed/pgembed/internal/archive"
	"github.com/pgembed/pgembed/internal/cluster"
	"github.com/pgembed/pgembed/internal/command"
	"github.com/pgembed/pgembed/internal/controller"
	"github.com/pgembed/pgembed/internal/environment"
	"github.com/pgembed/pgembed/internal/errdefs"
	"github.com/pgembed/pgembed/internal/fsys"
)

const (
	startupPollInterval       = 100 * time.Millisecond
	defaultStartupWaitTimeout = 30 * time.Second
)

// StartOptions shapes a cluster start.
type StartOptions struct {
	// Wait polls a TCP connect against the cluster's host and port
	// until it succeeds or the timeout expires.
	Wait bool
	// WaitTimeout bounds the poll. Zero applies the default.
	WaitTimeout time.Duration
}

// Cluster is the per-cluster lifecycle engine. Operations on one
// cluster are totally ordered by the caller; the type adds no internal
// concurrency.
type Cluster struct {
	cfg    cluster.Config
	env    *environment.Environment
	logger *slog.Logger
}

func newCluster(cfg cluster.Config, env *environment.Environment, logger *slog.Logger) *Cluster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cluster{cfg: cfg.Normalized(), env: env, logger: logger}
}

func (c *Cluster) ID() string {
	return c.cfg.UniqueID
}

func (c *Cluster) Config() cluster.Config {
	return c.cfg
}

// DataFullPath resolves the cluster's data directory against the
// instance.
func (c *Cluster) DataFullPath() string {
	return c.cfg.DataFullPath(c.env.Instance.Directory)
}

// Status probes the cluster through pg_ctl.
func (c *Cluster) Status(ctx context.Context) (controller.RuntimeStatus, error) {
	return c.env.PgCtl.Status(ctx, c.cfg)
}

// IsInitialized reports whether the data directory has been prepared.
func (c *Cluster) IsInitialized() (bool, error) {
	return c.env.InitDB.IsInitialized(c.cfg)
}

// State derives the lifecycle state: running when the status probe is
// valid, stopped when initialized but not running, uninitialized
// otherwise.
func (c *Cluster) State(ctx context.Context) (State, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return StateUninitialized, err
	}
	if status.IsValid() {
		return StateRunning, nil
	}
	initialized, err := c.IsInitialized()
	if err != nil {
		return StateUninitialized, err
	}
	if initialized {
		return StateStopped, nil
	}
	return StateUninitialized, nil
}

// Initialize prepares the data directory through the given strategy.
// The cluster must not be running.
func (c *Cluster) Initialize(ctx context.Context, init Initializer) error {
	if init == nil {
		return errdefs.ValidationError{Code: "initializer_required", Message: "an initializer is required", Details: c.cfg.UniqueID}
	}
	status, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if status.IsValid() {
		return errdefs.ValidationError{Code: "cluster_running", Message: "cannot initialize a running cluster", Details: c.cfg.UniqueID}
	}
	return init.Run(ctx, c)
}

// Start brings the cluster up. A running cluster is a no-op. An
// uninitialized cluster is initialized first through the supplied
// strategy; without one the start fails.
func (c *Cluster) Start(ctx context.Context, opts StartOptions, init Initializer) error {
	status, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if status.IsValid() {
		c.logger.Debug("cluster already running", "cluster", c.cfg.UniqueID)
		return nil
	}
	initialized, err := c.IsInitialized()
	if err != nil {
		return err
	}
	if !initialized {
		if init == nil {
			return errdefs.ValidationError{Code: "cluster_uninitialized", Message: "cluster is not initialized and no initializer was supplied", Details: c.cfg.UniqueID}
		}
		if err := init.Run(ctx, c); err != nil {
			return err
		}
	}
	if err := c.env.PgCtl.Start(ctx, c.cfg); err != nil {
		return err
	}
	if opts.Wait {
		return c.waitForAccept(ctx, opts.WaitTimeout)
	}
	return nil
}

// waitForAccept polls a TCP connect until the postmaster accepts, the
// timeout expires, or the context is cancelled.
func (c *Cluster) waitForAccept(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultStartupWaitTimeout
	}
	address := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := net.DialTimeout("tcp", address, startupPollInterval)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("cluster %s did not accept connections on %s within %s", c.cfg.UniqueID, address, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startupPollInterval):
		}
	}
}

// Stop shuts the cluster down. A stopped cluster is a no-op.
func (c *Cluster) Stop(ctx context.Context, shutdown controller.Shutdown) error {
	status, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if !status.IsValid() {
		c.logger.Debug("cluster already stopped", "cluster", c.cfg.UniqueID)
		return nil
	}
	return c.env.PgCtl.Stop(ctx, c.cfg, shutdown)
}

// Restart bounces the cluster.
func (c *Cluster) Restart(ctx context.Context, shutdown controller.Shutdown) error {
	return c.env.PgCtl.Restart(ctx, c.cfg, shutdown)
}

// ReloadConfiguration signals the postmaster to re-read its
// configuration files.
func (c *Cluster) ReloadConfiguration(ctx context.Context) error {
	return c.env.PgCtl.Reload(ctx, c.cfg)
}

// Archive stops the cluster when running and compresses its data
// directory into archivePath, without including the directory itself
// as the archive root.
func (c *Cluster) Archive(ctx context.Context, archivePath string, shutdown controller.Shutdown) error {
	if err := c.Stop(ctx, shutdown); err != nil {
		return err
	}
	dataDir := c.DataFullPath()
	if err := fsys.RequireDirectory(dataDir); err != nil {
		return err
	}
	c.logger.Info("archiving cluster", "cluster", c.cfg.UniqueID, "archive", archivePath)
	return c.env.Compressor.Compress(ctx, dataDir, archivePath, archive.CompressOptions{IncludeRoot: false})
}

// Destroy stops the cluster when running and deletes its data
// directory.
func (c *Cluster) Destroy(ctx context.Context, shutdown controller.Shutdown) error {
	return c.env.PgCtl.Destroy(ctx, c.cfg, shutdown)
}

func (c *Cluster) requireRunning(ctx context.Context) error {
	status, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if !status.IsValid() {
		return errdefs.ValidationError{Code: "cluster_not_running", Message: "operation requires a running cluster", Details: c.cfg.UniqueID}
	}
	return nil
}

// ListDatabases requires a running cluster and the SQL capability.
func (c *Cluster) ListDatabases(ctx context.Context, onRow func(controller.Database)) error {
	if err := c.requireRunning(ctx); err != nil {
		return err
	}
	psql, err := c.env.RequireSQL()
	if err != nil {
		return err
	}
	return psql.ListDatabases(ctx, c.cfg, onRow)
}

// ExecuteSQL runs a statement against the running cluster.
func (c *Cluster) ExecuteSQL(ctx context.Context, sql string, opts controller.ExecOptions, onOutput command.LineFunc) error {
	if err := c.requireRunning(ctx); err != nil {
		return err
	}
	psql, err := c.env.RequireSQL()
	if err != nil {
		return err
	}
	return psql.ExecuteSQL(ctx, c.cfg, sql, opts, onOutput)
}

// ExecuteFile runs a script against the running cluster.
func (c *Cluster) ExecuteFile(ctx context.Context, path string, opts controller.ExecOptions, onOutput command.LineFunc) error {
	if err := c.requireRunning(ctx); err != nil {
		return err
	}
	psql, err := c.env.RequireSQL()
	if err != nil {
		return err
	}
	return psql.ExecuteFile(ctx, c.cfg, path, opts, onOutput)
}

// ExportDump writes a dump of the running cluster.
func (c *Cluster) ExportDump(ctx context.Context, opts controller.DumpOptions) error {
	if err := c.requireRunning(ctx); err != nil {
		return err
	}
	dump, err := c.env.RequireDump()
	if err != nil {
		return err
	}
	return dump.Export(ctx, c.cfg, opts)
}

// ImportDump restores a dump into the running cluster.
func (c *Cluster) ImportDump(ctx context.Context, opts controller.RestoreOptions) error {
	if err := c.requireRunning(ctx); err != nil {
		return err
	}
	restore, err := c.env.RequireRestore()
	if err != nil {
		return err
	}
	return restore.Import(ctx, c.cfg, opts)
}
