package controller

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pgembed/pgembed/internal/cluster"
	"github.com/pgembed/pgembed/internal/command"
	"github.com/pgembed/pgembed/internal/errdefs"
	"github.com/pgembed/pgembed/internal/fsys"
)

const postmasterPIDFile = "postmaster.pid"

// ShutdownMode selects how the postmaster winds down.
type ShutdownMode string

const (
	ShutdownSmart     ShutdownMode = "smart"
	ShutdownFast      ShutdownMode = "fast"
	ShutdownImmediate ShutdownMode = "immediate"
)

// Shutdown bundles the stop parameters.
type Shutdown struct {
	Mode ShutdownMode
	// NoWait returns without waiting for the shutdown to complete.
	NoWait bool
	// TimeoutSecs bounds the wait. Zero applies the default.
	TimeoutSecs int
}

const defaultShutdownTimeoutSecs = 180

func (s Shutdown) normalized() Shutdown {
	if s.Mode == "" {
		s.Mode = ShutdownFast
	}
	if s.TimeoutSecs <= 0 {
		s.TimeoutSecs = defaultShutdownTimeoutSecs
	}
	return s
}

// RuntimeStatus is the probe result parsed from postmaster.pid. The
// status is valid iff PID is non-zero; an invalid status with a
// non-zero StatusError distinguishes "stopped" from "probe failure".
type RuntimeStatus struct {
	PID           int
	DataDirectory string
	StartTime     int64
	Port          int
	Host          string
	StatusError   int
}

func (s RuntimeStatus) IsValid() bool {
	return s.PID != 0
}

type PgCtl struct {
	binding
}

func NewPgCtl(binary, instanceDir string, executor command.Executor, logger *slog.Logger) *PgCtl {
	return &PgCtl{binding: newBinding(binary, instanceDir, executor, logger)}
}

// Status probes the cluster with `pg_ctl status`. A non-zero exit is
// not an error; it is reported through StatusError.
func (c *PgCtl) Status(ctx context.Context, cfg cluster.Config) (RuntimeStatus, error) {
	cfg = cfg.Normalized()
	dataDir := c.dataFullPath(cfg)
	result, err := c.executor.Execute(ctx, command.Spec{
		Path: c.binary,
		Args: []string{"status", "-D", dataDir},
	})
	if err != nil {
		return RuntimeStatus{}, err
	}
	if result.ExitCode != 0 {
		return RuntimeStatus{StatusError: result.ExitCode}, nil
	}

	pidPath := filepath.Join(dataDir, postmasterPIDFile)
	kind, err := fsys.TypeOf(pidPath)
	if err != nil {
		return RuntimeStatus{}, err
	}
	if kind != fsys.IsFile {
		return RuntimeStatus{StatusError: result.ExitCode}, nil
	}
	content, err := os.ReadFile(pidPath)
	if err != nil {
		return RuntimeStatus{}, err
	}
	return parsePostmasterPID(string(content))
}

// parsePostmasterPID reads the first five lines of postmaster.pid:
// pid, data directory, start time, port, host. The file may carry more
// lines depending on the engine version; they are ignored.
func parsePostmasterPID(content string) (RuntimeStatus, error) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	if len(lines) < 5 {
		return RuntimeStatus{}, fmt.Errorf("postmaster.pid has %d lines, need 5", len(lines))
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return RuntimeStatus{}, fmt.Errorf("postmaster.pid pid line: %w", err)
	}
	startTime, err := strconv.ParseInt(strings.TrimSpace(lines[2]), 10, 64)
	if err != nil {
		return RuntimeStatus{}, fmt.Errorf("postmaster.pid start time line: %w", err)
	}
	port, err := strconv.Atoi(strings.TrimSpace(lines[3]))
	if err != nil {
		return RuntimeStatus{}, fmt.Errorf("postmaster.pid port line: %w", err)
	}
	return RuntimeStatus{
		PID:           pid,
		DataDirectory: strings.TrimSpace(lines[1]),
		StartTime:     startTime,
		Port:          port,
		Host:          strings.TrimSpace(lines[4]),
	}, nil
}

// postgresOptions renders the -o payload: turn off fsync-heavy startup
// cost with -F, bind the port, then the cluster parameters in
// declaration order.
func postgresOptions(cfg cluster.Config) string {
	var b strings.Builder
	b.WriteString("-F -p ")
	b.WriteString(strconv.Itoa(cfg.Port))
	for _, param := range cfg.Parameters {
		b.WriteString(" -c ")
		b.WriteString(param.Name)
		b.WriteString("=")
		b.WriteString(param.Value)
	}
	return b.String()
}

// Start launches the postmaster. Output is deliberately not captured:
// the server holds stdout open across its children and a capturing
// reader would never see EOF.
func (c *PgCtl) Start(ctx context.Context, cfg cluster.Config) error {
	cfg = cfg.Normalized()
	args := []string{
		"start",
		"-U", cfg.Superuser,
		"-D", c.dataFullPath(cfg),
		"-o", postgresOptions(cfg),
	}
	c.logger.Info("starting cluster", "cluster", cfg.UniqueID, "port", cfg.Port)
	_, err := c.executor.Execute(ctx, command.Spec{
		Path:           c.binary,
		Args:           args,
		ThrowOnNonZero: true,
	})
	return err
}

func (c *PgCtl) stopArgs(cfg cluster.Config, shutdown Shutdown) []string {
	args := []string{
		"stop",
		"-U", cfg.Superuser,
		"-D", c.dataFullPath(cfg),
		"-m", string(shutdown.Mode),
	}
	if shutdown.NoWait {
		args = append(args, "--no-wait")
	} else {
		args = append(args, "--wait")
	}
	return append(args, "-t", strconv.Itoa(shutdown.TimeoutSecs))
}

func (c *PgCtl) Stop(ctx context.Context, cfg cluster.Config, shutdown Shutdown) error {
	cfg = cfg.Normalized()
	shutdown = shutdown.normalized()
	c.logger.Info("stopping cluster", "cluster", cfg.UniqueID, "mode", shutdown.Mode)
	_, err := c.executor.Execute(ctx, command.Spec{
		Path:           c.binary,
		Args:           c.stopArgs(cfg, shutdown),
		ThrowOnNonZero: true,
		OnStdout: func(ctx context.Context, line string) {
			c.logger.Debug("pg_ctl stop", "line", line)
		},
	})
	return err
}

// Restart bounces the postmaster, reapplying the cluster's startup
// options. Like Start, output is not captured.
func (c *PgCtl) Restart(ctx context.Context, cfg cluster.Config, shutdown Shutdown) error {
	cfg = cfg.Normalized()
	shutdown = shutdown.normalized()
	args := []string{
		"restart",
		"-U", cfg.Superuser,
		"-D", c.dataFullPath(cfg),
		"-m", string(shutdown.Mode),
		"-t", strconv.Itoa(shutdown.TimeoutSecs),
		"-o", postgresOptions(cfg),
	}
	c.logger.Info("restarting cluster", "cluster", cfg.UniqueID)
	_, err := c.executor.Execute(ctx, command.Spec{
		Path:           c.binary,
		Args:           args,
		ThrowOnNonZero: true,
	})
	return err
}

// Reload signals the postmaster to re-read its configuration files.
func (c *PgCtl) Reload(ctx context.Context, cfg cluster.Config) error {
	cfg = cfg.Normalized()
	c.logger.Info("reloading cluster configuration", "cluster", cfg.UniqueID)
	_, err := c.executor.Execute(ctx, command.Spec{
		Path:           c.binary,
		Args:           []string{"reload", "-D", c.dataFullPath(cfg)},
		ThrowOnNonZero: true,
		OnStdout: func(ctx context.Context, line string) {
			c.logger.Debug("pg_ctl reload", "line", line)
		},
	})
	return err
}

// Destroy stops the cluster when running and removes its data
// directory.
func (c *PgCtl) Destroy(ctx context.Context, cfg cluster.Config, shutdown Shutdown) error {
	cfg = cfg.Normalized()
	status, err := c.Status(ctx, cfg)
	if err != nil {
		return err
	}
	if status.IsValid() {
		if err := c.Stop(ctx, cfg, shutdown); err != nil {
			return err
		}
	}
	dataDir := c.dataFullPath(cfg)
	kind, err := fsys.TypeOf(dataDir)
	if err != nil {
		return err
	}
	if kind == fsys.DoesNotExist {
		return nil
	}
	if kind == fsys.IsFile {
		return errdefs.ValidationError{Code: "data_directory_is_file", Message: "data directory path is a file", Details: dataDir}
	}
	c.logger.Info("deleting data directory", "cluster", cfg.UniqueID, "dir", dataDir)
	return fsys.DeleteDirectory(dataDir)
}
