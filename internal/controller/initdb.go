package controller

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/pgembed/pgembed/internal/cluster"
	"github.com/pgembed/pgembed/internal/command"
	"github.com/pgembed/pgembed/internal/fsys"
)

// pgVersionFile marks an initialized data directory.
const pgVersionFile = "PG_VERSION"

type InitDB struct {
	binding
}

func NewInitDB(binary, instanceDir string, executor command.Executor, logger *slog.Logger) *InitDB {
	return &InitDB{binding: newBinding(binary, instanceDir, executor, logger)}
}

// IsInitialized reports whether the cluster's data directory carries a
// PG_VERSION file.
func (c *InitDB) IsInitialized(cfg cluster.Config) (bool, error) {
	kind, err := fsys.TypeOf(filepath.Join(c.dataFullPath(cfg), pgVersionFile))
	if err != nil {
		return false, err
	}
	return kind == fsys.IsFile, nil
}

// Initialize runs initdb for the cluster. Already-initialized clusters
// are a no-op.
func (c *InitDB) Initialize(ctx context.Context, cfg cluster.Config) error {
	cfg = cfg.Normalized()
	initialized, err := c.IsInitialized(cfg)
	if err != nil {
		return err
	}
	if initialized {
		c.logger.Debug("cluster already initialized", "cluster", cfg.UniqueID)
		return nil
	}

	args := []string{
		"-U", cfg.Superuser,
		"-D", c.dataFullPath(cfg),
		"-E", cfg.Encoding,
	}
	if cfg.Locale != "" {
		args = append(args, "--locale", cfg.Locale)
	}
	if cfg.AllowGroupAccess != nil && *cfg.AllowGroupAccess {
		args = append(args, "--allow-group-access")
	}

	c.logger.Info("initializing cluster", "cluster", cfg.UniqueID, "dir", c.dataFullPath(cfg))
	_, err = c.executor.Execute(ctx, command.Spec{
		Path:           c.binary,
		Args:           args,
		ThrowOnNonZero: true,
		OnStdout: func(ctx context.Context, line string) {
			c.logger.Debug("initdb", "line", line)
		},
		OnStderr: func(ctx context.Context, line string) {
			c.logger.Debug("initdb", "line", line)
		},
	})
	return err
}
