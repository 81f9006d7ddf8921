package instance

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pgembed/pgembed/internal/command"
	"github.com/pgembed/pgembed/internal/fsys"
	"github.com/pgembed/pgembed/internal/parallel"
)

const (
	attributeFixupParallelism = 32
	permissionsSentinel       = "permissions.sentinel"
)

// FixUps applies the platform parameters to an extracted instance
// tree. Called by the environment builder before controllers are
// bound.
type FixUps struct {
	executor command.Executor
	logger   *slog.Logger
}

func NewFixUps(executor command.Executor, logger *slog.Logger) *FixUps {
	if logger == nil {
		logger = slog.Default()
	}
	return &FixUps{executor: executor, logger: logger}
}

// Apply runs the configured fix-ups. requiredBinaries are the absolute
// paths of the binaries that must end up executable on POSIX systems.
func (f *FixUps) Apply(ctx context.Context, cfg Config, requiredBinaries []string) error {
	if cfg.Platform.NormalizeAttributes {
		if err := f.normalizeAttributes(ctx, cfg.Directory); err != nil {
			return err
		}
	}
	if cfg.Platform.SetExecutableAttributes {
		if err := setExecutableAttributes(requiredBinaries); err != nil {
			return err
		}
	}
	if cfg.Platform.AddLocalUserAccessPermission {
		if err := f.grantLocalUserAccess(ctx, cfg.Directory); err != nil {
			return err
		}
	}
	return nil
}

// normalizeAttributes resets every entry in the tree to plain
// attributes, fanning out across entries.
func (f *FixUps) normalizeAttributes(ctx context.Context, dir string) error {
	type entry struct {
		path  string
		isDir bool
	}
	var entries []entry
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		entries = append(entries, entry{path: path, isDir: d.IsDir()})
		return nil
	})
	if err != nil {
		return err
	}
	f.logger.Debug("normalizing attributes", "dir", dir, "entries", len(entries))
	return parallel.ForEach(ctx, entries, attributeFixupParallelism, func(ctx context.Context, e entry) error {
		return normalizeEntryAttributes(e.path, e.isDir)
	})
}

// grantLocalUserAccess grants the current user full control over the
// instance tree. The sentinel file gates the grant to one run per
// instance directory; on failure the sentinel is removed so a later
// build retries, and the error propagates.
func (f *FixUps) grantLocalUserAccess(ctx context.Context, dir string) error {
	sentinelPath := filepath.Join(dir, permissionsSentinel)
	created, err := fsys.TouchSentinel(sentinelPath)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	spec, err := localUserAccessSpec(dir)
	if err != nil {
		_ = fsys.DeleteFile(sentinelPath)
		return err
	}
	if spec == nil {
		return nil
	}
	f.logger.Info("granting local user access", "dir", dir)
	if _, err := f.executor.Execute(ctx, *spec); err != nil {
		_ = fsys.DeleteFile(sentinelPath)
		return err
	}
	return nil
}
