package controller

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/pgembed/pgembed/internal/cluster"
	"github.com/pgembed/pgembed/internal/command"
	"github.com/pgembed/pgembed/internal/errdefs"
	"github.com/pgembed/pgembed/internal/fsys"
)

// RestoreOptions is the typed options record for pg_restore.
type RestoreOptions struct {
	// File is the dump to restore from.
	File string
	// Database to restore into.
	Database string

	DataOnly          bool
	SchemaOnly        bool
	Clean             bool
	Create            bool
	NoOwner           bool
	NoPrivileges      bool
	Verbose           bool
	ExitOnError       bool
	SingleTransaction bool
	Jobs              int

	TablesToRestore []string

	// Password, when set, is passed to the child process only, via
	// PGPASSWORD.
	Password string
}

func (o RestoreOptions) validate() error {
	if o.DataOnly && o.SchemaOnly {
		return errdefs.ValidationError{Code: "restore_options_conflict", Message: "--data-only and --schema-only are mutually exclusive"}
	}
	if o.File == "" {
		return errdefs.ValidationError{Code: "restore_file_required", Message: "restore source file is required"}
	}
	return nil
}

type Restore struct {
	binding
}

func NewRestore(binary, instanceDir string, executor command.Executor, logger *slog.Logger) *Restore {
	return &Restore{binding: newBinding(binary, instanceDir, executor, logger)}
}

func restoreArgs(cfg cluster.Config, opts RestoreOptions) []string {
	args := connectionArgs(cfg)
	if opts.Database != "" {
		args = append(args, "--dbname", opts.Database)
	}
	if opts.DataOnly {
		args = append(args, "--data-only")
	}
	if opts.SchemaOnly {
		args = append(args, "--schema-only")
	}
	if opts.Clean {
		args = append(args, "--clean")
	}
	if opts.Create {
		args = append(args, "--create")
	}
	if opts.NoOwner {
		args = append(args, "--no-owner")
	}
	if opts.NoPrivileges {
		args = append(args, "--no-privileges")
	}
	if opts.Verbose {
		args = append(args, "--verbose")
	}
	if opts.ExitOnError {
		args = append(args, "--exit-on-error")
	}
	if opts.SingleTransaction {
		args = append(args, "--single-transaction")
	}
	if opts.Jobs > 0 {
		args = append(args, "--jobs", strconv.Itoa(opts.Jobs))
	}
	for _, table := range opts.TablesToRestore {
		args = append(args, "--table", table)
	}
	return append(args, opts.File)
}

// Import runs pg_restore against the cluster. stderr is routed to the
// logger.
func (c *Restore) Import(ctx context.Context, cfg cluster.Config, opts RestoreOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if err := fsys.RequireFile(opts.File); err != nil {
		return err
	}
	cfg = cfg.Normalized()

	spec := command.Spec{
		Path:           c.binary,
		Args:           restoreArgs(cfg, opts),
		ThrowOnNonZero: true,
		OnStderr: func(ctx context.Context, line string) {
			c.logger.Info("pg_restore", "line", line)
		},
	}
	if opts.Password != "" {
		spec.Env = append(os.Environ(), "PGPASSWORD="+opts.Password)
	}
	c.logger.Info("importing dump", "cluster", cfg.UniqueID, "file", opts.File)
	_, err := c.executor.Execute(ctx, spec)
	return err
}
