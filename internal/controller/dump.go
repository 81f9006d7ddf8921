package controller

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/pgembed/pgembed/internal/cluster"
	"github.com/pgembed/pgembed/internal/command"
	"github.com/pgembed/pgembed/internal/errdefs"
)

// DumpFormat maps to pg_dump --format.
type DumpFormat string

const (
	DumpCustom    DumpFormat = "c"
	DumpDirectory DumpFormat = "d"
	DumpTar       DumpFormat = "t"
	DumpPlain     DumpFormat = "p"
)

// DumpOptions is the typed options record for pg_dump. One flag per
// set field; list fields repeat their flag once per element. The
// rendered argument order is fixed and reproducible.
type DumpOptions struct {
	// File receives the dump output.
	File string
	// Database to dump; empty dumps the maintenance default.
	Database string
	Format   DumpFormat

	DataOnly     bool
	SchemaOnly   bool
	Clean        bool
	Create       bool
	NoOwner      bool
	NoPrivileges bool
	Verbose      bool
	// Jobs enables parallel dumping for the directory format.
	Jobs int

	SchemasToDump    []string
	SchemasToExclude []string
	TablesToDump     []string
	TablesToExclude  []string

	// Password, when set, is passed to the child process only, via
	// PGPASSWORD.
	Password string
}

func (o DumpOptions) validate() error {
	if o.DataOnly && o.SchemaOnly {
		return errdefs.ValidationError{Code: "dump_options_conflict", Message: "--data-only and --schema-only are mutually exclusive"}
	}
	return nil
}

type Dump struct {
	binding
}

func NewDump(binary, instanceDir string, executor command.Executor, logger *slog.Logger) *Dump {
	return &Dump{binding: newBinding(binary, instanceDir, executor, logger)}
}

func dumpArgs(cfg cluster.Config, opts DumpOptions) []string {
	args := connectionArgs(cfg)
	if opts.File != "" {
		args = append(args, "--file", opts.File)
	}
	if opts.Format != "" {
		args = append(args, "--format", string(opts.Format))
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
	if opts.Jobs > 0 {
		args = append(args, "--jobs", strconv.Itoa(opts.Jobs))
	}
	for _, schema := range opts.SchemasToDump {
		args = append(args, "--schema", schema)
	}
	for _, schema := range opts.SchemasToExclude {
		args = append(args, "--exclude-schema", schema)
	}
	for _, table := range opts.TablesToDump {
		args = append(args, "--table", table)
	}
	for _, table := range opts.TablesToExclude {
		args = append(args, "--exclude-table", table)
	}
	if opts.Database != "" {
		args = append(args, opts.Database)
	}
	return args
}

// Export runs pg_dump against the cluster. stderr is routed to the
// logger so progress and warnings surface in the orchestration log.
func (c *Dump) Export(ctx context.Context, cfg cluster.Config, opts DumpOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	cfg = cfg.Normalized()

	spec := command.Spec{
		Path:           c.binary,
		Args:           dumpArgs(cfg, opts),
		ThrowOnNonZero: true,
		OnStderr: func(ctx context.Context, line string) {
			c.logger.Info("pg_dump", "line", line)
		},
	}
	if opts.Password != "" {
		spec.Env = append(os.Environ(), "PGPASSWORD="+opts.Password)
	}
	c.logger.Info("exporting dump", "cluster", cfg.UniqueID, "file", opts.File)
	_, err := c.executor.Execute(ctx, spec)
	return err
}
