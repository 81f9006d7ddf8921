package controller

import (
	"context"
	"encoding/csv"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pgembed/pgembed/internal/cluster"
	"github.com/pgembed/pgembed/internal/command"
	"github.com/pgembed/pgembed/internal/errdefs"
	"github.com/pgembed/pgembed/internal/fsys"
)

// Database is one row of `psql --list --csv`.
type Database struct {
	Name             string
	Owner            string
	Encoding         string
	LocaleProvider   string
	Collate          string
	Ctype            string
	Locale           string
	ICURules         string
	AccessPrivileges string
}

const databaseListColumns = 9

// OutputMode selects how psql renders result sets.
type OutputMode string

const (
	OutputAligned   OutputMode = "aligned"
	OutputUnaligned OutputMode = "unaligned"
	OutputCSV       OutputMode = "csv"
)

// ExecOptions shapes one psql invocation beyond the statement itself.
type ExecOptions struct {
	// Database defaults to the maintenance database chosen by psql.
	Database string
	// User overrides the cluster superuser for this call.
	User string
	Mode OutputMode
	// FieldSeparator and RecordSeparator only apply to unaligned
	// output.
	FieldSeparator  string
	RecordSeparator string
	TuplesOnly      bool
	// OutputFile redirects results to a file; the stdout listener is
	// not registered in that case.
	OutputFile string
}

type Psql struct {
	binding
}

func NewPsql(binary, instanceDir string, executor command.Executor, logger *slog.Logger) *Psql {
	return &Psql{binding: newBinding(binary, instanceDir, executor, logger)}
}

// ListDatabases invokes the row callback once per database visible on
// the cluster.
func (c *Psql) ListDatabases(ctx context.Context, cfg cluster.Config, onRow func(Database)) error {
	cfg = cfg.Normalized()
	args := append(connectionArgs(cfg), "--list", "--csv", "--tuples-only")
	_, err := c.executor.Execute(ctx, command.Spec{
		Path:           c.binary,
		Args:           args,
		ThrowOnNonZero: true,
		OnStdout: func(ctx context.Context, line string) {
			record, ok := parseDatabaseRow(line)
			if ok && onRow != nil {
				onRow(record)
			}
		},
		OnStderr: func(ctx context.Context, line string) {
			c.logger.Debug("psql", "line", line)
		},
	})
	return err
}

func parseDatabaseRow(line string) (Database, bool) {
	if strings.TrimSpace(line) == "" {
		return Database{}, false
	}
	reader := csv.NewReader(strings.NewReader(line))
	record, err := reader.Read()
	if err != nil || len(record) != databaseListColumns {
		return Database{}, false
	}
	return Database{
		Name:             record[0],
		Owner:            record[1],
		Encoding:         record[2],
		LocaleProvider:   record[3],
		Collate:          record[4],
		Ctype:            record[5],
		Locale:           record[6],
		ICURules:         record[7],
		AccessPrivileges: record[8],
	}, true
}

// ExecuteSQL runs a statement with -c.
func (c *Psql) ExecuteSQL(ctx context.Context, cfg cluster.Config, sql string, opts ExecOptions, onOutput command.LineFunc) error {
	if strings.TrimSpace(sql) == "" {
		return errdefs.ValidationError{Code: "sql_required", Message: "sql statement is required"}
	}
	return c.execute(ctx, cfg, opts, onOutput, "-c", sql)
}

// ExecuteFile runs a script with -f.
func (c *Psql) ExecuteFile(ctx context.Context, cfg cluster.Config, path string, opts ExecOptions, onOutput command.LineFunc) error {
	if err := fsys.RequireFile(path); err != nil {
		return err
	}
	return c.execute(ctx, cfg, opts, onOutput, "-f", path)
}

func (c *Psql) execute(ctx context.Context, cfg cluster.Config, opts ExecOptions, onOutput command.LineFunc, inputFlag, inputValue string) error {
	cfg = cfg.Normalized()
	args := c.execArgs(cfg, opts)
	args = append(args, inputFlag, inputValue)

	spec := command.Spec{
		Path:           c.binary,
		Args:           args,
		ThrowOnNonZero: true,
		OnStderr: func(ctx context.Context, line string) {
			c.logger.Debug("psql", "line", line)
		},
	}
	if opts.OutputFile == "" && onOutput != nil {
		spec.OnStdout = onOutput
	}
	_, err := c.executor.Execute(ctx, spec)
	return err
}

// execArgs builds the shared scaffold for ExecuteSQL and ExecuteFile.
// The argument order is fixed and reproducible.
func (c *Psql) execArgs(cfg cluster.Config, opts ExecOptions) []string {
	user := opts.User
	if strings.TrimSpace(user) == "" {
		user = cfg.Superuser
	}
	args := []string{
		"-U", user,
		"-h", cfg.Host,
		"-p", strconv.Itoa(cfg.Port),
	}
	if opts.Database != "" {
		args = append(args, "-d", opts.Database)
	}
	switch opts.Mode {
	case OutputUnaligned:
		args = append(args, "--no-align")
	case OutputCSV:
		args = append(args, "--csv")
	}
	if opts.FieldSeparator != "" {
		args = append(args, "-F", opts.FieldSeparator)
	}
	if opts.RecordSeparator != "" {
		args = append(args, "-R", opts.RecordSeparator)
	}
	if opts.TuplesOnly {
		args = append(args, "--tuples-only")
	}
	if opts.OutputFile != "" {
		args = append(args, "-o", opts.OutputFile)
	}
	return args
}
