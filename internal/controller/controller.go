// Package controller wraps each native PostgreSQL binary behind a
// typed argument builder. Controllers never interpret engine output
// beyond what the orchestration layer needs; the binaries stay the
// source of truth.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pgembed/pgembed/internal/cluster"
	"github.com/pgembed/pgembed/internal/command"
	"github.com/pgembed/pgembed/internal/fsys"
)

// binding is what every controller holds: the absolute binary path,
// the instance it belongs to, and the process executor.
type binding struct {
	binary      string
	instanceDir string
	executor    command.Executor
	logger      *slog.Logger
}

func newBinding(binary, instanceDir string, executor command.Executor, logger *slog.Logger) binding {
	if logger == nil {
		logger = slog.Default()
	}
	return binding{binary: binary, instanceDir: instanceDir, executor: executor, logger: logger}
}

func (b binding) dataFullPath(cfg cluster.Config) string {
	return cfg.DataFullPath(b.instanceDir)
}

// ProbeVersion invokes a binary with --version and returns the single
// reported line.
func ProbeVersion(ctx context.Context, executor command.Executor, binary string) (string, error) {
	if err := fsys.RequireFile(binary); err != nil {
		return "", err
	}
	var version string
	_, err := executor.Execute(ctx, command.Spec{
		Path:           binary,
		Args:           []string{"--version"},
		ThrowOnNonZero: true,
		OnStdout: func(ctx context.Context, line string) {
			if version == "" && strings.TrimSpace(line) != "" {
				version = strings.TrimSpace(line)
			}
		},
	})
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", binary, err)
	}
	if version == "" {
		return "", fmt.Errorf("probe %s: no version reported", binary)
	}
	return version, nil
}

// connectionArgs is the argument scaffold shared by the SQL-facing
// controllers.
func connectionArgs(cfg cluster.Config) []string {
	return []string{
		"-U", cfg.Superuser,
		"-h", cfg.Host,
		"-p", strconv.Itoa(cfg.Port),
	}
}
