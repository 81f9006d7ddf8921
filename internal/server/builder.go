package server

import (
	"context"
	"log/slog"

	"github.com/pgembed/pgembed/internal/archive"
	"github.com/pgembed/pgembed/internal/artifact"
	"github.com/pgembed/pgembed/internal/command"
	"github.com/pgembed/pgembed/internal/environment"
	"github.com/pgembed/pgembed/internal/errdefs"
	"github.com/pgembed/pgembed/internal/instance"
)

// Builder drives the full pipeline: materialize artifacts, lay the
// instance down, bind the environment, and register the clusters.
type Builder struct {
	executor  command.Executor
	artifacts *artifact.Builder
	instances *instance.Builder
	envs      *environment.Builder
	logger    *slog.Logger
}

// BuilderOptions configures the pipeline. Zero values select the local
// executor and the default logger.
type BuilderOptions struct {
	Executor command.Executor
	Logger   *slog.Logger
}

func NewBuilder(opts BuilderOptions) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	executor := opts.Executor
	if executor == nil {
		executor = command.NewLocal()
	}
	artifacts := artifact.NewDefaultBuilder(logger)
	return &Builder{
		executor:  executor,
		artifacts: artifacts,
		instances: instance.NewBuilder(artifacts, archive.NewFactory(), logger),
		envs:      environment.NewBuilder(executor, logger),
		logger:    logger,
	}
}

// Build validates the options and runs the pipeline. When validation
// of an existing installation fails and CleanInstall is set, the
// instance is rebuilt once from scratch before the failure surfaces.
func (b *Builder) Build(ctx context.Context, opts Options) (*Server, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = b.logger
	}

	buildOpts := instance.BuildOptions{
		CleanInstall:               opts.CleanInstall,
		ExcludePgAdminInstallation: opts.ExcludePgAdminInstallation,
		MaxDOP:                     opts.MaxDOP,
	}
	if err := b.instances.Build(ctx, opts.Instance, buildOpts, opts.Artifacts); err != nil {
		return nil, err
	}

	env, err := b.envs.Build(ctx, opts.Instance)
	if err != nil && errdefs.IsValidation(err) && opts.CleanInstall {
		logger.Warn("installation validation failed, rebuilding instance", "err", err)
		if err := b.instances.Destroy(ctx, opts.Instance); err != nil {
			return nil, err
		}
		if err := b.instances.Build(ctx, opts.Instance, buildOpts, opts.Artifacts); err != nil {
			return nil, err
		}
		env, err = b.envs.Build(ctx, opts.Instance)
	}
	if err != nil {
		return nil, err
	}

	return New(env, opts.Clusters, logger)
}

// DestroyInstance removes the instance directory tree.
func (b *Builder) DestroyInstance(ctx context.Context, cfg instance.Config) error {
	return b.instances.Destroy(ctx, cfg)
}

// ValidateInstance probes the required binaries of an existing
// installation and returns their versions.
func (b *Builder) ValidateInstance(ctx context.Context, cfg instance.Config) (map[string]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return b.envs.Validate(ctx, cfg.Directory)
}
