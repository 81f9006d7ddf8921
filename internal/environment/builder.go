package environment

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pgembed/pgembed/internal/archive"
	"github.com/pgembed/pgembed/internal/command"
	"github.com/pgembed/pgembed/internal/controller"
	"github.com/pgembed/pgembed/internal/errdefs"
	"github.com/pgembed/pgembed/internal/instance"
	"github.com/pgembed/pgembed/internal/parallel"
)

type Builder struct {
	executor command.Executor
	fixups   *instance.FixUps
	logger   *slog.Logger
}

func NewBuilder(executor command.Executor, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		executor: executor,
		fixups:   instance.NewFixUps(executor, logger),
		logger:   logger,
	}
}

// Validate probes every required binary in parallel: existence plus a
// --version invocation. It returns the binary→version mapping or a
// validation failure naming the first broken binary.
func (b *Builder) Validate(ctx context.Context, instanceDir string) (map[string]string, error) {
	versions := map[string]string{}
	var mu sync.Mutex
	err := parallel.ForEach(ctx, requiredBinaries, len(requiredBinaries), func(ctx context.Context, name string) error {
		version, err := controller.ProbeVersion(ctx, b.executor, binaryPath(instanceDir, name))
		if err != nil {
			// Missing binaries and broken --version probes are both
			// installation validation failures.
			return errdefs.ValidationError{Code: "instance_validation_failed", Message: "instance validation failed for " + name, Details: err.Error()}
		}
		mu.Lock()
		versions[name] = version
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// Build applies the platform fix-ups, validates the required
// binaries, and binds the controllers. Each optional controller is
// probed without throwing; a failed probe leaves its slot empty and
// the environment reports the capability as missing.
func (b *Builder) Build(ctx context.Context, cfg instance.Config) (*Environment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := b.fixups.Apply(ctx, cfg, RequiredBinaryPaths(cfg.Directory)); err != nil {
		return nil, err
	}
	versions, err := b.Validate(ctx, cfg.Directory)
	if err != nil {
		return nil, err
	}

	env := &Environment{
		Instance:   cfg,
		InitDB:     controller.NewInitDB(binaryPath(cfg.Directory, BinInitDB), cfg.Directory, b.executor, b.logger),
		PgCtl:      controller.NewPgCtl(binaryPath(cfg.Directory, BinPgCtl), cfg.Directory, b.executor, b.logger),
		Executor:   b.executor,
		Compressor: archive.NewCompressor(),
		Extractors: archive.NewFactory(),
		Versions:   versions,
	}

	var optMu sync.Mutex
	_ = parallel.ForEach(ctx, optionalBinaries, len(optionalBinaries), func(ctx context.Context, name string) error {
		path := binaryPath(cfg.Directory, name)
		version, err := controller.ProbeVersion(ctx, b.executor, path)
		if err != nil {
			b.logger.Info("optional controller unavailable", "binary", name, "err", err)
			return nil
		}
		optMu.Lock()
		defer optMu.Unlock()
		env.Versions[name] = version
		switch name {
		case BinPsql:
			env.Psql = controller.NewPsql(path, cfg.Directory, b.executor, b.logger)
		case BinDump:
			env.Dump = controller.NewDump(path, cfg.Directory, b.executor, b.logger)
		case BinRestore:
			env.Restore = controller.NewRestore(path, cfg.Directory, b.executor, b.logger)
		}
		return nil
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	b.logger.Info("environment ready", "dir", cfg.Directory, "mode", env.Capabilities().Mode())
	return env, nil
}
