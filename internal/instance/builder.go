package instance

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pgembed/pgembed/internal/archive"
	"github.com/pgembed/pgembed/internal/artifact"
	"github.com/pgembed/pgembed/internal/fsys"
	"github.com/pgembed/pgembed/internal/parallel"
)

// pgAdminPrefix marks the bundled admin UI inside standard bundles.
const pgAdminPrefix = "pgsql/pgAdmin"

// containerSuffixes identify the single wrapping directory some
// extension bundles carry around their payload.
var containerSuffixes = []string{"/bin/", "/lib/", "/share/"}

type BuildOptions struct {
	// CleanInstall deletes the instance directory before extraction.
	CleanInstall bool
	// ExcludePgAdminInstallation skips the bundled admin UI entries of
	// the main bundle.
	ExcludePgAdminInstallation bool
	// MaxDOP bounds the artifact download and extension extraction
	// fan-outs.
	MaxDOP int
}

type Builder struct {
	artifacts *artifact.Builder
	factory   *archive.Factory
	logger    *slog.Logger
}

func NewBuilder(artifacts *artifact.Builder, factory *archive.Factory, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{artifacts: artifacts, factory: factory, logger: logger}
}

// Build materializes the artifact set and extracts it into the
// instance directory: the main bundle first, then every extension
// bundle in parallel.
func (b *Builder) Build(ctx context.Context, cfg Config, opts BuildOptions, artifacts []artifact.Artifact) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	built, err := b.artifacts.Build(ctx, artifacts, opts.MaxDOP)
	if err != nil {
		return err
	}

	if opts.CleanInstall {
		b.logger.Info("clean install, removing instance directory", "dir", cfg.Directory)
		if err := fsys.DeleteDirectory(cfg.Directory); err != nil {
			return err
		}
	}
	if err := fsys.EnsureDirectory(cfg.Directory); err != nil {
		return err
	}

	main, _ := artifact.FindMain(built)
	if err := b.extractMain(ctx, cfg, opts, main); err != nil {
		return err
	}

	extensions := artifact.Extensions(built)
	return parallel.ForEach(ctx, extensions, opts.MaxDOP, func(ctx context.Context, ext artifact.Artifact) error {
		return b.extractExtension(ctx, cfg, ext)
	})
}

func (b *Builder) extractMain(ctx context.Context, cfg Config, opts BuildOptions, main artifact.Artifact) error {
	extractor, err := b.factory.ForStrategy(main.Strategy)
	if err != nil {
		return err
	}
	extractOpts := archive.ExtractOptions{IgnoreRootDir: true}
	if opts.ExcludePgAdminInstallation {
		extractOpts.Exclude = func(key string) bool {
			return strings.HasPrefix(key, pgAdminPrefix)
		}
	}
	b.logger.Info("extracting main bundle", "source", main.Source, "dir", cfg.Directory)
	return extractor.Extract(ctx, main.Source, cfg.Directory, extractOpts)
}

// extractExtension unpacks one extension bundle. When the bundle wraps
// its payload in a single container directory only the payload is
// extracted and the container segment dropped, so bin/, lib/ and
// share/ land directly under the instance root.
func (b *Builder) extractExtension(ctx context.Context, cfg Config, ext artifact.Artifact) error {
	extractor, err := b.factory.ForStrategy(ext.Strategy)
	if err != nil {
		return err
	}
	entries, err := extractor.Enumerate(ctx, ext.Source)
	if err != nil {
		return err
	}
	container := detectContainerRoot(entries)
	extractOpts := archive.ExtractOptions{}
	if container != "" {
		prefix := container + "/"
		extractOpts.IgnoreRootDir = true
		extractOpts.Exclude = func(key string) bool {
			return !strings.HasPrefix(key, prefix)
		}
	}
	b.logger.Info("extracting extension bundle", "source", ext.Source, "container", container)
	return extractor.Extract(ctx, ext.Source, cfg.Directory, extractOpts)
}

// detectContainerRoot reports the single top-level directory holding
// the bundle's bin/lib/share payload, or "" when the payload sits at
// the archive root.
func detectContainerRoot(entries []archive.Entry) string {
	container := ""
	for _, entry := range entries {
		key := entry.Key
		for _, suffix := range containerSuffixes {
			idx := strings.Index(key+"/", suffix)
			if idx <= 0 {
				continue
			}
			root := key[:idx]
			if strings.ContainsRune(root, '/') {
				// Payload nested deeper than one container level;
				// treat as unwrapped.
				continue
			}
			if container == "" {
				container = root
			} else if container != root {
				return ""
			}
		}
	}
	return container
}

// Destroy removes the instance directory tree when present.
func (b *Builder) Destroy(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	kind, err := fsys.TypeOf(cfg.Directory)
	if err != nil {
		return err
	}
	if kind == fsys.DoesNotExist {
		return nil
	}
	b.logger.Info("destroying instance", "dir", cfg.Directory)
	return fsys.DeleteDirectory(cfg.Directory)
}
