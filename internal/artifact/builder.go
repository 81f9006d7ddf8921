package artifact

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pgembed/pgembed/internal/download"
	"github.com/pgembed/pgembed/internal/parallel"
)

// Downloader is the slice of the download service the builder needs.
type Downloader interface {
	Download(ctx context.Context, sourceURL, destDir, destName string, force bool) (string, error)
}

type Builder struct {
	downloader Downloader
	logger     *slog.Logger
}

func NewBuilder(downloader Downloader, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{downloader: downloader, logger: logger}
}

// NewDefaultBuilder wires the builder to the HTTP download service.
func NewDefaultBuilder(logger *slog.Logger) *Builder {
	return NewBuilder(download.NewService(download.Options{Logger: logger}), logger)
}

// Build validates the set and materializes every artifact locally:
// local artifacts pass through, remote ones are downloaded into their
// target directory with bounded parallelism. The result preserves the
// input order.
func (b *Builder) Build(ctx context.Context, artifacts []Artifact, maxDOP int) ([]Artifact, error) {
	if err := ValidateSet(artifacts); err != nil {
		return nil, err
	}

	out := make([]Artifact, len(artifacts))
	var mu sync.Mutex

	indexes := make([]int, len(artifacts))
	for i := range artifacts {
		indexes[i] = i
	}
	err := parallel.ForEach(ctx, indexes, maxDOP, func(ctx context.Context, i int) error {
		source := artifacts[i]
		if source.IsLocal() {
			mu.Lock()
			out[i] = source
			mu.Unlock()
			return nil
		}
		b.logger.Debug("materializing artifact", "kind", source.Kind.String(), "source", source.Source)
		localPath, err := b.downloader.Download(ctx, source.Source, source.TargetDirectory, "", source.Force)
		if err != nil {
			return err
		}
		mu.Lock()
		out[i] = source.WithLocalSource(localPath)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
