package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pgembed/pgembed/internal/fsys"
)

// zonkyExtractor handles the two-level jar bundles published by the
// zonky embedded-postgres project: the outer .jar is unpacked with the
// system strategy next to the source, then the enclosed .txz is
// extracted with the sharp strategy into the final destination.
type zonkyExtractor struct {
	factory func() *Factory
}

func (z zonkyExtractor) Enumerate(ctx context.Context, source string) ([]Entry, error) {
	return z.factory().ForFile(source).Enumerate(ctx, source)
}

func (z zonkyExtractor) Extract(ctx context.Context, source, destDir string, opts ExtractOptions) error {
	stageDir := filepath.Dir(source)
	outer, err := z.factory().ForStrategy(StrategySystem)
	if err != nil {
		return err
	}
	if err := outer.Extract(ctx, source, stageDir, ExtractOptions{}); err != nil {
		return err
	}

	inner, err := findInnerArchive(stageDir)
	if err != nil {
		return err
	}
	sharp, err := z.factory().ForStrategy(StrategySharp)
	if err != nil {
		return err
	}
	return sharp.Extract(ctx, inner, destDir, opts)
}

func findInnerArchive(dir string) (string, error) {
	matches, err := fsys.Enumerate(dir, "*.txz", false)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		if matches, err = fsys.Enumerate(dir, "*.tar.xz", false); err != nil {
			return "", err
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no txz bundle found inside jar at %s", dir)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("multiple txz bundles inside jar at %s: %s", dir, strings.Join(matches, ", "))
	}
	return matches[0], nil
}
