// Package archive provides the extraction strategies and the zip
// compressor used to materialize binary bundles and to snapshot data
// directories. Strategies are selected by name or by file extension.
package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Entry describes one archive member as reported by Enumerate.
type Entry struct {
	Key         string
	IsDirectory bool
	Size        int64
}

// ExcludeFunc filters entries by key. Returning true skips the entry.
type ExcludeFunc func(key string) bool

type ExtractOptions struct {
	// Exclude skips matching entries.
	Exclude ExcludeFunc
	// IgnoreRootDir drops the first path segment of every key, so a
	// bundle wrapped in a single top-level directory lands directly in
	// the destination.
	IgnoreRootDir bool
}

type Extractor interface {
	Enumerate(ctx context.Context, source string) ([]Entry, error)
	Extract(ctx context.Context, source, destDir string, opts ExtractOptions) error
}

// Strategy names accepted by the factory.
const (
	StrategySystem = "system"
	StrategySharp  = "sharp"
	StrategyZonky  = "zonky"
)

// Factory dispatches extractors by strategy name or file extension.
// The zonky strategy re-enters the factory for its inner archives, so
// construction goes through a lazy self reference.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

// ForFile selects a strategy from the file extension: .jar archives
// use the system zip reader, everything else the sharp multi-format
// reader.
func (f *Factory) ForFile(path string) Extractor {
	if strings.EqualFold(filepath.Ext(path), ".jar") {
		return zipExtractor{}
	}
	return streamExtractor{}
}

// ForStrategy selects a strategy by name. An empty name selects sharp.
func (f *Factory) ForStrategy(name string) (Extractor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategySharp:
		return streamExtractor{}, nil
	case StrategySystem:
		return zipExtractor{}, nil
	case StrategyZonky:
		return zonkyExtractor{factory: func() *Factory { return f }}, nil
	default:
		return nil, fmt.Errorf("unknown extraction strategy: %q", name)
	}
}

// normalizeKey converts archive separators and optionally drops the
// first path segment.
func normalizeKey(key string, ignoreRootDir bool) string {
	key = strings.TrimPrefix(filepath.ToSlash(key), "/")
	if !ignoreRootDir {
		return key
	}
	if idx := strings.IndexByte(key, '/'); idx >= 0 {
		return key[idx+1:]
	}
	return ""
}

// securePath joins key under destDir, rejecting traversal outside it.
func securePath(destDir, key string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry escapes destination: %q", key)
	}
	return target, nil
}
