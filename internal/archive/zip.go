package archive

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	"github.com/pgembed/pgembed/internal/fsys"
)

// zipExtractor is the system strategy: a plain zip reader. Directory
// entries are skipped; directories materialize implicitly from file
// paths.
type zipExtractor struct{}

func (zipExtractor) Enumerate(ctx context.Context, source string) ([]Entry, error) {
	reader, err := zip.OpenReader(source)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", source, err)
	}
	defer reader.Close()

	var entries []Entry
	for _, file := range reader.File {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		info := file.FileInfo()
		entries = append(entries, Entry{
			Key:         filepath.ToSlash(file.Name),
			IsDirectory: info.IsDir(),
			Size:        info.Size(),
		})
	}
	return entries, nil
}

func (zipExtractor) Extract(ctx context.Context, source, destDir string, opts ExtractOptions) error {
	reader, err := zip.OpenReader(source)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", source, err)
	}
	defer reader.Close()

	if err := fsys.EnsureDirectory(destDir); err != nil {
		return err
	}
	for _, file := range reader.File {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		info := file.FileInfo()
		if info.IsDir() {
			continue
		}
		key := filepath.ToSlash(file.Name)
		if opts.Exclude != nil && opts.Exclude(key) {
			continue
		}
		key = normalizeKey(key, opts.IgnoreRootDir)
		if key == "" {
			continue
		}
		target, err := securePath(destDir, key)
		if err != nil {
			return err
		}
		if err := fsys.EnsureDirectory(filepath.Dir(target)); err != nil {
			return err
		}
		in, err := file.Open()
		if err != nil {
			return fmt.Errorf("read entry %s: %w", key, err)
		}
		writeErr := fsys.CopyStream(in, target, info.Mode().Perm())
		_ = in.Close()
		if writeErr != nil {
			return writeErr
		}
	}
	return nil
}
