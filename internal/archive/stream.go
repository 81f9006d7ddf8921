package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/ulikunitz/xz"

	"github.com/pgembed/pgembed/internal/fsys"
)

// streamExtractor is the sharp strategy: a multi-format reader covering
// zip, tar, tar.gz and tar.xz bundles. Symbolic links are recorded on
// the first pass and materialized afterwards by copying the referenced
// file or directory, a portability fallback for platforms where
// creating symlinks needs privileges.
type streamExtractor struct{}

type pendingLink struct {
	key    string
	target string
}

func (streamExtractor) Enumerate(ctx context.Context, source string) ([]Entry, error) {
	if isZipSource(source) {
		return zipExtractor{}.Enumerate(ctx, source)
	}
	var entries []Entry
	err := walkTar(ctx, source, func(header *tar.Header, reader io.Reader) error {
		entries = append(entries, Entry{
			Key:         filepath.ToSlash(header.Name),
			IsDirectory: header.Typeflag == tar.TypeDir,
			Size:        header.Size,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s streamExtractor) Extract(ctx context.Context, source, destDir string, opts ExtractOptions) error {
	if err := fsys.EnsureDirectory(destDir); err != nil {
		return err
	}
	var links []pendingLink
	var err error
	if isZipSource(source) {
		links, err = extractZipWithLinks(ctx, source, destDir, opts)
	} else {
		links, err = extractTar(ctx, source, destDir, opts)
	}
	if err != nil {
		return err
	}
	return materializeLinks(ctx, destDir, links)
}

func isZipSource(source string) bool {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".zip", ".jar":
		return true
	}
	return false
}

// openCompressed peels the compression layer off a tar bundle.
func openCompressed(source string) (io.ReadCloser, error) {
	file, err := os.Open(source)
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(source)
	switch {
	case strings.HasSuffix(lower, ".txz"), strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".xz"):
		reader, err := xz.NewReader(file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("open xz stream %s: %w", source, err)
		}
		return readCloser{Reader: reader, closer: file}, nil
	case strings.HasSuffix(lower, ".tgz"), strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".gz"):
		reader, err := gzip.NewReader(file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("open gzip stream %s: %w", source, err)
		}
		return readCloser{Reader: reader, closer: file}, nil
	case strings.HasSuffix(lower, ".tar"):
		return file, nil
	default:
		_ = file.Close()
		return nil, fmt.Errorf("unsupported archive format: %s", source)
	}
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r readCloser) Close() error {
	return r.closer.Close()
}

func walkTar(ctx context.Context, source string, fn func(header *tar.Header, reader io.Reader) error) error {
	stream, err := openCompressed(source)
	if err != nil {
		return err
	}
	defer stream.Close()

	reader := tar.NewReader(stream)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive %s: %w", source, err)
		}
		if err := fn(header, reader); err != nil {
			return err
		}
	}
}

func extractTar(ctx context.Context, source, destDir string, opts ExtractOptions) ([]pendingLink, error) {
	var links []pendingLink
	err := walkTar(ctx, source, func(header *tar.Header, reader io.Reader) error {
		key := filepath.ToSlash(header.Name)
		if opts.Exclude != nil && opts.Exclude(key) {
			return nil
		}
		key = normalizeKey(key, opts.IgnoreRootDir)
		if key == "" {
			return nil
		}
		target, err := securePath(destDir, key)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			return fsys.EnsureDirectory(target)
		case tar.TypeSymlink, tar.TypeLink:
			links = append(links, pendingLink{key: key, target: header.Linkname})
			return nil
		case tar.TypeReg:
			if err := fsys.EnsureDirectory(filepath.Dir(target)); err != nil {
				return err
			}
			// Zero-sized entries are created by touch; copying an
			// empty stream can hang on some archive backends.
			if header.Size == 0 {
				return fsys.Touch(target)
			}
			return fsys.CopyStream(reader, target, os.FileMode(header.Mode).Perm())
		default:
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

func extractZipWithLinks(ctx context.Context, source, destDir string, opts ExtractOptions) ([]pendingLink, error) {
	reader, err := zip.OpenReader(source)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", source, err)
	}
	defer reader.Close()

	var links []pendingLink
	for _, file := range reader.File {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		info := file.FileInfo()
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
			return nil, err
		}
		if info.IsDir() {
			if err := fsys.EnsureDirectory(target); err != nil {
				return nil, err
			}
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err := readZipEntry(file)
			if err != nil {
				return nil, err
			}
			links = append(links, pendingLink{key: key, target: linkTarget})
			continue
		}
		if err := fsys.EnsureDirectory(filepath.Dir(target)); err != nil {
			return nil, err
		}
		if info.Size() == 0 {
			if err := fsys.Touch(target); err != nil {
				return nil, err
			}
			continue
		}
		in, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", key, err)
		}
		writeErr := fsys.CopyStream(in, target, info.Mode().Perm())
		_ = in.Close()
		if writeErr != nil {
			return nil, writeErr
		}
	}
	return links, nil
}

func readZipEntry(file *zip.File) (string, error) {
	in, err := file.Open()
	if err != nil {
		return "", err
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// materializeLinks resolves each recorded link against its directory
// inside the destination and copies the referenced file or directory
// in its place.
func materializeLinks(ctx context.Context, destDir string, links []pendingLink) error {
	for _, link := range links {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resolved := path.Join(path.Dir(link.key), filepath.ToSlash(link.target))
		source, err := securePath(destDir, resolved)
		if err != nil {
			return err
		}
		dest, err := securePath(destDir, link.key)
		if err != nil {
			return err
		}
		kind, err := fsys.TypeOf(source)
		if err != nil {
			return err
		}
		switch kind {
		case fsys.IsFile:
			if err := fsys.EnsureDirectory(filepath.Dir(dest)); err != nil {
				return err
			}
			if err := fsys.CopyFile(source, dest); err != nil {
				return err
			}
		case fsys.IsDirectory:
			if err := fsys.CopyDirectory(ctx, source, dest); err != nil {
				return err
			}
		default:
			// Link points at an entry the archive never carried.
			// Leave it out rather than fail the whole bundle.
		}
	}
	return nil
}
