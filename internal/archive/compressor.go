package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// CompressExcludeFunc filters files out of an archive by path and
// attributes. Returning true skips the file.
type CompressExcludeFunc func(path string, info os.FileInfo) bool

type CompressOptions struct {
	// IncludeRoot computes entry names against the source directory's
	// parent, so the archive carries the directory itself as its root.
	// Without it names are relative to the source directory.
	IncludeRoot bool
	Exclude     CompressExcludeFunc
}

// Compressor writes zip archives from a file or a directory tree.
type Compressor struct{}

func NewCompressor() Compressor {
	return Compressor{}
}

func (Compressor) Compress(ctx context.Context, source, archivePath string, opts CompressOptions) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("compress %s: %w", source, err)
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	writer := zip.NewWriter(out)
	if info.IsDir() {
		err = compressTree(ctx, writer, source, opts)
	} else {
		err = writeZipFile(writer, source, filepath.Base(source), info)
	}
	if err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return out.Close()
}

func compressTree(ctx context.Context, writer *zip.Writer, sourceDir string, opts CompressOptions) error {
	base := sourceDir
	if opts.IncludeRoot {
		base = filepath.Dir(sourceDir)
	}
	return filepath.Walk(sourceDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)
		if info.IsDir() {
			// Directory entries carry a trailing slash and no body.
			_, err := writer.CreateHeader(&zip.FileHeader{Name: name + "/"})
			return err
		}
		if opts.Exclude != nil && opts.Exclude(path, info) {
			return nil
		}
		return writeZipFile(writer, path, name, info)
	})
}

func writeZipFile(writer *zip.Writer, path, name string, info os.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = strings.TrimPrefix(filepath.ToSlash(name), "/")
	header.Method = zip.Deflate
	entry, err := writer.CreateHeader(header)
	if err != nil {
		return err
	}
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.Copy(entry, in)
	return err
}
