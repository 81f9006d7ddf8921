// Package download fetches remote artifacts into the local cache with
// deterministic, URL-stable destination names and a create-or-skip
// discipline that makes the cache safe to share across builds.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pgembed/pgembed/internal/errdefs"
	"github.com/pgembed/pgembed/internal/fsys"
)

type Options struct {
	Retry  RetryPolicy
	Client *http.Client
	Logger *slog.Logger
}

type Service struct {
	retry  RetryPolicy
	client *http.Client
	logger *slog.Logger
}

func NewService(opts Options) *Service {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := opts.Retry
	if retry.Logger == nil {
		retry.Logger = logger
	}
	return &Service{retry: retry, client: client, logger: logger}
}

// Download fetches sourceURL into destDir and returns the local path.
// The destination name is caller-supplied or derived from the URL via
// the filename sanitizer. An existing file is returned as-is unless
// force is set, in which case it is deleted and re-downloaded.
func (s *Service) Download(ctx context.Context, sourceURL, destDir, destName string, force bool) (string, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return "", errdefs.ValidationError{Code: "source_required", Message: "download source is required"}
	}
	if strings.TrimSpace(destName) == "" {
		destName = fsys.ConvertToValidFilename(sourceURL)
	}
	if err := fsys.EnsureDirectory(destDir); err != nil {
		return "", err
	}

	destPath := filepath.Join(destDir, destName)
	kind, err := fsys.TypeOf(destPath)
	if err != nil {
		return "", err
	}
	if kind == fsys.IsDirectory {
		return "", errdefs.ValidationError{Code: "destination_is_directory", Message: "download destination is an existing directory", Details: destPath}
	}
	if kind == fsys.IsFile {
		if !force {
			s.logger.Debug("download cached", "url", sourceURL, "path", destPath)
			return destPath, nil
		}
		if err := fsys.DeleteFile(destPath); err != nil {
			return "", err
		}
	}

	start := time.Now()
	err = s.retry.Execute(ctx, func(ctx context.Context) error {
		return s.fetch(ctx, sourceURL, destPath)
	})
	if err != nil {
		return "", errdefs.Wrap(err, fmt.Sprintf("download %s", sourceURL))
	}
	s.logger.Info("downloaded artifact", "url", sourceURL, "path", destPath, "elapsed", time.Since(start))
	return destPath, nil
}

func (s *Service) fetch(ctx context.Context, sourceURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError{Status: resp.Status, Code: resp.StatusCode}
	}

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(destPath)
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(destPath)
		return err
	}
	return nil
}
