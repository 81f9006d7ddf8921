//go:build windows

package instance

import (
	"fmt"
	"os/user"

	"golang.org/x/sys/windows"

	"github.com/pgembed/pgembed/internal/command"
)

func normalizeEntryAttributes(path string, isDir bool) error {
	if isDir {
		return nil
	}
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	return windows.SetFileAttributes(pathPtr, windows.FILE_ATTRIBUTE_NORMAL)
}

// setExecutableAttributes is a POSIX-only fix-up; Windows resolves
// executability from the extension.
func setExecutableAttributes(binaries []string) error {
	return nil
}

func localUserAccessSpec(dir string) (*command.Spec, error) {
	current, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("resolve current user: %w", err)
	}
	return &command.Spec{
		Path:           "icacls",
		Args:           []string{dir, "/t", "/grant:r", current.Username + ":(OI)(CI)F"},
		ThrowOnNonZero: true,
	}, nil
}
