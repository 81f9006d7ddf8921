//go:build !windows

package instance

import (
	"os"

	"github.com/pgembed/pgembed/internal/command"
)

func normalizeEntryAttributes(path string, isDir bool) error {
	if isDir {
		return os.Chmod(path, 0o755)
	}
	return os.Chmod(path, 0o644)
}

func setExecutableAttributes(binaries []string) error {
	for _, binary := range binaries {
		info, err := os.Stat(binary)
		if err != nil {
			return err
		}
		if err := os.Chmod(binary, info.Mode().Perm()|0o111); err != nil {
			return err
		}
	}
	return nil
}

// localUserAccessSpec is a Windows-only fix-up; no command on POSIX.
func localUserAccessSpec(dir string) (*command.Spec, error) {
	return nil, nil
}
