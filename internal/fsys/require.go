package fsys

import "github.com/pgembed/pgembed/internal/errdefs"

func RequireFile(path string) error {
	kind, err := TypeOf(path)
	if err != nil {
		return err
	}
	if kind != IsFile {
		return errdefs.ValidationError{Code: "file_required", Message: "path is not an existing file", Details: path}
	}
	return nil
}

func RequireDirectory(path string) error {
	kind, err := TypeOf(path)
	if err != nil {
		return err
	}
	if kind != IsDirectory {
		return errdefs.ValidationError{Code: "directory_required", Message: "path is not an existing directory", Details: path}
	}
	return nil
}

func RequireNotFile(path string) error {
	kind, err := TypeOf(path)
	if err != nil {
		return err
	}
	if kind == IsFile {
		return errdefs.ValidationError{Code: "file_present", Message: "path must not be an existing file", Details: path}
	}
	return nil
}

func RequireNotDirectory(path string) error {
	kind, err := TypeOf(path)
	if err != nil {
		return err
	}
	if kind == IsDirectory {
		return errdefs.ValidationError{Code: "directory_present", Message: "path must not be an existing directory", Details: path}
	}
	return nil
}
