// Package instance materializes extracted engine installations on
// disk and applies the platform fix-ups binaries need after
// extraction.
package instance

import (
	"strings"

	"github.com/pgembed/pgembed/internal/errdefs"
)

// PlatformParams holds the recognized platform fix-up switches.
type PlatformParams struct {
	// NormalizeAttributes resets file attributes on every extracted
	// entry.
	NormalizeAttributes bool
	// AddLocalUserAccessPermission grants the current user full
	// control over the instance tree, once per instance directory.
	// Windows only.
	AddLocalUserAccessPermission bool
	// SetExecutableAttributes marks the required binaries executable.
	// POSIX only.
	SetExecutableAttributes bool
}

// Recognized platform parameter keys.
const (
	ParamNormalizeAttributes          = "NormalizeAttributes"
	ParamAddLocalUserAccessPermission = "AddLocalUserAccessPermission"
	ParamSetExecutableAttributes      = "SetExecutableAttributes"
)

// ParamsFromMap converts a free-form parameter mapping into typed
// switches, rejecting unrecognized keys.
func ParamsFromMap(values map[string]bool) (PlatformParams, error) {
	var params PlatformParams
	for key, value := range values {
		switch key {
		case ParamNormalizeAttributes:
			params.NormalizeAttributes = value
		case ParamAddLocalUserAccessPermission:
			params.AddLocalUserAccessPermission = value
		case ParamSetExecutableAttributes:
			params.SetExecutableAttributes = value
		default:
			return PlatformParams{}, errdefs.ValidationError{Code: "platform_param_unknown", Message: "unrecognized platform parameter", Details: key}
		}
	}
	return params, nil
}

// Config identifies one on-disk instance.
type Config struct {
	// Directory is the instance root, relative or absolute. Unique per
	// instance.
	Directory string
	Platform  PlatformParams
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Directory) == "" {
		return errdefs.ValidationError{Code: "instance_directory_required", Message: "instance directory is required"}
	}
	return nil
}
