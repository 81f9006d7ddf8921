// Package cluster holds the data-cluster configuration model: the
// caller-chosen identity and connection binding of one independently
// initialized database directory.
package cluster

import (
	"path/filepath"
	"strings"

	"github.com/pgembed/pgembed/internal/errdefs"
)

const (
	DefaultDataDirectory = "data"
	DefaultSuperuser     = "postgres"
	DefaultEncoding      = "UTF-8"
	DefaultHost          = "localhost"
)

// Parameter is one server setting passed as `-c name=value` at start.
// Parameters keep their declaration order.
type Parameter struct {
	Name  string
	Value string
}

// Config identifies one data cluster within an instance.
type Config struct {
	// UniqueID distinguishes the cluster within its instance.
	UniqueID string
	// DataDirectory is relative to the instance directory.
	DataDirectory string
	Superuser     string
	Encoding      string
	Locale        string
	// AllowGroupAccess is tri-state: nil omits the initdb flag, true
	// emits it, false omits it.
	AllowGroupAccess *bool
	Host             string
	Port             int
	Parameters       []Parameter
}

// Normalized returns a copy with defaults applied to the optional
// fields.
func (c Config) Normalized() Config {
	out := c
	if strings.TrimSpace(out.DataDirectory) == "" {
		out.DataDirectory = DefaultDataDirectory
	}
	if strings.TrimSpace(out.Superuser) == "" {
		out.Superuser = DefaultSuperuser
	}
	if strings.TrimSpace(out.Encoding) == "" {
		out.Encoding = DefaultEncoding
	}
	if strings.TrimSpace(out.Host) == "" {
		out.Host = DefaultHost
	}
	return out
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.UniqueID) == "" {
		return errdefs.ValidationError{Code: "cluster_id_required", Message: "cluster unique id is required"}
	}
	if c.Port == 0 {
		return errdefs.ValidationError{Code: "cluster_port_required", Message: "cluster port must be non-zero", Details: c.UniqueID}
	}
	return nil
}

// DataFullPath resolves the data directory against the instance
// directory. An absolute data directory wins.
func (c Config) DataFullPath(instanceDir string) string {
	dataDir := c.DataDirectory
	if strings.TrimSpace(dataDir) == "" {
		dataDir = DefaultDataDirectory
	}
	if filepath.IsAbs(dataDir) {
		return dataDir
	}
	return filepath.Join(instanceDir, dataDir)
}
