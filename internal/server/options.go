package server

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/pgembed/pgembed/internal/artifact"
	"github.com/pgembed/pgembed/internal/cluster"
	"github.com/pgembed/pgembed/internal/errdefs"
	"github.com/pgembed/pgembed/internal/instance"
)

// Options is the full build configuration: artifacts, instance layout,
// and the cluster set.
type Options struct {
	Artifacts []artifact.Artifact
	Instance  instance.Config
	Clusters  []cluster.Config

	// CleanInstall rebuilds the instance directory from scratch, and
	// permits one automatic rebuild when validation of an existing
	// installation fails.
	CleanInstall bool
	// ExcludePgAdminInstallation skips the bundled admin UI.
	ExcludePgAdminInstallation bool
	// MaxDOP bounds the build-time fan-outs.
	MaxDOP int

	Logger *slog.Logger
}

// Validate enforces the cross-cluster uniqueness rules before any work
// happens: at least one cluster, all ids distinct, all ports non-zero,
// all (host, port, data directory) bindings distinct.
func (o Options) Validate() error {
	if err := o.Instance.Validate(); err != nil {
		return err
	}
	if err := artifact.ValidateSet(o.Artifacts); err != nil {
		return err
	}
	if len(o.Clusters) == 0 {
		return errdefs.ValidationError{Code: "clusters_required", Message: "at least one cluster is required"}
	}

	ids := map[string]bool{}
	bindings := map[string]bool{}
	for _, cfg := range o.Clusters {
		if err := cfg.Validate(); err != nil {
			return err
		}
		normalized := cfg.Normalized()
		if ids[normalized.UniqueID] {
			return errdefs.ValidationError{Code: "cluster_id_duplicate", Message: "cluster ids must be distinct", Details: normalized.UniqueID}
		}
		ids[normalized.UniqueID] = true

		binding := fmt.Sprintf("%s|%d|%s", normalized.Host, normalized.Port, filepath.Clean(normalized.DataDirectory))
		if bindings[binding] {
			return errdefs.ValidationError{Code: "cluster_binding_duplicate", Message: "cluster host, port and data directory bindings must be distinct", Details: binding}
		}
		bindings[binding] = true
	}
	return nil
}
