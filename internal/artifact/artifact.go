// Package artifact models the binary bundles an instance is built
// from and materializes remote bundles into the local cache.
package artifact

import (
	"path/filepath"
	"strings"

	"github.com/pgembed/pgembed/internal/errdefs"
	"github.com/pgembed/pgembed/internal/fsys"
)

type Kind int

const (
	// Main is the engine bundle itself. Exactly one per build.
	Main Kind = iota
	// Extension bundles are layered on top of the main bundle.
	Extension
)

func (k Kind) String() string {
	switch k {
	case Main:
		return "main"
	case Extension:
		return "extension"
	default:
		return "unknown"
	}
}

// Artifact describes one bundle by local path or download URL.
type Artifact struct {
	Kind Kind
	// Source is an absolute file path or an http(s) URL.
	Source string
	// TargetDirectory is the cache root for downloaded bundles.
	TargetDirectory string
	// Force re-downloads even when the cache already holds the bundle.
	Force bool
	// Strategy names the extraction strategy; empty selects sharp.
	Strategy string
}

// IsLocal reports whether Source is a rooted filesystem path rather
// than a URL.
func (a Artifact) IsLocal() bool {
	source := strings.TrimSpace(a.Source)
	if source == "" {
		return false
	}
	lower := strings.ToLower(source)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return false
	}
	return filepath.IsAbs(source)
}

// WithLocalSource returns a copy pointing at a concrete local file.
func (a Artifact) WithLocalSource(path string) Artifact {
	copied := a
	copied.Source = path
	return copied
}

// ValidateSet checks the cross-artifact invariants: exactly one Main
// bundle, unique sources, and every local source present on disk. It
// runs before any network I/O.
func ValidateSet(artifacts []Artifact) error {
	mains := 0
	seen := map[string]bool{}
	for _, artifact := range artifacts {
		source := strings.TrimSpace(artifact.Source)
		if source == "" {
			return errdefs.ValidationError{Code: "artifact_source_required", Message: "artifact source is required"}
		}
		if seen[source] {
			return errdefs.ValidationError{Code: "artifact_source_duplicate", Message: "artifact sources must be unique", Details: source}
		}
		seen[source] = true
		if artifact.Kind == Main {
			mains++
		}
		if artifact.IsLocal() {
			if err := fsys.RequireFile(source); err != nil {
				return err
			}
		}
	}
	if mains != 1 {
		return errdefs.ValidationError{Code: "artifact_main_count", Message: "exactly one main artifact is required"}
	}
	return nil
}

// FindMain returns the Main artifact of a validated set.
func FindMain(artifacts []Artifact) (Artifact, bool) {
	for _, artifact := range artifacts {
		if artifact.Kind == Main {
			return artifact, true
		}
	}
	return Artifact{}, false
}

// Extensions returns the Extension artifacts of a set, in order.
func Extensions(artifacts []Artifact) []Artifact {
	var out []Artifact
	for _, artifact := range artifacts {
		if artifact.Kind == Extension {
			out = append(out, artifact)
		}
	}
	return out
}
