// Package environment binds an extracted instance to its controllers
// and reports which administrative capabilities the bundle provides.
package environment

import (
	"github.com/pgembed/pgembed/internal/archive"
	"github.com/pgembed/pgembed/internal/command"
	"github.com/pgembed/pgembed/internal/controller"
	"github.com/pgembed/pgembed/internal/errdefs"
	"github.com/pgembed/pgembed/internal/instance"
)

// Capabilities reports the optional controllers as independent bits,
// so callers and events can name exactly which controller is missing.
type Capabilities struct {
	SQL     bool
	Dump    bool
	Restore bool
}

// Standard is true when every optional controller is present.
func (c Capabilities) Standard() bool {
	return c.SQL && c.Dump && c.Restore
}

func (c Capabilities) Mode() string {
	if c.Standard() {
		return "standard"
	}
	return "minimal"
}

// Environment is the bound bundle handed to the server: the instance,
// the required controllers, and whichever optional controllers the
// bundle provides. A nil optional slot means the capability is absent.
type Environment struct {
	Instance instance.Config

	InitDB *controller.InitDB
	PgCtl  *controller.PgCtl

	Psql    *controller.Psql
	Dump    *controller.Dump
	Restore *controller.Restore

	Executor   command.Executor
	Compressor archive.Compressor
	Extractors *archive.Factory

	// Versions maps each probed binary name to its reported version.
	Versions map[string]string
}

func (e *Environment) Capabilities() Capabilities {
	return Capabilities{
		SQL:     e.Psql != nil,
		Dump:    e.Dump != nil,
		Restore: e.Restore != nil,
	}
}

// RequireSQL returns the SQL controller or a capability error naming
// it.
func (e *Environment) RequireSQL() (*controller.Psql, error) {
	if e.Psql == nil {
		return nil, errdefs.CapabilityError{Controller: "psql"}
	}
	return e.Psql, nil
}

func (e *Environment) RequireDump() (*controller.Dump, error) {
	if e.Dump == nil {
		return nil, errdefs.CapabilityError{Controller: "pg_dump"}
	}
	return e.Dump, nil
}

func (e *Environment) RequireRestore() (*controller.Restore, error) {
	if e.Restore == nil {
		return nil, errdefs.CapabilityError{Controller: "pg_restore"}
	}
	return e.Restore, nil
}
