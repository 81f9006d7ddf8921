package environment

import "path/filepath"

// Binary names, without platform suffix.
const (
	BinInitDB   = "initdb"
	BinPgCtl    = "pg_ctl"
	BinPostgres = "postgres"
	BinPsql     = "psql"
	BinDump     = "pg_dump"
	BinRestore  = "pg_restore"
)

// requiredBinaries must exist for the environment to be usable at all.
var requiredBinaries = []string{BinInitDB, BinPgCtl, BinPostgres}

// optionalBinaries switch the environment between minimal and standard
// capability sets.
var optionalBinaries = []string{BinPsql, BinDump, BinRestore}

// binaryPath resolves a binary name under the instance's bin
// directory, applying the platform suffix.
func binaryPath(instanceDir, name string) string {
	return filepath.Join(instanceDir, "bin", name+binarySuffix)
}

// RequiredBinaryPaths lists the absolute paths of the required
// binaries for an instance directory.
func RequiredBinaryPaths(instanceDir string) []string {
	out := make([]string, 0, len(requiredBinaries))
	for _, name := range requiredBinaries {
		out = append(out, binaryPath(instanceDir, name))
	}
	return out
}
