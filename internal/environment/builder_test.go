package environment

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pgembed/pgembed/internal/command"
	"github.com/pgembed/pgembed/internal/errdefs"
	"github.com/pgembed/pgembed/internal/instance"
)

type versionExecutor struct {
	fail map[string]bool
}

func (v *versionExecutor) Execute(ctx context.Context, spec command.Spec) (command.Result, error) {
	name := filepath.Base(spec.Path)
	name = strings.TrimSuffix(name, ".exe")
	if v.fail[name] {
		return command.Result{ExitCode: 1}, command.Error{ExitCode: 1, Output: "not a valid binary"}
	}
	if spec.OnStdout != nil {
		spec.OnStdout(ctx, name+" (PostgreSQL) 16.2")
	}
	return command.Result{}, nil
}

func stubInstance(t *testing.T, binaries ...string) string {
	t.Helper()
	dir := t.TempDir()
	binDir := filepath.Join(dir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range binaries {
		if err := os.WriteFile(filepath.Join(binDir, name+binarySuffix), []byte("stub"), 0o755); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return dir
}

func TestValidateReturnsVersionMap(t *testing.T) {
	dir := stubInstance(t, BinInitDB, BinPgCtl, BinPostgres)
	builder := NewBuilder(&versionExecutor{}, nil)

	versions, err := builder.Validate(context.Background(), dir)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for _, name := range []string{BinInitDB, BinPgCtl, BinPostgres} {
		if !strings.Contains(versions[name], "16.2") {
			t.Fatalf("missing version for %s: %q", name, versions[name])
		}
	}
}

func TestValidateFailsOnMissingBinary(t *testing.T) {
	dir := stubInstance(t, BinInitDB, BinPgCtl)
	builder := NewBuilder(&versionExecutor{}, nil)
	if _, err := builder.Validate(context.Background(), dir); !errdefs.IsValidation(err) {
		t.Fatalf("expected validation error for missing postgres, got %v", err)
	}
}

func TestValidateFailsOnProbeError(t *testing.T) {
	dir := stubInstance(t, BinInitDB, BinPgCtl, BinPostgres)
	builder := NewBuilder(&versionExecutor{fail: map[string]bool{BinPgCtl: true}}, nil)
	if _, err := builder.Validate(context.Background(), dir); err == nil {
		t.Fatalf("expected probe failure to surface")
	}
}

func TestBuildMinimalEnvironment(t *testing.T) {
	dir := stubInstance(t, BinInitDB, BinPgCtl, BinPostgres)
	builder := NewBuilder(&versionExecutor{}, nil)

	env, err := builder.Build(context.Background(), instance.Config{Directory: dir})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	caps := env.Capabilities()
	if caps.Standard() {
		t.Fatalf("expected minimal environment, got %+v", caps)
	}
	if caps.Mode() != "minimal" {
		t.Fatalf("unexpected mode: %s", caps.Mode())
	}
	if env.InitDB == nil || env.PgCtl == nil {
		t.Fatalf("required controllers must be bound")
	}
	if _, err := env.RequireSQL(); !errdefs.IsCapability(err) {
		t.Fatalf("expected capability error, got %v", err)
	}
}

func TestBuildStandardEnvironment(t *testing.T) {
	dir := stubInstance(t, BinInitDB, BinPgCtl, BinPostgres, BinPsql, BinDump, BinRestore)
	builder := NewBuilder(&versionExecutor{}, nil)

	env, err := builder.Build(context.Background(), instance.Config{Directory: dir})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	caps := env.Capabilities()
	if !caps.Standard() {
		t.Fatalf("expected standard environment, got %+v", caps)
	}
	if _, err := env.RequireSQL(); err != nil {
		t.Fatalf("RequireSQL: %v", err)
	}
	if _, err := env.RequireDump(); err != nil {
		t.Fatalf("RequireDump: %v", err)
	}
	if _, err := env.RequireRestore(); err != nil {
		t.Fatalf("RequireRestore: %v", err)
	}
	if len(env.Versions) != 6 {
		t.Fatalf("expected six probed versions, got %v", env.Versions)
	}
}

func TestBuildPartialStandardReportsIndependentBits(t *testing.T) {
	dir := stubInstance(t, BinInitDB, BinPgCtl, BinPostgres, BinPsql)
	builder := NewBuilder(&versionExecutor{}, nil)

	env, err := builder.Build(context.Background(), instance.Config{Directory: dir})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	caps := env.Capabilities()
	if !caps.SQL || caps.Dump || caps.Restore {
		t.Fatalf("expected sql-only capabilities, got %+v", caps)
	}
	if caps.Mode() != "minimal" {
		t.Fatalf("partial environment must report minimal, got %s", caps.Mode())
	}
	if _, err := env.RequireDump(); !errdefs.IsCapability(err) {
		t.Fatalf("expected capability error naming pg_dump, got %v", err)
	}
}

func TestRequiredBinaryPaths(t *testing.T) {
	paths := RequiredBinaryPaths("/srv/pg")
	if len(paths) != 3 {
		t.Fatalf("expected three required binaries, got %v", paths)
	}
	if filepath.Base(paths[0]) != BinInitDB+binarySuffix {
		t.Fatalf("unexpected first path: %s", paths[0])
	}
}
