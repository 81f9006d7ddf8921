package controller

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/pgembed/pgembed/internal/cluster"
	"github.com/pgembed/pgembed/internal/command"
	"github.com/pgembed/pgembed/internal/errdefs"
)

// fakeExecutor records every spec and replays scripted behavior.
type fakeExecutor struct {
	specs   []command.Spec
	respond func(spec command.Spec) (command.Result, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, spec command.Spec) (command.Result, error) {
	f.specs = append(f.specs, spec)
	if f.respond != nil {
		return f.respond(spec)
	}
	return command.Result{}, nil
}

func testCluster() cluster.Config {
	return cluster.Config{
		UniqueID: "primary",
		Host:     "localhost",
		Port:     5433,
	}
}

func TestInitDBInitializeArgs(t *testing.T) {
	fake := &fakeExecutor{}
	instanceDir := t.TempDir()
	initdb := NewInitDB(filepath.Join(instanceDir, "bin", "initdb"), instanceDir, fake, nil)

	if err := initdb.Initialize(context.Background(), testCluster()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(fake.specs) != 1 {
		t.Fatalf("expected one invocation, got %d", len(fake.specs))
	}
	want := []string{
		"-U", "postgres",
		"-D", filepath.Join(instanceDir, "data"),
		"-E", "UTF-8",
	}
	if !reflect.DeepEqual(fake.specs[0].Args, want) {
		t.Fatalf("args = %v, want %v", fake.specs[0].Args, want)
	}
}

func TestInitDBLocaleAndGroupAccess(t *testing.T) {
	fake := &fakeExecutor{}
	instanceDir := t.TempDir()
	initdb := NewInitDB("initdb", instanceDir, fake, nil)

	allow := true
	cfg := testCluster()
	cfg.Locale = "en_US.UTF-8"
	cfg.AllowGroupAccess = &allow
	if err := initdb.Initialize(context.Background(), cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	args := strings.Join(fake.specs[0].Args, " ")
	if !strings.Contains(args, "--locale en_US.UTF-8") {
		t.Fatalf("expected locale flag in %q", args)
	}
	if !strings.Contains(args, "--allow-group-access") {
		t.Fatalf("expected group access flag in %q", args)
	}

	// Tri-state false omits the flag, matching nil.
	fake.specs = nil
	deny := false
	cfg.AllowGroupAccess = &deny
	if err := initdb.Initialize(context.Background(), cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if strings.Contains(strings.Join(fake.specs[0].Args, " "), "--allow-group-access") {
		t.Fatalf("false must omit --allow-group-access")
	}
}

func TestInitDBSkipsInitializedCluster(t *testing.T) {
	fake := &fakeExecutor{}
	instanceDir := t.TempDir()
	dataDir := filepath.Join(instanceDir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "PG_VERSION"), []byte("16"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	initdb := NewInitDB("initdb", instanceDir, fake, nil)
	if err := initdb.Initialize(context.Background(), testCluster()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(fake.specs) != 0 {
		t.Fatalf("expected no invocation for initialized cluster")
	}
}

func writePIDFile(t *testing.T, dataDir string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := strings.Join(lines, "\n")
	if err := os.WriteFile(filepath.Join(dataDir, "postmaster.pid"), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestPgCtlStatusParsesPIDFile(t *testing.T) {
	instanceDir := t.TempDir()
	dataDir := filepath.Join(instanceDir, "data")
	writePIDFile(t, dataDir,
		"4711",
		dataDir,
		"1719922713",
		"5433",
		"localhost",
		"5433001   1048576",
		"ready",
	)
	fake := &fakeExecutor{}
	pgctl := NewPgCtl("pg_ctl", instanceDir, fake, nil)

	status, err := pgctl.Status(context.Background(), testCluster())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.IsValid() {
		t.Fatalf("expected valid status, got %+v", status)
	}
	if status.PID != 4711 || status.Port != 5433 || status.Host != "localhost" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.DataDirectory != dataDir {
		t.Fatalf("unexpected data directory: %q", status.DataDirectory)
	}
	if status.StartTime != 1719922713 {
		t.Fatalf("unexpected start time: %d", status.StartTime)
	}
	// The probe itself must not throw on non-zero.
	if fake.specs[0].ThrowOnNonZero {
		t.Fatalf("status probe must not throw on non-zero exit")
	}
}

func TestPgCtlStatusReportsProbeFailure(t *testing.T) {
	fake := &fakeExecutor{respond: func(spec command.Spec) (command.Result, error) {
		return command.Result{ExitCode: 3}, nil
	}}
	pgctl := NewPgCtl("pg_ctl", t.TempDir(), fake, nil)

	status, err := pgctl.Status(context.Background(), testCluster())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.IsValid() {
		t.Fatalf("expected invalid status")
	}
	if status.StatusError != 3 {
		t.Fatalf("expected status error 3, got %d", status.StatusError)
	}
}

func TestPgCtlStatusStoppedWithoutPIDFile(t *testing.T) {
	fake := &fakeExecutor{}
	pgctl := NewPgCtl("pg_ctl", t.TempDir(), fake, nil)
	status, err := pgctl.Status(context.Background(), testCluster())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.IsValid() || status.StatusError != 0 {
		t.Fatalf("expected clean stopped status, got %+v", status)
	}
}

func TestParsePostmasterPIDRequiresFiveLines(t *testing.T) {
	if _, err := parsePostmasterPID("123\n/data\n99"); err == nil {
		t.Fatalf("expected error for short file")
	}
}

func TestPgCtlStartIsCaptureFree(t *testing.T) {
	fake := &fakeExecutor{}
	instanceDir := t.TempDir()
	pgctl := NewPgCtl("pg_ctl", instanceDir, fake, nil)

	cfg := testCluster()
	cfg.Parameters = []cluster.Parameter{
		{Name: "max_connections", Value: "4"},
		{Name: "shared_buffers", Value: "128MB"},
	}
	if err := pgctl.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	spec := fake.specs[0]
	if spec.OnStdout != nil || spec.OnStderr != nil {
		t.Fatalf("start must not capture output")
	}
	want := []string{
		"start",
		"-U", "postgres",
		"-D", filepath.Join(instanceDir, "data"),
		"-o", "-F -p 5433 -c max_connections=4 -c shared_buffers=128MB",
	}
	if !reflect.DeepEqual(spec.Args, want) {
		t.Fatalf("args = %v, want %v", spec.Args, want)
	}
}

func TestPgCtlStopArgs(t *testing.T) {
	fake := &fakeExecutor{}
	instanceDir := t.TempDir()
	pgctl := NewPgCtl("pg_ctl", instanceDir, fake, nil)

	if err := pgctl.Stop(context.Background(), testCluster(), Shutdown{Mode: ShutdownImmediate, NoWait: true, TimeoutSecs: 10}); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	want := []string{
		"stop",
		"-U", "postgres",
		"-D", filepath.Join(instanceDir, "data"),
		"-m", "immediate",
		"--no-wait",
		"-t", "10",
	}
	if !reflect.DeepEqual(fake.specs[0].Args, want) {
		t.Fatalf("args = %v, want %v", fake.specs[0].Args, want)
	}
}

func TestPgCtlStopDefaults(t *testing.T) {
	fake := &fakeExecutor{}
	pgctl := NewPgCtl("pg_ctl", t.TempDir(), fake, nil)
	if err := pgctl.Stop(context.Background(), testCluster(), Shutdown{}); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	args := strings.Join(fake.specs[0].Args, " ")
	if !strings.Contains(args, "-m fast") {
		t.Fatalf("expected fast default in %q", args)
	}
	if !strings.Contains(args, "--wait") || strings.Contains(args, "--no-wait") {
		t.Fatalf("expected --wait default in %q", args)
	}
	if !strings.Contains(args, "-t 180") {
		t.Fatalf("expected default timeout in %q", args)
	}
}

func TestPgCtlDestroyStopsRunningClusterAndDeletesData(t *testing.T) {
	instanceDir := t.TempDir()
	dataDir := filepath.Join(instanceDir, "data")
	writePIDFile(t, dataDir, "4711", dataDir, "1", "5433", "localhost")

	fake := &fakeExecutor{}
	pgctl := NewPgCtl("pg_ctl", instanceDir, fake, nil)
	if err := pgctl.Destroy(context.Background(), testCluster(), Shutdown{}); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	var sawStop bool
	for _, spec := range fake.specs {
		if len(spec.Args) > 0 && spec.Args[0] == "stop" {
			sawStop = true
		}
	}
	if !sawStop {
		t.Fatalf("expected stop before delete")
	}
	if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
		t.Fatalf("expected data directory removed")
	}
}

func TestPsqlListDatabasesParsesRows(t *testing.T) {
	fake := &fakeExecutor{respond: func(spec command.Spec) (command.Result, error) {
		rows := []string{
			`postgres,postgres,UTF8,libc,C,C,,,`,
			`template1,postgres,UTF8,libc,C,C,,,"=c/postgres,postgres=CTc/postgres"`,
			`malformed,row`,
			``,
		}
		for _, row := range rows {
			spec.OnStdout(context.Background(), row)
		}
		return command.Result{}, nil
	}}
	psql := NewPsql("psql", t.TempDir(), fake, nil)

	var names []string
	err := psql.ListDatabases(context.Background(), testCluster(), func(db Database) {
		names = append(names, db.Name)
	})
	if err != nil {
		t.Fatalf("ListDatabases: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"postgres", "template1"}) {
		t.Fatalf("unexpected rows: %v", names)
	}
	args := fake.specs[0].Args
	want := []string{"-U", "postgres", "-h", "localhost", "-p", "5433", "--list", "--csv", "--tuples-only"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
}

func TestPsqlListDatabasesParsesPrivileges(t *testing.T) {
	fake := &fakeExecutor{respond: func(spec command.Spec) (command.Result, error) {
		spec.OnStdout(context.Background(), `template0,postgres,UTF8,libc,C,C,,,"=c/postgres"`)
		return command.Result{}, nil
	}}
	psql := NewPsql("psql", t.TempDir(), fake, nil)
	var rows []Database
	if err := psql.ListDatabases(context.Background(), testCluster(), func(db Database) { rows = append(rows, db) }); err != nil {
		t.Fatalf("ListDatabases: %v", err)
	}
	if len(rows) != 1 || rows[0].AccessPrivileges != "=c/postgres" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestPsqlExecuteSQLArgs(t *testing.T) {
	fake := &fakeExecutor{}
	psql := NewPsql("psql", t.TempDir(), fake, nil)

	err := psql.ExecuteSQL(context.Background(), testCluster(), "SELECT 1", ExecOptions{
		Database:       "app",
		Mode:           OutputUnaligned,
		FieldSeparator: "|",
		TuplesOnly:     true,
	}, func(ctx context.Context, line string) {})
	if err != nil {
		t.Fatalf("ExecuteSQL: %v", err)
	}
	want := []string{
		"-U", "postgres",
		"-h", "localhost",
		"-p", "5433",
		"-d", "app",
		"--no-align",
		"-F", "|",
		"--tuples-only",
		"-c", "SELECT 1",
	}
	if !reflect.DeepEqual(fake.specs[0].Args, want) {
		t.Fatalf("args = %v, want %v", fake.specs[0].Args, want)
	}
	if fake.specs[0].OnStdout == nil {
		t.Fatalf("expected stdout listener")
	}
}

func TestPsqlOutputFileSuppressesListener(t *testing.T) {
	fake := &fakeExecutor{}
	psql := NewPsql("psql", t.TempDir(), fake, nil)
	outFile := filepath.Join(t.TempDir(), "out.csv")

	err := psql.ExecuteSQL(context.Background(), testCluster(), "SELECT 1", ExecOptions{
		Mode:       OutputCSV,
		OutputFile: outFile,
	}, func(ctx context.Context, line string) {})
	if err != nil {
		t.Fatalf("ExecuteSQL: %v", err)
	}
	if fake.specs[0].OnStdout != nil {
		t.Fatalf("stdout listener must not be registered with an output file")
	}
	args := strings.Join(fake.specs[0].Args, " ")
	if !strings.Contains(args, "--csv") || !strings.Contains(args, "-o "+outFile) {
		t.Fatalf("unexpected args: %q", args)
	}
}

func TestPsqlExecuteFileRequiresExistingFile(t *testing.T) {
	fake := &fakeExecutor{}
	psql := NewPsql("psql", t.TempDir(), fake, nil)
	err := psql.ExecuteFile(context.Background(), testCluster(), filepath.Join(t.TempDir(), "absent.sql"), ExecOptions{}, nil)
	if !errdefs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(fake.specs) != 0 {
		t.Fatalf("must not invoke psql for missing file")
	}
}

func TestPsqlExecuteFileUsesScriptFlag(t *testing.T) {
	fake := &fakeExecutor{}
	psql := NewPsql("psql", t.TempDir(), fake, nil)
	script := filepath.Join(t.TempDir(), "seed.sql")
	if err := os.WriteFile(script, []byte("SELECT 1;"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := psql.ExecuteFile(context.Background(), testCluster(), script, ExecOptions{User: "app_user"}, nil); err != nil {
		t.Fatalf("ExecuteFile: %v", err)
	}
	args := fake.specs[0].Args
	if args[len(args)-2] != "-f" || args[len(args)-1] != script {
		t.Fatalf("expected trailing -f %s, got %v", script, args)
	}
	if args[1] != "app_user" {
		t.Fatalf("expected user override, got %v", args)
	}
}

func TestDumpArgsFixedOrder(t *testing.T) {
	fake := &fakeExecutor{}
	dump := NewDump("pg_dump", t.TempDir(), fake, nil)

	err := dump.Export(context.Background(), testCluster(), DumpOptions{
		File:             "/tmp/out.dump",
		Database:         "app",
		Format:           DumpCustom,
		Clean:            true,
		NoOwner:          true,
		Jobs:             2,
		SchemasToDump:    []string{"public", "audit"},
		TablesToExclude:  []string{"big_log"},
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	want := []string{
		"-U", "postgres",
		"-h", "localhost",
		"-p", "5433",
		"--file", "/tmp/out.dump",
		"--format", "c",
		"--clean",
		"--no-owner",
		"--jobs", "2",
		"--schema", "public",
		"--schema", "audit",
		"--exclude-table", "big_log",
		"app",
	}
	if !reflect.DeepEqual(fake.specs[0].Args, want) {
		t.Fatalf("args = %v, want %v", fake.specs[0].Args, want)
	}
	if fake.specs[0].OnStderr == nil {
		t.Fatalf("expected stderr routed to logger")
	}
}

func TestDumpRejectsConflictingOptions(t *testing.T) {
	fake := &fakeExecutor{}
	dump := NewDump("pg_dump", t.TempDir(), fake, nil)
	err := dump.Export(context.Background(), testCluster(), DumpOptions{DataOnly: true, SchemaOnly: true})
	if !errdefs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(fake.specs) != 0 {
		t.Fatalf("conflicting options must fail before exec")
	}
}

func TestDumpPassesPasswordToChildOnly(t *testing.T) {
	fake := &fakeExecutor{}
	dump := NewDump("pg_dump", t.TempDir(), fake, nil)
	if err := dump.Export(context.Background(), testCluster(), DumpOptions{Password: "s3cret"}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	found := false
	for _, env := range fake.specs[0].Env {
		if env == "PGPASSWORD=s3cret" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected PGPASSWORD in child env")
	}
	if os.Getenv("PGPASSWORD") == "s3cret" {
		t.Fatalf("password leaked into parent environment")
	}
}

func TestRestoreArgs(t *testing.T) {
	fake := &fakeExecutor{}
	restore := NewRestore("pg_restore", t.TempDir(), fake, nil)
	dumpFile := filepath.Join(t.TempDir(), "app.dump")
	if err := os.WriteFile(dumpFile, []byte("PGDMP"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	err := restore.Import(context.Background(), testCluster(), RestoreOptions{
		File:              dumpFile,
		Database:          "app",
		Clean:             true,
		ExitOnError:       true,
		SingleTransaction: true,
		TablesToRestore:   []string{"books"},
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	want := []string{
		"-U", "postgres",
		"-h", "localhost",
		"-p", "5433",
		"--dbname", "app",
		"--clean",
		"--exit-on-error",
		"--single-transaction",
		"--table", "books",
		dumpFile,
	}
	if !reflect.DeepEqual(fake.specs[0].Args, want) {
		t.Fatalf("args = %v, want %v", fake.specs[0].Args, want)
	}
}

func TestRestoreRequiresFile(t *testing.T) {
	fake := &fakeExecutor{}
	restore := NewRestore("pg_restore", t.TempDir(), fake, nil)
	err := restore.Import(context.Background(), testCluster(), RestoreOptions{})
	if !errdefs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProbeVersion(t *testing.T) {
	binary := filepath.Join(t.TempDir(), "initdb")
	if err := os.WriteFile(binary, []byte("stub"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}
	fake := &fakeExecutor{respond: func(spec command.Spec) (command.Result, error) {
		spec.OnStdout(context.Background(), "initdb (PostgreSQL) 16.2")
		return command.Result{}, nil
	}}
	version, err := ProbeVersion(context.Background(), fake, binary)
	if err != nil {
		t.Fatalf("ProbeVersion: %v", err)
	}
	if version != "initdb (PostgreSQL) 16.2" {
		t.Fatalf("unexpected version: %q", version)
	}
}

func TestProbeVersionMissingBinary(t *testing.T) {
	fake := &fakeExecutor{}
	_, err := ProbeVersion(context.Background(), fake, filepath.Join(t.TempDir(), "absent"))
	if !errdefs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
