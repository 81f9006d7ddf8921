package fsys

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/pgembed/pgembed/internal/errdefs"
)

func TestTypeOf(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cases := []struct {
		path string
		want PathType
	}{
		{dir, IsDirectory},
		{file, IsFile},
		{filepath.Join(dir, "missing"), DoesNotExist},
	}
	for _, tc := range cases {
		got, err := TypeOf(tc.path)
		if err != nil {
			t.Fatalf("TypeOf(%s): %v", tc.path, err)
		}
		if got != tc.want {
			t.Fatalf("TypeOf(%s) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestEnsureDirectoryIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDirectory(dir); err != nil {
		t.Fatalf("EnsureDirectory: %v", err)
	}
	if err := EnsureDirectory(dir); err != nil {
		t.Fatalf("EnsureDirectory twice: %v", err)
	}
}

func TestEnsureDirectoryRejectsExistingFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := EnsureDirectory(file); err == nil {
		t.Fatalf("expected error for existing file")
	}
}

func TestCopyDirectoryPreservesTree(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "data.txt"), []byte("payload"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "copy")
	if err := CopyDirectory(context.Background(), src, dest); err != nil {
		t.Fatalf("CopyDirectory: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "sub", "data.txt"))
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestCopyDirectoryRejectsDestInsideSource(t *testing.T) {
	src := t.TempDir()
	if err := CopyDirectory(context.Background(), src, filepath.Join(src, "dest")); err == nil {
		t.Fatalf("expected error for dest inside source")
	}
}

func TestCopyDirectoryPreservesSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation needs privileges on windows")
	}
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "target"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink("target", filepath.Join(src, "link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "copy")
	if err := CopyDirectory(context.Background(), src, dest); err != nil {
		t.Fatalf("CopyDirectory: %v", err)
	}
	link, err := os.Readlink(filepath.Join(dest, "link"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if link != "target" {
		t.Fatalf("unexpected link target: %q", link)
	}
}

func TestEnumerate(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.sql", "b.sql", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "nested", "d.sql"), nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	flat, err := Enumerate(dir, "*.sql", false)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(flat) != 2 {
		t.Fatalf("expected 2 flat matches, got %v", flat)
	}

	deep, err := Enumerate(dir, "*.sql", true)
	if err != nil {
		t.Fatalf("Enumerate recurse: %v", err)
	}
	if len(deep) != 3 {
		t.Fatalf("expected 3 recursive matches, got %v", deep)
	}
}

func TestTouchSentinelCreateOrSkip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "permissions.sentinel")
	created, err := TouchSentinel(path)
	if err != nil {
		t.Fatalf("TouchSentinel: %v", err)
	}
	if !created {
		t.Fatalf("expected first caller to create the sentinel")
	}
	created, err = TouchSentinel(path)
	if err != nil {
		t.Fatalf("TouchSentinel second: %v", err)
	}
	if created {
		t.Fatalf("expected second caller to skip")
	}
}

func TestTouchSentinelConcurrentSingleWinner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "permissions.sentinel")
	const callers = 16
	var wg sync.WaitGroup
	results := make([]bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := TouchSentinel(path)
			if err != nil {
				t.Errorf("TouchSentinel: %v", err)
				return
			}
			results[i] = created
		}(i)
	}
	wg.Wait()
	winners := 0
	for _, created := range results {
		if created {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestRequireHelpers(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := RequireFile(file); err != nil {
		t.Fatalf("RequireFile: %v", err)
	}
	if err := RequireDirectory(dir); err != nil {
		t.Fatalf("RequireDirectory: %v", err)
	}
	if err := RequireFile(dir); !errdefs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := RequireNotFile(file); !errdefs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := RequireNotDirectory(dir); !errdefs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := RequireNotFile(filepath.Join(dir, "missing")); err != nil {
		t.Fatalf("RequireNotFile absent: %v", err)
	}
}

func TestConvertToValidFilenamePassthrough(t *testing.T) {
	if got := ConvertToValidFilename("postgres-16.2.zip"); got != "postgres-16.2.zip" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestConvertToValidFilenameStable(t *testing.T) {
	name := "https://example.com/bundles/postgres?arch=amd64"
	first := ConvertToValidFilename(name)
	second := ConvertToValidFilename(name)
	if first != second {
		t.Fatalf("expected stable mapping, got %q and %q", first, second)
	}
	if strings.ContainsAny(first, invalidFilenameChars) {
		t.Fatalf("result still contains invalid characters: %q", first)
	}
}

func TestConvertToValidFilenameDistinct(t *testing.T) {
	a := ConvertToValidFilename("a/b")
	b := ConvertToValidFilename("a\\b")
	if a == b {
		t.Fatalf("distinct invalid names mapped to the same result: %q", a)
	}
}
