// Package registry records the instances the CLI has created, so
// later invocations can resolve them by name without re-reading the
// build configuration. The core library never touches it.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one registered instance.
type Entry struct {
	Name           string
	Directory      string
	ArtifactSource string
	CreatedAt      time.Time
	LastCheckAt    time.Time
	// Versions is the binary→version map captured by the most recent
	// check.
	Versions map[string]string
}

type Registry struct {
	db *sql.DB
}

func Open(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("registry path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func initDB(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS instances (
	name            TEXT PRIMARY KEY,
	directory       TEXT NOT NULL,
	artifact_source TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	last_check_at   TEXT,
	versions        TEXT
)`)
	return err
}

// Put inserts or replaces an instance record.
func (r *Registry) Put(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.Name) == "" {
		return fmt.Errorf("instance name is required")
	}
	versions, err := encodeVersions(entry.Versions)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO instances (name, directory, artifact_source, created_at, last_check_at, versions)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	directory = excluded.directory,
	artifact_source = excluded.artifact_source,
	last_check_at = excluded.last_check_at,
	versions = excluded.versions`,
		entry.Name,
		entry.Directory,
		entry.ArtifactSource,
		formatTime(entry.CreatedAt),
		nullableTime(entry.LastCheckAt),
		versions,
	)
	return err
}

// Get looks an instance up by name.
func (r *Registry) Get(ctx context.Context, name string) (Entry, bool, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT name, directory, artifact_source, created_at, last_check_at, versions
FROM instances WHERE name = ?`, strings.TrimSpace(name))
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// List returns every registered instance ordered by name.
func (r *Registry) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT name, directory, artifact_source, created_at, last_check_at, versions
FROM instances ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Delete removes an instance record. Deleting an unknown name is a
// no-op.
func (r *Registry) Delete(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM instances WHERE name = ?`, strings.TrimSpace(name))
	return err
}

// RecordCheck stores the result of a validation run.
func (r *Registry) RecordCheck(ctx context.Context, name string, checkedAt time.Time, versions map[string]string) error {
	encoded, err := encodeVersions(versions)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE instances SET last_check_at = ?, versions = ? WHERE name = ?`,
		formatTime(checkedAt), encoded, strings.TrimSpace(name))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("instance %q is not registered", name)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var entry Entry
	var createdAt string
	var lastCheckAt sql.NullString
	var versions sql.NullString
	if err := row.Scan(&entry.Name, &entry.Directory, &entry.ArtifactSource, &createdAt, &lastCheckAt, &versions); err != nil {
		return Entry{}, err
	}
	entry.CreatedAt = parseTime(createdAt)
	if lastCheckAt.Valid {
		entry.LastCheckAt = parseTime(lastCheckAt.String)
	}
	if versions.Valid && versions.String != "" {
		if err := json.Unmarshal([]byte(versions.String), &entry.Versions); err != nil {
			return Entry{}, fmt.Errorf("decode versions for %s: %w", entry.Name, err)
		}
	}
	return entry, nil
}

func encodeVersions(versions map[string]string) (string, error) {
	if len(versions) == 0 {
		return "", nil
	}
	data, err := json.Marshal(versions)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
