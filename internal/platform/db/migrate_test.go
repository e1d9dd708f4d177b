package db

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMigrationFile(t *testing.T, dir, name, sql string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadMigrations_SortedByVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigrationFile(t, dir, "010_conflicts.sql", "CREATE TABLE data_conflict ();")
	writeMigrationFile(t, dir, "001_connections.sql", "CREATE TABLE ehr_connection ();")
	writeMigrationFile(t, dir, "002_canonical.sql", "CREATE TABLE patient_record ();")

	m := NewMigrator(nil, dir)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	for i, want := range []int{1, 2, 10} {
		if migrations[i].Version != want {
			t.Errorf("migration %d: expected version %d, got %d", i, want, migrations[i].Version)
		}
	}
}

func TestLoadMigrations_SkipsNonNumericAndNonSQL(t *testing.T) {
	dir := t.TempDir()
	writeMigrationFile(t, dir, "001_core.sql", "SELECT 1;")
	writeMigrationFile(t, dir, "README.md", "not a migration")
	writeMigrationFile(t, dir, "notes_extra.sql", "SELECT 2;")

	m := NewMigrator(nil, dir)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
	if migrations[0].Name != "001_core.sql" {
		t.Errorf("unexpected migration: %s", migrations[0].Name)
	}
}

func TestLoadMigrations_MissingDirectory(t *testing.T) {
	m := NewMigrator(nil, "/nonexistent/migrations")
	if _, err := m.LoadMigrations(); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
